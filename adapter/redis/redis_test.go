package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/pithecene-io/espterm/adapter"
	"github.com/pithecene-io/espterm/iox"
)

func transferEvent(name string) *adapter.Event {
	return adapter.NewTransferEvent("sess-001", "dev_ttyUSB0", adapter.TransferInfo{
		Direction:  "write",
		Filename:   name,
		Size:       2048,
		MD5:        "0cc175b9c0f1b6a831c399e269772661",
		Outcome:    adapter.OutcomeSuccess,
		DurationMs: 1500,
	}, time.Date(2026, 2, 7, 12, 0, 0, 0, time.UTC))
}

func newAdapter(t *testing.T, mr *miniredis.Miniredis, cfg Config) *Adapter {
	t.Helper()
	cfg.URL = "redis://" + mr.Addr()
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(iox.CloseFunc(a))
	return a
}

// asyncReceive reads one message in the background. It must be started
// before Publish because miniredis delivers pub/sub synchronously.
func asyncReceive(sub *miniredis.Subscriber) <-chan miniredis.PubsubMessage {
	ch := make(chan miniredis.PubsubMessage, 1)
	go func() {
		ch <- <-sub.Messages()
	}()
	return ch
}

func waitMessage(t *testing.T, ch <-chan miniredis.PubsubMessage) miniredis.PubsubMessage {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for pub/sub message")
		return miniredis.PubsubMessage{}
	}
}

func TestPublish_ChannelPerEventType(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		event  *adapter.Event
		want   string
	}{
		{"transfer", "", transferEvent("config.json"), "espterm:transfer_completed"},
		{"monitor", "", adapter.NewMonitorEvent("s", "sim", []string{"main 4%"}, time.Now()), "espterm:monitor_snapshot"},
		{"custom prefix", "lab", transferEvent("a.txt"), "lab:transfer_completed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mr := miniredis.RunT(t)
			a := newAdapter(t, mr, Config{Prefix: tt.prefix})

			sub := mr.NewSubscriber()
			sub.Subscribe(tt.want)
			ch := asyncReceive(sub)

			if err := a.Publish(t.Context(), tt.event); err != nil {
				t.Fatalf("publish: %v", err)
			}
			msg := waitMessage(t, ch)
			if msg.Channel != tt.want {
				t.Errorf("channel = %q, want %q", msg.Channel, tt.want)
			}
			var got adapter.Event
			if err := json.Unmarshal([]byte(msg.Message), &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got.EventType != tt.event.EventType || got.SessionID != tt.event.SessionID {
				t.Errorf("event = %+v", got)
			}
		})
	}
}

func TestPublish_MonitorSnapshotKey(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newAdapter(t, mr, Config{SnapshotTTL: 30 * time.Second})

	for _, block := range [][]string{{"main 9%"}, {"main 4%", "IDLE 96%"}} {
		ev := adapter.NewMonitorEvent("sess-001", "sim", block, time.Now())
		if err := a.Publish(t.Context(), ev); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	raw, err := mr.Get(a.SnapshotKey("sim"))
	if err != nil {
		t.Fatalf("get snapshot: %v", err)
	}
	var got adapter.Event
	if err := json.Unmarshal([]byte(raw), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got.Monitor) != 2 || got.Monitor[1] != "IDLE 96%" {
		t.Errorf("snapshot = %q, want the latest block", got.Monitor)
	}
	if ttl := mr.TTL(a.SnapshotKey("sim")); ttl != 30*time.Second {
		t.Errorf("ttl = %v, want 30s", ttl)
	}
	if mr.Exists(a.HistoryKey("sim")) {
		t.Error("monitor events must not touch the transfer history")
	}
}

func TestPublish_TransferHistoryCapped(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newAdapter(t, mr, Config{History: 2})

	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		if err := a.Publish(t.Context(), transferEvent(name)); err != nil {
			t.Fatalf("publish %s: %v", name, err)
		}
	}

	items, err := mr.List(a.HistoryKey("dev_ttyUSB0"))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("history length = %d, want 2", len(items))
	}
	var newest adapter.Event
	if err := json.Unmarshal([]byte(items[0]), &newest); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if newest.Transfer == nil || newest.Transfer.Filename != "c.txt" {
		t.Errorf("newest = %+v, want c.txt", newest.Transfer)
	}
}

func TestPublish_NoDeviceSkipsKeys(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newAdapter(t, mr, Config{})

	ev := transferEvent("a.txt")
	ev.Device = ""
	if err := a.Publish(t.Context(), ev); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if keys := mr.Keys(); len(keys) != 0 {
		t.Errorf("keys = %v, want none", keys)
	}
}

func TestPublish_Unreachable(t *testing.T) {
	t.Run("exhausts retries", func(t *testing.T) {
		a, err := New(Config{URL: "redis://127.0.0.1:1", Retries: 1, Timeout: 100 * time.Millisecond})
		if err != nil {
			t.Fatalf("new: %v", err)
		}
		defer iox.DiscardClose(a)

		if err := a.Publish(t.Context(), transferEvent("a.txt")); err == nil {
			t.Fatal("expected error after exhausting retries")
		}
	})
	t.Run("context canceled", func(t *testing.T) {
		a, err := New(Config{URL: "redis://127.0.0.1:1", Retries: 5, Timeout: 10 * time.Second})
		if err != nil {
			t.Fatalf("new: %v", err)
		}
		defer iox.DiscardClose(a)

		ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
		defer cancel()
		if err := a.Publish(ctx, transferEvent("a.txt")); err == nil {
			t.Fatal("expected error on canceled context")
		}
	})
}

func TestNew(t *testing.T) {
	bad := []struct {
		name string
		cfg  Config
	}{
		{"no url", Config{}},
		{"invalid url", Config{URL: "not-a-redis-url"}},
		{"negative retries", Config{URL: "redis://localhost:6379", Retries: -1}},
		{"negative history", Config{URL: "redis://localhost:6379", History: -1}},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}

	mr := miniredis.RunT(t)
	a := newAdapter(t, mr, Config{})
	if a.cfg.Prefix != DefaultPrefix || a.cfg.Timeout != DefaultTimeout ||
		a.cfg.SnapshotTTL != DefaultSnapshotTTL || a.cfg.History != DefaultHistory {
		t.Errorf("defaults not applied: %+v", a.cfg)
	}
}

func TestClose_PublishFails(t *testing.T) {
	mr := miniredis.RunT(t)
	a, err := New(Config{URL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := a.Publish(t.Context(), transferEvent("a.txt")); err == nil {
		t.Fatal("expected error after close")
	}
}
