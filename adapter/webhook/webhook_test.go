package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pithecene-io/espterm/adapter"
	"github.com/pithecene-io/espterm/iox"
)

func transferEvent() *adapter.Event {
	return adapter.NewTransferEvent("sess-001", "dev_ttyUSB0", adapter.TransferInfo{
		Direction:  "read",
		Filename:   "boot.log",
		Size:       4096,
		Outcome:    adapter.OutcomeSuccess,
		DurationMs: 1500,
	}, time.Date(2026, 2, 7, 12, 0, 0, 0, time.UTC))
}

func monitorEvent() *adapter.Event {
	return adapter.NewMonitorEvent("sess-001", "dev_ttyUSB0", []string{"main 4%"}, time.Unix(0, 0))
}

// statusServer answers every request with the next code in codes, repeating
// the last one, and counts requests.
func statusServer(t *testing.T, codes ...int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var n atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		i := int(n.Add(1)) - 1
		w.WriteHeader(codes[min(i, len(codes)-1)])
	}))
	t.Cleanup(ts.Close)
	return ts, &n
}

func newAdapter(t *testing.T, cfg Config) *Adapter {
	t.Helper()
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(iox.CloseFunc(a))
	return a
}

func TestPublish_BodyAndHeaders(t *testing.T) {
	var (
		received adapter.Event
		header   http.Header
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		header = r.Header.Clone()
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &received); err != nil {
			t.Errorf("unmarshal: %v", err)
		}
	}))
	defer ts.Close()

	a := newAdapter(t, Config{
		URL:     ts.URL,
		Headers: map[string]string{"Authorization": "Bearer test-token"},
	})
	if err := a.Publish(t.Context(), transferEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}

	want := map[string]string{
		"Content-Type":  "application/json",
		HeaderEvent:     adapter.EventTransferCompleted,
		HeaderSession:   "sess-001",
		HeaderDevice:    "dev_ttyUSB0",
		"Authorization": "Bearer test-token",
	}
	for k, v := range want {
		if got := header.Get(k); got != v {
			t.Errorf("header %s = %q, want %q", k, got, v)
		}
	}
	if received.Transfer == nil || received.Transfer.Filename != "boot.log" {
		t.Errorf("transfer = %+v", received.Transfer)
	}
}

func TestPublish_EventFilter(t *testing.T) {
	ts, n := statusServer(t, http.StatusOK)
	a := newAdapter(t, Config{URL: ts.URL, Events: []string{adapter.EventTransferCompleted}})

	if err := a.Publish(t.Context(), monitorEvent()); err != nil {
		t.Fatalf("publish monitor: %v", err)
	}
	if got := n.Load(); got != 0 {
		t.Fatalf("filtered event was posted (%d requests)", got)
	}
	if err := a.Publish(t.Context(), transferEvent()); err != nil {
		t.Fatalf("publish transfer: %v", err)
	}
	if got := n.Load(); got != 1 {
		t.Errorf("requests = %d, want 1", got)
	}
}

func TestPublish_StatusHandling(t *testing.T) {
	tests := []struct {
		name     string
		codes    []int
		retries  int
		wantErr  bool
		attempts int32
	}{
		{"200", []int{200}, 3, false, 1},
		{"204", []int{204}, 3, false, 1},
		{"recovers after 500s", []int{500, 500, 200}, 3, false, 3},
		{"500 exhausts retries", []int{500}, 2, true, 3},
		{"503 exhausts retries", []int{503}, 2, true, 3},
		{"429 is retried", []int{429, 200}, 2, false, 2},
		{"408 is retried", []int{408, 200}, 2, false, 2},
		{"400 fails at once", []int{400}, 3, true, 1},
		{"401 fails at once", []int{401}, 3, true, 1},
		{"404 fails at once", []int{404}, 3, true, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, n := statusServer(t, tt.codes...)
			a := newAdapter(t, Config{URL: ts.URL, Retries: tt.retries})

			err := a.Publish(t.Context(), transferEvent())
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got := n.Load(); got != tt.attempts {
				t.Errorf("attempts = %d, want %d", got, tt.attempts)
			}
			var serr *StatusError
			if tt.wantErr && !errors.As(err, &serr) {
				t.Errorf("err = %v, want a StatusError", err)
			}
		})
	}
}

func TestPublish_ContextCanceled(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer ts.Close()

	a := newAdapter(t, Config{URL: ts.URL, Timeout: 10 * time.Second})

	ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
	defer cancel()

	if err := a.Publish(ctx, transferEvent()); err == nil {
		t.Fatal("expected error on canceled context")
	}
}

func TestNew(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error for empty URL")
	}
	if _, err := New(Config{URL: "http://example.com", Retries: -1}); err == nil {
		t.Error("expected error for negative retries")
	}
	a, err := New(Config{URL: "http://example.com"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if a.cfg.Timeout != DefaultTimeout {
		t.Errorf("timeout = %v, want %v", a.cfg.Timeout, DefaultTimeout)
	}
	if !a.Wants(adapter.EventMonitorSnapshot) {
		t.Error("empty Events should deliver every type")
	}
}
