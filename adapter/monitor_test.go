package adapter

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu     sync.Mutex
	events []*Event
	sent   chan struct{}
}

func newRecorder() *recorder {
	return &recorder{sent: make(chan struct{}, 16)}
}

func (r *recorder) Publish(_ context.Context, e *Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	r.sent <- struct{}{}
	return nil
}

func (r *recorder) Close() error { return nil }

func (r *recorder) blocks() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Monitor)
	}
	return out
}

func (r *recorder) waitSent(t *testing.T) {
	t.Helper()
	select {
	case <-r.sent:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for publish")
	}
}

func TestForwarder_PublishesBlock(t *testing.T) {
	rec := newRecorder()
	f := NewForwarder(rec, ForwarderConfig{SessionID: "sess-1", Device: "sim", Interval: -1})
	defer func() { _ = f.Close() }()

	f.Block([]string{"main 4%", "IDLE 96%"})
	rec.waitSent(t)

	rec.mu.Lock()
	e := rec.events[0]
	rec.mu.Unlock()
	if e.EventType != EventMonitorSnapshot || e.SessionID != "sess-1" || e.Device != "sim" {
		t.Errorf("event = %+v", e)
	}
	if !slices.Equal(e.Monitor, []string{"main 4%", "IDLE 96%"}) {
		t.Errorf("monitor = %q", e.Monitor)
	}
}

func TestForwarder_KeepsNewestWithinInterval(t *testing.T) {
	rec := newRecorder()
	f := NewForwarder(rec, ForwarderConfig{Interval: time.Hour})

	f.Block([]string{"a"})
	rec.waitSent(t)
	f.Block([]string{"b"})
	f.Block([]string{"c"})
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	want := [][]string{{"a"}, {"c"}}
	if got := rec.blocks(); !slices.EqualFunc(got, want, slices.Equal[[]string]) {
		t.Errorf("published %q, want %q", got, want)
	}
}

func TestForwarder_ClearDropsPending(t *testing.T) {
	rec := newRecorder()
	f := NewForwarder(rec, ForwarderConfig{Interval: time.Hour})

	f.Block([]string{"a"})
	rec.waitSent(t)
	f.Block([]string{"b"})
	f.Clear()
	_ = f.Close()

	if got := rec.blocks(); len(got) != 1 {
		t.Errorf("published %q, want only the first block", got)
	}
}

func TestForwarder_CopiesLinesAndCloseIsIdempotent(t *testing.T) {
	rec := newRecorder()
	f := NewForwarder(rec, ForwarderConfig{Interval: time.Hour})

	lines := []string{"main 4%"}
	f.Block(lines)
	rec.waitSent(t)
	f.Block(lines)
	lines[0] = "changed"

	_ = f.Close()
	_ = f.Close()
	f.Block([]string{"late"})

	got := rec.blocks()
	if len(got) != 2 || got[1][0] != "main 4%" {
		t.Errorf("published %q", got)
	}
}
