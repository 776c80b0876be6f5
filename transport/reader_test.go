package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pithecene-io/espterm/metrics"
)

// pipePort delivers bytes written with send to the Reader and records host
// writes.
type pipePort struct {
	pr *io.PipeReader
	pw *io.PipeWriter

	mu      sync.Mutex
	written bytes.Buffer
}

func newPipePort() *pipePort {
	pr, pw := io.Pipe()
	return &pipePort{pr: pr, pw: pw}
}

func (p *pipePort) Read(b []byte) (int, error) { return p.pr.Read(b) }

func (p *pipePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.Write(b)
}

func (p *pipePort) Close() error {
	_ = p.pw.Close()
	return p.pr.Close()
}

func (p *pipePort) send(t *testing.T, s string) {
	t.Helper()
	if _, err := p.pw.Write([]byte(s)); err != nil {
		t.Fatalf("send: %v", err)
	}
}

type feedRecorder struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (f *feedRecorder) Feed(text string) {
	f.mu.Lock()
	f.buf.WriteString(text)
	f.mu.Unlock()
}

func (f *feedRecorder) String() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buf.String()
}

type rec struct {
	mu     sync.Mutex
	rx, tx bytes.Buffer
}

func (r *rec) RecordRX(p []byte) { r.mu.Lock(); r.rx.Write(p); r.mu.Unlock() }
func (r *rec) RecordTX(p []byte) { r.mu.Lock(); r.tx.Write(p); r.mu.Unlock() }

func startReader(t *testing.T, cfg Config) (*Reader, *pipePort, *feedRecorder) {
	t.Helper()
	port := newPipePort()
	display := &feedRecorder{}
	r := NewReader(port, display, cfg)
	done := make(chan error, 1)
	go func() { done <- r.Run(t.Context()) }()
	t.Cleanup(func() {
		_ = r.Close()
		<-done
	})
	return r, port, display
}

func TestReader_DisplayPath(t *testing.T) {
	m := metrics.NewCollector("p", "s")
	_, port, display := startReader(t, Config{Metrics: m})

	port.send(t, "I (1) boot: ok\n")
	// the pipe hands over bytes synchronously, the feed follows the read
	waitFor(t, func() bool { return display.String() == "I (1) boot: ok\n" })
	if m.Snapshot().BytesRead != 15 {
		t.Errorf("BytesRead = %d, want 15", m.Snapshot().BytesRead)
	}
}

func TestReader_SilenceRedirectsToInbox(t *testing.T) {
	r, port, display := startReader(t, Config{})

	r.Silence()
	port.send(t, "!!OK!!:pong\n")

	got, err := r.Next(t.Context())
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if string(got) != "!!OK!!:pong\n" {
		t.Errorf("Next() = %q", got)
	}
	if display.String() != "" {
		t.Errorf("display received %q while silenced", display.String())
	}
}

func TestReader_UnsilenceReplaysLeftoverFirst(t *testing.T) {
	r, port, display := startReader(t, Config{})

	r.Silence()
	port.send(t, "queued\n")
	waitFor(t, func() bool { return r.inbox.len() == len("queued\n") })

	r.Unsilence([]byte("leftover "))
	port.send(t, "fresh\n")
	waitFor(t, func() bool { return strings.Contains(display.String(), "fresh") })

	if got := display.String(); got != "leftover queued\nfresh\n" {
		t.Errorf("display = %q, want %q", got, "leftover queued\nfresh\n")
	}
}

func TestReader_BlockModeOutlivesUnsilence(t *testing.T) {
	r, port, display := startReader(t, Config{})

	r.Silence()
	r.SetBlock(true)
	r.Unsilence(nil)
	port.send(t, "raw")
	got, err := r.Next(t.Context())
	if err != nil || string(got) != "raw" {
		t.Fatalf("Next() = %q, %v", got, err)
	}
	r.SetBlock(false)
	port.send(t, "shown\n")
	waitFor(t, func() bool { return display.String() == "shown\n" })
}

func TestReader_NextHonorsContext(t *testing.T) {
	r, _, _ := startReader(t, Config{})
	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	if _, err := r.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Next() error = %v, want DeadlineExceeded", err)
	}
}

func TestReader_NextAfterStop(t *testing.T) {
	port := newPipePort()
	r := NewReader(port, nil, Config{})
	done := make(chan error, 1)
	go func() { done <- r.Run(t.Context()) }()
	_ = port.pw.Close()
	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v, want nil on EOF", err)
	}
	if _, err := r.Next(t.Context()); !errors.Is(err, ErrReaderStopped) {
		t.Errorf("Next() error = %v, want ErrReaderStopped", err)
	}
}

func TestReader_WriteRecordsTraffic(t *testing.T) {
	m := metrics.NewCollector("p", "s")
	rc := &rec{}
	r, port, _ := startReader(t, Config{Metrics: m, Recorder: rc})

	if _, err := r.Write([]byte("$$$PING$$$\n")); err != nil {
		t.Fatal(err)
	}
	port.mu.Lock()
	written := port.written.String()
	port.mu.Unlock()
	if written != "$$$PING$$$\n" {
		t.Errorf("port received %q", written)
	}
	if m.Snapshot().BytesWritten != 11 {
		t.Errorf("BytesWritten = %d, want 11", m.Snapshot().BytesWritten)
	}
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.tx.String() != "$$$PING$$$\n" {
		t.Errorf("recorded tx = %q", rc.tx.String())
	}
}

func TestReader_ReadErrorIsTransportError(t *testing.T) {
	port := newPipePort()
	r := NewReader(port, nil, Config{})
	_ = port.pw.CloseWithError(errors.New("device gone"))
	err := r.Run(t.Context())
	if !IsTransportError(err) {
		t.Errorf("Run() error = %v, want transport error", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(2 * time.Millisecond)
	}
}
