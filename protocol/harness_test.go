package protocol

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/pithecene-io/espterm/devicesim"
	"github.com/pithecene-io/espterm/metrics"
	"github.com/pithecene-io/espterm/stream"
	"github.com/pithecene-io/espterm/transport"
)

// fakeLink is a scripted Link. push delivers inbox bytes.
type fakeLink struct {
	mu         sync.Mutex
	written    bytes.Buffer
	silenced   bool
	blocked    bool
	leftovers  [][]byte
	unsilenced int
	inbox      chan []byte
}

func newFakeLink() *fakeLink {
	return &fakeLink{inbox: make(chan []byte, 64)}
}

func (f *fakeLink) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written.Write(p)
}

func (f *fakeLink) Silence() {
	f.mu.Lock()
	f.silenced = true
	f.mu.Unlock()
}

func (f *fakeLink) Unsilence(leftover []byte) {
	f.mu.Lock()
	f.silenced = false
	f.unsilenced++
	f.leftovers = append(f.leftovers, leftover)
	f.mu.Unlock()
}

func (f *fakeLink) SetBlock(on bool) {
	f.mu.Lock()
	f.blocked = on
	f.mu.Unlock()
}

func (f *fakeLink) Next(ctx context.Context) ([]byte, error) {
	select {
	case b := <-f.inbox:
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeLink) push(s string) { f.inbox <- []byte(s) }

func (f *fakeLink) state() (silenced bool, unsilenced int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.silenced, f.unsilenced
}

// lines records consumed lines.
type lines struct {
	mu  sync.Mutex
	got []string
}

func (l *lines) Consume(line string) {
	l.mu.Lock()
	l.got = append(l.got, line)
	l.mu.Unlock()
}

func (l *lines) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.got...)
}

// simHarness wires a simulated device, a transport reader and an engine.
type simHarness struct {
	dev     *devicesim.Device
	reader  *transport.Reader
	engine  *Engine
	display *lines
	metrics *metrics.Collector
}

func newSimHarness(t *testing.T, cfg devicesim.Config) *simHarness {
	t.Helper()
	dev := devicesim.New(cfg)
	display := &lines{}
	m := metrics.NewCollector("sim://", "test")

	demux := stream.NewDemux(display, stream.Config{IdleFlush: -1, Metrics: m})
	reader := transport.NewReader(dev, demux, transport.Config{Metrics: m})
	engine := NewEngine(reader, Config{SettleDelay: -1, Display: display, Metrics: m})

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); demux.Run(ctx) }()
	go func() { defer wg.Done(); _ = reader.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = dev.Close()
		wg.Wait()
	})
	return &simHarness{dev: dev, reader: reader, engine: engine, display: display, metrics: m}
}
