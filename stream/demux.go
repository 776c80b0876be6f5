package stream

import (
	"context"
	"time"

	"github.com/pithecene-io/espterm/metrics"
)

// DefaultIdleFlush is how long the demux waits for more input before it
// forwards a trailing partial line.
const DefaultIdleFlush = 200 * time.Millisecond

// Config configures a Demux.
type Config struct {
	// IdleFlush is the quiet period after which a partial line is flushed.
	// Zero means DefaultIdleFlush; negative disables the timer.
	IdleFlush time.Duration
	// QueueSize bounds the feed channel. Zero means 256.
	QueueSize int
	Metrics   *metrics.Collector
}

type message struct {
	text  string
	flush bool
	done  chan struct{}
}

// Demux is a single-goroutine owner of a Splitter. Producers call Feed from
// any goroutine; Run processes the queue in order.
type Demux struct {
	sp      *Splitter
	queue   chan message
	idle    time.Duration
	stopped chan struct{}
	metrics *metrics.Collector
}

// NewDemux creates a Demux routing untagged text to def.
func NewDemux(def Consumer, cfg Config) *Demux {
	if cfg.IdleFlush == 0 {
		cfg.IdleFlush = DefaultIdleFlush
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	return &Demux{
		sp:      NewSplitter(def, cfg.Metrics),
		queue:   make(chan message, cfg.QueueSize),
		idle:    cfg.IdleFlush,
		stopped: make(chan struct{}),
		metrics: cfg.Metrics,
	}
}

// Register adds a context. It must be called before Run.
func (d *Demux) Register(c Context) error {
	return d.sp.Register(c)
}

// Feed enqueues text. It blocks while the queue is full and drops text once
// Run has returned.
func (d *Demux) Feed(text string) {
	if text == "" {
		return
	}
	select {
	case d.queue <- message{text: text}:
	case <-d.stopped:
	}
}

// Sync waits until every previously fed text has been routed.
func (d *Demux) Sync(ctx context.Context) error {
	return d.barrier(ctx, false)
}

// Flush routes all previously fed text and forwards the trailing partial
// line without waiting for the idle timer.
func (d *Demux) Flush(ctx context.Context) error {
	return d.barrier(ctx, true)
}

func (d *Demux) barrier(ctx context.Context, flush bool) error {
	done := make(chan struct{})
	select {
	case d.queue <- message{flush: flush, done: done}:
	case <-d.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-d.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes fed text until ctx is done. Remaining queued text is routed
// and the partial line flushed before Run returns.
func (d *Demux) Run(ctx context.Context) {
	defer close(d.stopped)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	armed := false

	for {
		select {
		case <-ctx.Done():
			d.drain()
			return
		case m := <-d.queue:
			d.handle(m)
			if d.idle > 0 && m.text != "" {
				timer.Reset(d.idle)
				armed = true
			}
		case <-timer.C:
			if armed && d.sp.FlushPartial() {
				d.metrics.IncIdleFlushes()
			}
			armed = false
		}
	}
}

func (d *Demux) handle(m message) {
	if m.text != "" {
		d.sp.Write(m.text)
	}
	if m.flush {
		d.sp.FlushPartial()
	}
	if m.done != nil {
		close(m.done)
	}
}

func (d *Demux) drain() {
	for {
		select {
		case m := <-d.queue:
			d.handle(m)
		default:
			d.sp.FlushPartial()
			return
		}
	}
}
