package adapter

import (
	"context"
	"sync"
	"time"

	"github.com/pithecene-io/espterm/log"
)

// DefaultMonitorInterval is the minimum gap between two published
// monitor snapshots.
const DefaultMonitorInterval = 10 * time.Second

// closeTimeout bounds the final publish made by Forwarder.Close.
const closeTimeout = 5 * time.Second

// ForwarderConfig configures a Forwarder.
type ForwarderConfig struct {
	SessionID string
	Device    string
	// Interval is the minimum gap between publishes. Zero means
	// DefaultMonitorInterval; negative publishes every block.
	Interval time.Duration
	Logger   *log.Logger
}

// Forwarder publishes monitor blocks as monitor_snapshot events. Blocks
// arrive on the demux goroutine, so publishing happens on a worker; while
// a publish or the interval is pending only the newest block is kept.
// Forwarder satisfies session.MonitorHandler.
type Forwarder struct {
	a   Adapter
	cfg ForwarderConfig

	mu      sync.Mutex
	pending []string

	ctx       context.Context
	cancel    context.CancelFunc
	wake      chan struct{}
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewForwarder starts a Forwarder publishing to a.
func NewForwarder(a Adapter, cfg ForwarderConfig) *Forwarder {
	if cfg.Interval == 0 {
		cfg.Interval = DefaultMonitorInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	f := &Forwarder{
		a:      a,
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go f.run()
	return f
}

// Block queues lines for publishing, replacing any unpublished block.
func (f *Forwarder) Block(lines []string) {
	f.mu.Lock()
	f.pending = append([]string(nil), lines...)
	f.mu.Unlock()
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

// Clear drops the unpublished block.
func (f *Forwarder) Clear() {
	f.mu.Lock()
	f.pending = nil
	f.mu.Unlock()
}

// Close publishes the pending block, if any, and stops the worker. A
// publish still running after closeTimeout is canceled.
func (f *Forwarder) Close() error {
	f.closeOnce.Do(func() {
		close(f.stop)
		timer := time.NewTimer(closeTimeout)
		defer timer.Stop()
		select {
		case <-f.done:
		case <-timer.C:
			f.cancel()
		}
	})
	<-f.done
	f.cancel()
	return nil
}

func (f *Forwarder) run() {
	defer close(f.done)
	var last time.Time
	for {
		select {
		case <-f.stop:
			f.final()
			return
		case <-f.wake:
		}
		if wait := f.cfg.Interval - time.Since(last); !last.IsZero() && wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-f.stop:
				timer.Stop()
				f.final()
				return
			case <-timer.C:
			}
		}
		if f.publish(f.ctx) {
			last = time.Now()
		}
	}
}

func (f *Forwarder) final() {
	ctx, cancel := context.WithTimeout(f.ctx, closeTimeout)
	defer cancel()
	f.publish(ctx)
}

// publish sends the pending block and reports whether there was one.
func (f *Forwarder) publish(ctx context.Context) bool {
	f.mu.Lock()
	lines := f.pending
	f.pending = nil
	f.mu.Unlock()
	if len(lines) == 0 {
		return false
	}
	ev := NewMonitorEvent(f.cfg.SessionID, f.cfg.Device, lines, time.Now())
	if err := f.a.Publish(ctx, ev); err != nil {
		f.cfg.Logger.Warn("monitor snapshot not published", map[string]any{
			"error": err.Error(),
			"lines": len(lines),
		})
	}
	return true
}
