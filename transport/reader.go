// Package transport owns the serial link: a single reader goroutine that
// routes incoming bytes either to the display path or, while the protocol
// engine has silenced or blocked the link, to a private inbox.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/pithecene-io/espterm/iox"
	"github.com/pithecene-io/espterm/log"
	"github.com/pithecene-io/espterm/metrics"
)

// DefaultReadSize is the buffer size for a single port read.
const DefaultReadSize = 4096

// ErrReaderStopped is returned by Next once Run has returned and the inbox
// is empty.
var ErrReaderStopped = errors.New("transport reader stopped")

// Port is the byte-oriented duplex link to the device.
type Port = io.ReadWriteCloser

// Feeder receives decoded display text. *stream.Demux implements it.
type Feeder interface {
	Feed(text string)
}

// Recorder observes raw traffic in both directions. *capture.Writer
// implements it.
type Recorder interface {
	RecordRX(p []byte)
	RecordTX(p []byte)
}

// Config configures a Reader.
type Config struct {
	ReadSize int
	Metrics  *metrics.Collector
	Logger   *log.Logger
	Recorder Recorder
}

// Reader is the only reader of a Port.
//
// While silence or block mode is on, freshly read bytes go to the inbox
// (consumed with Next); otherwise they are decoded and fed to the display
// Feeder. The mode flags and the routing decision share one mutex so no
// fragment is misrouted at a mode boundary.
type Reader struct {
	port    Port
	display Feeder
	cfg     Config

	mu       sync.Mutex
	silenced bool
	blocked  bool
	dec      *iox.Decoder
	inbox    *inbox

	wmu sync.Mutex

	stopped  chan struct{}
	stopOnce sync.Once
}

// NewReader creates a Reader for port. display may be nil.
func NewReader(port Port, display Feeder, cfg Config) *Reader {
	if cfg.ReadSize <= 0 {
		cfg.ReadSize = DefaultReadSize
	}
	return &Reader{
		port:    port,
		display: display,
		cfg:     cfg,
		dec:     iox.NewDecoder(),
		inbox:   newInbox(),
		stopped: make(chan struct{}),
	}
}

// Run reads from the port until ctx is done or the port fails.
// A read error after ctx is done is not reported.
func (r *Reader) Run(ctx context.Context) error {
	defer r.stopOnce.Do(func() { close(r.stopped) })

	buf := make([]byte, r.cfg.ReadSize)
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := r.port.Read(buf)
		if n > 0 {
			data := append([]byte(nil), buf[:n]...)
			r.cfg.Metrics.AddBytesRead(n)
			if r.cfg.Recorder != nil {
				r.cfg.Recorder.RecordRX(data)
			}
			r.route(data)
		}
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			r.cfg.Metrics.IncReadErrors()
			r.cfg.Logger.Error("port read failed", map[string]any{"error": err.Error()})
			return &Error{Op: "read", Err: err}
		}
	}
}

func (r *Reader) route(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.silenced || r.blocked {
		r.inbox.push(data)
		return
	}
	r.feed(r.dec.Decode(data))
}

// feed must be called with r.mu held.
func (r *Reader) feed(text string) {
	if text == "" || r.display == nil {
		return
	}
	r.display.Feed(text)
}

// Write sends p to the device. Concurrent writes are serialised.
func (r *Reader) Write(p []byte) (int, error) {
	r.wmu.Lock()
	defer r.wmu.Unlock()
	n, err := r.port.Write(p)
	r.cfg.Metrics.AddBytesWritten(n)
	if r.cfg.Recorder != nil && n > 0 {
		r.cfg.Recorder.RecordTX(p[:n])
	}
	if err != nil {
		return n, &Error{Op: "write", Err: err}
	}
	if n < len(p) {
		return n, &Error{Op: "write", Err: io.ErrShortWrite}
	}
	return n, nil
}

// Silence redirects subsequent reads to the inbox. Text already decoded for
// the display path stays there.
func (r *Reader) Silence() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.silenced {
		return
	}
	r.silenced = true
	r.feed(r.dec.Flush())
}

// Unsilence ends silence mode. leftover (bytes the engine read from the
// inbox but did not consume) and then everything still queued in the inbox
// go to the display path before any newly read bytes.
func (r *Reader) Unsilence(leftover []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.silenced = false
	if r.blocked {
		if len(leftover) > 0 {
			r.inbox.unshift(leftover)
		}
		return
	}
	r.feed(r.dec.Decode(append(leftover, r.inbox.drain()...)))
}

// SetBlock turns block mode on or off. Block mode keeps reads in the inbox
// independently of silence mode.
func (r *Reader) SetBlock(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blocked = on
	if !on && !r.silenced {
		r.feed(r.dec.Decode(r.inbox.drain()))
	}
}

// Silenced reports whether silence mode is on.
func (r *Reader) Silenced() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.silenced
}

// Next returns the inbox contents, waiting until something arrives, ctx is
// done, or the reader stops.
func (r *Reader) Next(ctx context.Context) ([]byte, error) {
	for {
		if data := r.inbox.drain(); len(data) > 0 {
			return data, nil
		}
		select {
		case <-r.inbox.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-r.stopped:
			if data := r.inbox.drain(); len(data) > 0 {
				return data, nil
			}
			return nil, ErrReaderStopped
		}
	}
}

// Close closes the port, which unblocks Run.
func (r *Reader) Close() error {
	if err := r.port.Close(); err != nil {
		return &Error{Op: "close", Err: err}
	}
	return nil
}

// Error is a transport failure.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsTransportError reports whether err is a transport failure.
func IsTransportError(err error) bool {
	var te *Error
	return errors.As(err, &te)
}
