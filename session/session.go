// Package session wires one serial link: the port (or the simulator), the
// transport reader, the stream demultiplexer, the protocol engine, metrics
// and an optional capture.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/espterm/capture"
	"github.com/pithecene-io/espterm/devicesim"
	"github.com/pithecene-io/espterm/iox"
	"github.com/pithecene-io/espterm/log"
	"github.com/pithecene-io/espterm/metrics"
	"github.com/pithecene-io/espterm/protocol"
	"github.com/pithecene-io/espterm/stream"
	"github.com/pithecene-io/espterm/transport"
	"github.com/pithecene-io/espterm/types"
)

// DefaultBaud is the serial speed used when none is configured.
const DefaultBaud = 115200

// MonitorContext is the name of the built-in monitor context.
const MonitorContext = "monitor"

// ContextSpec registers an extra tag-delimited context.
type ContextSpec struct {
	Name     string
	StartTag string
	EndTag   string
	Sink     stream.Consumer
}

// Opener opens a port. transport.OpenSerial is the default.
type Opener func(name string, baud int, readTimeout time.Duration) (transport.Port, error)

// Options configures Open.
type Options struct {
	Port        string
	Baud        int
	ReadTimeout time.Duration

	// Engine timing. Zero values use the protocol defaults.
	ResponseTimeout time.Duration
	SettleDelay     time.Duration
	IdleFlush       time.Duration

	// Display receives default-context lines. Nil discards them.
	Display stream.Consumer
	// Monitor receives monitor blocks. Nil creates an empty Monitor.
	Monitor *Monitor
	// Contexts are registered after the monitor context.
	Contexts []ContextSpec

	// Capture, when set, records all traffic.
	Capture io.Writer

	SessionID string
	Logger    *log.Logger

	// Sim overrides the simulator configuration for sim:// ports.
	Sim *devicesim.Config
	// Opener overrides port opening for real devices.
	Opener Opener
}

// Session is one open link.
type Session struct {
	ID      string
	Port    string
	Engine  *protocol.Engine
	Reader  *transport.Reader
	Demux   *stream.Demux
	Monitor *Monitor
	Metrics *metrics.Collector
	Sim     *devicesim.Device

	port    transport.Port
	capture *capture.Writer
	logger  *log.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	done      chan struct{}
	readErr   error
	closeOnce sync.Once
	closeErr  error
}

// Open opens the port and starts the reader and demux goroutines. The
// goroutines stop when ctx is done or Close is called.
func Open(ctx context.Context, opts Options) (*Session, error) {
	if opts.Port == "" {
		return nil, errors.New("session: no port configured")
	}
	if opts.Baud <= 0 {
		opts.Baud = DefaultBaud
	}
	if opts.SessionID == "" {
		opts.SessionID = uuid.NewString()
	}
	if opts.Monitor == nil {
		opts.Monitor = NewMonitor()
	}
	logger := opts.Logger.With("session")

	s := &Session{
		ID:      opts.SessionID,
		Port:    opts.Port,
		Monitor: opts.Monitor,
		Metrics: metrics.NewCollector(opts.Port, opts.SessionID),
		logger:  logger,
		done:    make(chan struct{}),
	}

	port, err := s.openPort(opts)
	if err != nil {
		return nil, err
	}
	s.port = port

	var recorder transport.Recorder
	if opts.Capture != nil {
		cw, err := capture.NewWriter(opts.Capture, capture.Header{
			SessionID: s.ID,
			Port:      opts.Port,
			Baud:      opts.Baud,
		})
		if err != nil {
			iox.DiscardClose(port)
			return nil, fmt.Errorf("session: start capture: %w", err)
		}
		s.capture = cw
		recorder = cw
	}

	s.Demux = stream.NewDemux(opts.Display, stream.Config{IdleFlush: opts.IdleFlush, Metrics: s.Metrics})
	contexts := append([]ContextSpec{{
		Name:     MonitorContext,
		StartTag: types.MonitorStartTag,
		EndTag:   types.MonitorEndTag,
		Sink:     opts.Monitor,
	}}, opts.Contexts...)
	for _, c := range contexts {
		if err := s.Demux.Register(stream.Context{Name: c.Name, StartTag: c.StartTag, EndTag: c.EndTag, Sink: c.Sink}); err != nil {
			iox.DiscardClose(port)
			iox.DiscardErr(s.closeCapture)
			return nil, fmt.Errorf("session: %w", err)
		}
	}

	s.Reader = transport.NewReader(port, s.Demux, transport.Config{
		Metrics:  s.Metrics,
		Logger:   logger.With("transport"),
		Recorder: recorder,
	})
	s.Engine = protocol.NewEngine(s.Reader, protocol.Config{
		Timeout:     opts.ResponseTimeout,
		SettleDelay: opts.SettleDelay,
		Display:     opts.Display,
		Logger:      logger.With("protocol"),
		Metrics:     s.Metrics,
	})

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.Demux.Run(runCtx)
	}()
	go func() {
		defer s.wg.Done()
		defer close(s.done)
		s.readErr = s.Reader.Run(runCtx)
		if s.readErr != nil {
			logger.Error("link lost", map[string]any{"error": s.readErr.Error()})
		}
	}()

	logger.Info("session opened", map[string]any{"port": opts.Port, "baud": opts.Baud, "capture": opts.Capture != nil})
	return s, nil
}

func (s *Session) openPort(opts Options) (transport.Port, error) {
	if devicesim.IsSimPort(opts.Port) {
		cfg := devicesim.Demo()
		if opts.Sim != nil {
			cfg = *opts.Sim
		}
		s.Sim = devicesim.New(cfg)
		return s.Sim, nil
	}
	open := opts.Opener
	if open == nil {
		open = transport.OpenSerial
	}
	return open(opts.Port, opts.Baud, opts.ReadTimeout)
}

// Done is closed when the reader stops (disconnect or Close).
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the reader's terminal error once Done is closed.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.readErr
	default:
		return nil
	}
}

// Send writes raw text to the device, bypassing the protocol.
func (s *Session) Send(text string) error {
	_, err := s.Reader.Write([]byte(text))
	return err
}

// Flush waits until all text read so far was routed, forcing out a
// trailing partial line.
func (s *Session) Flush(ctx context.Context) error {
	return s.Demux.Flush(ctx)
}

// Close stops the goroutines and releases the port and capture.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = s.Demux.Flush(flushCtx)
		cancel()

		s.cancel()
		var errs []error
		if err := s.port.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close port: %w", err))
		}
		s.wg.Wait()
		if err := s.closeCapture(); err != nil {
			errs = append(errs, err)
		}
		s.closeErr = errors.Join(errs...)
		s.logger.Info("session closed", map[string]any{"bytes_read": s.Metrics.Snapshot().BytesRead})
	})
	return s.closeErr
}

func (s *Session) closeCapture() error {
	if s.capture == nil {
		return nil
	}
	if err := s.capture.Close(); err != nil {
		return fmt.Errorf("close capture: %w", err)
	}
	return nil
}
