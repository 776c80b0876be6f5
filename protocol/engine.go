// Package protocol implements the host side of the device command protocol.
//
// The Engine silences the device's free-running log output, issues one
// command at a time and extracts the acknowledgement from whatever the
// device prints back. Chunked file transfer is built on the same
// single-in-flight wait.
package protocol

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/pithecene-io/espterm/iox"
	"github.com/pithecene-io/espterm/log"
	"github.com/pithecene-io/espterm/metrics"
	"github.com/pithecene-io/espterm/stream"
	"github.com/pithecene-io/espterm/types"
)

const (
	// Forever disables the wait deadline.
	Forever time.Duration = -1
	// DefaultTimeout bounds a single wait for a response.
	DefaultTimeout = 5 * time.Second
	// DefaultSettleDelay follows every silence command.
	DefaultSettleDelay = 100 * time.Millisecond
)

// Link is the transport as seen by the engine. *transport.Reader
// implements it.
type Link interface {
	Write(p []byte) (int, error)
	// Silence redirects incoming bytes to the private inbox.
	Silence()
	// Unsilence hands leftover and then the queued inbox back to the
	// display path, ahead of newly read bytes.
	Unsilence(leftover []byte)
	// SetBlock keeps incoming bytes in the inbox for raw reads.
	SetBlock(on bool)
	// Next returns queued inbox bytes, waiting until some arrive.
	Next(ctx context.Context) ([]byte, error)
}

// WaitMode selects how WaitForResponse terminates.
type WaitMode int

const (
	// Single ends at the first OK or ERROR line.
	Single WaitMode = iota
	// CollectUntilEnd accumulates lines after the first OK until END.
	CollectUntilEnd
)

func (m WaitMode) String() string {
	if m == CollectUntilEnd {
		return "collect"
	}
	return "single"
}

// Reply is the outcome of one wait. Lines is set in CollectUntilEnd mode.
type Reply struct {
	OK      bool
	Payload string
	Lines   []string
}

// Observer receives transfer snapshots.
type Observer func(types.TransferSession)

// Config configures an Engine.
type Config struct {
	// Timeout bounds each wait. Zero means DefaultTimeout.
	Timeout time.Duration
	// SettleDelay follows each silence command. Zero means
	// DefaultSettleDelay, negative means none.
	SettleDelay time.Duration
	// Display receives lines that arrive while waiting but are not
	// responses. Nil discards them.
	Display stream.Consumer
	// Progress observes every transfer, in addition to per-call observers.
	Progress Observer
	Logger   *log.Logger
	Metrics  *metrics.Collector
}

// Engine drives the command protocol over a Link.
//
// At most one wait is pending at a time (waitSem) and whole batch
// operations are serialised (opMu). Every batch runs inside a silence
// envelope that is released on every exit path.
type Engine struct {
	link Link
	cfg  Config

	opMu    sync.Mutex
	waitSem chan struct{}

	stateMu  sync.Mutex
	silenced bool
	batching bool

	// lineBuf holds inbox bytes not yet consumed. Guarded by waitSem.
	lineBuf []byte
}

// NewEngine creates an Engine on link.
func NewEngine(link Link, cfg Config) *Engine {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.Display == nil {
		cfg.Display = stream.Discard
	}
	return &Engine{
		link:    link,
		cfg:     cfg,
		waitSem: make(chan struct{}, 1),
	}
}

func (e *Engine) acquire(ctx context.Context, op string) error {
	select {
	case e.waitSem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return e.timeoutError(op, ctx.Err())
	}
}

func (e *Engine) release() { <-e.waitSem }

func (e *Engine) isSilenced() bool {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.silenced
}

// callerSilenced reports a silence envelope opened with EnterSilence
// outside any batch operation.
func (e *Engine) callerSilenced() bool {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.silenced && !e.batching
}

func (e *Engine) setBatching(on bool) {
	e.stateMu.Lock()
	e.batching = on
	e.stateMu.Unlock()
}

// EnterSilence redirects the link to the engine and asks the device to
// stop logging.
func (e *Engine) EnterSilence(ctx context.Context) error {
	e.stateMu.Lock()
	e.silenced = true
	e.stateMu.Unlock()
	e.link.Silence()

	if err := e.send("silence on", []byte(types.FormatCommand(types.CmdSilenceOn)), true); err != nil {
		return err
	}
	return e.settle(ctx)
}

// ExitSilence asks the device to resume logging and returns the link to
// the display path. Unconsumed bytes are handed back in order.
func (e *Engine) ExitSilence(ctx context.Context) error {
	err := e.send("silence off", []byte(types.FormatCommand(types.CmdSilenceOff)), true)
	if serr := e.settle(ctx); err == nil && !errors.Is(serr, context.Canceled) {
		err = serr
	}

	e.waitSem <- struct{}{}
	leftover := e.lineBuf
	e.lineBuf = nil
	e.release()

	e.stateMu.Lock()
	e.silenced = false
	e.stateMu.Unlock()
	e.link.Unsilence(leftover)
	return err
}

func (e *Engine) settle(ctx context.Context) error {
	if e.cfg.SettleDelay <= 0 {
		return nil
	}
	t := time.NewTimer(e.cfg.SettleDelay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// batch runs fn inside a silence envelope after a successful ping.
func (e *Engine) batch(ctx context.Context, op string, fn func(context.Context) error) (err error) {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	e.setBatching(true)
	defer e.setBatching(false)

	defer func() {
		xerr := e.ExitSilence(context.WithoutCancel(ctx))
		if err == nil && xerr != nil {
			err = xerr
		}
	}()
	if err := e.EnterSilence(ctx); err != nil {
		return err
	}
	if err := e.ping(ctx); err != nil {
		return err
	}
	e.cfg.Logger.Debug("batch started", map[string]any{"op": op})
	return fn(ctx)
}

// Ping checks the device answers inside a silence envelope.
func (e *Engine) Ping(ctx context.Context) error {
	return e.batch(ctx, "ping", func(context.Context) error { return nil })
}

func (e *Engine) ping(ctx context.Context) error {
	r, err := e.roundTrip(ctx, "ping", types.FormatCommand(types.CmdPing), Single)
	if err != nil {
		return err
	}
	if !r.OK {
		return protocolError("ping", "device refused ping: %s", r.Payload)
	}
	return nil
}

// WaitForResponse waits for the next response. timeout zero means the
// configured timeout, Forever means no deadline.
//
// Inside an envelope opened with EnterSilence the wait runs directly.
// Otherwise it waits for any running batch operation to finish and
// redirects the link for the duration of the wait.
func (e *Engine) WaitForResponse(ctx context.Context, timeout time.Duration, mode WaitMode) (Reply, error) {
	if e.callerSilenced() {
		return e.waitFor(ctx, "wait", timeout, mode)
	}
	e.opMu.Lock()
	defer e.opMu.Unlock()
	if !e.isSilenced() {
		e.link.Silence()
		defer func() {
			e.waitSem <- struct{}{}
			leftover := e.lineBuf
			e.lineBuf = nil
			e.release()
			e.link.Unsilence(leftover)
		}()
	}
	return e.waitFor(ctx, "wait", timeout, mode)
}

// roundTrip sends a command line and waits for its reply.
func (e *Engine) roundTrip(ctx context.Context, op, line string, mode WaitMode) (Reply, error) {
	if err := e.send(op, []byte(line), true); err != nil {
		return Reply{}, err
	}
	return e.waitFor(ctx, op, 0, mode)
}

func (e *Engine) send(op string, p []byte, command bool) error {
	if _, err := e.link.Write(p); err != nil {
		return &Error{Kind: KindTransport, Op: op, Err: err}
	}
	if command {
		e.cfg.Metrics.IncCommandsSent()
		e.cfg.Logger.Debug("command sent", map[string]any{"op": op, "command": strings.TrimSuffix(string(p), "\n")})
	}
	return nil
}

func (e *Engine) waitFor(ctx context.Context, op string, timeout time.Duration, mode WaitMode) (Reply, error) {
	if err := e.acquire(ctx, op); err != nil {
		return Reply{}, err
	}
	defer e.release()

	e.cfg.Metrics.IncWaits()
	if timeout == 0 {
		timeout = e.cfg.Timeout
	}
	if timeout != Forever {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var (
		started bool
		lines   []string
	)
	for {
		for {
			line, ok := e.nextLine()
			if !ok {
				break
			}
			if !hasAlnum(line) {
				continue
			}
			if entry, ok := ParseDeviceLog(line); ok {
				e.cfg.Display.Consume(entry.Message)
				continue
			}
			if i := strings.Index(line, types.MarkerOK); i >= 0 {
				payload := line[i+len(types.MarkerOK):]
				if mode == Single {
					return Reply{OK: true, Payload: payload}, nil
				}
				if strings.Contains(payload, types.MarkerEnd) {
					return Reply{OK: true, Lines: lines}, nil
				}
				started = true
				lines = append(lines, payload)
				continue
			}
			if i := strings.Index(line, types.MarkerError); i >= 0 {
				return Reply{OK: false, Payload: line[i+len(types.MarkerError):]}, nil
			}
			if started {
				if strings.Contains(line, types.MarkerEnd) {
					return Reply{OK: true, Lines: lines}, nil
				}
				lines = append(lines, line)
				continue
			}
			e.cfg.Display.Consume(line)
		}

		data, err := e.link.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return Reply{}, e.timeoutError(op, err)
			}
			return Reply{}, &Error{Kind: KindTransport, Op: op, Err: err}
		}
		e.lineBuf = append(e.lineBuf, data...)
	}
}

// nextLine pops one complete line from lineBuf. Caller holds waitSem.
func (e *Engine) nextLine() (string, bool) {
	i := bytes.IndexByte(e.lineBuf, '\n')
	if i < 0 {
		return "", false
	}
	raw := e.lineBuf[:i]
	e.lineBuf = e.lineBuf[i+1:]
	return strings.TrimSuffix(iox.DecodeString(raw), "\r"), true
}

// readExact pops exactly n raw bytes, waiting for more as needed.
// Caller holds waitSem.
func (e *Engine) readExact(ctx context.Context, op string, n int) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()
	for len(e.lineBuf) < n {
		data, err := e.link.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, e.timeoutError(op, err)
			}
			return nil, &Error{Kind: KindTransport, Op: op, Err: err}
		}
		e.lineBuf = append(e.lineBuf, data...)
	}
	out := append([]byte(nil), e.lineBuf[:n]...)
	e.lineBuf = e.lineBuf[n:]
	return out, nil
}

func (e *Engine) timeoutError(op string, err error) *Error {
	e.cfg.Metrics.IncWaitTimeouts()
	e.cfg.Logger.Warn("wait timed out", map[string]any{"op": op})
	return &Error{Kind: KindTimeout, Op: op, Msg: "no response from device", Err: err}
}

func (e *Engine) observe(s types.TransferSession, observers []Observer) {
	if e.cfg.Progress != nil {
		e.cfg.Progress(s)
	}
	for _, o := range observers {
		if o != nil {
			o(s)
		}
	}
}

func (e *Engine) countProtocolError(err error) {
	if IsProtocol(err) {
		e.cfg.Metrics.IncProtocolErrors()
	}
}

func hasAlnum(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

func describeReply(r Reply) string {
	if r.OK {
		return fmt.Sprintf("ok %q", r.Payload)
	}
	return fmt.Sprintf("error %q", r.Payload)
}
