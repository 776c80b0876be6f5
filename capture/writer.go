package capture

import (
	"bufio"
	"io"
	"sync"
	"time"

	"github.com/pithecene-io/espterm/types"
)

// Version is the capture format version written into headers.
const Version = types.CaptureVersion

// Writer records link traffic. It is safe for concurrent use; the
// transport reader records RX while writers record TX.
//
// Record errors are sticky: the first one stops recording and is
// reported by Err and Close.
type Writer struct {
	mu  sync.Mutex
	w   *bufio.Writer
	c   io.Closer
	buf []byte
	err error
	now func() time.Time
}

// NewWriter writes the header for a new capture to w. If w is an
// io.Closer, Close closes it.
func NewWriter(w io.Writer, h Header) (*Writer, error) {
	cw := &Writer{w: bufio.NewWriter(w), now: time.Now}
	if c, ok := w.(io.Closer); ok {
		cw.c = c
	}
	h.Type = TypeHeader
	h.Version = Version
	if h.Started == 0 {
		h.Started = cw.now().UnixNano()
	}
	if err := cw.write(h); err != nil {
		return nil, err
	}
	return cw, nil
}

// RecordRX records bytes read from the device.
func (w *Writer) RecordRX(p []byte) { w.record(TypeRX, p) }

// RecordTX records bytes written to the device.
func (w *Writer) RecordTX(p []byte) { w.record(TypeTX, p) }

func (w *Writer) record(typ string, p []byte) {
	if len(p) == 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return
	}
	ts := w.now().UnixNano()
	for len(p) > 0 {
		n := min(len(p), maxDataPerFrame)
		w.err = w.writeLocked(Frame{Type: typ, Ts: ts, Data: p[:n]})
		if w.err != nil {
			return
		}
		p = p[n:]
	}
}

// maxDataPerFrame leaves room for the frame envelope.
const maxDataPerFrame = MaxPayloadSize - 64

func (w *Writer) write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writeLocked(v)
}

func (w *Writer) writeLocked(v any) error {
	var err error
	w.buf, err = appendFrame(w.buf[:0], v)
	if err != nil {
		return err
	}
	_, err = w.w.Write(w.buf)
	return err
}

// Flush writes buffered frames.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.err = w.w.Flush()
	return w.err
}

// Err returns the first recording error.
func (w *Writer) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Close flushes and closes the underlying writer.
func (w *Writer) Close() error {
	err := w.Flush()
	if w.c != nil {
		if cerr := w.c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
