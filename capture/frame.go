// Package capture records serial sessions as length-prefixed msgpack
// frames and replays them without a device.
//
// A capture is a header frame followed by traffic frames:
//
//	[4-byte big-endian length][msgpack payload] ...
//
// Traffic frames carry the direction, a UnixNano timestamp and the raw
// bytes exactly as they crossed the link.
package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 4
	// MaxFrameSize bounds a frame, length prefix included (1 MiB).
	MaxFrameSize = 1 << 20
	// MaxPayloadSize is MaxFrameSize minus the length prefix.
	MaxPayloadSize = MaxFrameSize - LengthPrefixSize
)

// Frame type discriminants.
const (
	TypeHeader = "header"
	TypeRX     = "rx"
	TypeTX     = "tx"
)

// Header opens every capture.
type Header struct {
	Type      string `msgpack:"type"`
	Version   string `msgpack:"version"`
	SessionID string `msgpack:"session_id"`
	Port      string `msgpack:"port"`
	Baud      int    `msgpack:"baud,omitempty"`
	Started   int64  `msgpack:"started"`
}

// Frame is one chunk of traffic.
type Frame struct {
	Type string `msgpack:"type"`
	Ts   int64  `msgpack:"ts"`
	Data []byte `msgpack:"data"`
}

// FrameErrorKind classifies decoding errors.
type FrameErrorKind int

const (
	// FrameErrorPartial indicates a truncated frame.
	FrameErrorPartial FrameErrorKind = iota
	// FrameErrorTooLarge indicates a frame exceeding MaxFrameSize.
	FrameErrorTooLarge
	// FrameErrorDecode indicates a msgpack decoding error.
	FrameErrorDecode
	// FrameErrorHeader indicates a missing or unsupported header.
	FrameErrorHeader
)

// FrameError represents a capture decoding error.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// IsTruncated reports whether err is a partial trailing frame, as left by
// a session that was killed mid-write.
func IsTruncated(err error) bool {
	var fe *FrameError
	return errors.As(err, &fe) && fe.Kind == FrameErrorPartial
}

// appendFrame appends the length-prefixed encoding of v to dst.
func appendFrame(dst []byte, v any) ([]byte, error) {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return dst, err
	}
	if len(payload) > MaxPayloadSize {
		return dst, fmt.Errorf("frame payload %d exceeds maximum %d", len(payload), MaxPayloadSize)
	}
	var prefix [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload))) //nolint:gosec // bounded above
	dst = append(dst, prefix[:]...)
	return append(dst, payload...), nil
}

// readPayload reads one length-prefixed payload. io.EOF means the stream
// ended on a frame boundary.
func readPayload(r io.Reader) ([]byte, error) {
	var prefix [LengthPrefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &FrameError{Kind: FrameErrorPartial, Msg: "failed to read length prefix", Err: err}
	}

	size := binary.BigEndian.Uint32(prefix[:])
	if size > MaxPayloadSize {
		return nil, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", size, MaxPayloadSize),
		}
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, &FrameError{Kind: FrameErrorPartial, Msg: "failed to read payload", Err: err}
	}
	return payload, nil
}

// Reader decodes a capture stream.
type Reader struct {
	r      io.Reader
	header *Header
}

// NewReader reads and checks the capture header.
func NewReader(r io.Reader) (*Reader, error) {
	payload, err := readPayload(r)
	if err != nil {
		if err == io.EOF {
			return nil, &FrameError{Kind: FrameErrorHeader, Msg: "empty capture"}
		}
		return nil, err
	}
	var h Header
	if err := msgpack.Unmarshal(payload, &h); err != nil {
		return nil, &FrameError{Kind: FrameErrorDecode, Msg: "failed to decode header", Err: err}
	}
	if h.Type != TypeHeader {
		return nil, &FrameError{Kind: FrameErrorHeader, Msg: fmt.Sprintf("first frame is %q, want header", h.Type)}
	}
	if h.Version != Version {
		return nil, &FrameError{Kind: FrameErrorHeader, Msg: fmt.Sprintf("unsupported capture version %q", h.Version)}
	}
	return &Reader{r: r, header: &h}, nil
}

// Header returns the capture header.
func (r *Reader) Header() Header { return *r.header }

// Next returns the next traffic frame, or io.EOF at the end.
func (r *Reader) Next() (*Frame, error) {
	payload, err := readPayload(r.r)
	if err != nil {
		return nil, err
	}
	var f Frame
	if err := msgpack.Unmarshal(payload, &f); err != nil {
		return nil, &FrameError{Kind: FrameErrorDecode, Msg: "failed to decode frame", Err: err}
	}
	if f.Type != TypeRX && f.Type != TypeTX {
		return nil, &FrameError{Kind: FrameErrorDecode, Msg: fmt.Sprintf("unknown frame type %q", f.Type)}
	}
	return &f, nil
}
