package protocol

import (
	"errors"
	"fmt"
)

// Kind classifies engine errors.
type Kind string

const (
	// KindValidation means the request was rejected before any I/O.
	KindValidation Kind = "validation"
	// KindProtocol means the device answered with something malformed or
	// unexpected.
	KindProtocol Kind = "protocol"
	// KindTimeout means no terminator arrived before the deadline.
	KindTimeout Kind = "timeout"
	// KindTransport means the link failed.
	KindTransport Kind = "transport"
)

// ErrHashMismatch is wrapped by the protocol error returned when a read
// file's MD5 differs from the one the device declared.
var ErrHashMismatch = errors.New("file hash mismatch")

// Error is returned by every engine operation.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

func validationError(op, msg string) *Error {
	return &Error{Kind: KindValidation, Op: op, Msg: msg}
}

func protocolError(op, format string, args ...any) *Error {
	return &Error{Kind: KindProtocol, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of err, or "" if err is not an *Error.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsValidation reports whether err was a rejected request.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsProtocol reports whether err was a malformed or unexpected response.
func IsProtocol(err error) bool { return KindOf(err) == KindProtocol }

// IsTimeout reports whether err was an expired wait.
func IsTimeout(err error) bool { return KindOf(err) == KindTimeout }

// IsTransport reports whether err was a link failure.
func IsTransport(err error) bool { return KindOf(err) == KindTransport }
