package archive

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for storage failure classification.
var (
	// ErrNotFound indicates the archived file does not exist.
	ErrNotFound = errors.New("not found")
	// ErrPermissionDenied indicates a permission/access failure (EACCES, 403).
	ErrPermissionDenied = errors.New("permission denied")
	// ErrTimeout indicates an operation timed out.
	ErrTimeout = errors.New("operation timed out")
	// ErrAuth indicates missing or rejected credentials.
	ErrAuth = errors.New("authentication failed")
	// ErrNetwork indicates a network-level failure.
	ErrNetwork = errors.New("network error")
	// ErrStorage is the kind of an unclassified failure.
	ErrStorage = errors.New("storage error")
)

// StorageError wraps a backend error with its classification.
type StorageError struct {
	Kind error
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s %s: %v: %v", e.Op, e.Path, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is reports whether the error matches the target sentinel.
func (e *StorageError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// wrap classifies err. Returns nil if err is nil.
func wrap(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Kind: classify(err), Op: op, Path: path, Err: err}
}

func classify(err error) error {
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return ErrTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "no such file", "does not exist", "not found", "nosuchkey", "404"):
		return ErrNotFound
	case containsAny(msg, "permission denied", "accessdenied", "forbidden", "403"):
		return ErrPermissionDenied
	case containsAny(msg, "timeout", "timed out", "deadline exceeded"):
		return ErrTimeout
	case containsAny(msg, "nocredentialproviders", "invalidaccesskeyid", "signaturedoesnotmatch", "expiredtoken", "401"):
		return ErrAuth
	case containsAny(msg, "connection refused", "no route to host", "dial tcp"):
		return ErrNetwork
	default:
		return ErrStorage
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
