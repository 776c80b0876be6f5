package cmd

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/espterm/protocol"
	"github.com/pithecene-io/espterm/transfer"
	"github.com/pithecene-io/espterm/transport"
	"github.com/pithecene-io/espterm/types"
)

// Exit codes.
const (
	exitSuccess    = 0
	exitRefused    = 1
	exitValidation = 2
	exitProtocol   = 3
	exitTimeout    = 4
	exitTransport  = 5
)

// exitCode maps an operation error to the process exit code. Errors that
// fit no class exit with 1.
func exitCode(err error) int {
	var (
		pathErr  *fs.PathError
		badUsage *usageError
	)
	switch {
	case err == nil:
		return exitSuccess
	case errors.Is(err, transfer.ErrRefused):
		return exitRefused
	case protocol.IsValidation(err), errors.As(err, &pathErr), errors.As(err, &badUsage):
		return exitValidation
	case protocol.IsTimeout(err):
		return exitTimeout
	case protocol.IsTransport(err), transport.IsTransportError(err):
		return exitTransport
	case protocol.IsProtocol(err):
		return exitProtocol
	default:
		return exitRefused
	}
}

// exitErr converts err into a cli.ExitCoder carrying its exit code.
func exitErr(err error) error {
	if err == nil {
		return nil
	}
	var ec cli.ExitCoder
	if errors.As(err, &ec) {
		return err
	}
	return cli.Exit(err.Error(), exitCode(err))
}

// usageError marks bad arguments or configuration.
type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

func usageErr(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

// refusal returns nil for an accepted response and a transfer.ErrRefused
// error carrying the device's message otherwise.
func refusal(op string, resp types.Response) error {
	if resp.OK {
		return nil
	}
	return fmt.Errorf("%s: %w: %s", op, transfer.ErrRefused, resp.Payload)
}
