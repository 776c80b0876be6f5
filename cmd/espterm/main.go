// Package main provides the espterm CLI entrypoint.
//
// Usage:
//
//	espterm [--port DEVICE] <command> [options]
//
// Exit codes:
//   - 0: success
//   - 1: the device refused the request
//   - 2: invalid arguments or configuration
//   - 3: malformed or unexpected device reply
//   - 4: the device did not answer in time
//   - 5: the serial link failed
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/espterm/cli/cmd"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	app := cmd.NewApp(commit)
	app.ExitErrHandler = exitErrHandler

	if err := app.Run(os.Args); err != nil {
		// ExitErrHandler already exited for cli.ExitCoder errors.
		os.Exit(1)
	}
}

// exitErrHandler prints the error and exits with the code it carries.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		if msg := exitMessage(exitCoder); msg != "" {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// exitMessage returns the text worth printing for an exit error.
// cli.Exit("", N) reports "exit status N", which is skipped.
func exitMessage(ec cli.ExitCoder) string {
	msg := ec.Error()
	if msg == fmt.Sprintf("exit status %d", ec.ExitCode()) {
		return ""
	}
	return msg
}
