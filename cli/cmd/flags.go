// Package cmd provides CLI commands for the espterm binary.
package cmd

import "github.com/urfave/cli/v2"

// Global flags. They are read from any subcommand through the context
// lineage and override espterm.yaml.
var (
	// ConfigFlag points at an espterm.yaml. Without it ./espterm.yaml is
	// used when present.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Usage:   "Path to espterm.yaml (default: ./espterm.yaml when present)",
		EnvVars: []string{"ESPTERM_CONFIG"},
	}

	// PortFlag selects the device.
	PortFlag = &cli.StringFlag{
		Name:    "port",
		Aliases: []string{"p"},
		Usage:   "Serial device, or sim:// for the built-in simulator",
		EnvVars: []string{"ESPTERM_PORT"},
	}

	// BaudFlag sets the serial speed.
	BaudFlag = &cli.IntFlag{
		Name:    "baud",
		Aliases: []string{"b"},
		Usage:   "Baud rate (default 115200)",
	}

	// TimeoutFlag bounds each wait for a device reply.
	TimeoutFlag = &cli.DurationFlag{
		Name:  "timeout",
		Usage: "Response timeout per device reply (default 5s)",
	}

	// LogLevelFlag sets the log level.
	LogLevelFlag = &cli.StringFlag{
		Name:  "log-level",
		Usage: "Log level: debug, info, warn, error (default warn)",
	}

	// LogFileFlag redirects logs. Stdout is never used for logs.
	LogFileFlag = &cli.StringFlag{
		Name:  "log-file",
		Usage: "Append logs to this file instead of stderr",
	}

	// StatsFlag prints link metrics after the command.
	StatsFlag = &cli.BoolFlag{
		Name:  "stats",
		Usage: "Print link metrics to stderr when the command finishes",
	}
)

// Output flags for commands that render results.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// TUIFlag enables the Bubble Tea split view.
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Show output and the task monitor in a full-screen split view",
	}

	// CaptureFlag records the session.
	CaptureFlag = &cli.StringFlag{
		Name:  "capture",
		Usage: "Record all link traffic to this file (replay with espterm replay)",
	}
)

// GlobalFlags returns the application-level flags.
func GlobalFlags() []cli.Flag {
	return []cli.Flag{
		ConfigFlag,
		PortFlag,
		BaudFlag,
		TimeoutFlag,
		LogLevelFlag,
		LogFileFlag,
		StatsFlag,
	}
}

// OutputFlags returns the flags of commands that render a result.
func OutputFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
	}
}
