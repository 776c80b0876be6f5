package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/espterm/types"
)

// NewApp assembles the espterm CLI.
func NewApp(commit string) *cli.App {
	return &cli.App{
		Name:                 "espterm",
		Usage:                "Serial terminal and file transfer for ESP32 firmware",
		Version:              fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		Flags:                GlobalFlags(),
		EnableBashCompletion: true,
		Commands: []*cli.Command{
			MonitorCommand(),
			ConsoleCommand(),
			ListCommand(),
			PutCommand(),
			GetCommand(),
			RemoveCommand(),
			ExecCommand(),
			ReplayCommand(),
			ArchiveCommand(),
			PortsCommand(),
			VersionCommand(commit),
		},
	}
}
