package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/espterm/devicesim"
	"github.com/pithecene-io/espterm/transport"
)

// PortEntry is one row of the ports listing.
type PortEntry struct {
	Name string `json:"name" yaml:"name"`
	Kind string `json:"kind" yaml:"kind"`
}

// listPorts is replaced in tests.
var listPorts = transport.ListPorts

// PortsCommand returns the ports command.
func PortsCommand() *cli.Command {
	return &cli.Command{
		Name:   "ports",
		Usage:  "List serial ports",
		Flags:  OutputFlags(),
		Action: portsAction,
	}
}

func portsAction(c *cli.Context) error {
	e, err := newEnv(c)
	if err != nil {
		return exitErr(err)
	}
	defer e.close()

	r, err := e.renderer(c)
	if err != nil {
		return exitErr(err)
	}
	names, err := listPorts()
	if err != nil {
		return exitErr(err)
	}
	entries := make([]PortEntry, 0, len(names)+1)
	for _, n := range names {
		entries = append(entries, PortEntry{Name: n, Kind: "serial"})
	}
	entries = append(entries, PortEntry{Name: devicesim.Scheme, Kind: "simulator"})
	return exitErr(r.Render(entries))
}
