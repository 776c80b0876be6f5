package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/espterm/cli/render"
	"github.com/pithecene-io/espterm/types"
)

// VersionResponse is the response for the version command.
type VersionResponse struct {
	Version        string `json:"version"`
	Commit         string `json:"commit"`
	CaptureVersion string `json:"capture_version"`
}

// VersionCommand returns the version command. It never opens the device.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:   "version",
		Usage:  "Show version information",
		Flags:  OutputFlags(),
		Action: versionAction(commit),
	}
}

func versionAction(commit string) cli.ActionFunc {
	return func(c *cli.Context) error {
		r, err := render.New(c.String(FormatFlag.Name), c.Bool(NoColorFlag.Name), c.App.Writer)
		if err != nil {
			return exitErr(usageErr("%v", err))
		}
		return r.Render(VersionResponse{
			Version:        types.Version,
			Commit:         commit,
			CaptureVersion: types.CaptureVersion,
		})
	}
}
