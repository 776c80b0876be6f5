package cmd

import (
	"context"
	"errors"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/espterm/archive"
	"github.com/pithecene-io/espterm/session"
)

// ArchiveCommand returns the archive command with subcommands.
func ArchiveCommand() *cli.Command {
	return &cli.Command{
		Name:  "archive",
		Usage: "Inspect pulled files and the transfer journal, restore files to the device",
		Subcommands: []*cli.Command{
			archiveListCommand(),
			archiveJournalCommand(),
			archiveRestoreCommand(),
		},
	}
}

func archiveListCommand() *cli.Command {
	return &cli.Command{
		Name:      "ls",
		Usage:     "List archived files for the current port (with NAME: every version)",
		ArgsUsage: "[NAME]",
		Flags:     OutputFlags(),
		Action:    archiveListAction,
	}
}

func archiveJournalCommand() *cli.Command {
	return &cli.Command{
		Name:   "journal",
		Usage:  "Show the transfer journal for the current port",
		Flags:  OutputFlags(),
		Action: archiveJournalAction,
	}
}

func archiveRestoreCommand() *cli.Command {
	return &cli.Command{
		Name:      "restore",
		Usage:     "Push the latest archived copy of NAME back to the device",
		ArgsUsage: "NAME [REMOTE]",
		Flags:     OutputFlags(),
		Action:    archiveRestoreAction,
	}
}

var errNoArchive = errors.New("no archive configured: set archive.backend in espterm.yaml")

// withArchive runs fn against the configured archive without opening
// the device.
func withArchive(c *cli.Context, fn func(ctx context.Context, e *env, a *archive.Archive) error) error {
	e, err := newEnv(c)
	if err != nil {
		return exitErr(err)
	}
	defer e.close()
	ctx, stop := signalContext(c.Context)
	defer stop()

	a, err := e.openArchive(ctx)
	if err != nil {
		return exitErr(err)
	}
	if a == nil {
		return exitErr(usageErr("%v", errNoArchive))
	}
	return exitErr(fn(ctx, e, a))
}

func archiveListAction(c *cli.Context) error {
	return withArchive(c, func(ctx context.Context, e *env, a *archive.Archive) error {
		r, err := e.renderer(c)
		if err != nil {
			return err
		}
		var entries []archive.Entry
		if name := c.Args().First(); name != "" {
			entries, err = a.Versions(ctx, name)
		} else {
			entries, err = a.List(ctx)
		}
		if err != nil {
			return err
		}
		return r.Render(entries)
	})
}

func archiveJournalAction(c *cli.Context) error {
	return withArchive(c, func(ctx context.Context, e *env, a *archive.Archive) error {
		r, err := e.renderer(c)
		if err != nil {
			return err
		}
		records, err := a.Journal(ctx)
		if err != nil {
			return err
		}
		return r.Render(records)
	})
}

func archiveRestoreAction(c *cli.Context) error {
	if c.NArg() < 1 || c.NArg() > 2 {
		return exitErr(usageErr("archive restore takes NAME [REMOTE]"))
	}
	name, remote := c.Args().Get(0), c.Args().Get(1)
	return withSession(c, session.Options{}, func(ctx context.Context, e *env, s *session.Session) error {
		r, err := e.renderer(c)
		if err != nil {
			return err
		}
		svc, err := e.transferService(ctx, s)
		if err != nil {
			return err
		}
		res, err := svc.Restore(ctx, name, remote)
		if err != nil {
			return err
		}
		if err := r.Render(res); err != nil {
			return err
		}
		return refusal("restore "+res.Remote, res.Response)
	})
}
