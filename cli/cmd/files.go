package cmd

import (
	"context"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/espterm/session"
	"github.com/pithecene-io/espterm/transfer"
)

// ListCommand returns the ls command.
func ListCommand() *cli.Command {
	return &cli.Command{
		Name:   "ls",
		Usage:  "List files on the device",
		Flags:  OutputFlags(),
		Action: listAction,
	}
}

func listAction(c *cli.Context) error {
	return withSession(c, session.Options{}, func(ctx context.Context, e *env, s *session.Session) error {
		r, err := e.renderer(c)
		if err != nil {
			return err
		}
		files, err := s.Engine.ListFiles(ctx)
		if err != nil {
			return err
		}
		return r.Render(files)
	})
}

// PutCommand returns the put command.
func PutCommand() *cli.Command {
	return &cli.Command{
		Name:      "put",
		Usage:     "Upload a local file to the device",
		ArgsUsage: "LOCAL [REMOTE]",
		Flags:     OutputFlags(),
		Action:    putAction,
	}
}

func putAction(c *cli.Context) error {
	if c.NArg() < 1 || c.NArg() > 2 {
		return exitErr(usageErr("put takes LOCAL [REMOTE]"))
	}
	local, remote := c.Args().Get(0), c.Args().Get(1)
	return withSession(c, session.Options{}, func(ctx context.Context, e *env, s *session.Session) error {
		r, err := e.renderer(c)
		if err != nil {
			return err
		}
		svc, err := e.transferService(ctx, s)
		if err != nil {
			return err
		}
		res, err := svc.Put(ctx, local, remote)
		if err != nil {
			return err
		}
		if err := r.Render(res); err != nil {
			return err
		}
		return refusal("put "+res.Remote, res.Response)
	})
}

// GetCommand returns the get command.
func GetCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Download a device file (LOCAL - writes to stdout)",
		ArgsUsage: "REMOTE [LOCAL]",
		Flags: append(OutputFlags(),
			&cli.BoolFlag{
				Name:  "archive",
				Usage: "Also store the file in the configured archive",
			},
		),
		Action: getAction,
	}
}

func getAction(c *cli.Context) error {
	if c.NArg() < 1 || c.NArg() > 2 {
		return exitErr(usageErr("get takes REMOTE [LOCAL]"))
	}
	remote, local := c.Args().Get(0), c.Args().Get(1)
	opts := transfer.GetOptions{Archive: c.Bool("archive"), Stdout: local == "-"}
	if opts.Stdout {
		local = ""
	}
	return withSession(c, session.Options{}, func(ctx context.Context, e *env, s *session.Session) error {
		r, err := e.renderer(c)
		if err != nil {
			return err
		}
		svc, err := e.transferService(ctx, s)
		if err != nil {
			return err
		}
		res, data, err := svc.Get(ctx, remote, local, opts)
		if err != nil {
			return err
		}
		if opts.Stdout {
			_, err = e.out.Write(data)
			return err
		}
		return r.Render(res)
	})
}

// RemoveCommand returns the rm command.
func RemoveCommand() *cli.Command {
	return &cli.Command{
		Name:      "rm",
		Usage:     "Delete a device file",
		ArgsUsage: "REMOTE",
		Flags:     OutputFlags(),
		Action:    removeAction,
	}
}

func removeAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return exitErr(usageErr("rm takes exactly one REMOTE name"))
	}
	name := c.Args().First()
	return withSession(c, session.Options{}, func(ctx context.Context, e *env, s *session.Session) error {
		r, err := e.renderer(c)
		if err != nil {
			return err
		}
		svc, err := e.transferService(ctx, s)
		if err != nil {
			return err
		}
		resp, err := svc.Remove(ctx, name)
		if err != nil {
			return err
		}
		if err := r.Render(resp); err != nil {
			return err
		}
		return refusal("rm "+name, resp)
	})
}

// ExecCommand returns the exec command.
func ExecCommand() *cli.Command {
	return &cli.Command{
		Name:      "exec",
		Usage:     "Run a device command and print its reply",
		ArgsUsage: "COMMAND...",
		Flags:     OutputFlags(),
		Action:    execAction,
	}
}

func execAction(c *cli.Context) error {
	command := joinArgs(c.Args().Slice())
	if command == "" {
		return exitErr(usageErr("exec needs a command"))
	}
	return withSession(c, session.Options{}, func(ctx context.Context, e *env, s *session.Session) error {
		r, err := e.renderer(c)
		if err != nil {
			return err
		}
		resp, err := s.Engine.ExecuteCommand(ctx, command)
		if err != nil {
			return err
		}
		if err := r.Render(resp); err != nil {
			return err
		}
		return refusal("exec", resp)
	})
}
