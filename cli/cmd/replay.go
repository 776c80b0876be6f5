package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/espterm/ansi"
	"github.com/pithecene-io/espterm/capture"
	"github.com/pithecene-io/espterm/session"
	"github.com/pithecene-io/espterm/stream"
	"github.com/pithecene-io/espterm/types"
)

// ReplayCommand returns the replay command.
func ReplayCommand() *cli.Command {
	return &cli.Command{
		Name:      "replay",
		Usage:     "Play back a session capture through the same routing as a live device",
		ArgsUsage: "FILE",
		Flags: []cli.Flag{
			NoColorFlag,
			&cli.Float64Flag{
				Name:  "speed",
				Usage: "Playback speed relative to the recording; 0 replays instantly",
			},
			&cli.BoolFlag{
				Name:  "tx",
				Usage: "Also show what the host sent, prefixed with >>",
			},
		},
		Action: replayAction,
	}
}

func replayAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return exitErr(usageErr("replay takes exactly one FILE"))
	}
	e, err := newEnv(c)
	if err != nil {
		return exitErr(err)
	}
	defer e.close()
	ctx, stop := signalContext(c.Context)
	defer stop()

	f, err := os.Open(c.Args().First())
	if err != nil {
		return exitErr(err)
	}
	defer func() { _ = f.Close() }()

	r, err := capture.NewReader(f)
	if err != nil {
		return exitErr(usageErr("%v", err))
	}
	h := r.Header()
	e.logger.Info("replay started", map[string]any{
		"capture_session": h.SessionID,
		"capture_port":    h.Port,
		"baud":            h.Baud,
	})

	lr := ansi.NewLineRenderer(useColor(c, e.out))
	display := newLineWriter(e.out, "", lr.Render)
	demux := stream.NewDemux(display, stream.Config{IdleFlush: -1})
	mon := session.NewMonitor(blockPrinter{lw: newLineWriter(e.errOut, "", nil)})
	if err := demux.Register(stream.Context{
		Name:     session.MonitorContext,
		StartTag: types.MonitorStartTag,
		EndTag:   types.MonitorEndTag,
		Sink:     mon,
	}); err != nil {
		return exitErr(err)
	}
	for _, cc := range e.contexts {
		if err := demux.Register(stream.Context{
			Name:     cc.Name,
			StartTag: cc.StartTag,
			EndTag:   cc.EndTag,
			Sink:     newLineWriter(e.errOut, "["+cc.Name+"] ", nil),
		}); err != nil {
			return exitErr(usageErr("%v", err))
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		demux.Run(runCtx)
	}()

	opts := capture.ReplayOptions{Speed: c.Float64("speed")}
	if c.Bool("tx") {
		opts.OnTX = func(p []byte) {
			// Keep host lines in order with device output.
			_ = demux.Sync(ctx)
			display.Consume(">> " + strings.TrimRight(string(p), "\r\n"))
		}
	}
	stats, rerr := capture.Replay(ctx, r, demux, opts)

	flushCtx, cancelFlush := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	_ = demux.Flush(flushCtx)
	cancelFlush()
	cancel()
	<-done

	e.logger.Info("replay finished", map[string]any{
		"rx_frames": stats.RXFrames,
		"tx_frames": stats.TXFrames,
		"rx_bytes":  stats.RXBytes,
		"truncated": stats.Truncated,
	})
	if stats.Truncated {
		fmt.Fprintln(e.errOut, "warning: capture ends with a truncated frame")
	}
	if rerr != nil && ctx.Err() == nil {
		return exitErr(rerr)
	}
	return nil
}
