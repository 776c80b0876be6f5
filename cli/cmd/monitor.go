package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/ergochat/readline"
	"github.com/urfave/cli/v2"
	"golang.org/x/term"

	"github.com/pithecene-io/espterm/ansi"
	"github.com/pithecene-io/espterm/cli/render"
	"github.com/pithecene-io/espterm/cli/tui"
	"github.com/pithecene-io/espterm/session"
)

const statsInterval = 500 * time.Millisecond

// MonitorCommand returns the monitor command.
func MonitorCommand() *cli.Command {
	return &cli.Command{
		Name:  "monitor",
		Usage: "Stream device output (task monitor blocks go to stderr or the --tui pane)",
		Flags: []cli.Flag{
			NoColorFlag,
			TUIFlag,
			CaptureFlag,
		},
		Action: monitorAction,
	}
}

// ConsoleCommand returns the console command.
func ConsoleCommand() *cli.Command {
	return &cli.Command{
		Name:  "console",
		Usage: "Stream device output and send commands typed at a prompt",
		Flags: []cli.Flag{
			NoColorFlag,
			CaptureFlag,
			&cli.BoolFlag{
				Name:  "raw",
				Usage: "Send typed lines as-is instead of as device commands",
			},
		},
		Action: consoleAction,
	}
}

func useColor(c *cli.Context, out io.Writer) bool {
	return !c.Bool(NoColorFlag.Name) && render.IsTerminal(out)
}

// openCapture creates the --capture file. The session owns it afterwards.
func openCapture(c *cli.Context) (io.Writer, error) {
	path := c.String(CaptureFlag.Name)
	if path == "" {
		return nil, nil
	}
	f, err := os.Create(path) //nolint:gosec // user-chosen capture path
	if err != nil {
		return nil, usageErr("capture: %v", err)
	}
	return f, nil
}

// blockPrinter writes monitor blocks to w between rules.
type blockPrinter struct {
	lw *lineWriter
}

func (p blockPrinter) Block(lines []string) {
	p.lw.Consume("── task monitor ──")
	for _, l := range lines {
		p.lw.Consume(l)
	}
}

func (p blockPrinter) Clear() { p.lw.Consume("── task monitor cleared ──") }

func monitorAction(c *cli.Context) error {
	capture, err := openCapture(c)
	if err != nil {
		return exitErr(err)
	}
	if c.Bool(TUIFlag.Name) {
		return monitorTUI(c, capture)
	}

	e, err := newEnv(c)
	if err != nil {
		return exitErr(err)
	}
	defer e.close()
	ctx, stop := signalContext(c.Context)
	defer stop()

	mon, err := e.newMonitor(blockPrinter{lw: newLineWriter(e.errOut, "", nil)})
	if err != nil {
		return exitErr(err)
	}
	lr := ansi.NewLineRenderer(useColor(c, e.out))
	s, err := e.openSession(ctx, session.Options{
		Display: newLineWriter(e.out, "", lr.Render),
		Monitor: mon,
		Capture: capture,
	})
	if err != nil {
		return exitErr(err)
	}

	select {
	case <-ctx.Done():
	case <-s.Done():
	}
	return exitErr(finishStream(e, s))
}

// finishStream closes a streaming session and reports why it ended.
func finishStream(e *env, s *session.Session) error {
	cerr := s.Close()
	e.printStats(s)
	if err := s.Err(); err != nil {
		return err
	}
	return cerr
}

func monitorTUI(c *cli.Context, capture io.Writer) error {
	e, err := newEnv(c)
	if err != nil {
		return exitErr(err)
	}
	defer e.close()
	ctx, stop := signalContext(c.Context)
	defer stop()

	model := tui.NewMonitorModel("espterm "+e.port, !c.Bool(NoColorFlag.Name))
	p := tui.NewProgram(ctx, model)
	bridge := tui.NewBridge(p)

	mon, err := e.newMonitor(bridge)
	if err != nil {
		return exitErr(err)
	}
	s, err := e.openSession(ctx, session.Options{
		Display: bridge,
		Monitor: mon,
		Capture: capture,
	})
	if err != nil {
		return exitErr(err)
	}

	pollCtx, cancelPoll := context.WithCancel(ctx)
	defer cancelPoll()
	go bridge.PollStats(pollCtx, s.Metrics, statsInterval)
	go func() {
		select {
		case <-s.Done():
			bridge.LinkDown(s.Err())
		case <-pollCtx.Done():
		}
	}()

	_, runErr := p.Run()
	cancelPoll()
	if errors.Is(runErr, tea.ErrProgramKilled) || errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	err = finishStream(e, s)
	if runErr != nil {
		return exitErr(runErr)
	}
	return exitErr(err)
}

func consoleAction(c *cli.Context) error {
	capture, err := openCapture(c)
	if err != nil {
		return exitErr(err)
	}
	e, err := newEnv(c)
	if err != nil {
		return exitErr(err)
	}
	defer e.close()
	ctx, stop := signalContext(c.Context)
	defer stop()

	prompt, err := newPrompt(c, e)
	if err != nil {
		return exitErr(err)
	}
	defer prompt.close()

	mon, err := e.newMonitor(blockPrinter{lw: newLineWriter(prompt.out, "", nil)})
	if err != nil {
		return exitErr(err)
	}
	lr := ansi.NewLineRenderer(useColor(c, e.out))
	s, err := e.openSession(ctx, session.Options{
		Display: newLineWriter(prompt.out, "", lr.Render),
		Monitor: mon,
		Capture: capture,
	})
	if err != nil {
		return exitErr(err)
	}
	svc, err := e.transferService(ctx, s)
	if err != nil {
		return exitErr(err)
	}

	raw := c.Bool("raw")
	lines := prompt.lines(ctx)
	for {
		select {
		case <-ctx.Done():
			return exitErr(finishStream(e, s))
		case <-s.Done():
			return exitErr(finishStream(e, s))
		case line, ok := <-lines:
			if !ok {
				return exitErr(finishStream(e, s))
			}
			line = strings.TrimRight(line, "\r\n")
			if strings.TrimSpace(line) == "" {
				continue
			}
			if raw {
				if err := s.Send(line + "\n"); err != nil {
					return exitErr(errors.Join(err, finishStream(e, s)))
				}
				continue
			}
			resp, err := svc.Exec(ctx, line)
			switch {
			case err != nil:
				fmt.Fprintf(prompt.out, "error: %v\n", err)
			case resp.OK:
				fmt.Fprintf(prompt.out, "%s\n", resp.Payload)
			default:
				fmt.Fprintf(prompt.out, "refused: %s\n", resp.Payload)
			}
		}
	}
}

// prompt reads user lines. On a terminal it uses readline with history
// and device output is written through it so the prompt is redrawn;
// otherwise lines are scanned from the app's reader.
type prompt struct {
	rl  *readline.Instance
	in  io.Reader
	out io.Writer
}

const historyFile = ".espterm_history"

func newPrompt(c *cli.Context, e *env) (*prompt, error) {
	in := c.App.Reader
	if in == nil {
		in = os.Stdin
	}
	f, isFile := in.(*os.File)
	if !isFile || !term.IsTerminal(int(f.Fd())) {
		return &prompt{in: in, out: e.out}, nil
	}

	home, _ := os.UserHomeDir()
	rl, err := readline.NewFromConfig(&readline.Config{
		Prompt:       "espterm> ",
		HistoryFile:  filepath.Join(home, historyFile),
		HistoryLimit: 500,
	})
	if err != nil {
		e.logger.Warn("readline unavailable, using plain input", map[string]any{"error": err.Error()})
		return &prompt{in: in, out: e.out}, nil
	}
	return &prompt{rl: rl, out: rl}, nil
}

// lines delivers input lines until EOF, interrupt or ctx is done.
func (p *prompt) lines(ctx context.Context) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		next := p.scanner()
		for {
			line, ok := next()
			if !ok {
				return
			}
			select {
			case ch <- line:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

func (p *prompt) scanner() func() (string, bool) {
	if p.rl != nil {
		return func() (string, bool) {
			line, err := p.rl.Readline()
			return line, err == nil
		}
	}
	sc := bufio.NewScanner(p.in)
	return func() (string, bool) {
		if !sc.Scan() {
			return "", false
		}
		return sc.Text(), true
	}
}

func (p *prompt) close() {
	if p.rl != nil {
		_ = p.rl.Close()
	}
}
