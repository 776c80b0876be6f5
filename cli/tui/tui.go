package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/pithecene-io/espterm/metrics"
)

// Sender delivers messages to a running program. *tea.Program satisfies it.
type Sender interface {
	Send(msg tea.Msg)
}

// Bridge forwards session output to a program. It satisfies
// stream.Consumer and session.MonitorHandler.
type Bridge struct {
	s Sender
}

// NewBridge returns a Bridge sending to s.
func NewBridge(s Sender) *Bridge { return &Bridge{s: s} }

// Consume forwards a display line.
func (b *Bridge) Consume(line string) { b.s.Send(LineMsg{Line: line}) }

// Block forwards a task monitor block.
func (b *Bridge) Block(lines []string) { b.s.Send(BlockMsg{Lines: lines}) }

// Clear forwards a monitor clear.
func (b *Bridge) Clear() { b.s.Send(ClearMsg{}) }

// LinkDown reports that the link stopped.
func (b *Bridge) LinkDown(err error) { b.s.Send(LinkDownMsg{Err: err}) }

// PollStats sends a snapshot of c every interval until ctx is done.
func (b *Bridge) PollStats(ctx context.Context, c *metrics.Collector, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			b.s.Send(StatsMsg{Snapshot: c.Snapshot()})
		}
	}
}

// NewProgram returns a full-screen program for m bound to ctx.
func NewProgram(ctx context.Context, m *MonitorModel) *tea.Program {
	return tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx), tea.WithMouseCellMotion())
}
