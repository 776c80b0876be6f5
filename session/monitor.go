package session

import (
	"strings"
	"sync"

	"github.com/pithecene-io/espterm/stream"
	"github.com/pithecene-io/espterm/types"
)

// MonitorHandler receives complete monitor blocks.
type MonitorHandler interface {
	// Block is called with the lines of one finished block.
	Block(lines []string)
	// Clear is called when the device asks for the view to be cleared.
	Clear()
}

// Monitor groups monitor-context lines into blocks. It implements
// stream.SpanConsumer; the demux goroutine is its only writer.
type Monitor struct {
	mu       sync.Mutex
	handlers []MonitorHandler
	cur      []string
	last     []string
}

var _ stream.SpanConsumer = (*Monitor)(nil)

// NewMonitor returns a Monitor notifying handlers in order.
func NewMonitor(handlers ...MonitorHandler) *Monitor {
	return &Monitor{handlers: handlers}
}

// AddHandler registers another handler.
func (m *Monitor) AddHandler(h MonitorHandler) {
	m.mu.Lock()
	m.handlers = append(m.handlers, h)
	m.mu.Unlock()
}

// BeginSpan starts a block.
func (m *Monitor) BeginSpan() {
	m.mu.Lock()
	m.cur = nil
	m.mu.Unlock()
}

// Consume adds a line to the current block. The clear marker empties the
// block and is forwarded as Clear.
func (m *Monitor) Consume(line string) {
	m.mu.Lock()
	if strings.TrimSpace(line) == types.MonitorClear {
		m.cur = nil
		m.last = nil
		hs := m.handlers
		m.mu.Unlock()
		for _, h := range hs {
			h.Clear()
		}
		return
	}
	m.cur = append(m.cur, line)
	m.mu.Unlock()
}

// EndSpan finishes the block and hands it to the handlers.
func (m *Monitor) EndSpan() {
	m.mu.Lock()
	block := m.cur
	m.cur = nil
	m.last = block
	hs := m.handlers
	m.mu.Unlock()
	if len(block) == 0 {
		return
	}
	for _, h := range hs {
		h.Block(append([]string(nil), block...))
	}
}

// Last returns the most recent finished block.
func (m *Monitor) Last() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.last...)
}

// MonitorFuncs adapts functions to MonitorHandler. Nil fields are skipped.
type MonitorFuncs struct {
	OnBlock func(lines []string)
	OnClear func()
}

// Block calls OnBlock.
func (f MonitorFuncs) Block(lines []string) {
	if f.OnBlock != nil {
		f.OnBlock(lines)
	}
}

// Clear calls OnClear.
func (f MonitorFuncs) Clear() {
	if f.OnClear != nil {
		f.OnClear()
	}
}
