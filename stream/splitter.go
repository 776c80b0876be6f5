// Package stream routes tag-delimited spans of one fragmented text stream
// to independent consumers.
//
// A Context pairs a start tag and an end tag with a Consumer. Text outside
// any open context goes to the default Consumer. Consumers receive one
// logical line per call, without the line terminator.
package stream

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/pithecene-io/espterm/metrics"
)

// DefaultSinkName labels the default consumer in metrics.
const DefaultSinkName = "default"

// ErrTagCollision is returned when a context reuses a registered tag.
var ErrTagCollision = errors.New("tag already registered")

// Consumer receives routed lines.
type Consumer interface {
	Consume(line string)
}

// ConsumerFunc adapts a function to Consumer.
type ConsumerFunc func(line string)

// Consume calls f(line).
func (f ConsumerFunc) Consume(line string) { f(line) }

// SpanConsumer is a Consumer that also wants to know where each span of
// its context begins and ends.
type SpanConsumer interface {
	Consumer
	BeginSpan()
	EndSpan()
}

// Discard drops every line.
var Discard Consumer = ConsumerFunc(func(string) {})

// Context is a tag-delimited span routed to Sink.
type Context struct {
	Name     string
	StartTag string
	EndTag   string
	Sink     Consumer
}

// state is the splitter's routing state: idle or inContext.
type state interface {
	target(def *Context) *Context
}

type idle struct{}

func (idle) target(def *Context) *Context { return def }

type inContext struct {
	ctx *Context
}

func (s inContext) target(*Context) *Context { return s.ctx }

// Splitter is the synchronous routing core. It is not safe for concurrent
// use; Demux owns one from a single goroutine.
type Splitter struct {
	def        *Context
	contexts   []*Context
	endByStart map[string]string
	startByEnd map[string]string
	byStart    map[string]*Context

	buf   string
	state state

	metrics *metrics.Collector
}

// NewSplitter returns a Splitter routing untagged text to def.
func NewSplitter(def Consumer, m *metrics.Collector) *Splitter {
	if def == nil {
		def = Discard
	}
	return &Splitter{
		def:        &Context{Name: DefaultSinkName, Sink: def},
		endByStart: make(map[string]string),
		startByEnd: make(map[string]string),
		byStart:    make(map[string]*Context),
		state:      idle{},
		metrics:    m,
	}
}

// Register adds a context. Tags must be non-empty, must not contain a
// newline and must not collide with any registered start or end tag.
func (s *Splitter) Register(c Context) error {
	if c.StartTag == "" || c.EndTag == "" {
		return fmt.Errorf("register context %q: empty tag", c.Name)
	}
	if strings.ContainsAny(c.StartTag+c.EndTag, "\r\n") {
		return fmt.Errorf("register context %q: tag contains a line break", c.Name)
	}
	if c.StartTag == c.EndTag {
		return fmt.Errorf("register context %q: start and end tag are equal: %w", c.Name, ErrTagCollision)
	}
	for _, tag := range []string{c.StartTag, c.EndTag} {
		if _, ok := s.endByStart[tag]; ok {
			return fmt.Errorf("register context %q: %s: %w", c.Name, tag, ErrTagCollision)
		}
		if _, ok := s.startByEnd[tag]; ok {
			return fmt.Errorf("register context %q: %s: %w", c.Name, tag, ErrTagCollision)
		}
	}
	if c.Sink == nil {
		c.Sink = Discard
	}
	if c.Name == "" {
		c.Name = c.StartTag
	}
	ctx := &c
	s.contexts = append(s.contexts, ctx)
	s.endByStart[c.StartTag] = c.EndTag
	s.startByEnd[c.EndTag] = c.StartTag
	s.byStart[c.StartTag] = ctx
	return nil
}

// Open returns the name of the open context, or "" when idle.
func (s *Splitter) Open() string {
	switch st := s.state.(type) {
	case inContext:
		return st.ctx.Name
	case idle:
		return ""
	default:
		panic(fmt.Sprintf("stream: unknown state %T", st))
	}
}

// Buffered returns the text not yet routed.
func (s *Splitter) Buffered() string { return s.buf }

// Write appends text and routes everything that can be routed.
func (s *Splitter) Write(text string) {
	if text == "" {
		return
	}
	s.buf += text
	for s.step() {
	}
}

// FlushPartial forwards the trailing partial line to the current target.
// A suffix that could still grow into a tag is kept back. It reports
// whether anything was forwarded.
func (s *Splitter) FlushPartial() bool {
	keep := s.tagPrefixSuffix()
	piece := s.buf[:len(s.buf)-keep]
	if piece == "" {
		return false
	}
	s.buf = s.buf[len(piece):]
	return s.emit(s.state.target(s.def), piece)
}

// step runs one routing pass and reports whether it made progress.
func (s *Splitter) step() bool {
	switch st := s.state.(type) {
	case idle:
		pos, tag, isStart := s.earliestTag()
		switch {
		case pos < 0:
			s.flushLines(s.def)
			return false
		case isStart:
			s.emitPieces(s.def, s.buf[:pos])
			s.buf = s.buf[pos+len(tag):]
			ctx := s.byStart[tag]
			s.state = inContext{ctx: ctx}
			if sc, ok := ctx.Sink.(SpanConsumer); ok {
				sc.BeginSpan()
			}
			return true
		default:
			// end tag with no open context: keep complete lines, drop the
			// partial piece on the tag's line along with the tag
			before := s.buf[:pos]
			if nl := strings.LastIndexByte(before, '\n'); nl >= 0 {
				s.emitPieces(s.def, before[:nl])
			}
			s.buf = s.buf[pos+len(tag):]
			s.metrics.IncStaleTags()
			return true
		}
	case inContext:
		pos := strings.Index(s.buf, st.ctx.EndTag)
		if pos < 0 {
			s.flushLines(st.ctx)
			return false
		}
		s.emitPieces(st.ctx, s.buf[:pos])
		s.buf = s.buf[pos+len(st.ctx.EndTag):]
		s.state = idle{}
		if sc, ok := st.ctx.Sink.(SpanConsumer); ok {
			sc.EndSpan()
		}
		return true
	default:
		panic(fmt.Sprintf("stream: unknown state %T", st))
	}
}

// earliestTag finds the first start or end tag in the buffer. Ties go to
// the longer tag.
func (s *Splitter) earliestTag() (pos int, tag string, isStart bool) {
	pos = -1
	consider := func(t string, start bool) {
		i := strings.Index(s.buf, t)
		if i < 0 {
			return
		}
		if pos < 0 || i < pos || (i == pos && len(t) > len(tag)) {
			pos, tag, isStart = i, t, start
		}
	}
	for _, c := range s.contexts {
		consider(c.StartTag, true)
		consider(c.EndTag, false)
	}
	return pos, tag, isStart
}

// flushLines forwards every complete line and keeps the trailing partial.
func (s *Splitter) flushLines(to *Context) {
	nl := strings.LastIndexByte(s.buf, '\n')
	if nl < 0 {
		return
	}
	s.emitPieces(to, s.buf[:nl])
	s.buf = s.buf[nl+1:]
}

// emitPieces forwards each newline-separated piece of text.
func (s *Splitter) emitPieces(to *Context, text string) {
	for piece := range strings.SplitSeq(text, "\n") {
		s.emit(to, piece)
	}
}

func (s *Splitter) emit(to *Context, piece string) bool {
	piece = strings.TrimSuffix(piece, "\r")
	if !hasAlnum(piece) {
		return false
	}
	to.Sink.Consume(piece)
	s.metrics.IncLines(to.Name)
	return true
}

// tagPrefixSuffix returns the length of the longest buffer suffix that is a
// proper prefix of a tag relevant in the current state.
func (s *Splitter) tagPrefixSuffix() int {
	var tags []string
	switch st := s.state.(type) {
	case idle:
		for _, c := range s.contexts {
			tags = append(tags, c.StartTag, c.EndTag)
		}
	case inContext:
		tags = []string{st.ctx.EndTag}
	default:
		panic(fmt.Sprintf("stream: unknown state %T", st))
	}
	best := 0
	for _, t := range tags {
		for n := min(len(t)-1, len(s.buf)); n > best; n-- {
			if strings.HasSuffix(s.buf, t[:n]) {
				best = n
				break
			}
		}
	}
	return best
}

func hasAlnum(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
