package ansi

import (
	"strings"
	"unicode/utf8"
)

// Buffer is a target buffer for interpreted output. The cursor is always at
// the end, so edits act on the last line. A Buffer is not safe for
// concurrent use.
type Buffer struct {
	runs     []Segment
	maxLines int
}

// NewBuffer returns a Buffer keeping at most maxLines complete lines.
// maxLines <= 0 keeps everything.
func NewBuffer(maxLines int) *Buffer {
	return &Buffer{maxLines: maxLines}
}

// Apply writes segments and performs edits in their recorded order.
func (b *Buffer) Apply(r Result) {
	e := 0
	for i, seg := range r.Segments {
		for ; e < len(r.Edits) && r.Edits[e].At <= i; e++ {
			b.edit(r.Edits[e].Kind)
		}
		b.Write(seg.Text, seg.Style)
	}
	for ; e < len(r.Edits); e++ {
		b.edit(r.Edits[e].Kind)
	}
	b.trim()
}

func (b *Buffer) edit(k EditKind) {
	switch k {
	case EditBackspace:
		b.Backspace()
	case EditCarriageReturn, EditClearLine, EditClearToStart:
		b.ClearLine()
	case EditClearToEnd:
		// cursor is at the end of the line
	}
}

// Write appends text in style st.
func (b *Buffer) Write(text string, st Style) {
	if text == "" {
		return
	}
	if n := len(b.runs); n > 0 && b.runs[n-1].Style == st {
		b.runs[n-1].Text += text
		return
	}
	b.runs = append(b.runs, Segment{Text: text, Style: st})
}

// Backspace removes the last character of the current line.
func (b *Buffer) Backspace() {
	n := len(b.runs)
	if n == 0 {
		return
	}
	last := b.runs[n-1].Text
	r, size := utf8.DecodeLastRuneInString(last)
	if r == '\n' {
		return
	}
	last = last[:len(last)-size]
	if last == "" {
		b.runs = b.runs[:n-1]
		return
	}
	b.runs[n-1].Text = last
}

// ClearLine removes everything after the last newline.
func (b *Buffer) ClearLine() {
	for n := len(b.runs); n > 0; n = len(b.runs) {
		text := b.runs[n-1].Text
		if i := strings.LastIndexByte(text, '\n'); i >= 0 {
			b.runs[n-1].Text = text[:i+1]
			return
		}
		b.runs = b.runs[:n-1]
	}
}

// Clear empties the buffer.
func (b *Buffer) Clear() {
	b.runs = nil
}

// Segments returns a copy of the buffered runs.
func (b *Buffer) Segments() []Segment {
	out := make([]Segment, len(b.runs))
	copy(out, b.runs)
	return out
}

// Plain returns the buffered text without styling.
func (b *Buffer) Plain() string {
	var sb strings.Builder
	for _, r := range b.runs {
		sb.WriteString(r.Text)
	}
	return sb.String()
}

// Render returns the buffered text styled for a terminal.
func (b *Buffer) Render() string {
	var sb strings.Builder
	for _, r := range b.runs {
		sb.WriteString(r.Style.Render(r.Text))
	}
	return sb.String()
}

func (b *Buffer) trim() {
	if b.maxLines <= 0 {
		return
	}
	lines := 0
	for _, r := range b.runs {
		lines += strings.Count(r.Text, "\n")
	}
	for drop := lines - b.maxLines; drop > 0 && len(b.runs) > 0; {
		text := b.runs[0].Text
		i := strings.IndexByte(text, '\n')
		if i < 0 {
			b.runs = b.runs[1:]
			continue
		}
		if rest := text[i+1:]; rest != "" {
			b.runs[0].Text = rest
		} else {
			b.runs = b.runs[1:]
		}
		drop--
	}
}

// LineRenderer renders one logical line at a time. Style carries over
// between lines; edits resolve within the line they arrive in.
type LineRenderer struct {
	in    *Interpreter
	color bool
}

// NewLineRenderer returns a LineRenderer. With color false, output is plain.
func NewLineRenderer(color bool) *LineRenderer {
	return &LineRenderer{in: NewInterpreter(), color: color}
}

// Render interprets line and returns its final rendered form.
func (lr *LineRenderer) Render(line string) string {
	buf := NewBuffer(0)
	buf.Apply(lr.in.Interpret(line))
	buf.Apply(lr.in.Flush())
	if lr.color {
		return buf.Render()
	}
	return buf.Plain()
}
