package ansi

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	esc = '\x1b'

	// maxEscapeLen bounds how long an unterminated CSI sequence may be
	// carried before it is dropped as garbage.
	maxEscapeLen = 64
)

// EditKind identifies a buffer edit.
type EditKind int

const (
	EditBackspace EditKind = iota
	EditCarriageReturn
	EditClearToEnd
	EditClearToStart
	EditClearLine
)

func (k EditKind) String() string {
	switch k {
	case EditBackspace:
		return "backspace"
	case EditCarriageReturn:
		return "carriage_return"
	case EditClearToEnd:
		return "clear_to_end"
	case EditClearToStart:
		return "clear_to_start"
	case EditClearLine:
		return "clear_line"
	default:
		return "unknown"
	}
}

// Edit modifies content already in the target buffer.
// At is the number of segments of the same Result that precede the edit.
type Edit struct {
	Kind EditKind
	At   int
}

// Segment is a run of text rendered with one style.
type Segment struct {
	Text  string
	Style Style
}

// Result is the output of one Interpret call.
type Result struct {
	Segments []Segment
	Edits    []Edit
}

// Text concatenates every segment's text.
func (r Result) Text() string {
	var b strings.Builder
	for _, s := range r.Segments {
		b.WriteString(s.Text)
	}
	return b.String()
}

// Empty reports whether r carries nothing to apply.
func (r Result) Empty() bool { return len(r.Segments) == 0 && len(r.Edits) == 0 }

var literalSGR = regexp.MustCompile(`\\(?:x1[bB]|033|u001[bB]|e)(\[[0-9;]*m)`)

var literalIntros = []string{`\x1b[`, `\x1B[`, `\033[`, `\u001b[`, `\u001B[`, `\e[`}

// NormalizeLiteralEscapes rewrites backslash-escaped SGR sequences such as
// `\x1b[31m` into real escape sequences.
func NormalizeLiteralEscapes(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	return literalSGR.ReplaceAllString(s, "\x1b${1}")
}

// Interpreter converts text into segments and edits, carrying the active
// style and any incomplete escape sequence between calls. An Interpreter is
// not safe for concurrent use.
type Interpreter struct {
	style   Style
	pending string
}

// NewInterpreter returns an Interpreter with the empty style.
func NewInterpreter() *Interpreter {
	return &Interpreter{}
}

// Style returns the style that applies to the next call.
func (in *Interpreter) Style() Style { return in.style }

// Pending returns the carried, not yet interpreted tail.
func (in *Interpreter) Pending() string { return in.pending }

// Reset clears the style and any carried tail.
func (in *Interpreter) Reset() {
	in.style = Style{}
	in.pending = ""
}

// Interpret processes text. A trailing incomplete escape sequence is held
// back and completed by the next call.
func (in *Interpreter) Interpret(text string) Result {
	return in.interpret(in.pending+text, false)
}

// Flush interprets whatever tail is still held. Incomplete real escape
// sequences are discarded.
func (in *Interpreter) Flush() Result {
	return in.interpret(in.pending, true)
}

func (in *Interpreter) interpret(text string, final bool) Result {
	in.pending = ""
	text = NormalizeLiteralEscapes(text)
	var tail string
	if !final {
		if k := literalTail(text); k < len(text) {
			tail = text[k:]
			text = text[:k]
		}
	}
	defer func() { in.pending += tail }()

	var (
		res Result
		cur strings.Builder
	)
	flush := func() {
		if cur.Len() == 0 {
			return
		}
		res.Segments = append(res.Segments, Segment{Text: cur.String(), Style: in.style})
		cur.Reset()
	}
	edit := func(k EditKind) {
		flush()
		res.Edits = append(res.Edits, Edit{Kind: k, At: len(res.Segments)})
	}

	for i := 0; i < len(text); {
		c := text[i]
		switch c {
		case esc:
			seq, ok := scanEscape(text[i:])
			if !ok {
				if !final {
					in.pending = text[i:]
				}
				i = len(text)
				continue
			}
			switch {
			case seq.csi && seq.final == 'm' && isSGRParams(seq.params):
				if next := in.style.ApplySGR(seq.params); next != in.style {
					flush()
					in.style = next
				}
			case seq.csi && seq.final == 'K':
				switch seq.params {
				case "", "0":
					edit(EditClearToEnd)
				case "1":
					edit(EditClearToStart)
				case "2":
					edit(EditClearLine)
				}
			}
			i += seq.n
		case '\b':
			edit(EditBackspace)
			i++
		case '\r':
			switch {
			case i+1 < len(text) && text[i+1] == '\n':
				// CRLF, the newline ends the line
			case i+1 == len(text) && !final:
				in.pending = "\r"
			default:
				edit(EditCarriageReturn)
			}
			i++
		case '\n', '\t':
			cur.WriteByte(c)
			i++
		default:
			r, size := utf8.DecodeRuneInString(text[i:])
			if printable(r) {
				cur.WriteString(text[i : i+size])
			}
			i += size
		}
	}
	flush()
	return res
}

// printable keeps ASCII graphic characters and everything above C1.
func printable(r rune) bool {
	return (r >= 32 && r <= 126) || r > 159
}

func isSGRParams(p string) bool {
	for i := 0; i < len(p); i++ {
		if (p[i] < '0' || p[i] > '9') && p[i] != ';' {
			return false
		}
	}
	return true
}

type escapeSeq struct {
	n      int
	csi    bool
	final  byte
	params string
}

// scanEscape measures the escape sequence at the start of s. ok is false
// when s ends before the sequence does.
func scanEscape(s string) (escapeSeq, bool) {
	if len(s) < 2 {
		return escapeSeq{}, false
	}
	switch {
	case s[1] == ']':
		return scanOSC(s)
	case s[1] >= 0x20 && s[1] <= 0x2f:
		// nF escape such as a charset designation: ESC ( B
		j := 1
		for j < len(s) && s[j] >= 0x20 && s[j] <= 0x2f {
			j++
		}
		if j == len(s) {
			return escapeSeq{}, false
		}
		return escapeSeq{n: j + 1, final: s[j]}, true
	case s[1] != '[':
		return escapeSeq{n: 2, final: s[1]}, true
	}
	j := 2
	for j < len(s) && s[j] >= 0x30 && s[j] <= 0x3f {
		j++
	}
	paramEnd := j
	for j < len(s) && s[j] >= 0x20 && s[j] <= 0x2f {
		j++
	}
	if j == len(s) {
		if j > maxEscapeLen {
			return escapeSeq{n: j, csi: true}, true
		}
		return escapeSeq{}, false
	}
	if s[j] >= 0x40 && s[j] <= 0x7e {
		return escapeSeq{n: j + 1, csi: true, final: s[j], params: s[2:paramEnd]}, true
	}
	// malformed: drop the introducer and parameters, resume at the bad byte
	return escapeSeq{n: j, csi: true}, true
}

// scanOSC measures an operating system command, terminated by BEL or ESC \.
func scanOSC(s string) (escapeSeq, bool) {
	for j := 2; j < len(s); j++ {
		switch {
		case s[j] == '\a':
			return escapeSeq{n: j + 1, final: ']'}, true
		case s[j] == esc && j+1 < len(s) && s[j+1] == '\\':
			return escapeSeq{n: j + 2, final: ']'}, true
		}
	}
	if len(s) > 4*maxEscapeLen {
		return escapeSeq{n: len(s), final: ']'}, true
	}
	return escapeSeq{}, false
}

// literalTail returns where a trailing, still incomplete backslash-escaped
// SGR sequence starts, or len(s).
func literalTail(s string) int {
	const window = 24
	start := max(0, len(s)-window)
	k := strings.LastIndexByte(s[start:], '\\')
	if k < 0 {
		return len(s)
	}
	k += start
	cand := s[k:]
	for _, intro := range literalIntros {
		if len(cand) <= len(intro) {
			if strings.HasPrefix(intro, cand) {
				return k
			}
			continue
		}
		if strings.HasPrefix(cand, intro) && isSGRParams(cand[len(intro):]) {
			return k
		}
	}
	return len(s)
}
