// Package ansi interprets ANSI escape sequences and terminal control
// characters in decoded device output.
//
// Interpret turns text into style-tagged Segments plus Edits that modify
// content already written to a target buffer. Styles are immutable values;
// every SGR update produces a new Style.
package ansi

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Attr is a bitmask of text attributes.
type Attr uint8

const (
	AttrBold Attr = 1 << iota
	AttrDim
	AttrItalic
	AttrUnderline
	AttrBlink
	AttrReverse
	AttrHidden
	AttrStrike
)

var attrNames = []struct {
	attr Attr
	name string
}{
	{AttrBold, "bold"},
	{AttrDim, "dim"},
	{AttrItalic, "italic"},
	{AttrUnderline, "underline"},
	{AttrBlink, "blink"},
	{AttrReverse, "reverse"},
	{AttrHidden, "hidden"},
	{AttrStrike, "strike"},
}

// Palette is the 16-colour palette used for fg_<n> and bg_<n>.
var Palette = [16]string{
	"#000000", "#CD0000", "#00CD00", "#CDCD00", "#0000EE", "#CD00CD", "#00CDCD", "#E5E5E5",
	"#7F7F7F", "#FF0000", "#00FF00", "#FFFF00", "#5C5CFF", "#FF00FF", "#00FFFF", "#FFFFFF",
}

// Style is the active text style. The zero value is the empty style.
type Style struct {
	attrs Attr
	fg    uint8
	bg    uint8
	hasFG bool
	hasBG bool
}

// With returns s with a added.
func (s Style) With(a Attr) Style {
	s.attrs |= a
	return s
}

// Without returns s with a removed.
func (s Style) Without(a Attr) Style {
	s.attrs &^= a
	return s
}

// Has reports whether every attribute in a is set.
func (s Style) Has(a Attr) bool { return s.attrs&a == a }

// WithFG returns s with foreground palette index n, replacing any previous one.
func (s Style) WithFG(n int) Style {
	s.fg, s.hasFG = uint8(n&0x0f), true
	return s
}

// WithBG returns s with background palette index n, replacing any previous one.
func (s Style) WithBG(n int) Style {
	s.bg, s.hasBG = uint8(n&0x0f), true
	return s
}

// ClearFG returns s without a foreground colour.
func (s Style) ClearFG() Style {
	s.fg, s.hasFG = 0, false
	return s
}

// ClearBG returns s without a background colour.
func (s Style) ClearBG() Style {
	s.bg, s.hasBG = 0, false
	return s
}

// FG returns the foreground palette index, if any.
func (s Style) FG() (int, bool) { return int(s.fg), s.hasFG }

// BG returns the background palette index, if any.
func (s Style) BG() (int, bool) { return int(s.bg), s.hasBG }

// IsZero reports whether s carries no attributes or colours.
func (s Style) IsZero() bool { return s == Style{} }

// Tags returns the symbolic tag names of s in a stable order.
func (s Style) Tags() []string {
	var tags []string
	for _, an := range attrNames {
		if s.attrs&an.attr != 0 {
			tags = append(tags, an.name)
		}
	}
	if s.hasFG {
		tags = append(tags, "fg_"+strconv.Itoa(int(s.fg)))
	}
	if s.hasBG {
		tags = append(tags, "bg_"+strconv.Itoa(int(s.bg)))
	}
	return tags
}

func (s Style) String() string {
	if s.IsZero() {
		return "plain"
	}
	return strings.Join(s.Tags(), ",")
}

// ApplySGR returns the style resulting from an SGR parameter string such as
// "1;31". Unknown codes are ignored.
func (s Style) ApplySGR(params string) Style {
	if params == "" {
		return Style{}
	}
	parts := strings.Split(params, ";")
	for i := 0; i < len(parts); i++ {
		code, err := strconv.Atoi(parts[i])
		if parts[i] == "" {
			code, err = 0, nil
		}
		if err != nil {
			continue
		}
		switch {
		case code == 0:
			s = Style{}
		case code >= 1 && code <= 9 && code != 6:
			s = s.With(sgrAttr(code))
		case code == 22:
			s = s.Without(AttrBold | AttrDim)
		case code >= 23 && code <= 29 && code != 26:
			s = s.Without(sgrAttr(code - 20))
		case code >= 30 && code <= 37:
			s = s.WithFG(code - 30)
		case code == 39:
			s = s.ClearFG()
		case code >= 40 && code <= 47:
			s = s.WithBG(code - 40)
		case code == 49:
			s = s.ClearBG()
		case code >= 90 && code <= 97:
			s = s.WithFG(code - 90 + 8)
		case code >= 100 && code <= 107:
			s = s.WithBG(code - 100 + 8)
		case code == 38 || code == 48:
			n, skip := extendedColor(parts[i+1:])
			i += skip
			if n >= 0 && code == 38 {
				s = s.WithFG(n)
			} else if n >= 0 {
				s = s.WithBG(n)
			}
		}
	}
	return s
}

func sgrAttr(code int) Attr {
	switch code {
	case 1:
		return AttrBold
	case 2:
		return AttrDim
	case 3:
		return AttrItalic
	case 4:
		return AttrUnderline
	case 5:
		return AttrBlink
	case 7:
		return AttrReverse
	case 8:
		return AttrHidden
	case 9:
		return AttrStrike
	}
	return 0
}

// extendedColor parses the parameters following 38 or 48. It returns a
// palette index (or -1) and how many parameters were consumed.
func extendedColor(rest []string) (int, int) {
	if len(rest) == 0 {
		return -1, 0
	}
	switch rest[0] {
	case "5":
		if len(rest) < 2 {
			return -1, len(rest)
		}
		n, err := strconv.Atoi(rest[1])
		if err != nil || n < 0 || n >= len(Palette) {
			return -1, 2
		}
		return n, 2
	case "2":
		return -1, min(4, len(rest))
	default:
		return -1, 1
	}
}

// Lipgloss converts s into a lipgloss style for terminal rendering.
func (s Style) Lipgloss() lipgloss.Style {
	ls := lipgloss.NewStyle().TabWidth(lipgloss.NoTabConversion)
	if s.Has(AttrBold) {
		ls = ls.Bold(true)
	}
	if s.Has(AttrDim) {
		ls = ls.Faint(true)
	}
	if s.Has(AttrItalic) {
		ls = ls.Italic(true)
	}
	if s.Has(AttrUnderline) {
		ls = ls.Underline(true)
	}
	if s.Has(AttrBlink) {
		ls = ls.Blink(true)
	}
	if s.Has(AttrReverse) {
		ls = ls.Reverse(true)
	}
	if s.Has(AttrStrike) {
		ls = ls.Strikethrough(true)
	}
	if n, ok := s.FG(); ok {
		ls = ls.Foreground(lipgloss.Color(Palette[n]))
	}
	if n, ok := s.BG(); ok {
		ls = ls.Background(lipgloss.Color(Palette[n]))
	}
	return ls
}

// Render styles text for a terminal. Hidden text renders as blanks.
func (s Style) Render(text string) string {
	if s.Has(AttrHidden) {
		text = blank(text)
	}
	if s.IsZero() {
		return text
	}
	return s.Lipgloss().Render(text)
}

func blank(text string) string {
	var b strings.Builder
	for _, r := range text {
		if r == '\n' || r == '\t' {
			b.WriteRune(r)
			continue
		}
		b.WriteByte(' ')
	}
	return b.String()
}
