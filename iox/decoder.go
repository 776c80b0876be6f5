package iox

import (
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// Decoder converts arbitrarily fragmented bytes into valid UTF-8 text.
//
// A multibyte sequence split across two Decode calls is held back until it
// completes. Ill-formed bytes are replaced with U+FFFD. A Decoder is not
// safe for concurrent use.
type Decoder struct {
	pending []byte
	t       transform.Transformer
}

// NewDecoder returns a Decoder with an empty carry buffer.
func NewDecoder() *Decoder {
	return &Decoder{t: runes.ReplaceIllFormed()}
}

// Decode returns the text for p plus any bytes carried from the previous call.
func (d *Decoder) Decode(p []byte) string {
	if len(p) == 0 {
		return ""
	}
	buf := append(d.pending, p...)
	cut := incompleteTail(buf)
	d.pending = append([]byte(nil), buf[cut:]...)
	return d.convert(buf[:cut])
}

// Flush returns the carried bytes (replaced as ill-formed) and resets the decoder.
func (d *Decoder) Flush() string {
	if len(d.pending) == 0 {
		return ""
	}
	out := d.convert(d.pending)
	d.pending = nil
	return out
}

// Pending reports how many bytes are carried over.
func (d *Decoder) Pending() int { return len(d.pending) }

func (d *Decoder) convert(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	if utf8.Valid(b) {
		return string(b)
	}
	d.t.Reset()
	out, _, err := transform.Bytes(d.t, b)
	if err != nil {
		return string(b)
	}
	return string(out)
}

// incompleteTail returns the index where a trailing, possibly valid but
// incomplete multibyte sequence starts, or len(b) if there is none.
func incompleteTail(b []byte) int {
	n := len(b)
	// a UTF-8 sequence is at most 4 bytes; look back at most 3
	for i := 1; i <= 3 && i <= n; i++ {
		c := b[n-i]
		if c < utf8.RuneSelf {
			return n
		}
		if utf8.RuneStart(c) {
			if !utf8.FullRune(b[n-i:]) {
				return n - i
			}
			return n
		}
	}
	return n
}

// DecodeString converts a complete byte slice, replacing ill-formed input.
func DecodeString(b []byte) string {
	return NewDecoder().convert(b)
}
