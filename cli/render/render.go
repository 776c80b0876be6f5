// Package render formats command results for the espterm CLI.
//
// Format selection:
//   - --format always wins; invalid formats are errors
//   - otherwise a terminal gets a table and anything else gets json
//
// --no-color only affects the table header.
package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

// Format represents an output format.
type Format string

// Supported formats.
const (
	FormatJSON  Format = "json"
	FormatTable Format = "table"
	FormatYAML  Format = "yaml"
)

// ParseFormat parses a format string, returning an error for invalid formats.
// The empty string is accepted and means "choose by terminal".
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatJSON, FormatTable, FormatYAML, "":
		return f, nil
	default:
		return "", fmt.Errorf("invalid format: %q (must be json, table, or yaml)", s)
	}
}

var headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))

// Renderer writes values in one format.
type Renderer struct {
	format  Format
	noColor bool
	out     io.Writer
}

// New creates a renderer for out. An empty format picks table for a
// terminal and json otherwise.
func New(format string, noColor bool, out io.Writer) (*Renderer, error) {
	f, err := ParseFormat(format)
	if err != nil {
		return nil, err
	}
	if f == "" {
		f = FormatJSON
		if IsTerminal(out) {
			f = FormatTable
		}
	}
	return &Renderer{format: f, noColor: noColor, out: out}, nil
}

// Format returns the selected format.
func (r *Renderer) Format() Format { return r.format }

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Render outputs the data in the configured format.
func (r *Renderer) Render(data any) error {
	switch r.format {
	case FormatJSON:
		enc := json.NewEncoder(r.out)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case FormatYAML:
		enc := yaml.NewEncoder(r.out)
		enc.SetIndent(2)
		if err := enc.Encode(data); err != nil {
			return err
		}
		return enc.Close()
	case FormatTable:
		return r.renderTable(data)
	default:
		return fmt.Errorf("unknown format: %s", r.format)
	}
}

func (r *Renderer) renderTable(data any) error {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	v := indirect(reflect.ValueOf(data))
	header := false
	switch {
	case !v.IsValid():
		fmt.Fprintln(w, "(no results)")
	case v.Kind() == reflect.Slice || v.Kind() == reflect.Array:
		if v.Len() == 0 {
			fmt.Fprintln(w, "(no results)")
			break
		}
		cols := columns(indirect(v.Index(0)))
		fmt.Fprintln(w, strings.ToUpper(strings.Join(names(cols), "\t")))
		header = true
		for i := range v.Len() {
			fmt.Fprintln(w, strings.Join(row(indirect(v.Index(i)), cols), "\t"))
		}
	case v.Kind() == reflect.Struct:
		for _, c := range columns(v) {
			fmt.Fprintf(w, "%s:\t%s\n", c.name, formatValue(v.FieldByIndex(c.index)))
		}
	case v.Kind() == reflect.Map:
		keys := v.MapKeys()
		sort.Slice(keys, func(i, j int) bool { return fmt.Sprint(keys[i]) < fmt.Sprint(keys[j]) })
		for _, k := range keys {
			fmt.Fprintf(w, "%v:\t%s\n", k.Interface(), formatValue(v.MapIndex(k)))
		}
	default:
		fmt.Fprintf(w, "%s\n", formatValue(v))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	out := buf.String()
	if header && !r.noColor {
		first, rest, _ := strings.Cut(out, "\n")
		out = headerStyle.Render(first) + "\n" + rest
	}
	_, err := io.WriteString(r.out, out)
	return err
}

type column struct {
	name  string
	index []int
}

func columns(v reflect.Value) []column {
	if v.Kind() != reflect.Struct {
		return []column{{name: "value"}}
	}
	t := v.Type()
	var cols []column
	for i := range t.NumField() {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name := fieldName(f)
		if name == "-" {
			continue
		}
		cols = append(cols, column{name: name, index: f.Index})
	}
	return cols
}

func names(cols []column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.name
	}
	return out
}

func row(v reflect.Value, cols []column) []string {
	if v.Kind() != reflect.Struct {
		return []string{formatValue(v)}
	}
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = formatValue(v.FieldByIndex(c.index))
	}
	return out
}

func fieldName(f reflect.StructField) string {
	if tag := f.Tag.Get("json"); tag != "" {
		name, _, _ := strings.Cut(tag, ",")
		if name != "" {
			return name
		}
	}
	return strings.ToLower(f.Name)
}

func indirect(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

func formatValue(v reflect.Value) string {
	v = indirect(v)
	if !v.IsValid() {
		return ""
	}
	switch x := v.Interface().(type) {
	case time.Time:
		if x.IsZero() {
			return ""
		}
		return x.Format(time.RFC3339)
	case time.Duration:
		return x.Round(time.Millisecond).String()
	case fmt.Stringer:
		return x.String()
	}
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Len() == 0 {
			return "[]"
		}
		return fmt.Sprintf("[%d items]", v.Len())
	case reflect.Map:
		if v.Len() == 0 {
			return "{}"
		}
		return fmt.Sprintf("{%d keys}", v.Len())
	case reflect.Struct:
		parts := make([]string, 0, v.NumField())
		for _, c := range columns(v) {
			if s := formatValue(v.FieldByIndex(c.index)); s != "" {
				parts = append(parts, c.name+"="+s)
			}
		}
		return strings.Join(parts, " ")
	default:
		return fmt.Sprintf("%v", v.Interface())
	}
}
