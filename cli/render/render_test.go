package render

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/pithecene-io/espterm/types"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Format
		wantErr bool
	}{
		{"json lowercase", "json", FormatJSON, false},
		{"json uppercase", "JSON", FormatJSON, false},
		{"table", "table", FormatTable, false},
		{"yaml", "yaml", FormatYAML, false},
		{"empty", "", "", false},
		{"invalid", "xml", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFormat(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseFormat(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNew_DefaultsToJSONOffTerminal(t *testing.T) {
	r, err := New("", false, &bytes.Buffer{})
	if err != nil {
		t.Fatal(err)
	}
	if r.Format() != FormatJSON {
		t.Errorf("Format() = %q, want json", r.Format())
	}
	if _, err := New("csv", false, &bytes.Buffer{}); err == nil || !strings.Contains(err.Error(), "json, table, or yaml") {
		t.Errorf("New(csv) error = %v", err)
	}
}

func TestRender_JSON(t *testing.T) {
	var buf bytes.Buffer
	r, _ := New("json", false, &buf)
	files := []types.FileEntry{{Name: "a.txt", Size: 10}}
	if err := r.Render(files); err != nil {
		t.Fatal(err)
	}
	var got []types.FileEntry
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not json: %v\n%s", err, buf.String())
	}
	if len(got) != 1 || got[0] != files[0] {
		t.Errorf("decoded = %+v", got)
	}
}

func TestRender_YAML(t *testing.T) {
	var buf bytes.Buffer
	r, _ := New("yaml", false, &buf)
	if err := r.Render([]types.FileEntry{{Name: "a.txt", Size: 10}}); err != nil {
		t.Fatal(err)
	}
	if got := buf.String(); !strings.Contains(got, "name: a.txt") || !strings.Contains(got, "size: 10") {
		t.Errorf("yaml = %q", got)
	}
}

func TestRender_TableSlice(t *testing.T) {
	var buf bytes.Buffer
	r, _ := New("table", true, &buf)
	err := r.Render([]types.FileEntry{{Name: "boot.bin", Size: 4096}, {Name: "a", Size: 1}})
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("table = %q", buf.String())
	}
	if strings.Join(strings.Fields(lines[0]), " ") != "NAME SIZE" {
		t.Errorf("header = %q", lines[0])
	}
	if strings.Join(strings.Fields(lines[1]), " ") != "boot.bin 4096" {
		t.Errorf("row = %q", lines[1])
	}
	if strings.Index(lines[1], "4096") != strings.Index(lines[0], "SIZE") {
		t.Errorf("columns not aligned:\n%s", buf.String())
	}
}

func TestRender_TableEmpty(t *testing.T) {
	var buf bytes.Buffer
	r, _ := New("table", true, &buf)
	if err := r.Render([]types.FileEntry{}); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "(no results)\n" {
		t.Errorf("table = %q", buf.String())
	}
}

func TestRender_TableStruct(t *testing.T) {
	type result struct {
		Remote   string         `json:"remote"`
		Response types.Response `json:"response"`
		Took     time.Duration  `json:"took"`
		At       time.Time      `json:"at"`
		Hidden   string         `json:"-"`
		secret   string
	}
	var buf bytes.Buffer
	r, _ := New("table", true, &buf)
	err := r.Render(&result{
		Remote:   "a.txt",
		Response: types.Response{OK: true, Payload: "written"},
		Took:     1234567 * time.Microsecond,
		At:       time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Hidden:   "x",
		secret:   "y",
	})
	if err != nil {
		t.Fatal(err)
	}
	got := buf.String()
	for _, want := range []string{"remote:", "a.txt", "ok=true payload=written", "1.235s", "2024-05-01T12:00:00Z"} {
		if !strings.Contains(got, want) {
			t.Errorf("table missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "Hidden") || strings.Contains(got, "hidden") || strings.Contains(got, "secret") {
		t.Errorf("table shows skipped fields:\n%s", got)
	}
}

func TestRender_TableMapSorted(t *testing.T) {
	var buf bytes.Buffer
	r, _ := New("table", true, &buf)
	if err := r.Render(map[string]int64{"zeta": 1, "alpha": 2}); err != nil {
		t.Fatal(err)
	}
	got := buf.String()
	if strings.Index(got, "alpha") > strings.Index(got, "zeta") {
		t.Errorf("map rows not sorted:\n%s", got)
	}
}
