package protocol

import (
	"reflect"
	"strings"
	"testing"

	"github.com/pithecene-io/espterm/types"
)

func TestValidateFilename(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"simple", "data.bin", false},
		{"spaces inside", "my file.txt", false},
		{"max length", strings.Repeat("a", types.MaxFilenameLength), false},
		{"too long", strings.Repeat("a", types.MaxFilenameLength+1), true},
		{"empty", "", true},
		{"slash", "a/b", true},
		{"backslash", `a\b`, true},
		{"colon", "a:b", true},
		{"star", "a*", true},
		{"question", "a?", true},
		{"quote", `a"b`, true},
		{"angle", "a<b>", true},
		{"pipe", "a|b", true},
		{"leading dot", ".env", true},
		{"leading space", " a", true},
		{"newline", "a\nb", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFilename(tt.in)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateFilename(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err != nil && !IsValidation(err) {
				t.Errorf("error kind = %q, want validation", KindOf(err))
			}
		})
	}
}

func TestValidateSize_Boundaries(t *testing.T) {
	if err := ValidateSize(104857600); err != nil {
		t.Errorf("ValidateSize(104857600) error = %v, want nil", err)
	}
	if err := ValidateSize(104857601); !IsValidation(err) {
		t.Errorf("ValidateSize(104857601) error = %v, want validation", err)
	}
	if err := ValidateSize(1); err != nil {
		t.Errorf("ValidateSize(1) error = %v", err)
	}
	if err := ValidateSize(0); !IsValidation(err) {
		t.Errorf("ValidateSize(0) error = %v, want validation", err)
	}
}

func TestParseListing(t *testing.T) {
	entries, err := ParseListing([]string{"!!LIST!!", "a.txt,10", "b.bin,2048"})
	if err != nil {
		t.Fatal(err)
	}
	want := []types.FileEntry{{Name: "a.txt", Size: 10}, {Name: "b.bin", Size: 2048}}
	if !reflect.DeepEqual(entries, want) {
		t.Errorf("entries = %+v, want %+v", entries, want)
	}

	if _, err := ParseListing([]string{"nope"}); !IsProtocol(err) {
		t.Errorf("ParseListing([nope]) error = %v, want protocol", err)
	}
	if _, err := ParseListing(nil); !IsProtocol(err) {
		t.Errorf("ParseListing(nil) error = %v, want protocol", err)
	}

	got, err := ParseListing([]string{"!!LIST!!", "a,b.txt,3"})
	if err != nil || got[0].Name != "a,b.txt" || got[0].Size != 3 {
		t.Errorf("comma in name: %+v, %v", got, err)
	}
	for _, bad := range []string{"noseparator", ",5", "x,-1", "x,"} {
		if _, err := ParseListing([]string{"!!LIST!!", bad}); !IsProtocol(err) {
			t.Errorf("entry %q: error = %v, want protocol", bad, err)
		}
	}
}

func TestParseDeviceLog(t *testing.T) {
	e, ok := ParseDeviceLog("I (739418) HELLOESP: wait ")
	if !ok {
		t.Fatal("ParseDeviceLog() ok = false")
	}
	want := LogEntry{Level: "I", Timestamp: 739418, Tag: "HELLOESP", Message: "wait"}
	if e != want {
		t.Errorf("entry = %+v, want %+v", e, want)
	}
	for _, line := range []string{"!!OK!!:x", "i (1) tag: x", "I (abc) tag: x", "I (1) notag"} {
		if _, ok := ParseDeviceLog(line); ok {
			t.Errorf("ParseDeviceLog(%q) ok = true", line)
		}
	}
}

func TestParseFileInfo(t *testing.T) {
	size, sum, err := parseFileInfo("1500,ABCDEF")
	if err != nil || size != 1500 || sum != "abcdef" {
		t.Errorf("parseFileInfo() = %d, %q, %v", size, sum, err)
	}
	for _, bad := range []string{"", "1500", "x,abc", "1,2,3", "104857601,abc"} {
		if _, _, err := parseFileInfo(bad); !IsProtocol(err) {
			t.Errorf("parseFileInfo(%q) error = %v, want protocol", bad, err)
		}
	}
}

func TestParseExistingSize(t *testing.T) {
	tests := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"10", 10, true},
		{"10:2024-01-01", 10, true},
		{"missing", 0, false},
	}
	for _, tt := range tests {
		n, ok := parseExistingSize(tt.in)
		if n != tt.want || ok != tt.ok {
			t.Errorf("parseExistingSize(%q) = %d, %v, want %d, %v", tt.in, n, ok, tt.want, tt.ok)
		}
	}
}

func TestErrorKinds(t *testing.T) {
	err := &Error{Kind: KindTransport, Op: "write file", Msg: "port closed"}
	if !IsTransport(err) || IsTimeout(err) {
		t.Error("kind predicates mismatch")
	}
	if err.Error() != "write file: port closed" {
		t.Errorf("Error() = %q", err.Error())
	}
	if KindOf(nil) != "" {
		t.Error("KindOf(nil) should be empty")
	}
}
