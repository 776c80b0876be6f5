package protocol

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pithecene-io/espterm/types"
)

// ValidateFilename checks a device filename.
func ValidateFilename(name string) error {
	const op = "validate filename"
	switch {
	case name == "":
		return validationError(op, "filename is empty")
	case len(name) > types.MaxFilenameLength:
		return validationError(op, fmt.Sprintf("filename too long (max %d chars)", types.MaxFilenameLength))
	case strings.ContainsAny(name, types.ForbiddenFilenameChars):
		return validationError(op, "filename contains invalid characters")
	case strings.ContainsFunc(name, func(r rune) bool { return r < 0x20 || r == 0x7f }):
		return validationError(op, "filename contains control characters")
	case name[0] == '.' || name[0] == ' ':
		return validationError(op, "filename cannot start with dot or space")
	}
	return nil
}

// ValidateSize checks a payload size for a write.
func ValidateSize(n int64) error {
	if n <= 0 || n > types.MaxFileSize {
		return validationError("validate size", fmt.Sprintf("invalid file size %d (max %d bytes)", n, types.MaxFileSize))
	}
	return nil
}

// LogEntry is a parsed device log line.
type LogEntry struct {
	Level     string
	Timestamp int64
	Tag       string
	Message   string
}

var deviceLogPattern = regexp.MustCompile(`^([A-Z])\s*\((\d+)\)\s*([^:]+):\s*(.*)$`)

// ParseDeviceLog parses "LEVEL (timestampMs) TAG: message".
func ParseDeviceLog(line string) (LogEntry, bool) {
	m := deviceLogPattern.FindStringSubmatch(line)
	if m == nil {
		return LogEntry{}, false
	}
	ts, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return LogEntry{}, false
	}
	return LogEntry{
		Level:     m[1],
		Timestamp: ts,
		Tag:       strings.TrimSpace(m[3]),
		Message:   strings.TrimSpace(m[4]),
	}, true
}

// ParseListing parses the collected lines of a LIST_FILES reply.
// The first line must carry the list marker; every further line is
// "name,size", split at the last comma.
func ParseListing(lines []string) ([]types.FileEntry, error) {
	const op = "list files"
	if len(lines) == 0 {
		return nil, protocolError(op, "empty listing")
	}
	if !strings.Contains(lines[0], types.MarkerList) {
		return nil, protocolError(op, "wrong incipit: %q", lines[0])
	}
	entries := make([]types.FileEntry, 0, len(lines)-1)
	for _, line := range lines[1:] {
		i := strings.LastIndexByte(line, ',')
		if i <= 0 {
			return nil, protocolError(op, "invalid file entry format: %q", line)
		}
		size, err := strconv.ParseInt(strings.TrimSpace(line[i+1:]), 10, 64)
		if err != nil || size < 0 {
			return nil, protocolError(op, "invalid file entry format: %q", line)
		}
		entries = append(entries, types.FileEntry{Name: line[:i], Size: size})
	}
	return entries, nil
}

// parseFileInfo parses the "size,md5" payload of a READ_FILE reply.
func parseFileInfo(payload string) (int64, string, error) {
	const op = "read file"
	parts := strings.Split(strings.TrimSpace(payload), ",")
	if len(parts) != 2 {
		return 0, "", protocolError(op, "invalid file info received: %q", payload)
	}
	size, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil || size < 0 {
		return 0, "", protocolError(op, "invalid file info received: %q", payload)
	}
	if size > types.MaxFileSize {
		return 0, "", protocolError(op, "file too large (%d bytes)", size)
	}
	return size, strings.ToLower(strings.TrimSpace(parts[1])), nil
}

// parseExistingSize reads the leading size of a CHECK_FILE payload,
// "size" or "size:...".
func parseExistingSize(payload string) (int64, bool) {
	head, _, _ := strings.Cut(payload, ":")
	n, err := strconv.ParseInt(strings.TrimSpace(head), 10, 64)
	return n, err == nil
}
