// Package types defines the wire vocabulary shared by the espterm packages.
//
//nolint:revive // types is a common Go package naming convention
package types

import "fmt"

// Command prefixes sent host -> device. Every command is terminated by "\n".
const (
	CmdPing       = "$$$PING$$$"
	CmdSilenceOn  = "$$$SILENCE_ON$$$"
	CmdSilenceOff = "$$$SILENCE_OFF$$$"
	CmdCheckFile  = "$$$CHECK_FILE$$$"
	CmdWriteFile  = "$$$WRITE_FILE$$$"
	CmdChunk      = "$$$CHUNK$$$"
	CmdVerifyFile = "$$$VERIFY_FILE$$$"
	CmdReadFile   = "$$$READ_FILE$$$"
	CmdListFiles  = "$$$LIST_FILES$$$"
	CmdDeleteFile = "$$$DELETE_FILE$$$"
	CmdExec       = "$$$CMD$$$"
)

// ReadAck is the literal the host sends after each slice of a file read.
const ReadAck = "OK\n"

// Response markers, recognized as substrings anywhere in a decoded line.
const (
	MarkerOK    = "!!OK!!:"
	MarkerError = "!!ERROR!!:"
	MarkerEnd   = "!!END!!"
	MarkerList  = "!!LIST!!"
)

// Monitor side channel tags.
const (
	MonitorStartTag = "!!TASKMONITOR!!"
	MonitorEndTag   = "!!TASKMONITOREND!!"
	// MonitorClear inside a monitor span clears the monitor view.
	MonitorClear = "!!clear!!"
)

// Transfer limits.
const (
	MaxFilenameLength = 255
	MaxFileSize       = 100 * 1024 * 1024
	ChunkSize         = 1024
)

// ForbiddenFilenameChars lists characters a device filename may not contain.
const ForbiddenFilenameChars = `\/:*?"<>|`

// FormatCommand builds a newline-terminated command line.
func FormatCommand(prefix string, args ...any) string {
	if len(args) == 0 {
		return prefix + "\n"
	}
	return prefix + fmt.Sprint(args...) + "\n"
}

// Response is the outcome of a single protocol round trip.
// OK reflects which terminator ended the wait; Payload is the text after it.
type Response struct {
	OK      bool   `json:"ok"`
	Payload string `json:"payload"`
}

// FileEntry is one line of a device file listing.
type FileEntry struct {
	Name string `json:"name" yaml:"name"`
	Size int64  `json:"size" yaml:"size"`
}
