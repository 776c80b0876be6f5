package types //nolint:revive // types is a valid package name

import "testing"

func TestFormatCommand(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		args   []any
		want   string
	}{
		{"bare", CmdPing, nil, "$$$PING$$$\n"},
		{"filename", CmdCheckFile, []any{"a.txt"}, "$$$CHECK_FILE$$$a.txt\n"},
		{"write header", CmdWriteFile, []any{"a.txt,10,abc"}, "$$$WRITE_FILE$$$a.txt,10,abc\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatCommand(tt.prefix, tt.args...); got != tt.want {
				t.Errorf("FormatCommand() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestChunkCount(t *testing.T) {
	tests := []struct {
		size int64
		want int
	}{
		{0, 0},
		{1, 1},
		{ChunkSize, 1},
		{ChunkSize + 1, 2},
		{MaxFileSize, MaxFileSize / ChunkSize},
	}
	for _, tt := range tests {
		if got := ChunkCount(tt.size); got != tt.want {
			t.Errorf("ChunkCount(%d) = %d, want %d", tt.size, got, tt.want)
		}
	}
}

func TestTransferState_String(t *testing.T) {
	if TransferAwaitingCheck.String() != "awaiting_check" {
		t.Errorf("got %q", TransferAwaitingCheck.String())
	}
	if TransferState(99).String() != "unknown" {
		t.Errorf("out of range state should be unknown")
	}
	if !TransferFailed.IsTerminal() || TransferWriting.IsTerminal() {
		t.Error("IsTerminal mismatch")
	}
}
