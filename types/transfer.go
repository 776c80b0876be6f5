package types

// TransferState is the lifecycle state of a TransferSession.
type TransferState int

const (
	TransferValidating TransferState = iota
	TransferAwaitingCheck
	TransferWriting
	TransferVerifying
	TransferReading
	TransferDone
	TransferFailed
)

var transferStateNames = [...]string{
	TransferValidating:    "validating",
	TransferAwaitingCheck: "awaiting_check",
	TransferWriting:       "writing",
	TransferVerifying:     "verifying",
	TransferReading:       "reading",
	TransferDone:          "done",
	TransferFailed:        "failed",
}

func (s TransferState) String() string {
	if s < 0 || int(s) >= len(transferStateNames) {
		return "unknown"
	}
	return transferStateNames[s]
}

// IsTerminal returns true for Done and Failed.
func (s TransferState) IsTerminal() bool {
	return s == TransferDone || s == TransferFailed
}

// TransferDirection distinguishes uploads from downloads.
type TransferDirection string

const (
	DirectionWrite TransferDirection = "write"
	DirectionRead  TransferDirection = "read"
)

// TransferSession describes one chunked write or read.
// Observers receive copies; the engine owns the live value.
type TransferSession struct {
	Direction   TransferDirection `json:"direction"`
	Filename    string            `json:"filename"`
	TotalSize   int64             `json:"total_size"`
	MD5         string            `json:"md5"`
	ChunksSent  int               `json:"chunks_sent"`
	TotalChunks int               `json:"total_chunks"`
	BytesDone   int64             `json:"bytes_done"`
	State       TransferState     `json:"state"`
	Message     string            `json:"message,omitempty"`
}

// ChunkCount returns how many ChunkSize chunks a payload of size bytes needs.
func ChunkCount(size int64) int {
	if size <= 0 {
		return 0
	}
	return int((size + ChunkSize - 1) / ChunkSize)
}
