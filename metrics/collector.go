// Package metrics provides per-session metrics collection.
//
// The Collector accumulates counters for one link session. It is a leaf
// package with no internal dependencies so that transport, stream and
// protocol can all record into the same Collector.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all session metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Link
	BytesRead    int64 `json:"bytes_read" yaml:"bytes_read"`
	BytesWritten int64 `json:"bytes_written" yaml:"bytes_written"`
	ReadErrors   int64 `json:"read_errors" yaml:"read_errors"`

	// Demultiplexer
	LinesBySink map[string]int64 `json:"lines_by_sink" yaml:"lines_by_sink"`
	StaleTags   int64            `json:"stale_tags" yaml:"stale_tags"`
	IdleFlushes int64            `json:"idle_flushes" yaml:"idle_flushes"`

	// Protocol
	CommandsSent   int64 `json:"commands_sent" yaml:"commands_sent"`
	Waits          int64 `json:"waits" yaml:"waits"`
	WaitTimeouts   int64 `json:"wait_timeouts" yaml:"wait_timeouts"`
	ProtocolErrors int64 `json:"protocol_errors" yaml:"protocol_errors"`

	// Transfer
	ChunksSent      int64 `json:"chunks_sent" yaml:"chunks_sent"`
	ChunksFailed    int64 `json:"chunks_failed" yaml:"chunks_failed"`
	BytesUploaded   int64 `json:"bytes_uploaded" yaml:"bytes_uploaded"`
	BytesDownloaded int64 `json:"bytes_downloaded" yaml:"bytes_downloaded"`
	HashMismatches  int64 `json:"hash_mismatches" yaml:"hash_mismatches"`

	// Dimensions (informational, set at construction)
	Port      string `json:"port" yaml:"port"`
	SessionID string `json:"session_id" yaml:"session_id"`
}

// Collector accumulates metrics during a single session.
// Thread-safe via sync.Mutex. All methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	bytesRead    int64
	bytesWritten int64
	readErrors   int64

	linesBySink map[string]int64
	staleTags   int64
	idleFlushes int64

	commandsSent   int64
	waits          int64
	waitTimeouts   int64
	protocolErrors int64

	chunksSent      int64
	chunksFailed    int64
	bytesUploaded   int64
	bytesDownloaded int64
	hashMismatches  int64

	port      string
	sessionID string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(port, sessionID string) *Collector {
	return &Collector{
		linesBySink: make(map[string]int64),
		port:        port,
		sessionID:   sessionID,
	}
}

func (c *Collector) add(field *int64, n int64) {
	c.mu.Lock()
	*field += n
	c.mu.Unlock()
}

// --- Link ---

// AddBytesRead records n bytes read from the port.
func (c *Collector) AddBytesRead(n int) {
	if c == nil {
		return
	}
	c.add(&c.bytesRead, int64(n))
}

// AddBytesWritten records n bytes written to the port.
func (c *Collector) AddBytesWritten(n int) {
	if c == nil {
		return
	}
	c.add(&c.bytesWritten, int64(n))
}

// IncReadErrors records a port read error.
func (c *Collector) IncReadErrors() {
	if c == nil {
		return
	}
	c.add(&c.readErrors, 1)
}

// --- Demultiplexer ---

// IncLines records one line forwarded to the named sink.
func (c *Collector) IncLines(sink string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.linesBySink[sink]++
	c.mu.Unlock()
}

// IncStaleTags records an end tag seen with no open context.
func (c *Collector) IncStaleTags() {
	if c == nil {
		return
	}
	c.add(&c.staleTags, 1)
}

// IncIdleFlushes records a partial line flushed by the idle timer.
func (c *Collector) IncIdleFlushes() {
	if c == nil {
		return
	}
	c.add(&c.idleFlushes, 1)
}

// --- Protocol ---

// IncCommandsSent records a command line written to the device.
func (c *Collector) IncCommandsSent() {
	if c == nil {
		return
	}
	c.add(&c.commandsSent, 1)
}

// IncWaits records a response wait.
func (c *Collector) IncWaits() {
	if c == nil {
		return
	}
	c.add(&c.waits, 1)
}

// IncWaitTimeouts records a response wait that hit its deadline.
func (c *Collector) IncWaitTimeouts() {
	if c == nil {
		return
	}
	c.add(&c.waitTimeouts, 1)
}

// IncProtocolErrors records a malformed or unexpected device response.
func (c *Collector) IncProtocolErrors() {
	if c == nil {
		return
	}
	c.add(&c.protocolErrors, 1)
}

// --- Transfer ---

// IncChunksSent records an acknowledged write chunk of n bytes.
func (c *Collector) IncChunksSent(n int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.chunksSent++
	c.bytesUploaded += int64(n)
	c.mu.Unlock()
}

// IncChunksFailed records a chunk the device refused.
func (c *Collector) IncChunksFailed() {
	if c == nil {
		return
	}
	c.add(&c.chunksFailed, 1)
}

// AddBytesDownloaded records n bytes received during a file read.
func (c *Collector) AddBytesDownloaded(n int) {
	if c == nil {
		return
	}
	c.add(&c.bytesDownloaded, int64(n))
}

// IncHashMismatches records a file read whose MD5 did not match.
func (c *Collector) IncHashMismatches() {
	if c == nil {
		return
	}
	c.add(&c.hashMismatches, 1)
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
// The returned Snapshot is safe to read concurrently; the Collector can
// continue to be mutated independently.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	lines := make(map[string]int64, len(c.linesBySink))
	for k, v := range c.linesBySink {
		lines[k] = v
	}

	return Snapshot{
		BytesRead:    c.bytesRead,
		BytesWritten: c.bytesWritten,
		ReadErrors:   c.readErrors,

		LinesBySink: lines,
		StaleTags:   c.staleTags,
		IdleFlushes: c.idleFlushes,

		CommandsSent:   c.commandsSent,
		Waits:          c.waits,
		WaitTimeouts:   c.waitTimeouts,
		ProtocolErrors: c.protocolErrors,

		ChunksSent:      c.chunksSent,
		ChunksFailed:    c.chunksFailed,
		BytesUploaded:   c.bytesUploaded,
		BytesDownloaded: c.bytesDownloaded,
		HashMismatches:  c.hashMismatches,

		Port:      c.port,
		SessionID: c.sessionID,
	}
}
