// Package devicesim simulates a device speaking the file-transfer command
// protocol. A Device is a transport.Port: the host writes commands and
// reads replies interleaved with the device's own log output.
package devicesim

import (
	"bytes"
	"crypto/md5" //nolint:gosec // protocol checksum
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pithecene-io/espterm/types"
)

// Config configures a Device.
type Config struct {
	// Files is the initial file system. It is copied.
	Files map[string][]byte
	// LogInterval emits a heartbeat log line while not silenced.
	// Zero disables it.
	LogInterval time.Duration
	// MonitorInterval emits a task monitor block while not silenced.
	// Zero disables it.
	MonitorInterval time.Duration
	// Chatty prints a device log line before every reply, silenced or not.
	Chatty bool
	// FragmentSize caps the bytes returned by a single Read. Zero means no cap.
	FragmentSize int
	// CorruptChunk makes the n-th write chunk (1-based) fail its MD5
	// check. Zero disables it.
	CorruptChunk int
	// CorruptRead flips a byte of the first slice sent for a file read.
	CorruptRead bool
	// Mute ignores every command.
	Mute bool
	// Commands maps $$$CMD$$$ commands to OK payloads. "echo <x>" and
	// "uptime" are built in.
	Commands map[string]string
}

type inputMode int

const (
	modeLine inputMode = iota
	modeChunk
	modeReadAck
)

type pendingWrite struct {
	name   string
	size   int64
	md5    string
	data   []byte
	chunks int
}

type pendingChunk struct {
	size int
	md5  string
}

type pendingRead struct {
	data []byte
	sent int
}

// Device is an in-memory simulated device.
type Device struct {
	cfg   Config
	start time.Time

	mu       sync.Mutex
	cond     *sync.Cond
	out      []byte
	closed   bool
	silenced bool
	files    map[string][]byte

	in     []byte
	mode   inputMode
	write  *pendingWrite
	chunk  pendingChunk
	read   *pendingRead
	rxLog  []string
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Device and starts its background log output, if any.
func New(cfg Config) *Device {
	d := &Device{
		cfg:    cfg,
		start:  time.Now(),
		files:  make(map[string][]byte, len(cfg.Files)),
		stopCh: make(chan struct{}),
	}
	d.cond = sync.NewCond(&d.mu)
	for name, data := range cfg.Files {
		d.files[name] = append([]byte(nil), data...)
	}
	if cfg.LogInterval > 0 {
		d.wg.Add(1)
		go d.background(cfg.LogInterval, d.heartbeat)
	}
	if cfg.MonitorInterval > 0 {
		d.wg.Add(1)
		go d.background(cfg.MonitorInterval, d.monitor)
	}
	return d
}

// Read returns device output, blocking until some is available.
func (d *Device) Read(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for len(d.out) == 0 && !d.closed {
		d.cond.Wait()
	}
	if len(d.out) == 0 {
		return 0, io.EOF
	}
	limit := len(p)
	if d.cfg.FragmentSize > 0 && limit > d.cfg.FragmentSize {
		limit = d.cfg.FragmentSize
	}
	n := copy(p[:limit], d.out)
	d.out = d.out[n:]
	return n, nil
}

// Write feeds host bytes to the device.
func (d *Device) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, io.ErrClosedPipe
	}
	d.in = append(d.in, p...)
	d.process()
	return len(p), nil
}

// Close stops the device. Pending output can no longer be read.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.out = nil
	close(d.stopCh)
	d.cond.Broadcast()
	d.mu.Unlock()
	d.wg.Wait()
	return nil
}

// Print emits device output as if the firmware printed it.
func (d *Device) Print(s string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.emit(s)
}

// File returns a stored file.
func (d *Device) File(name string) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, ok := d.files[name]
	return append([]byte(nil), data...), ok
}

// Received returns every command line the device handled, in order.
func (d *Device) Received() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.rxLog...)
}

// Silenced reports whether the host has silenced the device.
func (d *Device) Silenced() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.silenced
}

func (d *Device) background(every time.Duration, fn func(n int)) {
	defer d.wg.Done()
	t := time.NewTicker(every)
	defer t.Stop()
	for n := 1; ; n++ {
		select {
		case <-d.stopCh:
			return
		case <-t.C:
			d.mu.Lock()
			if !d.silenced && !d.closed {
				fn(n)
			}
			d.mu.Unlock()
		}
	}
}

func (d *Device) heartbeat(n int) {
	d.logf("I", "app", "heartbeat %d, free heap %d", n, 200000-n)
}

func (d *Device) monitor(n int) {
	d.emit(types.MonitorStartTag + "\n")
	if n%10 == 0 {
		d.emit(types.MonitorClear + "\n")
	}
	d.emit(fmt.Sprintf("Task        CPU\nmain        %d%%\nIDLE        %d%%\n", n%40, 100-n%40))
	d.emit(types.MonitorEndTag + "\n")
}

// emit appends output. Caller holds d.mu.
func (d *Device) emit(s string) {
	if d.closed {
		return
	}
	d.out = append(d.out, s...)
	d.cond.Broadcast()
}

func (d *Device) emitBytes(p []byte) {
	if d.closed {
		return
	}
	d.out = append(d.out, p...)
	d.cond.Broadcast()
}

func (d *Device) logf(level, tag, format string, args ...any) {
	ms := time.Since(d.start).Milliseconds()
	d.emit(fmt.Sprintf("%s (%d) %s: %s\n", level, ms, tag, fmt.Sprintf(format, args...)))
}

func (d *Device) reply(ok bool, payload string) {
	if d.cfg.Chatty {
		d.logf("D", "proto", "replying")
	}
	marker := types.MarkerOK
	if !ok {
		marker = types.MarkerError
	}
	d.emit(marker + payload + "\n")
}

// process consumes buffered input. Caller holds d.mu.
func (d *Device) process() {
	for len(d.in) > 0 {
		switch d.mode {
		case modeChunk:
			if len(d.in) < d.chunk.size {
				return
			}
			payload := d.in[:d.chunk.size]
			d.in = d.in[d.chunk.size:]
			d.mode = modeLine
			d.handleChunk(payload)
		case modeLine, modeReadAck:
			i := bytes.IndexByte(d.in, '\n')
			if i < 0 {
				return
			}
			line := strings.TrimSuffix(string(d.in[:i]), "\r")
			d.in = d.in[i+1:]
			if d.mode == modeReadAck {
				d.handleReadAck(line)
				continue
			}
			d.handleLine(line)
		}
	}
}

func (d *Device) handleLine(line string) {
	d.rxLog = append(d.rxLog, line)
	if d.cfg.Mute {
		return
	}
	switch {
	case line == types.CmdPing:
		d.reply(true, "PONG")
	case line == types.CmdSilenceOn:
		d.silenced = true
	case line == types.CmdSilenceOff:
		d.silenced = false
	case strings.HasPrefix(line, types.CmdCheckFile):
		name := strings.TrimPrefix(line, types.CmdCheckFile)
		if data, ok := d.files[name]; ok {
			d.reply(true, strconv.Itoa(len(data)))
			return
		}
		d.reply(false, "File not found")
	case strings.HasPrefix(line, types.CmdWriteFile):
		d.startWrite(strings.TrimPrefix(line, types.CmdWriteFile))
	case strings.HasPrefix(line, types.CmdChunk):
		d.startChunk(strings.TrimPrefix(line, types.CmdChunk))
	case line == types.CmdVerifyFile:
		d.verify()
	case strings.HasPrefix(line, types.CmdReadFile):
		d.startRead(strings.TrimPrefix(line, types.CmdReadFile))
	case line == types.CmdListFiles:
		d.list()
	case strings.HasPrefix(line, types.CmdDeleteFile):
		name := strings.TrimPrefix(line, types.CmdDeleteFile)
		if _, ok := d.files[name]; !ok {
			d.reply(false, "File not found")
			return
		}
		delete(d.files, name)
		d.reply(true, "Deleted "+name)
	case strings.HasPrefix(line, types.CmdExec):
		d.exec(strings.TrimPrefix(line, types.CmdExec))
	default:
		if !d.silenced {
			d.logf("W", "console", "unknown input: %s", line)
		}
	}
}

func (d *Device) startWrite(args string) {
	// name,size,md5 with the name possibly containing commas
	parts := strings.Split(args, ",")
	if len(parts) < 3 {
		d.reply(false, "Bad write header")
		return
	}
	size, err := strconv.ParseInt(parts[len(parts)-2], 10, 64)
	if err != nil || size <= 0 {
		d.reply(false, "Bad size")
		return
	}
	d.write = &pendingWrite{
		name: strings.Join(parts[:len(parts)-2], ","),
		size: size,
		md5:  parts[len(parts)-1],
	}
	d.reply(true, "Ready")
}

func (d *Device) startChunk(args string) {
	if d.write == nil {
		d.reply(false, "No write in progress")
		return
	}
	sizeStr, sum, ok := strings.Cut(args, ",")
	size, err := strconv.Atoi(sizeStr)
	if !ok || err != nil || size <= 0 || size > types.ChunkSize {
		d.reply(false, "Bad chunk header")
		return
	}
	d.chunk = pendingChunk{size: size, md5: sum}
	d.mode = modeChunk
	d.reply(true, "Ready for chunk")
}

func (d *Device) handleChunk(payload []byte) {
	w := d.write
	idx := w.chunks
	if md5Hex(payload) != d.chunk.md5 || idx+1 == d.cfg.CorruptChunk {
		d.reply(false, fmt.Sprintf("Chunk %d hash mismatch", idx))
		return
	}
	w.data = append(w.data, payload...)
	w.chunks++
	d.reply(true, fmt.Sprintf("Chunk %d received", idx))
}

func (d *Device) verify() {
	w := d.write
	d.write = nil
	switch {
	case w == nil:
		d.reply(false, "No write in progress")
	case int64(len(w.data)) != w.size:
		d.reply(false, fmt.Sprintf("Size mismatch: %d != %d", len(w.data), w.size))
	case md5Hex(w.data) != w.md5:
		d.reply(false, "File hash mismatch")
	default:
		d.files[w.name] = w.data
		d.reply(true, "File written")
	}
}

func (d *Device) startRead(name string) {
	data, ok := d.files[name]
	if !ok {
		d.reply(false, "File not found")
		return
	}
	d.reply(true, fmt.Sprintf("%d,%s", len(data), md5Hex(data)))
	d.read = &pendingRead{data: data}
	d.sendSlice()
}

func (d *Device) sendSlice() {
	r := d.read
	if r.sent >= len(r.data) {
		d.read = nil
		d.mode = modeLine
		d.reply(true, "Transfer complete")
		return
	}
	end := min(r.sent+types.ChunkSize, len(r.data))
	slice := append([]byte(nil), r.data[r.sent:end]...)
	if d.cfg.CorruptRead && r.sent == 0 {
		slice[0] ^= 0xff
	}
	r.sent = end
	d.mode = modeReadAck
	d.emitBytes(slice)
}

func (d *Device) handleReadAck(line string) {
	if line != strings.TrimSuffix(types.ReadAck, "\n") {
		d.read = nil
		d.mode = modeLine
		d.reply(false, "Transfer aborted")
		return
	}
	d.sendSlice()
}

func (d *Device) list() {
	names := make([]string, 0, len(d.files))
	for name := range d.files {
		names = append(names, name)
	}
	sort.Strings(names)
	d.reply(true, types.MarkerList)
	for _, name := range names {
		d.emit(fmt.Sprintf("%s%s,%d\n", types.MarkerOK, name, len(d.files[name])))
	}
	d.emit(types.MarkerOK + types.MarkerEnd + "\n")
}

func (d *Device) exec(command string) {
	if out, ok := d.cfg.Commands[command]; ok {
		d.reply(true, out)
		return
	}
	switch {
	case strings.HasPrefix(command, "echo "):
		d.reply(true, strings.TrimPrefix(command, "echo "))
	case command == "uptime":
		d.reply(true, strconv.FormatInt(time.Since(d.start).Milliseconds(), 10))
	default:
		d.reply(false, "Unknown command: "+command)
	}
}

func md5Hex(p []byte) string {
	sum := md5.Sum(p) //nolint:gosec // protocol checksum
	return hex.EncodeToString(sum[:])
}
