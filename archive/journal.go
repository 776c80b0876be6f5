package archive

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/justapithecus/lode/lode"
)

// Journal record kinds.
const (
	RecordKindTransfer = "transfer"
)

// Record is one journal entry: a completed or failed transfer.
type Record struct {
	SessionID string        `json:"session_id" yaml:"session_id"`
	Direction string        `json:"direction" yaml:"direction"`
	Filename  string        `json:"filename" yaml:"filename"`
	Size      int64         `json:"size" yaml:"size"`
	MD5       string        `json:"md5,omitempty" yaml:"md5,omitempty"`
	OK        bool          `json:"ok" yaml:"ok"`
	Message   string        `json:"message,omitempty" yaml:"message,omitempty"`
	Duration  time.Duration `json:"duration_ns" yaml:"duration"`
	At        time.Time     `json:"at" yaml:"at"`
}

// toMap builds the stored record, partition keys included.
func (a *Archive) toMap(r Record) map[string]any {
	return map[string]any{
		"record_kind": RecordKindTransfer,
		"device":      a.device,
		"day":         r.At.UTC().Format("2006-01-02"),
		"direction":   r.Direction,
		"session_id":  r.SessionID,
		"filename":    r.Filename,
		"size":        r.Size,
		"md5":         r.MD5,
		"ok":          r.OK,
		"message":     r.Message,
		"duration_ns": r.Duration.Nanoseconds(),
		"at":          r.At.UTC().Format(time.RFC3339Nano),
	}
}

// Record appends r to the journal. A zero At is stamped with the current
// time.
func (a *Archive) Record(ctx context.Context, r Record) error {
	if r.At.IsZero() {
		r.At = a.now()
	}
	if r.Direction == "" {
		return fmt.Errorf("journal record: direction is required")
	}
	if _, err := a.journal.Write(ctx, []any{a.toMap(r)}, lode.Metadata{}); err != nil {
		return wrap("write", "journal", err)
	}
	return nil
}

// Journal returns the transfer records of this archive's device, oldest
// first.
func (a *Archive) Journal(ctx context.Context) ([]Record, error) {
	snaps, err := a.journal.Snapshots(ctx)
	if err != nil {
		return nil, wrap("read", "journal/snapshots", err)
	}
	var out []Record
	seen := make(map[string]struct{})
	for _, snap := range snaps {
		data, err := a.journal.Read(ctx, snap.ID)
		if err != nil {
			return nil, wrap("read", fmt.Sprintf("journal/snapshot/%s", snap.ID), err)
		}
		for _, item := range data {
			m, ok := item.(map[string]any)
			if !ok || m["record_kind"] != RecordKindTransfer || m["device"] != a.device {
				continue
			}
			r := fromMap(m)
			// Snapshots may be cumulative.
			key := fmt.Sprintf("%s|%s|%s|%s", r.SessionID, r.Direction, r.Filename, r.At.Format(time.RFC3339Nano))
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out, nil
}

func fromMap(m map[string]any) Record {
	r := Record{
		SessionID: str(m["session_id"]),
		Direction: str(m["direction"]),
		Filename:  str(m["filename"]),
		MD5:       str(m["md5"]),
		Message:   str(m["message"]),
		Size:      num(m["size"]),
		Duration:  time.Duration(num(m["duration_ns"])),
	}
	r.OK, _ = m["ok"].(bool)
	r.At, _ = time.Parse(time.RFC3339Nano, str(m["at"]))
	return r
}

func str(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// num reads an integer that may have been decoded as float64 or a
// json.Number-like value.
func num(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case interface{ Int64() (int64, error) }:
		i, _ := n.Int64()
		return i
	default:
		return 0
	}
}
