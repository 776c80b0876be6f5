// Package adapter defines the notification boundary.
//
// Adapters publish transfer completions and monitor snapshots to
// downstream systems. The session owns adapter lifecycle; users provide
// configuration only.
package adapter

import (
	"context"
	"time"

	"github.com/pithecene-io/espterm/types"
)

// Event types.
const (
	EventTransferCompleted = "transfer_completed"
	EventMonitorSnapshot   = "monitor_snapshot"
)

// Transfer outcomes.
const (
	OutcomeSuccess = "success"
	// OutcomeRefused means the device answered with an error marker.
	OutcomeRefused = "refused"
	// OutcomeFailed means validation, protocol, timeout or transport
	// failure.
	OutcomeFailed = "failed"
)

// Event is the published payload.
type Event struct {
	ContractVersion string        `json:"contract_version"`
	EventType       string        `json:"event_type"`
	SessionID       string        `json:"session_id"`
	Device          string        `json:"device"`
	Timestamp       string        `json:"timestamp"` // RFC 3339
	Transfer        *TransferInfo `json:"transfer,omitempty"`
	Monitor         []string      `json:"monitor,omitempty"`
}

// TransferInfo describes a finished file transfer.
type TransferInfo struct {
	Direction  string `json:"direction"` // write or read
	Filename   string `json:"filename"`
	Size       int64  `json:"size"`
	MD5        string `json:"md5,omitempty"`
	Outcome    string `json:"outcome"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// NewTransferEvent builds a transfer_completed event.
func NewTransferEvent(sessionID, device string, info TransferInfo, at time.Time) *Event {
	return &Event{
		ContractVersion: types.Version,
		EventType:       EventTransferCompleted,
		SessionID:       sessionID,
		Device:          device,
		Timestamp:       at.UTC().Format(time.RFC3339),
		Transfer:        &info,
	}
}

// NewMonitorEvent builds a monitor_snapshot event from one monitor block.
func NewMonitorEvent(sessionID, device string, lines []string, at time.Time) *Event {
	return &Event{
		ContractVersion: types.Version,
		EventType:       EventMonitorSnapshot,
		SessionID:       sessionID,
		Device:          device,
		Timestamp:       at.UTC().Format(time.RFC3339),
		Monitor:         append([]string(nil), lines...),
	}
}

// Adapter publishes events to a downstream system.
type Adapter interface {
	// Publish sends an event. Must respect context cancellation and
	// deadlines.
	Publish(ctx context.Context, event *Event) error

	// Close releases adapter resources.
	Close() error
}
