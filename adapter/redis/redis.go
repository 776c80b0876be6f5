// Package redis publishes espterm events to Redis.
//
// Every event goes to the pub/sub channel "<prefix>:<event_type>". Besides
// the live feed, each device keeps two keys readable by late subscribers:
//
//	<prefix>:monitor:<device>    latest monitor snapshot (expires after SnapshotTTL)
//	<prefix>:transfers:<device>  newest-first list of the last History transfers
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pithecene-io/espterm/adapter"
)

// Defaults applied by New.
const (
	DefaultPrefix      = "espterm"
	DefaultTimeout     = 5 * time.Second
	DefaultSnapshotTTL = time.Minute
	DefaultHistory     = 100
)

// Config configures the Redis adapter.
type Config struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Prefix namespaces channels and keys.
	Prefix string
	// Timeout bounds one attempt.
	Timeout time.Duration
	// Retries is the number of extra attempts after a failure.
	Retries int
	// SnapshotTTL is how long the latest monitor snapshot stays readable.
	SnapshotTTL time.Duration
	// History caps the per-device transfer list.
	History int
}

// Adapter publishes events through one pipelined round trip per attempt.
type Adapter struct {
	cfg    Config
	client *goredis.Client
}

// New validates cfg, applies defaults and connects lazily.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis adapter requires a URL")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	if cfg.History < 0 {
		return nil, fmt.Errorf("history must be >= 0, got %d", cfg.History)
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.SnapshotTTL <= 0 {
		cfg.SnapshotTTL = DefaultSnapshotTTL
	}
	if cfg.History == 0 {
		cfg.History = DefaultHistory
	}
	return &Adapter{cfg: cfg, client: goredis.NewClient(opts)}, nil
}

// Channel returns the pub/sub channel for an event type.
func (a *Adapter) Channel(eventType string) string {
	return a.cfg.Prefix + ":" + eventType
}

// SnapshotKey returns the key holding a device's latest monitor snapshot.
func (a *Adapter) SnapshotKey(device string) string {
	return a.cfg.Prefix + ":monitor:" + device
}

// HistoryKey returns the key of a device's transfer list.
func (a *Adapter) HistoryKey(device string) string {
	return a.cfg.Prefix + ":transfers:" + device
}

// Publish sends the event to its channel and updates the device keys.
func (a *Adapter) Publish(ctx context.Context, event *adapter.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}
	err = adapter.Retry(ctx, a.cfg.Retries, a.cfg.Timeout, func(ctx context.Context) error {
		_, err := a.client.Pipelined(ctx, func(p goredis.Pipeliner) error {
			a.record(ctx, p, event, body)
			p.Publish(ctx, a.Channel(event.EventType), body)
			return nil
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}

func (a *Adapter) record(ctx context.Context, p goredis.Pipeliner, event *adapter.Event, body []byte) {
	if event.Device == "" {
		return
	}
	switch event.EventType {
	case adapter.EventMonitorSnapshot:
		p.Set(ctx, a.SnapshotKey(event.Device), body, a.cfg.SnapshotTTL)
	case adapter.EventTransferCompleted:
		key := a.HistoryKey(event.Device)
		p.LPush(ctx, key, body)
		p.LTrim(ctx, key, 0, int64(a.cfg.History-1))
	}
}

// Close releases the connection pool.
func (a *Adapter) Close() error {
	return a.client.Close()
}

var _ adapter.Adapter = (*Adapter)(nil)
