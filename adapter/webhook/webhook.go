// Package webhook POSTs espterm events as JSON to an HTTP endpoint.
//
// The event type, session and device travel as X-Espterm-* headers so
// receivers can route without decoding the body. Events can be narrowed
// to a subset of types, which keeps chatty monitor snapshots off
// endpoints that only care about transfers.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/pithecene-io/espterm/adapter"
	"github.com/pithecene-io/espterm/iox"
)

// DefaultTimeout bounds one request.
const DefaultTimeout = 10 * time.Second

// Request headers set on every POST.
const (
	HeaderEvent   = "X-Espterm-Event"
	HeaderSession = "X-Espterm-Session"
	HeaderDevice  = "X-Espterm-Device"
)

// Config configures the webhook adapter.
type Config struct {
	// URL is the endpoint (required).
	URL string
	// Headers are added to each request, after the X-Espterm-* headers.
	Headers map[string]string
	// Timeout bounds one request.
	Timeout time.Duration
	// Retries is the number of extra attempts after a retriable failure.
	Retries int
	// Events lists the event types to deliver. Empty delivers all.
	Events []string
}

// Adapter publishes events via HTTP POST.
type Adapter struct {
	cfg    Config
	client *http.Client
}

// New validates cfg and applies defaults.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook adapter requires a URL")
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Adapter{cfg: cfg, client: &http.Client{}}, nil
}

// Wants reports whether events of the given type are delivered.
func (a *Adapter) Wants(eventType string) bool {
	return len(a.cfg.Events) == 0 || slices.Contains(a.cfg.Events, eventType)
}

// Publish POSTs the event. Network errors, 5xx, 408 and 429 are retried;
// other 4xx responses fail at once. Unwanted event types are skipped.
func (a *Adapter) Publish(ctx context.Context, event *adapter.Event) error {
	if !a.Wants(event.EventType) {
		return nil
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}
	err = adapter.Retry(ctx, a.cfg.Retries, a.cfg.Timeout, func(ctx context.Context) error {
		return a.post(ctx, event, body)
	})
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	return nil
}

// StatusError is returned for non-2xx HTTP responses.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

func retriable(code int) bool {
	return code >= 500 || code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
}

func (a *Adapter) post(ctx context.Context, event *adapter.Event, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return adapter.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, event.EventType)
	if event.SessionID != "" {
		req.Header.Set(HeaderSession, event.SessionID)
	}
	if event.Device != "" {
		req.Header.Set(HeaderDevice, event.Device)
	}
	for k, v := range a.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer iox.DiscardClose(resp.Body)
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	serr := &StatusError{Code: resp.StatusCode}
	if retriable(resp.StatusCode) {
		return serr
	}
	return adapter.Permanent(serr)
}

// Close drops idle connections.
func (a *Adapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}

var _ adapter.Adapter = (*Adapter)(nil)
