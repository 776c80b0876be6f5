package capture

import (
	"context"
	"io"
	"time"

	"github.com/pithecene-io/espterm/iox"
	"github.com/pithecene-io/espterm/transport"
)

// ReplayOptions configures Replay.
type ReplayOptions struct {
	// Speed scales the recorded inter-frame delays. Zero replays as fast
	// as possible; 1 replays in real time.
	Speed float64
	// OnTX receives host-to-device frames. Nil skips them.
	OnTX func(p []byte)
}

// ReplayStats summarises a replay.
type ReplayStats struct {
	RXFrames  int   `json:"rx_frames" yaml:"rx_frames"`
	TXFrames  int   `json:"tx_frames" yaml:"tx_frames"`
	RXBytes   int64 `json:"rx_bytes" yaml:"rx_bytes"`
	TXBytes   int64 `json:"tx_bytes" yaml:"tx_bytes"`
	Truncated bool  `json:"truncated" yaml:"truncated"`
}

// Replay decodes device-to-host frames and feeds the text to feed,
// the way the transport reader does for a live link. A truncated final
// frame ends the replay without error and sets Truncated.
func Replay(ctx context.Context, r *Reader, feed transport.Feeder, opts ReplayOptions) (ReplayStats, error) {
	var stats ReplayStats
	dec := iox.NewDecoder()
	defer func() {
		if rest := dec.Flush(); rest != "" {
			feed.Feed(rest)
		}
	}()

	var last int64
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		f, err := r.Next()
		if err == io.EOF {
			return stats, nil
		}
		if IsTruncated(err) {
			stats.Truncated = true
			return stats, nil
		}
		if err != nil {
			return stats, err
		}

		if opts.Speed > 0 && last != 0 && f.Ts > last {
			delay := time.Duration(float64(f.Ts-last) / opts.Speed)
			if err := sleep(ctx, delay); err != nil {
				return stats, err
			}
		}
		last = f.Ts

		switch f.Type {
		case TypeRX:
			stats.RXFrames++
			stats.RXBytes += int64(len(f.Data))
			if text := dec.Decode(f.Data); text != "" {
				feed.Feed(text)
			}
		case TypeTX:
			stats.TXFrames++
			stats.TXBytes += int64(len(f.Data))
			if opts.OnTX != nil {
				opts.OnTX(f.Data)
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
