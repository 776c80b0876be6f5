// Package transfer moves files between the local filesystem and the
// device. It wraps the protocol engine with local file handling,
// progress reporting, the archive and notifications.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/pithecene-io/espterm/adapter"
	"github.com/pithecene-io/espterm/archive"
	"github.com/pithecene-io/espterm/log"
	"github.com/pithecene-io/espterm/protocol"
	"github.com/pithecene-io/espterm/types"
)

// Engine is the subset of *protocol.Engine the service drives.
type Engine interface {
	WriteFile(ctx context.Context, filename string, data []byte, observers ...protocol.Observer) (types.Response, error)
	ReadFile(ctx context.Context, filename string, observers ...protocol.Observer) ([]byte, error)
	ListFiles(ctx context.Context) ([]types.FileEntry, error)
	DeleteFile(ctx context.Context, filename string) (types.Response, error)
	ExecuteCommand(ctx context.Context, command string) (types.Response, error)
}

var _ Engine = (*protocol.Engine)(nil)

// ErrRefused marks a device refusal surfaced as an error by callers that
// need one (exit codes).
var ErrRefused = errors.New("device refused")

// Config configures a Service. Every field is optional.
type Config struct {
	SessionID string
	Device    string
	// Archive, when set, journals every transfer and receives pulled
	// files on request.
	Archive *archive.Archive
	// Adapter, when set, is notified of every finished transfer.
	Adapter adapter.Adapter
	// Progress is called with a fresh observer for each transfer.
	Progress func(direction types.TransferDirection, name string) protocol.Observer
	Logger   *log.Logger
}

// Service orchestrates file transfers for one session.
type Service struct {
	engine Engine
	cfg    Config
	now    func() time.Time
}

// New creates a Service.
func New(engine Engine, cfg Config) *Service {
	return &Service{engine: engine, cfg: cfg, now: time.Now}
}

// Result describes a finished transfer.
type Result struct {
	Direction types.TransferDirection `json:"direction" yaml:"direction"`
	Local     string                  `json:"local,omitempty" yaml:"local,omitempty"`
	Remote    string                  `json:"remote" yaml:"remote"`
	Size      int64                   `json:"size" yaml:"size"`
	MD5       string                  `json:"md5,omitempty" yaml:"md5,omitempty"`
	Response  types.Response          `json:"response" yaml:"response"`
	Archived  *archive.Entry          `json:"archived,omitempty" yaml:"archived,omitempty"`
	Duration  time.Duration           `json:"duration_ns" yaml:"duration"`
}

func (s *Service) observers(dir types.TransferDirection, name string, last *types.TransferSession) []protocol.Observer {
	obs := []protocol.Observer{func(ts types.TransferSession) { *last = ts }}
	if s.cfg.Progress != nil {
		if p := s.cfg.Progress(dir, name); p != nil {
			obs = append(obs, p)
		}
	}
	return obs
}

// Put uploads a local file. remote defaults to the local base name.
// A device refusal is reported in Result.Response with a nil error.
func (s *Service) Put(ctx context.Context, local, remote string) (Result, error) {
	if remote == "" {
		remote = filepath.Base(local)
	}
	data, err := readLocal(local)
	if err != nil {
		return Result{}, err
	}
	res, err := s.write(ctx, remote, data)
	res.Local = local
	return res, err
}

// Restore pushes the latest archived copy of name back to the device.
func (s *Service) Restore(ctx context.Context, name, remote string) (Result, error) {
	if s.cfg.Archive == nil {
		return Result{}, errors.New("restore: no archive configured")
	}
	if remote == "" {
		remote = name
	}
	data, _, err := s.cfg.Archive.Get(ctx, name)
	if err != nil {
		return Result{}, fmt.Errorf("restore %s: %w", name, err)
	}
	return s.write(ctx, remote, data)
}

func (s *Service) write(ctx context.Context, remote string, data []byte) (Result, error) {
	start := s.now()
	var last types.TransferSession
	resp, err := s.engine.WriteFile(ctx, remote, data, s.observers(types.DirectionWrite, remote, &last)...)
	res := Result{
		Direction: types.DirectionWrite,
		Remote:    remote,
		Size:      int64(len(data)),
		MD5:       last.MD5,
		Response:  resp,
		Duration:  s.now().Sub(start),
	}
	s.finish(ctx, res, err)
	return res, err
}

// GetOptions configures Get.
type GetOptions struct {
	// Archive also stores the pulled file in the archive.
	Archive bool
	// Stdout skips the local file; the caller writes Data.
	Stdout bool
}

// Get downloads remote to local (default: remote's name in the current
// directory). The file is written atomically.
func (s *Service) Get(ctx context.Context, remote, local string, opts GetOptions) (Result, []byte, error) {
	if opts.Archive && s.cfg.Archive == nil {
		return Result{}, nil, errors.New("get: --archive requires an archive backend")
	}
	if local == "" && !opts.Stdout {
		local = remote
	}

	start := s.now()
	var last types.TransferSession
	data, err := s.engine.ReadFile(ctx, remote, s.observers(types.DirectionRead, remote, &last)...)
	res := Result{
		Direction: types.DirectionRead,
		Remote:    remote,
		Size:      int64(len(data)),
		MD5:       last.MD5,
		Response:  types.Response{OK: err == nil},
		Duration:  s.now().Sub(start),
	}
	if err == nil && !opts.Stdout {
		res.Local = local
		err = writeLocal(local, data)
	}
	if err == nil && opts.Archive {
		e, aerr := s.cfg.Archive.Put(ctx, remote, data)
		if aerr != nil {
			err = fmt.Errorf("archive %s: %w", remote, aerr)
		} else {
			res.Archived = &e
		}
	}
	if err != nil {
		res.Response = types.Response{OK: false, Payload: err.Error()}
	}
	s.finish(ctx, res, err)
	if err != nil {
		return res, nil, err
	}
	return res, data, nil
}

// List returns the device listing.
func (s *Service) List(ctx context.Context) ([]types.FileEntry, error) {
	return s.engine.ListFiles(ctx)
}

// Remove deletes a device file.
func (s *Service) Remove(ctx context.Context, name string) (types.Response, error) {
	resp, err := s.engine.DeleteFile(ctx, name)
	s.cfg.Logger.Info("delete finished", map[string]any{"file": name, "ok": resp.OK, "error": errString(err)})
	return resp, err
}

// Exec runs a device command.
func (s *Service) Exec(ctx context.Context, command string) (types.Response, error) {
	return s.engine.ExecuteCommand(ctx, command)
}

// finish logs, journals and publishes a transfer outcome. Journal and
// publish failures are logged, never returned.
func (s *Service) finish(ctx context.Context, res Result, err error) {
	outcome := adapter.OutcomeSuccess
	msg := res.Response.Payload
	switch {
	case err != nil:
		outcome = adapter.OutcomeFailed
		msg = err.Error()
	case !res.Response.OK:
		outcome = adapter.OutcomeRefused
	}

	fields := map[string]any{
		"direction":   string(res.Direction),
		"file":        res.Remote,
		"size":        res.Size,
		"outcome":     outcome,
		"duration_ms": res.Duration.Milliseconds(),
	}
	if msg != "" {
		fields["message"] = msg
	}
	if outcome == adapter.OutcomeSuccess {
		s.cfg.Logger.Info("transfer finished", fields)
	} else {
		s.cfg.Logger.Warn("transfer finished", fields)
	}

	// Bookkeeping outlives a cancelled transfer.
	ctx = context.WithoutCancel(ctx)
	if s.cfg.Archive != nil {
		rerr := s.cfg.Archive.Record(ctx, archive.Record{
			SessionID: s.cfg.SessionID,
			Direction: string(res.Direction),
			Filename:  res.Remote,
			Size:      res.Size,
			MD5:       res.MD5,
			OK:        outcome == adapter.OutcomeSuccess,
			Message:   msg,
			Duration:  res.Duration,
			At:        s.now(),
		})
		if rerr != nil {
			s.cfg.Logger.Warn("journal write failed", map[string]any{"error": rerr.Error()})
		}
	}
	if s.cfg.Adapter != nil {
		ev := adapter.NewTransferEvent(s.cfg.SessionID, s.cfg.Device, adapter.TransferInfo{
			Direction:  string(res.Direction),
			Filename:   res.Remote,
			Size:       res.Size,
			MD5:        res.MD5,
			Outcome:    outcome,
			Message:    msg,
			DurationMs: res.Duration.Milliseconds(),
		}, s.now())
		if perr := s.cfg.Adapter.Publish(ctx, ev); perr != nil {
			s.cfg.Logger.Warn("notification failed", map[string]any{"error": perr.Error()})
		}
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
