package protocol

import (
	"context"
	"crypto/md5" //nolint:gosec // MD5 is the device's integrity checksum, not a security boundary
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/pithecene-io/espterm/types"
)

// Device refusal messages returned in types.Response.Payload.
const (
	msgSameSize        = "File exists with same size"
	prefixNotReady     = "Not ready for write: "
	prefixChunkPrep    = "Chunk prep failed: "
	prefixChunkVerify  = "Chunk verification failed: "
	prefixFileInfo     = "failed to get file info: "
	prefixAfterRead    = "error after reading file: "
	prefixListRejected = "failed to list files: "
)

func md5Hex(p []byte) string {
	sum := md5.Sum(p) //nolint:gosec // see import
	return hex.EncodeToString(sum[:])
}

// WriteFile uploads data as filename in ChunkSize chunks, each verified by
// MD5. Device refusals are returned as a Response with OK false.
func (e *Engine) WriteFile(ctx context.Context, filename string, data []byte, observers ...Observer) (types.Response, error) {
	const op = "write file"
	if err := ValidateFilename(filename); err != nil {
		return types.Response{}, err
	}
	if err := ValidateSize(int64(len(data))); err != nil {
		return types.Response{}, err
	}

	sess := types.TransferSession{
		Direction:   types.DirectionWrite,
		Filename:    filename,
		TotalSize:   int64(len(data)),
		MD5:         md5Hex(data),
		TotalChunks: types.ChunkCount(int64(len(data))),
		State:       types.TransferValidating,
	}
	e.observe(sess, observers)

	var resp types.Response
	err := e.batch(ctx, op, func(ctx context.Context) error {
		sess.State = types.TransferAwaitingCheck
		e.observe(sess, observers)
		r, err := e.roundTrip(ctx, op, types.FormatCommand(types.CmdCheckFile, filename), Single)
		if err != nil {
			return err
		}
		if r.OK {
			if existing, ok := parseExistingSize(r.Payload); ok && existing == sess.TotalSize {
				resp = types.Response{OK: false, Payload: msgSameSize}
				return nil
			}
		}

		header := fmt.Sprintf("%s,%d,%s", filename, sess.TotalSize, sess.MD5)
		r, err = e.roundTrip(ctx, op, types.FormatCommand(types.CmdWriteFile, header), Single)
		if err != nil {
			return err
		}
		if !r.OK {
			resp = types.Response{OK: false, Payload: prefixNotReady + r.Payload}
			return nil
		}

		sess.State = types.TransferWriting
		e.observe(sess, observers)
		for i := range sess.TotalChunks {
			start := i * types.ChunkSize
			chunk := data[start:min(start+types.ChunkSize, len(data))]

			r, err = e.roundTrip(ctx, op, types.FormatCommand(types.CmdChunk, fmt.Sprintf("%d,%s", len(chunk), md5Hex(chunk))), Single)
			if err != nil {
				return err
			}
			if !r.OK {
				e.cfg.Metrics.IncChunksFailed()
				resp = types.Response{OK: false, Payload: prefixChunkPrep + r.Payload}
				return nil
			}
			if err := e.send(op, chunk, false); err != nil {
				return err
			}
			r, err = e.waitFor(ctx, op, 0, Single)
			if err != nil {
				return err
			}
			if !r.OK {
				e.cfg.Metrics.IncChunksFailed()
				resp = types.Response{OK: false, Payload: prefixChunkVerify + r.Payload}
				return nil
			}
			e.cfg.Metrics.IncChunksSent(len(chunk))
			sess.ChunksSent++
			sess.BytesDone += int64(len(chunk))
			e.observe(sess, observers)
		}

		sess.State = types.TransferVerifying
		e.observe(sess, observers)
		r, err = e.roundTrip(ctx, op, types.FormatCommand(types.CmdVerifyFile), Single)
		if err != nil {
			return err
		}
		resp = types.Response{OK: r.OK, Payload: r.Payload}
		return nil
	})

	e.finish(&sess, resp, err, observers)
	return resp, err
}

// ReadFile downloads filename. The device streams the content in
// ChunkSize slices, each acknowledged by the host.
func (e *Engine) ReadFile(ctx context.Context, filename string, observers ...Observer) ([]byte, error) {
	const op = "read file"
	if err := ValidateFilename(filename); err != nil {
		return nil, err
	}

	sess := types.TransferSession{
		Direction: types.DirectionRead,
		Filename:  filename,
		State:     types.TransferValidating,
	}
	e.observe(sess, observers)

	var data []byte
	err := e.batch(ctx, op, func(ctx context.Context) error {
		sess.State = types.TransferAwaitingCheck
		e.observe(sess, observers)
		r, err := e.roundTrip(ctx, op, types.FormatCommand(types.CmdReadFile, filename), Single)
		if err != nil {
			return err
		}
		if !r.OK {
			return protocolError(op, "%s%s", prefixFileInfo, r.Payload)
		}
		size, sum, err := parseFileInfo(r.Payload)
		if err != nil {
			return err
		}
		sess.TotalSize = size
		sess.MD5 = sum
		sess.TotalChunks = types.ChunkCount(size)
		sess.State = types.TransferReading
		e.observe(sess, observers)

		data, err = e.readSlices(ctx, op, &sess, observers)
		if err != nil {
			return err
		}
		if got := md5Hex(data); got != sum {
			e.cfg.Metrics.IncHashMismatches()
			data = nil
			// The device still sends its trailing ack; it must not leak
			// to the display once the link is released.
			_, _ = e.waitFor(ctx, op, 0, Single)
			return &Error{Kind: KindProtocol, Op: op, Msg: fmt.Sprintf("expected %s, got %s", sum, got), Err: ErrHashMismatch}
		}

		sess.State = types.TransferVerifying
		e.observe(sess, observers)
		r, err = e.waitFor(ctx, op, 0, Single)
		if err != nil {
			data = nil
			return err
		}
		if !r.OK {
			data = nil
			return protocolError(op, "%s%s", prefixAfterRead, r.Payload)
		}
		return nil
	})

	resp := types.Response{OK: err == nil}
	e.finish(&sess, resp, err, observers)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// readSlices reads size raw bytes in ChunkSize slices with block mode on,
// acknowledging each slice.
func (e *Engine) readSlices(ctx context.Context, op string, sess *types.TransferSession, observers []Observer) ([]byte, error) {
	if err := e.acquire(ctx, op); err != nil {
		return nil, err
	}
	defer e.release()

	e.link.SetBlock(true)
	defer e.link.SetBlock(false)

	data := make([]byte, 0, sess.TotalSize)
	for int64(len(data)) < sess.TotalSize {
		n := int(min(int64(types.ChunkSize), sess.TotalSize-int64(len(data))))
		slice, err := e.readExact(ctx, op, n)
		if err != nil {
			return nil, err
		}
		data = append(data, slice...)
		if err := e.send(op, []byte(types.ReadAck), false); err != nil {
			return nil, err
		}
		e.cfg.Metrics.AddBytesDownloaded(n)
		sess.ChunksSent++
		sess.BytesDone = int64(len(data))
		e.observe(*sess, observers)
	}
	return data, nil
}

// ListFiles returns the device's file listing.
func (e *Engine) ListFiles(ctx context.Context) ([]types.FileEntry, error) {
	const op = "list files"
	var entries []types.FileEntry
	err := e.batch(ctx, op, func(ctx context.Context) error {
		r, err := e.roundTrip(ctx, op, types.FormatCommand(types.CmdListFiles), CollectUntilEnd)
		if err != nil {
			return err
		}
		if !r.OK {
			return protocolError(op, "%s%s", prefixListRejected, r.Payload)
		}
		entries, err = ParseListing(r.Lines)
		return err
	})
	e.countProtocolError(err)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// DeleteFile removes filename from the device.
func (e *Engine) DeleteFile(ctx context.Context, filename string) (types.Response, error) {
	if err := ValidateFilename(filename); err != nil {
		return types.Response{}, err
	}
	return e.single(ctx, "delete file", types.FormatCommand(types.CmdDeleteFile, filename))
}

// ExecuteCommand runs a free-form device command.
func (e *Engine) ExecuteCommand(ctx context.Context, command string) (types.Response, error) {
	command = strings.TrimRight(command, "\r\n")
	if strings.TrimSpace(command) == "" {
		return types.Response{}, validationError("execute command", "command is empty")
	}
	if strings.ContainsAny(command, "\r\n") {
		return types.Response{}, validationError("execute command", "command spans multiple lines")
	}
	return e.single(ctx, "execute command", types.FormatCommand(types.CmdExec, command))
}

func (e *Engine) single(ctx context.Context, op, line string) (types.Response, error) {
	var resp types.Response
	err := e.batch(ctx, op, func(ctx context.Context) error {
		r, err := e.roundTrip(ctx, op, line, Single)
		if err != nil {
			return err
		}
		resp = types.Response{OK: r.OK, Payload: r.Payload}
		if !r.OK {
			e.cfg.Logger.Warn("device refused command", map[string]any{"op": op, "reply": describeReply(r)})
		}
		return nil
	})
	e.countProtocolError(err)
	return resp, err
}

func (e *Engine) finish(sess *types.TransferSession, resp types.Response, err error, observers []Observer) {
	e.countProtocolError(err)
	fields := map[string]any{
		"direction": string(sess.Direction),
		"filename":  sess.Filename,
		"size":      sess.TotalSize,
		"chunks":    sess.ChunksSent,
	}
	switch {
	case err != nil:
		sess.State = types.TransferFailed
		sess.Message = err.Error()
		fields["error"] = err.Error()
		e.cfg.Logger.Error("transfer failed", fields)
	case !resp.OK:
		sess.State = types.TransferFailed
		sess.Message = resp.Payload
		fields["reason"] = resp.Payload
		e.cfg.Logger.Warn("transfer refused", fields)
	default:
		sess.State = types.TransferDone
		sess.Message = resp.Payload
		e.cfg.Logger.Info("transfer completed", fields)
	}
	e.observe(*sess, observers)
}
