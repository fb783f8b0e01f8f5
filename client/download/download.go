package download

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/adamwoolhether/rxhttp/client/errs"
	"github.com/adamwoolhether/rxhttp/client/transfer"
)

// Handle streams resp.Body into a temp file next to destPath on fs and
// renames it into place once the body ended cleanly and matched both
// resp.ContentLength and the checksum, if any. The temp file is removed
// on any failure. Handle does not close resp.Body.
func Handle(ctx context.Context, fs afero.Fs, resp *transfer.Response, destPath string, logger *slog.Logger, optFns ...Option) error {
	opts, err := apply(optFns)
	if err != nil {
		return fmt.Errorf("applying option: %w", err)
	}

	if resp == nil || resp.Body == nil {
		return errors.New("response has no body")
	}

	if opts.skipExisting {
		if _, err := fs.Stat(destPath); err == nil {
			logger.Info("skipping existing file", "path", destPath)
			return nil
		}
	}

	file, err := afero.TempFile(fs, filepath.Dir(destPath), ".rxhttp-dl-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	s := &sink{w: file, sum: opts.checksum}
	if opts.progress {
		s.progress = &progressWriter{
			logger:    logger,
			total:     resp.ContentLength,
			startTime: time.Now(),
		}
	}

	err = s.fill(ctx, resp.Body)
	if err == nil {
		err = s.verify(resp.ContentLength)
	}
	if err == nil {
		err = commit(fs, file, destPath)
	}

	if err != nil {
		discard(fs, file, destPath, err, logger)
		return err
	}

	return nil
}

// commit flushes the temp file and moves it to destPath.
func commit(fs afero.Fs, file afero.File, destPath string) error {
	if err := file.Sync(); err != nil {
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := fs.Rename(file.Name(), destPath); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// discard removes the temp file of a failed download. The log level
// follows the cause: a cancelled transfer was asked for, a stopped
// reactor is an outside abort, anything else is a failure.
func discard(fs afero.Fs, file afero.File, destPath string, cause error, logger *slog.Logger) {
	if err := file.Close(); err != nil && !errors.Is(err, os.ErrClosed) && !errors.Is(err, afero.ErrFileClosed) {
		logger.Error("closing temp file", "error", err)
	}
	if err := fs.Remove(file.Name()); err != nil {
		logger.Error("failed to remove temp file", "path", file.Name(), "error", err)
	}

	switch {
	case errors.Is(cause, ErrDownloadCancelled):
		logger.Debug("download cancelled", "path", destPath)
	case errors.Is(cause, ErrTransferAborted):
		logger.Warn("download aborted", "path", destPath, "error", cause)
	default:
		logger.Error("download failed", "path", destPath, "error", cause)
	}
}

// sink counts and hashes what it writes to w.
type sink struct {
	w        io.Writer
	sum      *checksum
	progress *progressWriter
	n        int64
}

func (s *sink) Write(p []byte) (int, error) {
	n, err := s.w.Write(p)
	s.n += int64(n)
	if s.sum != nil {
		s.sum.hash.Write(p[:n])
	}
	if s.progress != nil {
		s.progress.update(s.n)
	}
	return n, err
}

// fill copies body until EOF, classifying a failed read by what ended
// the transfer.
func (s *sink) fill(ctx context.Context, body io.Reader) error {
	_, err := io.Copy(s, &contextReader{ctx: ctx, r: body})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, errs.ErrCancelled),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrDownloadCancelled, err)
	case errors.Is(err, errs.ErrChannelFailure):
		return fmt.Errorf("%w: %w", ErrTransferAborted, err)
	default:
		return fmt.Errorf("copying body: %w", err)
	}
}

// verify checks the byte count against contentLength, -1 when unknown,
// and the checksum.
func (s *sink) verify(contentLength int64) error {
	if contentLength >= 0 && s.n != contentLength {
		return &Error{
			Err:    ErrContentLengthMismatch,
			Detail: fmt.Sprintf("expected %d bytes, got %d", contentLength, s.n),
		}
	}

	if s.sum == nil {
		return nil
	}

	actual := hex.EncodeToString(s.sum.hash.Sum(nil))
	if actual != s.sum.expected {
		return &Error{
			Err:    ErrChecksumMismatch,
			Detail: fmt.Sprintf("expected %s, got %s", s.sum.expected, actual),
		}
	}

	return nil
}

type checksum struct {
	hash     hash.Hash
	expected string
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *contextReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
