package client

import (
	"hash"

	"github.com/adamwoolhether/rxhttp/client/download"
)

type (
	// DownloadOption configures [Client.Download] and [Client.DownloadAsync].
	DownloadOption = download.Option

	// DownloadError wraps a sentinel error with additional detail.
	DownloadError = download.Error

	// DownloadJob is an in-flight or completed async download.
	DownloadJob = download.Job

	// DownloadBatch groups async downloads sharing a concurrency limit.
	DownloadBatch = download.Batch
)

var (
	// ErrContentLengthMismatch indicates the byte count did not match Content-Length.
	ErrContentLengthMismatch = download.ErrContentLengthMismatch

	// ErrChecksumMismatch indicates the file checksum did not match the expected value.
	ErrChecksumMismatch = download.ErrChecksumMismatch

	// ErrDownloadCancelled indicates the download was cancelled via context.
	ErrDownloadCancelled = download.ErrDownloadCancelled

	// ErrTransferAborted indicates the transfer was aborted, e.g. by Close,
	// before the body ended.
	ErrTransferAborted = download.ErrTransferAborted

	// ErrBatchShutdown indicates the download batch was shut down.
	ErrBatchShutdown = download.ErrBatchShutdown
)

// WithChecksum enables checksum validation of the downloaded file.
// h is a [hash.Hash] instance (e.g. sha256.New()), and expected is the
// hex-encoded expected checksum string.
func WithChecksum(h hash.Hash, expected string) DownloadOption {
	return download.WithChecksum(h, expected)
}

// WithProgress enables periodic download progress logging.
func WithProgress() DownloadOption { return download.WithProgress() }

// WithSkipExisting causes a download to return nil immediately when
// the destination file already exists.
func WithSkipExisting() DownloadOption { return download.WithSkipExisting() }

// WithBatch runs the async download in a new batch limited to
// maxConcurrent downloads at once. If maxConcurrent <= 0, concurrency is unlimited.
func WithBatch(maxConcurrent int) DownloadOption { return download.WithBatch(maxConcurrent) }
