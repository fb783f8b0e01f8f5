// Package download streams response bodies to a filesystem with optional
// checksum validation and progress reporting.
//
// # Single Download
//
// [Handle] writes a response body to a temporary file alongside the
// destination path, then renames it into place once the body ended
// cleanly. A transfer cancelled through its body fails with
// [ErrDownloadCancelled]; one aborted by a stopped reactor fails with
// [ErrTransferAborted]:
//
//	err := download.Handle(ctx, afero.NewOsFs(), resp, destPath, logger,
//		download.WithChecksum(sha256.New(), expectedHex),
//	)
//
// # Batches
//
// A [Batch] runs asynchronous downloads with a concurrency limit. Each
// download is a [Job]; [Job.Add] enqueues a sibling into the same Batch.
//
// Most callers should use the higher-level
// [github.com/adamwoolhether/rxhttp/client] package, which invokes
// Handle internally and re-exports the download options.
package download
