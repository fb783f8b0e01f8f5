package download

import (
	"errors"
	"hash"
)

// Option defines optional settings for downloading files.
type Option func(*options) error

type options struct {
	checksum     *checksum
	progress     bool
	skipExisting bool
	batchLimit   *int
	batch        *Batch
}

// WithChecksum enables checksum validation of the downloaded file.
// h is a hash.Hash instance (e.g. sha256.New()), and expected is the
// hex-encoded expected checksum string.
func WithChecksum(h hash.Hash, expected string) Option {
	return func(opts *options) error {
		if h == nil {
			return errors.New("hash must not be nil")
		}
		if expected == "" {
			return errors.New("expected checksum must not be empty")
		}

		opts.checksum = &checksum{hash: h, expected: expected}
		return nil
	}
}

// WithProgress enables periodic progress logging.
func WithProgress() Option {
	return func(opts *options) error {
		opts.progress = true
		return nil
	}
}

// WithSkipExisting returns nil immediately when the destination file
// already exists.
func WithSkipExisting() Option {
	return func(opts *options) error {
		opts.skipExisting = true
		return nil
	}
}

// WithBatch starts a new Batch for an asynchronous download, running at
// most maxConcurrent downloads at once. maxConcurrent <= 0 is unlimited.
func WithBatch(maxConcurrent int) Option {
	return func(opts *options) error {
		if opts.batch != nil {
			return errors.New("download already belongs to a batch")
		}
		opts.batchLimit = &maxConcurrent
		return nil
	}
}

// withBatch joins an existing Batch.
func withBatch(b *Batch) Option {
	return func(opts *options) error {
		if opts.batchLimit != nil {
			return errors.New("download already belongs to a batch")
		}
		opts.batch = b
		return nil
	}
}

func apply(optFns []Option) (options, error) {
	var opts options
	for _, opt := range optFns {
		if err := opt(&opts); err != nil {
			return options{}, err
		}
	}
	return opts, nil
}

// BatchFor returns the Batch optFns name: the one joined through
// Job.Add, a new one from WithBatch, or a new unlimited Batch.
func BatchFor(optFns ...Option) (*Batch, error) {
	opts, err := apply(optFns)
	if err != nil {
		return nil, err
	}

	switch {
	case opts.batch != nil:
		return opts.batch, nil
	case opts.batchLimit != nil:
		return NewBatch(*opts.batchLimit), nil
	default:
		return NewBatch(0), nil
	}
}
