package download

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
)

// WorkFunc is one asynchronous download.
type WorkFunc func(ctx context.Context) error

// Submitter starts an asynchronous download. It matches
// client.DownloadAsync and lets a Job enqueue siblings.
type Submitter func(*http.Request, int, string, ...Option) (*Job, error)

// Batch runs a group of asynchronous downloads with an optional
// concurrency limit and collects their errors.
type Batch struct {
	wg     sync.WaitGroup
	sem    chan struct{}
	closed atomic.Bool

	mu   sync.Mutex
	errs []error
}

// NewBatch returns a Batch running at most maxConcurrent downloads at
// once. maxConcurrent <= 0 is unlimited.
func NewBatch(maxConcurrent int) *Batch {
	b := &Batch{}
	if maxConcurrent > 0 {
		b.sem = make(chan struct{}, maxConcurrent)
	}
	return b
}

// Go runs fn on its own goroutine once a slot is free.
func (b *Batch) Go(ctx context.Context, fn WorkFunc, submit Submitter) *Job {
	ctx, cancel := context.WithCancel(ctx)
	j := &Job{
		submit: submit,
		done:   make(chan struct{}),
		cancel: cancel,
		batch:  b,
	}

	b.wg.Add(1)
	go func() {
		defer func() {
			cancel()
			close(j.done)
			b.wg.Done()
		}()

		j.err = b.run(ctx, fn)
		if j.err != nil {
			b.record(j.err)
		}
	}()

	return j
}

func (b *Batch) run(ctx context.Context, fn WorkFunc) error {
	if b.sem != nil {
		select {
		case b.sem <- struct{}{}:
			defer func() { <-b.sem }()
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if b.closed.Load() {
		return ErrBatchShutdown
	}

	return fn(ctx)
}

// Wait blocks until every download finished and joins their errors.
func (b *Batch) Wait() error {
	b.wg.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()

	return errors.Join(b.errs...)
}

// Shutdown makes downloads that did not start yet fail with
// ErrBatchShutdown.
func (b *Batch) Shutdown() {
	b.closed.Store(true)
}

func (b *Batch) record(err error) {
	b.mu.Lock()
	b.errs = append(b.errs, err)
	b.mu.Unlock()
}

// /////////////////////////////////////////////////////////////////

// Job is one asynchronous download of a Batch.
type Job struct {
	submit Submitter
	done   chan struct{}
	err    error
	cancel context.CancelFunc
	batch  *Batch
}

// Add starts another download in the same Batch. A submission error is
// recorded in the Batch, so Wait reports it too.
func (j *Job) Add(req *http.Request, expCode int, destPath string, optFns ...Option) *Job {
	next, err := j.submit(req, expCode, destPath, slices.Concat([]Option{withBatch(j.batch)}, optFns)...)
	if err == nil {
		return next
	}

	j.batch.record(err)

	done := make(chan struct{})
	close(done)

	return &Job{submit: j.submit, done: done, err: err, cancel: func() {}, batch: j.batch}
}

// Done is closed when this download completed.
func (j *Job) Done() <-chan struct{} { return j.done }

// Err blocks until this download completed and returns its error.
func (j *Job) Err() error {
	<-j.done
	return j.err
}

// Wait blocks until every download of the Batch completed.
func (j *Job) Wait() error {
	return j.batch.Wait()
}

// Cancel cancels this download.
func (j *Job) Cancel() {
	j.cancel()
}
