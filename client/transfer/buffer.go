package transfer

import (
	"errors"
	"io"
	"sync"

	"github.com/adamwoolhether/rxhttp/client/engine"
)

// ErrBodyClosed is returned when reading a body after Close.
var ErrBodyClosed = errors.New("read on closed body")

// Buffer carries inbound body bytes from the reactor to a consumer.
//
// The producer side (Write, Finish) is called by the reactor only. Write
// reports engine.ErrPause once more than the high-water mark is buffered
// but unread; the consumer side (Read) calls the unpause hook exactly once
// when it drains the buffer below the low-water mark again.
type Buffer struct {
	mu   sync.Mutex
	cond *sync.Cond

	data   []byte
	high   int
	low    int
	paused bool

	finished bool
	err      error
	closed   bool

	unpause func()
	onClose func()
}

// NewBuffer creates a Buffer with the given water marks.
func NewBuffer(high, low int) *Buffer {
	b := &Buffer{high: high, low: low}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// SetHooks installs the function that resumes a paused producer and the
// function run when the consumer closes before the body finished.
// Either may be nil.
func (b *Buffer) SetHooks(unpause, onClose func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unpause = unpause
	b.onClose = onClose
}

// Write appends p. Bytes written after the consumer closed are dropped.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || b.finished {
		return len(p), nil
	}

	b.data = append(b.data, p...)
	b.cond.Broadcast()

	if len(b.data) > b.high && !b.paused {
		b.paused = true
		return len(p), engine.ErrPause
	}

	return len(p), nil
}

// Finish marks the body complete. A nil err ends it with io.EOF once
// drained; otherwise err is returned after the buffered bytes.
func (b *Buffer) Finish(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.finished {
		return
	}
	b.finished = true
	b.err = err
	b.cond.Broadcast()
}

// Read blocks until bytes are buffered or the body finished.
func (b *Buffer) Read(p []byte) (int, error) {
	b.mu.Lock()

	for len(b.data) == 0 && !b.finished && !b.closed {
		b.cond.Wait()
	}

	if b.closed {
		b.mu.Unlock()
		return 0, ErrBodyClosed
	}
	if len(b.data) == 0 {
		err := b.err
		b.mu.Unlock()
		if err == nil {
			err = io.EOF
		}
		return 0, err
	}

	n := copy(p, b.data)
	b.data = b.data[n:]
	if len(b.data) == 0 {
		b.data = nil
	}

	var resume func()
	if b.paused && (len(b.data) < b.low || len(b.data) == 0) {
		b.paused = false
		resume = b.unpause
	}
	b.mu.Unlock()

	if resume != nil {
		resume()
	}

	return n, nil
}

// Close discards buffered bytes. Closing before the body finished runs
// the onClose hook once.
func (b *Buffer) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.data = nil
	b.cond.Broadcast()

	var hook func()
	if !b.finished {
		hook = b.onClose
	}
	b.mu.Unlock()

	if hook != nil {
		hook()
	}

	return nil
}

// Buffered returns the number of unread bytes.
func (b *Buffer) Buffered() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Paused reports whether the producer is currently paused.
func (b *Buffer) Paused() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.paused
}

var _ io.ReadCloser = (*Buffer)(nil)
