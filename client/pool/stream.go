package pool

import (
	"io"
	"runtime"
	"sync/atomic"
	"weak"

	"github.com/adamwoolhether/rxhttp/client/transport"
)

// Stream is a response body that owns a checked-out Transport until the
// body is exhausted or closed.
type Stream struct {
	body  io.ReadCloser
	lease *lease
}

// lease is kept apart from Stream so a cleanup can release it after the
// Stream itself became unreachable.
type lease struct {
	t    atomic.Pointer[transport.Transport]
	pool weak.Pointer[Pool]
}

func newStream(p *Pool, t *transport.Transport, body io.ReadCloser) *Stream {
	l := &lease{pool: weak.Make(p)}
	l.t.Store(t)

	s := &Stream{body: body, lease: l}
	runtime.AddCleanup(s, (*lease).release, l)

	return s
}

// Read reads from the body. The Transport goes back to the pool once the
// body reports EOF or fails.
func (s *Stream) Read(p []byte) (int, error) {
	n, err := s.body.Read(p)
	if err != nil {
		s.lease.release()
	}
	return n, err
}

// Close closes the body and releases the Transport if Read did not.
func (s *Stream) Close() error {
	err := s.body.Close()
	s.lease.release()
	return err
}

// release hands the Transport back exactly once. Without a live pool it
// is discarded.
func (l *lease) release() {
	t := l.t.Swap(nil)
	if t == nil {
		return
	}

	if p := l.pool.Value(); p != nil {
		p.Release(t)
		return
	}
	t.Close()
}
