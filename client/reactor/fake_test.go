package reactor

import (
	"slices"
	"sync"
	"time"

	"github.com/adamwoolhether/rxhttp/client/engine"
)

// fakeEngine is an Engine whose progress is scripted by the test. Actions
// queued with do run on the reactor goroutine inside Perform, like real
// engine callbacks.
type fakeEngine struct {
	mu       sync.Mutex
	handlers map[engine.Token]engine.Handler
	actions  []func() []engine.Result
	removed  []engine.Token
	unpaused []engine.Token
	closed   bool

	// Scripted loop behavior.
	timeout     time.Duration
	hasTimeout  bool
	waits       []time.Duration
	waitErrs    []error
	performErrs []error

	kick  chan struct{}
	added chan engine.Token
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		handlers: make(map[engine.Token]engine.Handler),
		kick:     make(chan struct{}, 1),
		added:    make(chan engine.Token, 64),
	}
}

func (f *fakeEngine) Add(_ *engine.Descriptor, h engine.Handler, tok engine.Token) error {
	f.mu.Lock()
	f.handlers[tok] = h
	f.mu.Unlock()

	f.added <- tok
	return nil
}

func (f *fakeEngine) Remove(tok engine.Token) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.handlers[tok]; !ok {
		return engine.ErrUnknownToken
	}
	delete(f.handlers, tok)
	f.removed = append(f.removed, tok)
	return nil
}

func (f *fakeEngine) Unpause(tok engine.Token) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.handlers[tok]; !ok {
		return engine.ErrUnknownToken
	}
	f.unpaused = append(f.unpaused, tok)
	return nil
}

func (f *fakeEngine) Timeout() (time.Duration, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.timeout, f.hasTimeout
}

func (f *fakeEngine) Wait(wake <-chan struct{}, timeout time.Duration) (engine.Readiness, error) {
	f.mu.Lock()
	closed := f.closed
	f.waits = append(f.waits, timeout)
	var failure error
	if len(f.waitErrs) > 0 {
		failure, f.waitErrs = f.waitErrs[0], f.waitErrs[1:]
	}
	f.mu.Unlock()
	if closed {
		return engine.Readiness{}, engine.ErrClosed
	}
	if failure != nil {
		return engine.Readiness{}, failure
	}

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case <-f.kick:
		return engine.Readiness{Events: true}, nil
	case <-wake:
		return engine.Readiness{Woken: true}, nil
	case <-t.C:
		return engine.Readiness{}, nil
	}
}

func (f *fakeEngine) Perform() ([]engine.Result, error) {
	f.mu.Lock()
	if len(f.performErrs) > 0 {
		err := f.performErrs[0]
		f.performErrs = f.performErrs[1:]
		f.mu.Unlock()
		return nil, err
	}
	actions := f.actions
	f.actions = nil
	f.mu.Unlock()

	var out []engine.Result
	for _, fn := range actions {
		out = append(out, fn()...)
	}
	return out, nil
}

func (f *fakeEngine) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// do schedules fn on the reactor goroutine.
func (f *fakeEngine) do(fn func() []engine.Result) {
	f.mu.Lock()
	f.actions = append(f.actions, fn)
	f.mu.Unlock()

	select {
	case f.kick <- struct{}{}:
	default:
	}
}

// handler must be called from an action.
func (f *fakeEngine) handler(tok engine.Token) engine.Handler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlers[tok]
}

// headers feeds a header section to tok.
func (f *fakeEngine) headers(tok engine.Token, lines ...string) {
	f.do(func() []engine.Result {
		h := f.handler(tok)
		for _, l := range lines {
			if err := h.HeaderLine([]byte(l)); err != nil {
				f.mu.Lock()
				delete(f.handlers, tok)
				f.mu.Unlock()
				return []engine.Result{{Token: tok, Err: err}}
			}
		}
		return nil
	})
}

// finish reports tok as done with err.
func (f *fakeEngine) finish(tok engine.Token, err error) {
	f.do(func() []engine.Result {
		f.mu.Lock()
		delete(f.handlers, tok)
		f.mu.Unlock()
		return []engine.Result{{Token: tok, Err: err}}
	})
}

func (f *fakeEngine) wasRemoved(tok engine.Token) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Contains(f.removed, tok)
}

func (f *fakeEngine) unpauseCount(tok engine.Token) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, t := range f.unpaused {
		if t == tok {
			n++
		}
	}
	return n
}

func (f *fakeEngine) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// recommend makes Timeout report d.
func (f *fakeEngine) recommend(d time.Duration) {
	f.mu.Lock()
	f.timeout, f.hasTimeout = d, true
	f.mu.Unlock()
}

// failWait makes the next Wait return err.
func (f *fakeEngine) failWait(err error) {
	f.mu.Lock()
	f.waitErrs = append(f.waitErrs, err)
	f.mu.Unlock()
}

// failPerform makes the next Perform return err without running actions.
func (f *fakeEngine) failPerform(err error) {
	f.mu.Lock()
	f.performErrs = append(f.performErrs, err)
	f.mu.Unlock()
}

// waitTimeouts returns every timeout Wait was called with.
func (f *fakeEngine) waitTimeouts() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.waits)
}
