package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/adamwoolhether/rxhttp/client/config"
	"github.com/adamwoolhether/rxhttp/client/errs"
)

const defaultChunkSize = 32 << 10

// Multi is an Engine that runs each descriptor's wire exchange on a
// worker goroutine and marshals every handler callback back to the
// goroutine calling Perform. Workers block until their callback was
// answered, so the handler never runs concurrently with itself.
type Multi struct {
	logger    *slog.Logger
	chunkSize int

	// Owner goroutine only.
	transfers map[Token]*xfer
	closed    bool

	mu      sync.Mutex
	events  []event
	clients map[config.Options]*http.Client

	ready chan struct{}
}

// MultiOption configures a Multi.
type MultiOption func(*Multi) error

// WithEngineLogger sets the logger. Default is slog.Default().
func WithEngineLogger(logger *slog.Logger) MultiOption {
	return func(m *Multi) error {
		if logger == nil {
			return errors.New("logger must not be nil")
		}
		m.logger = logger
		return nil
	}
}

// WithChunkSize sets the largest inbound chunk handed to WriteBody.
func WithChunkSize(n int) MultiOption {
	return func(m *Multi) error {
		if n <= 0 {
			return fmt.Errorf("chunk size[%d] must be greater than zero", n)
		}
		m.chunkSize = n
		return nil
	}
}

// NewMulti creates an idle engine.
func NewMulti(optFns ...MultiOption) (*Multi, error) {
	m := &Multi{
		logger:    slog.Default(),
		chunkSize: defaultChunkSize,
		transfers: make(map[Token]*xfer),
		clients:   make(map[config.Options]*http.Client),
		ready:     make(chan struct{}, 1),
	}

	for _, opt := range optFns {
		if err := opt(m); err != nil {
			return nil, fmt.Errorf("applying engine option: %w", err)
		}
	}

	return m, nil
}

// xfer is the engine's record of one registered descriptor.
type xfer struct {
	tok     Token
	handler Handler
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	resume  chan struct{}
	paused  bool
}

type eventKind uint8

const (
	evHeaders eventKind = iota + 1
	evRead
	evWrite
	evDone
)

type reply struct {
	n      int
	paused bool
	err    error
}

// event is a callback request posted by a worker.
type event struct {
	kind  eventKind
	x     *xfer
	lines [][]byte
	buf   []byte
	err   error
	reply chan reply
}

// Add registers d and starts its worker.
func (m *Multi) Add(d *Descriptor, h Handler, tok Token) error {
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.transfers[tok]; ok {
		return fmt.Errorf("token %d already registered", tok)
	}

	client, err := m.client(d.Options)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	x := &xfer{
		tok:     tok,
		handler: h,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		resume:  make(chan struct{}, 1),
	}
	m.transfers[tok] = x

	go m.run(client, d, x)

	return nil
}

// Remove aborts and forgets the descriptor registered under tok.
func (m *Multi) Remove(tok Token) error {
	x, ok := m.transfers[tok]
	if !ok {
		return ErrUnknownToken
	}

	m.drop(x)

	return nil
}

// Unpause resumes inbound delivery for tok. Unpausing a running
// descriptor is a no-op.
func (m *Multi) Unpause(tok Token) error {
	x, ok := m.transfers[tok]
	if !ok {
		return ErrUnknownToken
	}
	if !x.paused {
		return nil
	}

	x.paused = false
	select {
	case x.resume <- struct{}{}:
	default:
	}

	return nil
}

// Timeout recommends an immediate Perform while events are queued.
func (m *Multi) Timeout() (time.Duration, bool) {
	if m.pending() {
		return 0, true
	}
	return 0, false
}

// Wait blocks until an event is queued, wake fires, or timeout passes.
func (m *Multi) Wait(wake <-chan struct{}, timeout time.Duration) (Readiness, error) {
	if m.closed {
		return Readiness{}, ErrClosed
	}
	if m.pending() {
		return Readiness{Events: true}, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-m.ready:
		return Readiness{Events: true}, nil
	case <-wake:
		return Readiness{Woken: true}, nil
	case <-timer.C:
		return Readiness{}, nil
	}
}

// Perform answers every queued callback and reports finished descriptors.
func (m *Multi) Perform() ([]Result, error) {
	if m.closed {
		return nil, ErrClosed
	}

	m.mu.Lock()
	events := m.events
	m.events = nil
	m.mu.Unlock()

	var results []Result
	for _, ev := range events {
		// Events of removed descriptors, or of an earlier occupant of a
		// reused token, are stale.
		if cur, ok := m.transfers[ev.x.tok]; !ok || cur != ev.x {
			continue
		}

		if err := m.dispatch(ev); err != nil {
			m.drop(ev.x)
			results = append(results, Result{Token: ev.x.tok, Err: err})
			continue
		}

		if ev.kind == evDone {
			m.drop(ev.x)
			m.logger.Debug("engine descriptor finished", "token", ev.x.tok, "error", ev.err)
			results = append(results, Result{Token: ev.x.tok, Err: ev.err})
		}
	}

	return results, nil
}

// Close aborts every descriptor.
func (m *Multi) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true

	for _, x := range m.transfers {
		m.drop(x)
	}

	m.mu.Lock()
	for _, c := range m.clients {
		c.CloseIdleConnections()
	}
	m.mu.Unlock()

	return nil
}

// dispatch runs the handler callback for ev and answers the worker.
// A returned error fails the transfer.
func (m *Multi) dispatch(ev event) error {
	x := ev.x

	switch ev.kind {
	case evHeaders:
		for _, line := range ev.lines {
			if err := x.handler.HeaderLine(line); err != nil {
				ev.reply <- reply{err: err}
				return err
			}
		}
		ev.reply <- reply{}

	case evRead:
		n, err := x.handler.ReadBody(ev.buf)
		if err != nil && !errors.Is(err, io.EOF) {
			ev.reply <- reply{err: err}
			return fmt.Errorf("reading request body: %w", err)
		}
		ev.reply <- reply{n: n}

	case evWrite:
		n, err := x.handler.WriteBody(ev.buf)
		switch {
		case errors.Is(err, ErrPause):
			x.paused = true
			ev.reply <- reply{n: n, paused: true}
		case err != nil:
			ev.reply <- reply{err: err}
			return err
		default:
			ev.reply <- reply{n: n}
		}
	}

	return nil
}

func (m *Multi) drop(x *xfer) {
	delete(m.transfers, x.tok)
	x.cancel()
	close(x.done)
}

func (m *Multi) pending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events) > 0
}

func (m *Multi) post(ev event) {
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()

	select {
	case m.ready <- struct{}{}:
	default:
	}
}

// call posts ev and waits for the owner's answer. It returns false if
// the descriptor was removed meanwhile.
func (m *Multi) call(ev event) (reply, bool) {
	ev.reply = make(chan reply, 1)
	m.post(ev)

	select {
	case r := <-ev.reply:
		return r, true
	case <-ev.x.done:
		return reply{}, false
	}
}

// client returns a shared *http.Client for opts, so descriptors with
// equal options reuse connections.
func (m *Multi) client(opts config.Options) (*http.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.clients[opts]; ok {
		return c, nil
	}

	c, err := NewClient(opts)
	if err != nil {
		return nil, err
	}
	m.clients[opts] = c

	return c, nil
}

// /////////////////////////////////////////////////////////////////

// run executes the wire exchange of one descriptor.
func (m *Multi) run(client *http.Client, d *Descriptor, x *xfer) {
	finish := func(err error) {
		m.post(event{kind: evDone, x: x, err: err})
	}

	var body io.Reader
	if d.HasBody {
		body = &pullBody{m: m, x: x}
	}

	req, err := http.NewRequestWithContext(x.ctx, d.Method, d.URL.String(), body)
	if err != nil {
		finish(errs.New(errs.KindRequestBuild, err))
		return
	}
	if d.Header != nil {
		req.Header = d.Header.Clone()
	}
	if d.HasBody {
		req.ContentLength = d.ContentLength
		if d.ContentLength == 0 {
			req.ContentLength = -1
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		if x.ctx.Err() != nil {
			return
		}
		finish(errs.New(errs.KindTransferEngine, err))
		return
	}
	defer resp.Body.Close()

	r, ok := m.call(event{kind: evHeaders, x: x, lines: headerLines(resp)})
	if !ok || r.err != nil {
		return
	}

	buf := make([]byte, m.chunkSize)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 && !m.deliver(x, buf[:n]) {
			return
		}

		switch {
		case rerr == nil:
		case errors.Is(rerr, io.EOF):
			finish(nil)
			return
		default:
			if x.ctx.Err() != nil {
				return
			}
			finish(errs.New(errs.KindTransferEngine, rerr))
			return
		}
	}
}

// deliver hands chunk to the handler, honoring pauses. It returns false
// once the transfer should stop.
func (m *Multi) deliver(x *xfer, chunk []byte) bool {
	for len(chunk) > 0 {
		r, ok := m.call(event{kind: evWrite, x: x, buf: chunk})
		if !ok || r.err != nil {
			return false
		}
		chunk = chunk[min(r.n, len(chunk)):]

		if r.paused {
			select {
			case <-x.resume:
			case <-x.done:
				return false
			}
		}
	}

	return true
}

// headerLines renders resp's header section the way a wire parser
// would see it. Key order is sorted; value order per key is kept.
func headerLines(resp *http.Response) [][]byte {
	keys := make([]string, 0, len(resp.Header))
	for k := range resp.Header {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	lines := make([][]byte, 0, len(keys)+2)
	lines = append(lines, fmt.Appendf(nil, "%s %s\r\n", resp.Proto, resp.Status))
	for _, k := range keys {
		for _, v := range resp.Header[k] {
			lines = append(lines, fmt.Appendf(nil, "%s: %s\r\n", k, v))
		}
	}
	lines = append(lines, []byte("\r\n"))

	return lines
}

// pullBody is the outbound body net/http reads; each Read is answered by
// the handler on the owner goroutine.
type pullBody struct {
	m   *Multi
	x   *xfer
	eof bool
}

func (b *pullBody) Read(p []byte) (int, error) {
	if b.eof {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}

	r, ok := b.m.call(event{kind: evRead, x: b.x, buf: p})
	if !ok {
		return 0, errs.ErrCancelled
	}
	if r.err != nil {
		return 0, r.err
	}
	if r.n == 0 {
		b.eof = true
		return 0, io.EOF
	}

	return r.n, nil
}
