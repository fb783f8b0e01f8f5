// Package reactor drives many concurrent transfers on one background
// goroutine that exclusively owns the transfer engine.
//
// Callers never touch engine state. They talk to the loop through a FIFO
// command queue (Begin, Unpause, Cancel, Shutdown) and a coalescing wake
// signal, and receive each transfer's outcome on its own single-shot
// completion channel.
package reactor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/adamwoolhether/rxhttp/client/config"
	"github.com/adamwoolhether/rxhttp/client/engine"
	"github.com/adamwoolhether/rxhttp/client/errs"
	"github.com/adamwoolhether/rxhttp/client/transfer"
)

const tracerName = "github.com/adamwoolhether/rxhttp/client/reactor"

// ErrClosed is the cause of the ChannelFailure reported once the reactor
// was closed.
var ErrClosed = errors.New("reactor closed")

// Request describes one transfer to submit.
type Request struct {
	Method string
	URL    *url.URL
	Header http.Header

	// Body is pulled by the engine; nil sends no body. ContentLength is
	// -1 when unknown.
	Body          io.Reader
	ContentLength int64

	Options config.Options
}

// Reactor is a handle to the background transfer loop.
type Reactor struct {
	engine engine.Engine
	logger *slog.Logger
	tracer trace.Tracer
	cfg    config.Reactor

	mu      sync.Mutex
	queue   []command
	closing bool

	wake chan struct{}
	done chan struct{}

	// Loop goroutine only.
	arena arena
}

// New starts a reactor that owns eng. The reactor closes eng on Close.
func New(eng engine.Engine, optFns ...Option) (*Reactor, error) {
	if eng == nil {
		return nil, errors.New("engine must not be nil")
	}

	o := defaultOptions()
	for _, opt := range optFns {
		if err := opt(&o); err != nil {
			return nil, err
		}
	}

	r := &Reactor{
		engine: eng,
		logger: o.logger,
		tracer: o.tracer,
		cfg:    o.cfg,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	go r.run()

	return r, nil
}

// Begin submits req and returns a handle to its pending completion. It
// fails synchronously with a request-build error for an incomplete
// request, and with a ChannelFailure after Close.
func (r *Reactor) Begin(ctx context.Context, req Request) (*Pending, error) {
	if req.URL == nil || req.URL.Host == "" {
		return nil, errs.Newf(errs.KindRequestBuild, "request url %q has no host", req.URL)
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	p := &Pending{
		ID:     uuid.New(),
		r:      r,
		result: make(chan outcome, 1),
	}

	_, span := r.tracer.Start(ctx, "rxhttp.transfer",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.full", req.URL.Redacted()),
			attribute.String("rxhttp.transfer_id", p.ID.String()),
		),
	)

	if !r.enqueue(command{kind: cmdBegin, begin: &beginCmd{req: req, pending: p, span: span}}) {
		err := errs.New(errs.KindChannelFailure, ErrClosed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return nil, err
	}

	return p, nil
}

// Send is Begin followed by Wait.
func (r *Reactor) Send(ctx context.Context, req Request) (transfer.Response, error) {
	p, err := r.Begin(ctx, req)
	if err != nil {
		return transfer.Response{}, err
	}
	return p.Wait(ctx)
}

// Unpause resumes a transfer paused by backpressure. Unknown or finished
// tokens are ignored.
func (r *Reactor) Unpause(tok engine.Token) {
	r.enqueue(command{kind: cmdUnpause, tok: tok})
}

// Cancel aborts a transfer. Its completion, if not yet delivered, and its
// body stream fail with errs.ErrCancelled. Unknown or finished tokens are
// ignored.
func (r *Reactor) Cancel(tok engine.Token) {
	r.enqueue(command{kind: cmdCancel, tok: tok})
}

// Close stops the loop. Transfers still pending fail with a
// ChannelFailure, and the engine is closed. Close blocks until the loop
// exited and is safe to call more than once.
func (r *Reactor) Close() error {
	r.enqueue(command{kind: cmdShutdown})
	<-r.done
	return nil
}

// Done is closed once the loop exited.
func (r *Reactor) Done() <-chan struct{} {
	return r.done
}

// enqueue appends c and wakes the loop. It reports false once the reactor
// is shutting down.
func (r *Reactor) enqueue(c command) bool {
	r.mu.Lock()
	if r.closing {
		r.mu.Unlock()
		return false
	}
	if c.kind == cmdShutdown {
		r.closing = true
	}
	r.queue = append(r.queue, c)
	r.mu.Unlock()

	r.signal()

	return true
}

// signal wakes the loop. Signals sent before the loop drains coalesce
// into one.
func (r *Reactor) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// /////////////////////////////////////////////////////////////////

// Pending is the caller's side of one submitted transfer.
type Pending struct {
	ID uuid.UUID

	r      *Reactor
	result chan outcome

	// Set by the loop when the transfer is registered.
	tok engine.Token
}

type outcome struct {
	resp transfer.Response
	err  error
}

// Wait blocks until the response headers are available, the transfer
// failed, or ctx is done. Cancelling ctx cancels the transfer. Wait
// consumes the completion and must be called at most once.
func (p *Pending) Wait(ctx context.Context) (transfer.Response, error) {
	select {
	case o := <-p.result:
		return o.resp, o.err

	case <-ctx.Done():
		p.Cancel()
		return transfer.Response{}, ctx.Err()

	case <-p.r.done:
		// The loop resolves every pending entry before exiting.
		select {
		case o := <-p.result:
			return o.resp, o.err
		default:
			return transfer.Response{}, errs.New(errs.KindChannelFailure, ErrClosed)
		}
	}
}

// Cancel aborts the transfer. It is a no-op once the transfer finished.
func (p *Pending) Cancel() {
	p.r.enqueue(command{kind: cmdCancel, pending: p})
}

// /////////////////////////////////////////////////////////////////

type commandKind uint8

const (
	cmdBegin commandKind = iota + 1
	cmdUnpause
	cmdCancel
	cmdShutdown
)

type command struct {
	kind    commandKind
	tok     engine.Token
	pending *Pending
	begin   *beginCmd
}

type beginCmd struct {
	req     Request
	pending *Pending
	span    trace.Span
}

// entry is the loop's record of one active transfer.
type entry struct {
	pending   *Pending
	handler   *transfer.Handler
	body      *transfer.Buffer
	span      trace.Span
	started   time.Time
	delivered bool
}

// run is the loop. It exits only on Shutdown or when the engine reports
// it was closed underneath the reactor.
func (r *Reactor) run() {
	defer close(r.done)

	r.logger.Debug("reactor: started")
	defer r.logger.Debug("reactor: stopped")

	for {
		wait := r.cfg.DefaultWait
		if d, ok := r.engine.Timeout(); ok {
			wait = d
		}

		if _, err := r.engine.Wait(r.wake, wait); err != nil {
			if errors.Is(err, engine.ErrClosed) {
				r.shutdown()
				return
			}
			r.logger.Error("reactor: wait", "error", err)
		}

		// Drain the coalesced wake signal, if Wait did not consume it.
		select {
		case <-r.wake:
		default:
		}

		if stop := r.drainCommands(); stop {
			r.shutdown()
			return
		}

		results, err := r.engine.Perform()
		if err != nil {
			r.logger.Error("reactor: perform", "error", err)
		}
		for _, res := range results {
			r.finished(res)
		}
	}
}

// drainCommands runs every queued command in FIFO order. It reports
// whether a Shutdown was seen.
func (r *Reactor) drainCommands() bool {
	r.mu.Lock()
	queue := r.queue
	r.queue = nil
	r.mu.Unlock()

	for _, c := range queue {
		switch c.kind {
		case cmdBegin:
			r.begin(c.begin)

		case cmdUnpause:
			if _, ok := r.arena.get(c.tok); !ok {
				continue
			}
			if err := r.engine.Unpause(c.tok); err != nil {
				r.logger.Debug("reactor: unpause", "token", c.tok, "error", err)
			}

		case cmdCancel:
			tok := c.tok
			if c.pending != nil {
				tok = c.pending.tok
			}
			r.abort(tok, errs.ErrCancelled)

		case cmdShutdown:
			return true
		}
	}

	return false
}

func (r *Reactor) begin(c *beginCmd) {
	e := &entry{
		pending: c.pending,
		body:    transfer.NewBuffer(int(r.cfg.HighWater.Bytes()), int(r.cfg.LowWater.Bytes())),
		span:    c.span,
		started: time.Now(),
	}

	tok := r.arena.insert(e)
	c.pending.tok = tok

	e.handler = transfer.NewHandler(c.req.Body, e.body, func(resp transfer.Response) {
		e.span.SetAttributes(attribute.Int("http.response.status_code", resp.Status))
		r.deliver(e, outcome{resp: resp})
	})
	e.body.SetHooks(
		func() { r.Unpause(tok) },
		func() { r.Cancel(tok) },
	)

	desc := &engine.Descriptor{
		Method:        c.req.Method,
		URL:           c.req.URL,
		Header:        c.req.Header,
		HasBody:       c.req.Body != nil,
		ContentLength: c.req.ContentLength,
		Options:       c.req.Options.Clone(),
	}

	if err := r.engine.Add(desc, e.handler, tok); err != nil {
		r.arena.remove(tok)
		r.resolve(e, errs.New(errs.KindTransferEngine, err))
		return
	}

	r.logger.Debug("reactor: begin", "token", tok, "transfer_id", c.pending.ID, "method", desc.Method, "url", desc.URL.Redacted())
}

// finished handles a descriptor the engine reported as done.
func (r *Reactor) finished(res engine.Result) {
	e, ok := r.arena.remove(res.Token)
	if !ok {
		r.logger.Debug("reactor: stale completion", "token", res.Token)
		return
	}

	err := res.Err
	if err == nil && !e.delivered {
		err = errs.Newf(errs.KindMalformedResponse, "transfer finished before its header section")
	}

	r.resolve(e, err)
}

// abort removes an active transfer from the engine and fails it with
// cause.
func (r *Reactor) abort(tok engine.Token, cause error) {
	e, ok := r.arena.remove(tok)
	if !ok {
		return
	}

	if err := r.engine.Remove(tok); err != nil && !errors.Is(err, engine.ErrUnknownToken) {
		r.logger.Error("reactor: remove", "token", tok, "error", err)
	}

	r.resolve(e, cause)
}

// resolve ends the entry's body stream and delivers its completion if
// headers were not delivered yet.
func (r *Reactor) resolve(e *entry, err error) {
	e.handler.Finish(err)
	r.deliver(e, outcome{err: err})

	if err != nil {
		e.span.RecordError(err)
		e.span.SetStatus(codes.Error, err.Error())
	}
	e.span.End()

	r.logger.Debug("reactor: finished", "transfer_id", e.pending.ID, "elapsed", time.Since(e.started), "error", err)
}

// deliver fulfills the completion channel at most once. The channel has
// room for exactly one value, so delivery never blocks on a caller that
// went away.
func (r *Reactor) deliver(e *entry, o outcome) {
	if e.delivered {
		return
	}
	e.delivered = true

	select {
	case e.pending.result <- o:
	default:
		r.logger.Error("reactor: completion dropped", "transfer_id", e.pending.ID)
	}
}

// shutdown fails every pending transfer and closes the engine.
func (r *Reactor) shutdown() {
	cause := errs.New(errs.KindChannelFailure, ErrClosed)

	for _, tok := range r.arena.tokens() {
		r.abort(tok, cause)
	}

	// Begin commands racing with an engine-initiated exit.
	r.mu.Lock()
	r.closing = true
	queue := r.queue
	r.queue = nil
	r.mu.Unlock()

	for _, c := range queue {
		if c.kind == cmdBegin {
			c.begin.pending.result <- outcome{err: cause}
			c.begin.span.End()
		}
	}

	if err := r.engine.Close(); err != nil {
		r.logger.Error("reactor: closing engine", "error", err)
	}
}
