// Package pool hands out Transports for synchronous requests and takes
// them back when the response body is done.
//
// A Transport is owned by exactly one of the pool's idle list or a single
// in-flight Stream. A Stream releases its Transport once, on the earlier
// of reading the body to completion or being closed.
package pool

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/adamwoolhether/rxhttp/client/config"
	"github.com/adamwoolhether/rxhttp/client/errs"
	"github.com/adamwoolhether/rxhttp/client/transfer"
	"github.com/adamwoolhether/rxhttp/client/transport"
)

// Factory creates a Transport.
type Factory func() (*transport.Transport, error)

// Option is a functional option for configuring a [Pool] via [New].
type Option func(*options) error

type options struct {
	logger  *slog.Logger
	factory Factory
}

// WithLogger injects a custom [slog.Logger].
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) error {
		if logger == nil {
			return errors.New("logger must not be nil")
		}
		o.logger = logger
		return nil
	}
}

// WithFactory replaces how new Transports are created.
func WithFactory(f Factory) Option {
	return func(o *options) error {
		if f == nil {
			return errors.New("factory must not be nil")
		}
		o.factory = f
		return nil
	}
}

// Pool is a mutex-guarded idle list of Transports.
type Pool struct {
	logger  *slog.Logger
	factory Factory
	max     int

	mu      sync.Mutex
	idle    []*transport.Transport
	created int
	closed  bool
}

// New creates a pool whose Transports are built from opts and preloads
// cfg.Preload of them.
func New(opts config.Options, cfg config.Pool, optFns ...Option) (*Pool, error) {
	o := options{
		logger: slog.Default(),
		factory: func() (*transport.Transport, error) {
			return transport.New(opts)
		},
	}
	for _, opt := range optFns {
		if err := opt(&o); err != nil {
			return nil, err
		}
	}

	if cfg.Preload < 0 || cfg.MaxConnections < 0 {
		return nil, fmt.Errorf("preload[%d] and max connections[%d] must not be negative", cfg.Preload, cfg.MaxConnections)
	}
	if cfg.MaxConnections > 0 && cfg.Preload > cfg.MaxConnections {
		return nil, fmt.Errorf("preload[%d] exceeds max connections[%d]", cfg.Preload, cfg.MaxConnections)
	}

	p := &Pool{
		logger:  o.logger,
		factory: o.factory,
		max:     cfg.MaxConnections,
	}

	for range cfg.Preload {
		t, err := p.factory()
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("preloading transport: %w", err)
		}
		p.idle = append(p.idle, t)
		p.created++
	}

	return p, nil
}

// Acquire pops an idle Transport or creates one. A capped pool with no
// idle Transport fails with errs.ErrTooManyConnections.
func (p *Pool) Acquire() (*transport.Transport, error) {
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()
		return nil, errs.Newf(errs.KindChannelFailure, "pool closed")
	}

	if n := len(p.idle); n > 0 {
		t := p.idle[n-1]
		p.idle[n-1] = nil
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return t, nil
	}

	if p.max > 0 && p.created >= p.max {
		p.mu.Unlock()
		return nil, errs.Newf(errs.KindTooManyConnections, "pool is capped at %d", p.max)
	}
	p.created++
	p.mu.Unlock()

	t, err := p.factory()
	if err != nil {
		p.mu.Lock()
		p.created--
		p.mu.Unlock()
		return nil, err
	}

	p.logger.Debug("pool: created transport", "transport_id", t.ID)

	return t, nil
}

// Release returns t to the idle list. A closed pool discards it.
func (p *Pool) Release(t *transport.Transport) {
	p.mu.Lock()
	if p.closed {
		p.created--
		p.mu.Unlock()
		t.Close()
		return
	}
	p.idle = append(p.idle, t)
	p.mu.Unlock()
}

// Send checks out a Transport and executes req on it. The returned body
// is a Stream that gives the Transport back.
func (p *Pool) Send(req *http.Request) (transfer.Response, error) {
	t, err := p.Acquire()
	if err != nil {
		return transfer.Response{}, err
	}

	resp, err := t.Execute(req)
	if err != nil {
		p.Release(t)
		return transfer.Response{}, err
	}

	return transfer.FromHTTP(resp, newStream(p, t, resp.Body)), nil
}

// Idle returns the number of idle Transports.
func (p *Pool) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// Created returns the number of live Transports, idle or checked out.
func (p *Pool) Created() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.created
}

// Close discards every idle Transport. Transports still checked out are
// discarded when their Stream releases them.
func (p *Pool) Close() error {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.created -= len(idle)
	p.closed = true
	p.mu.Unlock()

	for _, t := range idle {
		t.Close()
	}

	return nil
}
