// Package engine defines the capability contract of the native transfer
// engine the reactor drives, and Multi, an implementation that executes
// the wire exchange with net/http.
//
// Registration, removal and Perform are only safe from a single
// goroutine, the owner of the engine. Handler callbacks always run on
// that goroutine, inside Perform.
package engine

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/adamwoolhether/rxhttp/client/config"
)

var (
	// ErrPause is returned by Handler.WriteBody to stop inbound delivery
	// until the descriptor is unpaused.
	ErrPause = errors.New("pause transfer")
	// ErrUnknownToken is returned for tokens that name no registered descriptor.
	ErrUnknownToken = errors.New("unknown token")
	// ErrClosed is returned by a closed engine.
	ErrClosed = errors.New("engine closed")
	// ErrTooManyRedirects is reported when a redirect limit is exceeded.
	ErrTooManyRedirects = errors.New("too many redirects")
)

// Token identifies a registered descriptor. The owner chooses it.
type Token uint64

// Descriptor is everything the engine needs to run one transfer.
type Descriptor struct {
	Method string
	URL    *url.URL
	Header http.Header

	// HasBody reports whether an outbound body is pulled through
	// Handler.ReadBody. ContentLength is -1 when unknown.
	HasBody       bool
	ContentLength int64

	Options config.Options
}

// Handler receives the engine's callbacks for one descriptor.
type Handler interface {
	// HeaderLine is called for every line outside the body, including
	// the status line and the blank terminator. A non-nil error fails
	// the transfer.
	HeaderLine(line []byte) error

	// ReadBody fills p with outbound body bytes. Returning 0 (or io.EOF)
	// ends the body; any other error aborts the transfer.
	ReadBody(p []byte) (int, error)

	// WriteBody consumes inbound body bytes. Returning ErrPause pauses
	// the descriptor after the first n bytes were consumed; the rest is
	// redelivered after Unpause. p must not be retained.
	WriteBody(p []byte) (int, error)
}

// Result reports a finished descriptor. Err is nil on success.
type Result struct {
	Token Token
	Err   error
}

// Readiness reports what ended a Wait.
type Readiness struct {
	// Woken is set when the extra wake signal fired.
	Woken bool
	// Events is set when the engine has callbacks or completions queued.
	Events bool
}

// Engine is the native transfer engine capability the reactor needs.
type Engine interface {
	Add(d *Descriptor, h Handler, tok Token) error
	Remove(tok Token) error
	Unpause(tok Token) error

	// Timeout returns the recommended upper bound for the next Wait.
	Timeout() (time.Duration, bool)

	// Wait blocks until the engine has work, wake fires, or timeout passes.
	Wait(wake <-chan struct{}, timeout time.Duration) (Readiness, error)

	// Perform runs queued callbacks without blocking and reports which
	// descriptors finished.
	Perform() ([]Result, error)

	Close() error
}
