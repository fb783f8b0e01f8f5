// Package errs defines the error kinds surfaced by the client and its
// reactor, and a typed error that remembers where it was raised.
package errs

import (
	"errors"
	"fmt"
	"runtime"
)

// Kind classifies an error by the layer that produced it.
type Kind int

const (
	KindRequestBuild Kind = iota + 1
	KindTooManyConnections
	KindTransferEngine
	KindMalformedResponse
	KindChannelFailure
)

var (
	// ErrRequestBuild marks an invalid method, URI, header or option
	// detected before any transfer was submitted.
	ErrRequestBuild = errors.New("invalid request")
	// ErrTooManyConnections is returned when a capped pool has no idle
	// transport and may not create another one.
	ErrTooManyConnections = errors.New("too many connections")
	// ErrTransferEngine wraps a network, TLS or protocol failure reported
	// by the transfer engine. It is never retried.
	ErrTransferEngine = errors.New("transfer engine")
	// ErrMalformedResponse marks an undecodable status line or an
	// unrecognized line inside the header section.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrChannelFailure is delivered when the reactor can no longer be
	// reached, so a pending transfer fails instead of hanging.
	ErrChannelFailure = errors.New("reactor unreachable")

	// ErrCancelled is delivered to a transfer that was cancelled by its caller.
	ErrCancelled = errors.New("transfer cancelled")
)

var sentinels = map[Kind]error{
	KindRequestBuild:       ErrRequestBuild,
	KindTooManyConnections: ErrTooManyConnections,
	KindTransferEngine:     ErrTransferEngine,
	KindMalformedResponse:  ErrMalformedResponse,
	KindChannelFailure:     ErrChannelFailure,
}

func (k Kind) String() string {
	if err, ok := sentinels[k]; ok {
		return err.Error()
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a classified error.
type Error struct {
	Kind     Kind
	Err      error
	FuncName string
	FileName string
}

// New classifies err under kind, recording the calling function.
func New(kind Kind, err error) *Error {
	pc, filename, line, _ := runtime.Caller(1)

	return &Error{
		Kind:     kind,
		Err:      err,
		FuncName: runtime.FuncForPC(pc).Name(),
		FileName: fmt.Sprintf("%s:%d", filename, line),
	}
}

// Newf is New with a formatted cause.
func Newf(kind Kind, format string, args ...any) *Error {
	pc, filename, line, _ := runtime.Caller(1)

	return &Error{
		Kind:     kind,
		Err:      fmt.Errorf(format, args...),
		FuncName: runtime.FuncForPC(pc).Name(),
		FileName: fmt.Sprintf("%s:%d", filename, line),
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap exposes both the kind sentinel and the cause, so errors.Is
// matches either.
func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if s, ok := sentinels[e.Kind]; ok {
		out = append(out, s)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if !errors.As(err, &e) {
		return 0, false
	}
	return e.Kind, true
}
