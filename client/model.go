package client

import (
	"errors"
	"fmt"

	"github.com/adamwoolhether/rxhttp/client/config"
	"github.com/adamwoolhether/rxhttp/client/errs"
	"github.com/adamwoolhether/rxhttp/client/transfer"
)

// maxErrBodySize caps the amount of response body read when
// building an error for an unexpected status code. This prevents
// unbounded memory usage when a large response arrives with a
// wrong status.
const maxErrBodySize = 4 << 10 // 4KB

// execFn represents a func to operate on a response.
type execFn func(response *Response) error

type (
	// Response is a status line and header section whose Body streams
	// lazily. The caller must close Body.
	Response = transfer.Response

	// Header is an insertion-ordered header collection.
	Header = transfer.Header

	// Options is the per-transfer configuration snapshot.
	Options = config.Options

	// RedirectPolicy selects how redirects are followed.
	RedirectPolicy = config.RedirectPolicy
)

var (
	// ErrUnexpectedStatusCode is the sentinel error wrapped by [UnexpectedStatusError].
	ErrUnexpectedStatusCode = errors.New("unexpected status code")
	// ErrAuthFailure is joined with [ErrUnexpectedStatusCode] when the server
	// responds with 401 Unauthorized or 403 Forbidden.
	ErrAuthFailure = errors.New("auth failure")
)

// Error kinds, matched with [errors.Is].
var (
	ErrRequestBuild       = errs.ErrRequestBuild
	ErrTooManyConnections = errs.ErrTooManyConnections
	ErrTransferEngine     = errs.ErrTransferEngine
	ErrMalformedResponse  = errs.ErrMalformedResponse
	ErrChannelFailure     = errs.ErrChannelFailure
	ErrCancelled          = errs.ErrCancelled
)

// UnexpectedStatusError is returned when the HTTP response status code
// does not match the expected value.
type UnexpectedStatusError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *UnexpectedStatusError) Error() string {
	return fmt.Sprintf("%v: %d, body: %s", e.Err, e.StatusCode, e.Body)
}

func (e *UnexpectedStatusError) Unwrap() error {
	return e.Err
}
