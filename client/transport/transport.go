// Package transport provides Transport, the reusable connection-capable
// resource checked out of a pool for one synchronous request.
package transport

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/adamwoolhether/rxhttp/client/config"
	"github.com/adamwoolhether/rxhttp/client/engine"
	"github.com/adamwoolhether/rxhttp/client/errs"
)

// Transport owns a dedicated connection cache configured from one
// Options snapshot. It must not be used by two requests at once.
type Transport struct {
	ID uuid.UUID

	opts   config.Options
	client *http.Client
}

// New creates a Transport for opts.
func New(opts config.Options) (*Transport, error) {
	c, err := engine.NewClient(opts)
	if err != nil {
		return nil, err
	}

	return &Transport{
		ID:     uuid.New(),
		opts:   opts.Clone(),
		client: c,
	}, nil
}

// Options returns the snapshot the Transport was built from.
func (t *Transport) Options() config.Options {
	return t.opts
}

// Execute performs req synchronously and returns once the response
// headers arrived. The caller owns resp.Body.
func (t *Transport) Execute(req *http.Request) (*http.Response, error) {
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, errs.New(errs.KindTransferEngine, err)
	}

	return resp, nil
}

// Close drops every idle connection.
func (t *Transport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}
