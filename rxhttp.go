// Package rxhttp exposes the client builder.
//
// Transfers run on one background reactor per client. See the
// [github.com/adamwoolhether/rxhttp/client] package for the full API.
package rxhttp

import (
	"github.com/adamwoolhether/rxhttp/client"
)

// NewClient instantiates a new *Client with the provided options.
// Close it to stop its reactor.
func NewClient(opts ...client.Option) (*client.Client, error) {
	return client.Build(opts...)
}
