package transfer

import (
	"io"
	"net/http"
	"slices"

	"github.com/adamwoolhether/rxhttp/client/config"
)

// Response is the status and header section of a transfer. Body streams
// lazily and must be closed by the caller.
type Response struct {
	Status        int
	Version       config.Version
	Header        Header
	ContentLength int64
	Body          io.ReadCloser
}

// FromHTTP converts a net/http response, attaching body in place of
// resp.Body. Header names are sorted since http.Header keeps no receipt
// order across names; values of one name keep theirs.
func FromHTTP(resp *http.Response, body io.ReadCloser) Response {
	names := make([]string, 0, len(resp.Header))
	for k := range resp.Header {
		names = append(names, k)
	}
	slices.Sort(names)

	var h Header
	for _, k := range names {
		for _, v := range resp.Header[k] {
			h.Add(k, v)
		}
	}

	return Response{
		Status:        resp.StatusCode,
		Version:       config.ParseVersion(resp.Proto),
		Header:        h,
		ContentLength: resp.ContentLength,
		Body:          body,
	}
}
