// Package transfer turns the engine's raw callbacks for one transfer into
// a structured Response and a streaming body.
package transfer

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/http/httpguts"

	"github.com/adamwoolhether/rxhttp/client/config"
	"github.com/adamwoolhether/rxhttp/client/engine"
	"github.com/adamwoolhether/rxhttp/client/errs"
)

// State is the position of a transfer in its header/body lifecycle.
type State uint8

const (
	AwaitingStatusLine State = iota
	ReadingHeaders
	StreamingBody
	Complete
)

func (s State) String() string {
	switch s {
	case AwaitingStatusLine:
		return "awaiting-status-line"
	case ReadingHeaders:
		return "reading-headers"
	case StreamingBody:
		return "streaming-body"
	case Complete:
		return "complete"
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

// Handler is the per-transfer state machine. It implements engine.Handler
// and must only be driven from the goroutine that owns the engine.
type Handler struct {
	state   State
	status  int
	version config.Version
	header  Header

	source  io.Reader
	body    *Buffer
	onReady func(Response)
}

// NewHandler returns a Handler that pulls the outbound body from source
// (nil for none), writes inbound bytes to body, and calls onReady once the
// final header section is complete.
func NewHandler(source io.Reader, body *Buffer, onReady func(Response)) *Handler {
	return &Handler{
		source:  source,
		body:    body,
		onReady: onReady,
	}
}

// State reports the current state.
func (h *Handler) State() State {
	return h.state
}

// Response returns a snapshot of the parsed status and headers with the
// body stream attached.
func (h *Handler) Response() Response {
	r := Response{
		Status:        h.status,
		Version:       h.version,
		Header:        h.header.Clone(),
		ContentLength: -1,
		Body:          h.body,
	}
	if cl := h.header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil && n >= 0 {
			r.ContentLength = n
		}
	}
	return r
}

// HeaderLine consumes one line of the header section.
func (h *Handler) HeaderLine(data []byte) error {
	if !utf8.Valid(data) {
		return errs.Newf(errs.KindMalformedResponse, "header line is not valid UTF-8")
	}
	line := string(data)

	switch {
	case h.state == AwaitingStatusLine:
		return h.statusLine(line)

	case h.state != ReadingHeaders:
		return errs.Newf(errs.KindMalformedResponse, "unexpected header line in state %s", h.state)

	case line == "\r\n" || line == "\n":
		return h.endOfHeaders()

	case strings.Contains(line, ":"):
		name, value, _ := strings.Cut(line, ":")
		if !httpguts.ValidHeaderFieldName(name) {
			return errs.Newf(errs.KindMalformedResponse, "invalid header name %q", name)
		}
		h.header.Add(name, strings.TrimSpace(value))
		return nil
	}

	return errs.Newf(errs.KindMalformedResponse, "unrecognized header line %q", strings.TrimSpace(line))
}

func (h *Handler) statusLine(line string) error {
	if !strings.HasPrefix(line, "HTTP/") {
		return errs.Newf(errs.KindMalformedResponse, "expected status line, got %q", strings.TrimSpace(line))
	}

	fields := strings.Fields(line)
	if len(fields) < 2 {
		return errs.Newf(errs.KindMalformedResponse, "status line %q has no status code", strings.TrimSpace(line))
	}

	code := fields[1]
	status, err := strconv.Atoi(code)
	if len(code) != 3 || err != nil || status < 100 {
		return errs.Newf(errs.KindMalformedResponse, "invalid status code %q", code)
	}

	h.version = config.ParseVersion(fields[0])
	h.status = status
	h.header = nil
	h.state = ReadingHeaders

	return nil
}

func (h *Handler) endOfHeaders() error {
	// Interim responses are followed by another header section.
	if h.status >= 100 && h.status < 200 && h.status != http.StatusSwitchingProtocols {
		h.state = AwaitingStatusLine
		return nil
	}

	h.state = StreamingBody
	if h.onReady != nil {
		h.onReady(h.Response())
	}

	return nil
}

// ReadBody pulls outbound bytes from the caller's body source.
func (h *Handler) ReadBody(p []byte) (int, error) {
	if h.source == nil {
		return 0, nil
	}

	n, err := h.source.Read(p)
	switch {
	case err == nil, errors.Is(err, io.EOF):
		return n, nil
	default:
		return 0, err
	}
}

// WriteBody buffers inbound bytes and reports engine.ErrPause when the
// buffer crosses its high-water mark.
func (h *Handler) WriteBody(p []byte) (int, error) {
	if h.state != StreamingBody {
		return 0, errs.Newf(errs.KindMalformedResponse, "body bytes received in state %s", h.state)
	}
	return h.body.Write(p)
}

// Finish moves the handler to Complete and ends the body stream with err,
// or io.EOF when err is nil.
func (h *Handler) Finish(err error) {
	h.state = Complete
	h.body.Finish(err)
}

var _ engine.Handler = (*Handler)(nil)
