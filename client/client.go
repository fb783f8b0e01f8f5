package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/spf13/afero"
	"golang.org/x/net/http/httpguts"

	"github.com/adamwoolhether/rxhttp/client/config"
	"github.com/adamwoolhether/rxhttp/client/download"
	"github.com/adamwoolhether/rxhttp/client/engine"
	"github.com/adamwoolhether/rxhttp/client/errs"
	"github.com/adamwoolhether/rxhttp/client/pool"
	"github.com/adamwoolhether/rxhttp/client/reactor"
	"github.com/adamwoolhether/rxhttp/client/throttle"
)

// Client submits requests either to a background reactor that
// multiplexes every transfer, or, when built WithPool, to a pool of
// synchronous transports. Both return as soon as the status and headers
// arrived; the body streams lazily.
type Client struct {
	logger    *slog.Logger
	opts      config.Options
	userAgent string
	limiter   *throttle.Limiter
	fs        afero.Fs

	reactor *reactor.Reactor
	pool    *pool.Pool
}

// Build creates a Client. Unless WithPool is given it starts a reactor,
// which runs until Close.
func Build(optFns ...Option) (*Client, error) {
	o := defaultOptions()
	for _, opt := range optFns {
		if err := opt(&o); err != nil {
			return nil, fmt.Errorf("applying client option: %w", err)
		}
	}

	if err := o.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		logger:    logger,
		opts:      o.cfg.Transfer.Clone(),
		userAgent: o.userAgent,
		fs:        o.fs,
	}

	if o.throttle != nil {
		lim, err := throttle.FromConfig(*o.throttle, logger)
		if err != nil {
			return nil, fmt.Errorf("configuring throttle: %w", err)
		}
		c.limiter = lim
	}

	if o.usePool {
		p, err := pool.New(c.opts, o.cfg.Pool, pool.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("configuring pool: %w", err)
		}
		c.pool = p
		return c, nil
	}

	eng := o.engine
	if eng == nil {
		m, err := engine.NewMulti(engine.WithEngineLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("configuring engine: %w", err)
		}
		eng = m
	}

	reactorOpts := []reactor.Option{
		reactor.WithLogger(logger),
		reactor.WithConfig(o.cfg.Reactor),
	}
	if o.tracer != nil {
		reactorOpts = append(reactorOpts, reactor.WithTracer(o.tracer))
	}

	r, err := reactor.New(eng, reactorOpts...)
	if err != nil {
		return nil, fmt.Errorf("starting reactor: %w", err)
	}
	c.reactor = r

	return c, nil
}

// Close stops the reactor, failing transfers still waiting for headers,
// or tears the pool down. Bodies of pooled responses stay readable.
func (c *Client) Close() error {
	if c.pool != nil {
		return c.pool.Close()
	}
	return c.reactor.Close()
}

// Get sends a GET request for uri.
func (c *Client) Get(ctx context.Context, uri string) (*Response, error) {
	return c.send(ctx, http.MethodGet, uri, nil)
}

// Post sends a POST request for uri with body.
func (c *Client) Post(ctx context.Context, uri string, body io.Reader) (*Response, error) {
	return c.send(ctx, http.MethodPost, uri, body)
}

// Put sends a PUT request for uri with body.
func (c *Client) Put(ctx context.Context, uri string, body io.Reader) (*Response, error) {
	return c.send(ctx, http.MethodPut, uri, body)
}

// Delete sends a DELETE request for uri.
func (c *Client) Delete(ctx context.Context, uri string) (*Response, error) {
	return c.send(ctx, http.MethodDelete, uri, nil)
}

func (c *Client) send(ctx context.Context, method, uri string, body io.Reader) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, uri, body)
	if err != nil {
		return nil, errs.New(errs.KindRequestBuild, err)
	}
	return c.Send(req)
}

// Send submits req and blocks until its status and headers are available
// or req's context is done. The caller must close the response body;
// closing it early cancels the rest of the transfer.
func (c *Client) Send(req *http.Request) (*Response, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	if c.userAgent != "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", c.userAgent)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context(), req.Method+" "+req.URL.Path); err != nil {
			return nil, err
		}
	}

	if c.pool != nil {
		resp, err := c.pool.Send(req)
		if err != nil {
			return nil, err
		}
		return &resp, nil
	}

	rr := reactor.Request{
		Method:        req.Method,
		URL:           req.URL,
		Header:        req.Header.Clone(),
		ContentLength: -1,
		Options:       c.opts,
	}
	if req.Body != nil && req.Body != http.NoBody {
		rr.Body = &closeOnDone{rc: req.Body}
		if req.ContentLength > 0 {
			rr.ContentLength = req.ContentLength
		}
	}

	resp, err := c.reactor.Send(req.Context(), rr)
	if err != nil {
		return nil, err
	}

	return &resp, nil
}

// Do will fire the request, and write response to the given dest object if any.
func (c *Client) Do(req *http.Request, expCode int, opts ...DoOption) error {
	var settings doOpts
	for _, opt := range opts {
		err := opt(&settings)
		if err != nil {
			return err
		}
	}

	doFunc := func(resp *Response) error {
		if settings.responseBody != nil {
			d := json.NewDecoder(resp.Body)

			if settings.useJSONNum {
				d.UseNumber()
			}

			if err := d.Decode(settings.responseBody); err != nil {
				return fmt.Errorf("decoding body: %w", err)
			}
		}

		return nil
	}

	return c.exec(req, expCode, doFunc)
}

// Download executes a request that's intended to stream the response body to destPath.
// Data streams to a temp file in the same directory, then the temp file is renamed to
// destPath on success or cleared on failure.
func (c *Client) Download(req *http.Request, expCode int, destPath string, opts ...DownloadOption) error {
	if destPath == "" {
		return errors.New("destPath must not be empty")
	}

	dlFunc := func(resp *Response) error {
		if err := download.Handle(req.Context(), c.fs, resp, destPath, c.logger, opts...); err != nil {
			return fmt.Errorf("download: %w", err)
		}

		return nil
	}

	return c.exec(req, expCode, dlFunc)
}

// DownloadAsync runs Download in the background. Pass [WithBatch] to
// limit how many downloads of one batch run at once, and use
// [DownloadJob.Add] to enqueue more.
func (c *Client) DownloadAsync(req *http.Request, expCode int, destPath string, opts ...DownloadOption) (*DownloadJob, error) {
	if destPath == "" {
		return nil, errors.New("destPath must not be empty")
	}

	batch, err := download.BatchFor(opts...)
	if err != nil {
		return nil, err
	}

	work := func(ctx context.Context) error {
		return c.Download(req.WithContext(ctx), expCode, destPath, opts...)
	}

	return batch.Go(req.Context(), work, c.DownloadAsync), nil
}

// Request instantiates an *http.Request with the provided information.
// It's just a convenience method that wraps the public Request func.
func (c *Client) Request(ctx context.Context, reqURL *url.URL, method string, opts ...RequestOption) (*http.Request, error) {
	return Request(ctx, reqURL, method, opts...)
}

// URL creates a url.URL for use in Request.
// It's just a convenience method that wraps the public URL func.
func (c *Client) URL(scheme, host, path string, opts ...URLOption) *url.URL {
	return URL(scheme, host, path, opts...)
}

// exec runs the request and injected function on success after validating the expected status code.
func (c *Client) exec(req *http.Request, expCode int, fn execFn) error {
	resp, err := c.Send(req)
	if err != nil {
		return fmt.Errorf("exec send: %w", err)
	}

	discardBody := true
	defer func() {
		if discardBody {
			if _, err := io.Copy(io.Discard, resp.Body); err != nil {
				c.logger.Error("failed to discard unused body", "error", err)
			}
		}
		if err := resp.Body.Close(); err != nil {
			c.logger.Error("failed to close response body", "error", err)
		}
	}()

	if resp.Status != expCode {
		b, err := io.ReadAll(io.LimitReader(resp.Body, maxErrBodySize))
		if err != nil {
			b = []byte("unable to read body")
		}

		statusErr := ErrUnexpectedStatusCode
		if resp.Status == http.StatusUnauthorized || resp.Status == http.StatusForbidden {
			statusErr = errors.Join(ErrUnexpectedStatusCode, ErrAuthFailure)
		}

		// Closing an unread body cancels the transfer.
		discardBody = false

		return &UnexpectedStatusError{
			StatusCode: resp.Status,
			Body:       string(b),
			Err:        statusErr,
		}
	}

	if err := fn(resp); err != nil {
		discardBody = false
		return fmt.Errorf("exec fn: %w", err)
	}

	return nil
}

// validate rejects requests no transfer could be built from.
func validate(req *http.Request) error {
	if req == nil {
		return errs.Newf(errs.KindRequestBuild, "nil request")
	}
	if req.URL == nil {
		return errs.Newf(errs.KindRequestBuild, "request has no url")
	}
	if req.URL.Host == "" {
		return errs.Newf(errs.KindRequestBuild, "request url %q has no host", req.URL.String())
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return errs.Newf(errs.KindRequestBuild, "unsupported scheme %q", req.URL.Scheme)
	}
	if req.Method != "" && !httpguts.ValidHeaderFieldName(req.Method) {
		return errs.Newf(errs.KindRequestBuild, "invalid method %q", req.Method)
	}

	for name, values := range req.Header {
		if !httpguts.ValidHeaderFieldName(name) {
			return errs.Newf(errs.KindRequestBuild, "invalid header name %q", name)
		}
		for _, v := range values {
			if !httpguts.ValidHeaderFieldValue(v) {
				return errs.Newf(errs.KindRequestBuild, "invalid value for header %q", name)
			}
		}
	}

	return nil
}

// closeOnDone closes the request body once it was read to the end or
// failed, since the engine only sees an io.Reader.
type closeOnDone struct {
	rc     io.ReadCloser
	closed bool
}

func (b *closeOnDone) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if err != nil && !b.closed {
		b.closed = true
		_ = b.rc.Close()
	}
	return n, err
}

// /////////////////////////////////////////////////////////////////

// Request instantiates an *http.Request with the provided information.
// Content-Type defaults to `application/json` if unspecified via WithContentType.
func Request(ctx context.Context, reqURL *url.URL, method string, opts ...RequestOption) (*http.Request, error) {
	var settings requestOpts
	for _, opt := range opts {
		err := opt(&settings)
		if err != nil {
			return nil, err
		}
	}

	var payload bytes.Buffer
	if settings.body != nil {
		if err := json.NewEncoder(&payload).Encode(settings.body); err != nil {
			return nil, fmt.Errorf("encoding request payload: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), &payload)
	if err != nil {
		return nil, errs.New(errs.KindRequestBuild, fmt.Errorf("instantiating request: %w", err))
	}

	for _, cookie := range settings.cookies {
		req.AddCookie(cookie)
	}

	contentType := "application/json"
	if settings.contentType != nil {
		contentType = *settings.contentType
	}

	req.Header.Set("Content-Type", contentType)
	for k, v := range settings.headers {
		for _, element := range v {
			req.Header.Add(k, element)
		}
	}

	return req, nil
}

// URL creates a url.URL for use in Request.
func URL(scheme, host, path string, opts ...URLOption) *url.URL {
	var settings urlOpts
	for _, opt := range opts {
		opt(&settings)
	}

	if settings.port != nil {
		host = fmt.Sprintf("%s:%d", host, *settings.port)
	}

	endpoint := url.URL{
		Scheme: scheme,
		Host:   host,
		Path:   path,
	}

	if settings.queryStrings != nil {
		queryParams := url.Values{}
		for k, v := range settings.queryStrings {
			queryParams.Add(k, v)
		}

		endpoint.RawQuery = queryParams.Encode()
	}

	return &endpoint
}
