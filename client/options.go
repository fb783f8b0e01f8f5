package client

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/trace"

	"github.com/adamwoolhether/rxhttp/client/config"
	"github.com/adamwoolhether/rxhttp/client/engine"
	"github.com/adamwoolhether/rxhttp/client/throttle"
)

// Option is a functional option for configuring a [Client] via [Build].
// Options apply in order, so later options override what an earlier
// WithConfig or WithConfigFile set.
type Option func(*options) error

type options struct {
	cfg       config.Config
	logger    *slog.Logger
	tracer    trace.Tracer
	userAgent string
	throttle  *throttle.Config
	usePool   bool
	engine    engine.Engine
	fs        afero.Fs
}

func defaultOptions() options {
	return options{
		cfg: config.DefaultConfig(),
		fs:  afero.NewOsFs(),
	}
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg config.Config) Option {
	return func(o *options) error {
		o.cfg = cfg
		return nil
	}
}

// WithConfigFile loads the configuration from path on fs, with RXHTTP_
// environment overrides.
func WithConfigFile(fs afero.Fs, path string) Option {
	return func(o *options) error {
		cfg, err := config.Load(fs, path)
		if err != nil {
			return err
		}
		o.cfg = cfg
		return nil
	}
}

// WithOptions replaces the per-transfer options snapshot.
func WithOptions(opts config.Options) Option {
	return func(o *options) error {
		o.cfg.Transfer = opts.Clone()
		return nil
	}
}

// WithTimeout caps the total duration of each transfer.
func WithTimeout(d time.Duration) Option {
	return func(o *options) error {
		if d < 0 {
			return errors.New("timeout must not be negative")
		}
		o.cfg.Transfer.Timeout = d
		return nil
	}
}

// WithRedirectPolicy sets how redirects are followed. The default
// follows none.
func WithRedirectPolicy(p config.RedirectPolicy) Option {
	return func(o *options) error {
		o.cfg.Transfer.RedirectPolicy = p
		return nil
	}
}

// WithUserAgent adds a persistent User-Agent header to all outgoing requests.
func WithUserAgent(header string) Option {
	return func(o *options) error {
		o.userAgent = header
		return nil
	}
}

// WithThrottle enables token-bucket rate limiting of submissions with
// the given requests per second and burst capacity.
func WithThrottle(rps, burst int) Option {
	return func(o *options) error {
		if rps <= 0 || burst <= 0 {
			return fmt.Errorf("rps[%d] and burst[%d] %w", rps, burst, throttle.ErrMustNotBeZero)
		}
		o.throttle = &throttle.Config{RPS: rps, Burst: burst}
		return nil
	}
}

// WithPool switches the Client to the synchronous pooled variant,
// preloading the given number of transports.
func WithPool(preload int) Option {
	return func(o *options) error {
		if preload < 0 {
			return errors.New("preload must not be negative")
		}
		o.usePool = true
		o.cfg.Pool.Preload = preload
		return nil
	}
}

// WithMaxConnections caps the pooled transports. Once the cap is reached
// and none is idle, Send fails with [ErrTooManyConnections].
func WithMaxConnections(n int) Option {
	return func(o *options) error {
		if n < 0 {
			return errors.New("max connections must not be negative")
		}
		o.cfg.Pool.MaxConnections = n
		return nil
	}
}

// WithBufferLimits sets the high and low water marks of streamed bodies.
func WithBufferLimits(high, low datasize.ByteSize) Option {
	return func(o *options) error {
		if low >= high {
			return fmt.Errorf("low water[%s] must be below high water[%s]", low.HR(), high.HR())
		}
		o.cfg.Reactor.HighWater = high
		o.cfg.Reactor.LowWater = low
		return nil
	}
}

// WithEngine replaces the transfer engine driven by the reactor.
func WithEngine(e engine.Engine) Option {
	return func(o *options) error {
		if e == nil {
			return errors.New("engine must not be nil")
		}
		o.engine = e
		return nil
	}
}

// WithFS sets the filesystem downloads are written to. Default is the OS.
func WithFS(fs afero.Fs) Option {
	return func(o *options) error {
		if fs == nil {
			return errors.New("filesystem must not be nil")
		}
		o.fs = fs
		return nil
	}
}

// WithLogger injects a custom [slog.Logger] into the [Client].
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) error {
		o.logger = logger
		return nil
	}
}

// WithTracer records one span per transfer with tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) error {
		if tracer == nil {
			return errors.New("tracer must not be nil")
		}
		o.tracer = tracer
		return nil
	}
}

// /////////////////////////////////////////////////////////////////

// DoOption is a functional option for [Client.Do].
type DoOption func(options *doOpts) error

type doOpts struct {
	responseBody any
	useJSONNum   bool
}

// WithDestination decodes the JSON response body into bodyTemplate.
// bodyTemplate must be a pointer.
func WithDestination[T any](bodyTemplate *T) DoOption {
	return func(opts *doOpts) error {
		if bodyTemplate == nil {
			return errors.New("destination must not be nil")
		}
		opts.responseBody = bodyTemplate
		return nil
	}
}

// WithJSONNumb tells the JSON decoder to use [json.Decoder.UseNumber],
// preserving number precision as [json.Number] instead of float64.
func WithJSONNumb() DoOption {
	return func(opts *doOpts) error {
		opts.useJSONNum = true
		return nil
	}
}

// RequestOption is a functional option for [Request].
type RequestOption func(options *requestOpts) error

type requestOpts struct {
	body        any
	contentType *string
	cookies     []*http.Cookie
	headers     map[string][]string
}

// WithPayload sets the JSON-encoded request body.
func WithPayload(body any) RequestOption {
	return func(opts *requestOpts) error {
		opts.body = body
		return nil
	}
}

// WithContentType overrides the default "application/json" Content-Type header.
func WithContentType(contentType string) RequestOption {
	return func(opts *requestOpts) error {
		if contentType == "" {
			return errors.New("cannot use empty content type")
		}
		opts.contentType = &contentType
		return nil
	}
}

// WithHeaders adds custom headers to the outgoing request.
func WithHeaders(headers map[string][]string) RequestOption {
	return func(opts *requestOpts) error {
		opts.headers = headers
		return nil
	}
}

// WithCookies attaches the given cookies to the outgoing request.
func WithCookies(cookies ...*http.Cookie) RequestOption {
	return func(opts *requestOpts) error {
		opts.cookies = cookies
		return nil
	}
}

// URLOption is a functional option for [URL].
type URLOption func(options *urlOpts)

type urlOpts struct {
	queryStrings map[string]string
	port         *int
}

// WithQueryStrings appends query parameters to the URL.
func WithQueryStrings(queryKV map[string]string) URLOption {
	return func(opts *urlOpts) {
		opts.queryStrings = queryKV
	}
}

// WithPort sets the port number on the URL's host.
func WithPort(port int) URLOption {
	return func(opts *urlOpts) {
		opts.port = &port
	}
}
