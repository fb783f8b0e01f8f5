package engine

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/http2"

	"github.com/adamwoolhether/rxhttp/client/config"
	"github.com/adamwoolhether/rxhttp/client/errs"
)

// NewRoundTripper maps opts onto a dedicated *http.Transport.
func NewRoundTripper(opts config.Options) (*http.Transport, error) {
	dialer := &net.Dialer{
		Timeout:   opts.ConnectTimeout,
		KeepAlive: -1,
	}
	if opts.TCPKeepalive > 0 {
		dialer.KeepAlive = opts.TCPKeepalive
	}

	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           noDelayDialer(dialer, opts.TCPNoDelay),
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	proxy, err := opts.ProxyURL()
	if err != nil {
		return nil, errs.New(errs.KindRequestBuild, err)
	}
	if proxy != nil {
		tr.Proxy = http.ProxyURL(proxy)
	}

	if opts.SSLCipherList != "" {
		suites, err := ParseCipherList(opts.SSLCipherList)
		if err != nil {
			return nil, errs.New(errs.KindRequestBuild, err)
		}
		tr.TLSClientConfig = &tls.Config{CipherSuites: suites}
	}

	switch opts.PreferredVersion {
	case config.HTTP2:
		if err := http2.ConfigureTransport(tr); err != nil {
			return nil, fmt.Errorf("configuring http2: %w", err)
		}
	case config.HTTP09, config.HTTP10, config.HTTP11:
		// A non-nil empty map disables the h2 upgrade.
		tr.TLSNextProto = map[string]func(string, *tls.Conn) http.RoundTripper{}
	default:
		tr.ForceAttemptHTTP2 = true
	}

	return tr, nil
}

// NewClient wraps NewRoundTripper with the redirect policy and total
// timeout of opts.
func NewClient(opts config.Options) (*http.Client, error) {
	tr, err := NewRoundTripper(opts)
	if err != nil {
		return nil, err
	}

	return &http.Client{
		Transport:     tr,
		Timeout:       opts.Timeout,
		CheckRedirect: checkRedirect(opts),
	}, nil
}

func checkRedirect(opts config.Options) func(*http.Request, []*http.Request) error {
	policy := opts.RedirectPolicy

	return func(req *http.Request, via []*http.Request) error {
		if !policy.Follows() {
			return http.ErrUseLastResponse
		}
		if n, ok := policy.Limit(); ok && len(via) > int(n) {
			return fmt.Errorf("stopped after %d: %w", n, ErrTooManyRedirects)
		}
		// net/http fills Referer on redirects; keep only one the caller set.
		if !opts.AutoReferer && req.Header.Get("Referer") != via[0].Header.Get("Referer") {
			req.Header.Del("Referer")
		}
		return nil
	}
}

func noDelayDialer(d *net.Dialer, noDelay bool) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := d.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		if tcp, ok := conn.(*net.TCPConn); ok {
			if err := tcp.SetNoDelay(noDelay); err != nil {
				conn.Close()
				return nil, fmt.Errorf("setting nodelay: %w", err)
			}
		}
		return conn, nil
	}
}

// ParseCipherList resolves a colon, comma or space separated list of
// cipher suite names, as reported by tls.CipherSuites and
// tls.InsecureCipherSuites.
func ParseCipherList(list string) ([]uint16, error) {
	known := make(map[string]uint16)
	for _, s := range tls.CipherSuites() {
		known[s.Name] = s.ID
	}
	for _, s := range tls.InsecureCipherSuites() {
		known[s.Name] = s.ID
	}

	names := strings.FieldsFunc(list, func(r rune) bool {
		return r == ':' || r == ',' || r == ' '
	})
	if len(names) == 0 {
		return nil, fmt.Errorf("empty cipher list %q", list)
	}

	ids := make([]uint16, 0, len(names))
	for _, name := range names {
		id, ok := known[strings.ToUpper(name)]
		if !ok {
			return nil, fmt.Errorf("unknown cipher suite %q", name)
		}
		ids = append(ids, id)
	}

	return ids, nil
}
