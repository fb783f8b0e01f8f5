// Package config holds the immutable option snapshot cloned into every
// transfer, plus the tuning knobs of the reactor and the pool.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultConnectTimeout bounds the connection phase when nothing else is set.
const DefaultConnectTimeout = 300 * time.Second

// Options defines protocol and connection options for a transfer.
// Zero durations and empty strings mean "not set".
type Options struct {
	// RedirectPolicy controls automatic redirect following. Default: none.
	RedirectPolicy RedirectPolicy `mapstructure:"redirect_policy"`

	// PreferredVersion is a hint; the server may negotiate another
	// version. Default: unspecified (any).
	PreferredVersion Version `mapstructure:"preferred_http_version" validate:"gte=0,lte=4"`

	// Timeout caps the whole request-response cycle. Default: unlimited.
	Timeout time.Duration `mapstructure:"timeout" validate:"gte=0"`

	// ConnectTimeout caps the initial connection phase. Default: 300s.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" validate:"gt=0"`

	// TCPKeepalive enables keepalive probes at the given interval.
	// Default: disabled.
	TCPKeepalive time.Duration `mapstructure:"tcp_keepalive" validate:"gte=0"`

	TCPNoDelay  bool `mapstructure:"tcp_nodelay"`
	AutoReferer bool `mapstructure:"auto_referer"`

	// Proxy is the proxy URI; its scheme selects the proxy protocol
	// (http, https, socks5, socks5h).
	Proxy string `mapstructure:"proxy" validate:"omitempty,proxy"`

	// SSLCipherList is a colon, comma or space separated list of TLS
	// cipher suite names.
	SSLCipherList string `mapstructure:"ssl_cipher_list"`
}

// Default returns the documented default options.
func Default() Options {
	return Options{
		RedirectPolicy: RedirectNone,
		ConnectTimeout: DefaultConnectTimeout,
	}
}

// Clone returns a copy safe to hand to a single transfer.
func (o Options) Clone() Options {
	return o
}

// ProxyURL parses Proxy. It returns nil when no proxy is configured.
// A proxy without a scheme is treated as http.
func (o Options) ProxyURL() (*url.URL, error) {
	if o.Proxy == "" {
		return nil, nil
	}

	u, err := parseProxy(o.Proxy)
	if err != nil {
		return nil, fmt.Errorf("parsing proxy: %w", err)
	}
	if !supportedProxyScheme(u.Scheme) {
		return nil, fmt.Errorf("proxy scheme %q: %w", u.Scheme, ErrUnsupportedProxy)
	}

	return u, nil
}

// parseProxy parses raw, defaulting a missing scheme to http.
func parseProxy(raw string) (*url.URL, error) {
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Host == "" {
		return nil, fmt.Errorf("proxy %q has no host", raw)
	}

	return u, nil
}

// ErrUnsupportedProxy is returned for proxy schemes the engine can't speak.
var ErrUnsupportedProxy = errors.New("unsupported proxy scheme")

func supportedProxyScheme(scheme string) bool {
	switch strings.ToLower(scheme) {
	case "http", "https", "socks5", "socks5h":
		return true
	default:
		return false
	}
}

// /////////////////////////////////////////////////////////////////

type redirectMode uint8

const (
	redirectNone redirectMode = iota
	redirectFollow
	redirectLimit
)

// RedirectPolicy describes how server redirects are handled.
type RedirectPolicy struct {
	mode  redirectMode
	limit uint32
}

var (
	// RedirectNone returns redirect responses as-is.
	RedirectNone = RedirectPolicy{mode: redirectNone}
	// RedirectFollow follows every redirect.
	RedirectFollow = RedirectPolicy{mode: redirectFollow}
)

// RedirectLimit follows at most n redirects.
func RedirectLimit(n uint32) RedirectPolicy {
	return RedirectPolicy{mode: redirectLimit, limit: n}
}

// Follows reports whether any redirect is followed.
func (p RedirectPolicy) Follows() bool {
	return p.mode != redirectNone
}

// Limit returns the maximum number of redirects and whether one applies.
func (p RedirectPolicy) Limit() (uint32, bool) {
	return p.limit, p.mode == redirectLimit
}

func (p RedirectPolicy) String() string {
	switch p.mode {
	case redirectFollow:
		return "follow"
	case redirectLimit:
		return "limit:" + strconv.FormatUint(uint64(p.limit), 10)
	default:
		return "none"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p RedirectPolicy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText accepts "none", "follow" and "limit:N".
func (p *RedirectPolicy) UnmarshalText(b []byte) error {
	s := strings.ToLower(strings.TrimSpace(string(b)))

	switch {
	case s == "" || s == "none":
		*p = RedirectNone
	case s == "follow":
		*p = RedirectFollow
	case strings.HasPrefix(s, "limit:"):
		n, err := strconv.ParseUint(strings.TrimPrefix(s, "limit:"), 10, 32)
		if err != nil {
			return fmt.Errorf("redirect limit %q: %w", s, err)
		}
		*p = RedirectLimit(uint32(n))
	default:
		return fmt.Errorf("unknown redirect policy %q", s)
	}

	return nil
}

// /////////////////////////////////////////////////////////////////

// Version is an HTTP protocol version. The zero value means unspecified.
type Version uint8

const (
	VersionAny Version = iota
	HTTP09
	HTTP10
	HTTP11
	HTTP2
)

// DefaultVersion is assumed for unrecognized protocol tokens.
const DefaultVersion = HTTP11

func (v Version) String() string {
	switch v {
	case HTTP09:
		return "HTTP/0.9"
	case HTTP10:
		return "HTTP/1.0"
	case HTTP11:
		return "HTTP/1.1"
	case HTTP2:
		return "HTTP/2.0"
	default:
		return "any"
	}
}

// ParseVersion maps a protocol token such as "HTTP/1.1" to a Version.
// Unrecognized tokens map to DefaultVersion.
func ParseVersion(token string) Version {
	switch token {
	case "HTTP/2.0", "HTTP/2":
		return HTTP2
	case "HTTP/1.1":
		return HTTP11
	case "HTTP/1.0":
		return HTTP10
	case "HTTP/0.9":
		return HTTP09
	default:
		return DefaultVersion
	}
}

// MarshalText implements encoding.TextMarshaler.
func (v Version) MarshalText() ([]byte, error) {
	if v == VersionAny {
		return []byte{}, nil
	}
	return []byte(v.String()), nil
}

// UnmarshalText accepts "", "any" or a protocol token. Unlike
// ParseVersion it rejects unknown tokens, since it reads configuration.
func (v *Version) UnmarshalText(b []byte) error {
	s := strings.ToUpper(strings.TrimSpace(string(b)))

	switch s {
	case "", "ANY":
		*v = VersionAny
	case "HTTP/0.9", "0.9":
		*v = HTTP09
	case "HTTP/1.0", "1.0":
		*v = HTTP10
	case "HTTP/1.1", "1.1":
		*v = HTTP11
	case "HTTP/2", "HTTP/2.0", "2", "2.0":
		*v = HTTP2
	default:
		return fmt.Errorf("unknown http version %q", s)
	}

	return nil
}
