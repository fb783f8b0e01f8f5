package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. RXHTTP_TRANSFER_TIMEOUT.
const EnvPrefix = "RXHTTP"

// Config is the persisted configuration surface of a client.
type Config struct {
	Transfer Options `mapstructure:"transfer"`
	Reactor  Reactor `mapstructure:"reactor"`
	Pool     Pool    `mapstructure:"pool"`
}

// Reactor tunes the background transfer loop.
type Reactor struct {
	// HighWater pauses a transfer once this many body bytes are buffered
	// but unread.
	HighWater datasize.ByteSize `mapstructure:"high_water" validate:"gt=0"`
	// LowWater resumes a paused transfer once the consumer drains the
	// buffer below it.
	LowWater datasize.ByteSize `mapstructure:"low_water" validate:"ltfield=HighWater"`
	// DefaultWait bounds a loop iteration when the engine recommends no
	// timeout of its own.
	DefaultWait time.Duration `mapstructure:"default_wait" validate:"gt=0"`
}

// Pool tunes the synchronous pooled transports.
type Pool struct {
	Preload int `mapstructure:"preload" validate:"gte=0"`
	// MaxConnections caps live transports. Zero means uncapped.
	MaxConnections int `mapstructure:"max_connections" validate:"gte=0"`
}

// DefaultReactor returns the reactor defaults.
func DefaultReactor() Reactor {
	return Reactor{
		HighWater:   256 * datasize.KB,
		LowWater:    64 * datasize.KB,
		DefaultWait: 1000 * time.Millisecond,
	}
}

// DefaultConfig returns the defaults of every section.
func DefaultConfig() Config {
	return Config{
		Transfer: Default(),
		Reactor:  DefaultReactor(),
	}
}

// Validate checks every section.
func (c Config) Validate() error {
	return check(c)
}

// Validate checks the reactor section.
func (r Reactor) Validate() error {
	return check(r)
}

// Load reads a config file from fs, applies RXHTTP_* environment
// overrides, fills defaults and validates the result.
func Load(fs afero.Fs, path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path must not be empty")
	}

	v := viper.New()
	v.SetFs(fs)
	v.SetConfigFile(path)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, DefaultConfig())

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// setDefaults registers every key so env overrides apply even when the
// file omits it. Values are registered in their text form so they go
// through the same decode hooks as file values.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("transfer.redirect_policy", d.Transfer.RedirectPolicy.String())
	v.SetDefault("transfer.preferred_http_version", "")
	v.SetDefault("transfer.timeout", d.Transfer.Timeout.String())
	v.SetDefault("transfer.connect_timeout", d.Transfer.ConnectTimeout.String())
	v.SetDefault("transfer.tcp_keepalive", d.Transfer.TCPKeepalive.String())
	v.SetDefault("transfer.tcp_nodelay", d.Transfer.TCPNoDelay)
	v.SetDefault("transfer.auto_referer", d.Transfer.AutoReferer)
	v.SetDefault("transfer.proxy", d.Transfer.Proxy)
	v.SetDefault("transfer.ssl_cipher_list", d.Transfer.SSLCipherList)

	v.SetDefault("reactor.high_water", d.Reactor.HighWater.String())
	v.SetDefault("reactor.low_water", d.Reactor.LowWater.String())
	v.SetDefault("reactor.default_wait", d.Reactor.DefaultWait.String())

	v.SetDefault("pool.preload", d.Pool.Preload)
	v.SetDefault("pool.max_connections", d.Pool.MaxConnections)
}
