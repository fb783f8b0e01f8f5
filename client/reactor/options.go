package reactor

import (
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/adamwoolhether/rxhttp/client/config"
)

// Option is a functional option for configuring a [Reactor] via [New].
type Option func(*options) error

type options struct {
	logger *slog.Logger
	tracer trace.Tracer
	cfg    config.Reactor
}

// WithLogger injects a custom [slog.Logger]. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) error {
		if logger == nil {
			return errors.New("logger must not be nil")
		}
		o.logger = logger
		return nil
	}
}

// WithTracer sets the tracer that records one span per transfer.
// Default is a noop tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) error {
		if tracer == nil {
			return errors.New("tracer must not be nil")
		}
		o.tracer = tracer
		return nil
	}
}

// WithConfig replaces the water marks and default wait.
func WithConfig(cfg config.Reactor) Option {
	return func(o *options) error {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("reactor config: %w", err)
		}
		o.cfg = cfg
		return nil
	}
}

func defaultOptions() options {
	return options{
		logger: slog.Default(),
		tracer: noop.NewTracerProvider().Tracer(tracerName),
		cfg:    config.DefaultReactor(),
	}
}
