package throttle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

var (
	ErrMustNotBeZero = errors.New("must be greater than zero")
	ErrWaitingFailed = errors.New("limiter waiting failed")
	ErrContextEnded  = errors.New("throttle context ended")
)

// Config defines the limiter's submissions per second and burst.
type Config struct {
	RPS   int
	Burst int
}

// Limiter gates transfer submission with a token bucket.
type Limiter struct {
	limiter *rate.Limiter
	rps     int
	burst   int
	logger  *slog.Logger
}

// New returns a Limiter. A nil logger disables the exhaustion logs.
func New(rps, burst int, logger *slog.Logger) (*Limiter, error) {
	if rps <= 0 || burst <= 0 {
		return nil, fmt.Errorf("rps[%d] and burst[%d] %w", rps, burst, ErrMustNotBeZero)
	}

	l := &Limiter{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		rps:     rps,
		burst:   burst,
		logger:  logger,
	}

	return l, nil
}

// FromConfig is New for a Config.
func FromConfig(cfg Config, logger *slog.Logger) (*Limiter, error) {
	return New(cfg.RPS, cfg.Burst, logger)
}

// Wait blocks until a token is available. target only labels log lines.
func (l *Limiter) Wait(ctx context.Context, target string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w early: %w", ErrContextEnded, err)
	}

	var waited time.Duration
	if l.logger != nil && l.limiter.Tokens() < 1 {
		l.logger.Info("throttle tokens exhausted", "rate", l.rps, "burst", l.burst, "target", target)

		defer func() {
			l.logger.Info("throttle wait complete", "waited", waited.String(), "rate", l.rps, "burst", l.burst)
		}()
	}

	start := time.Now()

	err := l.limiter.Wait(ctx)
	waited = time.Since(start)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWaitingFailed, err)
	}

	if err := ctx.Err(); err != nil { // Check context hasn't expired again.
		return fmt.Errorf("%w post-wait: %w", ErrContextEnded, err)
	}

	return nil
}
