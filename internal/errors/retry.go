package errors

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"
)

// RetryConfig bounds how often and how patiently a call is repeated.
type RetryConfig struct {
	// MaxRetries counts attempts after the first one.
	MaxRetries int
	// BaseDelay is the wait before the first retry; each later wait grows by
	// Factor up to MaxDelay.
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Factor    float64
	// Jitter draws each wait uniformly from [d/2, d).
	Jitter bool
	// ShouldRetry reports whether err is worth another attempt. Nil retries
	// every error.
	ShouldRetry func(error) bool
	// Op names the operation in debug logs.
	Op string
}

// DefaultRetryConfig is the backoff used for Ollama calls: 3 retries from
// 200ms, doubling, capped at 5s, jittered.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  200 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Factor:     2,
		Jitter:     true,
	}
}

// backoff is the wait before retry n (0-based).
func (c RetryConfig) backoff(n int) time.Duration {
	factor := c.Factor
	if factor < 1 {
		factor = 1
	}
	d := time.Duration(float64(c.BaseDelay) * math.Pow(factor, float64(n)))
	if c.MaxDelay > 0 && (d > c.MaxDelay || d < 0) {
		d = c.MaxDelay
	}
	if c.Jitter && d > 0 {
		d = d/2 + time.Duration(rand.Int64N(int64(d/2)+1))
	}
	return d
}

// Retry calls fn until it succeeds, ShouldRetry rejects its error, or the
// retries run out. A cancelled context ends the loop with ctx.Err().
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	_, err := RetryWithResult(ctx, cfg, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}

// RetryWithResult is Retry for functions returning a value. The final
// error wraps the last failure so errors.Is and errors.As still match it.
func RetryWithResult[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	for n := 0; ; n++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		v, err := fn()
		switch {
		case err == nil:
			return v, nil
		case cfg.ShouldRetry != nil && !cfg.ShouldRetry(err):
			return zero, err
		case n >= cfg.MaxRetries:
			return zero, fmt.Errorf("failed after %d retries: %w", cfg.MaxRetries, err)
		}

		wait := cfg.backoff(n)
		slog.Debug("retry_attempt",
			slog.String("op", cfg.Op),
			slog.Int("attempt", n+1),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()))
		if err := sleep(ctx, wait); err != nil {
			return zero, err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
