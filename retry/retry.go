// Package retry executes operations with exponential backoff, retrying only
// transient failures.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net"
	"net/url"
	"time"

	retrygo "github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"
)

// Config describes the backoff policy. The delay for attempt k is
// min(InitialDelay * Base^k, MaxDelay), multiplied by a uniform jitter
// factor in [0.5, 1.5) when Jitter is set.
type Config struct {
	MaxRetries   uint
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Base         float64
	Jitter       bool
	Logger       zerolog.Logger
}

// DefaultConfig mirrors the retry behaviour of the historical client:
// three retries starting at 100ms, doubling, capped at 30s, jittered.
func DefaultConfig() Config {
	return Config{
		MaxRetries:   3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Base:         2.0,
		Jitter:       true,
		Logger:       zerolog.Nop(),
	}
}

// Delay computes the backoff for a zero-based attempt number.
func (c Config) Delay(attempt uint) time.Duration {
	base := float64(c.InitialDelay.Milliseconds())
	exp := base * math.Pow(c.Base, float64(attempt))

	delay := math.Min(exp, float64(c.MaxDelay.Milliseconds()))
	if c.Jitter {
		delay *= 0.5 + rand.Float64()
	}

	return time.Duration(delay) * time.Millisecond
}

// StatusError marks an HTTP response status that terminated an attempt.
// Codes 429 and 500/502/503/504 are retried; everything else is fatal.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.Code, e.Body)
}

// IsRetryable classifies an error as transient. Connection and timeout
// failures and the retryable HTTP statuses qualify; auth-state and crypto
// errors never do.
func IsRetryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.Code {
		case 429, 500, 502, 503, 504:
			return true
		}
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// Do runs op with the configured backoff, surfacing the last error once
// MaxRetries is exhausted. Backoff sleeps always run to completion; callers
// needing cancellation wrap the whole call in a context deadline.
func Do(ctx context.Context, cfg Config, op func() error) error {
	return retrygo.Do(op, options(ctx, cfg)...)
}

// DoWithData is Do for operations that return a value.
func DoWithData[T any](ctx context.Context, cfg Config, op func() (T, error)) (T, error) {
	return retrygo.DoWithData(op, options(ctx, cfg)...)
}

func options(ctx context.Context, cfg Config) []retrygo.Option {
	return []retrygo.Option{
		retrygo.Context(ctx),
		retrygo.Attempts(cfg.MaxRetries + 1),
		retrygo.RetryIf(IsRetryable),
		retrygo.LastErrorOnly(true),
		retrygo.DelayType(func(n uint, _ error, _ *retrygo.Config) time.Duration {
			return cfg.Delay(n)
		}),
		retrygo.OnRetry(func(n uint, err error) {
			cfg.Logger.Debug().Uint("attempt", n+1).Err(err).Msg("retrying request")
		}),
	}
}
