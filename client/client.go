// Package client composes the authenticated API client with rate limiting
// and retries into one request pipeline. Every request flows through the
// token bucket, the global sliding window, and the per-endpoint limiter
// before it is sent, and retryable failures are re-attempted with
// exponential backoff.
package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/axiomgo/axiom/auth"
	"github.com/axiomgo/axiom/internal/config"
	"github.com/axiomgo/axiom/ratelimit"
	"github.com/axiomgo/axiom/retry"
)

var (
	// ErrRateLimitExceeded indicates the server rejected the request with
	// 429 even after retries.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrRequestFailed indicates the request exhausted its retries on a
	// retryable server error.
	ErrRequestFailed = errors.New("request failed")
)

// Client layers client-side rate limiting and retry-with-backoff on top of
// the authenticated client.
type Client struct {
	auth      *auth.Client
	bucket    *ratelimit.TokenBucket
	global    *ratelimit.SlidingWindow
	endpoints *ratelimit.EndpointLimiter
	retryCfg  retry.Config
	logger    zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithAuthClient substitutes the underlying authenticated client.
func WithAuthClient(ac *auth.Client) Option {
	return func(c *Client) { c.auth = ac }
}

// WithRetryConfig overrides the retry policy.
func WithRetryConfig(cfg retry.Config) Option {
	return func(c *Client) { c.retryCfg = cfg }
}

// WithLogger attaches a logger; the default discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
		c.retryCfg.Logger = logger
	}
}

// New creates a client with the default limits and retry policy.
func New(opts ...Option) *Client {
	limits := config.DefaultLimits()
	retries := config.DefaultRetry()

	c := &Client{
		auth:      auth.NewClient(),
		bucket:    ratelimit.NewTokenBucket(limits.BucketRate, limits.BucketBurst),
		global:    ratelimit.NewSlidingWindow(limits.GlobalMaxRequests, limits.GlobalWindow),
		endpoints: ratelimit.NewEndpointLimiter(limits.DefaultEndpointMax, limits.DefaultEndpointWin),
		retryCfg: retry.Config{
			MaxRetries:   retries.MaxRetries,
			InitialDelay: retries.InitialDelay,
			MaxDelay:     retries.MaxDelay,
			Base:         retries.Base,
			Jitter:       retries.Jitter,
		},
		logger: zerolog.Nop(),
	}
	c.retryCfg.Logger = c.logger

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewFromEnv creates a client configured entirely from the environment,
// including credentials, limits, retry policy, and the OTP mailbox.
func NewFromEnv(opts ...Option) (*Client, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "client.NewFromEnv")
	}

	ac, err := auth.NewClientFromEnv()
	if err != nil {
		return nil, errors.Wrap(err, "client.NewFromEnv")
	}

	c := &Client{
		auth:      ac,
		bucket:    ratelimit.NewTokenBucket(cfg.Limits.BucketRate, cfg.Limits.BucketBurst),
		global:    ratelimit.NewSlidingWindow(cfg.Limits.GlobalMaxRequests, cfg.Limits.GlobalWindow),
		endpoints: ratelimit.NewEndpointLimiter(cfg.Limits.DefaultEndpointMax, cfg.Limits.DefaultEndpointWin),
		retryCfg: retry.Config{
			MaxRetries:   cfg.Retry.MaxRetries,
			InitialDelay: cfg.Retry.InitialDelay,
			MaxDelay:     cfg.Retry.MaxDelay,
			Base:         cfg.Retry.Base,
			Jitter:       cfg.Retry.Jitter,
		},
		logger: zerolog.Nop(),
	}
	c.retryCfg.Logger = c.logger

	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Auth exposes the underlying authenticated client for login and token
// operations.
func (c *Client) Auth() *auth.Client {
	return c.auth
}

// SetEndpointLimit overrides the request limit for one endpoint path.
func (c *Client) SetEndpointLimit(endpoint string, max int, window time.Duration) {
	c.endpoints.SetLimit(endpoint, max, window)
}

// EnsureValidAuthentication refreshes tokens when they are expired and
// returns the tokens now in effect.
func (c *Client) EnsureValidAuthentication(ctx context.Context) (auth.AuthTokens, error) {
	return c.auth.EnsureValidAuthentication(ctx)
}

// Do sends an authenticated request through the rate limiters with
// retry-with-backoff. Responses with a retryable status are retried up to
// the configured attempt count; the terminal failure is classified as
// ErrRateLimitExceeded or ErrRequestFailed. The caller owns the returned
// body.
func (c *Client) Do(ctx context.Context, method, url string, body any) (*http.Response, error) {
	if err := c.bucket.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "client.Do token bucket")
	}
	if err := c.global.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "client.Do global limiter")
	}
	if err := c.endpoints.Wait(ctx, ratelimit.NormalizePath(url)); err != nil {
		return nil, errors.Wrap(err, "client.Do endpoint limiter")
	}

	resp, err := retry.DoWithData(ctx, c.retryCfg, func() (*http.Response, error) {
		resp, err := c.auth.Do(ctx, method, url, body)
		if err != nil {
			return nil, err
		}
		if retryableStatus(resp.StatusCode) {
			payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return nil, &retry.StatusError{Code: resp.StatusCode, Body: string(payload)}
		}
		return resp, nil
	})
	if err != nil {
		return nil, classify(err)
	}
	return resp, nil
}

// DoJSON sends a request and decodes a 2xx JSON response into out.
func (c *Client) DoJSON(ctx context.Context, method, url string, body, out any) error {
	resp, err := c.Do(ctx, method, url, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errors.Wrapf(ErrRequestFailed, "status %d: %s", resp.StatusCode, payload)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "client.DoJSON decode")
	}
	return nil
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// classify maps a terminal retry error onto the package sentinels.
// Authentication sentinels from the inner client pass through untouched.
func classify(err error) error {
	var statusErr *retry.StatusError
	if errors.As(err, &statusErr) {
		if statusErr.Code == http.StatusTooManyRequests {
			return errors.Wrap(ErrRateLimitExceeded, statusErr.Error())
		}
		return errors.Wrap(ErrRequestFailed, statusErr.Error())
	}
	return err
}
