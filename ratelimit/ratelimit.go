// Package ratelimit provides the client-side request limiters: an exact
// sliding window, a token bucket, and a per-endpoint registry.
package ratelimit

import (
	"context"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// SlidingWindow allows at most max requests inside a rolling window,
// tracked by exact timestamps.
type SlidingWindow struct {
	mu      sync.Mutex
	stamps  []time.Time
	max     int
	window  time.Duration
	nowFunc func() time.Time
}

// NewSlidingWindow creates a limiter permitting max requests per window.
func NewSlidingWindow(max int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		max:     max,
		window:  window,
		nowFunc: time.Now,
	}
}

// Acquire prunes expired entries and either records the request and returns
// zero, or returns the time until the oldest entry leaves the window.
func (l *SlidingWindow) Acquire() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	l.prune(now)

	if len(l.stamps) >= l.max {
		return l.window - now.Sub(l.stamps[0])
	}

	l.stamps = append(l.stamps, now)
	return 0
}

// Wait blocks until a slot is available or the context is done.
func (l *SlidingWindow) Wait(ctx context.Context) error {
	for {
		wait := l.Acquire()
		if wait <= 0 {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Len returns the number of requests inside the current window.
func (l *SlidingWindow) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.nowFunc())
	return len(l.stamps)
}

// Reset discards all recorded requests.
func (l *SlidingWindow) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stamps = l.stamps[:0]
}

func (l *SlidingWindow) prune(now time.Time) {
	i := 0
	for i < len(l.stamps) && now.Sub(l.stamps[i]) >= l.window {
		i++
	}
	if i > 0 {
		l.stamps = append(l.stamps[:0], l.stamps[i:]...)
	}
}

// TokenBucket smooths request bursts: capacity accrues continuously at the
// configured rate and each request spends one token.
type TokenBucket struct {
	limiter *rate.Limiter
}

// NewTokenBucket creates a bucket refilling at perSecond tokens per second
// with the given burst capacity.
func NewTokenBucket(perSecond float64, burst int) *TokenBucket {
	return &TokenBucket{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Allow reports whether a token is immediately available, spending it if so.
func (b *TokenBucket) Allow() bool {
	return b.limiter.Allow()
}

// Wait blocks until a token is available or the context is done.
func (b *TokenBucket) Wait(ctx context.Context) error {
	return b.limiter.Wait(ctx)
}

// EndpointLimiter keys sliding windows by normalized URL path, falling back
// to a shared default limiter for unregistered endpoints.
type EndpointLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*SlidingWindow
	fallback *SlidingWindow
}

// NewEndpointLimiter creates a registry whose default limiter permits max
// requests per window for any endpoint without its own limit.
func NewEndpointLimiter(max int, window time.Duration) *EndpointLimiter {
	return &EndpointLimiter{
		limiters: make(map[string]*SlidingWindow),
		fallback: NewSlidingWindow(max, window),
	}
}

// SetLimit registers a dedicated limiter for an endpoint path.
func (e *EndpointLimiter) SetLimit(endpoint string, max int, window time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.limiters[NormalizePath(endpoint)] = NewSlidingWindow(max, window)
}

// Wait blocks on the limiter registered for the endpoint, or the default.
func (e *EndpointLimiter) Wait(ctx context.Context, endpoint string) error {
	e.mu.RLock()
	limiter, ok := e.limiters[NormalizePath(endpoint)]
	e.mu.RUnlock()

	if !ok {
		limiter = e.fallback
	}
	return limiter.Wait(ctx)
}

// NormalizePath reduces a URL or path to its path component for keying.
func NormalizePath(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		return u.Path
	}
	return rawURL
}
