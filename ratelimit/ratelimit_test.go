package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSlidingWindowAllowsUpToMax(t *testing.T) {
	l := NewSlidingWindow(3, time.Minute)

	for i := 0; i < 3; i++ {
		require.Zero(t, l.Acquire())
	}
	require.Equal(t, 3, l.Len())
	require.Positive(t, l.Acquire())
}

func TestSlidingWindowFreesSlotsAfterWindow(t *testing.T) {
	now := time.Now()
	l := NewSlidingWindow(2, time.Minute)
	l.nowFunc = func() time.Time { return now }

	require.Zero(t, l.Acquire())
	require.Zero(t, l.Acquire())
	require.Positive(t, l.Acquire())

	now = now.Add(time.Minute + time.Second)
	require.Zero(t, l.Acquire())
	require.Equal(t, 1, l.Len())
}

func TestSlidingWindowRecordsAtExactWindowBoundary(t *testing.T) {
	now := time.Now()
	l := NewSlidingWindow(1, time.Minute)
	l.nowFunc = func() time.Time { return now }

	require.Zero(t, l.Acquire())

	now = now.Add(time.Minute)
	require.Zero(t, l.Acquire())
	require.Equal(t, 1, l.Len())
	require.Positive(t, l.Acquire())
}

func TestSlidingWindowWaitReturnsWhenSlotFrees(t *testing.T) {
	l := NewSlidingWindow(1, 20*time.Millisecond)
	require.Zero(t, l.Acquire())

	start := time.Now()
	require.NoError(t, l.Wait(context.Background()))
	require.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestSlidingWindowWaitHonorsContext(t *testing.T) {
	l := NewSlidingWindow(1, time.Hour)
	require.Zero(t, l.Acquire())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, l.Wait(ctx), context.DeadlineExceeded)
}

func TestSlidingWindowReset(t *testing.T) {
	l := NewSlidingWindow(2, time.Minute)
	require.Zero(t, l.Acquire())
	require.Zero(t, l.Acquire())

	l.Reset()
	require.Equal(t, 0, l.Len())
	require.Zero(t, l.Acquire())
}

func TestTokenBucketBurstThenThrottle(t *testing.T) {
	b := NewTokenBucket(1, 2)

	require.True(t, b.Allow())
	require.True(t, b.Allow())
	require.False(t, b.Allow())
}

func TestTokenBucketWaitHonorsContext(t *testing.T) {
	b := NewTokenBucket(0.001, 1)
	require.True(t, b.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, b.Wait(ctx))
}

func TestEndpointLimiterUsesRegisteredLimit(t *testing.T) {
	e := NewEndpointLimiter(100, time.Minute)
	e.SetLimit("/api/meme-trending", 1, time.Hour)

	ctx := context.Background()
	require.NoError(t, e.Wait(ctx, "https://api6.axiom.trade/api/meme-trending"))

	blocked, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, e.Wait(blocked, "/api/meme-trending"), context.DeadlineExceeded)
}

func TestEndpointLimiterFallsBackToDefault(t *testing.T) {
	e := NewEndpointLimiter(2, time.Hour)

	ctx := context.Background()
	require.NoError(t, e.Wait(ctx, "/api/portfolio"))
	require.NoError(t, e.Wait(ctx, "/api/positions"))

	blocked, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, e.Wait(blocked, "/api/anything-else"), context.DeadlineExceeded)
}

func TestNormalizePath(t *testing.T) {
	require.Equal(t, "/api/login-password-v2", NormalizePath("https://api8.axiom.trade/api/login-password-v2?x=1"))
	require.Equal(t, "/api/refresh", NormalizePath("/api/refresh"))
	require.Equal(t, "not a url", NormalizePath("not a url"))
}
