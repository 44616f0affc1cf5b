package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/csr-report-archiver/internal/csr"
)

func TestLimiterWaitsPerHost(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	delays := map[string]int{}
	l := New(Config{RPS: 10, Burst: 1, OnDelay: func(host string, _ time.Duration) {
		mu.Lock()
		delays[host]++
		mu.Unlock()
	}})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.example/one.pdf"))
	// A different host has its own bucket and is not delayed.
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.example/two.pdf"))
	require.Less(t, time.Since(start), 50*time.Millisecond)

	start = time.Now()
	require.NoError(t, l.Wait(ctx, "https://a.example/three.pdf"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, delays["a.example"])
	require.Zero(t, delays["b.example"])
}

func TestLimiterDisabled(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(context.Background(), "https://a.example"))
	}
}

func TestLimiterContextCanceled(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 0.001, Burst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://slow.example"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := l.Wait(ctx, "https://slow.example")
	require.Error(t, err)
	require.True(t, csr.IsCanceled(err))
	var kindErr *csr.Error
	require.False(t, errors.As(err, &kindErr), "cancellation must not be reclassified")
}

func TestLimiterDeadlineBeforeNextTokenIsTransient(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 1, Burst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://search.example"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := l.Wait(ctx, "https://search.example/q")
	require.Error(t, err)
	require.Less(t, time.Since(start), 40*time.Millisecond, "wait should fail fast, not block to the deadline")
	require.Equal(t, csr.KindTransient, csr.KindOf(err))
	require.NoError(t, ctx.Err())
}

func TestHost(t *testing.T) {
	t.Parallel()

	require.Equal(t, "example.com", Host("https://example.com:8443/a.pdf?x=1"))
	require.Equal(t, "unknown", Host("::not a url"))
	require.Equal(t, "unknown", Host(""))
}
