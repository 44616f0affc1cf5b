package dispatcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/csr-report-archiver/internal/csr"
	"github.com/JakeFAU/csr-report-archiver/internal/worker"
)

func items(n int) []csr.WorkItem {
	out := make([]csr.WorkItem, n)
	for i := range out {
		out[i] = csr.WorkItem{Symbol: "SYM", CompanyName: "Co", Year: 2000 + i}
	}
	return out
}

func TestDispatcherTalliesOutcomes(t *testing.T) {
	t.Parallel()

	handler := worker.HandlerFunc(func(_ context.Context, item csr.WorkItem) csr.Outcome {
		switch item.Year % 3 {
		case 0:
			return csr.Outcome{Item: item, State: csr.StateRecorded}
		case 1:
			return csr.Outcome{Item: item, State: csr.StateSkipped, Reason: csr.ReasonNoURL}
		default:
			return csr.Outcome{Item: item, State: csr.StateFailed, Reason: csr.ReasonURLConflict}
		}
	})

	summary, err := New(4, nil, nil).Run(context.Background(), items(9), handler)
	require.NoError(t, err)
	require.Equal(t, 9, summary.Total())
	require.Equal(t, 3, summary.Recorded)
	require.Equal(t, 3, summary.Skipped[csr.ReasonNoURL])
	require.Equal(t, 3, summary.Failed[csr.ReasonURLConflict])
	require.True(t, summary.HasFailures())
}

func TestDispatcherBoundsConcurrency(t *testing.T) {
	t.Parallel()

	var (
		active, peak atomic.Int32
		mu           sync.Mutex
		seen         = map[int]int{}
	)
	handler := worker.HandlerFunc(func(_ context.Context, item csr.WorkItem) csr.Outcome {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		mu.Lock()
		seen[item.Year]++
		mu.Unlock()
		return csr.Outcome{Item: item, State: csr.StateRecorded}
	})

	summary, err := New(3, nil, nil).Run(context.Background(), items(20), handler)
	require.NoError(t, err)
	require.Equal(t, 20, summary.Recorded)
	require.LessOrEqual(t, peak.Load(), int32(3))
	require.Len(t, seen, 20)
	for year, n := range seen {
		require.Equal(t, 1, n, "year %d processed more than once", year)
	}
}

func TestDispatcherCancellationReportsPending(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	handler := worker.HandlerFunc(func(ctx context.Context, item csr.WorkItem) csr.Outcome {
		if calls.Add(1) == 1 {
			cancel()
		}
		return csr.Outcome{Item: item, State: csr.StateFailed, Reason: csr.ReasonCanceled, Err: ctx.Err()}
	})

	summary, err := New(1, nil, nil).Run(ctx, items(5), handler)
	require.Error(t, err)
	require.True(t, errors.Is(err, context.Canceled))
	require.Less(t, summary.Total(), 5)
	require.GreaterOrEqual(t, summary.Total(), 1)
}

func TestDispatcherEmpty(t *testing.T) {
	t.Parallel()

	summary, err := New(0, nil, nil).Run(context.Background(), nil, worker.HandlerFunc(
		func(context.Context, csr.WorkItem) csr.Outcome { return csr.Outcome{} }))
	require.NoError(t, err)
	require.Zero(t, summary.Total())
}
