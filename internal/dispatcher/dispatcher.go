// Package dispatcher fans work items out to a fixed pool of workers and tallies
// their outcomes.
package dispatcher

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/csr-report-archiver/internal/csr"
	"github.com/JakeFAU/csr-report-archiver/internal/queue/memory"
	"github.com/JakeFAU/csr-report-archiver/internal/worker"
)

// Dispatcher runs items through a handler on N concurrent workers.
type Dispatcher struct {
	workers  int
	observer worker.Observer
	logger   *zap.Logger
}

// New creates a Dispatcher with the given pool size.
func New(workers int, observer worker.Observer, logger *zap.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{workers: workers, observer: observer, logger: logger}
}

// Run processes every item and returns the tally. Items never started because ctx
// ended are left out of the summary and reported through the returned error.
func (d *Dispatcher) Run(ctx context.Context, items []csr.WorkItem, handler worker.Handler) (csr.Summary, error) {
	summary := csr.NewSummary()
	if len(items) == 0 {
		return summary, nil
	}

	queue := memory.NewQueue(len(items))
	for _, item := range items {
		if err := queue.Enqueue(ctx, item); err != nil {
			return summary, fmt.Errorf("queue enqueue: %w", err)
		}
	}
	queue.Close()

	results := make(chan csr.Outcome, d.workers)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < d.workers; i++ {
		w := worker.New(i+1, queue, handler, d.observer, d.logger)
		g.Go(func() error {
			w.Run(gctx, results)
			return nil
		})
	}
	go func() {
		_ = g.Wait() //nolint:errcheck // workers never return errors
		close(results)
	}()

	processed := 0
	for outcome := range results {
		summary.Add(outcome)
		processed++
	}

	if pending := len(items) - processed; pending > 0 {
		d.logger.Warn("run stopped before all items were processed",
			zap.Int("processed", processed),
			zap.Int("pending", pending),
		)
		return summary, fmt.Errorf("%d of %d items not processed: %w", pending, len(items), context.Cause(ctx))
	}
	return summary, nil
}
