package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/csr-report-archiver/internal/csr"
	"github.com/JakeFAU/csr-report-archiver/internal/worker"
)

// Dispatcher runs items on a worker pool.
type Dispatcher interface {
	Run(ctx context.Context, items []csr.WorkItem, handler worker.Handler) (csr.Summary, error)
}

// Runner ties selection, dispatch, and per-item orchestration into one invocation.
type Runner struct {
	selector     *Selector
	orchestrator *Orchestrator
	dispatcher   Dispatcher
	mode         csr.Mode
	logger       *zap.Logger
}

// NewRunner builds a Runner for mode.
func NewRunner(selector *Selector, orchestrator *Orchestrator, dispatcher Dispatcher, mode csr.Mode, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		selector:     selector,
		orchestrator: orchestrator,
		dispatcher:   dispatcher,
		mode:         mode,
		logger:       logger,
	}
}

// Run selects candidates for the mode and processes each to a terminal state.
func (r *Runner) Run(ctx context.Context) (csr.Summary, error) {
	start := time.Now()
	items, err := r.selector.Select(ctx, r.mode.Predicates()...)
	if err != nil {
		return csr.NewSummary(), fmt.Errorf("select candidates: %w", err)
	}
	r.logger.Info("candidates selected",
		zap.String("mode", string(r.mode)),
		zap.Int("items", len(items)),
		zap.Uint64("seed", r.selector.Seed()),
	)

	summary, err := r.dispatcher.Run(ctx, items, worker.HandlerFunc(r.orchestrator.Process))
	r.logger.Info("run finished",
		zap.String("summary", summary.String()),
		zap.Duration("elapsed", time.Since(start)),
		zap.Bool("has_failures", summary.HasFailures()),
	)
	if err != nil {
		return summary, fmt.Errorf("dispatch: %w", err)
	}
	return summary, nil
}
