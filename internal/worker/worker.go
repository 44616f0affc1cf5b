// Package worker implements the loop that takes work items off the queue and runs
// each one to a terminal outcome.
package worker

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/csr-report-archiver/internal/csr"
	"github.com/JakeFAU/csr-report-archiver/internal/queue/memory"
)

// Queue is the work source a Worker drains.
type Queue interface {
	Dequeue(ctx context.Context) (csr.WorkItem, error)
}

// Handler runs one item to a terminal outcome.
type Handler interface {
	Process(ctx context.Context, item csr.WorkItem) csr.Outcome
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, item csr.WorkItem) csr.Outcome

// Process calls f.
func (f HandlerFunc) Process(ctx context.Context, item csr.WorkItem) csr.Outcome {
	return f(ctx, item)
}

// Observer tracks worker activity.
type Observer interface {
	WorkerStarted()
	WorkerFinished()
}

type nopObserver struct{}

func (nopObserver) WorkerStarted()  {}
func (nopObserver) WorkerFinished() {}

// Worker processes one item at a time until the queue is drained or ctx ends.
type Worker struct {
	id       int
	queue    Queue
	handler  Handler
	observer Observer
	logger   *zap.Logger
}

// New constructs a Worker.
func New(id int, queue Queue, handler Handler, observer Observer, logger *zap.Logger) *Worker {
	if observer == nil {
		observer = nopObserver{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:       id,
		queue:    queue,
		handler:  handler,
		observer: observer,
		logger:   logger.With(zap.Int("worker", id)),
	}
}

// Run blocks, sending one outcome per dequeued item to results. It returns when the
// queue is closed and drained or ctx is done.
func (w *Worker) Run(ctx context.Context, results chan<- csr.Outcome) {
	for {
		if ctx.Err() != nil {
			return
		}
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if !errors.Is(err, memory.ErrClosed) && ctx.Err() == nil {
				w.logger.Error("queue dequeue failed", zap.Error(err))
			}
			return
		}
		w.logger.Debug("dequeued item", zap.String("symbol", item.Symbol), zap.Int("report_year", item.Year))

		w.observer.WorkerStarted()
		outcome := w.handler.Process(ctx, item)
		w.observer.WorkerFinished()
		results <- outcome
	}
}
