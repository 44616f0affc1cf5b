package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/JakeFAU/csr-report-archiver/internal/csr"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	result := make(chan csr.WorkItem, 1)
	errCh := make(chan error, 1)

	go func() {
		item, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- item
	}()

	if err := q.Enqueue(context.Background(), csr.WorkItem{Symbol: "ACME", Year: 2020}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		if got.Symbol != "ACME" || got.Year != 2020 {
			t.Fatalf("expected ACME/2020, got %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return item")
	}
}

func TestQueueCloseDrainsThenReportsClosed(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	ctx := context.Background()
	if err := q.Enqueue(ctx, csr.WorkItem{Symbol: "A"}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	q.Close()
	q.Close()

	if err := q.Enqueue(ctx, csr.WorkItem{Symbol: "B"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from Enqueue, got %v", err)
	}
	if item, err := q.Dequeue(ctx); err != nil || item.Symbol != "A" {
		t.Fatalf("expected queued item A, got %+v (%v)", item, err)
	}
	if _, err := q.Dequeue(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after drain, got %v", err)
	}
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	q := NewQueue(0)
	if _, err := q.Dequeue(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled from Dequeue, got %v", err)
	}
	if err := q.Enqueue(ctx, csr.WorkItem{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled from Enqueue, got %v", err)
	}
}
