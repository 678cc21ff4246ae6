// Package writebackqueue drains pending WriteBackTask records into the data
// gateway, retrying transient failures up to a bounded count before
// dead-lettering.
package writebackqueue

import (
	"context"
	"log/slog"
	"time"

	"github.com/fairyhunter13/shipagent/internal/domain"
	"github.com/fairyhunter13/shipagent/internal/observability"
)

// Worker drains the write-back queue on a timer, and immediately when Kick
// is called. The batch engine does not call Kick; tasks it enqueues are
// picked up on the next timer tick.
type Worker struct {
	store      domain.WriteBackStore
	gateway    domain.DataGateway
	log        *slog.Logger
	metrics    *observability.Metrics
	interval   time.Duration
	maxRetries int

	kick chan struct{}
	done chan struct{}
}

// New builds a Worker.
func New(store domain.WriteBackStore, gateway domain.DataGateway, log *slog.Logger, metrics *observability.Metrics, interval time.Duration, maxRetries int) *Worker {
	return &Worker{
		store:      store,
		gateway:    gateway,
		log:        log,
		metrics:    metrics,
		interval:   interval,
		maxRetries: maxRetries,
		kick:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

// Kick wakes the worker to drain immediately rather than waiting for the
// next timer tick. It never blocks.
func (w *Worker) Kick() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// Run drains the queue until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	defer close(w.done)

	for {
		w.drain(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-w.kick:
		}
	}
}

// Wait blocks until Run has returned.
func (w *Worker) Wait() { <-w.done }

func (w *Worker) drain(ctx context.Context) {
	tasks, err := w.store.ListPending(ctx, "")
	if err != nil {
		w.log.Error("op=writebackqueue.drain.list", slog.Any("error", err))
		return
	}
	if w.metrics != nil {
		w.metrics.WriteBackQueue.Set(float64(len(tasks)))
	}

	for _, t := range tasks {
		if ctx.Err() != nil {
			return
		}
		w.applyOne(ctx, t)
	}
}

func (w *Worker) applyOne(ctx context.Context, t domain.WriteBackTask) {
	err := w.gateway.WriteBackSingle(ctx, t.RowNumber, t.TrackingNumber, t.ShippedAt)
	if err == nil {
		if err := w.store.MarkCompleted(ctx, t.ID); err != nil {
			w.log.Error("op=writebackqueue.applyOne.markCompleted", slog.String("task_id", t.ID), slog.Any("error", err))
		}
		return
	}

	retryCount := t.RetryCount + 1
	if retryCount >= w.maxRetries {
		w.log.Error("op=writebackqueue.applyOne.deadLetter", slog.String("task_id", t.ID), slog.Int("row_number", t.RowNumber), slog.Any("error", err))
		if dlErr := w.store.MarkDeadLetter(ctx, t.ID); dlErr != nil {
			w.log.Error("op=writebackqueue.applyOne.markDeadLetter", slog.String("task_id", t.ID), slog.Any("error", dlErr))
		}
		return
	}

	w.log.Warn("op=writebackqueue.applyOne.retry", slog.String("task_id", t.ID), slog.Int("retry_count", retryCount), slog.Any("error", err))
	if retryErr := w.store.MarkRetry(ctx, t.ID, retryCount); retryErr != nil {
		w.log.Error("op=writebackqueue.applyOne.markRetry", slog.String("task_id", t.ID), slog.Any("error", retryErr))
	}
}
