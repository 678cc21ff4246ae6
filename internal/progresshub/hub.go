// Package progresshub fans out batch engine progress events to per-job
// subscribers (SSE streams, snapshot polling) without ever blocking the
// engine that publishes them.
package progresshub

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fairyhunter13/shipagent/internal/domain"
	"github.com/fairyhunter13/shipagent/internal/observability"
)

// Hub is the process-global progress event broker.
type Hub struct {
	mu       sync.Mutex
	subs     map[string]map[chan domain.ProgressEvent]struct{}
	snapshot map[string]domain.ProgressEvent
	capacity int
	keepAlive time.Duration
	log      *slog.Logger
	metrics  *observability.Metrics
}

// New builds a Hub. capacity bounds each subscriber's channel; a slow
// subscriber drops events rather than stalling the publishing job.
func New(capacity int, keepAlive time.Duration, log *slog.Logger, metrics *observability.Metrics) *Hub {
	return &Hub{
		subs:      make(map[string]map[chan domain.ProgressEvent]struct{}),
		snapshot:  make(map[string]domain.ProgressEvent),
		capacity:  capacity,
		keepAlive: keepAlive,
		log:       log,
		metrics:   metrics,
	}
}

// Publish delivers ev to every subscriber of jobID. It never blocks: a
// subscriber whose channel is full has the event dropped and a counter
// incremented instead.
func (h *Hub) Publish(jobID string, ev domain.ProgressEvent) {
	h.mu.Lock()
	h.snapshot[jobID] = ev
	subs := h.subs[jobID]
	chans := make([]chan domain.ProgressEvent, 0, len(subs))
	for ch := range subs {
		chans = append(chans, ch)
	}
	h.mu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- ev:
		default:
			if h.metrics != nil {
				h.metrics.ProgressDropped.WithLabelValues(jobID).Inc()
			}
			h.log.Warn("op=progresshub.Publish.dropped", slog.String("job_id", jobID))
		}
	}
}

// Snapshot returns the last published event for a job, if any.
func (h *Hub) Snapshot(jobID string) (domain.ProgressEvent, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ev, ok := h.snapshot[jobID]
	return ev, ok
}

// Subscribe registers a new channel for jobID and returns an unsubscribe
// function that must be called exactly once when the caller is done.
func (h *Hub) Subscribe(jobID string) (<-chan domain.ProgressEvent, func()) {
	ch := make(chan domain.ProgressEvent, h.capacity)

	h.mu.Lock()
	if h.subs[jobID] == nil {
		h.subs[jobID] = make(map[chan domain.ProgressEvent]struct{})
	}
	h.subs[jobID][ch] = struct{}{}
	h.mu.Unlock()

	unsubscribe := func() {
		h.mu.Lock()
		delete(h.subs[jobID], ch)
		if len(h.subs[jobID]) == 0 {
			delete(h.subs, jobID)
		}
		h.mu.Unlock()
		close(ch)
	}
	return ch, unsubscribe
}

// Stream consumes events for jobID until ctx is cancelled, invoking onEvent
// for each event and onPing whenever keepAlive elapses with nothing to send.
func (h *Hub) Stream(ctx context.Context, jobID string, onEvent func(domain.ProgressEvent) error, onPing func() error) error {
	ch, unsubscribe := h.Subscribe(jobID)
	defer unsubscribe()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if err := onEvent(ev); err != nil {
				return err
			}
			ticker.Reset(h.keepAlive)
			if ev.Kind == domain.EventBatchCompleted || ev.Kind == domain.EventBatchFailed {
				return nil
			}
		case <-ticker.C:
			if err := onPing(); err != nil {
				return err
			}
		}
	}
}
