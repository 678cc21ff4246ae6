package progresshub

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/shipagent/internal/domain"
	"github.com/fairyhunter13/shipagent/internal/observability"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestPublishAndSnapshot(t *testing.T) {
	h := New(4, time.Hour, discardLogger(), observability.NewMetrics(nil))

	_, ok := h.Snapshot("job-1")
	assert.False(t, ok)

	h.Publish("job-1", domain.ProgressEvent{Kind: domain.EventRowStarted, RowNumber: 3})
	ev, ok := h.Snapshot("job-1")
	require.True(t, ok)
	assert.Equal(t, 3, ev.RowNumber)
}

func TestSubscribeReceivesPublishedEvents(t *testing.T) {
	h := New(4, time.Hour, discardLogger(), observability.NewMetrics(nil))
	ch, unsubscribe := h.Subscribe("job-2")
	defer unsubscribe()

	h.Publish("job-2", domain.ProgressEvent{Kind: domain.EventRowCompleted, RowNumber: 1})

	select {
	case ev := <-ch:
		assert.Equal(t, domain.EventRowCompleted, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published event")
	}
}

func TestPublishDropsWhenSubscriberChannelFull(t *testing.T) {
	h := New(1, time.Hour, discardLogger(), observability.NewMetrics(nil))
	_, unsubscribe := h.Subscribe("job-3")
	defer unsubscribe()

	// Fill the one-slot buffer, then publish a second event with nobody
	// draining the channel; it must be dropped rather than blocking.
	h.Publish("job-3", domain.ProgressEvent{Kind: domain.EventRowStarted, RowNumber: 1})
	done := make(chan struct{})
	go func() {
		h.Publish("job-3", domain.ProgressEvent{Kind: domain.EventRowStarted, RowNumber: 2})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber channel")
	}
}

func TestStreamEndsOnTerminalEvent(t *testing.T) {
	h := New(4, time.Hour, discardLogger(), observability.NewMetrics(nil))

	go func() {
		time.Sleep(10 * time.Millisecond)
		h.Publish("job-4", domain.ProgressEvent{Kind: domain.EventBatchCompleted})
	}()

	var received []domain.ProgressEventKind
	err := h.Stream(t.Context(), "job-4", func(ev domain.ProgressEvent) error {
		received = append(received, ev.Kind)
		return nil
	}, func() error { return nil })

	require.NoError(t, err)
	assert.Equal(t, []domain.ProgressEventKind{domain.EventBatchCompleted}, received)
}

func TestStreamStopsOnContextCancel(t *testing.T) {
	h := New(4, time.Hour, discardLogger(), observability.NewMetrics(nil))
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	err := h.Stream(ctx, "job-5", func(domain.ProgressEvent) error { return nil }, func() error { return nil })
	require.Error(t, err)
}
