package writebackqueue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/shipagent/internal/domain"
	"github.com/fairyhunter13/shipagent/internal/observability"
)

type fakeWriteBackStore struct {
	pending      []domain.WriteBackTask
	completed    []string
	retried      map[string]int
	deadLettered []string
}

func (f *fakeWriteBackStore) Enqueue(ctx context.Context, t domain.WriteBackTask) error {
	f.pending = append(f.pending, t)
	return nil
}
func (f *fakeWriteBackStore) ListPending(ctx context.Context, jobID string) ([]domain.WriteBackTask, error) {
	return f.pending, nil
}
func (f *fakeWriteBackStore) MarkCompleted(ctx context.Context, id string) error {
	f.completed = append(f.completed, id)
	f.remove(id)
	return nil
}
func (f *fakeWriteBackStore) MarkRetry(ctx context.Context, id string, retryCount int) error {
	if f.retried == nil {
		f.retried = map[string]int{}
	}
	f.retried[id] = retryCount
	for i := range f.pending {
		if f.pending[i].ID == id {
			f.pending[i].RetryCount = retryCount
		}
	}
	return nil
}
func (f *fakeWriteBackStore) MarkDeadLetter(ctx context.Context, id string) error {
	f.deadLettered = append(f.deadLettered, id)
	f.remove(id)
	return nil
}
func (f *fakeWriteBackStore) remove(id string) {
	out := f.pending[:0]
	for _, t := range f.pending {
		if t.ID != id {
			out = append(out, t)
		}
	}
	f.pending = out
}

type fakeGateway struct {
	domain.DataGateway
	failRows map[int]error
	applied  []int
}

func (f *fakeGateway) WriteBackSingle(ctx context.Context, rowNumber int, trackingNumber string, shippedAt time.Time) error {
	if err, ok := f.failRows[rowNumber]; ok {
		return err
	}
	f.applied = append(f.applied, rowNumber)
	return nil
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestWorkerAppliesPendingAndMarksCompleted(t *testing.T) {
	store := &fakeWriteBackStore{pending: []domain.WriteBackTask{{ID: "t1", RowNumber: 1}}}
	gw := &fakeGateway{}
	w := New(store, gw, discardLogger(), observability.NewMetrics(nil), time.Hour, 3)

	w.drain(t.Context())

	assert.Equal(t, []string{"t1"}, store.completed)
	assert.Equal(t, []int{1}, gw.applied)
	assert.Empty(t, store.pending)
}

func TestWorkerRetriesOnFailure(t *testing.T) {
	store := &fakeWriteBackStore{pending: []domain.WriteBackTask{{ID: "t1", RowNumber: 1, RetryCount: 0}}}
	gw := &fakeGateway{failRows: map[int]error{1: errors.New("transient")}}
	w := New(store, gw, discardLogger(), observability.NewMetrics(nil), time.Hour, 3)

	w.drain(t.Context())

	assert.Equal(t, 1, store.retried["t1"])
	require.Len(t, store.pending, 1)
	assert.Equal(t, "t1", store.pending[0].ID)
}

func TestWorkerDeadLettersAfterMaxRetries(t *testing.T) {
	store := &fakeWriteBackStore{pending: []domain.WriteBackTask{{ID: "t1", RowNumber: 1, RetryCount: 2}}}
	gw := &fakeGateway{failRows: map[int]error{1: errors.New("still failing")}}
	w := New(store, gw, discardLogger(), observability.NewMetrics(nil), time.Hour, 3)

	w.drain(t.Context())

	assert.Equal(t, []string{"t1"}, store.deadLettered)
	assert.Empty(t, store.pending)
}

func TestKickIsNonBlocking(t *testing.T) {
	w := New(&fakeWriteBackStore{}, &fakeGateway{}, discardLogger(), observability.NewMetrics(nil), time.Hour, 3)
	w.Kick()
	w.Kick() // second call must not block even though the channel is already full
}
