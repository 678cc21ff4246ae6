package sqlstore

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/shipagent/internal/domain"
)

func TestWriteBackRepoEnqueueListMarkCompleted(t *testing.T) {
	p, log := testPool(t)
	jobs := NewJobRepo(p, log)
	wb := NewWriteBackRepo(p)

	jobID := "job-wb-" + uuid.NewString()
	_, err := jobs.CreateJob(t.Context(), domain.Job{ID: jobID, Name: "writeback test", Status: domain.JobRunning, Mode: domain.JobModeAuto})
	require.NoError(t, err)

	task := domain.WriteBackTask{ID: uuid.NewString(), JobID: jobID, RowNumber: 1, TrackingNumber: "1Z1", ShippedAt: time.Now()}
	require.NoError(t, wb.Enqueue(t.Context(), task))

	pending, err := wb.ListPending(t.Context(), jobID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "1Z1", pending[0].TrackingNumber)

	require.NoError(t, wb.MarkCompleted(t.Context(), task.ID))
	pending, err = wb.ListPending(t.Context(), jobID)
	require.NoError(t, err)
	require.Empty(t, pending, "a completed task must drop out of the pending list")
}

func TestWriteBackRepoEnqueueIsIdempotentPerRow(t *testing.T) {
	p, log := testPool(t)
	jobs := NewJobRepo(p, log)
	wb := NewWriteBackRepo(p)

	jobID := "job-wb-dup-" + uuid.NewString()
	_, err := jobs.CreateJob(t.Context(), domain.Job{ID: jobID, Name: "writeback dup test", Status: domain.JobRunning, Mode: domain.JobModeAuto})
	require.NoError(t, err)

	first := domain.WriteBackTask{ID: uuid.NewString(), JobID: jobID, RowNumber: 1, TrackingNumber: "1Z1", ShippedAt: time.Now()}
	second := domain.WriteBackTask{ID: uuid.NewString(), JobID: jobID, RowNumber: 1, TrackingNumber: "1Z2", ShippedAt: time.Now()}
	require.NoError(t, wb.Enqueue(t.Context(), first))
	require.NoError(t, wb.Enqueue(t.Context(), second))

	pending, err := wb.ListPending(t.Context(), jobID)
	require.NoError(t, err)
	require.Len(t, pending, 1, "a second enqueue for the same job/row must be a no-op")
}

func TestWriteBackRepoMarkRetryAndDeadLetter(t *testing.T) {
	p, log := testPool(t)
	jobs := NewJobRepo(p, log)
	wb := NewWriteBackRepo(p)

	jobID := "job-wb-retry-" + uuid.NewString()
	_, err := jobs.CreateJob(t.Context(), domain.Job{ID: jobID, Name: "writeback retry test", Status: domain.JobRunning, Mode: domain.JobModeAuto})
	require.NoError(t, err)

	task := domain.WriteBackTask{ID: uuid.NewString(), JobID: jobID, RowNumber: 1, TrackingNumber: "1Z1", ShippedAt: time.Now()}
	require.NoError(t, wb.Enqueue(t.Context(), task))

	require.NoError(t, wb.MarkRetry(t.Context(), task.ID, 1))
	require.NoError(t, wb.MarkDeadLetter(t.Context(), task.ID))

	pending, err := wb.ListPending(t.Context(), jobID)
	require.NoError(t, err)
	require.Empty(t, pending, "a dead-lettered task must no longer be pending")
}
