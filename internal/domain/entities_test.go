package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to JobStatus
		want     bool
	}{
		{JobPending, JobRunning, true},
		{JobPending, JobCompleted, false},
		{JobRunning, JobPaused, true},
		{JobRunning, JobCompleted, true},
		{JobPaused, JobRunning, true},
		{JobPaused, JobCompleted, false},
		{JobCompleted, JobRunning, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, CanTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestJobStatusIsTerminal(t *testing.T) {
	assert.True(t, JobCompleted.IsTerminal())
	assert.True(t, JobFailed.IsTerminal())
	assert.True(t, JobCancelled.IsTerminal())
	assert.False(t, JobPending.IsTerminal())
	assert.False(t, JobRunning.IsTerminal())
	assert.False(t, JobPaused.IsTerminal())
}

func TestJobInvariant(t *testing.T) {
	ok := Job{TotalRows: 10, ProcessedRows: 4, SuccessfulRows: 3, FailedRows: 1}
	require.NoError(t, ok.Invariant())

	bad := Job{TotalRows: 10, ProcessedRows: 4, SuccessfulRows: 1, FailedRows: 1}
	require.Error(t, bad.Invariant())

	negative := Job{TotalRows: -1}
	require.Error(t, negative.Invariant())
}
