package sqlstore

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/shipagent/internal/domain"
)

func TestAuditRepoAppendAndListFilters(t *testing.T) {
	p, log := testPool(t)
	jobs := NewJobRepo(p, log)
	audit := NewAuditRepo(p)

	jobID := "job-audit-" + uuid.NewString()
	_, err := jobs.CreateJob(t.Context(), domain.Job{ID: jobID, Name: "audit test", Status: domain.JobRunning, Mode: domain.JobModeAuto})
	require.NoError(t, err)

	require.NoError(t, audit.Append(t.Context(), domain.AuditEvent{ID: uuid.NewString(), JobID: jobID, Severity: "info", Kind: "row_completed", Message: "row 1 shipped"}))
	require.NoError(t, audit.Append(t.Context(), domain.AuditEvent{ID: uuid.NewString(), JobID: jobID, Severity: "error", Kind: "row_failed", Message: "row 2 failed"}))

	all, err := audit.List(t.Context(), jobID, "", "", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)

	errorsOnly, err := audit.List(t.Context(), jobID, "error", "", 0)
	require.NoError(t, err)
	require.Len(t, errorsOnly, 1)
	require.Equal(t, "row_failed", errorsOnly[0].Kind)

	byKind, err := audit.List(t.Context(), jobID, "", "row_completed", 0)
	require.NoError(t, err)
	require.Len(t, byKind, 1)
	require.Equal(t, "info", byKind[0].Severity)
}

func TestAuditRepoListRespectsLimit(t *testing.T) {
	p, log := testPool(t)
	jobs := NewJobRepo(p, log)
	audit := NewAuditRepo(p)

	jobID := "job-audit-limit-" + uuid.NewString()
	_, err := jobs.CreateJob(t.Context(), domain.Job{ID: jobID, Name: "audit limit test", Status: domain.JobRunning, Mode: domain.JobModeAuto})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, audit.Append(t.Context(), domain.AuditEvent{ID: uuid.NewString(), JobID: jobID, Severity: "info", Kind: "row_completed", Message: "tick"}))
	}

	limited, err := audit.List(t.Context(), jobID, "", "", 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
}
