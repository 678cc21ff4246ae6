package sqlstore

import (
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/shipagent/internal/domain"
)

// testPool connects to a real Postgres instance named by SHIPAGENT_TEST_DB_URL
// and applies migrations, skipping the test entirely when no database is
// available. These exercise the repositories against real SQL rather than
// fakes, since the repository layer's correctness lives in its SQL.
func testPool(t *testing.T) (*pgxpool.Pool, *slog.Logger) {
	t.Helper()
	dbURL := os.Getenv("SHIPAGENT_TEST_DB_URL")
	if dbURL == "" {
		t.Skip("SHIPAGENT_TEST_DB_URL not set; skipping sqlstore integration test")
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	p, err := NewPool(t.Context(), dbURL)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	require.NoError(t, Migrate(t.Context(), p))
	return p, log
}

func TestJobRepoCreateGetRoundTrip(t *testing.T) {
	p, log := testPool(t)
	repo := NewJobRepo(p, log)

	job := domain.Job{ID: "job-rt-1", Name: "test job", Status: domain.JobPending, Mode: domain.JobModeConfirm, TotalRows: 1}
	_, err := repo.CreateJob(t.Context(), job)
	require.NoError(t, err)

	got, err := repo.GetJob(t.Context(), "job-rt-1")
	require.NoError(t, err)
	require.Equal(t, "test job", got.Name)
	require.Equal(t, domain.JobPending, got.Status)
}

func TestJobRepoUpdateJobStatusEnforcesTransitions(t *testing.T) {
	p, log := testPool(t)
	repo := NewJobRepo(p, log)

	job := domain.Job{ID: "job-rt-2", Name: "transition test", Status: domain.JobPending, Mode: domain.JobModeConfirm}
	_, err := repo.CreateJob(t.Context(), job)
	require.NoError(t, err)

	require.Error(t, repo.UpdateJobStatus(t.Context(), "job-rt-2", domain.JobCompleted), "pending->completed is not a legal transition")
	require.NoError(t, repo.UpdateJobStatus(t.Context(), "job-rt-2", domain.JobRunning))
}
