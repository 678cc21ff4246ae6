package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/shipagent/internal/config"
	"github.com/fairyhunter13/shipagent/internal/domain"
	"github.com/fairyhunter13/shipagent/internal/engine"
)

type fakeJobStore struct {
	jobs map[string]domain.Job
}

func newFakeJobStore() *fakeJobStore { return &fakeJobStore{jobs: map[string]domain.Job{}} }

func (f *fakeJobStore) CreateJob(ctx context.Context, j domain.Job) (string, error) {
	f.jobs[j.ID] = j
	return j.ID, nil
}
func (f *fakeJobStore) GetJob(ctx context.Context, id string) (domain.Job, error) {
	j, ok := f.jobs[id]
	if !ok {
		return domain.Job{}, domain.ErrNotFound
	}
	return j, nil
}
func (f *fakeJobStore) UpdateJobStatus(ctx context.Context, id string, status domain.JobStatus) error {
	j := f.jobs[id]
	j.Status = status
	f.jobs[id] = j
	return nil
}
func (f *fakeJobStore) UpdateJobAggregates(ctx context.Context, j domain.Job) error {
	f.jobs[j.ID] = j
	return nil
}
func (f *fakeJobStore) SetJobError(ctx context.Context, id, code, message string) error { return nil }
func (f *fakeJobStore) ListJobs(ctx context.Context, fi domain.JobFilter) ([]domain.Job, int, error) {
	return nil, 0, nil
}
func (f *fakeJobStore) DeleteJob(ctx context.Context, id string) error { return nil }

type fakeRowStore struct {
	rows map[string][]domain.JobRow
}

func newFakeRowStore() *fakeRowStore { return &fakeRowStore{rows: map[string][]domain.JobRow{}} }

func (f *fakeRowStore) CreateRows(ctx context.Context, rows []domain.JobRow) error {
	for _, r := range rows {
		f.rows[r.JobID] = append(f.rows[r.JobID], r)
	}
	return nil
}
func (f *fakeRowStore) GetRow(ctx context.Context, jobID string, rowNumber int) (domain.JobRow, error) {
	return domain.JobRow{}, nil
}
func (f *fakeRowStore) ListRows(ctx context.Context, jobID string, status domain.RowStatus) ([]domain.JobRow, error) {
	var out []domain.JobRow
	for _, r := range f.rows[jobID] {
		if r.Status == status {
			out = append(out, r)
		}
	}
	return out, nil
}
func (f *fakeRowStore) ListInFlightRows(ctx context.Context, jobID string) ([]domain.JobRow, error) {
	return nil, nil
}
func (f *fakeRowStore) CheckpointInFlight(ctx context.Context, jobID string, rowNumber int, idempotencyKey string) error {
	return nil
}
func (f *fakeRowStore) CompleteRow(ctx context.Context, row domain.JobRow) error { return nil }
func (f *fakeRowStore) FailRow(ctx context.Context, jobID string, rowNumber int, code, message string) error {
	return nil
}
func (f *fakeRowStore) SkipRows(ctx context.Context, jobID string, rowNumbers []int) error { return nil }
func (f *fakeRowStore) MarkNeedsReview(ctx context.Context, jobID string, rowNumber int, recoveryAttempt int) error {
	return nil
}
func (f *fakeRowStore) IncrementRecoveryAttempt(ctx context.Context, jobID string, rowNumber int) (int, error) {
	return 0, nil
}

type fakeGateway struct {
	domain.DataGateway
	signature string
}

func (f *fakeGateway) GetSourceSignature(ctx context.Context) (string, error) { return f.signature, nil }

type fakeEngine struct {
	calls chan string
}

func (f *fakeEngine) Execute(ctx context.Context, jobID string, shipper domain.CarrierAddress, rowsByNumber map[int]domain.Row, mapper engine.RowMapper, writeBackEnabled bool) error {
	f.calls <- jobID
	return nil
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testConfig() config.Config {
	return config.Config{
		ShipperName: "Acme", ShipperAddress1: "1 Main St", ShipperCity: "Springfield",
		ShipperPostalCode: "62704", ShipperCountry: "US",
	}
}

func TestCreateRejectsEmptyRows(t *testing.T) {
	o := New(newFakeJobStore(), newFakeRowStore(), &fakeGateway{}, nil, &fakeEngine{calls: make(chan string, 1)}, testConfig(), discardLogger())
	_, err := o.Create(t.Context(), CreateJobRequest{Rows: nil})
	require.Error(t, err)
}

func TestCreateConfirmModeDoesNotAutoStart(t *testing.T) {
	jobStore := newFakeJobStore()
	eng := &fakeEngine{calls: make(chan string, 1)}
	o := New(jobStore, newFakeRowStore(), &fakeGateway{signature: "sig-1"}, nil, eng, testConfig(), discardLogger())

	id, err := o.Create(t.Context(), CreateJobRequest{
		Mode: domain.JobModeConfirm,
		Rows: []domain.Row{{RowNumber: 1, Checksum: "c1", Fields: map[string]string{}}},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.JobPending, jobStore.jobs[id].Status)

	select {
	case <-eng.calls:
		t.Fatal("engine must not run until Confirm is called")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCreateAutoModeStartsEngine(t *testing.T) {
	jobStore := newFakeJobStore()
	eng := &fakeEngine{calls: make(chan string, 1)}
	o := New(jobStore, newFakeRowStore(), &fakeGateway{signature: "sig-1"}, nil, eng, testConfig(), discardLogger())

	id, err := o.Create(t.Context(), CreateJobRequest{
		Mode: domain.JobModeAuto,
		Rows: []domain.Row{{RowNumber: 1, Checksum: "c1", Fields: map[string]string{}}},
	})
	require.NoError(t, err)

	select {
	case gotID := <-eng.calls:
		assert.Equal(t, id, gotID)
	case <-time.After(time.Second):
		t.Fatal("expected the engine to be invoked for an auto-mode job")
	}
}

func TestConfirmRejectsNonPendingJob(t *testing.T) {
	jobStore := newFakeJobStore()
	jobStore.jobs["job-1"] = domain.Job{ID: "job-1", Status: domain.JobRunning, ShipperSnapshot: "{}"}
	eng := &fakeEngine{calls: make(chan string, 1)}
	o := New(jobStore, newFakeRowStore(), &fakeGateway{}, nil, eng, testConfig(), discardLogger())

	err := o.Confirm(t.Context(), "job-1", "ground")
	require.Error(t, err)
}

func TestResolveShipperUsesOverride(t *testing.T) {
	o := New(newFakeJobStore(), newFakeRowStore(), &fakeGateway{}, nil, &fakeEngine{calls: make(chan string, 1)}, config.Config{}, discardLogger())
	override := &domain.CarrierAddress{Name: "Override Co"}
	addr, err := o.resolveShipper(t.Context(), override)
	require.NoError(t, err)
	assert.Equal(t, "Override Co", addr.Name)
}

func TestResolveShipperFailsWithoutOverrideOrEnvironment(t *testing.T) {
	o := New(newFakeJobStore(), newFakeRowStore(), &fakeGateway{}, nil, &fakeEngine{calls: make(chan string, 1)}, config.Config{}, discardLogger())
	_, err := o.resolveShipper(t.Context(), nil)
	require.Error(t, err)
}

func TestResolveShipperFallsBackToEnvironment(t *testing.T) {
	o := New(newFakeJobStore(), newFakeRowStore(), &fakeGateway{}, nil, &fakeEngine{calls: make(chan string, 1)}, testConfig(), discardLogger())
	addr, err := o.resolveShipper(t.Context(), nil)
	require.NoError(t, err)
	assert.Equal(t, "Acme", addr.Name)
}
