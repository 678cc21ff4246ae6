package decisionledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/shipagent/internal/domain"
)

type fakeStore struct {
	runs   []domain.DecisionRun
	events []domain.DecisionEvent
}

func (f *fakeStore) CreateRun(ctx context.Context, r domain.DecisionRun) (string, error) {
	f.runs = append(f.runs, r)
	return r.ID, nil
}

func (f *fakeStore) AppendEvent(ctx context.Context, e domain.DecisionEvent) error {
	f.events = append(f.events, e)
	return nil
}

func (f *fakeStore) LastEventHash(ctx context.Context, runID string) (string, error) {
	var last string
	for _, e := range f.events {
		if e.RunID == runID {
			last = e.EventHash
		}
	}
	return last, nil
}

func TestRecorderNilStoreIsNoOp(t *testing.T) {
	r := New(nil)
	id, err := r.StartRun(t.Context(), "sess", "job", "msg", "sig")
	require.NoError(t, err)
	assert.Empty(t, id)
	require.NoError(t, r.Record(t.Context(), "", 1, "ingest", "x", "system", "payload"))
}

func TestRecorderChainsEventHashes(t *testing.T) {
	store := &fakeStore{}
	r := New(store)

	runID, err := r.StartRun(t.Context(), "sess-1", "job-1", "ship these 3 orders", "sig-1")
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	require.NoError(t, r.Record(t.Context(), runID, 1, "ingest", "job_created", "system", "rows=3"))
	require.NoError(t, r.Record(t.Context(), runID, 2, "confirm", "engine_started", "system", "service=ground"))

	require.Len(t, store.events, 2)
	assert.Empty(t, store.events[0].PrevEventHash, "the first event chains from the genesis link")
	assert.Equal(t, store.events[0].EventHash, store.events[1].PrevEventHash, "the second event must chain from the first's hash")
	assert.NotEqual(t, store.events[0].EventHash, store.events[1].EventHash)
}

func TestRecorderSameRunDeterministicHashesGivenSameInputs(t *testing.T) {
	storeA := &fakeStore{}
	storeB := &fakeStore{}
	rA, rB := New(storeA), New(storeB)

	require.NoError(t, rA.Record(t.Context(), "run-fixed", 1, "ingest", "job_created", "system", "rows=1"))
	require.NoError(t, rB.Record(t.Context(), "run-fixed", 1, "ingest", "job_created", "system", "rows=1"))

	assert.Equal(t, storeA.events[0].EventHash, storeB.events[0].EventHash)
}
