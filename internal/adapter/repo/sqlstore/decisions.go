package sqlstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fairyhunter13/shipagent/internal/domain"
)

// DecisionRepo is the PostgreSQL-backed implementation of domain.DecisionStore.
type DecisionRepo struct {
	pool *pgxpool.Pool
}

// NewDecisionRepo builds a DecisionRepo.
func NewDecisionRepo(pool *pgxpool.Pool) *DecisionRepo {
	return &DecisionRepo{pool: pool}
}

var _ domain.DecisionStore = (*DecisionRepo)(nil)

// CreateRun starts a new decision ledger run and returns its id.
func (r *DecisionRepo) CreateRun(ctx context.Context, run domain.DecisionRun) (string, error) {
	var jobID any
	if run.JobID != "" {
		jobID = run.JobID
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO decision_runs (id, session_id, job_id, user_message_hash, user_message_redacted,
			source_signature, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
	`, run.ID, run.SessionID, jobID, run.UserMessageHash, run.UserMessageRedacted, run.SourceSignature, run.Status)
	if err != nil {
		return "", fmt.Errorf("op=sqlstore.CreateRun: %w", err)
	}
	return run.ID, nil
}

// AppendEvent inserts one hash-chained decision event. Callers are
// responsible for computing EventHash over PrevEventHash + PayloadHash
// before calling; this method only persists it.
func (r *DecisionRepo) AppendEvent(ctx context.Context, e domain.DecisionEvent) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO decision_events (id, run_id, seq, timestamp, phase, event_name, actor,
			payload_redacted, payload_hash, prev_event_hash, event_hash)
		VALUES ($1, $2, $3, now(), $4, $5, $6, $7, $8, $9, $10)
	`, e.ID, e.RunID, e.Seq, e.Phase, e.EventName, e.Actor, e.PayloadRedacted, e.PayloadHash, e.PrevEventHash, e.EventHash)
	if err != nil {
		return fmt.Errorf("op=sqlstore.AppendEvent run_id=%s seq=%d: %w", e.RunID, e.Seq, err)
	}
	return nil
}

// LastEventHash returns the event_hash of the most recently appended event
// for a run, or the empty string if the run has no events yet (the chain's
// genesis link).
func (r *DecisionRepo) LastEventHash(ctx context.Context, runID string) (string, error) {
	var hash string
	err := r.pool.QueryRow(ctx, `
		SELECT event_hash FROM decision_events WHERE run_id = $1 ORDER BY seq DESC LIMIT 1
	`, runID).Scan(&hash)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("op=sqlstore.LastEventHash run_id=%s: %w", runID, err)
	}
	return hash, nil
}
