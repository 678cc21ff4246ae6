// Package decisionledger computes and appends the hash-chained audit trail
// of decisions made while turning a user command into a confirmed batch job.
// Each event's hash covers the previous event's hash plus this event's own
// payload hash, so any row cannot be altered or reordered without breaking
// the chain from that point forward.
package decisionledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"

	"github.com/fairyhunter13/shipagent/internal/domain"
)

// Recorder appends hash-chained events to a domain.DecisionStore. A nil
// Recorder (or one built over a nil store) is a valid no-op, since the
// ledger is optional audit trail rather than a required dependency of the
// command-to-job path.
type Recorder struct {
	store domain.DecisionStore
}

// New builds a Recorder. Passing a nil store yields a Recorder whose methods
// are no-ops.
func New(store domain.DecisionStore) *Recorder {
	return &Recorder{store: store}
}

// StartRun opens a new decision run for one user command and returns its id.
func (r *Recorder) StartRun(ctx context.Context, sessionID, jobID, userMessage, sourceSignature string) (string, error) {
	if r == nil || r.store == nil {
		return "", nil
	}
	id := uuid.NewString()
	run := domain.DecisionRun{
		ID:                  id,
		SessionID:           sessionID,
		JobID:               jobID,
		UserMessageHash:     hashPayload(userMessage),
		UserMessageRedacted: redact(userMessage),
		SourceSignature:     sourceSignature,
		Status:              domain.DecisionRunRunning,
	}
	if _, err := r.store.CreateRun(ctx, run); err != nil {
		return "", fmt.Errorf("op=decisionledger.StartRun: %w", err)
	}
	return id, nil
}

// Record appends one chained event to a run. seq must be supplied by the
// caller since the store tracks ordering per run, not globally.
func (r *Recorder) Record(ctx context.Context, runID string, seq int64, phase, eventName, actor, payload string) error {
	if r == nil || r.store == nil || runID == "" {
		return nil
	}
	prev, err := r.store.LastEventHash(ctx, runID)
	if err != nil {
		return fmt.Errorf("op=decisionledger.Record run_id=%s: %w", runID, err)
	}
	payloadHash := hashPayload(payload)
	event := domain.DecisionEvent{
		ID:              uuid.NewString(),
		RunID:           runID,
		Seq:             seq,
		Phase:           phase,
		EventName:       eventName,
		Actor:           actor,
		PayloadRedacted: redact(payload),
		PayloadHash:     payloadHash,
		PrevEventHash:   prev,
		EventHash:       hashPayload(prev + payloadHash),
	}
	if err := r.store.AppendEvent(ctx, event); err != nil {
		return fmt.Errorf("op=decisionledger.Record run_id=%s seq=%d: %w", runID, seq, err)
	}
	return nil
}

func hashPayload(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// redact is a placeholder pass-through today; it exists as the single seam
// where PII scrubbing would be applied before persisting a payload, matching
// the original system's separation between a hash (kept forever) and a
// redacted copy (kept for operator review).
func redact(s string) string {
	return s
}
