package sqlstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fairyhunter13/shipagent/internal/domain"
)

// AuditRepo is the PostgreSQL-backed implementation of domain.AuditStore.
type AuditRepo struct {
	pool *pgxpool.Pool
}

// NewAuditRepo builds an AuditRepo.
func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

var _ domain.AuditStore = (*AuditRepo)(nil)

// Append inserts one audit event. The table is append-only; nothing ever
// updates or deletes a row out from under a reader.
func (r *AuditRepo) Append(ctx context.Context, e domain.AuditEvent) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO audit_events (id, job_id, timestamp, severity, kind, message, detail, row_number)
		VALUES ($1, $2, now(), $3, $4, $5, $6, $7)
	`, e.ID, e.JobID, e.Severity, e.Kind, e.Message, e.Detail, e.RowNumber)
	if err != nil {
		return fmt.Errorf("op=sqlstore.AuditAppend job_id=%s: %w", e.JobID, err)
	}
	return nil
}

// List returns the most recent audit events for a job, optionally filtered
// by severity ("level") and kind ("eventType"), newest first.
func (r *AuditRepo) List(ctx context.Context, jobID string, level, eventType string, limit int) ([]domain.AuditEvent, error) {
	if limit <= 0 {
		limit = 200
	}

	query := `SELECT id, job_id, timestamp, severity, kind, message, detail, row_number FROM audit_events WHERE job_id = $1`
	args := []any{jobID}
	argN := 2
	if level != "" {
		query += fmt.Sprintf(" AND severity = $%d", argN)
		args = append(args, level)
		argN++
	}
	if eventType != "" {
		query += fmt.Sprintf(" AND kind = $%d", argN)
		args = append(args, eventType)
		argN++
	}
	query += fmt.Sprintf(" ORDER BY timestamp DESC LIMIT $%d", argN)
	args = append(args, limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("op=sqlstore.AuditList job_id=%s: %w", jobID, err)
	}
	defer rows.Close()

	var out []domain.AuditEvent
	for rows.Next() {
		var e domain.AuditEvent
		if err := rows.Scan(&e.ID, &e.JobID, &e.Timestamp, &e.Severity, &e.Kind, &e.Message, &e.Detail, &e.RowNumber); err != nil {
			return nil, fmt.Errorf("op=sqlstore.AuditList.scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
