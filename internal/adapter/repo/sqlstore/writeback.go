package sqlstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fairyhunter13/shipagent/internal/domain"
)

// WriteBackRepo is the PostgreSQL-backed implementation of domain.WriteBackStore.
type WriteBackRepo struct {
	pool *pgxpool.Pool
}

// NewWriteBackRepo builds a WriteBackRepo.
func NewWriteBackRepo(pool *pgxpool.Pool) *WriteBackRepo {
	return &WriteBackRepo{pool: pool}
}

var _ domain.WriteBackStore = (*WriteBackRepo)(nil)

// Enqueue inserts a pending write-back task for one completed row.
func (r *WriteBackRepo) Enqueue(ctx context.Context, t domain.WriteBackTask) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO write_back_tasks (id, job_id, row_number, tracking_number, shipped_at, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (job_id, row_number) DO NOTHING
	`, t.ID, t.JobID, t.RowNumber, t.TrackingNumber, t.ShippedAt, domain.WriteBackPending)
	if err != nil {
		return fmt.Errorf("op=sqlstore.Enqueue job_id=%s row=%d: %w", t.JobID, t.RowNumber, err)
	}
	return nil
}

// ListPending returns pending write-back tasks for a job, oldest first. When
// jobID is empty it returns pending tasks across all jobs, for the
// background worker's polling sweep.
func (r *WriteBackRepo) ListPending(ctx context.Context, jobID string) ([]domain.WriteBackTask, error) {
	var (
		rows pgx.Rows
		err  error
	)
	const sel = `SELECT id, job_id, row_number, tracking_number, shipped_at, status, retry_count, created_at FROM write_back_tasks`
	if jobID == "" {
		rows, err = r.pool.Query(ctx, sel+` WHERE status = $1 ORDER BY created_at`, domain.WriteBackPending)
	} else {
		rows, err = r.pool.Query(ctx, sel+` WHERE job_id = $1 AND status = $2 ORDER BY created_at`, jobID, domain.WriteBackPending)
	}
	if err != nil {
		return nil, fmt.Errorf("op=sqlstore.ListPending job_id=%s: %w", jobID, err)
	}
	defer rows.Close()

	var out []domain.WriteBackTask
	for rows.Next() {
		var t domain.WriteBackTask
		if err := rows.Scan(&t.ID, &t.JobID, &t.RowNumber, &t.TrackingNumber, &t.ShippedAt, &t.Status, &t.RetryCount, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("op=sqlstore.ListPending.scan: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// MarkCompleted marks a write-back task as successfully applied.
func (r *WriteBackRepo) MarkCompleted(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `UPDATE write_back_tasks SET status = $1 WHERE id = $2`, domain.WriteBackCompleted, id)
	if err != nil {
		return fmt.Errorf("op=sqlstore.MarkCompleted id=%s: %w", id, err)
	}
	return nil
}

// MarkRetry bumps the retry counter after a failed write-back attempt.
func (r *WriteBackRepo) MarkRetry(ctx context.Context, id string, retryCount int) error {
	_, err := r.pool.Exec(ctx, `UPDATE write_back_tasks SET retry_count = $1 WHERE id = $2`, retryCount, id)
	if err != nil {
		return fmt.Errorf("op=sqlstore.MarkRetry id=%s: %w", id, err)
	}
	return nil
}

// MarkDeadLetter moves a task to dead_letter after exhausting its retry budget.
func (r *WriteBackRepo) MarkDeadLetter(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `UPDATE write_back_tasks SET status = $1 WHERE id = $2`, domain.WriteBackDeadLetter, id)
	if err != nil {
		return fmt.Errorf("op=sqlstore.MarkDeadLetter id=%s: %w", id, err)
	}
	return nil
}
