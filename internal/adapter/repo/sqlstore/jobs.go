package sqlstore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/shipagent/internal/domain"
)

// JobRepo is the PostgreSQL-backed implementation of domain.JobStore.
type JobRepo struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewJobRepo builds a JobRepo.
func NewJobRepo(pool *pgxpool.Pool, log *slog.Logger) *JobRepo {
	return &JobRepo{pool: pool, log: log}
}

var _ domain.JobStore = (*JobRepo)(nil)

// CreateJob inserts a new job row and returns its id.
func (r *JobRepo) CreateJob(ctx context.Context, j domain.Job) (string, error) {
	tr := otel.Tracer("repo.jobs")
	ctx, span := tr.Start(ctx, "JobRepo.CreateJob")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"))

	start := time.Now()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO jobs (id, name, original_command, status, mode, total_rows,
			shipper_snapshot, write_back_enabled, source_signature, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
	`, j.ID, j.Name, j.OriginalCommand, j.Status, j.Mode, j.TotalRows,
		j.ShipperSnapshot, j.WriteBackEnabled, j.SourceSignature)
	r.log.Info("op=sqlstore.CreateJob", slog.String("job_id", j.ID), slog.Duration("duration", time.Since(start)), slog.Any("error", err))
	if err != nil {
		return "", fmt.Errorf("op=sqlstore.CreateJob: %w", err)
	}
	return j.ID, nil
}

// GetJob fetches one job by id.
func (r *JobRepo) GetJob(ctx context.Context, id string) (domain.Job, error) {
	tr := otel.Tracer("repo.jobs")
	ctx, span := tr.Start(ctx, "JobRepo.GetJob")
	defer span.End()

	row := r.pool.QueryRow(ctx, `
		SELECT id, name, original_command, status, mode, total_rows, processed_rows,
			successful_rows, failed_rows, total_cost_minor_units, total_duties_taxes_minor,
			international_row_count, shipper_snapshot, write_back_enabled, source_signature,
			error_code, error_message, created_at, started_at, completed_at, updated_at
		FROM jobs WHERE id = $1
	`, id)

	j, err := scanJob(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Job{}, fmt.Errorf("op=sqlstore.GetJob id=%s: %w", id, domain.ErrNotFound)
		}
		return domain.Job{}, fmt.Errorf("op=sqlstore.GetJob id=%s: %w", id, err)
	}
	return j, nil
}

// UpdateJobStatus transitions a job's status, validating against the allowed
// state machine inside the same transaction that reads the current status.
func (r *JobRepo) UpdateJobStatus(ctx context.Context, id string, status domain.JobStatus) error {
	tr := otel.Tracer("repo.jobs")
	ctx, span := tr.Start(ctx, "JobRepo.UpdateJobStatus")
	defer span.End()

	start := time.Now()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("op=sqlstore.UpdateJobStatus.begin id=%s: %w", id, err)
	}
	defer tx.Rollback(ctx)

	var current domain.JobStatus
	if err := tx.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1 FOR UPDATE`, id).Scan(&current); err != nil {
		if err == pgx.ErrNoRows {
			return fmt.Errorf("op=sqlstore.UpdateJobStatus id=%s: %w", id, domain.ErrNotFound)
		}
		return fmt.Errorf("op=sqlstore.UpdateJobStatus.select id=%s: %w", id, err)
	}

	if !domain.CanTransition(current, status) {
		return fmt.Errorf("op=sqlstore.UpdateJobStatus id=%s from=%s to=%s: %w", id, current, status, domain.ErrInvalidState)
	}

	var extra string
	args := []any{status, id}
	switch status {
	case domain.JobRunning:
		if current == domain.JobPending {
			extra = ", started_at = now()"
		}
	case domain.JobCompleted, domain.JobFailed, domain.JobCancelled:
		extra = ", completed_at = now()"
	}

	_, err = tx.Exec(ctx, fmt.Sprintf(`UPDATE jobs SET status = $1, updated_at = now()%s WHERE id = $2`, extra), args...)
	if err != nil {
		return fmt.Errorf("op=sqlstore.UpdateJobStatus.update id=%s: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=sqlstore.UpdateJobStatus.commit id=%s: %w", id, err)
	}
	r.log.Info("op=sqlstore.UpdateJobStatus", slog.String("job_id", id), slog.String("from", string(current)), slog.String("to", string(status)), slog.Duration("duration", time.Since(start)))
	return nil
}

// UpdateJobAggregates writes back the running row counters and cost totals.
func (r *JobRepo) UpdateJobAggregates(ctx context.Context, j domain.Job) error {
	tr := otel.Tracer("repo.jobs")
	ctx, span := tr.Start(ctx, "JobRepo.UpdateJobAggregates")
	defer span.End()

	if err := j.Invariant(); err != nil {
		return fmt.Errorf("op=sqlstore.UpdateJobAggregates id=%s: %w", j.ID, err)
	}

	_, err := r.pool.Exec(ctx, `
		UPDATE jobs SET processed_rows = $1, successful_rows = $2, failed_rows = $3,
			total_cost_minor_units = $4, total_duties_taxes_minor = $5,
			international_row_count = $6, updated_at = now()
		WHERE id = $7
	`, j.ProcessedRows, j.SuccessfulRows, j.FailedRows, j.TotalCostMinorUnits,
		j.TotalDutiesTaxesMinor, j.InternationalRowCount, j.ID)
	if err != nil {
		return fmt.Errorf("op=sqlstore.UpdateJobAggregates id=%s: %w", j.ID, err)
	}
	return nil
}

// SetJobError records a terminal error code/message on a job.
func (r *JobRepo) SetJobError(ctx context.Context, id, code, message string) error {
	_, err := r.pool.Exec(ctx, `UPDATE jobs SET error_code = $1, error_message = $2, updated_at = now() WHERE id = $3`, code, message, id)
	if err != nil {
		return fmt.Errorf("op=sqlstore.SetJobError id=%s: %w", id, err)
	}
	return nil
}

// ListJobs returns jobs matching f along with the total matching count.
func (r *JobRepo) ListJobs(ctx context.Context, f domain.JobFilter) ([]domain.Job, int, error) {
	tr := otel.Tracer("repo.jobs")
	ctx, span := tr.Start(ctx, "JobRepo.ListJobs")
	defer span.End()

	var where []string
	var args []any
	argN := 1

	if f.Status != "" {
		where = append(where, fmt.Sprintf("status = $%d", argN))
		args = append(args, f.Status)
		argN++
	}
	if f.Name != "" {
		where = append(where, fmt.Sprintf("name ILIKE $%d", argN))
		args = append(args, "%"+f.Name+"%")
		argN++
	}
	if f.CreatedAfter != nil {
		where = append(where, fmt.Sprintf("created_at >= $%d", argN))
		args = append(args, *f.CreatedAfter)
		argN++
	}
	if f.CreatedBefore != nil {
		where = append(where, fmt.Sprintf("created_at <= $%d", argN))
		args = append(args, *f.CreatedBefore)
		argN++
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	countSQL := fmt.Sprintf(`SELECT count(*) FROM jobs %s`, whereClause)
	if err := r.pool.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("op=sqlstore.ListJobs.count: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	listArgs := append(append([]any{}, args...), limit, f.Offset)
	listSQL := fmt.Sprintf(`
		SELECT id, name, original_command, status, mode, total_rows, processed_rows,
			successful_rows, failed_rows, total_cost_minor_units, total_duties_taxes_minor,
			international_row_count, shipper_snapshot, write_back_enabled, source_signature,
			error_code, error_message, created_at, started_at, completed_at, updated_at
		FROM jobs %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d
	`, whereClause, argN, argN+1)

	rows, err := r.pool.Query(ctx, listSQL, listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("op=sqlstore.ListJobs.query: %w", err)
	}
	defer rows.Close()

	var out []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("op=sqlstore.ListJobs.scan: %w", err)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("op=sqlstore.ListJobs.rows: %w", err)
	}
	return out, total, nil
}

// DeleteJob removes a job and all rows/tasks/events cascaded from it.
func (r *JobRepo) DeleteJob(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("op=sqlstore.DeleteJob id=%s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=sqlstore.DeleteJob id=%s: %w", id, domain.ErrNotFound)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanJob(row scannable) (domain.Job, error) {
	var j domain.Job
	err := row.Scan(
		&j.ID, &j.Name, &j.OriginalCommand, &j.Status, &j.Mode, &j.TotalRows, &j.ProcessedRows,
		&j.SuccessfulRows, &j.FailedRows, &j.TotalCostMinorUnits, &j.TotalDutiesTaxesMinor,
		&j.InternationalRowCount, &j.ShipperSnapshot, &j.WriteBackEnabled, &j.SourceSignature,
		&j.ErrorCode, &j.ErrorMessage, &j.CreatedAt, &j.StartedAt, &j.CompletedAt, &j.UpdatedAt,
	)
	return j, err
}
