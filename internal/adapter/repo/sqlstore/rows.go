package sqlstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/shipagent/internal/domain"
)

// RowRepo is the PostgreSQL-backed implementation of domain.RowStore.
type RowRepo struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewRowRepo builds a RowRepo.
func NewRowRepo(pool *pgxpool.Pool, log *slog.Logger) *RowRepo {
	return &RowRepo{pool: pool, log: log}
}

var _ domain.RowStore = (*RowRepo)(nil)

// CreateRows bulk-inserts the rows belonging to a newly loaded job.
func (r *RowRepo) CreateRows(ctx context.Context, rows []domain.JobRow) error {
	tr := otel.Tracer("repo.rows")
	ctx, span := tr.Start(ctx, "RowRepo.CreateRows")
	defer span.End()

	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(`
			INSERT INTO job_rows (id, job_id, row_number, checksum, status, order_snapshot, destination_country, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		`, row.ID, row.JobID, row.RowNumber, row.Checksum, row.Status, row.OrderSnapshot, row.DestinationCountry)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range rows {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("op=sqlstore.CreateRows: %w", err)
		}
	}
	return nil
}

// GetRow fetches a single row by (job, row_number).
func (r *RowRepo) GetRow(ctx context.Context, jobID string, rowNumber int) (domain.JobRow, error) {
	row := r.pool.QueryRow(ctx, rowSelectSQL+` WHERE job_id = $1 AND row_number = $2`, jobID, rowNumber)
	jr, err := scanRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.JobRow{}, fmt.Errorf("op=sqlstore.GetRow job_id=%s row=%d: %w", jobID, rowNumber, domain.ErrNotFound)
		}
		return domain.JobRow{}, fmt.Errorf("op=sqlstore.GetRow job_id=%s row=%d: %w", jobID, rowNumber, err)
	}
	return jr, nil
}

// ListRows returns rows for a job, optionally filtered by status ("" = all).
func (r *RowRepo) ListRows(ctx context.Context, jobID string, status domain.RowStatus) ([]domain.JobRow, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if status == "" {
		rows, err = r.pool.Query(ctx, rowSelectSQL+` WHERE job_id = $1 ORDER BY row_number`, jobID)
	} else {
		rows, err = r.pool.Query(ctx, rowSelectSQL+` WHERE job_id = $1 AND status = $2 ORDER BY row_number`, jobID, status)
	}
	if err != nil {
		return nil, fmt.Errorf("op=sqlstore.ListRows job_id=%s: %w", jobID, err)
	}
	defer rows.Close()
	return collectRows(rows)
}

// ListInFlightRows returns rows left in_flight by a crashed process, used by
// the recovery coordinator on startup.
func (r *RowRepo) ListInFlightRows(ctx context.Context, jobID string) ([]domain.JobRow, error) {
	rows, err := r.pool.Query(ctx, rowSelectSQL+` WHERE job_id = $1 AND status = $2 ORDER BY row_number`, jobID, domain.RowInFlight)
	if err != nil {
		return nil, fmt.Errorf("op=sqlstore.ListInFlightRows job_id=%s: %w", jobID, err)
	}
	defer rows.Close()
	return collectRows(rows)
}

// CheckpointInFlight marks a row in_flight and records its idempotency key
// before the carrier call is made, so a crash mid-call is recoverable.
func (r *RowRepo) CheckpointInFlight(ctx context.Context, jobID string, rowNumber int, idempotencyKey string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE job_rows SET status = $1, idempotency_key = $2
		WHERE job_id = $3 AND row_number = $4
	`, domain.RowInFlight, idempotencyKey, jobID, rowNumber)
	if err != nil {
		return fmt.Errorf("op=sqlstore.CheckpointInFlight job_id=%s row=%d: %w", jobID, rowNumber, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=sqlstore.CheckpointInFlight job_id=%s row=%d: %w", jobID, rowNumber, domain.ErrNotFound)
	}
	return nil
}

// CompleteRow persists a successful shipment outcome for one row.
func (r *RowRepo) CompleteRow(ctx context.Context, row domain.JobRow) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE job_rows SET status = $1, tracking_number = $2, label_ref = $3,
			cost_minor_units = $4, duties_taxes_minor = $5, charge_breakdown_json = $6,
			carrier_shipment_id = $7, carrier_tracking = $8, processed_at = now()
		WHERE job_id = $9 AND row_number = $10
	`, domain.RowCompleted, row.TrackingNumber, row.LabelRef, row.CostMinorUnits,
		row.DutiesTaxesMinor, row.ChargeBreakdownJSON, row.CarrierShipmentID,
		row.CarrierTracking, row.JobID, row.RowNumber)
	if err != nil {
		return fmt.Errorf("op=sqlstore.CompleteRow job_id=%s row=%d: %w", row.JobID, row.RowNumber, err)
	}
	return nil
}

// FailRow persists a deterministic failure outcome for one row.
func (r *RowRepo) FailRow(ctx context.Context, jobID string, rowNumber int, code, message string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE job_rows SET status = $1, error_code = $2, error_message = $3, processed_at = now()
		WHERE job_id = $4 AND row_number = $5
	`, domain.RowFailed, code, message, jobID, rowNumber)
	if err != nil {
		return fmt.Errorf("op=sqlstore.FailRow job_id=%s row=%d: %w", jobID, rowNumber, err)
	}
	return nil
}

// SkipRows marks the given row numbers as skipped, excluding them from
// engine processing without counting them as failures.
func (r *RowRepo) SkipRows(ctx context.Context, jobID string, rowNumbers []int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE job_rows SET status = $1 WHERE job_id = $2 AND row_number = ANY($3) AND status = $4
	`, domain.RowSkipped, jobID, rowNumbers, domain.RowPending)
	if err != nil {
		return fmt.Errorf("op=sqlstore.SkipRows job_id=%s: %w", jobID, err)
	}
	return nil
}

// MarkNeedsReview is used by the recovery coordinator when a carrier lookup
// is inconclusive after exhausting its retry budget.
func (r *RowRepo) MarkNeedsReview(ctx context.Context, jobID string, rowNumber int, recoveryAttempt int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE job_rows SET status = $1, recovery_attempt_count = $2, processed_at = now()
		WHERE job_id = $3 AND row_number = $4
	`, domain.RowNeedsReview, recoveryAttempt, jobID, rowNumber)
	if err != nil {
		return fmt.Errorf("op=sqlstore.MarkNeedsReview job_id=%s row=%d: %w", jobID, rowNumber, err)
	}
	return nil
}

// IncrementRecoveryAttempt bumps and returns the new recovery attempt count.
func (r *RowRepo) IncrementRecoveryAttempt(ctx context.Context, jobID string, rowNumber int) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		UPDATE job_rows SET recovery_attempt_count = recovery_attempt_count + 1
		WHERE job_id = $1 AND row_number = $2
		RETURNING recovery_attempt_count
	`, jobID, rowNumber).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("op=sqlstore.IncrementRecoveryAttempt job_id=%s row=%d: %w", jobID, rowNumber, err)
	}
	return count, nil
}

const rowSelectSQL = `
	SELECT id, job_id, row_number, checksum, status, order_snapshot, tracking_number,
		label_ref, cost_minor_units, duties_taxes_minor, destination_country,
		charge_breakdown_json, idempotency_key, carrier_shipment_id, carrier_tracking,
		recovery_attempt_count, error_code, error_message, created_at, processed_at
	FROM job_rows`

func scanRow(row scannable) (domain.JobRow, error) {
	var jr domain.JobRow
	err := row.Scan(
		&jr.ID, &jr.JobID, &jr.RowNumber, &jr.Checksum, &jr.Status, &jr.OrderSnapshot,
		&jr.TrackingNumber, &jr.LabelRef, &jr.CostMinorUnits, &jr.DutiesTaxesMinor,
		&jr.DestinationCountry, &jr.ChargeBreakdownJSON, &jr.IdempotencyKey,
		&jr.CarrierShipmentID, &jr.CarrierTracking, &jr.RecoveryAttemptCount,
		&jr.ErrorCode, &jr.ErrorMessage, &jr.CreatedAt, &jr.ProcessedAt,
	)
	return jr, err
}

func collectRows(rows pgx.Rows) ([]domain.JobRow, error) {
	var out []domain.JobRow
	for rows.Next() {
		jr, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("op=sqlstore.collectRows: %w", err)
		}
		out = append(out, jr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=sqlstore.collectRows: %w", err)
	}
	return out, nil
}
