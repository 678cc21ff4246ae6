// Package engine implements the row-by-row batch execution core: the fail-fast
// sequential shipment loop and idempotency-key derivation.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fairyhunter13/shipagent/internal/domain"
	"github.com/fairyhunter13/shipagent/internal/observability"
)

// RowMapper builds a carrier shipment request from a source row and the
// job's resolved shipper address. It is supplied by the orchestrator, which
// owns the order-field-to-shipment-field mapping.
type RowMapper func(row domain.Row, shipper domain.CarrierAddress) (domain.ShipmentRequest, error)

// Engine executes one job's rows sequentially against the carrier client,
// halting the whole batch on the first row that does not complete
// successfully.
type Engine struct {
	jobs       domain.JobStore
	rows       domain.RowStore
	writeBacks domain.WriteBackStore
	audit      domain.AuditStore
	carrier    domain.CarrierClient
	progress   progressPublisher
	log        *slog.Logger
	metrics    *observability.Metrics
}

type progressPublisher interface {
	Publish(jobID string, ev domain.ProgressEvent)
}

// New builds an Engine.
func New(jobs domain.JobStore, rows domain.RowStore, writeBacks domain.WriteBackStore, audit domain.AuditStore, carrier domain.CarrierClient, progress progressPublisher, log *slog.Logger, metrics *observability.Metrics) *Engine {
	return &Engine{jobs: jobs, rows: rows, writeBacks: writeBacks, audit: audit, carrier: carrier, progress: progress, log: log, metrics: metrics}
}

// IdempotencyKey derives a stable key from a job id, row number, and row
// checksum, so re-running the same row (e.g. during recovery) always
// produces the same key and a repeated carrier call is a safe no-op.
func IdempotencyKey(jobID string, rowNumber int, checksum string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%s", jobID, rowNumber, checksum)))
	return hex.EncodeToString(h[:])
}

// Execute runs every pending row of a job in row-number order, halting
// immediately on the first row that fails. Rows already completed (e.g. by
// a prior partial run) are left untouched and do not reset the halt.
func (e *Engine) Execute(ctx context.Context, jobID string, shipper domain.CarrierAddress, rowsByNumber map[int]domain.Row, mapper RowMapper, writeBackEnabled bool) error {
	job, err := e.jobs.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("op=engine.Execute.getJob job_id=%s: %w", jobID, err)
	}

	if err := e.jobs.UpdateJobStatus(ctx, jobID, domain.JobRunning); err != nil {
		return fmt.Errorf("op=engine.Execute.start job_id=%s: %w", jobID, err)
	}
	e.progress.Publish(jobID, domain.ProgressEvent{Kind: domain.EventBatchStarted, Total: job.TotalRows})
	e.appendAudit(ctx, jobID, domain.AuditInfo, domain.AuditStateChange, "batch started", nil)

	pending, err := e.rows.ListRows(ctx, jobID, domain.RowPending)
	if err != nil {
		return fmt.Errorf("op=engine.Execute.listPending job_id=%s: %w", jobID, err)
	}

	for i := range pending {
		row := pending[i]
		if err := ctx.Err(); err != nil {
			return e.haltBatch(ctx, jobID, "", err)
		}

		sourceRow, ok := rowsByNumber[row.RowNumber]
		if !ok {
			err := fmt.Errorf("op=engine.Execute row=%d: %w", row.RowNumber, domain.NewTaxonomyError("E-1001", "source row not found for job row"))
			return e.haltBatch(ctx, jobID, row.ErrorCode, err)
		}

		if err := e.processRow(ctx, jobID, row, sourceRow, shipper, mapper, writeBackEnabled); err != nil {
			return e.haltBatch(ctx, jobID, row.ErrorCode, err)
		}
	}

	return e.finish(ctx, jobID)
}

func (e *Engine) processRow(ctx context.Context, jobID string, row domain.JobRow, sourceRow domain.Row, shipper domain.CarrierAddress, mapper RowMapper, writeBackEnabled bool) error {
	start := time.Now()
	e.progress.Publish(jobID, domain.ProgressEvent{Kind: domain.EventRowStarted, RowNumber: row.RowNumber})

	req, err := mapper(sourceRow, shipper)
	if err != nil {
		return e.failRow(ctx, jobID, row, fmt.Errorf("op=engine.processRow.map row=%d: %w", row.RowNumber, domain.NewTaxonomyError("E-4003", err.Error())))
	}

	idemKey := IdempotencyKey(jobID, row.RowNumber, row.Checksum)
	if err := e.rows.CheckpointInFlight(ctx, jobID, row.RowNumber, idemKey); err != nil {
		return e.failRow(ctx, jobID, row, fmt.Errorf("op=engine.processRow.checkpoint row=%d: %w", row.RowNumber, err))
	}

	result, err := e.carrier.CreateShipment(ctx, req, idemKey)
	if err != nil {
		if e.metrics != nil {
			e.metrics.CarrierRequests.WithLabelValues("create_shipment", "error").Inc()
		}
		return e.failRow(ctx, jobID, row, fmt.Errorf("op=engine.processRow.createShipment row=%d: %w", row.RowNumber, err))
	}
	if e.metrics != nil {
		e.metrics.CarrierRequests.WithLabelValues("create_shipment", "ok").Inc()
	}

	tracking := ""
	if len(result.TrackingNumbers) > 0 {
		tracking = result.TrackingNumbers[0]
	}
	breakdownJSON, _ := json.Marshal(result.Breakdown)

	completed := row
	completed.Status = domain.RowCompleted
	completed.TrackingNumber = tracking
	completed.LabelRef = result.LabelRef
	completed.CostMinorUnits = &result.TotalChargesMinor
	completed.DutiesTaxesMinor = &result.Breakdown.DutiesTaxesMinor
	completed.ChargeBreakdownJSON = string(breakdownJSON)
	completed.CarrierShipmentID = result.ShipmentID
	completed.CarrierTracking = tracking

	if err := e.rows.CompleteRow(ctx, completed); err != nil {
		return fmt.Errorf("op=engine.processRow.persist row=%d: %w", row.RowNumber, err)
	}

	if writeBackEnabled {
		task := domain.WriteBackTask{ID: uuid.NewString(), JobID: jobID, RowNumber: row.RowNumber, TrackingNumber: tracking, ShippedAt: time.Now().UTC()}
		if err := e.writeBacks.Enqueue(ctx, task); err != nil {
			e.log.Error("op=engine.processRow.enqueueWriteBack", slog.String("job_id", jobID), slog.Int("row_number", row.RowNumber), slog.Any("error", err))
		}
	}

	if err := e.bumpAggregates(ctx, jobID, true); err != nil {
		return err
	}

	if e.metrics != nil {
		e.metrics.RowDuration.WithLabelValues("completed").Observe(time.Since(start).Seconds())
	}
	e.progress.Publish(jobID, domain.ProgressEvent{
		Kind: domain.EventRowCompleted, RowNumber: row.RowNumber,
		TrackingNumber: tracking, CostMinorUnits: result.TotalChargesMinor,
	})
	e.appendAudit(ctx, jobID, domain.AuditInfo, domain.AuditRowEvent, "row completed", &row.RowNumber)
	return nil
}

func (e *Engine) failRow(ctx context.Context, jobID string, row domain.JobRow, cause error) error {
	var taxErr *domain.TaxonomyError
	code, message := "E-4001", cause.Error()
	if errors.As(cause, &taxErr) {
		code, message = taxErr.Code, taxErr.Message
	}

	if err := e.rows.FailRow(ctx, jobID, row.RowNumber, code, message); err != nil {
		e.log.Error("op=engine.failRow.persist", slog.String("job_id", jobID), slog.Int("row_number", row.RowNumber), slog.Any("error", err))
	}
	if err := e.bumpAggregates(ctx, jobID, false); err != nil {
		e.log.Error("op=engine.failRow.aggregates", slog.String("job_id", jobID), slog.Any("error", err))
	}

	e.progress.Publish(jobID, domain.ProgressEvent{Kind: domain.EventRowFailed, RowNumber: row.RowNumber, ErrorCode: code, ErrorMessage: message})
	e.appendAudit(ctx, jobID, domain.AuditError, domain.AuditRowEvent, message, &row.RowNumber)
	return cause
}

func (e *Engine) bumpAggregates(ctx context.Context, jobID string, success bool) error {
	job, err := e.jobs.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("op=engine.bumpAggregates.getJob job_id=%s: %w", jobID, err)
	}
	job.ProcessedRows++
	if success {
		job.SuccessfulRows++
	} else {
		job.FailedRows++
	}
	if err := e.jobs.UpdateJobAggregates(ctx, job); err != nil {
		return fmt.Errorf("op=engine.bumpAggregates.update job_id=%s: %w", jobID, err)
	}
	return nil
}

// haltBatch stops the batch on the first non-success row: already-completed
// rows remain completed, and the job transitions to failed rather than
// continuing to the remaining pending rows. An empty errorCode is taken from
// cause's taxonomy code, or E-4001 when cause carries none.
func (e *Engine) haltBatch(ctx context.Context, jobID, errorCode string, cause error) error {
	if errorCode == "" {
		errorCode = "E-4001"
		var taxErr *domain.TaxonomyError
		if errors.As(cause, &taxErr) {
			errorCode = taxErr.Code
		}
	}
	if err := e.jobs.SetJobError(ctx, jobID, errorCode, cause.Error()); err != nil {
		e.log.Error("op=engine.haltBatch.setError", slog.String("job_id", jobID), slog.Any("error", err))
	}
	if err := e.jobs.UpdateJobStatus(ctx, jobID, domain.JobFailed); err != nil {
		e.log.Error("op=engine.haltBatch.setStatus", slog.String("job_id", jobID), slog.Any("error", err))
	}
	e.progress.Publish(jobID, domain.ProgressEvent{Kind: domain.EventBatchFailed, ErrorMessage: cause.Error()})
	e.appendAudit(ctx, jobID, domain.AuditError, domain.AuditStateChange, "batch halted: "+cause.Error(), nil)
	return cause
}

func (e *Engine) finish(ctx context.Context, jobID string) error {
	job, err := e.jobs.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("op=engine.finish.getJob job_id=%s: %w", jobID, err)
	}
	if err := e.jobs.UpdateJobStatus(ctx, jobID, domain.JobCompleted); err != nil {
		return fmt.Errorf("op=engine.finish.setStatus job_id=%s: %w", jobID, err)
	}
	e.progress.Publish(jobID, domain.ProgressEvent{Kind: domain.EventBatchCompleted, Successful: job.SuccessfulRows, Processed: job.ProcessedRows})
	e.appendAudit(ctx, jobID, domain.AuditInfo, domain.AuditStateChange, "batch completed", nil)
	return nil
}

func (e *Engine) appendAudit(ctx context.Context, jobID string, sev domain.AuditSeverity, kind domain.AuditEventKind, message string, rowNumber *int) {
	if e.audit == nil {
		return
	}
	ev := domain.AuditEvent{ID: uuid.NewString(), JobID: jobID, Severity: sev, Kind: kind, Message: message, RowNumber: rowNumber}
	if err := e.audit.Append(ctx, ev); err != nil {
		e.log.Error("op=engine.appendAudit", slog.String("job_id", jobID), slog.Any("error", err))
	}
}
