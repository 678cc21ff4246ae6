// Package recovery reconciles rows left in_flight by a crashed process:
// jobs in running or paused state have their in_flight rows resolved
// against the carrier's own record before any new job may be confirmed.
package recovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fairyhunter13/shipagent/internal/domain"
)

// Coordinator is the crash-recovery reconciler (C8).
type Coordinator struct {
	jobs    domain.JobStore
	rows    domain.RowStore
	audit   domain.AuditStore
	carrier domain.CarrierClient
	log     *slog.Logger

	lookupRetries int
	wallClockCap  time.Duration

	mu        sync.RWMutex
	quiescing bool
}

// New builds a Coordinator.
func New(jobs domain.JobStore, rows domain.RowStore, audit domain.AuditStore, carrier domain.CarrierClient, log *slog.Logger, lookupRetries int, wallClockCap time.Duration) *Coordinator {
	return &Coordinator{jobs: jobs, rows: rows, audit: audit, carrier: carrier, log: log, lookupRetries: lookupRetries, wallClockCap: wallClockCap}
}

// Quiescing reports whether recovery is still running; the ConfirmJob HTTP
// handler refuses to confirm jobs while this is true.
func (c *Coordinator) Quiescing() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.quiescing
}

// InterruptedJob summarizes one job found in a crash-indicating state.
type InterruptedJob struct {
	JobID          string
	Status         domain.JobStatus
	InFlightRows   int
	NeedsReview    int
	ResolvedOK     int
}

// Reconcile scans all jobs in {running, paused} for in_flight rows left by a
// crashed process and resolves each one against the carrier before
// returning. New job confirmation is gated on this by Quiescing.
func (c *Coordinator) Reconcile(ctx context.Context) ([]InterruptedJob, error) {
	c.mu.Lock()
	c.quiescing = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.quiescing = false
		c.mu.Unlock()
	}()

	var reports []InterruptedJob
	for _, status := range []domain.JobStatus{domain.JobRunning, domain.JobPaused} {
		jobs, _, err := c.jobs.ListJobs(ctx, domain.JobFilter{Status: string(status), Limit: 1000})
		if err != nil {
			return reports, fmt.Errorf("op=recovery.Reconcile.listJobs status=%s: %w", status, err)
		}
		for _, job := range jobs {
			report, err := c.reconcileJob(ctx, job)
			if err != nil {
				c.log.Error("op=recovery.Reconcile.job", slog.String("job_id", job.ID), slog.Any("error", err))
				continue
			}
			reports = append(reports, report)
		}
	}
	return reports, nil
}

func (c *Coordinator) reconcileJob(ctx context.Context, job domain.Job) (InterruptedJob, error) {
	report := InterruptedJob{JobID: job.ID, Status: job.Status}

	inFlight, err := c.rows.ListInFlightRows(ctx, job.ID)
	if err != nil {
		return report, fmt.Errorf("op=recovery.reconcileJob.listInFlight job_id=%s: %w", job.ID, err)
	}
	report.InFlightRows = len(inFlight)

	for _, row := range inFlight {
		c.resolveRow(ctx, job.ID, row, &report)
	}

	if len(inFlight) > 0 {
		c.appendAudit(ctx, job.ID, fmt.Sprintf("recovery reconciled %d in_flight rows: %d resolved, %d needs_review", len(inFlight), report.ResolvedOK, report.NeedsReview))
	}
	return report, nil
}

func (c *Coordinator) resolveRow(ctx context.Context, jobID string, row domain.JobRow, report *InterruptedJob) {
	attempt, err := c.rows.IncrementRecoveryAttempt(ctx, jobID, row.RowNumber)
	if err != nil {
		c.log.Error("op=recovery.resolveRow.incrementAttempt", slog.String("job_id", jobID), slog.Int("row_number", row.RowNumber), slog.Any("error", err))
		return
	}

	deadline := time.Now().Add(c.wallClockCap)
	var (
		result domain.ShipmentResult
		found  bool
		lookupErr error
	)
	for try := 0; try < c.lookupRetries && time.Now().Before(deadline); try++ {
		result, found, lookupErr = c.carrier.LookupShipment(ctx, row.IdempotencyKey, row.CarrierShipmentID)
		if lookupErr == nil {
			break
		}
	}

	switch {
	case lookupErr != nil:
		if err := c.rows.MarkNeedsReview(ctx, jobID, row.RowNumber, attempt); err != nil {
			c.log.Error("op=recovery.resolveRow.markNeedsReview", slog.Any("error", err))
		}
		report.NeedsReview++

	case !found:
		if err := c.rows.FailRow(ctx, jobID, row.RowNumber, "E-4001", "shipment not found on carrier after crash; treating as not created"); err != nil {
			c.log.Error("op=recovery.resolveRow.failRow", slog.Any("error", err))
		}
		report.ResolvedOK++

	default:
		tracking := ""
		if len(result.TrackingNumbers) > 0 {
			tracking = result.TrackingNumbers[0]
		}
		breakdownJSON, _ := json.Marshal(result.Breakdown)
		completed := row
		completed.Status = domain.RowCompleted
		completed.TrackingNumber = tracking
		completed.CarrierShipmentID = result.ShipmentID
		completed.CarrierTracking = tracking
		completed.ChargeBreakdownJSON = string(breakdownJSON)
		completed.CostMinorUnits = &result.TotalChargesMinor
		if err := c.rows.CompleteRow(ctx, completed); err != nil {
			c.log.Error("op=recovery.resolveRow.completeRow", slog.Any("error", err))
		}
		report.ResolvedOK++
	}
}

func (c *Coordinator) appendAudit(ctx context.Context, jobID, message string) {
	if c.audit == nil {
		return
	}
	if err := c.audit.Append(ctx, domain.AuditEvent{ID: uuid.NewString(), JobID: jobID, Severity: domain.AuditWarning, Kind: domain.AuditStateChange, Message: message}); err != nil {
		c.log.Error("op=recovery.appendAudit", slog.String("job_id", jobID), slog.Any("error", err))
	}
}
