// Package orchestrator owns the job lifecycle: command intake, shipper
// address resolution, confirm/cancel transitions, and handing confirmed
// jobs to the batch engine.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/fairyhunter13/shipagent/internal/config"
	"github.com/fairyhunter13/shipagent/internal/decisionledger"
	"github.com/fairyhunter13/shipagent/internal/domain"
	"github.com/fairyhunter13/shipagent/internal/engine"
)

// Engine is the subset of engine.Engine the orchestrator drives.
type Engine interface {
	Execute(ctx context.Context, jobID string, shipper domain.CarrierAddress, rowsByNumber map[int]domain.Row, mapper engine.RowMapper, writeBackEnabled bool) error
}

// Orchestrator coordinates job creation, confirmation, and cancellation.
type Orchestrator struct {
	jobs    domain.JobStore
	rows    domain.RowStore
	gateway domain.DataGateway
	carrier domain.CarrierClient
	engine  Engine
	cfg     config.Config
	log     *slog.Logger
	ledger  *decisionledger.Recorder

	running    map[string]context.CancelFunc
	ledgerRuns sync.Map // jobID -> decision run ID
}

// New builds an Orchestrator. The decision ledger starts disabled; call
// SetDecisionStore to enable it.
func New(jobs domain.JobStore, rows domain.RowStore, gateway domain.DataGateway, carrier domain.CarrierClient, eng Engine, cfg config.Config, log *slog.Logger) *Orchestrator {
	return &Orchestrator{jobs: jobs, rows: rows, gateway: gateway, carrier: carrier, engine: eng, cfg: cfg, log: log, ledger: decisionledger.New(nil), running: make(map[string]context.CancelFunc)}
}

// SetDecisionStore enables hash-chained audit recording for every job
// created afterward. Safe to call once during wiring; a nil store disables
// the ledger again.
func (o *Orchestrator) SetDecisionStore(store domain.DecisionStore) {
	o.ledger = decisionledger.New(store)
}

// CreateJobRequest describes a filtered batch of rows a user wants shipped.
type CreateJobRequest struct {
	Name             string
	OriginalCommand  string
	Mode             domain.JobMode
	WriteBackEnabled bool
	Rows             []domain.Row
	ShipperOverride  *domain.CarrierAddress
	Service          string
}

// Create loads the filtered rows into a new pending job. In JobModeAuto the
// job is confirmed immediately; in JobModeConfirm the caller must call
// Confirm before any carrier calls are made.
func (o *Orchestrator) Create(ctx context.Context, req CreateJobRequest) (string, error) {
	if len(req.Rows) == 0 {
		return "", fmt.Errorf("op=orchestrator.Create: %w", domain.NewTaxonomyError("E-1002", "no rows matched the requested filter"))
	}

	shipper, err := o.resolveShipper(ctx, req.ShipperOverride)
	if err != nil {
		return "", fmt.Errorf("op=orchestrator.Create: %w", err)
	}
	shipperJSON, err := json.Marshal(shipper)
	if err != nil {
		return "", fmt.Errorf("op=orchestrator.Create.marshalShipper: %w", err)
	}

	signature, err := o.gateway.GetSourceSignature(ctx)
	if err != nil {
		return "", fmt.Errorf("op=orchestrator.Create.signature: %w", err)
	}

	id := uuid.NewString()
	job := domain.Job{
		ID: id, Name: req.Name, OriginalCommand: req.OriginalCommand,
		Status: domain.JobPending, Mode: req.Mode, TotalRows: len(req.Rows),
		ShipperSnapshot: string(shipperJSON), WriteBackEnabled: req.WriteBackEnabled,
		SourceSignature: signature,
	}
	if _, err := o.jobs.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("op=orchestrator.Create.persist: %w", err)
	}

	jobRows := make([]domain.JobRow, 0, len(req.Rows))
	for _, row := range req.Rows {
		jobRows = append(jobRows, domain.JobRow{
			ID: uuid.NewString(), JobID: id, RowNumber: row.RowNumber,
			Checksum: row.Checksum, Status: domain.RowPending,
			OrderSnapshot: marshalFields(row.Fields),
			DestinationCountry: row.Fields["destination_country"],
		})
	}
	if err := o.rows.CreateRows(ctx, jobRows); err != nil {
		return "", fmt.Errorf("op=orchestrator.Create.persistRows job_id=%s: %w", id, err)
	}

	runID, err := o.ledger.StartRun(ctx, id, id, req.OriginalCommand, signature)
	if err != nil {
		o.log.Warn("op=orchestrator.Create.ledgerStartFailed", slog.String("job_id", id), slog.Any("error", err))
	} else if runID != "" {
		o.ledgerRuns.Store(id, runID)
		_ = o.ledger.Record(ctx, runID, 1, "ingest", "job_created", "system", fmt.Sprintf("rows=%d shipper=%s", len(req.Rows), shipper.Name))
	}

	if req.Mode == domain.JobModeAuto {
		if err := o.Confirm(ctx, id, req.Service); err != nil {
			return id, err
		}
	}

	return id, nil
}

// Confirm transitions a pending job to running and launches the batch
// engine asynchronously. The row→shipment mapping closes over service so
// every row in this job uses the same requested service level.
func (o *Orchestrator) Confirm(ctx context.Context, jobID, service string) error {
	job, err := o.jobs.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("op=orchestrator.Confirm job_id=%s: %w", jobID, err)
	}
	if job.Status != domain.JobPending {
		return fmt.Errorf("op=orchestrator.Confirm job_id=%s status=%s: %w", jobID, job.Status, domain.ErrInvalidState)
	}

	var shipper domain.CarrierAddress
	if err := json.Unmarshal([]byte(job.ShipperSnapshot), &shipper); err != nil {
		return fmt.Errorf("op=orchestrator.Confirm.unmarshalShipper job_id=%s: %w", jobID, err)
	}

	pending, err := o.rows.ListRows(ctx, jobID, domain.RowPending)
	if err != nil {
		return fmt.Errorf("op=orchestrator.Confirm.listRows job_id=%s: %w", jobID, err)
	}
	rowsByNumber := make(map[int]domain.Row, len(pending))
	for _, jr := range pending {
		fields, _ := unmarshalFields(jr.OrderSnapshot)
		rowsByNumber[jr.RowNumber] = domain.Row{RowNumber: jr.RowNumber, Checksum: jr.Checksum, Fields: fields}
	}

	if runID, ok := o.ledgerRuns.Load(jobID); ok {
		_ = o.ledger.Record(ctx, runID.(string), 2, "confirm", "engine_started", "system", fmt.Sprintf("service=%s rows=%d", service, len(rowsByNumber)))
	}

	runCtx, cancel := context.WithCancel(context.Background())
	o.running[jobID] = cancel

	go func() {
		defer func() {
			delete(o.running, jobID)
			cancel()
		}()
		mapper := o.buildMapper(service)
		if err := o.engine.Execute(runCtx, jobID, shipper, rowsByNumber, mapper, job.WriteBackEnabled); err != nil {
			o.log.Warn("op=orchestrator.Confirm.engineStopped", slog.String("job_id", jobID), slog.Any("error", err))
		}
	}()

	return nil
}

// Cancel transitions a job out of pending/running/paused without shipping
// any remaining rows. Rows already completed are unaffected.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) error {
	if cancel, ok := o.running[jobID]; ok {
		cancel()
	}
	if err := o.jobs.UpdateJobStatus(ctx, jobID, domain.JobCancelled); err != nil {
		return fmt.Errorf("op=orchestrator.Cancel job_id=%s: %w", jobID, err)
	}
	return nil
}

// resolveShipper applies the shipper address fallback chain: an explicit
// per-command override, then the environment-configured default, and a
// structural error if neither is present.
func (o *Orchestrator) resolveShipper(ctx context.Context, override *domain.CarrierAddress) (domain.CarrierAddress, error) {
	if override != nil {
		return *override, nil
	}

	name, line1, line2, city, state, zip, country, phone := o.cfg.EnvironmentShipper()
	if name == "" || line1 == "" || city == "" || zip == "" {
		return domain.CarrierAddress{}, domain.NewTaxonomyError("E-2023", "no shipper address override and no environment default configured")
	}
	return domain.CarrierAddress{
		Name: name, AddressLine1: line1, AddressLine2: line2,
		City: city, StateCode: state, PostalCode: zip, CountryCode: country, Phone: phone,
	}, nil
}

func (o *Orchestrator) buildMapper(service string) engine.RowMapper {
	return func(row domain.Row, shipper domain.CarrierAddress) (domain.ShipmentRequest, error) {
		dest := domain.CarrierAddress{
			Name:         row.Fields["name"],
			AddressLine1: row.Fields["address_line1"],
			AddressLine2: row.Fields["address_line2"],
			City:         row.Fields["city"],
			StateCode:    row.Fields["state"],
			PostalCode:   row.Fields["postal_code"],
			CountryCode:  row.Fields["country"],
			Phone:        row.Fields["phone"],
		}
		if dest.CountryCode == "" {
			dest.CountryCode = "US"
		}

		var weight float64
		fmt.Sscanf(row.Fields["weight_oz"], "%f", &weight)

		req := domain.ShipmentRequest{ShipFrom: shipper, ShipTo: dest, WeightOz: weight, Service: service}
		if dest.CountryCode != "" && dest.CountryCode != shipper.CountryCode {
			req.Customs = &domain.CustomsInfo{
				HSCode:              row.Fields["hs_code"],
				ContentsDescription: row.Fields["contents_description"],
			}
		}
		return req, nil
	}
}

func marshalFields(fields map[string]string) string {
	b, err := json.Marshal(fields)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func unmarshalFields(s string) (map[string]string, error) {
	var out map[string]string
	if s == "" {
		return map[string]string{}, nil
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	return out, nil
}
