// Package domain defines the core entities, ports, and domain-specific
// errors of the batch shipping orchestrator.
package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels). Adapters wrap these with fmt.Errorf("op=...: %w", ...)
// so that callers can errors.Is against a stable category while still getting
// a descriptive message.
var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrInvalidState    = errors.New("invalid state transition")
	ErrSignatureMismatch = errors.New("source signature mismatch")
)

// Context is a type alias to stdlib context.Context for convenience across layers.
type Context = context.Context

// JobStatus is the lifecycle state of a batch job.
type JobStatus string

// Job status values.
const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobPaused    JobStatus = "paused"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// JobMode controls whether confirmation is required before execution begins.
type JobMode string

// Job execution modes.
const (
	JobModeConfirm JobMode = "confirm"
	JobModeAuto    JobMode = "auto"
)

// jobTransitions enumerates the allowed JobStatus state machine.
var jobTransitions = map[JobStatus]map[JobStatus]bool{
	JobPending: {JobRunning: true, JobCancelled: true, JobFailed: true},
	JobRunning: {JobPaused: true, JobCompleted: true, JobFailed: true, JobCancelled: true},
	JobPaused:  {JobRunning: true, JobCancelled: true},
}

// CanTransition reports whether moving from 'from' to 'to' is a legal Job transition.
func CanTransition(from, to JobStatus) bool {
	return jobTransitions[from][to]
}

// IsTerminal reports whether a JobStatus is a final state.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// Job is a unit of work derived from a single user command: "ship all
// unfulfilled California orders via Ground".
type Job struct {
	ID              string
	Name            string
	OriginalCommand string
	Status          JobStatus
	Mode            JobMode

	TotalRows      int
	ProcessedRows  int
	SuccessfulRows int
	FailedRows     int

	TotalCostMinorUnits       *int64
	TotalDutiesTaxesMinor     *int64
	InternationalRowCount     int

	ShipperSnapshot   string // serialized address JSON
	WriteBackEnabled   bool
	SourceSignature   string

	ErrorCode    string
	ErrorMessage string

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	UpdatedAt   time.Time
}

// Invariant checks the structural invariants that must hold after every
// committed transaction touching this Job.
func (j Job) Invariant() error {
	if j.ProcessedRows != j.SuccessfulRows+j.FailedRows {
		return errors.New("invariant violated: processed != successful + failed")
	}
	if j.TotalRows < 0 || j.ProcessedRows < 0 || j.SuccessfulRows < 0 || j.FailedRows < 0 {
		return errors.New("invariant violated: negative count")
	}
	return nil
}

// RowStatus is the lifecycle state of a single JobRow.
type RowStatus string

// Row status values.
const (
	RowPending     RowStatus = "pending"
	RowInFlight    RowStatus = "in_flight"
	RowCompleted   RowStatus = "completed"
	RowFailed      RowStatus = "failed"
	RowSkipped     RowStatus = "skipped"
	RowNeedsReview RowStatus = "needs_review"
)

// ChargeBreakdown splits a shipment's total charge into transportation and
// duties/taxes, both in integer minor currency units.
type ChargeBreakdown struct {
	TransportationMinor int64  `json:"transportation_minor"`
	DutiesTaxesMinor    int64  `json:"duties_taxes_minor"`
	Currency            string `json:"currency"`
}

// JobRow is one shipment within a Job.
type JobRow struct {
	ID          string
	JobID       string
	RowNumber   int // 1-based, unique per job
	Checksum    string
	Status      RowStatus

	OrderSnapshot string // serialized source row fields, for the carrier request mapping

	TrackingNumber      string
	LabelRef            string
	CostMinorUnits       *int64
	DutiesTaxesMinor     *int64
	DestinationCountry  string
	ChargeBreakdownJSON string

	IdempotencyKey        string
	CarrierShipmentID     string
	CarrierTracking       string
	RecoveryAttemptCount  int

	ErrorCode    string
	ErrorMessage string

	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// WriteBackStatus is the lifecycle state of a WriteBackTask.
type WriteBackStatus string

// Write-back task status values.
const (
	WriteBackPending    WriteBackStatus = "pending"
	WriteBackCompleted  WriteBackStatus = "completed"
	WriteBackDeadLetter WriteBackStatus = "dead_letter"
)

// MaxWriteBackRetries equals the WRITEBACK_MAX_RETRIES default. The
// write-back worker reads its dead-letter bound on WriteBackTask.RetryCount
// from configuration, not from this constant.
const MaxWriteBackRetries = 5

// WriteBackTask is one (job, row, tracking, shipped-at) tuple awaiting
// persistence back to the original data source.
type WriteBackTask struct {
	ID             string
	JobID          string
	RowNumber      int
	TrackingNumber string
	ShippedAt      time.Time
	Status         WriteBackStatus
	RetryCount     int
	CreatedAt      time.Time
}

// AuditSeverity mirrors the log-level vocabulary of the audit ledger.
type AuditSeverity string

// Audit event severities.
const (
	AuditInfo    AuditSeverity = "INFO"
	AuditWarning AuditSeverity = "WARNING"
	AuditError   AuditSeverity = "ERROR"
)

// AuditEventKind categorizes an AuditEvent.
type AuditEventKind string

// Audit event kinds.
const (
	AuditStateChange AuditEventKind = "state_change"
	AuditAPICall     AuditEventKind = "api_call"
	AuditRowEvent    AuditEventKind = "row_event"
	AuditErrorEvent  AuditEventKind = "error"
)

// AuditEvent is an append-only record of something that happened to a Job.
type AuditEvent struct {
	ID        string
	JobID     string
	Timestamp time.Time
	Severity  AuditSeverity
	Kind      AuditEventKind
	Message   string
	Detail    string // JSON, sensitive fields redacted
	RowNumber *int
}

// DecisionRunStatus is the lifecycle state of a DecisionRun.
type DecisionRunStatus string

// Decision run status values.
const (
	DecisionRunRunning   DecisionRunStatus = "running"
	DecisionRunCompleted DecisionRunStatus = "completed"
	DecisionRunFailed    DecisionRunStatus = "failed"
	DecisionRunCancelled DecisionRunStatus = "cancelled"
)

// DecisionRun is the hash-chain root for one user-message decision cycle,
// correlated to at most one Job. Used only for after-the-fact audit.
type DecisionRun struct {
	ID                  string
	SessionID           string
	JobID               string
	UserMessageHash     string
	UserMessageRedacted string
	SourceSignature     string
	Status              DecisionRunStatus
	StartedAt           time.Time
	CompletedAt         *time.Time
}

// DecisionEvent is one hash-chained step within a DecisionRun.
type DecisionEvent struct {
	ID             string
	RunID          string
	Seq            int64
	Timestamp      time.Time
	Phase          string
	EventName      string
	Actor          string
	PayloadRedacted string
	PayloadHash    string
	PrevEventHash  string
	EventHash      string
}

// --- Ports ---

// JobStore is the durable repository for Job aggregates (C1).
type JobStore interface {
	CreateJob(ctx Context, j Job) (string, error)
	GetJob(ctx Context, id string) (Job, error)
	UpdateJobStatus(ctx Context, id string, status JobStatus) error
	UpdateJobAggregates(ctx Context, j Job) error
	SetJobError(ctx Context, id, code, message string) error
	ListJobs(ctx Context, f JobFilter) ([]Job, int, error)
	DeleteJob(ctx Context, id string) error
}

// JobFilter narrows ListJobs results.
type JobFilter struct {
	Status        string
	Name          string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	Limit         int
	Offset        int
}

// RowStore is the durable repository for JobRow records (C1).
type RowStore interface {
	CreateRows(ctx Context, rows []JobRow) error
	GetRow(ctx Context, jobID string, rowNumber int) (JobRow, error)
	ListRows(ctx Context, jobID string, status RowStatus) ([]JobRow, error)
	ListInFlightRows(ctx Context, jobID string) ([]JobRow, error)
	CheckpointInFlight(ctx Context, jobID string, rowNumber int, idempotencyKey string) error
	CompleteRow(ctx Context, row JobRow) error
	FailRow(ctx Context, jobID string, rowNumber int, code, message string) error
	SkipRows(ctx Context, jobID string, rowNumbers []int) error
	MarkNeedsReview(ctx Context, jobID string, rowNumber int, recoveryAttempt int) error
	IncrementRecoveryAttempt(ctx Context, jobID string, rowNumber int) (int, error)
}

// WriteBackStore is the durable repository for WriteBackTask records (C1).
type WriteBackStore interface {
	Enqueue(ctx Context, t WriteBackTask) error
	ListPending(ctx Context, jobID string) ([]WriteBackTask, error)
	MarkCompleted(ctx Context, id string) error
	MarkRetry(ctx Context, id string, retryCount int) error
	MarkDeadLetter(ctx Context, id string) error
}

// AuditStore is the append-only repository for AuditEvent records (C1).
type AuditStore interface {
	Append(ctx Context, e AuditEvent) error
	List(ctx Context, jobID string, level, eventType string, limit int) ([]AuditEvent, error)
}

// DecisionStore persists the hash-chained decision ledger (C1).
type DecisionStore interface {
	CreateRun(ctx Context, r DecisionRun) (string, error)
	AppendEvent(ctx Context, e DecisionEvent) error
	LastEventHash(ctx Context, runID string) (string, error)
}

// CarrierAddress is a postal address as understood by the carrier client.
type CarrierAddress struct {
	Name        string
	CompanyName string
	AddressLine1 string
	AddressLine2 string
	City        string
	StateCode   string
	PostalCode  string
	CountryCode string
	Phone       string
}

// ShipmentRequest is the normalized request sent to CreateShipment.
type ShipmentRequest struct {
	ShipFrom CarrierAddress
	ShipTo   CarrierAddress
	WeightOz float64
	Service  string
	Customs  *CustomsInfo
}

// CustomsInfo carries international shipment fields.
type CustomsInfo struct {
	HSCode          string
	DeclaredValueMinor int64
	ContentsDescription string
}

// ShipmentResult is the normalized response from CreateShipment.
type ShipmentResult struct {
	TrackingNumbers []string
	ShipmentID      string
	LabelRef        string
	TotalChargesMinor int64
	Breakdown       ChargeBreakdown
}

// AddressValidation is the normalized response from ValidateAddress.
type AddressValidation struct {
	Status     string // "valid" | "ambiguous" | "invalid"
	Candidates []CarrierAddress
}

// CarrierClient is the typed wrapper over the carrier's HTTP/JSON API (C2).
type CarrierClient interface {
	CreateShipment(ctx Context, req ShipmentRequest, idempotencyKey string) (ShipmentResult, error)
	GetRate(ctx Context, req ShipmentRequest) (int64, error)
	ShopRates(ctx Context, req ShipmentRequest) ([]RateQuote, error)
	ValidateAddress(ctx Context, addr CarrierAddress) (AddressValidation, error)
	VoidShipment(ctx Context, shipmentID string) error
	// LookupShipment resolves a shipment by idempotency key or carrier shipment
	// id during crash recovery (C8). ok=false with a nil error means the
	// carrier definitively has no record; a non-nil error means the lookup
	// was inconclusive (transport failure) after its own retry budget.
	LookupShipment(ctx Context, idempotencyKey, shipmentID string) (result ShipmentResult, ok bool, err error)
}

// RateQuote is a single entry from ShopRates.
type RateQuote struct {
	Service      string
	CostMinor    int64
	TransitDays  int
}

// Row carries one filtered row from the data gateway, addressed by its
// 1-based position in the original source.
type Row struct {
	RowNumber int
	Checksum  string
	Fields    map[string]string
}

// SourceInfo describes the currently loaded tabular source.
type SourceInfo struct {
	SourceType string // "delimited" | "spreadsheet" | "database" | "records"
	Reference  string
	RowCount   int
	Columns    []string
	Signature  string
}

// WriteBackUpdate is a single row update applied by the data gateway.
type WriteBackUpdate struct {
	RowNumber      int
	TrackingNumber string
	ShippedAt      time.Time
}

// DataGateway is the process-global singleton over the active tabular
// source (C3).
type DataGateway interface {
	ImportDelimited(ctx Context, path string, delimiter rune, header bool) (SourceInfo, error)
	ImportSpreadsheet(ctx Context, path, sheet string) (SourceInfo, error)
	ImportDatabase(ctx Context, connectionString, query string) (SourceInfo, error)
	ImportRecords(ctx Context, records []map[string]string, label string) (SourceInfo, error)

	GetSchema(ctx Context) ([]string, error)
	GetSourceInfo(ctx Context) (SourceInfo, error)
	GetSourceSignature(ctx Context) (string, error)

	GetRowsByFilter(ctx Context, whereClause string, params []any, limit, offset int) ([]Row, int, error)

	WriteBackSingle(ctx Context, rowNumber int, trackingNumber string, shippedAt time.Time) error
	WriteBackBatch(ctx Context, updates []WriteBackUpdate) error
	ReplayWriteBackFromJob(ctx Context, jobID, expectedSignature string, updates []WriteBackUpdate) error
}

// ProgressEventKind enumerates the engine's progress callback variants.
type ProgressEventKind string

// Progress event kinds.
const (
	EventBatchStarted   ProgressEventKind = "batch_started"
	EventRowStarted     ProgressEventKind = "row_started"
	EventRowCompleted   ProgressEventKind = "row_completed"
	EventRowFailed      ProgressEventKind = "row_failed"
	EventBatchCompleted ProgressEventKind = "batch_completed"
	EventBatchFailed    ProgressEventKind = "batch_failed"
	EventPing           ProgressEventKind = "ping"
)

// ProgressEvent is a variant-typed engine lifecycle event. Only the fields
// relevant to Kind are populated; the rest are zero.
type ProgressEvent struct {
	Kind ProgressEventKind

	Total          int
	RowNumber      int
	TrackingNumber string
	CostMinorUnits int64
	Successful     int
	TotalCost      int64
	ErrorCode      string
	ErrorMessage   string
	Processed      int
}

// ProgressCallback is invoked synchronously by the engine; implementations
// must not block.
type ProgressCallback func(ProgressEvent)
