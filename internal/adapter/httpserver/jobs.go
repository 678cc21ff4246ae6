package httpserver

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fairyhunter13/shipagent/internal/domain"
)

// ListJobs returns a paginated, filterable list of jobs.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := domain.JobFilter{
		Status: q.Get("status"),
		Name:   q.Get("name"),
		Limit:  atoiDefault(q.Get("limit"), 50),
		Offset: atoiDefault(q.Get("offset"), 0),
	}
	if after := q.Get("created_after"); after != "" {
		if t, err := time.Parse(time.RFC3339, after); err == nil {
			f.CreatedAfter = &t
		}
	}
	if before := q.Get("created_before"); before != "" {
		if t, err := time.Parse(time.RFC3339, before); err == nil {
			f.CreatedBefore = &t
		}
	}

	jobs, total, err := h.Jobs.ListJobs(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "total": total})
}

// GetJob returns one job's full detail.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.Jobs.GetJob(r.Context(), jobIDFromPath(r))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// DeleteJob removes a job and its rows/tasks/audit trail.
func (h *Handlers) DeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := h.Jobs.DeleteJob(r.Context(), jobIDFromPath(r)); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ConfirmJob confirms a pending job, starting batch execution.
func (h *Handlers) ConfirmJob(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Service string `json:"service"`
	}
	_ = decodeJSON(r, &body)

	if h.Recovery.Quiescing() {
		writeError(w, http.StatusServiceUnavailable, domain.NewTaxonomyError("E-4001", "recovery is still reconciling interrupted jobs"))
		return
	}
	if err := h.Orchestrator.Confirm(r.Context(), jobIDFromPath(r), body.Service); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// CancelJob cancels a pending/running/paused job.
func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	if err := h.Orchestrator.Cancel(r.Context(), jobIDFromPath(r)); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// ListRows returns a job's rows, optionally filtered by status.
func (h *Handlers) ListRows(w http.ResponseWriter, r *http.Request) {
	status := domain.RowStatus(r.URL.Query().Get("status"))
	rows, err := h.Rows.ListRows(r.Context(), jobIDFromPath(r), status)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": rows})
}

// SkipRows marks a set of pending rows as skipped before confirmation.
func (h *Handlers) SkipRows(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RowNumbers []int `json:"row_numbers"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.Rows.SkipRows(r.Context(), jobIDFromPath(r), body.RowNumbers); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PreviewJob returns the rows a not-yet-confirmed job would ship, without
// making any carrier calls, so the user can sanity-check the batch first.
func (h *Handlers) PreviewJob(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Rows.ListRows(r.Context(), jobIDFromPath(r), domain.RowPending)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": rows, "count": len(rows)})
}

// ListLogs returns the audit ledger for a job.
func (h *Handlers) ListLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	events, err := h.Audit.List(r.Context(), jobIDFromPath(r), q.Get("level"), q.Get("event_type"), atoiDefault(q.Get("limit"), 200))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// ListErrors returns only the failed rows of a job, for operator triage.
func (h *Handlers) ListErrors(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Rows.ListRows(r.Context(), jobIDFromPath(r), domain.RowFailed)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": rows})
}

// ExportJob returns every row of a job as CSV, for download.
func (h *Handlers) ExportJob(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Rows.ListRows(r.Context(), jobIDFromPath(r), "")
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=export.csv")
	var sb strings.Builder
	sb.WriteString("row_number,status,tracking_number,cost_minor_units,error_code,error_message\n")
	for _, row := range rows {
		cost := ""
		if row.CostMinorUnits != nil {
			cost = strconv.FormatInt(*row.CostMinorUnits, 10)
		}
		sb.WriteString(strings.Join([]string{
			strconv.Itoa(row.RowNumber), string(row.Status), row.TrackingNumber, cost, row.ErrorCode, csvEscape(row.ErrorMessage),
		}, ","))
		sb.WriteString("\n")
	}
	_, _ = w.Write([]byte(sb.String()))
}

func csvEscape(s string) string {
	if strings.ContainsAny(s, ",\"\n") {
		return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
	}
	return s
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func statusFor(err error) int {
	switch {
	case isNotFound(err):
		return http.StatusNotFound
	case isInvalidState(err) || isConflict(err):
		return http.StatusConflict
	case isInvalidArgument(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
