package httpserver

import (
	"net/http"

	"github.com/fairyhunter13/shipagent/internal/domain"
	"github.com/fairyhunter13/shipagent/internal/orchestrator"
)

// SubmitCommand accepts a user command describing which rows to ship and
// how, creating a new job. Resolving the natural-language filter itself is
// out of scope here; callers submit an already-resolved row set.
func (h *Handlers) SubmitCommand(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name             string            `json:"name"`
		OriginalCommand  string            `json:"original_command"`
		Mode             string            `json:"mode"`
		WriteBackEnabled bool              `json:"write_back_enabled"`
		Service          string            `json:"service"`
		RowNumbers       []int             `json:"row_numbers"`
		FilterSQL        string            `json:"filter_sql"`
		ShipperOverride  *domain.CarrierAddress `json:"shipper_override"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	mode := domain.JobModeConfirm
	if body.Mode == string(domain.JobModeAuto) {
		mode = domain.JobModeAuto
	}

	rows, _, err := h.Gateway.GetRowsByFilter(r.Context(), body.FilterSQL, nil, 0, 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(body.RowNumbers) > 0 {
		wanted := make(map[int]bool, len(body.RowNumbers))
		for _, n := range body.RowNumbers {
			wanted[n] = true
		}
		filtered := rows[:0]
		for _, row := range rows {
			if wanted[row.RowNumber] {
				filtered = append(filtered, row)
			}
		}
		rows = filtered
	}

	jobID, err := h.Orchestrator.Create(r.Context(), orchestrator.CreateJobRequest{
		Name: body.Name, OriginalCommand: body.OriginalCommand, Mode: mode,
		WriteBackEnabled: body.WriteBackEnabled, Rows: rows,
		ShipperOverride: body.ShipperOverride, Service: body.Service,
	})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"job_id": jobID})
}
