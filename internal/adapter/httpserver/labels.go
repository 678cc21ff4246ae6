package httpserver

import (
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/fairyhunter13/shipagent/internal/domain"
)

// GetLabel serves a generated shipping label file, confining the resolved
// path to the configured labels root so a crafted row number or label
// reference can never escape it via "..".
func (h *Handlers) GetLabel(w http.ResponseWriter, r *http.Request) {
	jobID := jobIDFromPath(r)
	rowNumber, err := strconv.Atoi(chi.URLParam(r, "rowNumber"))
	if err != nil {
		writeError(w, http.StatusBadRequest, domain.NewTaxonomyError("E-2023", "row number must be numeric"))
		return
	}

	row, err := h.Rows.GetRow(r.Context(), jobID, rowNumber)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if row.LabelRef == "" {
		writeError(w, http.StatusNotFound, domain.ErrNotFound)
		return
	}

	root, err := filepath.Abs(h.Cfg.LabelsDir)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	resolved, err := filepath.Abs(filepath.Join(root, row.LabelRef))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if resolved != root && !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
		writeError(w, http.StatusForbidden, domain.NewTaxonomyError("E-2023", "label path escapes the labels root"))
		return
	}

	http.ServeFile(w, r, resolved)
}
