package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/fairyhunter13/shipagent/internal/domain"
)

// ProgressSnapshot returns the last published progress event for a job, as a
// fallback for clients that can't hold an SSE connection open.
func (h *Handlers) ProgressSnapshot(w http.ResponseWriter, r *http.Request) {
	ev, ok := h.Progress.Snapshot(jobIDFromPath(r))
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"kind": "none"})
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// ProgressStream streams a job's progress events as Server-Sent Events,
// sending an explicit ping whenever a keep-alive interval passes without an
// event, so intermediaries don't time out the connection while the batch is
// between rows.
func (h *Handlers) ProgressStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, domain.NewTaxonomyError("E-4001", "streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	jobID := jobIDFromPath(r)

	writeEvent := func(name string, payload any) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if _, err := w.Write([]byte("event: " + name + "\ndata: " + string(data) + "\n\n")); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	err := h.Progress.Stream(r.Context(), jobID,
		func(ev domain.ProgressEvent) error { return writeEvent("message", ev) },
		func() error { return writeEvent("ping", map[string]string{}) },
	)
	if err != nil {
		h.log.Debug("op=httpserver.ProgressStream.ended", "job_id", jobID, "error", err)
	}
}
