package api

import (
	"net/http"
)

type publishRequest struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

// publishEvent runs an event through matching and enqueueing as if ingestion
// had observed it
func (s *Server) publishEvent(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Event == "" {
		writeError(w, http.StatusBadRequest, "event is required")
		return
	}
	if req.Data == nil {
		req.Data = map[string]any{}
	}

	n, err := s.deps.Notifier.Notify(r.Context(), req.Event, req.Data)
	if err != nil && n == 0 {
		s.logger.WithContext(r.Context()).WithEvent(req.Event).WithError(err).Error("notify failed")
		writeError(w, http.StatusInternalServerError, "Failed to enqueue event")
		return
	}
	resp := map[string]any{"event": req.Event, "enqueued": n}
	if err != nil {
		resp["partial"] = true
	}
	writeJSON(w, http.StatusAccepted, resp)
}
