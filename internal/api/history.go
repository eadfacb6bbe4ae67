package api

import (
	"net/http"
	"strconv"
)

// parseLimit reads the optional ?limit= query parameter. Zero means
// "repository default"; the repository also caps oversized values.
func parseLimit(r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, false
	}
	return limit, true
}

// handleListPhaseHistory returns recent phase transitions, newest first.
func (s *Server) handleListPhaseHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeNotFound(w, "history persistence is not enabled")
		return
	}

	limit, ok := parseLimit(r)
	if !ok {
		writeBadRequest(w, "limit must be a non-negative integer")
		return
	}

	records, err := s.history.ListPhases(r.Context(), limit)
	if err != nil {
		s.logger.Error("Listing phase history failed", "error", err)
		writeInternalError(w, "failed to query phase history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"phases": records,
		"count":  len(records),
	})
}

// handleListEvpHistory returns recent preemption events, newest first.
func (s *Server) handleListEvpHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeNotFound(w, "history persistence is not enabled")
		return
	}

	limit, ok := parseLimit(r)
	if !ok {
		writeBadRequest(w, "limit must be a non-negative integer")
		return
	}

	records, err := s.history.ListEvpEvents(r.Context(), limit)
	if err != nil {
		s.logger.Error("Listing EVP history failed", "error", err)
		writeInternalError(w, "failed to query EVP history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events": records,
		"count":  len(records),
	})
}
