package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/intelliflow/signal-core/internal/signal"
	"github.com/intelliflow/signal-core/internal/topology"
)

// EVP error codes surfaced to callers.
const (
	ErrCodeInvalidLane           = "invalid_lane"
	ErrCodeInvalidEta            = "invalid_eta"
	ErrCodeConflictingPreemption = "conflicting_preemption"
)

// evpStartRequest is the request body for POST /evp/start.
type evpStartRequest struct {
	Lane       string  `json:"lane"`
	EtaSeconds float64 `json:"eta_seconds"`

	// RequestID is optional; one is generated when absent.
	RequestID string `json:"request_id"`
}

// evpStartResponse is the response body for POST /evp/start.
type evpStartResponse struct {
	RequestID string `json:"request_id"`
	Lane      string `json:"lane"`
	Status    string `json:"status"`
}

// handleEvpStart begins or refreshes an emergency vehicle preemption hold.
//
// Validation errors map to:
//   - 400 invalid_lane: lane unknown or unmonitored in the current mode
//   - 400 invalid_eta: ETA outside configured bounds
//   - 409 conflicting_preemption: a hold for the opposing group is active
func (s *Server) handleEvpStart(w http.ResponseWriter, r *http.Request) {
	var req evpStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	err := s.controller.StartPreemption(r.Context(), signal.EvpRequest{
		RequestID:  req.RequestID,
		Lane:       topology.Lane(req.Lane),
		EtaSeconds: req.EtaSeconds,
	})
	switch {
	case errors.Is(err, signal.ErrInvalidLane):
		writeError(w, http.StatusBadRequest, ErrCodeInvalidLane, err.Error())
	case errors.Is(err, signal.ErrInvalidEta):
		writeError(w, http.StatusBadRequest, ErrCodeInvalidEta, err.Error())
	case errors.Is(err, signal.ErrConflictingPreemption):
		writeError(w, http.StatusConflict, ErrCodeConflictingPreemption, err.Error())
	case errors.Is(err, signal.ErrControllerStopped):
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "controller stopped")
	case err != nil:
		s.logger.Error("EVP start failed", "error", err)
		writeInternalError(w, "preemption start failed")
	default:
		writeJSON(w, http.StatusOK, evpStartResponse{
			RequestID: req.RequestID,
			Lane:      req.Lane,
			Status:    "preempting",
		})
	}
}

// handleEvpClear ends the active preemption, if any. Idempotent: clearing
// with no active hold succeeds with cleared=false.
func (s *Server) handleEvpClear(w http.ResponseWriter, r *http.Request) {
	cleared, err := s.controller.ClearPreemption(r.Context())
	if err != nil {
		if errors.Is(err, signal.ErrControllerStopped) {
			writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "controller stopped")
			return
		}
		s.logger.Error("EVP clear failed", "error", err)
		writeInternalError(w, "preemption clear failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"cleared": cleared,
	})
}
