package api

import (
	"net/http"

	"github.com/intelliflow/signal-core/internal/topology"
)

// laneTopologyResponse is one lane's entry in the topology response.
type laneTopologyResponse struct {
	Lane       topology.Lane  `json:"lane"`
	Group      topology.Group `json:"group"`
	Available  bool           `json:"available"`
	SourceType string         `json:"source_type,omitempty"`
}

// handleGetState returns the latest signal state snapshot.
//
// The snapshot is read atomically from the publisher; it never exposes a
// partially-updated mix of pre- and post-transition fields.
func (s *Server) handleGetState(w http.ResponseWriter, _ *http.Request) {
	snap := s.controller.Snapshot()
	if snap == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "controller not yet running")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleGetTopology returns the resolved intersection layout.
func (s *Server) handleGetTopology(w http.ResponseWriter, _ *http.Request) {
	lanes := make([]laneTopologyResponse, 0, 4)
	for _, lane := range topology.AllLanes() {
		group, err := s.topo.GroupOf(lane)
		if err != nil {
			continue
		}
		entry := laneTopologyResponse{
			Lane:      lane,
			Group:     group,
			Available: s.topo.IsAvailable(lane),
		}
		if src, err := s.topo.SourceOf(lane); err == nil {
			entry.SourceType = src.Type
		}
		lanes = append(lanes, entry)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"mode":  s.topo.Mode(),
		"lanes": lanes,
	})
}
