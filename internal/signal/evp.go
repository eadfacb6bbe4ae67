package signal

import (
	"fmt"

	"github.com/intelliflow/signal-core/internal/infrastructure/config"
	"github.com/intelliflow/signal-core/internal/topology"
)

// EvpState is the preemption manager state.
type EvpState string

const (
	EvpIdle       EvpState = "idle"
	EvpPreempting EvpState = "preempting"
)

// EVP lifecycle event types, recorded in the audit trail and published on
// the event channel.
const (
	EvpEventStarted   = "started"
	EvpEventRefreshed = "refreshed"
	EvpEventCleared   = "cleared"
	EvpEventExpired   = "expired"
)

// EvpRequest is a validated-on-arrival emergency vehicle preemption request.
type EvpRequest struct {
	// RequestID correlates the request across the audit trail and events.
	RequestID string

	// Lane the emergency vehicle is approaching on.
	Lane topology.Lane

	// EtaSeconds is the estimated arrival time. The hold persists for
	// EtaSeconds plus the configured grace window unless cleared first.
	EtaSeconds float64
}

// EvpEvent describes a preemption lifecycle transition.
type EvpEvent struct {
	Type       string
	RequestID  string
	Lane       topology.Lane
	Group      topology.Group
	EtaSeconds float64
}

// activePreemption is the in-flight hold.
type activePreemption struct {
	requestID string
	lane      topology.Lane
	group     topology.Group
	eta       float64
	remaining float64
	prior     SavedContext
}

// EvpManager handles emergency vehicle preemption.
//
// On Start it suspends the scheduler, snapshots the cycle position and
// forces green for the requesting lane's group immediately, skipping any
// yellow in progress. The hold ends through Clear or through grace-window
// expiry, whichever happens first; either path performs the end transition
// exactly once and resumes the cycle through all-red.
//
// Thread Safety:
//   - NOT safe for concurrent use. Owned by the Controller goroutine,
//     which serialises Start, Clear and Tick.
type EvpManager struct {
	topo  *topology.Topology
	sched *Scheduler
	cfg   config.EVPConfig

	state  EvpState
	active *activePreemption

	onEvent func(EvpEvent)
}

// NewEvpManager builds an idle preemption manager.
func NewEvpManager(topo *topology.Topology, sched *Scheduler, cfg config.EVPConfig) *EvpManager {
	return &EvpManager{
		topo:  topo,
		sched: sched,
		cfg:   cfg,
		state: EvpIdle,
	}
}

// SetOnEvent registers the lifecycle event observer. The callback runs
// synchronously on the owning goroutine.
func (m *EvpManager) SetOnEvent(fn func(EvpEvent)) {
	m.onEvent = fn
}

// State returns the current manager state.
func (m *EvpManager) State() EvpState {
	return m.state
}

// Active returns the in-flight preemption, if any.
//
// Returns:
//   - EvpRequest: The active request (refreshes replace the original)
//   - topology.Group: The group being held green
//   - bool: False when idle
func (m *EvpManager) Active() (EvpRequest, topology.Group, bool) {
	if m.state != EvpPreempting {
		return EvpRequest{}, "", false
	}
	return EvpRequest{
		RequestID:  m.active.requestID,
		Lane:       m.active.lane,
		EtaSeconds: m.active.eta,
	}, m.active.group, true
}

// HoldsGroup reports whether the given group is currently held green by an
// active preemption.
func (m *EvpManager) HoldsGroup(group topology.Group) bool {
	return m.state == EvpPreempting && m.active.group == group
}

// Start begins or refreshes a preemption hold.
//
// Validation happens before any state changes; a rejected request leaves
// both the manager and the scheduler untouched. A request for the group
// already being held refreshes the hold: the ETA and grace countdown are
// replaced, the forced green is unchanged. A request for the opposing
// group is rejected.
//
// Returns:
//   - error: ErrInvalidLane, ErrInvalidEta or ErrConflictingPreemption
//     (test with errors.Is); nil when the hold is in effect
func (m *EvpManager) Start(req EvpRequest) error {
	group, err := m.topo.GroupOf(req.Lane)
	if err != nil || !m.topo.IsAvailable(req.Lane) {
		return fmt.Errorf("%w: %q", ErrInvalidLane, req.Lane)
	}
	if req.EtaSeconds < m.cfg.MinEta || req.EtaSeconds > m.cfg.MaxEta {
		return fmt.Errorf("%w: %.1fs outside [%.1f, %.1f]", ErrInvalidEta, req.EtaSeconds, m.cfg.MinEta, m.cfg.MaxEta)
	}

	if m.state == EvpPreempting {
		if m.active.group != group {
			return fmt.Errorf("%w: holding %s, requested %s", ErrConflictingPreemption, m.active.group, group)
		}
		// Same-group refresh: replace the ETA and restart the grace
		// countdown. The lanes are already green.
		m.active.requestID = req.RequestID
		m.active.lane = req.Lane
		m.active.eta = req.EtaSeconds
		m.active.remaining = req.EtaSeconds + m.cfg.Grace
		m.emit(EvpEventRefreshed)
		return nil
	}

	prior := m.sched.Suspend()
	m.active = &activePreemption{
		requestID: req.RequestID,
		lane:      req.Lane,
		group:     group,
		eta:       req.EtaSeconds,
		remaining: req.EtaSeconds + m.cfg.Grace,
		prior:     prior,
	}
	m.state = EvpPreempting
	m.sched.ForceGroupGreen(group)
	m.emit(EvpEventStarted)
	return nil
}

// Clear ends the active preemption and resumes the cycle through all-red.
// Idempotent: clearing while idle is a no-op.
//
// Returns:
//   - bool: True if a hold was actually cleared
func (m *EvpManager) Clear() bool {
	if m.state != EvpPreempting {
		return false
	}
	m.end(EvpEventCleared)
	return true
}

// Tick advances the grace countdown by elapsed seconds. When the hold
// outlives ETA plus grace without a clear, it expires automatically and
// the cycle resumes through all-red.
func (m *EvpManager) Tick(elapsed float64) {
	if m.state != EvpPreempting || elapsed <= 0 {
		return
	}

	m.active.remaining -= elapsed
	if m.active.remaining <= 0 {
		m.end(EvpEventExpired)
	}
}

// end performs the single end transition: resume the scheduler, emit the
// terminal event, drop the hold.
func (m *EvpManager) end(eventType string) {
	m.sched.Resume(m.active.prior)
	m.emit(eventType)
	m.active = nil
	m.state = EvpIdle
}

func (m *EvpManager) emit(eventType string) {
	if m.onEvent == nil {
		return
	}
	m.onEvent(EvpEvent{
		Type:       eventType,
		RequestID:  m.active.requestID,
		Lane:       m.active.lane,
		Group:      m.active.group,
		EtaSeconds: m.active.eta,
	})
}
