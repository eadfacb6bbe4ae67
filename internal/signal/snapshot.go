package signal

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/intelliflow/signal-core/internal/infrastructure/logging"
	"github.com/intelliflow/signal-core/internal/topology"
)

// heldOpenSentinel is the wire value for remaining_seconds on a lane whose
// green is held open by preemption. It exists only in the JSON encoding;
// no internal arithmetic ever sees it.
const heldOpenSentinel = -1

// RemainingTime is the countdown for a lane's current indication. When
// HeldOpen is set the countdown is open-ended and Seconds is meaningless.
type RemainingTime struct {
	Seconds  float64
	HeldOpen bool
}

// LaneSnapshot is one lane's state within a Snapshot.
type LaneSnapshot struct {
	Lane      topology.Lane
	Available bool
	Color     Color
	Count     int
	Stale     bool
	Remaining RemainingTime
}

// MarshalJSON encodes the held-open countdown as the -1 sentinel alongside
// an explicit held_open flag. This is the only place the sentinel exists.
func (l LaneSnapshot) MarshalJSON() ([]byte, error) {
	remaining := l.Remaining.Seconds
	if l.Remaining.HeldOpen {
		remaining = heldOpenSentinel
	}
	return json.Marshal(struct {
		Lane             topology.Lane `json:"lane"`
		Available        bool          `json:"available"`
		Color            Color         `json:"color"`
		Count            int           `json:"count"`
		Stale            bool          `json:"stale"`
		RemainingSeconds float64       `json:"remaining_seconds"`
		HeldOpen         bool          `json:"held_open"`
	}{
		Lane:             l.Lane,
		Available:        l.Available,
		Color:            l.Color,
		Count:            l.Count,
		Stale:            l.Stale,
		RemainingSeconds: remaining,
		HeldOpen:         l.Remaining.HeldOpen,
	})
}

// GroupSnapshot is one signal group's aggregate state.
type GroupSnapshot struct {
	Count        int     `json:"count"`
	GreenSeconds float64 `json:"green_seconds"`
}

// EvpSnapshot is the preemption state within a Snapshot.
type EvpSnapshot struct {
	Active     bool           `json:"active"`
	RequestID  string         `json:"request_id,omitempty"`
	Lane       topology.Lane  `json:"lane,omitempty"`
	Group      topology.Group `json:"group,omitempty"`
	EtaSeconds float64        `json:"eta_seconds,omitempty"`
}

// Snapshot is an immutable, internally consistent view of the whole
// controller at one instant. Built by the control loop after every tick
// and command; never mutated after construction.
type Snapshot struct {
	Timestamp  time.Time                          `json:"timestamp"`
	Mode       topology.Mode                      `json:"mode"`
	Phase      string                             `json:"phase"`
	CycleCount uint64                             `json:"cycle_count"`
	Lanes      []LaneSnapshot                     `json:"lanes"`
	Groups     map[topology.Group]GroupSnapshot   `json:"groups"`
	Evp        EvpSnapshot                        `json:"evp"`
}

// BuildSnapshot assembles a snapshot from the scheduler and preemption
// manager. Must run on the goroutine that owns them.
//
// Parameters:
//   - topo: Resolved topology
//   - sched: The scheduler (read-only access)
//   - evp: The preemption manager (read-only access)
//   - stale: Per-lane staleness predicate
//   - now: Snapshot timestamp
func BuildSnapshot(topo *topology.Topology, sched *Scheduler, evp *EvpManager, stale func(topology.Lane) bool, now time.Time) *Snapshot {
	phase := sched.Phase()
	active, activeGroup, preempting := evp.Active()

	lanes := make([]LaneSnapshot, 0, 4)
	for _, lane := range topology.AllLanes() {
		group, err := topo.GroupOf(lane)
		if err != nil {
			continue
		}

		color := phase.ColorFor(group)
		remaining := RemainingTime{}
		switch {
		case preempting && group == activeGroup:
			// Held green until the hold ends; no real countdown.
			color = ColorGreen
			remaining.HeldOpen = true
		case preempting:
			// Opposing group is held red, likewise open-ended.
			color = ColorRed
			remaining.HeldOpen = true
		case color != ColorRed:
			remaining.Seconds = sched.Remaining()
		}

		lanes = append(lanes, LaneSnapshot{
			Lane:      lane,
			Available: topo.IsAvailable(lane),
			Color:     color,
			Count:     sched.CountFor(lane),
			Stale:     stale != nil && stale(lane),
			Remaining: remaining,
		})
	}

	groups := map[topology.Group]GroupSnapshot{
		topology.GroupNorthSouth: {
			Count:        sched.GroupCount(topology.GroupNorthSouth),
			GreenSeconds: sched.GreenFor(topology.GroupNorthSouth),
		},
		topology.GroupEastWest: {
			Count:        sched.GroupCount(topology.GroupEastWest),
			GreenSeconds: sched.GreenFor(topology.GroupEastWest),
		},
	}

	snap := &Snapshot{
		Timestamp:  now.UTC(),
		Mode:       topo.Mode(),
		Phase:      phase.String(),
		CycleCount: sched.Cycles(),
		Lanes:      lanes,
		Groups:     groups,
	}
	if preempting {
		snap.Phase = "Preempted_" + string(activeGroup)
		snap.Evp = EvpSnapshot{
			Active:     true,
			RequestID:  active.RequestID,
			Lane:       active.Lane,
			Group:      activeGroup,
			EtaSeconds: active.EtaSeconds,
		}
	}
	return snap
}

// Broadcast channels pushed to WebSocket subscribers.
const (
	ChannelStateChanged = "signal.state_changed"
	ChannelEvpEvent     = "evp.event"
)

// Broadcaster pushes a payload to WebSocket subscribers of a channel.
// Satisfied by the API hub.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// RetainedPublisher publishes a retained MQTT message. Satisfied by the
// MQTT client.
type RetainedPublisher interface {
	PublishRetained(topic string, payload []byte) error
	PublishString(topic string, payload string) error
}

// StatePublisher fans state snapshots out to readers: an atomic pointer
// for the REST API, the WebSocket hub, and a retained MQTT topic so late
// subscribers immediately see current state.
//
// Thread Safety:
//   - Latest is safe from any goroutine. Publish is called only from the
//     control loop.
type StatePublisher struct {
	latest atomic.Pointer[Snapshot]

	hub        Broadcaster
	bus        RetainedPublisher
	stateTopic string
	evpTopic   string
	logger     *logging.Logger
}

// NewStatePublisher builds a publisher. hub and bus may be nil; the
// corresponding fan-out is skipped.
func NewStatePublisher(hub Broadcaster, bus RetainedPublisher, stateTopic, evpTopic string, logger *logging.Logger) *StatePublisher {
	if logger == nil {
		logger = logging.Default()
	}
	return &StatePublisher{
		hub:        hub,
		bus:        bus,
		stateTopic: stateTopic,
		evpTopic:   evpTopic,
		logger:     logger,
	}
}

// Latest returns the most recent snapshot, or nil before the first publish.
func (p *StatePublisher) Latest() *Snapshot {
	return p.latest.Load()
}

// Publish stores the snapshot and fans it out. Publish failures are
// logged and swallowed: state distribution is best-effort and must never
// stall the control loop.
func (p *StatePublisher) Publish(snap *Snapshot) {
	p.latest.Store(snap)

	if p.hub != nil {
		p.hub.Broadcast(ChannelStateChanged, snap)
	}

	if p.bus != nil && p.stateTopic != "" {
		data, err := json.Marshal(snap)
		if err != nil {
			p.logger.Error("Failed to marshal state snapshot", "error", err)
			return
		}
		if err := p.bus.PublishRetained(p.stateTopic, data); err != nil {
			p.logger.Warn("Failed to publish state snapshot", "error", err)
		}
	}
}

// PublishEvpEvent fans a preemption lifecycle event out to WebSocket
// subscribers and the MQTT event topic. Best-effort, like Publish.
func (p *StatePublisher) PublishEvpEvent(ev EvpEvent) {
	payload := map[string]any{
		"type":        ev.Type,
		"request_id":  ev.RequestID,
		"lane":        ev.Lane,
		"group":       ev.Group,
		"eta_seconds": ev.EtaSeconds,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	}

	if p.hub != nil {
		p.hub.Broadcast(ChannelEvpEvent, payload)
	}

	if p.bus != nil && p.evpTopic != "" {
		data, err := json.Marshal(payload)
		if err != nil {
			p.logger.Error("Failed to marshal EVP event", "error", err)
			return
		}
		if err := p.bus.PublishString(p.evpTopic, string(data)); err != nil {
			p.logger.Warn("Failed to publish EVP event", "error", err)
		}
	}
}
