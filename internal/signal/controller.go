package signal

import (
	"context"
	"fmt"
	"time"

	"github.com/intelliflow/signal-core/internal/infrastructure/logging"
	"github.com/intelliflow/signal-core/internal/topology"
)

// commandQueueSize bounds the control queue. Count updates arrive at a few
// per second per lane; EVP commands are rare. A full queue drops count
// updates rather than blocking producers.
const commandQueueSize = 64

// Telemetry receives time-series samples from the control loop. Satisfied
// by the InfluxDB client; nil-able for deployments without one.
type Telemetry interface {
	WriteLaneCount(lane string, count int, stale bool)
	WritePhaseDuration(phase, group string, seconds float64)
	WriteEvpEvent(event, lane string, etaSeconds float64)
}

// Control queue commands. Only the control goroutine touches scheduler or
// preemption state; these are the envelopes other goroutines send it.
type countUpdate struct {
	lane  topology.Lane
	count int
	at    time.Time
}

type evpStartCmd struct {
	req   EvpRequest
	reply chan error
}

type evpClearCmd struct {
	reply chan bool
}

// ControllerDeps bundles the controller's dependencies.
type ControllerDeps struct {
	Topology  *topology.Topology
	Scheduler *Scheduler
	Evp       *EvpManager
	Publisher *StatePublisher

	// History is optional; nil disables persistence.
	History HistoryRepository

	// Telemetry is optional; nil disables time-series output.
	Telemetry Telemetry

	Logger *logging.Logger

	// TickInterval is the control loop period.
	TickInterval time.Duration

	// StaleAfter flags a lane's count stale when no update has arrived
	// for this long. The last value is still used for green computation.
	StaleAfter time.Duration
}

// Controller runs the single-consumer control loop: the one goroutine that
// mutates scheduler and preemption state. Count updates, EVP commands and
// clock ticks are all funnelled through its queue, so no two writes ever
// race against the same state.
//
// Thread Safety:
//   - UpdateCount, StartPreemption, ClearPreemption and Snapshot are safe
//     from any goroutine.
type Controller struct {
	topo      *topology.Topology
	sched     *Scheduler
	evp       *EvpManager
	publisher *StatePublisher
	history   HistoryRepository
	telemetry Telemetry
	logger    *logging.Logger

	tick       time.Duration
	staleAfter time.Duration

	cmds     chan any
	lastSeen map[topology.Lane]time.Time
	done     chan struct{}
}

// NewController validates dependencies and builds a controller. Run must
// be called before the exported command methods do anything useful.
func NewController(deps ControllerDeps) (*Controller, error) {
	if deps.Topology == nil || deps.Scheduler == nil || deps.Evp == nil || deps.Publisher == nil {
		return nil, fmt.Errorf("signal: controller requires topology, scheduler, evp and publisher")
	}
	if deps.TickInterval <= 0 {
		return nil, fmt.Errorf("signal: tick interval must be positive, got %s", deps.TickInterval)
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}

	c := &Controller{
		topo:       deps.Topology,
		sched:      deps.Scheduler,
		evp:        deps.Evp,
		publisher:  deps.Publisher,
		history:    deps.History,
		telemetry:  deps.Telemetry,
		logger:     deps.Logger,
		tick:       deps.TickInterval,
		staleAfter: deps.StaleAfter,
		cmds:       make(chan any, commandQueueSize),
		lastSeen:   make(map[topology.Lane]time.Time),
		done:       make(chan struct{}),
	}

	// Observer callbacks fire on the control goroutine, inside tick or
	// command handling.
	c.sched.SetOnPhaseEntry(c.onPhaseEntry)
	c.evp.SetOnEvent(c.onEvpEvent)

	return c, nil
}

// Run drives the control loop until ctx is cancelled. It owns all
// scheduler and preemption state from the first iteration onward.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.done)

	now := time.Now()
	for _, lane := range c.topo.AvailableLanes() {
		c.lastSeen[lane] = now
	}

	// Publish the initial state before the first tick so API readers
	// never observe a nil snapshot while the loop is alive.
	c.publishSnapshot(now)

	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	last := now
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Control loop stopping")
			return nil

		case tickAt := <-ticker.C:
			elapsed := tickAt.Sub(last).Seconds()
			last = tickAt

			// Preemption expiry is checked before the cycle clock so an
			// expired hold resumes within the same tick.
			c.evp.Tick(elapsed)
			c.sched.Tick(elapsed)
			c.publishSnapshot(tickAt)

		case cmd := <-c.cmds:
			c.handleCommand(cmd)
		}
	}
}

// UpdateCount enqueues a vehicle count update. Fire-and-forget: if the
// queue is full the update is dropped and the next one supersedes it.
func (c *Controller) UpdateCount(lane topology.Lane, count int) {
	select {
	case c.cmds <- countUpdate{lane: lane, count: count, at: time.Now()}:
	default:
		c.logger.Warn("Control queue full, dropping count update", "lane", lane)
	}
}

// StartPreemption submits an EVP start request and waits for the control
// loop's verdict.
//
// Returns:
//   - error: ErrInvalidLane, ErrInvalidEta, ErrConflictingPreemption,
//     ErrControllerStopped, or ctx.Err; nil when the hold is in effect
func (c *Controller) StartPreemption(ctx context.Context, req EvpRequest) error {
	reply := make(chan error, 1)
	select {
	case c.cmds <- evpStartCmd{req: req, reply: reply}:
	case <-c.done:
		return ErrControllerStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-c.done:
		return ErrControllerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ClearPreemption submits an EVP clear and waits for the control loop.
//
// Returns:
//   - bool: True if a hold was actually cleared, false if already idle
//   - error: ErrControllerStopped or ctx.Err
func (c *Controller) ClearPreemption(ctx context.Context) (bool, error) {
	reply := make(chan bool, 1)
	select {
	case c.cmds <- evpClearCmd{reply: reply}:
	case <-c.done:
		return false, ErrControllerStopped
	case <-ctx.Done():
		return false, ctx.Err()
	}

	select {
	case cleared := <-reply:
		return cleared, nil
	case <-c.done:
		return false, ErrControllerStopped
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Snapshot returns the latest published state snapshot, or nil before the
// loop's first iteration.
func (c *Controller) Snapshot() *Snapshot {
	return c.publisher.Latest()
}

// handleCommand dispatches one queued command on the control goroutine.
func (c *Controller) handleCommand(cmd any) {
	switch cmd := cmd.(type) {
	case countUpdate:
		if !c.topo.IsAvailable(cmd.lane) {
			c.logger.Warn("Count update for unmonitored lane ignored", "lane", cmd.lane)
			return
		}
		c.sched.UpdateCount(cmd.lane, cmd.count)
		c.lastSeen[cmd.lane] = cmd.at
		if c.telemetry != nil {
			c.telemetry.WriteLaneCount(string(cmd.lane), cmd.count, false)
		}

	case evpStartCmd:
		err := c.evp.Start(cmd.req)
		cmd.reply <- err
		if err == nil {
			c.publishSnapshot(time.Now())
		}

	case evpClearCmd:
		cleared := c.evp.Clear()
		cmd.reply <- cleared
		if cleared {
			c.publishSnapshot(time.Now())
		}

	default:
		c.logger.Error("Unknown control command", "type", fmt.Sprintf("%T", cmd))
	}
}

// publishSnapshot assembles and fans out the current state.
func (c *Controller) publishSnapshot(now time.Time) {
	snap := BuildSnapshot(c.topo, c.sched, c.evp, c.isStale(now), now)
	c.publisher.Publish(snap)
}

// isStale returns the per-lane staleness predicate for one snapshot.
// Lanes without a detection source are never flagged.
func (c *Controller) isStale(now time.Time) func(topology.Lane) bool {
	if c.staleAfter <= 0 {
		return nil
	}
	return func(lane topology.Lane) bool {
		seen, ok := c.lastSeen[lane]
		if !ok {
			return false
		}
		return now.Sub(seen) > c.staleAfter
	}
}

// onPhaseEntry records a phase transition to history and telemetry.
func (c *Controller) onPhaseEntry(entry PhaseEntry) {
	group := ""
	if g, ok := entry.Phase.ActiveGroup(); ok {
		group = string(g)
	}

	c.logger.Debug("Phase entered",
		"phase", entry.Phase.String(),
		"duration_seconds", entry.Duration,
		"source", entry.Source,
	)

	if c.history != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		err := c.history.RecordPhase(ctx, PhaseRecord{
			Phase:           entry.Phase.String(),
			Group:           group,
			DurationSeconds: entry.Duration,
			Source:          entry.Source,
			NorthSouthCount: entry.NorthSouthCount,
			EastWestCount:   entry.EastWestCount,
		})
		if err != nil {
			c.logger.Warn("Failed to record phase history", "error", err)
		}
	}

	if c.telemetry != nil {
		c.telemetry.WritePhaseDuration(entry.Phase.String(), group, entry.Duration)
	}
}

// onEvpEvent records a preemption lifecycle event and fans it out.
func (c *Controller) onEvpEvent(ev EvpEvent) {
	c.logger.Info("EVP event",
		"event", ev.Type,
		"request_id", ev.RequestID,
		"lane", ev.Lane,
		"eta_seconds", ev.EtaSeconds,
	)

	if c.history != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		err := c.history.RecordEvpEvent(ctx, EvpRecord{
			RequestID:  ev.RequestID,
			Event:      ev.Type,
			Lane:       string(ev.Lane),
			Group:      string(ev.Group),
			EtaSeconds: ev.EtaSeconds,
		})
		if err != nil {
			c.logger.Warn("Failed to record EVP audit entry", "error", err)
		}
	}

	if c.telemetry != nil {
		c.telemetry.WriteEvpEvent(ev.Type, string(ev.Lane), ev.EtaSeconds)
	}

	c.publisher.PublishEvpEvent(ev)
}
