package signal

import (
	"github.com/intelliflow/signal-core/internal/infrastructure/config"
	"github.com/intelliflow/signal-core/internal/topology"
)

// CommandSink receives lane colour commands as the scheduler moves through
// the cycle. Implementations must not block: signal timing continues
// regardless of whether the hardware acknowledged the command.
type CommandSink interface {
	SendCommand(lane topology.Lane, color Color)
}

// PhaseEntry describes a phase the scheduler has just entered. Delivered to
// the entry observer for history and telemetry recording.
type PhaseEntry struct {
	Phase    Phase
	Duration float64
	Source   string

	// NorthSouthCount and EastWestCount are the per-group vehicle counts
	// at the moment of entry, as used by the green time computation.
	NorthSouthCount int
	EastWestCount   int
}

// Phase entry sources recorded in history.
const (
	PhaseSourceCycle  = "cycle"  // normal cycle progression
	PhaseSourceEvp    = "evp"    // forced by emergency preemption
	PhaseSourceResume = "resume" // re-entry after preemption ended
)

// SavedContext is the scheduler state captured when preemption suspends the
// cycle. Remaining is retained for the audit trail; on resume the cycle
// always re-enters through all-red rather than restoring the countdown.
type SavedContext struct {
	Phase     Phase
	Remaining float64
}

// Scheduler drives the fixed signal cycle:
//
//	NorthSouth green → NorthSouth yellow → all-red →
//	EastWest green → EastWest yellow → all-red → (repeat)
//
// Green durations adapt to vehicle counts; yellow and all-red durations are
// fixed. Time advances only through Tick.
//
// Thread Safety:
//   - NOT safe for concurrent use. Owned by the Controller goroutine.
type Scheduler struct {
	topo   *topology.Topology
	calc   *GreenTimeCalculator
	timing config.TimingConfig
	sink   CommandSink

	phase     Phase
	remaining float64
	suspended bool
	cycles    uint64

	counts map[topology.Lane]int
	greens map[topology.Group]float64

	onEntry func(PhaseEntry)
}

// NewScheduler builds a scheduler and enters the first phase (NorthSouth
// green), emitting the initial lane commands.
func NewScheduler(topo *topology.Topology, calc *GreenTimeCalculator, timing config.TimingConfig, sink CommandSink) *Scheduler {
	s := &Scheduler{
		topo:   topo,
		calc:   calc,
		timing: timing,
		sink:   sink,
		counts: make(map[topology.Lane]int),
		greens: make(map[topology.Group]float64),
	}
	s.enterPhase(PhaseNorthSouthGreen, PhaseSourceCycle)
	return s
}

// SetOnPhaseEntry registers the phase entry observer. The callback runs
// synchronously on the scheduler's owning goroutine.
func (s *Scheduler) SetOnPhaseEntry(fn func(PhaseEntry)) {
	s.onEntry = fn
}

// Tick advances the cycle clock by elapsed seconds. While suspended for
// preemption the clock is frozen and Tick is a no-op.
func (s *Scheduler) Tick(elapsed float64) {
	if s.suspended || elapsed <= 0 {
		return
	}

	s.remaining -= elapsed
	if s.remaining > 0 {
		return
	}

	next := s.phase.Next()
	if next == PhaseNorthSouthGreen {
		s.cycles++
	}
	s.enterPhase(next, PhaseSourceCycle)
}

// UpdateCount records the latest vehicle count for a lane. The new count
// takes effect at the next green computation; the phase in progress is
// never shortened or extended retroactively.
func (s *Scheduler) UpdateCount(lane topology.Lane, count int) {
	if count < 0 {
		return
	}
	s.counts[lane] = count
}

// CountFor returns the last recorded vehicle count for a lane.
func (s *Scheduler) CountFor(lane topology.Lane) int {
	return s.counts[lane]
}

// GroupCount returns the summed vehicle count across a group's lanes.
func (s *Scheduler) GroupCount(group topology.Group) int {
	total := 0
	for _, lane := range s.topo.LanesOf(group) {
		total += s.counts[lane]
	}
	return total
}

// Phase returns the current cycle phase.
func (s *Scheduler) Phase() Phase {
	return s.phase
}

// Remaining returns the seconds left in the current phase. Meaningless
// while suspended.
func (s *Scheduler) Remaining() float64 {
	if s.remaining < 0 {
		return 0
	}
	return s.remaining
}

// Cycles returns the number of completed full cycles since start.
func (s *Scheduler) Cycles() uint64 {
	return s.cycles
}

// GreenFor returns the most recently computed green duration for a group.
// Zero until the group's green has been served at least once.
func (s *Scheduler) GreenFor(group topology.Group) float64 {
	return s.greens[group]
}

// Suspended reports whether the cycle clock is frozen for preemption.
func (s *Scheduler) Suspended() bool {
	return s.suspended
}

// Suspend freezes the cycle clock and returns the state to restore from.
// Called by the preemption manager before forcing lane colours.
func (s *Scheduler) Suspend() SavedContext {
	s.suspended = true
	return SavedContext{Phase: s.phase, Remaining: s.Remaining()}
}

// ForceGroupGreen commands green for every lane of the given group and red
// for the opposing group, bypassing the cycle. Only meaningful while
// suspended; the caller owns the resulting hardware state until Resume.
func (s *Scheduler) ForceGroupGreen(group topology.Group) {
	for _, lane := range topology.AllLanes() {
		laneGroup, err := s.topo.GroupOf(lane)
		if err != nil {
			continue
		}
		color := ColorRed
		if laneGroup == group {
			color = ColorGreen
		}
		s.sink.SendCommand(lane, color)
	}
}

// Resume unfreezes the cycle after preemption. Re-entry always passes
// through the all-red clearance phase preceding the interrupted group's
// green, so the junction clears before any group regains right of way.
// The interrupted green is re-served in full with a freshly computed
// duration; the saved countdown is not restored.
func (s *Scheduler) Resume(saved SavedContext) {
	s.suspended = false

	resumeAt := saved.Phase
	if !resumeAt.IsAllRed() {
		group, _ := saved.Phase.ActiveGroup()
		resumeAt = AllRedBefore(group)
	}
	s.enterPhase(resumeAt, PhaseSourceResume)
}

// enterPhase sets the phase, computes its duration, emits one colour
// command per lane and notifies the entry observer.
func (s *Scheduler) enterPhase(phase Phase, source string) {
	s.phase = phase
	s.remaining = s.durationOf(phase)

	for _, lane := range topology.AllLanes() {
		group, err := s.topo.GroupOf(lane)
		if err != nil {
			continue
		}
		s.sink.SendCommand(lane, phase.ColorFor(group))
	}

	if s.onEntry != nil {
		s.onEntry(PhaseEntry{
			Phase:           phase,
			Duration:        s.remaining,
			Source:          source,
			NorthSouthCount: s.GroupCount(topology.GroupNorthSouth),
			EastWestCount:   s.GroupCount(topology.GroupEastWest),
		})
	}
}

// durationOf returns the duration for a phase. Greens adapt to the current
// group count; yellow and all-red are fixed.
func (s *Scheduler) durationOf(phase Phase) float64 {
	switch {
	case phase.IsGreen():
		group, _ := phase.ActiveGroup()
		green := s.calc.Compute(s.GroupCount(group))
		s.greens[group] = green
		return green
	case phase.IsAllRed():
		return s.timing.AllRed
	default:
		return s.timing.Yellow
	}
}
