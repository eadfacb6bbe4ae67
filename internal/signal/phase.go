package signal

import "github.com/intelliflow/signal-core/internal/topology"

// Color is a signal head colour command.
type Color string

const (
	ColorRed    Color = "red"
	ColorYellow Color = "yellow"
	ColorGreen  Color = "green"
)

// Letter returns the single-character wire encoding used by the Arduino
// bridge ("R", "Y" or "G").
func (c Color) Letter() string {
	switch c {
	case ColorGreen:
		return "G"
	case ColorYellow:
		return "Y"
	default:
		return "R"
	}
}

// Phase identifies a position in the fixed signal cycle.
//
// The two all-red phases are distinct states so the cycle position is
// unambiguous, but both render as "All_Red" externally. The declaration
// order IS the cycle order; Next relies on it.
type Phase int

const (
	PhaseNorthSouthGreen Phase = iota
	PhaseNorthSouthYellow
	PhaseAllRedToEastWest
	PhaseEastWestGreen
	PhaseEastWestYellow
	PhaseAllRedToNorthSouth

	phaseCount
)

// Next returns the phase that follows p in the cycle.
func (p Phase) Next() Phase {
	return (p + 1) % phaseCount
}

// String returns the external phase name. Both all-red phases render as
// "All_Red"; the distinction between them is internal cycle bookkeeping.
func (p Phase) String() string {
	switch p {
	case PhaseNorthSouthGreen:
		return "NorthSouth_Green"
	case PhaseNorthSouthYellow:
		return "NorthSouth_Yellow"
	case PhaseEastWestGreen:
		return "EastWest_Green"
	case PhaseEastWestYellow:
		return "EastWest_Yellow"
	case PhaseAllRedToEastWest, PhaseAllRedToNorthSouth:
		return "All_Red"
	default:
		return "Unknown"
	}
}

// IsAllRed reports whether p is one of the two all-red clearance phases.
func (p Phase) IsAllRed() bool {
	return p == PhaseAllRedToEastWest || p == PhaseAllRedToNorthSouth
}

// IsGreen reports whether p is a green phase.
func (p Phase) IsGreen() bool {
	return p == PhaseNorthSouthGreen || p == PhaseEastWestGreen
}

// ActiveGroup returns the group holding green or yellow during p.
// The second return is false during all-red, when no group has right of way.
func (p Phase) ActiveGroup() (topology.Group, bool) {
	switch p {
	case PhaseNorthSouthGreen, PhaseNorthSouthYellow:
		return topology.GroupNorthSouth, true
	case PhaseEastWestGreen, PhaseEastWestYellow:
		return topology.GroupEastWest, true
	default:
		return "", false
	}
}

// ColorFor returns the colour lanes of the given group display during p.
func (p Phase) ColorFor(group topology.Group) Color {
	active, ok := p.ActiveGroup()
	if !ok || active != group {
		return ColorRed
	}
	if p.IsGreen() {
		return ColorGreen
	}
	return ColorYellow
}

// GreenPhase returns the green phase serving the given group.
func GreenPhase(group topology.Group) Phase {
	if group == topology.GroupEastWest {
		return PhaseEastWestGreen
	}
	return PhaseNorthSouthGreen
}

// AllRedBefore returns the all-red clearance phase whose successor is the
// given group's green. Used when resuming after preemption: re-entering
// the cycle always passes through all-red first.
func AllRedBefore(group topology.Group) Phase {
	if group == topology.GroupEastWest {
		return PhaseAllRedToEastWest
	}
	return PhaseAllRedToNorthSouth
}
