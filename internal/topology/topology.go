package topology

import (
	"fmt"
	"sort"

	"github.com/samber/lo"
)

// Lane identifies one approach of the intersection.
type Lane string

// The four approaches of the junction.
const (
	LaneNorth Lane = "North"
	LaneSouth Lane = "South"
	LaneEast  Lane = "East"
	LaneWest  Lane = "West"
)

// Group identifies a signal group: a set of lanes that always receive the
// same signal indication and never conflict with each other.
type Group string

// The two signal groups. They are mutually conflicting: when one holds
// green or yellow the other must be red.
const (
	GroupNorthSouth Group = "NorthSouth"
	GroupEastWest   Group = "EastWest"
)

// Mode selects the detection source arrangement for the intersection.
type Mode string

// Supported system modes. Two-lane modes monitor one lane per group;
// four-lane modes monitor every approach.
const (
	ModeFourVideo  Mode = "four_video"
	ModeTwoVideo   Mode = "two_video"
	ModeTwoESP32   Mode = "two_esp32"
	ModeTwoIP      Mode = "two_ip"
	ModeTwoMixed   Mode = "two_mixed"
	ModeFourHybrid Mode = "four_hybrid"
)

// laneGroups is the fixed lane-to-group partition of the junction.
var laneGroups = map[Lane]Group{
	LaneNorth: GroupNorthSouth,
	LaneSouth: GroupNorthSouth,
	LaneEast:  GroupEastWest,
	LaneWest:  GroupEastWest,
}

// groupLanes is the inverse of laneGroups, in stable order.
var groupLanes = map[Group][]Lane{
	GroupNorthSouth: {LaneNorth, LaneSouth},
	GroupEastWest:   {LaneEast, LaneWest},
}

// Source describes where detection counts for a lane come from.
// Exactly which fields are populated depends on the source type.
type Source struct {
	// Type is the detection source kind: "video", "esp32" or "ip_webcam".
	Type string

	// Path is the video file or capture device path (video sources).
	Path string

	// URL is the stream URL (ip_webcam sources).
	URL string

	// Host is the device address (esp32 sources).
	Host string
}

// Topology is the resolved intersection layout for a system mode.
//
// Thread Safety:
//   - Immutable after Resolve; safe for concurrent use without locking.
type Topology struct {
	mode    Mode
	sources map[Lane]Source
}

// ParseMode validates a mode string from configuration.
//
// Returns:
//   - Mode: The parsed mode
//   - error: ErrUnsupportedMode if the string is not a known mode
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeFourVideo, ModeTwoVideo, ModeTwoESP32, ModeTwoIP, ModeTwoMixed, ModeFourHybrid:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMode, s)
	}
}

// RequiredLanes returns the lanes that must have a detection source in this
// mode. Two-lane modes monitor one representative lane per group.
func (m Mode) RequiredLanes() []Lane {
	switch m {
	case ModeFourVideo, ModeFourHybrid:
		return []Lane{LaneNorth, LaneSouth, LaneEast, LaneWest}
	default:
		return []Lane{LaneNorth, LaneEast}
	}
}

// Resolve builds the topology for a mode from the configured lane sources.
//
// Every lane the mode requires must have a source entry; a missing entry is
// a configuration error and fails startup. Sources for lanes the mode does
// not use are ignored.
//
// Parameters:
//   - mode: Validated system mode (see ParseMode)
//   - sources: Lane source entries from configuration, keyed by lane name
//
// Returns:
//   - *Topology: Immutable resolved topology
//   - error: ErrUnsupportedMode wrapped with the missing lane, if any
func Resolve(mode Mode, sources map[Lane]Source) (*Topology, error) {
	resolved := make(map[Lane]Source, len(mode.RequiredLanes()))
	for _, lane := range mode.RequiredLanes() {
		src, ok := sources[lane]
		if !ok {
			return nil, fmt.Errorf("%w: mode %q has no source for lane %q", ErrUnsupportedMode, mode, lane)
		}
		resolved[lane] = src
	}
	return &Topology{mode: mode, sources: resolved}, nil
}

// Mode returns the system mode this topology was resolved for.
func (t *Topology) Mode() Mode {
	return t.mode
}

// GroupOf returns the signal group a lane belongs to.
//
// Returns:
//   - Group: The lane's group
//   - error: ErrUnknownLane if the lane is not one of the four approaches
func (t *Topology) GroupOf(lane Lane) (Group, error) {
	group, ok := laneGroups[lane]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownLane, lane)
	}
	return group, nil
}

// LanesOf returns the lanes belonging to a group, in stable order.
// Unknown groups return nil.
func (t *Topology) LanesOf(group Group) []Lane {
	lanes := groupLanes[group]
	out := make([]Lane, len(lanes))
	copy(out, lanes)
	return out
}

// Opposing returns the conflicting group.
func Opposing(group Group) Group {
	if group == GroupNorthSouth {
		return GroupEastWest
	}
	return GroupNorthSouth
}

// IsAvailable reports whether a lane has a detection source in this mode.
func (t *Topology) IsAvailable(lane Lane) bool {
	_, ok := t.sources[lane]
	return ok
}

// AvailableLanes returns the lanes with detection sources, in stable order.
func (t *Topology) AvailableLanes() []Lane {
	lanes := lo.Keys(t.sources)
	sort.Slice(lanes, func(i, j int) bool { return lanes[i] < lanes[j] })
	return lanes
}

// AllLanes returns every lane of the junction, in stable order, regardless
// of detection availability. Hardware signals exist for all four approaches
// even when only two are monitored.
func AllLanes() []Lane {
	return []Lane{LaneNorth, LaneSouth, LaneEast, LaneWest}
}

// SourceOf returns the detection source for a lane.
//
// Returns:
//   - Source: The configured source
//   - error: ErrUnknownLane if the lane has no source in this mode
func (t *Topology) SourceOf(lane Lane) (Source, error) {
	src, ok := t.sources[lane]
	if !ok {
		return Source{}, fmt.Errorf("%w: %q", ErrUnknownLane, lane)
	}
	return src, nil
}
