// Package topology defines the intersection layout: lanes, signal groups,
// and the mapping from the configured system mode to the set of lanes that
// actually carry detection data.
//
// The intersection is a fixed four-approach junction. Lanes are grouped into
// two non-conflicting signal groups (NorthSouth and EastWest) that always
// receive identical signal indications. The system mode determines which
// lanes have a detection source attached; lanes without a source still exist
// in the topology but are reported as unavailable.
//
// A Topology is resolved once at startup from configuration and is immutable
// afterwards, so it is safe to share across goroutines without locking.
package topology
