package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteLaneCount records a per-lane vehicle count sample.
//
// This is the highest-volume measurement; one point per lane per detection
// update. The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - lane: Lane name (e.g. "North")
//   - count: Vehicle count reported by the detection pipeline
//   - stale: Whether the count was flagged stale at sample time
func (c *Client) WriteLaneCount(lane string, count int, stale bool) {
	if !c.IsConnected() {
		return
	}

	staleVal := 0
	if stale {
		staleVal = 1
	}

	point := write.NewPoint(
		"lane_counts",
		map[string]string{
			"lane": lane,
		},
		map[string]interface{}{
			"count": count,
			"stale": staleVal,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePhaseDuration records a completed phase with its actual duration.
//
// One point per phase transition. Green phases carry the computed adaptive
// duration; yellow and all-red phases carry their fixed durations.
//
// Parameters:
//   - phase: Phase name (e.g. "NorthSouth_Green", "All_Red")
//   - group: Signal group holding right of way ("" for all-red)
//   - seconds: Phase duration in seconds
func (c *Client) WritePhaseDuration(phase, group string, seconds float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"phase_durations",
		map[string]string{
			"phase": phase,
			"group": group,
		},
		map[string]interface{}{
			"seconds": seconds,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteEvpEvent records an emergency vehicle preemption lifecycle event.
//
// Parameters:
//   - event: One of "started", "refreshed", "cleared", "expired"
//   - lane: Lane the emergency vehicle is approaching on
//   - etaSeconds: Estimated time of arrival carried by the request
func (c *Client) WriteEvpEvent(event, lane string, etaSeconds float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"evp_events",
		map[string]string{
			"event": event,
			"lane":  lane,
		},
		map[string]interface{}{
			"eta_seconds": etaSeconds,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
