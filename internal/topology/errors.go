package topology

import "errors"

// Domain-specific errors for topology resolution.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrUnsupportedMode is returned when the configured system mode is not
	// recognised or lacks a required lane source. This is a startup failure.
	ErrUnsupportedMode = errors.New("topology: unsupported system mode")

	// ErrUnknownLane is returned when a lane name does not identify one of
	// the four approaches, or the lane has no source in the active mode.
	ErrUnknownLane = errors.New("topology: unknown lane")
)
