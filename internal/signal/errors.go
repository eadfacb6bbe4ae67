package signal

import "errors"

// Sentinel errors for the signal domain. Handlers map these to HTTP
// status codes; callers should test with errors.Is.
var (
	// ErrInvalidLane indicates a preemption request named a lane that is
	// not part of the active topology.
	ErrInvalidLane = errors.New("signal: invalid lane for preemption")

	// ErrInvalidEta indicates a preemption ETA outside the configured bounds.
	ErrInvalidEta = errors.New("signal: eta outside accepted bounds")

	// ErrConflictingPreemption indicates a preemption is already active for
	// the opposing signal group.
	ErrConflictingPreemption = errors.New("signal: conflicting preemption already active")

	// ErrInvalidTiming indicates timing parameters that cannot produce a
	// valid cycle (e.g. min green above max green).
	ErrInvalidTiming = errors.New("signal: invalid timing parameters")

	// ErrControllerStopped indicates the control loop is no longer running.
	ErrControllerStopped = errors.New("signal: controller stopped")
)
