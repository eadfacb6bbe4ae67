// Package signal implements the adaptive traffic signal controller for
// IntelliFlow Signal Core.
//
// It contains:
//   - The fixed phase cycle (green → yellow → all-red, alternating groups)
//   - Adaptive green time computed from queued vehicle counts
//   - Emergency vehicle preemption (EVP) with grace-window expiry
//   - Atomic state snapshots for the API, WebSocket and MQTT surfaces
//   - Phase and EVP history persistence
//
// # Ownership model
//
// The Scheduler and EvpManager are NOT thread-safe. They are owned by the
// Controller's single goroutine, which funnels every input — detection count
// updates, EVP commands and clock ticks — through one command queue. Callers
// interact only with the Controller, whose exported methods are safe for
// concurrent use.
//
// # Snapshots
//
// After every tick the Controller assembles an immutable Snapshot and stores
// it behind an atomic pointer. Readers always observe a consistent state;
// the held-open sentinel for preempted lanes exists only in the JSON
// encoding, never in internal arithmetic.
package signal
