package signal

import (
	"context"
	"time"
)

// PhaseRecord is one persisted phase entry.
type PhaseRecord struct {
	ID              int64     `json:"id"`
	Phase           string    `json:"phase"`
	Group           string    `json:"group"`
	DurationSeconds float64   `json:"duration_seconds"`
	Source          string    `json:"source"`
	NorthSouthCount int       `json:"north_south_count"`
	EastWestCount   int       `json:"east_west_count"`
	CreatedAt       time.Time `json:"created_at"`
}

// EvpRecord is one persisted preemption lifecycle event.
type EvpRecord struct {
	ID         int64     `json:"id"`
	RequestID  string    `json:"request_id"`
	Event      string    `json:"event"`
	Lane       string    `json:"lane"`
	Group      string    `json:"group"`
	EtaSeconds float64   `json:"eta_seconds"`
	CreatedAt  time.Time `json:"created_at"`
}

// HistoryRepository persists phase transitions and EVP events for the
// operator-facing history endpoints and the audit trail.
type HistoryRepository interface {
	// RecordPhase appends a phase entry.
	RecordPhase(ctx context.Context, rec PhaseRecord) error

	// RecordEvpEvent appends a preemption lifecycle event.
	RecordEvpEvent(ctx context.Context, rec EvpRecord) error

	// ListPhases returns the most recent phase entries, newest first.
	// A non-positive limit uses the default; limits are capped.
	ListPhases(ctx context.Context, limit int) ([]PhaseRecord, error)

	// ListEvpEvents returns the most recent EVP events, newest first.
	ListEvpEvents(ctx context.Context, limit int) ([]EvpRecord, error)

	// Prune deletes entries older than the retention window.
	// Returns the number of rows removed.
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}
