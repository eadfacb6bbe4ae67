package signal

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// SQLiteHistoryRepository implements HistoryRepository using SQLite.
//
// Phase entries go to the phase_history table, preemption events to the
// evp_audit table. Timestamps are stored as RFC3339 text by the database
// default.
type SQLiteHistoryRepository struct {
	db *sql.DB
}

// NewSQLiteHistoryRepository creates a new SQLite history repository.
//
// Parameters:
//   - db: Open SQLite connection used for queries
//
// Returns:
//   - *SQLiteHistoryRepository: Repository instance ready for use
func NewSQLiteHistoryRepository(db *sql.DB) *SQLiteHistoryRepository {
	return &SQLiteHistoryRepository{db: db}
}

// RecordPhase inserts a phase entry.
func (r *SQLiteHistoryRepository) RecordPhase(ctx context.Context, rec PhaseRecord) error {
	if rec.Phase == "" {
		return fmt.Errorf("phase is required")
	}
	if rec.Source == "" {
		rec.Source = PhaseSourceCycle
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO phase_history (phase, lane_group, duration_seconds, source, north_south_count, east_west_count)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.Phase,
		rec.Group,
		rec.DurationSeconds,
		rec.Source,
		rec.NorthSouthCount,
		rec.EastWestCount,
	)
	if err != nil {
		return fmt.Errorf("inserting phase history: %w", err)
	}

	return nil
}

// RecordEvpEvent inserts a preemption lifecycle event.
func (r *SQLiteHistoryRepository) RecordEvpEvent(ctx context.Context, rec EvpRecord) error {
	if rec.Event == "" {
		return fmt.Errorf("event is required")
	}
	if rec.Lane == "" {
		return fmt.Errorf("lane is required")
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO evp_audit (request_id, event, lane, lane_group, eta_seconds)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.RequestID,
		rec.Event,
		rec.Lane,
		rec.Group,
		rec.EtaSeconds,
	)
	if err != nil {
		return fmt.Errorf("inserting evp audit: %w", err)
	}

	return nil
}

// ListPhases returns recent phase entries, ordered newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - limit: Maximum entries to return (default 50, max 200)
func (r *SQLiteHistoryRepository) ListPhases(ctx context.Context, limit int) ([]PhaseRecord, error) {
	limit = clampLimit(limit)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, phase, lane_group, duration_seconds, source, north_south_count, east_west_count, created_at
		 FROM phase_history
		 ORDER BY id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying phase history: %w", err)
	}
	defer rows.Close()

	records := make([]PhaseRecord, 0, limit)
	for rows.Next() {
		var rec PhaseRecord
		var createdAt string

		if err := rows.Scan(&rec.ID, &rec.Phase, &rec.Group, &rec.DurationSeconds, &rec.Source,
			&rec.NorthSouthCount, &rec.EastWestCount, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning phase history: %w", err)
		}

		timestamp, err := parseHistoryTimestamp(createdAt)
		if err != nil {
			return nil, err
		}
		rec.CreatedAt = timestamp

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating phase history: %w", err)
	}

	return records, nil
}

// ListEvpEvents returns recent preemption events, ordered newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - limit: Maximum entries to return (default 50, max 200)
func (r *SQLiteHistoryRepository) ListEvpEvents(ctx context.Context, limit int) ([]EvpRecord, error) {
	limit = clampLimit(limit)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, request_id, event, lane, lane_group, eta_seconds, created_at
		 FROM evp_audit
		 ORDER BY id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying evp audit: %w", err)
	}
	defer rows.Close()

	records := make([]EvpRecord, 0, limit)
	for rows.Next() {
		var rec EvpRecord
		var createdAt string

		if err := rows.Scan(&rec.ID, &rec.RequestID, &rec.Event, &rec.Lane, &rec.Group, &rec.EtaSeconds, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning evp audit: %w", err)
		}

		timestamp, err := parseHistoryTimestamp(createdAt)
		if err != nil {
			return nil, err
		}
		rec.CreatedAt = timestamp

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating evp audit: %w", err)
	}

	return records, nil
}

// Prune deletes history entries older than the retention window, from both
// tables.
//
// Returns:
//   - int64: Total number of rows deleted
func (r *SQLiteHistoryRepository) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, fmt.Errorf("retention must be positive")
	}

	cutoff := time.Now().UTC().Add(-retention).Format(time.RFC3339)

	var total int64
	for _, table := range []string{"phase_history", "evp_audit"} {
		result, err := r.db.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE created_at < ?", table),
			cutoff,
		)
		if err != nil {
			return total, fmt.Errorf("pruning %s: %w", table, err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("checking rows affected: %w", err)
		}
		total += rowsAffected
	}

	return total, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}

// parseHistoryTimestamp parses a timestamp stored in SQLite.
func parseHistoryTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("created_at is empty")
	}

	timestamp, err := time.Parse(time.RFC3339, value)
	if err == nil {
		return timestamp, nil
	}

	fallback, fallbackErr := time.Parse("2006-01-02 15:04:05", value)
	if fallbackErr == nil {
		return fallback.UTC(), nil
	}

	return time.Time{}, fmt.Errorf("parsing created_at: %w", err)
}
