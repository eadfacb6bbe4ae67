package signal

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// openHistoryDB creates an in-memory database with the history schema.
func openHistoryDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	schema := `
	CREATE TABLE phase_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		phase TEXT NOT NULL,
		lane_group TEXT NOT NULL DEFAULT '',
		duration_seconds REAL NOT NULL,
		source TEXT NOT NULL DEFAULT 'cycle',
		north_south_count INTEGER NOT NULL DEFAULT 0,
		east_west_count INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
	);
	CREATE TABLE evp_audit (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id TEXT NOT NULL DEFAULT '',
		event TEXT NOT NULL,
		lane TEXT NOT NULL,
		lane_group TEXT NOT NULL DEFAULT '',
		eta_seconds REAL NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
	);`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("creating schema: %v", err)
	}

	return db
}

func TestSQLiteHistory_RecordAndListPhases(t *testing.T) {
	repo := NewSQLiteHistoryRepository(openHistoryDB(t))
	ctx := context.Background()

	records := []PhaseRecord{
		{Phase: "NorthSouth_Green", Group: "NorthSouth", DurationSeconds: 24, Source: PhaseSourceCycle, NorthSouthCount: 7},
		{Phase: "NorthSouth_Yellow", Group: "NorthSouth", DurationSeconds: 4, Source: PhaseSourceCycle},
		{Phase: "All_Red", DurationSeconds: 2, Source: PhaseSourceResume},
	}
	for _, rec := range records {
		if err := repo.RecordPhase(ctx, rec); err != nil {
			t.Fatalf("RecordPhase(%s) error = %v", rec.Phase, err)
		}
	}

	listed, err := repo.ListPhases(ctx, 10)
	if err != nil {
		t.Fatalf("ListPhases() error = %v", err)
	}
	if len(listed) != 3 {
		t.Fatalf("ListPhases() returned %d records, want 3", len(listed))
	}

	// Newest first.
	if listed[0].Phase != "All_Red" || listed[0].Source != PhaseSourceResume {
		t.Errorf("newest record = %+v, want the All_Red resume entry", listed[0])
	}
	if listed[2].Phase != "NorthSouth_Green" || listed[2].NorthSouthCount != 7 {
		t.Errorf("oldest record = %+v, want the green entry with count 7", listed[2])
	}
	if listed[0].CreatedAt.IsZero() {
		t.Error("created_at not populated")
	}
}

func TestSQLiteHistory_RecordPhase_Validation(t *testing.T) {
	repo := NewSQLiteHistoryRepository(openHistoryDB(t))

	if err := repo.RecordPhase(context.Background(), PhaseRecord{}); err == nil {
		t.Error("RecordPhase() without phase should fail")
	}
}

func TestSQLiteHistory_RecordAndListEvpEvents(t *testing.T) {
	repo := NewSQLiteHistoryRepository(openHistoryDB(t))
	ctx := context.Background()

	events := []EvpRecord{
		{RequestID: "r1", Event: EvpEventStarted, Lane: "East", Group: "EastWest", EtaSeconds: 30},
		{RequestID: "r1", Event: EvpEventCleared, Lane: "East", Group: "EastWest", EtaSeconds: 30},
	}
	for _, rec := range events {
		if err := repo.RecordEvpEvent(ctx, rec); err != nil {
			t.Fatalf("RecordEvpEvent(%s) error = %v", rec.Event, err)
		}
	}

	listed, err := repo.ListEvpEvents(ctx, 10)
	if err != nil {
		t.Fatalf("ListEvpEvents() error = %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("ListEvpEvents() returned %d records, want 2", len(listed))
	}
	if listed[0].Event != EvpEventCleared || listed[1].Event != EvpEventStarted {
		t.Errorf("events out of order: %+v", listed)
	}
	if listed[0].EtaSeconds != 30 {
		t.Errorf("eta = %.1f, want 30", listed[0].EtaSeconds)
	}
}

func TestSQLiteHistory_RecordEvpEvent_Validation(t *testing.T) {
	repo := NewSQLiteHistoryRepository(openHistoryDB(t))
	ctx := context.Background()

	if err := repo.RecordEvpEvent(ctx, EvpRecord{Lane: "East"}); err == nil {
		t.Error("RecordEvpEvent() without event should fail")
	}
	if err := repo.RecordEvpEvent(ctx, EvpRecord{Event: EvpEventStarted}); err == nil {
		t.Error("RecordEvpEvent() without lane should fail")
	}
}

func TestSQLiteHistory_LimitClamping(t *testing.T) {
	repo := NewSQLiteHistoryRepository(openHistoryDB(t))
	ctx := context.Background()

	for i := 0; i < 60; i++ {
		if err := repo.RecordPhase(ctx, PhaseRecord{Phase: "All_Red", DurationSeconds: 2}); err != nil {
			t.Fatalf("RecordPhase() error = %v", err)
		}
	}

	listed, err := repo.ListPhases(ctx, 0)
	if err != nil {
		t.Fatalf("ListPhases(0) error = %v", err)
	}
	if len(listed) != defaultHistoryLimit {
		t.Errorf("default limit returned %d records, want %d", len(listed), defaultHistoryLimit)
	}

	listed, err = repo.ListPhases(ctx, 10000)
	if err != nil {
		t.Fatalf("ListPhases(10000) error = %v", err)
	}
	if len(listed) > maxHistoryLimit {
		t.Errorf("oversized limit returned %d records, cap is %d", len(listed), maxHistoryLimit)
	}
}

func TestSQLiteHistory_Prune(t *testing.T) {
	db := openHistoryDB(t)
	repo := NewSQLiteHistoryRepository(db)
	ctx := context.Background()

	// One old entry per table, plus one fresh phase entry.
	old := time.Now().UTC().Add(-48 * time.Hour).Format(time.RFC3339)
	if _, err := db.Exec(
		"INSERT INTO phase_history (phase, duration_seconds, created_at) VALUES ('All_Red', 2, ?)", old,
	); err != nil {
		t.Fatalf("inserting old phase row: %v", err)
	}
	if _, err := db.Exec(
		"INSERT INTO evp_audit (event, lane, created_at) VALUES ('expired', 'North', ?)", old,
	); err != nil {
		t.Fatalf("inserting old evp row: %v", err)
	}
	if err := repo.RecordPhase(ctx, PhaseRecord{Phase: "NorthSouth_Green", DurationSeconds: 12}); err != nil {
		t.Fatalf("RecordPhase() error = %v", err)
	}

	pruned, err := repo.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if pruned != 2 {
		t.Errorf("Prune() removed %d rows, want 2", pruned)
	}

	remaining, err := repo.ListPhases(ctx, 10)
	if err != nil {
		t.Fatalf("ListPhases() error = %v", err)
	}
	if len(remaining) != 1 || remaining[0].Phase != "NorthSouth_Green" {
		t.Errorf("remaining = %+v, want only the fresh entry", remaining)
	}

	if _, err := repo.Prune(ctx, 0); err == nil {
		t.Error("Prune(0) should fail")
	}
}
