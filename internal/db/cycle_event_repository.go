package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/unklstewy/skyplot/internal/ingest"
)

// CycleEventRecord is one stored cycle event.
type CycleEventRecord struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id"`
	Cycle      uint64    `json:"cycle"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
	Outcome    string    `json:"outcome"`
	Rows       int       `json:"rows"`
	StatusCode int       `json:"status_code,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// CycleEventRepository handles database operations for cycle events.
// It satisfies ingest.Recorder.
type CycleEventRepository struct {
	db *DB
}

// NewCycleEventRepository creates a new cycle event repository.
func NewCycleEventRepository(db *DB) *CycleEventRepository {
	return &CycleEventRepository{db: db}
}

// Record inserts one cycle event.
func (r *CycleEventRepository) Record(ctx context.Context, ev ingest.CycleEvent) error {
	var errText sql.NullString
	if ev.Err != nil {
		errText = sql.NullString{String: ev.Err.Error(), Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		r.db.rebind(`INSERT INTO cycle_events (
			run_id, cycle, started_at_ms, duration_ms, outcome,
			row_count, status_code, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		ev.RunID,
		int64(ev.Cycle),
		ev.StartedAt.UnixMilli(),
		ev.Duration.Milliseconds(),
		string(ev.Outcome),
		ev.Rows,
		ev.StatusCode,
		errText,
	)
	if err != nil {
		return fmt.Errorf("failed to insert cycle event: %w", err)
	}
	return nil
}

// Recent returns the newest events first, at most limit of them.
// An empty outcome matches every outcome.
func (r *CycleEventRepository) Recent(ctx context.Context, outcome string, limit int) ([]CycleEventRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, run_id, cycle, started_at_ms, duration_ms, outcome,
		row_count, status_code, error
		FROM cycle_events`
	args := []any{}
	if outcome != "" {
		query += ` WHERE outcome = ?`
		args = append(args, outcome)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, r.db.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cycle events: %w", err)
	}
	defer rows.Close()

	events := []CycleEventRecord{}
	for rows.Next() {
		var (
			rec       CycleEventRecord
			cycle     int64
			startedMS int64
			errText   sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.RunID, &cycle, &startedMS, &rec.DurationMS,
			&rec.Outcome, &rec.Rows, &rec.StatusCode, &errText); err != nil {
			return nil, fmt.Errorf("failed to scan cycle event: %w", err)
		}
		rec.Cycle = uint64(cycle)
		rec.StartedAt = time.UnixMilli(startedMS).UTC()
		rec.Error = errText.String
		events = append(events, rec)
	}
	return events, rows.Err()
}
