package store

import (
	"context"
	"fmt"

	"github.com/hazyhaar/casting/dbopen"
)

// InsertCycleLog records the outcome of one source in one run.
func (s *Store) InsertCycleLog(ctx context.Context, e *CycleLogEntry) error {
	if e.ID == "" {
		e.ID = s.newID()
	}
	if e.StartedAt == 0 {
		e.StartedAt = s.nowMs()
	}
	_, err := dbopen.Exec(ctx, s.DB,
		`INSERT INTO cycle_log (id, run_id, source_id, source_type, status, records,
		duplicates, messages, error_message, duration_ms, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.RunID, e.SourceID, e.SourceType, e.Status, e.Records,
		e.Duplicates, e.Messages, e.ErrorMessage, e.DurationMs, e.StartedAt,
	)
	return err
}

// CycleHistory returns cycle log entries, newest first. An empty sourceID
// returns entries for every source. limit <= 0 defaults to 50.
func (s *Store) CycleHistory(ctx context.Context, sourceID string, limit int) ([]*CycleLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT id, run_id, source_id, source_type, status, records, duplicates,
		messages, error_message, duration_ms, started_at FROM cycle_log`
	args := []any{}
	if sourceID != "" {
		q += ` WHERE source_id = ?`
		args = append(args, sourceID)
	}
	q += ` ORDER BY started_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*CycleLogEntry
	for rows.Next() {
		var e CycleLogEntry
		if err := rows.Scan(&e.ID, &e.RunID, &e.SourceID, &e.SourceType, &e.Status,
			&e.Records, &e.Duplicates, &e.Messages, &e.ErrorMessage, &e.DurationMs,
			&e.StartedAt); err != nil {
			return nil, fmt.Errorf("scan cycle log: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
