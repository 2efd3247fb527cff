package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/casting/dbopen"
)

// ErrDuplicate is returned by InsertSource when (source_type, source_key)
// is already registered.
var ErrDuplicate = errors.New("store: duplicate source")

const sourceColumns = `id, source_type, source_identifier, source_key, display_name, is_active,
	last_processed_at, created_at, updated_at`

// InsertSource adds a source. ID, timestamps and Key (from Identifier) are
// filled when empty.
func (s *Store) InsertSource(ctx context.Context, src *Source) error {
	now := s.nowMs()
	if src.ID == "" {
		src.ID = s.newID()
	}
	if src.CreatedAt == 0 {
		src.CreatedAt = now
	}
	src.UpdatedAt = now
	if src.Key == "" {
		src.Key = src.Identifier
	}

	_, err := dbopen.Exec(ctx, s.DB,
		`INSERT INTO sources (`+sourceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		src.ID, src.SourceType, src.Identifier, src.Key, src.DisplayName, src.Active,
		src.LastProcessedAt, src.CreatedAt, src.UpdatedAt,
	)
	if dbopen.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %s %s", ErrDuplicate, src.SourceType, src.Identifier)
	}
	return err
}

// GetSource returns the source with id, or nil if none.
func (s *Store) GetSource(ctx context.Context, id string) (*Source, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE id = ?`, id)
	src, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return src, err
}

// ListSources returns every source, oldest first.
func (s *Store) ListSources(ctx context.Context) ([]*Source, error) {
	return s.querySources(ctx,
		`SELECT `+sourceColumns+` FROM sources ORDER BY created_at, id`)
}

// ListActiveSources returns the active sources of sourceType, least
// recently processed first. An empty sourceType returns every type.
func (s *Store) ListActiveSources(ctx context.Context, sourceType string) ([]*Source, error) {
	if sourceType == "" {
		return s.querySources(ctx,
			`SELECT `+sourceColumns+` FROM sources WHERE is_active = 1
			ORDER BY last_processed_at ASC NULLS FIRST, created_at, id`)
	}
	return s.querySources(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE is_active = 1 AND source_type = ?
		ORDER BY last_processed_at ASC NULLS FIRST, created_at, id`, sourceType)
}

// SetActive toggles is_active. Returns false if no source has id.
func (s *Store) SetActive(ctx context.Context, id string, active bool) (bool, error) {
	res, err := dbopen.Exec(ctx, s.DB,
		`UPDATE sources SET is_active = ?, updated_at = ? WHERE id = ?`,
		active, s.nowMs(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// AdvanceWatermark sets last_processed_at to ts unless the stored value is
// already at or past ts. The watermark never moves backwards.
func (s *Store) AdvanceWatermark(ctx context.Context, id string, ts time.Time) error {
	_, err := dbopen.Exec(ctx, s.DB,
		`UPDATE sources SET last_processed_at = ?, updated_at = ?
		WHERE id = ? AND (last_processed_at IS NULL OR last_processed_at < ?)`,
		ts.UnixMilli(), s.nowMs(), id, ts.UnixMilli())
	if err != nil {
		return fmt.Errorf("advance watermark %s: %w", id, err)
	}
	return nil
}

func (s *Store) querySources(ctx context.Context, query string, args ...any) ([]*Source, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSource(row scanner) (*Source, error) {
	var src Source
	var active int
	err := row.Scan(&src.ID, &src.SourceType, &src.Identifier, &src.Key, &src.DisplayName, &active,
		&src.LastProcessedAt, &src.CreatedAt, &src.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan source: %w", err)
	}
	src.Active = active != 0
	return &src, nil
}
