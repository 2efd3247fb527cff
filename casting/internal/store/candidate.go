package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hazyhaar/casting/casting/internal/record"
	"github.com/hazyhaar/casting/dbopen"
)

const candidateColumns = `id, fingerprint, status, title, description, organization,
	location, compensation, requirements, application_deadline, contact_info,
	source_url, source_group, source_name, ingested_at, reviewed_at, review_note`

// InsertCandidate adds rec as pending_review under fingerprint fp.
// A fingerprint already present in any status is not an error: it returns
// inserted=false and leaves the existing row untouched.
func (s *Store) InsertCandidate(ctx context.Context, fp string, rec record.Candidate) (id string, inserted bool, err error) {
	id = s.newID()
	if rec.IngestedAt == 0 {
		rec.IngestedAt = s.nowMs()
	}
	res, err := dbopen.Exec(ctx, s.DB,
		`INSERT INTO candidates (id, fingerprint, status, title, description, organization,
		location, compensation, requirements, application_deadline, contact_info,
		source_url, source_group, source_name, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO NOTHING`,
		id, fp, record.StatusPending, rec.Title, rec.Description, rec.Organization,
		rec.Location, rec.Compensation, rec.Requirements, rec.ApplicationDeadline, rec.ContactInfo,
		rec.SourceURL, rec.SourceGroup, rec.SourceName, rec.IngestedAt,
	)
	if err != nil {
		return "", false, fmt.Errorf("insert candidate: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", false, err
	}
	if n == 0 {
		return "", false, nil
	}
	return id, true, nil
}

// HasFingerprint reports whether fp exists in any status.
func (s *Store) HasFingerprint(ctx context.Context, fp string) (bool, error) {
	var n int
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM candidates WHERE fingerprint = ?`, fp).Scan(&n)
	return n > 0, err
}

// GetCandidate returns the candidate with id, or nil if none.
func (s *Store) GetCandidate(ctx context.Context, id string) (*Candidate, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+candidateColumns+` FROM candidates WHERE id = ?`, id)
	c, err := scanCandidate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

// ListCandidates returns candidates in status (empty means all), newest
// first. limit <= 0 defaults to 50.
func (s *Store) ListCandidates(ctx context.Context, status string, limit int) ([]*Candidate, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT ` + candidateColumns + ` FROM candidates`
	args := []any{}
	if status != "" {
		q += ` WHERE status = ?`
		args = append(args, status)
	}
	q += ` ORDER BY ingested_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CountCandidates returns the number of candidates in status (empty means all).
func (s *Store) CountCandidates(ctx context.Context, status string) (int, error) {
	var n int
	var err error
	if status == "" {
		err = s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM candidates`).Scan(&n)
	} else {
		err = s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM candidates WHERE status = ?`, status).Scan(&n)
	}
	return n, err
}

// Review moves a pending_review candidate to status in one transaction and
// returns the candidate as stored afterwards. changed is false when the
// candidate was already reviewed; c is nil when id does not exist.
func (s *Store) Review(ctx context.Context, id, status, note string) (c *Candidate, changed bool, err error) {
	err = dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		c, changed = nil, false
		cur, err := scanCandidate(tx.QueryRowContext(ctx,
			`SELECT `+candidateColumns+` FROM candidates WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		c = cur
		if cur.Status != record.StatusPending {
			return nil
		}
		now := s.nowMs()
		if _, err := tx.ExecContext(ctx,
			`UPDATE candidates SET status = ?, reviewed_at = ?, review_note = ? WHERE id = ?`,
			status, now, note, id); err != nil {
			return err
		}
		c.Status, c.ReviewedAt, c.ReviewNote = status, &now, note
		changed = true
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("review candidate %s: %w", id, err)
	}
	return c, changed, nil
}

func scanCandidate(row scanner) (*Candidate, error) {
	var c Candidate
	err := row.Scan(&c.ID, &c.Fingerprint, &c.Status, &c.Title, &c.Description, &c.Organization,
		&c.Location, &c.Compensation, &c.Requirements, &c.ApplicationDeadline, &c.ContactInfo,
		&c.SourceURL, &c.SourceGroup, &c.SourceName, &c.IngestedAt, &c.ReviewedAt, &c.ReviewNote)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan candidate: %w", err)
	}
	return &c, nil
}
