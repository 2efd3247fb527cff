// Package store is the SQLite data access layer for the ingestion pipeline:
// the source registry, the moderation queue (candidates) and the cycle log.
package store

import (
	"database/sql"
	"time"

	"github.com/hazyhaar/casting/idgen"
)

// Store wraps the pipeline database.
type Store struct {
	DB    *sql.DB
	newID idgen.Generator
	now   func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator sets the ID generator for new rows.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(s *Store) { s.newID = gen }
}

// WithClock overrides time.Now.
func WithClock(fn func() time.Time) Option {
	return func(s *Store) { s.now = fn }
}

// NewStore creates a Store over an opened database. Call ApplySchema first.
func NewStore(db *sql.DB, opts ...Option) *Store {
	s := &Store{DB: db, newID: idgen.Default, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) nowMs() int64 { return s.now().UnixMilli() }
