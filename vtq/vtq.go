// Package vtq is a visibility-timeout job queue backed by SQLite.
//
// A claimed job stays invisible for Options.Visibility. The consumer acks
// (deletes) it on success or nacks it, which hides it again for a backoff
// growing with the attempt count; a consumer that dies mid-job lets the
// timeout expire and the job reappears. Delivery is therefore at-least-once,
// and consumers must be idempotent.
//
// A handler error wrapping ErrRetryLater releases the job instead: it comes
// back after Options.Backoff and the claim does not count toward
// MaxAttempts. Handlers return it when the failure lies outside the job,
// such as an upstream service being down.
//
// The ingestion pipeline uses one logical queue, "classify", holding one job
// per chat message awaiting classification.
//
//	CREATE TABLE IF NOT EXISTS vtq_jobs (
//	    id          TEXT PRIMARY KEY,
//	    queue       TEXT NOT NULL DEFAULT '',
//	    payload     BLOB,
//	    visible_at  INTEGER NOT NULL DEFAULT 0,  -- ms since epoch
//	    created_at  INTEGER NOT NULL,             -- ms since epoch
//	    attempts    INTEGER NOT NULL DEFAULT 0
//	);
package vtq

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sort"
	"time"
)

// ErrRetryLater marks a handler failure that says nothing about the job
// itself. Such jobs are released without consuming an attempt.
var ErrRetryLater = errors.New("vtq: retry later")

// Job is a row in the queue.
type Job struct {
	ID        string
	Queue     string
	Payload   []byte
	VisibleAt time.Time
	CreatedAt time.Time
	Attempts  int

	seq int64
}

// Options configures queue behaviour.
type Options struct {
	// Queue is the logical queue name. Several queues share the table.
	Queue string
	// Visibility is how long a claimed job stays invisible. Default: 30s.
	Visibility time.Duration
	// PollInterval is the delay between claim rounds in Run. Default: 1s.
	PollInterval time.Duration
	// Backoff is the base delay before a failed job is visible again. A
	// nacked job waits Backoff times its attempt count, capped at
	// MaxBackoff; a released job waits Backoff. Default: Visibility.
	Backoff time.Duration
	// MaxBackoff caps the nack delay. Default: 1h.
	MaxBackoff time.Duration
	// MaxAttempts discards a job once it has been delivered more than this
	// many times. 0 means unlimited.
	MaxAttempts int
	Logger      *slog.Logger
}

func (o *Options) defaults() {
	if o.Visibility <= 0 {
		o.Visibility = 30 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.Backoff <= 0 {
		o.Backoff = o.Visibility
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = time.Hour
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Q is the queue handle.
type Q struct {
	db   *sql.DB
	opts Options
}

// New creates a queue handle. Call EnsureTable once at startup.
func New(db *sql.DB, opts Options) *Q {
	opts.defaults()
	return &Q{db: db, opts: opts}
}

// Name returns the logical queue name.
func (q *Q) Name() string { return q.opts.Queue }

// EnsureTable creates the vtq_jobs table and index if missing.
func (q *Q) EnsureTable(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS vtq_jobs (
			id          TEXT PRIMARY KEY,
			queue       TEXT NOT NULL DEFAULT '',
			payload     BLOB,
			visible_at  INTEGER NOT NULL DEFAULT 0,
			created_at  INTEGER NOT NULL,
			attempts    INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_vtq_visible ON vtq_jobs (queue, visible_at);
	`)
	return err
}

// PublishOnce inserts a job unless one with the same id is still queued.
// It reports whether a new row was written.
func (q *Q) PublishOnce(ctx context.Context, id string, payload []byte) (bool, error) {
	now := time.Now().UnixMilli()
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO vtq_jobs (id, queue, payload, visible_at, created_at) VALUES (?,?,?,?,?)
		ON CONFLICT(id) DO NOTHING`,
		id, q.opts.Queue, payload, now, now,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Ack deletes a processed job.
func (q *Q) Ack(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx,
		`DELETE FROM vtq_jobs WHERE id = ? AND queue = ?`, id, q.opts.Queue,
	)
	return err
}

// Nack makes a job visible again after delay. The attempt stays counted.
func (q *Q) Nack(ctx context.Context, id string, delay time.Duration) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE vtq_jobs SET visible_at = ? WHERE id = ? AND queue = ?`,
		time.Now().Add(delay).UnixMilli(), id, q.opts.Queue,
	)
	return err
}

// Release makes a job visible again after delay and gives back the attempt
// its claim consumed.
func (q *Q) Release(ctx context.Context, id string, delay time.Duration) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE vtq_jobs SET visible_at = ?, attempts = MAX(attempts - 1, 0)
		WHERE id = ? AND queue = ?`,
		time.Now().Add(delay).UnixMilli(), id, q.opts.Queue,
	)
	return err
}

// backoff is the nack delay after the given number of attempts.
func (q *Q) backoff(attempts int) time.Duration {
	d := q.opts.Backoff * time.Duration(max(attempts, 1))
	return min(d, q.opts.MaxBackoff)
}

// Len returns the number of jobs (visible and invisible) in the queue.
func (q *Q) Len(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM vtq_jobs WHERE queue = ?`, q.opts.Queue,
	).Scan(&n)
	return n, err
}

// Handler processes a claimed job. nil acks, an error wrapping
// ErrRetryLater releases, any other error nacks.
type Handler func(ctx context.Context, job *Job) error

// Run claims and handles jobs every PollInterval until ctx is cancelled.
func (q *Q) Run(ctx context.Context, handler Handler) {
	log := q.opts.Logger
	log.Info("vtq: consumer started", "queue", q.opts.Queue, "visibility", q.opts.Visibility, "poll", q.opts.PollInterval)

	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("vtq: consumer stopped", "queue", q.opts.Queue)
			return
		case <-ticker.C:
			q.Drain(ctx, handler)
		}
	}
}

// BatchClaim claims up to n visible jobs at once. It returns an empty,
// non-nil slice when nothing is visible.
func (q *Q) BatchClaim(ctx context.Context, n int) ([]*Job, error) {
	now := time.Now()
	hideUntil := now.Add(q.opts.Visibility).UnixMilli()

	rows, err := q.db.QueryContext(ctx, `
		UPDATE vtq_jobs
		SET visible_at = ?, attempts = attempts + 1
		WHERE id IN (
			SELECT id FROM vtq_jobs
			WHERE queue = ? AND visible_at <= ?
			ORDER BY visible_at ASC, created_at ASC
			LIMIT ?
		)
		RETURNING rowid, id, queue, payload, visible_at, created_at, attempts`,
		hideUntil, q.opts.Queue, now.UnixMilli(), n,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := []*Job{}
	for rows.Next() {
		var j Job
		var visAt, creAt int64
		if err := rows.Scan(&j.seq, &j.ID, &j.Queue, &j.Payload, &visAt, &creAt, &j.Attempts); err != nil {
			return nil, err
		}
		j.VisibleAt = time.UnixMilli(visAt)
		j.CreatedAt = time.UnixMilli(creAt)
		jobs = append(jobs, &j)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// RETURNING order is unspecified; restore insertion order.
	sort.Slice(jobs, func(a, b int) bool { return jobs[a].seq < jobs[b].seq })
	return jobs, nil
}

const drainBatch = 100

// Drain claims the currently visible jobs in batches, handles them in claim
// order, and returns the number handled successfully. It stops after the
// first batch containing a failure.
func (q *Q) Drain(ctx context.Context, handler Handler) int {
	log := q.opts.Logger
	ok := 0
	for ctx.Err() == nil {
		jobs, err := q.BatchClaim(ctx, drainBatch)
		if err != nil {
			log.Warn("vtq: claim failed", "error", err, "queue", q.opts.Queue)
			return ok
		}
		if len(jobs) == 0 {
			return ok
		}

		failed := false
		for _, job := range jobs {
			if q.opts.MaxAttempts > 0 && job.Attempts > q.opts.MaxAttempts {
				log.Warn("vtq: job exceeded max attempts, discarding",
					"id", job.ID, "attempts", job.Attempts, "queue", q.opts.Queue)
				_ = q.Ack(ctx, job.ID)
				continue
			}
			if err := handler(ctx, job); err != nil {
				if errors.Is(err, ErrRetryLater) {
					log.Warn("vtq: handler deferred job", "id", job.ID, "error", err,
						"retry_in", q.opts.Backoff, "queue", q.opts.Queue)
					_ = q.Release(ctx, job.ID, q.opts.Backoff)
				} else {
					delay := q.backoff(job.Attempts)
					log.Warn("vtq: handler failed, nacking", "id", job.ID, "error", err,
						"attempt", job.Attempts, "retry_in", delay, "queue", q.opts.Queue)
					_ = q.Nack(ctx, job.ID, delay)
				}
				failed = true
				continue
			}
			_ = q.Ack(ctx, job.ID)
			ok++
		}
		if failed || len(jobs) < drainBatch {
			return ok
		}
	}
	return ok
}
