// Package observability records pipeline metrics and the moderation audit
// trail in SQLite.
//
// Metrics are buffered and flushed in batches by a background goroutine.
// A failing flush is logged and the batch dropped: metrics never block
// ingestion.
package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Metric names emitted by the ingestion pipeline.
const (
	MetricRecordsEnqueued  = "ingest_records_enqueued"
	MetricRecordsDuplicate = "ingest_records_duplicate"
	MetricMessagesEnqueued = "ingest_messages_enqueued"
	MetricSourceFailures   = "ingest_source_failures"
	MetricCycleDurationMs  = "ingest_cycle_duration_ms"
)

// Metric is a single timeseries datapoint.
type Metric struct {
	Name      string
	Timestamp time.Time
	Value     float64
	Labels    map[string]string
	Unit      string // "count", "milliseconds"
}

// MetricsManager buffers metrics and flushes them to SQLite in batches.
type MetricsManager struct {
	db            *sql.DB
	logger        *slog.Logger
	bufferSize    int
	flushInterval time.Duration

	mu     sync.Mutex
	buffer []*Metric

	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// MetricsOption configures a MetricsManager.
type MetricsOption func(*MetricsManager)

// WithMetricsLogger sets the logger used for flush errors.
func WithMetricsLogger(l *slog.Logger) MetricsOption {
	return func(mm *MetricsManager) { mm.logger = l }
}

// WithBuffer sets the buffer size (default 100) and flush interval
// (default 5s).
func WithBuffer(size int, interval time.Duration) MetricsOption {
	return func(mm *MetricsManager) {
		if size > 0 {
			mm.bufferSize = size
		}
		if interval > 0 {
			mm.flushInterval = interval
		}
	}
}

// NewMetricsManager starts a manager flushing to db. Close must be called.
func NewMetricsManager(db *sql.DB, opts ...MetricsOption) *MetricsManager {
	mm := &MetricsManager{
		db:            db,
		logger:        slog.Default(),
		bufferSize:    100,
		flushInterval: 5 * time.Second,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, o := range opts {
		o(mm)
	}
	mm.buffer = make([]*Metric, 0, mm.bufferSize)
	go mm.flushLoop()
	return mm
}

// Record queues a metric. Non-blocking except when the buffer is full.
func (mm *MetricsManager) Record(m *Metric) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.buffer = append(mm.buffer, m)
	if len(mm.buffer) >= mm.bufferSize {
		mm.flushLocked()
	}
}

// Count records a counter increment with optional label pairs
// ("source_type", "web", ...). A trailing odd key is ignored.
func (mm *MetricsManager) Count(name string, n int, kv ...string) {
	mm.Record(&Metric{Name: name, Value: float64(n), Labels: pairs(kv), Unit: "count"})
}

// Duration records a duration in milliseconds.
func (mm *MetricsManager) Duration(name string, d time.Duration, kv ...string) {
	mm.Record(&Metric{Name: name, Value: float64(d.Milliseconds()), Labels: pairs(kv), Unit: "milliseconds"})
}

func pairs(kv []string) map[string]string {
	if len(kv) < 2 {
		return nil
	}
	m := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i]] = kv[i+1]
	}
	return m
}

// Query returns metrics filtered by name (empty means all) and time range
// (nil means unbounded), newest first.
func (mm *MetricsManager) Query(ctx context.Context, name string, since, until *time.Time, limit int) ([]*Metric, error) {
	q := "SELECT metric_name, timestamp, value, labels, unit FROM metrics_timeseries WHERE 1=1"
	var args []any
	if name != "" {
		q += " AND metric_name = ?"
		args = append(args, name)
	}
	if since != nil {
		q += " AND timestamp >= ?"
		args = append(args, since.Unix())
	}
	if until != nil {
		q += " AND timestamp <= ?"
		args = append(args, until.Unix())
	}
	q += " ORDER BY timestamp DESC"
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := mm.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}
	defer rows.Close()

	var out []*Metric
	for rows.Next() {
		var (
			m      Metric
			ts     int64
			labels sql.NullString
			unit   sql.NullString
		)
		if err := rows.Scan(&m.Name, &ts, &m.Value, &labels, &unit); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		m.Timestamp = time.Unix(ts, 0)
		m.Unit = unit.String
		if labels.Valid {
			_ = json.Unmarshal([]byte(labels.String), &m.Labels)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// Sum returns the sum of all values recorded under name since t.
func (mm *MetricsManager) Sum(ctx context.Context, name string, since time.Time) (float64, error) {
	var total sql.NullFloat64
	err := mm.db.QueryRowContext(ctx,
		`SELECT SUM(value) FROM metrics_timeseries WHERE metric_name = ? AND timestamp >= ?`,
		name, since.Unix()).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum metric %s: %w", name, err)
	}
	return total.Float64, nil
}

// Cleanup deletes metrics older than retention and returns the count removed.
func (mm *MetricsManager) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	threshold := time.Now().Add(-retention).Unix()
	res, err := mm.db.ExecContext(ctx, "DELETE FROM metrics_timeseries WHERE timestamp < ?", threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup metrics: %w", err)
	}
	return res.RowsAffected()
}

// Flush writes buffered metrics now.
func (mm *MetricsManager) Flush() {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.flushLocked()
}

// Close flushes remaining metrics and stops the background goroutine.
// Safe to call more than once.
func (mm *MetricsManager) Close() error {
	mm.closeOnce.Do(func() {
		close(mm.stop)
		<-mm.done
	})
	return nil
}

func (mm *MetricsManager) flushLoop() {
	defer close(mm.done)
	ticker := time.NewTicker(mm.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-mm.stop:
			mm.Flush()
			return
		case <-ticker.C:
			mm.Flush()
		}
	}
}

func (mm *MetricsManager) flushLocked() {
	if len(mm.buffer) == 0 {
		return
	}
	defer func() { mm.buffer = mm.buffer[:0] }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := mm.db.BeginTx(ctx, nil)
	if err != nil {
		mm.logger.Error("metrics: begin tx", "error", err, "dropped", len(mm.buffer))
		return
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO metrics_timeseries (metric_name, timestamp, value, labels, unit) VALUES (?,?,?,?,?)`)
	if err != nil {
		tx.Rollback()
		mm.logger.Error("metrics: prepare", "error", err)
		return
	}
	defer stmt.Close()

	for _, m := range mm.buffer {
		var labels sql.NullString
		if len(m.Labels) > 0 {
			if b, err := json.Marshal(m.Labels); err == nil {
				labels = sql.NullString{String: string(b), Valid: true}
			}
		}
		if _, err := stmt.ExecContext(ctx, m.Name, m.Timestamp.Unix(), m.Value, labels, m.Unit); err != nil {
			mm.logger.Error("metrics: insert", "error", err, "metric", m.Name)
		}
	}
	if err := tx.Commit(); err != nil {
		mm.logger.Error("metrics: commit", "error", err)
	}
}
