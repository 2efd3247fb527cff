package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hazyhaar/casting/idgen"
)

// AuditEntry records one operator action (moderation decision, source
// change, manual run).
type AuditEntry struct {
	EntryID      string    `json:"entry_id"`
	Timestamp    time.Time `json:"timestamp"`
	Actor        string    `json:"actor"`
	Operation    string    `json:"operation"` // e.g. "candidate.moderate", "source.add"
	EntityID     string    `json:"entity_id"`
	Parameters   string    `json:"parameters"` // JSON
	Status       string    `json:"status"`     // "success" or "error"
	ErrorMessage string    `json:"error_message,omitempty"`
}

// AuditLogger writes audit entries synchronously. Operator actions are rare
// and must not be lost on shutdown.
type AuditLogger struct {
	db    *sql.DB
	newID idgen.Generator
	now   func() time.Time
}

// AuditOption configures an AuditLogger.
type AuditOption func(*AuditLogger)

// WithAuditIDGenerator sets the entry ID generator.
func WithAuditIDGenerator(gen idgen.Generator) AuditOption {
	return func(a *AuditLogger) { a.newID = gen }
}

// WithAuditClock overrides time.Now.
func WithAuditClock(fn func() time.Time) AuditOption {
	return func(a *AuditLogger) { a.now = fn }
}

// NewAuditLogger creates an audit logger over db (schema from Init).
func NewAuditLogger(db *sql.DB, opts ...AuditOption) *AuditLogger {
	a := &AuditLogger{
		db:    db,
		newID: idgen.Prefixed("audit_", idgen.Default),
		now:   time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Record builds and persists an entry for operation on entityID. params is
// marshalled to JSON; a non-nil opErr marks the entry as an error.
func (a *AuditLogger) Record(ctx context.Context, actor, operation, entityID string, params any, opErr error) error {
	e := &AuditEntry{
		EntryID:    a.newID(),
		Timestamp:  a.now(),
		Actor:      actor,
		Operation:  operation,
		EntityID:   entityID,
		Parameters: "{}",
		Status:     "success",
	}
	if params != nil {
		if b, err := json.Marshal(params); err == nil {
			e.Parameters = string(b)
		}
	}
	if opErr != nil {
		e.Status = "error"
		e.ErrorMessage = opErr.Error()
	}
	_, err := a.db.ExecContext(ctx, `INSERT INTO audit_log
		(entry_id, timestamp, actor, operation, entity_id, parameters, status, error_message)
		VALUES (?,?,?,?,?,?,?,?)`,
		e.EntryID, e.Timestamp.Unix(), e.Actor, e.Operation, e.EntityID,
		e.Parameters, e.Status, e.ErrorMessage)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// ForEntity returns the entries for entityID, newest first.
func (a *AuditLogger) ForEntity(ctx context.Context, entityID string, limit int) ([]*AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := a.db.QueryContext(ctx, `
		SELECT entry_id, timestamp, actor, operation, entity_id, parameters, status, error_message
		FROM audit_log WHERE entity_id = ? ORDER BY timestamp DESC, rowid DESC LIMIT ?`,
		entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var out []*AuditEntry
	for rows.Next() {
		var e AuditEntry
		var ts int64
		if err := rows.Scan(&e.EntryID, &ts, &e.Actor, &e.Operation, &e.EntityID,
			&e.Parameters, &e.Status, &e.ErrorMessage); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Timestamp = time.Unix(ts, 0)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// Cleanup deletes entries older than retention.
func (a *AuditLogger) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	threshold := a.now().Add(-retention).Unix()
	res, err := a.db.ExecContext(ctx, "DELETE FROM audit_log WHERE timestamp < ?", threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup audit log: %w", err)
	}
	return res.RowsAffected()
}
