// Package dispatch hands pipeline output to the moderation side: extracted
// records go to the candidates table as pending_review, chat messages go to
// the classification queue.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/casting/casting/internal/fingerprint"
	"github.com/hazyhaar/casting/casting/internal/record"
	"github.com/hazyhaar/casting/casting/internal/store"
	"github.com/hazyhaar/casting/vtq"
)

// Dispatcher writes records and messages. Both paths are idempotent:
// records on their content fingerprint, messages on group + message id.
type Dispatcher struct {
	store  *store.Store
	queue  *vtq.Q
	logger *slog.Logger
}

// New creates a Dispatcher. queue may be nil when only records are dispatched.
func New(s *store.Store, queue *vtq.Q, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{store: s, queue: queue, logger: logger}
}

// EnqueueRecord fingerprints rec and inserts it as pending_review. inserted
// is false when the fingerprint already exists in any moderation state.
func (d *Dispatcher) EnqueueRecord(ctx context.Context, rec record.Candidate) (inserted bool, err error) {
	fp := fingerprint.Record(rec)
	id, inserted, err := d.store.InsertCandidate(ctx, fp, rec)
	if err != nil {
		return false, fmt.Errorf("dispatch: %w", err)
	}
	if !inserted {
		d.logger.Debug("dispatch: duplicate record", "fingerprint", fp, "title", rec.Title)
		return false, nil
	}
	d.logger.Info("dispatch: record queued for review", "candidate_id", id, "title", rec.Title,
		"source", rec.SourceName)
	return true, nil
}

// MessageJobID is the classification job id of a message.
func MessageJobID(m record.RawMessage) string {
	return "msg:" + m.SourceGroupID + ":" + m.MessageID
}

// EnqueueMessage publishes m as a classification job. enqueued is false
// when the same message is already queued.
func (d *Dispatcher) EnqueueMessage(ctx context.Context, m record.RawMessage) (enqueued bool, err error) {
	if d.queue == nil {
		return false, fmt.Errorf("dispatch: no classification queue")
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return false, fmt.Errorf("dispatch: encode message: %w", err)
	}
	enqueued, err = d.queue.PublishOnce(ctx, MessageJobID(m), payload)
	if err != nil {
		return false, fmt.Errorf("dispatch: publish %s: %w", m.MessageID, err)
	}
	return enqueued, nil
}

// DecodeMessage is the inverse of the EnqueueMessage payload encoding.
func DecodeMessage(payload []byte) (record.RawMessage, error) {
	var m record.RawMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return m, fmt.Errorf("dispatch: decode message: %w", err)
	}
	return m, nil
}
