// Package poller processes one ingestion source: fetch, extract or filter,
// hand off to dispatch, then persist the watermark according to the source
// type's policy.
package poller

import (
	"context"
	"time"

	"github.com/hazyhaar/casting/casting/internal/record"
)

// Registry persists per-source watermarks.
type Registry interface {
	AdvanceWatermark(ctx context.Context, id string, ts time.Time) error
}

// RecordSink receives extracted records. inserted is false for duplicates.
type RecordSink interface {
	EnqueueRecord(ctx context.Context, rec record.Candidate) (inserted bool, err error)
}

// MessageSink receives chat messages for classification.
type MessageSink interface {
	EnqueueMessage(ctx context.Context, m record.RawMessage) (enqueued bool, err error)
}

// Metrics counts pipeline events. observability.MetricsManager satisfies it.
type Metrics interface {
	Count(name string, n int, kv ...string)
}

// Result is the outcome of polling one source.
type Result struct {
	SourceID   string
	SourceType string
	Status     string // store.Cycle* constant
	Records    int    // records queued for review
	Duplicates int    // records skipped as duplicates
	Messages   int    // chat messages queued for classification
	Advanced   bool   // watermark persisted
	Err        error
	Duration   time.Duration
}

type nopMetrics struct{}

func (nopMetrics) Count(string, int, ...string) {}
