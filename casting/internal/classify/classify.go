// Package classify consumes the chat classification queue: each job is one
// chat message, run through extraction and dispatched like a web record.
package classify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/hazyhaar/casting/casting/internal/dispatch"
	"github.com/hazyhaar/casting/casting/internal/extract"
	"github.com/hazyhaar/casting/casting/internal/record"
	"github.com/hazyhaar/casting/connectivity"
	"github.com/hazyhaar/casting/observability"
	"github.com/hazyhaar/casting/vtq"
)

// RecordSink receives extracted records.
type RecordSink interface {
	EnqueueRecord(ctx context.Context, rec record.Candidate) (inserted bool, err error)
}

// Metrics counts classification outcomes.
type Metrics interface {
	Count(name string, n int, kv ...string)
}

// Worker classifies queued chat messages.
type Worker struct {
	queue     *vtq.Q
	extractor extract.Extractor
	sink      RecordSink
	metrics   Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Worker. metrics may be nil.
func New(q *vtq.Q, x extract.Extractor, sink RecordSink, metrics Metrics, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{queue: q, extractor: x, sink: sink, metrics: metrics, logger: logger, now: time.Now}
}

// Handle processes one job. Undecodable payloads are dropped (acked).
// Extraction failures caused by the upstream being unavailable release the
// job without consuming an attempt; other extraction and dispatch failures
// nack it, so it is retried until the queue's MaxAttempts.
func (w *Worker) Handle(ctx context.Context, job *vtq.Job) error {
	m, err := dispatch.DecodeMessage(job.Payload)
	if err != nil {
		w.logger.Error("classify: dropping undecodable job", "job_id", job.ID, "error", err)
		return nil
	}
	log := w.logger.With("job_id", job.ID, "group", m.SourceGroupID, "message_id", m.MessageID)

	recs, err := w.extractor.Extract(ctx, m.Text)
	if err != nil {
		if upstreamUnavailable(err) {
			log.Warn("classify: extraction unavailable, deferring", "attempt", job.Attempts, "error", err)
			return fmt.Errorf("classify %s: %w: %w", job.ID, vtq.ErrRetryLater, err)
		}
		log.Warn("classify: extraction failed", "attempt", job.Attempts, "error", err)
		return fmt.Errorf("classify %s: %w", job.ID, err)
	}
	if len(recs) == 0 {
		log.Debug("classify: not a casting call")
		return nil
	}

	queued, dups := 0, 0
	for _, rec := range recs {
		rec.SourceGroup = m.SourceGroupID
		rec.SourceName = m.SourceName
		rec.IngestedAt = w.now().UnixMilli()
		inserted, err := w.sink.EnqueueRecord(ctx, rec)
		if err != nil {
			return fmt.Errorf("classify %s: %w", job.ID, err)
		}
		if inserted {
			queued++
		} else {
			dups++
		}
	}
	if w.metrics != nil {
		w.metrics.Count(observability.MetricRecordsEnqueued, queued, "source_type", record.SourceChat)
		w.metrics.Count(observability.MetricRecordsDuplicate, dups, "source_type", record.SourceChat)
	}
	log.Info("classify: done", "records", len(recs), "queued", queued, "duplicates", dups)
	return nil
}

// upstreamUnavailable reports whether err says the extraction service could
// not be reached or refused to serve, rather than rejecting the message.
func upstreamUnavailable(err error) bool {
	var open *connectivity.ErrCircuitOpen
	var timeout *connectivity.ErrCallTimeout
	var status *connectivity.StatusError
	var netErr net.Error
	switch {
	case errors.As(err, &open), errors.As(err, &timeout), errors.As(err, &netErr):
		return true
	case errors.As(err, &status):
		return status.StatusCode == http.StatusTooManyRequests || status.StatusCode >= 500
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

// Drain handles every currently visible job once and returns the number
// handled successfully.
func (w *Worker) Drain(ctx context.Context) int {
	return w.queue.Drain(ctx, w.Handle)
}

// Run consumes the queue until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.queue.Run(ctx, w.Handle)
}
