package poller

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/hazyhaar/casting/casting/internal/extract"
	"github.com/hazyhaar/casting/casting/internal/pagefetch"
	"github.com/hazyhaar/casting/casting/internal/record"
	"github.com/hazyhaar/casting/casting/internal/store"
	"github.com/hazyhaar/casting/observability"
)

// WebPoller processes web sources.
//
// Watermark policy: the watermark advances after every attempt, including
// fetch and extraction failures. A failing page is retried at the next
// scheduled run, never inline.
type WebPoller struct {
	fetcher   pagefetch.Fetcher
	extractor extract.Extractor
	sink      RecordSink
	registry  Registry
	metrics   Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// WebOption configures a WebPoller.
type WebOption func(*WebPoller)

// WithWebMetrics sets the metrics recorder.
func WithWebMetrics(m Metrics) WebOption {
	return func(p *WebPoller) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithWebClock overrides time.Now.
func WithWebClock(fn func() time.Time) WebOption {
	return func(p *WebPoller) { p.now = fn }
}

// NewWebPoller wires a WebPoller.
func NewWebPoller(f pagefetch.Fetcher, x extract.Extractor, sink RecordSink, reg Registry, logger *slog.Logger, opts ...WebOption) *WebPoller {
	if logger == nil {
		logger = slog.Default()
	}
	p := &WebPoller{
		fetcher:   f,
		extractor: x,
		sink:      sink,
		registry:  reg,
		metrics:   nopMetrics{},
		logger:    logger,
		now:       time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Poll processes one web source. It never returns early without
// persisting the watermark.
func (p *WebPoller) Poll(ctx context.Context, src *store.Source) Result {
	log := p.logger.With("source_id", src.ID, "url", src.Identifier, "poller", "web")
	start := p.now()
	res := Result{SourceID: src.ID, SourceType: record.SourceWeb, Status: store.CycleOK}

	p.process(ctx, src, log, &res)

	if err := p.registry.AdvanceWatermark(ctx, src.ID, p.now()); err != nil {
		log.Error("web: advance watermark", "error", err)
		res.Err = errors.Join(res.Err, err)
	} else {
		res.Advanced = true
	}
	res.Duration = p.now().Sub(start)

	if res.Status != store.CycleOK {
		p.metrics.Count(observability.MetricSourceFailures, 1, "source_type", record.SourceWeb, "status", res.Status)
	}
	p.metrics.Count(observability.MetricRecordsEnqueued, res.Records, "source_type", record.SourceWeb)
	p.metrics.Count(observability.MetricRecordsDuplicate, res.Duplicates, "source_type", record.SourceWeb)
	return res
}

func (p *WebPoller) process(ctx context.Context, src *store.Source, log *slog.Logger, res *Result) {
	page, err := p.fetcher.FetchPage(ctx, src.Identifier)
	if err != nil {
		res.Status = store.CycleFetchError
		res.Err = err
		log.Warn("web: fetch failed", "error", err)
		return
	}
	if strings.TrimSpace(page.Markdown) == "" {
		log.Info("web: page has no main content")
		return
	}

	recs, err := p.extractor.Extract(ctx, page.Markdown)
	if err != nil {
		res.Status = store.CycleExtractError
		res.Err = err
		log.Warn("web: extraction failed", "error", err)
		return
	}

	ingestedAt := p.now().UnixMilli()
	for _, rec := range recs {
		rec.SourceURL = src.Identifier
		rec.SourceName = src.DisplayName
		rec.IngestedAt = ingestedAt

		inserted, err := p.sink.EnqueueRecord(ctx, rec)
		if err != nil {
			res.Status = store.CycleDispatchError
			res.Err = errors.Join(res.Err, err)
			log.Error("web: dispatch failed", "title", rec.Title, "error", err)
			continue
		}
		if inserted {
			res.Records++
		} else {
			res.Duplicates++
		}
	}
	log.Info("web: processed", "extracted", len(recs), "queued", res.Records, "duplicates", res.Duplicates)
}
