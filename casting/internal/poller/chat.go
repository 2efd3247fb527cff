package poller

import (
	"context"
	"log/slog"
	"time"

	"github.com/hazyhaar/casting/casting/internal/chat"
	"github.com/hazyhaar/casting/casting/internal/record"
	"github.com/hazyhaar/casting/casting/internal/store"
	"github.com/hazyhaar/casting/observability"
)

// ChatConfig bounds history reads per group.
type ChatConfig struct {
	PageSize int // messages per request. Default: 100.
	MaxPages int // requests per group per run. Default: 5.
}

func (c *ChatConfig) defaults() {
	if c.PageSize <= 0 {
		c.PageSize = 100
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 5
	}
}

// ChatPoller processes chat group sources.
//
// Watermark policy: the watermark moves to the newest fetched message
// timestamp, and only when every page was read and every surviving message
// was queued. An API failure leaves it untouched so the next run re-reads
// the same window. When MaxPages was reached with more history left, the
// watermark stops one second short of the newest message: unread messages
// sharing that second are re-read next run, and the job id dedup absorbs
// the replayed ones.
type ChatPoller struct {
	history  chat.History
	sink     MessageSink
	registry Registry
	cfg      ChatConfig
	metrics  Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// ChatOption configures a ChatPoller.
type ChatOption func(*ChatPoller)

// WithChatMetrics sets the metrics recorder.
func WithChatMetrics(m Metrics) ChatOption {
	return func(p *ChatPoller) {
		if m != nil {
			p.metrics = m
		}
	}
}

// NewChatPoller wires a ChatPoller.
func NewChatPoller(h chat.History, sink MessageSink, reg Registry, cfg ChatConfig, logger *slog.Logger, opts ...ChatOption) *ChatPoller {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	p := &ChatPoller{
		history:  h,
		sink:     sink,
		registry: reg,
		cfg:      cfg,
		metrics:  nopMetrics{},
		logger:   logger,
		now:      time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Poll processes one chat group.
func (p *ChatPoller) Poll(ctx context.Context, src *store.Source) (res Result) {
	log := p.logger.With("source_id", src.ID, "group", src.Identifier, "poller", "chat")
	start := p.now()
	res = Result{SourceID: src.ID, SourceType: record.SourceChat, Status: store.CycleOK}
	defer func() {
		res.Duration = p.now().Sub(start)
	}()

	var since int64
	if src.LastProcessedAt != nil {
		since = *src.LastProcessedAt / 1000
	}

	msgs, truncated, err := p.fetch(ctx, src.Identifier, since)
	if err != nil {
		res.Status = store.CycleChatError
		res.Err = err
		log.Warn("chat: history fetch failed", "error", err)
		p.metrics.Count(observability.MetricSourceFailures, 1, "source_type", record.SourceChat, "status", res.Status)
		return res
	}

	var newest int64
	for _, m := range msgs {
		newest = max(newest, m.Timestamp)
	}

	for _, m := range chat.Filter(msgs, src.Identifier, src.DisplayName) {
		enqueued, err := p.sink.EnqueueMessage(ctx, m)
		if err != nil {
			res.Status = store.CycleDispatchError
			res.Err = err
			log.Error("chat: enqueue failed", "message_id", m.MessageID, "error", err)
			p.metrics.Count(observability.MetricSourceFailures, 1, "source_type", record.SourceChat, "status", res.Status)
			p.metrics.Count(observability.MetricMessagesEnqueued, res.Messages, "source_type", record.SourceChat)
			return res
		}
		if enqueued {
			res.Messages++
		}
	}
	p.metrics.Count(observability.MetricMessagesEnqueued, res.Messages, "source_type", record.SourceChat)

	target := newest
	if truncated {
		if newest-1 > since {
			target = newest - 1
		} else {
			log.Warn("chat: page cap reached within one second, later messages of that second are skipped",
				"watermark", newest, "max_pages", p.cfg.MaxPages)
		}
	}
	if target > since {
		if err := p.registry.AdvanceWatermark(ctx, src.ID, time.Unix(target, 0)); err != nil {
			res.Err = err
			log.Error("chat: advance watermark", "error", err)
			return res
		}
		res.Advanced = true
	}
	log.Info("chat: processed", "fetched", len(msgs), "queued", res.Messages, "watermark", target, "truncated", truncated)
	return res
}

// fetch reads up to MaxPages pages and keeps messages strictly newer than
// since, in retrieval order. truncated reports that the last page read was
// full, so history may continue past it. Any page failure fails the whole
// group.
func (p *ChatPoller) fetch(ctx context.Context, group string, since int64) (out []chat.Message, truncated bool, err error) {
	for page := 0; page < p.cfg.MaxPages; page++ {
		batch, err := p.history.ListMessages(ctx, chat.Query{
			Group:  group,
			Since:  since,
			Offset: page * p.cfg.PageSize,
			Limit:  p.cfg.PageSize,
		})
		if err != nil {
			return nil, false, err
		}
		for _, m := range batch {
			if m.Timestamp > since {
				out = append(out, m)
			}
		}
		if len(batch) < p.cfg.PageSize {
			return out, false, nil
		}
	}
	return out, true, nil
}
