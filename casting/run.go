package casting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/casting/casting/internal/poller"
	"github.com/hazyhaar/casting/casting/internal/record"
	"github.com/hazyhaar/casting/casting/internal/store"
	"github.com/hazyhaar/casting/observability"
)

// SourceOutcome is the result of one source in a run.
type SourceOutcome struct {
	SourceID   string `json:"source_id"`
	SourceType string `json:"source_type"`
	Status     string `json:"status"`
	Records    int    `json:"records"`
	Duplicates int    `json:"duplicates"`
	Messages   int    `json:"messages"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// RunReport summarizes one orchestration run.
type RunReport struct {
	RunID          string          `json:"run_id"`
	StartedAt      time.Time       `json:"started_at"`
	Duration       time.Duration   `json:"duration"`
	WebSources     int             `json:"web_sources"`
	ChatSources    int             `json:"chat_sources"`
	ChatSkipped    bool            `json:"chat_skipped"`
	RecordsQueued  int             `json:"records_queued"`
	Duplicates     int             `json:"duplicates"`
	MessagesQueued int             `json:"messages_queued"`
	Failures       int             `json:"failures"`
	Sources        []SourceOutcome `json:"sources"`

	mu sync.Mutex
}

func (r *RunReport) add(o SourceOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Sources = append(r.Sources, o)
	r.RecordsQueued += o.Records
	r.Duplicates += o.Duplicates
	r.MessagesQueued += o.Messages
	if o.Status != store.CycleOK && o.Status != store.CycleSkipped {
		r.Failures++
	}
}

// checkCredentials returns ErrMissingCredentials when a service every run
// depends on has no credentials.
func (s *Service) checkCredentials() error {
	if s.config.Extract.APIKey == "" {
		return fmt.Errorf("%w: extraction api key", ErrMissingCredentials)
	}
	if s.config.PageFetch.Mode == PageFetchService && s.config.PageFetch.APIKey == "" {
		return fmt.Errorf("%w: page fetch api key", ErrMissingCredentials)
	}
	return nil
}

// RunOnce performs one orchestration run: every active web source through
// a bounded worker pool, every active chat group through rate-limited
// lanes. A failing source never aborts the others. The only run-level
// errors are missing credentials, a registry that cannot be read, and
// ErrRunInProgress when a run of this Service is still going.
func (s *Service) RunOnce(ctx context.Context) (*RunReport, error) {
	if !s.runMu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer s.runMu.Unlock()

	report := &RunReport{RunID: s.newID(), StartedAt: time.Now()}
	log := s.logger.With("run_id", report.RunID)

	if err := s.checkCredentials(); err != nil {
		log.Error("run: aborted", "error", err)
		return report, err
	}

	web, err := s.store.ListActiveSources(ctx, record.SourceWeb)
	if err != nil {
		return report, fmt.Errorf("casting: list web sources: %w", err)
	}
	chats, err := s.store.ListActiveSources(ctx, record.SourceChat)
	if err != nil {
		return report, fmt.Errorf("casting: list chat sources: %w", err)
	}
	report.WebSources = len(web)
	report.ChatSources = len(chats)
	log.Info("run: started", "web_sources", len(web), "chat_sources", len(chats))

	var g errgroup.Group
	g.Go(func() error {
		s.runWeb(ctx, report, web)
		return nil
	})
	if s.config.Chat.Token == "" {
		if len(chats) > 0 {
			report.ChatSkipped = true
			log.Warn("run: chat credentials missing, skipping chat sources", "chat_sources", len(chats))
			for _, src := range chats {
				s.recordOutcome(ctx, report, poller.Result{
					SourceID: src.ID, SourceType: record.SourceChat, Status: store.CycleSkipped,
					Err: fmt.Errorf("%w: chat token", ErrMissingCredentials),
				})
			}
		}
	} else {
		for _, lane := range splitLanes(chats, s.config.Chat.Lanes) {
			g.Go(func() error {
				s.runChatLane(ctx, report, lane)
				return nil
			})
		}
	}
	g.Wait()

	report.Duration = time.Since(report.StartedAt)
	if s.metrics != nil {
		s.metrics.Duration(observability.MetricCycleDurationMs, report.Duration)
	}
	log.Info("run: finished",
		"duration_ms", report.Duration.Milliseconds(),
		"records_queued", report.RecordsQueued,
		"duplicates", report.Duplicates,
		"messages_queued", report.MessagesQueued,
		"failures", report.Failures,
		"chat_skipped", report.ChatSkipped)
	return report, ctx.Err()
}

func (s *Service) runWeb(ctx context.Context, report *RunReport, sources []*store.Source) {
	p := s.webPoller()
	var g errgroup.Group
	g.SetLimit(s.config.Run.WebConcurrency)
	for _, src := range sources {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			s.recordOutcome(ctx, report, p.Poll(ctx, src))
			return nil
		})
	}
	g.Wait()
}

// runChatLane processes its groups one after another and waits Cooldown
// between the end of one group's fetch and the start of the next.
func (s *Service) runChatLane(ctx context.Context, report *RunReport, sources []*store.Source) {
	p := s.chatPoller()
	for i, src := range sources {
		if i > 0 {
			if err := sleepCtx(ctx, s.config.Chat.Cooldown); err != nil {
				return
			}
		}
		s.recordOutcome(ctx, report, p.Poll(ctx, src))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// splitLanes distributes sources round-robin over n lanes, dropping empty
// lanes.
func splitLanes(sources []*store.Source, n int) [][]*store.Source {
	if n < 1 {
		n = 1
	}
	lanes := make([][]*store.Source, n)
	for i, src := range sources {
		lanes[i%n] = append(lanes[i%n], src)
	}
	out := lanes[:0]
	for _, l := range lanes {
		if len(l) > 0 {
			out = append(out, l)
		}
	}
	return out
}

func (s *Service) recordOutcome(ctx context.Context, report *RunReport, res poller.Result) {
	o := SourceOutcome{
		SourceID:   res.SourceID,
		SourceType: res.SourceType,
		Status:     res.Status,
		Records:    res.Records,
		Duplicates: res.Duplicates,
		Messages:   res.Messages,
		DurationMs: res.Duration.Milliseconds(),
	}
	if res.Err != nil {
		o.Error = res.Err.Error()
	}
	report.add(o)

	err := s.store.InsertCycleLog(context.WithoutCancel(ctx), &store.CycleLogEntry{
		RunID:        report.RunID,
		SourceID:     o.SourceID,
		SourceType:   o.SourceType,
		Status:       o.Status,
		Records:      o.Records,
		Duplicates:   o.Duplicates,
		Messages:     o.Messages,
		ErrorMessage: o.Error,
		DurationMs:   o.DurationMs,
	})
	if err != nil {
		s.logger.Error("run: write cycle log", "source_id", o.SourceID, "error", err)
	}
}
