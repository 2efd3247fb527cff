// Package casting ingests casting calls from web pages and chat groups into
// a moderation queue.
//
// A run loads the active sources, fetches each one, extracts structured
// records through an external text-understanding service, drops records
// whose content fingerprint was seen before, and queues the rest as
// pending_review. Chat messages are queued for classification first and
// reach moderation through the classification worker.
//
//	svc, err := casting.New(db, cfg, logger)
//	report, err := svc.RunOnce(ctx)
package casting

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/casting/casting/internal/chat"
	"github.com/hazyhaar/casting/casting/internal/classify"
	"github.com/hazyhaar/casting/casting/internal/dispatch"
	"github.com/hazyhaar/casting/casting/internal/extract"
	"github.com/hazyhaar/casting/casting/internal/pagefetch"
	"github.com/hazyhaar/casting/casting/internal/poller"
	"github.com/hazyhaar/casting/casting/internal/scheduler"
	"github.com/hazyhaar/casting/casting/internal/store"
	"github.com/hazyhaar/casting/connectivity"
	"github.com/hazyhaar/casting/horosafe"
	"github.com/hazyhaar/casting/idgen"
	"github.com/hazyhaar/casting/observability"
	"github.com/hazyhaar/casting/vtq"
)

// ClassifyQueue is the vtq queue holding chat messages to classify.
const ClassifyQueue = "classify"

// MetricsRecorder receives pipeline counters and timings.
// *observability.MetricsManager satisfies it.
type MetricsRecorder interface {
	Count(name string, n int, kv ...string)
	Duration(name string, d time.Duration, kv ...string)
}

// Service is the ingestion pipeline and its operator surface.
type Service struct {
	db     *sql.DB
	store  *store.Store
	queue  *vtq.Q
	audit  *observability.AuditLogger
	config *Config
	logger *slog.Logger

	metrics      MetricsRecorder
	newID        idgen.Generator
	urlValidator func(string) error

	extractor extract.Extractor
	fetcher   pagefetch.Fetcher
	history   chat.History
	disp      *dispatch.Dispatcher
	worker    *classify.Worker
	breakers  map[string]*connectivity.CircuitBreaker

	runMu sync.Mutex
	wg    sync.WaitGroup
}

// Option configures a Service during creation.
type Option func(*Service)

// WithMetrics records pipeline metrics.
func WithMetrics(m MetricsRecorder) Option {
	return func(s *Service) { s.metrics = m }
}

// WithURLValidator replaces horosafe.ValidateURL for web sources, both at
// registration and for direct page fetches.
func WithURLValidator(fn func(string) error) Option {
	return func(s *Service) { s.urlValidator = fn }
}

// WithIDGenerator sets the generator for run ids.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(s *Service) { s.newID = gen }
}

// New creates a Service over db and applies the schemas. cfg may be nil.
func New(db *sql.DB, cfg *Config, logger *slog.Logger, opts ...Option) (*Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}

	if err := store.ApplySchema(db); err != nil {
		return nil, fmt.Errorf("casting: apply schema: %w", err)
	}
	if err := observability.Init(db); err != nil {
		return nil, fmt.Errorf("casting: apply observability schema: %w", err)
	}

	s := &Service{
		db:           db,
		store:        store.NewStore(db),
		audit:        observability.NewAuditLogger(db),
		config:       cfg,
		logger:       logger,
		newID:        idgen.Default,
		urlValidator: horosafe.ValidateURL,
	}
	for _, o := range opts {
		o(s)
	}

	s.queue = vtq.New(db, vtq.Options{
		Queue:        ClassifyQueue,
		Visibility:   cfg.Classify.Visibility,
		PollInterval: cfg.Classify.PollInterval,
		Backoff:      cfg.Classify.Backoff,
		MaxAttempts:  cfg.Classify.MaxAttempts,
		Logger:       logger,
	})
	if err := s.queue.EnsureTable(context.Background()); err != nil {
		return nil, fmt.Errorf("casting: create queue table: %w", err)
	}

	s.breakers = map[string]*connectivity.CircuitBreaker{
		"extract": s.newBreaker(),
		"scrape":  s.newBreaker(),
		"chat":    s.newBreaker(),
	}
	s.extractor = extract.New(extract.Config{
		Endpoint:      cfg.Extract.Endpoint,
		APIKey:        cfg.Extract.APIKey,
		Model:         cfg.Extract.Model,
		Timeout:       cfg.Extract.Timeout,
		MaxInputChars: cfg.Extract.MaxInputChars,
	}, s.breakers["extract"], logger)

	switch cfg.PageFetch.Mode {
	case PageFetchService:
		s.fetcher = pagefetch.NewServiceFetcher(pagefetch.ServiceConfig{
			Endpoint: cfg.PageFetch.Endpoint,
			APIKey:   cfg.PageFetch.APIKey,
			Timeout:  cfg.PageFetch.Timeout,
		}, s.breakers["scrape"], logger)
	case PageFetchDirect:
		s.fetcher = pagefetch.NewDirectFetcher(pagefetch.DirectConfig{
			Timeout:      cfg.PageFetch.Timeout,
			MaxBytes:     cfg.PageFetch.MaxBytes,
			UserAgent:    cfg.PageFetch.UserAgent,
			URLValidator: s.urlValidator,
		})
	default:
		return nil, fmt.Errorf("%w: page_fetch.mode %q", ErrInvalidInput, cfg.PageFetch.Mode)
	}

	s.history = chat.NewClient(chat.Config{
		Endpoint: cfg.Chat.Endpoint,
		Token:    cfg.Chat.Token,
		Timeout:  cfg.Chat.Timeout,
	}, s.breakers["chat"], logger)

	s.disp = dispatch.New(s.store, s.queue, logger)
	s.worker = classify.New(s.queue, s.extractor, s.disp, s.metrics, logger)
	return s, nil
}

func (s *Service) newBreaker() *connectivity.CircuitBreaker {
	return connectivity.NewCircuitBreaker(
		connectivity.WithBreakerThreshold(s.config.Breaker.Threshold),
		connectivity.WithBreakerResetTimeout(s.config.Breaker.ResetTimeout),
	)
}

// webPoller and chatPoller are built per run so tests can swap clients.
func (s *Service) webPoller() *poller.WebPoller {
	return poller.NewWebPoller(s.fetcher, s.extractor, s.disp, s.store, s.logger,
		poller.WithWebMetrics(s.metrics))
}

func (s *Service) chatPoller() *poller.ChatPoller {
	return poller.NewChatPoller(s.history, s.disp, s.store, poller.ChatConfig{
		PageSize: s.config.Chat.PageSize,
		MaxPages: s.config.Chat.MaxPages,
	}, s.logger, poller.WithChatMetrics(s.metrics))
}

// ClassifyOnce handles every currently queued chat message once and
// returns the number classified.
func (s *Service) ClassifyOnce(ctx context.Context) int {
	return s.worker.Drain(ctx)
}

// RunClassifier consumes the classification queue until ctx is cancelled.
func (s *Service) RunClassifier(ctx context.Context) {
	s.worker.Run(ctx)
}

// QueuedMessages returns the number of chat messages awaiting
// classification.
func (s *Service) QueuedMessages(ctx context.Context) (int, error) {
	return s.queue.Len(ctx)
}

// Start launches the run scheduler and the classification worker.
// Non-blocking; both stop when ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	sched := scheduler.New(func(ctx context.Context) error {
		_, err := s.RunOnce(ctx)
		return err
	}, scheduler.Config{
		Interval:    s.config.Schedule.Interval,
		SkipInitial: s.config.Schedule.SkipInitial,
	}, s.logger)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		sched.Run(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.RunClassifier(ctx)
	}()
	s.logger.Info("casting: started", "interval", s.config.Schedule.Interval.String())
}

// Close waits for the goroutines launched by Start. Cancel their context
// first.
func (s *Service) Close() error {
	s.wg.Wait()
	s.logger.Info("casting: closed")
	return nil
}

// BreakerStates reports the circuit breaker state of each upstream service.
func (s *Service) BreakerStates() map[string]string {
	out := make(map[string]string, len(s.breakers))
	for name, cb := range s.breakers {
		out[name] = cb.State().String()
	}
	return out
}
