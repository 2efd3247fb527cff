// Package scheduler triggers ingestion runs on a fixed interval for the
// long-running serve mode. Cron deployments call the run command instead.
package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// Config configures the scheduler.
type Config struct {
	// Interval between run starts. Default: 1 hour.
	Interval time.Duration
	// SkipInitial delays the first run by one Interval instead of running
	// immediately on start.
	SkipInitial bool
}

func (c *Config) defaults() {
	if c.Interval <= 0 {
		c.Interval = time.Hour
	}
}

// RunFunc performs one ingestion run.
type RunFunc func(ctx context.Context) error

// Scheduler calls a RunFunc on a ticker. Runs never overlap: a tick that
// fires while a run is in progress is dropped.
type Scheduler struct {
	run    RunFunc
	config Config
	logger *slog.Logger
}

// New creates a Scheduler.
func New(run RunFunc, cfg Config, logger *slog.Logger) *Scheduler {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{run: run, config: cfg, logger: logger}
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if !s.config.SkipInitial {
		s.tick(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	if err := s.run(ctx); err != nil {
		s.logger.Error("scheduler: run failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		return
	}
	s.logger.Debug("scheduler: run done", "duration_ms", time.Since(start).Milliseconds())
}
