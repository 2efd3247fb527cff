package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/hazyhaar/casting/casting"
	"github.com/hazyhaar/casting/shield"
)

// errRunLocked is returned when another process holds the run lock.
var errRunLocked = errors.New("another run is in progress")

// runLock takes the lock file next to the database. run holds it for one
// pass and serve for its whole lifetime, so a cron run never overlaps the
// scheduler of a serving process.
func (a *app) runLock() (*flock.Flock, error) {
	// The lock file is created before dbopen runs its own MkdirAll.
	if err := os.MkdirAll(filepath.Dir(a.cli.DB), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	lock := flock.New(a.cli.DB + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !locked {
		return nil, errRunLocked
	}
	return lock, nil
}

// RunCmd performs one ingestion pass under the run lock.
type RunCmd struct {
	Classify bool `help:"Classify queued chat messages after the run."`
}

func (c *RunCmd) Run(a *app) error {
	lock, err := a.runLock()
	if err != nil {
		return err
	}
	defer lock.Unlock()

	svc, err := a.service()
	if err != nil {
		return err
	}
	report, err := svc.RunOnce(a.ctx)
	if err != nil {
		return err
	}
	if c.Classify {
		n := svc.ClassifyOnce(a.ctx)
		a.logger.Info("classify: drained", "classified", n)
	}
	return a.printJSON(report)
}

// ServeCmd runs the operator API, the scheduler and the classifier until
// interrupted.
type ServeCmd struct{}

func (c *ServeCmd) Run(a *app) error {
	lock, err := a.runLock()
	if err != nil {
		return err
	}
	defer lock.Unlock()

	svc, err := a.service()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(a.ctx)
	defer cancel()

	rl := shield.NewRateLimiter(a.cfg.RateLimit.RPS, a.cfg.RateLimit.Burst, "/health")
	rl.StartGC(10*time.Minute, ctx.Done())

	srv := &http.Server{
		Addr:              a.cfg.Listen,
		Handler:           rl.Middleware(svc.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	svc.Start(ctx)
	go a.cleanupLoop(ctx)

	errc := make(chan error, 1)
	go func() {
		a.logger.Info("serve: listening", "addr", a.cfg.Listen)
		errc <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err = <-errc:
		cancel()
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		a.logger.Warn("serve: shutdown", "error", serr)
	}
	svc.Close()
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	return err
}

// cleanupLoop trims old metrics once a day.
func (a *app) cleanupLoop(ctx context.Context) {
	t := time.NewTicker(24 * time.Hour)
	defer t.Stop()
	for {
		n, err := a.metrics.Cleanup(ctx, a.cfg.MetricsRetention)
		if err != nil {
			a.logger.Warn("metrics: cleanup", "error", err)
		} else if n > 0 {
			a.logger.Info("metrics: cleanup", "deleted", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// ClassifyCmd consumes the chat classification queue.
type ClassifyCmd struct {
	Once bool `help:"Handle every queued message once and exit."`
}

func (c *ClassifyCmd) Run(a *app) error {
	svc, err := a.service()
	if err != nil {
		return err
	}
	if c.Once {
		n := svc.ClassifyOnce(a.ctx)
		left, err := svc.QueuedMessages(a.ctx)
		if err != nil {
			return err
		}
		return a.printJSON(map[string]int{"classified": n, "queued": left})
	}
	svc.RunClassifier(a.ctx)
	return nil
}

// SourcesCmd manages the source registry.
type SourcesCmd struct {
	Add        SourcesAddCmd        `cmd:"" help:"Register a source."`
	List       SourcesListCmd       `cmd:"" help:"List every source."`
	Activate   SourcesActivateCmd   `cmd:"" help:"Activate a source."`
	Deactivate SourcesDeactivateCmd `cmd:"" help:"Deactivate a source. Its watermark is kept."`
}

type SourcesAddCmd struct {
	Type       string `help:"Source type." enum:"web,chat" required:""`
	Name       string `help:"Display name." default:""`
	Inactive   bool   `help:"Register without activating."`
	Identifier string `arg:"" help:"Page URL for web sources, group handle for chat sources."`
}

func (c *SourcesAddCmd) Run(a *app) error {
	svc, err := a.service()
	if err != nil {
		return err
	}
	src, err := svc.AddSource(a.ctx, casting.SourceInput{
		SourceType:  c.Type,
		Identifier:  c.Identifier,
		DisplayName: c.Name,
		Inactive:    c.Inactive,
	})
	if err != nil {
		return err
	}
	return a.printJSON(src)
}

type SourcesListCmd struct{}

func (c *SourcesListCmd) Run(a *app) error {
	svc, err := a.service()
	if err != nil {
		return err
	}
	list, err := svc.ListSources(a.ctx)
	if err != nil {
		return err
	}
	if list == nil {
		list = []*casting.Source{}
	}
	return a.printJSON(list)
}

type SourcesActivateCmd struct {
	ID string `arg:"" help:"Source id."`
}

func (c *SourcesActivateCmd) Run(a *app) error { return a.setActive(c.ID, true) }

type SourcesDeactivateCmd struct {
	ID string `arg:"" help:"Source id."`
}

func (c *SourcesDeactivateCmd) Run(a *app) error { return a.setActive(c.ID, false) }

func (a *app) setActive(id string, active bool) error {
	svc, err := a.service()
	if err != nil {
		return err
	}
	if err := svc.SetSourceActive(a.ctx, id, active); err != nil {
		return err
	}
	src, err := svc.GetSource(a.ctx, id)
	if err != nil {
		return err
	}
	return a.printJSON(src)
}

// CandidatesCmd reviews the moderation queue.
type CandidatesCmd struct {
	List     CandidatesListCmd     `cmd:"" help:"List candidates."`
	Show     CandidatesShowCmd     `cmd:"" help:"Show one candidate and its audit trail."`
	Moderate CandidatesModerateCmd `cmd:"" help:"Publish or reject a pending candidate."`
}

type CandidatesListCmd struct {
	Status string `help:"Filter by status (pending_review, live, rejected). Empty lists all." default:"pending_review"`
	Limit  int    `help:"Maximum entries." default:"50"`
}

func (c *CandidatesListCmd) Run(a *app) error {
	svc, err := a.service()
	if err != nil {
		return err
	}
	list, err := svc.ListCandidates(a.ctx, c.Status, c.Limit)
	if err != nil {
		return err
	}
	if list == nil {
		list = []*casting.Candidate{}
	}
	return a.printJSON(list)
}

type CandidatesShowCmd struct {
	ID string `arg:"" help:"Candidate id."`
}

func (c *CandidatesShowCmd) Run(a *app) error {
	svc, err := a.service()
	if err != nil {
		return err
	}
	cand, err := svc.GetCandidate(a.ctx, c.ID)
	if err != nil {
		return err
	}
	trail, err := svc.AuditTrail(a.ctx, c.ID, 0)
	if err != nil {
		return err
	}
	return a.printJSON(map[string]any{"candidate": cand, "audit": trail})
}

type CandidatesModerateCmd struct {
	ID     string `arg:"" help:"Candidate id."`
	Status string `arg:"" help:"Decision." enum:"live,rejected"`
	Note   string `help:"Review note."`
}

func (c *CandidatesModerateCmd) Run(a *app) error {
	svc, err := a.service()
	if err != nil {
		return err
	}
	cand, err := svc.Moderate(a.ctx, c.ID, c.Status, c.Note)
	if err != nil {
		return err
	}
	return a.printJSON(cand)
}

// CyclesCmd shows the cycle log.
type CyclesCmd struct {
	Source string `help:"Only this source id."`
	Limit  int    `help:"Maximum entries." default:"50"`
}

func (c *CyclesCmd) Run(a *app) error {
	svc, err := a.service()
	if err != nil {
		return err
	}
	list, err := svc.CycleHistory(a.ctx, c.Source, c.Limit)
	if err != nil {
		return err
	}
	if list == nil {
		list = []*casting.CycleLogEntry{}
	}
	return a.printJSON(list)
}
