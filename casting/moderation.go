package casting

import (
	"context"
	"fmt"

	"github.com/hazyhaar/casting/casting/internal/record"
	"github.com/hazyhaar/casting/casting/internal/store"
	"github.com/hazyhaar/casting/observability"
)

// Candidate is an entry of the moderation queue.
type Candidate = store.Candidate

// AuditEntry is one recorded operator action.
type AuditEntry = observability.AuditEntry

// CycleLogEntry is the outcome of one source in one run.
type CycleLogEntry = store.CycleLogEntry

// Moderation statuses.
const (
	StatusPending  = record.StatusPending
	StatusLive     = record.StatusLive
	StatusRejected = record.StatusRejected
)

// ListCandidates returns candidates in status, newest first. An empty
// status lists every candidate.
func (s *Service) ListCandidates(ctx context.Context, status string, limit int) ([]*Candidate, error) {
	if status != "" && !record.ValidStatus(status) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	return s.store.ListCandidates(ctx, status, limit)
}

// GetCandidate returns the candidate with id, or ErrNotFound.
func (s *Service) GetCandidate(ctx context.Context, id string) (*Candidate, error) {
	c, err := s.store.GetCandidate(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("%w: candidate %s", ErrNotFound, id)
	}
	return c, nil
}

// Moderate moves a pending_review candidate to live or rejected. Decisions
// are final: a candidate already reviewed returns ErrInvalidTransition.
// The fingerprint stays registered whatever the decision.
func (s *Service) Moderate(ctx context.Context, id, status, note string) (*Candidate, error) {
	c, err := s.moderate(ctx, id, status, note)
	s.recordAudit(ctx, "candidate.moderate", id, map[string]string{"status": status, "note": note}, err)
	if err != nil {
		return nil, err
	}
	s.logger.Info("moderation: reviewed", "candidate_id", id, "status", status)
	return c, nil
}

func (s *Service) moderate(ctx context.Context, id, status, note string) (*Candidate, error) {
	if status != StatusLive && status != StatusRejected {
		return nil, fmt.Errorf("%w: target status %q", ErrInvalidTransition, status)
	}
	c, changed, err := s.store.Review(ctx, id, status, note)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("%w: candidate %s", ErrNotFound, id)
	}
	if !changed {
		return nil, fmt.Errorf("%w: candidate %s is %s", ErrInvalidTransition, id, c.Status)
	}
	return c, nil
}

// CycleHistory returns the newest cycle log entries, for one source or for
// all when sourceID is empty.
func (s *Service) CycleHistory(ctx context.Context, sourceID string, limit int) ([]*CycleLogEntry, error) {
	return s.store.CycleHistory(ctx, sourceID, limit)
}

// AuditTrail returns the audit entries recorded for a source or candidate.
func (s *Service) AuditTrail(ctx context.Context, entityID string, limit int) ([]*AuditEntry, error) {
	return s.audit.ForEntity(ctx, entityID, limit)
}
