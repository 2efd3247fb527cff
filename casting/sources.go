package casting

import (
	"context"
	"errors"
	"fmt"

	"github.com/hazyhaar/casting/casting/internal/store"
)

// Source is a registered ingestion source.
type Source = store.Source

type actorKey struct{}

// WithActor attaches the operator name recorded in the audit log.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func actorFrom(ctx context.Context) string {
	if a, ok := ctx.Value(actorKey{}).(string); ok && a != "" {
		return a
	}
	return "operator"
}

func (s *Service) recordAudit(ctx context.Context, operation, entityID string, params any, opErr error) {
	if err := s.audit.Record(context.WithoutCancel(ctx), actorFrom(ctx), operation, entityID, params, opErr); err != nil {
		s.logger.Warn("audit: record failed", "operation", operation, "entity_id", entityID, "error", err)
	}
}

// AddSource validates and registers a source. New sources are active unless
// in.Inactive is set, and have never been processed.
func (s *Service) AddSource(ctx context.Context, in SourceInput) (*Source, error) {
	ident, key, err := s.validateSourceInput(in)
	if err != nil {
		return nil, err
	}
	src := &Source{
		SourceType:  in.SourceType,
		Identifier:  ident,
		Key:         key,
		DisplayName: in.DisplayName,
		Active:      !in.Inactive,
	}
	err = s.store.InsertSource(ctx, src)
	if errors.Is(err, store.ErrDuplicate) {
		err = fmt.Errorf("%w: %s %s", ErrDuplicateSource, in.SourceType, ident)
	} else if err != nil {
		err = fmt.Errorf("casting: add source: %w", err)
	}
	s.recordAudit(ctx, "source.add", src.ID, in, err)
	if err != nil {
		return nil, err
	}
	s.logger.Info("sources: added", "source_id", src.ID, "source_type", src.SourceType, "identifier", src.Identifier)
	return src, nil
}

// ListSources returns every registered source, oldest first.
func (s *Service) ListSources(ctx context.Context) ([]*Source, error) {
	return s.store.ListSources(ctx)
}

// GetSource returns the source with id, or ErrNotFound.
func (s *Service) GetSource(ctx context.Context, id string) (*Source, error) {
	src, err := s.store.GetSource(ctx, id)
	if err != nil {
		return nil, err
	}
	if src == nil {
		return nil, fmt.Errorf("%w: source %s", ErrNotFound, id)
	}
	return src, nil
}

// SetSourceActive activates or deactivates a source. The watermark is kept,
// so a reactivated source resumes where it stopped.
func (s *Service) SetSourceActive(ctx context.Context, id string, active bool) error {
	ok, err := s.store.SetActive(ctx, id, active)
	if err == nil && !ok {
		err = fmt.Errorf("%w: source %s", ErrNotFound, id)
	}
	s.recordAudit(ctx, "source.set_active", id, map[string]bool{"active": active}, err)
	return err
}
