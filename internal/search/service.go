package search

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"canvas/api/internal/workspace"
)

// Service is the facade that tries Meilisearch first and falls back to the
// database searcher.
type Service struct {
	meili    *Meili
	fallback Searcher
	log      zerolog.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, fallback Searcher, log zerolog.Logger) *Service {
	return &Service{
		meili:    meili,
		fallback: fallback,
		log:      log.With().Str("component", "search").Logger(),
	}
}

// Search tries Meilisearch if healthy, otherwise falls back.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Query: q.Text}
		}
		s.log.Warn().Err(err).Msg("meilisearch error, falling back")
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.log.Error().Err(err).Msg("fallback search failed")
		return Response{Results: []Result{}, Query: q.Text}
	}
	return Response{Results: nonNil(results), Query: q.Text}
}

// IndexWorkspace sends ws to Meilisearch. It is a no-op while Meilisearch
// is absent or unhealthy; the fallback reads the database directly.
// Callers serialize calls so the index sees writes in order.
func (s *Service) IndexWorkspace(ws workspace.Workspace) error {
	if s.meili == nil || !s.meili.Healthy() {
		return nil
	}
	if err := s.meili.Index(RecordFor(ws)); err != nil {
		return fmt.Errorf("index workspace %s: %w", ws.ID, err)
	}
	return nil
}

// RemoveWorkspace drops a workspace from the index.
func (s *Service) RemoveWorkspace(id string) error {
	if s.meili == nil || !s.meili.Healthy() {
		return nil
	}
	if err := s.meili.Delete(id); err != nil {
		return fmt.Errorf("remove workspace %s from index: %w", id, err)
	}
	return nil
}

// Close stops the Meilisearch health loop.
func (s *Service) Close() {
	if s.meili != nil {
		s.meili.Close()
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
