package retrieval

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jackzampolin/folio/internal/types"
)

// External research strategies.
const (
	StrategyEvidenceOnly = "evidence_only"
	StrategyAIOnly       = "ai_only"
	StrategyHybrid       = "hybrid"
)

// ExternalSearcher combines the evidence (PubMed) and AI-grounded
// tracks under a configured strategy.
type ExternalSearcher struct {
	pubmed     *PubMedClient
	researcher *AIResearcher
	logger     *slog.Logger

	// Strategy selects the tracks; defaults to hybrid.
	Strategy string

	// Parallel runs both tracks concurrently when the strategy uses both.
	Parallel bool
}

// NewExternalSearcher creates the external retrieval service.
func NewExternalSearcher(pubmed *PubMedClient, researcher *AIResearcher, logger *slog.Logger) *ExternalSearcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExternalSearcher{
		pubmed:     pubmed,
		researcher: researcher,
		logger:     logger.With("component", "retrieval"),
		Strategy:   StrategyHybrid,
		Parallel:   true,
	}
}

// Search runs the configured tracks for one query and returns the
// union, each source tagged with its track's source_type. Per-track
// failure is logged and non-fatal; both tracks failing returns the
// last error.
func (s *ExternalSearcher) Search(ctx context.Context, query, documentID string) ([]types.Source, error) {
	runEvidence := s.Strategy != StrategyAIOnly
	runAI := s.Strategy != StrategyEvidenceOnly

	var evidence, researched []types.Source
	var evidenceErr, aiErr error

	if runEvidence && runAI && s.Parallel {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			evidence, evidenceErr = s.pubmed.Search(ctx, query)
		}()
		go func() {
			defer wg.Done()
			researched, aiErr = s.researcher.Research(ctx, query, documentID)
		}()
		wg.Wait()
	} else {
		if runEvidence {
			evidence, evidenceErr = s.pubmed.Search(ctx, query)
		}
		if runAI {
			researched, aiErr = s.researcher.Research(ctx, query, documentID)
		}
	}

	if evidenceErr != nil {
		s.logger.Warn("evidence track failed", "query", query, "error", evidenceErr)
	}
	if aiErr != nil {
		s.logger.Warn("ai research track failed", "query", query, "error", aiErr)
	}

	union := append(evidence, researched...)
	if len(union) == 0 {
		if evidenceErr != nil {
			return nil, evidenceErr
		}
		if aiErr != nil {
			return nil, aiErr
		}
	}
	return union, nil
}

// SearchAll runs Search for every query with per-query failure
// tolerance and returns the concatenated results.
func (s *ExternalSearcher) SearchAll(ctx context.Context, queries []string, documentID string) []types.Source {
	var all []types.Source
	for _, q := range queries {
		sources, err := s.Search(ctx, q, documentID)
		if err != nil {
			s.logger.Warn("external query failed", "query", q, "error", err)
			continue
		}
		all = append(all, sources...)
	}
	return all
}
