package synthesis

import (
	"context"
	"fmt"
	"sort"

	"github.com/jackzampolin/folio/internal/gateway"
	"github.com/jackzampolin/folio/internal/types"
)

// Result caps per retrieval track.
const (
	maxInternalSources = 20
	maxExternalSources = 15
)

// stageInternalRetrieval queries the indexed corpus, deduplicates,
// filters, and keeps the ranked top 20 with their figure candidates.
func (o *Orchestrator) stageInternalRetrieval(ctx context.Context, doc *Document, state *runState, meta gateway.CallMeta) (any, error) {
	queries := state.queries(doc.Topic)

	sources, err := o.deps.Internal.Search(ctx, queries, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("internal retrieval failed: %w", err)
	}

	sources, err = o.refine(ctx, doc.Topic, sources, meta)
	if err != nil {
		return nil, err
	}
	if len(sources) > maxInternalSources {
		sources = sources[:maxInternalSources]
	}
	state.Internal = RetrievalOutput{Sources: sources}

	if o.deps.Images != nil && len(sources) > 0 {
		chapterIDs := make([]string, 0, len(sources))
		for _, src := range sources {
			if src.ChapterID != "" {
				chapterIDs = append(chapterIDs, src.ChapterID)
			}
		}
		images, err := o.deps.Images.ForChapters(ctx, chapterIDs)
		if err != nil {
			o.logger.Warn("image discovery failed", "document", doc.ID, "error", err)
		} else {
			state.Internal.Images = images
		}
	}

	return state.Internal, nil
}

// stageExternalRetrieval runs the evidence and AI research tracks,
// deduplicates the union, filters, and keeps the top 15.
func (o *Orchestrator) stageExternalRetrieval(ctx context.Context, doc *Document, state *runState, meta gateway.CallMeta) (any, error) {
	queries := state.queries(doc.Topic)

	sources := o.deps.External.SearchAll(ctx, queries, doc.ID)

	sources, err := o.refine(ctx, doc.Topic, sources, meta)
	if err != nil {
		return nil, err
	}

	// Rank by model relevance when present, recency as tiebreaker.
	sort.SliceStable(sources, func(i, j int) bool {
		if sources[i].RelevanceScore != sources[j].RelevanceScore {
			return sources[i].RelevanceScore > sources[j].RelevanceScore
		}
		return sources[i].Year > sources[j].Year
	})
	if len(sources) > maxExternalSources {
		sources = sources[:maxExternalSources]
	}

	state.External = ExternalOutput{Sources: sources}
	return state.External, nil
}

// refine applies deduplication and, when enabled, the relevance gate.
func (o *Orchestrator) refine(ctx context.Context, topic string, sources []types.Source, meta gateway.CallMeta) ([]types.Source, error) {
	if len(sources) == 0 {
		return nil, nil
	}

	unique, err := o.deps.Deduper.Dedup(ctx, sources, meta)
	if err != nil {
		return nil, fmt.Errorf("deduplication failed: %w", err)
	}

	if !o.deps.Config.AIRelevanceFilterEnabled || o.deps.Relevance == nil {
		return unique, nil
	}
	kept, err := o.deps.Relevance.Apply(ctx, topic, unique, meta)
	if err != nil {
		return nil, fmt.Errorf("relevance filtering failed: %w", err)
	}
	return kept, nil
}
