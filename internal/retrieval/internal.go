package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackzampolin/folio/internal/embedding"
	"github.com/jackzampolin/folio/internal/gateway"
	"github.com/jackzampolin/folio/internal/types"
)

// Hybrid scoring weights over candidate chapters.
const (
	weightCosine   = 0.7
	weightLexical  = 0.2
	weightMetadata = 0.1
)

// candidateK is how many ANN candidates each query re-scores.
const candidateK = 20

// DefaultQueryParallelism bounds concurrent internal queries.
const DefaultQueryParallelism = 5

// InternalSearcher runs hybrid retrieval over the indexed chapters.
type InternalSearcher struct {
	store  *embedding.Store
	gw     gateway.Client
	logger *slog.Logger

	// Parallelism bounds concurrent queries; defaults when zero.
	Parallelism int
}

// NewInternalSearcher creates the internal retrieval track.
func NewInternalSearcher(store *embedding.Store, gw gateway.Client, logger *slog.Logger) *InternalSearcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &InternalSearcher{
		store:  store,
		gw:     gw,
		logger: logger.With("component", "retrieval"),
	}
}

// Search runs every query concurrently (bounded) and merges results by
// chapter, keeping each chapter's best hybrid score. Per-query failures
// are logged and skipped; the batch fails only when the corpus itself
// is unreadable.
func (s *InternalSearcher) Search(ctx context.Context, queries []string, documentID string) ([]types.Source, error) {
	corpus, err := s.store.ListEmbedded(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load corpus: %w: %v", types.ErrExternalService, err)
	}
	if len(corpus) == 0 {
		return nil, nil
	}

	parallelism := s.Parallelism
	if parallelism <= 0 {
		parallelism = DefaultQueryParallelism
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	best := make(map[string]types.Source)
	sem := make(chan struct{}, parallelism)

	for _, query := range queries {
		wg.Add(1)
		sem <- struct{}{}
		go func(q string) {
			defer wg.Done()
			defer func() { <-sem }()

			results, err := s.searchOne(ctx, q, documentID, corpus)
			if err != nil {
				s.logger.Warn("internal query failed", "query", q, "error", err)
				return
			}

			mu.Lock()
			for _, src := range results {
				if prev, ok := best[src.ChapterID]; !ok || src.SimilarityScore > prev.SimilarityScore {
					best[src.ChapterID] = src
				}
			}
			mu.Unlock()
		}(query)
	}
	wg.Wait()

	merged := make([]types.Source, 0, len(best))
	for _, src := range best {
		merged = append(merged, src)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].SimilarityScore != merged[j].SimilarityScore {
			return merged[i].SimilarityScore > merged[j].SimilarityScore
		}
		return merged[i].ChapterID < merged[j].ChapterID
	})
	return merged, nil
}

// searchOne embeds one query, takes the top-K cosine candidates, and
// re-scores them with the hybrid formula.
func (s *InternalSearcher) searchOne(ctx context.Context, query, documentID string, corpus []embedding.Chapter) ([]types.Source, error) {
	res, err := s.gw.GenerateEmbedding(ctx, &gateway.EmbeddingRequest{
		Texts: []string{query},
		Meta: gateway.CallMeta{
			DocumentID: documentID,
			Stage:      "stage_3",
			Operation:  "query_embed",
		},
	})
	if err != nil {
		return nil, err
	}
	if len(res.Embeddings) == 0 {
		return nil, fmt.Errorf("no embedding returned for query")
	}
	qvec := res.Embeddings[0]

	type scored struct {
		chapter embedding.Chapter
		cosine  float64
	}
	candidates := make([]scored, 0, len(corpus))
	for _, ch := range corpus {
		candidates = append(candidates, scored{chapter: ch, cosine: embedding.Cosine(qvec, ch.Embedding)})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].cosine > candidates[j].cosine })
	if len(candidates) > candidateK {
		candidates = candidates[:candidateK]
	}

	sources := make([]types.Source, 0, len(candidates))
	for _, cand := range candidates {
		// Re-score with chapter text loaded; candidates without text in
		// the index load lazily.
		text := cand.chapter.Text
		if text == "" {
			if full, err := s.store.Get(ctx, cand.chapter.ID); err == nil {
				text = full.Text
			}
		}

		hybrid := weightCosine*cand.cosine +
			weightLexical*lexicalOverlap(query, cand.chapter.Title+" "+text) +
			weightMetadata*metadataBoost(cand.chapter)

		sources = append(sources, types.Source{
			ID:              cand.chapter.ID,
			ChapterID:       cand.chapter.ID,
			Title:           cand.chapter.Title,
			Abstract:        abstractOf(text),
			SourceType:      types.SourceInternal,
			SimilarityScore: hybrid,
		})
	}
	return sources, nil
}

// lexicalOverlap is the fraction of query terms present in the text.
func lexicalOverlap(query, text string) float64 {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return 0
	}
	haystack := strings.ToLower(text)

	hits := 0
	for _, term := range terms {
		if strings.Contains(haystack, term) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}

// metadataBoost rewards non-duplicate, higher-quality, recently indexed
// chapters. Result is in [0,1].
func metadataBoost(ch embedding.Chapter) float64 {
	boost := 0.0
	if !ch.IsDuplicate {
		boost += 0.4
	}
	boost += 0.3 * ch.QualityScore

	if !ch.CreatedAt.IsZero() {
		age := time.Since(ch.CreatedAt)
		switch {
		case age < 2*365*24*time.Hour:
			boost += 0.3
		case age < 5*365*24*time.Hour:
			boost += 0.15
		default:
			boost += 0.05
		}
	}
	return boost
}

// abstractOf trims chapter text to an abstract-sized preview.
func abstractOf(text string) string {
	const max = 500
	if len(text) <= max {
		return text
	}
	return text[:max]
}
