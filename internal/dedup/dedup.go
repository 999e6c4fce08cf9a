package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackzampolin/folio/internal/embedding"
	"github.com/jackzampolin/folio/internal/gateway"
	"github.com/jackzampolin/folio/internal/types"
)

// Deduplication strategies.
const (
	StrategyExact    = "exact"
	StrategyFuzzy    = "fuzzy"
	StrategySemantic = "semantic"
)

// DefaultThreshold is the similarity cutoff for fuzzy and semantic
// matching.
const DefaultThreshold = 0.85

// Deduper collapses near-duplicate sources and merges their metadata
// into the first-seen survivor.
type Deduper struct {
	gw     gateway.Client
	logger *slog.Logger

	// Strategy selects exact, fuzzy, or semantic matching.
	Strategy string

	// Threshold is the fuzzy/semantic similarity cutoff. At 1.0 the
	// fuzzy strategy matches on the exact hash only.
	Threshold float64
}

// New creates a deduper with the default fuzzy strategy. The gateway is
// only used by the semantic strategy and may be nil otherwise.
func New(gw gateway.Client, logger *slog.Logger) *Deduper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Deduper{
		gw:        gw,
		logger:    logger.With("component", "dedup"),
		Strategy:  StrategyFuzzy,
		Threshold: DefaultThreshold,
	}
}

// Dedup returns the unique sources in first-seen order. Duplicates are
// merged into their survivor per the merge policy; survivors record the
// strategy that matched them. meta attributes semantic embedding calls.
func (d *Deduper) Dedup(ctx context.Context, sources []types.Source, meta gateway.CallMeta) ([]types.Source, error) {
	if len(sources) == 0 {
		return nil, nil
	}

	var vectors [][]float32
	if d.Strategy == StrategySemantic {
		var err error
		vectors, err = d.embedAll(ctx, sources, meta)
		if err != nil {
			return nil, err
		}
	}

	var survivors []types.Source
	var survivorVecs [][]float32

	for i, src := range sources {
		key := exactKey(src)
		matched := -1

		for j := range survivors {
			if d.matches(key, survivors[j], src, survivorVecs, vectors, j, i) {
				matched = j
				break
			}
		}

		if matched >= 0 {
			merge(&survivors[matched], src, d.Strategy)
			continue
		}

		src.DedupHash = key
		survivors = append(survivors, src)
		if vectors != nil {
			survivorVecs = append(survivorVecs, vectors[i])
		}
	}

	if dropped := len(sources) - len(survivors); dropped > 0 {
		d.logger.Debug("merged duplicate sources",
			"strategy", d.Strategy, "in", len(sources), "out", len(survivors))
	}
	return survivors, nil
}

// matches reports whether candidate src duplicates survivor j.
func (d *Deduper) matches(key string, survivor, src types.Source, survivorVecs, vectors [][]float32, j, i int) bool {
	if survivor.DedupHash == key {
		return true
	}

	switch d.Strategy {
	case StrategyFuzzy:
		// Threshold 1.0 leaves only the exact hash.
		if d.Threshold >= 1 {
			return false
		}
		return fuzzyScore(survivor, src) >= d.Threshold
	case StrategySemantic:
		return embedding.Cosine(survivorVecs[j], vectors[i]) >= d.Threshold
	default:
		return false
	}
}

// merge applies the merge policy: the survivor keeps its identity,
// absorbs the duplicate's title as an alternative, fills missing
// identifiers, and keeps the longer abstract.
func merge(survivor *types.Source, dup types.Source, strategy string) {
	if dup.Title != survivor.Title && !contains(survivor.AlternativeTitles, dup.Title) {
		survivor.AlternativeTitles = append(survivor.AlternativeTitles, dup.Title)
	}
	if survivor.DOI == "" {
		survivor.DOI = dup.DOI
	}
	if survivor.PMID == "" {
		survivor.PMID = dup.PMID
	}
	if len(dup.Abstract) > len(survivor.Abstract) {
		survivor.Abstract = dup.Abstract
	}
	if dup.SimilarityScore > survivor.SimilarityScore {
		survivor.SimilarityScore = dup.SimilarityScore
	}
	survivor.DuplicateCount++
	survivor.DedupStrategy = strategy
}

// exactKey hashes the normalized title together with the identifiers
// and the author/year line.
func exactKey(src types.Source) string {
	authors := make([]string, 0, len(src.Authors))
	for _, a := range src.Authors {
		authors = append(authors, strings.ToLower(strings.TrimSpace(a)))
	}

	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s|%d",
		normalizeTitle(src.Title), src.DOI, src.PMID,
		strings.Join(authors, ","), src.Year)))
	return hex.EncodeToString(h[:])
}

// embedAll embeds every source's identity text in one batch.
func (d *Deduper) embedAll(ctx context.Context, sources []types.Source, meta gateway.CallMeta) ([][]float32, error) {
	texts := make([]string, len(sources))
	for i, src := range sources {
		texts[i] = identityText(src)
	}

	meta.Operation = "source_dedup_embed"
	res, err := d.gw.GenerateEmbedding(ctx, &gateway.EmbeddingRequest{Texts: texts, Meta: meta})
	if err != nil {
		return nil, fmt.Errorf("failed to embed sources for dedup: %w", err)
	}
	if len(res.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(res.Embeddings), len(texts))
	}
	return res.Embeddings, nil
}

// identityText is the text a semantic comparison embeds for a source.
func identityText(src types.Source) string {
	abstract := src.Abstract
	if len(abstract) > 500 {
		abstract = abstract[:500]
	}

	parts := []string{src.Title}
	if abstract != "" {
		parts = append(parts, abstract)
	}
	if len(src.Authors) > 0 {
		parts = append(parts, strings.Join(src.Authors, ", "))
	}
	if src.Year > 0 {
		parts = append(parts, fmt.Sprintf("%d", src.Year))
	}
	return strings.Join(parts, " ")
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
