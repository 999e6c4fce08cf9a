// Package relevance scores retrieved sources against a query and drops
// the ones below threshold.
package relevance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackzampolin/folio/internal/gateway"
	"github.com/jackzampolin/folio/internal/types"
)

// DefaultThreshold keeps sources the model scores at or above it.
const DefaultThreshold = 0.75

// batchSize is how many sources one structured call scores.
const batchSize = 10

const filterSystem = `You assess whether scholarly sources are relevant to a synthesis topic.
Score each source from 0.0 (unrelated) to 1.0 (directly on topic) and give a one-sentence rationale.`

var relevanceSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"scores": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"index":     map[string]any{"type": "integer"},
					"score":     map[string]any{"type": "number"},
					"rationale": map[string]any{"type": "string"},
				},
				"required":             []string{"index", "score", "rationale"},
				"additionalProperties": false,
			},
		},
	},
	"required":             []string{"scores"},
	"additionalProperties": false,
}

type scoredEntry struct {
	Index     int     `json:"index"`
	Score     float64 `json:"score"`
	Rationale string  `json:"rationale"`
}

// Filter is the model-backed relevance gate.
type Filter struct {
	gw     gateway.Client
	logger *slog.Logger

	// Threshold drops sources scored below it.
	Threshold float64
}

// New creates a filter with the default threshold.
func New(gw gateway.Client, logger *slog.Logger) *Filter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Filter{
		gw:        gw,
		logger:    logger.With("component", "relevance"),
		Threshold: DefaultThreshold,
	}
}

// Apply scores every source against the query in batches and returns
// the keepers in input order, each carrying its model-assigned
// relevance score. The filter fails open: a batch whose call or parse
// fails passes through unscored rather than discarding evidence.
func (f *Filter) Apply(ctx context.Context, query string, sources []types.Source, meta gateway.CallMeta) ([]types.Source, error) {
	if len(sources) == 0 {
		return nil, nil
	}

	kept := make([]types.Source, 0, len(sources))
	for start := 0; start < len(sources); start += batchSize {
		end := start + batchSize
		if end > len(sources) {
			end = len(sources)
		}
		batch := sources[start:end]

		scores, err := f.scoreBatch(ctx, query, batch, meta)
		if err != nil {
			f.logger.Warn("relevance batch failed, passing sources through",
				"query", query, "batch_start", start, "error", err)
			kept = append(kept, batch...)
			continue
		}

		for i, src := range batch {
			entry, ok := scores[i]
			if !ok {
				// Unscored sources pass through.
				kept = append(kept, src)
				continue
			}
			if entry.Score < f.Threshold {
				continue
			}
			src.RelevanceScore = entry.Score
			kept = append(kept, src)
		}
	}
	return kept, nil
}

// scoreBatch runs one structured call and maps scores back to batch
// positions. Out-of-range indices are dropped.
func (f *Filter) scoreBatch(ctx context.Context, query string, batch []types.Source, meta gateway.CallMeta) (map[int]scoredEntry, error) {
	meta.Operation = "source_relevance"
	res, err := f.gw.GenerateStructured(ctx, types.TaskSourceRelevance, &gateway.StructuredRequest{
		System:     filterSystem,
		Prompt:     batchPrompt(query, batch),
		SchemaName: "source_relevance",
		Schema:     relevanceSchema,
		Meta:       meta,
	})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Scores []scoredEntry `json:"scores"`
	}
	if err := json.Unmarshal(res.Data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse relevance scores: %w", err)
	}

	scores := make(map[int]scoredEntry, len(parsed.Scores))
	for _, entry := range parsed.Scores {
		if entry.Index < 0 || entry.Index >= len(batch) {
			continue
		}
		scores[entry.Index] = entry
	}
	return scores, nil
}

func batchPrompt(query string, batch []types.Source) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Topic: %s\n\nSources:\n", query)
	for i, src := range batch {
		fmt.Fprintf(&sb, "%d. %s", i, src.Title)
		if src.Year > 0 {
			fmt.Fprintf(&sb, " (%d)", src.Year)
		}
		if src.Journal != "" {
			fmt.Fprintf(&sb, ", %s", src.Journal)
		}
		if src.Abstract != "" {
			abstract := src.Abstract
			if len(abstract) > 300 {
				abstract = abstract[:300]
			}
			fmt.Fprintf(&sb, "\n   %s", abstract)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\nScore each source by index.")
	return sb.String()
}
