package retrieval

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/jackzampolin/folio/internal/gateway"
	"github.com/jackzampolin/folio/internal/types"
)

// researchSystem frames the AI-grounded literature search.
const researchSystem = `You are a medical literature researcher. Ground
your answer in current web sources. List the key publications for the
topic, one per line, formatted as:
- Title (Year) — Journal`

// AIResearcher runs the web-grounded external retrieval track through
// the gateway.
type AIResearcher struct {
	gw gateway.Client
}

// NewAIResearcher creates the AI-grounded track.
func NewAIResearcher(gw gateway.Client) *AIResearcher {
	return &AIResearcher{gw: gw}
}

// Research asks a web-grounded model for key literature and parses the
// referenced sources out of the answer and its citation annotations.
func (r *AIResearcher) Research(ctx context.Context, query, documentID string) ([]types.Source, error) {
	res, err := r.gw.GenerateText(ctx, types.TaskSummarization, &gateway.TextRequest{
		System:    researchSystem,
		Prompt:    fmt.Sprintf("Find the current key literature on: %s", query),
		WebSearch: true,
		MaxTokens: 2000,
		Meta: gateway.CallMeta{
			DocumentID: documentID,
			Stage:      "stage_4",
			Operation:  "ai_research",
		},
	})
	if err != nil {
		return nil, err
	}

	sources := parseResearchAnswer(res.Content)

	// Attach grounding URLs positionally; leftovers become bare
	// URL-only sources so no citation is dropped.
	for i, u := range res.Citations {
		if i < len(sources) {
			sources[i].URL = u
			continue
		}
		sources = append(sources, types.Source{
			Title:      u,
			URL:        u,
			SourceType: types.SourceAIResearch,
		})
	}
	return sources, nil
}

// researchLineRe matches "- Title (2023) — Journal" list lines, with
// tolerance for *, numbering, and plain hyphens.
var researchLineRe = regexp.MustCompile(`^(?:[-*]|\d+[.)])\s+(.+?)\s*\((\d{4})\)\s*(?:[—–-]\s*(.+))?$`)

// parseResearchAnswer extracts sources from the model's reference list.
func parseResearchAnswer(answer string) []types.Source {
	var sources []types.Source
	for _, line := range strings.Split(answer, "\n") {
		m := researchLineRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		year, _ := strconv.Atoi(m[2])
		sources = append(sources, types.Source{
			Title:      strings.TrimSpace(m[1]),
			Year:       year,
			Journal:    strings.TrimSpace(m[3]),
			SourceType: types.SourceAIResearch,
		})
	}
	return sources
}
