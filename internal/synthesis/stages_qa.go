package synthesis

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jackzampolin/folio/internal/gateway"
	"github.com/jackzampolin/folio/internal/types"
)

// Quality score denominators. A document at or past each target earns
// the full score for that axis.
const (
	depthTargetWords    = 2000
	coverageTargetSecs  = 5
	evidenceTargetRefs  = 15
	currencyDefaultNone = 0.5
)

var citationMarker = regexp.MustCompile(`\[\s*\d+(?:\s*,\s*\d+)*\s*\]`)

// stageCitations numbers references in first-citation order and remaps
// each section's local citation markers to the global numbering.
func (o *Orchestrator) stageCitations(ctx context.Context, doc *Document, state *runState) (any, error) {
	byID := map[string]types.Source{}
	for _, src := range state.allSources() {
		if src.ID != "" {
			byID[src.ID] = src
		}
	}

	numbers := map[string]int{}
	var refs []types.Reference
	assign := func(id string) int {
		if n, ok := numbers[id]; ok {
			return n
		}
		src, ok := byID[id]
		if !ok {
			return 0
		}
		n := len(refs) + 1
		numbers[id] = n
		refs = append(refs, types.ReferenceFromSource(n, src))
		return n
	}

	anyCited := false
	for i := range state.Sections {
		state.Sections[i].Walk(1, func(sec *types.Section, _ int) {
			if len(sec.SourceIDs) == 0 {
				return
			}
			anyCited = true
			local := make(map[int]int, len(sec.SourceIDs))
			for j, id := range sec.SourceIDs {
				local[j+1] = assign(id)
			}
			sec.Content = remapCitations(sec.Content, local)
		})
	}

	// With nothing cited the bibliography still lists what retrieval
	// surfaced, in retrieval order.
	if !anyCited {
		for _, src := range state.allSources() {
			if src.ID != "" {
				assign(src.ID)
			}
		}
	}

	state.References = refs
	if err := o.deps.Documents.SaveSections(ctx, doc.ID, state.Sections); err != nil {
		return nil, err
	}
	if err := o.deps.Documents.SaveReferences(ctx, doc.ID, refs); err != nil {
		return nil, err
	}
	return refs, nil
}

// remapCitations rewrites bracketed markers like [1] or [2,3] from a
// section-local numbering to the document-wide one. Markers that map
// to nothing are dropped.
func remapCitations(content string, local map[int]int) string {
	return citationMarker.ReplaceAllStringFunc(content, func(m string) string {
		inner := strings.Trim(m, "[]")
		var mapped []string
		for _, part := range strings.Split(inner, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				return m
			}
			if g, ok := local[n]; ok && g > 0 {
				mapped = append(mapped, strconv.Itoa(g))
			}
		}
		if len(mapped) == 0 {
			return ""
		}
		return "[" + strings.Join(mapped, ",") + "]"
	})
}

// stageQuality computes the four document quality scores and persists
// them.
func (o *Orchestrator) stageQuality(ctx context.Context, doc *Document, state *runState) (any, error) {
	words := types.TotalSectionWords(state.Sections)

	state.Quality = QualityScores{
		Depth:    capped(float64(words) / depthTargetWords),
		Coverage: capped(float64(len(state.Sections)) / coverageTargetSecs),
		Evidence: capped(float64(len(state.References)) / evidenceTargetRefs),
		Currency: currencyScore(state.References, time.Now().Year()),
	}

	err := o.deps.Documents.Update(ctx, doc.ID, map[string]any{
		"depth_score":    state.Quality.Depth,
		"coverage_score": state.Quality.Coverage,
		"evidence_score": state.Quality.Evidence,
		"currency_score": state.Quality.Currency,
		"total_words":    words,
	})
	if err != nil {
		return nil, err
	}
	return state.Quality, nil
}

func capped(v float64) float64 {
	if v > 1 {
		return 1
	}
	return v
}

// currencyScore buckets each dated reference by age and averages the
// bucket scores. No dated references means no evidence either way.
func currencyScore(refs []types.Reference, nowYear int) float64 {
	sum, n := 0.0, 0
	for _, ref := range refs {
		if ref.Year <= 0 {
			continue
		}
		switch age := nowYear - ref.Year; {
		case age <= 3:
			sum += 1.0
		case age <= 5:
			sum += 0.8
		case age <= 10:
			sum += 0.5
		default:
			sum += 0.2
		}
		n++
	}
	if n == 0 {
		return currencyDefaultNone
	}
	return sum / float64(n)
}

// stageFactCheck verifies the drafted claims against the source pool
// and persists the report. A failing verdict is recorded, not fatal;
// the review stage weighs it.
func (o *Orchestrator) stageFactCheck(ctx context.Context, doc *Document, state *runState, meta gateway.CallMeta) (any, error) {
	report, err := o.deps.FactCheck.Check(ctx, state.Sections, state.allSources(), meta)
	if err != nil {
		return nil, fmt.Errorf("fact check failed: %w", err)
	}
	state.FactCheck = report

	blob, err := json.Marshal(report)
	if err != nil {
		return nil, err
	}
	if err := o.deps.Documents.Update(ctx, doc.ID, map[string]any{"fact_check": string(blob)}); err != nil {
		return nil, err
	}
	if !report.Passed {
		o.logger.Warn("fact check did not pass",
			"document", doc.ID,
			"accuracy", report.OverallAccuracy,
			"critical_unverified", report.CriticalUnverified)
	}
	return report, nil
}
