package synthesis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/jackzampolin/folio/internal/gaps"
	"github.com/jackzampolin/folio/internal/gateway"
	"github.com/jackzampolin/folio/internal/types"
)

const (
	defaultSectionBatch = 5
	sourcesPerSection   = 8
)

const draftSystem = `You are drafting one section of a scholarly synthesis document.
Write in formal academic prose. Cite sources inline with bracketed numbers matching the numbered source list, for example [1] or [2,3].
Do not repeat the section title in the body. Do not invent sources beyond the list.`

// placeholderContent stands in for a section whose generation failed.
func placeholderContent(title string) string {
	return fmt.Sprintf("*Content generation for \"%s\" failed. This section is a placeholder and requires regeneration.*", title)
}

// stageSections drafts every planned section. Top-level sections run in
// bounded batches; subsections run sequentially after their parent so
// they can build on its content. A failed section becomes a placeholder
// with the error recorded and never aborts the run.
func (o *Orchestrator) stageSections(ctx context.Context, doc *Document, state *runState, meta gateway.CallMeta) (any, error) {
	if len(state.Plan.Sections) == 0 {
		return nil, fmt.Errorf("no planned sections to generate")
	}

	sources := state.allSources()
	sections := make([]types.Section, len(state.Plan.Sections))

	batch := o.deps.Config.SectionGenerationBatchSize
	if batch <= 0 {
		batch = defaultSectionBatch
	}
	if !o.deps.Config.ParallelSectionGeneration {
		batch = 1
	}

	for start := 0; start < len(state.Plan.Sections); start += batch {
		end := start + batch
		if end > len(state.Plan.Sections) {
			end = len(state.Plan.Sections)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				sections[i] = o.generateTree(ctx, doc, state.Plan.Sections[i], i, 1, sources, meta)
			}(i)
		}
		wg.Wait()
	}

	state.Sections = sections
	if err := o.deps.Documents.SaveSections(ctx, doc.ID, sections); err != nil {
		return nil, err
	}

	if o.deps.Config.AutoGapAnalysisEnabled && o.deps.Gaps != nil {
		if err := o.analyzeGaps(ctx, doc, state, meta); err != nil {
			return nil, err
		}
	}

	return sections, nil
}

// generateTree drafts a planned section and then its subsections in
// order, passing the parent's text down as context.
func (o *Orchestrator) generateTree(ctx context.Context, doc *Document, plan PlannedSection, index, depth int, sources []types.Source, meta gateway.CallMeta) types.Section {
	sec := types.Section{
		Index:       index,
		Title:       plan.Title,
		SectionType: types.SectionType(plan.SectionType),
	}

	picked := pickSources(plan, sources, sourcesPerSection)
	for _, src := range picked {
		if src.ID != "" {
			sec.SourceIDs = append(sec.SourceIDs, src.ID)
		}
	}

	content, err := o.draftSection(ctx, doc, plan, depth, picked, meta)
	if err != nil {
		o.logger.Warn("section generation failed",
			"document", doc.ID, "section", plan.Title, "error", err)
		sec.GenerationError = err.Error()
		sec.SetContent(placeholderContent(plan.Title))
	} else {
		sec.SetContent(content)
	}

	for j, sub := range plan.Subsections {
		if depth >= types.MaxSectionDepth {
			break
		}
		sec.Subsections = append(sec.Subsections, o.generateTree(ctx, doc, sub, j, depth+1, sources, meta))
	}
	return sec
}

func (o *Orchestrator) draftSection(ctx context.Context, doc *Document, plan PlannedSection, depth int, picked []types.Source, meta gateway.CallMeta) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Document topic: %s\nSection: %s (type: %s, depth %d)\n",
		doc.Topic, plan.Title, plan.SectionType, depth)
	if plan.Rationale != "" {
		fmt.Fprintf(&sb, "Purpose: %s\n", plan.Rationale)
	}
	if len(plan.KeyPoints) > 0 {
		sb.WriteString("Key points to cover:\n")
		for _, p := range plan.KeyPoints {
			fmt.Fprintf(&sb, "- %s\n", p)
		}
	}
	if plan.EstimatedWords > 0 {
		fmt.Fprintf(&sb, "Target length: about %d words\n", plan.EstimatedWords)
	}
	if len(picked) > 0 {
		sb.WriteString("\nSources:\n")
		for i, src := range picked {
			fmt.Fprintf(&sb, "%d. %s", i+1, src.Title)
			if src.Year > 0 {
				fmt.Fprintf(&sb, " (%d)", src.Year)
			}
			if src.Abstract != "" {
				abs := src.Abstract
				if len(abs) > 300 {
					abs = abs[:300]
				}
				fmt.Fprintf(&sb, "\n   %s", abs)
			}
			sb.WriteString("\n")
		}
	}

	meta.Operation = fmt.Sprintf("section_generation:%s", plan.Title)
	res, err := o.deps.Gateway.GenerateText(ctx, types.TaskContentDrafting, &gateway.TextRequest{
		System: draftSystem,
		Prompt: sb.String(),
		Meta:   meta,
	})
	if err != nil {
		return "", err
	}
	content := strings.TrimSpace(res.Content)
	if content == "" {
		return "", fmt.Errorf("model returned empty section")
	}
	return content, nil
}

// pickSources scores each source against the section's hints, key
// points, and title, keeping the top k. Ties fall back to the
// retrieval ranking.
func pickSources(plan PlannedSection, sources []types.Source, k int) []types.Source {
	if len(sources) <= k {
		return sources
	}

	terms := map[string]bool{}
	addTerms := func(text string) {
		for _, w := range strings.Fields(strings.ToLower(text)) {
			if len(w) > 3 {
				terms[w] = true
			}
		}
	}
	addTerms(plan.Title)
	for _, h := range plan.SourceHints {
		addTerms(h)
	}
	for _, p := range plan.KeyPoints {
		addTerms(p)
	}

	type scored struct {
		idx   int
		score float64
	}
	ranked := make([]scored, len(sources))
	for i, src := range sources {
		text := strings.ToLower(src.Title + " " + src.Abstract)
		hits := 0
		for term := range terms {
			if strings.Contains(text, term) {
				hits++
			}
		}
		score := float64(hits)
		// Hint matches against the title weigh double.
		for _, h := range plan.SourceHints {
			if h != "" && strings.Contains(strings.ToLower(src.Title), strings.ToLower(h)) {
				score += 2
			}
		}
		ranked[i] = scored{idx: i, score: score}
	}
	sort.SliceStable(ranked, func(a, b int) bool { return ranked[a].score > ranked[b].score })

	out := make([]types.Source, 0, k)
	for _, r := range ranked[:k] {
		out = append(out, sources[r.idx])
	}
	return out
}

// analyzeGaps runs the post-draft gap analysis and persists the report
// on the document row. An analysis failure is recorded, not fatal;
// critical findings halt the run only when configured to.
func (o *Orchestrator) analyzeGaps(ctx context.Context, doc *Document, state *runState, meta gateway.CallMeta) error {
	report, err := o.deps.Gaps.Analyze(ctx, gaps.Input{
		Topic:        doc.Topic,
		DocumentType: doc.DocumentType,
		Sections:     state.Sections,
		Sources:      state.allSources(),
		ResearchGaps: state.Context.ResearchGaps,
	}, meta)
	if err != nil {
		o.logger.Warn("gap analysis failed", "document", doc.ID, "error", err)
		blob, _ := json.Marshal(map[string]string{"status": "failed", "error": err.Error()})
		if uerr := o.deps.Documents.Update(ctx, doc.ID, map[string]any{"gap_analysis": string(blob)}); uerr != nil {
			o.logger.Warn("failed to record gap analysis failure", "document", doc.ID, "error", uerr)
		}
		return nil
	}
	state.GapReport = report

	blob, err := json.Marshal(report)
	if err != nil {
		return err
	}
	if err := o.deps.Documents.Update(ctx, doc.ID, map[string]any{"gap_analysis": string(blob)}); err != nil {
		return err
	}

	if o.deps.Config.HaltOnCriticalGaps {
		for _, issue := range report.Issues {
			if issue.Severity == types.SeverityCritical {
				return fmt.Errorf("critical content gap: %s", issue.Description)
			}
		}
	}
	return nil
}
