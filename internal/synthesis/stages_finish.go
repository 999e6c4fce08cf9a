package synthesis

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackzampolin/folio/internal/gateway"
	"github.com/jackzampolin/folio/internal/types"
)

// stageFormat normalizes section text, builds the table of contents,
// and collects structural warnings. Warnings never fail the stage.
func (o *Orchestrator) stageFormat(ctx context.Context, doc *Document, state *runState) (any, error) {
	for i := range state.Sections {
		state.Sections[i].Walk(1, func(sec *types.Section, _ int) {
			sec.SetContent(normalizeContent(sec.Content))
		})
	}

	out := FormatOutput{
		TOC:      renderTOC(state.Sections),
		Warnings: validateStructure(state.Sections, state.References),
	}
	for _, w := range out.Warnings {
		o.logger.Warn("formatting warning", "document", doc.ID, "warning", w)
	}

	state.Format = out
	if err := o.deps.Documents.SaveSections(ctx, doc.ID, state.Sections); err != nil {
		return nil, err
	}
	return out, nil
}

// imageRefPattern matches inline markdown image references and
// captures the target.
var imageRefPattern = regexp.MustCompile(`!\[[^\]]*\]\(([^)]*)\)`)

// validateStructure flags structural oddities without blocking the
// pipeline.
func validateStructure(sections []types.Section, refs []types.Reference) []string {
	var warnings []string
	if len(sections) == 0 {
		return []string{"document has no sections"}
	}
	for i := range sections {
		if d := sections[i].Depth(); d > types.MaxSectionDepth {
			warnings = append(warnings, fmt.Sprintf("section %q nests %d levels deep (max %d)",
				sections[i].Title, d, types.MaxSectionDepth))
		}
		sections[i].Walk(1, func(sec *types.Section, depth int) {
			switch {
			case strings.TrimSpace(sec.Title) == "":
				warnings = append(warnings, fmt.Sprintf("section %d at depth %d has no title", sec.Index+1, depth))
			case sec.GenerationError != "":
				warnings = append(warnings, fmt.Sprintf("section %q is a placeholder: %s", sec.Title, sec.GenerationError))
			case strings.TrimSpace(sec.Content) == "":
				warnings = append(warnings, fmt.Sprintf("section %q has no content", sec.Title))
			}

			// The document title is the only H1; section headings are
			// rendered from titles, so an H1 in the body collides with it.
			for _, line := range strings.Split(sec.Content, "\n") {
				if strings.HasPrefix(line, "# ") {
					warnings = append(warnings, fmt.Sprintf("section %q contains a top-level heading: %q",
						sec.Title, strings.TrimSpace(line)))
				}
			}

			placed := make(map[string]bool, len(sec.Images))
			for _, img := range sec.Images {
				placed[img.ImageID] = true
			}
			for _, m := range imageRefPattern.FindAllStringSubmatch(sec.Content, -1) {
				target := strings.TrimSpace(m[1])
				switch {
				case target == "":
					warnings = append(warnings, fmt.Sprintf("section %q has an image reference with no target", sec.Title))
				case strings.HasPrefix(target, "image://") && !placed[strings.TrimPrefix(target, "image://")]:
					warnings = append(warnings, fmt.Sprintf("section %q references unplaced image %s", sec.Title, target))
				}
			}
		})
	}
	if len(refs) == 0 {
		warnings = append(warnings, "document cites no references")
	}
	return warnings
}

const reviewSystem = `You are the final editorial reviewer for a synthesized scholarly document.
Identify contradictions, readability problems, missing transitions between sections, citation
problems, logical-flow problems, and unclear passages. Score clarity, coherence, consistency,
and completeness in [0,1].`

var stringList = map[string]any{"type": "array", "items": map[string]any{"type": "string"}}

var unitScore = map[string]any{"type": "number", "minimum": 0, "maximum": 1}

var reviewSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"contradictions":      stringList,
		"readability_issues":  stringList,
		"missing_transitions": stringList,
		"citation_issues":     stringList,
		"logical_flow_issues": stringList,
		"clarity_issues":      stringList,
		"quality_scores": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"clarity":      unitScore,
				"coherence":    unitScore,
				"consistency":  unitScore,
				"completeness": unitScore,
			},
			"required":             []string{"clarity", "coherence", "consistency", "completeness"},
			"additionalProperties": false,
		},
	},
	"required": []string{
		"contradictions", "readability_issues", "missing_transitions",
		"citation_issues", "logical_flow_issues", "clarity_issues", "quality_scores",
	},
	"additionalProperties": false,
}

// stageReview runs the editorial review call and stores its output
// verbatim. The reviewer's verdict is advisory.
func (o *Orchestrator) stageReview(ctx context.Context, doc *Document, state *runState, meta gateway.CallMeta) (any, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Topic: %s\nSections: %d\nReferences: %d\nTotal words: %d\n",
		doc.Topic, len(state.Sections), len(state.References), types.TotalSectionWords(state.Sections))
	fmt.Fprintf(&sb, "Quality scores: depth %.2f, coverage %.2f, evidence %.2f, currency %.2f\n",
		state.Quality.Depth, state.Quality.Coverage, state.Quality.Evidence, state.Quality.Currency)
	if state.FactCheck != nil {
		fmt.Fprintf(&sb, "Fact check: accuracy %.2f, passed %t\n",
			state.FactCheck.OverallAccuracy, state.FactCheck.Passed)
	}
	if state.GapReport != nil {
		fmt.Fprintf(&sb, "Gap analysis: completeness %.2f, requires revision %t\n",
			state.GapReport.CompletenessScore, state.GapReport.RequiresRevision)
	}
	if len(state.Format.Warnings) > 0 {
		sb.WriteString("Formatting warnings:\n")
		for _, w := range state.Format.Warnings {
			fmt.Fprintf(&sb, "- %s\n", w)
		}
	}
	sb.WriteString("\nTable of contents:\n")
	sb.WriteString(state.Format.TOC)
	sb.WriteString("\nDocument body:\n")
	for i := range state.Sections {
		state.Sections[i].Walk(1, func(sec *types.Section, depth int) {
			fmt.Fprintf(&sb, "%s %s\n%s\n\n", strings.Repeat("#", depth), sec.Title, sec.Content)
		})
	}

	meta.Operation = "final_review"
	res, err := o.deps.Gateway.GenerateStructured(ctx, types.TaskSummarization, &gateway.StructuredRequest{
		System:     reviewSystem,
		Prompt:     sb.String(),
		SchemaName: "final_review",
		Schema:     reviewSchema,
		Meta:       meta,
	})
	if err != nil {
		return nil, fmt.Errorf("final review failed: %w", err)
	}

	state.Review = res.Data
	return rawJSON{Data: res.Data}, nil
}

// stageFinalize stamps the version and flips the current-version flag,
// retiring the parent when this run is a regeneration.
func (o *Orchestrator) stageFinalize(ctx context.Context, doc *Document, state *runState) (any, error) {
	fields := map[string]any{
		"version":            "1.0",
		"is_current_version": true,
		"total_words":        types.TotalSectionWords(state.Sections),
	}
	if err := o.deps.Documents.Update(ctx, doc.ID, fields); err != nil {
		return nil, err
	}

	if doc.ParentDocumentID != "" {
		err := o.deps.Documents.Update(ctx, doc.ParentDocumentID, map[string]any{
			"is_current_version": false,
		})
		if err != nil {
			o.logger.Warn("failed to retire parent version",
				"document", doc.ID, "parent", doc.ParentDocumentID, "error", err)
		}
	}
	return fields, nil
}

// stageDeliver marks the document complete. The terminal event is
// published by Run once the checkpoint commits.
func (o *Orchestrator) stageDeliver(ctx context.Context, doc *Document, state *runState) (any, error) {
	if err := o.deps.Documents.Update(ctx, doc.ID, map[string]any{
		"generation_status": StatusCompleted,
	}); err != nil {
		return nil, err
	}
	doc.GenerationStatus = StatusCompleted
	return map[string]string{"status": StatusCompleted}, nil
}
