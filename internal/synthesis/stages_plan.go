package synthesis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackzampolin/folio/internal/gateway"
	"github.com/jackzampolin/folio/internal/types"
)

// SectionTypes is the closed set of section tags; "custom" escapes it.
var SectionTypes = []string{
	"introduction", "epidemiology", "pathophysiology", "clinical_presentation",
	"diagnostic_evaluation", "differential_diagnosis", "treatment_options",
	"surgical_technique", "postoperative_management", "complications",
	"outcomes", "future_directions", "custom",
}

const planSystem = `You are outlining a scholarly document before drafting.
Produce an ordered section plan: for each section give a type tag, a one-line rationale, the key points to cover, an estimated word count, keywords hinting which sources it should draw on, and optional subsections.
Nesting may go at most four levels deep. The section-type templates are guidance, not a straitjacket; use "custom" when nothing fits.`

func planSchema() map[string]any {
	section := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title":             map[string]any{"type": "string"},
			"section_type":      map[string]any{"type": "string", "enum": SectionTypes},
			"rationale":         map[string]any{"type": "string"},
			"key_points":        map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"estimated_words":   map[string]any{"type": "integer"},
			"source_hints":      map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"image_suggestions": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
		"required":             []string{"title", "section_type", "key_points"},
		"additionalProperties": false,
	}

	// Unroll the recursion to the depth bound; structured-output
	// validators reject cyclic schemas.
	nested := section
	for i := 1; i < types.MaxSectionDepth; i++ {
		inner := map[string]any{}
		for k, v := range section {
			inner[k] = v
		}
		props := map[string]any{}
		for k, v := range section["properties"].(map[string]any) {
			props[k] = v
		}
		props["subsections"] = map[string]any{"type": "array", "items": nested}
		inner["properties"] = props
		nested = inner
	}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"sections": map[string]any{"type": "array", "items": nested},
		},
		"required":             []string{"sections"},
		"additionalProperties": false,
	}
}

// stagePlan produces the stage-5 outline.
func (o *Orchestrator) stagePlan(ctx context.Context, doc *Document, state *runState, meta gateway.CallMeta) (any, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Topic: %s\nDocument type: %s\nEstimated sections: %d\n",
		doc.Topic, state.Analysis.DocumentType, state.Analysis.EstimatedSections)
	if len(state.Context.ResearchGaps) > 0 {
		sb.WriteString("\nResearch gaps to address:\n")
		for _, g := range state.Context.ResearchGaps {
			fmt.Fprintf(&sb, "- %s\n", g.Description)
		}
	}
	sb.WriteString("\nAvailable sources:\n")
	for _, src := range state.allSources() {
		fmt.Fprintf(&sb, "- %s", src.Title)
		if src.Year > 0 {
			fmt.Fprintf(&sb, " (%d)", src.Year)
		}
		sb.WriteString("\n")
	}

	meta.Operation = "planning"
	res, err := o.deps.Gateway.GenerateStructured(ctx, types.TaskContentDrafting, &gateway.StructuredRequest{
		System:     planSystem,
		Prompt:     sb.String(),
		SchemaName: "section_plan",
		Schema:     planSchema(),
		Meta:       meta,
	})
	if err != nil {
		return nil, fmt.Errorf("planning failed: %w", err)
	}

	var plan Plan
	if err := json.Unmarshal(res.Data, &plan); err != nil {
		return nil, fmt.Errorf("failed to parse plan: %w", err)
	}
	if len(plan.Sections) == 0 {
		return nil, fmt.Errorf("planner produced no sections")
	}
	clampPlanDepth(plan.Sections, 1)

	state.Plan = plan
	return plan, nil
}

// clampPlanDepth drops subsections past the depth bound.
func clampPlanDepth(sections []PlannedSection, depth int) {
	for i := range sections {
		if depth >= types.MaxSectionDepth {
			sections[i].Subsections = nil
			continue
		}
		clampPlanDepth(sections[i].Subsections, depth+1)
	}
}
