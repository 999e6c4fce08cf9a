package synthesis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackzampolin/folio/internal/gaps"
	"github.com/jackzampolin/folio/internal/gateway"
	"github.com/jackzampolin/folio/internal/types"
)

const analyzeSystem = `You are a scholarly editor breaking a topic down before a literature synthesis.
Identify the primary concepts, classify the document type, and estimate the scope.`

var analysisSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"primary_concepts": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"document_type": map[string]any{
			"type": "string",
			"enum": []string{TypeSurgicalDisease, TypePureAnatomy, TypeSurgicalTechnique},
		},
		"keywords":           map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"complexity":         map[string]any{"type": "string", "enum": []string{"low", "moderate", "high"}},
		"estimated_sections": map[string]any{"type": "integer"},
	},
	"required":             []string{"primary_concepts", "document_type", "keywords", "complexity", "estimated_sections"},
	"additionalProperties": false,
}

// stageAnalyze validates the topic and produces the stage-1 breakdown.
func (o *Orchestrator) stageAnalyze(ctx context.Context, doc *Document, state *runState, meta gateway.CallMeta) (any, error) {
	topic := strings.TrimSpace(doc.Topic)
	if len([]rune(topic)) < MinTopicLength {
		return nil, fmt.Errorf("%w: topic %q too short", types.ErrInvalidInput, topic)
	}

	meta.Operation = "chapter_analysis"
	prompt := fmt.Sprintf("Topic: %s", topic)
	if doc.DocumentType != "" {
		prompt += fmt.Sprintf("\nRequested document type: %s", doc.DocumentType)
	}

	res, err := o.deps.Gateway.GenerateStructured(ctx, types.TaskMetadataExtraction, &gateway.StructuredRequest{
		System:     analyzeSystem,
		Prompt:     prompt,
		SchemaName: "chapter_analysis",
		Schema:     analysisSchema,
		Meta:       meta,
	})
	if err != nil {
		return nil, fmt.Errorf("topic analysis failed: %w", err)
	}
	if err := json.Unmarshal(res.Data, &state.Analysis); err != nil {
		return nil, fmt.Errorf("failed to parse topic analysis: %w", err)
	}

	// A caller-provided type wins over the classifier.
	if doc.DocumentType != "" {
		state.Analysis.DocumentType = doc.DocumentType
	} else if state.Analysis.DocumentType != "" {
		if err := o.deps.Documents.Update(ctx, doc.ID, map[string]any{
			"document_type": state.Analysis.DocumentType,
		}); err != nil {
			return nil, err
		}
		doc.DocumentType = state.Analysis.DocumentType
	}

	return state.Analysis, nil
}

const contextSystem = `You are preparing the research context for a literature synthesis.
Identify research gaps the document must address, landmark references, the expected mix of source categories, and the publication window that matters.`

var contextSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"research_gaps": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"description": map[string]any{"type": "string"},
					"keywords":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"severity":    map[string]any{"type": "string", "enum": []string{"critical", "high", "medium", "low"}},
				},
				"required":             []string{"description", "keywords", "severity"},
				"additionalProperties": false,
			},
		},
		"key_references": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"source_distribution": map[string]any{
			"type":                 "object",
			"additionalProperties": map[string]any{"type": "number"},
		},
		"temporal_range": map[string]any{"type": "string"},
		"confidence":     map[string]any{"type": "number"},
	},
	"required":             []string{"research_gaps", "key_references", "confidence"},
	"additionalProperties": false,
}

// stageContext produces the stage-2 research framing.
func (o *Orchestrator) stageContext(ctx context.Context, doc *Document, state *runState, meta gateway.CallMeta) (any, error) {
	meta.Operation = "context_building"
	res, err := o.deps.Gateway.GenerateStructured(ctx, types.TaskSummarization, &gateway.StructuredRequest{
		System: contextSystem,
		Prompt: fmt.Sprintf("Topic: %s\nDocument type: %s\nPrimary concepts: %s",
			doc.Topic, state.Analysis.DocumentType, strings.Join(state.Analysis.PrimaryConcepts, ", ")),
		SchemaName: "context_building",
		Schema:     contextSchema,
		Meta:       meta,
	})
	if err != nil {
		return nil, fmt.Errorf("context building failed: %w", err)
	}

	var parsed struct {
		ResearchGaps []struct {
			Description string   `json:"description"`
			Keywords    []string `json:"keywords"`
			Severity    string   `json:"severity"`
		} `json:"research_gaps"`
		KeyReferences      []string           `json:"key_references"`
		SourceDistribution map[string]float64 `json:"source_distribution"`
		TemporalRange      string             `json:"temporal_range"`
		Confidence         float64            `json:"confidence"`
	}
	if err := json.Unmarshal(res.Data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse context: %w", err)
	}

	state.Context = ContextInfo{
		KeyReferences:      parsed.KeyReferences,
		SourceDistribution: parsed.SourceDistribution,
		TemporalRange:      parsed.TemporalRange,
		Confidence:         parsed.Confidence,
	}
	for _, g := range parsed.ResearchGaps {
		state.Context.ResearchGaps = append(state.Context.ResearchGaps, gaps.ResearchGap{
			Description: g.Description,
			Keywords:    g.Keywords,
			Severity:    types.ParseSeverity(g.Severity),
		})
	}
	return state.Context, nil
}
