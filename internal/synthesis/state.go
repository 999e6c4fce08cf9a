package synthesis

import (
	"encoding/json"

	"github.com/jackzampolin/folio/internal/factcheck"
	"github.com/jackzampolin/folio/internal/gaps"
	"github.com/jackzampolin/folio/internal/types"
)

// TotalStages is the number of pipeline stages.
const TotalStages = 14

// StageName returns the human-readable name of a stage ordinal.
func StageName(stage int) string {
	switch stage {
	case 1:
		return "input_validation"
	case 2:
		return "context_building"
	case 3:
		return "internal_retrieval"
	case 4:
		return "external_retrieval"
	case 5:
		return "planning"
	case 6:
		return "section_generation"
	case 7:
		return "image_integration"
	case 8:
		return "citation_network"
	case 9:
		return "quality_assurance"
	case 10:
		return "fact_checking"
	case 11:
		return "formatting"
	case 12:
		return "review"
	case 13:
		return "finalization"
	case 14:
		return "delivery"
	default:
		return "unknown"
	}
}

// Analysis is the stage-1 topic breakdown.
type Analysis struct {
	PrimaryConcepts   []string `json:"primary_concepts"`
	DocumentType      string   `json:"document_type"`
	Keywords          []string `json:"keywords"`
	Complexity        string   `json:"complexity"`
	EstimatedSections int      `json:"estimated_sections"`
}

// ContextInfo is the stage-2 research framing.
type ContextInfo struct {
	ResearchGaps       []gaps.ResearchGap `json:"research_gaps"`
	KeyReferences      []string           `json:"key_references"`
	SourceDistribution map[string]float64 `json:"source_distribution,omitempty"`
	TemporalRange      string             `json:"temporal_range,omitempty"`
	Confidence         float64            `json:"confidence"`
}

// ImageRef is a candidate figure discovered during internal retrieval.
type ImageRef struct {
	ID       string   `json:"id"`
	BookID   string   `json:"book_id"`
	Page     int      `json:"page"`
	Keywords []string `json:"keywords,omitempty"`
}

// RetrievalOutput is the stage-3 result: ranked internal sources plus
// the figures their chapters carry.
type RetrievalOutput struct {
	Sources []types.Source `json:"sources"`
	Images  []ImageRef     `json:"images,omitempty"`
}

// ExternalOutput is the stage-4 result. Track membership is carried by
// each source's source_type.
type ExternalOutput struct {
	Sources []types.Source `json:"sources"`
}

// PlannedSection is one outline entry from stage 5.
type PlannedSection struct {
	Title            string           `json:"title"`
	SectionType      string           `json:"section_type"`
	Rationale        string           `json:"rationale,omitempty"`
	KeyPoints        []string         `json:"key_points,omitempty"`
	EstimatedWords   int              `json:"estimated_words,omitempty"`
	SourceHints      []string         `json:"source_hints,omitempty"`
	ImageSuggestions []string         `json:"image_suggestions,omitempty"`
	Subsections      []PlannedSection `json:"subsections,omitempty"`
}

// Plan is the stage-5 outline.
type Plan struct {
	Sections []PlannedSection `json:"sections"`
}

// QualityScores is the stage-9 output.
type QualityScores struct {
	Depth    float64 `json:"depth"`
	Coverage float64 `json:"coverage"`
	Evidence float64 `json:"evidence"`
	Currency float64 `json:"currency"`
}

// FormatOutput is the stage-11 output.
type FormatOutput struct {
	TOC      string   `json:"toc"`
	Warnings []string `json:"warnings,omitempty"`
}

// runState accumulates stage outputs across one run. On resume it is
// rebuilt from checkpoints.
type runState struct {
	Analysis   Analysis
	Context    ContextInfo
	Internal   RetrievalOutput
	External   ExternalOutput
	Plan       Plan
	Sections   []types.Section
	References []types.Reference
	Quality    QualityScores
	FactCheck  *factcheck.Report
	Format     FormatOutput
	Review     json.RawMessage
	GapReport  *gaps.Report
}

// allSources returns internal then external sources, the citation
// first-seen order.
func (st *runState) allSources() []types.Source {
	out := make([]types.Source, 0, len(st.Internal.Sources)+len(st.External.Sources))
	out = append(out, st.Internal.Sources...)
	out = append(out, st.External.Sources...)
	return out
}
