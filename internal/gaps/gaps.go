// Package gaps analyzes a generated document for missing content,
// uncited evidence, uneven structure, and stale sourcing.
package gaps

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/jackzampolin/folio/internal/gateway"
	"github.com/jackzampolin/folio/internal/types"
)

// Issue categories.
const (
	CategoryCompleteness = "completeness"
	CategoryCoverage     = "coverage"
	CategoryBalance      = "balance"
	CategoryTemporal     = "temporal"
	CategoryCriticalInfo = "critical_info"
)

// Section balance thresholds relative to the mean word count.
const (
	shortSectionFactor = 0.4
	longSectionFactor  = 2.5
	maxVariation       = 0.6
)

// Coverage thresholds.
const (
	uncitedRelevance = 0.85
	minInternalRatio = 0.2
	maxInternalRatio = 0.8
)

// RevisionScoreFloor marks documents below it as needing revision.
const RevisionScoreFloor = 0.75

// ResearchGap is a stage-2 identified gap the document should address.
type ResearchGap struct {
	Description string         `json:"description"`
	Keywords    []string       `json:"keywords"`
	Severity    types.Severity `json:"severity"`
}

// Issue is one finding of the analyzer.
type Issue struct {
	Category    string         `json:"category"`
	Description string         `json:"description"`
	Severity    types.Severity `json:"severity"`
}

// Report aggregates the findings and the completeness verdict.
type Report struct {
	Issues            []Issue `json:"issues"`
	CompletenessScore float64 `json:"completeness_score"`
	RequiresRevision  bool    `json:"requires_revision"`
}

// Input is the completed document state the analyzer inspects.
type Input struct {
	Topic        string
	DocumentType string
	Sections     []types.Section
	Sources      []types.Source
	ResearchGaps []ResearchGap
}

const criticalInfoSystem = `You review a scholarly document outline for missing essential content.
Given the document type and section titles, list the 3 to 5 most important missing topics, if any.`

var criticalInfoSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"missing": map[string]any{
			"type":     "array",
			"maxItems": 5,
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"description": map[string]any{"type": "string"},
					"severity":    map[string]any{"type": "string", "enum": []string{"critical", "high", "medium", "low"}},
				},
				"required":             []string{"description", "severity"},
				"additionalProperties": false,
			},
		},
	},
	"required":             []string{"missing"},
	"additionalProperties": false,
}

// Analyzer runs the five gap checks over a document.
type Analyzer struct {
	gw     gateway.Client
	logger *slog.Logger

	// now is a test hook for temporal coverage.
	now func() time.Time
}

// New creates a gap analyzer.
func New(gw gateway.Client, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{
		gw:     gw,
		logger: logger.With("component", "gaps"),
		now:    time.Now,
	}
}

// Analyze runs every check and scores the result. The completeness
// score starts at 1.0 and loses 0.15/0.08/0.04/0.02 per
// critical/high/medium/low issue, clamped to [0,1]. Revision is
// required when any critical issue exists, more than two high issues
// exist, or the score falls below the floor.
func (a *Analyzer) Analyze(ctx context.Context, in Input, meta gateway.CallMeta) (*Report, error) {
	text := strings.ToLower(concatContent(in.Sections))

	var issues []Issue
	issues = append(issues, a.checkCompleteness(in.ResearchGaps, text)...)
	issues = append(issues, a.checkCoverage(in.Sources, in.Sections, text)...)
	issues = append(issues, a.checkBalance(in.Sections)...)
	issues = append(issues, a.checkTemporal(in.Sources)...)
	issues = append(issues, a.checkCriticalInfo(ctx, in, meta)...)

	// Consumers read issues most severe first. Stable keeps the check
	// order within a severity.
	sort.SliceStable(issues, func(i, j int) bool {
		return issues[i].Severity.Rank() > issues[j].Severity.Rank()
	})

	score := 1.0
	criticals, highs := 0, 0
	for _, issue := range issues {
		score -= deduction(issue.Severity)
		switch issue.Severity {
		case types.SeverityCritical:
			criticals++
		case types.SeverityHigh:
			highs++
		}
	}
	if score < 0 {
		score = 0
	}

	return &Report{
		Issues:            issues,
		CompletenessScore: score,
		RequiresRevision:  criticals > 0 || highs > 2 || score < RevisionScoreFloor,
	}, nil
}

func deduction(sev types.Severity) float64 {
	switch sev {
	case types.SeverityCritical:
		return 0.15
	case types.SeverityHigh:
		return 0.08
	case types.SeverityMedium:
		return 0.04
	default:
		return 0.02
	}
}

// checkCompleteness flags stage-2 research gaps whose keywords the
// document never picked up. A gap counts as addressed when at least
// half its keywords appear in the text.
func (a *Analyzer) checkCompleteness(researchGaps []ResearchGap, text string) []Issue {
	var issues []Issue
	for _, gap := range researchGaps {
		if len(gap.Keywords) == 0 {
			continue
		}
		hits := 0
		for _, kw := range gap.Keywords {
			if strings.Contains(text, strings.ToLower(kw)) {
				hits++
			}
		}
		if hits*2 >= len(gap.Keywords) {
			continue
		}
		issues = append(issues, Issue{
			Category:    CategoryCompleteness,
			Description: fmt.Sprintf("research gap not addressed: %s", gap.Description),
			Severity:    gap.Severity,
		})
	}
	return issues
}

// checkCoverage flags highly relevant sources that are never cited and
// an internal/external mix outside the healthy band.
func (a *Analyzer) checkCoverage(sources []types.Source, sections []types.Section, text string) []Issue {
	cited := citedIDs(sections)

	var issues []Issue
	internal := 0
	for _, src := range sources {
		if src.SourceType == types.SourceInternal {
			internal++
		}
		if src.RelevanceScore < uncitedRelevance {
			continue
		}
		if isCited(src, cited, text) {
			continue
		}
		issues = append(issues, Issue{
			Category:    CategoryCoverage,
			Description: fmt.Sprintf("highly relevant source not cited: %s", src.Title),
			Severity:    types.SeverityMedium,
		})
	}

	if len(sources) > 0 {
		ratio := float64(internal) / float64(len(sources))
		if ratio < minInternalRatio || ratio > maxInternalRatio {
			sev := types.SeverityLow
			if ratio == 0 || ratio == 1 {
				sev = types.SeverityMedium
			}
			issues = append(issues, Issue{
				Category:    CategoryCoverage,
				Description: fmt.Sprintf("internal/external source ratio %.2f outside [%.1f, %.1f]", ratio, minInternalRatio, maxInternalRatio),
				Severity:    sev,
			})
		}
	}
	return issues
}

func citedIDs(sections []types.Section) map[string]bool {
	cited := make(map[string]bool)
	for i := range sections {
		sections[i].Walk(1, func(sec *types.Section, _ int) {
			for _, id := range sec.SourceIDs {
				cited[id] = true
			}
		})
	}
	return cited
}

// isCited matches by source id, identifier, then title keywords.
func isCited(src types.Source, cited map[string]bool, text string) bool {
	if src.ID != "" && cited[src.ID] {
		return true
	}
	if src.DOI != "" && strings.Contains(text, strings.ToLower(src.DOI)) {
		return true
	}
	if src.PMID != "" && strings.Contains(text, src.PMID) {
		return true
	}

	words := significantWords(src.Title)
	if len(words) == 0 {
		return false
	}
	hits := 0
	for _, w := range words {
		if strings.Contains(text, w) {
			hits++
		}
	}
	return hits*10 >= len(words)*6
}

func significantWords(title string) []string {
	var words []string
	for _, w := range strings.Fields(strings.ToLower(title)) {
		if len(w) > 3 {
			words = append(words, w)
		}
	}
	return words
}

// checkBalance flags sections far from the mean length and overall
// high variation.
func (a *Analyzer) checkBalance(sections []types.Section) []Issue {
	if len(sections) < 2 {
		return nil
	}

	counts := make([]float64, len(sections))
	mean := 0.0
	for i := range sections {
		counts[i] = float64(sections[i].TotalWords())
		mean += counts[i]
	}
	mean /= float64(len(counts))
	if mean == 0 {
		return nil
	}

	var issues []Issue
	variance := 0.0
	for i, wc := range counts {
		variance += (wc - mean) * (wc - mean)
		if wc < shortSectionFactor*mean {
			issues = append(issues, Issue{
				Category:    CategoryBalance,
				Description: fmt.Sprintf("section %q is much shorter than average (%d words)", sections[i].Title, int(wc)),
				Severity:    types.SeverityMedium,
			})
		} else if wc > longSectionFactor*mean {
			issues = append(issues, Issue{
				Category:    CategoryBalance,
				Description: fmt.Sprintf("section %q is much longer than average (%d words)", sections[i].Title, int(wc)),
				Severity:    types.SeverityLow,
			})
		}
	}

	cv := math.Sqrt(variance/float64(len(counts))) / mean
	if cv > maxVariation {
		issues = append(issues, Issue{
			Category:    CategoryBalance,
			Description: fmt.Sprintf("section lengths vary widely (coefficient of variation %.2f)", cv),
			Severity:    types.SeverityMedium,
		})
	}
	return issues
}

// checkTemporal flags missing or stale external evidence.
func (a *Analyzer) checkTemporal(sources []types.Source) []Issue {
	year := a.now().Year()

	var years []int
	external := 0
	for _, src := range sources {
		if src.SourceType == types.SourceInternal {
			continue
		}
		external++
		if src.Year > 0 {
			years = append(years, src.Year)
		}
	}

	if external == 0 || len(years) == 0 {
		return []Issue{{
			Category:    CategoryTemporal,
			Description: "no dated external sources to assess currency",
			Severity:    types.SeverityHigh,
		}}
	}

	recent, old := 0, 0
	for _, y := range years {
		age := year - y
		if age < 2 {
			recent++
		}
		if age > 10 {
			old++
		}
	}

	var issues []Issue
	if float64(recent)/float64(len(years)) < 0.2 {
		issues = append(issues, Issue{
			Category:    CategoryTemporal,
			Description: "fewer than 20% of sources are from the last two years",
			Severity:    types.SeverityMedium,
		})
	}
	if float64(old)/float64(len(years)) > 0.5 {
		issues = append(issues, Issue{
			Category:    CategoryTemporal,
			Description: "more than half of the sources are over ten years old",
			Severity:    types.SeverityMedium,
		})
	}
	return issues
}

// checkCriticalInfo asks the model what essentials the document type
// demands but the outline lacks. Best-effort: a failed call is logged
// and contributes no issues.
func (a *Analyzer) checkCriticalInfo(ctx context.Context, in Input, meta gateway.CallMeta) []Issue {
	var titles []string
	for i := range in.Sections {
		in.Sections[i].Walk(1, func(sec *types.Section, depth int) {
			titles = append(titles, strings.Repeat("  ", depth-1)+sec.Title)
		})
	}

	meta.Operation = "critical_info_check"
	res, err := a.gw.GenerateStructured(ctx, types.TaskSummarization, &gateway.StructuredRequest{
		System: criticalInfoSystem,
		Prompt: fmt.Sprintf("Topic: %s\nDocument type: %s\n\nOutline:\n%s",
			in.Topic, in.DocumentType, strings.Join(titles, "\n")),
		SchemaName: "critical_info",
		Schema:     criticalInfoSchema,
		Meta:       meta,
	})
	if err != nil {
		a.logger.Warn("critical info check failed", "error", err)
		return nil
	}

	var parsed struct {
		Missing []struct {
			Description string `json:"description"`
			Severity    string `json:"severity"`
		} `json:"missing"`
	}
	if err := json.Unmarshal(res.Data, &parsed); err != nil {
		a.logger.Warn("critical info check unparseable", "error", err)
		return nil
	}

	var issues []Issue
	for _, item := range parsed.Missing {
		issues = append(issues, Issue{
			Category:    CategoryCriticalInfo,
			Description: item.Description,
			Severity:    types.ParseSeverity(item.Severity),
		})
	}
	return issues
}

func concatContent(sections []types.Section) string {
	var sb strings.Builder
	for i := range sections {
		sections[i].Walk(1, func(sec *types.Section, _ int) {
			sb.WriteString(sec.Title)
			sb.WriteString("\n")
			sb.WriteString(sec.Content)
			sb.WriteString("\n")
		})
	}
	return sb.String()
}
