// Package factcheck verifies the factual claims of generated sections
// against the document's source list.
package factcheck

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackzampolin/folio/internal/gateway"
	"github.com/jackzampolin/folio/internal/types"
)

// Pass criteria.
const (
	passAccuracy        = 0.90
	passAccuracyRelaxed = 0.80
	maxCriticalIssues   = 2
)

// Claim is one extracted statement and its verification verdict.
type Claim struct {
	Text       string         `json:"text"`
	Category   string         `json:"category"`
	Verified   bool           `json:"verified"`
	Confidence float64        `json:"confidence"`
	Severity   types.Severity `json:"severity"`
	SourceRef  string         `json:"source_ref,omitempty"`
}

// SectionResult holds the claims of one section.
type SectionResult struct {
	SectionTitle string  `json:"section_title"`
	Claims       []Claim `json:"claims"`
	Error        string  `json:"error,omitempty"`
}

// Report aggregates verification across all sections.
type Report struct {
	Sections           []SectionResult `json:"sections"`
	TotalClaims        int             `json:"total_claims"`
	VerifiedClaims     int             `json:"verified_claims"`
	OverallAccuracy    float64         `json:"overall_accuracy"`
	CriticalUnverified int             `json:"critical_unverified"`
	Passed             bool            `json:"passed"`
}

const checkSystem = `You are a fact checker for scholarly writing.
Extract the factual claims from the section, categorize each, and mark it verified only if the provided sources support it.
For every claim give a confidence between 0.0 and 1.0, the severity if the claim were wrong, and the supporting source number when verified.`

var claimSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"claims": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"text":       map[string]any{"type": "string"},
					"category":   map[string]any{"type": "string"},
					"verified":   map[string]any{"type": "boolean"},
					"confidence": map[string]any{"type": "number"},
					"severity":   map[string]any{"type": "string", "enum": []string{"critical", "high", "medium", "low"}},
					"source_ref": map[string]any{"type": "string"},
				},
				"required":             []string{"text", "category", "verified", "confidence", "severity"},
				"additionalProperties": false,
			},
		},
	},
	"required":             []string{"claims"},
	"additionalProperties": false,
}

// Checker runs per-section verification calls.
type Checker struct {
	gw     gateway.Client
	logger *slog.Logger
}

// New creates a fact checker.
func New(gw gateway.Client, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{gw: gw, logger: logger.With("component", "factcheck")}
}

// Check verifies every section with content (subsections included)
// and aggregates the verdict. A section whose call fails records the
// error and contributes no claims. A document with no extractable
// claims passes vacuously.
func (c *Checker) Check(ctx context.Context, sections []types.Section, sources []types.Source, meta gateway.CallMeta) (*Report, error) {
	sourceList := formatSources(sources)

	report := &Report{}
	for i := range sections {
		sections[i].Walk(1, func(sec *types.Section, _ int) {
			if strings.TrimSpace(sec.Content) == "" {
				return
			}

			result := SectionResult{SectionTitle: sec.Title}
			claims, err := c.checkSection(ctx, sec, sourceList, meta)
			if err != nil {
				c.logger.Warn("section fact check failed", "section", sec.Title, "error", err)
				result.Error = err.Error()
			} else {
				result.Claims = claims
			}
			report.Sections = append(report.Sections, result)
		})
	}

	for _, sec := range report.Sections {
		for _, claim := range sec.Claims {
			report.TotalClaims++
			if claim.Verified {
				report.VerifiedClaims++
			} else if claim.Severity == types.SeverityCritical {
				report.CriticalUnverified++
			}
		}
	}

	report.OverallAccuracy = 1.0
	if report.TotalClaims > 0 {
		report.OverallAccuracy = float64(report.VerifiedClaims) / float64(report.TotalClaims)
	}

	accuracyOK := report.OverallAccuracy >= passAccuracy ||
		(report.OverallAccuracy >= passAccuracyRelaxed && report.CriticalUnverified == 0)
	report.Passed = accuracyOK && report.CriticalUnverified <= maxCriticalIssues

	return report, nil
}

func (c *Checker) checkSection(ctx context.Context, sec *types.Section, sourceList string, meta gateway.CallMeta) ([]Claim, error) {
	meta.Operation = fmt.Sprintf("fact_check:%s", sec.Title)
	res, err := c.gw.GenerateStructured(ctx, types.TaskFactVerification, &gateway.StructuredRequest{
		System:     checkSystem,
		Prompt:     fmt.Sprintf("Sources:\n%s\n\nSection %q:\n%s", sourceList, sec.Title, sec.Content),
		SchemaName: "fact_check",
		Schema:     claimSchema,
		Meta:       meta,
	})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Claims []struct {
			Text       string  `json:"text"`
			Category   string  `json:"category"`
			Verified   bool    `json:"verified"`
			Confidence float64 `json:"confidence"`
			Severity   string  `json:"severity"`
			SourceRef  string  `json:"source_ref"`
		} `json:"claims"`
	}
	if err := json.Unmarshal(res.Data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse fact check response: %w", err)
	}

	claims := make([]Claim, 0, len(parsed.Claims))
	for _, cl := range parsed.Claims {
		claims = append(claims, Claim{
			Text:       cl.Text,
			Category:   cl.Category,
			Verified:   cl.Verified,
			Confidence: cl.Confidence,
			Severity:   types.ParseSeverity(cl.Severity),
			SourceRef:  cl.SourceRef,
		})
	}
	return claims, nil
}

func formatSources(sources []types.Source) string {
	if len(sources) == 0 {
		return "(none provided)"
	}
	var sb strings.Builder
	for i, src := range sources {
		fmt.Fprintf(&sb, "%d. %s", i+1, src.Title)
		if src.Year > 0 {
			fmt.Fprintf(&sb, " (%d)", src.Year)
		}
		if src.Journal != "" {
			fmt.Fprintf(&sb, ", %s", src.Journal)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
