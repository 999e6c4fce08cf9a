package factcheck

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/jackzampolin/folio/internal/gateway"
	"github.com/jackzampolin/folio/internal/types"
)

func claimJSON(verified bool, severity string) string {
	return fmt.Sprintf(`{"text": "a claim", "category": "clinical", "verified": %t, "confidence": 0.9, "severity": %q}`, verified, severity)
}

func queueClaims(gw *gateway.Mock, claims ...string) {
	gw.QueueStructured(types.TaskFactVerification,
		fmt.Sprintf(`{"claims": [%s]}`, strings.Join(claims, ",")))
}

// Ten claims, eight verified, the two failures medium severity: the
// relaxed accuracy branch passes at exactly 0.8 with no criticals.
func TestCheckPassBoundary(t *testing.T) {
	gw := gateway.NewMock()
	claims := make([]string, 0, 10)
	for i := 0; i < 8; i++ {
		claims = append(claims, claimJSON(true, "high"))
	}
	claims = append(claims, claimJSON(false, "medium"), claimJSON(false, "medium"))
	queueClaims(gw, claims...)

	c := New(gw, nil)
	sections := []types.Section{{Title: "Treatment", Content: "Temozolomide improves survival."}}

	report, err := c.Check(context.Background(), sections, nil, gateway.CallMeta{DocumentID: "doc-1", Stage: "stage_10"})
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}

	if report.TotalClaims != 10 || report.VerifiedClaims != 8 {
		t.Fatalf("claims = %d/%d, want 8/10", report.VerifiedClaims, report.TotalClaims)
	}
	if report.OverallAccuracy != 0.8 {
		t.Errorf("accuracy = %v, want 0.8", report.OverallAccuracy)
	}
	if report.CriticalUnverified != 0 {
		t.Errorf("critical unverified = %d, want 0", report.CriticalUnverified)
	}
	if !report.Passed {
		t.Error("passed = false, want true at the relaxed boundary")
	}
}

func TestCheckFailsWithCriticalUnverified(t *testing.T) {
	gw := gateway.NewMock()
	claims := make([]string, 0, 10)
	for i := 0; i < 8; i++ {
		claims = append(claims, claimJSON(true, "high"))
	}
	claims = append(claims, claimJSON(false, "critical"), claimJSON(false, "medium"))
	queueClaims(gw, claims...)

	report, err := New(gw, nil).Check(context.Background(),
		[]types.Section{{Title: "Treatment", Content: "content"}}, nil, gateway.CallMeta{})
	if err != nil {
		t.Fatal(err)
	}
	// 0.8 accuracy with a critical unverified claim takes neither branch.
	if report.Passed {
		t.Error("passed = true, want false")
	}
	if report.CriticalUnverified != 1 {
		t.Errorf("critical unverified = %d", report.CriticalUnverified)
	}
}

func TestCheckHighAccuracyPassesDespiteCritical(t *testing.T) {
	gw := gateway.NewMock()
	claims := make([]string, 0, 20)
	for i := 0; i < 19; i++ {
		claims = append(claims, claimJSON(true, "high"))
	}
	claims = append(claims, claimJSON(false, "critical"))
	queueClaims(gw, claims...)

	report, err := New(gw, nil).Check(context.Background(),
		[]types.Section{{Title: "Body", Content: "content"}}, nil, gateway.CallMeta{})
	if err != nil {
		t.Fatal(err)
	}
	if report.OverallAccuracy != 0.95 {
		t.Errorf("accuracy = %v", report.OverallAccuracy)
	}
	if !report.Passed {
		t.Error("passed = false, want true (accuracy branch, criticals within limit)")
	}
}

func TestCheckTooManyCriticalsFails(t *testing.T) {
	gw := gateway.NewMock()
	claims := make([]string, 0, 40)
	for i := 0; i < 37; i++ {
		claims = append(claims, claimJSON(true, "low"))
	}
	for i := 0; i < 3; i++ {
		claims = append(claims, claimJSON(false, "critical"))
	}
	queueClaims(gw, claims...)

	report, err := New(gw, nil).Check(context.Background(),
		[]types.Section{{Title: "Body", Content: "content"}}, nil, gateway.CallMeta{})
	if err != nil {
		t.Fatal(err)
	}
	// 0.925 accuracy but three critical issues exceed the limit.
	if report.Passed {
		t.Error("passed = true, want false with 3 critical issues")
	}
}

func TestCheckWalksSubsections(t *testing.T) {
	gw := gateway.NewMock()
	queueClaims(gw, claimJSON(true, "low"))
	queueClaims(gw, claimJSON(true, "low"))

	sections := []types.Section{{
		Title:   "Parent",
		Content: "parent content",
		Subsections: []types.Section{
			{Title: "Child", Content: "child content"},
		},
	}}

	report, err := New(gw, nil).Check(context.Background(), sections, nil, gateway.CallMeta{})
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Sections) != 2 {
		t.Fatalf("sections checked = %d, want 2", len(report.Sections))
	}
	if len(gw.StructuredCalls) != 2 {
		t.Errorf("structured calls = %d", len(gw.StructuredCalls))
	}
}

func TestCheckSectionFailureRecorded(t *testing.T) {
	gw := gateway.NewMock()
	gw.Err = context.DeadlineExceeded

	report, err := New(gw, nil).Check(context.Background(),
		[]types.Section{{Title: "Body", Content: "content"}}, nil, gateway.CallMeta{})
	if err != nil {
		t.Fatalf("Check should tolerate section failure: %v", err)
	}
	if len(report.Sections) != 1 || report.Sections[0].Error == "" {
		t.Errorf("sections = %+v, want recorded error", report.Sections)
	}
	// No claims extracted: vacuous pass.
	if report.TotalClaims != 0 || !report.Passed {
		t.Errorf("report = %+v", report)
	}
}

func TestCheckEmptySectionsSkipped(t *testing.T) {
	gw := gateway.NewMock()
	report, err := New(gw, nil).Check(context.Background(),
		[]types.Section{{Title: "Placeholder", Content: "   "}}, nil, gateway.CallMeta{})
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Sections) != 0 || len(gw.StructuredCalls) != 0 {
		t.Errorf("empty section was checked: %+v", report.Sections)
	}
}

func TestCheckPromptIncludesSources(t *testing.T) {
	gw := gateway.NewMock()
	queueClaims(gw, claimJSON(true, "low"))

	sources := []types.Source{{Title: "Landmark Trial", Year: 2020, Journal: "NEJM"}}
	_, err := New(gw, nil).Check(context.Background(),
		[]types.Section{{Title: "Body", Content: "content"}}, sources, gateway.CallMeta{})
	if err != nil {
		t.Fatal(err)
	}

	prompt := gw.StructuredCalls[0].Prompt
	if !strings.Contains(prompt, "1. Landmark Trial (2020), NEJM") {
		t.Errorf("prompt = %q", prompt)
	}
}
