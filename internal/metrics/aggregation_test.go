package metrics

import (
	"strings"
	"testing"
)

func TestPercentile(t *testing.T) {
	sorted := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

	if p := percentile(sorted, 50); p != 5.5 {
		t.Errorf("p50 = %v, want 5.5", p)
	}
	if p := percentile(sorted, 100); p != 10 {
		t.Errorf("p100 = %v, want 10", p)
	}
	if p := percentile([]float64{42}, 95); p != 42 {
		t.Errorf("single value p95 = %v, want 42", p)
	}
	if p := percentile(nil, 50); p != 0 {
		t.Errorf("empty p50 = %v, want 0", p)
	}
}

func TestComputeDetailedStats(t *testing.T) {
	metrics := []Metric{
		{CostUSD: 0.01, PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150, ExecutionSeconds: 1.0, Success: true},
		{CostUSD: 0.02, PromptTokens: 200, CompletionTokens: 100, TotalTokens: 300, ExecutionSeconds: 2.0, Success: true},
		{ExecutionSeconds: 0.5, Success: false, ErrorType: "provider unavailable"},
	}

	stats := computeDetailedStats(metrics)
	if stats.Count != 3 {
		t.Errorf("count = %d", stats.Count)
	}
	if stats.SuccessCount != 2 || stats.ErrorCount != 1 {
		t.Errorf("success/error = %d/%d", stats.SuccessCount, stats.ErrorCount)
	}
	if stats.TotalCostUSD != 0.03 {
		t.Errorf("total cost = %v", stats.TotalCostUSD)
	}
	if stats.TotalTokens != 450 {
		t.Errorf("total tokens = %d", stats.TotalTokens)
	}
	if stats.LatencyMin != 0.5 || stats.LatencyMax != 2.0 {
		t.Errorf("latency min/max = %v/%v", stats.LatencyMin, stats.LatencyMax)
	}
}

func TestBuildFilterClause(t *testing.T) {
	if got := buildFilterClause(Filter{}); got != "" {
		t.Errorf("empty filter = %q", got)
	}

	success := true
	got := buildFilterClause(Filter{DocumentID: "doc-1", Stage: "stage_8", Success: &success})
	for _, want := range []string{`document_id: {_eq: "doc-1"}`, `stage: {_eq: "stage_8"}`, `success: {_eq: true}`} {
		if !strings.Contains(got, want) {
			t.Errorf("filter clause %q missing %q", got, want)
		}
	}
}

func TestMetricToMap(t *testing.T) {
	m := Metric{
		DocumentID: "doc-1",
		Stage:      "stage_10",
		ItemKey:    "section_2_draft",
		Provider:   "openrouter",
		Model:      "anthropic/claude-sonnet-4.5",
		CostUSD:    0.004,
		Success:    true,
	}
	data := m.ToMap()

	if data["document_id"] != "doc-1" {
		t.Errorf("document_id = %v", data["document_id"])
	}
	if data["cost_usd"] != 0.004 {
		t.Errorf("cost_usd = %v", data["cost_usd"])
	}
	// Zero-valued optionals are omitted.
	if _, ok := data["task_id"]; ok {
		t.Error("empty task_id should be omitted")
	}
	if _, ok := data["prompt_tokens"]; ok {
		t.Error("zero prompt_tokens should be omitted")
	}
}
