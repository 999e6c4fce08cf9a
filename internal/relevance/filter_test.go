package relevance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackzampolin/folio/internal/gateway"
	"github.com/jackzampolin/folio/internal/types"
)

func TestApplyKeepsAboveThreshold(t *testing.T) {
	gw := gateway.NewMock()
	gw.QueueStructured(types.TaskSourceRelevance, `{"scores": [
		{"index": 0, "score": 0.92, "rationale": "directly on topic"},
		{"index": 1, "score": 0.40, "rationale": "different pathology"},
		{"index": 2, "score": 0.75, "rationale": "relevant review"}
	]}`)

	f := New(gw, nil)
	sources := []types.Source{
		{Title: "Glioblastoma Management"},
		{Title: "Spinal Fusion Techniques"},
		{Title: "High-Grade Glioma Review"},
	}

	kept, err := f.Apply(context.Background(), "glioblastoma treatment", sources, gateway.CallMeta{DocumentID: "doc-1", Stage: "stage_3"})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if len(kept) != 2 {
		t.Fatalf("kept = %d, want 2", len(kept))
	}
	if kept[0].Title != "Glioblastoma Management" || kept[1].Title != "High-Grade Glioma Review" {
		t.Errorf("order not preserved: %s, %s", kept[0].Title, kept[1].Title)
	}
	if kept[0].RelevanceScore != 0.92 || kept[1].RelevanceScore != 0.75 {
		t.Errorf("scores = %v, %v", kept[0].RelevanceScore, kept[1].RelevanceScore)
	}

	if len(gw.StructuredCalls) != 1 {
		t.Fatalf("structured calls = %d", len(gw.StructuredCalls))
	}
	req := gw.StructuredCalls[0]
	if req.SchemaName != "source_relevance" {
		t.Errorf("schema name = %s", req.SchemaName)
	}
	if req.Meta.Operation != "source_relevance" {
		t.Errorf("operation = %s", req.Meta.Operation)
	}
	if !strings.Contains(req.Prompt, "glioblastoma treatment") {
		t.Error("prompt missing query")
	}
}

func TestApplyFailsOpen(t *testing.T) {
	gw := gateway.NewMock()
	gw.Err = errors.New("provider down")

	f := New(gw, nil)
	sources := []types.Source{
		{Title: "Source A"},
		{Title: "Source B"},
	}

	kept, err := f.Apply(context.Background(), "topic", sources, gateway.CallMeta{})
	if err != nil {
		t.Fatalf("Apply should fail open: %v", err)
	}
	if len(kept) != 2 {
		t.Fatalf("kept = %d, want all sources passed through", len(kept))
	}
	if kept[0].RelevanceScore != 0 {
		t.Errorf("unscored source got a score: %v", kept[0].RelevanceScore)
	}
}

func TestApplyBatches(t *testing.T) {
	gw := gateway.NewMock()
	// 12 sources: batches of 10 and 2.
	var firstBatch strings.Builder
	firstBatch.WriteString(`{"scores": [`)
	for i := 0; i < 10; i++ {
		if i > 0 {
			firstBatch.WriteString(",")
		}
		fmt.Fprintf(&firstBatch, `{"index": %d, "score": 0.9, "rationale": "ok"}`, i)
	}
	firstBatch.WriteString(`]}`)
	gw.QueueStructured(types.TaskSourceRelevance, firstBatch.String())
	gw.QueueStructured(types.TaskSourceRelevance, `{"scores": [
		{"index": 0, "score": 0.9, "rationale": "ok"},
		{"index": 1, "score": 0.1, "rationale": "off topic"}
	]}`)

	sources := make([]types.Source, 12)
	for i := range sources {
		sources[i] = types.Source{Title: fmt.Sprintf("Source %d", i)}
	}

	kept, err := New(gw, nil).Apply(context.Background(), "topic", sources, gateway.CallMeta{})
	if err != nil {
		t.Fatal(err)
	}

	if len(gw.StructuredCalls) != 2 {
		t.Errorf("structured calls = %d, want 2", len(gw.StructuredCalls))
	}
	// 11 keepers: the second batch's index 1 scored below threshold.
	if len(kept) != 11 {
		t.Fatalf("kept = %d, want 11", len(kept))
	}
	if kept[10].Title != "Source 10" {
		t.Errorf("last keeper = %s", kept[10].Title)
	}
}

func TestApplyUnscoredSourcePassesThrough(t *testing.T) {
	gw := gateway.NewMock()
	gw.QueueStructured(types.TaskSourceRelevance, `{"scores": [
		{"index": 0, "score": 0.95, "rationale": "on topic"},
		{"index": 7, "score": 0.95, "rationale": "bogus index"}
	]}`)

	sources := []types.Source{
		{Title: "Scored"},
		{Title: "Unscored"},
	}

	kept, err := New(gw, nil).Apply(context.Background(), "topic", sources, gateway.CallMeta{})
	if err != nil {
		t.Fatal(err)
	}
	if len(kept) != 2 {
		t.Fatalf("kept = %d, want 2", len(kept))
	}
	if kept[1].Title != "Unscored" || kept[1].RelevanceScore != 0 {
		t.Errorf("unscored source = %+v", kept[1])
	}
}

func TestApplyEmptyInput(t *testing.T) {
	kept, err := New(gateway.NewMock(), nil).Apply(context.Background(), "topic", nil, gateway.CallMeta{})
	if err != nil || kept != nil {
		t.Errorf("got %v, %v; want nil, nil", kept, err)
	}
}
