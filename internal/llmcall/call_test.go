package llmcall

import (
	"testing"

	"github.com/jackzampolin/folio/internal/gateway"
	"github.com/jackzampolin/folio/internal/types"
)

func TestFromRecord(t *testing.T) {
	rec := gateway.Record{
		Provider:         "openrouter",
		Model:            "anthropic/claude-sonnet-4.5",
		Task:             types.TaskContentDrafting,
		Operation:        "section_draft",
		DocumentID:       "doc-1",
		Stage:            "stage_8",
		PromptTokens:     120,
		CompletionTokens: 340,
		DurationMS:       2500,
		Response:         "drafted text",
		Success:          true,
	}

	call := FromRecord(rec)
	if call.CallID == "" {
		t.Error("call_id not assigned")
	}
	if call.DocumentID != "doc-1" {
		t.Errorf("document_id = %s", call.DocumentID)
	}
	if call.TaskTag != "content_drafting" {
		t.Errorf("task_tag = %s", call.TaskTag)
	}
	if call.PromptKey != "section_draft" {
		t.Errorf("prompt_key = %s", call.PromptKey)
	}
	if call.LatencyMS != 2500 {
		t.Errorf("latency_ms = %d", call.LatencyMS)
	}
	if !call.Success || call.Error != "" {
		t.Errorf("success = %v, error = %q", call.Success, call.Error)
	}
}

func TestCallToMapOmitsEmpty(t *testing.T) {
	call := FromRecord(gateway.Record{
		Provider: "openai",
		Model:    "gpt-4o-mini",
		Task:     types.TaskEmbedding,
		Success:  false,
		Error:    "rate limiter: context deadline exceeded",
	})

	m := call.ToMap()
	if _, ok := m["document_id"]; ok {
		t.Error("empty document_id should be omitted")
	}
	if _, ok := m["response"]; ok {
		t.Error("empty response should be omitted")
	}
	if m["error"] != "rate limiter: context deadline exceeded" {
		t.Errorf("error = %v", m["error"])
	}
	if m["success"] != false {
		t.Errorf("success = %v", m["success"])
	}
}
