package providers

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

var scoreSchema = map[string]any{
	"type":                 "object",
	"properties":           map[string]any{"score": map[string]any{"type": "number"}},
	"required":             []any{"score"},
	"additionalProperties": false,
}

func TestParseStructuredJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"plain object", `{"a":1}`, `{"a":1}`, false},
		{"code fence", "```json\n{\"a\":1}\n```", `{"a":1}`, false},
		{"surrounding prose", "Here you go:\n{\"a\":1}\nHope that helps!", `{"a":1}`, false},
		{"array", `[1,2,3]`, `[1,2,3]`, false},
		{"empty", "", "", true},
		{"not json", "no json here", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseStructuredJSON(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && string(got) != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestValidateStructuredJSON(t *testing.T) {
	if err := validateStructuredJSON(scoreSchema, json.RawMessage(`{"score":0.9}`)); err != nil {
		t.Errorf("valid doc rejected: %v", err)
	}
	if err := validateStructuredJSON(scoreSchema, json.RawMessage(`{"wrong":true}`)); err == nil {
		t.Error("invalid doc accepted")
	}
}

func TestChatStructuredRepairLoop(t *testing.T) {
	mock := NewMockLLM(
		"this is not json at all",
		`{"score": 0.85}`,
	)

	req := &ChatRequest{
		Messages:       []Message{{Role: "user", Content: "rate this"}},
		ResponseFormat: &ResponseFormat{Name: "score", Schema: scoreSchema, Strict: true},
	}

	parsed, result, err := ChatStructured(context.Background(), mock, req)
	if err != nil {
		t.Fatalf("ChatStructured() error = %v", err)
	}
	if mock.CallCount() != 2 {
		t.Errorf("calls = %d, want 2 (one repair)", mock.CallCount())
	}
	if string(parsed) != `{"score":0.85}` {
		t.Errorf("parsed = %s", parsed)
	}
	// Usage accumulates across the repair attempt.
	if result.Usage.TotalTokens != 60 {
		t.Errorf("total tokens = %d, want 60", result.Usage.TotalTokens)
	}

	// The repair request carries the schema and the failed output.
	repair := mock.Calls[1]
	last := repair.Messages[len(repair.Messages)-1]
	if !strings.Contains(last.Content, "not json at all") {
		t.Error("repair prompt missing previous output")
	}
	if !strings.Contains(last.Content, `"score"`) {
		t.Error("repair prompt missing schema")
	}
}

func TestChatStructuredGivesUp(t *testing.T) {
	mock := NewMockLLM("garbage")

	req := &ChatRequest{
		Messages:       []Message{{Role: "user", Content: "rate this"}},
		ResponseFormat: &ResponseFormat{Name: "score", Schema: scoreSchema},
	}

	_, _, err := ChatStructured(context.Background(), mock, req)
	if err == nil {
		t.Fatal("expected error after repair attempts exhausted")
	}
	if mock.CallCount() != maxStructuredRepairAttempts+1 {
		t.Errorf("calls = %d, want %d", mock.CallCount(), maxStructuredRepairAttempts+1)
	}
}

func TestSanitizeSchemaForModel(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"count": map[string]any{"type": "integer", "minimum": 0.0, "maximum": 10.0},
		},
	}

	out := sanitizeSchemaForModel("anthropic/claude-sonnet-4.5", schema)
	props := out["properties"].(map[string]any)
	count := props["count"].(map[string]any)
	if _, ok := count["minimum"]; ok {
		t.Error("minimum not stripped for anthropic model")
	}

	// Non-anthropic models keep bounds.
	out = sanitizeSchemaForModel("openai/gpt-4o", schema)
	props = out["properties"].(map[string]any)
	count = props["count"].(map[string]any)
	if _, ok := count["minimum"]; !ok {
		t.Error("minimum stripped for non-anthropic model")
	}
}
