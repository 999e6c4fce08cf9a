// Package llmcall records every AI provider call for traceability.
// Records are append-only documents in the LLMCall collection.
package llmcall

import (
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/folio/internal/gateway"
)

// Call is a recorded AI provider call.
type Call struct {
	ID string `json:"_docID,omitempty"`

	CallID    string    `json:"call_id"`
	CreatedAt time.Time `json:"created_at"`
	LatencyMS int       `json:"latency_ms"`

	// Attribution
	DocumentID string `json:"document_id,omitempty"`
	TaskID     string `json:"task_id,omitempty"`
	TaskTag    string `json:"task_tag,omitempty"`
	PromptKey  string `json:"prompt_key"`

	// Provider info
	Provider    string   `json:"provider"`
	Model       string   `json:"model"`
	Temperature *float64 `json:"temperature,omitempty"`

	// Token usage
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`

	// Response
	Response string `json:"response,omitempty"`

	// Status
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// FromRecord creates a Call from a gateway audit record.
func FromRecord(rec gateway.Record) *Call {
	return &Call{
		CallID:       uuid.NewString(),
		CreatedAt:    time.Now().UTC(),
		LatencyMS:    int(rec.DurationMS),
		DocumentID:   rec.DocumentID,
		TaskTag:      string(rec.Task),
		PromptKey:    rec.Operation,
		Provider:     rec.Provider,
		Model:        rec.Model,
		InputTokens:  rec.PromptTokens,
		OutputTokens: rec.CompletionTokens,
		Response:     rec.Response,
		Success:      rec.Success,
		Error:        rec.Error,
	}
}

// ToMap converts the Call to a map for DefraDB insertion.
func (c *Call) ToMap() map[string]any {
	m := map[string]any{
		"call_id":       c.CallID,
		"created_at":    c.CreatedAt.Format(time.RFC3339),
		"latency_ms":    c.LatencyMS,
		"prompt_key":    c.PromptKey,
		"provider":      c.Provider,
		"model":         c.Model,
		"input_tokens":  c.InputTokens,
		"output_tokens": c.OutputTokens,
		"success":       c.Success,
	}

	if c.DocumentID != "" {
		m["document_id"] = c.DocumentID
	}
	if c.TaskID != "" {
		m["task_id"] = c.TaskID
	}
	if c.TaskTag != "" {
		m["task_tag"] = c.TaskTag
	}
	if c.Temperature != nil {
		m["temperature"] = *c.Temperature
	}
	if c.Response != "" {
		m["response"] = c.Response
	}
	if c.Error != "" {
		m["error"] = c.Error
	}

	return m
}
