// Package metrics provides cost and usage tracking for AI operations.
package metrics

import "time"

// Metric represents a single recorded metric for an AI call.
// Metrics are append-only records stored in DefraDB with full attribution.
type Metric struct {
	ID string `json:"_docID,omitempty"`

	// Attribution (for filtering/aggregation)
	TaskID     string `json:"task_id,omitempty"`
	DocumentID string `json:"document_id,omitempty"`
	Stage      string `json:"stage,omitempty"`
	ItemKey    string `json:"item_key,omitempty"` // e.g., "section_3_draft", "outline"

	// Provider info
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`

	// Cost and tokens
	CostUSD          float64 `json:"cost_usd,omitempty"`
	PromptTokens     int     `json:"prompt_tokens,omitempty"`
	CompletionTokens int     `json:"completion_tokens,omitempty"`
	TotalTokens      int     `json:"total_tokens,omitempty"`

	// Timing
	ExecutionSeconds float64 `json:"execution_seconds,omitempty"`

	// Status
	Success   bool   `json:"success"`
	ErrorType string `json:"error_type,omitempty"`

	// Metadata
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// ToMap converts the metric to a map for DefraDB storage.
func (m *Metric) ToMap() map[string]any {
	data := map[string]any{
		"success":    m.Success,
		"created_at": m.CreatedAt.Format(time.RFC3339),
	}

	// Attribution
	if m.TaskID != "" {
		data["task_id"] = m.TaskID
	}
	if m.DocumentID != "" {
		data["document_id"] = m.DocumentID
	}
	if m.Stage != "" {
		data["stage"] = m.Stage
	}
	if m.ItemKey != "" {
		data["item_key"] = m.ItemKey
	}

	// Provider
	if m.Provider != "" {
		data["provider"] = m.Provider
	}
	if m.Model != "" {
		data["model"] = m.Model
	}

	// Cost and tokens
	if m.CostUSD > 0 {
		data["cost_usd"] = m.CostUSD
	}
	if m.PromptTokens > 0 {
		data["prompt_tokens"] = m.PromptTokens
	}
	if m.CompletionTokens > 0 {
		data["completion_tokens"] = m.CompletionTokens
	}
	if m.TotalTokens > 0 {
		data["total_tokens"] = m.TotalTokens
	}

	// Timing
	if m.ExecutionSeconds > 0 {
		data["execution_seconds"] = m.ExecutionSeconds
	}

	// Error
	if m.ErrorType != "" {
		data["error_type"] = m.ErrorType
	}

	return data
}
