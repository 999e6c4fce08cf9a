package llmcall

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackzampolin/folio/internal/defra"
)

// Store provides access to call records in DefraDB.
type Store struct {
	client *defra.Client
}

// NewStore creates a new LLMCall store.
func NewStore(client *defra.Client) *Store {
	return &Store{client: client}
}

// QueryFilter specifies filters for listing calls.
type QueryFilter struct {
	DocumentID string
	TaskID     string
	TaskTag    string
	PromptKey  string
	Provider   string
	Model      string
	After      *time.Time
	Before     *time.Time
	Success    *bool
	Limit      int
	Offset     int
}

const callFields = `
		_docID
		call_id
		created_at
		latency_ms
		document_id
		task_id
		task_tag
		prompt_key
		provider
		model
		temperature
		input_tokens
		output_tokens
		response
		success
		error`

// Get retrieves a single call by its call_id.
func (s *Store) Get(ctx context.Context, callID string) (*Call, error) {
	query := fmt.Sprintf(`{
		LLMCall(filter: {call_id: {_eq: %q}}) {%s
		}
	}`, callID, callFields)

	resp, err := s.client.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	if errMsg := resp.Error(); errMsg != "" {
		return nil, fmt.Errorf("graphql error: %s", errMsg)
	}

	calls, err := parseCalls(resp.Data)
	if err != nil {
		return nil, err
	}
	if len(calls) == 0 {
		return nil, nil
	}
	return &calls[0], nil
}

// List retrieves calls matching the filter.
func (s *Store) List(ctx context.Context, filter QueryFilter) ([]Call, error) {
	var conditions []string

	if filter.DocumentID != "" {
		conditions = append(conditions, fmt.Sprintf(`document_id: {_eq: %q}`, filter.DocumentID))
	}
	if filter.TaskID != "" {
		conditions = append(conditions, fmt.Sprintf(`task_id: {_eq: %q}`, filter.TaskID))
	}
	if filter.TaskTag != "" {
		conditions = append(conditions, fmt.Sprintf(`task_tag: {_eq: %q}`, filter.TaskTag))
	}
	if filter.PromptKey != "" {
		conditions = append(conditions, fmt.Sprintf(`prompt_key: {_eq: %q}`, filter.PromptKey))
	}
	if filter.Provider != "" {
		conditions = append(conditions, fmt.Sprintf(`provider: {_eq: %q}`, filter.Provider))
	}
	if filter.Model != "" {
		conditions = append(conditions, fmt.Sprintf(`model: {_eq: %q}`, filter.Model))
	}
	if filter.Success != nil {
		conditions = append(conditions, fmt.Sprintf(`success: {_eq: %t}`, *filter.Success))
	}
	if filter.After != nil {
		conditions = append(conditions, fmt.Sprintf(`created_at: {_gt: %q}`, filter.After.Format(time.RFC3339)))
	}
	if filter.Before != nil {
		conditions = append(conditions, fmt.Sprintf(`created_at: {_lt: %q}`, filter.Before.Format(time.RFC3339)))
	}

	filterStr := ""
	if len(conditions) > 0 {
		filterStr = fmt.Sprintf("filter: {%s}", strings.Join(conditions, ", "))
	}

	var args []string
	if filterStr != "" {
		args = append(args, filterStr)
	}
	if filter.Limit > 0 {
		args = append(args, fmt.Sprintf("limit: %d", filter.Limit))
	}
	if filter.Offset > 0 {
		args = append(args, fmt.Sprintf("offset: %d", filter.Offset))
	}

	argsStr := ""
	if len(args) > 0 {
		argsStr = fmt.Sprintf("(%s)", strings.Join(args, ", "))
	}

	query := fmt.Sprintf(`{
		LLMCall%s {%s
		}
	}`, argsStr, callFields)

	resp, err := s.client.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	if errMsg := resp.Error(); errMsg != "" {
		return nil, fmt.Errorf("graphql error: %s", errMsg)
	}

	return parseCalls(resp.Data)
}

// CountByPromptKey returns call counts grouped by prompt key for a
// document. DefraDB has no GROUP BY, so we aggregate client-side.
func (s *Store) CountByPromptKey(ctx context.Context, documentID string) (map[string]int, error) {
	calls, err := s.List(ctx, QueryFilter{DocumentID: documentID})
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, c := range calls {
		counts[c.PromptKey]++
	}
	return counts, nil
}

// parseCalls parses LLMCall entries from GraphQL response data.
func parseCalls(data map[string]any) ([]Call, error) {
	callData, ok := data["LLMCall"]
	if !ok {
		return nil, nil
	}

	docs, ok := callData.([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected LLMCall type: %T", callData)
	}

	calls := make([]Call, 0, len(docs))
	for _, d := range docs {
		doc, ok := d.(map[string]any)
		if !ok {
			continue
		}

		call := Call{}
		if v, ok := doc["_docID"].(string); ok {
			call.ID = v
		}
		if v, ok := doc["call_id"].(string); ok {
			call.CallID = v
		}
		if v, ok := doc["created_at"].(string); ok {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				call.CreatedAt = t
			}
		}
		if v, ok := doc["latency_ms"].(float64); ok {
			call.LatencyMS = int(v)
		}
		if v, ok := doc["document_id"].(string); ok {
			call.DocumentID = v
		}
		if v, ok := doc["task_id"].(string); ok {
			call.TaskID = v
		}
		if v, ok := doc["task_tag"].(string); ok {
			call.TaskTag = v
		}
		if v, ok := doc["prompt_key"].(string); ok {
			call.PromptKey = v
		}
		if v, ok := doc["provider"].(string); ok {
			call.Provider = v
		}
		if v, ok := doc["model"].(string); ok {
			call.Model = v
		}
		if v, ok := doc["temperature"].(float64); ok {
			call.Temperature = &v
		}
		if v, ok := doc["input_tokens"].(float64); ok {
			call.InputTokens = int(v)
		}
		if v, ok := doc["output_tokens"].(float64); ok {
			call.OutputTokens = int(v)
		}
		if v, ok := doc["response"].(string); ok {
			call.Response = v
		}
		if v, ok := doc["success"].(bool); ok {
			call.Success = v
		}
		if v, ok := doc["error"].(string); ok {
			call.Error = v
		}

		calls = append(calls, call)
	}

	return calls, nil
}
