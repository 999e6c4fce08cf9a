package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// maxStructuredRepairAttempts limits self-repair loops when structured
// output parsing or validation fails.
const maxStructuredRepairAttempts = 2

// ChatStructured runs a schema-constrained chat call with local
// validation. When the output fails to parse or validate, the model is
// asked to repair it, up to maxStructuredRepairAttempts times. The
// returned raw message is normalized JSON that conforms to the schema.
func ChatStructured(ctx context.Context, client LLMClient, req *ChatRequest) (json.RawMessage, *ChatResult, error) {
	if req.ResponseFormat == nil {
		return nil, nil, fmt.Errorf("structured chat requires a response format")
	}

	result, err := client.Chat(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	var lastIssue error
	for attempt := 0; ; attempt++ {
		parsed, perr := parseStructuredJSON(result.Content)
		if perr == nil {
			if verr := validateStructuredJSON(req.ResponseFormat.Schema, parsed); verr == nil {
				return parsed, result, nil
			} else {
				lastIssue = verr
			}
		} else {
			lastIssue = perr
		}

		if attempt >= maxStructuredRepairAttempts {
			return nil, result, fmt.Errorf("structured output failed after %d repair attempts: %w", attempt, lastIssue)
		}

		repairReq := &ChatRequest{
			Messages: append(append([]Message{}, req.Messages...),
				Message{Role: "assistant", Content: result.Content},
				Message{Role: "user", Content: structuredRepairPrompt(req.ResponseFormat.Schema, result.Content, lastIssue)},
			),
			ResponseFormat: req.ResponseFormat,
			Temperature:    req.Temperature,
			MaxTokens:      req.MaxTokens,
		}

		next, cerr := client.Chat(ctx, repairReq)
		if cerr != nil {
			return nil, result, fmt.Errorf("repair attempt %d failed: %w", attempt+1, cerr)
		}
		// Accumulate usage so callers see total spend for the operation.
		next.Usage.PromptTokens += result.Usage.PromptTokens
		next.Usage.CompletionTokens += result.Usage.CompletionTokens
		next.Usage.TotalTokens += result.Usage.TotalTokens
		next.Usage.CostUSD += result.Usage.CostUSD
		result = next
	}
}

// parseStructuredJSON parses JSON from model output, with lightweight
// recovery for markdown code fences and surrounding text.
func parseStructuredJSON(content string) (json.RawMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("empty structured output")
	}

	candidates := []string{content}
	if stripped := stripCodeFences(content); stripped != "" && stripped != content {
		candidates = append(candidates, stripped)
	}
	if extracted := extractJSONCandidate(content); extracted != "" && extracted != content {
		candidates = append(candidates, extracted)
	}

	seen := make(map[string]struct{}, len(candidates))
	for _, candidate := range candidates {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		if _, ok := seen[candidate]; ok {
			continue
		}
		seen[candidate] = struct{}{}

		var parsed any
		if err := json.Unmarshal([]byte(candidate), &parsed); err == nil {
			normalized, mErr := json.Marshal(parsed)
			if mErr != nil {
				return nil, fmt.Errorf("failed to normalize structured output: %w", mErr)
			}
			return normalized, nil
		}
	}

	return nil, fmt.Errorf("failed to parse structured JSON")
}

func stripCodeFences(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return ""
	}

	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return ""
	}

	// Drop first fence line.
	lines = lines[1:]
	// Drop trailing fence if present.
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func extractJSONCandidate(content string) string {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return ""
	}

	objectStart := strings.Index(trimmed, "{")
	arrayStart := strings.Index(trimmed, "[")

	start := -1
	closeChar := ""
	switch {
	case objectStart >= 0 && arrayStart >= 0:
		if objectStart < arrayStart {
			start = objectStart
			closeChar = "}"
		} else {
			start = arrayStart
			closeChar = "]"
		}
	case objectStart >= 0:
		start = objectStart
		closeChar = "}"
	case arrayStart >= 0:
		start = arrayStart
		closeChar = "]"
	default:
		return ""
	}

	end := strings.LastIndex(trimmed, closeChar)
	if end < start {
		return ""
	}
	return strings.TrimSpace(trimmed[start : end+1])
}

// validateStructuredJSON validates parsed JSON against the schema.
func validateStructuredJSON(schemaDoc map[string]any, parsed json.RawMessage) error {
	if len(schemaDoc) == 0 || len(parsed) == 0 {
		return nil
	}

	schemaRaw, err := json.Marshal(schemaDoc)
	if err != nil {
		return fmt.Errorf("invalid structured schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(schemaRaw)); err != nil {
		return fmt.Errorf("failed to load structured schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("failed to compile structured schema: %w", err)
	}

	var doc any
	if err := json.Unmarshal(parsed, &doc); err != nil {
		return fmt.Errorf("failed to decode structured JSON for validation: %w", err)
	}

	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("structured output does not match schema: %w", err)
	}
	return nil
}

func structuredRepairPrompt(schemaDoc map[string]any, lastOutput string, issue error) string {
	schemaText := "{}"
	if b, err := json.Marshal(schemaDoc); err == nil {
		schemaText = string(b)
	}
	lastOutput = strings.TrimSpace(lastOutput)
	if len(lastOutput) > 12000 {
		lastOutput = lastOutput[:12000] + "\n...[truncated]"
	}

	return fmt.Sprintf(`Return ONLY valid JSON (no markdown, no commentary) that strictly conforms to this schema.

Schema:
%s

Your previous output:
%s

Validation issue:
%v`, schemaText, lastOutput, issue)
}

// sanitizeSchemaForModel applies model-specific schema compatibility
// shims before a schema is sent over the wire. Anthropic models routed
// through OpenRouter reject integer minimum/maximum bounds.
func sanitizeSchemaForModel(model string, schemaDoc map[string]any) map[string]any {
	if len(schemaDoc) == 0 || !isAnthropicModel(model) {
		return schemaDoc
	}

	b, err := json.Marshal(schemaDoc)
	if err != nil {
		return schemaDoc
	}
	var root any
	if err := json.Unmarshal(b, &root); err != nil {
		return schemaDoc
	}

	stripIntegerBounds(root)

	out, ok := root.(map[string]any)
	if !ok {
		return schemaDoc
	}
	return out
}

func isAnthropicModel(model string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(model)), "anthropic/")
}

func stripIntegerBounds(node any) {
	switch n := node.(type) {
	case map[string]any:
		if schemaTypeIncludesInteger(n["type"]) {
			delete(n, "minimum")
			delete(n, "maximum")
			delete(n, "exclusiveMinimum")
			delete(n, "exclusiveMaximum")
		}
		for _, v := range n {
			stripIntegerBounds(v)
		}
	case []any:
		for _, v := range n {
			stripIntegerBounds(v)
		}
	}
}

func schemaTypeIncludesInteger(typeVal any) bool {
	switch t := typeVal.(type) {
	case string:
		return t == "integer"
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok && s == "integer" {
				return true
			}
		}
	}
	return false
}
