package providers

import (
	"context"
)

// LLMClient is the interface every chat-capable provider implements.
// Implementations must be safe for concurrent use.
type LLMClient interface {
	// Name returns the configured provider name (registry key).
	Name() string

	// Model returns the model identifier requests are sent to.
	Model() string

	// Chat sends a chat completion request and returns the result.
	// Structured output (JSON schema) is requested via ChatRequest.ResponseFormat.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error)

	// Available reports whether the provider is configured and enabled.
	Available() bool
}

// EmbeddingClient is implemented by providers that can produce vector
// embeddings.
type EmbeddingClient interface {
	// Name returns the configured provider name (registry key).
	Name() string

	// Embed returns one embedding per input text, in input order.
	Embed(ctx context.Context, texts []string) (*EmbeddingResult, error)
}

// VisionCapable is implemented by providers that accept image inputs
// alongside text.
type VisionCapable interface {
	SupportsVision() bool
}

// ChatRequest is a provider-agnostic chat completion request.
type ChatRequest struct {
	// Messages in conversation order. At least one required.
	Messages []Message

	// ResponseFormat, when set, requests schema-constrained JSON output.
	ResponseFormat *ResponseFormat

	// Temperature override. Nil means provider default.
	Temperature *float64

	// MaxTokens caps the completion length. Zero means provider default.
	MaxTokens int

	// WebSearch enables provider-side web grounding when supported.
	// Results carry citations in ChatResult.Citations.
	WebSearch bool
}

// Message is a single chat message. Images are attached as base64 data
// and sent only to vision-capable providers.
type Message struct {
	Role    string // "system", "user", or "assistant"
	Content string

	// Images holds base64-encoded image payloads (no data: prefix).
	Images []ImageData
}

// ImageData is an inline image attachment.
type ImageData struct {
	Base64   string // raw base64 payload
	MimeType string // e.g. "image/png"
}

// ResponseFormat requests structured JSON output conforming to a schema.
type ResponseFormat struct {
	Name   string         // schema name, shown to the model
	Schema map[string]any // JSON schema the output must satisfy
	Strict bool           // enforce strict conformance where supported
}

// ChatResult is the provider-agnostic chat completion result.
type ChatResult struct {
	Content      string
	FinishReason string

	// Citations holds source URLs when web grounding was used.
	Citations []string

	Usage Usage
}

// EmbeddingResult holds embeddings for a batch of inputs.
type EmbeddingResult struct {
	Embeddings [][]float32
	Model      string
	Usage      Usage
}

// Usage records token consumption and provider-reported cost for a call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int

	// CostUSD is the provider-reported cost when available, else zero.
	CostUSD float64
}
