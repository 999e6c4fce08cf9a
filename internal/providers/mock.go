package providers

import (
	"context"
	"fmt"
	"sync"
)

// MockLLM is a test double implementing LLMClient. Responses are
// returned in order; when exhausted, the last one repeats.
type MockLLM struct {
	mu        sync.Mutex
	name      string
	model     string
	Responses []string
	Err       error
	Calls     []*ChatRequest
}

// NewMockLLM creates a mock that replies with the given responses.
func NewMockLLM(responses ...string) *MockLLM {
	return &MockLLM{name: "mock", model: "mock-model", Responses: responses}
}

func (m *MockLLM) Name() string         { return m.name }
func (m *MockLLM) Model() string        { return m.model }
func (m *MockLLM) Available() bool      { return true }
func (m *MockLLM) SupportsVision() bool { return true }

// Chat records the request and returns the next canned response.
func (m *MockLLM) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, req)
	if m.Err != nil {
		return nil, m.Err
	}
	if len(m.Responses) == 0 {
		return nil, fmt.Errorf("mock has no responses configured")
	}
	idx := len(m.Calls) - 1
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	}
	return &ChatResult{
		Content:      m.Responses[idx],
		FinishReason: "stop",
		Usage:        Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
	}, nil
}

// CallCount returns the number of Chat calls received.
func (m *MockLLM) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// MockEmbedder is a test double implementing EmbeddingClient. It
// returns deterministic vectors derived from input lengths.
type MockEmbedder struct {
	mu    sync.Mutex
	Dims  int
	Err   error
	Calls [][]string
}

// NewMockEmbedder creates a mock producing vectors of the given size.
func NewMockEmbedder(dims int) *MockEmbedder {
	if dims <= 0 {
		dims = 8
	}
	return &MockEmbedder{Dims: dims}
}

func (m *MockEmbedder) Name() string { return "mock" }

// Embed returns one deterministic vector per input.
func (m *MockEmbedder) Embed(ctx context.Context, texts []string) (*EmbeddingResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, texts)
	if m.Err != nil {
		return nil, m.Err
	}
	embeddings := make([][]float32, len(texts))
	for i, t := range texts {
		vec := make([]float32, m.Dims)
		for j := range vec {
			vec[j] = float32((len(t)+i+j)%17) / 17.0
		}
		embeddings[i] = vec
	}
	return &EmbeddingResult{
		Embeddings: embeddings,
		Model:      "mock-embedding",
		Usage:      Usage{PromptTokens: len(texts) * 5, TotalTokens: len(texts) * 5},
	}, nil
}

var (
	_ LLMClient       = (*MockLLM)(nil)
	_ VisionCapable   = (*MockLLM)(nil)
	_ EmbeddingClient = (*MockEmbedder)(nil)
)
