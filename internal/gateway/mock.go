package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jackzampolin/folio/internal/providers"
	"github.com/jackzampolin/folio/internal/types"
)

// Mock implements Client for tests. Text and structured responses are
// consumed in order per task tag; embeddings are deterministic vectors.
type Mock struct {
	mu sync.Mutex

	// TextResponses maps task tag to queued responses.
	TextResponses map[types.TaskTag][]string

	// StructuredResponses maps task tag to queued JSON payloads.
	StructuredResponses map[types.TaskTag][]string

	// EmbedFn overrides embedding generation when set.
	EmbedFn func(texts []string) [][]float32

	// Err, when set, fails every call.
	Err error

	Dims int

	TextCalls       []*TextRequest
	StructuredCalls []*StructuredRequest
	EmbeddingCalls  []*EmbeddingRequest
	ImageCalls      []*ImageRequest
}

// NewMock creates an empty mock with 8-dim embeddings.
func NewMock() *Mock {
	return &Mock{
		TextResponses:       make(map[types.TaskTag][]string),
		StructuredResponses: make(map[types.TaskTag][]string),
		Dims:                8,
	}
}

// QueueText appends text responses for a task tag.
func (m *Mock) QueueText(task types.TaskTag, responses ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TextResponses[task] = append(m.TextResponses[task], responses...)
}

// QueueStructured appends JSON responses for a task tag.
func (m *Mock) QueueStructured(task types.TaskTag, payloads ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StructuredResponses[task] = append(m.StructuredResponses[task], payloads...)
}

func (m *Mock) GenerateText(ctx context.Context, task types.TaskTag, req *TextRequest) (*TextResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.TextCalls = append(m.TextCalls, req)
	if m.Err != nil {
		return nil, m.Err
	}
	queue := m.TextResponses[task]
	if len(queue) == 0 {
		return nil, fmt.Errorf("mock: no text responses queued for task %s", task)
	}
	content := queue[0]
	if len(queue) > 1 {
		m.TextResponses[task] = queue[1:]
	}
	return &TextResult{
		Content:  content,
		Provider: "mock",
		Model:    "mock-model",
		Usage:    providers.Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
	}, nil
}

func (m *Mock) GenerateStructured(ctx context.Context, task types.TaskTag, req *StructuredRequest) (*StructuredResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.StructuredCalls = append(m.StructuredCalls, req)
	if m.Err != nil {
		return nil, m.Err
	}
	queue := m.StructuredResponses[task]
	if len(queue) == 0 {
		return nil, fmt.Errorf("mock: no structured responses queued for task %s", task)
	}
	payload := queue[0]
	if len(queue) > 1 {
		m.StructuredResponses[task] = queue[1:]
	}
	return &StructuredResult{
		Data:     json.RawMessage(payload),
		Provider: "mock",
		Model:    "mock-model",
		Usage:    providers.Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
	}, nil
}

func (m *Mock) GenerateEmbedding(ctx context.Context, req *EmbeddingRequest) (*EmbeddingResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.EmbeddingCalls = append(m.EmbeddingCalls, req)
	if m.Err != nil {
		return nil, m.Err
	}

	var embeddings [][]float32
	if m.EmbedFn != nil {
		embeddings = m.EmbedFn(req.Texts)
	} else {
		embeddings = make([][]float32, len(req.Texts))
		for i, t := range req.Texts {
			vec := make([]float32, m.Dims)
			for j := range vec {
				vec[j] = float32((len(t)+i+j)%13) / 13.0
			}
			embeddings[i] = vec
		}
	}
	return &EmbeddingResult{
		Embeddings: embeddings,
		Provider:   "mock",
		Model:      "mock-embedding",
	}, nil
}

func (m *Mock) AnalyzeImage(ctx context.Context, req *ImageRequest) (*TextResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ImageCalls = append(m.ImageCalls, req)
	if m.Err != nil {
		return nil, m.Err
	}
	return &TextResult{Content: "mock image analysis", Provider: "mock", Model: "mock-model"}, nil
}

var _ Client = (*Mock)(nil)
