package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jackzampolin/folio/internal/providers"
	"github.com/jackzampolin/folio/internal/types"
)

// openRouterStub serves the OpenRouter wire format for tests.
func openRouterStub(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func chatBody(content string, cost float64) []byte {
	resp := map[string]any{
		"choices": []map[string]any{
			{"finish_reason": "stop", "message": map[string]any{"role": "assistant", "content": content}},
		},
		"usage": map[string]any{
			"prompt_tokens":     100,
			"completion_tokens": 50,
			"total_tokens":      150,
			"cost":              cost,
		},
	}
	b, _ := json.Marshal(resp)
	return b
}

type captureRecorder struct {
	mu   sync.Mutex
	recs []Record
}

func (c *captureRecorder) Record(_ context.Context, rec Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs = append(c.recs, rec)
}

func (c *captureRecorder) all() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Record{}, c.recs...)
}

func TestGatewayRoutesToFirstProvider(t *testing.T) {
	server := openRouterStub(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(chatBody("drafted content", 0.002))
	})

	reg := providers.MustTestRegistry(t, map[string]string{"primary": server.URL})
	rec := &captureRecorder{}
	g := New(reg, Config{
		Routing: map[string][]string{"content_drafting": {"primary"}},
	}, rec, slog.Default())

	result, err := g.GenerateText(context.Background(), types.TaskContentDrafting, &TextRequest{
		Prompt: "write it",
		Meta:   CallMeta{DocumentID: "doc-1", Stage: "stage_8", Operation: "section_draft"},
	})
	if err != nil {
		t.Fatalf("GenerateText() error = %v", err)
	}
	if result.Content != "drafted content" {
		t.Errorf("content = %q", result.Content)
	}
	if result.Provider != "primary" {
		t.Errorf("provider = %s", result.Provider)
	}
	if result.CostUSD != 0.002 {
		t.Errorf("cost = %v, want provider-reported 0.002", result.CostUSD)
	}

	recs := rec.all()
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	if recs[0].DocumentID != "doc-1" || recs[0].Stage != "stage_8" || !recs[0].Success {
		t.Errorf("record = %+v", recs[0])
	}
}

func TestGatewayFallsBackOnFailure(t *testing.T) {
	bad := openRouterStub(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	good := openRouterStub(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(chatBody("from fallback", 0))
	})

	reg := providers.MustTestRegistry(t, map[string]string{"bad": bad.URL, "good": good.URL})
	rec := &captureRecorder{}
	g := New(reg, Config{
		Routing: map[string][]string{"summarization": {"bad", "good"}},
		Rates:   map[string]Rate{"test/good": {InputPer1K: 0.01, OutputPer1K: 0.02}},
	}, rec, slog.Default())

	result, err := g.GenerateText(context.Background(), types.TaskSummarization, &TextRequest{Prompt: "sum"})
	if err != nil {
		t.Fatalf("GenerateText() error = %v", err)
	}
	if result.Provider != "good" {
		t.Errorf("provider = %s, want good", result.Provider)
	}
	// No provider-reported cost: computed from rates.
	// 100/1000*0.01 + 50/1000*0.02 = 0.002
	if result.CostUSD != 0.002 {
		t.Errorf("cost = %v, want 0.002", result.CostUSD)
	}

	recs := rec.all()
	if len(recs) != 2 {
		t.Fatalf("records = %d, want 2 (failure + success)", len(recs))
	}
	if recs[0].Success || !recs[1].Success {
		t.Errorf("record success flags = %v, %v", recs[0].Success, recs[1].Success)
	}
}

func TestGatewayChainExhausted(t *testing.T) {
	bad := openRouterStub(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	reg := providers.MustTestRegistry(t, map[string]string{"only": bad.URL})
	g := New(reg, Config{Routing: map[string][]string{"summarization": {"only"}}}, nil, slog.Default())

	_, err := g.GenerateText(context.Background(), types.TaskSummarization, &TextRequest{Prompt: "x"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, types.ErrProviderUnavailable) {
		t.Errorf("error = %v, want ErrProviderUnavailable", err)
	}
}

func TestGatewayNoRoute(t *testing.T) {
	reg := providers.MustTestRegistry(t, nil)
	g := New(reg, Config{}, nil, slog.Default())

	_, err := g.GenerateText(context.Background(), types.TaskVision, &TextRequest{Prompt: "x"})
	if !errors.Is(err, types.ErrProviderUnavailable) {
		t.Errorf("error = %v, want ErrProviderUnavailable", err)
	}
}

func TestGatewayBreakerSkipsOpenProvider(t *testing.T) {
	var badCalls atomic.Int32
	bad := openRouterStub(t, func(w http.ResponseWriter, r *http.Request) {
		badCalls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	})
	good := openRouterStub(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(chatBody("ok", 0))
	})

	reg := providers.MustTestRegistry(t, map[string]string{"flaky": bad.URL, "stable": good.URL})
	g := New(reg, Config{
		Routing: map[string][]string{"summarization": {"flaky", "stable"}},
	}, nil, slog.Default())

	ctx := context.Background()
	// Threshold is 2; two failing calls open flaky's breaker.
	for i := 0; i < 2; i++ {
		if _, err := g.GenerateText(ctx, types.TaskSummarization, &TextRequest{Prompt: "x"}); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	before := badCalls.Load()

	// Breaker open: flaky is skipped without an HTTP call.
	if _, err := g.GenerateText(ctx, types.TaskSummarization, &TextRequest{Prompt: "x"}); err != nil {
		t.Fatal(err)
	}
	if badCalls.Load() != before {
		t.Errorf("flaky was called while its breaker was open")
	}
}

func TestGatewayStructured(t *testing.T) {
	server := openRouterStub(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(chatBody(`{"relevance_score": 0.91}`, 0))
	})

	reg := providers.MustTestRegistry(t, map[string]string{"p": server.URL})
	g := New(reg, Config{Routing: map[string][]string{"source_relevance": {"p"}}}, nil, slog.Default())

	result, err := g.GenerateStructured(context.Background(), types.TaskSourceRelevance, &StructuredRequest{
		Prompt:     "score this",
		SchemaName: "relevance",
		Schema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"relevance_score": map[string]any{"type": "number"}},
			"required":   []any{"relevance_score"},
		},
	})
	if err != nil {
		t.Fatalf("GenerateStructured() error = %v", err)
	}
	var parsed struct {
		RelevanceScore float64 `json:"relevance_score"`
	}
	if err := json.Unmarshal(result.Data, &parsed); err != nil {
		t.Fatal(err)
	}
	if parsed.RelevanceScore != 0.91 {
		t.Errorf("score = %v", parsed.RelevanceScore)
	}
}

func TestGatewayStructuredSchemaViolation(t *testing.T) {
	server := openRouterStub(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(chatBody("not json ever", 0))
	})

	reg := providers.MustTestRegistry(t, map[string]string{"p": server.URL})
	g := New(reg, Config{Routing: map[string][]string{"source_relevance": {"p"}}}, nil, slog.Default())

	_, err := g.GenerateStructured(context.Background(), types.TaskSourceRelevance, &StructuredRequest{
		Prompt:     "score this",
		SchemaName: "relevance",
		Schema:     map[string]any{"type": "object"},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, types.ErrProviderSchemaViolation) {
		t.Errorf("error = %v, want ErrProviderSchemaViolation", err)
	}
}

func TestGatewayWebSearchPassthrough(t *testing.T) {
	var gotModel string
	server := openRouterStub(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		gotModel, _ = req["model"].(string)
		w.Write(chatBody("grounded", 0))
	})

	reg := providers.MustTestRegistry(t, map[string]string{"p": server.URL})
	g := New(reg, Config{Routing: map[string][]string{"content_drafting": {"p"}}}, nil, slog.Default())

	_, err := g.GenerateText(context.Background(), types.TaskContentDrafting, &TextRequest{
		Prompt:    "latest evidence",
		WebSearch: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(gotModel, ":online") {
		t.Errorf("model = %q, want :online suffix", gotModel)
	}
}

func TestGatewayEmbedding(t *testing.T) {
	reg := providers.MustTestRegistry(t, nil).
		WithTestEmbedder("embedder", providers.NewMockEmbedder(16))
	g := New(reg, Config{Routing: map[string][]string{"embedding": {"embedder"}}}, nil, slog.Default())

	result, err := g.GenerateEmbedding(context.Background(), &EmbeddingRequest{
		Texts: []string{"chapter one", "chapter two"},
	})
	if err != nil {
		t.Fatalf("GenerateEmbedding() error = %v", err)
	}
	if len(result.Embeddings) != 2 {
		t.Fatalf("embeddings = %d, want 2", len(result.Embeddings))
	}
	if len(result.Embeddings[0]) != 16 {
		t.Errorf("dims = %d, want 16", len(result.Embeddings[0]))
	}
	if result.Provider != "embedder" {
		t.Errorf("provider = %s", result.Provider)
	}
}

func TestGatewayEmbeddingNoRoute(t *testing.T) {
	reg := providers.MustTestRegistry(t, nil)
	g := New(reg, Config{}, nil, slog.Default())

	_, err := g.GenerateEmbedding(context.Background(), &EmbeddingRequest{Texts: []string{"x"}})
	if !errors.Is(err, types.ErrProviderUnavailable) {
		t.Errorf("error = %v, want ErrProviderUnavailable", err)
	}
}

func TestGatewayEmbeddingEmptyInput(t *testing.T) {
	reg := providers.MustTestRegistry(t, nil)
	g := New(reg, Config{}, nil, slog.Default())

	_, err := g.GenerateEmbedding(context.Background(), &EmbeddingRequest{})
	if !errors.Is(err, types.ErrInvalidInput) {
		t.Errorf("error = %v, want ErrInvalidInput", err)
	}
}
