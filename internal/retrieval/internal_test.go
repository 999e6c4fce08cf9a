package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jackzampolin/folio/internal/defra"
	"github.com/jackzampolin/folio/internal/embedding"
	"github.com/jackzampolin/folio/internal/gateway"
	"github.com/jackzampolin/folio/internal/types"
)

// corpusStub serves Chapter queries for a fixed corpus.
func corpusStub(t *testing.T, chapters []map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Query     string         `json:"query"`
			Variables map[string]any `json:"variables"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		w.Header().Set("Content-Type", "application/json")
		if strings.Contains(req.Query, "_ne: null") {
			writeChapters(w, chapters)
			return
		}
		// Get by docID.
		id, _ := req.Variables["v0"].(string)
		for _, ch := range chapters {
			if ch["_docID"] == id {
				writeChapters(w, []map[string]any{ch})
				return
			}
		}
		writeChapters(w, nil)
	}))
}

func writeChapters(w http.ResponseWriter, docs []map[string]any) {
	if docs == nil {
		docs = []map[string]any{}
	}
	payload, _ := json.Marshal(map[string]any{"data": map[string]any{"Chapter": docs}})
	w.Write(payload)
}

// embedGW is a gateway stub with a controllable embedding function.
type embedGW struct {
	gateway.Client
	fn    func(texts []string) ([][]float32, error)
	calls int
}

func (g *embedGW) GenerateEmbedding(ctx context.Context, req *gateway.EmbeddingRequest) (*gateway.EmbeddingResult, error) {
	g.calls++
	vecs, err := g.fn(req.Texts)
	if err != nil {
		return nil, err
	}
	return &gateway.EmbeddingResult{Embeddings: vecs, Provider: "stub", Model: "stub-embed"}, nil
}

func TestInternalSearchHybridRanking(t *testing.T) {
	chapters := []map[string]any{
		{
			"_docID": "ch-glioma", "title": "Glioblastoma Surgery",
			"text":       "Glioblastoma resection technique and adjuvant therapy.",
			"embedding":  []any{1.0, 0.0},
			"word_count": float64(8),
		},
		{
			"_docID": "ch-spine", "title": "Spine Trauma",
			"text":       "Thoracolumbar fracture management.",
			"embedding":  []any{0.0, 1.0},
			"word_count": float64(4),
		},
	}
	server := corpusStub(t, chapters)
	defer server.Close()

	gw := &embedGW{fn: func(texts []string) ([][]float32, error) {
		return [][]float32{{1, 0}}, nil
	}}
	s := NewInternalSearcher(embedding.NewStore(defra.NewClient(server.URL)), gw, nil)

	sources, err := s.Search(context.Background(), []string{"glioblastoma resection"}, "doc-1")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(sources) != 2 {
		t.Fatalf("sources = %d, want 2", len(sources))
	}

	if sources[0].ChapterID != "ch-glioma" {
		t.Errorf("top source = %s", sources[0].ChapterID)
	}
	if sources[0].SimilarityScore <= sources[1].SimilarityScore {
		t.Error("results not ranked by hybrid score")
	}
	if sources[0].SourceType != types.SourceInternal {
		t.Errorf("source_type = %s", sources[0].SourceType)
	}
	if sources[0].Abstract == "" {
		t.Error("abstract not populated")
	}
}

func TestInternalSearchMergesAcrossQueries(t *testing.T) {
	chapters := []map[string]any{
		{"_docID": "ch-1", "title": "Alpha", "text": "alpha text", "embedding": []any{1.0, 0.0}},
	}
	server := corpusStub(t, chapters)
	defer server.Close()

	gw := &embedGW{fn: func(texts []string) ([][]float32, error) {
		if texts[0] == "strong query" {
			return [][]float32{{1, 0}}, nil
		}
		return [][]float32{{0.5, 0.5}}, nil
	}}
	s := NewInternalSearcher(embedding.NewStore(defra.NewClient(server.URL)), gw, nil)

	sources, err := s.Search(context.Background(), []string{"strong query", "weak query"}, "doc-1")
	if err != nil {
		t.Fatal(err)
	}

	// One chapter, best score across the two queries.
	if len(sources) != 1 {
		t.Fatalf("sources = %d, want 1", len(sources))
	}
	if gw.calls != 2 {
		t.Errorf("embedding calls = %d, want 2", gw.calls)
	}
}

func TestInternalSearchPartialQueryFailure(t *testing.T) {
	chapters := []map[string]any{
		{"_docID": "ch-1", "title": "Alpha", "text": "alpha text", "embedding": []any{1.0, 0.0}},
	}
	server := corpusStub(t, chapters)
	defer server.Close()

	gw := &embedGW{fn: func(texts []string) ([][]float32, error) {
		if texts[0] == "bad query" {
			return nil, errors.New("provider down")
		}
		return [][]float32{{1, 0}}, nil
	}}
	s := NewInternalSearcher(embedding.NewStore(defra.NewClient(server.URL)), gw, nil)

	sources, err := s.Search(context.Background(), []string{"bad query", "good query"}, "doc-1")
	if err != nil {
		t.Fatalf("batch should tolerate per-query failure: %v", err)
	}
	if len(sources) != 1 {
		t.Errorf("sources = %d, want 1", len(sources))
	}
}

func TestInternalSearchEmptyCorpus(t *testing.T) {
	server := corpusStub(t, nil)
	defer server.Close()

	gw := &embedGW{fn: func([]string) ([][]float32, error) {
		t.Fatal("no embedding call expected for empty corpus")
		return nil, nil
	}}
	s := NewInternalSearcher(embedding.NewStore(defra.NewClient(server.URL)), gw, nil)

	sources, err := s.Search(context.Background(), []string{"anything"}, "doc-1")
	if err != nil || sources != nil {
		t.Errorf("got %v, %v; want nil, nil", sources, err)
	}
}

func TestLexicalOverlap(t *testing.T) {
	tests := []struct {
		query string
		text  string
		want  float64
	}{
		{"glioblastoma resection", "glioblastoma resection details", 1.0},
		{"glioblastoma resection", "glioblastoma only here", 0.5},
		{"absent terms", "completely different text", 0.0},
		{"", "anything", 0.0},
	}
	for _, tt := range tests {
		if got := lexicalOverlap(tt.query, tt.text); got != tt.want {
			t.Errorf("lexicalOverlap(%q, %q) = %v, want %v", tt.query, tt.text, got, tt.want)
		}
	}
}

func TestMetadataBoostRange(t *testing.T) {
	best := embedding.Chapter{QualityScore: 1.0}
	if b := metadataBoost(best); b < 0 || b > 1 {
		t.Errorf("boost = %v, want within [0,1]", b)
	}

	dup := embedding.Chapter{IsDuplicate: true}
	if metadataBoost(dup) >= metadataBoost(embedding.Chapter{}) {
		t.Error("duplicate chapter should score below non-duplicate")
	}
}

func TestExternalSearchStrategies(t *testing.T) {
	var pubmedCalls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/esearch.fcgi") {
			pubmedCalls++
			fmt.Fprint(w, `{"esearchresult": {"idlist": []}}`)
		}
	}))
	defer server.Close()

	gw := gateway.NewMock()
	gw.QueueText(types.TaskSummarization, "- Found Paper (2023) — Journal")

	searcher := NewExternalSearcher(
		NewPubMedClient(server.URL, 5, 5, 0),
		NewAIResearcher(gw),
		nil,
	)

	searcher.Strategy = StrategyAIOnly
	sources, err := searcher.Search(context.Background(), "topic", "doc-1")
	if err != nil {
		t.Fatal(err)
	}
	if pubmedCalls != 0 {
		t.Errorf("pubmed called under ai_only: %d", pubmedCalls)
	}
	if len(sources) != 1 || sources[0].SourceType != types.SourceAIResearch {
		t.Errorf("sources = %+v", sources)
	}

	searcher.Strategy = StrategyEvidenceOnly
	if _, err := searcher.Search(context.Background(), "topic", "doc-1"); err != nil {
		t.Fatal(err)
	}
	if pubmedCalls != 1 {
		t.Errorf("pubmed calls = %d, want 1", pubmedCalls)
	}
	// ai track must not have consumed another response under evidence_only.
	if len(gw.TextCalls) != 1 {
		t.Errorf("ai calls = %d, want 1", len(gw.TextCalls))
	}
}

func TestExternalSearchTrackFailureNonFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadRequest)
	}))
	defer server.Close()

	gw := gateway.NewMock()
	gw.QueueText(types.TaskSummarization, "- Survivor Paper (2024) — Journal")

	searcher := NewExternalSearcher(
		NewPubMedClient(server.URL, 5, 5, 0),
		NewAIResearcher(gw),
		nil,
	)

	sources, err := searcher.Search(context.Background(), "topic", "doc-1")
	if err != nil {
		t.Fatalf("hybrid search should survive evidence-track failure: %v", err)
	}
	if len(sources) != 1 || sources[0].Title != "Survivor Paper" {
		t.Errorf("sources = %+v", sources)
	}
}
