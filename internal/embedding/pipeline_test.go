package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jackzampolin/folio/internal/defra"
	"github.com/jackzampolin/folio/internal/gateway"
)

// defraStub answers chapter/book queries and records update mutations.
type defraStub struct {
	chapters map[string]map[string]any // docID -> fields
	books    map[string]map[string]any
	updates  []string
}

func (s *defraStub) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req struct {
			Query     string         `json:"query"`
			Variables map[string]any `json:"variables"`
		}
		_ = json.Unmarshal(body, &req)

		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.Contains(req.Query, "update_Chapter"):
			s.updates = append(s.updates, req.Query)
			fmt.Fprint(w, `{"data": {"update_Chapter": [{"_docID": "updated"}]}}`)

		case strings.Contains(req.Query, "_ne: null"):
			var list []map[string]any
			for _, ch := range s.chapters {
				if ch["embedding"] != nil {
					list = append(list, ch)
				}
			}
			writeData(w, "Chapter", list)

		case strings.Contains(req.Query, "Book"):
			id, _ := req.Variables["v0"].(string)
			if book, ok := s.books[id]; ok {
				writeData(w, "Book", []map[string]any{book})
			} else {
				writeData(w, "Book", nil)
			}

		default: // chapter by docID
			id, _ := req.Variables["v0"].(string)
			if ch, ok := s.chapters[id]; ok {
				writeData(w, "Chapter", []map[string]any{ch})
			} else {
				writeData(w, "Chapter", nil)
			}
		}
	}
}

func writeData(w http.ResponseWriter, collection string, docs []map[string]any) {
	if docs == nil {
		docs = []map[string]any{}
	}
	payload, _ := json.Marshal(map[string]any{"data": map[string]any{collection: docs}})
	w.Write(payload)
}

func newTestPipeline(t *testing.T, stub *defraStub, gw gateway.Client) *Pipeline {
	t.Helper()
	server := httptest.NewServer(stub.handler())
	t.Cleanup(server.Close)
	return NewPipeline(NewStore(defra.NewClient(server.URL)), gw, 0, nil)
}

func TestEmbedChapterShortNoChunks(t *testing.T) {
	stub := &defraStub{
		chapters: map[string]map[string]any{
			"ch-1": {
				"_docID":     "ch-1",
				"book_id":    "book-1",
				"text":       "Short chapter text.",
				"word_count": float64(3),
			},
		},
	}
	gw := gateway.NewMock()
	p := newTestPipeline(t, stub, gw)

	if err := p.EmbedChapter(context.Background(), "ch-1"); err != nil {
		t.Fatalf("EmbedChapter failed: %v", err)
	}

	if len(gw.EmbeddingCalls) != 1 {
		t.Fatalf("embedding calls = %d", len(gw.EmbeddingCalls))
	}
	if texts := gw.EmbeddingCalls[0].Texts; len(texts) != 1 {
		t.Errorf("texts = %d, want 1 (no chunks)", len(texts))
	}
	if len(stub.updates) != 1 {
		t.Fatalf("updates = %d", len(stub.updates))
	}
	if !strings.Contains(stub.updates[0], "embedding_model") {
		t.Error("update missing embedding_model")
	}
	if strings.Contains(stub.updates[0], "chunks") {
		t.Error("short chapter should not persist chunks")
	}
}

func TestEmbedChapterWordCountBoundary(t *testing.T) {
	// word_count == threshold: embedded whole, no chunks. The boundary
	// is strictly greater-than.
	atThreshold := map[string]any{
		"_docID":     "ch-at",
		"text":       strings.Repeat("word ", ChunkWordThreshold),
		"word_count": float64(ChunkWordThreshold),
	}
	overThreshold := map[string]any{
		"_docID":     "ch-over",
		"text":       strings.Repeat("word ", ChunkWordThreshold+1),
		"word_count": float64(ChunkWordThreshold + 1),
	}

	stub := &defraStub{chapters: map[string]map[string]any{"ch-at": atThreshold, "ch-over": overThreshold}}
	gw := gateway.NewMock()
	p := newTestPipeline(t, stub, gw)

	if err := p.EmbedChapter(context.Background(), "ch-at"); err != nil {
		t.Fatalf("EmbedChapter at threshold failed: %v", err)
	}
	if texts := gw.EmbeddingCalls[0].Texts; len(texts) != 1 {
		t.Errorf("at threshold: texts = %d, want 1", len(texts))
	}

	if err := p.EmbedChapter(context.Background(), "ch-over"); err != nil {
		t.Fatalf("EmbedChapter over threshold failed: %v", err)
	}
	if texts := gw.EmbeddingCalls[1].Texts; len(texts) < 2 {
		t.Errorf("over threshold: texts = %d, want >= 2 (chapter + chunks)", len(texts))
	}
}

func TestEmbedChapterTruncatesLongText(t *testing.T) {
	stub := &defraStub{
		chapters: map[string]map[string]any{
			"ch-long": {
				"_docID":     "ch-long",
				"text":       strings.Repeat("x", MaxEmbedChars+5000),
				"word_count": float64(1),
			},
		},
	}
	gw := gateway.NewMock()
	p := newTestPipeline(t, stub, gw)

	if err := p.EmbedChapter(context.Background(), "ch-long"); err != nil {
		t.Fatalf("EmbedChapter failed: %v", err)
	}
	if got := len(gw.EmbeddingCalls[0].Texts[0]); got != MaxEmbedChars {
		t.Errorf("embedded text length = %d, want %d", got, MaxEmbedChars)
	}
}

func TestEmbedChapterDimsMismatch(t *testing.T) {
	stub := &defraStub{
		chapters: map[string]map[string]any{
			"ch-1": {"_docID": "ch-1", "text": "text", "word_count": float64(1)},
		},
	}
	gw := gateway.NewMock() // emits 8-dim vectors
	server := httptest.NewServer(stub.handler())
	defer server.Close()
	p := NewPipeline(NewStore(defra.NewClient(server.URL)), gw, 1536, nil)

	if err := p.EmbedChapter(context.Background(), "ch-1"); err == nil {
		t.Fatal("expected dimensionality error")
	}
	if len(stub.updates) != 0 {
		t.Error("mismatched embedding must not be persisted")
	}
}

func TestScanForDuplicatesResolvesGroup(t *testing.T) {
	similar := []any{1.0, 0.0, 0.0}
	nearSimilar := []any{0.999, 0.01, 0.0}
	distinct := []any{0.0, 1.0, 0.0}

	stub := &defraStub{
		chapters: map[string]map[string]any{
			"ch-new": {
				"_docID": "ch-new", "book_id": "book-paper", "embedding": similar,
				"word_count": float64(3000), "created_at": "2026-08-01T00:00:00Z",
			},
			"ch-old": {
				"_docID": "ch-old", "book_id": "book-standalone", "embedding": nearSimilar,
				"word_count": float64(3000), "created_at": "2024-01-01T00:00:00Z",
			},
			"ch-other": {
				"_docID": "ch-other", "book_id": "book-paper", "embedding": distinct,
				"word_count": float64(500),
			},
		},
		books: map[string]map[string]any{
			"book-paper":      {"_docID": "book-paper", "source_kind": "paper"},
			"book-standalone": {"_docID": "book-standalone", "source_kind": "standalone"},
		},
	}
	gw := gateway.NewMock()
	p := newTestPipeline(t, stub, gw)

	if err := p.ScanForDuplicates(context.Background(), "ch-new"); err != nil {
		t.Fatalf("ScanForDuplicates failed: %v", err)
	}

	// Both group members are flagged; the distinct chapter is untouched.
	if len(stub.updates) != 2 {
		t.Fatalf("updates = %d, want 2", len(stub.updates))
	}
	all := strings.Join(stub.updates, "\n")
	if !strings.Contains(all, "duplicate_group_id") {
		t.Error("group id not assigned")
	}

	// The standalone chapter outranks the paper chapter and wins.
	var newUpdate string
	for _, u := range stub.updates {
		if strings.Contains(u, `"ch-new"`) {
			newUpdate = u
		}
	}
	if newUpdate == "" {
		t.Fatal("no update for ch-new")
	}
	if !strings.Contains(newUpdate, "is_duplicate: true") {
		t.Errorf("ch-new should be flagged duplicate: %s", newUpdate)
	}
	if !strings.Contains(newUpdate, `duplicate_of: "ch-old"`) {
		t.Errorf("ch-new should point at ch-old: %s", newUpdate)
	}
}

func TestScanForDuplicatesReelectsExistingGroup(t *testing.T) {
	// ch-a and ch-b already share group g1 with ch-a as the keeper. The
	// new chapter ch-c sits above the threshold against ch-b but below it
	// against ch-a. Joining g1 must re-flag the whole group, not just the
	// pair that matched, so the group keeps exactly one keeper.
	vecA := []any{1.0, 0.0, 0.0}
	vecB := []any{0.966, 0.259, 0.0} // cos(a,b) ~ 0.966
	vecC := []any{0.866, 0.5, 0.0}   // cos(b,c) ~ 0.966, cos(a,c) ~ 0.866

	stub := &defraStub{
		chapters: map[string]map[string]any{
			"ch-a": {
				"_docID": "ch-a", "book_id": "book-standalone", "embedding": vecA,
				"word_count": float64(8000), "duplicate_group_id": "g1",
				"is_duplicate": false,
			},
			"ch-b": {
				"_docID": "ch-b", "book_id": "book-paper", "embedding": vecB,
				"word_count": float64(2000), "duplicate_group_id": "g1",
				"is_duplicate": true, "duplicate_of": "ch-a",
			},
			"ch-c": {
				"_docID": "ch-c", "book_id": "book-paper", "embedding": vecC,
				"word_count": float64(2000),
			},
		},
		books: map[string]map[string]any{
			"book-paper":      {"_docID": "book-paper", "source_kind": "paper"},
			"book-standalone": {"_docID": "book-standalone", "source_kind": "standalone"},
		},
	}
	p := newTestPipeline(t, stub, gateway.NewMock())

	if err := p.ScanForDuplicates(context.Background(), "ch-c"); err != nil {
		t.Fatalf("ScanForDuplicates failed: %v", err)
	}

	if len(stub.updates) != 3 {
		t.Fatalf("updates = %d, want 3 (full group re-flagged)", len(stub.updates))
	}

	keepers := 0
	for _, u := range stub.updates {
		if !strings.Contains(u, `duplicate_group_id: "g1"`) {
			t.Errorf("update did not reuse group g1: %s", u)
		}
		if strings.Contains(u, "is_duplicate: false") {
			keepers++
			if !strings.Contains(u, `"ch-a"`) {
				t.Errorf("keeper should be ch-a: %s", u)
			}
		}
	}
	if keepers != 1 {
		t.Errorf("keepers = %d, want exactly 1", keepers)
	}

	var cUpdate string
	for _, u := range stub.updates {
		if strings.Contains(u, `"ch-c"`) {
			cUpdate = u
		}
	}
	if !strings.Contains(cUpdate, `duplicate_of: "ch-a"`) {
		t.Errorf("ch-c should point at ch-a: %s", cUpdate)
	}
}

func TestScanForDuplicatesNoMatches(t *testing.T) {
	stub := &defraStub{
		chapters: map[string]map[string]any{
			"ch-1": {"_docID": "ch-1", "book_id": "b", "embedding": []any{1.0, 0.0}},
			"ch-2": {"_docID": "ch-2", "book_id": "b", "embedding": []any{0.0, 1.0}},
		},
	}
	p := newTestPipeline(t, stub, gateway.NewMock())

	if err := p.ScanForDuplicates(context.Background(), "ch-1"); err != nil {
		t.Fatalf("ScanForDuplicates failed: %v", err)
	}
	if len(stub.updates) != 0 {
		t.Errorf("updates = %d, want 0", len(stub.updates))
	}
}

func TestPreferenceScoreOrdering(t *testing.T) {
	base := Chapter{WordCount: 5000, QualityScore: 0.8}

	standalone := PreferenceScore(base, "standalone", 0.96)
	textbook := PreferenceScore(base, "textbook", 0.96)
	paper := PreferenceScore(base, "paper", 0.96)

	if !(standalone > textbook && textbook > paper) {
		t.Errorf("kind ordering violated: standalone=%v textbook=%v paper=%v", standalone, textbook, paper)
	}

	longer := base
	longer.WordCount = 9000
	if PreferenceScore(longer, "paper", 0.96) <= paper {
		t.Error("longer chapter should score higher within a kind")
	}
}
