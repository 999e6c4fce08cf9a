// Package embedding maintains the chapter vector index: chapter-level
// embeddings, boundary-aware chunk embeddings for long chapters, and
// duplicate-of-existing detection.
package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackzampolin/folio/internal/defra"
	"github.com/jackzampolin/folio/internal/types"
)

// Chapter is an indexed text unit loaded from the Chapter collection.
type Chapter struct {
	ID               string
	BookID           string
	Title            string
	PageStart        int
	PageEnd          int
	Text             string
	WordCount        int
	QualityScore     float64
	Embedding        []float32
	EmbeddingModel   string
	EmbeddedAt       time.Time
	Chunks           []Chunk
	IsDuplicate      bool
	DuplicateOf      string
	DuplicateGroupID string
	PreferenceScore  float64
	CreatedAt        time.Time
}

// chapterFields is the full field selection for chapter loads.
var chapterFields = []string{
	"_docID", "book_id", "title", "page_start", "page_end", "text",
	"word_count", "quality_score", "embedding", "embedding_model",
	"embedded_at", "chunks", "is_duplicate", "duplicate_of",
	"duplicate_group_id", "preference_score", "created_at",
}

// Store reads and writes Chapter records.
type Store struct {
	client *defra.Client
}

// NewStore creates a chapter store.
func NewStore(client *defra.Client) *Store {
	return &Store{client: client}
}

// Get loads one chapter by docID, including its full text.
func (s *Store) Get(ctx context.Context, chapterID string) (*Chapter, error) {
	resp, err := defra.SafeQueryByDocID(ctx, s.client, "Chapter", chapterID, chapterFields...)
	if err != nil {
		return nil, fmt.Errorf("failed to load chapter: %w", err)
	}
	chapters := parseChapters(resp)
	if len(chapters) == 0 {
		return nil, fmt.Errorf("chapter %s: %w", chapterID, types.ErrUnknownEntity)
	}
	return &chapters[0], nil
}

// ListEmbedded returns every chapter that carries an embedding vector.
// Text is not loaded; similarity scans don't need it.
func (s *Store) ListEmbedded(ctx context.Context) ([]Chapter, error) {
	query := `{ Chapter(filter: {embedding: {_ne: null}}) {
		_docID book_id title page_start page_end word_count quality_score
		embedding embedding_model is_duplicate duplicate_of
		duplicate_group_id preference_score created_at
	} }`

	resp, err := s.client.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list embedded chapters: %w", err)
	}
	return parseChapters(resp), nil
}

// ListByBook returns all chapters of a book ordered by page_start.
func (s *Store) ListByBook(ctx context.Context, bookID string) ([]Chapter, error) {
	resp, err := defra.NewQuery("Chapter").
		Filter("book_id", bookID).
		OrderBy("page_start", "ASC").
		Fields(chapterFields...).
		Execute(ctx, s.client)
	if err != nil {
		return nil, fmt.Errorf("failed to list book chapters: %w", err)
	}
	return parseChapters(resp), nil
}

// SaveEmbedding persists a chapter's vector, model id, timestamp, and
// any chunk embeddings.
func (s *Store) SaveEmbedding(ctx context.Context, chapterID, model string, vector []float32, chunks []Chunk) error {
	update := map[string]any{
		"embedding":       toFloat64s(vector),
		"embedding_model": model,
		"embedded_at":     time.Now().UTC().Format(time.RFC3339),
		"updated_at":      time.Now().UTC().Format(time.RFC3339),
	}
	if len(chunks) > 0 {
		data, err := json.Marshal(chunks)
		if err != nil {
			return fmt.Errorf("failed to encode chunks: %w", err)
		}
		update["chunks"] = string(data)
	}
	return s.client.Update(ctx, "Chapter", chapterID, update)
}

// SaveDuplicateFlags persists the outcome of a duplicate scan for one
// chapter.
func (s *Store) SaveDuplicateFlags(ctx context.Context, chapterID, groupID, duplicateOf string, isDuplicate bool, preference float64) error {
	update := map[string]any{
		"duplicate_group_id": groupID,
		"is_duplicate":       isDuplicate,
		"preference_score":   preference,
		"updated_at":         time.Now().UTC().Format(time.RFC3339),
	}
	if isDuplicate {
		update["duplicate_of"] = duplicateOf
	} else {
		update["duplicate_of"] = ""
	}
	return s.client.Update(ctx, "Chapter", chapterID, update)
}

// BookKind returns the source_kind of a chapter's book, defaulting to
// textbook when the book is missing.
func (s *Store) BookKind(ctx context.Context, bookID string) (string, error) {
	resp, err := defra.SafeQueryByDocID(ctx, s.client, "Book", bookID, "_docID", "source_kind")
	if err != nil {
		return "", err
	}
	if books, ok := resp.Data["Book"].([]any); ok && len(books) > 0 {
		if book, ok := books[0].(map[string]any); ok {
			if kind, ok := book["source_kind"].(string); ok && kind != "" {
				return kind, nil
			}
		}
	}
	return "textbook", nil
}

func parseChapters(resp *defra.GQLResponse) []Chapter {
	raw, ok := resp.Data["Chapter"].([]any)
	if !ok {
		return nil
	}

	chapters := make([]Chapter, 0, len(raw))
	for _, r := range raw {
		m, ok := r.(map[string]any)
		if !ok {
			continue
		}
		ch := Chapter{
			ID:               str(m["_docID"]),
			BookID:           str(m["book_id"]),
			Title:            str(m["title"]),
			PageStart:        num(m["page_start"]),
			PageEnd:          num(m["page_end"]),
			Text:             str(m["text"]),
			WordCount:        num(m["word_count"]),
			QualityScore:     f64(m["quality_score"]),
			EmbeddingModel:   str(m["embedding_model"]),
			IsDuplicate:      boolean(m["is_duplicate"]),
			DuplicateOf:      str(m["duplicate_of"]),
			DuplicateGroupID: str(m["duplicate_group_id"]),
			PreferenceScore:  f64(m["preference_score"]),
		}
		ch.Embedding = toFloat32s(m["embedding"])
		if ts := str(m["embedded_at"]); ts != "" {
			ch.EmbeddedAt, _ = time.Parse(time.RFC3339, ts)
		}
		if ts := str(m["created_at"]); ts != "" {
			ch.CreatedAt, _ = time.Parse(time.RFC3339, ts)
		}
		if blob := str(m["chunks"]); blob != "" {
			_ = json.Unmarshal([]byte(blob), &ch.Chunks)
		}
		chapters = append(chapters, ch)
	}
	return chapters
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func num(v any) int {
	f, _ := v.(float64)
	return int(f)
}

func f64(v any) float64 {
	f, _ := v.(float64)
	return f
}

func boolean(v any) bool {
	b, _ := v.(bool)
	return b
}

func toFloat64s(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

func toFloat32s(v any) []float32 {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]float32, 0, len(raw))
	for _, r := range raw {
		if f, ok := r.(float64); ok {
			out = append(out, float32(f))
		}
	}
	return out
}
