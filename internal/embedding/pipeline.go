package embedding

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackzampolin/folio/internal/gateway"
)

// MaxEmbedChars caps the text fed to the embedding model. A safe
// approximation of the model's input-token ceiling.
const MaxEmbedChars = 24000

// Pipeline embeds chapters and runs the duplicate scan.
type Pipeline struct {
	store  *Store
	gw     gateway.Client
	logger *slog.Logger

	// Dims, when non-zero, enforces a fixed embedding dimensionality
	// across the corpus.
	Dims int
}

// NewPipeline creates an embedding pipeline.
func NewPipeline(store *Store, gw gateway.Client, dims int, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:  store,
		gw:     gw,
		logger: logger.With("component", "embedding"),
		Dims:   dims,
	}
}

// ProcessChapter runs the full post-ingest pipeline for one chapter:
// embed, chunk if long, persist, then scan for duplicates of existing
// chapters.
func (p *Pipeline) ProcessChapter(ctx context.Context, chapterID string) error {
	if err := p.EmbedChapter(ctx, chapterID); err != nil {
		return err
	}
	return p.ScanForDuplicates(ctx, chapterID)
}

// EmbedChapter generates and persists the chapter-level embedding, plus
// chunk embeddings when word_count exceeds ChunkWordThreshold
// (strictly greater).
func (p *Pipeline) EmbedChapter(ctx context.Context, chapterID string) error {
	ch, err := p.store.Get(ctx, chapterID)
	if err != nil {
		return err
	}
	if ch.Text == "" {
		return fmt.Errorf("chapter %s has no text", chapterID)
	}

	text := ch.Text
	if len(text) > MaxEmbedChars {
		text = text[:MaxEmbedChars]
	}

	var chunks []Chunk
	texts := []string{text}
	if ch.WordCount > ChunkWordThreshold {
		chunks = BuildChunks(ch.Text)
		for _, c := range chunks {
			texts = append(texts, c.Text)
		}
	}

	res, err := p.gw.GenerateEmbedding(ctx, &gateway.EmbeddingRequest{
		Texts: texts,
		Meta: gateway.CallMeta{
			Stage:     "embedding",
			Operation: "chapter_embed",
		},
	})
	if err != nil {
		return fmt.Errorf("failed to embed chapter %s: %w", chapterID, err)
	}
	if len(res.Embeddings) != len(texts) {
		return fmt.Errorf("embedding count mismatch: got %d, want %d", len(res.Embeddings), len(texts))
	}
	if p.Dims > 0 && len(res.Embeddings[0]) != p.Dims {
		return fmt.Errorf("embedding dimensionality %d does not match configured %d", len(res.Embeddings[0]), p.Dims)
	}

	for i := range chunks {
		chunks[i].Embedding = res.Embeddings[i+1]
	}

	if err := p.store.SaveEmbedding(ctx, chapterID, res.Model, res.Embeddings[0], chunks); err != nil {
		return fmt.Errorf("failed to persist embedding: %w", err)
	}

	p.logger.Info("chapter embedded",
		"chapter_id", chapterID,
		"model", res.Model,
		"chunks", len(chunks),
	)
	return nil
}
