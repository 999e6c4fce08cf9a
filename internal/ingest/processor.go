package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackzampolin/folio/internal/defra"
	"github.com/jackzampolin/folio/internal/gateway"
	"github.com/jackzampolin/folio/internal/home"
)

// ProgressFunc reports processing progress: the step name, completed
// units, and total units. Implementations must not block.
type ProgressFunc func(step string, completed, total int)

// ChapterHook runs after each Chapter record is created, with the
// chapter docID. Used to enqueue the embedding pipeline.
type ChapterHook func(ctx context.Context, chapterID string) error

// Processor turns a stored book into Chapter records: transcribes
// pages, detects chapter boundaries, extracts metadata, and hands each
// chapter to the post-ingest hook.
type Processor struct {
	client  *defra.Client
	gw      gateway.Client
	homeDir *home.Dir
	logger  *slog.Logger

	// OnChapter, when set, runs per created chapter.
	OnChapter ChapterHook

	// OnProgress, when set, receives step progress.
	OnProgress ProgressFunc
}

// NewProcessor creates a Processor.
func NewProcessor(client *defra.Client, gw gateway.Client, homeDir *home.Dir, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		client:  client,
		gw:      gw,
		homeDir: homeDir,
		logger:  logger.With("component", "ingest"),
	}
}

// ProcessResult summarizes book processing.
type ProcessResult struct {
	BookID      string
	ChapterIDs  []string
	Metadata    *BookMetadata // nil when extraction failed
	FailedPages int
}

// Process runs the full post-ingest pipeline for a stored book.
func (p *Processor) Process(ctx context.Context, bookID, bookTitle string, pageCount int) (*ProcessResult, error) {
	log := p.logger.With("book_id", bookID)
	p.progress("transcribe", 0, pageCount)

	pages, err := TranscribePages(ctx, p.gw, p.homeDir.BookImagesDir(bookID), bookID, pageCount, log)
	if err != nil {
		return nil, fmt.Errorf("transcription failed: %w", err)
	}
	failed := 0
	for _, pg := range pages {
		if pg.Err != nil {
			failed++
		}
	}
	p.progress("transcribe", pageCount, pageCount)

	spans := DetectChapters(pages, bookTitle)
	if len(spans) == 0 {
		return nil, fmt.Errorf("no chapters detected")
	}
	log.Info("detected chapters", "count", len(spans))

	chapterIDs, err := CreateChapters(ctx, p.client, bookID, spans)
	if err != nil {
		return nil, err
	}
	p.progress("chapters", len(chapterIDs), len(chapterIDs))

	// Metadata extraction is best-effort; a failure leaves the
	// filename-derived title in place.
	meta, err := ExtractBookMetadata(ctx, p.gw, p.client, bookID, pages)
	if err != nil {
		log.Warn("metadata extraction failed", "error", err)
		meta = nil
	}

	if p.OnChapter != nil {
		for i, id := range chapterIDs {
			if err := p.OnChapter(ctx, id); err != nil {
				log.Warn("chapter hook failed", "chapter_id", id, "error", err)
			}
			p.progress("post_process", i+1, len(chapterIDs))
		}
	}

	if err := p.client.Update(ctx, "Book", bookID, map[string]any{
		"status":     "processed",
		"updated_at": time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		return nil, fmt.Errorf("failed to mark book processed: %w", err)
	}

	log.Info("book processed", "chapters", len(chapterIDs), "failed_pages", failed)
	return &ProcessResult{
		BookID:      bookID,
		ChapterIDs:  chapterIDs,
		Metadata:    meta,
		FailedPages: failed,
	}, nil
}

func (p *Processor) progress(step string, completed, total int) {
	if p.OnProgress != nil {
		p.OnProgress(step, completed, total)
	}
}
