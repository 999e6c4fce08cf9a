package ingest

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/jackzampolin/folio/internal/gateway"
)

// transcribePrompt asks the vision model for a faithful markdown
// transcription of a scanned page.
const transcribePrompt = `Transcribe this scanned page to markdown.
Preserve headings, paragraphs, lists, and tables. Use # only for chapter
or part titles that appear on the page. Transcribe figure captions as
italic text. Output only the transcription, no commentary.`

// PageText is the transcription of one rendered page.
type PageText struct {
	PageNum int
	Text    string
	Err     error // Per-page transcription failure; text is empty
}

// transcribeConcurrency bounds parallel vision calls per book. Provider
// semaphores still apply underneath.
const transcribeConcurrency = 4

// TranscribePages runs vision transcription over a book's rendered page
// images. Per-page failures are recorded on the PageText and logged;
// they do not abort the batch. Results are ordered by page number.
func TranscribePages(ctx context.Context, gw gateway.Client, imagesDir, bookID string, pageCount int, log *slog.Logger) ([]PageText, error) {
	if log == nil {
		log = slog.Default()
	}

	pages := make([]PageText, pageCount)
	sem := make(chan struct{}, transcribeConcurrency)
	var wg sync.WaitGroup

	for i := 0; i < pageCount; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			pageNum := idx + 1
			text, err := transcribePage(ctx, gw, imagesDir, bookID, pageNum)
			pages[idx] = PageText{PageNum: pageNum, Text: text, Err: err}
			if err != nil {
				log.Warn("page transcription failed", "book_id", bookID, "page", pageNum, "error", err)
			}
		}(i)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return pages, err
	}

	failed := 0
	for _, p := range pages {
		if p.Err != nil {
			failed++
		}
	}
	if failed == pageCount {
		return pages, fmt.Errorf("all %d pages failed transcription", pageCount)
	}
	if failed > 0 {
		log.Warn("transcription finished with failures", "book_id", bookID, "failed", failed, "total", pageCount)
	}
	return pages, nil
}

func transcribePage(ctx context.Context, gw gateway.Client, imagesDir, bookID string, pageNum int) (string, error) {
	data, err := os.ReadFile(filepath.Join(imagesDir, PageImageName(pageNum)))
	if err != nil {
		return "", fmt.Errorf("failed to read page image: %w", err)
	}

	res, err := gw.AnalyzeImage(ctx, &gateway.ImageRequest{
		Prompt:   transcribePrompt,
		Base64:   base64.StdEncoding.EncodeToString(data),
		MimeType: "image/png",
		Meta: gateway.CallMeta{
			Stage:     "ingest",
			Operation: fmt.Sprintf("transcribe_page_%d", pageNum),
		},
	})
	if err != nil {
		return "", err
	}
	return res.Content, nil
}
