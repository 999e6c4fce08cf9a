package ingest

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackzampolin/folio/internal/defra"
)

// ChapterSpan is a detected chapter: a contiguous page range with the
// assembled transcription text.
type ChapterSpan struct {
	Title     string
	PageStart int
	PageEnd   int
	Text      string
	WordCount int
}

// chapterHeadingRe matches transcription lines that open a chapter:
// a markdown H1, or a "Chapter N" / "Part N" line near the top of a page.
var chapterHeadingRe = regexp.MustCompile(`(?i)^(?:#\s+.+|(?:chapter|part)\s+[0-9ivxlc]+\b.*)$`)

// headingScanLines bounds how far into a page a chapter heading may sit.
// Headings deeper than this are running text, not chapter openings.
const headingScanLines = 6

// DetectChapters splits transcribed pages into chapter spans. A page
// whose first lines carry a chapter heading starts a new span. Books
// with no detectable headings yield a single span, as do papers.
func DetectChapters(pages []PageText, bookTitle string) []ChapterSpan {
	var spans []ChapterSpan
	var current *ChapterSpan

	for _, page := range pages {
		if title, ok := chapterHeading(page.Text); ok || current == nil {
			if current != nil {
				current.PageEnd = page.PageNum - 1
				spans = append(spans, *current)
			}
			if title == "" {
				title = bookTitle
			}
			current = &ChapterSpan{Title: title, PageStart: page.PageNum}
		}
		if page.Text != "" {
			if current.Text != "" {
				current.Text += "\n\n"
			}
			current.Text += page.Text
		}
	}
	if current != nil {
		if len(pages) > 0 {
			current.PageEnd = pages[len(pages)-1].PageNum
		}
		spans = append(spans, *current)
	}

	for i := range spans {
		spans[i].WordCount = len(strings.Fields(spans[i].Text))
	}
	return spans
}

// chapterHeading reports whether a page opens a chapter and extracts
// the heading title.
func chapterHeading(text string) (string, bool) {
	lines := strings.Split(text, "\n")
	limit := headingScanLines
	if len(lines) < limit {
		limit = len(lines)
	}

	for i := 0; i < limit; i++ {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if !chapterHeadingRe.MatchString(line) {
			// First non-empty line decides; anything else is body text.
			return "", false
		}

		isMarkdown := strings.HasPrefix(line, "#")
		title := strings.TrimSpace(strings.TrimPrefix(line, "#"))
		// A bare "Chapter 12" line often sits above the real title;
		// append the next non-empty line. Markdown headings already
		// carry the full title.
		if !isMarkdown && bareChapterRe.MatchString(title) {
			for j := i + 1; j < limit; j++ {
				next := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(lines[j]), "#"))
				if next != "" {
					title = title + ": " + next
					break
				}
			}
		}
		return title, true
	}
	return "", false
}

var bareChapterRe = regexp.MustCompile(`(?i)^(?:chapter|part)\s+[0-9ivxlc]+$`)

// CreateChapters writes Chapter records for the detected spans and
// returns their docIDs in span order.
func CreateChapters(ctx context.Context, client *defra.Client, bookID string, spans []ChapterSpan) ([]string, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	inputs := make([]map[string]any, 0, len(spans))
	for _, span := range spans {
		inputs = append(inputs, map[string]any{
			"book_id":    bookID,
			"title":      span.Title,
			"page_start": span.PageStart,
			"page_end":   span.PageEnd,
			"text":       span.Text,
			"word_count": span.WordCount,
			"created_at": now,
		})
	}

	// Batch create returns results in arbitrary order; match back to
	// spans by page_start.
	results, err := client.CreateMany(ctx, "Chapter", inputs, "page_start")
	if err != nil {
		return nil, fmt.Errorf("failed to create Chapter records: %w", err)
	}

	byStart := make(map[int]string, len(results))
	for _, r := range results {
		if start, ok := r.Fields["page_start"].(float64); ok {
			byStart[int(start)] = r.DocID
		}
	}

	ids := make([]string, 0, len(spans))
	for _, span := range spans {
		id, ok := byStart[span.PageStart]
		if !ok {
			return nil, fmt.Errorf("chapter starting at page %d missing from create response", span.PageStart)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
