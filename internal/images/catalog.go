// Package images catalogs candidate figures for document synthesis.
// Rendered book pages stand in for extracted figures; the placement
// stage scores them against section content by chapter keywords.
package images

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jackzampolin/folio/internal/embedding"
	"github.com/jackzampolin/folio/internal/home"
	"github.com/jackzampolin/folio/internal/synthesis"
)

// maxPerChapter caps candidates per chapter so long chapters don't
// drown the scoring pass.
const maxPerChapter = 5

// Catalog lists figure candidates from a book's rendered pages.
type Catalog struct {
	chapters *embedding.Store
	home     *home.Dir
	logger   *slog.Logger
}

// NewCatalog creates a figure catalog.
func NewCatalog(chapters *embedding.Store, homeDir *home.Dir, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		chapters: chapters,
		home:     homeDir,
		logger:   logger.With("component", "images"),
	}
}

// ForChapters returns figure candidates for the given chapters,
// keyed by the chapter's title terms. Chapters that fail to load are
// skipped rather than failing the whole lookup.
func (c *Catalog) ForChapters(ctx context.Context, chapterIDs []string) ([]synthesis.ImageRef, error) {
	var refs []synthesis.ImageRef
	for _, id := range chapterIDs {
		ch, err := c.chapters.Get(ctx, id)
		if err != nil {
			c.logger.Warn("skipping chapter in figure lookup", "chapter_id", id, "error", err)
			continue
		}
		refs = append(refs, c.chapterFigures(ch)...)
	}
	return refs, nil
}

func (c *Catalog) chapterFigures(ch *embedding.Chapter) []synthesis.ImageRef {
	keywords := titleTerms(ch.Title)

	var refs []synthesis.ImageRef
	for page := ch.PageStart; page <= ch.PageEnd && len(refs) < maxPerChapter; page++ {
		name := fmt.Sprintf("page_%04d", page)
		path := filepath.Join(c.home.BookImagesDir(ch.BookID), name+".png")
		if _, err := os.Stat(path); err != nil {
			continue
		}
		refs = append(refs, synthesis.ImageRef{
			ID:       ch.BookID + "/" + name,
			BookID:   ch.BookID,
			Page:     page,
			Keywords: keywords,
		})
	}
	return refs
}

// titleTerms lowercases a chapter title into scoring keywords,
// dropping short filler words.
func titleTerms(title string) []string {
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(title)) {
		w = strings.Trim(w, ".,;:()[]\"'")
		if len(w) > 3 {
			terms = append(terms, w)
		}
	}
	return terms
}
