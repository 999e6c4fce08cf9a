// Package ingest stores scholarly PDFs, renders their pages, and
// extracts chapter records for indexing.
package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/folio/internal/defra"
	"github.com/jackzampolin/folio/internal/home"
)

// SourceKind classifies an ingested book for duplicate preference
// ranking. Standalone documents outrank textbooks, textbooks outrank
// papers.
const (
	KindTextbook   = "textbook"
	KindStandalone = "standalone"
	KindPaper      = "paper"
)

// Request contains the parameters for ingesting a book.
type Request struct {
	PDFPaths   []string // PDF file paths (sorted by numeric part suffix)
	Title      string   // Optional, derived from filename if empty
	Authors    []string // Optional
	SourceKind string   // textbook|standalone|paper; defaults to textbook
	Logger     *slog.Logger
}

// Result describes a stored book awaiting chapter processing.
type Result struct {
	BookID    string
	Title     string
	PageCount int
	PDFs      PDFList // Stored copies under the home dir, in part order
}

// Ingest copies the PDFs into the home directory, renders page images,
// and creates the Book record. Text extraction and chapter detection
// run afterwards via Processor.
func Ingest(ctx context.Context, client *defra.Client, homeDir *home.Dir, req Request) (*Result, error) {
	log := req.Logger
	if log == nil {
		log = slog.Default()
	}

	if len(req.PDFPaths) == 0 {
		return nil, fmt.Errorf("no PDF paths provided")
	}
	for _, p := range req.PDFPaths {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("PDF not found: %s", p)
		}
	}

	sortedPaths := sortPDFsByNumber(req.PDFPaths)
	log.Info("starting ingest", "pdfs", len(sortedPaths), "title", req.Title)

	title := req.Title
	if title == "" {
		title = deriveTitle(sortedPaths[0])
	}
	kind := req.SourceKind
	if kind == "" {
		kind = KindTextbook
	}

	// Stage files under a provisional id; renamed to the docID below.
	stagingID := uuid.New().String()
	if err := homeDir.EnsureBookDir(stagingID); err != nil {
		return nil, fmt.Errorf("failed to create book directory: %w", err)
	}

	stored, err := copyPDFs(sortedPaths, homeDir, stagingID)
	if err != nil {
		os.RemoveAll(homeDir.BookDir(stagingID))
		return nil, err
	}

	pdfs, err := buildPDFList(stored)
	if err != nil {
		os.RemoveAll(homeDir.BookDir(stagingID))
		return nil, err
	}
	pageCount := pdfs.TotalPages()
	if pageCount == 0 {
		os.RemoveAll(homeDir.BookDir(stagingID))
		return nil, fmt.Errorf("no pages found in PDFs")
	}

	log.Debug("rendering pages", "pages", pageCount)
	if err := renderPages(pdfs, homeDir.BookImagesDir(stagingID)); err != nil {
		os.RemoveAll(homeDir.BookDir(stagingID))
		return nil, fmt.Errorf("failed to render pages: %w", err)
	}

	input := map[string]any{
		"title":       title,
		"page_count":  pageCount,
		"source_kind": kind,
		"status":      "ingested",
		"created_at":  time.Now().UTC().Format(time.RFC3339),
	}
	if len(req.Authors) > 0 {
		input["authors"] = req.Authors
	}

	docID, err := client.Create(ctx, "Book", input)
	if err != nil {
		os.RemoveAll(homeDir.BookDir(stagingID))
		return nil, fmt.Errorf("failed to create Book record: %w", err)
	}

	// Rename directory from staging UUID to docID.
	if err := os.Rename(homeDir.BookDir(stagingID), homeDir.BookDir(docID)); err != nil {
		return nil, fmt.Errorf("failed to rename book directory: %w", err)
	}

	final, err := buildPDFList(storedPaths(homeDir, docID, len(stored)))
	if err != nil {
		return nil, err
	}

	log.Info("ingest complete", "book_id", docID, "pages", pageCount)

	return &Result{
		BookID:    docID,
		Title:     title,
		PageCount: pageCount,
		PDFs:      final,
	}, nil
}

// copyPDFs copies each part into the book's originals directory.
func copyPDFs(paths []string, homeDir *home.Dir, bookID string) ([]string, error) {
	stored := make([]string, 0, len(paths))
	for i, src := range paths {
		dst := homeDir.BookPDFPath(bookID, i+1)
		if err := copyFile(src, dst); err != nil {
			return nil, fmt.Errorf("failed to store PDF %s: %w", src, err)
		}
		stored = append(stored, dst)
	}
	return stored, nil
}

func storedPaths(homeDir *home.Dir, bookID string, parts int) []string {
	paths := make([]string, 0, parts)
	for i := 1; i <= parts; i++ {
		paths = append(paths, homeDir.BookPDFPath(bookID, i))
	}
	return paths
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
