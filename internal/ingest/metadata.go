package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackzampolin/folio/internal/defra"
	"github.com/jackzampolin/folio/internal/gateway"
	"github.com/jackzampolin/folio/internal/types"
)

// metadataPages is how many leading pages feed metadata extraction.
// Title pages and imprints sit at the front of the book.
const metadataPages = 5

// BookMetadata is the structured extraction result for a book's front matter.
type BookMetadata struct {
	Title           string   `json:"title"`
	Authors         []string `json:"authors"`
	Publisher       string   `json:"publisher,omitempty"`
	PublicationYear int      `json:"publication_year,omitempty"`
}

var bookMetadataSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"title": map[string]any{
			"type":        "string",
			"description": "Full title of the work as printed on the title page",
		},
		"authors": map[string]any{
			"type":        "array",
			"items":       map[string]any{"type": "string"},
			"description": "Authors or editors in printed order",
		},
		"publisher": map[string]any{"type": "string"},
		"publication_year": map[string]any{
			"type":        "integer",
			"description": "Year of this edition, 0 if not stated",
		},
	},
	"required":             []any{"title", "authors"},
	"additionalProperties": false,
}

// ExtractBookMetadata reads the book's front matter via a structured
// call and updates the Book record with whatever was found. Extraction
// failure is non-fatal for ingestion; callers log and continue.
func ExtractBookMetadata(ctx context.Context, gw gateway.Client, client *defra.Client, bookID string, pages []PageText) (*BookMetadata, error) {
	front := frontMatter(pages)
	if front == "" {
		return nil, fmt.Errorf("no transcribed front matter available")
	}

	res, err := gw.GenerateStructured(ctx, types.TaskMetadataExtraction, &gateway.StructuredRequest{
		System:     "You extract bibliographic metadata from scanned book front matter.",
		Prompt:     "Extract the title, authors, publisher, and publication year from these pages:\n\n" + front,
		SchemaName: "book_metadata",
		Schema:     bookMetadataSchema,
		Meta: gateway.CallMeta{
			Stage:     "ingest",
			Operation: "book_metadata",
		},
	})
	if err != nil {
		return nil, err
	}

	var meta BookMetadata
	if err := json.Unmarshal(res.Data, &meta); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}

	update := map[string]any{
		"updated_at": time.Now().UTC().Format(time.RFC3339),
	}
	if meta.Title != "" {
		update["title"] = meta.Title
	}
	if len(meta.Authors) > 0 {
		update["authors"] = meta.Authors
	}
	if meta.Publisher != "" {
		update["publisher"] = meta.Publisher
	}
	if meta.PublicationYear > 0 {
		update["publication_year"] = meta.PublicationYear
	}

	if err := client.Update(ctx, "Book", bookID, update); err != nil {
		return nil, fmt.Errorf("failed to update Book metadata: %w", err)
	}
	return &meta, nil
}

// frontMatter concatenates the first few successfully transcribed pages.
func frontMatter(pages []PageText) string {
	var parts []string
	for _, p := range pages {
		if p.PageNum > metadataPages {
			break
		}
		if p.Text != "" {
			parts = append(parts, p.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}
