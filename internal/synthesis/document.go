// Package synthesis drives the staged generation of a cited document
// from a topic: analysis, retrieval, planning, drafting, verification,
// and delivery, with a checkpoint written at every stage boundary.
package synthesis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackzampolin/folio/internal/defra"
	"github.com/jackzampolin/folio/internal/factcheck"
	"github.com/jackzampolin/folio/internal/gaps"
	"github.com/jackzampolin/folio/internal/types"
)

// Document generation statuses beyond the stage_N states.
const (
	StatusQueued    = "queued"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Document types.
const (
	TypeSurgicalDisease   = "surgical_disease"
	TypePureAnatomy       = "pure_anatomy"
	TypeSurgicalTechnique = "surgical_technique"
)

// MinTopicLength rejects degenerate topics before stage 1 spends money.
const MinTopicLength = 3

// Document is the synthesized artifact.
type Document struct {
	ID               string            `json:"_docID,omitempty"`
	Topic            string            `json:"topic"`
	DocumentType     string            `json:"document_type,omitempty"`
	GenerationStatus string            `json:"generation_status"`
	CurrentStage     int               `json:"current_stage"`
	Sections         []types.Section   `json:"sections,omitempty"`
	References       []types.Reference `json:"references,omitempty"`
	DepthScore       float64           `json:"depth_score"`
	CoverageScore    float64           `json:"coverage_score"`
	CurrencyScore    float64           `json:"currency_score"`
	EvidenceScore    float64           `json:"evidence_score"`
	GapAnalysis      *gaps.Report      `json:"gap_analysis,omitempty"`
	FactCheck        *factcheck.Report `json:"fact_check,omitempty"`
	TotalWords       int               `json:"total_words"`
	Version          string            `json:"version,omitempty"`
	ParentDocumentID string            `json:"parent_document_id,omitempty"`
	IsCurrentVersion bool              `json:"is_current_version"`
	Error            string            `json:"error,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// DocumentStore persists Documents in DefraDB.
type DocumentStore struct {
	client *defra.Client
	logger *slog.Logger
}

// NewDocumentStore creates a document store.
func NewDocumentStore(client *defra.Client, logger *slog.Logger) *DocumentStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentStore{client: client, logger: logger}
}

// Create persists a queued document for the topic. Topic length is
// validated here so the stage machine never starts for junk input.
func (s *DocumentStore) Create(ctx context.Context, topic, documentType string) (string, error) {
	if len([]rune(topic)) < MinTopicLength {
		return "", fmt.Errorf("%w: topic must be at least %d characters", types.ErrInvalidInput, MinTopicLength)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	input := map[string]any{
		"topic":              topic,
		"generation_status":  StatusQueued,
		"current_stage":      0,
		"is_current_version": false,
		"created_at":         now,
		"updated_at":         now,
	}
	if documentType != "" {
		input["document_type"] = documentType
	}

	id, err := s.client.Create(ctx, "Document", input)
	if err != nil {
		return "", fmt.Errorf("failed to create document: %w", err)
	}
	s.logger.Info("document created", "id", id, "topic", topic)
	return id, nil
}

const documentFields = `_docID
		topic
		document_type
		generation_status
		current_stage
		sections
		references
		depth_score
		coverage_score
		currency_score
		evidence_score
		gap_analysis
		fact_check
		total_words
		version
		parent_document_id
		is_current_version
		error
		created_at
		updated_at`

// Get returns a document by id.
func (s *DocumentStore) Get(ctx context.Context, documentID string) (*Document, error) {
	query := fmt.Sprintf(`{
	Document(docID: %q) {
		%s
	}
}`, documentID, documentFields)

	resp, err := s.client.Query(ctx, query)
	if err != nil {
		return nil, err
	}

	docs, ok := resp.Data["Document"].([]any)
	if !ok || len(docs) == 0 {
		return nil, fmt.Errorf("%w: document %s", types.ErrUnknownEntity, documentID)
	}
	return parseDocument(docs[0].(map[string]any))
}

// List returns documents newest first.
func (s *DocumentStore) List(ctx context.Context, limit int) ([]*Document, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`{
	Document(order: {created_at: DESC}, limit: %d) {
		%s
	}
}`, limit, documentFields)

	resp, err := s.client.Query(ctx, query)
	if err != nil {
		return nil, err
	}

	docs, ok := resp.Data["Document"].([]any)
	if !ok {
		return []*Document{}, nil
	}

	out := make([]*Document, 0, len(docs))
	for _, d := range docs {
		doc, ok := d.(map[string]any)
		if !ok {
			continue
		}
		parsed, err := parseDocument(doc)
		if err != nil {
			s.logger.Warn("skipping unparseable document", "error", err)
			continue
		}
		out = append(out, parsed)
	}
	return out, nil
}

// Update applies a partial update and stamps updated_at.
func (s *DocumentStore) Update(ctx context.Context, documentID string, input map[string]any) error {
	input["updated_at"] = time.Now().UTC().Format(time.RFC3339)
	return s.client.Update(ctx, "Document", documentID, input)
}

// SetStage advances the document's status to the given stage.
func (s *DocumentStore) SetStage(ctx context.Context, documentID string, stage int) error {
	return s.Update(ctx, documentID, map[string]any{
		"generation_status": fmt.Sprintf("stage_%d", stage),
		"current_stage":     stage,
	})
}

// SaveSections persists the section tree and derived word total.
func (s *DocumentStore) SaveSections(ctx context.Context, documentID string, sections []types.Section) error {
	blob, err := json.Marshal(sections)
	if err != nil {
		return fmt.Errorf("failed to marshal sections: %w", err)
	}
	return s.Update(ctx, documentID, map[string]any{
		"sections":    string(blob),
		"total_words": types.TotalSectionWords(sections),
	})
}

// SaveReferences persists the numbered reference list.
func (s *DocumentStore) SaveReferences(ctx context.Context, documentID string, refs []types.Reference) error {
	blob, err := json.Marshal(refs)
	if err != nil {
		return fmt.Errorf("failed to marshal references: %w", err)
	}
	return s.Update(ctx, documentID, map[string]any{"references": string(blob)})
}

// MarkFailed records the terminal failure state.
func (s *DocumentStore) MarkFailed(ctx context.Context, documentID string, stage int, cause error) error {
	return s.Update(ctx, documentID, map[string]any{
		"generation_status": StatusFailed,
		"current_stage":     stage,
		"error":             cause.Error(),
	})
}

func parseDocument(data map[string]any) (*Document, error) {
	doc := &Document{}
	if v, ok := data["_docID"].(string); ok {
		doc.ID = v
	}
	if v, ok := data["topic"].(string); ok {
		doc.Topic = v
	}
	if v, ok := data["document_type"].(string); ok {
		doc.DocumentType = v
	}
	if v, ok := data["generation_status"].(string); ok {
		doc.GenerationStatus = v
	}
	if v, ok := data["current_stage"].(float64); ok {
		doc.CurrentStage = int(v)
	}
	if v, ok := data["depth_score"].(float64); ok {
		doc.DepthScore = v
	}
	if v, ok := data["coverage_score"].(float64); ok {
		doc.CoverageScore = v
	}
	if v, ok := data["currency_score"].(float64); ok {
		doc.CurrencyScore = v
	}
	if v, ok := data["evidence_score"].(float64); ok {
		doc.EvidenceScore = v
	}
	if v, ok := data["total_words"].(float64); ok {
		doc.TotalWords = int(v)
	}
	if v, ok := data["version"].(string); ok {
		doc.Version = v
	}
	if v, ok := data["parent_document_id"].(string); ok {
		doc.ParentDocumentID = v
	}
	if v, ok := data["is_current_version"].(bool); ok {
		doc.IsCurrentVersion = v
	}
	if v, ok := data["error"].(string); ok {
		doc.Error = v
	}
	if v, ok := data["created_at"].(string); ok && v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			doc.CreatedAt = t
		}
	}
	if v, ok := data["updated_at"].(string); ok && v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			doc.UpdatedAt = t
		}
	}

	if v, ok := data["sections"].(string); ok && v != "" {
		if err := json.Unmarshal([]byte(v), &doc.Sections); err != nil {
			return nil, fmt.Errorf("failed to parse sections blob: %w", err)
		}
	}
	if v, ok := data["references"].(string); ok && v != "" {
		if err := json.Unmarshal([]byte(v), &doc.References); err != nil {
			return nil, fmt.Errorf("failed to parse references blob: %w", err)
		}
	}
	if v, ok := data["gap_analysis"].(string); ok && v != "" {
		_ = json.Unmarshal([]byte(v), &doc.GapAnalysis)
	}
	if v, ok := data["fact_check"].(string); ok && v != "" {
		_ = json.Unmarshal([]byte(v), &doc.FactCheck)
	}
	return doc, nil
}
