package synthesis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackzampolin/folio/internal/defra"
)

// CheckpointStore writes one immutable record per completed stage,
// keyed by (document id, stage). Resume reads the highest stage back.
type CheckpointStore struct {
	client *defra.Client
}

// NewCheckpointStore creates a checkpoint store.
func NewCheckpointStore(client *defra.Client) *CheckpointStore {
	return &CheckpointStore{client: client}
}

// Save persists a stage's output payload. Checkpoints are append-only;
// a re-run of a stage writes a new record that shadows the old one by
// being read last.
func (s *CheckpointStore) Save(ctx context.Context, documentID string, stage int, payload any) error {
	blob, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal stage %d payload: %w", stage, err)
	}

	_, err = s.client.Create(ctx, "Checkpoint", map[string]any{
		"document_id": documentID,
		"stage":       stage,
		"payload":     string(blob),
		"created_at":  time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to write checkpoint for stage %d: %w", stage, err)
	}
	return nil
}

// Load unmarshals the payload of one stage into out. Returns false
// when no checkpoint exists for the stage.
func (s *CheckpointStore) Load(ctx context.Context, documentID string, stage int, out any) (bool, error) {
	query := fmt.Sprintf(`{
	Checkpoint(filter: {document_id: {_eq: %q}, stage: {_eq: %d}}, order: {created_at: DESC}, limit: 1) {
		payload
	}
}`, documentID, stage)

	resp, err := s.client.Query(ctx, query)
	if err != nil {
		return false, err
	}

	docs, ok := resp.Data["Checkpoint"].([]any)
	if !ok || len(docs) == 0 {
		return false, nil
	}
	doc, ok := docs[0].(map[string]any)
	if !ok {
		return false, nil
	}
	payload, _ := doc["payload"].(string)
	if payload == "" {
		return false, nil
	}

	if err := json.Unmarshal([]byte(payload), out); err != nil {
		return false, fmt.Errorf("failed to parse stage %d checkpoint: %w", stage, err)
	}
	return true, nil
}

// LastStage returns the highest checkpointed stage for the document,
// or 0 when none exist.
func (s *CheckpointStore) LastStage(ctx context.Context, documentID string) (int, error) {
	query := fmt.Sprintf(`{
	Checkpoint(filter: {document_id: {_eq: %q}}, order: {stage: DESC}, limit: 1) {
		stage
	}
}`, documentID)

	resp, err := s.client.Query(ctx, query)
	if err != nil {
		return 0, err
	}

	docs, ok := resp.Data["Checkpoint"].([]any)
	if !ok || len(docs) == 0 {
		return 0, nil
	}
	doc, ok := docs[0].(map[string]any)
	if !ok {
		return 0, nil
	}
	stage, _ := doc["stage"].(float64)
	return int(stage), nil
}
