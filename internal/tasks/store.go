package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackzampolin/folio/internal/defra"
)

// Store handles Task record CRUD in DefraDB. It does not execute
// tasks; the Runner updates records through it.
type Store struct {
	client *defra.Client
	logger *slog.Logger
}

// NewStore creates a task store.
func NewStore(client *defra.Client, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{client: client, logger: logger}
}

// Create persists a queued task and returns its id.
func (s *Store) Create(ctx context.Context, record *Record) (string, error) {
	input := map[string]any{
		"task_type":   record.TaskType,
		"status":      string(record.Status),
		"progress":    0,
		"entity_id":   record.EntityID,
		"entity_type": record.EntityType,
		"created_at":  record.CreatedAt.Format(time.RFC3339),
	}

	id, err := s.client.Create(ctx, "Task", input)
	if err != nil {
		return "", fmt.Errorf("failed to create task: %w", err)
	}
	s.logger.Info("task created", "id", id, "type", record.TaskType, "entity", record.EntityID)
	return id, nil
}

const taskFields = `_docID
		task_type
		status
		progress
		current_step
		total_steps
		entity_id
		entity_type
		error
		created_at
		started_at
		completed_at`

// Get returns a task by id.
func (s *Store) Get(ctx context.Context, taskID string) (*Record, error) {
	query := fmt.Sprintf(`{
	Task(docID: %q) {
		%s
	}
}`, taskID, taskFields)

	resp, err := s.client.Query(ctx, query)
	if err != nil {
		return nil, err
	}

	docs, ok := resp.Data["Task"].([]any)
	if !ok || len(docs) == 0 {
		return nil, fmt.Errorf("task not found: %s", taskID)
	}
	return parseRecord(docs[0].(map[string]any)), nil
}

// ListFilter narrows List results.
type ListFilter struct {
	Status     Status
	TaskType   string
	EntityID   string
	EntityType string
	Limit      int
}

// List returns tasks matching the filter, newest first.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]*Record, error) {
	var parts []string
	if filter.Status != "" {
		parts = append(parts, fmt.Sprintf(`status: {_eq: %q}`, filter.Status))
	}
	if filter.TaskType != "" {
		parts = append(parts, fmt.Sprintf(`task_type: {_eq: %q}`, filter.TaskType))
	}
	if filter.EntityID != "" {
		parts = append(parts, fmt.Sprintf(`entity_id: {_eq: %q}`, filter.EntityID))
	}
	if filter.EntityType != "" {
		parts = append(parts, fmt.Sprintf(`entity_type: {_eq: %q}`, filter.EntityType))
	}

	filterStr := ""
	if len(parts) > 0 {
		filterStr = fmt.Sprintf("filter: {%s}, ", strings.Join(parts, ", "))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	query := fmt.Sprintf(`{
	Task(%sorder: {created_at: DESC}, limit: %d) {
		%s
	}
}`, filterStr, limit, taskFields)

	resp, err := s.client.Query(ctx, query)
	if err != nil {
		return nil, err
	}

	docs, ok := resp.Data["Task"].([]any)
	if !ok {
		return []*Record{}, nil
	}

	records := make([]*Record, 0, len(docs))
	for _, d := range docs {
		doc, ok := d.(map[string]any)
		if !ok {
			continue
		}
		records = append(records, parseRecord(doc))
	}
	return records, nil
}

// UpdateStatus transitions a task, stamping started_at/completed_at as
// appropriate.
func (s *Store) UpdateStatus(ctx context.Context, taskID string, status Status, errMsg string) error {
	input := map[string]any{"status": string(status)}

	now := time.Now().UTC().Format(time.RFC3339)
	switch status {
	case StatusProcessing:
		input["started_at"] = now
	case StatusCompleted, StatusFailed, StatusCancelled:
		input["completed_at"] = now
	}
	if errMsg != "" {
		input["error"] = errMsg
	}

	return s.client.Update(ctx, "Task", taskID, input)
}

// UpdateProgress records step-level progress. percent is clamped to
// [0,100].
func (s *Store) UpdateProgress(ctx context.Context, taskID, step string, completed, total int) error {
	percent := 0
	if total > 0 {
		percent = completed * 100 / total
	}
	if percent > 100 {
		percent = 100
	}

	return s.client.Update(ctx, "Task", taskID, map[string]any{
		"progress":     percent,
		"current_step": step,
		"total_steps":  total,
	})
}

func parseRecord(data map[string]any) *Record {
	record := &Record{}
	if id, ok := data["_docID"].(string); ok {
		record.ID = id
	}
	if v, ok := data["task_type"].(string); ok {
		record.TaskType = v
	}
	if v, ok := data["status"].(string); ok {
		record.Status = Status(v)
	}
	if v, ok := data["progress"].(float64); ok {
		record.Progress = int(v)
	}
	if v, ok := data["current_step"].(string); ok {
		record.CurrentStep = v
	}
	if v, ok := data["total_steps"].(float64); ok {
		record.TotalSteps = int(v)
	}
	if v, ok := data["entity_id"].(string); ok {
		record.EntityID = v
	}
	if v, ok := data["entity_type"].(string); ok {
		record.EntityType = v
	}
	if v, ok := data["error"].(string); ok {
		record.Error = v
	}
	if v, ok := data["created_at"].(string); ok && v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			record.CreatedAt = t
		}
	}
	if v, ok := data["started_at"].(string); ok && v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			record.StartedAt = &t
		}
	}
	if v, ok := data["completed_at"].(string); ok && v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			record.CompletedAt = &t
		}
	}
	return record
}
