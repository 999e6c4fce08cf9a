// Package tasks runs long-lived work (synthesis runs, chapter
// post-processing) on a worker pool with per-entity serialization,
// tracking each submission as a Task record.
package tasks

import (
	"time"

	"github.com/jackzampolin/folio/internal/types"
)

// Task types.
const (
	TypeSynthesisRun = "synthesis_run"
	TypeChapterIndex = "chapter_index"
)

// Entity types a task attaches to.
const (
	EntityDocument = "document"
	EntityChapter  = "chapter"
)

// Status is the lifecycle state of a task. The value set is shared
// with API consumers through types.TaskStatus.
type Status = types.TaskStatus

const (
	StatusQueued     = types.TaskQueued
	StatusProcessing = types.TaskProcessing
	StatusCompleted  = types.TaskCompleted
	StatusFailed     = types.TaskFailed
	StatusCancelled  = types.TaskCancelled
)

// Record maps to the Task collection.
type Record struct {
	ID          string     `json:"_docID,omitempty"`
	TaskType    string     `json:"task_type"`
	Status      Status     `json:"status"`
	Progress    int        `json:"progress"`
	CurrentStep string     `json:"current_step,omitempty"`
	TotalSteps  int        `json:"total_steps,omitempty"`
	EntityID    string     `json:"entity_id"`
	EntityType  string     `json:"entity_type"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewRecord creates a queued task record for submission.
func NewRecord(taskType, entityType, entityID string) *Record {
	return &Record{
		TaskType:   taskType,
		Status:     StatusQueued,
		EntityID:   entityID,
		EntityType: entityType,
		CreatedAt:  time.Now().UTC(),
	}
}
