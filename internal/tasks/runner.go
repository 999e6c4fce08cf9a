package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackzampolin/folio/internal/events"
)

// DefaultWorkers bounds how many tasks execute at once.
const DefaultWorkers = 4

// Handler executes one task. It must respect context cancellation and
// report step-level progress through the callback.
type Handler func(ctx context.Context, taskID string, progress ProgressFunc) error

// ProgressFunc reports step completion for the running task.
type ProgressFunc func(step string, completed, total int)

// submission is one queued task awaiting its entity's turn.
type submission struct {
	taskID  string
	handler Handler
	entity  string
}

// Runner executes submitted tasks on a bounded pool. Tasks for the
// same entity run strictly one at a time in submission order; tasks
// for different entities run in parallel.
type Runner struct {
	store  *Store
	hub    *events.Hub
	logger *slog.Logger

	baseCtx context.Context
	sem     chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	queues  map[string][]*submission
	active  map[string]bool
	cancels map[string]context.CancelFunc
	stopped bool
}

// NewRunner creates a runner. The hub is optional; when set, task
// progress is published to it.
func NewRunner(store *Store, hub *events.Hub, workers int, logger *slog.Logger) *Runner {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		store:   store,
		hub:     hub,
		logger:  logger.With("component", "tasks"),
		baseCtx: context.Background(),
		sem:     make(chan struct{}, workers),
		queues:  make(map[string][]*submission),
		active:  make(map[string]bool),
		cancels: make(map[string]context.CancelFunc),
	}
}

// Start binds the runner's execution context. Cancelling ctx cancels
// every running task and rejects new submissions.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	r.baseCtx = ctx
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		r.stopped = true
		r.mu.Unlock()
	}()
}

// Submit creates a Task record and queues the handler behind any
// running or queued work for the same entity. Returns the task id.
func (r *Runner) Submit(ctx context.Context, taskType, entityType, entityID string, handler Handler) (string, error) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return "", fmt.Errorf("task runner is shut down")
	}
	r.mu.Unlock()

	taskID, err := r.store.Create(ctx, NewRecord(taskType, entityType, entityID))
	if err != nil {
		return "", err
	}

	entity := entityType + ":" + entityID
	sub := &submission{taskID: taskID, handler: handler, entity: entity}

	r.mu.Lock()
	r.queues[entity] = append(r.queues[entity], sub)
	r.mu.Unlock()

	r.dispatch(entity)
	return taskID, nil
}

// dispatch starts the entity's next queued task unless one is already
// running.
func (r *Runner) dispatch(entity string) {
	r.mu.Lock()
	if r.stopped || r.active[entity] || len(r.queues[entity]) == 0 {
		r.mu.Unlock()
		return
	}
	sub := r.queues[entity][0]
	r.queues[entity] = r.queues[entity][1:]
	if len(r.queues[entity]) == 0 {
		delete(r.queues, entity)
	}
	r.active[entity] = true

	ctx, cancel := context.WithCancel(r.baseCtx)
	r.cancels[sub.taskID] = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go r.run(ctx, sub)
}

func (r *Runner) run(ctx context.Context, sub *submission) {
	defer r.wg.Done()
	defer func() {
		r.mu.Lock()
		delete(r.cancels, sub.taskID)
		r.active[sub.entity] = false
		r.mu.Unlock()
		r.dispatch(sub.entity)
	}()

	r.sem <- struct{}{}
	defer func() { <-r.sem }()

	if ctx.Err() != nil {
		r.finish(sub.taskID, StatusCancelled, ctx.Err().Error())
		return
	}

	if err := r.store.UpdateStatus(ctx, sub.taskID, StatusProcessing, ""); err != nil {
		r.logger.Warn("failed to mark task running", "task", sub.taskID, "error", err)
	}

	progress := func(step string, completed, total int) {
		if err := r.store.UpdateProgress(ctx, sub.taskID, step, completed, total); err != nil {
			r.logger.Debug("progress update failed", "task", sub.taskID, "error", err)
		}
		if r.hub != nil && total > 0 {
			r.hub.Publish(events.Event{
				Kind:  events.KindProgress,
				Topic: events.TaskTopic(sub.taskID),
				Data: map[string]any{
					"task_id": sub.taskID,
					"message": step,
					"ordinal": completed,
					"total":   total,
					"percent": 100 * float64(completed) / float64(total),
				},
			})
		}
	}

	err := sub.handler(ctx, sub.taskID, progress)
	switch {
	case err == nil:
		r.finish(sub.taskID, StatusCompleted, "")
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		r.finish(sub.taskID, StatusCancelled, err.Error())
	default:
		r.logger.Error("task failed", "task", sub.taskID, "error", err)
		r.finish(sub.taskID, StatusFailed, err.Error())
	}
}

// finish writes the terminal status outside the task's own context so
// cancellation does not lose the record update.
func (r *Runner) finish(taskID string, status Status, errMsg string) {
	if err := r.store.UpdateStatus(context.Background(), taskID, status, errMsg); err != nil {
		r.logger.Warn("failed to finalize task", "task", taskID, "status", status, "error", err)
	}
	if r.hub != nil {
		kind := events.KindCompleted
		if status != StatusCompleted {
			// Cancellation is a failure terminal on the wire; data
			// carries the precise status.
			kind = events.KindFailed
		}
		data := map[string]any{
			"task_id": taskID,
			"status":  string(status),
		}
		if errMsg != "" {
			data["error"] = errMsg
		}
		r.hub.Publish(events.Event{
			Kind:  kind,
			Topic: events.TaskTopic(taskID),
			Data:  data,
		})
	}
}

// Cancel stops a running task. Returns false when the task is not
// currently running.
func (r *Runner) Cancel(taskID string) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[taskID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Wait blocks until all running tasks return. Queued tasks for idle
// entities are still dispatched first.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// ActiveCount reports currently executing tasks.
func (r *Runner) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, running := range r.active {
		if running {
			n++
		}
	}
	return n
}
