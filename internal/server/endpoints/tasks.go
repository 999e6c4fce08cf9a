package endpoints

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/folio/internal/api"
	"github.com/jackzampolin/folio/internal/svcctx"
	"github.com/jackzampolin/folio/internal/tasks"
)

// ListTasksResponse is the response for listing tasks.
type ListTasksResponse struct {
	Tasks []*tasks.Record `json:"tasks"`
}

// ListTasksEndpoint handles GET /api/tasks.
type ListTasksEndpoint struct{}

func (e *ListTasksEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/tasks", e.handler
}

func (e *ListTasksEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		List tasks
//	@Description	List tasks, optionally filtered by status, type, or entity
//	@Tags			tasks
//	@Produce		json
//	@Param			status		query		string	false	"Filter by status (queued, processing, completed, failed, cancelled)"
//	@Param			type		query		string	false	"Filter by task type (synthesis_run, chapter_index)"
//	@Param			entity_id	query		string	false	"Filter by entity ID"
//	@Param			limit		query		int		false	"Maximum number of tasks to return"
//	@Success		200			{object}	ListTasksResponse
//	@Failure		500			{object}	ErrorResponse
//	@Failure		503			{object}	ErrorResponse
//	@Router			/api/tasks [get]
func (e *ListTasksEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	store := svcctx.TaskStoreFrom(r.Context())
	if store == nil {
		writeError(w, http.StatusServiceUnavailable, "task store not initialized")
		return
	}

	filter := tasks.ListFilter{
		Status:   tasks.Status(r.URL.Query().Get("status")),
		TaskType: r.URL.Query().Get("type"),
		EntityID: r.URL.Query().Get("entity_id"),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}

	list, err := store.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []*tasks.Record{}
	}
	writeJSON(w, http.StatusOK, ListTasksResponse{Tasks: list})
}

func (e *ListTasksEndpoint) Command(getServerURL func() string) *cobra.Command {
	var status, taskType, entityID string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/tasks?"
			if status != "" {
				path += "status=" + status + "&"
			}
			if taskType != "" {
				path += "type=" + taskType + "&"
			}
			if entityID != "" {
				path += "entity_id=" + entityID + "&"
			}
			if limit > 0 {
				path += fmt.Sprintf("limit=%d&", limit)
			}
			path = path[:len(path)-1]

			client := api.NewClient(getServerURL())
			var resp ListTasksResponse
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status")
	cmd.Flags().StringVar(&taskType, "type", "", "Filter by task type")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "Filter by entity ID")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of tasks")
	return cmd
}

// GetTaskEndpoint handles GET /api/tasks/{id}.
type GetTaskEndpoint struct{}

func (e *GetTaskEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/tasks/{id}", e.handler
}

func (e *GetTaskEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Get task by ID
//	@Description	Get the status and progress of a task
//	@Tags			tasks
//	@Produce		json
//	@Param			id	path		string	true	"Task ID"
//	@Success		200	{object}	tasks.Record
//	@Failure		400	{object}	ErrorResponse
//	@Failure		404	{object}	ErrorResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/tasks/{id} [get]
func (e *GetTaskEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "task id is required")
		return
	}

	store := svcctx.TaskStoreFrom(r.Context())
	if store == nil {
		writeError(w, http.StatusServiceUnavailable, "task store not initialized")
		return
	}

	record, err := store.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (e *GetTaskEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <task-id>",
		Short: "Get a task by ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp tasks.Record
			if err := client.Get(cmd.Context(), "/api/tasks/"+args[0], &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// CancelTaskResponse is the response for a task cancellation.
type CancelTaskResponse struct {
	TaskID    string `json:"task_id"`
	Cancelled bool   `json:"cancelled"`
}

// CancelTaskEndpoint handles POST /api/tasks/{id}/cancel.
type CancelTaskEndpoint struct{}

func (e *CancelTaskEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/tasks/{id}/cancel", e.handler
}

func (e *CancelTaskEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Cancel task
//	@Description	Cancel a queued or running task
//	@Tags			tasks
//	@Produce		json
//	@Param			id	path		string	true	"Task ID"
//	@Success		200	{object}	CancelTaskResponse
//	@Failure		400	{object}	ErrorResponse
//	@Failure		404	{object}	ErrorResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/tasks/{id}/cancel [post]
func (e *CancelTaskEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "task id is required")
		return
	}

	runner := svcctx.RunnerFrom(r.Context())
	if runner == nil {
		writeError(w, http.StatusServiceUnavailable, "task runner not initialized")
		return
	}

	if !runner.Cancel(id) {
		writeError(w, http.StatusNotFound, "task not found or already finished")
		return
	}
	writeJSON(w, http.StatusOK, CancelTaskResponse{TaskID: id, Cancelled: true})
}

func (e *CancelTaskEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Cancel a queued or running task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp CancelTaskResponse
			if err := client.Post(cmd.Context(), "/api/tasks/"+args[0]+"/cancel", nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
