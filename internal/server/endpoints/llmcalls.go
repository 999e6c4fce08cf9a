package endpoints

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/folio/internal/api"
	"github.com/jackzampolin/folio/internal/llmcall"
	"github.com/jackzampolin/folio/internal/svcctx"
)

const defaultCallsLimit = 50

// ListCallsResponse is the response for listing model call audit
// records.
type ListCallsResponse struct {
	Calls []llmcall.Call `json:"calls"`
	Count int            `json:"count"`
}

// ListCallsEndpoint handles GET /api/llmcalls.
type ListCallsEndpoint struct{}

func (e *ListCallsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/llmcalls", e.handler
}

func (e *ListCallsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		List model calls
//	@Description	List model call audit records, newest first
//	@Tags			llmcalls
//	@Produce		json
//	@Param			document_id	query		string	false	"Filter by document ID"
//	@Param			prompt_key	query		string	false	"Filter by prompt key"
//	@Param			provider	query		string	false	"Filter by provider"
//	@Param			model		query		string	false	"Filter by model"
//	@Param			limit		query		int		false	"Maximum records (default 50)"
//	@Success		200			{object}	ListCallsResponse
//	@Failure		400			{object}	ErrorResponse
//	@Failure		500			{object}	ErrorResponse
//	@Failure		503			{object}	ErrorResponse
//	@Router			/api/llmcalls [get]
func (e *ListCallsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	store := svcctx.LLMCallStoreFrom(r.Context())
	if store == nil {
		writeError(w, http.StatusServiceUnavailable, "call store not initialized")
		return
	}

	q := r.URL.Query()
	filter := llmcall.QueryFilter{
		DocumentID: q.Get("document_id"),
		PromptKey:  q.Get("prompt_key"),
		Provider:   q.Get("provider"),
		Model:      q.Get("model"),
		Limit:      defaultCallsLimit,
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}

	calls, err := store.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if calls == nil {
		calls = []llmcall.Call{}
	}
	writeJSON(w, http.StatusOK, ListCallsResponse{Calls: calls, Count: len(calls)})
}

func (e *ListCallsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var documentID, promptKey string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List model call audit records",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/llmcalls?"
			if documentID != "" {
				path += "document_id=" + documentID + "&"
			}
			if promptKey != "" {
				path += "prompt_key=" + promptKey + "&"
			}
			if limit > 0 {
				path += fmt.Sprintf("limit=%d&", limit)
			}
			path = path[:len(path)-1]

			client := api.NewClient(getServerURL())
			var resp ListCallsResponse
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&documentID, "document", "", "Filter by document ID")
	cmd.Flags().StringVar(&promptKey, "prompt-key", "", "Filter by prompt key")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum records")
	return cmd
}

// GetCallEndpoint handles GET /api/llmcalls/{id}.
type GetCallEndpoint struct{}

func (e *GetCallEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/llmcalls/{id}", e.handler
}

func (e *GetCallEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Get model call by ID
//	@Description	Get one model call audit record including the stored response
//	@Tags			llmcalls
//	@Produce		json
//	@Param			id	path		string	true	"Call ID"
//	@Success		200	{object}	llmcall.Call
//	@Failure		400	{object}	ErrorResponse
//	@Failure		404	{object}	ErrorResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/llmcalls/{id} [get]
func (e *GetCallEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "call id is required")
		return
	}

	store := svcctx.LLMCallStoreFrom(r.Context())
	if store == nil {
		writeError(w, http.StatusServiceUnavailable, "call store not initialized")
		return
	}

	call, err := store.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, call)
}

func (e *GetCallEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <call-id>",
		Short: "Get a model call audit record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp llmcall.Call
			if err := client.Get(cmd.Context(), "/api/llmcalls/"+args[0], &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// CallCountsResponse groups call counts by prompt key for a document.
type CallCountsResponse struct {
	DocumentID string         `json:"document_id"`
	Counts     map[string]int `json:"counts"`
}

// CallCountsEndpoint handles GET /api/llmcalls/counts/{id}.
type CallCountsEndpoint struct{}

func (e *CallCountsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/llmcalls/counts/{id}", e.handler
}

func (e *CallCountsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Count calls by prompt key
//	@Description	Count a document's model calls grouped by prompt key
//	@Tags			llmcalls
//	@Produce		json
//	@Param			id	path		string	true	"Document ID"
//	@Success		200	{object}	CallCountsResponse
//	@Failure		400	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/llmcalls/counts/{id} [get]
func (e *CallCountsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "document id is required")
		return
	}

	store := svcctx.LLMCallStoreFrom(r.Context())
	if store == nil {
		writeError(w, http.StatusServiceUnavailable, "call store not initialized")
		return
	}

	counts, err := store.CountByPromptKey(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, CallCountsResponse{DocumentID: id, Counts: counts})
}

func (e *CallCountsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "counts <document-id>",
		Short: "Count a document's model calls by prompt key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp CallCountsResponse
			if err := client.Get(cmd.Context(), "/api/llmcalls/counts/"+args[0], &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
