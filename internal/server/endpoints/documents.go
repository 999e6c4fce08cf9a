package endpoints

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/folio/internal/api"
	"github.com/jackzampolin/folio/internal/events"
	"github.com/jackzampolin/folio/internal/svcctx"
	"github.com/jackzampolin/folio/internal/synthesis"
	"github.com/jackzampolin/folio/internal/tasks"
	"github.com/jackzampolin/folio/internal/types"
)

// CreateDocumentRequest is the request body for starting a synthesis.
type CreateDocumentRequest struct {
	Topic        string `json:"topic"`
	DocumentType string `json:"document_type,omitempty"`
}

// CreateDocumentResponse is the response for a submitted synthesis.
// SubscribeTo names the event topic streaming the run's progress.
type CreateDocumentResponse struct {
	DocumentID  string `json:"document_id"`
	TaskID      string `json:"task_id"`
	Topic       string `json:"topic"`
	Status      string `json:"status"`
	SubscribeTo string `json:"subscribe_to"`
}

// CreateDocumentEndpoint handles POST /api/documents.
type CreateDocumentEndpoint struct{}

func (e *CreateDocumentEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/documents", e.handler
}

func (e *CreateDocumentEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Synthesize a document
//	@Description	Create a document record and start the synthesis pipeline for the topic
//	@Tags			documents
//	@Accept			json
//	@Produce		json
//	@Param			request	body		CreateDocumentRequest	true	"Synthesis request"
//	@Success		202		{object}	CreateDocumentResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/api/documents [post]
func (e *CreateDocumentEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req CreateDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	docs := svcctx.DocumentsFrom(r.Context())
	orch := svcctx.OrchestratorFrom(r.Context())
	runner := svcctx.RunnerFrom(r.Context())
	if docs == nil || orch == nil || runner == nil {
		writeError(w, http.StatusServiceUnavailable, "synthesis services not initialized")
		return
	}

	docID, err := docs.Create(r.Context(), req.Topic, req.DocumentType)
	if err != nil {
		if errors.Is(err, types.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	taskID, err := submitSynthesis(r.Context(), runner, orch, docID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, CreateDocumentResponse{
		DocumentID:  docID,
		TaskID:      taskID,
		Topic:       req.Topic,
		Status:      "queued",
		SubscribeTo: events.DocumentTopic(docID),
	})
}

// submitSynthesis queues a synthesis run for the document. Tasks for
// the same document serialize in the runner.
func submitSynthesis(ctx context.Context, runner *tasks.Runner, orch *synthesis.Orchestrator, docID string) (string, error) {
	return runner.Submit(ctx, tasks.TypeSynthesisRun, tasks.EntityDocument, docID,
		func(taskCtx context.Context, taskID string, progress tasks.ProgressFunc) error {
			return orch.Run(taskCtx, docID)
		})
}

func (e *CreateDocumentEndpoint) Command(getServerURL func() string) *cobra.Command {
	var docType string
	cmd := &cobra.Command{
		Use:   "create <topic>",
		Short: "Synthesize a document for a topic",
		Long: `Create a document and start the synthesis pipeline.

The pipeline runs asynchronously. Use 'folio api tasks get <task-id>'
to follow progress, or 'folio api documents get <document-id>' for the
result.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp CreateDocumentResponse
			err := client.Post(cmd.Context(), "/api/documents", CreateDocumentRequest{
				Topic:        args[0],
				DocumentType: docType,
			}, &resp)
			if err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&docType, "type", "", "Document type (surgical_disease, pure_anatomy, surgical_technique)")
	return cmd
}

// DocumentSummary is the list representation of a document.
type DocumentSummary struct {
	ID               string  `json:"id"`
	Topic            string  `json:"topic"`
	DocumentType     string  `json:"document_type,omitempty"`
	GenerationStatus string  `json:"generation_status"`
	CurrentStage     int     `json:"current_stage"`
	StageName        string  `json:"stage_name,omitempty"`
	TotalWords       int     `json:"total_words,omitempty"`
	Version          string  `json:"version,omitempty"`
	IsCurrentVersion bool    `json:"is_current_version"`
	DepthScore       float64 `json:"depth_score,omitempty"`
	CoverageScore    float64 `json:"coverage_score,omitempty"`
	EvidenceScore    float64 `json:"evidence_score,omitempty"`
	CurrencyScore    float64 `json:"currency_score,omitempty"`
	Error            string  `json:"error,omitempty"`
	CreatedAt        string  `json:"created_at,omitempty"`
}

func summarize(doc *synthesis.Document) DocumentSummary {
	s := DocumentSummary{
		ID:               doc.ID,
		Topic:            doc.Topic,
		DocumentType:     doc.DocumentType,
		GenerationStatus: doc.GenerationStatus,
		CurrentStage:     doc.CurrentStage,
		TotalWords:       doc.TotalWords,
		Version:          doc.Version,
		IsCurrentVersion: doc.IsCurrentVersion,
		DepthScore:       doc.DepthScore,
		CoverageScore:    doc.CoverageScore,
		EvidenceScore:    doc.EvidenceScore,
		CurrencyScore:    doc.CurrencyScore,
		Error:            doc.Error,
	}
	if doc.CurrentStage > 0 {
		s.StageName = synthesis.StageName(doc.CurrentStage)
	}
	if !doc.CreatedAt.IsZero() {
		s.CreatedAt = doc.CreatedAt.Format("2006-01-02 15:04:05")
	}
	return s
}

// ListDocumentsResponse is the response for listing documents.
type ListDocumentsResponse struct {
	Documents []DocumentSummary `json:"documents"`
}

// ListDocumentsEndpoint handles GET /api/documents.
type ListDocumentsEndpoint struct{}

func (e *ListDocumentsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/documents", e.handler
}

func (e *ListDocumentsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		List documents
//	@Description	List synthesized documents, newest first
//	@Tags			documents
//	@Produce		json
//	@Param			limit	query		int	false	"Maximum results (default 50)"
//	@Success		200		{object}	ListDocumentsResponse
//	@Failure		500		{object}	ErrorResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/api/documents [get]
func (e *ListDocumentsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	docs := svcctx.DocumentsFrom(r.Context())
	if docs == nil {
		writeError(w, http.StatusServiceUnavailable, "document store not initialized")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := docs.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := ListDocumentsResponse{Documents: make([]DocumentSummary, 0, len(list))}
	for _, doc := range list {
		resp.Documents = append(resp.Documents, summarize(doc))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (e *ListDocumentsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List synthesized documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp ListDocumentsResponse
			path := "/api/documents"
			if limit > 0 {
				path = fmt.Sprintf("%s?limit=%d", path, limit)
			}
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of documents")
	return cmd
}

// GetDocumentEndpoint handles GET /api/documents/{id}.
type GetDocumentEndpoint struct{}

func (e *GetDocumentEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/documents/{id}", e.handler
}

func (e *GetDocumentEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Get document by ID
//	@Description	Get the full document including sections, references, and quality reports
//	@Tags			documents
//	@Produce		json
//	@Param			id	path		string	true	"Document ID"
//	@Success		200	{object}	synthesis.Document
//	@Failure		400	{object}	ErrorResponse
//	@Failure		404	{object}	ErrorResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/documents/{id} [get]
func (e *GetDocumentEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "document id is required")
		return
	}

	docs := svcctx.DocumentsFrom(r.Context())
	if docs == nil {
		writeError(w, http.StatusServiceUnavailable, "document store not initialized")
		return
	}

	doc, err := docs.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, types.ErrUnknownEntity) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (e *GetDocumentEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <document-id>",
		Short: "Get a document with its sections and reports",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp synthesis.Document
			if err := client.Get(cmd.Context(), "/api/documents/"+args[0], &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// DocumentMarkdownEndpoint handles GET /api/documents/{id}/markdown.
type DocumentMarkdownEndpoint struct{}

func (e *DocumentMarkdownEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/documents/{id}/markdown", e.handler
}

func (e *DocumentMarkdownEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Export document as markdown
//	@Description	Render a completed document with table of contents, citations, and bibliography. Returns 409 until generation completes.
//	@Tags			documents
//	@Produce		text/markdown
//	@Param			id	path		string	true	"Document ID"
//	@Success		200	{string}	string
//	@Failure		404	{object}	ErrorResponse
//	@Failure		409	{object}	ErrorResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/documents/{id}/markdown [get]
func (e *DocumentMarkdownEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "document id is required")
		return
	}

	docs := svcctx.DocumentsFrom(r.Context())
	if docs == nil {
		writeError(w, http.StatusServiceUnavailable, "document store not initialized")
		return
	}

	doc, err := docs.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, types.ErrUnknownEntity) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if doc.GenerationStatus != synthesis.StatusCompleted {
		writeError(w, http.StatusConflict,
			fmt.Sprintf("document is not completed (status: %s)", doc.GenerationStatus))
		return
	}

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	fmt.Fprint(w, synthesis.RenderMarkdown(doc))
}

func (e *DocumentMarkdownEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "markdown <document-id>",
		Short: "Export a document as markdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			body, err := client.GetRaw(cmd.Context(), "/api/documents/"+args[0]+"/markdown")
			if err != nil {
				return err
			}
			fmt.Print(string(body))
			return nil
		},
	}
}

// RegenerateDocumentEndpoint handles POST /api/documents/{id}/regenerate.
type RegenerateDocumentEndpoint struct{}

func (e *RegenerateDocumentEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/documents/{id}/regenerate", e.handler
}

func (e *RegenerateDocumentEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Regenerate a document
//	@Description	Start a fresh synthesis of the same topic as a new version; the old document stays readable until the new one finalizes
//	@Tags			documents
//	@Produce		json
//	@Param			id	path		string	true	"Document ID"
//	@Success		202	{object}	CreateDocumentResponse
//	@Failure		404	{object}	ErrorResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/documents/{id}/regenerate [post]
func (e *RegenerateDocumentEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "document id is required")
		return
	}

	docs := svcctx.DocumentsFrom(r.Context())
	orch := svcctx.OrchestratorFrom(r.Context())
	runner := svcctx.RunnerFrom(r.Context())
	if docs == nil || orch == nil || runner == nil {
		writeError(w, http.StatusServiceUnavailable, "synthesis services not initialized")
		return
	}

	parent, err := docs.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, types.ErrUnknownEntity) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	newID, err := docs.Create(r.Context(), parent.Topic, parent.DocumentType)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := docs.Update(r.Context(), newID, map[string]any{
		"parent_document_id": parent.ID,
	}); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	taskID, err := submitSynthesis(r.Context(), runner, orch, newID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, CreateDocumentResponse{
		DocumentID:  newID,
		TaskID:      taskID,
		Topic:       parent.Topic,
		Status:      "queued",
		SubscribeTo: events.DocumentTopic(newID),
	})
}

func (e *RegenerateDocumentEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "regenerate <document-id>",
		Short: "Synthesize a new version of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp CreateDocumentResponse
			err := client.Post(cmd.Context(), "/api/documents/"+args[0]+"/regenerate", nil, &resp)
			if err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
