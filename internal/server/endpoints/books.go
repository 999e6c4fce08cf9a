package endpoints

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/folio/internal/api"
	"github.com/jackzampolin/folio/internal/ingest"
	"github.com/jackzampolin/folio/internal/svcctx"
	"github.com/jackzampolin/folio/internal/tasks"
)

// IngestRequest is the request body for ingesting book scans.
type IngestRequest struct {
	PDFPaths   []string `json:"pdf_paths"`
	Title      string   `json:"title,omitempty"`
	Authors    []string `json:"authors,omitempty"`
	SourceKind string   `json:"source_kind,omitempty"`
}

// IngestResponse is the response for a successful ingest submission.
type IngestResponse struct {
	BookID string `json:"book_id"`
	TaskID string `json:"task_id"`
	Title  string `json:"title"`
	Pages  int    `json:"pages"`
	Status string `json:"status"`
}

// IngestEndpoint handles POST /api/books/ingest.
type IngestEndpoint struct{}

func (e *IngestEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/books/ingest", e.handler
}

func (e *IngestEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Ingest book scans
//	@Description	Store PDF files as a new book and start chapter indexing
//	@Tags			books
//	@Accept			json
//	@Produce		json
//	@Param			request	body		IngestRequest	true	"Ingest request"
//	@Success		202		{object}	IngestResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/api/books/ingest [post]
func (e *IngestEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.PDFPaths) == 0 {
		writeError(w, http.StatusBadRequest, "pdf_paths is required")
		return
	}
	startIngest(w, r, req)
}

// startIngest stores the book synchronously, then queues chapter
// indexing as a task. The stored book is visible immediately; chapters
// appear as the task progresses.
func startIngest(w http.ResponseWriter, r *http.Request, req IngestRequest) {
	client := svcctx.DefraClientFrom(r.Context())
	homeDir := svcctx.HomeFrom(r.Context())
	runner := svcctx.RunnerFrom(r.Context())
	processor := svcctx.ProcessorFrom(r.Context())
	if client == nil || homeDir == nil || runner == nil || processor == nil {
		writeError(w, http.StatusServiceUnavailable, "ingest services not initialized")
		return
	}
	logger := svcctx.LoggerFrom(r.Context())

	result, err := ingest.Ingest(r.Context(), client, homeDir, ingest.Request{
		PDFPaths:   req.PDFPaths,
		Title:      req.Title,
		Authors:    req.Authors,
		SourceKind: req.SourceKind,
		Logger:     logger,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	taskID, err := runner.Submit(r.Context(), tasks.TypeChapterIndex, tasks.EntityChapter, result.BookID,
		func(taskCtx context.Context, taskID string, progress tasks.ProgressFunc) error {
			// Copy so the shared processor's hooks stay untouched
			// across concurrent ingests.
			proc := *processor
			proc.OnProgress = ingest.ProgressFunc(progress)
			_, err := proc.Process(taskCtx, result.BookID, result.Title, result.PageCount)
			return err
		})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, IngestResponse{
		BookID: result.BookID,
		TaskID: taskID,
		Title:  result.Title,
		Pages:  result.PageCount,
		Status: "queued",
	})
}

func (e *IngestEndpoint) Command(getServerURL func() string) *cobra.Command {
	var title, kind string
	var authors []string
	cmd := &cobra.Command{
		Use:   "ingest <pdf-files...>",
		Short: "Ingest PDF scans into the library",
		Long: `Ingest one or more PDF files as a book.

For multi-part scans, files are sorted by numeric suffix (e.g., book-1.pdf, book-2.pdf).
Title is derived from the filename if not provided.

This command submits the chapter indexing task and returns immediately.
Use 'folio api tasks get <task-id>' to check progress.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := make([]string, len(args))
			for i, arg := range args {
				abs, err := filepath.Abs(arg)
				if err != nil {
					return fmt.Errorf("invalid path %s: %w", arg, err)
				}
				paths[i] = abs
			}

			client := api.NewClient(getServerURL())
			var resp IngestResponse
			err := client.Post(cmd.Context(), "/api/books/ingest", IngestRequest{
				PDFPaths:   paths,
				Title:      title,
				Authors:    authors,
				SourceKind: kind,
			}, &resp)
			if err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "Book title (derived from filename if not provided)")
	cmd.Flags().StringSliceVar(&authors, "author", nil, "Book author (repeatable)")
	cmd.Flags().StringVar(&kind, "kind", "", "Source kind (textbook, standalone, paper)")
	return cmd
}

// UploadIngestEndpoint handles POST /api/books/upload, a multipart
// variant of ingest for remote clients without shared filesystem
// access.
type UploadIngestEndpoint struct{}

func (e *UploadIngestEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/books/upload", e.handler
}

func (e *UploadIngestEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Upload and ingest book scans
//	@Description	Upload PDF files via multipart form and ingest them as a new book
//	@Tags			books
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			files		formData	file	true	"PDF files"
//	@Param			title		formData	string	false	"Book title"
//	@Param			source_kind	formData	string	false	"Source kind"
//	@Success		202			{object}	IngestResponse
//	@Failure		400			{object}	ErrorResponse
//	@Failure		503			{object}	ErrorResponse
//	@Router			/api/books/upload [post]
func (e *UploadIngestEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	// 1 GiB cap on the parsed form; scanned textbooks run large.
	if err := r.ParseMultipartForm(1 << 30); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "no files uploaded")
		return
	}

	tmpDir, err := os.MkdirTemp("", "folio-upload-*")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to stage upload")
		return
	}
	defer os.RemoveAll(tmpDir)

	paths := make([]string, 0, len(files))
	for _, fh := range files {
		src, err := fh.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to read %s", fh.Filename))
			return
		}
		dst := filepath.Join(tmpDir, filepath.Base(fh.Filename))
		out, err := os.Create(dst)
		if err != nil {
			src.Close()
			writeError(w, http.StatusInternalServerError, "failed to stage upload")
			return
		}
		if _, err := io.Copy(out, src); err != nil {
			src.Close()
			out.Close()
			writeError(w, http.StatusInternalServerError, "failed to stage upload")
			return
		}
		src.Close()
		out.Close()
		paths = append(paths, dst)
	}

	startIngest(w, r, IngestRequest{
		PDFPaths:   paths,
		Title:      r.FormValue("title"),
		SourceKind: r.FormValue("source_kind"),
	})
}

func (e *UploadIngestEndpoint) Command(getServerURL func() string) *cobra.Command {
	// Remote upload duplicates the ingest CLI; the local path version
	// covers the command line use case.
	return nil
}

// Book is the list representation of a book record.
type Book struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Authors         []string `json:"authors,omitempty"`
	Publisher       string   `json:"publisher,omitempty"`
	PublicationYear int      `json:"publication_year,omitempty"`
	PageCount       int      `json:"page_count"`
	SourceKind      string   `json:"source_kind,omitempty"`
	Status          string   `json:"status"`
	CreatedAt       string   `json:"created_at,omitempty"`
}

// ListBooksResponse is the response for listing books.
type ListBooksResponse struct {
	Books []Book `json:"books"`
}

const bookFields = `_docID
		title
		authors
		publisher
		publication_year
		page_count
		source_kind
		status
		created_at`

func parseBook(m map[string]any) Book {
	b := Book{}
	if v, ok := m["_docID"].(string); ok {
		b.ID = v
	}
	if v, ok := m["title"].(string); ok {
		b.Title = v
	}
	if v, ok := m["authors"].([]any); ok {
		for _, a := range v {
			if s, ok := a.(string); ok {
				b.Authors = append(b.Authors, s)
			}
		}
	}
	if v, ok := m["publisher"].(string); ok {
		b.Publisher = v
	}
	if v, ok := m["publication_year"].(float64); ok {
		b.PublicationYear = int(v)
	}
	if v, ok := m["page_count"].(float64); ok {
		b.PageCount = int(v)
	}
	if v, ok := m["source_kind"].(string); ok {
		b.SourceKind = v
	}
	if v, ok := m["status"].(string); ok {
		b.Status = v
	}
	if v, ok := m["created_at"].(string); ok {
		b.CreatedAt = v
	}
	return b
}

// ListBooksEndpoint handles GET /api/books.
type ListBooksEndpoint struct{}

func (e *ListBooksEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/books", e.handler
}

func (e *ListBooksEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		List books
//	@Description	List all books in the library
//	@Tags			books
//	@Produce		json
//	@Success		200	{object}	ListBooksResponse
//	@Failure		500	{object}	ErrorResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/books [get]
func (e *ListBooksEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	client := svcctx.DefraClientFrom(r.Context())
	if client == nil {
		writeError(w, http.StatusServiceUnavailable, "defra client not initialized")
		return
	}

	resp, err := client.Query(r.Context(), fmt.Sprintf(`{
	Book(order: {created_at: DESC}) {
		%s
	}
}`, bookFields))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := ListBooksResponse{Books: []Book{}}
	if books, ok := resp.Data["Book"].([]any); ok {
		for _, b := range books {
			if m, ok := b.(map[string]any); ok {
				out.Books = append(out.Books, parseBook(m))
			}
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (e *ListBooksEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List books in the library",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp ListBooksResponse
			if err := client.Get(cmd.Context(), "/api/books", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// GetBookEndpoint handles GET /api/books/{id}.
type GetBookEndpoint struct{}

func (e *GetBookEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/books/{id}", e.handler
}

func (e *GetBookEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Get book by ID
//	@Description	Get detailed information about a book
//	@Tags			books
//	@Produce		json
//	@Param			id	path		string	true	"Book ID"
//	@Success		200	{object}	Book
//	@Failure		400	{object}	ErrorResponse
//	@Failure		404	{object}	ErrorResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/books/{id} [get]
func (e *GetBookEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "book id is required")
		return
	}

	client := svcctx.DefraClientFrom(r.Context())
	if client == nil {
		writeError(w, http.StatusServiceUnavailable, "defra client not initialized")
		return
	}

	resp, err := client.Query(r.Context(), fmt.Sprintf(`{
	Book(docID: %q) {
		%s
	}
}`, id, bookFields))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	books, ok := resp.Data["Book"].([]any)
	if !ok || len(books) == 0 {
		writeError(w, http.StatusNotFound, "book not found")
		return
	}
	m, ok := books[0].(map[string]any)
	if !ok {
		writeError(w, http.StatusInternalServerError, "unexpected book record shape")
		return
	}
	writeJSON(w, http.StatusOK, parseBook(m))
}

func (e *GetBookEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <book-id>",
		Short: "Get a book by ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp Book
			if err := client.Get(cmd.Context(), "/api/books/"+args[0], &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// ChapterSummary is the list representation of an indexed chapter.
type ChapterSummary struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	PageStart   int    `json:"page_start"`
	PageEnd     int    `json:"page_end"`
	WordCount   int    `json:"word_count"`
	Embedded    bool   `json:"embedded"`
	IsDuplicate bool   `json:"is_duplicate"`
}

// BookChaptersResponse is the response for listing a book's chapters.
type BookChaptersResponse struct {
	BookID   string           `json:"book_id"`
	Chapters []ChapterSummary `json:"chapters"`
}

// BookChaptersEndpoint handles GET /api/books/{id}/chapters.
type BookChaptersEndpoint struct{}

func (e *BookChaptersEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/books/{id}/chapters", e.handler
}

func (e *BookChaptersEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		List book chapters
//	@Description	List the indexed chapters of a book
//	@Tags			books
//	@Produce		json
//	@Param			id	path		string	true	"Book ID"
//	@Success		200	{object}	BookChaptersResponse
//	@Failure		400	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/books/{id}/chapters [get]
func (e *BookChaptersEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "book id is required")
		return
	}

	chapters := svcctx.ChaptersFrom(r.Context())
	if chapters == nil {
		writeError(w, http.StatusServiceUnavailable, "chapter store not initialized")
		return
	}

	list, err := chapters.ListByBook(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := BookChaptersResponse{BookID: id, Chapters: make([]ChapterSummary, 0, len(list))}
	for _, ch := range list {
		resp.Chapters = append(resp.Chapters, ChapterSummary{
			ID:          ch.ID,
			Title:       ch.Title,
			PageStart:   ch.PageStart,
			PageEnd:     ch.PageEnd,
			WordCount:   ch.WordCount,
			Embedded:    len(ch.Embedding) > 0,
			IsDuplicate: ch.IsDuplicate,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (e *BookChaptersEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "chapters <book-id>",
		Short: "List the indexed chapters of a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp BookChaptersResponse
			if err := client.Get(cmd.Context(), "/api/books/"+args[0]+"/chapters", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
