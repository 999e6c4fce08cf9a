package endpoints

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/folio/internal/api"
	"github.com/jackzampolin/folio/internal/metrics"
	"github.com/jackzampolin/folio/internal/svcctx"
)

const defaultMetricsLimit = 100

// ListMetricsResponse is the response for listing metrics.
type ListMetricsResponse struct {
	Metrics []metrics.Metric `json:"metrics"`
	Count   int              `json:"count"`
}

// MetricsListEndpoint handles GET /api/metrics.
type MetricsListEndpoint struct{}

func (e *MetricsListEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/metrics", e.handler
}

func (e *MetricsListEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		List metrics
//	@Description	List per-call metrics, newest first
//	@Tags			metrics
//	@Produce		json
//	@Param			document_id	query		string	false	"Filter by document ID"
//	@Param			stage		query		string	false	"Filter by pipeline stage"
//	@Param			provider	query		string	false	"Filter by provider"
//	@Param			model		query		string	false	"Filter by model"
//	@Param			limit		query		int		false	"Maximum records (default 100)"
//	@Success		200			{object}	ListMetricsResponse
//	@Failure		400			{object}	ErrorResponse
//	@Failure		500			{object}	ErrorResponse
//	@Failure		503			{object}	ErrorResponse
//	@Router			/api/metrics [get]
func (e *MetricsListEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	query := svcctx.MetricsQueryFrom(r.Context())
	if query == nil {
		writeError(w, http.StatusServiceUnavailable, "metrics not initialized")
		return
	}

	q := r.URL.Query()
	limit := defaultMetricsLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	list, err := query.List(r.Context(), metrics.Filter{
		DocumentID: q.Get("document_id"),
		Stage:      q.Get("stage"),
		Provider:   q.Get("provider"),
		Model:      q.Get("model"),
	}, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []metrics.Metric{}
	}
	writeJSON(w, http.StatusOK, ListMetricsResponse{Metrics: list, Count: len(list)})
}

func (e *MetricsListEndpoint) Command(getServerURL func() string) *cobra.Command {
	var documentID, stage string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List per-call metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/metrics?"
			if documentID != "" {
				path += "document_id=" + documentID + "&"
			}
			if stage != "" {
				path += "stage=" + stage + "&"
			}
			if limit > 0 {
				path += fmt.Sprintf("limit=%d&", limit)
			}
			path = path[:len(path)-1]

			client := api.NewClient(getServerURL())
			var resp ListMetricsResponse
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&documentID, "document", "", "Filter by document ID")
	cmd.Flags().StringVar(&stage, "stage", "", "Filter by pipeline stage")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum records")
	return cmd
}
