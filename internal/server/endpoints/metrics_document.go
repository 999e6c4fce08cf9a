package endpoints

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/folio/internal/api"
	"github.com/jackzampolin/folio/internal/metrics"
	"github.com/jackzampolin/folio/internal/svcctx"
)

// DocumentMetricsResponse is the per-document cost breakdown.
type DocumentMetricsResponse struct {
	DocumentID   string                            `json:"document_id"`
	TotalCostUSD float64                           `json:"total_cost_usd"`
	CostByStage  map[string]float64                `json:"cost_by_stage"`
	StageStats   map[string]*metrics.DetailedStats `json:"stage_stats,omitempty"`
}

// DocumentMetricsEndpoint handles GET /api/metrics/documents/{id}.
type DocumentMetricsEndpoint struct{}

func (e *DocumentMetricsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/metrics/documents/{id}", e.handler
}

func (e *DocumentMetricsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Get document metrics
//	@Description	Get per-stage cost breakdown for one synthesis run
//	@Tags			metrics
//	@Produce		json
//	@Param			id			path		string	true	"Document ID"
//	@Param			detailed	query		bool	false	"Include latency percentiles per stage"
//	@Success		200			{object}	DocumentMetricsResponse
//	@Failure		400			{object}	ErrorResponse
//	@Failure		500			{object}	ErrorResponse
//	@Failure		503			{object}	ErrorResponse
//	@Router			/api/metrics/documents/{id} [get]
func (e *DocumentMetricsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "document id is required")
		return
	}

	query := svcctx.MetricsQueryFrom(r.Context())
	if query == nil {
		writeError(w, http.StatusServiceUnavailable, "metrics not initialized")
		return
	}

	total, err := query.DocumentCost(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	byStage, err := query.DocumentStageBreakdown(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := DocumentMetricsResponse{
		DocumentID:   id,
		TotalCostUSD: total,
		CostByStage:  byStage,
	}

	if r.URL.Query().Get("detailed") == "true" {
		stats, err := query.StageDetailedStats(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp.StageStats = stats
	}

	writeJSON(w, http.StatusOK, resp)
}

func (e *DocumentMetricsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var detailed bool
	cmd := &cobra.Command{
		Use:   "document <document-id>",
		Short: "Show per-stage cost for a synthesis run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/metrics/documents/" + args[0]
			if detailed {
				path += "?detailed=true"
			}
			client := api.NewClient(getServerURL())
			var resp DocumentMetricsResponse
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().BoolVar(&detailed, "detailed", false, "Include latency percentiles per stage")
	return cmd
}
