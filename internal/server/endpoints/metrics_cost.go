package endpoints

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/folio/internal/api"
	"github.com/jackzampolin/folio/internal/metrics"
	"github.com/jackzampolin/folio/internal/svcctx"
)

// CostResponse is the response for cost aggregation.
type CostResponse struct {
	TotalCostUSD   float64            `json:"total_cost_usd"`
	CostByModel    map[string]float64 `json:"cost_by_model"`
	CostByProvider map[string]float64 `json:"cost_by_provider"`
}

// MetricsCostEndpoint handles GET /api/metrics/cost.
type MetricsCostEndpoint struct{}

func (e *MetricsCostEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/metrics/cost", e.handler
}

func (e *MetricsCostEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Get cost breakdown
//	@Description	Get total model spend broken down by model and provider
//	@Tags			metrics
//	@Produce		json
//	@Param			document_id	query		string	false	"Filter by document ID"
//	@Success		200			{object}	CostResponse
//	@Failure		500			{object}	ErrorResponse
//	@Failure		503			{object}	ErrorResponse
//	@Router			/api/metrics/cost [get]
func (e *MetricsCostEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	query := svcctx.MetricsQueryFrom(r.Context())
	if query == nil {
		writeError(w, http.StatusServiceUnavailable, "metrics not initialized")
		return
	}

	filter := metrics.Filter{DocumentID: r.URL.Query().Get("document_id")}

	total, err := query.TotalCost(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	byModel, err := query.CostByModel(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	byProvider, err := query.CostByProvider(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, CostResponse{
		TotalCostUSD:   total,
		CostByModel:    byModel,
		CostByProvider: byProvider,
	})
}

func (e *MetricsCostEndpoint) Command(getServerURL func() string) *cobra.Command {
	var documentID string
	cmd := &cobra.Command{
		Use:   "cost",
		Short: "Show model spend by model and provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/metrics/cost"
			if documentID != "" {
				path += "?document_id=" + documentID
			}
			client := api.NewClient(getServerURL())
			var resp CostResponse
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&documentID, "document", "", "Filter by document ID")
	return cmd
}
