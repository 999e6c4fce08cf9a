package metrics

import (
	"context"
	"time"

	"github.com/jackzampolin/folio/internal/defra"
	"github.com/jackzampolin/folio/internal/gateway"
)

// Recorder handles fire-and-forget metric recording via a Sink.
type Recorder struct {
	sink *defra.Sink
}

// NewRecorder creates a new metrics recorder.
func NewRecorder(sink *defra.Sink) *Recorder {
	return &Recorder{sink: sink}
}

// Record captures a gateway call as a metric asynchronously.
func (r *Recorder) Record(_ context.Context, rec gateway.Record) {
	if r.sink == nil {
		return
	}

	m := Metric{
		DocumentID:       rec.DocumentID,
		Stage:            rec.Stage,
		ItemKey:          rec.Operation,
		Provider:         rec.Provider,
		Model:            rec.Model,
		CostUSD:          rec.CostUSD,
		PromptTokens:     rec.PromptTokens,
		CompletionTokens: rec.CompletionTokens,
		TotalTokens:      rec.PromptTokens + rec.CompletionTokens,
		ExecutionSeconds: float64(rec.DurationMS) / 1000.0,
		Success:          rec.Success,
		ErrorType:        truncateError(rec.Error),
		CreatedAt:        time.Now().UTC(),
	}
	r.RecordMetric(m)
}

// RecordMetric queues an already-constructed metric for batched write.
func (r *Recorder) RecordMetric(m Metric) {
	if r.sink == nil {
		return
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	r.sink.Send(defra.WriteOp{
		Op:         defra.OpCreate,
		Collection: "Metric",
		Document:   m.ToMap(),
	})
}

// truncateError keeps error labels small enough for aggregation views.
func truncateError(s string) string {
	const max = 200
	if len(s) > max {
		return s[:max]
	}
	return s
}

var _ gateway.Recorder = (*Recorder)(nil)
