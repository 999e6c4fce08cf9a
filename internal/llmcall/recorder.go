package llmcall

import (
	"context"

	"github.com/jackzampolin/folio/internal/defra"
	"github.com/jackzampolin/folio/internal/gateway"
)

// Recorder handles fire-and-forget call recording via a Sink.
type Recorder struct {
	sink *defra.Sink
}

// NewRecorder creates a new call recorder.
func NewRecorder(sink *defra.Sink) *Recorder {
	return &Recorder{sink: sink}
}

// Record captures a gateway call asynchronously.
// This is non-blocking - the write is queued and batched.
func (r *Recorder) Record(_ context.Context, rec gateway.Record) {
	if r.sink == nil {
		return // No sink configured, skip recording
	}

	call := FromRecord(rec)
	r.sink.Send(defra.WriteOp{
		Op:         defra.OpCreate,
		Collection: "LLMCall",
		Document:   call.ToMap(),
	})
}

// RecordCall captures an already-constructed Call asynchronously.
func (r *Recorder) RecordCall(call *Call) {
	if r.sink == nil || call == nil {
		return
	}

	r.sink.Send(defra.WriteOp{
		Op:         defra.OpCreate,
		Collection: "LLMCall",
		Document:   call.ToMap(),
	})
}

var _ gateway.Recorder = (*Recorder)(nil)
