package synthesis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackzampolin/folio/internal/config"
	"github.com/jackzampolin/folio/internal/dedup"
	"github.com/jackzampolin/folio/internal/events"
	"github.com/jackzampolin/folio/internal/factcheck"
	"github.com/jackzampolin/folio/internal/gaps"
	"github.com/jackzampolin/folio/internal/gateway"
	"github.com/jackzampolin/folio/internal/relevance"
	"github.com/jackzampolin/folio/internal/types"
)

// ImageCatalog lists candidate figures for a set of chapters. A nil
// catalog disables image integration.
type ImageCatalog interface {
	ForChapters(ctx context.Context, chapterIDs []string) ([]ImageRef, error)
}

// InternalSearch is the indexed-corpus retrieval track, satisfied by
// retrieval.InternalSearcher.
type InternalSearch interface {
	Search(ctx context.Context, queries []string, documentID string) ([]types.Source, error)
}

// ExternalSearch is the external retrieval track, satisfied by
// retrieval.ExternalSearcher.
type ExternalSearch interface {
	SearchAll(ctx context.Context, queries []string, documentID string) []types.Source
}

// Deps wires the orchestrator's collaborators.
type Deps struct {
	Documents   *DocumentStore
	Checkpoints *CheckpointStore
	Gateway     gateway.Client
	Internal    InternalSearch
	External    ExternalSearch
	Deduper     *dedup.Deduper
	Relevance   *relevance.Filter
	Gaps        *gaps.Analyzer
	FactCheck   *factcheck.Checker
	Images      ImageCatalog
	Hub         *events.Hub
	Config      config.SynthesisCfg
	Logger      *slog.Logger
}

// Orchestrator runs the staged synthesis pipeline for one document at
// a time. Stage N+1 starts only after stage N's checkpoint commits.
type Orchestrator struct {
	deps   Deps
	logger *slog.Logger
}

// New creates an orchestrator.
func New(deps Deps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{deps: deps, logger: logger.With("component", "synthesis")}
}

// Run drives the document from its last checkpoint to completion.
// Safe to call again after a crash or failure: completed stages are
// not re-invoked.
func (o *Orchestrator) Run(ctx context.Context, documentID string) error {
	doc, err := o.deps.Documents.Get(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.GenerationStatus == StatusCompleted {
		return nil
	}

	last, err := o.deps.Checkpoints.LastStage(ctx, documentID)
	if err != nil {
		return fmt.Errorf("failed to read checkpoints: %w", err)
	}

	state := &runState{}
	if last > 0 {
		if err := o.loadState(ctx, documentID, last, state); err != nil {
			return err
		}
		o.logger.Info("resuming synthesis", "document", documentID, "from_stage", last+1)
	}

	for stage := last + 1; stage <= TotalStages; stage++ {
		if err := ctx.Err(); err != nil {
			return o.fail(documentID, stage, fmt.Errorf("run cancelled: %w", err))
		}

		if err := o.deps.Documents.SetStage(ctx, documentID, stage); err != nil {
			return o.fail(documentID, stage, fmt.Errorf("failed to advance to stage %d: %w", stage, err))
		}
		o.publish(events.Event{
			Kind:  events.KindProgress,
			Topic: events.DocumentTopic(documentID),
			Data: map[string]any{
				"stage":   StageName(stage),
				"ordinal": stage,
				"total":   TotalStages,
				"percent": 100 * float64(stage-1) / TotalStages,
				"message": "stage started",
			},
		})

		payload, err := o.runStage(ctx, stage, doc, state)
		if err != nil {
			return o.fail(documentID, stage, err)
		}

		if err := o.deps.Checkpoints.Save(ctx, documentID, stage, payload); err != nil {
			return o.fail(documentID, stage, err)
		}
		o.publish(events.Event{
			Kind:  events.KindProgress,
			Topic: events.DocumentTopic(documentID),
			Data: map[string]any{
				"stage":   StageName(stage),
				"ordinal": stage,
				"total":   TotalStages,
				"percent": 100 * float64(stage) / TotalStages,
				"message": "stage completed",
			},
		})
	}

	o.publish(events.Event{
		Kind:  events.KindCompleted,
		Topic: events.DocumentTopic(documentID),
		Data: map[string]any{
			"document_id": documentID,
			"status":      StatusCompleted,
		},
	})
	return nil
}

func (o *Orchestrator) runStage(ctx context.Context, stage int, doc *Document, state *runState) (any, error) {
	meta := gateway.CallMeta{DocumentID: doc.ID, Stage: fmt.Sprintf("stage_%d", stage)}

	switch stage {
	case 1:
		return o.stageAnalyze(ctx, doc, state, meta)
	case 2:
		return o.stageContext(ctx, doc, state, meta)
	case 3:
		return o.stageInternalRetrieval(ctx, doc, state, meta)
	case 4:
		return o.stageExternalRetrieval(ctx, doc, state, meta)
	case 5:
		return o.stagePlan(ctx, doc, state, meta)
	case 6:
		return o.stageSections(ctx, doc, state, meta)
	case 7:
		return o.stageImages(ctx, doc, state, meta)
	case 8:
		return o.stageCitations(ctx, doc, state)
	case 9:
		return o.stageQuality(ctx, doc, state)
	case 10:
		return o.stageFactCheck(ctx, doc, state, meta)
	case 11:
		return o.stageFormat(ctx, doc, state)
	case 12:
		return o.stageReview(ctx, doc, state, meta)
	case 13:
		return o.stageFinalize(ctx, doc, state)
	case 14:
		return o.stageDeliver(ctx, doc, state)
	default:
		return nil, fmt.Errorf("unknown stage %d", stage)
	}
}

// loadState rebuilds the run state from persisted checkpoints 1..last.
func (o *Orchestrator) loadState(ctx context.Context, documentID string, last int, state *runState) error {
	targets := map[int]any{
		1:  &state.Analysis,
		2:  &state.Context,
		3:  &state.Internal,
		4:  &state.External,
		5:  &state.Plan,
		6:  &state.Sections,
		7:  &state.Sections,
		8:  &state.References,
		9:  &state.Quality,
		10: &state.FactCheck,
		11: &state.Format,
		12: &state.Review,
	}

	for stage := 1; stage <= last && stage <= TotalStages; stage++ {
		target, ok := targets[stage]
		if !ok {
			continue
		}
		found, err := o.deps.Checkpoints.Load(ctx, documentID, stage, target)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("checkpoint for stage %d missing while resuming", stage)
		}
	}

	// Gap analysis rides on the document, not a checkpoint.
	if last >= 6 {
		if doc, err := o.deps.Documents.Get(ctx, documentID); err == nil {
			state.GapReport = doc.GapAnalysis
		}
	}
	return nil
}

// fail marks the terminal failure state and emits the single failed
// event for the topic.
func (o *Orchestrator) fail(documentID string, stage int, cause error) error {
	o.logger.Error("synthesis failed", "document", documentID, "stage", stage, "error", cause)

	if err := o.deps.Documents.MarkFailed(context.Background(), documentID, stage, cause); err != nil {
		o.logger.Warn("failed to persist failure state", "document", documentID, "error", err)
	}
	o.publish(events.Event{
		Kind:  events.KindFailed,
		Topic: events.DocumentTopic(documentID),
		Data: map[string]any{
			"document_id": documentID,
			"stage":       StageName(stage),
			"ordinal":     stage,
			"status":      StatusFailed,
			"error":       cause.Error(),
		},
	})
	return cause
}

func (o *Orchestrator) publish(ev events.Event) {
	if o.deps.Hub != nil {
		o.deps.Hub.Publish(ev)
	}
}

// queries derives the retrieval query set from the topic and the
// stage-1 analysis.
func (st *runState) queries(topic string) []string {
	seen := map[string]bool{topic: true}
	queries := []string{topic}

	add := func(q string) {
		if q == "" || seen[q] {
			return
		}
		seen[q] = true
		queries = append(queries, q)
	}
	for _, c := range st.Analysis.PrimaryConcepts {
		add(c)
	}
	for _, k := range st.Analysis.Keywords {
		add(k)
	}

	const maxQueries = 6
	if len(queries) > maxQueries {
		queries = queries[:maxQueries]
	}
	return queries
}

// rawJSON wraps already-marshaled stage output for checkpointing.
type rawJSON struct {
	Data json.RawMessage
}

func (r rawJSON) MarshalJSON() ([]byte, error) {
	if len(r.Data) == 0 {
		return []byte("null"), nil
	}
	return r.Data, nil
}
