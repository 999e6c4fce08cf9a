package synthesis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/jackzampolin/folio/internal/config"
	"github.com/jackzampolin/folio/internal/dedup"
	"github.com/jackzampolin/folio/internal/defra"
	"github.com/jackzampolin/folio/internal/events"
	"github.com/jackzampolin/folio/internal/factcheck"
	"github.com/jackzampolin/folio/internal/gateway"
	"github.com/jackzampolin/folio/internal/types"
)

// defraStub is an in-memory stand-in for DefraDB that understands the
// handful of queries the synthesis stores issue.
type defraStub struct {
	mu          sync.Mutex
	doc         map[string]any
	checkpoints []checkpointRow
	updates     []string
	srv         *httptest.Server
}

type checkpointRow struct {
	stage   int
	payload string
}

var (
	cpStageRe   = regexp.MustCompile(`stage: (\d+)`)
	cpPayloadRe = regexp.MustCompile(`payload: ("(?:[^"\\]|\\.)*")`)
	loadStageRe = regexp.MustCompile(`stage: \{_eq: (\d+)\}`)
	statusRe    = regexp.MustCompile(`generation_status: "([a-z_0-9]+)"`)
)

func newDefraStub(t *testing.T, doc map[string]any) *defraStub {
	t.Helper()
	d := &defraStub{doc: doc}
	d.srv = httptest.NewServer(http.HandlerFunc(d.handle))
	t.Cleanup(d.srv.Close)
	return d
}

func (d *defraStub) handle(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	body := string(raw)

	d.mu.Lock()
	defer d.mu.Unlock()

	respond := func(data map[string]any) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"data": data})
	}
	created := func(key, id string) map[string]any {
		return map[string]any{key: []any{map[string]any{
			"_docID": id, "_version": []any{map[string]any{"cid": "bafytest"}},
		}}}
	}

	switch {
	case strings.Contains(body, "create_Checkpoint"):
		row := checkpointRow{}
		if m := cpStageRe.FindStringSubmatch(body); m != nil {
			row.stage, _ = strconv.Atoi(m[1])
		}
		if m := cpPayloadRe.FindStringSubmatch(body); m != nil {
			var payload string
			if err := json.Unmarshal([]byte(m[1]), &payload); err == nil {
				row.payload = payload
			}
		}
		d.checkpoints = append(d.checkpoints, row)
		respond(created("create_Checkpoint", fmt.Sprintf("cp-%d", len(d.checkpoints))))

	case strings.Contains(body, "create_Document"):
		respond(created("create_Document", "doc-1"))

	case strings.Contains(body, "update_Document"):
		d.updates = append(d.updates, body)
		if m := statusRe.FindStringSubmatch(body); m != nil {
			d.doc["generation_status"] = m[1]
		}
		respond(created("update_Document", "doc-1"))

	case strings.Contains(body, "order: {stage: DESC}"):
		max := 0
		for _, cp := range d.checkpoints {
			if cp.stage > max {
				max = cp.stage
			}
		}
		if max == 0 {
			respond(map[string]any{"Checkpoint": []any{}})
			return
		}
		respond(map[string]any{"Checkpoint": []any{map[string]any{"stage": max}}})

	case strings.Contains(body, "Checkpoint(filter"):
		m := loadStageRe.FindStringSubmatch(body)
		if m == nil {
			respond(map[string]any{"Checkpoint": []any{}})
			return
		}
		want, _ := strconv.Atoi(m[1])
		var payload string
		found := false
		for _, cp := range d.checkpoints {
			if cp.stage == want {
				payload, found = cp.payload, true
			}
		}
		if !found {
			respond(map[string]any{"Checkpoint": []any{}})
			return
		}
		respond(map[string]any{"Checkpoint": []any{map[string]any{"payload": payload}}})

	case strings.Contains(body, "Document(docID"):
		respond(map[string]any{"Document": []any{d.doc}})

	default:
		respond(map[string]any{})
	}
}

func (d *defraStub) updatesContaining(substr string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, u := range d.updates {
		if strings.Contains(u, substr) {
			n++
		}
	}
	return n
}

func (d *defraStub) stages() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]int, len(d.checkpoints))
	for i, cp := range d.checkpoints {
		out[i] = cp.stage
	}
	return out
}

func (d *defraStub) payloadFor(stage int) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := len(d.checkpoints) - 1; i >= 0; i-- {
		if d.checkpoints[i].stage == stage {
			return d.checkpoints[i].payload
		}
	}
	return ""
}

func (d *defraStub) seedCheckpoint(stage int, payload any) {
	blob, _ := json.Marshal(payload)
	d.mu.Lock()
	d.checkpoints = append(d.checkpoints, checkpointRow{stage: stage, payload: string(blob)})
	d.mu.Unlock()
}

type fakeInternal struct {
	sources []types.Source
	calls   int
}

func (f *fakeInternal) Search(ctx context.Context, queries []string, documentID string) ([]types.Source, error) {
	f.calls++
	return f.sources, nil
}

type fakeExternal struct {
	sources []types.Source
	calls   int
}

func (f *fakeExternal) SearchAll(ctx context.Context, queries []string, documentID string) []types.Source {
	f.calls++
	return f.sources
}

func testSources() ([]types.Source, []types.Source) {
	internal := []types.Source{
		{ID: "src-int-1", Title: "Surgical Resection Outcomes in Glioblastoma", ChapterID: "ch-1",
			SourceType: types.SourceInternal, Year: 2024, SimilarityScore: 0.9},
		{ID: "src-int-2", Title: "Molecular Markers of High Grade Glioma", ChapterID: "ch-2",
			SourceType: types.SourceInternal, Year: 2022, SimilarityScore: 0.7},
	}
	external := []types.Source{
		{ID: "src-ext-1", Title: "Temozolomide Plus Radiotherapy Trial", Journal: "NEJM",
			SourceType: types.SourceAIResearch, Year: 2023},
	}
	return internal, external
}

const (
	analysisPayload = `{"primary_concepts":["glioblastoma"],"document_type":"surgical_disease","keywords":["temozolomide"],"complexity":"high","estimated_sections":2}`
	contextPayload  = `{"research_gaps":[],"key_references":["Stupp 2005"],"confidence":0.9}`
	planPayload     = `{"sections":[{"title":"Introduction","section_type":"introduction","key_points":["overview"]},{"title":"Treatment","section_type":"treatment_options","key_points":["resection"],"subsections":[{"title":"Adjuvant Therapy","section_type":"treatment_options","key_points":["chemoradiation"]}]}]}`
	claimsPayload   = `{"claims":[{"text":"resection improves survival","category":"treatment","verified":true,"confidence":0.9,"severity":"high"}]}`
	reviewPayload   = `{"contradictions":[],"readability_issues":["dense paragraph in section 2"],"missing_transitions":[],"citation_issues":[],"logical_flow_issues":[],"clarity_issues":[],"quality_scores":{"clarity":0.9,"coherence":0.85,"consistency":0.9,"completeness":0.8}}`
)

func newTestOrchestrator(t *testing.T, stub *defraStub, mock *gateway.Mock, cfg config.SynthesisCfg) (*Orchestrator, *events.Hub) {
	t.Helper()
	client := defra.NewClient(stub.srv.URL)
	hub := events.NewHub()

	internal, external := testSources()
	o := New(Deps{
		Documents:   NewDocumentStore(client, nil),
		Checkpoints: NewCheckpointStore(client),
		Gateway:     mock,
		Internal:    &fakeInternal{sources: internal},
		External:    &fakeExternal{sources: external},
		Deduper:     dedup.New(mock, nil),
		FactCheck:   factcheck.New(mock, nil),
		Hub:         hub,
		Config:      cfg,
	})
	return o, hub
}

func queueHappyPath(mock *gateway.Mock) {
	mock.QueueStructured(types.TaskMetadataExtraction, analysisPayload)
	mock.QueueStructured(types.TaskSummarization, contextPayload, reviewPayload)
	mock.QueueStructured(types.TaskContentDrafting, planPayload)
	mock.QueueText(types.TaskContentDrafting,
		"Glioblastoma is the most common malignant primary brain tumor [1].",
		"Maximal safe resection improves survival [1,2].",
		"Chemoradiation with temozolomide is standard adjuvant care [3].")
	mock.QueueStructured(types.TaskFactVerification, claimsPayload)
}

func TestRunCompletesAllStages(t *testing.T) {
	stub := newDefraStub(t, map[string]any{
		"_docID": "doc-1", "topic": "Glioblastoma management", "generation_status": StatusQueued,
	})
	mock := gateway.NewMock()
	queueHappyPath(mock)

	o, hub := newTestOrchestrator(t, stub, mock, config.SynthesisCfg{})
	ch, cancel := hub.Subscribe(events.DocumentTopic("doc-1"))
	defer cancel()

	if err := o.Run(context.Background(), "doc-1"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	stages := stub.stages()
	if len(stages) != TotalStages {
		t.Fatalf("checkpoints = %v, want one per stage", stages)
	}
	for i, stage := range stages {
		if stage != i+1 {
			t.Fatalf("checkpoint %d has stage %d, want %d", i, stage, i+1)
		}
	}

	if n := stub.updatesContaining(`generation_status: "completed"`); n != 1 {
		t.Errorf("completed status written %d times, want 1", n)
	}
	if stub.updatesContaining(`version: "1.0"`) == 0 {
		t.Error("finalization never stamped version 1.0")
	}
	if stub.updatesContaining("is_current_version: true") == 0 {
		t.Error("finalization never set is_current_version")
	}

	var refs []types.Reference
	if err := json.Unmarshal([]byte(stub.payloadFor(8)), &refs); err != nil {
		t.Fatalf("failed to parse citation checkpoint: %v", err)
	}
	if len(refs) != 3 {
		t.Fatalf("references = %d, want 3", len(refs))
	}
	for i, ref := range refs {
		if ref.Number != i+1 {
			t.Errorf("reference %d numbered %d", i, ref.Number)
		}
	}
	if refs[0].Title != "Surgical Resection Outcomes in Glioblastoma" {
		t.Errorf("first reference = %q, want first-cited internal source", refs[0].Title)
	}

	progress, terminal := 0, 0
	for len(ch) > 0 {
		ev := <-ch
		switch ev.Kind {
		case events.KindProgress:
			progress++
		case events.KindCompleted:
			terminal++
		case events.KindFailed:
			t.Errorf("unexpected failure event: %v", ev.Data["error"])
		}
	}
	// Each stage emits a started and a completed progress event.
	if progress != 2*TotalStages || terminal != 1 {
		t.Errorf("events progress/terminal = %d/%d, want %d/1",
			progress, terminal, 2*TotalStages)
	}
}

func TestRunSectionFailureProducesPlaceholder(t *testing.T) {
	stub := newDefraStub(t, map[string]any{
		"_docID": "doc-1", "topic": "Glioblastoma management", "generation_status": StatusQueued,
	})
	mock := gateway.NewMock()
	mock.QueueStructured(types.TaskMetadataExtraction, analysisPayload)
	mock.QueueStructured(types.TaskSummarization, contextPayload, reviewPayload)
	mock.QueueStructured(types.TaskContentDrafting, `{"sections":[
		{"title":"One","section_type":"introduction","key_points":["a"]},
		{"title":"Two","section_type":"epidemiology","key_points":["b"]},
		{"title":"Three","section_type":"pathophysiology","key_points":["c"]},
		{"title":"Four","section_type":"treatment_options","key_points":["d"]},
		{"title":"Five","section_type":"outcomes","key_points":["e"]}]}`)
	// The third draft comes back empty; sequential generation makes the
	// mapping to section three deterministic.
	mock.QueueText(types.TaskContentDrafting,
		"Body one [1].", "Body two [1].", "", "Body four [1].", "Body five [1].")
	mock.QueueStructured(types.TaskFactVerification, claimsPayload)

	o, _ := newTestOrchestrator(t, stub, mock, config.SynthesisCfg{
		ParallelSectionGeneration: false,
	})

	if err := o.Run(context.Background(), "doc-1"); err != nil {
		t.Fatalf("Run() error = %v, want nil despite section failure", err)
	}

	var sections []types.Section
	if err := json.Unmarshal([]byte(stub.payloadFor(6)), &sections); err != nil {
		t.Fatalf("failed to parse section checkpoint: %v", err)
	}
	if len(sections) != 5 {
		t.Fatalf("sections = %d, want 5", len(sections))
	}
	if sections[2].GenerationError == "" {
		t.Error("failed section has no recorded error")
	}
	if !strings.Contains(sections[2].Content, "placeholder") {
		t.Errorf("failed section content = %q, want placeholder text", sections[2].Content)
	}
	for i, sec := range sections {
		if i != 2 && sec.GenerationError != "" {
			t.Errorf("section %d unexpectedly failed: %s", i, sec.GenerationError)
		}
	}
	if got := stub.stages()[len(stub.stages())-1]; got != TotalStages {
		t.Errorf("last checkpoint stage = %d, want %d", got, TotalStages)
	}
}

func TestRunResumesAfterCheckpoint(t *testing.T) {
	stub := newDefraStub(t, map[string]any{
		"_docID": "doc-1", "topic": "Glioblastoma management", "generation_status": "stage_5",
	})

	internal, external := testSources()
	var analysis Analysis
	json.Unmarshal([]byte(analysisPayload), &analysis)
	var plan Plan
	json.Unmarshal([]byte(planPayload), &plan)

	stub.seedCheckpoint(1, analysis)
	stub.seedCheckpoint(2, ContextInfo{Confidence: 0.9})
	stub.seedCheckpoint(3, RetrievalOutput{Sources: internal})
	stub.seedCheckpoint(4, ExternalOutput{Sources: external})
	stub.seedCheckpoint(5, plan)

	// Nothing queued for analysis, context, or planning: re-running any
	// completed stage would fail the run.
	mock := gateway.NewMock()
	mock.QueueStructured(types.TaskSummarization, reviewPayload)
	mock.QueueText(types.TaskContentDrafting,
		"Resumed body one [1].", "Resumed body two [1].", "Resumed subsection [1].")
	mock.QueueStructured(types.TaskFactVerification, claimsPayload)

	o, hub := newTestOrchestrator(t, stub, mock, config.SynthesisCfg{})
	ch, cancel := hub.Subscribe(events.DocumentTopic("doc-1"))
	defer cancel()

	if err := o.Run(context.Background(), "doc-1"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	for _, call := range mock.StructuredCalls {
		if call.SchemaName == "chapter_analysis" || call.SchemaName == "context_building" || call.SchemaName == "section_plan" {
			t.Errorf("completed stage re-invoked: %s", call.SchemaName)
		}
	}

	ev := <-ch
	if ev.Kind != events.KindProgress || ev.Data["ordinal"] != 6 {
		t.Errorf("first event = %s ordinal %v, want progress at stage 6", ev.Kind, ev.Data["ordinal"])
	}

	stages := stub.stages()
	for _, stage := range stages[5:] {
		if stage <= 5 {
			t.Errorf("new checkpoint written for completed stage %d", stage)
		}
	}
	if got := stages[len(stages)-1]; got != TotalStages {
		t.Errorf("last checkpoint stage = %d, want %d", got, TotalStages)
	}
}

func TestRunFailureMarksDocumentOnce(t *testing.T) {
	stub := newDefraStub(t, map[string]any{
		"_docID": "doc-1", "topic": "Glioblastoma management", "generation_status": StatusQueued,
	})
	mock := gateway.NewMock()
	mock.Err = errors.New("provider down")

	o, hub := newTestOrchestrator(t, stub, mock, config.SynthesisCfg{})
	ch, cancel := hub.Subscribe(events.DocumentTopic("doc-1"))
	defer cancel()

	if err := o.Run(context.Background(), "doc-1"); err == nil {
		t.Fatal("Run() = nil, want error")
	}

	if n := stub.updatesContaining(`generation_status: "failed"`); n != 1 {
		t.Errorf("failed status written %d times, want 1", n)
	}

	failures := 0
	for len(ch) > 0 {
		if ev := <-ch; ev.Kind == events.KindFailed {
			failures++
			if ev.Data["ordinal"] != 1 {
				t.Errorf("failure at stage %v, want 1", ev.Data["ordinal"])
			}
		}
	}
	if failures != 1 {
		t.Errorf("failed events = %d, want exactly 1", failures)
	}
}

func TestRunRejectsShortTopic(t *testing.T) {
	stub := newDefraStub(t, map[string]any{
		"_docID": "doc-1", "topic": "ab", "generation_status": StatusQueued,
	})
	mock := gateway.NewMock()

	o, _ := newTestOrchestrator(t, stub, mock, config.SynthesisCfg{})
	err := o.Run(context.Background(), "doc-1")
	if !errors.Is(err, types.ErrInvalidInput) {
		t.Fatalf("Run() error = %v, want ErrInvalidInput", err)
	}
	if len(mock.StructuredCalls) != 0 {
		t.Error("model called despite invalid topic")
	}
}

func TestRunCompletedDocumentIsNoOp(t *testing.T) {
	stub := newDefraStub(t, map[string]any{
		"_docID": "doc-1", "topic": "Glioblastoma management", "generation_status": StatusCompleted,
	})
	mock := gateway.NewMock()

	o, _ := newTestOrchestrator(t, stub, mock, config.SynthesisCfg{})
	if err := o.Run(context.Background(), "doc-1"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(stub.stages()) != 0 {
		t.Error("completed document wrote checkpoints")
	}
}

func TestDocumentStoreCreateValidatesTopic(t *testing.T) {
	stub := newDefraStub(t, map[string]any{})
	store := NewDocumentStore(defra.NewClient(stub.srv.URL), nil)

	if _, err := store.Create(context.Background(), "ab", ""); !errors.Is(err, types.ErrInvalidInput) {
		t.Fatalf("Create() error = %v, want ErrInvalidInput", err)
	}
	id, err := store.Create(context.Background(), "Glioblastoma management", TypeSurgicalDisease)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if id != "doc-1" {
		t.Errorf("Create() id = %q", id)
	}
}
