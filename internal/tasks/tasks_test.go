package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackzampolin/folio/internal/defra"
	"github.com/jackzampolin/folio/internal/events"
)

// taskStub is a DefraDB stand-in that assigns task ids and records
// update mutations.
type taskStub struct {
	mu      sync.Mutex
	nextID  atomic.Int32
	updates []string
}

func (s *taskStub) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Query string `json:"query"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.Contains(req.Query, "create_Task"):
			id := fmt.Sprintf("task-%d", s.nextID.Add(1))
			fmt.Fprintf(w, `{"data": {"create_Task": [{"_docID": %q, "_version": [{"cid": "c1"}]}]}}`, id)
		case strings.Contains(req.Query, "update_Task"):
			s.mu.Lock()
			s.updates = append(s.updates, req.Query)
			s.mu.Unlock()
			fmt.Fprint(w, `{"data": {"update_Task": [{"_docID": "x"}]}}`)
		default:
			fmt.Fprint(w, `{"data": {"Task": []}}`)
		}
	}
}

func (s *taskStub) updatesContaining(substr string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, u := range s.updates {
		if strings.Contains(u, substr) {
			n++
		}
	}
	return n
}

func newTestRunner(t *testing.T, hub *events.Hub) (*Runner, *taskStub) {
	t.Helper()
	stub := &taskStub{}
	server := httptest.NewServer(stub.handler())
	t.Cleanup(server.Close)

	runner := NewRunner(NewStore(defra.NewClient(server.URL), nil), hub, 4, nil)
	runner.Start(context.Background())
	return runner, stub
}

func TestRunnerCompletesTask(t *testing.T) {
	runner, stub := newTestRunner(t, nil)

	var ran atomic.Bool
	id, err := runner.Submit(context.Background(), TypeChapterIndex, EntityChapter, "ch-1",
		func(ctx context.Context, taskID string, progress ProgressFunc) error {
			ran.Store(true)
			progress("embedding", 1, 2)
			return nil
		})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if id == "" {
		t.Fatal("empty task id")
	}
	runner.Wait()

	if !ran.Load() {
		t.Error("handler never ran")
	}
	if stub.updatesContaining(`status: "processing"`) != 1 {
		t.Error("task never marked processing")
	}
	if stub.updatesContaining(`status: "completed"`) != 1 {
		t.Error("task never marked completed")
	}
	if stub.updatesContaining(`current_step: "embedding"`) != 1 {
		t.Error("progress update not persisted")
	}
}

func TestRunnerSerializesPerEntity(t *testing.T) {
	runner, _ := newTestRunner(t, nil)

	var mu sync.Mutex
	var order []string
	firstRunning := make(chan struct{})
	release := make(chan struct{})

	_, err := runner.Submit(context.Background(), TypeSynthesisRun, EntityDocument, "doc-1",
		func(ctx context.Context, taskID string, progress ProgressFunc) error {
			mu.Lock()
			order = append(order, "first-start")
			mu.Unlock()
			close(firstRunning)
			<-release
			mu.Lock()
			order = append(order, "first-end")
			mu.Unlock()
			return nil
		})
	if err != nil {
		t.Fatal(err)
	}

	<-firstRunning
	_, err = runner.Submit(context.Background(), TypeSynthesisRun, EntityDocument, "doc-1",
		func(ctx context.Context, taskID string, progress ProgressFunc) error {
			mu.Lock()
			order = append(order, "second-start")
			mu.Unlock()
			return nil
		})
	if err != nil {
		t.Fatal(err)
	}

	// The second task must not start while the first holds the entity.
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	sofar := len(order)
	mu.Unlock()
	if sofar != 1 {
		t.Fatalf("second task started before first finished: %v", order)
	}

	close(release)
	runner.Wait()

	mu.Lock()
	defer mu.Unlock()
	want := []string{"first-start", "first-end", "second-start"}
	if len(order) != 3 || order[0] != want[0] || order[1] != want[1] || order[2] != want[2] {
		t.Errorf("order = %v, want %v", order, want)
	}
}

func TestRunnerParallelAcrossEntities(t *testing.T) {
	runner, _ := newTestRunner(t, nil)

	var barrier sync.WaitGroup
	barrier.Add(2)
	done := make(chan struct{})
	go func() {
		barrier.Wait()
		close(done)
	}()

	handler := func(ctx context.Context, taskID string, progress ProgressFunc) error {
		barrier.Done()
		// Both handlers must be in flight for this to return.
		select {
		case <-done:
			return nil
		case <-time.After(2 * time.Second):
			return errors.New("peer task never started")
		}
	}

	for _, doc := range []string{"doc-a", "doc-b"} {
		if _, err := runner.Submit(context.Background(), TypeSynthesisRun, EntityDocument, doc, handler); err != nil {
			t.Fatal(err)
		}
	}
	runner.Wait()

	select {
	case <-done:
	default:
		t.Error("tasks for distinct entities did not overlap")
	}
}

func TestRunnerRecordsFailure(t *testing.T) {
	runner, stub := newTestRunner(t, nil)

	_, err := runner.Submit(context.Background(), TypeSynthesisRun, EntityDocument, "doc-1",
		func(ctx context.Context, taskID string, progress ProgressFunc) error {
			return errors.New("stage 6 exploded")
		})
	if err != nil {
		t.Fatal(err)
	}
	runner.Wait()

	if stub.updatesContaining(`status: "failed"`) != 1 {
		t.Error("failure not persisted")
	}
	if stub.updatesContaining("stage 6 exploded") != 1 {
		t.Error("error message not persisted")
	}
}

func TestRunnerCancel(t *testing.T) {
	runner, stub := newTestRunner(t, nil)

	started := make(chan string, 1)
	id, err := runner.Submit(context.Background(), TypeSynthesisRun, EntityDocument, "doc-1",
		func(ctx context.Context, taskID string, progress ProgressFunc) error {
			started <- taskID
			<-ctx.Done()
			return ctx.Err()
		})
	if err != nil {
		t.Fatal(err)
	}

	<-started
	if !runner.Cancel(id) {
		t.Fatal("Cancel returned false for a running task")
	}
	runner.Wait()

	if stub.updatesContaining(`status: "cancelled"`) != 1 {
		t.Error("cancellation not persisted")
	}
	if runner.Cancel(id) {
		t.Error("Cancel returned true after completion")
	}
}

func TestRunnerPublishesProgressEvents(t *testing.T) {
	hub := events.NewHub()
	runner, _ := newTestRunner(t, hub)

	ch, cancel := hub.Subscribe("")
	defer cancel()

	_, err := runner.Submit(context.Background(), TypeChapterIndex, EntityChapter, "ch-1",
		func(ctx context.Context, taskID string, progress ProgressFunc) error {
			progress("chunking", 1, 4)
			return nil
		})
	if err != nil {
		t.Fatal(err)
	}
	runner.Wait()

	var sawProgress, sawTerminal bool
	for {
		select {
		case ev := <-ch:
			if ev.Kind == events.KindProgress && ev.Data["message"] == "chunking" {
				sawProgress = true
			}
			if ev.Kind == events.KindCompleted && ev.Data["status"] == string(StatusCompleted) {
				sawTerminal = true
			}
		default:
			if !sawProgress || !sawTerminal {
				t.Errorf("events missing: progress=%v terminal=%v", sawProgress, sawTerminal)
			}
			return
		}
	}
}

func TestStatusClosedSet(t *testing.T) {
	want := map[Status]bool{
		"queued": true, "processing": true, "completed": true,
		"failed": true, "cancelled": true,
	}
	for _, s := range []Status{StatusQueued, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled} {
		if !want[s] {
			t.Errorf("status %q outside the closed set", s)
		}
	}
}

func TestStoreParseRecord(t *testing.T) {
	record := parseRecord(map[string]any{
		"_docID":       "task-1",
		"task_type":    TypeSynthesisRun,
		"status":       "processing",
		"progress":     float64(40),
		"current_step": "stage_6",
		"total_steps":  float64(14),
		"entity_id":    "doc-1",
		"entity_type":  EntityDocument,
		"created_at":   "2025-06-01T10:00:00Z",
		"started_at":   "2025-06-01T10:00:05Z",
	})

	if record.ID != "task-1" || record.Status != StatusProcessing {
		t.Errorf("record = %+v", record)
	}
	if record.Progress != 40 || record.TotalSteps != 14 {
		t.Errorf("progress = %d/%d", record.Progress, record.TotalSteps)
	}
	if record.StartedAt == nil || record.CompletedAt != nil {
		t.Errorf("timestamps = %+v", record)
	}
}
