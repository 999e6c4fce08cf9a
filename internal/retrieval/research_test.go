package retrieval

import (
	"context"
	"testing"

	"github.com/jackzampolin/folio/internal/gateway"
	"github.com/jackzampolin/folio/internal/types"
)

func TestParseResearchAnswer(t *testing.T) {
	answer := `Here are the key publications:

- Management of Glioblastoma (2023) — CA Cancer J Clin
* Stupp Protocol Revisited (2021) — NEJM
1. Awake Craniotomy Outcomes (2022) — J Neurosurg
2) Tumor Treating Fields (2024)

Some closing commentary that is not a reference.`

	sources := parseResearchAnswer(answer)
	if len(sources) != 4 {
		t.Fatalf("sources = %d, want 4", len(sources))
	}

	if sources[0].Title != "Management of Glioblastoma" || sources[0].Year != 2023 {
		t.Errorf("source 0 = %+v", sources[0])
	}
	if sources[0].Journal != "CA Cancer J Clin" {
		t.Errorf("journal = %q", sources[0].Journal)
	}
	if sources[3].Title != "Tumor Treating Fields" || sources[3].Journal != "" {
		t.Errorf("source 3 = %+v", sources[3])
	}
	for i, src := range sources {
		if src.SourceType != types.SourceAIResearch {
			t.Errorf("source %d type = %s", i, src.SourceType)
		}
	}
}

func TestResearchUsesWebGrounding(t *testing.T) {
	gw := gateway.NewMock()
	gw.QueueText(types.TaskSummarization,
		"- First Paper (2023) — Journal A\n- Second Paper (2022) — Journal B")

	r := NewAIResearcher(gw)
	sources, err := r.Research(context.Background(), "glioblastoma", "doc-1")
	if err != nil {
		t.Fatalf("Research failed: %v", err)
	}

	if len(sources) != 2 {
		t.Fatalf("sources = %d, want 2", len(sources))
	}
	if len(gw.TextCalls) != 1 {
		t.Fatalf("text calls = %d", len(gw.TextCalls))
	}
	req := gw.TextCalls[0]
	if !req.WebSearch {
		t.Error("web grounding not requested")
	}
	if req.Meta.DocumentID != "doc-1" || req.Meta.Stage != "stage_4" {
		t.Errorf("meta = %+v", req.Meta)
	}
}
