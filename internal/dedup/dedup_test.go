package dedup

import (
	"context"
	"testing"

	"github.com/jackzampolin/folio/internal/gateway"
	"github.com/jackzampolin/folio/internal/types"
)

func TestDedupExact(t *testing.T) {
	d := New(nil, nil)
	d.Strategy = StrategyExact

	sources := []types.Source{
		{Title: "Decompressive Craniectomy", DOI: "10.1/dc", Year: 2020},
		{Title: "decompressive craniectomy", DOI: "10.1/dc", Year: 2020},
		{Title: "Endovascular Thrombectomy", DOI: "10.1/et", Year: 2021},
	}

	out, err := d.Dedup(context.Background(), sources, gateway.CallMeta{})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("survivors = %d, want 2", len(out))
	}
	if out[0].Title != "Decompressive Craniectomy" {
		t.Errorf("survivor order changed: %s", out[0].Title)
	}
	if out[0].DuplicateCount != 1 || out[0].DedupStrategy != StrategyExact {
		t.Errorf("survivor bookkeeping = %+v", out[0])
	}
	if out[1].DuplicateCount != 0 {
		t.Errorf("unique source gained a count: %+v", out[1])
	}
}

// Three sources: (b) is an exact duplicate of (a) by identifier and
// normalized title, (c) a fuzzy duplicate by title and year. One
// survivor with both variant titles and the merged metadata.
func TestDedupFuzzyMergesMetadata(t *testing.T) {
	d := New(nil, nil)

	sources := []types.Source{
		{Title: "Management of TBI", DOI: "10.1/x", Year: 2023},
		{Title: "management of tbi", DOI: "10.1/x", Year: 2023},
		{Title: "Management of Traumatic Brain Injury", Authors: []string{"Smith", "Jones"}, Year: 2023},
	}

	out, err := d.Dedup(context.Background(), sources, gateway.CallMeta{})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Fatalf("survivors = %d, want 1", len(out))
	}

	s := out[0]
	if s.Title != "Management of TBI" || s.DOI != "10.1/x" {
		t.Errorf("survivor identity = %+v", s)
	}
	if s.DuplicateCount != 2 {
		t.Errorf("duplicate_count = %d, want 2", s.DuplicateCount)
	}
	if len(s.AlternativeTitles) != 2 ||
		s.AlternativeTitles[0] != "management of tbi" ||
		s.AlternativeTitles[1] != "Management of Traumatic Brain Injury" {
		t.Errorf("alternative_titles = %v", s.AlternativeTitles)
	}
	if s.DedupStrategy != StrategyFuzzy {
		t.Errorf("dedup_strategy = %s", s.DedupStrategy)
	}
}

func TestDedupFuzzyFillsIdentifiers(t *testing.T) {
	d := New(nil, nil)

	sources := []types.Source{
		{Title: "Awake Craniotomy Outcomes", Year: 2022, Abstract: "short"},
		{Title: "Awake Craniotomy Outcomes", Year: 2022, DOI: "10.1/ac", PMID: "123", Abstract: "a much longer abstract text"},
	}

	out, err := d.Dedup(context.Background(), sources, gateway.CallMeta{})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Fatalf("survivors = %d, want 1", len(out))
	}
	if out[0].DOI != "10.1/ac" || out[0].PMID != "123" {
		t.Errorf("identifiers not filled: %+v", out[0])
	}
	if out[0].Abstract != "a much longer abstract text" {
		t.Errorf("abstract = %q", out[0].Abstract)
	}
}

func TestDedupThresholdOneIsExactOnly(t *testing.T) {
	d := New(nil, nil)
	d.Threshold = 1.0

	sources := []types.Source{
		{Title: "Management of TBI", Year: 2023},
		{Title: "Management of Traumatic Brain Injury", Year: 2023},
		{Title: "management of tbi", Year: 2023},
	}

	out, err := d.Dedup(context.Background(), sources, gateway.CallMeta{})
	if err != nil {
		t.Fatal(err)
	}
	// Only the normalized-title hash collision merges.
	if len(out) != 2 {
		t.Fatalf("survivors = %d, want 2", len(out))
	}
}

func TestDedupIdempotent(t *testing.T) {
	for _, strategy := range []string{StrategyExact, StrategyFuzzy} {
		d := New(nil, nil)
		d.Strategy = strategy

		sources := []types.Source{
			{Title: "Management of TBI", DOI: "10.1/x", Year: 2023},
			{Title: "management of tbi", DOI: "10.1/x", Year: 2023},
			{Title: "Spinal Fusion Techniques", Year: 2019},
		}

		once, err := d.Dedup(context.Background(), sources, gateway.CallMeta{})
		if err != nil {
			t.Fatal(err)
		}
		twice, err := d.Dedup(context.Background(), once, gateway.CallMeta{})
		if err != nil {
			t.Fatal(err)
		}
		if len(twice) != len(once) {
			t.Errorf("%s: second pass changed size: %d -> %d", strategy, len(once), len(twice))
		}
		for i := range once {
			if twice[i].DuplicateCount != once[i].DuplicateCount {
				t.Errorf("%s: second pass changed counts at %d", strategy, i)
			}
		}
	}
}

func TestDedupSemantic(t *testing.T) {
	gw := gateway.NewMock()
	gw.EmbedFn = func(texts []string) [][]float32 {
		vecs := make([][]float32, len(texts))
		for i, text := range texts {
			// Identical identity text embeds identically.
			if text == texts[0] {
				vecs[i] = []float32{1, 0}
			} else {
				vecs[i] = []float32{0, 1}
			}
		}
		return vecs
	}

	d := New(gw, nil)
	d.Strategy = StrategySemantic

	sources := []types.Source{
		{Title: "Glioblastoma Management", Year: 2023, DOI: "10.1/a"},
		{Title: "Glioblastoma Management", Year: 2023, DOI: "10.1/b"},
		{Title: "Spine Trauma Review", Year: 2020},
	}

	out, err := d.Dedup(context.Background(), sources, gateway.CallMeta{DocumentID: "doc-1", Stage: "stage_4"})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("survivors = %d, want 2", len(out))
	}
	if out[0].DedupStrategy != StrategySemantic || out[0].DuplicateCount != 1 {
		t.Errorf("survivor = %+v", out[0])
	}

	if len(gw.EmbeddingCalls) != 1 {
		t.Fatalf("embedding calls = %d, want 1 batch", len(gw.EmbeddingCalls))
	}
	if got := gw.EmbeddingCalls[0].Meta.Operation; got != "source_dedup_embed" {
		t.Errorf("operation = %s", got)
	}
}

func TestDedupEmptyInput(t *testing.T) {
	out, err := New(nil, nil).Dedup(context.Background(), nil, gateway.CallMeta{})
	if err != nil || out != nil {
		t.Errorf("got %v, %v; want nil, nil", out, err)
	}
}

func TestTitleSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		min  float64
		max  float64
	}{
		{"Management of TBI", "management of tbi", 1, 1},
		{"Management of TBI", "Management of Traumatic Brain Injury", 0.8, 0.95},
		{"Glioblastoma", "Spinal Fusion", 0, 0.4},
	}
	for _, tt := range tests {
		got := titleSimilarity(tt.a, tt.b)
		if got < tt.min || got > tt.max {
			t.Errorf("titleSimilarity(%q, %q) = %v, want [%v, %v]", tt.a, tt.b, got, tt.min, tt.max)
		}
	}
}

func TestJaccard(t *testing.T) {
	tests := []struct {
		a, b []string
		want float64
	}{
		{[]string{"Smith", "Jones"}, []string{"smith", "jones"}, 1},
		{[]string{"Smith", "Jones"}, []string{"Smith", "Brown"}, 1.0 / 3.0},
		{[]string{"Smith"}, []string{"Brown"}, 0},
		{nil, nil, 0},
	}
	for _, tt := range tests {
		if got := jaccard(tt.a, tt.b); got != tt.want {
			t.Errorf("jaccard(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestYearProximity(t *testing.T) {
	tests := []struct {
		a, b int
		want float64
	}{
		{2023, 2023, 1},
		{2023, 2022, 1},
		{2023, 2021, 0.5},
		{2023, 2019, 0},
	}
	for _, tt := range tests {
		if got := yearProximity(tt.a, tt.b); got != tt.want {
			t.Errorf("yearProximity(%d, %d) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
