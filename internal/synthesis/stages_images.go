package synthesis

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackzampolin/folio/internal/gateway"
	"github.com/jackzampolin/folio/internal/types"
)

const (
	maxImagesPerSection    = 3
	maxImagesPerSubsection = 2
	imageScoreFloor        = 0.1
	imageContentWindow     = 200
)

// sectionTypeImageBonus rewards figures in section types that usually
// carry them.
var sectionTypeImageBonus = map[types.SectionType]float64{
	types.SectionType("surgical_technique"):    0.3,
	types.SectionType("pathophysiology"):       0.2,
	types.SectionType("diagnostic_evaluation"): 0.2,
	types.SectionType("clinical_presentation"): 0.1,
}

// stageImages places discovered figures into sections by keyword
// affinity and captions them. Each image is used at most once.
func (o *Orchestrator) stageImages(ctx context.Context, doc *Document, state *runState, meta gateway.CallMeta) (any, error) {
	if len(state.Internal.Images) == 0 || len(state.Sections) == 0 {
		return state.Sections, nil
	}

	used := map[string]bool{}
	for i := range state.Sections {
		state.Sections[i].Walk(1, func(sec *types.Section, depth int) {
			limit := maxImagesPerSection
			if depth > 1 {
				limit = maxImagesPerSubsection
			}
			sec.Images = o.placeImages(ctx, doc, sec, limit, state.Internal.Images, used, meta)
		})
	}

	if err := o.deps.Documents.SaveSections(ctx, doc.ID, state.Sections); err != nil {
		return nil, err
	}
	return state.Sections, nil
}

// placeImages scores unused candidates against the section and keeps
// the best up to limit.
func (o *Orchestrator) placeImages(ctx context.Context, doc *Document, sec *types.Section, limit int, candidates []ImageRef, used map[string]bool, meta gateway.CallMeta) []types.ImagePlacement {
	sectionTerms := imageTerms(sec)
	if len(sectionTerms) == 0 {
		return nil
	}

	type scored struct {
		img   ImageRef
		score float64
	}
	var ranked []scored
	for _, img := range candidates {
		if used[img.ID] {
			continue
		}
		score := keywordOverlap(img.Keywords, sectionTerms)
		score += sectionTypeImageBonus[sec.SectionType]
		if score >= imageScoreFloor {
			ranked = append(ranked, scored{img: img, score: score})
		}
	}
	if len(ranked) == 0 {
		return nil
	}
	sort.SliceStable(ranked, func(a, b int) bool { return ranked[a].score > ranked[b].score })
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	placements := make([]types.ImagePlacement, 0, len(ranked))
	for _, r := range ranked {
		used[r.img.ID] = true
		placements = append(placements, types.ImagePlacement{
			ImageID:        r.img.ID,
			Caption:        o.captionImage(ctx, doc, sec, r.img, meta),
			RelevanceScore: r.score,
		})
	}
	return placements
}

// captionImage asks the model for a one-sentence figure caption. A
// failed caption falls back to the section title.
func (o *Orchestrator) captionImage(ctx context.Context, doc *Document, sec *types.Section, img ImageRef, meta gateway.CallMeta) string {
	meta.Operation = "image_caption"
	res, err := o.deps.Gateway.GenerateText(ctx, types.TaskVision, &gateway.TextRequest{
		System: "Write a single-sentence scholarly figure caption. No preamble.",
		Prompt: fmt.Sprintf("Document topic: %s\nSection: %s\nFigure keywords: %s",
			doc.Topic, sec.Title, strings.Join(img.Keywords, ", ")),
		Meta: meta,
	})
	if err != nil || strings.TrimSpace(res.Content) == "" {
		o.logger.Warn("caption generation failed", "image", img.ID, "error", err)
		return fmt.Sprintf("Figure: %s", sec.Title)
	}
	return strings.TrimSpace(res.Content)
}

// imageTerms collects the match vocabulary for a section: its title
// plus the opening words of its content.
func imageTerms(sec *types.Section) map[string]bool {
	terms := map[string]bool{}
	add := func(text string) {
		for _, w := range strings.Fields(strings.ToLower(text)) {
			w = strings.Trim(w, ".,;:()[]")
			if len(w) > 3 {
				terms[w] = true
			}
		}
	}
	add(sec.Title)
	words := strings.Fields(sec.Content)
	if len(words) > imageContentWindow {
		words = words[:imageContentWindow]
	}
	add(strings.Join(words, " "))
	return terms
}

// keywordOverlap is the fraction of image keywords present in the
// section vocabulary.
func keywordOverlap(keywords []string, terms map[string]bool) float64 {
	if len(keywords) == 0 {
		return 0
	}
	hits := 0
	for _, kw := range keywords {
		for _, w := range strings.Fields(strings.ToLower(kw)) {
			if terms[w] {
				hits++
				break
			}
		}
	}
	return float64(hits) / float64(len(keywords))
}
