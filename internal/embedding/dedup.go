package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/folio/internal/ingest"
)

// DuplicateThreshold is the cosine similarity above which two chapters
// are considered the same content. Strictly greater-than.
const DuplicateThreshold = 0.95

// ScanForDuplicates compares a freshly embedded chapter against the
// rest of the corpus. Chapters above DuplicateThreshold join a shared
// duplicate group; the member with the highest preference score keeps
// is_duplicate=false and everyone else points at it.
func (p *Pipeline) ScanForDuplicates(ctx context.Context, chapterID string) error {
	ch, err := p.store.Get(ctx, chapterID)
	if err != nil {
		return err
	}
	if len(ch.Embedding) == 0 {
		return fmt.Errorf("chapter %s has no embedding", chapterID)
	}

	corpus, err := p.store.ListEmbedded(ctx)
	if err != nil {
		return err
	}

	group := []Chapter{*ch}
	inGroup := map[string]bool{ch.ID: true}
	maxSim := 0.0
	groupID := ""
	for _, other := range corpus {
		if other.ID == ch.ID {
			continue
		}
		sim := Cosine(ch.Embedding, other.Embedding)
		if sim > DuplicateThreshold {
			group = append(group, other)
			inGroup[other.ID] = true
			if sim > maxSim {
				maxSim = sim
			}
			// Reuse an existing group id so repeated scans converge.
			if groupID == "" && other.DuplicateGroupID != "" {
				groupID = other.DuplicateGroupID
			}
		}
	}

	if len(group) == 1 {
		return nil // no duplicates found
	}
	if groupID == "" {
		groupID = uuid.New().String()
	}

	// When the new chapter joins an existing group, pull in every member
	// already carrying that group id. They may sit below the threshold
	// relative to the new chapter, but the winner must be re-elected over
	// the whole group or the old winner would keep is_duplicate=false
	// alongside the new one.
	for _, other := range corpus {
		if other.DuplicateGroupID == groupID && !inGroup[other.ID] {
			group = append(group, other)
			inGroup[other.ID] = true
		}
	}

	winner := ""
	best := -1.0
	scores := make(map[string]float64, len(group))
	for _, member := range group {
		kind, err := p.store.BookKind(ctx, member.BookID)
		if err != nil {
			kind = ingest.KindTextbook
		}
		score := PreferenceScore(member, kind, maxSim)
		scores[member.ID] = score
		if score > best {
			best = score
			winner = member.ID
		}
	}

	for _, member := range group {
		isDup := member.ID != winner
		if err := p.store.SaveDuplicateFlags(ctx, member.ID, groupID, winner, isDup, scores[member.ID]); err != nil {
			return fmt.Errorf("failed to flag chapter %s: %w", member.ID, err)
		}
	}

	p.logger.Info("duplicate group resolved",
		"chapter_id", chapterID,
		"group_id", groupID,
		"members", len(group),
		"winner", winner,
	)
	return nil
}

// Preference weights. Standalone documents outrank textbook chapters,
// which outrank papers; longer, higher-quality, and newer chapters win
// ties within a kind.
const (
	prefKindStandalone = 30.0
	prefKindTextbook   = 20.0
	prefKindPaper      = 10.0
)

// PreferenceScore ranks a chapter within its duplicate group.
// Unbounded positive; higher wins.
func PreferenceScore(ch Chapter, bookKind string, confidence float64) float64 {
	score := prefKindPaper
	switch bookKind {
	case ingest.KindStandalone:
		score = prefKindStandalone
	case ingest.KindTextbook:
		score = prefKindTextbook
	}

	// Up to 10 points for length, saturating at 10k words.
	words := float64(ch.WordCount) / 1000
	if words > 10 {
		words = 10
	}
	score += words

	// Quality score contributes up to 5 points.
	score += ch.QualityScore * 5

	// Recency: newer ingests are preferred within a kind.
	if !ch.CreatedAt.IsZero() {
		age := time.Since(ch.CreatedAt)
		switch {
		case age < 365*24*time.Hour:
			score += 2
		case age < 3*365*24*time.Hour:
			score += 1
		}
	}

	// Detection confidence nudges near-ties.
	score += confidence
	return score
}
