package dedup

import (
	"sort"
	"strings"

	"github.com/jackzampolin/folio/internal/types"
)

// Fuzzy similarity weights.
const (
	weightTitle   = 0.6
	weightAuthors = 0.3
	weightYear    = 0.1
)

// fuzzyScore is the weighted similarity of two sources. Components
// whose inputs are missing on either side (authors, year) drop out and
// the remaining weights are renormalized, so sparse records are judged
// on what they do carry.
func fuzzyScore(a, b types.Source) float64 {
	score := weightTitle * titleSimilarity(a.Title, b.Title)
	weight := weightTitle

	if len(a.Authors) > 0 && len(b.Authors) > 0 {
		score += weightAuthors * jaccard(a.Authors, b.Authors)
		weight += weightAuthors
	}
	if a.Year > 0 && b.Year > 0 {
		score += weightYear * yearProximity(a.Year, b.Year)
		weight += weightYear
	}
	return score / weight
}

// titleSimilarity compares normalized titles by character sequence and
// by token set, taking the better of the two. The token-set pass keeps
// reorderings and abbreviated forms comparable.
func titleSimilarity(a, b string) float64 {
	na, nb := normalizeTitle(a), normalizeTitle(b)
	if na == nb {
		return 1
	}
	sim := seqRatio(na, nb)
	if ts := tokenSetRatio(na, nb); ts > sim {
		sim = ts
	}
	return sim
}

// normalizeTitle lowercases, strips punctuation, and collapses
// whitespace.
func normalizeTitle(title string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		default:
			sb.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}

// seqRatio is 2·M/(len(a)+len(b)) where M is the total length of the
// matching blocks found by recursive longest-common-substring.
func seqRatio(a, b string) float64 {
	if len(a)+len(b) == 0 {
		return 1
	}
	m := matchingChars(a, b)
	return 2 * float64(m) / float64(len(a)+len(b))
}

func matchingChars(a, b string) int {
	if a == "" || b == "" {
		return 0
	}

	// Longest common substring via rolling DP row.
	best, bestA, bestB := 0, 0, 0
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
				if cur[j] > best {
					best, bestA, bestB = cur[j], i-cur[j], j-cur[j]
				}
			} else {
				cur[j] = 0
			}
		}
		prev, cur = cur, prev
	}
	if best == 0 {
		return 0
	}

	return best +
		matchingChars(a[:bestA], b[:bestB]) +
		matchingChars(a[bestA+best:], b[bestB+best:])
}

// tokenSetRatio builds the shared-token prefix strings and returns the
// best pairwise seqRatio among them.
func tokenSetRatio(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)

	var shared, onlyA, onlyB []string
	for tok := range setA {
		if setB[tok] {
			shared = append(shared, tok)
		} else {
			onlyA = append(onlyA, tok)
		}
	}
	for tok := range setB {
		if !setA[tok] {
			onlyB = append(onlyB, tok)
		}
	}
	sort.Strings(shared)
	sort.Strings(onlyA)
	sort.Strings(onlyB)

	base := strings.Join(shared, " ")
	full1 := strings.TrimSpace(base + " " + strings.Join(onlyA, " "))
	full2 := strings.TrimSpace(base + " " + strings.Join(onlyB, " "))

	best := seqRatio(base, full1)
	if r := seqRatio(base, full2); r > best {
		best = r
	}
	if r := seqRatio(full1, full2); r > best {
		best = r
	}
	return best
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(s) {
		set[tok] = true
	}
	return set
}

// jaccard is the intersection-over-union of two author sets, compared
// case-insensitively.
func jaccard(a, b []string) float64 {
	setA := make(map[string]bool, len(a))
	for _, s := range a {
		setA[strings.ToLower(strings.TrimSpace(s))] = true
	}
	setB := make(map[string]bool, len(b))
	for _, s := range b {
		setB[strings.ToLower(strings.TrimSpace(s))] = true
	}

	inter := 0
	for s := range setA {
		if setB[s] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// yearProximity scores publication-year closeness.
func yearProximity(a, b int) float64 {
	delta := a - b
	if delta < 0 {
		delta = -delta
	}
	switch {
	case delta <= 1:
		return 1
	case delta <= 2:
		return 0.5
	default:
		return 0
	}
}
