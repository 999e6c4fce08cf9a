package types

import "strings"

// MaxSectionDepth bounds section nesting. A top-level section is depth 1.
const MaxSectionDepth = 4

// ImagePlacement attaches an ingested image to a section.
type ImagePlacement struct {
	ImageID        string  `json:"image_id"`
	Caption        string  `json:"caption,omitempty"`
	RelevanceScore float64 `json:"relevance_score"`
}

// Section is one ordered, possibly nested component of a Document.
// Subsections reuse the same record; the tree is bounded at MaxSectionDepth.
type Section struct {
	Index           int              `json:"index"`
	Title           string           `json:"title"`
	SectionType     SectionType      `json:"section_type"`
	Content         string           `json:"content"`
	WordCount       int              `json:"word_count"`
	Subsections     []Section        `json:"subsections,omitempty"`
	Images          []ImagePlacement `json:"images,omitempty"`
	SourceIDs       []string         `json:"source_ids,omitempty"`
	GenerationError string           `json:"generation_error,omitempty"`
}

// SetContent assigns content and recomputes the word count.
func (s *Section) SetContent(content string) {
	s.Content = content
	s.WordCount = len(strings.Fields(content))
}

// TotalWords returns the word count of the section and all descendants.
func (s *Section) TotalWords() int {
	total := s.WordCount
	for i := range s.Subsections {
		total += s.Subsections[i].TotalWords()
	}
	return total
}

// Depth returns the depth of the deepest subtree rooted at s.
func (s *Section) Depth() int {
	max := 1
	for i := range s.Subsections {
		if d := 1 + s.Subsections[i].Depth(); d > max {
			max = d
		}
	}
	return max
}

// Walk visits s and every descendant in document order.
// The callback receives the section and its depth (root = 1).
func (s *Section) Walk(depth int, fn func(sec *Section, depth int)) {
	fn(s, depth)
	for i := range s.Subsections {
		s.Subsections[i].Walk(depth+1, fn)
	}
}

// TotalSectionWords sums word counts across a section forest.
func TotalSectionWords(sections []Section) int {
	total := 0
	for i := range sections {
		total += sections[i].TotalWords()
	}
	return total
}
