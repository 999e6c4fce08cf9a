package types

// Source is a uniform evidence record: an indexed chapter, an external
// literature entry, or an AI-researched item. Sources are value objects
// copied into stage blobs; they do not own the chapter they derive from.
type Source struct {
	ID         string     `json:"id,omitempty"`
	Title      string     `json:"title"`
	Authors    []string   `json:"authors,omitempty"`
	Year       int        `json:"year,omitempty"`
	Journal    string     `json:"journal,omitempty"`
	DOI        string     `json:"doi,omitempty"`
	PMID       string     `json:"pmid,omitempty"`
	URL        string     `json:"url,omitempty"`
	Abstract   string     `json:"abstract,omitempty"`
	SourceType SourceType `json:"source_type"`

	// ChapterID links an internal source back to its indexed chapter.
	ChapterID string `json:"chapter_id,omitempty"`

	// Scores. SimilarityScore is lexical/vector hybrid from retrieval;
	// RelevanceScore is model-assigned by the relevance filter.
	SimilarityScore float64 `json:"similarity_score,omitempty"`
	RelevanceScore  float64 `json:"relevance_score,omitempty"`

	Embedding []float32 `json:"embedding,omitempty"`

	// Deduplication bookkeeping.
	DedupHash         string   `json:"dedup_hash,omitempty"`
	IsDuplicate       bool     `json:"is_duplicate,omitempty"`
	DuplicateOf       string   `json:"duplicate_of,omitempty"`
	DuplicateCount    int      `json:"duplicate_count,omitempty"`
	AlternativeTitles []string `json:"alternative_titles,omitempty"`
	DedupStrategy     string   `json:"dedup_strategy,omitempty"`
}

// Reference is a numbered citation derived from a Source.
type Reference struct {
	Number     int        `json:"number"`
	Title      string     `json:"title"`
	Authors    []string   `json:"authors,omitempty"`
	Year       int        `json:"year,omitempty"`
	Journal    string     `json:"journal,omitempty"`
	DOI        string     `json:"doi,omitempty"`
	PMID       string     `json:"pmid,omitempty"`
	URL        string     `json:"url,omitempty"`
	SourceType SourceType `json:"source_type"`
}

// ReferenceFromSource builds a numbered reference from a source record.
func ReferenceFromSource(num int, src Source) Reference {
	return Reference{
		Number:     num,
		Title:      src.Title,
		Authors:    src.Authors,
		Year:       src.Year,
		Journal:    src.Journal,
		DOI:        src.DOI,
		PMID:       src.PMID,
		URL:        src.URL,
		SourceType: src.SourceType,
	}
}
