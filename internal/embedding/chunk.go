package embedding

import (
	"regexp"
	"strings"
)

// Chunk is a boundary-aware slice of a long chapter, embedded
// independently so retrieval can land inside the chapter.
type Chunk struct {
	Index            int       `json:"index"`
	Text             string    `json:"text"`
	CharStart        int       `json:"char_start"`
	CharEnd          int       `json:"char_end"`
	PrecedingHeading string    `json:"preceding_heading,omitempty"`
	Embedding        []float32 `json:"embedding,omitempty"`
}

const (
	// charsPerToken approximates the tokenizer for sizing decisions.
	charsPerToken = 4

	// chunkTargetTokens is the aimed-for chunk size.
	chunkTargetTokens = 1024

	// chunkOverlapTokens bounds how much of the previous chunk's tail
	// is repeated at the start of the next chunk.
	chunkOverlapTokens = 128

	chunkTargetChars  = chunkTargetTokens * charsPerToken
	chunkOverlapChars = chunkOverlapTokens * charsPerToken

	// ChunkWordThreshold: chapters at or below this word count are
	// embedded whole, with no chunks.
	ChunkWordThreshold = 4000
)

// block is a paragraph with its character offsets in the source text.
type block struct {
	text    string
	start   int
	end     int
	heading string // last markdown heading seen at or before this block
}

var headingLineRe = regexp.MustCompile(`^#{1,4}\s+(.+)$`)

// BuildChunks splits text into chunks of roughly chunkTargetTokens,
// breaking at paragraph boundaries (sentences within oversized
// paragraphs) and repeating up to chunkOverlapChars of trailing
// paragraphs into the next chunk. Each chunk carries the nearest
// preceding markdown heading as a breadcrumb.
func BuildChunks(text string) []Chunk {
	blocks := splitBlocks(text)
	if len(blocks) == 0 {
		return nil
	}

	var chunks []Chunk
	i := 0
	for i < len(blocks) {
		start := i
		size := 0
		for i < len(blocks) && (size == 0 || size+len(blocks[i].text) <= chunkTargetChars) {
			size += len(blocks[i].text)
			i++
		}

		chunk := assembleChunk(blocks[start:i])
		chunk.Index = len(chunks)
		chunks = append(chunks, chunk)

		if i >= len(blocks) {
			break
		}

		// Step back over trailing blocks that fit in the overlap
		// budget; a block bigger than the budget is never repeated.
		overlap := 0
		j := i
		for j > start+1 && overlap+len(blocks[j-1].text) <= chunkOverlapChars {
			overlap += len(blocks[j-1].text)
			j--
		}
		i = j
	}
	return chunks
}

func assembleChunk(blocks []block) Chunk {
	var sb strings.Builder
	for idx, b := range blocks {
		if idx > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(b.text)
	}
	return Chunk{
		Text:             sb.String(),
		CharStart:        blocks[0].start,
		CharEnd:          blocks[len(blocks)-1].end,
		PrecedingHeading: blocks[0].heading,
	}
}

// splitBlocks breaks text into paragraphs with offsets, splitting
// paragraphs that alone exceed the chunk target into sentences.
func splitBlocks(text string) []block {
	var blocks []block
	heading := ""
	offset := 0

	for _, para := range strings.Split(text, "\n\n") {
		start := offset
		offset += len(para) + 2 // account for the separator

		trimmed := strings.TrimSpace(para)
		if trimmed == "" {
			continue
		}
		if m := headingLineRe.FindStringSubmatch(firstLine(trimmed)); m != nil {
			heading = strings.TrimSpace(m[1])
		}

		if len(para) <= chunkTargetChars {
			blocks = append(blocks, block{text: para, start: start, end: start + len(para), heading: heading})
			continue
		}
		for _, s := range splitSentences(para) {
			blocks = append(blocks, block{
				text:    s.text,
				start:   start + s.start,
				end:     start + s.end,
				heading: heading,
			})
		}
	}
	return blocks
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

type span struct {
	text  string
	start int
	end   int
}

var sentenceEndRe = regexp.MustCompile(`[.!?]["')\]]*\s+`)

// splitSentences cuts a paragraph at sentence terminators. The final
// fragment keeps whatever trails the last terminator.
func splitSentences(para string) []span {
	var spans []span
	start := 0
	for _, loc := range sentenceEndRe.FindAllStringIndex(para, -1) {
		end := loc[1]
		spans = append(spans, span{text: para[start:end], start: start, end: end})
		start = end
	}
	if start < len(para) {
		spans = append(spans, span{text: para[start:], start: start, end: len(para)})
	}
	return spans
}
