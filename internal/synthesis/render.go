package synthesis

import (
	"fmt"
	"strings"

	"github.com/jackzampolin/folio/internal/types"
)

// Slugify turns a heading into a GitHub-style anchor.
func Slugify(title string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(title)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteByte('-')
		}
	}
	return strings.Trim(b.String(), "-")
}

// renderTOC builds a nested markdown table of contents with anchor
// links.
func renderTOC(sections []types.Section) string {
	var b strings.Builder
	for i := range sections {
		sections[i].Walk(1, func(sec *types.Section, depth int) {
			if strings.TrimSpace(sec.Title) == "" {
				return
			}
			fmt.Fprintf(&b, "%s- [%s](#%s)\n",
				strings.Repeat("  ", depth-1), sec.Title, Slugify(sec.Title))
		})
	}
	return b.String()
}

// normalizeContent collapses runs of blank lines, trims trailing
// whitespace, and tightens citation markers like "[ 1 , 2 ]" to
// "[1,2]".
func normalizeContent(content string) string {
	lines := strings.Split(content, "\n")
	var out []string
	blanks := 0
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if strings.TrimSpace(line) == "" {
			blanks++
			if blanks > 1 {
				continue
			}
			out = append(out, "")
			continue
		}
		blanks = 0
		out = append(out, line)
	}
	text := strings.TrimSpace(strings.Join(out, "\n"))
	return tightenCitations(text)
}

func tightenCitations(text string) string {
	return citationMarker.ReplaceAllStringFunc(text, func(m string) string {
		inner := strings.Trim(m, "[]")
		parts := strings.Split(inner, ",")
		for i, p := range parts {
			parts[i] = strings.TrimSpace(p)
		}
		return "[" + strings.Join(parts, ",") + "]"
	})
}

// RenderMarkdown produces the full document export: title, table of
// contents, section tree with depth-scaled headings, figure
// placeholders, and the numbered bibliography.
func RenderMarkdown(doc *Document) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", doc.Topic)

	if toc := renderTOC(doc.Sections); toc != "" {
		b.WriteString("## Contents\n\n")
		b.WriteString(toc)
		b.WriteString("\n")
	}

	for i := range doc.Sections {
		doc.Sections[i].Walk(1, func(sec *types.Section, depth int) {
			// Top-level sections are H2; depth is capped so headings
			// never run past H6.
			level := depth + 1
			if level > 6 {
				level = 6
			}
			fmt.Fprintf(&b, "%s %s\n\n", strings.Repeat("#", level), sec.Title)
			if sec.Content != "" {
				b.WriteString(sec.Content)
				b.WriteString("\n\n")
			}
			for _, img := range sec.Images {
				fmt.Fprintf(&b, "![%s](image://%s)\n\n", img.Caption, img.ImageID)
			}
		})
	}

	if len(doc.References) > 0 {
		b.WriteString("## References\n\n")
		for _, ref := range doc.References {
			fmt.Fprintf(&b, "%d. %s\n", ref.Number, FormatReference(ref))
		}
	}
	return b.String()
}

// FormatReference renders one bibliography entry.
func FormatReference(ref types.Reference) string {
	var parts []string
	if len(ref.Authors) > 0 {
		authors := strings.Join(ref.Authors, ", ")
		if len(ref.Authors) > 3 {
			authors = strings.Join(ref.Authors[:3], ", ") + " et al."
		}
		parts = append(parts, authors+".")
	}
	parts = append(parts, ref.Title+".")
	if ref.Journal != "" {
		parts = append(parts, ref.Journal+".")
	}
	if ref.Year > 0 {
		parts = append(parts, fmt.Sprintf("%d.", ref.Year))
	}
	if ref.DOI != "" {
		parts = append(parts, "doi:"+ref.DOI)
	} else if ref.PMID != "" {
		parts = append(parts, "PMID:"+ref.PMID)
	} else if ref.URL != "" {
		parts = append(parts, ref.URL)
	}
	return strings.Join(parts, " ")
}
