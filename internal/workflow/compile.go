package workflow

import (
	"strings"

	"seowriter/app/internal/article"
)

const (
	blockSeparator = "\n\n"
	sectionPrefix  = "## "
)

// Compile assembles the final markdown document: the title, the introduction, every section in
// outline order under its heading and the conclusion, separated by blank lines.
func Compile(outline *article.Outline, content map[string]string) string {
	if outline == nil {
		return ""
	}

	parts := []string{"# " + strings.TrimSpace(outline.Title)}
	if intro := strings.TrimSpace(outline.Introduction); intro != "" {
		parts = append(parts, intro)
	}

	for _, section := range outline.Sections {
		block := sectionPrefix + strings.TrimSpace(section.Heading)
		if body := strings.TrimSpace(content[section.Heading]); body != "" {
			block += blockSeparator + body
		}
		parts = append(parts, block)
	}

	if conclusion := strings.TrimSpace(outline.Conclusion); conclusion != "" {
		parts = append(parts, conclusion)
	}

	return strings.Join(parts, blockSeparator)
}

// SplitSections recovers the section bodies of a document produced by Compile, keyed by the
// outline headings exactly as Compile looked them up. Sections whose heading cannot be located
// are absent from the result.
func SplitSections(compiled string, outline *article.Outline) map[string]string {
	sections := make(map[string]string)
	if outline == nil {
		return sections
	}

	rest := strings.TrimSpace(compiled)
	if conclusion := strings.TrimSpace(outline.Conclusion); conclusion != "" {
		rest = strings.TrimSpace(strings.TrimSuffix(rest, conclusion))
	}

	type located struct {
		key   string
		start int
		body  int
	}

	found := make([]located, 0, len(outline.Sections))
	cursor := 0
	for _, section := range outline.Sections {
		marker := blockSeparator + sectionPrefix + strings.TrimSpace(section.Heading)
		offset := indexMarker(rest[cursor:], marker)
		if offset < 0 {
			continue
		}
		start := cursor + offset
		body := start + len(marker)
		found = append(found, located{key: section.Heading, start: start, body: body})
		cursor = body
	}

	for i, section := range found {
		end := len(rest)
		if i+1 < len(found) {
			end = found[i+1].start
		}
		sections[section.key] = strings.TrimSpace(rest[section.body:end])
	}

	return sections
}

// indexMarker finds marker only where it occupies a whole line.
func indexMarker(text, marker string) int {
	offset := 0
	for {
		idx := strings.Index(text[offset:], marker)
		if idx < 0 {
			return -1
		}
		end := offset + idx + len(marker)
		if end == len(text) || text[end] == '\n' {
			return offset + idx
		}
		offset = end
	}
}

// WordCount counts whitespace separated tokens.
func WordCount(text string) int {
	return len(strings.Fields(text))
}
