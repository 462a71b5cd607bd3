package scrape

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
	"github.com/rotisserie/eris"
)

const (
	// MaxContentChars bounds the extracted text kept per page.
	MaxContentChars = 3000
	// MinContentChars is the shortest extracted text worth keeping.
	MinContentChars = 200
)

// DefaultSelectors lists the main-content containers in priority order.
var DefaultSelectors = []string{
	"main",
	"article",
	`[role="main"]`,
	".content",
	".post-content",
	".entry-content",
	".article-content",
	".main-content",
}

const noiseSelector = "script, style, nav, header, footer, .nav, .navigation, .sidebar, .ad, .advertisement, .comments"

var whitespace = regexp.MustCompile(`\s+`)

// ExtractContent returns the page's main text. The first selector whose text is longer than
// MinContentChars wins, otherwise the body text is used. The result is whitespace collapsed and
// cut to MaxContentChars.
func ExtractContent(htmlContent string, selectors []string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return "", eris.Wrap(err, "parsing html")
	}

	doc.Find(noiseSelector).Remove()

	if len(selectors) == 0 {
		selectors = DefaultSelectors
	}

	for _, selector := range selectors {
		selection := doc.Find(selector)
		if selection.Length() == 0 {
			continue
		}
		text := collapse(selection.Text())
		if len([]rune(text)) > MinContentChars {
			return truncate(text, MaxContentChars), nil
		}
	}

	return truncate(collapse(doc.Find("body").Text()), MaxContentChars), nil
}

// ExtractTitle finds a page title with readability, falling back to the title and h1 tags.
func ExtractTitle(htmlContent string) string {
	if parsed, err := readability.FromReader(strings.NewReader(htmlContent), nil); err == nil {
		if title := strings.TrimSpace(parsed.Title); title != "" {
			return title
		}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return ""
	}

	if title := collapse(doc.Find("title").First().Text()); title != "" {
		return title
	}
	if title, ok := doc.Find("meta[property='og:title']").Attr("content"); ok && strings.TrimSpace(title) != "" {
		return strings.TrimSpace(title)
	}
	return collapse(doc.Find("h1").First().Text())
}

func collapse(value string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(value, " "))
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}
