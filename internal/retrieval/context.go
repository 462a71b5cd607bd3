package retrieval

import (
	"fmt"
	"strings"
)

const (
	// Separator joins snippets inside a context block.
	Separator = "\n\n---\n\n"

	DefaultSnippetChars = 1000
	DefaultMaxTokens    = 6000
)

// Estimator approximates the token count of text.
type Estimator func(text string) int

// EstimateTokens assumes four characters per token, rounded up.
func EstimateTokens(text string) int {
	return (len([]rune(text)) + 3) / 4
}

// Budget bounds context assembly.
type Budget struct {
	SnippetChars int
	MaxTokens    int
	Estimator    Estimator
}

func (b Budget) withDefaults() Budget {
	if b.SnippetChars <= 0 {
		b.SnippetChars = DefaultSnippetChars
	}
	if b.MaxTokens <= 0 {
		b.MaxTokens = DefaultMaxTokens
	}
	if b.Estimator == nil {
		b.Estimator = EstimateTokens
	}
	return b
}

// Source identifies a snippet that made it into a context block.
type Source struct {
	Title      string  `json:"title"`
	URL        string  `json:"url"`
	Similarity float64 `json:"similarity"`
}

// Context is an assembled block of reference material.
type Context struct {
	Text     string   `json:"contextText"`
	Snippets []string `json:"-"`
	Sources  []Source `json:"sources"`
}

// Snippet formats one result, cutting its content to limit characters.
func Snippet(result Result, limit int) string {
	content := strings.TrimSpace(result.Content)
	runes := []rune(content)
	if limit > 0 && len(runes) > limit {
		content = string(runes[:limit]) + "..."
	}
	return fmt.Sprintf("Title: %s\nURL: %s\nContent: %s", result.Title, result.URL, content)
}

// BuildContext appends snippets in ranked order until the next one would push the estimated
// token total past the budget.
func BuildContext(results []Result, budget Budget) Context {
	budget = budget.withDefaults()

	out := Context{Snippets: []string{}, Sources: []Source{}}
	used := 0
	for _, result := range results {
		snippet := Snippet(result, budget.SnippetChars)
		cost := budget.Estimator(snippet)
		if used+cost > budget.MaxTokens {
			break
		}

		used += cost
		out.Snippets = append(out.Snippets, snippet)
		out.Sources = append(out.Sources, Source{Title: result.Title, URL: result.URL, Similarity: result.Similarity})
	}

	out.Text = strings.Join(out.Snippets, Separator)
	return out
}
