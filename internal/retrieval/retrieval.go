// Package retrieval ranks cached competitor pages against a query and assembles the winning
// snippets into prompt context.
package retrieval

import (
	"context"
	"strings"
)

const (
	// DefaultK is the number of results returned when the caller does not ask for a size.
	DefaultK = 7
	// MaxK caps any requested result size.
	MaxK = 50

	MethodVector  = "vector"
	MethodKeyword = "keyword"
)

// Result is one ranked snippet.
type Result struct {
	ID         uint    `json:"id"`
	Title      string  `json:"title"`
	URL        string  `json:"url"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
	Method     string  `json:"method"`
}

// Ranker orders stored content against a tokenized query.
type Ranker interface {
	Rank(ctx context.Context, query string, tokens []string, k int) ([]Result, error)
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Tokenize lowercases and splits the query on whitespace, keeping distinct words longer than
// two characters in their original order.
func Tokenize(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	tokens := make([]string, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))

	for _, field := range fields {
		if len([]rune(field)) <= 2 {
			continue
		}
		if _, dup := seen[field]; dup {
			continue
		}
		seen[field] = struct{}{}
		tokens = append(tokens, field)
	}

	return tokens
}

// Overlap returns the fraction of tokens contained in text.
func Overlap(tokens []string, text string) float64 {
	if len(tokens) == 0 {
		return 0
	}

	haystack := strings.ToLower(text)
	matched := 0
	for _, token := range tokens {
		if strings.Contains(haystack, token) {
			matched++
		}
	}

	return float64(matched) / float64(len(tokens))
}

func clampK(k int) int {
	switch {
	case k <= 0:
		return DefaultK
	case k > MaxK:
		return MaxK
	default:
		return k
	}
}
