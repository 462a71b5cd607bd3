package retrieval

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"

	"seowriter/app/internal/corpus"
)

// RawSource provides keyword-filtered cached pages.
type RawSource interface {
	RawCandidates(ctx context.Context, tokens []string, limit int) ([]corpus.RawArticle, error)
}

const defaultCandidateLimit = 500

// KeywordRanker scores cached pages by the fraction of query tokens they contain.
type KeywordRanker struct {
	source         RawSource
	candidateLimit int
}

// NewKeywordRanker builds a ranker over source. candidateLimit bounds the rows scored per query.
func NewKeywordRanker(source RawSource, candidateLimit int) (*KeywordRanker, error) {
	if source == nil {
		return nil, eris.New("raw source is required")
	}
	if candidateLimit <= 0 {
		candidateLimit = defaultCandidateLimit
	}
	return &KeywordRanker{source: source, candidateLimit: candidateLimit}, nil
}

// Rank returns at most k pages sorted by score, ties kept in row order.
func (r *KeywordRanker) Rank(ctx context.Context, _ string, tokens []string, k int) ([]Result, error) {
	if len(tokens) == 0 {
		return []Result{}, nil
	}

	rows, err := r.source.RawCandidates(ctx, tokens, r.candidateLimit)
	if err != nil {
		return nil, eris.Wrap(err, "loading keyword candidates")
	}

	results := make([]Result, 0, len(rows))
	for _, row := range rows {
		score := Overlap(tokens, row.Title+" "+row.Content)
		if score <= 0 {
			continue
		}
		results = append(results, Result{
			ID:         row.ID,
			Title:      row.Title,
			URL:        row.URL,
			Content:    row.Content,
			Similarity: score,
			Method:     MethodKeyword,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})

	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}
