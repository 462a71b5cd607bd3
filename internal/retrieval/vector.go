package retrieval

import (
	"context"
	"math"
	"sort"

	"github.com/rotisserie/eris"

	"seowriter/app/internal/corpus"
)

// VectorSource provides stored embeddings.
type VectorSource interface {
	Vectors(ctx context.Context) ([]corpus.ContentVector, error)
	VectorCandidates(ctx context.Context, tokens []string, limit int) ([]corpus.ContentVector, error)
}

// VectorRanker ranks stored embeddings by cosine distance to a query vector. Without an embedder
// the vector of the best keyword-matching row stands in for the query.
type VectorRanker struct {
	source   VectorSource
	embedder Embedder
}

// NewVectorRanker builds a ranker. embedder may be nil.
func NewVectorRanker(source VectorSource, embedder Embedder) (*VectorRanker, error) {
	if source == nil {
		return nil, eris.New("vector source is required")
	}
	return &VectorRanker{source: source, embedder: embedder}, nil
}

// Rank returns at most k rows ordered by ascending cosine distance.
func (r *VectorRanker) Rank(ctx context.Context, query string, tokens []string, k int) ([]Result, error) {
	queryVector, err := r.queryVector(ctx, query, tokens)
	if err != nil {
		return nil, err
	}
	if len(queryVector) == 0 {
		return []Result{}, nil
	}

	rows, err := r.source.Vectors(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "loading content vectors")
	}

	type scored struct {
		result   Result
		distance float64
	}

	ranked := make([]scored, 0, len(rows))
	for _, row := range rows {
		vector, err := row.Vector()
		if err != nil || len(vector) != len(queryVector) {
			continue
		}

		distance, ok := CosineDistance(queryVector, vector)
		if !ok {
			continue
		}

		ranked = append(ranked, scored{
			distance: distance,
			result: Result{
				ID:         row.ID,
				Title:      row.Title,
				URL:        row.URL,
				Content:    row.Content,
				Similarity: clamp01(1 - distance),
				Method:     MethodVector,
			},
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].distance < ranked[j].distance
	})

	if len(ranked) > k {
		ranked = ranked[:k]
	}

	results := make([]Result, len(ranked))
	for i, item := range ranked {
		results[i] = item.result
	}
	return results, nil
}

func (r *VectorRanker) queryVector(ctx context.Context, query string, tokens []string) ([]float32, error) {
	if r.embedder != nil {
		vector, err := r.embedder.Embed(ctx, query)
		if err != nil {
			return nil, eris.Wrap(err, "embedding query")
		}
		return vector, nil
	}

	candidates, err := r.source.VectorCandidates(ctx, tokens, defaultCandidateLimit)
	if err != nil {
		return nil, eris.Wrap(err, "loading proxy candidates")
	}

	var (
		best      *corpus.ContentVector
		bestScore float64
	)
	for i := range candidates {
		score := Overlap(tokens, candidates[i].Title+" "+candidates[i].Content)
		if score > bestScore {
			best, bestScore = &candidates[i], score
		}
	}
	if best == nil {
		return nil, nil
	}

	vector, err := best.Vector()
	if err != nil {
		return nil, err
	}
	return vector, nil
}

// CosineDistance returns 1 - cos(a, b). It reports false for mismatched or zero vectors.
func CosineDistance(a, b []float32) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0, false
	}

	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB)), true
}

func clamp01(value float64) float64 {
	switch {
	case math.IsNaN(value) || value < 0:
		return 0
	case value > 1:
		return 1
	default:
		return value
	}
}
