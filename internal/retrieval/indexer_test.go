package retrieval

import (
	"context"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/require"

	"seowriter/app/internal/corpus"
)

type indexStoreStub struct {
	rows     []corpus.RawArticle
	existing map[uint]bool
	saved    []corpus.ContentVector
	saveErr  error
}

func (s *indexStoreStub) LatestRaw(_ context.Context, limit int) ([]corpus.RawArticle, error) {
	if limit > 0 && len(s.rows) > limit {
		return s.rows[:limit], nil
	}
	return s.rows, nil
}

func (s *indexStoreStub) VectorByRawID(_ context.Context, id uint) (*corpus.ContentVector, error) {
	if s.existing[id] {
		return &corpus.ContentVector{ID: 99}, nil
	}
	return nil, nil
}

func (s *indexStoreStub) SaveVector(_ context.Context, vector *corpus.ContentVector) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, *vector)
	return nil
}

func TestIndexerEmbedsNewRowsOnly(t *testing.T) {
	t.Parallel()

	body := "<html><body><script>ignored()</script><p>" + strings.Repeat("useful words ", 20) + "</p></body></html>"
	store := &indexStoreStub{
		rows: []corpus.RawArticle{
			{ID: 1, URL: "https://1.example", Title: "one", HTML: body},
			{ID: 2, URL: "https://2.example", Title: "two", HTML: body},
			{ID: 3, URL: "https://3.example", Title: "three", HTML: "<p>tiny</p>"},
		},
		existing: map[uint]bool{2: true},
	}
	embedder := &embedderStub{vector: []float32{0.1, 0.2, 0.3}}

	indexer, err := NewIndexer(IndexerOptions{Store: store, Embedder: embedder, Model: "text-embedding-3-small", Logger: silentLogger()})
	require.NoError(t, err)

	report, err := indexer.Run(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, IndexReport{Indexed: 1, Skipped: 2}, report)

	require.Len(t, store.saved, 1)
	saved := store.saved[0]
	require.Equal(t, uint(1), *saved.RawArticleID)
	require.Equal(t, 3, saved.Dimensions)
	require.Equal(t, "text-embedding-3-small", saved.Model)
	require.NotContains(t, saved.Content, "ignored")
	require.Len(t, embedder.inputs, 1)
}

func TestIndexerCountsFailures(t *testing.T) {
	t.Parallel()

	store := &indexStoreStub{rows: []corpus.RawArticle{
		{ID: 1, Content: strings.Repeat("fallback content ", 10)},
	}}
	embedder := &embedderStub{err: eris.New("quota exceeded")}

	indexer, err := NewIndexer(IndexerOptions{Store: store, Embedder: embedder, Logger: silentLogger()})
	require.NoError(t, err)

	report, err := indexer.Run(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 1, report.Failed)
	require.Empty(t, store.saved)
}

func TestStripTagsSkipsScripts(t *testing.T) {
	t.Parallel()

	text := StripTags(`<div>Hello<script>var a = 1;</script> <b>world</b><style>p{}</style></div>`)
	require.Equal(t, "Hello world", collapseSpaces(text))
}

func TestDocumentTextTruncationLimit(t *testing.T) {
	t.Parallel()

	text := truncateRunes(strings.Repeat("x", maxIndexChars+5), maxIndexChars)
	require.Len(t, text, maxIndexChars)
}
