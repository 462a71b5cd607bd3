package retrieval

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/html"

	"seowriter/app/internal/corpus"
)

const (
	minIndexChars = 50
	maxIndexChars = 8000
)

// IndexStore is the corpus surface the indexer reads and writes.
type IndexStore interface {
	LatestRaw(ctx context.Context, limit int) ([]corpus.RawArticle, error)
	VectorByRawID(ctx context.Context, rawID uint) (*corpus.ContentVector, error)
	SaveVector(ctx context.Context, vector *corpus.ContentVector) error
}

// IndexerOptions configures an Indexer.
type IndexerOptions struct {
	Store    IndexStore
	Embedder Embedder
	Model    string
	Logger   *logrus.Logger
	// Pause is waited between embedding calls.
	Pause time.Duration
}

// Indexer embeds cached pages that do not have a content vector yet.
type Indexer struct {
	store    IndexStore
	embedder Embedder
	model    string
	logger   *logrus.Logger
	pause    time.Duration
}

// IndexReport summarises one indexing run.
type IndexReport struct {
	Indexed int
	Skipped int
	Failed  int
}

// NewIndexer validates opts.
func NewIndexer(opts IndexerOptions) (*Indexer, error) {
	if opts.Store == nil {
		return nil, eris.New("index store is required")
	}
	if opts.Embedder == nil {
		return nil, eris.New("embedder is required")
	}
	if opts.Pause < 0 {
		return nil, eris.New("pause must not be negative")
	}

	return &Indexer{
		store:    opts.Store,
		embedder: opts.Embedder,
		model:    strings.TrimSpace(opts.Model),
		logger:   opts.Logger,
		pause:    opts.Pause,
	}, nil
}

// Run indexes up to limit of the most recently fetched pages.
func (x *Indexer) Run(ctx context.Context, limit int) (IndexReport, error) {
	var report IndexReport

	rows, err := x.store.LatestRaw(ctx, limit)
	if err != nil {
		return report, eris.Wrap(err, "loading raw articles")
	}

	embedded := 0
	for _, row := range rows {
		fields := logrus.Fields{"raw_article_id": row.ID, "url": row.URL}

		existing, err := x.store.VectorByRawID(ctx, row.ID)
		if err != nil {
			return report, eris.Wrapf(err, "checking vector for raw article %d", row.ID)
		}
		if existing != nil {
			report.Skipped++
			continue
		}

		text := DocumentText(row)
		if len([]rune(text)) < minIndexChars {
			x.log(fields).Debug("content too short to index")
			report.Skipped++
			continue
		}
		text = truncateRunes(text, maxIndexChars)

		if embedded > 0 && x.pause > 0 {
			timer := time.NewTimer(x.pause)
			select {
			case <-ctx.Done():
				timer.Stop()
				return report, eris.Wrap(ctx.Err(), "indexing interrupted")
			case <-timer.C:
			}
		}
		embedded++

		vector, err := x.embedder.Embed(ctx, text)
		if err != nil {
			if ctx.Err() != nil {
				return report, eris.Wrap(ctx.Err(), "indexing interrupted")
			}
			x.log(fields).WithField("error", err.Error()).Error("embedding raw article failed")
			report.Failed++
			continue
		}

		rawID := row.ID
		record := &corpus.ContentVector{
			RawArticleID: &rawID,
			Title:        row.Title,
			URL:          row.URL,
			Content:      text,
			Model:        x.model,
		}
		record.SetVector(vector)

		if err := x.store.SaveVector(ctx, record); err != nil {
			x.log(fields).WithField("error", err.Error()).Error("saving content vector failed")
			report.Failed++
			continue
		}

		report.Indexed++
	}

	x.log(logrus.Fields{"indexed": report.Indexed, "skipped": report.Skipped, "failed": report.Failed}).Info("indexing run complete")
	return report, nil
}

var spaces = regexp.MustCompile(`\s+`)

// DocumentText extracts readable text from a cached page. Readability is tried first, then a
// plain walk over the HTML text nodes, then the stored extracted content.
func DocumentText(row corpus.RawArticle) string {
	if strings.TrimSpace(row.HTML) != "" {
		if parsed, err := readability.FromReader(strings.NewReader(row.HTML), nil); err == nil {
			if text := collapseSpaces(parsed.TextContent); len([]rune(text)) >= minIndexChars {
				return text
			}
		}
		if text := collapseSpaces(StripTags(row.HTML)); text != "" {
			return text
		}
	}
	return collapseSpaces(row.Content)
}

// StripTags returns the text nodes of an HTML document, ignoring scripts and styles.
func StripTags(document string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(document))

	var (
		b    strings.Builder
		skip int
	)
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return b.String()
		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			if isHiddenTag(string(name)) {
				skip++
			}
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			if isHiddenTag(string(name)) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(tokenizer.Text())
				b.WriteByte(' ')
			}
		}
	}
}

func isHiddenTag(name string) bool {
	return name == "script" || name == "style" || name == "noscript"
}

func collapseSpaces(value string) string {
	return strings.TrimSpace(spaces.ReplaceAllString(value, " "))
}

func truncateRunes(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}

func (x *Indexer) log(fields logrus.Fields) *logrus.Entry {
	logger := x.logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return logger.WithField("component", "retrieval.indexer").WithFields(fields)
}
