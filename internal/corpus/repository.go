package corpus

import (
	"context"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository stores the shared page cache and the embeddings derived from it.
type Repository interface {
	SaveRaw(ctx context.Context, raw *RawArticle) (bool, error)
	RawByURL(ctx context.Context, url string) (*RawArticle, error)
	LatestRaw(ctx context.Context, limit int) ([]RawArticle, error)
	RawCandidates(ctx context.Context, tokens []string, limit int) ([]RawArticle, error)
	SaveVector(ctx context.Context, vector *ContentVector) error
	Vectors(ctx context.Context) ([]ContentVector, error)
	VectorCandidates(ctx context.Context, tokens []string, limit int) ([]ContentVector, error)
	VectorByRawID(ctx context.Context, rawID uint) (*ContentVector, error)
}

// ErrDimensionMismatch is returned when a vector does not have the configured size.
var ErrDimensionMismatch = eris.New("embedding dimension mismatch")

// GormRepository implements Repository on Gorm.
type GormRepository struct {
	db         *gorm.DB
	logger     *logrus.Logger
	dimensions int
}

// NewRepository constructs a corpus repository. dimensions fixes the accepted vector size; zero
// accepts any size.
func NewRepository(db *gorm.DB, logger *logrus.Logger, dimensions int) (*GormRepository, error) {
	if db == nil {
		return nil, eris.New("gorm DB is required")
	}
	if dimensions < 0 {
		return nil, eris.New("dimensions must not be negative")
	}

	return &GormRepository{db: db, logger: logger, dimensions: dimensions}, nil
}

var _ Repository = (*GormRepository)(nil)

// SaveRaw inserts the page unless its url is already cached. It reports whether a row was written.
func (r *GormRepository) SaveRaw(ctx context.Context, raw *RawArticle) (bool, error) {
	if raw == nil {
		return false, eris.New("raw article is nil")
	}

	raw.URL = strings.TrimSpace(raw.URL)
	if raw.URL == "" {
		return false, eris.New("raw article url is required")
	}

	raw.HTML = truncate(raw.HTML, MaxHTMLChars)
	if raw.FetchedAt.IsZero() {
		raw.FetchedAt = time.Now().UTC()
	}

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "url"}}, DoNothing: true}).
		Create(raw)
	if result.Error != nil {
		r.logError(logrus.Fields{"url": raw.URL}, result.Error, "caching raw article")
		return false, eris.Wrapf(result.Error, "caching raw article %s", raw.URL)
	}

	return result.RowsAffected > 0, nil
}

// RawByURL returns the cached page or nil when the url has not been fetched.
func (r *GormRepository) RawByURL(ctx context.Context, url string) (*RawArticle, error) {
	trimmed := strings.TrimSpace(url)
	if trimmed == "" {
		return nil, eris.New("url is required")
	}

	var raw RawArticle
	if err := r.db.WithContext(ctx).First(&raw, "url = ?", trimmed).Error; err != nil {
		if eris.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		r.logError(logrus.Fields{"url": trimmed}, err, "fetching raw article")
		return nil, eris.Wrapf(err, "fetching raw article %s", trimmed)
	}

	return &raw, nil
}

// LatestRaw returns the most recently fetched pages.
func (r *GormRepository) LatestRaw(ctx context.Context, limit int) ([]RawArticle, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows []RawArticle
	if err := r.db.WithContext(ctx).Order("fetched_at DESC").Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		r.logError(nil, err, "listing raw articles")
		return nil, eris.Wrap(err, "listing raw articles")
	}

	return rows, nil
}

// RawCandidates returns cached pages whose title or content contains at least one token, in
// insertion order.
func (r *GormRepository) RawCandidates(ctx context.Context, tokens []string, limit int) ([]RawArticle, error) {
	query, args, err := candidateQuery("articles_raw", []string{"id", "url", "title", "content", "fetched_at"}, tokens, limit)
	if err != nil || query == "" {
		return nil, err
	}

	var rows []RawArticle
	if err := r.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		r.logError(logrus.Fields{"tokens": tokens}, err, "querying raw candidates")
		return nil, eris.Wrap(err, "querying raw candidates")
	}

	return rows, nil
}

// VectorCandidates returns content vectors whose title or content contains at least one token.
func (r *GormRepository) VectorCandidates(ctx context.Context, tokens []string, limit int) ([]ContentVector, error) {
	query, args, err := candidateQuery("content_vectors",
		[]string{"id", "raw_article_id", "title", "url", "content", "embedding", "dimensions", "model", "created_at"}, tokens, limit)
	if err != nil || query == "" {
		return nil, err
	}

	var rows []ContentVector
	if err := r.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		r.logError(logrus.Fields{"tokens": tokens}, err, "querying vector candidates")
		return nil, eris.Wrap(err, "querying vector candidates")
	}

	return rows, nil
}

// SaveVector stores an embedding after checking its dimensionality.
func (r *GormRepository) SaveVector(ctx context.Context, vector *ContentVector) error {
	if vector == nil {
		return eris.New("content vector is nil")
	}
	if len(vector.Embedding) == 0 || len(vector.Embedding)%4 != 0 {
		return eris.New("content vector embedding is malformed")
	}

	vector.Dimensions = len(vector.Embedding) / 4
	if r.dimensions > 0 && vector.Dimensions != r.dimensions {
		return eris.Wrapf(ErrDimensionMismatch, "got %d, want %d", vector.Dimensions, r.dimensions)
	}

	if err := r.db.WithContext(ctx).Create(vector).Error; err != nil {
		r.logError(logrus.Fields{"url": vector.URL}, err, "saving content vector")
		return eris.Wrap(err, "saving content vector")
	}

	return nil
}

// Vectors returns every stored embedding in insertion order.
func (r *GormRepository) Vectors(ctx context.Context) ([]ContentVector, error) {
	var rows []ContentVector
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&rows).Error; err != nil {
		r.logError(nil, err, "listing content vectors")
		return nil, eris.Wrap(err, "listing content vectors")
	}
	return rows, nil
}

// VectorByRawID returns the embedding derived from a cached page, or nil.
func (r *GormRepository) VectorByRawID(ctx context.Context, rawID uint) (*ContentVector, error) {
	var vector ContentVector
	if err := r.db.WithContext(ctx).First(&vector, "raw_article_id = ?", rawID).Error; err != nil {
		if eris.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		r.logError(logrus.Fields{"raw_article_id": rawID}, err, "fetching content vector")
		return nil, eris.Wrapf(err, "fetching content vector for raw article %d", rawID)
	}
	return &vector, nil
}

// candidateQuery builds the OR'ed LIKE filter. It returns an empty query when there is nothing
// to match on.
func candidateQuery(table string, columns []string, tokens []string, limit int) (string, []any, error) {
	filter := sq.Or{}
	for _, token := range tokens {
		token = strings.ToLower(strings.TrimSpace(token))
		if token == "" {
			continue
		}
		pattern := "%" + escapeLike(token) + "%"
		filter = append(filter,
			sq.Expr("LOWER(title) LIKE ? ESCAPE '\\'", pattern),
			sq.Expr("LOWER(content) LIKE ? ESCAPE '\\'", pattern),
		)
	}
	if len(filter) == 0 {
		return "", nil, nil
	}

	builder := sq.Select(columns...).From(table).Where(filter).OrderBy("id ASC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return "", nil, eris.Wrap(err, "building candidate query")
	}
	return query, args, nil
}

func escapeLike(value string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(value)
}

func (r *GormRepository) logError(fields logrus.Fields, err error, message string) {
	if r.logger == nil {
		return
	}

	entry := r.logger.WithField("error", err.Error()).WithField("component", "corpus.repository")
	if len(fields) > 0 {
		entry = entry.WithFields(fields)
	}
	entry.Error(message)
}
