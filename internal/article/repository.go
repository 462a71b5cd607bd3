package article

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository defines persistence operations for articles and their scraped urls.
type Repository interface {
	Get(ctx context.Context, id uint) (*Article, error)
	List(ctx context.Context) ([]Article, error)
	Create(ctx context.Context, article *Article) error
	Update(ctx context.Context, id uint, patch Patch) (*Article, error)
	Save(ctx context.Context, article *Article) error
	Delete(ctx context.Context, id uint) error
	ScrapedURLs(ctx context.Context, articleID uint) ([]ScrapedURL, error)
	ReplaceScrapedURLs(ctx context.Context, articleID uint, results []ScrapedResult) ([]ScrapedURL, error)
	Transaction(ctx context.Context, fn func(repo Repository) error) error
}

// GormRepository persists articles using a Gorm database connection.
type GormRepository struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// NewRepository constructs a Gorm-backed repository implementation.
func NewRepository(db *gorm.DB, logger *logrus.Logger) (*GormRepository, error) {
	if db == nil {
		return nil, eris.New("gorm DB is required")
	}

	return &GormRepository{db: db, logger: logger}, nil
}

var _ Repository = (*GormRepository)(nil)

// Get returns the article or ErrNotFound.
func (r *GormRepository) Get(ctx context.Context, id uint) (*Article, error) {
	var article Article
	err := r.db.WithContext(ctx).First(&article, id).Error
	if err != nil {
		if eris.Is(err, gorm.ErrRecordNotFound) {
			return nil, eris.Wrapf(ErrNotFound, "article %d", id)
		}
		r.logError(logrus.Fields{"article_id": id}, err, "fetching article")
		return nil, eris.Wrapf(err, "fetching article %d", id)
	}

	return &article, nil
}

// List returns every article, most recently updated first.
func (r *GormRepository) List(ctx context.Context) ([]Article, error) {
	var articles []Article

	if err := r.db.WithContext(ctx).Order("updated_at DESC").Order("id DESC").Find(&articles).Error; err != nil {
		r.logError(nil, err, "listing articles")
		return nil, eris.Wrap(err, "listing articles")
	}

	return articles, nil
}

// Create validates and inserts a new article starting at step one as a draft.
func (r *GormRepository) Create(ctx context.Context, article *Article) error {
	if article == nil {
		return eris.New("article is nil")
	}

	normalize(article)
	if article.CurrentStep == 0 {
		article.CurrentStep = FirstStep
	}
	if article.Status == "" {
		article.Status = StatusDraft
	}

	if err := article.Validate(); err != nil {
		return err
	}

	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(article).Error; err != nil {
		r.logError(logrus.Fields{"keyword": article.TargetKeyword}, err, "creating article")
		return eris.Wrap(err, "creating article")
	}

	return nil
}

// Update merges patch into the stored article and bumps updated_at.
func (r *GormRepository) Update(ctx context.Context, id uint, patch Patch) (*Article, error) {
	var updated *Article

	err := r.Transaction(ctx, func(repo Repository) error {
		current, err := repo.Get(ctx, id)
		if err != nil {
			return err
		}

		if err := patch.Apply(current); err != nil {
			return eris.Wrap(err, "applying patch")
		}

		if err := repo.Save(ctx, current); err != nil {
			return err
		}

		updated = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// Save validates and persists the whole aggregate.
func (r *GormRepository) Save(ctx context.Context, article *Article) error {
	if article == nil {
		return eris.New("article is nil")
	}
	if article.ID == 0 {
		return eris.New("article id is required")
	}

	normalize(article)
	if err := article.Validate(); err != nil {
		return err
	}

	article.UpdatedAt = time.Now().UTC()
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Save(article).Error; err != nil {
		r.logError(logrus.Fields{"article_id": article.ID}, err, "saving article")
		return eris.Wrapf(err, "saving article %d", article.ID)
	}

	return nil
}

// Delete removes the article and its scraped urls in one transaction.
func (r *GormRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("article_id = ?", id).Delete(&ScrapedURL{}).Error; err != nil {
			r.logError(logrus.Fields{"article_id": id}, err, "deleting scraped urls")
			return eris.Wrapf(err, "deleting scraped urls for article %d", id)
		}

		result := tx.Delete(&Article{}, id)
		if result.Error != nil {
			r.logError(logrus.Fields{"article_id": id}, result.Error, "deleting article")
			return eris.Wrapf(result.Error, "deleting article %d", id)
		}
		if result.RowsAffected == 0 {
			return eris.Wrapf(ErrNotFound, "article %d", id)
		}

		return nil
	})
}

// ScrapedURLs returns the competitor pages stored for an article in insertion order.
func (r *GormRepository) ScrapedURLs(ctx context.Context, articleID uint) ([]ScrapedURL, error) {
	var urls []ScrapedURL

	if err := r.db.WithContext(ctx).Where("article_id = ?", articleID).Order("id ASC").Find(&urls).Error; err != nil {
		r.logError(logrus.Fields{"article_id": articleID}, err, "listing scraped urls")
		return nil, eris.Wrapf(err, "listing scraped urls for article %d", articleID)
	}

	return urls, nil
}

// ReplaceScrapedURLs swaps the article's scraped url set in a single transaction so readers
// never observe an empty window. Duplicate urls within results are stored once.
func (r *GormRepository) ReplaceScrapedURLs(ctx context.Context, articleID uint, results []ScrapedResult) ([]ScrapedURL, error) {
	rows := make([]ScrapedURL, 0, len(results))
	seen := make(map[string]struct{}, len(results))
	for _, result := range results {
		url := strings.TrimSpace(result.URL)
		if url == "" {
			continue
		}
		if _, dup := seen[url]; dup {
			continue
		}
		seen[url] = struct{}{}
		rows = append(rows, ScrapedURL{
			ArticleID: articleID,
			URL:       url,
			Title:     result.Title,
			Content:   result.Content,
			Domain:    result.Domain,
		})
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Article{}).Where("id = ?", articleID).Count(&count).Error; err != nil {
			return eris.Wrap(err, "checking article")
		}
		if count == 0 {
			return eris.Wrapf(ErrNotFound, "article %d", articleID)
		}

		if err := tx.Where("article_id = ?", articleID).Delete(&ScrapedURL{}).Error; err != nil {
			return eris.Wrap(err, "deleting previous scraped urls")
		}

		if len(rows) == 0 {
			return nil
		}

		if err := tx.Omit(clause.Associations).Create(&rows).Error; err != nil {
			return eris.Wrap(err, "inserting scraped urls")
		}

		return nil
	})
	if err != nil {
		if !eris.Is(err, ErrNotFound) {
			r.logError(logrus.Fields{"article_id": articleID, "count": len(rows)}, err, "replacing scraped urls")
		}
		return nil, eris.Wrapf(err, "replacing scraped urls for article %d", articleID)
	}

	return rows, nil
}

// Transaction runs fn against a repository bound to a single database transaction.
func (r *GormRepository) Transaction(ctx context.Context, fn func(repo Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormRepository{db: tx, logger: r.logger})
	})
}

func normalize(article *Article) {
	article.Title = strings.TrimSpace(article.Title)
	article.TargetKeyword = strings.TrimSpace(article.TargetKeyword)
	article.Industry = strings.TrimSpace(article.Industry)
	article.ContentType = strings.TrimSpace(article.ContentType)
}

func (r *GormRepository) logError(fields logrus.Fields, err error, message string) {
	if r.logger == nil {
		return
	}

	entry := r.logger.WithField("error", err.Error())
	if len(fields) > 0 {
		entry = entry.WithFields(fields)
	}
	entry.WithField("component", "article.repository").Error(message)
}
