package corpus

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Migrate applies the corpus schema using Gorm's AutoMigrate.
func Migrate(ctx context.Context, db *gorm.DB, logger *logrus.Logger) error {
	if db == nil {
		return eris.New("gorm DB is required")
	}

	if err := db.WithContext(ctx).AutoMigrate(&RawArticle{}, &ContentVector{}); err != nil {
		if logger != nil {
			logger.WithField("component", "corpus.migrate").WithField("error", err.Error()).Error("corpus schema migration failed")
		}
		return eris.Wrap(err, "auto migrating corpus schema")
	}

	if logger != nil {
		logger.WithField("component", "corpus.migrate").Debug("corpus schema ready")
	}

	return nil
}
