// Command indexer embeds cached competitor pages that do not have a content vector yet.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"

	"seowriter/app/internal/app/bootstrap"
	"seowriter/app/internal/config"
	applog "seowriter/app/internal/log"
)

func main() {
	limit := flag.Int("limit", 100, "maximum number of cached pages to consider")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *limit); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, limit int) error {
	_ = godotenv.Load()

	if limit <= 0 {
		return eris.New("limit must be greater than zero")
	}

	cfg, err := config.Load()
	if err != nil {
		return eris.Wrap(err, "failure loading configuration")
	}

	logger, err := applog.NewLogger(cfg.LogLevel)
	if err != nil {
		return eris.Wrap(err, "failure initialising logger")
	}

	sentryHub, flush, err := applog.InitSentry(logger, applog.SentrySettings{
		DSN:         cfg.SentryDSN,
		Environment: cfg.Environment,
	})
	if err != nil {
		return eris.Wrap(err, "failure initialising sentry")
	}
	defer flush()

	job, err := bootstrap.BuildIndexer(ctx, bootstrap.Dependencies{
		Config:    cfg,
		Logger:    logger,
		SentryHub: sentryHub,
	})
	if err != nil {
		return eris.Wrap(err, "bootstrapping indexer")
	}
	defer func() {
		if closeErr := job.Cleanup(); closeErr != nil {
			logger.WithError(closeErr).Error("closing database")
		}
	}()

	report, err := job.Indexer.Run(ctx, limit)
	if err != nil {
		return eris.Wrap(err, "indexing cached pages")
	}

	logger.WithFields(logrus.Fields{
		"indexed": report.Indexed,
		"skipped": report.Skipped,
		"failed":  report.Failed,
	}).Info("indexing finished")
	return nil
}
