package bootstrap

import (
	"context"
	"net/url"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"seowriter/app/internal/article"
	"seowriter/app/internal/config"
	"seowriter/app/internal/corpus"
	"seowriter/app/internal/db"
	apphttp "seowriter/app/internal/http"
	"seowriter/app/internal/llm"
	"seowriter/app/internal/ollama"
	"seowriter/app/internal/retrieval"
	"seowriter/app/internal/scrape"
	"seowriter/app/internal/workflow"
)

const (
	remoteTemperature = 0.7
	indexPause        = 500 * time.Millisecond
)

type Dependencies struct {
	Config    *config.Config
	Logger    *logrus.Logger
	SentryHub *sentry.Hub
}

type Result struct {
	Workflow   *workflow.Service
	HTTPServer *apphttp.Server
	Manager    *ollama.Manager
	Database   *gorm.DB
	Cleanup    func() error
}

// IndexerResult carries what the offline embedding job needs.
type IndexerResult struct {
	Indexer  *retrieval.Indexer
	Database *gorm.DB
	Cleanup  func() error
}

type stores struct {
	db       *gorm.DB
	articles *article.GormRepository
	corpus   *corpus.GormRepository
}

// Build composes the SEO writer application layers and returns the constructed components.
func Build(ctx context.Context, deps Dependencies) (Result, error) {
	if deps.Config == nil {
		return Result{}, eris.New("config is required")
	}
	cfg := deps.Config

	st, err := openStores(ctx, cfg, deps.Logger)
	if err != nil {
		return Result{}, err
	}

	closeOnError := func(wrapper error) (Result, error) {
		if closeErr := db.Close(st.db); closeErr != nil && deps.Logger != nil {
			deps.Logger.WithError(closeErr).Error("closing database after bootstrap failure")
		}
		return Result{}, wrapper
	}

	client, err := newClient(cfg, deps.Logger)
	if err != nil {
		return closeOnError(err)
	}

	remote, err := llm.NewRemote(llm.RemoteOptions{
		Client:      client,
		Model:       cfg.LLMModels[0],
		Temperature: remoteTemperature,
	})
	if err != nil {
		return closeOnError(eris.Wrap(err, "initialising remote llm"))
	}

	writer, err := llm.NewWriter(remote)
	if err != nil {
		return closeOnError(eris.Wrap(err, "initialising article writer"))
	}

	embedder, err := llm.NewEmbedder(llm.EmbedderOptions{
		Client:     client,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
	})
	if err != nil {
		return closeOnError(eris.Wrap(err, "initialising embedder"))
	}

	daemon, err := llm.NewDaemon(llm.DaemonOptions{
		BaseURL: cfg.Ollama.BaseURL,
		Model:   cfg.Ollama.Model,
		Logger:  deps.Logger,
	})
	if err != nil {
		return closeOnError(eris.Wrap(err, "initialising local daemon backend"))
	}

	// Servers carry no device accelerator, so the daemon is the only local candidate.
	selector := llm.NewSelector(deps.Logger, llm.Candidate{Backend: daemon, Probe: daemon.Available})

	manager, err := ollama.NewManager(ollama.Options{
		Client:        daemon.API(),
		Host:          daemonHost(cfg.Ollama.BaseURL),
		Binary:        cfg.Ollama.Binary,
		ChatModel:     cfg.Ollama.Model,
		LiteMode:      cfg.Ollama.LiteMode,
		Logger:        deps.Logger,
		OnStateChange: selector.Reset,
	})
	if err != nil {
		return closeOnError(eris.Wrap(err, "initialising ollama manager"))
	}

	collector, err := scrape.NewCollector(scrape.Options{
		Cache:      st.corpus,
		Logger:     deps.Logger,
		SearchURL:  cfg.Scraper.SearchURL,
		Delay:      cfg.Scraper.Delay,
		Timeout:    cfg.Scraper.Timeout,
		UserAgents: cfg.Scraper.UserAgents,
		Selectors:  cfg.Scraper.Selectors,
	})
	if err != nil {
		return closeOnError(eris.Wrap(err, "initialising scraper"))
	}

	index, err := newIndex(st.corpus, embedder, deps.Logger)
	if err != nil {
		return closeOnError(err)
	}

	service, err := workflow.NewService(workflow.Options{
		Repository: st.articles,
		Collector:  collector,
		Writer:     writer,
		Retriever:  index,
		Budget: retrieval.Budget{
			SnippetChars: cfg.Retrieval.SnippetChars,
			MaxTokens:    cfg.Retrieval.MaxTokens,
		},
		TopK:      cfg.Retrieval.TopK,
		Logger:    deps.Logger,
		SentryHub: deps.SentryHub,
		Observers: []workflow.Observer{workflow.LogObserver(deps.Logger)},
	})
	if err != nil {
		return closeOnError(eris.Wrap(err, "creating workflow service"))
	}

	httpServer, err := apphttp.NewServer(apphttp.Options{
		Workflow:   service,
		Repository: st.articles,
		Corpus:     st.corpus,
		Collector:  collector,
		Searcher:   index,
		Remote:     remote,
		Local:      selector,
		Chat:       daemon,
		Manager:    manager,
		Database:   st.db,
		Logger:     deps.Logger,
		SentryHub:  deps.SentryHub,
		RateLimiter: apphttp.RateLimiterSettings{
			Burst:             cfg.RateLimit.Burst,
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			ClientTTL:         cfg.RateLimit.ClientTTL,
		},
	})
	if err != nil {
		return closeOnError(eris.Wrap(err, "initialising http server"))
	}

	cleanup := func() error {
		httpServer.Close()
		if err := manager.Stop(); err != nil && !eris.Is(err, ollama.ErrNotRunning) && deps.Logger != nil {
			deps.Logger.WithError(err).Error("stopping local daemon")
		}
		return db.Close(st.db)
	}

	return Result{
		Workflow:   service,
		HTTPServer: httpServer,
		Manager:    manager,
		Database:   st.db,
		Cleanup:    cleanup,
	}, nil
}

// BuildIndexer wires the offline job that embeds cached pages.
func BuildIndexer(ctx context.Context, deps Dependencies) (IndexerResult, error) {
	if deps.Config == nil {
		return IndexerResult{}, eris.New("config is required")
	}
	cfg := deps.Config

	st, err := openStores(ctx, cfg, deps.Logger)
	if err != nil {
		return IndexerResult{}, err
	}

	closeOnError := func(wrapper error) (IndexerResult, error) {
		if closeErr := db.Close(st.db); closeErr != nil && deps.Logger != nil {
			deps.Logger.WithError(closeErr).Error("closing database after bootstrap failure")
		}
		return IndexerResult{}, wrapper
	}

	client, err := newClient(cfg, deps.Logger)
	if err != nil {
		return closeOnError(err)
	}

	embedder, err := llm.NewEmbedder(llm.EmbedderOptions{
		Client:     client,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
	})
	if err != nil {
		return closeOnError(eris.Wrap(err, "initialising embedder"))
	}

	indexer, err := retrieval.NewIndexer(retrieval.IndexerOptions{
		Store:    st.corpus,
		Embedder: embedder,
		Model:    embedder.Model(),
		Logger:   deps.Logger,
		Pause:    indexPause,
	})
	if err != nil {
		return closeOnError(eris.Wrap(err, "initialising indexer"))
	}

	return IndexerResult{
		Indexer:  indexer,
		Database: st.db,
		Cleanup: func() error {
			return db.Close(st.db)
		},
	}, nil
}

func openStores(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (stores, error) {
	conn, err := db.Open(db.Options{Path: cfg.DBPath, DatabaseURL: cfg.DatabaseURL})
	if err != nil {
		return stores{}, eris.Wrap(err, "opening database")
	}

	fail := func(wrapper error) (stores, error) {
		if closeErr := db.Close(conn); closeErr != nil && logger != nil {
			logger.WithError(closeErr).Error("closing database after bootstrap failure")
		}
		return stores{}, wrapper
	}

	if err := article.Migrate(ctx, conn, logger); err != nil {
		return fail(eris.Wrap(err, "running article migrations"))
	}
	if err := corpus.Migrate(ctx, conn, logger); err != nil {
		return fail(eris.Wrap(err, "running corpus migrations"))
	}

	articles, err := article.NewRepository(conn, logger)
	if err != nil {
		return fail(eris.Wrap(err, "creating article repository"))
	}

	corpusRepo, err := corpus.NewRepository(conn, logger, cfg.Embedding.Dimensions)
	if err != nil {
		return fail(eris.Wrap(err, "creating corpus repository"))
	}

	return stores{db: conn, articles: articles, corpus: corpusRepo}, nil
}

func newClient(cfg *config.Config, logger *logrus.Logger) (*llm.Client, error) {
	if len(cfg.LLMModels) == 0 {
		return nil, eris.New("LLM_MODELS must include at least one model name")
	}

	client, err := llm.NewClient(llm.ClientOptions{
		APIKey:  cfg.LLMAPIKey,
		BaseURL: cfg.LLMEndpoint,
		Logger:  logger,
	})
	if err != nil {
		return nil, eris.Wrap(err, "creating llm client")
	}
	return client, nil
}

func newIndex(source *corpus.GormRepository, embedder *llm.Embedder, logger *logrus.Logger) (*retrieval.Index, error) {
	vector, err := retrieval.NewVectorRanker(source, embedder)
	if err != nil {
		return nil, eris.Wrap(err, "initialising vector ranker")
	}

	keyword, err := retrieval.NewKeywordRanker(source, 0)
	if err != nil {
		return nil, eris.Wrap(err, "initialising keyword ranker")
	}

	index, err := retrieval.NewIndex(vector, keyword, logger)
	if err != nil {
		return nil, eris.Wrap(err, "initialising retrieval index")
	}
	return index, nil
}

// daemonHost turns the daemon base url into the OLLAMA_HOST value for a spawned server.
func daemonHost(baseURL string) string {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}
	return parsed.Host
}
