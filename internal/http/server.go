package http

import (
	"context"
	stdhttp "net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/getsentry/sentry-go"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"seowriter/app/internal/article"
	"seowriter/app/internal/corpus"
	"seowriter/app/internal/llm"
	"seowriter/app/internal/ollama"
	"seowriter/app/internal/retrieval"
	"seowriter/app/internal/workflow"
)

// WorkflowService runs the five article steps.
type WorkflowService interface {
	Scrape(ctx context.Context, id uint, keyword string, maxResults int) (*article.Article, []article.ScrapedResult, error)
	Persona(ctx context.Context, id uint, input workflow.PersonaInput) (*article.Article, *article.PersonaAnalysis, error)
	Outline(ctx context.Context, id uint) (*article.Article, *article.Outline, error)
	GenerateContent(ctx context.Context, id uint, progress func(workflow.Progress)) (*article.Article, map[string]string, error)
	GenerateSection(ctx context.Context, id uint, heading string) (string, error)
	Finalize(ctx context.Context, id uint) (*article.Article, *article.MetaTags, error)
	ReferenceContext(ctx context.Context, keyword string) retrieval.Context
}

// CorpusReader exposes the cached competitor pages.
type CorpusReader interface {
	RawByURL(ctx context.Context, url string) (*corpus.RawArticle, error)
	LatestRaw(ctx context.Context, limit int) ([]corpus.RawArticle, error)
}

// Collector scrapes competitor pages without touching an article.
type Collector interface {
	Collect(ctx context.Context, keyword string, maxResults int) ([]article.ScrapedResult, error)
}

// Searcher ranks cached content against a keyword.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]retrieval.Result, error)
}

// BackendResolver picks the local generation backend.
type BackendResolver interface {
	Resolve(ctx context.Context) (llm.Backend, error)
	Reset()
}

// LocalManager controls the local model daemon.
type LocalManager interface {
	Status(ctx context.Context) (ollama.Status, error)
	Start(ctx context.Context) (int, error)
	Stop() error
	Provision(ctx context.Context, fn func(ollama.PullProgress) error) error
	DeleteModel(ctx context.Context, name string) error
	RequiredModels() []string
}

// Options configures the HTTP server wiring.
type Options struct {
	Workflow    WorkflowService
	Repository  article.Repository
	Corpus      CorpusReader
	Collector   Collector
	Searcher    Searcher
	Remote      llm.Backend
	Local       BackendResolver
	Chat        llm.ChatStreamer
	Manager     LocalManager
	Database    *gorm.DB
	Logger      *logrus.Logger
	SentryHub   *sentry.Hub
	RateLimiter RateLimiterSettings
}

// RateLimiterSettings configures the HTTP rate limiter behaviour.
type RateLimiterSettings struct {
	RequestsPerSecond float64
	Burst             int
	ClientTTL         time.Duration
}

// Server wires the JSON API via Huma.
type Server struct {
	api         huma.API
	mux         *stdhttp.ServeMux
	workflow    WorkflowService
	repository  article.Repository
	corpus      CorpusReader
	collector   Collector
	searcher    Searcher
	remote      llm.Backend
	local       BackendResolver
	chat        llm.ChatStreamer
	manager     LocalManager
	logger      *logrus.Logger
	sentry      *sentry.Hub
	db          *gorm.DB
	rateLimiter *RateLimiter
}

// NewServer constructs the HTTP server. Local, Chat and Manager are optional; their routes
// answer 409 when the local stack is not wired.
func NewServer(opts Options) (*Server, error) {
	if opts.Workflow == nil {
		return nil, eris.New("workflow service is required")
	}
	if opts.Repository == nil {
		return nil, eris.New("article repository is required")
	}
	if opts.Corpus == nil {
		return nil, eris.New("corpus reader is required")
	}
	if opts.Collector == nil {
		return nil, eris.New("collector is required")
	}
	if opts.Searcher == nil {
		return nil, eris.New("searcher is required")
	}
	if opts.Remote == nil {
		return nil, eris.New("remote backend is required")
	}
	if opts.Database == nil {
		return nil, eris.New("database is required")
	}

	mux := stdhttp.NewServeMux()
	config := huma.DefaultConfig("SEO Writer", "1.0.0")

	api := humago.New(mux, config)

	srv := &Server{
		api:        api,
		mux:        mux,
		workflow:   opts.Workflow,
		repository: opts.Repository,
		corpus:     opts.Corpus,
		collector:  opts.Collector,
		searcher:   opts.Searcher,
		remote:     opts.Remote,
		local:      opts.Local,
		chat:       opts.Chat,
		manager:    opts.Manager,
		logger:     opts.Logger,
		sentry:     opts.SentryHub,
		db:         opts.Database,
	}

	settings := opts.RateLimiter
	if settings.Burst <= 0 {
		return nil, eris.New("rate limiter burst must be greater than zero")
	}
	if settings.RequestsPerSecond <= 0 {
		return nil, eris.New("rate limiter requests per second must be greater than zero")
	}
	if settings.ClientTTL <= 0 {
		return nil, eris.New("rate limiter client TTL must be greater than zero")
	}

	srv.rateLimiter = NewRateLimiter(settings.Burst, settings.RequestsPerSecond, settings.ClientTTL)

	srv.registerMiddlewares()
	srv.registerRoutes()

	return srv, nil
}

// Handler exposes the underlying HTTP handler for wiring into the application.
func (s *Server) Handler() stdhttp.Handler {
	return s.mux
}

// API exposes the underlying Huma API instance.
func (s *Server) API() huma.API {
	return s.api
}

// Close stops background work owned by the server.
func (s *Server) Close() {
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
}

func (s *Server) registerMiddlewares() {
	s.api.UseMiddleware(
		s.sentryMiddleware(),
		s.recoveryMiddleware(),
		s.requestIDMiddleware(),
		s.rateLimitMiddleware(),
		s.loggingMiddleware(),
	)
}

func (s *Server) registerRoutes() {
	s.registerArticleRoutes()
	s.registerWorkflowRoutes()
	s.registerRetrievalRoutes()
	s.registerLocalRoutes()
	s.registerHealthRoute()
}

func (s *Server) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) recordError(ctx context.Context, err error, message string, fields logrus.Fields) {
	if err == nil {
		return
	}

	if s.logger != nil {
		entry := s.logger.WithField("error", err.Error())
		if fields != nil {
			entry = entry.WithFields(fields)
		}
		if requestID := RequestIDFromContext(ctx); requestID != "" {
			entry = entry.WithField("request_id", requestID)
		}
		entry.Error(message)
	}

	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		hub.CaptureException(err)
		return
	}
	if s.sentry != nil {
		s.sentry.CaptureException(err)
	}
}

func (s *Server) logWarn(ctx context.Context, err error, message string, fields logrus.Fields) {
	if s.logger == nil || err == nil {
		return
	}

	entry := s.logger.WithField("error", err.Error())
	if fields != nil {
		entry = entry.WithFields(fields)
	}
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		entry = entry.WithField("request_id", requestID)
	}
	entry.Warn(message)
}
