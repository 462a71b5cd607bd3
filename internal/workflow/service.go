// Package workflow drives an article through scrape, persona, outline, content
// generation and finalization.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"

	"seowriter/app/internal/article"
	"seowriter/app/internal/llm"
	"seowriter/app/internal/retrieval"
)

var (
	// ErrPrecondition marks a step whose input artifact has not been produced yet.
	ErrPrecondition = eris.New("workflow precondition not met")
	// ErrSectionNotFound marks a section heading that is not part of the outline.
	ErrSectionNotFound = eris.New("section not found")
)

// DefaultMaxResults is the number of competitor pages scraped when the caller does not say.
const DefaultMaxResults = 8

const competitorSnippetChars = 500

// Collector gathers competitor pages for a keyword.
type Collector interface {
	Collect(ctx context.Context, keyword string, maxResults int) ([]article.ScrapedResult, error)
}

// Writer produces the generated artifacts.
type Writer interface {
	AnalyzePersona(ctx context.Context, req llm.PersonaRequest) (*article.PersonaAnalysis, error)
	BuildOutline(ctx context.Context, req llm.OutlineRequest) (*article.Outline, error)
	WriteSection(ctx context.Context, req llm.SectionRequest) (string, error)
	GenerateMetaTags(ctx context.Context, req llm.MetaRequest) (*article.MetaTags, error)
}

// Retriever finds reference material for a query.
type Retriever interface {
	Search(ctx context.Context, query string, k int) ([]retrieval.Result, error)
}

// Options wires the Service.
type Options struct {
	Repository article.Repository
	Collector  Collector
	Writer     Writer
	Retriever  Retriever
	Budget     retrieval.Budget
	TopK       int
	Logger     *logrus.Logger
	SentryHub  *sentry.Hub
	Observers  []Observer
	Now        func() time.Time
}

// Service runs workflow steps. Operations on one article are serialized.
type Service struct {
	repo      article.Repository
	collector Collector
	writer    Writer
	retriever Retriever
	budget    retrieval.Budget
	topK      int
	logger    *logrus.Logger
	sentryHub *sentry.Hub
	observers []Observer
	now       func() time.Time
	locks     *keyedMutex
}

// PersonaInput optionally replaces the article descriptors before the persona step.
type PersonaInput struct {
	TargetKeyword     string
	Industry          string
	ContentType       string
	AdditionalContext *string
}

// Progress reports content generation after each finished section.
type Progress struct {
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
	Section   string `json:"section"`
}

// NewService validates opts and constructs a Service.
func NewService(opts Options) (*Service, error) {
	if opts.Repository == nil {
		return nil, eris.New("article repository is required")
	}
	if opts.Collector == nil {
		return nil, eris.New("scrape collector is required")
	}
	if opts.Writer == nil {
		return nil, eris.New("content writer is required")
	}

	topK := opts.TopK
	if topK <= 0 {
		topK = retrieval.DefaultK
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		repo:      opts.Repository,
		collector: opts.Collector,
		writer:    opts.Writer,
		retriever: opts.Retriever,
		budget:    opts.Budget,
		topK:      topK,
		logger:    opts.Logger,
		sentryHub: opts.SentryHub,
		observers: opts.Observers,
		now:       now,
		locks:     newKeyedMutex(),
	}, nil
}

// Scrape collects competitor pages, replaces the article's scraped url set and moves it to
// the persona step. An empty keyword falls back to the article's target keyword.
func (s *Service) Scrape(ctx context.Context, id uint, keyword string, maxResults int) (*article.Article, []article.ScrapedResult, error) {
	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "loading article %d", id)
	}

	query := strings.TrimSpace(keyword)
	if query == "" {
		query = current.TargetKeyword
	}

	results, err := s.collector.Collect(ctx, query, maxResults)
	if err != nil {
		s.recordError(logrus.Fields{"article_id": id, "keyword": query}, err, "scraping competitors")
		return nil, nil, eris.Wrapf(err, "scraping competitors for %q", query)
	}

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	from := current.CurrentStep
	if err := current.SetScraped(results); err != nil {
		return nil, nil, eris.Wrap(err, "storing scraped results")
	}
	advance(current, StepScrape)

	err = s.repo.Transaction(ctx, func(tx article.Repository) error {
		if _, err := tx.ReplaceScrapedURLs(ctx, id, results); err != nil {
			return err
		}
		return tx.Save(ctx, current)
	})
	if err != nil {
		s.recordError(logrus.Fields{"article_id": id}, err, "persisting scrape step")
		return nil, nil, eris.Wrapf(err, "persisting scrape step for article %d", id)
	}

	s.emit(id, StepScrape, from, current.CurrentStep)
	return current, results, nil
}

// Persona analyses audience and intent and moves the article to the outline step.
func (s *Service) Persona(ctx context.Context, id uint, input PersonaInput) (*article.Article, *article.PersonaAnalysis, error) {
	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "loading article %d", id)
	}

	applyDescriptors(current, input)
	if err := current.Validate(); err != nil {
		return nil, nil, err
	}

	competitors, err := s.competitorData(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	persona, err := s.writer.AnalyzePersona(ctx, llm.PersonaRequest{
		Keyword:           current.TargetKeyword,
		Industry:          current.Industry,
		ContentType:       current.ContentType,
		AdditionalContext: current.AdditionalContext,
		CompetitorData:    competitors,
	})
	if err != nil {
		s.recordError(logrus.Fields{"article_id": id}, err, "generating persona")
		return nil, nil, eris.Wrapf(err, "generating persona for article %d", id)
	}

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	from := current.CurrentStep
	if err := current.SetPersona(persona); err != nil {
		return nil, nil, eris.Wrap(err, "storing persona")
	}
	advance(current, StepPersona)

	if err := s.save(ctx, current); err != nil {
		return nil, nil, err
	}

	s.emit(id, StepPersona, from, current.CurrentStep)
	return current, persona, nil
}

// Outline plans the article and moves it to the generate step.
func (s *Service) Outline(ctx context.Context, id uint) (*article.Article, *article.Outline, error) {
	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "loading article %d", id)
	}

	persona, err := current.PersonaData()
	if err != nil {
		return nil, nil, err
	}
	if persona == nil {
		return nil, nil, eris.Wrap(ErrPrecondition, "persona analysis is required before the outline")
	}

	competitors, err := s.competitorData(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	outline, err := s.writer.BuildOutline(ctx, llm.OutlineRequest{
		Keyword:        current.TargetKeyword,
		Persona:        persona,
		CompetitorData: competitors,
	})
	if err != nil {
		s.recordError(logrus.Fields{"article_id": id}, err, "generating outline")
		return nil, nil, eris.Wrapf(err, "generating outline for article %d", id)
	}

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	from := current.CurrentStep
	if err := current.SetOutline(outline); err != nil {
		return nil, nil, eris.Wrap(err, "storing outline")
	}
	advance(current, StepOutline)

	if err := s.save(ctx, current); err != nil {
		return nil, nil, err
	}

	s.emit(id, StepOutline, from, current.CurrentStep)
	return current, outline, nil
}

// GenerateContent writes every outline section in order and moves the article to the
// finalize step. progress may be nil.
func (s *Service) GenerateContent(ctx context.Context, id uint, progress func(Progress)) (*article.Article, map[string]string, error) {
	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "loading article %d", id)
	}

	persona, outline, err := requireOutline(current)
	if err != nil {
		return nil, nil, err
	}

	reference := s.referenceContext(ctx, current.TargetKeyword)

	total := len(outline.Sections)
	content := make(map[string]string, total)
	previous := make([]llm.PreviousSection, 0, total)
	for i, section := range outline.Sections {
		body, err := s.writer.WriteSection(ctx, llm.SectionRequest{
			Keyword:  current.TargetKeyword,
			Section:  section,
			Persona:  persona,
			Outline:  outline,
			Previous: previous,
			Context:  reference,
		})
		if err != nil {
			s.recordError(logrus.Fields{"article_id": id, "section": section.Heading}, err, "generating section")
			return nil, nil, eris.Wrapf(err, "generating section %q for article %d", section.Heading, id)
		}

		content[section.Heading] = body
		previous = append(previous, llm.PreviousSection{Heading: section.Heading, Body: body})

		if progress != nil {
			progress(Progress{Completed: i + 1, Total: total, Section: section.Heading})
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	from := current.CurrentStep
	if err := current.SetContent(content); err != nil {
		return nil, nil, eris.Wrap(err, "storing content")
	}
	advance(current, StepGenerate)

	if err := s.save(ctx, current); err != nil {
		return nil, nil, err
	}

	s.emit(id, StepGenerate, from, current.CurrentStep)
	return current, content, nil
}

// GenerateSection writes a single outline section without persisting it.
func (s *Service) GenerateSection(ctx context.Context, id uint, heading string) (string, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return "", eris.Wrapf(err, "loading article %d", id)
	}

	persona, outline, err := requireOutline(current)
	if err != nil {
		return "", err
	}

	section, ok := outline.Section(heading)
	if !ok {
		return "", eris.Wrapf(ErrSectionNotFound, "section %q", strings.TrimSpace(heading))
	}

	existing, err := current.ContentData()
	if err != nil {
		return "", err
	}

	previous := make([]llm.PreviousSection, 0, len(outline.Sections))
	for _, candidate := range outline.Sections {
		if candidate.Heading == section.Heading {
			break
		}
		if body := strings.TrimSpace(existing[candidate.Heading]); body != "" {
			previous = append(previous, llm.PreviousSection{Heading: candidate.Heading, Body: body})
		}
	}

	body, err := s.writer.WriteSection(ctx, llm.SectionRequest{
		Keyword:  current.TargetKeyword,
		Section:  section,
		Persona:  persona,
		Outline:  outline,
		Previous: previous,
		Context:  s.referenceContext(ctx, current.TargetKeyword),
	})
	if err != nil {
		s.recordError(logrus.Fields{"article_id": id, "section": section.Heading}, err, "generating section")
		return "", eris.Wrapf(err, "generating section %q for article %d", section.Heading, id)
	}

	return body, nil
}

// Finalize compiles the document, generates meta tags and publishes the article.
func (s *Service) Finalize(ctx context.Context, id uint) (*article.Article, *article.MetaTags, error) {
	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "loading article %d", id)
	}

	outline, err := current.OutlineData()
	if err != nil {
		return nil, nil, err
	}
	content, err := current.ContentData()
	if err != nil {
		return nil, nil, err
	}
	if outline == nil || content == nil {
		return nil, nil, eris.Wrap(ErrPrecondition, "outline and content are required before finalizing")
	}

	var missing []string
	for _, section := range outline.Sections {
		if strings.TrimSpace(content[section.Heading]) == "" {
			missing = append(missing, section.Heading)
		}
	}
	if len(missing) > 0 {
		return nil, nil, eris.Wrapf(ErrPrecondition, "content is missing for sections: %s", strings.Join(missing, ", "))
	}

	compiled := Compile(outline, content)
	words := WordCount(compiled)

	tags, err := s.writer.GenerateMetaTags(ctx, llm.MetaRequest{
		Title:   outline.Title,
		Content: compiled,
		Keyword: current.TargetKeyword,
	})
	if err != nil {
		s.recordError(logrus.Fields{"article_id": id}, err, "generating meta tags")
		return nil, nil, eris.Wrapf(err, "generating meta tags for article %d", id)
	}

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	from := current.CurrentStep
	if err := current.SetMetaTags(tags); err != nil {
		return nil, nil, eris.Wrap(err, "storing meta tags")
	}
	current.FinalTitle = outline.Title
	current.FinalContent = compiled
	current.MetaDescription = tags.MetaDescription
	current.WordCount = words
	current.Status = article.StatusPublished
	advance(current, StepFinalize)

	if err := s.save(ctx, current); err != nil {
		return nil, nil, err
	}

	s.emit(id, StepFinalize, from, current.CurrentStep)
	return current, tags, nil
}

// ReferenceContext assembles retrieval context for keyword. It is empty when no retriever is
// configured or retrieval fails.
func (s *Service) ReferenceContext(ctx context.Context, keyword string) retrieval.Context {
	if s.retriever == nil || strings.TrimSpace(keyword) == "" {
		return retrieval.BuildContext(nil, s.budget)
	}

	results, err := s.retriever.Search(ctx, keyword, s.topK)
	if err != nil {
		s.logWarn(logrus.Fields{"keyword": keyword, "error": err.Error()}, "retrieval failed; continuing without context")
		return retrieval.BuildContext(nil, s.budget)
	}

	return retrieval.BuildContext(results, s.budget)
}

func (s *Service) referenceContext(ctx context.Context, keyword string) string {
	return s.ReferenceContext(ctx, keyword).Text
}

func (s *Service) competitorData(ctx context.Context, id uint) ([]string, error) {
	urls, err := s.repo.ScrapedURLs(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "loading scraped urls for article %d", id)
	}

	data := make([]string, 0, len(urls))
	for _, url := range urls {
		data = append(data, fmt.Sprintf("%s: %s", url.Title, clip(url.Content, competitorSnippetChars)))
	}
	return data, nil
}

func (s *Service) save(ctx context.Context, current *article.Article) error {
	if err := s.repo.Save(ctx, current); err != nil {
		s.recordError(logrus.Fields{"article_id": current.ID}, err, "persisting workflow step")
		return eris.Wrapf(err, "persisting article %d", current.ID)
	}
	return nil
}

func (s *Service) emit(id uint, step Step, from, to int) {
	event := Event{ArticleID: id, Step: step, From: from, To: to, At: s.now().UTC()}
	for _, observer := range s.observers {
		observer.StepCompleted(event)
	}
}

func requireOutline(current *article.Article) (*article.PersonaAnalysis, *article.Outline, error) {
	outline, err := current.OutlineData()
	if err != nil {
		return nil, nil, err
	}
	if outline == nil {
		return nil, nil, eris.Wrap(ErrPrecondition, "an outline is required before generating content")
	}

	persona, err := current.PersonaData()
	if err != nil {
		return nil, nil, err
	}
	return persona, outline, nil
}

func applyDescriptors(current *article.Article, input PersonaInput) {
	if value := strings.TrimSpace(input.TargetKeyword); value != "" {
		current.TargetKeyword = value
	}
	if value := strings.TrimSpace(input.Industry); value != "" {
		current.Industry = value
	}
	if value := strings.TrimSpace(input.ContentType); value != "" {
		current.ContentType = value
	}
	if input.AdditionalContext != nil {
		current.AdditionalContext = strings.TrimSpace(*input.AdditionalContext)
	}
}

func clip(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}

func (s *Service) logWarn(fields logrus.Fields, message string) {
	if s.logger == nil {
		return
	}
	s.logger.WithField("component", "workflow").WithFields(fields).Warn(message)
}

func (s *Service) recordError(fields logrus.Fields, err error, message string) {
	if err == nil {
		return
	}

	if s.logger != nil {
		entry := s.logger.WithField("error", err.Error()).WithField("component", "workflow")
		if len(fields) > 0 {
			entry = entry.WithFields(fields)
		}
		entry.Error(message)
	}

	if s.sentryHub != nil && !errors.Is(err, context.Canceled) {
		s.sentryHub.CaptureException(err)
	}
}
