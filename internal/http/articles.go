package http

import (
	"context"
	stdhttp "net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/sirupsen/logrus"

	"seowriter/app/internal/article"
	"seowriter/app/internal/corpus"
)

const latestRawLimit = 50

type articleIDInput struct {
	ID int `path:"id" minimum:"1"`
}

type articleResponse struct {
	Body articleView
}

type articleCreatedResponse struct {
	Status int
	Body   articleView
}

type articleListResponse struct {
	Body []articleView
}

type createArticleInput struct {
	Body createArticleBody
}

type patchArticleInput struct {
	ID   int `path:"id" minimum:"1"`
	Body patchArticleBody
}

type scrapedURLsResponse struct {
	Body []scrapedURLView
}

type replaceScrapedURLsInput struct {
	ID   int `path:"id" minimum:"1"`
	Body struct {
		Results []article.ScrapedResult `json:"results"`
	}
}

type rawListResponse struct {
	Body []corpus.RawArticle
}

type rawByURLInput struct {
	URL string `query:"url"`
}

type rawResponse struct {
	Body *corpus.RawArticle
}

func (s *Server) registerArticleRoutes() {
	huma.Get(s.api, "/api/articles", s.listArticles, summary("List articles"))
	huma.Post(s.api, "/api/articles", s.createArticle, summary("Create article"), defaultStatus(stdhttp.StatusCreated))
	huma.Get(s.api, "/api/articles/{id}", s.getArticle, summary("Fetch article"))
	huma.Patch(s.api, "/api/articles/{id}", s.patchArticle, summary("Update article"))
	huma.Delete(s.api, "/api/articles/{id}", s.deleteArticle, summary("Delete article"), defaultStatus(stdhttp.StatusNoContent))

	huma.Get(s.api, "/api/articles/{id}/scraped-urls", s.listScrapedURLs, summary("List scraped urls"))
	huma.Post(s.api, "/api/articles/{id}/scraped-urls", s.replaceScrapedURLs, summary("Replace scraped urls"))

	huma.Get(s.api, "/api/articles-raw", s.listRaw, summary("List cached pages"))
	huma.Get(s.api, "/api/articles-raw/by-url", s.rawByURL, summary("Fetch cached page by url"))
}

func (s *Server) listArticles(ctx context.Context, _ *struct{}) (*articleListResponse, error) {
	articles, err := s.repository.List(ctx)
	if err != nil {
		return nil, s.fail(ctx, err, "Failed to fetch articles", nil)
	}

	views := make([]articleView, 0, len(articles))
	for i := range articles {
		view, err := newArticleView(&articles[i])
		if err != nil {
			return nil, s.fail(ctx, err, "Failed to fetch articles", nil)
		}
		views = append(views, view)
	}

	return &articleListResponse{Body: views}, nil
}

func (s *Server) createArticle(ctx context.Context, input *createArticleInput) (*articleCreatedResponse, error) {
	created := &article.Article{
		Title:             input.Body.Title,
		TargetKeyword:     input.Body.TargetKeyword,
		Industry:          input.Body.Industry,
		ContentType:       input.Body.ContentType,
		AdditionalContext: strings.TrimSpace(input.Body.AdditionalContext),
	}
	if err := s.repository.Create(ctx, created); err != nil {
		return nil, s.fail(ctx, err, "Invalid article data", nil)
	}

	view, err := newArticleView(created)
	if err != nil {
		return nil, s.fail(ctx, err, "Invalid article data", nil)
	}

	return &articleCreatedResponse{Status: stdhttp.StatusCreated, Body: view}, nil
}

func (s *Server) getArticle(ctx context.Context, input *articleIDInput) (*articleResponse, error) {
	return s.articleResponse(ctx, uint(input.ID), "Failed to fetch article")
}

func (s *Server) patchArticle(ctx context.Context, input *patchArticleInput) (*articleResponse, error) {
	id := uint(input.ID)
	updated, err := s.repository.Update(ctx, id, input.Body.patch())
	if err != nil {
		return nil, s.fail(ctx, err, "Failed to update article", logrus.Fields{"article_id": id})
	}

	view, err := newArticleView(updated)
	if err != nil {
		return nil, s.fail(ctx, err, "Failed to update article", logrus.Fields{"article_id": id})
	}

	return &articleResponse{Body: view}, nil
}

func (s *Server) deleteArticle(ctx context.Context, input *articleIDInput) (*struct{}, error) {
	id := uint(input.ID)
	if err := s.repository.Delete(ctx, id); err != nil {
		return nil, s.fail(ctx, err, "Failed to delete article", logrus.Fields{"article_id": id})
	}
	return nil, nil
}

func (s *Server) listScrapedURLs(ctx context.Context, input *articleIDInput) (*scrapedURLsResponse, error) {
	id := uint(input.ID)
	urls, err := s.repository.ScrapedURLs(ctx, id)
	if err != nil {
		return nil, s.fail(ctx, err, "Failed to fetch scraped URLs", logrus.Fields{"article_id": id})
	}
	return &scrapedURLsResponse{Body: newScrapedURLViews(urls)}, nil
}

func (s *Server) replaceScrapedURLs(ctx context.Context, input *replaceScrapedURLsInput) (*scrapedURLsResponse, error) {
	id := uint(input.ID)
	urls, err := s.repository.ReplaceScrapedURLs(ctx, id, input.Body.Results)
	if err != nil {
		return nil, s.fail(ctx, err, "Failed to save scraped URLs", logrus.Fields{"article_id": id})
	}
	return &scrapedURLsResponse{Body: newScrapedURLViews(urls)}, nil
}

func (s *Server) listRaw(ctx context.Context, _ *struct{}) (*rawListResponse, error) {
	raws, err := s.corpus.LatestRaw(ctx, latestRawLimit)
	if err != nil {
		return nil, s.fail(ctx, err, "Failed to fetch raw articles", nil)
	}
	if raws == nil {
		raws = []corpus.RawArticle{}
	}
	return &rawListResponse{Body: raws}, nil
}

func (s *Server) rawByURL(ctx context.Context, input *rawByURLInput) (*rawResponse, error) {
	url := strings.TrimSpace(input.URL)
	if url == "" {
		return nil, huma.Error400BadRequest("URL parameter is required")
	}

	raw, err := s.corpus.RawByURL(ctx, url)
	if err != nil {
		return nil, s.fail(ctx, err, "Failed to fetch raw article", logrus.Fields{"url": url})
	}
	if raw == nil {
		return nil, huma.Error404NotFound("Article not found")
	}

	return &rawResponse{Body: raw}, nil
}

func (s *Server) articleResponse(ctx context.Context, id uint, title string) (*articleResponse, error) {
	current, err := s.repository.Get(ctx, id)
	if err != nil {
		return nil, s.fail(ctx, err, title, logrus.Fields{"article_id": id})
	}

	view, err := newArticleView(current)
	if err != nil {
		return nil, s.fail(ctx, err, title, logrus.Fields{"article_id": id})
	}

	return &articleResponse{Body: view}, nil
}

func summary(text string) func(op *huma.Operation) {
	return func(op *huma.Operation) {
		op.Summary = text
	}
}

func defaultStatus(status int) func(op *huma.Operation) {
	return func(op *huma.Operation) {
		op.DefaultStatus = status
	}
}
