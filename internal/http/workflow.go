package http

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/sirupsen/logrus"

	"seowriter/app/internal/article"
	"seowriter/app/internal/workflow"
)

const (
	titleScrape   = "Web scraping failed"
	titlePersona  = "Persona analysis failed"
	titleOutline  = "Outline generation failed"
	titleContent  = "Content generation failed"
	titleFinalize = "Finalization failed"
)

type scrapeInput struct {
	Body struct {
		Keyword    string `json:"keyword" minLength:"1"`
		MaxResults *int   `json:"maxResults,omitempty" minimum:"0" maximum:"20"`
		ArticleID  int    `json:"articleId,omitempty" minimum:"0"`
	}
}

type scrapeResponse struct {
	Body struct {
		Results []article.ScrapedResult `json:"results"`
		Count   int                     `json:"count"`
		Message string                  `json:"message"`
		Article *articleView            `json:"article,omitempty"`
	}
}

type personaInput struct {
	Body struct {
		ArticleID         int     `json:"articleId" minimum:"1"`
		TargetKeyword     string  `json:"targetKeyword"`
		Industry          string  `json:"industry"`
		ContentType       string  `json:"contentType"`
		AdditionalContext *string `json:"additionalContext,omitempty"`
	}
}

type personaResponse struct {
	Body struct {
		Article         articleView              `json:"article"`
		PersonaAnalysis *article.PersonaAnalysis `json:"personaAnalysis"`
	}
}

type articleRefInput struct {
	Body struct {
		ArticleID int `json:"articleId" minimum:"1"`
	}
}

type outlineResponse struct {
	Body struct {
		Article articleView      `json:"article"`
		Outline *article.Outline `json:"outline"`
	}
}

type contentInput struct {
	Body struct {
		ArticleID int    `json:"articleId" minimum:"1"`
		Section   string `json:"section,omitempty"`
	}
}

type contentResponse struct {
	Body struct {
		Article *articleView `json:"article,omitempty"`
		Content any          `json:"content"`
	}
}

type finalizeResponse struct {
	Body struct {
		Article  articleView       `json:"article"`
		MetaTags *article.MetaTags `json:"metaTags"`
	}
}

type contentDoneEvent struct {
	Article articleView       `json:"article"`
	Content map[string]string `json:"content"`
}

type problemEvent struct {
	Status int    `json:"status"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

func (s *Server) registerWorkflowRoutes() {
	huma.Post(s.api, "/api/scrape", s.scrape, summary("Scrape competitor pages"))
	huma.Post(s.api, "/api/generate-persona", s.generatePersona, summary("Analyze persona and intent"))
	huma.Post(s.api, "/api/generate-outline", s.generateOutline, summary("Generate outline"))
	huma.Post(s.api, "/api/generate-content", s.generateContent, summary("Generate article content"))
	huma.Post(s.api, "/api/finalize", s.finalize, summary("Finalize article"))

	sse.Register(s.api, huma.Operation{
		OperationID: "generate-content-stream",
		Method:      stdhttp.MethodPost,
		Path:        "/api/generate-content/stream",
		Summary:     "Generate article content with progress events",
	}, map[string]any{
		"progress": workflow.Progress{},
		"done":     contentDoneEvent{},
		"error":    problemEvent{},
	}, s.generateContentStream)
}

func (s *Server) scrape(ctx context.Context, input *scrapeInput) (*scrapeResponse, error) {
	keyword := strings.TrimSpace(input.Body.Keyword)
	if keyword == "" {
		return nil, huma.Error400BadRequest("keyword is required")
	}
	maxResults := workflow.DefaultMaxResults
	if input.Body.MaxResults != nil {
		maxResults = *input.Body.MaxResults
	}
	fields := logrus.Fields{"keyword": keyword, "max_results": maxResults}

	resp := &scrapeResponse{}
	if input.Body.ArticleID > 0 {
		id := uint(input.Body.ArticleID)
		fields["article_id"] = id

		updated, results, err := s.workflow.Scrape(ctx, id, keyword, maxResults)
		if err != nil {
			return nil, s.fail(ctx, err, titleScrape, fields)
		}
		view, err := newArticleView(updated)
		if err != nil {
			return nil, s.fail(ctx, err, titleScrape, fields)
		}
		resp.Body.Article = &view
		resp.Body.Results = results
	} else {
		results, err := s.collector.Collect(ctx, keyword, maxResults)
		if err != nil {
			return nil, s.fail(ctx, err, titleScrape, fields)
		}
		resp.Body.Results = results
	}

	if resp.Body.Results == nil {
		resp.Body.Results = []article.ScrapedResult{}
	}
	resp.Body.Count = len(resp.Body.Results)
	resp.Body.Message = fmt.Sprintf("Successfully scraped %d articles and saved to database", resp.Body.Count)

	return resp, nil
}

func (s *Server) generatePersona(ctx context.Context, input *personaInput) (*personaResponse, error) {
	id := uint(input.Body.ArticleID)
	updated, persona, err := s.workflow.Persona(ctx, id, workflow.PersonaInput{
		TargetKeyword:     input.Body.TargetKeyword,
		Industry:          input.Body.Industry,
		ContentType:       input.Body.ContentType,
		AdditionalContext: input.Body.AdditionalContext,
	})
	if err != nil {
		return nil, s.fail(ctx, err, titlePersona, logrus.Fields{"article_id": id})
	}

	view, err := newArticleView(updated)
	if err != nil {
		return nil, s.fail(ctx, err, titlePersona, logrus.Fields{"article_id": id})
	}

	resp := &personaResponse{}
	resp.Body.Article = view
	resp.Body.PersonaAnalysis = persona
	return resp, nil
}

func (s *Server) generateOutline(ctx context.Context, input *articleRefInput) (*outlineResponse, error) {
	id := uint(input.Body.ArticleID)
	updated, outline, err := s.workflow.Outline(ctx, id)
	if err != nil {
		return nil, s.fail(ctx, err, titleOutline, logrus.Fields{"article_id": id})
	}

	view, err := newArticleView(updated)
	if err != nil {
		return nil, s.fail(ctx, err, titleOutline, logrus.Fields{"article_id": id})
	}

	resp := &outlineResponse{}
	resp.Body.Article = view
	resp.Body.Outline = outline
	return resp, nil
}

func (s *Server) generateContent(ctx context.Context, input *contentInput) (*contentResponse, error) {
	id := uint(input.Body.ArticleID)
	fields := logrus.Fields{"article_id": id}
	resp := &contentResponse{}

	if section := strings.TrimSpace(input.Body.Section); section != "" {
		fields["section"] = section
		body, err := s.workflow.GenerateSection(ctx, id, section)
		if err != nil {
			return nil, s.fail(ctx, err, titleContent, fields)
		}
		resp.Body.Content = body
		return resp, nil
	}

	updated, content, err := s.workflow.GenerateContent(ctx, id, nil)
	if err != nil {
		return nil, s.fail(ctx, err, titleContent, fields)
	}

	view, err := newArticleView(updated)
	if err != nil {
		return nil, s.fail(ctx, err, titleContent, fields)
	}

	resp.Body.Article = &view
	resp.Body.Content = content
	return resp, nil
}

func (s *Server) generateContentStream(ctx context.Context, input *articleRefInput, send sse.Sender) {
	id := uint(input.Body.ArticleID)
	fields := logrus.Fields{"article_id": id}

	updated, content, err := s.workflow.GenerateContent(ctx, id, func(progress workflow.Progress) {
		_ = send.Data(progress)
	})
	if err != nil {
		s.sendProblem(ctx, send, s.fail(ctx, err, titleContent, fields))
		return
	}

	view, err := newArticleView(updated)
	if err != nil {
		s.sendProblem(ctx, send, s.fail(ctx, err, titleContent, fields))
		return
	}

	_ = send.Data(contentDoneEvent{Article: view, Content: content})
}

func (s *Server) finalize(ctx context.Context, input *articleRefInput) (*finalizeResponse, error) {
	id := uint(input.Body.ArticleID)
	updated, tags, err := s.workflow.Finalize(ctx, id)
	if err != nil {
		return nil, s.fail(ctx, err, titleFinalize, logrus.Fields{"article_id": id})
	}

	view, err := newArticleView(updated)
	if err != nil {
		return nil, s.fail(ctx, err, titleFinalize, logrus.Fields{"article_id": id})
	}

	resp := &finalizeResponse{}
	resp.Body.Article = view
	resp.Body.MetaTags = tags
	return resp, nil
}

// sendProblem writes a failure as the terminal event of a stream.
func (s *Server) sendProblem(ctx context.Context, send sse.Sender, err error) {
	event := problemEvent{Status: stdhttp.StatusInternalServerError, Title: "Request failed", Detail: errorFallbackMessage}
	if model, ok := err.(*huma.ErrorModel); ok {
		event = problemEvent{Status: model.Status, Title: model.Title, Detail: model.Detail}
	}
	if sendErr := send.Data(event); sendErr != nil {
		s.logWarn(ctx, sendErr, "writing stream error event", nil)
	}
}
