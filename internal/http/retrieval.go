package http

import (
	"context"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"

	"seowriter/app/internal/llm"
	"seowriter/app/internal/retrieval"
)

type vectorSearchInput struct {
	Body struct {
		Keyword string `json:"keyword" minLength:"1"`
		K       int    `json:"k,omitempty" minimum:"0" maximum:"50"`
	}
}

type vectorSearchResponse struct {
	Body struct {
		Results []retrieval.Result `json:"results"`
		Count   int                `json:"count"`
	}
}

type llmContextInput struct {
	Body struct {
		Keyword string `json:"keyword" minLength:"1"`
	}
}

type llmContextResponse struct {
	Body struct {
		ContextText string             `json:"contextText"`
		Sources     []retrieval.Source `json:"sources"`
		Count       int                `json:"count"`
	}
}

type proxyInput struct {
	Body struct {
		Prompt     string `json:"prompt"`
		Model      string `json:"model,omitempty"`
		UseContext bool   `json:"useContext,omitempty"`
		Keyword    string `json:"keyword,omitempty"`
	}
}

type proxyResponse struct {
	Body struct {
		Text    string `json:"text"`
		Backend string `json:"backend"`
	}
}

func (s *Server) registerRetrievalRoutes() {
	huma.Post(s.api, "/api/vector-search", s.vectorSearch, summary("Rank cached content for a keyword"))
	huma.Post(s.api, "/api/llm-context", s.llmContext, summary("Assemble reference context"))
	huma.Post(s.api, "/proxy/llm", s.proxyLLM, summary("Generate text"))
}

func (s *Server) vectorSearch(ctx context.Context, input *vectorSearchInput) (*vectorSearchResponse, error) {
	keyword := strings.TrimSpace(input.Body.Keyword)
	if keyword == "" {
		return nil, huma.Error400BadRequest("keyword is required")
	}

	results, err := s.searcher.Search(ctx, keyword, input.Body.K)
	if err != nil {
		return nil, s.fail(ctx, err, "Vector search failed", logrus.Fields{"keyword": keyword})
	}
	if results == nil {
		results = []retrieval.Result{}
	}

	resp := &vectorSearchResponse{}
	resp.Body.Results = results
	resp.Body.Count = len(results)
	return resp, nil
}

func (s *Server) llmContext(ctx context.Context, input *llmContextInput) (*llmContextResponse, error) {
	keyword := strings.TrimSpace(input.Body.Keyword)
	if keyword == "" {
		return nil, huma.Error400BadRequest("keyword is required")
	}

	block := s.workflow.ReferenceContext(ctx, keyword)

	resp := &llmContextResponse{}
	resp.Body.ContextText = block.Text
	resp.Body.Sources = block.Sources
	if resp.Body.Sources == nil {
		resp.Body.Sources = []retrieval.Source{}
	}
	resp.Body.Count = len(resp.Body.Sources)
	return resp, nil
}

// proxyLLM prefers the local backend and falls back to the remote API when none is available.
func (s *Server) proxyLLM(ctx context.Context, input *proxyInput) (*proxyResponse, error) {
	prompt := strings.TrimSpace(input.Body.Prompt)
	if prompt == "" {
		return nil, huma.Error400BadRequest("Prompt is required")
	}

	opts := llm.Options{Model: strings.TrimSpace(input.Body.Model)}
	if input.Body.UseContext {
		query := strings.TrimSpace(input.Body.Keyword)
		if query == "" {
			query = prompt
		}
		opts.Context = s.workflow.ReferenceContext(ctx, query).Snippets
	}

	backend, err := s.generationBackend(ctx)
	if err != nil {
		return nil, s.fail(ctx, err, "LLM generation failed", nil)
	}

	text, err := backend.Generate(ctx, prompt, opts)
	if err != nil {
		return nil, s.fail(ctx, err, "LLM generation failed", logrus.Fields{"backend": backend.Name()})
	}

	resp := &proxyResponse{}
	resp.Body.Text = text
	resp.Body.Backend = backend.Name()
	return resp, nil
}

func (s *Server) generationBackend(ctx context.Context) (llm.Backend, error) {
	if s.local == nil {
		return s.remote, nil
	}

	backend, err := s.local.Resolve(ctx)
	if err == nil {
		return backend, nil
	}
	if eris.Is(err, llm.ErrNoBackend) {
		return s.remote, nil
	}
	return nil, err
}
