package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"

	"seowriter/app/internal/article"
	"seowriter/app/internal/corpus"
	"seowriter/app/internal/db"
	"seowriter/app/internal/llm"
	"seowriter/app/internal/ollama"
	"seowriter/app/internal/retrieval"
	"seowriter/app/internal/scrape"
	"seowriter/app/internal/workflow"
)

func TestCreateArticleReturnsCreated(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, testDeps{})

	rec := doJSON(t, srv, "POST", "/api/articles", map[string]any{
		"title":         "Guide to CRM software",
		"targetKeyword": "crm software",
		"industry":      "Software",
		"contentType":   "blog post",
	})

	if rec.Code != 201 {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var body articleView
	decode(t, rec, &body)
	if body.ID == 0 || body.CurrentStep != article.FirstStep || body.Status != "draft" {
		t.Fatalf("unexpected article: %+v", body)
	}
	if len(body.Steps) != len(workflow.Steps) {
		t.Fatalf("expected %d step states, got %d", len(workflow.Steps), len(body.Steps))
	}
}

func TestCreateArticleRejectsBlankFields(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, testDeps{})

	rec := doJSON(t, srv, "POST", "/api/articles", map[string]any{
		"title":         " ",
		"targetKeyword": "crm software",
		"industry":      "Software",
		"contentType":   "",
	})

	if rec.Code != 400 {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}

	problem := decodeProblem(t, rec)
	if problem.Title != "Invalid article data" {
		t.Fatalf("unexpected title %q", problem.Title)
	}
	if len(problem.Errors) != 2 {
		t.Fatalf("expected 2 field errors, got %+v", problem.Errors)
	}
	if problem.Errors[0].Location != "body.title" {
		t.Fatalf("expected title field error first, got %q", problem.Errors[0].Location)
	}
}

func TestCreateArticleMissingFieldIsBadRequest(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, testDeps{})

	rec := doJSON(t, srv, "POST", "/api/articles", map[string]any{"title": "No keyword"})

	if rec.Code != 400 {
		t.Fatalf("expected request validation to answer 400, got %d", rec.Code)
	}
	if len(decodeProblem(t, rec).Errors) == 0 {
		t.Fatalf("expected per-field details")
	}
}

func TestArticleLifecycleRoutes(t *testing.T) {
	t.Parallel()

	srv, repo := newTestServer(t, testDeps{})
	created := seedArticle(t, repo)
	path := "/api/articles/" + itoa(created.ID)

	rec := doJSON(t, srv, "PATCH", path, map[string]any{"industry": "Retail", "currentStep": 2})
	if rec.Code != 200 {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var patched articleView
	decode(t, rec, &patched)
	if patched.Industry != "Retail" || patched.CurrentStep != 2 {
		t.Fatalf("patch not applied: %+v", patched)
	}

	rec = doJSON(t, srv, "GET", "/api/articles", nil)
	var listed []articleView
	decode(t, rec, &listed)
	if len(listed) != 1 || listed[0].ID != created.ID {
		t.Fatalf("unexpected list: %+v", listed)
	}

	rec = doJSON(t, srv, "DELETE", path, nil)
	if rec.Code != 204 {
		t.Fatalf("expected status 204, got %d", rec.Code)
	}

	rec = doJSON(t, srv, "GET", path, nil)
	if rec.Code != 404 {
		t.Fatalf("expected status 404 after delete, got %d", rec.Code)
	}
}

func TestPatchArticleRejectsInvalidStep(t *testing.T) {
	t.Parallel()

	srv, repo := newTestServer(t, testDeps{})
	created := seedArticle(t, repo)

	rec := doJSON(t, srv, "PATCH", "/api/articles/"+itoa(created.ID), map[string]any{"currentStep": 9})
	if rec.Code != 400 {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
}

func TestScrapedURLRoutesReplaceSet(t *testing.T) {
	t.Parallel()

	srv, repo := newTestServer(t, testDeps{})
	created := seedArticle(t, repo)
	path := "/api/articles/" + itoa(created.ID) + "/scraped-urls"

	for _, url := range []string{"https://a.example", "https://b.example"} {
		rec := doJSON(t, srv, "POST", path, map[string]any{
			"results": []map[string]any{{"url": url, "title": "T", "content": "C", "domain": "example"}},
		})
		if rec.Code != 200 {
			t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
		}
	}

	rec := doJSON(t, srv, "GET", path, nil)
	var urls []scrapedURLView
	decode(t, rec, &urls)
	if len(urls) != 1 || urls[0].URL != "https://b.example" {
		t.Fatalf("expected only the latest set, got %+v", urls)
	}
}

func TestRawArticleRoutes(t *testing.T) {
	t.Parallel()

	raw := corpus.RawArticle{ID: 3, URL: "https://a.example/post", Title: "Post", FetchedAt: time.Now()}
	srv, _ := newTestServer(t, testDeps{corpus: &stubCorpus{raws: []corpus.RawArticle{raw}}})

	rec := doJSON(t, srv, "GET", "/api/articles-raw", nil)
	var listed []corpus.RawArticle
	decode(t, rec, &listed)
	if len(listed) != 1 || listed[0].URL != raw.URL {
		t.Fatalf("unexpected raw list: %+v", listed)
	}

	rec = doJSON(t, srv, "GET", "/api/articles-raw/by-url?url=https://a.example/post", nil)
	if rec.Code != 200 {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	rec = doJSON(t, srv, "GET", "/api/articles-raw/by-url?url=https://missing.example", nil)
	if rec.Code != 404 {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}

	rec = doJSON(t, srv, "GET", "/api/articles-raw/by-url", nil)
	if rec.Code != 400 {
		t.Fatalf("expected status 400 without url, got %d", rec.Code)
	}
}

func TestScrapeWithoutArticleUsesCollector(t *testing.T) {
	t.Parallel()

	collector := &stubCollector{results: []article.ScrapedResult{{URL: "https://a.example", Title: "A"}}}
	flow := &stubWorkflow{}
	srv, _ := newTestServer(t, testDeps{collector: collector, workflow: flow})

	rec := doJSON(t, srv, "POST", "/api/scrape", map[string]any{"keyword": "standing desks"})
	if rec.Code != 200 {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Results []article.ScrapedResult `json:"results"`
		Count   int                     `json:"count"`
		Message string                  `json:"message"`
	}
	decode(t, rec, &body)
	if body.Count != 1 || !contains(body.Message, "1 articles") {
		t.Fatalf("unexpected response: %+v", body)
	}
	if collector.maxResults != 8 {
		t.Fatalf("expected default maxResults 8, got %d", collector.maxResults)
	}
	if flow.scrapeCalls != 0 {
		t.Fatalf("expected no workflow step without articleId")
	}
}

func TestScrapeExplicitZeroMaxResultsIsEmpty(t *testing.T) {
	t.Parallel()

	collector := &stubCollector{results: []article.ScrapedResult{{URL: "https://a.example", Title: "A"}}}
	srv, _ := newTestServer(t, testDeps{collector: collector})

	rec := doJSON(t, srv, "POST", "/api/scrape", map[string]any{"keyword": "desks", "maxResults": 0})
	if rec.Code != 200 {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Results []article.ScrapedResult `json:"results"`
		Count   int                     `json:"count"`
	}
	decode(t, rec, &body)
	if collector.calls != 1 || collector.maxResults != 0 {
		t.Fatalf("expected collector to receive maxResults 0, got %d (calls=%d)", collector.maxResults, collector.calls)
	}
	if body.Results == nil || len(body.Results) != 0 || body.Count != 0 {
		t.Fatalf("expected empty result set, got %+v", body)
	}
}

func TestScrapeWithArticleRunsWorkflowStep(t *testing.T) {
	t.Parallel()

	flow := &stubWorkflow{
		article: &article.Article{ID: 4, CurrentStep: 2, Status: article.StatusDraft},
		results: []article.ScrapedResult{{URL: "https://a.example"}, {URL: "https://b.example"}},
	}
	srv, _ := newTestServer(t, testDeps{workflow: flow})

	rec := doJSON(t, srv, "POST", "/api/scrape", map[string]any{"keyword": "desks", "maxResults": 2, "articleId": 4})
	if rec.Code != 200 {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Count   int          `json:"count"`
		Article *articleView `json:"article"`
	}
	decode(t, rec, &body)
	if flow.scrapeCalls != 1 || body.Count != 2 || body.Article == nil || body.Article.CurrentStep != 2 {
		t.Fatalf("unexpected scrape response: %+v (calls %d)", body, flow.scrapeCalls)
	}
}

func TestScrapeSearchFailureIsBadGateway(t *testing.T) {
	t.Parallel()

	collector := &stubCollector{err: eris.Wrap(scrape.ErrSearchFailed, "connection refused")}
	srv, _ := newTestServer(t, testDeps{collector: collector})

	rec := doJSON(t, srv, "POST", "/api/scrape", map[string]any{"keyword": "desks"})
	if rec.Code != 502 {
		t.Fatalf("expected status 502, got %d", rec.Code)
	}
	if problem := decodeProblem(t, rec); problem.Title != titleScrape {
		t.Fatalf("unexpected title %q", problem.Title)
	}
}

func TestWorkflowErrorsCarryToastTitles(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		path   string
		body   map[string]any
		err    error
		status int
		title  string
	}{
		{
			name:   "outline before persona",
			path:   "/api/generate-outline",
			body:   map[string]any{"articleId": 1},
			err:    eris.Wrap(workflow.ErrPrecondition, "persona analysis is required before the outline"),
			status: 400,
			title:  titleOutline,
		},
		{
			name:   "unknown article",
			path:   "/api/finalize",
			body:   map[string]any{"articleId": 9},
			err:    eris.Wrap(article.ErrNotFound, "article 9"),
			status: 404,
			title:  titleFinalize,
		},
		{
			name: "malformed persona",
			path: "/api/generate-persona",
			body: map[string]any{
				"articleId": 1, "targetKeyword": "crm", "industry": "Software", "contentType": "blog post",
			},
			err:    eris.Wrap(llm.ErrParse, "missing targetAudience"),
			status: 502,
			title:  titlePersona,
		},
		{
			name:   "unknown section",
			path:   "/api/generate-content",
			body:   map[string]any{"articleId": 1, "section": "Pricing"},
			err:    eris.Wrap(workflow.ErrSectionNotFound, `section "Pricing"`),
			status: 404,
			title:  titleContent,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv, _ := newTestServer(t, testDeps{workflow: &stubWorkflow{err: tc.err}})

			rec := doJSON(t, srv, "POST", tc.path, tc.body)
			if rec.Code != tc.status {
				t.Fatalf("expected status %d, got %d: %s", tc.status, rec.Code, rec.Body.String())
			}

			problem := decodeProblem(t, rec)
			if problem.Title != tc.title {
				t.Fatalf("expected title %q, got %q", tc.title, problem.Title)
			}
			if problem.Detail == "" {
				t.Fatalf("expected a detail message")
			}
		})
	}
}

func TestGenerateContentSingleSection(t *testing.T) {
	t.Parallel()

	flow := &stubWorkflow{section: "Fresh pricing copy"}
	srv, _ := newTestServer(t, testDeps{workflow: flow})

	rec := doJSON(t, srv, "POST", "/api/generate-content", map[string]any{"articleId": 1, "section": "Pricing"})
	if rec.Code != 200 {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body map[string]any
	decode(t, rec, &body)
	if body["content"] != "Fresh pricing copy" {
		t.Fatalf("unexpected content %v", body["content"])
	}
	if _, ok := body["article"]; ok {
		t.Fatalf("expected no article for a single section")
	}
	if flow.sectionHeading != "Pricing" {
		t.Fatalf("expected Pricing heading, got %q", flow.sectionHeading)
	}
}

func TestGenerateContentStreamEmitsProgress(t *testing.T) {
	t.Parallel()

	flow := &stubWorkflow{
		article: &article.Article{ID: 1, CurrentStep: 5, Status: article.StatusDraft},
		content: map[string]string{"A": "alpha", "B": "beta"},
	}
	srv, _ := newTestServer(t, testDeps{workflow: flow})

	rec := doJSON(t, srv, "POST", "/api/generate-content/stream", map[string]any{"articleId": 1})
	if rec.Code != 200 {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	body := rec.Body.String()
	if strings.Count(body, "event: progress") != 2 {
		t.Fatalf("expected two progress events, got %q", body)
	}
	if !contains(body, "event: done") || !contains(body, `"completed":2`) {
		t.Fatalf("expected final progress and done event, got %q", body)
	}
	if strings.Index(body, "event: done") < strings.LastIndex(body, "event: progress") {
		t.Fatalf("expected done after progress, got %q", body)
	}
}

func TestGenerateContentStreamReportsFailure(t *testing.T) {
	t.Parallel()

	flow := &stubWorkflow{err: eris.Wrap(llm.ErrConnection, "dial tcp")}
	srv, _ := newTestServer(t, testDeps{workflow: flow})

	rec := doJSON(t, srv, "POST", "/api/generate-content/stream", map[string]any{"articleId": 1})

	body := rec.Body.String()
	if !contains(body, "event: error") || !contains(body, titleContent) {
		t.Fatalf("expected error event with toast title, got %q", body)
	}
	if contains(body, "event: done") {
		t.Fatalf("expected no done event after a failure")
	}
}

func TestFinalizeReturnsMetaTags(t *testing.T) {
	t.Parallel()

	flow := &stubWorkflow{
		article: &article.Article{ID: 1, CurrentStep: 5, Status: article.StatusPublished, WordCount: 42},
		meta:    &article.MetaTags{MetaTitle: "CRM Guide"},
	}
	srv, _ := newTestServer(t, testDeps{workflow: flow})

	rec := doJSON(t, srv, "POST", "/api/finalize", map[string]any{"articleId": 1})
	if rec.Code != 200 {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Article  articleView      `json:"article"`
		MetaTags article.MetaTags `json:"metaTags"`
	}
	decode(t, rec, &body)
	if body.MetaTags.MetaTitle != "CRM Guide" || body.Article.WordCount != 42 || body.Article.Status != "published" {
		t.Fatalf("unexpected finalize response: %+v", body)
	}
}

func TestVectorSearchAndContextRoutes(t *testing.T) {
	t.Parallel()

	searcher := &stubSearcher{results: []retrieval.Result{{ID: 1, Title: "A", Similarity: 0.9, Method: retrieval.MethodKeyword}}}
	flow := &stubWorkflow{context: retrieval.Context{
		Text:     "Title: A",
		Snippets: []string{"Title: A"},
		Sources:  []retrieval.Source{{Title: "A", URL: "https://a.example"}},
	}}
	srv, _ := newTestServer(t, testDeps{searcher: searcher, workflow: flow})

	rec := doJSON(t, srv, "POST", "/api/vector-search", map[string]any{"keyword": "desks", "k": 3})
	var search struct {
		Results []retrieval.Result `json:"results"`
		Count   int                `json:"count"`
	}
	decode(t, rec, &search)
	if search.Count != 1 || searcher.k != 3 {
		t.Fatalf("unexpected search response %+v (k=%d)", search, searcher.k)
	}

	rec = doJSON(t, srv, "POST", "/api/llm-context", map[string]any{"keyword": "desks"})
	var block struct {
		ContextText string             `json:"contextText"`
		Sources     []retrieval.Source `json:"sources"`
		Count       int                `json:"count"`
	}
	decode(t, rec, &block)
	if block.ContextText != "Title: A" || block.Count != 1 {
		t.Fatalf("unexpected context response %+v", block)
	}
}

func TestProxyFallsBackToRemote(t *testing.T) {
	t.Parallel()

	remote := &stubBackend{name: "remote", text: "from remote"}
	resolver := &stubResolver{err: eris.Wrap(llm.ErrNoBackend, "probed 1 candidates")}
	flow := &stubWorkflow{context: retrieval.Context{Snippets: []string{"snippet"}}}
	srv, _ := newTestServer(t, testDeps{remote: remote, local: resolver, workflow: flow})

	rec := doJSON(t, srv, "POST", "/proxy/llm", map[string]any{"prompt": "hello", "useContext": true})
	if rec.Code != 200 {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Text    string `json:"text"`
		Backend string `json:"backend"`
	}
	decode(t, rec, &body)
	if body.Text != "from remote" || body.Backend != "remote" {
		t.Fatalf("unexpected proxy response %+v", body)
	}
	if len(remote.opts.Context) != 1 || flow.contextQuery != "hello" {
		t.Fatalf("expected prompt to be used as context query, got %+v (%q)", remote.opts, flow.contextQuery)
	}
}

func TestProxyPrefersLocalBackend(t *testing.T) {
	t.Parallel()

	local := &stubBackend{name: "daemon", text: "from daemon"}
	remote := &stubBackend{name: "remote"}
	srv, _ := newTestServer(t, testDeps{remote: remote, local: &stubResolver{backend: local}})

	rec := doJSON(t, srv, "POST", "/proxy/llm", map[string]any{"prompt": "hello", "model": "tinymistral"})

	var body struct {
		Text    string `json:"text"`
		Backend string `json:"backend"`
	}
	decode(t, rec, &body)
	if body.Backend != "daemon" || local.opts.Model != "tinymistral" || remote.calls != 0 {
		t.Fatalf("expected the local backend to answer, got %+v", body)
	}
}

func TestProxyMissingModelIsConflict(t *testing.T) {
	t.Parallel()

	local := &stubBackend{name: "daemon", err: eris.Wrap(llm.ErrModelNotAvailable, "model tinymistral")}
	srv, _ := newTestServer(t, testDeps{local: &stubResolver{backend: local}})

	rec := doJSON(t, srv, "POST", "/proxy/llm", map[string]any{"prompt": "hello"})
	if rec.Code != 409 {
		t.Fatalf("expected status 409, got %d", rec.Code)
	}
	if problem := decodeProblem(t, rec); problem.Detail != modelRemediation {
		t.Fatalf("expected remediation hint, got %q", problem.Detail)
	}

	rec = doJSON(t, srv, "POST", "/proxy/llm", map[string]any{"prompt": " "})
	if rec.Code != 400 {
		t.Fatalf("expected status 400 for a blank prompt, got %d", rec.Code)
	}
}

func TestLocalRoutesWithoutManager(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, testDeps{})

	rec := doJSON(t, srv, "GET", "/api/local-llm/status", nil)
	if rec.Code != 200 || !contains(rec.Body.String(), `"running":false`) {
		t.Fatalf("expected not running status, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, srv, "POST", "/api/local-llm/start", nil)
	if rec.Code != 409 {
		t.Fatalf("expected status 409, got %d", rec.Code)
	}
}

func TestLocalStartAndStop(t *testing.T) {
	t.Parallel()

	manager := &stubManager{pid: 4242}
	srv, _ := newTestServer(t, testDeps{manager: manager})

	rec := doJSON(t, srv, "POST", "/api/local-llm/start", nil)
	if rec.Code != 200 || !contains(rec.Body.String(), `"pid":4242`) {
		t.Fatalf("unexpected start response %d: %s", rec.Code, rec.Body.String())
	}

	manager.startErr = ollama.ErrAlreadyRunning
	rec = doJSON(t, srv, "POST", "/api/local-llm/start", nil)
	if rec.Code != 409 {
		t.Fatalf("expected status 409 for a running daemon, got %d", rec.Code)
	}

	rec = doJSON(t, srv, "POST", "/api/local-llm/stop", nil)
	if rec.Code != 200 || manager.stops != 1 {
		t.Fatalf("unexpected stop response %d (stops %d)", rec.Code, manager.stops)
	}
}

func TestLocalDeleteModel(t *testing.T) {
	t.Parallel()

	manager := &stubManager{deleteErr: eris.Wrap(ollama.ErrModelNotFound, "llama3")}
	srv, _ := newTestServer(t, testDeps{manager: manager})

	rec := doJSON(t, srv, "DELETE", "/api/local-llm/models/llama3", nil)
	if rec.Code != 404 {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}

	manager.deleteErr = nil
	rec = doJSON(t, srv, "DELETE", "/api/local-llm/models/tinymistral", nil)
	if rec.Code != 204 || manager.deleted != "tinymistral" {
		t.Fatalf("expected model to be deleted, got %d (%q)", rec.Code, manager.deleted)
	}
}

func TestLocalInitStartsAndProvisions(t *testing.T) {
	t.Parallel()

	manager := &stubManager{
		required: []string{"tinymistral"},
		progress: []ollama.PullProgress{
			{Model: "tinymistral", Status: "pulling manifest"},
			{Model: "tinymistral", Status: "success"},
		},
	}
	resolver := &stubResolver{err: llm.ErrNoBackend}
	srv, _ := newTestServer(t, testDeps{manager: manager, local: resolver})

	rec := doJSON(t, srv, "POST", "/api/local-llm/init", nil)

	body := rec.Body.String()
	if manager.starts != 1 {
		t.Fatalf("expected the daemon to be started once, got %d", manager.starts)
	}
	if strings.Count(body, "event: progress") != 2 || !contains(body, "event: done") {
		t.Fatalf("expected pull progress and done, got %q", body)
	}
	if resolver.resets != 1 {
		t.Fatalf("expected selector reset after provisioning, got %d", resolver.resets)
	}
}

func TestLocalChatStreamsTokens(t *testing.T) {
	t.Parallel()

	chat := &stubChat{chunks: []string{"Hel", "lo"}}
	srv, _ := newTestServer(t, testDeps{chat: chat})

	rec := doJSON(t, srv, "POST", "/api/local-llm/chat", map[string]any{
		"messages": []map[string]any{{"role": "user", "content": "hi"}},
	})

	body := rec.Body.String()
	if strings.Count(body, "event: token") != 2 || !contains(body, "event: done") {
		t.Fatalf("expected token events and done, got %q", body)
	}
	if len(chat.messages) != 1 || chat.messages[0].Content != "hi" {
		t.Fatalf("unexpected messages %+v", chat.messages)
	}

	chat.err = eris.Wrap(llm.ErrModelNotAvailable, "model tinymistral")
	rec = doJSON(t, srv, "POST", "/api/local-llm/chat", map[string]any{
		"messages": []map[string]any{{"role": "user", "content": "hi"}},
	})
	if body := rec.Body.String(); !contains(body, "event: error") || !contains(body, `"status":409`) {
		t.Fatalf("expected 409 error event, got %q", body)
	}
}

func TestHealthRouteReportsOK(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, testDeps{local: &stubResolver{backend: &stubBackend{name: "daemon"}}})

	rec := doJSON(t, srv, "GET", "/healthz", nil)
	if rec.Code != 200 {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var body struct {
		Status    string `json:"status"`
		Database  string `json:"database"`
		Generator string `json:"generator"`
		Local     string `json:"local"`
	}
	decode(t, rec, &body)
	if body.Status != "ok" || body.Database != "ok" || body.Local != "daemon" {
		t.Fatalf("unexpected health body %+v", body)
	}
}

func TestRateLimitReturnsProblem(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, testDeps{settings: &RateLimiterSettings{RequestsPerSecond: 0.001, Burst: 1, ClientTTL: time.Minute}})

	if rec := doJSON(t, srv, "GET", "/healthz", nil); rec.Code != 200 {
		t.Fatalf("expected first request to pass, got %d", rec.Code)
	}

	rec := doJSON(t, srv, "GET", "/healthz", nil)
	if rec.Code != 429 {
		t.Fatalf("expected status 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "1" {
		t.Fatalf("expected Retry-After header")
	}
	if problem := decodeProblem(t, rec); problem.Detail != rateLimitMessage {
		t.Fatalf("unexpected detail %q", problem.Detail)
	}
}

func TestRequestIDHeader(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, testDeps{})

	rec := doJSON(t, srv, "GET", "/healthz", nil)
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected a request id header")
	}
}

func TestStreamEventSchemasHaveDistinctNames(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, testDeps{})

	schemas := srv.API().OpenAPI().Components.Schemas.Map()
	for _, name := range []string{"Progress", "PullProgress"} {
		if _, ok := schemas[name]; !ok {
			t.Fatalf("expected schema %q to be registered", name)
		}
	}
}

func TestNewServerValidatesOptions(t *testing.T) {
	t.Parallel()

	if _, err := NewServer(Options{}); err == nil {
		t.Fatalf("expected error without dependencies")
	}
}

// helper utilities

type testDeps struct {
	workflow  *stubWorkflow
	corpus    *stubCorpus
	collector *stubCollector
	searcher  *stubSearcher
	remote    *stubBackend
	local     *stubResolver
	chat      *stubChat
	manager   *stubManager
	settings  *RateLimiterSettings
}

func newTestServer(t *testing.T, deps testDeps) (*Server, *article.GormRepository) {
	t.Helper()

	gormDB, err := db.Open(db.Options{Path: filepath.Join(t.TempDir(), "http.db")})
	if err != nil {
		t.Fatalf("db.Open returned error: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close(gormDB)
	})

	logger := silentLogger()
	if err := article.Migrate(context.Background(), gormDB, logger); err != nil {
		t.Fatalf("Migrate returned error: %v", err)
	}
	repo, err := article.NewRepository(gormDB, logger)
	if err != nil {
		t.Fatalf("NewRepository returned error: %v", err)
	}

	if deps.workflow == nil {
		deps.workflow = &stubWorkflow{}
	}
	if deps.corpus == nil {
		deps.corpus = &stubCorpus{}
	}
	if deps.collector == nil {
		deps.collector = &stubCollector{}
	}
	if deps.searcher == nil {
		deps.searcher = &stubSearcher{}
	}
	if deps.remote == nil {
		deps.remote = &stubBackend{name: "remote"}
	}
	settings := RateLimiterSettings{RequestsPerSecond: 100, Burst: 100, ClientTTL: time.Minute}
	if deps.settings != nil {
		settings = *deps.settings
	}

	opts := Options{
		Workflow:    deps.workflow,
		Repository:  repo,
		Corpus:      deps.corpus,
		Collector:   deps.collector,
		Searcher:    deps.searcher,
		Remote:      deps.remote,
		Database:    gormDB,
		Logger:      logger,
		RateLimiter: settings,
	}
	if deps.local != nil {
		opts.Local = deps.local
	}
	if deps.chat != nil {
		opts.Chat = deps.chat
	}
	if deps.manager != nil {
		opts.Manager = deps.manager
	}

	srv, err := NewServer(opts)
	if err != nil {
		t.Fatalf("NewServer returned error: %v", err)
	}
	t.Cleanup(srv.Close)

	return srv, repo
}

func seedArticle(t *testing.T, repo *article.GormRepository) *article.Article {
	t.Helper()

	created := &article.Article{
		Title:         "Guide to standing desks",
		TargetKeyword: "standing desks",
		Industry:      "Furniture",
		ContentType:   "blog post",
	}
	if err := repo.Create(context.Background(), created); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	return created
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encoding request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()

	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
}

type problemBody struct {
	Status int    `json:"status"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Errors []struct {
		Location string `json:"location"`
		Message  string `json:"message"`
	} `json:"errors"`
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) problemBody {
	t.Helper()

	var problem problemBody
	decode(t, rec, &problem)
	return problem
}

func contains(body, substring string) bool {
	return strings.Contains(body, substring)
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

func silentLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// stubs

type stubWorkflow struct {
	article        *article.Article
	results        []article.ScrapedResult
	content        map[string]string
	section        string
	meta           *article.MetaTags
	context        retrieval.Context
	err            error
	scrapeCalls    int
	sectionHeading string
	contextQuery   string
}

func (s *stubWorkflow) current(id uint) *article.Article {
	if s.article != nil {
		return s.article
	}
	return &article.Article{ID: id, CurrentStep: article.FirstStep, Status: article.StatusDraft}
}

func (s *stubWorkflow) Scrape(_ context.Context, id uint, _ string, _ int) (*article.Article, []article.ScrapedResult, error) {
	s.scrapeCalls++
	if s.err != nil {
		return nil, nil, s.err
	}
	return s.current(id), s.results, nil
}

func (s *stubWorkflow) Persona(_ context.Context, id uint, _ workflow.PersonaInput) (*article.Article, *article.PersonaAnalysis, error) {
	if s.err != nil {
		return nil, nil, s.err
	}
	return s.current(id), &article.PersonaAnalysis{TargetAudience: "buyers"}, nil
}

func (s *stubWorkflow) Outline(_ context.Context, id uint) (*article.Article, *article.Outline, error) {
	if s.err != nil {
		return nil, nil, s.err
	}
	return s.current(id), &article.Outline{Title: "Guide"}, nil
}

func (s *stubWorkflow) GenerateContent(_ context.Context, id uint, progress func(workflow.Progress)) (*article.Article, map[string]string, error) {
	if s.err != nil {
		return nil, nil, s.err
	}
	completed := 0
	for heading := range s.content {
		completed++
		if progress != nil {
			progress(workflow.Progress{Completed: completed, Total: len(s.content), Section: heading})
		}
	}
	return s.current(id), s.content, nil
}

func (s *stubWorkflow) GenerateSection(_ context.Context, _ uint, heading string) (string, error) {
	s.sectionHeading = heading
	if s.err != nil {
		return "", s.err
	}
	return s.section, nil
}

func (s *stubWorkflow) Finalize(_ context.Context, id uint) (*article.Article, *article.MetaTags, error) {
	if s.err != nil {
		return nil, nil, s.err
	}
	return s.current(id), s.meta, nil
}

func (s *stubWorkflow) ReferenceContext(_ context.Context, keyword string) retrieval.Context {
	s.contextQuery = keyword
	return s.context
}

type stubCorpus struct {
	raws []corpus.RawArticle
}

func (s *stubCorpus) RawByURL(_ context.Context, url string) (*corpus.RawArticle, error) {
	for i := range s.raws {
		if s.raws[i].URL == url {
			return &s.raws[i], nil
		}
	}
	return nil, nil
}

func (s *stubCorpus) LatestRaw(_ context.Context, _ int) ([]corpus.RawArticle, error) {
	return s.raws, nil
}

type stubCollector struct {
	results    []article.ScrapedResult
	err        error
	maxResults int
	calls      int
}

func (s *stubCollector) Collect(_ context.Context, _ string, maxResults int) ([]article.ScrapedResult, error) {
	s.calls++
	s.maxResults = maxResults
	if maxResults <= 0 {
		return []article.ScrapedResult{}, s.err
	}
	return s.results, s.err
}

type stubSearcher struct {
	results []retrieval.Result
	k       int
}

func (s *stubSearcher) Search(_ context.Context, _ string, k int) ([]retrieval.Result, error) {
	s.k = k
	return s.results, nil
}

type stubBackend struct {
	name  string
	text  string
	err   error
	opts  llm.Options
	calls int
}

func (s *stubBackend) Name() string {
	return s.name
}

func (s *stubBackend) Generate(_ context.Context, _ string, opts llm.Options) (string, error) {
	s.calls++
	s.opts = opts
	return s.text, s.err
}

type stubResolver struct {
	backend llm.Backend
	err     error
	resets  int
}

func (s *stubResolver) Resolve(_ context.Context) (llm.Backend, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.backend, nil
}

func (s *stubResolver) Reset() {
	s.resets++
}

type stubChat struct {
	chunks   []string
	err      error
	messages []llm.Message
}

func (s *stubChat) Chat(_ context.Context, messages []llm.Message, _ string, fn func(chunk string) error) error {
	s.messages = messages
	if s.err != nil {
		return s.err
	}
	for _, chunk := range s.chunks {
		if err := fn(chunk); err != nil {
			return err
		}
	}
	return nil
}

type stubManager struct {
	pid       int
	running   bool
	startErr  error
	deleteErr error
	required  []string
	progress  []ollama.PullProgress
	starts    int
	stops     int
	deleted   string
}

func (s *stubManager) Status(_ context.Context) (ollama.Status, error) {
	return ollama.Status{Running: s.running}, nil
}

func (s *stubManager) Start(_ context.Context) (int, error) {
	s.starts++
	if s.startErr != nil {
		return 0, s.startErr
	}
	s.running = true
	return s.pid, nil
}

func (s *stubManager) Stop() error {
	s.stops++
	s.running = false
	return nil
}

func (s *stubManager) Provision(_ context.Context, fn func(ollama.PullProgress) error) error {
	for _, progress := range s.progress {
		if err := fn(progress); err != nil {
			return err
		}
	}
	return nil
}

func (s *stubManager) DeleteModel(_ context.Context, name string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.deleted = name
	return nil
}

func (s *stubManager) RequiredModels() []string {
	return s.required
}

var (
	_ WorkflowService  = (*stubWorkflow)(nil)
	_ CorpusReader     = (*stubCorpus)(nil)
	_ Collector        = (*stubCollector)(nil)
	_ Searcher         = (*stubSearcher)(nil)
	_ llm.Backend      = (*stubBackend)(nil)
	_ BackendResolver  = (*stubResolver)(nil)
	_ llm.ChatStreamer = (*stubChat)(nil)
	_ LocalManager     = (*stubManager)(nil)
)
