package scrape

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"seowriter/app/internal/corpus"
)

type cacheStub struct {
	mu    sync.Mutex
	saved []corpus.RawArticle
	err   error
}

func (c *cacheStub) SaveRaw(_ context.Context, raw *corpus.RawArticle) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return false, c.err
	}
	c.saved = append(c.saved, *raw)
	return true, nil
}

func longText(word string) string {
	return strings.TrimSpace(strings.Repeat(word+" ", 80))
}

func newSite(t *testing.T, results int) (*httptest.Server, *[]string) {
	t.Helper()

	var (
		mu         sync.Mutex
		userAgents []string
	)

	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	mux.HandleFunc("/html/", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		userAgents = append(userAgents, r.Header.Get("User-Agent"))
		mu.Unlock()

		if r.URL.Query().Get("q") == "nothing" {
			fmt.Fprint(w, `<html><body><div class="no-results">No results</div></body></html>`)
			return
		}

		var b strings.Builder
		b.WriteString(`<html><body>`)
		b.WriteString(`<h2 class="result__title"><a href="https://duckduckgo.com/y.js?ad=1">Ad</a></h2>`)
		for i := 1; i <= results; i++ {
			target := url.QueryEscape(fmt.Sprintf("%s/page/%d", server.URL, i))
			fmt.Fprintf(&b, `<h2 class="result__title"><a href="/l/?uddg=%s&rut=x">Result %d</a></h2>`, target, i)
		}
		b.WriteString(`<h2 class="result__title"><a href="/page/short">Short</a></h2>`)
		b.WriteString(`</body></html>`)
		fmt.Fprint(w, b.String())
	})

	mux.HandleFunc("/page/", func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/page/")
		switch name {
		case "short":
			fmt.Fprint(w, `<html><body><p>tiny</p></body></html>`)
		case "2":
			http.Error(w, "gone", http.StatusGone)
		default:
			fmt.Fprintf(w, `<html><head><title>Page %s</title></head><body>
<nav>%s</nav>
<main><p>%s</p></main>
<footer>footer text</footer>
</body></html>`, name, longText("navigation"), longText("content"+name))
		}
	})

	return server, &userAgents
}

func newTestCollector(t *testing.T, server *httptest.Server, cache RawCache) *Collector {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	collector, err := NewCollector(Options{
		HTTPClient: server.Client(),
		Cache:      cache,
		Logger:     logger,
		SearchURL:  server.URL + "/html/",
		Timeout:    2 * time.Second,
		UserAgents: []string{"agent-a", "agent-b"},
		Pick:       func(n int) int { return n - 1 },
	})
	require.NoError(t, err)
	return collector
}

func TestCollectSkipsFailedPagesAndCachesTheRest(t *testing.T) {
	t.Parallel()

	server, agents := newSite(t, 3)
	cache := &cacheStub{}
	collector := newTestCollector(t, server, cache)

	results, err := collector.Collect(context.Background(), "best project management tools", 3)
	require.NoError(t, err)
	require.Len(t, results, 2)

	for _, result := range results {
		require.NotEmpty(t, result.URL)
		require.NotEmpty(t, result.Title)
		require.NotEmpty(t, result.Domain)
		require.NotContains(t, result.Content, "navigation")
		require.LessOrEqual(t, len([]rune(result.Content)), MaxContentChars)
	}
	require.Equal(t, "Result 1", results[0].Title)
	require.Equal(t, "Result 3", results[1].Title)

	require.Len(t, cache.saved, 2)
	require.Equal(t, []string{"agent-b"}, *agents)
}

func TestCollectCapsResults(t *testing.T) {
	t.Parallel()

	server, _ := newSite(t, 6)
	collector := newTestCollector(t, server, nil)

	results, err := collector.Collect(context.Background(), "crm", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestCollectZeroResultsMakesNoRequest(t *testing.T) {
	t.Parallel()

	server, agents := newSite(t, 3)
	collector := newTestCollector(t, server, nil)

	results, err := collector.Collect(context.Background(), "crm", 0)
	require.NoError(t, err)
	require.NotNil(t, results)
	require.Empty(t, results)
	require.Empty(t, *agents)
}

func TestCollectNoSearchResults(t *testing.T) {
	t.Parallel()

	server, _ := newSite(t, 3)
	collector := newTestCollector(t, server, nil)

	results, err := collector.Collect(context.Background(), "nothing", 5)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestCollectSearchFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "blocked", http.StatusForbidden)
	}))
	t.Cleanup(server.Close)

	collector := newTestCollector(t, server, nil)

	_, err := collector.Collect(context.Background(), "crm", 3)
	require.True(t, eris.Is(err, ErrSearchFailed), "expected ErrSearchFailed, got %v", err)
}

func TestCollectCacheFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	server, _ := newSite(t, 1)
	collector := newTestCollector(t, server, &cacheStub{err: eris.New("disk full")})

	results, err := collector.Collect(context.Background(), "crm", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestCollectHonoursCancellationDuringDelay(t *testing.T) {
	t.Parallel()

	server, _ := newSite(t, 3)
	collector := newTestCollector(t, server, nil)
	collector.delay = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := collector.Collect(ctx, "crm", 3)
	require.Error(t, err)
	require.Error(t, ctx.Err())
	require.Contains(t, err.Error(), "deadline exceeded")
}

func TestCollectRequiresKeyword(t *testing.T) {
	t.Parallel()

	server, _ := newSite(t, 1)
	collector := newTestCollector(t, server, nil)

	_, err := collector.Collect(context.Background(), "  ", 3)
	require.Error(t, err)
}
