package scrape

import (
	"context"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"

	"seowriter/app/internal/article"
	"seowriter/app/internal/corpus"
)

// ErrSearchFailed is returned when the search engine cannot be queried.
var ErrSearchFailed = eris.New("search engine unavailable")

// DefaultUserAgents is the pool of browser identities rotated across requests.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:89.0) Gecko/20100101 Firefox/89.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/14.1.1 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
}

const (
	defaultSearchURL = "https://html.duckduckgo.com/html/"
	defaultTimeout   = 15 * time.Second
	maxBodyBytes     = 5 << 20
)

// RawCache receives every successfully extracted page.
type RawCache interface {
	SaveRaw(ctx context.Context, raw *corpus.RawArticle) (bool, error)
}

// Options configures a Collector.
type Options struct {
	HTTPClient *http.Client
	Cache      RawCache
	Logger     *logrus.Logger
	SearchURL  string
	Delay      time.Duration
	Timeout    time.Duration
	UserAgents []string
	Selectors  []string
	// Pick selects a user agent index; defaults to a uniform random choice.
	Pick func(n int) int
}

// Collector gathers competitor pages for a keyword.
type Collector struct {
	client     *http.Client
	cache      RawCache
	logger     *logrus.Logger
	searchURL  string
	delay      time.Duration
	timeout    time.Duration
	userAgents []string
	selectors  []string
	pick       func(n int) int
}

// NewCollector validates opts and fills in defaults.
func NewCollector(opts Options) (*Collector, error) {
	if opts.Delay < 0 || opts.Timeout < 0 {
		return nil, eris.New("scrape delay and timeout must not be negative")
	}

	searchURL := strings.TrimSpace(opts.SearchURL)
	if searchURL == "" {
		searchURL = defaultSearchURL
	}
	if _, err := url.Parse(searchURL); err != nil {
		return nil, eris.Wrap(err, "parsing search url")
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	userAgents := opts.UserAgents
	if len(userAgents) == 0 {
		userAgents = DefaultUserAgents
	}

	selectors := opts.Selectors
	if len(selectors) == 0 {
		selectors = DefaultSelectors
	}

	pick := opts.Pick
	if pick == nil {
		pick = rand.IntN
	}

	return &Collector{
		client:     client,
		cache:      opts.Cache,
		logger:     opts.Logger,
		searchURL:  searchURL,
		delay:      opts.Delay,
		timeout:    timeout,
		userAgents: userAgents,
		selectors:  selectors,
		pick:       pick,
	}, nil
}

// Collect searches for keyword and extracts up to maxResults competitor pages. Pages that fail
// to load or carry too little text are skipped. Only a failed search aborts the call.
func (c *Collector) Collect(ctx context.Context, keyword string, maxResults int) ([]article.ScrapedResult, error) {
	results := []article.ScrapedResult{}

	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return nil, eris.New("keyword is required")
	}
	if maxResults <= 0 {
		return results, nil
	}

	fields := logrus.Fields{"keyword": keyword, "max_results": maxResults}

	candidates, err := c.search(ctx, keyword)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, eris.Wrap(ctxErr, "searching competitors")
		}
		c.logError(fields, err, "search request failed")
		return nil, eris.Wrapf(ErrSearchFailed, "%v", err)
	}

	if len(candidates) > maxResults {
		candidates = candidates[:maxResults]
	}

	c.logInfo(logrus.Fields{"keyword": keyword, "candidates": len(candidates)}, "search results parsed")

	for i, candidate := range candidates {
		if i > 0 {
			if err := wait(ctx, c.delay); err != nil {
				return nil, eris.Wrap(err, "waiting between page fetches")
			}
		}

		result, err := c.fetch(ctx, candidate)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, eris.Wrap(ctxErr, "fetching competitor pages")
			}
			c.logWarn(logrus.Fields{"url": candidate.URL, "error": err.Error()}, "skipping competitor page")
			continue
		}

		results = append(results, result)
	}

	c.logInfo(logrus.Fields{"keyword": keyword, "scraped": len(results)}, "competitor scrape complete")
	return results, nil
}

func (c *Collector) fetch(ctx context.Context, candidate Candidate) (article.ScrapedResult, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, candidate.URL, nil)
	if err != nil {
		return article.ScrapedResult{}, eris.Wrap(err, "building page request")
	}
	c.setHeaders(req, false)

	resp, err := c.client.Do(req)
	if err != nil {
		return article.ScrapedResult{}, eris.Wrap(err, "requesting page")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return article.ScrapedResult{}, eris.Errorf("page returned %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return article.ScrapedResult{}, eris.Wrap(err, "reading page body")
	}
	html := string(body)

	content, err := ExtractContent(html, c.selectors)
	if err != nil {
		return article.ScrapedResult{}, err
	}
	if len([]rune(content)) < MinContentChars {
		return article.ScrapedResult{}, eris.Errorf("content too short (%d chars)", len([]rune(content)))
	}

	title := candidate.Title
	if title == "" {
		title = ExtractTitle(html)
	}

	parsed, err := url.Parse(candidate.URL)
	if err != nil {
		return article.ScrapedResult{}, eris.Wrap(err, "parsing page url")
	}

	c.cachePage(ctx, &corpus.RawArticle{URL: candidate.URL, Title: title, HTML: html, Content: content})

	return article.ScrapedResult{
		URL:     candidate.URL,
		Title:   title,
		Content: content,
		Domain:  parsed.Hostname(),
	}, nil
}

func (c *Collector) cachePage(ctx context.Context, raw *corpus.RawArticle) {
	if c.cache == nil {
		return
	}

	if _, err := c.cache.SaveRaw(ctx, raw); err != nil {
		c.logError(logrus.Fields{"url": raw.URL}, err, "caching raw page failed")
	}
}

func (c *Collector) setHeaders(req *http.Request, search bool) {
	req.Header.Set("User-Agent", c.userAgents[c.pick(len(c.userAgents))])
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	if search {
		req.Header.Set("DNT", "1")
		req.Header.Set("Upgrade-Insecure-Requests", "1")
		return
	}
	req.Header.Set("Cache-Control", "no-cache")
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Collector) logInfo(fields logrus.Fields, message string) {
	if c.logger == nil {
		return
	}
	c.logger.WithField("component", "scrape").WithFields(fields).Info(message)
}

func (c *Collector) logWarn(fields logrus.Fields, message string) {
	if c.logger == nil {
		return
	}
	c.logger.WithField("component", "scrape").WithFields(fields).Warn(message)
}

func (c *Collector) logError(fields logrus.Fields, err error, message string) {
	if c.logger == nil {
		return
	}
	c.logger.WithField("component", "scrape").WithField("error", err.Error()).WithFields(fields).Error(message)
}
