package scrape

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
)

// Candidate is one organic search hit.
type Candidate struct {
	URL   string
	Title string
}

func (c *Collector) search(ctx context.Context, keyword string) ([]Candidate, error) {
	endpoint, err := url.Parse(c.searchURL)
	if err != nil {
		return nil, eris.Wrap(err, "parsing search url")
	}

	query := endpoint.Query()
	query.Set("q", keyword)
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "building search request")
	}
	c.setHeaders(req, true)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "requesting search results")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("search request failed: %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "parsing search results")
	}

	return parseResults(doc, endpoint), nil
}

// parseResults reads the `.result__title a` links, unwraps redirect links and drops links back
// to the search engine. Duplicate urls are returned once.
func parseResults(doc *goquery.Document, base *url.URL) []Candidate {
	var candidates []Candidate
	seen := map[string]struct{}{}

	doc.Find(".result__title a").Each(func(_ int, link *goquery.Selection) {
		href, ok := link.Attr("href")
		if !ok {
			return
		}

		target := resolveLink(strings.TrimSpace(href), base)
		if target == "" {
			return
		}
		if _, dup := seen[target]; dup {
			return
		}
		seen[target] = struct{}{}

		candidates = append(candidates, Candidate{URL: target, Title: collapse(link.Text())})
	})

	return candidates
}

func resolveLink(href string, base *url.URL) string {
	if href == "" {
		return ""
	}

	parsed, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base != nil {
		parsed = base.ResolveReference(parsed)
	}

	if strings.HasPrefix(parsed.Path, "/l/") {
		if target := parsed.Query().Get("uddg"); target != "" {
			unwrapped, err := url.Parse(target)
			if err != nil {
				return ""
			}
			parsed = unwrapped
		}
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return ""
	}
	if strings.Contains(strings.ToLower(parsed.Hostname()), "duckduckgo.com") {
		return ""
	}

	return parsed.String()
}
