// Package websearch finds candidate URLs for a query by scraping the
// DuckDuckGo HTML endpoint. Calls are rate limited and memoized with a
// TTL cache so repeated round-loop queries do not hammer the backend.
package websearch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"cognihub/internal/config"
	"cognihub/internal/htmltext"
)

const (
	searchEndpoint = "https://html.duckduckgo.com/html/"
	maxBodyBytes   = 2 << 20
	maxResults     = 25
)

// Searcher performs live web searches.
type Searcher struct {
	http    *http.Client
	cfg     config.WebConfig
	cache   *searchCache
	limiter *rate.Limiter
	log     *zap.Logger
}

// New builds a Searcher from web config. now may be nil outside tests.
func New(cfg config.WebConfig, now func() time.Time, log *zap.Logger) *Searcher {
	interval := time.Duration(cfg.SearchMinInterval) * time.Second
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ttl := time.Duration(cfg.SearchCacheTTLMinutes) * time.Minute
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Searcher{
		http:    &http.Client{Timeout: time.Duration(cfg.FetchTimeoutSeconds) * time.Second},
		cfg:     cfg,
		cache:   newSearchCache(ttl, now),
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		log:     log.Named("websearch"),
	}
}

// Search returns up to limit result URLs for query, deduplicated and in
// backend rank order. Cached results bypass the rate limiter.
func (s *Searcher) Search(ctx context.Context, query string, limit int) ([]string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("websearch: empty query")
	}
	if limit < 1 {
		limit = 1
	}
	if limit > maxResults {
		limit = maxResults
	}

	key := strings.ToLower(query)
	if urls, ok := s.cache.get(key); ok {
		if len(urls) > limit {
			urls = urls[:limit]
		}
		return urls, nil
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("websearch throttle: %w", err)
	}

	urls, err := s.fetchResults(ctx, query)
	if err != nil {
		return nil, err
	}
	s.cache.put(key, urls)

	if len(urls) > limit {
		urls = urls[:limit]
	}
	return urls, nil
}

func (s *Searcher) fetchResults(ctx context.Context, query string) ([]string, error) {
	form := url.Values{"q": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		searchEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", s.cfg.UserAgent)

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("websearch: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read search response: %w", err)
	}
	return parseResults(string(body)), nil
}

// parseResults pulls result links out of the DuckDuckGo HTML page.
// Result anchors carry class "result__a"; their hrefs are redirect URLs
// with the target in the uddg query parameter.
func parseResults(page string) []string {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var out []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if len(out) >= maxResults {
			return
		}
		if n.Type == html.ElementNode && n.Data == "a" &&
			strings.Contains(htmltext.Attr(n, "class"), "result__a") {
			if target := resolveRedirect(htmltext.Attr(n, "href")); target != "" && !seen[target] {
				seen[target] = true
				out = append(out, target)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return out
}

// resolveRedirect unwraps DuckDuckGo's /l/?uddg=... redirect wrapper and
// drops anything that is not a plain http(s) URL.
func resolveRedirect(href string) string {
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if target := u.Query().Get("uddg"); target != "" {
		href = target
		if u, err = url.Parse(href); err != nil {
			return ""
		}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	if strings.Contains(u.Host, "duckduckgo.com") {
		return ""
	}
	return href
}
