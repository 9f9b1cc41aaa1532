// Package kiwix talks to a local Kiwix server fronting offline ZIM
// archives (Wikipedia and friends). The server has no vector index, so
// callers embed fetched page text on the fly.
package kiwix

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"cognihub/internal/htmltext"
)

const (
	maxBodyBytes   = 4 << 20
	maxPageChars   = 200000
	requestTimeout = 15 * time.Second
)

// Suggestion is one candidate article from title search.
type Suggestion struct {
	Title string `json:"title"`
	Path  string `json:"path"`
}

// Client is a thin HTTP client for one Kiwix server.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

// New builds a client for the Kiwix server at baseURL. An empty baseURL
// yields a client whose calls fail fast; callers gate on Enabled.
func New(baseURL string, log *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: requestTimeout},
		log:     log.Named("kiwix"),
	}
}

// Enabled reports whether a server URL is configured.
func (c *Client) Enabled() bool {
	return c.baseURL != ""
}

// Search returns up to limit article suggestions for query. It tries the
// JSON suggest endpoint first and falls back to scraping the HTML search
// page, since older servers only expose the latter.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]Suggestion, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("kiwix: no server configured")
	}
	if limit < 1 {
		limit = 1
	}
	if limit > 20 {
		limit = 20
	}

	sugs, err := c.suggest(ctx, query, limit)
	if err == nil && len(sugs) > 0 {
		return sugs, nil
	}
	if err != nil {
		c.log.Debug("suggest failed, falling back to html search",
			zap.String("query", query), zap.Error(err))
	}
	return c.searchHTML(ctx, query, limit)
}

func (c *Client) suggest(ctx context.Context, query string, limit int) ([]Suggestion, error) {
	u := c.baseURL + "/suggest?term=" + url.QueryEscape(query)
	body, err := c.get(ctx, u)
	if err != nil {
		return nil, err
	}

	var raw []struct {
		Value string `json:"value"`
		Label string `json:"label"`
		Path  string `json:"path"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode suggest response: %w", err)
	}

	var out []Suggestion
	for _, r := range raw {
		if r.Path == "" {
			continue
		}
		title := r.Value
		if title == "" {
			title = r.Label
		}
		out = append(out, Suggestion{Title: title, Path: r.Path})
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (c *Client) searchHTML(ctx context.Context, query string, limit int) ([]Suggestion, error) {
	u := c.baseURL + "/search?pattern=" + url.QueryEscape(query) + "&pageLength=" + fmt.Sprint(limit)
	body, err := c.get(ctx, u)
	if err != nil {
		return nil, err
	}

	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("parse search page: %w", err)
	}

	var out []Suggestion
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if len(out) >= limit {
			return
		}
		if n.Type == html.ElementNode && n.Data == "a" {
			href := htmltext.Attr(n, "href")
			title := strings.TrimSpace(htmltext.Text(n))
			if href != "" && title != "" && !strings.HasPrefix(href, "#") &&
				!strings.Contains(href, "/search") {
				out = append(out, Suggestion{Title: title, Path: href})
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return out, nil
}

// FetchPage retrieves one article by its server path and returns its
// title and readable text, capped to a sane size for on-the-fly scoring.
func (c *Client) FetchPage(ctx context.Context, path string) (title, text string, err error) {
	if !c.Enabled() {
		return "", "", fmt.Errorf("kiwix: no server configured")
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	body, err := c.get(ctx, c.baseURL+path)
	if err != nil {
		return "", "", err
	}

	title, text = htmltext.Extract(string(body))
	if len(text) > maxPageChars {
		text = text[:maxPageChars]
	}
	if strings.TrimSpace(text) == "" {
		return "", "", fmt.Errorf("kiwix: no readable text at %s", path)
	}
	return title, text, nil
}

func (c *Client) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build kiwix request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kiwix request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("kiwix: status %d for %s", resp.StatusCode, u)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read kiwix response: %w", err)
	}
	return body, nil
}
