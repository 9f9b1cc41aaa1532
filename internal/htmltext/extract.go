// Package htmltext extracts readable text from HTML pages, stripping
// script/style/navigation noise. It backs the web ingester and the
// offline-encyclopedia client.
package htmltext

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var skipTags = map[string]bool{
	"script": true, "style": true, "noscript": true, "svg": true,
	"header": true, "footer": true, "nav": true, "aside": true,
}

var htmlMarkers = []string{"<html", "<body", "</p>", "<div"}

// LooksLikeHTML reports whether content is plausibly an HTML document.
func LooksLikeHTML(content string) bool {
	lower := strings.ToLower(content)
	for _, m := range htmlMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// Extract parses raw HTML and returns the page title (capped at 300
// characters) and its readable text: one trimmed non-empty line per
// block, boilerplate tags removed. A parse failure yields empty results
// rather than an error; callers treat "no readable text" as the signal.
func Extract(raw string) (title, text string) {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return "", ""
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if skipTags[n.Data] {
				return
			}
			if n.Data == "title" && title == "" {
				title = strings.TrimSpace(textContent(n))
			}
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteString("\n")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if len(title) > 300 {
		title = title[:300]
	}

	var lines []string
	for _, ln := range strings.Split(sb.String(), "\n") {
		ln = strings.TrimSpace(ln)
		if ln != "" {
			lines = append(lines, ln)
		}
	}
	return title, strings.Join(lines, "\n")
}

var spaceRun = regexp.MustCompile(`\s+`)

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(spaceRun.ReplaceAllString(sb.String(), " "))
}

// Attr returns the value of the named attribute on n, or "".
func Attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// Text returns the collapsed text content of a node subtree.
func Text(n *html.Node) string {
	return textContent(n)
}
