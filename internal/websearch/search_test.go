package websearch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSearchCacheTTL(t *testing.T) {
	now := time.Unix(1000, 0)
	clock := func() time.Time { return now }
	c := newSearchCache(10*time.Minute, clock)

	c.put("query", []string{"https://a.example", "https://b.example"})
	got, ok := c.get("query")
	require.True(t, ok)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, got)

	now = now.Add(9 * time.Minute)
	_, ok = c.get("query")
	require.True(t, ok, "entry within TTL must survive")

	now = now.Add(2 * time.Minute)
	_, ok = c.get("query")
	require.False(t, ok, "entry past TTL must expire")
}

func TestSearchCacheCopiesResults(t *testing.T) {
	c := newSearchCache(time.Minute, nil)
	c.put("q", []string{"https://a.example"})
	got, _ := c.get("q")
	got[0] = "mutated"
	again, _ := c.get("q")
	require.Equal(t, "https://a.example", again[0])
}

func TestParseResultsExtractsRedirectTargets(t *testing.T) {
	page := `<html><body>
	<a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.org%2Fpage&rut=abc">Example</a>
	<a class="result__a" href="https://direct.example/doc">Direct</a>
	<a class="nav" href="https://duckduckgo.com/about">About</a>
	<a class="result__a" href="https://direct.example/doc">Duplicate</a>
	</body></html>`

	urls := parseResults(page)
	require.Equal(t, []string{"https://example.org/page", "https://direct.example/doc"}, urls)
}

func TestResolveRedirectRejectsNonHTTP(t *testing.T) {
	require.Empty(t, resolveRedirect("javascript:alert(1)"))
	require.Empty(t, resolveRedirect("ftp://example.org/file"))
	require.Empty(t, resolveRedirect("https://duckduckgo.com/settings"))
	require.Equal(t, "https://example.org", resolveRedirect("https://example.org"))
}
