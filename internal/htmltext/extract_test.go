package htmltext

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLooksLikeHTML(t *testing.T) {
	require.True(t, LooksLikeHTML("<html><body>hi</body></html>"))
	require.True(t, LooksLikeHTML("some <div>markup</div>"))
	require.False(t, LooksLikeHTML("plain text with < and > signs"))
}

func TestExtractStripsBoilerplate(t *testing.T) {
	page := `<html><head><title>The Title</title>
	<script>var x = "ignore me";</script></head>
	<body><nav>menu items</nav>
	<p>Useful paragraph one.</p>
	<footer>copyright line</footer>
	<p>Useful paragraph two.</p></body></html>`

	title, text := Extract(page)
	require.Equal(t, "The Title", title)
	require.Contains(t, text, "Useful paragraph one.")
	require.Contains(t, text, "Useful paragraph two.")
	require.NotContains(t, text, "ignore me")
	require.NotContains(t, text, "menu items")
	require.NotContains(t, text, "copyright line")
}

func TestExtractCapsTitle(t *testing.T) {
	title, _ := Extract("<html><head><title>" + strings.Repeat("t", 500) + "</title></head><body><p>x</p></body></html>")
	require.Len(t, title, 300)
}
