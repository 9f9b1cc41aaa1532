package llm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractJSONObjectFromProse(t *testing.T) {
	raw := "Here is my plan:\n```json\n{\"web_queries\":[\"a\",\"b\"],\"nested\":{\"x\":1}}\n```\nhope that helps"
	obj := ExtractJSONObject(raw)
	require.NotNil(t, obj)
	require.Equal(t, []any{"a", "b"}, obj["web_queries"])
}

func TestExtractJSONObjectHandlesBracesInStrings(t *testing.T) {
	obj := ExtractJSONObject(`{"text":"a { brace } and \" quote"}`)
	require.NotNil(t, obj)
	require.Equal(t, `a { brace } and " quote`, obj["text"])
}

func TestExtractJSONObjectNoObject(t *testing.T) {
	require.Nil(t, ExtractJSONObject("no braces here"))
	require.Nil(t, ExtractJSONObject(""))
	require.Nil(t, ExtractJSONObject("{unbalanced"))
}

func TestStringListFiltersAndCaps(t *testing.T) {
	got := StringList([]any{"a", 42, "", "b", "c"}, 2)
	require.Equal(t, []string{"a", "b"}, got)
	require.Nil(t, StringList("not a list", 5))
}
