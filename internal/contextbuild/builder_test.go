package contextbuild

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"cognihub/internal/retrieval"
)

func TestBuildDeduplicatesIdenticalText(t *testing.T) {
	b := New()
	results := []retrieval.Result{
		{SourceType: retrieval.SourceDoc, RefID: "1", ChunkID: 1, Score: 0.9, Text: "water boils at 100C"},
		{SourceType: retrieval.SourceWeb, RefID: "2", ChunkID: 2, Score: 0.8, Text: "water boils at 100C", URL: "https://example.com"},
	}
	built := b.Build(results)
	require.Len(t, built.Entries, 1, "identical text from different sources collapses")
	require.Equal(t, retrieval.SourceDoc, built.Entries[0].Result.SourceType, "first seen wins")
}

func TestBuildTagsUniqueAndTyped(t *testing.T) {
	b := New()
	var results []retrieval.Result
	for i := 0; i < 3; i++ {
		results = append(results,
			retrieval.Result{SourceType: retrieval.SourceDoc, ChunkID: int64(i), Score: 0.9, Text: fmt.Sprintf("doc fact %d", i)},
			retrieval.Result{SourceType: retrieval.SourceWeb, ChunkID: int64(100 + i), Score: 0.8, Text: fmt.Sprintf("web fact %d", i)},
			retrieval.Result{SourceType: retrieval.SourceKiwix, ChunkID: int64(200 + i), Score: 0.7, Text: fmt.Sprintf("kiwix fact %d", i)},
		)
	}
	built := b.Build(results)

	seen := make(map[string]bool)
	for _, e := range built.Entries {
		require.False(t, seen[e.Tag], "tag %s issued twice", e.Tag)
		seen[e.Tag] = true
	}
	require.True(t, seen["D1"] && seen["W1"] && seen["K1"])
	require.Contains(t, built.Text, "[D1]")
}

func TestBuildPriorityOrdering(t *testing.T) {
	b := New()
	results := []retrieval.Result{
		{SourceType: retrieval.SourceWeb, ChunkID: 1, Score: 0.99, Text: "web evidence"},
		{SourceType: retrieval.SourceDoc, ChunkID: 2, Score: 0.10, Text: "doc evidence"},
		{SourceType: retrieval.SourceKiwix, ChunkID: 3, Score: 0.50, Text: "kiwix evidence"},
	}
	built := b.Build(results)
	require.Len(t, built.Entries, 3)
	require.Equal(t, retrieval.SourceDoc, built.Entries[0].Result.SourceType)
	require.Equal(t, retrieval.SourceKiwix, built.Entries[1].Result.SourceType)
	require.Equal(t, retrieval.SourceWeb, built.Entries[2].Result.SourceType)
}

func TestBuildPerSourceCap(t *testing.T) {
	b := &Builder{PerSourceCap: 2, CharBudget: DefaultCharBudget}
	var results []retrieval.Result
	for i := 0; i < 5; i++ {
		results = append(results, retrieval.Result{
			SourceType: retrieval.SourceDoc, ChunkID: int64(i),
			Score: float64(5 - i), Text: fmt.Sprintf("distinct fact number %d", i),
		})
	}
	built := b.Build(results)
	require.Len(t, built.Entries, 2)
}

func TestBuildStopsAtCharBudget(t *testing.T) {
	b := &Builder{PerSourceCap: 100, CharBudget: 500}
	var results []retrieval.Result
	for i := 0; i < 10; i++ {
		results = append(results, retrieval.Result{
			SourceType: retrieval.SourceDoc, ChunkID: int64(i),
			Score: float64(10 - i), Text: fmt.Sprintf("%d %s", i, strings.Repeat("word ", 40)),
		})
	}
	built := b.Build(results)
	require.NotEmpty(t, built.Entries)
	require.LessOrEqual(t, len(built.Text), 500)
	require.Less(t, len(built.Entries), 10, "budget must cut the list short")
}

func TestBuildSkipsBlankText(t *testing.T) {
	built := New().Build([]retrieval.Result{
		{SourceType: retrieval.SourceDoc, ChunkID: 1, Score: 1, Text: "   "},
		{SourceType: retrieval.SourceDoc, ChunkID: 2, Score: 0.5, Text: "real content"},
	})
	require.Len(t, built.Entries, 1)
	require.Equal(t, "D1", built.Entries[0].Tag)
}

func TestSnippetCapped(t *testing.T) {
	built := New().Build([]retrieval.Result{{
		SourceType: retrieval.SourceDoc, ChunkID: 1, Score: 1,
		Text: strings.Repeat("a", 1000),
	}})
	require.Len(t, built.Entries, 1)
	require.Len(t, built.Entries[0].Snippet, 240)
}
