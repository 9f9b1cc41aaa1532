package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"cognihub/internal/config"
	"cognihub/internal/logging"
)

// fakeEngine produces deterministic bag-of-tokens vectors so similarity
// reflects word overlap without a live embedding server.
type fakeEngine struct {
	dim  int
	fail bool
}

func (e *fakeEngine) Embed(_ context.Context, text string) ([]float32, error) {
	if e.fail {
		return nil, errors.New("embedding backend down")
	}
	dim := e.dim
	if dim == 0 {
		dim = 16
	}
	vec := make([]float32, dim)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		var h int
		for _, c := range tok {
			h = h*31 + int(c)
		}
		if h < 0 {
			h = -h
		}
		vec[h%dim]++
	}
	vec[0]++ // never a zero vector
	return vec, nil
}

func (e *fakeEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *fakeEngine) Name() string { return "fake" }

func newTestDocStore(t *testing.T, engine *fakeEngine) *DocStore {
	t.Helper()
	cfg := config.Default()
	s, err := NewDocStore(filepath.Join(t.TempDir(), "docs.db"),
		engine, cfg.Embedding, cfg.Retrieval, logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAddDocumentIdempotent(t *testing.T) {
	s := newTestDocStore(t, &fakeEngine{})
	ctx := context.Background()

	id1, err := s.AddDocument(ctx, "water.txt", "Water boils at 100 degrees at sea level.")
	require.NoError(t, err)
	id2, err := s.AddDocument(ctx, "water-copy.txt", "Water boils at 100 degrees at sea level.")
	require.NoError(t, err)
	require.Equal(t, id1, id2, "same content hash must be a no-op")

	docs, err := s.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, "water.txt", docs[0].Filename)
	require.Positive(t, docs[0].ChunkCount)
}

func TestAddDocumentRejectsEmptyAndOversized(t *testing.T) {
	s := newTestDocStore(t, &fakeEngine{})
	ctx := context.Background()

	_, err := s.AddDocument(ctx, "empty.txt", "   \n\n ")
	require.Error(t, err)

	_, err = s.AddDocument(ctx, "big.txt", strings.Repeat("a", 11*1024*1024))
	require.Error(t, err)

	docs, err := s.ListDocuments(ctx)
	require.NoError(t, err)
	require.Empty(t, docs, "failed ingestion must not leave rows")
}

func TestAddDocumentEmbedFailureCommitsNothing(t *testing.T) {
	engine := &fakeEngine{fail: true}
	s := newTestDocStore(t, engine)

	_, err := s.AddDocument(context.Background(), "doc.txt", "some text here")
	require.Error(t, err)

	engine.fail = false
	docs, err := s.ListDocuments(context.Background())
	require.NoError(t, err)
	require.Empty(t, docs)
}

func TestRetrieveFindsSeededChunk(t *testing.T) {
	s := newTestDocStore(t, &fakeEngine{})
	ctx := context.Background()

	_, err := s.AddDocument(ctx, "water.txt", "Water boils at 100C at sea level.")
	require.NoError(t, err)
	_, err = s.AddDocument(ctx, "other.txt", "Photosynthesis converts light into chemical energy.")
	require.NoError(t, err)

	hits, err := s.Retrieve(ctx, "boiling water sea level", 5, DocRetrieveOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	require.Equal(t, "water.txt", hits[0].Filename)
	for i := 1; i < len(hits); i++ {
		require.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score, "hits must be score-sorted")
	}
}

func TestRetrieveDocIDScoping(t *testing.T) {
	s := newTestDocStore(t, &fakeEngine{})
	ctx := context.Background()

	id1, err := s.AddDocument(ctx, "a.txt", "shared topic alpha content")
	require.NoError(t, err)
	id2, err := s.AddDocument(ctx, "b.txt", "shared topic beta content")
	require.NoError(t, err)
	_ = id1

	hits, err := s.Retrieve(ctx, "shared topic", 10, DocRetrieveOptions{DocIDs: []int64{id2}})
	require.NoError(t, err)
	for _, h := range hits {
		require.Equal(t, id2, h.DocID)
	}
}

func TestUpdateDocumentClampsWeight(t *testing.T) {
	s := newTestDocStore(t, &fakeEngine{})
	ctx := context.Background()

	id, err := s.AddDocument(ctx, "doc.txt", "weighted retrieval test content")
	require.NoError(t, err)

	w := 9.5
	require.NoError(t, s.UpdateDocument(ctx, id, DocumentUpdate{Weight: &w}))
	docs, err := s.ListDocuments(ctx)
	require.NoError(t, err)
	require.Equal(t, 5.0, docs[0].Weight)

	neg := -3.0
	require.NoError(t, s.UpdateDocument(ctx, id, DocumentUpdate{Weight: &neg}))
	docs, err = s.ListDocuments(ctx)
	require.NoError(t, err)
	require.Equal(t, 0.0, docs[0].Weight)
}

func TestWeightScalesScore(t *testing.T) {
	s := newTestDocStore(t, &fakeEngine{})
	ctx := context.Background()

	id, err := s.AddDocument(ctx, "doc.txt", "ranking weight scaling content")
	require.NoError(t, err)

	base, err := s.Retrieve(ctx, "ranking weight scaling", 1, DocRetrieveOptions{})
	require.NoError(t, err)
	require.Len(t, base, 1)

	w := 2.0
	require.NoError(t, s.UpdateDocument(ctx, id, DocumentUpdate{Weight: &w}))
	boosted, err := s.Retrieve(ctx, "ranking weight scaling", 1, DocRetrieveOptions{})
	require.NoError(t, err)
	require.Len(t, boosted, 1)
	require.InDelta(t, base[0].Score*2, boosted[0].Score, 1e-9)
}

func TestDeleteDocumentCascades(t *testing.T) {
	s := newTestDocStore(t, &fakeEngine{})
	ctx := context.Background()

	id, err := s.AddDocument(ctx, "doc.txt", "document to be removed")
	require.NoError(t, err)
	require.NoError(t, s.DeleteDocument(ctx, id))

	docs, err := s.ListDocuments(ctx)
	require.NoError(t, err)
	require.Empty(t, docs)

	hits, err := s.Retrieve(ctx, "document removed", 5, DocRetrieveOptions{})
	require.NoError(t, err)
	require.Empty(t, hits)
}

func TestNeighborsSpanWithinDocument(t *testing.T) {
	s := newTestDocStore(t, &fakeEngine{})
	ctx := context.Background()

	var sb strings.Builder
	for i := 0; i < 12; i++ {
		fmt.Fprintf(&sb, "Paragraph %d with enough words to stand on its own as a chunkable block. %s\n\n",
			i, strings.Repeat("filler text ", 40))
	}
	_, err := s.AddDocument(ctx, "long.txt", sb.String())
	require.NoError(t, err)

	hits, err := s.Retrieve(ctx, "paragraph filler text", 3, DocRetrieveOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, hits)

	neighbors, err := s.Neighbors(ctx, hits[0].ChunkID, 2)
	require.NoError(t, err)
	require.NotEmpty(t, neighbors)
	for _, n := range neighbors {
		require.Equal(t, hits[0].DocID, n.DocID)
	}

	_, err = s.Neighbors(ctx, 999999, 2)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRetrieveMMRReturnsDistinctChunks(t *testing.T) {
	s := newTestDocStore(t, &fakeEngine{})
	ctx := context.Background()

	var sb strings.Builder
	for i := 0; i < 8; i++ {
		fmt.Fprintf(&sb, "Topic section %d. %s\n\n", i, strings.Repeat("unique term ", 60))
	}
	_, err := s.AddDocument(ctx, "doc.txt", sb.String())
	require.NoError(t, err)

	hits, err := s.Retrieve(ctx, "unique term topic", 4, DocRetrieveOptions{UseMMR: true})
	require.NoError(t, err)
	seen := make(map[int64]bool)
	for _, h := range hits {
		require.False(t, seen[h.ChunkID])
		seen[h.ChunkID] = true
	}
}
