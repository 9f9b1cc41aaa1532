package research

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cognihub/internal/config"
	"cognihub/internal/logging"
	"cognihub/internal/store"
)

type stubEngine struct{}

func (stubEngine) Embed(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0, 0}, nil
}

func (e stubEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i], _ = e.Embed(ctx, texts[i])
	}
	return out, nil
}

func (stubEngine) Name() string { return "stub" }

func newTestQueue(t *testing.T, workers int) *IngestQueue {
	t.Helper()
	cfg := config.Default()
	web, err := store.NewWebStore(filepath.Join(t.TempDir(), "web.db"),
		stubEngine{}, cfg.Embedding, cfg.Web, logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { web.Close() })
	return NewIngestQueue(web, workers, logging.Nop())
}

func TestIngestQueueSeenSetDeduplicates(t *testing.T) {
	q := newTestQueue(t, 1)
	defer q.Close()

	require.True(t, q.MarkSeen("https://example.org/a"))
	require.False(t, q.MarkSeen("https://example.org/a"), "seen set has no eviction")
	require.True(t, q.MarkSeen("https://example.org/b"))
}

func TestIngestQueueEnqueueDropsDuplicates(t *testing.T) {
	q := newTestQueue(t, 2)

	// Loopback URLs fail the fetch policy instantly, so the workers drain
	// them without touching the network.
	require.True(t, q.Enqueue("http://127.0.0.1/one"))
	require.False(t, q.Enqueue("http://127.0.0.1/one"))
	require.True(t, q.Enqueue("http://127.0.0.1/two"))

	done := make(chan struct{})
	go func() {
		q.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("queue close must not hang")
	}
}
