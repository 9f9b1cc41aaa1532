// Package embedding generates vector embeddings for text and provides the
// similarity math and chunking used by retrieval.
package embedding

import "context"

// Engine generates vector embeddings for text.
type Engine interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Name returns the engine name for diagnostics.
	Name() string
}
