package retrieval

import (
	"context"
	"strconv"

	"cognihub/internal/store"
)

// DocProvider serves hits from the local document index.
type DocProvider struct {
	store *store.DocStore
}

// NewDocProvider wraps a document store as a Provider.
func NewDocProvider(s *store.DocStore) *DocProvider {
	return &DocProvider{store: s}
}

func (p *DocProvider) Name() string { return SourceDoc }

func (p *DocProvider) Retrieve(ctx context.Context, query string, topK int, opts Options) ([]Result, error) {
	hits, err := p.store.Retrieve(ctx, query, topK, store.DocRetrieveOptions{
		DocIDs:    opts.DocIDs,
		UseMMR:    opts.UseMMR,
		MMRLambda: opts.MMRLambda,
	})
	if err != nil {
		return nil, err
	}

	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		out = append(out, Result{
			SourceType: SourceDoc,
			RefID:      strconv.FormatInt(h.DocID, 10),
			ChunkID:    h.ChunkID,
			Title:      h.Filename,
			Score:      h.Score,
			Text:       h.Text,
			Meta: map[string]any{
				"chunk_index": h.ChunkIndex,
				"doc_weight":  h.DocWeight,
			},
		})
	}
	return out, nil
}
