package retrieval

import (
	"context"
	"strconv"

	"cognihub/internal/store"
)

// WebProvider serves hits from the ingested web-page index.
type WebProvider struct {
	store *store.WebStore
}

// NewWebProvider wraps a web store as a Provider.
func NewWebProvider(s *store.WebStore) *WebProvider {
	return &WebProvider{store: s}
}

func (p *WebProvider) Name() string { return SourceWeb }

func (p *WebProvider) Retrieve(ctx context.Context, query string, topK int, opts Options) ([]Result, error) {
	hits, err := p.store.Retrieve(ctx, query, topK, opts.DomainWhitelist)
	if err != nil {
		return nil, err
	}

	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		out = append(out, Result{
			SourceType: SourceWeb,
			RefID:      strconv.FormatInt(h.PageID, 10),
			ChunkID:    h.ChunkID,
			Title:      h.Title,
			URL:        h.URL,
			Domain:     h.Domain,
			Score:      h.Score,
			Text:       h.Text,
			Meta:       map[string]any{"chunk_index": h.ChunkIndex},
		})
	}
	return out, nil
}
