package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"cognihub/internal/embedding"
	"cognihub/internal/kiwix"
)

// snippetChars bounds how much page text is embedded per suggestion.
const snippetChars = 1800

// KiwixProvider retrieves from an offline encyclopedia mirror. The
// backend has no vector index, so it suggests article titles, fetches
// their text, and embeds the lead snippets on the fly for scoring.
type KiwixProvider struct {
	client *kiwix.Client
	engine embedding.Engine
	log    *zap.Logger
}

// NewKiwixProvider wraps a kiwix client and embedding engine.
func NewKiwixProvider(c *kiwix.Client, engine embedding.Engine, log *zap.Logger) *KiwixProvider {
	return &KiwixProvider{client: c, engine: engine, log: log.Named("kiwix-provider")}
}

func (p *KiwixProvider) Name() string { return SourceKiwix }

func (p *KiwixProvider) Retrieve(ctx context.Context, query string, topK int, _ Options) ([]Result, error) {
	if topK < 1 {
		topK = 1
	}

	// Over-suggest so page-fetch failures still leave topK candidates.
	sugs, err := p.client.Search(ctx, query, topK*2)
	if err != nil {
		return nil, err
	}
	if len(sugs) == 0 {
		return nil, nil
	}

	qv, err := p.engine.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	qn := embedding.Norm(qv)

	var out []Result
	for _, sug := range sugs {
		title, text, err := p.client.FetchPage(ctx, sug.Path)
		if err != nil {
			p.log.Debug("page fetch failed", zap.String("path", sug.Path), zap.Error(err))
			continue
		}
		snippet := text
		if len(snippet) > snippetChars {
			snippet = snippet[:snippetChars]
		}

		sv, err := p.engine.Embed(ctx, snippet)
		if err != nil || len(sv) != len(qv) {
			continue
		}

		if title == "" {
			title = sug.Title
		}
		out = append(out, Result{
			SourceType: SourceKiwix,
			RefID:      sug.Path,
			ChunkID:    pathChunkID(sug.Path),
			Title:      title,
			URL:        sug.Path,
			Score:      embedding.CosineWithNorms(qv, qn, sv, embedding.Norm(sv)),
			Text:       snippet,
			Meta:       map[string]any{"path": sug.Path},
		})
		if len(out) >= topK*2 {
			break
		}
	}

	sort.Slice(out, func(a, b int) bool { return out[a].Score > out[b].Score })
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

// pathChunkID derives a stable synthetic chunk id from an article path,
// using the first 12 hex digits of its sha256.
func pathChunkID(path string) int64 {
	sum := sha256.Sum256([]byte(path))
	id, err := strconv.ParseInt(hex.EncodeToString(sum[:])[:12], 16, 64)
	if err != nil {
		return 0
	}
	return id
}
