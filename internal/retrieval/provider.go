// Package retrieval defines the provider abstraction the research
// orchestrator queries: three interchangeable backends (documents, web
// pages, offline encyclopedia) normalizing their hits into one shape.
package retrieval

import "context"

// Source types carried on every result.
const (
	SourceDoc   = "doc"
	SourceWeb   = "web"
	SourceKiwix = "kiwix"
)

// Result is one normalized retrieval hit. Transient: produced fresh per
// query and only persisted indirectly as run Source records.
type Result struct {
	SourceType string         `json:"source_type"`
	RefID      string         `json:"ref_id"`
	ChunkID    int64          `json:"chunk_id"`
	Title      string         `json:"title,omitempty"`
	URL        string         `json:"url,omitempty"`
	Domain     string         `json:"domain,omitempty"`
	Score      float64        `json:"score"`
	Text       string         `json:"text"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// Options scope a retrieval without changing its shape.
type Options struct {
	// DocIDs restricts the document provider to these documents.
	DocIDs []int64

	// DomainWhitelist restricts the web provider to these domains.
	DomainWhitelist []string

	// UseMMR enables diversity re-ranking where the backend supports it.
	UseMMR bool

	// MMRLambda trades relevance against novelty when UseMMR is set.
	MMRLambda float64
}

// Provider is the single retrieval capability all backends implement.
type Provider interface {
	// Name identifies the provider in traces and errors.
	Name() string

	// Retrieve returns up to topK results ranked by descending score.
	Retrieve(ctx context.Context, query string, topK int, opts Options) ([]Result, error)
}
