// Package research drives the round-based research loop: plan the
// queries, retrieve evidence from every enabled provider, build a
// citation-tagged context, verify claims against it, and synthesize a
// final answer once the evidence suffices or the round cap is hit.
package research

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"cognihub/internal/config"
	"cognihub/internal/contextbuild"
	"cognihub/internal/llm"
	"cognihub/internal/retrieval"
	"cognihub/internal/store"
)

// ChatClient is the completion capability the orchestrator needs.
type ChatClient interface {
	Chat(ctx context.Context, model string, messages []llm.Message, options map[string]any) (string, error)
}

// Searcher finds candidate URLs for a live web query.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]string, error)
}

// Ingester pulls a web page into the index.
type Ingester interface {
	UpsertPageFromURL(ctx context.Context, url string, force bool) (store.Page, error)
}

// Plan is the decomposition of the research question into queries.
type Plan struct {
	Subquestions []string `json:"subquestions"`
	WebQueries   []string `json:"web_queries"`
	DocQueries   []string `json:"doc_queries"`
}

// Options shape one research run.
type Options struct {
	ChatRef         string
	Mode            string
	Rounds          int
	UseDocs         bool
	UseWeb          bool
	UseKiwix        bool
	DomainWhitelist []string
}

// Orchestrator owns the state machine for research runs. Providers left
// nil are treated as disabled regardless of Options.
type Orchestrator struct {
	cfg    config.ResearchConfig
	llmCfg config.LLMConfig

	chat     ChatClient
	docs     retrieval.Provider
	web      retrieval.Provider
	kiwix    retrieval.Provider
	searcher Searcher
	ingester Ingester

	runs    *store.ResearchStore
	builder *contextbuild.Builder
	queue   *IngestQueue
	log     *zap.Logger
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Chat     ChatClient
	Docs     retrieval.Provider
	Web      retrieval.Provider
	Kiwix    retrieval.Provider
	Searcher Searcher
	Ingester Ingester
	Runs     *store.ResearchStore
	Queue    *IngestQueue
}

// New assembles an orchestrator.
func New(cfg config.ResearchConfig, llmCfg config.LLMConfig, deps Deps, log *zap.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		llmCfg:   llmCfg,
		chat:     deps.Chat,
		docs:     deps.Docs,
		web:      deps.Web,
		kiwix:    deps.Kiwix,
		searcher: deps.Searcher,
		ingester: deps.Ingester,
		runs:     deps.Runs,
		builder:  contextbuild.New(),
		queue:    deps.Queue,
		log:      log.Named("research"),
	}
}

// Execute runs the full state machine for one query and returns the
// finished run record. The returned error is non-nil only for run-fatal
// failures; those runs are also persisted with status error.
func (o *Orchestrator) Execute(ctx context.Context, query string, opts Options) (store.Run, error) {
	rounds := opts.Rounds
	if rounds <= 0 {
		rounds = o.cfg.DefaultRounds
	}
	if rounds > o.cfg.MaxRounds {
		rounds = o.cfg.MaxRounds
	}

	useWeb := opts.UseWeb && o.web != nil && o.searcher != nil &&
		o.ingester != nil && o.queue != nil

	settings := store.RunSettings{
		UseDocs:         opts.UseDocs && o.docs != nil,
		UseWeb:          useWeb,
		UseKiwix:        opts.UseKiwix && o.kiwix != nil,
		Rounds:          rounds,
		PagesPerRound:   o.cfg.MaxPagesPerRound,
		DocTopK:         o.cfg.DocTopK,
		WebTopK:         o.cfg.WebTopK,
		DomainWhitelist: opts.DomainWhitelist,
		SupportedTarget: o.supportedTarget(),
	}

	mode := opts.Mode
	if mode == "" {
		mode = "research"
	}
	runID, err := o.runs.CreateRun(ctx, opts.ChatRef, query, mode, settings)
	if err != nil {
		return store.Run{}, fmt.Errorf("create run: %w", err)
	}
	o.trace(ctx, runID, "start", map[string]any{"query": query, "rounds": rounds})

	answer, runErr := o.runLoop(ctx, runID, query, settings, rounds)
	if runErr != nil {
		o.trace(ctx, runID, "error", map[string]any{"error": runErr.Error()})
		if err := o.runs.SetRunError(ctx, runID, runErr.Error()); err != nil {
			o.log.Error("persist run error state", zap.String("run_id", runID), zap.Error(err))
		}
		run, _ := o.runs.GetRun(ctx, runID)
		return run, runErr
	}

	o.trace(ctx, runID, "done", map[string]any{"answer_chars": len(answer)})
	if err := o.runs.SetRunDone(ctx, runID, answer); err != nil {
		return store.Run{}, fmt.Errorf("persist final answer: %w", err)
	}
	return o.runs.GetRun(ctx, runID)
}

func (o *Orchestrator) runLoop(ctx context.Context, runID, query string, settings store.RunSettings, rounds int) (string, error) {
	plan := o.plan(ctx, query)
	o.trace(ctx, runID, "plan", plan)

	accumulated := make(map[string]retrieval.Result)
	var built contextbuild.Built
	var claims []store.Claim

	for round := 1; round <= rounds; round++ {
		o.trace(ctx, runID, "round_begin", map[string]any{"round": round})

		if settings.UseDocs {
			o.retrieveDocs(ctx, runID, plan.DocQueries, accumulated)
		}
		if settings.UseKiwix {
			o.retrieveKiwix(ctx, runID, query, accumulated)
		}
		if settings.UseWeb {
			o.retrieveWeb(ctx, runID, plan.WebQueries, settings.DomainWhitelist, accumulated)
		}

		built = o.builder.Build(o.rankAccumulated(accumulated))
		if err := o.persistSources(ctx, runID, built); err != nil {
			return "", fmt.Errorf("persist sources: %w", err)
		}

		claims = o.verify(ctx, runID, query, built)
		if err := o.runs.ReplaceClaims(ctx, runID, claims); err != nil {
			return "", fmt.Errorf("persist claims: %w", err)
		}

		supported := countSupported(claims)
		o.trace(ctx, runID, "round_end", map[string]any{
			"round": round, "sources": len(built.Entries),
			"claims": len(claims), "supported": supported,
		})
		if supported >= o.supportedTarget() {
			break
		}
	}

	return o.synthesize(ctx, query, built, claims)
}

// plan asks the planner model to decompose the query. Any failure, from
// transport to malformed JSON, degrades to the raw query in every
// category rather than failing the run.
func (o *Orchestrator) plan(ctx context.Context, query string) Plan {
	fallback := Plan{
		Subquestions: []string{query},
		WebQueries:   []string{query},
		DocQueries:   []string{query},
	}

	raw, err := o.chat.Chat(ctx, o.llmCfg.PlannerModel, []llm.Message{
		{Role: "system", Content: plannerSystem},
		{Role: "user", Content: plannerUser(query)},
	}, nil)
	if err != nil {
		o.log.Warn("planner call failed, using raw query", zap.Error(err))
		return fallback
	}

	obj := llm.ExtractJSONObject(raw)
	if obj == nil {
		return fallback
	}
	plan := Plan{
		Subquestions: llm.StringList(obj["subquestions"], 10),
		WebQueries:   llm.StringList(obj["web_queries"], o.cfg.MaxWebQueries*2),
		DocQueries:   llm.StringList(obj["doc_queries"], o.cfg.MaxDocQueries*2),
	}
	if len(plan.Subquestions) == 0 {
		plan.Subquestions = fallback.Subquestions
	}
	if len(plan.WebQueries) == 0 {
		plan.WebQueries = fallback.WebQueries
	}
	if len(plan.DocQueries) == 0 {
		plan.DocQueries = fallback.DocQueries
	}
	return plan
}

// retrieveDocs fans the document queries out concurrently and merges the
// hits. Per-query failures are traced and do not cancel siblings.
func (o *Orchestrator) retrieveDocs(ctx context.Context, runID string, queries []string, acc map[string]retrieval.Result) {
	queries = capQueries(queries, o.cfg.MaxDocQueries)

	var mu sync.Mutex
	var total int
	g, gctx := errgroup.WithContext(ctx)
	for _, q := range queries {
		g.Go(func() error {
			hits, err := o.docs.Retrieve(gctx, q, o.cfg.DocTopK, retrieval.Options{})
			if err != nil {
				o.log.Debug("doc retrieve failed", zap.String("query", q), zap.Error(err))
				return nil
			}
			mu.Lock()
			total += mergeHits(acc, hits)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	o.trace(ctx, runID, "docs_retrieve", map[string]any{"queries": len(queries), "new_hits": total})
}

func (o *Orchestrator) retrieveKiwix(ctx context.Context, runID, query string, acc map[string]retrieval.Result) {
	hits, err := o.kiwix.Retrieve(ctx, query, o.cfg.KiwixTopK, retrieval.Options{})
	if err != nil {
		o.trace(ctx, runID, "web_retrieve_error", map[string]any{"provider": "kiwix", "error": err.Error()})
		return
	}
	mergeHits(acc, hits)
}

// retrieveWeb searches each web query live, ingests a small synchronous
// subset of new URLs, queues the rest for background ingestion, then
// queries the web index.
func (o *Orchestrator) retrieveWeb(ctx context.Context, runID string, queries, domains []string, acc map[string]retrieval.Result) {
	queries = capQueries(queries, o.cfg.MaxWebQueries)

	var mu sync.Mutex
	var urls []string
	g, gctx := errgroup.WithContext(ctx)
	for _, q := range queries {
		g.Go(func() error {
			found, err := o.searcher.Search(gctx, q, o.cfg.MaxPagesPerRound)
			if err != nil {
				o.trace(ctx, runID, "web_search_error", map[string]any{"query": q, "error": err.Error()})
				return nil
			}
			mu.Lock()
			urls = append(urls, found...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	o.trace(ctx, runID, "web_search", map[string]any{"queries": len(queries), "urls": len(urls)})

	var fresh []string
	for _, u := range urls {
		if o.queue.MarkSeen(u) {
			fresh = append(fresh, u)
		}
	}

	syncCount := o.cfg.MaxPagesPerRound
	if syncCount > len(fresh) {
		syncCount = len(fresh)
	}
	ig, igctx := errgroup.WithContext(ctx)
	ig.SetLimit(3)
	for _, u := range fresh[:syncCount] {
		ig.Go(func() error {
			if _, err := o.ingester.UpsertPageFromURL(igctx, u, false); err != nil {
				o.trace(ctx, runID, "web_upsert_error", map[string]any{"url": u, "error": err.Error()})
				return nil
			}
			o.trace(ctx, runID, "web_upsert", map[string]any{"url": u})
			return nil
		})
	}
	_ = ig.Wait()
	for _, u := range fresh[syncCount:] {
		// MarkSeen already claimed these; hand them straight to the pool.
		o.queue.Submit(u)
	}

	rg, rgctx := errgroup.WithContext(ctx)
	for _, q := range queries {
		rg.Go(func() error {
			hits, err := o.web.Retrieve(rgctx, q, o.cfg.WebTopK, retrieval.Options{DomainWhitelist: domains})
			if err != nil {
				o.trace(ctx, runID, "web_retrieve_error", map[string]any{"query": q, "error": err.Error()})
				return nil
			}
			mu.Lock()
			mergeHits(acc, hits)
			mu.Unlock()
			return nil
		})
	}
	_ = rg.Wait()
	o.trace(ctx, runID, "web_retrieve", map[string]any{"queries": len(queries)})
}

// rankAccumulated flattens the cross-round hit union sorted by score and
// capped per source type, ready for the context builder.
func (o *Orchestrator) rankAccumulated(acc map[string]retrieval.Result) []retrieval.Result {
	all := make([]retrieval.Result, 0, len(acc))
	for _, r := range acc {
		all = append(all, r)
	}
	sort.Slice(all, func(a, b int) bool {
		if all[a].Score != all[b].Score {
			return all[a].Score > all[b].Score
		}
		return all[a].ChunkID < all[b].ChunkID
	})

	caps := map[string]int{
		retrieval.SourceDoc:   o.cfg.DocTopK,
		retrieval.SourceWeb:   o.cfg.WebTopK,
		retrieval.SourceKiwix: o.cfg.KiwixTopK,
	}
	counts := make(map[string]int)
	out := all[:0]
	for _, r := range all {
		if counts[r.SourceType] >= caps[r.SourceType] {
			continue
		}
		counts[r.SourceType]++
		out = append(out, r)
	}
	return out
}

func (o *Orchestrator) persistSources(ctx context.Context, runID string, built contextbuild.Built) error {
	sources := make([]store.Source, 0, len(built.Entries))
	for _, e := range built.Entries {
		sources = append(sources, store.Source{
			RunID:      runID,
			SourceType: e.Result.SourceType,
			RefID:      e.Result.RefID,
			Title:      e.Result.Title,
			URL:        e.Result.URL,
			Domain:     e.Result.Domain,
			Score:      e.Result.Score,
			Snippet:    e.Snippet,
			MetaRaw:    fmt.Sprintf(`{"tag":%q,"chunk_id":%d}`, e.Tag, e.Result.ChunkID),
		})
	}
	return o.runs.ReplaceSources(ctx, runID, sources)
}

// verify asks the verifier model for a claim snapshot over the current
// context. Failures degrade to an empty snapshot; the round continues.
func (o *Orchestrator) verify(ctx context.Context, runID, query string, built contextbuild.Built) []store.Claim {
	if len(built.Entries) == 0 {
		o.trace(ctx, runID, "verify", map[string]any{"claims": 0, "note": "empty context"})
		return nil
	}

	raw, err := o.chat.Chat(ctx, o.llmCfg.VerifierModel, []llm.Message{
		{Role: "system", Content: verifierSystem},
		{Role: "user", Content: verifierUser(query, built.Text)},
	}, nil)
	if err != nil {
		o.trace(ctx, runID, "verify", map[string]any{"error": err.Error()})
		return nil
	}

	claims := parseClaims(raw, runID, built.Tags())
	o.trace(ctx, runID, "verify", map[string]any{
		"claims": len(claims), "supported": countSupported(claims),
	})
	return claims
}

// maxClaims bounds one verifier response.
const maxClaims = 40

// parseClaims decodes the verifier payload, dropping citations that do
// not reference a tag actually issued for this context.
func parseClaims(raw, runID string, tags []string) []store.Claim {
	obj := llm.ExtractJSONObject(raw)
	if obj == nil {
		return nil
	}
	items, ok := obj["claims"].([]any)
	if !ok {
		return nil
	}

	valid := make(map[string]bool, len(tags))
	for _, t := range tags {
		valid[t] = true
	}

	var out []store.Claim
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		text, _ := m["claim"].(string)
		if text == "" {
			continue
		}
		status, _ := m["status"].(string)
		notes, _ := m["notes"].(string)

		var citations []string
		for _, c := range llm.StringList(m["citations"], 12) {
			if valid[c] {
				citations = append(citations, c)
			}
		}
		// A supported claim with no surviving citation has nothing backing it.
		if status == store.ClaimSupported && len(citations) == 0 {
			status = store.ClaimUnclear
		}

		out = append(out, store.Claim{
			RunID:     runID,
			Claim:     text,
			Status:    status,
			Citations: citations,
			Notes:     notes,
		})
		if len(out) >= maxClaims {
			break
		}
	}
	return out
}

// synthesize produces the final answer. A failure here is run-fatal: no
// partial answer is ever published.
func (o *Orchestrator) synthesize(ctx context.Context, query string, built contextbuild.Built, claims []store.Claim) (string, error) {
	raw, err := o.chat.Chat(ctx, o.llmCfg.SynthModel, []llm.Message{
		{Role: "system", Content: synthSystem},
		{Role: "user", Content: synthUser(query, built.Text, claims)},
	}, nil)
	if err != nil {
		return "", fmt.Errorf("synthesize: %w", err)
	}
	return raw, nil
}

func (o *Orchestrator) supportedTarget() int {
	if o.cfg.SupportedTarget > 0 {
		return o.cfg.SupportedTarget
	}
	return 6
}

func (o *Orchestrator) trace(ctx context.Context, runID, step string, payload any) {
	if err := o.runs.AddTrace(ctx, runID, step, payload); err != nil {
		o.log.Warn("trace write failed", zap.String("run_id", runID),
			zap.String("step", step), zap.Error(err))
	}
}

func mergeHits(acc map[string]retrieval.Result, hits []retrieval.Result) int {
	added := 0
	for _, h := range hits {
		key := fmt.Sprintf("%s:%d", h.SourceType, h.ChunkID)
		prev, exists := acc[key]
		if !exists {
			acc[key] = h
			added++
			continue
		}
		if h.Score > prev.Score {
			acc[key] = h
		}
	}
	return added
}

func capQueries(queries []string, limit int) []string {
	if limit > 0 && len(queries) > limit {
		return queries[:limit]
	}
	return queries
}

func countSupported(claims []store.Claim) int {
	n := 0
	for _, c := range claims {
		if c.Status == store.ClaimSupported {
			n++
		}
	}
	return n
}
