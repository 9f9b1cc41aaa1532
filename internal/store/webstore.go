package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"cognihub/internal/config"
	"cognihub/internal/embedding"
	"cognihub/internal/htmltext"
)

// Web chunks are smaller than document chunks: pages carry more
// boilerplate, so tighter slices score better.
const (
	webChunkChars   = 900
	webChunkOverlap = 120
)

// Page is one ingested web page's metadata.
type Page struct {
	ID          int64  `json:"id"`
	URL         string `json:"url"`
	Domain      string `json:"domain"`
	Title       string `json:"title"`
	FetchedAt   int64  `json:"fetched_at"`
	ContentHash string `json:"content_hash"`
	EmbedModel  string `json:"embed_model"`
	EmbedDim    int    `json:"embed_dim"`
}

// WebHit is one retrieval result from the web-page index.
type WebHit struct {
	ChunkID    int64   `json:"chunk_id"`
	PageID     int64   `json:"page_id"`
	ChunkIndex int     `json:"chunk_index"`
	URL        string  `json:"url"`
	Domain     string  `json:"domain"`
	Title      string  `json:"title"`
	Score      float64 `json:"score"`
	Text       string  `json:"text"`
}

// WebStore is the embedding-backed web-page index.
type WebStore struct {
	db      *sql.DB
	mu      sync.RWMutex
	engine  embedding.Engine
	chunker *embedding.Chunker
	http    *http.Client
	cfg     config.WebConfig
	log     *zap.Logger

	embedModel string
}

// NewWebStore opens the web database at path and applies the schema.
func NewWebStore(path string, engine embedding.Engine, embCfg config.EmbeddingConfig, webCfg config.WebConfig, log *zap.Logger) (*WebStore, error) {
	db, err := openSQLite(path)
	if err != nil {
		return nil, err
	}

	timeout := time.Duration(webCfg.FetchTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 12 * time.Second
	}

	s := &WebStore{
		db:         db,
		engine:     engine,
		chunker:    embedding.NewChunker(webChunkChars, webChunkOverlap),
		http:       &http.Client{Timeout: timeout},
		cfg:        webCfg,
		log:        log.Named("webstore"),
		embedModel: embCfg.Model,
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *WebStore) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS web_pages (
	  id INTEGER PRIMARY KEY AUTOINCREMENT,
	  url TEXT NOT NULL UNIQUE,
	  domain TEXT,
	  title TEXT,
	  fetched_at INTEGER NOT NULL,
	  content_hash TEXT,
	  text TEXT NOT NULL,
	  embed_model TEXT,
	  embed_dim INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_web_pages_domain ON web_pages(domain);
	CREATE INDEX IF NOT EXISTS idx_web_pages_fetched ON web_pages(fetched_at);

	CREATE TABLE IF NOT EXISTS web_chunks (
	  id INTEGER PRIMARY KEY AUTOINCREMENT,
	  page_id INTEGER NOT NULL,
	  chunk_index INTEGER NOT NULL,
	  text TEXT NOT NULL,
	  emb BLOB NOT NULL,
	  norm REAL NOT NULL,
	  FOREIGN KEY(page_id) REFERENCES web_pages(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_web_chunks_page ON web_chunks(page_id, chunk_index);
	`)
	if err != nil {
		return fmt.Errorf("init webstore schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *WebStore) Close() error {
	return s.db.Close()
}

// CheckURL validates a URL against the fetch policy: http(s) only, no
// private/loopback targets, host block/allow lists from config.
func (s *WebStore) CheckURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("bad url: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("scheme %q not allowed", scheme)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return errors.New("url has no host")
	}
	if isPrivateHost(host) {
		return fmt.Errorf("host %q resolves to a private address", host)
	}
	for _, b := range s.cfg.BlockedHosts {
		if host == b {
			return fmt.Errorf("host %q is blocked", host)
		}
	}
	if len(s.cfg.AllowedHosts) > 0 {
		allowed := false
		for _, a := range s.cfg.AllowedHosts {
			if host == a {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("host %q not in allow list", host)
		}
	}
	return nil
}

// isPrivateHost reports whether host is, or resolves to, a private,
// loopback or link-local address.
func isPrivateHost(host string) bool {
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsUnspecified()
	}
	addrs, err := net.LookupIP(host)
	if err != nil {
		return false
	}
	for i, ip := range addrs {
		if i >= 3 {
			break
		}
		if ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
			return true
		}
	}
	return false
}

// UpsertPageFromURL fetches, extracts, chunks and embeds a page. An
// existing page is returned untouched unless force is set; an unchanged
// content hash only refreshes fetched_at. Changed content replaces the
// page's chunks in one transaction.
func (s *WebStore) UpsertPageFromURL(ctx context.Context, rawURL string, force bool) (Page, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return Page{}, errors.New("url required")
	}
	if err := s.CheckURL(rawURL); err != nil {
		return Page{}, err
	}

	if !force {
		if p, err := s.pageByURL(ctx, rawURL); err != nil {
			return Page{}, err
		} else if p.ID != 0 {
			return p, nil
		}
	}

	body, err := s.fetch(ctx, rawURL)
	if err != nil {
		return Page{}, err
	}
	if !htmltext.LooksLikeHTML(body) {
		return Page{}, fmt.Errorf("%s: not html", rawURL)
	}

	title, text := htmltext.Extract(body)
	if text == "" {
		return Page{}, fmt.Errorf("%s: no readable text", rawURL)
	}
	if s.cfg.MaxPageChars > 0 && len(text) > s.cfg.MaxPageChars {
		text = text[:s.cfg.MaxPageChars]
	}

	contentHash := hashText(title + "\n" + text)
	chunks := s.chunker.Split(text)
	if len(chunks) == 0 {
		return Page{}, fmt.Errorf("%s: chunking produced no chunks", rawURL)
	}

	embs, err := s.engine.EmbedBatch(ctx, chunks)
	if err != nil {
		return Page{}, fmt.Errorf("embed page %s: %w", rawURL, err)
	}
	if len(embs) != len(chunks) || len(embs[0]) == 0 {
		return Page{}, fmt.Errorf("embed page %s: bad embedding output", rawURL)
	}
	dim := len(embs[0])

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Page{}, fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	var pageID int64
	var existingHash string
	err = tx.QueryRow(`SELECT id, COALESCE(content_hash,'') FROM web_pages WHERE url=?`, rawURL).
		Scan(&pageID, &existingHash)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		res, err := tx.Exec(`
		  INSERT INTO web_pages(url,domain,title,fetched_at,content_hash,text,embed_model,embed_dim)
		  VALUES(?,?,?,?,?,?,?,?)`,
			rawURL, domainOf(rawURL), title, now(), contentHash, text, s.embedModel, dim)
		if err != nil {
			return Page{}, fmt.Errorf("insert page: %w", err)
		}
		pageID, err = res.LastInsertId()
		if err != nil {
			return Page{}, fmt.Errorf("page id: %w", err)
		}
	case err != nil:
		return Page{}, fmt.Errorf("lookup page: %w", err)
	case existingHash == contentHash:
		// Same content: refresh the fetch timestamp only.
		if _, err := tx.Exec(`UPDATE web_pages SET fetched_at=? WHERE id=?`, now(), pageID); err != nil {
			return Page{}, fmt.Errorf("touch page: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return Page{}, fmt.Errorf("commit touch: %w", err)
		}
		return s.pageByURL(ctx, rawURL)
	default:
		if _, err := tx.Exec(`
		  UPDATE web_pages
		     SET title=?, domain=?, fetched_at=?, content_hash=?, text=?, embed_model=?, embed_dim=?
		   WHERE id=?`,
			title, domainOf(rawURL), now(), contentHash, text, s.embedModel, dim, pageID); err != nil {
			return Page{}, fmt.Errorf("update page: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM web_chunks WHERE page_id=?`, pageID); err != nil {
			return Page{}, fmt.Errorf("clear page chunks: %w", err)
		}
	}

	for idx, ch := range chunks {
		vec := embs[idx]
		if _, err := tx.Exec(
			`INSERT INTO web_chunks(page_id, chunk_index, text, emb, norm) VALUES(?,?,?,?,?)`,
			pageID, idx, ch, embedding.Pack(vec), embedding.Norm(vec),
		); err != nil {
			return Page{}, fmt.Errorf("insert page chunk %d: %w", idx, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Page{}, fmt.Errorf("commit upsert: %w", err)
	}

	s.log.Info("page ingested",
		zap.String("url", rawURL),
		zap.Int64("page_id", pageID),
		zap.Int("chunks", len(chunks)))
	return s.pageByURL(ctx, rawURL)
}

func (s *WebStore) fetch(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("create fetch request: %w", err)
	}
	req.Header.Set("User-Agent", s.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetch %s: HTTP %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", rawURL, err)
	}
	return string(body), nil
}

func (s *WebStore) pageByURL(ctx context.Context, rawURL string) (Page, error) {
	var p Page
	err := s.db.QueryRowContext(ctx, `
	  SELECT id, url, COALESCE(domain,''), COALESCE(title,''), fetched_at,
	         COALESCE(content_hash,''), COALESCE(embed_model,''), COALESCE(embed_dim,0)
	    FROM web_pages WHERE url=?`, rawURL).
		Scan(&p.ID, &p.URL, &p.Domain, &p.Title, &p.FetchedAt, &p.ContentHash, &p.EmbedModel, &p.EmbedDim)
	if errors.Is(err, sql.ErrNoRows) {
		return Page{}, nil
	}
	if err != nil {
		return Page{}, fmt.Errorf("lookup page: %w", err)
	}
	return p, nil
}

// ListPages returns ingested pages, most recently fetched first,
// optionally filtered by domain.
func (s *WebStore) ListPages(ctx context.Context, limit, offset int, domain string) ([]Page, error) {
	if limit < 1 {
		limit = 1
	}
	if limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
	  SELECT id, url, COALESCE(domain,''), COALESCE(title,''), fetched_at,
	         COALESCE(content_hash,''), COALESCE(embed_model,''), COALESCE(embed_dim,0)
	    FROM web_pages`
	args := []any{}
	if d := strings.ToLower(strings.TrimSpace(domain)); d != "" {
		query += " WHERE domain=?"
		args = append(args, d)
	}
	query += " ORDER BY fetched_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()

	var out []Page
	for rows.Next() {
		var p Page
		if err := rows.Scan(&p.ID, &p.URL, &p.Domain, &p.Title, &p.FetchedAt, &p.ContentHash, &p.EmbedModel, &p.EmbedDim); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Retrieve returns the top-k web chunks for query by cosine similarity,
// optionally restricted to a domain whitelist.
func (s *WebStore) Retrieve(ctx context.Context, query string, topK int, domainWhitelist []string) ([]WebHit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if topK < 1 {
		topK = 1
	}
	if topK > 30 {
		topK = 30
	}

	qvec, err := s.engine.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	qnorm := embedding.Norm(qvec)

	s.mu.RLock()
	defer s.mu.RUnlock()

	sqlQuery := `
	  SELECT wc.id, wc.page_id, wc.chunk_index, wc.text, wc.emb, wc.norm,
	         wp.url, COALESCE(wp.domain,''), COALESCE(wp.title,'')
	    FROM web_chunks wc JOIN web_pages wp ON wp.id = wc.page_id`
	var args []any
	wl := normalizeDomains(domainWhitelist)
	if len(wl) > 0 {
		sqlQuery += " WHERE wp.domain IN (" + placeholders(len(wl)) + ")"
		for _, d := range wl {
			args = append(args, d)
		}
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("load web candidates: %w", err)
	}
	defer rows.Close()

	var hits []WebHit
	for rows.Next() {
		var h WebHit
		var emb []byte
		var norm float64
		if err := rows.Scan(&h.ChunkID, &h.PageID, &h.ChunkIndex, &h.Text, &emb, &norm, &h.URL, &h.Domain, &h.Title); err != nil {
			return nil, fmt.Errorf("scan web candidate: %w", err)
		}
		vec, err := embedding.Unpack(emb)
		if err != nil || len(vec) != len(qvec) {
			continue
		}
		h.Score = embedding.CosineWithNorms(qvec, qnorm, vec, norm)
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// GetPageChunk returns one web chunk joined with its page metadata.
func (s *WebStore) GetPageChunk(ctx context.Context, chunkID int64) (WebHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var h WebHit
	err := s.db.QueryRowContext(ctx, `
	  SELECT wc.id, wc.page_id, wc.chunk_index, wc.text,
	         wp.url, COALESCE(wp.domain,''), COALESCE(wp.title,'')
	    FROM web_chunks wc JOIN web_pages wp ON wp.id = wc.page_id
	   WHERE wc.id=?`, chunkID).
		Scan(&h.ChunkID, &h.PageID, &h.ChunkIndex, &h.Text, &h.URL, &h.Domain, &h.Title)
	if errors.Is(err, sql.ErrNoRows) {
		return WebHit{}, ErrNotFound
	}
	if err != nil {
		return WebHit{}, fmt.Errorf("get web chunk %d: %w", chunkID, err)
	}
	return h, nil
}

// PageNeighbors returns the chunks surrounding chunkID on the same page.
// span is clamped to [1, 8].
func (s *WebStore) PageNeighbors(ctx context.Context, chunkID int64, span int) ([]WebHit, error) {
	if span < 1 {
		span = 1
	}
	if span > 8 {
		span = 8
	}

	base, err := s.GetPageChunk(ctx, chunkID)
	if err != nil {
		return nil, err
	}

	lo := base.ChunkIndex - span
	if lo < 0 {
		lo = 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
	  SELECT wc.id, wc.page_id, wc.chunk_index, wc.text,
	         wp.url, COALESCE(wp.domain,''), COALESCE(wp.title,'')
	    FROM web_chunks wc JOIN web_pages wp ON wp.id = wc.page_id
	   WHERE wc.page_id=? AND wc.chunk_index BETWEEN ? AND ?
	   ORDER BY wc.chunk_index ASC`, base.PageID, lo, base.ChunkIndex+span)
	if err != nil {
		return nil, fmt.Errorf("web chunk neighbors: %w", err)
	}
	defer rows.Close()

	var out []WebHit
	for rows.Next() {
		var h WebHit
		if err := rows.Scan(&h.ChunkID, &h.PageID, &h.ChunkIndex, &h.Text, &h.URL, &h.Domain, &h.Title); err != nil {
			return nil, fmt.Errorf("scan web chunk: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func domainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}

func normalizeDomains(in []string) []string {
	var out []string
	for _, d := range in {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			out = append(out, d)
		}
	}
	return out
}
