package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"cognihub/internal/config"
	"cognihub/internal/embedding"
)

// ErrNotFound is returned for lookups of missing documents or chunks.
var ErrNotFound = errors.New("not found")

// Document is one ingested document's metadata.
type Document struct {
	ID         int64   `json:"id"`
	Filename   string  `json:"filename"`
	SHA256     string  `json:"sha256"`
	CreatedAt  int64   `json:"created_at"`
	EmbedModel string  `json:"embed_model"`
	EmbedDim   int     `json:"embed_dim"`
	Weight     float64 `json:"weight"`
	GroupName  string  `json:"group_name,omitempty"`
	ChunkCount int     `json:"chunk_count"`
}

// Chunk is one stored slice of a document.
type Chunk struct {
	ID         int64  `json:"id"`
	DocID      int64  `json:"doc_id"`
	ChunkIndex int    `json:"chunk_index"`
	Text       string `json:"text"`
	Filename   string `json:"filename"`
}

// DocHit is one retrieval result from the document store.
type DocHit struct {
	ChunkID    int64   `json:"chunk_id"`
	DocID      int64   `json:"doc_id"`
	ChunkIndex int     `json:"chunk_index"`
	Filename   string  `json:"filename"`
	Score      float64 `json:"score"`
	Text       string  `json:"text"`
	DocWeight  float64 `json:"doc_weight"`
}

// DocRetrieveOptions scope and shape a document retrieval.
type DocRetrieveOptions struct {
	// DocIDs restricts scoring to these documents when non-empty.
	DocIDs []int64

	// UseMMR enables diversity re-ranking for this query.
	UseMMR bool

	// MMRLambda trades relevance against novelty; <=0 uses the configured
	// default.
	MMRLambda float64
}

// DocumentUpdate carries the mutable document fields; nil means unchanged.
type DocumentUpdate struct {
	Weight    *float64
	GroupName *string
	Filename  *string
}

// DocStore is the embedding-backed document index.
type DocStore struct {
	db      *sql.DB
	mu      sync.RWMutex
	engine  embedding.Engine
	chunker *embedding.Chunker
	cfg     config.RetrievalConfig
	lexical *lexicalIndex
	log     *zap.Logger

	embedModel string
	batchSize  int
	maxBytes   int
}

// NewDocStore opens the document database at path and applies the schema.
func NewDocStore(path string, engine embedding.Engine, embCfg config.EmbeddingConfig, retCfg config.RetrievalConfig, log *zap.Logger) (*DocStore, error) {
	db, err := openSQLite(path)
	if err != nil {
		return nil, err
	}

	s := &DocStore{
		db:         db,
		engine:     engine,
		chunker:    embedding.NewChunker(embCfg.ChunkChars, embCfg.ChunkOverlap),
		cfg:        retCfg,
		lexical:    newLexicalIndex(),
		log:        log.Named("docstore"),
		embedModel: embCfg.Model,
		batchSize:  embCfg.BatchSize,
		maxBytes:   retCfg.MaxDocBytes,
	}
	if s.batchSize <= 0 {
		s.batchSize = 48
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *DocStore) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS docs (
	  id INTEGER PRIMARY KEY AUTOINCREMENT,
	  filename TEXT NOT NULL,
	  sha256 TEXT NOT NULL,
	  created_at INTEGER NOT NULL,
	  embed_model TEXT,
	  embed_dim INTEGER,
	  weight REAL NOT NULL DEFAULT 1.0,
	  group_name TEXT
	);
	CREATE UNIQUE INDEX IF NOT EXISTS uq_docs_sha ON docs(sha256);
	CREATE INDEX IF NOT EXISTS idx_docs_group ON docs(group_name);

	CREATE TABLE IF NOT EXISTS chunks (
	  id INTEGER PRIMARY KEY AUTOINCREMENT,
	  doc_id INTEGER NOT NULL,
	  chunk_index INTEGER NOT NULL,
	  text TEXT NOT NULL,
	  emb BLOB NOT NULL,
	  norm REAL NOT NULL,
	  chunk_sha TEXT,
	  FOREIGN KEY(doc_id) REFERENCES docs(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_doc_id ON chunks(doc_id);
	CREATE UNIQUE INDEX IF NOT EXISTS uq_chunks_doc_idx ON chunks(doc_id, chunk_index);
	CREATE INDEX IF NOT EXISTS idx_chunks_sha ON chunks(chunk_sha);
	`)
	if err != nil {
		return fmt.Errorf("init docstore schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *DocStore) Close() error {
	return s.db.Close()
}

// AddDocument chunks, embeds and stores text. Ingesting content with a
// hash already present returns the existing document id without writing
// anything. A document whose text yields zero chunks, or whose embedding
// fails, is rejected with nothing committed.
func (s *DocStore) AddDocument(ctx context.Context, filename, text string) (int64, error) {
	if s.maxBytes > 0 && len(text) > s.maxBytes {
		return 0, fmt.Errorf("document too large: %d bytes", len(text))
	}

	sha := hashText(text)

	s.mu.RLock()
	existing, err := s.docIDBySHA(sha)
	s.mu.RUnlock()
	if err != nil {
		return 0, err
	}
	if existing != 0 {
		return existing, nil
	}

	chunks := s.chunker.Split(text)
	if len(chunks) == 0 {
		return 0, errors.New("no text to ingest")
	}

	// Embed before opening the transaction; a failed embedding call must
	// not leave partial rows behind.
	var embs [][]float32
	for i := 0; i < len(chunks); i += s.batchSize {
		end := i + s.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch, err := s.engine.EmbedBatch(ctx, chunks[i:end])
		if err != nil {
			return 0, fmt.Errorf("embed document %q: %w", filename, err)
		}
		embs = append(embs, batch...)
	}
	if len(embs) != len(chunks) {
		return 0, fmt.Errorf("embedding count mismatch: %d != %d", len(embs), len(chunks))
	}
	dim := len(embs[0])
	if dim == 0 {
		return 0, errors.New("bad embedding dimension")
	}
	for i, e := range embs {
		if len(e) != dim {
			return 0, fmt.Errorf("chunk %d embedding dimension %d != %d", i, len(e), dim)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Re-check under the write lock: a concurrent ingest may have won.
	if existing, err := s.docIDBySHA(sha); err != nil {
		return 0, err
	} else if existing != 0 {
		return existing, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin ingest: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO docs(filename, sha256, created_at, embed_model, embed_dim, weight, group_name)
		 VALUES(?,?,?,?,?,1.0,NULL)`,
		filename, sha, now(), s.embedModel, dim,
	)
	if err != nil {
		return 0, fmt.Errorf("insert doc: %w", err)
	}
	docID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("doc id: %w", err)
	}

	for idx, ch := range chunks {
		vec := embs[idx]
		if _, err := tx.Exec(
			`INSERT INTO chunks(doc_id, chunk_index, text, emb, norm, chunk_sha) VALUES(?,?,?,?,?,?)`,
			docID, idx, ch, embedding.Pack(vec), embedding.Norm(vec), hashText(ch),
		); err != nil {
			return 0, fmt.Errorf("insert chunk %d: %w", idx, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit ingest: %w", err)
	}

	s.lexical.invalidate()
	s.log.Info("document ingested",
		zap.String("filename", filename),
		zap.Int64("doc_id", docID),
		zap.Int("chunks", len(chunks)),
		zap.Int("dim", dim))
	return docID, nil
}

func (s *DocStore) docIDBySHA(sha string) (int64, error) {
	var id int64
	err := s.db.QueryRow(`SELECT id FROM docs WHERE sha256=?`, sha).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("lookup doc by hash: %w", err)
	}
	return id, nil
}

// ListDocuments returns all documents, newest first, with chunk counts.
func (s *DocStore) ListDocuments(ctx context.Context) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
	  SELECT d.id, d.filename, d.sha256, d.created_at,
	         COALESCE(d.embed_model,''), COALESCE(d.embed_dim,0),
	         d.weight, COALESCE(d.group_name,''),
	         (SELECT COUNT(1) FROM chunks c WHERE c.doc_id=d.id)
	    FROM docs d
	   ORDER BY d.created_at DESC, d.id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.Filename, &d.SHA256, &d.CreatedAt,
			&d.EmbedModel, &d.EmbedDim, &d.Weight, &d.GroupName, &d.ChunkCount); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// UpdateDocument applies the non-nil fields of upd. Weight is clamped to
// [0, 5]; filenames are capped at 260 characters.
func (s *DocStore) UpdateDocument(ctx context.Context, docID int64, upd DocumentUpdate) error {
	sets := make([]string, 0, 3)
	args := make([]any, 0, 4)

	if upd.Weight != nil {
		w := clampWeight(*upd.Weight)
		sets = append(sets, "weight=?")
		args = append(args, w)
	}
	if upd.GroupName != nil {
		sets = append(sets, "group_name=?")
		if *upd.GroupName == "" {
			args = append(args, nil)
		} else {
			args = append(args, *upd.GroupName)
		}
	}
	if upd.Filename != nil && *upd.Filename != "" {
		f := *upd.Filename
		if len(f) > 260 {
			f = f[:260]
		}
		sets = append(sets, "filename=?")
		args = append(args, f)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, docID)

	s.mu.Lock()
	defer s.mu.Unlock()
	query := "UPDATE docs SET " + joinSets(sets) + " WHERE id=?"
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update document %d: %w", docID, err)
	}
	return nil
}

// DeleteDocument removes a document and its chunks.
func (s *DocStore) DeleteDocument(ctx context.Context, docID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM docs WHERE id=?`, docID); err != nil {
		return fmt.Errorf("delete document %d: %w", docID, err)
	}
	s.lexical.invalidate()
	return nil
}

// GetChunk returns one chunk joined with its document's filename.
func (s *DocStore) GetChunk(ctx context.Context, chunkID int64) (Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c Chunk
	err := s.db.QueryRowContext(ctx, `
	  SELECT c.id, c.doc_id, c.chunk_index, c.text, d.filename
	    FROM chunks c JOIN docs d ON d.id=c.doc_id
	   WHERE c.id=?`, chunkID).
		Scan(&c.ID, &c.DocID, &c.ChunkIndex, &c.Text, &c.Filename)
	if errors.Is(err, sql.ErrNoRows) {
		return Chunk{}, ErrNotFound
	}
	if err != nil {
		return Chunk{}, fmt.Errorf("get chunk %d: %w", chunkID, err)
	}
	return c, nil
}

// Neighbors returns the chunks surrounding chunkID within the same
// document. span is clamped to [1, 5].
func (s *DocStore) Neighbors(ctx context.Context, chunkID int64, span int) ([]Chunk, error) {
	if span < 1 {
		span = 1
	}
	if span > 5 {
		span = 5
	}

	base, err := s.GetChunk(ctx, chunkID)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
	  SELECT c.id, c.doc_id, c.chunk_index, c.text, d.filename
	    FROM chunks c JOIN docs d ON d.id=c.doc_id
	   WHERE c.doc_id=? AND c.chunk_index BETWEEN ? AND ?
	   ORDER BY c.chunk_index ASC`,
		base.DocID, base.ChunkIndex-span, base.ChunkIndex+span)
	if err != nil {
		return nil, fmt.Errorf("chunk neighbors: %w", err)
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.DocID, &c.ChunkIndex, &c.Text, &c.Filename); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Retrieve returns the top-k chunks for query, ranked by weighted cosine
// similarity, optionally diversity re-ranked with MMR. Candidates whose
// stored dimensionality does not match the query embedding are skipped.
func (s *DocStore) Retrieve(ctx context.Context, query string, topK int, opts DocRetrieveOptions) ([]DocHit, error) {
	if topK < 1 {
		topK = 1
	}
	if s.cfg.MaxTopK > 0 && topK > s.cfg.MaxTopK {
		topK = s.cfg.MaxTopK
	}

	qvec, err := s.engine.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	qnorm := embedding.Norm(qvec)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var chunkIDs []int64
	if s.cfg.UsePrefilter {
		ids, err := s.prefilter(ctx, query, opts.DocIDs)
		if err != nil {
			// Prefilter trouble degrades to a full scan, never a failed query.
			s.log.Warn("lexical prefilter failed, scoring all candidates", zap.Error(err))
		} else {
			chunkIDs = ids
		}
	}

	rows, err := s.loadCandidates(ctx, opts.DocIDs, chunkIDs)
	if err != nil {
		return nil, err
	}
	rows = capPerDoc(rows, s.cfg.PerDocCap)

	type scored struct {
		hit DocHit
		vec []float32
	}
	candidates := make([]scored, 0, len(rows))
	for _, r := range rows {
		vec, err := embedding.Unpack(r.emb)
		if err != nil || len(vec) != len(qvec) {
			continue
		}
		base := embedding.CosineWithNorms(qvec, qnorm, vec, r.norm)
		weight := clampWeight(r.weight)
		candidates = append(candidates, scored{
			hit: DocHit{
				ChunkID:    r.chunkID,
				DocID:      r.docID,
				ChunkIndex: r.chunkIndex,
				Filename:   r.filename,
				Score:      base * weight,
				Text:       r.text,
				DocWeight:  weight,
			},
			vec: vec,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].hit.Score > candidates[j].hit.Score
	})

	if opts.UseMMR && len(candidates) > 0 {
		lambda := opts.MMRLambda
		if lambda <= 0 {
			lambda = s.cfg.MMRLambda
		}
		mc := make([]embedding.MMRCandidate, len(candidates))
		for i, c := range candidates {
			mc[i] = embedding.MMRCandidate{Score: c.hit.Score, Vector: c.vec}
		}
		var out []DocHit
		for _, idx := range embedding.MMR(mc, topK, lambda) {
			out = append(out, candidates[idx].hit)
		}
		return out, nil
	}

	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	out := make([]DocHit, len(candidates))
	for i, c := range candidates {
		out[i] = c.hit
	}
	return out, nil
}

type candidateRow struct {
	chunkID    int64
	docID      int64
	chunkIndex int
	text       string
	emb        []byte
	norm       float64
	filename   string
	weight     float64
}

func (s *DocStore) loadCandidates(ctx context.Context, docIDs, chunkIDs []int64) ([]candidateRow, error) {
	query := `
	  SELECT c.id, c.doc_id, c.chunk_index, c.text, c.emb, c.norm, d.filename, d.weight
	    FROM chunks c JOIN docs d ON d.id=c.doc_id`
	var args []any

	switch {
	case len(chunkIDs) > 0:
		query += " WHERE c.id IN (" + placeholders(len(chunkIDs)) + ")"
		for _, id := range chunkIDs {
			args = append(args, id)
		}
	case len(docIDs) > 0:
		query += " WHERE c.doc_id IN (" + placeholders(len(docIDs)) + ")"
		for _, id := range docIDs {
			args = append(args, id)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load candidates: %w", err)
	}
	defer rows.Close()

	var out []candidateRow
	for rows.Next() {
		var r candidateRow
		if err := rows.Scan(&r.chunkID, &r.docID, &r.chunkIndex, &r.text, &r.emb, &r.norm, &r.filename, &r.weight); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// prefilter narrows the candidate set via the lexical index, rebuilding it
// from the chunks table when stale. Empty token sets return nil so the
// caller falls back to scoring everything.
func (s *DocStore) prefilter(ctx context.Context, query string, docIDs []int64) ([]int64, error) {
	if err := s.lexical.ensure(ctx, s.db); err != nil {
		return nil, err
	}
	return s.lexical.shortlist(query, docIDs, s.cfg.PrefilterLimit), nil
}

// capPerDoc bounds how many chunks a single document contributes to the
// candidate set, so one large document cannot dominate results.
func capPerDoc(rows []candidateRow, limit int) []candidateRow {
	if limit <= 0 {
		return rows
	}
	seen := make(map[int64]int)
	out := rows[:0]
	for _, r := range rows {
		if seen[r.docID] >= limit {
			continue
		}
		seen[r.docID]++
		out = append(out, r)
	}
	return out
}

func clampWeight(w float64) float64 {
	if w < 0 {
		return 0
	}
	if w > 5 {
		return 5
	}
	return w
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, 0, 2*n-1)
	for i := 0; i < n; i++ {
		if i > 0 {
			b = append(b, ',')
		}
		b = append(b, '?')
	}
	return string(b)
}

func joinSets(sets []string) string {
	out := ""
	for i, s := range sets {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	return out
}
