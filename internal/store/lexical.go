package store

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

var tokenPattern = regexp.MustCompile(`[a-z0-9_]{2,}`)

// maxQueryTokens bounds how many query tokens participate in shortlisting.
const maxQueryTokens = 24

// lexicalIndex is the in-memory token-overlap prefilter over the chunks
// table. It shortlists candidate chunks before vector scoring so large
// corpora are not fully scanned per query. The index is rebuilt lazily
// after any mutation invalidates it.
type lexicalIndex struct {
	mu       sync.Mutex
	postings map[string][]posting
	valid    bool
}

type posting struct {
	chunkID int64
	docID   int64
}

func newLexicalIndex() *lexicalIndex {
	return &lexicalIndex{}
}

func (ix *lexicalIndex) invalidate() {
	ix.mu.Lock()
	ix.valid = false
	ix.postings = nil
	ix.mu.Unlock()
}

// ensure rebuilds the index from the chunks table if stale.
func (ix *lexicalIndex) ensure(ctx context.Context, db *sql.DB) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.valid {
		return nil
	}

	rows, err := db.QueryContext(ctx, `SELECT id, doc_id, text FROM chunks`)
	if err != nil {
		return fmt.Errorf("load lexical index: %w", err)
	}
	defer rows.Close()

	postings := make(map[string][]posting)
	for rows.Next() {
		var chunkID, docID int64
		var text string
		if err := rows.Scan(&chunkID, &docID, &text); err != nil {
			return fmt.Errorf("scan lexical row: %w", err)
		}
		for _, tok := range uniqueTokens(text, 0) {
			postings[tok] = append(postings[tok], posting{chunkID: chunkID, docID: docID})
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	ix.postings = postings
	ix.valid = true
	return nil
}

// shortlist returns up to limit chunk ids ordered by how many distinct
// query tokens they match. Returns nil when the query yields no tokens,
// signalling the caller to score all candidates.
func (ix *lexicalIndex) shortlist(query string, docIDs []int64, limit int) []int64 {
	toks := uniqueTokens(query, maxQueryTokens)
	if len(toks) == 0 {
		return nil
	}

	var scope map[int64]bool
	if len(docIDs) > 0 {
		scope = make(map[int64]bool, len(docIDs))
		for _, id := range docIDs {
			scope[id] = true
		}
	}

	ix.mu.Lock()
	overlap := make(map[int64]int)
	for _, tok := range toks {
		for _, p := range ix.postings[tok] {
			if scope != nil && !scope[p.docID] {
				continue
			}
			overlap[p.chunkID]++
		}
	}
	ix.mu.Unlock()

	if len(overlap) == 0 {
		return nil
	}

	ids := make([]int64, 0, len(overlap))
	for id := range overlap {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool {
		if overlap[ids[a]] != overlap[ids[b]] {
			return overlap[ids[a]] > overlap[ids[b]]
		}
		return ids[a] < ids[b]
	})

	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids
}

// uniqueTokens lowercases s and extracts distinct word tokens, capped at
// limit when positive.
func uniqueTokens(s string, limit int) []string {
	seen := make(map[string]bool)
	var out []string
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(s), -1) {
		if seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
