// Package contextbuild merges retrieval results from multiple providers
// into one citation-tagged context block. Tags bind synthesized text to
// evidence: the tag-to-source mapping it emits is exactly what claim
// verification and synthesis consume.
package contextbuild

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"cognihub/internal/retrieval"
)

// Defaults per builder knob; zero values in Builder fall back to these.
const (
	DefaultPerSourceCap = 6
	DefaultCharBudget   = 12000
	snippetCap          = 240
)

// Entry is one tagged result that survived merging.
type Entry struct {
	Tag     string           `json:"tag"`
	Result  retrieval.Result `json:"result"`
	Snippet string           `json:"snippet"`
}

// Built is a finished context: the prompt block plus the tag table.
type Built struct {
	Text    string  `json:"text"`
	Entries []Entry `json:"entries"`
}

// Builder merges, caps, deduplicates and tags retrieval results.
type Builder struct {
	// PerSourceCap bounds entries per source type.
	PerSourceCap int

	// CharBudget bounds the total context block size.
	CharBudget int
}

// New returns a Builder with default caps.
func New() *Builder {
	return &Builder{PerSourceCap: DefaultPerSourceCap, CharBudget: DefaultCharBudget}
}

// priority orders source types for tie-breaking: local documents are the
// most trusted evidence, the open web the least.
func priority(sourceType string) int {
	switch sourceType {
	case retrieval.SourceDoc:
		return 0
	case retrieval.SourceKiwix:
		return 1
	default:
		return 2
	}
}

func tagPrefix(sourceType string) string {
	switch sourceType {
	case retrieval.SourceDoc:
		return "D"
	case retrieval.SourceKiwix:
		return "K"
	default:
		return "W"
	}
}

// Build merges results into a tagged context. Ordering is source
// priority then descending score; identical text collapses to the first
// occurrence regardless of source; each source type is capped; appending
// stops at the first entry that would overflow the character budget.
func (b *Builder) Build(results []retrieval.Result) Built {
	perSource := b.PerSourceCap
	if perSource <= 0 {
		perSource = DefaultPerSourceCap
	}
	budget := b.CharBudget
	if budget <= 0 {
		budget = DefaultCharBudget
	}

	sorted := make([]retrieval.Result, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(a, z int) bool {
		pa, pz := priority(sorted[a].SourceType), priority(sorted[z].SourceType)
		if pa != pz {
			return pa < pz
		}
		return sorted[a].Score > sorted[z].Score
	})

	seen := make(map[string]bool)
	typeCount := make(map[string]int)
	tagSeq := make(map[string]int)

	var sb strings.Builder
	var entries []Entry
	for _, r := range sorted {
		text := strings.TrimSpace(r.Text)
		if text == "" {
			continue
		}
		hash := textHash(text)
		if seen[hash] {
			continue
		}
		if typeCount[r.SourceType] >= perSource {
			continue
		}

		prefix := tagPrefix(r.SourceType)
		tag := fmt.Sprintf("%s%d", prefix, tagSeq[prefix]+1)
		block := fmt.Sprintf("[%s] %s\n%s\n\n", tag, entryHeading(r), text)
		if sb.Len()+len(block) > budget {
			break
		}

		seen[hash] = true
		typeCount[r.SourceType]++
		tagSeq[prefix]++
		sb.WriteString(block)

		snippet := text
		if len(snippet) > snippetCap {
			snippet = snippet[:snippetCap]
		}
		entries = append(entries, Entry{Tag: tag, Result: r, Snippet: snippet})
	}

	return Built{Text: strings.TrimRight(sb.String(), "\n"), Entries: entries}
}

func entryHeading(r retrieval.Result) string {
	switch {
	case r.URL != "" && r.Title != "":
		return r.Title + " - " + r.URL
	case r.URL != "":
		return r.URL
	case r.Title != "":
		return r.Title
	default:
		return r.SourceType + ":" + r.RefID
	}
}

func textHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Tags returns the issued tags in order, for validating citations.
func (c Built) Tags() []string {
	out := make([]string, len(c.Entries))
	for i, e := range c.Entries {
		out[i] = e.Tag
	}
	return out
}
