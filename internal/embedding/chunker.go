package embedding

import (
	"regexp"
	"strings"
)

var (
	sentenceSplit = regexp.MustCompile(`(?:[.!?])\s+`)
	whitespace    = regexp.MustCompile(`\s+`)
)

// Chunker splits document text into bounded-size chunks for embedding.
// Paragraphs that fit the budget are packed together; oversized paragraphs
// are split on sentence boundaries, then hard-split with a character
// overlap carried into the next chunk. A final pass prepends the tail of
// the previous chunk to each chunk so consecutive chunks share context.
type Chunker struct {
	MaxChars int
	Overlap  int
}

// NewChunker returns a chunker with the given budget and overlap.
// Non-positive values fall back to the defaults (1200 / 200).
func NewChunker(maxChars, overlap int) *Chunker {
	if maxChars <= 0 {
		maxChars = 1200
	}
	if overlap < 0 || overlap >= maxChars {
		overlap = 200
	}
	return &Chunker{MaxChars: maxChars, Overlap: overlap}
}

// Split chunks text. Empty or whitespace-only input yields nil.
// No returned chunk exceeds MaxChars.
func (c *Chunker) Split(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var out []string
	flush := func(b string) {
		b = strings.TrimSpace(b)
		if b != "" {
			out = append(out, b)
		}
	}

	var buf string
	for _, p := range strings.Split(text, "\n\n") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}

		if len(p) <= c.MaxChars {
			if len(buf)+len(p)+2 <= c.MaxChars {
				if buf == "" {
					buf = p
				} else {
					buf = buf + "\n\n" + p
				}
			} else {
				flush(buf)
				buf = p
			}
			continue
		}

		// Oversized paragraph: sentence-level packing, hard split with
		// overlap when a single sentence still exceeds the budget.
		flush(buf)
		buf = ""
		var chunk string
		for _, s := range splitSentences(p) {
			if s == "" {
				continue
			}
			if len(chunk)+len(s)+1 <= c.MaxChars {
				if chunk == "" {
					chunk = s
				} else {
					chunk = chunk + " " + s
				}
			} else {
				flush(chunk)
				chunk = s
			}
			for len(chunk) > c.MaxChars {
				flush(chunk[:c.MaxChars])
				chunk = chunk[c.MaxChars-c.Overlap:]
			}
		}
		flush(chunk)
	}
	flush(buf)

	if c.Overlap > 0 && len(out) > 1 {
		smoothed := make([]string, 0, len(out))
		smoothed = append(smoothed, out[0])
		for i := 1; i < len(out); i++ {
			prev := smoothed[len(smoothed)-1]
			tail := prev
			if len(prev) > c.Overlap {
				tail = prev[len(prev)-c.Overlap:]
			}
			cur := strings.TrimSpace(tail + "\n" + out[i])
			if len(cur) > c.MaxChars {
				cur = cur[:c.MaxChars]
			}
			smoothed = append(smoothed, cur)
		}
		out = smoothed
	}

	return out
}

// splitSentences collapses whitespace and splits on sentence-final
// punctuation, keeping the punctuation with its sentence.
func splitSentences(p string) []string {
	p = strings.TrimSpace(whitespace.ReplaceAllString(p, " "))
	if p == "" {
		return nil
	}

	idxs := sentenceSplit.FindAllStringIndex(p, -1)
	if len(idxs) == 0 {
		return []string{p}
	}

	var out []string
	start := 0
	for _, m := range idxs {
		// m[0] is the punctuation position; keep it, drop the whitespace.
		end := m[0] + 1
		out = append(out, strings.TrimSpace(p[start:end]))
		start = m[1]
	}
	if start < len(p) {
		out = append(out, strings.TrimSpace(p[start:]))
	}
	return out
}
