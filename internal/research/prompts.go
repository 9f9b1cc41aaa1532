package research

import (
	"fmt"
	"strings"

	"cognihub/internal/store"
)

const plannerSystem = `You decompose a research question into retrieval queries.
Respond with ONE JSON object only:
{"subquestions":["..."],"web_queries":["..."],"doc_queries":["..."]}
Keep queries short and concrete. No prose outside the JSON.`

const verifierSystem = `You verify factual claims against cited evidence.
Given a research question and tagged context blocks, extract atomic claims
that answer the question. For each claim decide:
- "supported": the cited blocks state it directly
- "refuted": the cited blocks contradict it
- "unclear": the evidence is missing or ambiguous
Cite only tags that appear in the context. Respond with ONE JSON object only:
{"claims":[{"claim":"...","status":"supported|unclear|refuted","citations":["D1"],"notes":"..."}]}`

const synthSystem = `You write the final research answer.
Rules:
- Assert as fact ONLY claims marked supported, citing their tags inline like [D1].
- Mention unclear or refuted claims explicitly as uncertain or contradicted.
- If no claim is supported, say the evidence is insufficient to answer.
Write plain prose, no JSON.`

func plannerUser(query string) string {
	return "Research question: " + query
}

func verifierUser(query, contextText string) string {
	return fmt.Sprintf("Research question: %s\n\nContext:\n%s", query, contextText)
}

func synthUser(query, contextText string, claims []store.Claim) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Research question: %s\n\nVerified claims:\n", query)
	if len(claims) == 0 {
		sb.WriteString("(none)\n")
	}
	for _, c := range claims {
		fmt.Fprintf(&sb, "- [%s] %s (cites %s)\n",
			c.Status, c.Claim, strings.Join(c.Citations, ","))
	}
	sb.WriteString("\nContext:\n")
	sb.WriteString(contextText)
	return sb.String()
}
