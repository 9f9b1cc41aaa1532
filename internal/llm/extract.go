package llm

import "encoding/json"

// maxExtractSize bounds how much model output the extractor will scan.
const maxExtractSize = 256 * 1024

// ExtractJSONObject finds the first balanced top-level JSON object in s and
// unmarshals it into a generic map. Model output routinely wraps JSON in
// prose or code fences, so a plain json.Unmarshal of the whole string is
// not enough. Returns nil if no parseable object is found.
func ExtractJSONObject(s string) map[string]any {
	if s == "" || len(s) > maxExtractSize {
		return nil
	}

	for i := 0; i < len(s); i++ {
		if s[i] != '{' {
			continue
		}
		depth := 0
		inString := false
		escaped := false
		for j := i; j < len(s); j++ {
			c := s[j]
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = !inString
			case inString:
			case c == '{':
				depth++
			case c == '}':
				depth--
				if depth == 0 {
					var obj map[string]any
					if err := json.Unmarshal([]byte(s[i:j+1]), &obj); err == nil {
						return obj
					}
					return nil
				}
			}
		}
		return nil
	}
	return nil
}

// StringList extracts a []string from a generic decoded JSON value,
// skipping non-string and blank entries, capped at limit.
func StringList(v any, limit int) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		s, ok := it.(string)
		if !ok || s == "" {
			continue
		}
		out = append(out, s)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
