package llm

import (
	"encoding/json"
	"strings"
)

// ExtractJSONObject recovers the first syntactically complete JSON object
// from free-form model output. Models wrap JSON in prose, markdown fences,
// or emit several objects; only the outer shape is asserted here and the
// caller decodes the returned text into its own type.
//
// Expectations:
//   - Returns the object when the response is bare JSON
//   - Returns the object when wrapped in ```json fences
//   - Returns the first complete object when prose surrounds it
//   - Returns the first valid object when several objects are emitted
//   - Skips a malformed candidate and recovers a later valid object
//   - Returns ok=false when no complete object exists
func ExtractJSONObject(s string) (string, bool) {
	return extractBalanced(StripFences(s), '{', '}')
}

// ExtractJSONArray recovers the first syntactically complete JSON array,
// used for command-list responses.
func ExtractJSONArray(s string) (string, bool) {
	return extractBalanced(StripFences(s), '[', ']')
}

// extractBalanced runs a brace-balanced scan over s. String literals and
// escape sequences are honored so braces inside values never unbalance the
// scan. Each balanced candidate is verified with the JSON decoder; invalid
// candidates are skipped and the scan resumes at the next opener.
func extractBalanced(s string, open, close byte) (string, bool) {
	for from := 0; from < len(s); {
		start := strings.IndexByte(s[from:], open)
		if start == -1 {
			return "", false
		}
		start += from

		depth := 0
		inString := false
		escaped := false
		end := -1
	scan:
		for i := start; i < len(s); i++ {
			c := s[i]
			switch {
			case escaped:
				escaped = false
			case c == '\\' && inString:
				escaped = true
			case c == '"':
				inString = !inString
			case inString:
				// literal content
			case c == open:
				depth++
			case c == close:
				depth--
				if depth == 0 {
					end = i
					break scan
				}
			}
		}
		if end == -1 {
			// Unclosed candidate; nothing later can balance either.
			return "", false
		}

		candidate := s[start : end+1]
		if json.Valid([]byte(candidate)) {
			return candidate, true
		}
		from = start + 1
	}
	return "", false
}

// DecodeObject extracts the first JSON object from s and unmarshals it
// into dst. Returns false when no decodable object is present.
func DecodeObject(s string, dst any) bool {
	raw, ok := ExtractJSONObject(s)
	if !ok {
		return false
	}
	return json.Unmarshal([]byte(raw), dst) == nil
}

// DecodeStringArray extracts the first JSON array of strings from s.
func DecodeStringArray(s string) ([]string, bool) {
	raw, ok := ExtractJSONArray(s)
	if !ok {
		return nil, false
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, false
	}
	return out, true
}
