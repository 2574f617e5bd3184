// Package response extracts structured payloads from raw model completions.
package response

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fenceRegex = regexp.MustCompile("(?s)```[a-zA-Z0-9_-]*\\s*\\n?(.*?)```")

// Result is the outcome of parsing one completion.
type Result struct {
	// Value is the decoded JSON value; nil when JSON is false.
	Value any
	// Text is the cleaned completion: fences stripped, whitespace trimmed.
	Text string
	// JSON reports whether a JSON payload was recovered.
	JSON bool
	// Err is the decode error when no JSON payload could be recovered.
	Err error
}

// Object returns the payload as a JSON object, if it is one.
func (r Result) Object() (map[string]any, bool) {
	if !r.JSON {
		return nil, false
	}
	m, ok := r.Value.(map[string]any)
	return m, ok
}

// ParseJSONish decodes a JSON payload from a completion, tolerating code
// fences and surrounding prose. When nothing decodes it returns the cleaned
// text with JSON unset instead of failing.
func ParseJSONish(text string) Result {
	cleaned := StripFences(text)

	var v any
	err := json.Unmarshal([]byte(cleaned), &v)
	if err == nil {
		return Result{Value: v, Text: cleaned, JSON: true}
	}

	if embedded, ok := extractEmbedded(cleaned); ok {
		var ev any
		if json.Unmarshal([]byte(embedded), &ev) == nil {
			return Result{Value: ev, Text: cleaned, JSON: true}
		}
	}

	return Result{Text: cleaned, Err: err}
}

// StripFences removes a Markdown code fence around the payload, if any, and
// trims surrounding whitespace.
func StripFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if m := fenceRegex.FindStringSubmatch(trimmed); m != nil {
		return strings.TrimSpace(m[1])
	}
	// An unterminated opening fence still wraps the payload.
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```")
		if i := strings.IndexByte(trimmed, '\n'); i >= 0 && !strings.ContainsAny(trimmed[:i], "{[") {
			trimmed = trimmed[i+1:]
		}
	}
	return strings.TrimSpace(trimmed)
}

// extractEmbedded returns the outermost {...} or [...] span of s.
func extractEmbedded(s string) (string, bool) {
	for _, pair := range [][2]byte{{'{', '}'}, {'[', ']'}} {
		start := strings.IndexByte(s, pair[0])
		end := strings.LastIndexByte(s, pair[1])
		if start >= 0 && end > start {
			return s[start : end+1], true
		}
	}
	return "", false
}
