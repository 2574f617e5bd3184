package response

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

// StagePayload is the decoded shape of a topology stage completion. Stages
// may echo earlier levels' ids, so every level is decoded.
type StagePayload struct {
	SubjectID  string `mapstructure:"subjectId"`
	TopicID    string `mapstructure:"topicId"`
	SubtopicID string `mapstructure:"subtopicId"`
	ID         string `mapstructure:"id"`
	Confidence any    `mapstructure:"confidence"`
}

// AnswerPayload is the decoded shape of an answer completion.
type AnswerPayload struct {
	Answer      any    `mapstructure:"answer"`
	Explanation string `mapstructure:"explanation"`
	Confidence  any    `mapstructure:"confidence"`
	SubjectID   string `mapstructure:"subjectId"`
	TopicID     string `mapstructure:"topicId"`
	SubtopicID  string `mapstructure:"subtopicId"`
}

// Decode maps a loosely-typed JSON object onto out. Keys are matched
// ignoring case, underscores and hyphens, and scalar types are coerced.
func Decode(fields map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("response: build decoder: %w", err)
	}
	if err := dec.Decode(normalizeKeys(fields)); err != nil {
		return fmt.Errorf("response: decode payload: %w", err)
	}
	return nil
}

func normalizeKeys(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		nk := strings.NewReplacer("_", "", "-", "").Replace(k)
		if _, exists := out[nk]; exists {
			continue
		}
		out[nk] = v
	}
	return out
}

// Confidence interprets a model-reported confidence. Numbers, numeric
// strings and percentages are accepted; values above 1 and up to 100 are
// read as percentages. The result is clamped to [0, 1].
func Confidence(v any) (*float64, bool) {
	var f float64
	switch x := v.(type) {
	case nil:
		return nil, false
	case float64:
		f = x
	case int:
		f = float64(x)
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return nil, false
		}
		f = parsed
	case string:
		s := strings.TrimSpace(x)
		pct := strings.HasSuffix(s, "%")
		s = strings.TrimSuffix(s, "%")
		parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, false
		}
		f = parsed
		if pct {
			f /= 100
		}
	default:
		return nil, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, false
	}
	if f > 1 && f <= 100 {
		f /= 100
	}
	f = math.Max(0, math.Min(1, f))
	return &f, true
}

// Canonical renders a decoded answer value as a string: arrays are joined
// with commas, booleans and numbers use their plain forms.
func Canonical(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		return x.String()
	case []any:
		parts := make([]string, 0, len(x))
		for _, e := range x {
			if s := Canonical(e); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ",")
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}
