// Package evaluator grades model answers against typed answer keys and
// grades topology predictions against a question's expected labels.
package evaluator

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pavelanni/exambench/internal/model"
)

var (
	singleLetterRegex  = regexp.MustCompile(`^\(?([A-Za-z])\)?[.):]?$`)
	labeledLetterRegex = regexp.MustCompile(`\b(?i:option|answer|choice)\s*(?:is\s*)?:?\s*\(?([A-Z])\)?(?:[^A-Za-z]|$)`)
	leadingLetterRegex = regexp.MustCompile(`^\(?([A-Za-z])[).:]\s+\S`)
	letterListRegex    = regexp.MustCompile(`^\(?[A-Za-z]\)?(?:\s*(?:,|;|and|&|\s)\s*\(?[A-Za-z]\)?)*$`)
	andRegex           = regexp.MustCompile(`(?i)\band\b`)
	letterRegex        = regexp.MustCompile(`[A-Za-z]`)
	numberRegex        = regexp.MustCompile(`[-+]?(?:\d+\.?\d*|\.\d+)(?:[eE][-+]?\d+)?`)
	whitespaceRegex    = regexp.MustCompile(`\s+`)
)

// Answer grades a received answer against the question's key. Scores are
// binary and Notes carries the mismatch reason.
func Answer(q model.Question, received string, confidence *float64) model.Evaluation {
	received = strings.TrimSpace(received)
	var ev model.Evaluation
	switch key := q.Answer.(type) {
	case model.SingleKey:
		ev = gradeSingle(q, key, received)
	case model.MultipleKey:
		ev = gradeMultiple(q, key, received)
	case model.NumericKey:
		ev = gradeNumeric(key, received)
	case model.BooleanKey:
		ev = gradeBoolean(key, received)
	case model.DescriptiveKey:
		ev = gradeDescriptive(key, received)
	default:
		ev = model.Evaluation{Received: received, Notes: "question has no answer key"}
	}
	if ev.Passed {
		ev.Score = 1
	}
	ev.Metrics = &model.EvaluationMetrics{Confidence: confidence}
	return ev
}

// Failed is the evaluation recorded for a question that errored.
func Failed(reason string) model.Evaluation {
	return model.Evaluation{Passed: false, Score: 0, Notes: reason}
}

func optionCount(q model.Question) int {
	if n := len(q.Options); n > 0 {
		return n
	}
	return model.MaxOptions
}

// Letters extracts option letters from an answer. A bare letter, a list
// of letters ("A, C"), a letter leading its option text ("B) 4") or a
// labeled letter ("Option B", "answer: C") is recognized; anything else
// yields no letters.
func Letters(s string, options int) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var out []string
	switch {
	case singleLetterRegex.MatchString(s):
		out = []string{strings.ToUpper(singleLetterRegex.FindStringSubmatch(s)[1])}
	case letterListRegex.MatchString(s):
		cleaned := andRegex.ReplaceAllString(s, ",")
		for _, l := range letterRegex.FindAllString(cleaned, -1) {
			out = append(out, strings.ToUpper(l))
		}
	case leadingLetterRegex.MatchString(s):
		out = []string{strings.ToUpper(leadingLetterRegex.FindStringSubmatch(s)[1])}
	default:
		for _, m := range labeledLetterRegex.FindAllStringSubmatch(s, -1) {
			out = append(out, strings.ToUpper(m[1]))
		}
	}
	valid := out[:0]
	for _, l := range out {
		if int(l[0]-'A') < options {
			valid = append(valid, l)
		}
	}
	return valid
}

func gradeSingle(q model.Question, key model.SingleKey, received string) model.Evaluation {
	expected := model.OptionLetter(key.CorrectOption)
	letters := dedupe(Letters(received, optionCount(q)))
	ev := model.Evaluation{Expected: expected, Received: strings.Join(letters, ",")}
	switch {
	case len(letters) == 0:
		ev.Received = received
		ev.Notes = "no option letter found in answer"
	case len(letters) > 1:
		ev.Notes = fmt.Sprintf("expected a single option, got %s", ev.Received)
	case letters[0] != expected:
		ev.Notes = fmt.Sprintf("expected %s, got %s", expected, letters[0])
	default:
		ev.Passed = true
	}
	return ev
}

func gradeMultiple(q model.Question, key model.MultipleKey, received string) model.Evaluation {
	want := make([]string, 0, len(key.CorrectOptions))
	for _, idx := range key.CorrectOptions {
		want = append(want, model.OptionLetter(idx))
	}
	want = dedupe(want)
	got := dedupe(Letters(received, optionCount(q)))

	ev := model.Evaluation{Expected: strings.Join(want, ","), Received: strings.Join(got, ",")}
	if len(got) == 0 {
		ev.Received = received
		ev.Notes = "no option letters found in answer"
		return ev
	}
	missing, extra := diff(want, got)
	if len(missing) == 0 && len(extra) == 0 {
		ev.Passed = true
		return ev
	}
	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "missing "+strings.Join(missing, ","))
	}
	if len(extra) > 0 {
		parts = append(parts, "unexpected "+strings.Join(extra, ","))
	}
	ev.Notes = strings.Join(parts, "; ")
	return ev
}

// dedupe returns the sorted set of letters.
func dedupe(letters []string) []string {
	seen := make(map[string]bool, len(letters))
	out := make([]string, 0, len(letters))
	for _, l := range letters {
		if l != "" && !seen[l] {
			seen[l] = true
			out = append(out, l)
		}
	}
	sort.Strings(out)
	return out
}

func diff(want, got []string) (missing, extra []string) {
	in := func(set []string, v string) bool {
		for _, s := range set {
			if s == v {
				return true
			}
		}
		return false
	}
	for _, w := range want {
		if !in(got, w) {
			missing = append(missing, w)
		}
	}
	for _, g := range got {
		if !in(want, g) {
			extra = append(extra, g)
		}
	}
	return missing, extra
}

// Round rounds v to precision decimal places, halves away from zero.
func Round(v float64, precision int) float64 {
	if precision < 0 {
		return v
	}
	p := math.Pow(10, float64(precision))
	return math.Round(v*p) / p
}

// ParseNumber reads a number from an answer, taking the first number in
// the text when the whole string does not parse.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, true
	}
	m := numberRegex.FindString(s)
	if m == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(m, 64)
	return f, err == nil
}

func gradeNumeric(key model.NumericKey, received string) model.Evaluation {
	ev := model.Evaluation{Expected: describeNumeric(key), Received: received}

	if matchAccepted(key.AcceptedAnswers, received, key.CaseSensitive) {
		ev.Passed = true
		return ev
	}

	v, ok := ParseNumber(received)
	if !ok {
		ev.Notes = "answer is not a number"
		return ev
	}
	if acceptedNumber(key.AcceptedAnswers, v) {
		ev.Received = formatFloat(v)
		ev.Passed = true
		return ev
	}
	if key.Range == nil {
		ev.Notes = fmt.Sprintf("%s is not an accepted answer", received)
		return ev
	}
	if key.Range.Precision != nil {
		v = Round(v, *key.Range.Precision)
	}
	ev.Received = strconv.FormatFloat(v, 'f', -1, 64)
	if key.Range.Min != nil && v < *key.Range.Min {
		ev.Notes = fmt.Sprintf("%s is below the minimum %s", ev.Received, formatFloat(*key.Range.Min))
		return ev
	}
	if key.Range.Max != nil && v > *key.Range.Max {
		ev.Notes = fmt.Sprintf("%s is above the maximum %s", ev.Received, formatFloat(*key.Range.Max))
		return ev
	}
	ev.Passed = true
	return ev
}

// acceptedNumber matches v against accepted answers by canonical string
// form and, for entries that are themselves numbers, by value.
func acceptedNumber(accepted []string, v float64) bool {
	canonical := formatFloat(v)
	for _, a := range accepted {
		a = strings.TrimSpace(strings.ReplaceAll(a, ",", ""))
		if a == canonical {
			return true
		}
		if f, err := strconv.ParseFloat(a, 64); err == nil && f == v {
			return true
		}
	}
	return false
}

func describeNumeric(key model.NumericKey) string {
	if r := key.Range; r != nil && (r.Min != nil || r.Max != nil) {
		lo, hi := "-inf", "+inf"
		if r.Min != nil {
			lo = formatFloat(*r.Min)
		}
		if r.Max != nil {
			hi = formatFloat(*r.Max)
		}
		if lo == hi {
			return lo
		}
		return "[" + lo + "," + hi + "]"
	}
	return strings.Join(key.AcceptedAnswers, " | ")
}

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

// ParseBool normalizes boolean-ish answers.
func ParseBool(s string) (bool, bool) {
	v := strings.ToLower(strings.Trim(strings.TrimSpace(s), `."'!`))
	switch v {
	case "true", "t", "yes", "y", "1", "correct", "right", "verdadero", "да", "верно":
		return true, true
	case "false", "f", "no", "n", "0", "incorrect", "wrong", "falso", "нет", "неверно":
		return false, true
	}
	return false, false
}

func gradeBoolean(key model.BooleanKey, received string) model.Evaluation {
	ev := model.Evaluation{Expected: strconv.FormatBool(key.Value), Received: received}
	b, ok := ParseBool(received)
	if !ok {
		ev.Notes = "answer is not true or false"
		return ev
	}
	ev.Received = strconv.FormatBool(b)
	if b != key.Value {
		ev.Notes = fmt.Sprintf("expected %t, got %t", key.Value, b)
		return ev
	}
	ev.Passed = true
	return ev
}

func gradeDescriptive(key model.DescriptiveKey, received string) model.Evaluation {
	ev := model.Evaluation{Expected: strings.Join(key.AcceptedAnswers, " | "), Received: received}
	if len(key.AcceptedAnswers) == 0 {
		ev.Notes = "no accepted answers configured"
		return ev
	}
	if !matchAccepted(key.AcceptedAnswers, received, key.CaseSensitive) {
		ev.Notes = "answer does not match any accepted answer"
		return ev
	}
	ev.Passed = true
	return ev
}

func normalizeText(s string, caseSensitive bool) string {
	s = whitespaceRegex.ReplaceAllString(strings.TrimSpace(s), " ")
	if !caseSensitive {
		s = strings.ToLower(s)
	}
	return s
}

func matchAccepted(accepted []string, received string, caseSensitive bool) bool {
	got := normalizeText(received, caseSensitive)
	if got == "" {
		return false
	}
	for _, a := range accepted {
		if normalizeText(a, caseSensitive) == got {
			return true
		}
	}
	return false
}
