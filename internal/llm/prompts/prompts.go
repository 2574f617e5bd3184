// Package prompts renders step prompt templates. Templates reference a
// closed set of {{token}} placeholders; referencing any other token is an
// error at parse time rather than a silent no-op.
package prompts

import (
	"embed"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/pavelanni/exambench/internal/model"
)

//go:embed templates/*.txt
var templateFS embed.FS

// Token is a placeholder name a template may reference.
type Token string

const (
	TokenQuestionContext     Token = "questionContext"
	TokenPreviousStepOutputs Token = "previousStepOutputs"
	TokenSubjectCatalog      Token = "subjectCatalog"
	TokenTopicCatalog        Token = "topicCatalog"
	TokenSubtopicCatalog     Token = "subtopicCatalog"
	TokenImageContext        Token = "imageContext"
)

// Tokens lists every supported token.
var Tokens = []Token{
	TokenQuestionContext,
	TokenPreviousStepOutputs,
	TokenSubjectCatalog,
	TokenTopicCatalog,
	TokenSubtopicCatalog,
	TokenImageContext,
}

var (
	tokenRegex      = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)
	blankLinesRegex = regexp.MustCompile(`\n{3,}`)
)

// ErrUnknownToken is returned when a template references an unsupported token.
var ErrUnknownToken = errors.New("unknown template token")

func known(t Token) bool {
	for _, k := range Tokens {
		if k == t {
			return true
		}
	}
	return false
}

// Source maps tokens to the functions that render them for one step.
type Source map[Token]func() (string, error)

// Template is a parsed prompt template.
type Template struct {
	text   string
	tokens []Token
}

// Parse parses a template and checks every referenced token is supported.
func Parse(text string) (*Template, error) {
	var (
		tokens []Token
		seen   = make(map[Token]bool)
		bad    []string
	)
	for _, m := range tokenRegex.FindAllStringSubmatch(text, -1) {
		t := Token(m[1])
		if !known(t) {
			bad = append(bad, m[1])
			continue
		}
		if !seen[t] {
			seen[t] = true
			tokens = append(tokens, t)
		}
	}
	if len(bad) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, strings.Join(bad, ", "))
	}
	return &Template{text: text, tokens: tokens}, nil
}

// Tokens returns the tokens the template references, in order of first use.
func (t *Template) Tokens() []Token {
	out := make([]Token, len(t.tokens))
	copy(out, t.tokens)
	return out
}

// Uses reports whether the template references tok.
func (t *Template) Uses(tok Token) bool {
	for _, u := range t.tokens {
		if u == tok {
			return true
		}
	}
	return false
}

// Render substitutes every referenced token using src. Substituted values
// are not rescanned for tokens.
func (t *Template) Render(src Source) (string, error) {
	values := make(map[string]string, len(t.tokens))
	for _, tok := range t.tokens {
		fn, ok := src[tok]
		if !ok {
			return "", fmt.Errorf("token %q is not available for this step", tok)
		}
		v, err := fn()
		if err != nil {
			return "", fmt.Errorf("render %s: %w", tok, err)
		}
		values[string(tok)] = v
	}
	out := tokenRegex.ReplaceAllStringFunc(t.text, func(m string) string {
		name := tokenRegex.FindStringSubmatch(m)[1]
		return values[name]
	})
	out = blankLinesRegex.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out), nil
}

// Static returns a render function for a fixed value.
func Static(s string) func() (string, error) {
	return func() (string, error) { return s, nil }
}

var (
	loadOnce sync.Once
	loadErr  error
	defaults map[string]string
)

func loadDefaults() {
	defaults = make(map[string]string)
	entries, err := templateFS.ReadDir("templates")
	if err != nil {
		loadErr = fmt.Errorf("read embedded templates: %w", err)
		return
	}
	for _, e := range entries {
		b, err := templateFS.ReadFile("templates/" + e.Name())
		if err != nil {
			loadErr = fmt.Errorf("read embedded template %s: %w", e.Name(), err)
			return
		}
		defaults[strings.TrimSuffix(e.Name(), ".txt")] = string(b)
	}
}

func builtin(name string) (string, error) {
	loadOnce.Do(loadDefaults)
	if loadErr != nil {
		return "", loadErr
	}
	s, ok := defaults[name]
	if !ok {
		return "", fmt.Errorf("no built-in template %q", name)
	}
	return s, nil
}

// Default returns the built-in template text for a step kind.
func Default(kind model.StepKind) (string, error) {
	if kind == model.StepLegacyTopology {
		kind = model.StepSubject
	}
	return builtin(string(kind))
}

// ImageSummary returns the prompt sent with an image to a vision binding.
func ImageSummary() string {
	s, err := builtin("image-summary")
	if err != nil {
		return "Describe this image and transcribe any text it contains."
	}
	return strings.TrimSpace(s)
}

// ForStep parses the step's template, falling back to the built-in
// template for its kind when none is configured.
func ForStep(step model.StepConfig, kind model.StepKind) (*Template, error) {
	text := step.PromptTemplate
	if strings.TrimSpace(text) == "" {
		d, err := Default(kind)
		if err != nil {
			return nil, err
		}
		text = d
	}
	t, err := Parse(text)
	if err != nil {
		return nil, fmt.Errorf("step %s: %w", step.ID, err)
	}
	return t, nil
}
