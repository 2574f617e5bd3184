// Package schema holds the fixed JSON schemas a model's structured output is
// asked to follow, and validates parsed payloads against them.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Name identifies one of the fixed response schemas.
type Name string

const (
	TopologySubject  Name = "topology-subject"
	TopologyTopic    Name = "topology-topic"
	TopologySubtopic Name = "topology-subtopic"
	Answer           Name = "answer"
)

// All lists every known schema.
var All = []Name{TopologySubject, TopologyTopic, TopologySubtopic, Answer}

// Field returns the required string field a schema declares.
func (n Name) Field() string {
	switch n {
	case TopologySubject:
		return "subjectId"
	case TopologyTopic:
		return "topicId"
	case TopologySubtopic:
		return "subtopicId"
	case Answer:
		return "answer"
	}
	return ""
}

// Valid reports whether n is a known schema.
func (n Name) Valid() bool {
	return n.Field() != ""
}

func document(field string) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			field: map[string]any{"type": "string"},
			"confidence": map[string]any{
				"type":    "number",
				"minimum": 0,
				"maximum": 1,
			},
		},
		"required": []string{field},
	}
}

// Document returns the JSON schema document for n.
func Document(n Name) (json.RawMessage, error) {
	if !n.Valid() {
		return nil, fmt.Errorf("schema: unknown schema %q", n)
	}
	return json.Marshal(document(n.Field()))
}

var (
	compileOnce sync.Once
	compileErr  error
	compiled    map[Name]*jsonschema.Schema
)

func compileAll() {
	compiled = make(map[Name]*jsonschema.Schema, len(All))
	c := jsonschema.NewCompiler()
	for _, n := range All {
		raw, err := Document(n)
		if err != nil {
			compileErr = err
			return
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			compileErr = fmt.Errorf("schema: parse %s: %w", n, err)
			return
		}
		url := string(n) + ".json"
		if err := c.AddResource(url, doc); err != nil {
			compileErr = fmt.Errorf("schema: add %s: %w", n, err)
			return
		}
		sch, err := c.Compile(url)
		if err != nil {
			compileErr = fmt.Errorf("schema: compile %s: %w", n, err)
			return
		}
		compiled[n] = sch
	}
}

// Validate checks a decoded JSON value against schema n.
func Validate(n Name, value any) error {
	compileOnce.Do(compileAll)
	if compileErr != nil {
		return compileErr
	}
	sch, ok := compiled[n]
	if !ok {
		return fmt.Errorf("schema: unknown schema %q", n)
	}
	// Round-trip through the library's decoder so numbers are json.Number.
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("schema: marshal value: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("schema: decode value: %w", err)
	}
	return sch.Validate(inst)
}
