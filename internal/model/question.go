package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// QuestionType is the declared shape of a question's answer.
type QuestionType string

const (
	// TypeSingle is a single-choice question (one correct option).
	TypeSingle QuestionType = "MCQ"
	// TypeMultiple is a multi-choice question (a set of correct options).
	TypeMultiple QuestionType = "MSQ"
	// TypeNumeric is a numeric-answer question.
	TypeNumeric QuestionType = "NAT"
	// TypeBoolean is a true/false question.
	TypeBoolean QuestionType = "TRUE_FALSE"
	// TypeDescriptive is the free-text fallback for every other type.
	TypeDescriptive QuestionType = "DESCRIPTIVE"
)

// NormalizeQuestionType maps a dataset type string onto the closed set of
// question types. Unknown values become TypeDescriptive.
func NormalizeQuestionType(s string) QuestionType {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "MCQ", "SINGLE", "SINGLE-CHOICE":
		return TypeSingle
	case "MSQ", "MULTIPLE", "MULTI-CHOICE":
		return TypeMultiple
	case "NAT", "NUMERIC":
		return TypeNumeric
	case "TRUE_FALSE", "BOOLEAN", "TRUE-FALSE":
		return TypeBoolean
	default:
		return TypeDescriptive
	}
}

// AnswerKind identifies the populated case of an AnswerKey.
type AnswerKind string

const (
	AnswerSingle      AnswerKind = "single"
	AnswerMultiple    AnswerKind = "multiple"
	AnswerNumeric     AnswerKind = "numeric"
	AnswerBoolean     AnswerKind = "boolean"
	AnswerDescriptive AnswerKind = "descriptive"
)

// AnswerKey is the typed answer key of a question. The set of
// implementations is closed: SingleKey, MultipleKey, NumericKey,
// BooleanKey and DescriptiveKey.
type AnswerKey interface {
	Kind() AnswerKind
	answerKey()
}

// SingleKey holds the index of the one correct option.
type SingleKey struct {
	CorrectOption int `json:"correctOption"`
}

// MultipleKey holds the indexes of every correct option.
type MultipleKey struct {
	CorrectOptions []int `json:"correctOptions"`
}

// NumericRange bounds an acceptable numeric answer. Nil fields are unset.
type NumericRange struct {
	Min       *float64 `json:"min,omitempty"`
	Max       *float64 `json:"max,omitempty"`
	Precision *int     `json:"precision,omitempty"`
}

// NumericKey accepts a value inside Range or equal to one of AcceptedAnswers.
type NumericKey struct {
	Range           *NumericRange `json:"range,omitempty"`
	AcceptedAnswers []string      `json:"acceptedAnswers,omitempty"`
	CaseSensitive   bool          `json:"caseSensitive"`
}

// BooleanKey holds the expected truth value.
type BooleanKey struct {
	Value bool `json:"value"`
}

// DescriptiveKey lists exact-match accepted answers.
type DescriptiveKey struct {
	AcceptedAnswers []string `json:"acceptedAnswers"`
	CaseSensitive   bool     `json:"caseSensitive"`
}

func (SingleKey) Kind() AnswerKind      { return AnswerSingle }
func (MultipleKey) Kind() AnswerKind    { return AnswerMultiple }
func (NumericKey) Kind() AnswerKind     { return AnswerNumeric }
func (BooleanKey) Kind() AnswerKind     { return AnswerBoolean }
func (DescriptiveKey) Kind() AnswerKind { return AnswerDescriptive }

func (SingleKey) answerKey()      {}
func (MultipleKey) answerKey()    {}
func (NumericKey) answerKey()     {}
func (BooleanKey) answerKey()     {}
func (DescriptiveKey) answerKey() {}

// AnswerKindFor returns the answer-key case a question type must carry.
func AnswerKindFor(t QuestionType) AnswerKind {
	switch t {
	case TypeSingle:
		return AnswerSingle
	case TypeMultiple:
		return AnswerMultiple
	case TypeNumeric:
		return AnswerNumeric
	case TypeBoolean:
		return AnswerBoolean
	default:
		return AnswerDescriptive
	}
}

// Option is one answer choice of a choice question.
type Option struct {
	ID    string `json:"id"`
	Order int    `json:"order"`
	Text  string `json:"text"`
}

// QuestionMetadata carries expected topology labels and free-form tags.
type QuestionMetadata struct {
	SubjectID  *string  `json:"subjectId"`
	TopicID    *string  `json:"topicId"`
	SubtopicID *string  `json:"subtopicId"`
	Tags       []string `json:"tags,omitempty"`
}

// Expected returns the expected label at level, or "" when none is declared.
func (m QuestionMetadata) Expected(level Level) string {
	var p *string
	switch level {
	case LevelSubject:
		p = m.SubjectID
	case LevelTopic:
		p = m.TopicID
	case LevelSubtopic:
		p = m.SubtopicID
	}
	if p == nil {
		return ""
	}
	return strings.TrimSpace(*p)
}

// Question is an immutable exam item.
type Question struct {
	ID           string
	Type         QuestionType
	Prompt       string
	Instructions string
	Options      []Option
	Answer       AnswerKey
	Solution     string
	Images       []string
	Metadata     QuestionMetadata
}

type questionJSON struct {
	ID           string           `json:"id"`
	Type         string           `json:"type"`
	Prompt       string           `json:"prompt"`
	Instructions string           `json:"instructions,omitempty"`
	Options      []Option         `json:"options,omitempty"`
	Answer       json.RawMessage  `json:"answer"`
	Solution     string           `json:"solution,omitempty"`
	Images       []string         `json:"images,omitempty"`
	Metadata     QuestionMetadata `json:"metadata"`
}

// MarshalJSON encodes the answer key inline under "answer".
func (q Question) MarshalJSON() ([]byte, error) {
	var answer json.RawMessage
	if q.Answer != nil {
		b, err := json.Marshal(q.Answer)
		if err != nil {
			return nil, fmt.Errorf("marshal answer key: %w", err)
		}
		answer = b
	}
	return json.Marshal(questionJSON{
		ID:           q.ID,
		Type:         string(q.Type),
		Prompt:       q.Prompt,
		Instructions: q.Instructions,
		Options:      q.Options,
		Answer:       answer,
		Solution:     q.Solution,
		Images:       q.Images,
		Metadata:     q.Metadata,
	})
}

// UnmarshalJSON decodes a question and validates that its answer key case
// matches the declared type.
func (q *Question) UnmarshalJSON(data []byte) error {
	var raw questionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	qt := NormalizeQuestionType(raw.Type)
	key, err := decodeAnswerKey(qt, raw.Answer)
	if err != nil {
		return fmt.Errorf("question %s: %w", raw.ID, err)
	}
	*q = Question{
		ID:           raw.ID,
		Type:         qt,
		Prompt:       raw.Prompt,
		Instructions: raw.Instructions,
		Options:      raw.Options,
		Answer:       key,
		Solution:     raw.Solution,
		Images:       raw.Images,
		Metadata:     raw.Metadata,
	}
	return nil
}

func decodeAnswerKey(qt QuestionType, data json.RawMessage) (AnswerKey, error) {
	// A missing key decodes to nil; Validate reports it for loaded banks.
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	switch qt {
	case TypeSingle:
		var v struct {
			CorrectOption *int `json:"correctOption"`
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("decode single answer key: %w", err)
		}
		if v.CorrectOption == nil {
			return nil, errors.New("single answer key requires correctOption")
		}
		return SingleKey{CorrectOption: *v.CorrectOption}, nil
	case TypeMultiple:
		var v MultipleKey
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("decode multiple answer key: %w", err)
		}
		if len(v.CorrectOptions) == 0 {
			return nil, errors.New("multiple answer key requires correctOptions")
		}
		return v, nil
	case TypeNumeric:
		var v NumericKey
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("decode numeric answer key: %w", err)
		}
		if v.Range == nil && len(v.AcceptedAnswers) == 0 {
			return nil, errors.New("numeric answer key requires range or acceptedAnswers")
		}
		return v, nil
	case TypeBoolean:
		var v struct {
			Value *bool `json:"value"`
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("decode boolean answer key: %w", err)
		}
		if v.Value == nil {
			return nil, errors.New("boolean answer key requires value")
		}
		return BooleanKey{Value: *v.Value}, nil
	default:
		var v DescriptiveKey
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("decode descriptive answer key: %w", err)
		}
		return v, nil
	}
}

// Validate checks the invariants a loaded question must hold.
func (q Question) Validate() error {
	if strings.TrimSpace(q.ID) == "" {
		return errors.New("question id is empty")
	}
	if q.Answer == nil {
		return fmt.Errorf("question %s: answer key is missing", q.ID)
	}
	if want := AnswerKindFor(q.Type); q.Answer.Kind() != want {
		return fmt.Errorf("question %s: answer key is %s, type %s requires %s", q.ID, q.Answer.Kind(), q.Type, want)
	}
	n := len(q.Options)
	if n > MaxOptions {
		return fmt.Errorf("question %s: %d options, at most %d can be lettered", q.ID, n, MaxOptions)
	}
	switch k := q.Answer.(type) {
	case SingleKey:
		if k.CorrectOption < 0 || k.CorrectOption >= n {
			return fmt.Errorf("question %s: correctOption %d out of range (%d options)", q.ID, k.CorrectOption, n)
		}
	case MultipleKey:
		for _, idx := range k.CorrectOptions {
			if idx < 0 || idx >= n {
				return fmt.Errorf("question %s: correctOptions index %d out of range (%d options)", q.ID, idx, n)
			}
		}
	}
	return nil
}

// OrderedOptions returns the options sorted by their declared order.
// Answer-key indexes and option letters refer to this ordering.
func (q Question) OrderedOptions() []Option {
	out := make([]Option, len(q.Options))
	copy(out, q.Options)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// MaxOptions is the number of option letters, A through Z.
const MaxOptions = 26

// OptionLetter returns the letter label for a zero-based option index.
func OptionLetter(index int) string {
	if index < 0 || index >= MaxOptions {
		return ""
	}
	return string(rune('A' + index))
}

// QuestionBank is the static dataset a run draws from.
type QuestionBank struct {
	GeneratedAt time.Time      `json:"generatedAt"`
	Stats       map[string]int `json:"stats,omitempty"`
	Questions   []Question     `json:"questions"`
}
