package model

// Level is one level of the classification cascade.
type Level string

const (
	LevelSubject  Level = "subject"
	LevelTopic    Level = "topic"
	LevelSubtopic Level = "subtopic"
)

// Levels lists the cascade levels in resolution order.
var Levels = []Level{LevelSubject, LevelTopic, LevelSubtopic}

// Subtopic is a leaf of the taxonomy.
type Subtopic struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Topic groups subtopics under a subject.
type Topic struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Subtopics []Subtopic `json:"subtopics"`
}

// Subject is a root of the taxonomy.
type Subject struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Topics []Topic `json:"topics"`
}

// Catalog is the read-only subject → topic → subtopic tree.
type Catalog struct {
	Subjects []Subject `json:"subjects"`
}

// LevelPrediction is the committed id and confidence for one level.
type LevelPrediction struct {
	ID         string   `json:"id"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// TopologyPrediction is the running cascade state of one question.
type TopologyPrediction struct {
	Subject  LevelPrediction          `json:"subject"`
	Topic    LevelPrediction          `json:"topic"`
	Subtopic LevelPrediction          `json:"subtopic"`
	Stages   map[Level]map[string]any `json:"stages,omitempty"`
	Raw      map[Level]string         `json:"raw,omitempty"`
}

// NewTopologyPrediction returns an empty cascade state.
func NewTopologyPrediction() *TopologyPrediction {
	return &TopologyPrediction{
		Stages: make(map[Level]map[string]any),
		Raw:    make(map[Level]string),
	}
}

// Get returns the committed prediction at level.
func (p *TopologyPrediction) Get(level Level) LevelPrediction {
	if p == nil {
		return LevelPrediction{}
	}
	switch level {
	case LevelSubject:
		return p.Subject
	case LevelTopic:
		return p.Topic
	case LevelSubtopic:
		return p.Subtopic
	}
	return LevelPrediction{}
}

// Commit records a stage's prediction along with its parsed and raw payloads.
func (p *TopologyPrediction) Commit(level Level, pred LevelPrediction, parsed map[string]any, raw string) {
	switch level {
	case LevelSubject:
		p.Subject = pred
	case LevelTopic:
		p.Topic = pred
	case LevelSubtopic:
		p.Subtopic = pred
	}
	if p.Stages == nil {
		p.Stages = make(map[Level]map[string]any)
	}
	if p.Raw == nil {
		p.Raw = make(map[Level]string)
	}
	if parsed != nil {
		p.Stages[level] = parsed
	}
	p.Raw[level] = raw
}

// Clone returns a deep-enough copy for freezing the state into an attempt.
func (p *TopologyPrediction) Clone() *TopologyPrediction {
	if p == nil {
		return nil
	}
	out := &TopologyPrediction{
		Subject:  p.Subject,
		Topic:    p.Topic,
		Subtopic: p.Subtopic,
		Stages:   make(map[Level]map[string]any, len(p.Stages)),
		Raw:      make(map[Level]string, len(p.Raw)),
	}
	for k, v := range p.Stages {
		m := make(map[string]any, len(v))
		for kk, vv := range v {
			m[kk] = vv
		}
		out.Stages[k] = m
	}
	for k, v := range p.Raw {
		out.Raw[k] = v
	}
	return out
}
