package model

import (
	"encoding/json"
	"time"
)

// Usage holds token accounting for one or more completions.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// Add returns the element-wise sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
	}
}

// StageOutcome is a topology stage's parsed prediction.
type StageOutcome struct {
	Level      Level          `json:"level"`
	ID         string         `json:"id"`
	Confidence *float64       `json:"confidence,omitempty"`
	Parsed     map[string]any `json:"parsed,omitempty"`
	Fallback   bool           `json:"fallback,omitempty"`
}

// ModelResponse is the parsed final answer of the answer step.
type ModelResponse struct {
	Answer      string         `json:"answer"`
	Confidence  *float64       `json:"confidence,omitempty"`
	Explanation string         `json:"explanation,omitempty"`
	Fields      map[string]any `json:"fields,omitempty"`
	// Fallback is set when the completion was not JSON and the cleaned raw
	// text was used as the answer.
	Fallback bool `json:"fallback,omitempty"`
}

// LevelMetrics records how one cascade level compared against expectations.
type LevelMetrics struct {
	Expected   bool     `json:"expected"`
	Provided   bool     `json:"provided"`
	Match      bool     `json:"match"`
	InCatalog  bool     `json:"inCatalog"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// EvaluationMetrics is the metrics bag attached to an Evaluation.
type EvaluationMetrics struct {
	Confidence *float64      `json:"confidence,omitempty"`
	Subject    *LevelMetrics `json:"subject,omitempty"`
	Topic      *LevelMetrics `json:"topic,omitempty"`
	Subtopic   *LevelMetrics `json:"subtopic,omitempty"`
}

// Level returns the metrics for a cascade level, or nil.
func (m *EvaluationMetrics) Level(level Level) *LevelMetrics {
	if m == nil {
		return nil
	}
	switch level {
	case LevelSubject:
		return m.Subject
	case LevelTopic:
		return m.Topic
	case LevelSubtopic:
		return m.Subtopic
	}
	return nil
}

// SetLevel stores the metrics for a cascade level.
func (m *EvaluationMetrics) SetLevel(level Level, lm *LevelMetrics) {
	switch level {
	case LevelSubject:
		m.Subject = lm
	case LevelTopic:
		m.Topic = lm
	case LevelSubtopic:
		m.Subtopic = lm
	}
}

// Evaluation is the grader's verdict on an answer or a cascade.
type Evaluation struct {
	Expected string             `json:"expected"`
	Received string             `json:"received"`
	Passed   bool               `json:"passed"`
	Score    float64            `json:"score"`
	Notes    string             `json:"notes,omitempty"`
	Metrics  *EvaluationMetrics `json:"metrics,omitempty"`
}

// StepResult is the immutable record of one executed step.
type StepResult struct {
	ID              string          `json:"id"`
	Label           string          `json:"label,omitempty"`
	Kind            StepKind        `json:"kind"`
	Order           int             `json:"order"`
	Prompt          string          `json:"prompt"`
	RequestPayload  json.RawMessage `json:"requestPayload,omitempty"`
	ResponsePayload json.RawMessage `json:"responsePayload,omitempty"`
	ResponseText    string          `json:"responseText"`
	JSONFormat      string          `json:"jsonFormat,omitempty"`
	LatencyMs       int64           `json:"latencyMs"`
	Usage           Usage           `json:"usage"`
	TopologyStage   *StageOutcome   `json:"topologyStage,omitempty"`
	ModelResponse   *ModelResponse  `json:"modelResponse,omitempty"`
	Evaluation      *Evaluation     `json:"evaluation,omitempty"`
	Notes           []string        `json:"notes,omitempty"`
}

// StepPrompt is the audit copy of a rendered step prompt.
type StepPrompt struct {
	ID     string `json:"id"`
	Prompt string `json:"prompt"`
}

// AttemptRequest snapshots what was sent for an attempt.
type AttemptRequest struct {
	ProfileID    string       `json:"profileId"`
	ProfileName  string       `json:"profileName"`
	Binding      Binding      `json:"binding"`
	ImageBinding *Binding     `json:"imageBinding,omitempty"`
	Steps        []StepPrompt `json:"steps"`
}

// Attempt is the complete record of one question's execution within a run.
type Attempt struct {
	ID                 string              `json:"id"`
	RunID              string              `json:"runId"`
	QuestionID         string              `json:"questionId"`
	StartedAt          time.Time           `json:"startedAt"`
	CompletedAt        time.Time           `json:"completedAt"`
	LatencyMs          int64               `json:"latencyMs"`
	Usage              Usage               `json:"usage"`
	RequestPayload     AttemptRequest      `json:"requestPayload"`
	ResponseText       string              `json:"responseText"`
	ModelResponse      *ModelResponse      `json:"modelResponse,omitempty"`
	Evaluation         *Evaluation         `json:"evaluation,omitempty"`
	TopologyPrediction *TopologyPrediction `json:"topologyPrediction,omitempty"`
	TopologyEvaluation *Evaluation         `json:"topologyEvaluation,omitempty"`
	Steps              []StepResult        `json:"steps"`
	Error              string              `json:"error,omitempty"`
	QuestionSnapshot   Question            `json:"questionSnapshot"`
}

// Passed reports whether the final answer was graded as correct.
func (a Attempt) Passed() bool {
	return a.Evaluation != nil && a.Evaluation.Passed
}

// LevelStats are cascade accuracy counters for one level.
type LevelStats struct {
	Comparisons int     `json:"comparisons"`
	Matches     int     `json:"matches"`
	Mismatches  int     `json:"mismatches"`
	Accuracy    float64 `json:"accuracy"`
}

// TopologyMetrics holds LevelStats per cascade level.
type TopologyMetrics struct {
	Subject  LevelStats `json:"subject"`
	Topic    LevelStats `json:"topic"`
	Subtopic LevelStats `json:"subtopic"`
}

// RunMetrics summarizes a run's attempts.
type RunMetrics struct {
	Total             int             `json:"total"`
	Passed            int             `json:"passed"`
	Failed            int             `json:"failed"`
	Errored           int             `json:"errored"`
	Accuracy          float64         `json:"accuracy"`
	AverageLatencyMs  float64         `json:"averageLatencyMs"`
	TotalTokens       int             `json:"totalTokens"`
	AverageConfidence float64         `json:"averageConfidence"`
	Topology          TopologyMetrics `json:"topology"`
}

// RunStatus is the lifecycle state of a benchmark run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunCancelled RunStatus = "cancelled"
	RunFailed    RunStatus = "failed"
)

// BenchmarkRun is one execution of a profile over a question set.
type BenchmarkRun struct {
	ID          string     `json:"id"`
	ProfileID   string     `json:"profileId"`
	ProfileName string     `json:"profileName"`
	Model       string     `json:"model"`
	DatasetHash string     `json:"datasetHash,omitempty"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Attempts    []Attempt  `json:"attempts"`
	Metrics     RunMetrics `json:"metrics"`
	Error       string     `json:"error,omitempty"`
}
