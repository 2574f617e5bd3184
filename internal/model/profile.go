package model

import (
	"os"
	"strings"
	"time"
)

// Capability is what a binding can do.
type Capability string

const (
	CapabilityText  Capability = "text-to-text"
	CapabilityImage Capability = "image-to-text"
)

// JSONMode declares how a binding's server handles structured output.
type JSONMode string

const (
	// JSONModeAuto negotiates json_object first, then json_schema.
	JSONModeAuto JSONMode = "auto"
	// JSONModeObject only uses response_format json_object.
	JSONModeObject JSONMode = "json_object"
	// JSONModeSchema goes straight to a strict json_schema.
	JSONModeSchema JSONMode = "json_schema"
	// JSONModeNone never sends response_format.
	JSONModeNone JSONMode = "none"
)

const defaultBindingTimeout = 60 * time.Second

// SamplingParams are the generation parameters sent with every request.
type SamplingParams struct {
	Temperature      float32  `json:"temperature" yaml:"temperature"`
	MaxTokens        int      `json:"maxTokens" yaml:"maxTokens"`
	TopP             *float32 `json:"topP,omitempty" yaml:"topP,omitempty"`
	FrequencyPenalty *float32 `json:"frequencyPenalty,omitempty" yaml:"frequencyPenalty,omitempty"`
	PresencePenalty  *float32 `json:"presencePenalty,omitempty" yaml:"presencePenalty,omitempty"`
}

// Binding is a named model endpoint configuration.
type Binding struct {
	ID         string         `json:"id" yaml:"id"`
	Name       string         `json:"name,omitempty" yaml:"name,omitempty"`
	Capability Capability     `json:"capability" yaml:"capability"`
	BaseURL    string         `json:"baseUrl" yaml:"baseUrl"`
	APIKey     string         `json:"-" yaml:"apiKey,omitempty"`
	APIKeyEnv  string         `json:"apiKeyEnv,omitempty" yaml:"apiKeyEnv,omitempty"`
	Model      string         `json:"model" yaml:"model"`
	Sampling   SamplingParams `json:"sampling" yaml:"sampling"`
	TimeoutMs  int            `json:"timeoutMs,omitempty" yaml:"timeoutMs,omitempty"`
	JSONMode   JSONMode       `json:"jsonMode,omitempty" yaml:"jsonMode,omitempty"`
}

// Timeout returns the per-request timeout, defaulting to one minute.
func (b Binding) Timeout() time.Duration {
	if b.TimeoutMs <= 0 {
		return defaultBindingTimeout
	}
	return time.Duration(b.TimeoutMs) * time.Millisecond
}

// ResolvedAPIKey returns the inline key, or the value of APIKeyEnv.
func (b Binding) ResolvedAPIKey() string {
	if b.APIKey != "" {
		return b.APIKey
	}
	if b.APIKeyEnv != "" {
		return os.Getenv(b.APIKeyEnv)
	}
	return ""
}

// EffectiveJSONMode returns the declared JSON mode, defaulting to auto.
func (b Binding) EffectiveJSONMode() JSONMode {
	switch JSONMode(strings.ToLower(string(b.JSONMode))) {
	case JSONModeObject:
		return JSONModeObject
	case JSONModeSchema:
		return JSONModeSchema
	case JSONModeNone:
		return JSONModeNone
	default:
		return JSONModeAuto
	}
}

// PipelineAssignment binds a capability to a named binding.
type PipelineAssignment struct {
	Capability Capability `json:"capability" yaml:"capability"`
	BindingID  string     `json:"bindingId" yaml:"bindingId"`
}

// StepKind is the role a configured step plays in the pipeline.
type StepKind string

const (
	StepSubject  StepKind = "topology-subject"
	StepTopic    StepKind = "topology-topic"
	StepSubtopic StepKind = "topology-subtopic"
	StepAnswer   StepKind = "answer"
	// StepLegacyTopology is the single-step id older profiles used for
	// the whole cascade.
	StepLegacyTopology StepKind = "topology"
	// StepAnalysis is any other step: sent as plain text and recorded.
	StepAnalysis StepKind = "analysis"
)

// KindOf maps a step id onto its kind.
func KindOf(stepID string) StepKind {
	switch StepKind(strings.ToLower(strings.TrimSpace(stepID))) {
	case StepSubject:
		return StepSubject
	case StepTopic:
		return StepTopic
	case StepSubtopic:
		return StepSubtopic
	case StepAnswer:
		return StepAnswer
	case StepLegacyTopology:
		return StepLegacyTopology
	default:
		return StepAnalysis
	}
}

// LevelOf returns the cascade level a topology step resolves.
func (k StepKind) LevelOf() (Level, bool) {
	switch k {
	case StepSubject:
		return LevelSubject, true
	case StepTopic:
		return LevelTopic, true
	case StepSubtopic:
		return LevelSubtopic, true
	}
	return "", false
}

// StepConfig is one user-configurable pipeline step.
type StepConfig struct {
	ID             string `json:"id" yaml:"id"`
	Label          string `json:"label,omitempty" yaml:"label,omitempty"`
	PromptTemplate string `json:"promptTemplate,omitempty" yaml:"promptTemplate,omitempty"`
	Enabled        *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty"`
}

// IsEnabled reports whether the step runs. Steps are enabled unless
// explicitly disabled.
func (s StepConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// Profile is the complete configuration of a benchmark target.
type Profile struct {
	Version  int                  `json:"version" yaml:"version"`
	ID       string               `json:"id" yaml:"id"`
	Name     string               `json:"name" yaml:"name"`
	Bindings []Binding            `json:"bindings" yaml:"bindings"`
	Pipeline []PipelineAssignment `json:"pipeline" yaml:"pipeline"`
	Steps    []StepConfig         `json:"steps" yaml:"steps"`
}

// CurrentProfileVersion is the profile shape this build reads natively.
const CurrentProfileVersion = 2

// Binding returns the binding with the given id.
func (p Profile) Binding(id string) (Binding, bool) {
	for _, b := range p.Bindings {
		if b.ID == id {
			return b, true
		}
	}
	return Binding{}, false
}

// BindingFor returns the binding assigned to a capability, first by the
// pipeline assignments and then by the first binding declaring it.
func (p Profile) BindingFor(c Capability) (Binding, bool) {
	for _, a := range p.Pipeline {
		if a.Capability == c {
			if b, ok := p.Binding(a.BindingID); ok {
				return b, true
			}
		}
	}
	for _, b := range p.Bindings {
		if b.Capability == c {
			return b, true
		}
	}
	return Binding{}, false
}
