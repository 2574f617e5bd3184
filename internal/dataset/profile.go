package dataset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/pavelanni/exambench/internal/llm/prompts"
	"github.com/pavelanni/exambench/internal/model"
)

// DefaultBindingID is the id given to the binding migrated from a
// version 1 profile.
const DefaultBindingID = "default"

// ProfileFile is the on-disk profile. Version 1 profiles kept a single
// endpoint at the top level.
type ProfileFile struct {
	model.Profile `yaml:",inline"`

	BaseURL     string         `yaml:"baseUrl,omitempty"`
	APIKey      string         `yaml:"apiKey,omitempty"`
	APIKeyEnv   string         `yaml:"apiKeyEnv,omitempty"`
	Model       string         `yaml:"model,omitempty"`
	Temperature *float32       `yaml:"temperature,omitempty"`
	MaxTokens   int            `yaml:"maxTokens,omitempty"`
	TimeoutMs   int            `yaml:"timeoutMs,omitempty"`
	JSONMode    model.JSONMode `yaml:"jsonMode,omitempty"`
}

// LoadProfile reads a YAML or JSON profile, migrating older versions.
func LoadProfile(path string) (model.Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Profile{}, fmt.Errorf("read profile: %w", err)
	}
	p, err := ParseProfile(data)
	if err != nil {
		return model.Profile{}, fmt.Errorf("profile %s: %w", filepath.Base(path), err)
	}
	return p, nil
}

// ParseProfile decodes a profile. JSON is accepted since it is valid YAML.
func ParseProfile(data []byte) (model.Profile, error) {
	var f ProfileFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return model.Profile{}, fmt.Errorf("decode profile: %w", err)
	}
	p := MigrateProfile(f)
	return p, ValidateProfile(p)
}

// MigrateProfile converts an on-disk profile to the current version. A
// version 1 profile's top-level endpoint becomes the "default" text
// binding.
func MigrateProfile(f ProfileFile) model.Profile {
	p := f.Profile
	if p.Version >= model.CurrentProfileVersion {
		return p
	}
	if f.BaseURL != "" || f.Model != "" {
		b := model.Binding{
			ID:         DefaultBindingID,
			Name:       f.Name,
			Capability: model.CapabilityText,
			BaseURL:    f.BaseURL,
			APIKey:     f.APIKey,
			APIKeyEnv:  f.APIKeyEnv,
			Model:      f.Model,
			Sampling:   model.SamplingParams{MaxTokens: f.MaxTokens},
			TimeoutMs:  f.TimeoutMs,
			JSONMode:   f.JSONMode,
		}
		if f.Temperature != nil {
			b.Sampling.Temperature = *f.Temperature
		}
		p.Bindings = append([]model.Binding{b}, p.Bindings...)
		p.Pipeline = append([]model.PipelineAssignment{{
			Capability: model.CapabilityText,
			BindingID:  DefaultBindingID,
		}}, p.Pipeline...)
	}
	p.Version = model.CurrentProfileVersion
	return p
}

// ValidateProfile checks bindings, pipeline assignments and step templates.
func ValidateProfile(p model.Profile) error {
	var errs []error
	if p.ID == "" {
		errs = append(errs, errors.New("profile id is empty"))
	}
	ids := make(map[string]bool)
	for _, b := range p.Bindings {
		switch {
		case b.ID == "":
			errs = append(errs, errors.New("binding with empty id"))
		case ids[b.ID]:
			errs = append(errs, fmt.Errorf("duplicate binding id %s", b.ID))
		}
		ids[b.ID] = true
		if b.BaseURL == "" {
			errs = append(errs, fmt.Errorf("binding %s: baseUrl is empty", b.ID))
		}
		if b.Model == "" {
			errs = append(errs, fmt.Errorf("binding %s: model is empty", b.ID))
		}
		if b.Capability != model.CapabilityText && b.Capability != model.CapabilityImage {
			errs = append(errs, fmt.Errorf("binding %s: unknown capability %q", b.ID, b.Capability))
		}
	}
	for _, a := range p.Pipeline {
		if !ids[a.BindingID] {
			errs = append(errs, fmt.Errorf("pipeline %s: unknown binding %s", a.Capability, a.BindingID))
		}
	}
	if _, ok := p.BindingFor(model.CapabilityText); !ok {
		errs = append(errs, errors.New("no text-to-text binding"))
	}
	for _, s := range p.Steps {
		if s.ID == "" {
			errs = append(errs, errors.New("step with empty id"))
			continue
		}
		if _, err := prompts.ForStep(s, model.KindOf(s.ID)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
