package pipeline

import (
	"github.com/pavelanni/exambench/internal/model"
)

var cascadeSteps = []model.StepConfig{
	{ID: string(model.StepSubject), Label: "Subject"},
	{ID: string(model.StepTopic), Label: "Topic"},
	{ID: string(model.StepSubtopic), Label: "Subtopic"},
}

// DefaultSteps is the step list used when a profile configures none: the
// three-stage cascade followed by the answer step.
func DefaultSteps() []model.StepConfig {
	steps := append([]model.StepConfig(nil), cascadeSteps...)
	return append(steps, model.StepConfig{ID: string(model.StepAnswer), Label: "Answer"})
}

// NormalizeSteps returns the enabled steps in execution order. A legacy
// single "topology" step is replaced by the three cascade stages, inserted
// immediately before the first answer step, or prepended when there is no
// answer step.
func NormalizeSteps(steps []model.StepConfig) []model.StepConfig {
	if len(steps) == 0 {
		return DefaultSteps()
	}

	var (
		out        []model.StepConfig
		legacy     bool
		hasCascade bool
	)
	for _, s := range steps {
		if !s.IsEnabled() {
			continue
		}
		kind := model.KindOf(s.ID)
		if kind == model.StepLegacyTopology {
			legacy = true
			continue
		}
		if _, ok := kind.LevelOf(); ok {
			hasCascade = true
		}
		out = append(out, s)
	}
	if !legacy || hasCascade {
		return out
	}

	at := 0
	for i, s := range out {
		if model.KindOf(s.ID) == model.StepAnswer {
			at = i
			break
		}
	}
	expanded := make([]model.StepConfig, 0, len(out)+len(cascadeSteps))
	expanded = append(expanded, out[:at]...)
	expanded = append(expanded, cascadeSteps...)
	return append(expanded, out[at:]...)
}
