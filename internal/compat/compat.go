// Package compat runs the fail-fast compatibility checks that decide
// whether a profile's model server can run a benchmark.
package compat

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/pavelanni/exambench/internal/llm"
	"github.com/pavelanni/exambench/internal/llm/prompts"
	"github.com/pavelanni/exambench/internal/model"
	"github.com/pavelanni/exambench/internal/pipeline"
	"github.com/pavelanni/exambench/internal/response"
	"github.com/pavelanni/exambench/internal/schema"
)

// testImage is a 1x1 PNG sent to vision bindings.
const testImage = "data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNkYAAAAAYAAjCB0C8AAAAASUVORK5CYII="

const jsonProbe = `Return a JSON object with the field "answer" set to the string "ok" and "confidence" set to 1.`

// Checker runs checks against one profile's bindings.
type Checker struct {
	profile model.Profile
	text    pipeline.Completer
	vision  pipeline.Completer
}

// New creates a checker. vision may be nil when the profile has no
// image-to-text binding.
func New(profile model.Profile, text, vision pipeline.Completer) *Checker {
	return &Checker{profile: profile, text: text, vision: vision}
}

// FromProfile creates a checker with protocol clients for the profile's
// bindings.
func FromProfile(profile model.Profile) (*Checker, error) {
	tb, ok := profile.BindingFor(model.CapabilityText)
	if !ok {
		return nil, pipeline.ErrNoTextBinding
	}
	c := &Checker{profile: profile, text: llm.New(tb)}
	if vb, ok := profile.BindingFor(model.CapabilityImage); ok {
		c.vision = llm.New(vb)
	}
	return c, nil
}

type check struct {
	name model.CheckName
	run  func(context.Context) model.CheckResult
}

// Diagnose runs the connectivity and JSON-mode checks.
func (c *Checker) Diagnose(ctx context.Context) model.CheckReport {
	return c.runChecks(ctx, model.ReportDiagnostics, []check{
		{model.CheckConnectivity, c.connectivity},
		{model.CheckJSONMode, c.jsonMode},
	})
}

// Check runs every compatibility check in order, stopping at the first
// failure. The vision check runs only when an image binding is configured.
func (c *Checker) Check(ctx context.Context) model.CheckReport {
	checks := []check{
		{model.CheckConnectivity, c.connectivity},
		{model.CheckJSONMode, c.jsonMode},
		{model.CheckProtocol, c.protocol},
	}
	if c.vision != nil {
		checks = append(checks, check{model.CheckVision, c.visionSmoke})
	}
	return c.runChecks(ctx, model.ReportCompatibility, checks)
}

func (c *Checker) runChecks(ctx context.Context, kind model.ReportKind, checks []check) model.CheckReport {
	report := model.CheckReport{
		Kind:       kind,
		ProfileID:  c.profile.ID,
		Model:      c.text.Binding().Model,
		Compatible: true,
		Checks:     make([]model.CheckResult, 0, len(checks)),
	}
	for _, ch := range checks {
		if !report.Compatible {
			report.Checks = append(report.Checks, model.CheckResult{
				Name:    ch.name,
				Status:  model.CheckSkipped,
				Summary: fmt.Sprintf("skipped after %s failed", report.FailedAt),
			})
			continue
		}
		start := time.Now()
		res := ch.run(ctx)
		res.Name = ch.name
		res.LatencyMs = time.Since(start).Milliseconds()
		report.Checks = append(report.Checks, res)
		slog.Info("compatibility check", "check", ch.name, "status", res.Status, "summary", res.Summary)
		if res.Status == model.CheckFailed {
			report.Compatible = false
			report.FailedAt = ch.name
		}
	}
	report.CheckedAt = time.Now().UTC()
	return report
}

func failed(summary string, err error) model.CheckResult {
	res := model.CheckResult{Status: model.CheckFailed, Summary: summary}
	if err != nil {
		res.Details = append(res.Details, err.Error())
		if kind := llm.KindOf(err); kind != "" {
			res.Details = append(res.Details, "error kind: "+string(kind))
		}
	}
	return res
}

func (c *Checker) connectivity(ctx context.Context) model.CheckResult {
	ids, err := c.text.ListModels(ctx)
	if err != nil {
		return failed("server unreachable", err)
	}
	res := model.CheckResult{
		Status:  model.CheckPassed,
		Summary: fmt.Sprintf("%d models available", len(ids)),
	}
	want := c.text.Binding().Model
	if want != "" && !slices.Contains(ids, want) {
		res.Details = append(res.Details, fmt.Sprintf("model %q is not listed by the server", want))
	}
	return res
}

func (c *Checker) jsonMode(ctx context.Context) model.CheckResult {
	comp, err := c.text.Complete(ctx, llm.UserPrompt(jsonProbe, true, schema.Answer))
	if err != nil {
		if llm.KindOf(err) == llm.KindModelLoad {
			return failed("model failed to load", err)
		}
		return failed("no JSON response format accepted", err)
	}
	res := model.CheckResult{
		Status:     model.CheckPassed,
		Summary:    "structured output via " + comp.JSONFormat,
		JSONFormat: comp.JSONFormat,
	}
	if _, ok := response.ParseJSONish(comp.Text).Object(); !ok {
		res.Details = append(res.Details, "completion was not a JSON object: "+truncate(comp.Text, 200))
	}
	return res
}

func (c *Checker) protocol(ctx context.Context) model.CheckResult {
	profile := c.profile
	if !completeCascade(pipeline.NormalizeSteps(profile.Steps)) {
		profile.Steps = pipeline.DefaultSteps()
	}
	var opts []pipeline.Option
	opts = append(opts, pipeline.WithPreflight(false))
	if c.vision != nil {
		opts = append(opts, pipeline.WithVision(c.vision))
	}
	p, err := pipeline.New(profile, CanaryCatalog(), c.text, opts...)
	if err != nil {
		return failed("pipeline configuration invalid", err)
	}
	run, err := p.Run(ctx, []model.Question{CanaryQuestion()})
	if err != nil {
		return failed("canary run aborted", err)
	}
	a := run.Attempts[0]
	if a.Error != "" {
		return failed("canary question failed", fmt.Errorf("%s", a.Error))
	}

	var (
		details []string
		missing []string
	)
	for _, level := range model.Levels {
		id := a.TopologyPrediction.Get(level).ID
		details = append(details, fmt.Sprintf("%s: %q", level, id))
		if id == "" {
			missing = append(missing, string(level))
		}
	}
	if a.ModelResponse != nil {
		details = append(details, fmt.Sprintf("answer: %q (passed=%t)", a.ModelResponse.Answer, a.Passed()))
	}
	for _, s := range a.Steps {
		if s.JSONFormat != "" {
			details = append(details, fmt.Sprintf("%s format: %s", s.ID, s.JSONFormat))
		}
	}
	if len(missing) > 0 {
		res := failed("cascade ids missing: "+strings.Join(missing, ", "), nil)
		res.Details = details
		return res
	}
	return model.CheckResult{
		Status:  model.CheckPassed,
		Summary: "cascade and answer completed",
		Details: details,
	}
}

func completeCascade(steps []model.StepConfig) bool {
	seen := make(map[model.StepKind]bool)
	for _, s := range steps {
		seen[model.KindOf(s.ID)] = true
	}
	return seen[model.StepSubject] && seen[model.StepTopic] && seen[model.StepSubtopic] && seen[model.StepAnswer]
}

func (c *Checker) visionSmoke(ctx context.Context) model.CheckResult {
	comp, err := c.vision.Complete(ctx, llm.Request{Messages: []llm.Message{{
		Role:    "user",
		Content: prompts.ImageSummary(),
		Images:  []string{testImage},
	}}})
	if err != nil {
		return failed("vision request failed", err)
	}
	text := strings.TrimSpace(comp.Text)
	if text == "" {
		return failed("vision binding returned no text", nil)
	}
	return model.CheckResult{
		Status:  model.CheckPassed,
		Summary: "image described",
		Details: []string{truncate(text, 200)},
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
