// Package pipeline runs a profile's configured steps over a question set:
// the topology cascade, the answer step and any analysis steps, one
// question at a time.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/exambench/internal/llm"
	"github.com/pavelanni/exambench/internal/llm/prompts"
	"github.com/pavelanni/exambench/internal/metrics"
	"github.com/pavelanni/exambench/internal/model"
	"github.com/pavelanni/exambench/internal/schema"
	"github.com/pavelanni/exambench/internal/topology"
)

// ErrRunCancelled is returned when a run is aborted by its context.
var ErrRunCancelled = errors.New("run cancelled")

// ErrNoTextBinding is returned when a profile has no text-to-text binding.
var ErrNoTextBinding = errors.New("profile has no text-to-text binding")

// Completer is the protocol client the pipeline talks to.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Completion, error)
	ListModels(ctx context.Context) ([]string, error)
	Binding() model.Binding
}

// Pipeline executes a profile's steps.
type Pipeline struct {
	profile   model.Profile
	steps     []model.StepConfig
	templates []*prompts.Template
	text      Completer
	vision    Completer
	index     *topology.Index
	images    *ImageCache
	preflight bool
	dataset   string

	progressMu sync.Mutex
	listeners  []ProgressListener
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithVision sets the image-to-text client used for {{imageContext}}.
func WithVision(c Completer) Option {
	return func(p *Pipeline) { p.vision = c }
}

// WithImageCache shares an image summary cache between pipelines.
func WithImageCache(c *ImageCache) Option {
	return func(p *Pipeline) { p.images = c }
}

// WithPreflight enables or disables the connectivity and JSON-mode checks
// run before the first question.
func WithPreflight(enabled bool) Option {
	return func(p *Pipeline) { p.preflight = enabled }
}

// WithDatasetHash records the question bank hash on every run.
func WithDatasetHash(hash string) Option {
	return func(p *Pipeline) { p.dataset = hash }
}

// New creates a pipeline for profile over catalog.
func New(profile model.Profile, catalog model.Catalog, text Completer, opts ...Option) (*Pipeline, error) {
	if text == nil {
		return nil, ErrNoTextBinding
	}
	p := &Pipeline{
		profile:   profile,
		steps:     NormalizeSteps(profile.Steps),
		text:      text,
		index:     topology.NewIndex(catalog),
		preflight: true,
	}
	for _, o := range opts {
		o(p)
	}
	if len(p.steps) == 0 {
		return nil, fmt.Errorf("profile %s has no enabled steps", profile.ID)
	}
	if p.images == nil {
		c, err := NewImageCache(DefaultImageCacheSize)
		if err != nil {
			return nil, err
		}
		p.images = c
	}
	for _, s := range p.steps {
		t, err := prompts.ForStep(s, model.KindOf(s.ID))
		if err != nil {
			return nil, err
		}
		p.templates = append(p.templates, t)
	}
	return p, nil
}

// FromProfile builds protocol clients for the profile's bindings and
// creates a pipeline with them.
func FromProfile(profile model.Profile, catalog model.Catalog, opts ...Option) (*Pipeline, error) {
	tb, ok := profile.BindingFor(model.CapabilityText)
	if !ok {
		return nil, ErrNoTextBinding
	}
	all := []Option{}
	if vb, ok := profile.BindingFor(model.CapabilityImage); ok {
		all = append(all, WithVision(llm.New(vb)))
	}
	return New(profile, catalog, llm.New(tb), append(all, opts...)...)
}

// Steps returns the normalized steps the pipeline executes.
func (p *Pipeline) Steps() []model.StepConfig {
	return append([]model.StepConfig(nil), p.steps...)
}

// Index returns the catalog index the cascade resolves against.
func (p *Pipeline) Index() *topology.Index { return p.index }

const preflightPrompt = `Reply with exactly this JSON object and nothing else: {"answer": "ok", "confidence": 1}`

// Preflight verifies the text binding is reachable and, when any step
// needs structured output, that it accepts a JSON response format.
func (p *Pipeline) Preflight(ctx context.Context) error {
	if _, err := p.text.ListModels(ctx); err != nil {
		return err
	}
	if !p.needsJSON() {
		return nil
	}
	_, err := p.text.Complete(ctx, llm.UserPrompt(preflightPrompt, true, schema.Answer))
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case llm.KindOf(err) == llm.KindJSONModeUnsupported:
		return err
	default:
		slog.Warn("preflight completion failed", "binding", p.text.Binding().ID, "error", err)
		return nil
	}
}

func (p *Pipeline) needsJSON() bool {
	for _, s := range p.steps {
		if model.KindOf(s.ID) != model.StepAnalysis {
			return true
		}
	}
	return false
}

// Run executes every question in order and returns the run record. The
// run is returned on error as well, with its status set to cancelled or
// failed.
func (p *Pipeline) Run(ctx context.Context, questions []model.Question) (*model.BenchmarkRun, error) {
	b := p.text.Binding()
	run := &model.BenchmarkRun{
		ID:          uuid.NewString(),
		ProfileID:   p.profile.ID,
		ProfileName: p.profile.Name,
		Model:       b.Model,
		DatasetHash: p.dataset,
		Status:      model.RunRunning,
		StartedAt:   time.Now().UTC(),
		Attempts:    []model.Attempt{},
	}
	total := len(questions)
	p.notifyProgress(ProgressEvent{EventType: EventRunStart, RunID: run.ID, Total: total, StartedAt: run.StartedAt})
	slog.Info("run started", "run", run.ID, "profile", p.profile.ID, "model", b.Model, "questions", total)

	if p.preflight {
		if err := p.Preflight(ctx); err != nil {
			return p.finish(run, err), fmt.Errorf("preflight: %w", p.wrapCancel(ctx, err))
		}
	}

	for i, q := range questions {
		if err := ctx.Err(); err != nil {
			return p.finish(run, err), p.wrapCancel(ctx, err)
		}
		p.notifyProgress(ProgressEvent{EventType: EventQuestionStart, RunID: run.ID, QuestionID: q.ID, Index: i + 1, Total: total})

		attempt, err := p.runQuestion(ctx, run.ID, q)
		if err != nil {
			return p.finish(run, err), p.wrapCancel(ctx, err)
		}
		run.Attempts = append(run.Attempts, attempt)
		run.Metrics = metrics.Aggregate(run.Attempts)

		m := run.Metrics
		p.notifyProgress(ProgressEvent{
			EventType:  EventQuestionComplete,
			RunID:      run.ID,
			QuestionID: q.ID,
			Index:      i + 1,
			Total:      total,
			Attempt:    &run.Attempts[len(run.Attempts)-1],
			Metrics:    &m,
		})
	}

	return p.finish(run, nil), nil
}

func (p *Pipeline) wrapCancel(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ErrRunCancelled, ctx.Err())
	}
	return err
}

func (p *Pipeline) finish(run *model.BenchmarkRun, err error) *model.BenchmarkRun {
	now := time.Now().UTC()
	run.CompletedAt = &now
	run.Metrics = metrics.Aggregate(run.Attempts)
	event := EventRunComplete
	switch {
	case err == nil:
		run.Status = model.RunCompleted
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		run.Status = model.RunCancelled
		run.Error = err.Error()
		event = EventRunStopped
	default:
		run.Status = model.RunFailed
		run.Error = err.Error()
		event = EventRunStopped
	}
	m := run.Metrics
	p.notifyProgress(ProgressEvent{EventType: event, RunID: run.ID, Total: len(run.Attempts), Metrics: &m, Err: err})
	slog.Info("run finished", "run", run.ID, "status", run.Status,
		"passed", run.Metrics.Passed, "total", run.Metrics.Total, "accuracy", run.Metrics.Accuracy)
	return run
}
