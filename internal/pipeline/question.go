package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/exambench/internal/evaluator"
	"github.com/pavelanni/exambench/internal/llm"
	"github.com/pavelanni/exambench/internal/llm/prompts"
	"github.com/pavelanni/exambench/internal/model"
	"github.com/pavelanni/exambench/internal/response"
	"github.com/pavelanni/exambench/internal/schema"
	"github.com/pavelanni/exambench/internal/topology"
)

// questionRun is the per-question state threaded through its steps.
type questionRun struct {
	q       model.Question
	attempt *model.Attempt
	pred    *model.TopologyPrediction

	images     []string
	imagesDone bool
}

// runQuestion executes every step for q. Step failures are recorded on the
// returned attempt; the error is non-nil only when ctx was cancelled.
func (p *Pipeline) runQuestion(ctx context.Context, runID string, q model.Question) (model.Attempt, error) {
	attempt := model.Attempt{
		ID:         uuid.NewString(),
		RunID:      runID,
		QuestionID: q.ID,
		StartedAt:  time.Now().UTC(),
		RequestPayload: model.AttemptRequest{
			ProfileID:   p.profile.ID,
			ProfileName: p.profile.Name,
			Binding:     p.text.Binding(),
			Steps:       []model.StepPrompt{},
		},
		Steps:            []model.StepResult{},
		QuestionSnapshot: q,
	}
	if p.vision != nil {
		vb := p.vision.Binding()
		attempt.RequestPayload.ImageBinding = &vb
	}

	qr := &questionRun{q: q, attempt: &attempt, pred: model.NewTopologyPrediction()}
	hasCascade := false
	for i, step := range p.steps {
		kind := model.KindOf(step.ID)
		if _, ok := kind.LevelOf(); ok {
			hasCascade = true
		}
		res, err := p.runStep(ctx, qr, i, step, kind)
		if err != nil {
			if ctx.Err() != nil {
				return attempt, err
			}
			attempt.Error = fmt.Sprintf("step %s: %v", step.ID, err)
			ev := evaluator.Failed(attempt.Error)
			attempt.Evaluation = &ev
			slog.Warn("question failed", "question", q.ID, "step", step.ID, "error", err)
			break
		}
		attempt.Steps = append(attempt.Steps, res)
		attempt.Usage = attempt.Usage.Add(res.Usage)
		p.notifyProgress(ProgressEvent{
			EventType:  EventStepComplete,
			RunID:      runID,
			QuestionID: q.ID,
			Step:       &attempt.Steps[len(attempt.Steps)-1],
		})
	}

	if hasCascade {
		attempt.TopologyPrediction = qr.pred.Clone()
		te := evaluator.Topology(q, qr.pred, p.index)
		attempt.TopologyEvaluation = &te
	}
	if attempt.Evaluation == nil {
		ev := evaluator.Failed("no answer step configured")
		attempt.Evaluation = &ev
	}
	attempt.CompletedAt = time.Now().UTC()
	attempt.LatencyMs = attempt.CompletedAt.Sub(attempt.StartedAt).Milliseconds()
	return attempt, nil
}

func (p *Pipeline) runStep(ctx context.Context, qr *questionRun, order int, step model.StepConfig, kind model.StepKind) (model.StepResult, error) {
	level, isStage := kind.LevelOf()
	var resolver topology.Resolver
	if isStage {
		resolver = p.index.Resolver(level)
	}

	tmpl := p.templates[order]
	prompt, err := tmpl.Render(p.source(ctx, qr, tmpl))
	if err != nil {
		return model.StepResult{}, err
	}
	qr.attempt.RequestPayload.Steps = append(qr.attempt.RequestPayload.Steps, model.StepPrompt{ID: step.ID, Prompt: prompt})

	var req llm.Request
	switch {
	case isStage:
		req = llm.UserPrompt(prompt, true, resolver.Schema())
	case kind == model.StepAnswer:
		req = llm.UserPrompt(prompt, true, schema.Answer)
	default:
		req = llm.UserPrompt(prompt, false, "")
	}

	comp, err := p.text.Complete(ctx, req)
	if err != nil {
		return model.StepResult{}, err
	}

	res := model.StepResult{
		ID:              step.ID,
		Label:           step.Label,
		Kind:            kind,
		Order:           order,
		Prompt:          prompt,
		RequestPayload:  comp.RequestPayload,
		ResponsePayload: comp.ResponsePayload,
		ResponseText:    comp.Text,
		JSONFormat:      comp.JSONFormat,
		LatencyMs:       comp.Latency.Milliseconds(),
		Usage:           comp.Usage,
	}
	if comp.FallbackUsed {
		res.Notes = append(res.Notes, "json_object rejected; used json_schema")
	}

	switch {
	case isStage:
		st := resolver.Parse(comp.Text)
		qr.pred.Commit(level, st.Prediction(), st.Parsed, st.Raw)
		res.TopologyStage = st.Outcome()
		if st.Fallback {
			res.Notes = append(res.Notes, "response was not JSON")
		}
		res.Notes = append(res.Notes, resolver.Notes(st, qr.pred)...)
		ev := evaluator.TopologyThrough(qr.q, qr.pred, p.index, level)
		res.Evaluation = &ev
	case kind == model.StepAnswer:
		mr, echo := ParseAnswer(comp.Text)
		if mr.Fallback {
			res.Notes = append(res.Notes, "response was not JSON; using raw text as the answer")
		}
		res.Notes = append(res.Notes, topology.EchoNotes(echo, qr.pred)...)
		ev := evaluator.Answer(qr.q, mr.Answer, mr.Confidence)
		res.ModelResponse = &mr
		res.Evaluation = &ev
		qr.attempt.ModelResponse = &mr
		qr.attempt.Evaluation = &ev
		qr.attempt.ResponseText = comp.Text
	}
	return res, nil
}

// ParseAnswer extracts the model response of an answer step. A completion
// that is not a JSON object is used verbatim, after fence stripping, as
// the answer.
func ParseAnswer(text string) (model.ModelResponse, map[model.Level]string) {
	res := response.ParseJSONish(text)
	obj, ok := res.Object()
	if !ok {
		if res.JSON {
			return model.ModelResponse{Answer: response.Canonical(res.Value)}, nil
		}
		return model.ModelResponse{Answer: res.Text, Fallback: true}, nil
	}

	var payload response.AnswerPayload
	if err := response.Decode(obj, &payload); err != nil {
		return model.ModelResponse{Answer: res.Text, Fields: obj, Fallback: true}, nil
	}
	mr := model.ModelResponse{
		Answer:      response.Canonical(payload.Answer),
		Explanation: strings.TrimSpace(payload.Explanation),
		Fields:      obj,
	}
	mr.Confidence, _ = response.Confidence(payload.Confidence)

	echo := make(map[model.Level]string)
	for level, id := range map[model.Level]string{
		model.LevelSubject:  payload.SubjectID,
		model.LevelTopic:    payload.TopicID,
		model.LevelSubtopic: payload.SubtopicID,
	} {
		if id = strings.TrimSpace(id); id != "" {
			echo[level] = id
		}
	}
	return mr, echo
}

// source binds the template tokens to the question's current state.
// Values are computed when a template references them. Image summaries are
// appended to the question context unless tmpl places them itself through
// {{imageContext}}.
func (p *Pipeline) source(ctx context.Context, qr *questionRun, tmpl *prompts.Template) prompts.Source {
	catalog := func(level model.Level) func() (string, error) {
		return func() (string, error) {
			out, _ := p.index.Resolver(level).Catalog(qr.pred)
			return out, nil
		}
	}
	imageContext := func() (string, error) {
		if !qr.imagesDone {
			summaries, err := p.imageSummaries(ctx, qr.q, &qr.attempt.Usage)
			if err != nil {
				return "", err
			}
			qr.images, qr.imagesDone = summaries, true
		}
		return prompts.ImageContext(qr.images), nil
	}
	questionContext := func() (string, error) {
		text := prompts.QuestionContext(qr.q)
		if tmpl.Uses(prompts.TokenImageContext) {
			return text, nil
		}
		images, err := imageContext()
		if err != nil {
			return "", err
		}
		if images == "" {
			return text, nil
		}
		return text + "\n\n" + images, nil
	}
	return prompts.Source{
		prompts.TokenQuestionContext:     questionContext,
		prompts.TokenPreviousStepOutputs: func() (string, error) { return previousOutputs(qr.attempt.Steps) },
		prompts.TokenSubjectCatalog:      catalog(model.LevelSubject),
		prompts.TokenTopicCatalog:        catalog(model.LevelTopic),
		prompts.TokenSubtopicCatalog:     catalog(model.LevelSubtopic),
		prompts.TokenImageContext:        imageContext,
	}
}

type stepProjection struct {
	ID           string              `json:"id"`
	Label        string              `json:"label,omitempty"`
	ResponseText string              `json:"responseText"`
	Evaluation   *model.Evaluation   `json:"evaluation,omitempty"`
	Prediction   *model.StageOutcome `json:"prediction,omitempty"`
}

func previousOutputs(steps []model.StepResult) (string, error) {
	out := make([]stepProjection, 0, len(steps))
	for _, s := range steps {
		out = append(out, stepProjection{
			ID:           s.ID,
			Label:        s.Label,
			ResponseText: s.ResponseText,
			Evaluation:   s.Evaluation,
			Prediction:   s.TopologyStage,
		})
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal previous step outputs: %w", err)
	}
	return string(b), nil
}
