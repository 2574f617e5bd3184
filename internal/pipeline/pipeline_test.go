package pipeline

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pavelanni/exambench/internal/llm"
	"github.com/pavelanni/exambench/internal/llm/llmtest"
	"github.com/pavelanni/exambench/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func testCatalog() model.Catalog {
	return model.Catalog{Subjects: []model.Subject{
		{ID: "math", Name: "Mathematics", Topics: []model.Topic{
			{ID: "arithmetic", Name: "Arithmetic", Subtopics: []model.Subtopic{{ID: "addition", Name: "Addition"}}},
			{ID: "algebra", Name: "Algebra", Subtopics: []model.Subtopic{{ID: "linear", Name: "Linear equations"}}},
		}},
		{ID: "physics", Name: "Physics", Topics: []model.Topic{
			{ID: "mechanics", Name: "Mechanics", Subtopics: []model.Subtopic{{ID: "kinematics", Name: "Kinematics"}}},
		}},
	}}
}

func additionQuestion(id string) model.Question {
	return model.Question{
		ID:     id,
		Type:   model.TypeSingle,
		Prompt: "What is 2+2? (" + id + ")",
		Options: []model.Option{
			{ID: "o1", Order: 0, Text: "3"},
			{ID: "o2", Order: 1, Text: "4"},
			{ID: "o3", Order: 2, Text: "5"},
			{ID: "o4", Order: 3, Text: "6"},
		},
		Answer: model.SingleKey{CorrectOption: 1},
		Metadata: model.QuestionMetadata{
			SubjectID:  ptr("math"),
			TopicID:    ptr("arithmetic"),
			SubtopicID: ptr("addition"),
		},
	}
}

// script answers each kind of prompt with a fixed reply.
type script struct {
	subject, topic, subtopic, answer string
	// answerFor overrides the answer for prompts containing the key.
	answerFor map[string]llmtest.Reply
}

func (s script) handler(r llmtest.Request) llmtest.Reply {
	p := r.Prompt()
	switch {
	case strings.Contains(p, "Reply with exactly this JSON"):
		return llmtest.Reply{Content: `{"answer":"ok"}`}
	case strings.Contains(p, "Answer the following exam question"):
		for key, reply := range s.answerFor {
			if strings.Contains(p, key) {
				return reply
			}
		}
		return llmtest.Reply{Content: s.answer}
	case strings.Contains(p, "Available subtopics"):
		return llmtest.Reply{Content: s.subtopic}
	case strings.Contains(p, "Available topics"):
		return llmtest.Reply{Content: s.topic}
	case strings.Contains(p, "Available subjects"):
		return llmtest.Reply{Content: s.subject}
	}
	return llmtest.Reply{Content: "analysis text"}
}

func goodScript() script {
	return script{
		subject:  `{"subjectId":"math","confidence":0.95}`,
		topic:    `{"topicId":"arithmetic","confidence":0.9}`,
		subtopic: `{"subtopicId":"addition","confidence":0.85}`,
		answer:   `{"answer":"B","confidence":0.9,"explanation":"2+2=4"}`,
	}
}

func newPipeline(t *testing.T, srv *llmtest.Server, profile model.Profile, opts ...Option) *Pipeline {
	t.Helper()
	p, err := New(profile, testCatalog(), llm.New(srv.Binding("text")), opts...)
	require.NoError(t, err)
	return p
}

func testProfile() model.Profile {
	return model.Profile{Version: model.CurrentProfileVersion, ID: "p1", Name: "Test"}
}

func TestRunCorrectAnswer(t *testing.T) {
	srv := llmtest.New(t, goodScript().handler)
	p := newPipeline(t, srv, testProfile())

	run, err := p.Run(context.Background(), []model.Question{additionQuestion("q1")})
	require.NoError(t, err)
	assert.Equal(t, model.RunCompleted, run.Status)
	require.NotNil(t, run.CompletedAt)
	require.Len(t, run.Attempts, 1)

	a := run.Attempts[0]
	assert.Empty(t, a.Error)
	require.Len(t, a.Steps, 4)
	assert.Equal(t, []string{"topology-subject", "topology-topic", "topology-subtopic", "answer"},
		[]string{a.Steps[0].ID, a.Steps[1].ID, a.Steps[2].ID, a.Steps[3].ID})

	require.NotNil(t, a.Evaluation)
	assert.Equal(t, "B", a.Evaluation.Expected)
	assert.Equal(t, "B", a.Evaluation.Received)
	assert.True(t, a.Evaluation.Passed)
	assert.Equal(t, 1.0, a.Evaluation.Score)

	require.NotNil(t, a.TopologyEvaluation)
	assert.True(t, a.TopologyEvaluation.Passed)
	assert.Equal(t, "addition", a.TopologyPrediction.Subtopic.ID)
	assert.Equal(t, 60, a.Usage.TotalTokens)
	assert.Len(t, a.RequestPayload.Steps, 4)
	assert.Equal(t, "q1", a.QuestionSnapshot.ID)

	assert.Equal(t, 1, run.Metrics.Passed)
	assert.Equal(t, 1.0, run.Metrics.Accuracy)
	assert.Equal(t, 1.0, run.Metrics.Topology.Subtopic.Accuracy)
	assert.InDelta(t, 0.9, run.Metrics.AverageConfidence, 1e-9)

	// The topic stage was scoped to the committed subject.
	var topicPrompt string
	for _, r := range srv.Requests() {
		if strings.Contains(r.Prompt(), "Available topics") {
			topicPrompt = r.Prompt()
		}
	}
	assert.Contains(t, topicPrompt, "Available topics of subject math")
	assert.NotContains(t, topicPrompt, "mechanics")
}

func TestRunPlainTextAnswerIsGradedAsRawText(t *testing.T) {
	s := goodScript()
	s.answer = "I think it's 4"
	srv := llmtest.New(t, s.handler)
	p := newPipeline(t, srv, testProfile())

	run, err := p.Run(context.Background(), []model.Question{additionQuestion("q1")})
	require.NoError(t, err)
	a := run.Attempts[0]
	assert.Empty(t, a.Error)
	require.NotNil(t, a.ModelResponse)
	assert.True(t, a.ModelResponse.Fallback)
	assert.Equal(t, "I think it's 4", a.ModelResponse.Answer)
	assert.False(t, a.Evaluation.Passed)
	assert.Equal(t, 0.0, a.Evaluation.Score)
}

func TestRunCatalogMisses(t *testing.T) {
	s := goodScript()
	s.subject = `{"subjectId":"S1","confidence":0.4}`
	s.topic = `{"topicId":"T9","confidence":0.2}`
	s.subtopic = `{"subtopicId":"addition","confidence":0.2}`
	srv := llmtest.New(t, s.handler)
	p := newPipeline(t, srv, testProfile())

	run, err := p.Run(context.Background(), []model.Question{additionQuestion("q1")})
	require.NoError(t, err)
	a := run.Attempts[0]
	require.Len(t, a.Steps, 4)

	assert.Contains(t, a.Steps[0].Notes, `subject "S1" not found in taxonomy`)
	assert.Contains(t, a.Steps[1].Notes, `topic "T9" not found in taxonomy`)

	te := a.TopologyEvaluation
	require.NotNil(t, te)
	assert.False(t, te.Passed)
	assert.False(t, te.Metrics.Subject.Match)
	assert.False(t, te.Metrics.Topic.Match)

	sub := a.Steps[2].Evaluation
	require.NotNil(t, sub)
	assert.True(t, sub.Metrics.Subject.Expected)
	assert.False(t, sub.Metrics.Subject.Match)

	// The topic stage fell back to the full flattened topic list.
	var topicPrompt string
	for _, r := range srv.Requests() {
		if strings.Contains(r.Prompt(), "Available topics") {
			topicPrompt = r.Prompt()
		}
	}
	for _, id := range []string{"arithmetic", "algebra", "mechanics"} {
		assert.Contains(t, topicPrompt, "- "+id+":")
	}
	assert.Contains(t, topicPrompt, "was not recognized")

	// The answer itself is still graded.
	assert.True(t, a.Evaluation.Passed)
	assert.Equal(t, 0.0, run.Metrics.Topology.Subject.Accuracy)
	assert.Equal(t, 1.0, run.Metrics.Topology.Subtopic.Accuracy)
}

func TestRunQuestionFailureContinues(t *testing.T) {
	s := goodScript()
	s.answerFor = map[string]llmtest.Reply{
		"(q2)": {Status: http.StatusInternalServerError, Error: "boom"},
	}
	srv := llmtest.New(t, s.handler)
	p := newPipeline(t, srv, testProfile())

	questions := []model.Question{additionQuestion("q1"), additionQuestion("q2"), additionQuestion("q3")}
	run, err := p.Run(context.Background(), questions)
	require.NoError(t, err)
	assert.Equal(t, model.RunCompleted, run.Status)
	require.Len(t, run.Attempts, 3)

	failed := run.Attempts[1]
	assert.Contains(t, failed.Error, "step answer")
	require.NotNil(t, failed.Evaluation)
	assert.False(t, failed.Evaluation.Passed)
	assert.Equal(t, 0.0, failed.Evaluation.Score)
	assert.Equal(t, failed.Error, failed.Evaluation.Notes)
	assert.Len(t, failed.Steps, 3, "completed steps are kept")

	assert.Equal(t, 2, run.Metrics.Passed)
	assert.Equal(t, 1, run.Metrics.Errored)
}

func TestRunCancelled(t *testing.T) {
	srv := llmtest.New(t, goodScript().handler)
	p := newPipeline(t, srv, testProfile())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.OnProgress(func(e ProgressEvent) {
		if e.EventType == EventQuestionComplete && e.Index == 1 {
			cancel()
		}
	})

	run, err := p.Run(ctx, []model.Question{additionQuestion("q1"), additionQuestion("q2")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRunCancelled))
	assert.True(t, errors.Is(err, context.Canceled))
	require.NotNil(t, run)
	assert.Equal(t, model.RunCancelled, run.Status)
	assert.Len(t, run.Attempts, 1)
}

func TestRunPreflightConnectivityFailure(t *testing.T) {
	srv := llmtest.New(t, goodScript().handler)
	srv.ModelsStatus = http.StatusBadGateway
	p := newPipeline(t, srv, testProfile())

	run, err := p.Run(context.Background(), []model.Question{additionQuestion("q1")})
	require.Error(t, err)
	assert.Equal(t, llm.KindConnectivity, llm.KindOf(err))
	assert.Equal(t, model.RunFailed, run.Status)
	assert.Empty(t, run.Attempts)
	assert.Empty(t, srv.Requests())
}

func TestRunPreflightJSONUnsupported(t *testing.T) {
	srv := llmtest.New(t, func(r llmtest.Request) llmtest.Reply {
		if r.Format() != "text" {
			return llmtest.Reply{Status: http.StatusBadRequest, Error: "this server does not support json mode"}
		}
		return llmtest.Reply{Content: "ok"}
	})
	p := newPipeline(t, srv, testProfile())

	run, err := p.Run(context.Background(), []model.Question{additionQuestion("q1")})
	require.Error(t, err)
	assert.Equal(t, llm.KindJSONModeUnsupported, llm.KindOf(err))
	assert.Equal(t, model.RunFailed, run.Status)
	assert.Empty(t, run.Attempts)
}

func TestPreviousStepOutputsReachAnswerStep(t *testing.T) {
	srv := llmtest.New(t, goodScript().handler)
	profile := testProfile()
	profile.Steps = []model.StepConfig{
		{ID: "topology-subject"},
		{ID: "answer", PromptTemplate: "Answer the following exam question.\n{{questionContext}}\nTrail:\n{{previousStepOutputs}}"},
	}
	p := newPipeline(t, srv, profile, WithPreflight(false))

	run, err := p.Run(context.Background(), []model.Question{additionQuestion("q1")})
	require.NoError(t, err)
	answer := run.Attempts[0].Steps[1]
	assert.Contains(t, answer.Prompt, `"id": "topology-subject"`)
	assert.Contains(t, answer.Prompt, `\"subjectId\":\"math\"`)
	assert.Len(t, srv.Requests(), 2)
}

func TestNewRejectsUnknownToken(t *testing.T) {
	srv := llmtest.New(t, goodScript().handler)
	profile := testProfile()
	profile.Steps = []model.StepConfig{{ID: "answer", PromptTemplate: "{{questionContext}} {{rubric}}"}}
	_, err := New(profile, testCatalog(), llm.New(srv.Binding("text")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rubric")
}

func TestImageContextUsesVisionAndCache(t *testing.T) {
	srv := llmtest.New(t, goodScript().handler)

	var mu sync.Mutex
	visionCalls := 0
	vision := llmtest.New(t, func(r llmtest.Request) llmtest.Reply {
		mu.Lock()
		visionCalls++
		mu.Unlock()
		return llmtest.Reply{Content: "a diagram of two plus two"}
	})
	vb := vision.Binding("vision")
	vb.Capability = model.CapabilityImage

	p := newPipeline(t, srv, testProfile(), WithVision(llm.New(vb)), WithPreflight(false))

	q1, q2 := additionQuestion("q1"), additionQuestion("q2")
	q1.Images = []string{"https://example.com/sum.png"}
	q2.Images = []string{"https://example.com/sum.png"}

	run, err := p.Run(context.Background(), []model.Question{q1, q2})
	require.NoError(t, err)
	assert.Equal(t, 1, visionCalls)
	assert.Contains(t, run.Attempts[0].Steps[0].Prompt, "[Image 1] a diagram of two plus two")
	assert.Contains(t, run.Attempts[1].Steps[3].Prompt, "[Image 1] a diagram of two plus two")
	require.NotNil(t, run.Attempts[0].RequestPayload.ImageBinding)
	assert.Equal(t, []string{"https://example.com/sum.png"}, vision.Requests()[0].Messages[0].Images())
}

func TestQuestionContextCarriesImageSummaries(t *testing.T) {
	srv := llmtest.New(t, goodScript().handler)
	vision := llmtest.New(t, func(llmtest.Request) llmtest.Reply {
		return llmtest.Reply{Content: "a diagram of two plus two"}
	})
	vb := vision.Binding("vision")
	vb.Capability = model.CapabilityImage

	tests := []struct {
		name     string
		steps    []model.StepConfig
		wantOnce bool
	}{
		{
			name: "question context only",
			steps: []model.StepConfig{{
				ID:             "answer",
				PromptTemplate: "Answer the following exam question.\n{{questionContext}}",
			}},
		},
		{
			name: "image context placed by template",
			steps: []model.StepConfig{{
				ID:             "answer",
				PromptTemplate: "Answer the following exam question.\n{{questionContext}}\n{{imageContext}}",
			}},
			wantOnce: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			profile := testProfile()
			profile.Steps = tt.steps
			p := newPipeline(t, srv, profile, WithVision(llm.New(vb)), WithPreflight(false))

			q := additionQuestion("q-img-" + strings.ReplaceAll(tt.name, " ", "-"))
			q.Images = []string{"https://example.com/" + q.ID + ".png"}

			before := len(vision.Requests())
			run, err := p.Run(context.Background(), []model.Question{q})
			require.NoError(t, err)
			require.Len(t, run.Attempts, 1)
			require.Len(t, run.Attempts[0].Steps, 1)

			prompt := run.Attempts[0].Steps[0].Prompt
			assert.Contains(t, prompt, "[Image 1] a diagram of two plus two")
			assert.Equal(t, 1, len(vision.Requests())-before)
			if tt.wantOnce {
				assert.Equal(t, 1, strings.Count(prompt, "[Image 1]"))
			} else {
				assert.Contains(t, prompt, "D) 6\n\nImage descriptions:")
			}
		})
	}
}

func TestParseAnswer(t *testing.T) {
	mr, echo := ParseAnswer("```json\n{\"answer\": [\"A\", \"C\"], \"confidence\": \"80%\", \"subject_id\": \"math\"}\n```")
	assert.Equal(t, "A,C", mr.Answer)
	require.NotNil(t, mr.Confidence)
	assert.InDelta(t, 0.8, *mr.Confidence, 1e-9)
	assert.False(t, mr.Fallback)
	assert.Equal(t, "math", echo[model.LevelSubject])

	mr, _ = ParseAnswer("42")
	assert.Equal(t, "42", mr.Answer)
	assert.False(t, mr.Fallback)

	mr, _ = ParseAnswer("  The answer is B  ")
	assert.Equal(t, "The answer is B", mr.Answer)
	assert.True(t, mr.Fallback)
}

func TestRunProgressEventsAndDatasetHash(t *testing.T) {
	srv := llmtest.New(t, goodScript().handler)
	p := newPipeline(t, srv, testProfile(), WithDatasetHash("abc123"))

	var mu sync.Mutex
	var events []EventType
	var lastMetrics *model.RunMetrics
	var startedAt time.Time
	p.OnProgress(func(e ProgressEvent) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e.EventType)
		if e.EventType == EventRunStart {
			startedAt = e.StartedAt
		}
		if e.EventType == EventQuestionComplete {
			require.NotNil(t, e.Attempt)
			lastMetrics = e.Metrics
		}
	})

	run, err := p.Run(context.Background(), []model.Question{additionQuestion("q1"), additionQuestion("q2")})
	require.NoError(t, err)
	assert.Equal(t, "abc123", run.DatasetHash)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, EventRunStart, events[0])
	assert.Equal(t, run.StartedAt, startedAt)
	assert.Equal(t, EventRunComplete, events[len(events)-1])
	var completed int
	for _, e := range events {
		if e == EventQuestionComplete {
			completed++
		}
	}
	assert.Equal(t, 2, completed)
	require.NotNil(t, lastMetrics)
	assert.Equal(t, 2, lastMetrics.Passed)
}
