package evaluator

import (
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
	"testing"

	"github.com/pavelanni/exambench/internal/model"
	"github.com/pavelanni/exambench/internal/topology"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func singleQuestion() model.Question {
	return model.Question{
		ID:     "q1",
		Type:   model.TypeSingle,
		Prompt: "What is 2+2?",
		Options: []model.Option{
			{ID: "a", Order: 0, Text: "3"},
			{ID: "b", Order: 1, Text: "4"},
			{ID: "c", Order: 2, Text: "5"},
			{ID: "d", Order: 3, Text: "6"},
		},
		Answer: model.SingleKey{CorrectOption: 1},
	}
}

func TestSingleChoiceLetterAnswer(t *testing.T) {
	ev := Answer(singleQuestion(), "B", nil)
	assert.Equal(t, "B", ev.Expected)
	assert.Equal(t, "B", ev.Received)
	assert.True(t, ev.Passed)
	assert.Equal(t, 1.0, ev.Score)
}

func TestSingleChoiceProseAnswerFails(t *testing.T) {
	ev := Answer(singleQuestion(), "I think it's 4", nil)
	assert.False(t, ev.Passed)
	assert.Equal(t, 0.0, ev.Score)
	assert.Equal(t, "I think it's 4", ev.Received)
	assert.Contains(t, ev.Notes, "no option letter")
}

func TestSingleChoice(t *testing.T) {
	tests := []struct {
		in   string
		pass bool
	}{
		{"b", true},
		{"(B)", true},
		{"B.", true},
		{"Option B", true},
		{"The answer is B.", true},
		{"B) 4", true},
		{"B. 4", true},
		{"B: 4", true},
		{"(B) 4", true},
		{"C) 5", false},
		{"C", false},
		{"A, B", false},
		{"E", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.pass, Answer(singleQuestion(), tt.in, nil).Passed)
		})
	}
}

func multipleQuestion() model.Question {
	q := singleQuestion()
	q.Type = model.TypeMultiple
	q.Answer = model.MultipleKey{CorrectOptions: []int{0, 2, 3}}
	return q
}

func TestMultipleChoice(t *testing.T) {
	q := multipleQuestion()

	ev := Answer(q, "A,C,D", nil)
	assert.True(t, ev.Passed)
	assert.Equal(t, "A,C,D", ev.Expected)

	ev = Answer(q, "A, C", nil)
	assert.False(t, ev.Passed)
	assert.Equal(t, "missing D", ev.Notes)

	ev = Answer(q, "A,B,C,D", nil)
	assert.False(t, ev.Passed)
	assert.Equal(t, "unexpected B", ev.Notes)

	assert.True(t, Answer(q, "D and A and C", nil).Passed)
}

func TestMultipleChoiceOrderIndependent(t *testing.T) {
	q := multipleQuestion()
	sets := [][]string{{"A", "C", "D"}, {"A", "C"}, {"B", "D"}, {"A", "B", "C", "D"}}
	r := rand.New(rand.NewPCG(1, 2))
	for _, set := range sets {
		want := Answer(q, strings.Join(set, ","), nil).Passed
		for range 20 {
			perm := append([]string(nil), set...)
			r.Shuffle(len(perm), func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })
			assert.Equal(t, want, Answer(q, strings.Join(perm, ", "), nil).Passed, perm)
		}
	}
}

func numericQuestion(min, max float64, precision int) model.Question {
	return model.Question{
		ID:   "n1",
		Type: model.TypeNumeric,
		Answer: model.NumericKey{Range: &model.NumericRange{
			Min: ptr(min), Max: ptr(max), Precision: ptr(precision),
		}},
	}
}

func TestNumericRange(t *testing.T) {
	q := numericQuestion(3.14, 3.15, 2)
	tests := []struct {
		in   string
		pass bool
	}{
		{"3.14", true},
		{"3.1449", true},
		{"3.145", true},
		{"3.156", false},
		{"3.1", false},
		{"about 3.14159", true},
		{"pi", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.pass, Answer(q, tt.in, nil).Passed)
		})
	}
}

func TestNumericRoundingProperty(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 11))
	for range 500 {
		precision := r.IntN(4)
		lo := math.Round(r.Float64()*1000) / 100
		hi := lo + math.Round(r.Float64()*100)/100
		q := numericQuestion(lo, hi, precision)

		v := lo - 1 + r.Float64()*(hi-lo+2)
		received := strconv.FormatFloat(v, 'f', -1, 64)
		rounded := Round(v, precision)
		want := rounded >= lo && rounded <= hi
		assert.Equal(t, want, Answer(q, received, nil).Passed, "v=%s range=[%v,%v] p=%d", received, lo, hi, precision)
	}
}

func TestRoundHalfAwayFromZero(t *testing.T) {
	assert.Equal(t, 3.0, Round(2.5, 0))
	assert.Equal(t, -3.0, Round(-2.5, 0))
	assert.Equal(t, 1.25, Round(1.2456, 2))
	assert.Equal(t, 7.0, Round(7, -1))
}

func TestNumericAcceptedAnswers(t *testing.T) {
	half := model.Question{
		ID:     "n2",
		Type:   model.TypeNumeric,
		Answer: model.NumericKey{AcceptedAnswers: []string{"1/2", "0.5"}},
	}
	four := model.Question{
		ID:     "n3",
		Type:   model.TypeNumeric,
		Answer: model.NumericKey{AcceptedAnswers: []string{"4"}},
	}
	tests := []struct {
		name string
		q    model.Question
		in   string
		pass bool
	}{
		{"fraction text", half, "1/2", true},
		{"padded decimal", half, " 0.5 ", true},
		{"trailing zero", half, "0.50", true},
		{"leading dot", half, ".5", true},
		{"other number", half, "0.25", false},
		{"integer", four, "4", true},
		{"one decimal", four, "4.0", true},
		{"two decimals", four, "4.00", true},
		{"explicit sign", four, "+4", true},
		{"exponent", four, "4e0", true},
		{"negative", four, "-4", false},
		{"not a number", four, "four", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.pass, Answer(tt.q, tt.in, nil).Passed)
		})
	}
	assert.Equal(t, "4", Answer(four, "4.00", nil).Received)
}

func TestBoolean(t *testing.T) {
	q := model.Question{ID: "b1", Type: model.TypeBoolean, Answer: model.BooleanKey{Value: true}}
	for _, in := range []string{"true", "Yes", "1", "TRUE."} {
		assert.True(t, Answer(q, in, nil).Passed, in)
	}
	for _, in := range []string{"false", "no", "maybe"} {
		assert.False(t, Answer(q, in, nil).Passed, in)
	}
	assert.Equal(t, "answer is not true or false", Answer(q, "maybe", nil).Notes)
}

func TestDescriptive(t *testing.T) {
	q := model.Question{ID: "d1", Type: model.TypeDescriptive, Answer: model.DescriptiveKey{
		AcceptedAnswers: []string{"Photosynthesis"},
	}}
	assert.True(t, Answer(q, "photosynthesis", nil).Passed)
	assert.True(t, Answer(q, "  Photosynthesis ", nil).Passed)
	assert.False(t, Answer(q, "photosynthesis in plants", nil).Passed)

	q.Answer = model.DescriptiveKey{AcceptedAnswers: []string{"Photosynthesis"}, CaseSensitive: true}
	assert.False(t, Answer(q, "photosynthesis", nil).Passed)
	assert.True(t, Answer(q, "Photosynthesis", nil).Passed)
}

func TestAnswerRecordsConfidence(t *testing.T) {
	ev := Answer(singleQuestion(), "B", ptr(0.75))
	require.NotNil(t, ev.Metrics)
	require.NotNil(t, ev.Metrics.Confidence)
	assert.Equal(t, 0.75, *ev.Metrics.Confidence)
}

func testIndex() *topology.Index {
	return topology.NewIndex(model.Catalog{Subjects: []model.Subject{
		{ID: "math", Name: "Mathematics", Topics: []model.Topic{
			{ID: "algebra", Name: "Algebra", Subtopics: []model.Subtopic{{ID: "linear", Name: "Linear"}}},
		}},
	}})
}

func withLabels(subject, topic, subtopic *string) model.Question {
	q := singleQuestion()
	q.Metadata = model.QuestionMetadata{SubjectID: subject, TopicID: topic, SubtopicID: subtopic}
	return q
}

func commit(subject, topic, subtopic string) *model.TopologyPrediction {
	p := model.NewTopologyPrediction()
	p.Commit(model.LevelSubject, model.LevelPrediction{ID: subject}, nil, "")
	p.Commit(model.LevelTopic, model.LevelPrediction{ID: topic}, nil, "")
	p.Commit(model.LevelSubtopic, model.LevelPrediction{ID: subtopic}, nil, "")
	return p
}

func TestTopologyFullMatch(t *testing.T) {
	q := withLabels(ptr("math"), ptr("algebra"), ptr("linear"))
	ev := Topology(q, commit("math", "algebra", "linear"), testIndex())
	assert.True(t, ev.Passed)
	assert.Equal(t, 1.0, ev.Score)
	assert.Equal(t, "math/algebra/linear", ev.Expected)
	assert.True(t, ev.Metrics.Subtopic.InCatalog)
}

func TestTopologyCatalogMiss(t *testing.T) {
	q := withLabels(ptr("math"), ptr("algebra"), nil)
	ev := Topology(q, commit("S1", "T9", ""), testIndex())

	assert.False(t, ev.Passed)
	require.NotNil(t, ev.Metrics.Subject)
	assert.True(t, ev.Metrics.Subject.Expected)
	assert.False(t, ev.Metrics.Subject.Match)
	assert.False(t, ev.Metrics.Subject.InCatalog)
	assert.False(t, ev.Metrics.Topic.Match)
	assert.False(t, ev.Metrics.Subtopic.Expected)
	assert.Contains(t, ev.Notes, "subject: expected math, got S1 (not found in taxonomy)")
	assert.Contains(t, ev.Notes, "topic: expected algebra, got T9 (not found in taxonomy)")
}

func TestTopologyUnexpectedLevelsExcluded(t *testing.T) {
	q := withLabels(ptr("math"), nil, nil)
	ev := Topology(q, commit("math", "whatever", ""), testIndex())
	assert.True(t, ev.Passed)
	assert.False(t, ev.Metrics.Topic.Expected)
	assert.False(t, ev.Metrics.Subtopic.Expected)
}

func TestTopologyNoExpectedLabels(t *testing.T) {
	ev := Topology(withLabels(nil, nil, nil), commit("math", "algebra", "linear"), testIndex())
	assert.False(t, ev.Passed)
	assert.Equal(t, 0.0, ev.Score)
	assert.Equal(t, NoExpectedLabels, ev.Notes)
}

func TestTopologyThroughStopsAtLevel(t *testing.T) {
	q := withLabels(ptr("math"), ptr("algebra"), ptr("linear"))
	ev := TopologyThrough(q, commit("math", "", ""), testIndex(), model.LevelSubject)
	assert.True(t, ev.Passed)
	assert.Equal(t, "math", ev.Expected)
	assert.Nil(t, ev.Metrics.Topic)
}
