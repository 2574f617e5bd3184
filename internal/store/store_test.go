package store

import (
	"testing"
	"time"

	"github.com/pavelanni/exambench/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testRun(id string, started time.Time) *model.BenchmarkRun {
	completed := started.Add(3 * time.Second)
	return &model.BenchmarkRun{
		ID:          id,
		ProfileID:   "local",
		ProfileName: "Local model",
		Model:       "qwen2.5",
		DatasetHash: "abc123",
		Status:      model.RunCompleted,
		StartedAt:   started,
		CompletedAt: &completed,
		Attempts: []model.Attempt{
			{
				ID:           id + "-a1",
				RunID:        id,
				QuestionID:   "q-add",
				LatencyMs:    120,
				ResponseText: `{"answer":"B"}`,
				Evaluation:   &model.Evaluation{Expected: "B", Received: "B", Passed: true, Score: 1},
				Steps: []model.StepResult{
					{ID: "answer", Kind: model.StepAnswer, Prompt: "Answer the following exam question.", ResponseText: `{"answer":"B"}`},
				},
			},
			{
				ID:         id + "-a2",
				RunID:      id,
				QuestionID: "q-pi",
				LatencyMs:  80,
				Evaluation: &model.Evaluation{Expected: "3.14", Received: "3.2", Notes: "expected 3.14"},
			},
			{
				ID:         id + "-a3",
				RunID:      id,
				QuestionID: "q-earth",
				Error:      "step answer: timeout",
				Evaluation: &model.Evaluation{Notes: "step answer: timeout"},
			},
		},
		Metrics: model.RunMetrics{Total: 3, Passed: 1, Failed: 1, Errored: 1, Accuracy: 1.0 / 3},
	}
}

func TestSaveAndGetRun(t *testing.T) {
	s := newTestStore(t)
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveRun(testRun("run-1", started)))

	got, err := s.GetRun("run-1")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, "local", got.ProfileID)
	assert.Equal(t, "qwen2.5", got.Model)
	assert.Equal(t, model.RunCompleted, got.Status)
	assert.True(t, got.StartedAt.Equal(started))
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CompletedAt.Equal(started.Add(3*time.Second)))
	assert.Equal(t, 3, got.Metrics.Total)

	require.Len(t, got.Attempts, 3)
	assert.Equal(t, []string{"q-add", "q-pi", "q-earth"},
		[]string{got.Attempts[0].QuestionID, got.Attempts[1].QuestionID, got.Attempts[2].QuestionID})
	assert.True(t, got.Attempts[0].Passed())
	require.Len(t, got.Attempts[0].Steps, 1)
	assert.Equal(t, "Answer the following exam question.", got.Attempts[0].Steps[0].Prompt)
	assert.Equal(t, "step answer: timeout", got.Attempts[2].Error)
}

func TestGetRunMissing(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetRun("nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSaveRunIsUpsert(t *testing.T) {
	s := newTestStore(t)
	run := testRun("run-1", time.Now())
	run.Status = model.RunRunning
	run.CompletedAt = nil
	require.NoError(t, s.SaveRun(run))

	run.Status = model.RunCancelled
	run.Error = "run cancelled: context canceled"
	run.Attempts[1].Evaluation.Passed = true
	require.NoError(t, s.SaveRun(run))

	got, err := s.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunCancelled, got.Status)
	assert.Equal(t, "run cancelled: context canceled", got.Error)
	assert.Nil(t, got.CompletedAt)
	require.Len(t, got.Attempts, 3)
	assert.True(t, got.Attempts[1].Passed())
}

func TestSaveAttemptIncrementally(t *testing.T) {
	s := newTestStore(t)
	run := testRun("run-1", time.Now())
	attempts := run.Attempts
	run.Attempts = nil
	run.Status = model.RunRunning
	require.NoError(t, s.SaveRun(run))

	for i, a := range attempts {
		require.NoError(t, s.SaveAttempt(run.ID, i, a))
	}

	got, err := s.ListAttempts("run-1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "run-1-a1", got[0].ID)
	assert.Equal(t, "run-1-a3", got[2].ID)
}

func TestListRuns(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveRun(testRun("old", base)))
	require.NoError(t, s.SaveRun(testRun("new", base.Add(time.Hour))))
	other := testRun("other", base.Add(2*time.Hour))
	other.ProfileID = "remote"
	other.Status = model.RunFailed
	require.NoError(t, s.SaveRun(other))

	all, err := s.ListRuns(RunFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "other", all[0].ID)
	assert.Equal(t, "old", all[2].ID)
	assert.Empty(t, all[0].Attempts)

	local, err := s.ListRuns(RunFilter{ProfileID: "local"})
	require.NoError(t, err)
	assert.Len(t, local, 2)

	failed, err := s.ListRuns(RunFilter{Status: model.RunFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "other", failed[0].ID)

	limited, err := s.ListRuns(RunFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "other", limited[0].ID)
}

func TestListRunsEmpty(t *testing.T) {
	s := newTestStore(t)
	runs, err := s.ListRuns(RunFilter{})
	require.NoError(t, err)
	assert.NotNil(t, runs)
	assert.Empty(t, runs)
}

func TestDeleteRun(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveRun(testRun("run-1", time.Now())))
	require.NoError(t, s.DeleteRun("run-1"))
	require.NoError(t, s.DeleteRun("run-1"))

	got, err := s.GetRun("run-1")
	require.NoError(t, err)
	assert.Nil(t, got)
	attempts, err := s.ListAttempts("run-1")
	require.NoError(t, err)
	assert.Empty(t, attempts)
}

func TestExportRun(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveRun(testRun("run-1", time.Now())))

	exp, err := s.ExportRun("run-1")
	require.NoError(t, err)
	require.NotNil(t, exp)
	assert.Equal(t, 3, exp.Questions)
	assert.Equal(t, "run-1", exp.Run.ID)
	assert.Equal(t, []model.AttemptRef{
		{AttemptID: "run-1-a2", QuestionID: "q-pi", Reason: "expected 3.14"},
		{AttemptID: "run-1-a3", QuestionID: "q-earth", Reason: "step answer: timeout"},
	}, exp.Failures)

	missing, err := s.ExportRun("nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestExportRuns(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveRun(testRun("run-1", time.Now())))
	require.NoError(t, s.SaveRun(testRun("run-2", time.Now().Add(time.Minute))))

	exports, err := s.ExportRuns(RunFilter{})
	require.NoError(t, err)
	require.Len(t, exports, 2)
	assert.Equal(t, "run-2", exports[0].Run.ID)
}

func TestFailuresNotGraded(t *testing.T) {
	refs := Failures([]model.Attempt{{ID: "a", QuestionID: "q"}, {ID: "b", QuestionID: "r", Evaluation: &model.Evaluation{}}})
	assert.Equal(t, "not graded", refs[0].Reason)
	assert.Equal(t, "incorrect answer", refs[1].Reason)
}

func TestRebind(t *testing.T) {
	pg := &Store{dialect: postgresDialect}
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", pg.rebind("SELECT a FROM t WHERE x = ? AND y = ?"))
	lite := &Store{dialect: sqliteDialect}
	assert.Equal(t, "x = ?", lite.rebind("x = ?"))
}

func TestIsPostgres(t *testing.T) {
	assert.True(t, IsPostgres("postgres://u:p@localhost/db"))
	assert.True(t, IsPostgres("postgresql://localhost/db"))
	assert.False(t, IsPostgres("exambench.db"))
	assert.False(t, IsPostgres(":memory:"))
}

func TestPackRoundTrip(t *testing.T) {
	in := model.Attempt{ID: "a", ResponseText: "some long text some long text some long text"}
	data, err := pack(in)
	require.NoError(t, err)
	var out model.Attempt
	require.NoError(t, unpack(data, &out))
	assert.Equal(t, in.ResponseText, out.ResponseText)
	assert.Error(t, unpack([]byte("not zstd"), &out))
}
