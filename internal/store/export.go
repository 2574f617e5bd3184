package store

import (
	"fmt"
	"time"

	"github.com/pavelanni/exambench/internal/model"
)

// ExportRun builds the export document for a run.
// Returns nil, nil if the run does not exist.
func (s *Store) ExportRun(id string) (*model.RunExport, error) {
	run, err := s.GetRun(id)
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	if run == nil {
		return nil, nil
	}
	return &model.RunExport{
		ExportedAt: time.Now().UTC(),
		Run:        *run,
		Questions:  len(run.Attempts),
		Failures:   Failures(run.Attempts),
	}, nil
}

// ExportRuns exports every run matching f, newest first.
func (s *Store) ExportRuns(f RunFilter) ([]model.RunExport, error) {
	runs, err := s.ListRuns(f)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	exports := make([]model.RunExport, 0, len(runs))
	for _, r := range runs {
		exp, err := s.ExportRun(r.ID)
		if err != nil {
			return nil, err
		}
		if exp != nil {
			exports = append(exports, *exp)
		}
	}
	return exports, nil
}

// Failures lists every attempt that did not pass, with the most specific
// reason available.
func Failures(attempts []model.Attempt) []model.AttemptRef {
	var refs []model.AttemptRef
	for _, a := range attempts {
		if a.Passed() {
			continue
		}
		reason := "incorrect answer"
		switch {
		case a.Error != "":
			reason = a.Error
		case a.Evaluation == nil:
			reason = "not graded"
		case a.Evaluation.Notes != "":
			reason = a.Evaluation.Notes
		}
		refs = append(refs, model.AttemptRef{
			AttemptID:  a.ID,
			QuestionID: a.QuestionID,
			Reason:     reason,
		})
	}
	return refs
}
