package model

import "time"

// RunExport is the top-level JSON structure written by the export command.
type RunExport struct {
	ExportedAt time.Time    `json:"exportedAt"`
	Run        BenchmarkRun `json:"run"`
	Questions  int          `json:"questions"`
	Failures   []AttemptRef `json:"failures,omitempty"`
}

// AttemptRef points at one attempt of an exported run.
type AttemptRef struct {
	AttemptID  string `json:"attemptId"`
	QuestionID string `json:"questionId"`
	Reason     string `json:"reason"`
}
