package pipeline

import (
	"time"

	"github.com/pavelanni/exambench/internal/model"
)

// ProgressListener receives progress updates.
type ProgressListener func(event ProgressEvent)

// EventType represents the type of progress event.
type EventType string

const (
	EventRunStart         EventType = "run_start"
	EventRunComplete      EventType = "run_complete"
	EventRunStopped       EventType = "run_stopped"
	EventQuestionStart    EventType = "question_start"
	EventStepComplete     EventType = "step_complete"
	EventQuestionComplete EventType = "question_complete"
)

// ProgressEvent represents a progress update.
type ProgressEvent struct {
	EventType  EventType
	RunID      string
	QuestionID string
	// Index is the 1-based position of the question in the run.
	Index   int
	Total   int
	Step    *model.StepResult
	Attempt *model.Attempt
	// Metrics are the running metrics after the event.
	Metrics *model.RunMetrics
	// StartedAt is the run's start time, set on run_start.
	StartedAt time.Time
	Err       error
}

// OnProgress registers a progress listener.
func (p *Pipeline) OnProgress(listener ProgressListener) {
	p.progressMu.Lock()
	defer p.progressMu.Unlock()
	p.listeners = append(p.listeners, listener)
}

func (p *Pipeline) notifyProgress(event ProgressEvent) {
	p.progressMu.Lock()
	listeners := make([]ProgressListener, len(p.listeners))
	copy(listeners, p.listeners)
	p.progressMu.Unlock()

	for _, listener := range listeners {
		listener(event)
	}
}
