package evaluator

import (
	"fmt"
	"strings"

	"github.com/pavelanni/exambench/internal/model"
	"github.com/pavelanni/exambench/internal/topology"
)

// NoExpectedLabels is the note on a topology evaluation of a question that
// declares no expected labels.
const NoExpectedLabels = "no expected topology labels"

// Topology grades the whole cascade. Each level is compared independently;
// levels without an expected label are excluded rather than auto-passed.
func Topology(q model.Question, pred *model.TopologyPrediction, ix *topology.Index) model.Evaluation {
	return TopologyThrough(q, pred, ix, model.LevelSubtopic)
}

// TopologyThrough grades the cascade levels up to and including through.
func TopologyThrough(q model.Question, pred *model.TopologyPrediction, ix *topology.Index, through model.Level) model.Evaluation {
	var (
		metrics  = &model.EvaluationMetrics{}
		expected []string
		received []string
		notes    []string
		anyExp   bool
		allMatch = true
	)
	for _, level := range model.Levels {
		want := q.Metadata.Expected(level)
		got := pred.Get(level)
		lm := &model.LevelMetrics{
			Expected:   want != "",
			Provided:   got.ID != "",
			Match:      want != "" && got.ID == want,
			InCatalog:  ix.InCatalog(level, pred),
			Confidence: got.Confidence,
		}
		metrics.SetLevel(level, lm)
		expected = append(expected, orDash(want))
		received = append(received, orDash(got.ID))

		if lm.Expected {
			anyExp = true
			if !lm.Match {
				allMatch = false
				notes = append(notes, mismatchNote(level, want, got.ID, lm.InCatalog))
			}
		}
		if level == through {
			break
		}
	}

	ev := model.Evaluation{
		Expected: strings.Join(expected, "/"),
		Received: strings.Join(received, "/"),
		Metrics:  metrics,
	}
	if !anyExp {
		ev.Notes = NoExpectedLabels
		return ev
	}
	ev.Passed = allMatch
	if ev.Passed {
		ev.Score = 1
	}
	ev.Notes = strings.Join(notes, "; ")
	return ev
}

func mismatchNote(level model.Level, want, got string, inCatalog bool) string {
	switch {
	case got == "":
		return fmt.Sprintf("%s: expected %s, got nothing", level, want)
	case !inCatalog:
		return fmt.Sprintf("%s: expected %s, got %s (not found in taxonomy)", level, want, got)
	default:
		return fmt.Sprintf("%s: expected %s, got %s", level, want, got)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
