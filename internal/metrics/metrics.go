// Package metrics folds attempts into run-level metrics.
package metrics

import (
	"github.com/pavelanni/exambench/internal/model"
)

// Aggregate computes RunMetrics over attempts. It is a pure function of its
// input: the same attempts always produce the same metrics.
func Aggregate(attempts []model.Attempt) model.RunMetrics {
	var (
		m          model.RunMetrics
		latency    int64
		confSum    float64
		confCount  int
		levelStats = map[model.Level]*model.LevelStats{
			model.LevelSubject:  &m.Topology.Subject,
			model.LevelTopic:    &m.Topology.Topic,
			model.LevelSubtopic: &m.Topology.Subtopic,
		}
	)

	for _, a := range attempts {
		m.Total++
		if a.Passed() {
			m.Passed++
		} else {
			m.Failed++
		}
		if a.Error != "" {
			m.Errored++
		}
		latency += a.LatencyMs
		m.TotalTokens += a.Usage.TotalTokens
		if a.ModelResponse != nil && a.ModelResponse.Confidence != nil {
			confSum += *a.ModelResponse.Confidence
			confCount++
		}

		if a.TopologyEvaluation == nil {
			continue
		}
		for _, level := range model.Levels {
			lm := a.TopologyEvaluation.Metrics.Level(level)
			if lm == nil || !lm.Expected {
				continue
			}
			st := levelStats[level]
			st.Comparisons++
			if lm.Match {
				st.Matches++
			} else {
				st.Mismatches++
			}
		}
	}

	m.Accuracy = ratio(m.Passed, m.Total)
	if m.Total > 0 {
		m.AverageLatencyMs = float64(latency) / float64(m.Total)
	}
	if confCount > 0 {
		m.AverageConfidence = confSum / float64(confCount)
	}
	for _, st := range levelStats {
		st.Accuracy = ratio(st.Matches, st.Comparisons)
	}
	return m
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}
