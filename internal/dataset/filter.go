package dataset

import (
	"slices"
	"strings"

	"github.com/pavelanni/exambench/internal/model"
)

// Filter selects the questions a run covers.
type Filter struct {
	// IDs keeps only these question ids, in bank order.
	IDs []string
	// Tags keeps questions carrying any of these tags.
	Tags []string
	// Limit caps the number of questions; zero means no cap.
	Limit int
}

// Apply returns the questions matching f.
func (f Filter) Apply(questions []model.Question) []model.Question {
	var out []model.Question
	for _, q := range questions {
		if len(f.IDs) > 0 && !slices.Contains(f.IDs, q.ID) {
			continue
		}
		if len(f.Tags) > 0 && !hasAnyTag(q.Metadata.Tags, f.Tags) {
			continue
		}
		out = append(out, q)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}

func hasAnyTag(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if strings.EqualFold(h, w) {
				return true
			}
		}
	}
	return false
}
