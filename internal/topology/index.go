// Package topology indexes the subject/topic/subtopic catalog and resolves
// the three stages of the classification cascade against it.
package topology

import (
	"github.com/pavelanni/exambench/internal/model"
)

// Index answers membership and scoping queries over a Catalog.
type Index struct {
	catalog  model.Catalog
	subjects map[string]int
}

// NewIndex builds an index over c. The catalog is not copied and must not be
// modified afterwards.
func NewIndex(c model.Catalog) *Index {
	ix := &Index{catalog: c, subjects: make(map[string]int, len(c.Subjects))}
	for i, s := range c.Subjects {
		if _, dup := ix.subjects[s.ID]; !dup {
			ix.subjects[s.ID] = i
		}
	}
	return ix
}

// Catalog returns the indexed catalog.
func (ix *Index) Catalog() model.Catalog { return ix.catalog }

// Subject looks up a subject by id.
func (ix *Index) Subject(id string) (model.Subject, bool) {
	i, ok := ix.subjects[id]
	if !ok || id == "" {
		return model.Subject{}, false
	}
	return ix.catalog.Subjects[i], true
}

// Topic looks up a topic within a subject.
func (ix *Index) Topic(subjectID, topicID string) (model.Topic, bool) {
	s, ok := ix.Subject(subjectID)
	if !ok || topicID == "" {
		return model.Topic{}, false
	}
	for _, t := range s.Topics {
		if t.ID == topicID {
			return t, true
		}
	}
	return model.Topic{}, false
}

// FindTopic looks up a topic id across every subject.
func (ix *Index) FindTopic(topicID string) (model.Subject, model.Topic, bool) {
	if topicID == "" {
		return model.Subject{}, model.Topic{}, false
	}
	for _, s := range ix.catalog.Subjects {
		for _, t := range s.Topics {
			if t.ID == topicID {
				return s, t, true
			}
		}
	}
	return model.Subject{}, model.Topic{}, false
}

// ScopedTopic resolves the topic the cascade committed to: through the
// committed subject when it resolves, otherwise across the whole catalog.
func (ix *Index) ScopedTopic(pred *model.TopologyPrediction) (model.Topic, bool) {
	subjectID := pred.Get(model.LevelSubject).ID
	topicID := pred.Get(model.LevelTopic).ID
	if _, ok := ix.Subject(subjectID); ok {
		return ix.Topic(subjectID, topicID)
	}
	_, t, ok := ix.FindTopic(topicID)
	return t, ok
}

// InCatalog reports whether the id committed at level exists in the
// catalog, scoped by the levels above it where those resolve.
func (ix *Index) InCatalog(level model.Level, pred *model.TopologyPrediction) bool {
	id := pred.Get(level).ID
	if id == "" {
		return false
	}
	switch level {
	case model.LevelSubject:
		_, ok := ix.Subject(id)
		return ok
	case model.LevelTopic:
		if _, ok := ix.Subject(pred.Get(model.LevelSubject).ID); ok {
			_, ok := ix.Topic(pred.Get(model.LevelSubject).ID, id)
			return ok
		}
		_, _, ok := ix.FindTopic(id)
		return ok
	case model.LevelSubtopic:
		if t, ok := ix.ScopedTopic(pred); ok {
			return hasSubtopic(t, id)
		}
		for _, s := range ix.catalog.Subjects {
			for _, t := range s.Topics {
				if hasSubtopic(t, id) {
					return true
				}
			}
		}
	}
	return false
}

func hasSubtopic(t model.Topic, id string) bool {
	for _, st := range t.Subtopics {
		if st.ID == id {
			return true
		}
	}
	return false
}
