package compat

import "github.com/pavelanni/exambench/internal/model"

// CanaryCatalog is the small catalog the protocol check classifies against.
func CanaryCatalog() model.Catalog {
	return model.Catalog{Subjects: []model.Subject{
		{ID: "math", Name: "Mathematics", Topics: []model.Topic{
			{ID: "arithmetic", Name: "Arithmetic", Subtopics: []model.Subtopic{
				{ID: "addition", Name: "Addition"},
				{ID: "multiplication", Name: "Multiplication"},
			}},
			{ID: "geometry", Name: "Geometry", Subtopics: []model.Subtopic{
				{ID: "triangles", Name: "Triangles"},
			}},
		}},
		{ID: "history", Name: "History", Topics: []model.Topic{
			{ID: "ancient", Name: "Ancient history", Subtopics: []model.Subtopic{
				{ID: "rome", Name: "Ancient Rome"},
			}},
		}},
	}}
}

// CanaryQuestion is the fixed question the protocol check runs.
func CanaryQuestion() model.Question {
	subject, topic, subtopic := "math", "arithmetic", "addition"
	return model.Question{
		ID:     "canary-addition",
		Type:   model.TypeSingle,
		Prompt: "What is 2 + 2?",
		Options: []model.Option{
			{ID: "a", Order: 0, Text: "3"},
			{ID: "b", Order: 1, Text: "4"},
			{ID: "c", Order: 2, Text: "5"},
			{ID: "d", Order: 3, Text: "22"},
		},
		Answer: model.SingleKey{CorrectOption: 1},
		Metadata: model.QuestionMetadata{
			SubjectID:  &subject,
			TopicID:    &topic,
			SubtopicID: &subtopic,
		},
	}
}
