package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDocumentDeclaresRequiredField(t *testing.T) {
	for _, n := range All {
		t.Run(string(n), func(t *testing.T) {
			raw, err := Document(n)
			require.NoError(t, err)

			var doc map[string]any
			require.NoError(t, json.Unmarshal(raw, &doc))
			require.Equal(t, []any{n.Field()}, doc["required"])

			props := doc["properties"].(map[string]any)
			require.Contains(t, props, "confidence")
		})
	}
}

func TestDocumentUnknown(t *testing.T) {
	_, err := Document(Name("nope"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Run("valid subject payload", func(t *testing.T) {
		err := Validate(TopologySubject, map[string]any{"subjectId": "math", "confidence": 0.8})
		require.NoError(t, err)
	})

	t.Run("missing required field", func(t *testing.T) {
		err := Validate(TopologyTopic, map[string]any{"subjectId": "math"})
		require.Error(t, err)
	})

	t.Run("confidence out of range", func(t *testing.T) {
		err := Validate(Answer, map[string]any{"answer": "B", "confidence": 1.5})
		require.Error(t, err)
	})

	t.Run("extra fields allowed", func(t *testing.T) {
		err := Validate(TopologyTopic, map[string]any{"topicId": "algebra", "subjectId": "math"})
		require.NoError(t, err)
	})
}
