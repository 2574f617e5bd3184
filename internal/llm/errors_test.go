package llm

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyServerError(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   ErrorKind
	}{
		{"json_object rejected", 400, `'response_format.type' must be 'json_schema' or 'text'`, KindJSONModeUnsupported},
		{"json_schema or text", 400, "only json_schema and text are supported", KindJSONModeUnsupported},
		{"json mode", 400, "This model does not support JSON mode", KindJSONModeUnsupported},
		{"unable to parse", 400, "Unable to parse response_format", KindJSONModeUnsupported},
		{"404", 404, "no route", KindModelLoad},
		{"model not found", 400, "The model `qwen` was not found", KindModelLoad},
		{"load failure", 500, "Failed to load model: out of memory", KindModelLoad},
		{"resources", 503, "insufficient system resources", KindModelLoad},
		{"model load beats json", 400, "failed to load model; json mode unavailable", KindModelLoad},
		{"other", 500, "internal error", KindRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyServerError(tt.status, tt.body))
		})
	}
}

func TestKindOf(t *testing.T) {
	err := fmt.Errorf("step answer: %w", &Error{Kind: KindTimeout, Op: "complete", Message: "deadline"})
	assert.Equal(t, KindTimeout, KindOf(err))
	assert.Equal(t, ErrorKind(""), KindOf(errors.New("plain")))

	var e *Error
	assert.True(t, errors.As(err, &e))
	assert.Contains(t, e.Error(), "timeout")
}
