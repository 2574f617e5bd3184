package llm

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"

	openai "github.com/sashabaranov/go-openai"
)

// ErrorKind classifies a failed model-server request.
type ErrorKind string

const (
	// KindConnectivity means the server could not be reached or refused to
	// list models.
	KindConnectivity ErrorKind = "connectivity"
	// KindJSONModeUnsupported means neither json_object nor json_schema was
	// accepted while JSON output was required.
	KindJSONModeUnsupported ErrorKind = "json_mode_unsupported"
	// KindModelLoad means the server could not find or load the model.
	KindModelLoad ErrorKind = "model_load"
	// KindTimeout means the per-request timeout fired.
	KindTimeout ErrorKind = "timeout"
	// KindRequest is any other failed request.
	KindRequest ErrorKind = "request"
)

var (
	modelLoadRegex = regexp.MustCompile(`(?i)model.*not.*found|failed to load model|insufficient.*resources`)
	jsonModeRegex  = regexp.MustCompile(`(?i)response_format.*must be|json_schema.*text|json mode|unable to parse`)
)

// Error is a classified model-server failure.
type Error struct {
	Kind       ErrorKind
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d): %s", e.Op, e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the classification of err, or "" when err is not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// ClassifyServerError maps a server error status and body onto an ErrorKind.
// Model-loading failures take precedence over JSON-format rejections.
func ClassifyServerError(status int, body string) ErrorKind {
	if status == http.StatusNotFound || modelLoadRegex.MatchString(body) {
		return KindModelLoad
	}
	if jsonModeRegex.MatchString(body) {
		return KindJSONModeUnsupported
	}
	return KindRequest
}

// serverError extracts the HTTP status and error text from a go-openai error.
func serverError(err error) (int, string) {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode, apiErr.Error()
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode, reqErr.Error()
	}
	return 0, err.Error()
}

func classify(op string, err error) *Error {
	status, body := serverError(err)
	return &Error{
		Kind:       ClassifyServerError(status, body),
		Op:         op,
		StatusCode: status,
		Message:    body,
		Err:        err,
	}
}
