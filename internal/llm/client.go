// Package llm speaks the OpenAI-compatible chat-completions protocol to a
// model server and negotiates structured JSON output.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pavelanni/exambench/internal/model"
	"github.com/pavelanni/exambench/internal/schema"

	openai "github.com/sashabaranov/go-openai"
)

// Format names the response_format a completion was obtained with.
const (
	FormatText       = "text"
	FormatJSONObject = "json_object"
	FormatJSONSchema = "json_schema"
)

// Message is one chat message. Images are sent as image_url parts.
type Message struct {
	Role    string
	Content string
	Images  []string
}

// Request is a single completion request.
type Request struct {
	Messages []Message
	// PreferJSON asks for structured output through response_format.
	PreferJSON bool
	// Schema is the json_schema to fall back to when json_object is
	// rejected. Empty disables the fallback.
	Schema schema.Name
}

// Completion is the result of a successful request.
type Completion struct {
	Text            string
	Usage           model.Usage
	RequestPayload  json.RawMessage
	ResponsePayload json.RawMessage
	// FallbackUsed is set when json_object was rejected and json_schema
	// succeeded.
	FallbackUsed bool
	JSONFormat   string
	Latency      time.Duration
}

// Client is a protocol client bound to one model binding.
type Client struct {
	api     *openai.Client
	binding model.Binding

	mu sync.Mutex
	// objectRejected remembers that the server refused json_object so later
	// requests go straight to json_schema.
	objectRejected bool
}

// Option configures a Client.
type Option func(*openai.ClientConfig)

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *openai.ClientConfig) { c.HTTPClient = hc }
}

// New creates a client for binding b.
func New(b model.Binding, opts ...Option) *Client {
	config := openai.DefaultConfig(b.ResolvedAPIKey())
	if b.BaseURL != "" {
		config.BaseURL = NormalizeBaseURL(b.BaseURL)
	}
	for _, opt := range opts {
		opt(&config)
	}
	return &Client{
		api:     openai.NewClientWithConfig(config),
		binding: b,
	}
}

// NormalizeBaseURL makes sure the base URL ends in /v1.
func NormalizeBaseURL(raw string) string {
	u := strings.TrimRight(strings.TrimSpace(raw), "/")
	if !strings.HasSuffix(u, "/v1") {
		u += "/v1"
	}
	return u
}

// Binding returns the binding the client was created for.
func (c *Client) Binding() model.Binding { return c.binding }

// ListModels returns the ids of the models the server exposes.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	tctx, cancel := context.WithTimeout(ctx, c.binding.Timeout())
	defer cancel()

	list, err := c.api.ListModels(tctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("list models: %w", ctx.Err())
		}
		status, body := serverError(err)
		return nil, &Error{Kind: KindConnectivity, Op: "list models", StatusCode: status, Message: body, Err: err}
	}
	ids := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// Complete sends req and negotiates the response format. When JSON is
// preferred, json_object is tried first and, on a format rejection, a
// strict json_schema is tried once. There is no fallback to plain text once
// JSON was requested.
func (c *Client) Complete(ctx context.Context, req Request) (*Completion, error) {
	mode := c.binding.EffectiveJSONMode()
	if !req.PreferJSON || mode == model.JSONModeNone {
		return c.send(ctx, req, FormatText)
	}

	if mode == model.JSONModeSchema && req.Schema != "" {
		return c.sendJSON(ctx, req, FormatJSONSchema)
	}
	if mode == model.JSONModeAuto && req.Schema != "" && c.rejectedObject() {
		return c.sendJSON(ctx, req, FormatJSONSchema)
	}

	out, err := c.send(ctx, req, FormatJSONObject)
	if err == nil {
		return out, nil
	}
	var first *Error
	if !errors.As(err, &first) || first.Kind != KindJSONModeUnsupported {
		return nil, err
	}
	if mode != model.JSONModeAuto || req.Schema == "" {
		return nil, err
	}

	slog.Debug("json_object rejected, retrying with json_schema",
		"binding", c.binding.ID, "schema", req.Schema, "error", first.Message)
	c.markObjectRejected()

	out, err = c.sendJSON(ctx, req, FormatJSONSchema)
	if err != nil {
		return nil, err
	}
	out.FallbackUsed = true
	return out, nil
}

// sendJSON sends with a JSON format and reports any failure other than a
// model-load, timeout or cancellation as JSON-mode incompatibility.
func (c *Client) sendJSON(ctx context.Context, req Request, format string) (*Completion, error) {
	out, err := c.send(ctx, req, format)
	if err == nil {
		return out, nil
	}
	var e *Error
	if errors.As(err, &e) && e.Kind == KindRequest {
		e.Kind = KindJSONModeUnsupported
	}
	return nil, err
}

func (c *Client) rejectedObject() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.objectRejected
}

func (c *Client) markObjectRejected() {
	c.mu.Lock()
	c.objectRejected = true
	c.mu.Unlock()
}

func (c *Client) send(ctx context.Context, req Request, format string) (*Completion, error) {
	chatReq, err := c.buildRequest(req, format)
	if err != nil {
		return nil, err
	}
	reqPayload, err := json.Marshal(chatReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	tctx, cancel := context.WithTimeout(ctx, c.binding.Timeout())
	defer cancel()

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(tctx, chatReq)
	latency := time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("chat completion: %w", ctx.Err())
		}
		if errors.Is(tctx.Err(), context.DeadlineExceeded) {
			return nil, &Error{
				Kind:    KindTimeout,
				Op:      "chat completion",
				Message: fmt.Sprintf("no response within %s", c.binding.Timeout()),
				Err:     err,
			}
		}
		return nil, classify("chat completion", err)
	}
	if len(resp.Choices) == 0 {
		return nil, &Error{Kind: KindRequest, Op: "chat completion", Message: "server returned no choices"}
	}

	respPayload, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("marshal response: %w", err)
	}
	slog.Debug("chat completion", "binding", c.binding.ID, "format", format, "latency", latency)

	return &Completion{
		Text: resp.Choices[0].Message.Content,
		Usage: model.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		RequestPayload:  reqPayload,
		ResponsePayload: respPayload,
		JSONFormat:      format,
		Latency:         latency,
	}, nil
}

func (c *Client) buildRequest(req Request, format string) (openai.ChatCompletionRequest, error) {
	s := c.binding.Sampling
	chatReq := openai.ChatCompletionRequest{
		Model:       c.binding.Model,
		Messages:    convertMessages(req.Messages),
		MaxTokens:   s.MaxTokens,
		Temperature: s.Temperature,
	}
	if s.TopP != nil {
		chatReq.TopP = *s.TopP
	}
	if s.FrequencyPenalty != nil {
		chatReq.FrequencyPenalty = *s.FrequencyPenalty
	}
	if s.PresencePenalty != nil {
		chatReq.PresencePenalty = *s.PresencePenalty
	}

	switch format {
	case FormatJSONObject:
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	case FormatJSONSchema:
		doc, err := schema.Document(req.Schema)
		if err != nil {
			return chatReq, err
		}
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   string(req.Schema),
				Schema: doc,
				Strict: true,
			},
		}
	}
	return chatReq, nil
}

func convertMessages(msgs []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		role := m.Role
		if role == "" {
			role = openai.ChatMessageRoleUser
		}
		if len(m.Images) == 0 {
			out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
			continue
		}
		parts := []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: m.Content}}
		for _, img := range m.Images {
			parts = append(parts, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: img},
			})
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, MultiContent: parts})
	}
	return out
}

// UserPrompt is a shorthand for a single user message request.
func UserPrompt(prompt string, preferJSON bool, hint schema.Name) Request {
	return Request{
		Messages:   []Message{{Role: openai.ChatMessageRoleUser, Content: prompt}},
		PreferJSON: preferJSON,
		Schema:     hint,
	}
}
