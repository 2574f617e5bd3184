// Package llmtest provides a scriptable OpenAI-compatible server for tests.
package llmtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pavelanni/exambench/internal/model"
)

// Part is one element of a multi-part message content.
type Part struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL *struct {
		URL string `json:"url"`
	} `json:"image_url,omitempty"`
}

// Message is a chat message as received by the server.
type Message struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// Text returns the textual content of the message, joining text parts.
func (m Message) Text() string {
	var s string
	if json.Unmarshal(m.Content, &s) == nil {
		return s
	}
	var parts []Part
	if json.Unmarshal(m.Content, &parts) != nil {
		return ""
	}
	var texts []string
	for _, p := range parts {
		if p.Type == "text" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// Images returns the image URLs of a multi-part message.
func (m Message) Images() []string {
	var parts []Part
	if json.Unmarshal(m.Content, &parts) != nil {
		return nil
	}
	var urls []string
	for _, p := range parts {
		if p.Type == "image_url" && p.ImageURL != nil {
			urls = append(urls, p.ImageURL.URL)
		}
	}
	return urls
}

// Request is a decoded chat-completions request.
type Request struct {
	Model          string    `json:"model"`
	Messages       []Message `json:"messages"`
	MaxTokens      int       `json:"max_tokens"`
	Temperature    float32   `json:"temperature"`
	ResponseFormat *struct {
		Type       string `json:"type"`
		JSONSchema *struct {
			Name   string          `json:"name"`
			Schema json.RawMessage `json:"schema"`
			Strict bool            `json:"strict"`
		} `json:"json_schema"`
	} `json:"response_format"`
}

// Format returns the requested response_format type, or "text".
func (r Request) Format() string {
	if r.ResponseFormat == nil || r.ResponseFormat.Type == "" {
		return "text"
	}
	return r.ResponseFormat.Type
}

// Prompt returns the text of the last message.
func (r Request) Prompt() string {
	if len(r.Messages) == 0 {
		return ""
	}
	return r.Messages[len(r.Messages)-1].Text()
}

// Reply scripts the server's answer to one request.
type Reply struct {
	// Status defaults to 200.
	Status int
	// Content is the assistant message on success.
	Content string
	// Error is the error message on a non-2xx status.
	Error string
	// Delay holds the response back, honoring client disconnects.
	Delay time.Duration
}

// Handler produces the reply for a request.
type Handler func(Request) Reply

// Server is a fake model server.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	requests []Request

	// Models is returned from GET /v1/models.
	Models []string
	// ModelsStatus, when non-zero, fails model listing with that status.
	ModelsStatus int
}

// New starts a server answering chat completions with h. It is closed when
// the test ends.
func New(t testing.TB, h Handler) *Server {
	t.Helper()
	s := &Server{Models: []string{"test-model"}}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/models", s.handleModels)
	mux.HandleFunc("POST /v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "unable to decode request")
			return
		}
		s.mu.Lock()
		s.requests = append(s.requests, req)
		s.mu.Unlock()

		reply := h(req)
		if reply.Delay > 0 {
			select {
			case <-time.After(reply.Delay):
			case <-r.Context().Done():
				return
			}
		}
		if reply.Status != 0 && reply.Status != http.StatusOK {
			writeError(w, reply.Status, reply.Error)
			return
		}
		writeCompletion(w, req.Model, reply.Content)
	})
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// Requests returns the chat requests received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Binding returns a text binding pointing at the server.
func (s *Server) Binding(id string) model.Binding {
	return model.Binding{
		ID:         id,
		Capability: model.CapabilityText,
		BaseURL:    s.URL,
		APIKey:     "test-key",
		Model:      "test-model",
		Sampling:   model.SamplingParams{MaxTokens: 256},
		TimeoutMs:  5000,
		JSONMode:   model.JSONModeAuto,
	}
}

func (s *Server) handleModels(w http.ResponseWriter, _ *http.Request) {
	if s.ModelsStatus != 0 {
		writeError(w, s.ModelsStatus, "models unavailable")
		return
	}
	type entry struct {
		ID     string `json:"id"`
		Object string `json:"object"`
	}
	data := make([]entry, 0, len(s.Models))
	for _, id := range s.Models {
		data = append(data, entry{ID: id, Object: "model"})
	}
	writeJSON(w, http.StatusOK, map[string]any{"object": "list", "data": data})
}

func writeCompletion(w http.ResponseWriter, modelName, content string) {
	writeJSON(w, http.StatusOK, map[string]any{
		"id":      "chatcmpl-test",
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   modelName,
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
		"usage": map[string]int{
			"prompt_tokens":     10,
			"completion_tokens": 5,
			"total_tokens":      15,
		},
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{"message": msg, "type": "invalid_request_error"},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
