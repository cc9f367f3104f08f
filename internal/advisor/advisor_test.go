package advisor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	openaioption "github.com/openai/openai-go/option"

	"github.com/nerrad567/colourlab-core/internal/infrastructure/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.AdvisorConfig
		provider string
		model    string
		wantErr  error
	}{
		{name: "disabled", cfg: config.AdvisorConfig{}, wantErr: ErrNotConfigured},
		{name: "missing key", cfg: config.AdvisorConfig{Provider: "openai"}, wantErr: ErrNotConfigured},
		{name: "unknown", cfg: config.AdvisorConfig{Provider: "oracle", APIKey: "k"}, wantErr: ErrNotConfigured},
		{name: "openai default model", cfg: config.AdvisorConfig{Provider: "openai", APIKey: "k"}, provider: "openai", model: DefaultOpenAIModel},
		{name: "anthropic custom model", cfg: config.AdvisorConfig{Provider: "Anthropic", APIKey: "k", Model: "claude-x"}, provider: "anthropic", model: "claude-x"},
		{name: "gemini", cfg: config.AdvisorConfig{Provider: "gemini", APIKey: "k"}, provider: "gemini", model: DefaultGeminiModel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.cfg)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("New() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("New() error: %v", err)
			}
			if c.Provider() != tt.provider {
				t.Errorf("Provider() = %q, want %q", c.Provider(), tt.provider)
			}
			var model string
			switch b := c.(type) {
			case *OpenAI:
				model = b.model
			case *Anthropic:
				model = b.model
			case *Gemini:
				model = b.model
			}
			if model != tt.model {
				t.Errorf("model = %q, want %q", model, tt.model)
			}
		})
	}
}

// recorder captures request bodies sent to a fake vendor endpoint.
type recorder struct {
	mu    sync.Mutex
	paths []string
	body  map[string]any
}

func (r *recorder) handler(status int, response string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		data, _ := io.ReadAll(req.Body)
		r.mu.Lock()
		r.paths = append(r.paths, req.URL.Path)
		_ = json.Unmarshal(data, &r.body)
		r.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}
}

func (r *recorder) snapshot() ([]string, map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...), r.body
}

func TestOpenAI_Complete(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec.handler(http.StatusOK, `{
		"id": "chatcmpl-1",
		"object": "chat.completion",
		"created": 1,
		"model": "gpt-test",
		"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": " [1, 2, 3] "}}]
	}`))
	defer srv.Close()

	o := &OpenAI{
		apiKey:    "sk-test",
		model:     "gpt-test",
		maxTokens: 32,
		opts:      []openaioption.RequestOption{openaioption.WithBaseURL(srv.URL + "/"), openaioption.WithMaxRetries(0)},
	}

	got, err := o.Complete(context.Background(), "next drops?")
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	if got != "[1, 2, 3]" {
		t.Errorf("Complete() = %q", got)
	}

	paths, body := rec.snapshot()
	if len(paths) != 1 || !strings.HasSuffix(paths[0], "/chat/completions") {
		t.Errorf("paths = %v", paths)
	}
	if body["model"] != "gpt-test" {
		t.Errorf("model = %v", body["model"])
	}
}

func TestOpenAI_EmptyChoices(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec.handler(http.StatusOK, `{"id":"x","object":"chat.completion","created":1,"model":"m","choices":[]}`))
	defer srv.Close()

	o := &OpenAI{
		apiKey: "sk-test", model: "m", maxTokens: 8,
		opts: []openaioption.RequestOption{openaioption.WithBaseURL(srv.URL + "/"), openaioption.WithMaxRetries(0)},
	}
	if _, err := o.Complete(context.Background(), "p"); !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("Complete() = %v, want ErrEmptyResponse", err)
	}
}

func TestAnthropic_Complete(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec.handler(http.StatusOK, `{
		"id": "msg_1",
		"type": "message",
		"role": "assistant",
		"model": "claude-test",
		"content": [{"type": "text", "text": "[4, 0, 1]"}],
		"stop_reason": "end_turn",
		"usage": {"input_tokens": 10, "output_tokens": 5}
	}`))
	defer srv.Close()

	a := &Anthropic{
		apiKey:    "key",
		model:     "claude-test",
		maxTokens: 32,
		opts:      []anthropicoption.RequestOption{anthropicoption.WithBaseURL(srv.URL), anthropicoption.WithMaxRetries(0)},
	}

	got, err := a.Complete(context.Background(), "next drops?")
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	if got != "[4, 0, 1]" {
		t.Errorf("Complete() = %q", got)
	}

	paths, body := rec.snapshot()
	if len(paths) != 1 || !strings.HasSuffix(paths[0], "/v1/messages") {
		t.Errorf("paths = %v", paths)
	}
	if body["max_tokens"] != float64(32) {
		t.Errorf("max_tokens = %v", body["max_tokens"])
	}
}

func TestAnthropic_ServerError(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec.handler(http.StatusInternalServerError, `{"type":"error","error":{"type":"api_error","message":"boom"}}`))
	defer srv.Close()

	a := &Anthropic{
		apiKey: "key", model: "m", maxTokens: 8,
		opts: []anthropicoption.RequestOption{anthropicoption.WithBaseURL(srv.URL), anthropicoption.WithMaxRetries(0)},
	}
	if _, err := a.Complete(context.Background(), "p"); err == nil {
		t.Error("Complete() expected error for 500 response")
	}
}

// rewriteTransport sends every request to target, keeping the path.
type rewriteTransport struct{ target *url.URL }

func (rt rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	out.URL.Scheme = rt.target.Scheme
	out.URL.Host = rt.target.Host
	out.Host = rt.target.Host
	return http.DefaultTransport.RoundTrip(out)
}

func newTestGemini(t *testing.T, srv *httptest.Server) *Gemini {
	t.Helper()
	target, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	return &Gemini{
		apiKey:     "key",
		model:      "gemini-test",
		maxTokens:  32,
		httpClient: &http.Client{Transport: rewriteTransport{target: target}},
	}
}

func TestGemini_Complete(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec.handler(http.StatusOK, `{
		"candidates": [{
			"content": {"role": "model", "parts": [
				{"text": "More blue than red.", "thought": true},
				{"text": " [2, 0, 3]"},
				{"text": " "}
			]},
			"finishReason": "STOP"
		}]
	}`))
	defer srv.Close()

	got, err := newTestGemini(t, srv).Complete(context.Background(), "next drops?")
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	if got != "[2, 0, 3]" {
		t.Errorf("Complete() = %q, want thought parts skipped", got)
	}

	paths, body := rec.snapshot()
	if len(paths) != 1 || !strings.HasSuffix(paths[0], "/models/gemini-test:generateContent") {
		t.Errorf("paths = %v", paths)
	}
	genCfg, _ := body["generationConfig"].(map[string]any)
	if genCfg["maxOutputTokens"] != float64(32) {
		t.Errorf("generationConfig = %v", body["generationConfig"])
	}
}

func TestGemini_EmptyResponse(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{name: "no candidates", response: `{"candidates": []}`},
		{name: "thoughts only", response: `{"candidates": [{"content": {"role": "model", "parts": [{"text": "hmm", "thought": true}]}}]}`},
		{name: "no content", response: `{"candidates": [{"finishReason": "SAFETY"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			srv := httptest.NewServer(rec.handler(http.StatusOK, tt.response))
			defer srv.Close()

			if _, err := newTestGemini(t, srv).Complete(context.Background(), "p"); !errors.Is(err, ErrEmptyResponse) {
				t.Errorf("Complete() = %v, want ErrEmptyResponse", err)
			}
		})
	}
}
