package advisor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/colourlab-core/internal/infrastructure/config"
)

// Errors returned by the advisor package.
var (
	// ErrNotConfigured is returned when no provider or API key is set.
	ErrNotConfigured = errors.New("advisor: not configured")

	// ErrEmptyResponse is returned when the backend answered with no text.
	ErrEmptyResponse = errors.New("advisor: empty response")
)

// Default models per provider, used when advisor.model is empty.
const (
	DefaultOpenAIModel    = "gpt-4o-mini"
	DefaultAnthropicModel = "claude-3-5-haiku-latest"
	DefaultGeminiModel    = "gemini-2.0-flash"
)

const defaultMaxTokens = 256

// systemPrompt frames every request.
const systemPrompt = "You are a laboratory assistant optimising dye mixtures. " +
	"Answer with the requested numbers only."

// Completer turns a prompt into a completion.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Provider() string
}

// New returns the backend selected by cfg.Provider.
func New(cfg config.AdvisorConfig) (Completer, error) {
	if cfg.Provider == "" {
		return nil, fmt.Errorf("%w: advisor.provider is empty", ErrNotConfigured)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: no API key for %s", ErrNotConfigured, cfg.Provider)
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	timeout := time.Duration(cfg.Timeout) * time.Second

	switch strings.ToLower(cfg.Provider) {
	case "openai":
		return &OpenAI{apiKey: cfg.APIKey, model: orDefault(cfg.Model, DefaultOpenAIModel), maxTokens: maxTokens, timeout: timeout}, nil
	case "anthropic":
		return &Anthropic{apiKey: cfg.APIKey, model: orDefault(cfg.Model, DefaultAnthropicModel), maxTokens: maxTokens, timeout: timeout}, nil
	case "gemini":
		return &Gemini{apiKey: cfg.APIKey, model: orDefault(cfg.Model, DefaultGeminiModel), maxTokens: maxTokens, timeout: timeout}, nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrNotConfigured, cfg.Provider)
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// withTimeout applies the configured per-call timeout, if any.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
