package advisor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Anthropic completes prompts with the Messages API.
type Anthropic struct {
	apiKey    string
	model     string
	maxTokens int
	timeout   time.Duration

	once   sync.Once
	client *anthropic.Client
	opts   []option.RequestOption
}

// Provider implements Completer.
func (a *Anthropic) Provider() string { return "anthropic" }

func (a *Anthropic) init() {
	a.once.Do(func() {
		opts := append([]option.RequestOption{option.WithAPIKey(a.apiKey)}, a.opts...)
		client := anthropic.NewClient(opts...)
		a.client = &client
	})
}

// Complete implements Completer.
func (a *Anthropic) Complete(ctx context.Context, prompt string) (string, error) {
	a.init()
	ctx, cancel := withTimeout(ctx, a.timeout)
	defer cancel()

	message, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: int64(a.maxTokens),
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic request failed: %w", err)
	}

	var b strings.Builder
	for _, block := range message.Content {
		b.WriteString(block.Text)
	}
	content := strings.TrimSpace(b.String())
	if content == "" {
		return "", ErrEmptyResponse
	}
	return content, nil
}
