package advisor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAI completes prompts with the Chat Completions API.
type OpenAI struct {
	apiKey    string
	model     string
	maxTokens int
	timeout   time.Duration

	once   sync.Once
	client *openai.Client
	opts   []option.RequestOption
}

// Provider implements Completer.
func (o *OpenAI) Provider() string { return "openai" }

func (o *OpenAI) init() {
	o.once.Do(func() {
		opts := append([]option.RequestOption{option.WithAPIKey(o.apiKey)}, o.opts...)
		client := openai.NewClient(opts...)
		o.client = &client
	})
}

// Complete implements Completer.
func (o *OpenAI) Complete(ctx context.Context, prompt string) (string, error) {
	o.init()
	ctx, cancel := withTimeout(ctx, o.timeout)
	defer cancel()

	completion, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(prompt),
		},
		MaxTokens: openai.Int(int64(o.maxTokens)),
	})
	if err != nil {
		return "", fmt.Errorf("openai request failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	content := strings.TrimSpace(completion.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyResponse
	}
	return content, nil
}
