package advisor

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"
)

// Gemini completes prompts with the Gemini GenerateContent API.
type Gemini struct {
	apiKey    string
	model     string
	maxTokens int
	timeout   time.Duration

	mu         sync.Mutex
	client     *genai.Client
	httpClient *http.Client
}

// Provider implements Completer.
func (g *Gemini) Provider() string { return "gemini" }

func (g *Gemini) clientFor(ctx context.Context) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client != nil {
		return g.client, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     g.apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: g.httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	g.client = client
	return client, nil
}

// Complete implements Completer.
func (g *Gemini) Complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := withTimeout(ctx, g.timeout)
	defer cancel()

	client, err := g.clientFor(ctx)
	if err != nil {
		return "", err
	}

	result, err := client.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)},
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
			MaxOutputTokens:   int32(g.maxTokens),
		})
	if err != nil {
		return "", fmt.Errorf("gemini request failed: %w", err)
	}

	var b strings.Builder
	for _, candidate := range result.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part.Thought {
				continue
			}
			b.WriteString(part.Text)
		}
	}
	content := strings.TrimSpace(b.String())
	if content == "" {
		return "", ErrEmptyResponse
	}
	return content, nil
}
