package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiClient owns one genai client shared by every Gemini model of the priority list.
type GeminiClient struct {
	client      *genai.Client
	temperature float32
}

func NewGeminiClient(ctx context.Context, apiKey string) (*GeminiClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("gemini: api key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiClient{client: client, temperature: 0.4}, nil
}

func (g *GeminiClient) Close() error {
	return g.client.Close()
}

// Factory plugs the client into a Registry.
func (g *GeminiClient) Factory() ProviderFactory {
	return func(ctx context.Context, model string) (Provider, error) {
		_ = ctx
		m := strings.TrimSpace(model)
		if m == "" {
			return nil, &ProviderError{Message: "gemini: model is required"}
		}
		return &GeminiProvider{client: g, Model: m}, nil
	}
}

type GeminiProvider struct {
	client *GeminiClient
	Model  string
}

func (p *GeminiProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	model := p.client.client.GenerativeModel(p.Model)
	model.SetTemperature(p.client.temperature)

	var system []string
	var turns []*genai.Content
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleAssistant:
			turns = append(turns, &genai.Content{Role: "model", Parts: []genai.Part{genai.Text(m.Content)}})
		default:
			turns = append(turns, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(m.Content)}})
		}
	}
	if len(turns) == 0 {
		return "", &ProviderError{Message: "gemini: no user content"}
	}
	if len(system) > 0 {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(strings.Join(system, "\n\n"))}}
	}

	cs := model.StartChat()
	cs.History = turns[:len(turns)-1]
	resp, err := cs.SendMessage(ctx, turns[len(turns)-1].Parts...)
	if err != nil {
		return "", err
	}

	text := extractText(resp)
	if text == "" {
		return "", &ProviderError{Message: "gemini: empty response"}
	}
	return text, nil
}

func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				text.WriteString(string(t))
			}
		}
		// first candidate with content wins
		if text.Len() > 0 {
			break
		}
	}
	return text.String()
}
