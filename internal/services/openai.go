package services

import (
	"context"
	"fmt"
	"log"

	openai "github.com/sashabaranov/go-openai"
)

const openAIScriptModel = "gpt-5-mini"

type OpenAIService struct {
	client *openai.Client
	model  string
}

var _ ScriptWriter = (*OpenAIService)(nil)

func NewOpenAIService(apiKey string) *OpenAIService {
	return &OpenAIService{
		client: openai.NewClient(apiKey),
		model:  openAIScriptModel,
	}
}

// NewOpenAIServiceWithBaseURL points the client at an OpenAI-compatible endpoint.
func NewOpenAIServiceWithBaseURL(apiKey, baseURL string) *OpenAIService {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIService{
		client: openai.NewClientWithConfig(cfg),
		model:  openAIScriptModel,
	}
}

// WriteScript asks the model for an annotated travel narration about destination.
func (s *OpenAIService) WriteScript(ctx context.Context, destination, language string) (string, error) {
	language = scriptLanguage(language)

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: buildScriptSystemPrompt(language),
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildScriptUserPrompt(destination),
			},
		},
		Temperature: 1.0,
	})
	if err != nil {
		return "", fmt.Errorf("openai request failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from openai")
	}

	rawContent := resp.Choices[0].Message.Content
	script, err := cleanScriptResponse(rawContent)
	if err != nil {
		log.Printf("[OpenAI script] rejected response: %v (raw: %s)", err, truncateString(rawContent, 2000))
		return "", fmt.Errorf("failed to write script for %q: %w", destination, err)
	}

	log.Printf("[OpenAI script] script written for %q (%d chars, language=%s)", destination, len(script), language)
	return script, nil
}

// truncateString truncates a string to maxLen and appends "..." if truncated.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
