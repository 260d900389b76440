package services

import (
	"context"
	"fmt"
	"log"

	"google.golang.org/genai"
)

const geminiScriptModel = "gemini-2.5-flash"

type GeminiService struct {
	apiKey string
	model  string
}

var _ ScriptWriter = (*GeminiService)(nil)

func NewGeminiService(apiKey string) *GeminiService {
	return &GeminiService{
		apiKey: apiKey,
		model:  geminiScriptModel,
	}
}

// WriteScript asks Gemini for an annotated travel narration about destination.
func (s *GeminiService) WriteScript(ctx context.Context, destination, language string) (string, error) {
	language = scriptLanguage(language)

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  s.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create genai client: %w", err)
	}

	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(buildScriptSystemPrompt(language), genai.RoleUser),
		Temperature:       genai.Ptr[float32](0.9),
	}

	log.Printf("[Gemini script] Writing script (model=%s, destination=%q, language=%s)", s.model, destination, language)

	resp, err := client.Models.GenerateContent(ctx, s.model, genai.Text(buildScriptUserPrompt(destination)), config)
	if err != nil {
		return "", fmt.Errorf("gemini request failed: %w", err)
	}

	rawContent := resp.Text()
	script, err := cleanScriptResponse(rawContent)
	if err != nil {
		log.Printf("[Gemini script] rejected response: %v (raw: %s)", err, truncateString(rawContent, 2000))
		return "", fmt.Errorf("failed to write script for %q: %w", destination, err)
	}

	log.Printf("[Gemini script] script written for %q (%d chars)", destination, len(script))
	return script, nil
}
