package ai

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"inara/internal/codec"
	"inara/internal/config"
	"inara/internal/models"
)

// geminiModel calls the Gemini API directly through the genai SDK.
type geminiModel struct {
	client *genai.Client
	model  string
	system string
	codec  codec.Gemini
}

func newGeminiModel(ctx context.Context, cfg config.ProviderConfig, system string) (*geminiModel, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &geminiModel{client: client, model: cfg.Model, system: system}, nil
}

func (g *geminiModel) GenerateResponse(ctx context.Context, history []models.Turn, prompt models.Turn) (string, error) {
	next := g.codec.EncodeTurn(prompt)
	if next == nil {
		return "", errEmptyPrompt
	}
	contents := append(g.codec.Encode(history), next)

	res, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(g.system, genai.RoleUser),
	})
	if err != nil {
		return "", fmt.Errorf("gemini generate content: %w", err)
	}
	text := res.Text()
	if text == "" {
		return "", errEmptyResponse
	}
	return text, nil
}

func (g *geminiModel) GenerateTitle(ctx context.Context, userMessage, modelResponse string) (string, error) {
	temp := float32(0.2)
	res, err := g.client.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{genai.NewContentFromText(titleUserPrompt(userMessage, modelResponse), genai.RoleUser)},
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(titleSystemPrompt, genai.RoleUser),
			Temperature:       &temp,
		},
	)
	if err != nil {
		return "", fmt.Errorf("gemini generate title: %w", err)
	}
	return res.Text(), nil
}
