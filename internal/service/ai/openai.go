package ai

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"inara/internal/codec"
	"inara/internal/config"
	"inara/internal/models"
)

// openAIModel talks to any OpenAI compatible chat completions endpoint.
type openAIModel struct {
	client *openai.Client
	model  string
	system string
	codec  codec.OpenAI
}

func newOpenAIModel(cfg config.ProviderConfig, system string) *openAIModel {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &openAIModel{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		system: system,
	}
}

func (o *openAIModel) GenerateResponse(ctx context.Context, history []models.Turn, prompt models.Turn) (string, error) {
	next, ok := o.codec.EncodeTurn(prompt)
	if !ok {
		return "", errEmptyPrompt
	}
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: o.system})
	messages = append(messages, o.codec.Encode(history)...)
	messages = append(messages, next)

	return o.complete(ctx, openai.ChatCompletionRequest{Model: o.model, Messages: messages})
}

func (o *openAIModel) GenerateTitle(ctx context.Context, userMessage, modelResponse string) (string, error) {
	return o.complete(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: titleSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: titleUserPrompt(userMessage, modelResponse)},
		},
	})
}

func (o *openAIModel) complete(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", errEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}
