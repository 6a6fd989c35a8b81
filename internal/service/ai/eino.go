package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/flow/agent/react"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"inara/internal/codec"
	"inara/internal/config"
	"inara/internal/models"
)

const claudeMaxTokens = 3000

// einoModel drives an eino-ext chat model. When web search is enabled the
// model runs inside a react agent that may call the web_search tool.
type einoModel struct {
	chatModel model.ToolCallingChatModel
	agent     *react.Agent
	system    string
	codec     codec.Eino
}

func newEinoModel(ctx context.Context, cfg config.ProviderConfig, system string, logger *zap.Logger) (*einoModel, error) {
	chatModel, err := newEinoChatModel(ctx, cfg)
	if err != nil {
		return nil, err
	}
	m := &einoModel{chatModel: chatModel, system: system}
	if !cfg.WebSearch {
		return m, nil
	}

	var tools []tool.BaseTool
	if ws := InitWebSearch(ctx, cfg, logger); ws != nil {
		tools = append(tools, ws)
	}
	if len(tools) == 0 {
		return m, nil
	}
	m.agent, err = react.NewAgent(ctx, &react.AgentConfig{
		ToolCallingModel: chatModel,
		ToolsConfig: compose.ToolsNodeConfig{
			Tools: tools,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("init react agent: %w", err)
	}
	return m, nil
}

func newEinoChatModel(ctx context.Context, cfg config.ProviderConfig) (model.ToolCallingChatModel, error) {
	var (
		chatModel model.ToolCallingChatModel
		err       error
	)
	switch cfg.Vendor {
	case "openai":
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			APIKey:  cfg.APIKey,
		})
	case "gemini":
		client, cerr := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  cfg.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if cerr != nil {
			return nil, fmt.Errorf("creating gemini client: %w", cerr)
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  cfg.Model,
		})
	case "claude":
		var baseURLPtr *string
		if cfg.BaseURL != "" {
			baseURLPtr = &cfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			BaseURL:   baseURLPtr,
			MaxTokens: claudeMaxTokens,
		})
	default:
		return nil, fmt.Errorf("invalid eino vendor: %s", cfg.Vendor)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", cfg.Vendor, err)
	}
	return chatModel, nil
}

func (e *einoModel) GenerateResponse(ctx context.Context, history []models.Turn, prompt models.Turn) (string, error) {
	next := e.codec.EncodeTurn(prompt)
	if next == nil {
		return "", errEmptyPrompt
	}
	messages := make([]*schema.Message, 0, len(history)+2)
	messages = append(messages, schema.SystemMessage(e.system))
	messages = append(messages, e.codec.Encode(history)...)
	messages = append(messages, next)

	var (
		resp *schema.Message
		err  error
	)
	if e.agent != nil {
		resp, err = e.agent.Generate(ctx, messages)
	} else {
		resp, err = e.chatModel.Generate(ctx, messages)
	}
	if err != nil {
		return "", fmt.Errorf("generate response failed: %w", err)
	}
	if resp == nil || resp.Content == "" {
		return "", errEmptyResponse
	}
	return resp.Content, nil
}

func (e *einoModel) GenerateTitle(ctx context.Context, userMessage, modelResponse string) (string, error) {
	resp, err := e.chatModel.Generate(ctx, []*schema.Message{
		schema.SystemMessage(titleSystemPrompt),
		schema.UserMessage(titleUserPrompt(userMessage, modelResponse)),
	})
	if err != nil {
		return "", fmt.Errorf("generate title failed: %w", err)
	}
	return resp.Content, nil
}
