package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"inara/internal/config"
	"inara/internal/metrics"
	"inara/internal/models"
)

// Model is the narrow boundary the chat service talks to.
type Model interface {
	// GenerateResponse answers prompt given the prior history of the session.
	GenerateResponse(ctx context.Context, history []models.Turn, prompt models.Turn) (string, error)
	// GenerateTitle proposes a short title for a first exchange.
	GenerateTitle(ctx context.Context, userMessage, modelResponse string) (string, error)
}

// DefaultSystemPrompt is the assistant persona used when none is configured.
const DefaultSystemPrompt = `You are Inara, an AI clinical assistant for doctors and other healthcare professionals.
You help with medical research questions, diagnostic reasoning support and administrative work.
- Be professional, precise and empathetic.
- Remind the user that you are an AI and that your suggestions must be checked by a qualified clinician.
- When given an image such as a scan, describe your observations without stating a definitive diagnosis.
- Answer briefly unless a detailed explanation is requested.`

const titleSystemPrompt = "You write titles for chat conversations. " +
	"Given the first user message and the assistant reply, produce a concise title of at most six words " +
	"that names the main topic. Output only the title, without quotes or punctuation at the end."

const (
	titleTimeout      = 15 * time.Second
	titleInputMaxRune = 500
)

var errEmptyResponse = errors.New("model returned empty response")

// errEmptyPrompt is returned when the prompt turn has nothing the provider can accept.
var errEmptyPrompt = errors.New("prompt has no usable content")

// New builds the model selected by cfg.Kind and wraps it with metrics and logging.
func New(ctx context.Context, cfg config.ProviderConfig, systemPrompt string, logger *zap.Logger, rec *metrics.Recorder) (Model, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = DefaultSystemPrompt
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second

	var (
		m   Model
		err error
	)
	switch strings.ToLower(cfg.Kind) {
	case "gemini":
		m, err = newGeminiModel(ctx, cfg, systemPrompt)
	case "openai":
		m = newOpenAIModel(cfg, systemPrompt)
	case "eino":
		m, err = newEinoModel(ctx, cfg, systemPrompt, logger)
	default:
		return nil, fmt.Errorf("invalid provider kind: %s", cfg.Kind)
	}
	if err != nil {
		return nil, err
	}
	logger.Info("model provider ready",
		zap.String("kind", cfg.Kind),
		zap.String("vendor", cfg.Vendor),
		zap.String("model", cfg.Model),
	)
	return &instrumented{inner: m, timeout: timeout, logger: logger, metrics: rec}, nil
}

// instrumented applies the per-call timeout and records latency for any Model.
type instrumented struct {
	inner   Model
	timeout time.Duration
	logger  *zap.Logger
	metrics *metrics.Recorder
}

func (i *instrumented) GenerateResponse(ctx context.Context, history []models.Turn, prompt models.Turn) (string, error) {
	if i.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}
	start := time.Now()
	text, err := i.inner.GenerateResponse(ctx, history, prompt)
	latency := time.Since(start)
	i.metrics.ProviderCall("generate_response", latency)
	if err != nil {
		i.logger.Error("generate response failed",
			zap.Int("history_turns", len(history)),
			zap.Int64("latency_ms", latency.Milliseconds()),
			zap.Error(err),
		)
		return "", err
	}
	i.logger.Debug("generate response",
		zap.Int("history_turns", len(history)),
		zap.Int64("latency_ms", latency.Milliseconds()),
	)
	return text, nil
}

func (i *instrumented) GenerateTitle(ctx context.Context, userMessage, modelResponse string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, titleTimeout)
	defer cancel()
	start := time.Now()
	title, err := i.inner.GenerateTitle(ctx, truncateRunes(userMessage, titleInputMaxRune), truncateRunes(modelResponse, titleInputMaxRune))
	latency := time.Since(start)
	i.metrics.ProviderCall("generate_title", latency)
	if err != nil {
		i.logger.Warn("generate title failed", zap.Int64("latency_ms", latency.Milliseconds()), zap.Error(err))
		return "", err
	}
	return title, nil
}

func titleUserPrompt(userMessage, modelResponse string) string {
	return fmt.Sprintf("User: %s\n\nAssistant: %s\n\nWrite the title for this conversation.", userMessage, modelResponse)
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
