package chat

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"inara/internal/models"
)

const (
	// MaxTitleRunes bounds generated and fallback titles.
	MaxTitleRunes = 50
	// ImageTitle is the fallback for a first message that carried only an image.
	ImageTitle = "Image conversation"

	imagePlaceholder = "[image attachment]"
	untitled         = "Untitled conversation"
)

// NeedsTitle reports whether the session still carries the placeholder title
// and already holds at least one full exchange.
func NeedsTitle(s *models.Session) bool {
	return s != nil && s.Title == models.DefaultTitle && len(s.History) >= 2
}

// FallbackTitle derives a title from the user's message when generation fails.
func FallbackTitle(message string) string {
	message = strings.Join(strings.Fields(message), " ")
	if message == "" {
		return ImageTitle
	}
	runes := []rune(message)
	if len(runes) <= MaxTitleRunes {
		return message
	}
	return string(runes[:MaxTitleRunes]) + "..."
}

// CleanTitle normalizes raw model output: first non-empty line, no wrapping
// quotes or markdown, no "Title:" label, at most MaxTitleRunes runes.
func CleanTitle(raw string) string {
	var line string
	for _, l := range strings.Split(raw, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			line = l
			break
		}
	}
	line = strings.TrimLeft(line, "#*- ")
	if len(line) >= 6 && strings.EqualFold(line[:6], "title:") {
		line = strings.TrimSpace(line[6:])
	}
	line = strings.Trim(line, "\"'`*“”‘’ ")
	line = strings.TrimRight(line, ".")
	runes := []rune(line)
	if len(runes) > MaxTitleRunes {
		line = strings.TrimSpace(string(runes[:MaxTitleRunes]))
	}
	return line
}

// assignTitle generates and stores a title for a session that needs one.
// It never fails: generation errors fall back to FallbackTitle and store
// errors are logged, leaving the session title unchanged.
func (s *Service) assignTitle(ctx context.Context, session *models.Session, message, response string) string {
	logger := s.logger.With(zap.String("session_id", session.SessionID))

	prompt := message
	if strings.TrimSpace(prompt) == "" {
		prompt = imagePlaceholder
	}
	title := ""
	raw, err := s.model.GenerateTitle(ctx, prompt, response)
	if err != nil {
		logger.Warn("title generation failed, using fallback", zap.Error(&ProviderError{Op: "generate_title", Err: err}))
	} else {
		title = CleanTitle(raw)
	}
	result := "generated"
	if title == "" || title == models.DefaultTitle {
		title = FallbackTitle(message)
		result = "fallback"
	}
	if title == models.DefaultTitle {
		title = untitled
	}

	if err := s.store.UpdateTitle(ctx, session.SessionID, title); err != nil {
		logger.Error("update title failed", zap.Error(err))
		return session.Title
	}
	s.metrics.TitleGeneration(result)
	logger.Info("session titled", zap.String("title", title), zap.String("result", result))
	return title
}
