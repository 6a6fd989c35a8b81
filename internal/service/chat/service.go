// Package chat runs one conversation turn: it loads history, asks the model
// for a reply, persists the exchange and titles new sessions.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"inara/internal/codec"
	"inara/internal/metrics"
	"inara/internal/models"
	"inara/internal/service/ai"
	"inara/internal/storage"
)

// ErrorResponsePrefix starts the reply text returned when the provider fails.
const ErrorResponsePrefix = "Error generating response: "

var (
	// ErrEmptyTitle is returned by RenameSession for a blank title.
	ErrEmptyTitle = errors.New("title cannot be empty")
	// ErrBlankResponse marks a provider reply with no visible text.
	ErrBlankResponse = errors.New("model returned an empty response")
)

// ProviderError wraps a failure reported by the model provider.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Image is an optional attachment on a chat request.
type Image struct {
	Data     []byte
	MIMEType string
}

// Request is one user message.
type Request struct {
	Message   string
	SessionID string
	UserID    *string
	Image     *Image
}

// Result is what the caller returns to the client. Err is set, and Response
// carries the error text, when the provider failed. The failed exchange is
// still stored but does not trigger titling.
type Result struct {
	Response  string
	SessionID string
	Title     string
	Err       error
}

// Service coordinates the store and the model. Safe for concurrent use.
type Service struct {
	store   storage.SessionStore
	model   ai.Model
	logger  *zap.Logger
	metrics *metrics.Recorder
	now     func() time.Time
}

func NewService(store storage.SessionStore, model ai.Model, logger *zap.Logger, rec *metrics.Recorder) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:   store,
		model:   model,
		logger:  logger,
		metrics: rec,
		now:     time.Now,
	}
}

// Chat handles one turn. Validation errors (models.ErrInvalidTurn) and store
// errors are returned as errors; provider failures are reported in Result.
func (s *Service) Chat(ctx context.Context, req Request) (*Result, error) {
	var (
		image    []byte
		mimeType string
	)
	if req.Image != nil && strings.HasPrefix(strings.ToLower(req.Image.MIMEType), "image/") {
		image, mimeType = req.Image.Data, req.Image.MIMEType
	}
	userTurn, err := codec.NewTurn(models.RoleUser, req.Message, image, mimeType, s.now())
	if err != nil {
		s.metrics.ChatTurn(metrics.OutcomeInvalid)
		return nil, err
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID, err = s.store.CreateSession(ctx, req.UserID, "")
		if err != nil {
			s.metrics.ChatTurn(metrics.OutcomeStoreError)
			return nil, fmt.Errorf("create session: %w", err)
		}
	}
	logger := s.logger.With(zap.String("session_id", sessionID))

	history, err := s.store.GetHistory(ctx, sessionID)
	if err != nil {
		s.metrics.ChatTurn(metrics.OutcomeStoreError)
		return nil, fmt.Errorf("load history: %w", err)
	}

	response, err := s.model.GenerateResponse(ctx, history, userTurn)
	if err == nil && strings.TrimSpace(response) == "" {
		err = ErrBlankResponse
	}
	var perr *ProviderError
	if err != nil {
		perr = &ProviderError{Op: "generate_response", Err: err}
		response = ErrorResponsePrefix + err.Error()
	}
	modelTurn, err := codec.NewTurn(models.RoleModel, response, nil, "", s.now())
	if err != nil {
		s.metrics.ChatTurn(metrics.OutcomeInvalid)
		return nil, fmt.Errorf("build model turn: %w", err)
	}

	// The exchange is persisted even if the client has gone away. A failed
	// exchange is kept too, with the error text as the model turn.
	persistCtx := context.WithoutCancel(ctx)
	if err := s.store.AppendTurn(persistCtx, sessionID, userTurn); err != nil {
		s.metrics.ChatTurn(metrics.OutcomeStoreError)
		return nil, fmt.Errorf("append user turn: %w", err)
	}
	if err := s.store.AppendTurn(persistCtx, sessionID, modelTurn); err != nil {
		s.metrics.ChatTurn(metrics.OutcomeStoreError)
		return nil, fmt.Errorf("append model turn: %w", err)
	}

	session, err := s.store.GetSession(persistCtx, sessionID)
	if err != nil {
		s.metrics.ChatTurn(metrics.OutcomeStoreError)
		return nil, fmt.Errorf("reload session: %w", err)
	}
	title := session.Title

	if perr != nil {
		logger.Error("chat turn failed", zap.Error(perr))
		s.metrics.ChatTurn(metrics.OutcomeProviderError)
		return &Result{Response: response, SessionID: sessionID, Title: title, Err: perr}, nil
	}

	if NeedsTitle(session) {
		title = s.assignTitle(persistCtx, session, req.Message, response)
	}

	s.metrics.ChatTurn(metrics.OutcomeOK)
	logger.Info("chat turn completed",
		zap.Int("history_turns", len(session.History)),
		zap.Bool("image", len(image) > 0),
	)
	return &Result{Response: response, SessionID: sessionID, Title: title}, nil
}

// CreateSession starts an empty session.
func (s *Service) CreateSession(ctx context.Context, userID *string, title string) (*models.Session, error) {
	id, err := s.store.CreateSession(ctx, userID, strings.TrimSpace(title))
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return s.store.GetSession(ctx, id)
}

// Session returns a session with its full history.
func (s *Service) Session(ctx context.Context, sessionID string) (*models.Session, error) {
	return s.store.GetSession(ctx, sessionID)
}

// UserSessions lists a user's sessions, newest activity first.
func (s *Service) UserSessions(ctx context.Context, userID string) ([]models.SessionSummary, error) {
	return s.store.ListUserSessions(ctx, userID)
}

// RenameSession sets a title chosen by the user. It bypasses the automatic
// policy; a renamed session is never retitled.
func (s *Service) RenameSession(ctx context.Context, sessionID, title string) (*models.Session, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, ErrEmptyTitle
	}
	if runes := []rune(title); len(runes) > 255 {
		title = string(runes[:255])
	}
	if err := s.store.UpdateTitle(ctx, sessionID, title); err != nil {
		return nil, err
	}
	return s.store.GetSession(ctx, sessionID)
}

// DeleteSession removes a session; the bool reports whether it existed.
func (s *Service) DeleteSession(ctx context.Context, sessionID string) (bool, error) {
	return s.store.DeleteSession(ctx, sessionID)
}

// Ping checks the store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
