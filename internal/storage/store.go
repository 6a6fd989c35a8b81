// Package storage persists chat sessions and their turn history.
//
// Every backend implements SessionStore with the same contract: AppendTurn
// upserts a missing session, GetSession reports ErrSessionNotFound for an
// absent id, and concurrent writers on one session are last-writer-wins.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"inara/internal/config"
	"inara/internal/metrics"
	"inara/internal/models"
	"inara/internal/redis"
)

// MaxUserSessions caps ListUserSessions. There is no cursor beyond it.
const MaxUserSessions = 100

var (
	// ErrSessionNotFound is returned when a session id has no record.
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidTurn is returned by AppendTurn before any write happens.
	ErrInvalidTurn = models.ErrInvalidTurn
)

// SessionStore is the durable home of sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, userID *string, title string) (string, error)
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
	GetHistory(ctx context.Context, sessionID string) ([]models.Turn, error)
	ListUserSessions(ctx context.Context, userID string) ([]models.SessionSummary, error)
	AppendTurn(ctx context.Context, sessionID string, turn models.Turn) error
	UpdateTitle(ctx context.Context, sessionID, title string) error
	DeleteSession(ctx context.Context, sessionID string) (bool, error)
	Ping(ctx context.Context) error
	Close() error
}

// now and newSessionID are swapped in tests.
var (
	now          = func() time.Time { return time.Now().UTC() }
	newSessionID = uuid.NewString
)

// New opens the backend named by cfg.Store.Backend and, when redis is
// enabled, wraps it with the read-through session cache.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, rec *metrics.Recorder) (SessionStore, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		store SessionStore
		err   error
	)
	backend := strings.ToLower(cfg.Store.Backend)
	switch backend {
	case "sqlite", "sqlite3", "mysql":
		store, err = NewSQLStore(backend, cfg.Databases)
	case "mongo", "mongodb":
		store, err = NewMongoStore(ctx, cfg.Mongo)
	case "firestore":
		store, err = NewFirestoreStore(ctx, cfg.Firestore)
	case "memory":
		store = NewMemoryStore()
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.Store.Backend)
	}
	if err != nil {
		return nil, err
	}
	logger.Info("session store ready", zap.String("backend", backend))

	if !cfg.Redis.Enabled {
		return store, nil
	}
	rdb, err := redis.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("create redis client: %w", err)
	}
	ttl := time.Duration(cfg.Redis.TTLSeconds) * time.Second
	logger.Info("session cache enabled", zap.Duration("ttl", ttl))
	return NewCachedStore(store, rdb, ttl, logger, rec), nil
}

func titleOrDefault(title string) string {
	if strings.TrimSpace(title) == "" {
		return models.DefaultTitle
	}
	return title
}

func copyUserID(userID *string) *string {
	if userID == nil {
		return nil
	}
	v := *userID
	return &v
}

// stampTurn fills in the timestamp for turns built without one.
func stampTurn(turn models.Turn, at time.Time) models.Turn {
	if turn.Timestamp == nil {
		turn.Timestamp = &at
	}
	return turn
}
