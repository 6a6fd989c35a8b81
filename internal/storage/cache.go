package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"inara/internal/metrics"
	"inara/internal/models"
	"inara/internal/redis"
)

const defaultCacheTTL = 5 * time.Minute

// CachedStore is a read-through redis cache in front of another SessionStore.
// Only whole sessions are cached; every mutation drops the cached entry.
//
// A read that misses, loads an old copy, and writes it back after a concurrent
// mutation has invalidated the key leaves that copy cached until the TTL expires.
type CachedStore struct {
	SessionStore

	client  *redis.Client
	ttl     time.Duration
	logger  *zap.Logger
	metrics *metrics.Recorder
	group   singleflight.Group
}

var _ SessionStore = (*CachedStore)(nil)

// NewCachedStore wraps inner. A non-positive ttl falls back to five minutes.
func NewCachedStore(inner SessionStore, client *redis.Client, ttl time.Duration, logger *zap.Logger, rec *metrics.Recorder) *CachedStore {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedStore{
		SessionStore: inner,
		client:       client,
		ttl:          ttl,
		logger:       logger,
		metrics:      rec,
	}
}

func sessionKey(id string) string {
	return "inara:session:" + id
}

func (c *CachedStore) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	if session, ok := c.load(ctx, sessionID); ok {
		c.metrics.CacheLookup(true)
		return session, nil
	}
	c.metrics.CacheLookup(false)

	v, err, _ := c.group.Do(sessionID, func() (interface{}, error) {
		session, err := c.SessionStore.GetSession(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		c.store(ctx, session)
		return session, nil
	})
	if err != nil {
		return nil, err
	}
	// callers sharing a flight must not share the pointer
	return v.(*models.Session).Clone(), nil
}

func (c *CachedStore) GetHistory(ctx context.Context, sessionID string) ([]models.Turn, error) {
	session, err := c.GetSession(ctx, sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return []models.Turn{}, nil
	}
	if err != nil {
		return nil, err
	}
	return session.History, nil
}

func (c *CachedStore) AppendTurn(ctx context.Context, sessionID string, turn models.Turn) error {
	defer c.invalidate(ctx, sessionID)
	return c.SessionStore.AppendTurn(ctx, sessionID, turn)
}

func (c *CachedStore) UpdateTitle(ctx context.Context, sessionID, title string) error {
	defer c.invalidate(ctx, sessionID)
	return c.SessionStore.UpdateTitle(ctx, sessionID, title)
}

func (c *CachedStore) DeleteSession(ctx context.Context, sessionID string) (bool, error) {
	defer c.invalidate(ctx, sessionID)
	return c.SessionStore.DeleteSession(ctx, sessionID)
}

func (c *CachedStore) Ping(ctx context.Context) error {
	if err := c.SessionStore.Ping(ctx); err != nil {
		return err
	}
	return c.client.Ping(ctx)
}

func (c *CachedStore) Close() error {
	innerErr := c.SessionStore.Close()
	if err := c.client.Close(); err != nil && innerErr == nil {
		return fmt.Errorf("close redis: %w", err)
	}
	return innerErr
}

func (c *CachedStore) load(ctx context.Context, sessionID string) (*models.Session, bool) {
	raw, err := c.client.Get(ctx, sessionKey(sessionID))
	if err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			c.logger.Warn("session cache read failed", zap.String("session_id", sessionID), zap.Error(err))
		}
		return nil, false
	}
	var session models.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		c.logger.Warn("session cache decode failed", zap.String("session_id", sessionID), zap.Error(err))
		return nil, false
	}
	if session.History == nil {
		session.History = []models.Turn{}
	}
	return &session, true
}

func (c *CachedStore) store(ctx context.Context, session *models.Session) {
	data, err := json.Marshal(session)
	if err != nil {
		c.logger.Warn("session cache encode failed", zap.String("session_id", session.SessionID), zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, sessionKey(session.SessionID), data, c.ttl); err != nil {
		c.logger.Warn("session cache write failed", zap.String("session_id", session.SessionID), zap.Error(err))
	}
}

func (c *CachedStore) invalidate(ctx context.Context, sessionID string) {
	if err := c.client.Del(context.WithoutCancel(ctx), sessionKey(sessionID)); err != nil {
		c.logger.Warn("session cache invalidate failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}
