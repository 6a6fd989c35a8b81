package storage

import (
	"context"
	"sort"
	"sync"

	"inara/internal/models"
)

// MemoryStore keeps sessions in process memory. Used for local runs and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
}

var _ SessionStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*models.Session)}
}

func (m *MemoryStore) CreateSession(ctx context.Context, userID *string, title string) (string, error) {
	ts := now()
	s := &models.Session{
		SessionID: newSessionID(),
		UserID:    copyUserID(userID),
		Title:     titleOrDefault(title),
		CreatedAt: ts,
		UpdatedAt: ts,
		History:   []models.Turn{},
	}
	m.mu.Lock()
	m.sessions[s.SessionID] = s
	m.mu.Unlock()
	return s.SessionID, nil
}

func (m *MemoryStore) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	out := s.Clone()
	if out.History == nil {
		out.History = []models.Turn{}
	}
	return out, nil
}

func (m *MemoryStore) GetHistory(ctx context.Context, sessionID string) ([]models.Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok || len(s.History) == 0 {
		return []models.Turn{}, nil
	}
	return models.CloneTurns(s.History), nil
}

func (m *MemoryStore) ListUserSessions(ctx context.Context, userID string) ([]models.SessionSummary, error) {
	m.mu.RLock()
	out := make([]models.SessionSummary, 0)
	for _, s := range m.sessions {
		if s.UserID != nil && *s.UserID == userID {
			out = append(out, s.Clone().Summary())
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if len(out) > MaxUserSessions {
		out = out[:MaxUserSessions]
	}
	return out, nil
}

func (m *MemoryStore) AppendTurn(ctx context.Context, sessionID string, turn models.Turn) error {
	if err := turn.Validate(); err != nil {
		return err
	}
	ts := now()
	turn = stampTurn(models.CloneTurns([]models.Turn{turn})[0], ts)

	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		s = &models.Session{
			SessionID: sessionID,
			Title:     models.DefaultTitle,
			CreatedAt: ts,
		}
		m.sessions[sessionID] = s
	}
	s.History = append(s.History, turn)
	s.UpdatedAt = ts
	return nil
}

func (m *MemoryStore) UpdateTitle(ctx context.Context, sessionID, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	s.Title = title
	s.UpdatedAt = now()
	return nil
}

func (m *MemoryStore) DeleteSession(ctx context.Context, sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return false, nil
	}
	delete(m.sessions, sessionID)
	return true, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }
