package models

import "time"

// DefaultTitle is the placeholder title a session carries until one is generated.
const DefaultTitle = "New Chat"

// Session is one conversation thread together with its ordered history.
type Session struct {
	SessionID string    `json:"session_id" bson:"session_id" firestore:"session_id"`
	UserID    *string   `json:"user_id" bson:"user_id" firestore:"user_id"`
	Title     string    `json:"title" bson:"title" firestore:"title"`
	CreatedAt time.Time `json:"created_at" bson:"created_at" firestore:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at" firestore:"updated_at"`
	History   []Turn    `json:"history" bson:"history" firestore:"history"`
}

// SessionSummary is the list view of a session: metadata plus message count, no history.
type SessionSummary struct {
	SessionID    string    `json:"session_id" bson:"session_id"`
	UserID       *string   `json:"user_id" bson:"user_id"`
	Title        string    `json:"title" bson:"title"`
	CreatedAt    time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" bson:"updated_at"`
	MessageCount int       `json:"message_count" bson:"message_count"`
}

// Summary projects the session into its list view.
func (s *Session) Summary() SessionSummary {
	return SessionSummary{
		SessionID:    s.SessionID,
		UserID:       s.UserID,
		Title:        s.Title,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
		MessageCount: len(s.History),
	}
}

// Clone returns a deep copy so callers can't mutate cached or stored state.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.UserID != nil {
		uid := *s.UserID
		out.UserID = &uid
	}
	out.History = CloneTurns(s.History)
	return &out
}
