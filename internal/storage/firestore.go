package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"inara/internal/config"
	"inara/internal/models"
)

// FirestoreStore keeps one document per session, keyed by session id. The id is
// also stored in a session_id field, matching the Mongo document shape.
// message_count is maintained alongside history so listings skip the history array.
// A Firestore document is capped at 1 MiB, which bounds how many inline images
// a single session can hold on this backend.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

var _ SessionStore = (*FirestoreStore)(nil)

type sessionDoc struct {
	SessionID    string        `firestore:"session_id"`
	UserID       *string       `firestore:"user_id"`
	Title        string        `firestore:"title"`
	CreatedAt    time.Time     `firestore:"created_at"`
	UpdatedAt    time.Time     `firestore:"updated_at"`
	History      []models.Turn `firestore:"history"`
	MessageCount int           `firestore:"message_count"`
}

// NewFirestoreStore creates a client for cfg.ProjectID. The emulator is used
// when FIRESTORE_EMULATOR_HOST is set.
func NewFirestoreStore(ctx context.Context, cfg config.FirestoreConfig) (*FirestoreStore, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("projectID is required for Firestore store")
	}
	client, err := firestore.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}
	collection := cfg.Collection
	if collection == "" {
		collection = "sessions"
	}
	return &FirestoreStore{client: client, collection: collection}, nil
}

func (s *FirestoreStore) sessionsCol() *firestore.CollectionRef {
	return s.client.Collection(s.collection)
}

func (s *FirestoreStore) sessionRef(id string) *firestore.DocumentRef {
	return s.sessionsCol().Doc(id)
}

func (s *FirestoreStore) CreateSession(ctx context.Context, userID *string, title string) (string, error) {
	ts := now()
	id := newSessionID()
	doc := newSessionDoc(id, userID, title, ts)
	if _, err := s.sessionRef(id).Create(ctx, doc); err != nil {
		return "", fmt.Errorf("firestore CreateSession: %w", err)
	}
	return id, nil
}

func (s *FirestoreStore) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	snap, err := s.sessionRef(sessionID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("firestore GetSession: %w", err)
	}
	var doc sessionDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("firestore GetSession decode: %w", err)
	}
	return doc.session(sessionID), nil
}

func (s *FirestoreStore) GetHistory(ctx context.Context, sessionID string) ([]models.Turn, error) {
	session, err := s.GetSession(ctx, sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return []models.Turn{}, nil
	}
	if err != nil {
		return nil, err
	}
	return session.History, nil
}

func (s *FirestoreStore) ListUserSessions(ctx context.Context, userID string) ([]models.SessionSummary, error) {
	iter := s.sessionsCol().
		Select("user_id", "title", "created_at", "updated_at", "message_count").
		Where("user_id", "==", userID).
		OrderBy("updated_at", firestore.Desc).
		Limit(MaxUserSessions).
		Documents(ctx)
	defer iter.Stop()

	out := make([]models.SessionSummary, 0)
	for {
		snap, err := iter.Next()
		if err != nil {
			if err == iterator.Done {
				break
			}
			return nil, fmt.Errorf("firestore ListUserSessions: %w", err)
		}
		var doc sessionDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode sessionDoc: %w", err)
		}
		out = append(out, models.SessionSummary{
			SessionID:    snap.Ref.ID,
			UserID:       doc.UserID,
			Title:        doc.Title,
			CreatedAt:    doc.CreatedAt,
			UpdatedAt:    doc.UpdatedAt,
			MessageCount: doc.MessageCount,
		})
	}
	return out, nil
}

// AppendTurn reads, appends and writes the session inside one transaction,
// creating the document when it does not exist yet.
func (s *FirestoreStore) AppendTurn(ctx context.Context, sessionID string, turn models.Turn) error {
	if err := turn.Validate(); err != nil {
		return err
	}
	ref := s.sessionRef(sessionID)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ts := now()
		stamped := stampTurn(turn, ts)

		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		var doc sessionDoc
		if snap != nil && snap.Exists() {
			if err := snap.DataTo(&doc); err != nil {
				return err
			}
		} else {
			doc = newSessionDoc(sessionID, nil, "", ts)
		}
		doc.SessionID = sessionID
		doc.History = append(doc.History, stamped)
		doc.MessageCount = len(doc.History)
		doc.UpdatedAt = ts
		return tx.Set(ref, doc)
	})
	if err != nil {
		return fmt.Errorf("firestore AppendTurn: %w", err)
	}
	return nil
}

func (s *FirestoreStore) UpdateTitle(ctx context.Context, sessionID, title string) error {
	_, err := s.sessionRef(sessionID).Update(ctx, []firestore.Update{
		{Path: "title", Value: title},
		{Path: "updated_at", Value: now()},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return ErrSessionNotFound
		}
		return fmt.Errorf("firestore UpdateTitle: %w", err)
	}
	return nil
}

func (s *FirestoreStore) DeleteSession(ctx context.Context, sessionID string) (bool, error) {
	ref := s.sessionRef(sessionID)
	var existed bool
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		existed = false
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return nil
			}
			return err
		}
		existed = snap.Exists()
		return tx.Delete(ref)
	})
	if err != nil {
		return false, fmt.Errorf("firestore DeleteSession: %w", err)
	}
	return existed, nil
}

func (s *FirestoreStore) Ping(ctx context.Context) error {
	iter := s.sessionsCol().Limit(1).Documents(ctx)
	defer iter.Stop()
	if _, err := iter.Next(); err != nil && err != iterator.Done {
		return err
	}
	return nil
}

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

func newSessionDoc(id string, userID *string, title string, ts time.Time) sessionDoc {
	return sessionDoc{
		SessionID: id,
		UserID:    copyUserID(userID),
		Title:     titleOrDefault(title),
		CreatedAt: ts,
		UpdatedAt: ts,
		History:   []models.Turn{},
	}
}

// session builds the model from the document. The document id wins over the
// session_id field, which older documents may lack.
func (d sessionDoc) session(id string) *models.Session {
	history := d.History
	if history == nil {
		history = []models.Turn{}
	}
	return &models.Session{
		SessionID: id,
		UserID:    d.UserID,
		Title:     d.Title,
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
		History:   history,
	}
}
