package storage

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"inara/internal/config"
	"inara/internal/models"
)

// MongoStore keeps one document per session with the history embedded as an array.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

var _ SessionStore = (*MongoStore)(nil)

// NewMongoStore connects to cfg.URI and ensures the session indexes exist.
func NewMongoStore(ctx context.Context, cfg config.MongoConfig) (*MongoStore, error) {
	if cfg.URI == "" {
		return nil, errors.New("mongo uri must be provided")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	database := cfg.Database
	if database == "" {
		database = "hymn-chat"
	}
	collection := cfg.Collection
	if collection == "" {
		collection = "sessions"
	}
	s := &MongoStore{client: client, coll: client.Database(database).Collection(collection)}
	if err := s.ensureIndexes(ctx); err != nil {
		client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "session_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "updated_at", Value: -1}},
		},
	})
	if err != nil {
		return fmt.Errorf("create mongo indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) CreateSession(ctx context.Context, userID *string, title string) (string, error) {
	ts := now()
	doc := models.Session{
		SessionID: newSessionID(),
		UserID:    copyUserID(userID),
		Title:     titleOrDefault(title),
		CreatedAt: ts,
		UpdatedAt: ts,
		History:   []models.Turn{},
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return doc.SessionID, nil
}

func (s *MongoStore) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	var session models.Session
	err := s.coll.FindOne(ctx, bson.M{"session_id": sessionID}).Decode(&session)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	if session.History == nil {
		session.History = []models.Turn{}
	}
	return &session, nil
}

func (s *MongoStore) GetHistory(ctx context.Context, sessionID string) ([]models.Turn, error) {
	var doc struct {
		History []models.Turn `bson:"history"`
	}
	opts := options.FindOne().SetProjection(bson.M{"_id": 0, "history": 1})
	err := s.coll.FindOne(ctx, bson.M{"session_id": sessionID}, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return []models.Turn{}, nil
		}
		return nil, fmt.Errorf("get history: %w", err)
	}
	if doc.History == nil {
		return []models.Turn{}, nil
	}
	return doc.History, nil
}

func (s *MongoStore) ListUserSessions(ctx context.Context, userID string) ([]models.SessionSummary, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"user_id": userID}}},
		{{Key: "$sort", Value: bson.D{{Key: "updated_at", Value: -1}}}},
		{{Key: "$limit", Value: MaxUserSessions}},
		{{Key: "$project", Value: bson.M{
			"_id":           0,
			"session_id":    1,
			"user_id":       1,
			"title":         1,
			"created_at":    1,
			"updated_at":    1,
			"message_count": bson.M{"$size": bson.M{"$ifNull": bson.A{"$history", bson.A{}}}},
		}}},
	}
	cur, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]models.SessionSummary, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode sessions: %w", err)
	}
	return out, nil
}

// AppendTurn pushes the turn with an upsert so the first append creates the document.
func (s *MongoStore) AppendTurn(ctx context.Context, sessionID string, turn models.Turn) error {
	if err := turn.Validate(); err != nil {
		return err
	}
	ts := now()
	turn = stampTurn(turn, ts)
	update := bson.M{
		"$push": bson.M{"history": turn},
		"$set":  bson.M{"updated_at": ts},
		"$setOnInsert": bson.M{
			"user_id":    nil,
			"title":      models.DefaultTitle,
			"created_at": ts,
		},
	}
	_, err := s.coll.UpdateOne(ctx, bson.M{"session_id": sessionID}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

func (s *MongoStore) UpdateTitle(ctx context.Context, sessionID, title string) error {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"session_id": sessionID},
		bson.M{"$set": bson.M{"title": title, "updated_at": now()}},
	)
	if err != nil {
		return fmt.Errorf("update session title: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *MongoStore) DeleteSession(ctx context.Context, sessionID string) (bool, error) {
	res, err := s.coll.DeleteOne(ctx, bson.M{"session_id": sessionID})
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	return res.DeletedCount > 0, nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *MongoStore) Close() error {
	return s.client.Disconnect(context.Background())
}
