package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"inara/internal/config"
	"inara/internal/models"
)

// SQLStore keeps sessions in a relational database: one row per session and
// one row per turn, with the turn parts stored as a JSON column.
type SQLStore struct {
	db     *sql.DB
	driver string
}

var _ SessionStore = (*SQLStore)(nil)

// NewSQLStore opens and migrates the configured database.
func NewSQLStore(driver string, cfg config.DatabasesConfig) (*SQLStore, error) {
	db, err := OpenDB(driver, cfg)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db, driver); err != nil {
		db.Close()
		return nil, err
	}
	return NewSQLStoreFromDB(db, driver), nil
}

// NewSQLStoreFromDB wraps an already migrated handle.
func NewSQLStoreFromDB(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{db: db, driver: strings.ToLower(driver)}
}

func (s *SQLStore) insertIgnore() string {
	if s.driver == "mysql" {
		return "INSERT IGNORE"
	}
	return "INSERT OR IGNORE"
}

// CreateSession inserts a new session and returns its id.
func (s *SQLStore) CreateSession(ctx context.Context, userID *string, title string) (string, error) {
	id := newSessionID()
	ts := now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, user_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, nullString(userID), titleOrDefault(title), ts, ts,
	)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return id, nil
}

// GetSession returns one session with its ordered history.
func (s *SQLStore) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	var (
		session models.Session
		userID  sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, user_id, title, created_at, updated_at FROM sessions WHERE session_id = ?`,
		sessionID,
	).Scan(&session.SessionID, &userID, &session.Title, &session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	if userID.Valid {
		session.UserID = &userID.String
	}
	session.CreatedAt = session.CreatedAt.UTC()
	session.UpdatedAt = session.UpdatedAt.UTC()

	history, err := s.GetHistory(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	session.History = history
	return &session, nil
}

// GetHistory returns the turns of a session in append order.
func (s *SQLStore) GetHistory(ctx context.Context, sessionID string) ([]models.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, parts, created_at FROM turns WHERE session_id = ? ORDER BY id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()

	history := make([]models.Turn, 0)
	for rows.Next() {
		var (
			turn  models.Turn
			parts string
			at    sql.NullTime
		)
		if err := rows.Scan(&turn.Role, &parts, &at); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		if err := json.Unmarshal([]byte(parts), &turn.Parts); err != nil {
			return nil, fmt.Errorf("decode turn parts: %w", err)
		}
		if at.Valid {
			ts := at.Time.UTC()
			turn.Timestamp = &ts
		}
		history = append(history, turn)
	}
	return history, rows.Err()
}

// ListUserSessions returns the user's sessions ordered by last activity.
func (s *SQLStore) ListUserSessions(ctx context.Context, userID string) ([]models.SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.session_id, s.user_id, s.title, s.created_at, s.updated_at,
			(SELECT COUNT(*) FROM turns t WHERE t.session_id = s.session_id)
		FROM sessions s WHERE s.user_id = ? ORDER BY s.updated_at DESC LIMIT ?`,
		userID, MaxUserSessions,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	out := make([]models.SessionSummary, 0)
	for rows.Next() {
		var (
			sum models.SessionSummary
			uid sql.NullString
		)
		if err := rows.Scan(&sum.SessionID, &uid, &sum.Title, &sum.CreatedAt, &sum.UpdatedAt, &sum.MessageCount); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if uid.Valid {
			sum.UserID = &uid.String
		}
		sum.CreatedAt = sum.CreatedAt.UTC()
		sum.UpdatedAt = sum.UpdatedAt.UTC()
		out = append(out, sum)
	}
	return out, rows.Err()
}

// AppendTurn adds a turn and refreshes updated_at in one transaction,
// creating the session row first when it does not exist.
func (s *SQLStore) AppendTurn(ctx context.Context, sessionID string, turn models.Turn) (err error) {
	if err := turn.Validate(); err != nil {
		return err
	}
	parts, err := json.Marshal(turn.Parts)
	if err != nil {
		return fmt.Errorf("encode turn parts: %w", err)
	}
	ts := now()
	turn = stampTurn(turn, ts)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		s.insertIgnore()+` INTO sessions (session_id, user_id, title, created_at, updated_at) VALUES (?, NULL, ?, ?, ?)`,
		sessionID, models.DefaultTitle, ts, ts,
	); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO turns (session_id, role, parts, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, string(turn.Role), string(parts), turn.Timestamp.UTC(),
	); err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE session_id = ?`, ts, sessionID); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit append turn: %w", err)
	}
	return nil
}

// UpdateTitle sets the session title and refreshes updated_at.
func (s *SQLStore) UpdateTitle(ctx context.Context, sessionID, title string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var exists int
	if err = tx.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE session_id = ?`, sessionID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("lookup session: %w", err)
	}
	if _, err = tx.ExecContext(ctx,
		`UPDATE sessions SET title = ?, updated_at = ? WHERE session_id = ?`,
		title, now(), sessionID,
	); err != nil {
		return fmt.Errorf("update session title: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit update title: %w", err)
	}
	return nil
}

// DeleteSession removes a session and its turns, reporting whether it existed.
func (s *SQLStore) DeleteSession(ctx context.Context, sessionID string) (deleted bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM turns WHERE session_id = ?`, sessionID); err != nil {
		return false, fmt.Errorf("delete turns: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID)
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("session rows affected: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("commit delete session: %w", err)
	}
	return affected > 0, nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}
