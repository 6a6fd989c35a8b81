package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/go-sql-driver/mysql"

	"inara/internal/config"
	"inara/internal/models"
)

func newTestSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("enable foreign keys: %v", err)
	}
	if err := Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewSQLStoreFromDB(db, "sqlite3")
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) SessionStore {
		return newTestSQLiteStore(t)
	})
}

func TestSQLiteStoreFromConfigFile(t *testing.T) {
	dsn := t.TempDir() + "/inara.db"
	store, err := NewSQLStore("sqlite3", config.DatabasesConfig{SQLite3: config.SQLiteConfig{DSN: dsn}})
	if err != nil {
		t.Fatalf("new sql store: %v", err)
	}
	ctx := context.Background()
	id, err := store.CreateSession(ctx, nil, "")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := store.AppendTurn(ctx, id, textTurn(models.RoleUser, "persist me")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewSQLStore("sqlite3", config.DatabasesConfig{SQLite3: config.SQLiteConfig{DSN: dsn}})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	history, err := reopened.GetHistory(ctx, id)
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if len(history) != 1 || history[0].Text() != "persist me" {
		t.Fatalf("unexpected history after reopen: %+v", history)
	}
}

func TestSQLStoreDeleteRemovesTurns(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()
	id, err := store.CreateSession(ctx, nil, "")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := store.AppendTurn(ctx, id, textTurn(models.RoleUser, fmt.Sprintf("turn %d", i))); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if _, err := store.DeleteSession(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	var n int
	if err := store.db.QueryRow(`SELECT COUNT(*) FROM turns WHERE session_id = ?`, id).Scan(&n); err != nil {
		t.Fatalf("count turns: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected turns removed, got %d", n)
	}
}

func TestOpenDBRejectsUnknownDriver(t *testing.T) {
	if _, err := OpenDB("postgres", config.DatabasesConfig{}); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
	if err := Migrate(nil, "postgres"); err == nil {
		t.Fatalf("expected migrate error for unsupported driver")
	}
}

func TestMySQLStore(t *testing.T) {
	dsn := os.Getenv("TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("set TEST_MYSQL_DSN to run mysql-backed store tests")
	}
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		t.Fatalf("parse dsn: %v", err)
	}
	host, port := parsed.Addr, 3306
	if i := strings.LastIndex(parsed.Addr, ":"); i >= 0 {
		host = parsed.Addr[:i]
		fmt.Sscanf(parsed.Addr[i+1:], "%d", &port)
	}
	cfg := config.DatabasesConfig{MySQL: config.MySQLConfig{
		Host:     host,
		Port:     port,
		Username: parsed.User,
		Password: parsed.Passwd,
		DBName:   parsed.DBName,
		Params:   "parseTime=true&charset=utf8mb4",
	}}
	runStoreSuite(t, func(t *testing.T) SessionStore {
		store, err := NewSQLStore("mysql", cfg)
		if err != nil {
			t.Fatalf("mysql store: %v", err)
		}
		t.Cleanup(func() {
			store.db.Exec(`DELETE FROM turns`)
			store.db.Exec(`DELETE FROM sessions`)
			store.Close()
		})
		return store
	})
}
