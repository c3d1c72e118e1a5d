// Package sqlite implements the stores on an embedded SQLite database for
// standalone mode. Timestamps are stored as unix nanoseconds so recency
// ordering is a plain integer comparison.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/neverbot/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS servers (
    id               TEXT PRIMARY KEY,
    server_id        TEXT NOT NULL UNIQUE,
    name             TEXT NOT NULL DEFAULT 'N/A',
    enabled_channels TEXT NOT NULL DEFAULT '[]',
    created_at       INTEGER NOT NULL,
    updated_at       INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS channel_conversations (
    server_id       TEXT NOT NULL,
    channel_id      TEXT NOT NULL,
    conversation_id TEXT NOT NULL,
    updated_at      INTEGER NOT NULL,
    PRIMARY KEY (server_id, channel_id)
);

CREATE INDEX IF NOT EXISTS idx_channel_conversations_recency
    ON channel_conversations (server_id, updated_at DESC);

CREATE TABLE IF NOT EXISTS users (
    id                  TEXT PRIMARY KEY,
    user_id             TEXT NOT NULL,
    server_id           TEXT NOT NULL DEFAULT '',
    username            TEXT NOT NULL DEFAULT '',
    personality_summary TEXT NOT NULL DEFAULT '',
    message_count       INTEGER NOT NULL DEFAULT 0,
    last_seen_at        INTEGER NOT NULL DEFAULT 0,
    created_at          INTEGER NOT NULL,
    UNIQUE (user_id, server_id)
);

CREATE INDEX IF NOT EXISTS idx_users_last_seen ON users (last_seen_at DESC);

CREATE TABLE IF NOT EXISTS user_messages (
    seq        INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id    TEXT NOT NULL,
    server_id  TEXT NOT NULL DEFAULT '',
    content    TEXT NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_user_messages_user
    ON user_messages (user_id, server_id, seq DESC);
`

// OpenDB opens (creating if needed) the database at path and applies the schema.
// Use ":memory:" for an ephemeral database.
func OpenDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer; also keeps ":memory:" databases on a single connection.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return db, nil
}

// NewSQLiteStores creates all stores backed by SQLite (standalone mode).
func NewSQLiteStores(cfg store.StoreConfig) (*store.Stores, error) {
	path := cfg.SQLitePath
	if path == "" {
		path = "neverbot.db"
	}
	db, err := OpenDB(path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return store.NewStores(NewServerStore(db), NewUserStore(db), db), nil
}

func toNanos(t time.Time) int64 { return t.UnixNano() }

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
