package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/neverbot/internal/store"
)

const userColumns = `id, user_id, server_id, username, personality_summary, message_count, last_seen_at, created_at`

// UserStore implements store.UserStore on SQLite.
type UserStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db, now: time.Now}
}

// SetClock overrides the time source. Used by tests.
func (s *UserStore) SetClock(now func() time.Time) { s.now = now }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*store.UserData, error) {
	var u store.UserData
	var id string
	var lastSeen, created int64
	if err := row.Scan(&id, &u.UserID, &u.ServerID, &u.Username, &u.PersonalitySummary, &u.MessageCount, &lastSeen, &created); err != nil {
		return nil, err
	}
	u.ID, _ = uuid.Parse(id)
	u.LastSeenAt = fromNanos(lastSeen)
	u.CreatedAt = fromNanos(created)
	return &u, nil
}

func (s *UserStore) FindOrCreate(ctx context.Context, userID, serverID, username string) (*store.UserData, error) {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, user_id, server_id, username, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, server_id) DO UPDATE
		 SET username = CASE WHEN excluded.username <> '' THEN excluded.username ELSE users.username END`,
		store.GenNewID().String(), userID, serverID, username, toNanos(s.now()),
	); err != nil {
		return nil, fmt.Errorf("find or create user %s: %w", userID, err)
	}

	u, err := s.Get(ctx, userID, serverID)
	if err == nil && u == nil {
		err = sql.ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", userID, err)
	}
	return u, nil
}

func (s *UserStore) Get(ctx context.Context, userID, serverID string) (*store.UserData, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE user_id = ? AND server_id = ?`, userID, serverID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", userID, err)
	}
	return u, nil
}

func (s *UserStore) Touch(ctx context.Context, userID, serverID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET message_count = message_count + 1, last_seen_at = ?
		 WHERE user_id = ? AND server_id = ?`,
		toNanos(s.now()), userID, serverID)
	if err != nil {
		return fmt.Errorf("touch user: %w", err)
	}
	return nil
}

func (s *UserStore) SetPersonalitySummary(ctx context.Context, userID, serverID, summary string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET personality_summary = ? WHERE user_id = ? AND server_id = ?`,
		summary, userID, serverID)
	if err != nil {
		return fmt.Errorf("set personality summary: %w", err)
	}
	return nil
}

func (s *UserStore) RecordMessage(ctx context.Context, userID, serverID, content string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record message: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO user_messages (user_id, server_id, content, created_at) VALUES (?, ?, ?, ?)`,
		userID, serverID, content, toNanos(s.now())); err != nil {
		return fmt.Errorf("record message: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM user_messages
		 WHERE user_id = ? AND server_id = ? AND seq NOT IN (
		     SELECT seq FROM user_messages WHERE user_id = ? AND server_id = ?
		     ORDER BY seq DESC LIMIT ?)`,
		userID, serverID, userID, serverID, store.MaxRecentMessages); err != nil {
		return fmt.Errorf("prune messages: %w", err)
	}
	return tx.Commit()
}

func (s *UserStore) RecentMessages(ctx context.Context, userID, serverID string, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT content FROM (
		     SELECT seq, content FROM user_messages WHERE user_id = ? AND server_id = ?
		     ORDER BY seq DESC LIMIT ?)
		 ORDER BY seq ASC`,
		userID, serverID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *UserStore) ListActive(ctx context.Context, since time.Time, limit int) ([]store.UserData, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE message_count > 0 AND last_seen_at >= ?
		 ORDER BY last_seen_at DESC LIMIT ?`,
		toNanos(since), limit)
	if err != nil {
		return nil, fmt.Errorf("list active users: %w", err)
	}
	defer rows.Close()

	var out []store.UserData
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

var (
	_ store.UserStore   = (*UserStore)(nil)
	_ store.ServerStore = (*ServerStore)(nil)
)
