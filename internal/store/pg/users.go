package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/neverbot/internal/store"
)

const userColumns = `id, user_id, server_id, username, personality_summary, message_count, last_seen_at, created_at`

// PGUserStore implements store.UserStore backed by Postgres.
type PGUserStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewPGUserStore(db *sql.DB) *PGUserStore {
	return &PGUserStore{db: db, now: time.Now}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*store.UserData, error) {
	var u store.UserData
	var lastSeen *time.Time
	if err := row.Scan(&u.ID, &u.UserID, &u.ServerID, &u.Username, &u.PersonalitySummary, &u.MessageCount, &lastSeen, &u.CreatedAt); err != nil {
		return nil, err
	}
	if lastSeen != nil {
		u.LastSeenAt = *lastSeen
	}
	return &u, nil
}

func (s *PGUserStore) FindOrCreate(ctx context.Context, userID, serverID, username string) (*store.UserData, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx,
		`INSERT INTO users (id, user_id, server_id, username, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id, server_id) DO UPDATE
		 SET username = CASE WHEN EXCLUDED.username <> '' THEN EXCLUDED.username ELSE users.username END
		 RETURNING `+userColumns,
		store.GenNewID(), userID, serverID, username, s.now(),
	))
	if err != nil {
		return nil, fmt.Errorf("find or create user %s: %w", userID, err)
	}
	return u, nil
}

func (s *PGUserStore) Get(ctx context.Context, userID, serverID string) (*store.UserData, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE user_id = $1 AND server_id = $2`, userID, serverID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", userID, err)
	}
	return u, nil
}

func (s *PGUserStore) Touch(ctx context.Context, userID, serverID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET message_count = message_count + 1, last_seen_at = $3
		 WHERE user_id = $1 AND server_id = $2`,
		userID, serverID, s.now())
	if err != nil {
		return fmt.Errorf("touch user: %w", err)
	}
	return nil
}

func (s *PGUserStore) SetPersonalitySummary(ctx context.Context, userID, serverID, summary string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET personality_summary = $3 WHERE user_id = $1 AND server_id = $2`,
		userID, serverID, summary)
	if err != nil {
		return fmt.Errorf("set personality summary: %w", err)
	}
	return nil
}

func (s *PGUserStore) RecordMessage(ctx context.Context, userID, serverID, content string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record message: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO user_messages (user_id, server_id, content, created_at) VALUES ($1, $2, $3, $4)`,
		userID, serverID, content, s.now()); err != nil {
		return fmt.Errorf("record message: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM user_messages
		 WHERE user_id = $1 AND server_id = $2 AND seq < (
		     SELECT MIN(seq) FROM (
		         SELECT seq FROM user_messages WHERE user_id = $1 AND server_id = $2
		         ORDER BY seq DESC LIMIT $3) newest)`,
		userID, serverID, store.MaxRecentMessages); err != nil {
		return fmt.Errorf("prune messages: %w", err)
	}
	return tx.Commit()
}

func (s *PGUserStore) RecentMessages(ctx context.Context, userID, serverID string, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT content FROM (
		     SELECT seq, content FROM user_messages WHERE user_id = $1 AND server_id = $2
		     ORDER BY seq DESC LIMIT $3) newest
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

func (s *PGUserStore) ListActive(ctx context.Context, since time.Time, limit int) ([]store.UserData, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE message_count > 0 AND last_seen_at >= $1
		 ORDER BY last_seen_at DESC LIMIT $2`,
		since, limit)
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

var _ store.UserStore = (*PGUserStore)(nil)
