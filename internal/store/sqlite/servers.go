package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/neverbot/internal/store"
)

// ServerStore implements store.ServerStore on SQLite.
type ServerStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewServerStore(db *sql.DB) *ServerStore {
	return &ServerStore{db: db, now: time.Now}
}

// SetClock overrides the time source. Used by tests.
func (s *ServerStore) SetClock(now func() time.Time) { s.now = now }

func (s *ServerStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *ServerStore) FindOrCreate(ctx context.Context, serverID, name string) (*store.ServerData, error) {
	if name == "" {
		name = "N/A"
	}
	now := toNanos(s.now())
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO servers (id, server_id, name, enabled_channels, created_at, updated_at)
		 VALUES (?, ?, ?, '[]', ?, ?)
		 ON CONFLICT (server_id) DO NOTHING`,
		store.GenNewID().String(), serverID, name, now, now,
	); err != nil {
		return nil, fmt.Errorf("find or create server %s: %w", serverID, err)
	}

	var srv store.ServerData
	var id, channels string
	var created, updated int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, server_id, name, enabled_channels, created_at, updated_at FROM servers WHERE server_id = ?`,
		serverID,
	).Scan(&id, &srv.ServerID, &srv.Name, &channels, &created, &updated)
	if err != nil {
		return nil, fmt.Errorf("load server %s: %w", serverID, err)
	}
	srv.ID, _ = uuid.Parse(id)
	srv.CreatedAt = fromNanos(created)
	srv.UpdatedAt = fromNanos(updated)
	if err := json.Unmarshal([]byte(channels), &srv.EnabledChannels); err != nil {
		return nil, fmt.Errorf("decode enabled channels: %w", err)
	}
	return &srv, nil
}

func (s *ServerStore) GetEnabledChannels(ctx context.Context, serverID string) ([]string, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT enabled_channels FROM servers WHERE server_id = ?`, serverID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get enabled channels: %w", err)
	}
	var channels []string
	if err := json.Unmarshal([]byte(raw), &channels); err != nil {
		return nil, fmt.Errorf("decode enabled channels: %w", err)
	}
	return channels, nil
}

func (s *ServerStore) SetEnabledChannels(ctx context.Context, serverID string, channels []string) error {
	if channels == nil {
		channels = []string{}
	}
	raw, err := json.Marshal(channels)
	if err != nil {
		return err
	}
	now := toNanos(s.now())
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO servers (id, server_id, name, enabled_channels, created_at, updated_at)
		 VALUES (?, ?, 'N/A', ?, ?, ?)
		 ON CONFLICT (server_id) DO UPDATE
		 SET enabled_channels = excluded.enabled_channels, updated_at = excluded.updated_at`,
		store.GenNewID().String(), serverID, string(raw), now, now,
	)
	if err != nil {
		return fmt.Errorf("set enabled channels: %w", err)
	}
	return nil
}

func (s *ServerStore) GetChannelConversationID(ctx context.Context, serverID, channelID string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT conversation_id FROM channel_conversations WHERE server_id = ? AND channel_id = ?`,
		serverID, channelID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get channel conversation: %w", err)
	}
	return id, nil
}

func (s *ServerStore) SetChannelConversationID(ctx context.Context, serverID, channelID, conversationID string) error {
	if conversationID == "" {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM channel_conversations WHERE server_id = ? AND channel_id = ?`,
			serverID, channelID); err != nil {
			return fmt.Errorf("clear channel conversation: %w", err)
		}
		return nil
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO channel_conversations (server_id, channel_id, conversation_id, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (server_id, channel_id) DO UPDATE
		 SET conversation_id = excluded.conversation_id, updated_at = excluded.updated_at`,
		serverID, channelID, conversationID, toNanos(s.now()),
	)
	if err != nil {
		return fmt.Errorf("set channel conversation: %w", err)
	}
	return nil
}

func (s *ServerStore) ListChannelConversations(ctx context.Context, serverID string) ([]store.ChannelConversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT channel_id, conversation_id, updated_at FROM channel_conversations
		 WHERE server_id = ? ORDER BY updated_at DESC, channel_id`, serverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []store.ChannelConversation
	for rows.Next() {
		var c store.ChannelConversation
		var updated int64
		if err := rows.Scan(&c.ChannelID, &c.ConversationID, &updated); err != nil {
			return nil, err
		}
		c.UpdatedAt = fromNanos(updated)
		result = append(result, c)
	}
	return result, rows.Err()
}

func (s *ServerStore) PruneStale(ctx context.Context, serverID string, maxAge time.Duration, maxEntries int) (int, error) {
	removed := 0

	if maxAge > 0 {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM channel_conversations WHERE server_id = ? AND updated_at < ?`,
			serverID, toNanos(store.PruneCutoff(s.now(), maxAge)))
		if err != nil {
			return removed, fmt.Errorf("prune expired conversations: %w", err)
		}
		n, _ := res.RowsAffected()
		removed += int(n)
	}

	if maxEntries > 0 {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM channel_conversations
			 WHERE server_id = ? AND channel_id NOT IN (
			   SELECT channel_id FROM channel_conversations
			   WHERE server_id = ?
			   ORDER BY updated_at DESC, channel_id
			   LIMIT ?)`,
			serverID, serverID, maxEntries)
		if err != nil {
			return removed, fmt.Errorf("prune excess conversations: %w", err)
		}
		n, _ := res.RowsAffected()
		removed += int(n)
	}

	return removed, nil
}
