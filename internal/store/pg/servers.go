package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/nextlevelbuilder/neverbot/internal/store"
)

// PGServerStore implements store.ServerStore backed by Postgres.
type PGServerStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewPGServerStore(db *sql.DB) *PGServerStore {
	return &PGServerStore{db: db, now: time.Now}
}

func (s *PGServerStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PGServerStore) FindOrCreate(ctx context.Context, serverID, name string) (*store.ServerData, error) {
	if name == "" {
		name = "N/A"
	}
	now := s.now()

	var srv store.ServerData
	var channels []string
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO servers (id, server_id, name, enabled_channels, created_at, updated_at)
		 VALUES ($1, $2, $3, '{}', $4, $4)
		 ON CONFLICT (server_id) DO UPDATE SET server_id = EXCLUDED.server_id
		 RETURNING id, server_id, name, enabled_channels, created_at, updated_at`,
		store.GenNewID(), serverID, name, now,
	).Scan(&srv.ID, &srv.ServerID, &srv.Name, pq.Array(&channels), &srv.CreatedAt, &srv.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("find or create server %s: %w", serverID, err)
	}
	srv.EnabledChannels = channels
	return &srv, nil
}

func (s *PGServerStore) GetEnabledChannels(ctx context.Context, serverID string) ([]string, error) {
	var channels []string
	err := s.db.QueryRowContext(ctx,
		`SELECT enabled_channels FROM servers WHERE server_id = $1`, serverID,
	).Scan(pq.Array(&channels))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get enabled channels: %w", err)
	}
	return channels, nil
}

func (s *PGServerStore) SetEnabledChannels(ctx context.Context, serverID string, channels []string) error {
	if channels == nil {
		channels = []string{}
	}
	now := s.now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO servers (id, server_id, name, enabled_channels, created_at, updated_at)
		 VALUES ($1, $2, 'N/A', $3, $4, $4)
		 ON CONFLICT (server_id) DO UPDATE
		 SET enabled_channels = EXCLUDED.enabled_channels, updated_at = EXCLUDED.updated_at`,
		store.GenNewID(), serverID, pq.Array(channels), now,
	)
	if err != nil {
		return fmt.Errorf("set enabled channels: %w", err)
	}
	return nil
}

func (s *PGServerStore) GetChannelConversationID(ctx context.Context, serverID, channelID string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT conversation_id FROM channel_conversations WHERE server_id = $1 AND channel_id = $2`,
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

func (s *PGServerStore) SetChannelConversationID(ctx context.Context, serverID, channelID, conversationID string) error {
	if conversationID == "" {
		_, err := s.db.ExecContext(ctx,
			`DELETE FROM channel_conversations WHERE server_id = $1 AND channel_id = $2`,
			serverID, channelID)
		if err != nil {
			return fmt.Errorf("clear channel conversation: %w", err)
		}
		return nil
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO channel_conversations (server_id, channel_id, conversation_id, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (server_id, channel_id) DO UPDATE
		 SET conversation_id = EXCLUDED.conversation_id, updated_at = EXCLUDED.updated_at`,
		serverID, channelID, conversationID, s.now(),
	)
	if err != nil {
		return fmt.Errorf("set channel conversation: %w", err)
	}
	return nil
}

func (s *PGServerStore) ListChannelConversations(ctx context.Context, serverID string) ([]store.ChannelConversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT channel_id, conversation_id, updated_at FROM channel_conversations
		 WHERE server_id = $1 ORDER BY updated_at DESC, channel_id`, serverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []store.ChannelConversation
	for rows.Next() {
		var c store.ChannelConversation
		if err := rows.Scan(&c.ChannelID, &c.ConversationID, &c.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (s *PGServerStore) PruneStale(ctx context.Context, serverID string, maxAge time.Duration, maxEntries int) (int, error) {
	removed := 0

	if maxAge > 0 {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM channel_conversations WHERE server_id = $1 AND updated_at < $2`,
			serverID, store.PruneCutoff(s.now(), maxAge))
		if err != nil {
			return removed, fmt.Errorf("prune expired conversations: %w", err)
		}
		n, _ := res.RowsAffected()
		removed += int(n)
	}

	if maxEntries > 0 {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM channel_conversations
			 WHERE server_id = $1 AND channel_id NOT IN (
			   SELECT channel_id FROM channel_conversations
			   WHERE server_id = $1
			   ORDER BY updated_at DESC, channel_id
			   LIMIT $2)`,
			serverID, maxEntries)
		if err != nil {
			return removed, fmt.Errorf("prune excess conversations: %w", err)
		}
		n, _ := res.RowsAffected()
		removed += int(n)
	}

	return removed, nil
}
