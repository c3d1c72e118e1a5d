package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ServerData is the persisted configuration of one chat server (guild).
type ServerData struct {
	ID       uuid.UUID `json:"id"`
	ServerID string    `json:"server_id"` // platform guild id
	Name     string    `json:"name"`
	// EnabledChannels is the channel allow-list. Empty means every channel is enabled.
	EnabledChannels []string  `json:"enabled_channels"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ChannelConversation is the durable conversation handle of one channel.
type ChannelConversation struct {
	ChannelID      string    `json:"channel_id"`
	ConversationID string    `json:"conversation_id"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ServerStore persists per-server configuration and per-channel
// conversation handles. Channel handles are stored one row per
// (server, channel), so every write touches a single channel and never
// clobbers its neighbours.
type ServerStore interface {
	FindOrCreate(ctx context.Context, serverID, name string) (*ServerData, error)
	GetEnabledChannels(ctx context.Context, serverID string) ([]string, error)
	SetEnabledChannels(ctx context.Context, serverID string, channels []string) error

	// GetChannelConversationID returns "" when the channel has no handle.
	GetChannelConversationID(ctx context.Context, serverID, channelID string) (string, error)
	// SetChannelConversationID upserts the handle; an empty id deletes it.
	SetChannelConversationID(ctx context.Context, serverID, channelID, conversationID string) error
	ListChannelConversations(ctx context.Context, serverID string) ([]ChannelConversation, error)

	// PruneStale removes handles older than maxAge, then keeps only the
	// maxEntries most recently updated. A non-positive value disables the
	// corresponding step. Returns the number of rows removed.
	PruneStale(ctx context.Context, serverID string, maxAge time.Duration, maxEntries int) (int, error)

	// Ping verifies the backing database is reachable.
	Ping(ctx context.Context) error
}

// PruneCutoff returns the oldest updated_at that survives age pruning.
func PruneCutoff(now time.Time, maxAge time.Duration) time.Time {
	return now.Add(-maxAge)
}
