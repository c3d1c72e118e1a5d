package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// UserData is the persisted profile of one actor within one server.
// DMs use an empty ServerID.
type UserData struct {
	ID       uuid.UUID `json:"id"`
	UserID   string    `json:"user_id"`
	ServerID string    `json:"server_id"`
	Username string    `json:"username"`
	// PersonalitySummary is an optional free-text insight woven into prompts.
	PersonalitySummary string    `json:"personality_summary,omitempty"`
	MessageCount       int64     `json:"message_count"`
	LastSeenAt         time.Time `json:"last_seen_at"`
	CreatedAt          time.Time `json:"created_at"`
}

// MaxRecentMessages is how many message texts are kept per user as samples
// for the personality summary.
const MaxRecentMessages = 50

// UserStore manages actor profiles.
type UserStore interface {
	FindOrCreate(ctx context.Context, userID, serverID, username string) (*UserData, error)
	// Get returns nil and no error when the user has no profile.
	Get(ctx context.Context, userID, serverID string) (*UserData, error)
	// Touch increments the message count and refreshes last-seen.
	Touch(ctx context.Context, userID, serverID string) error
	SetPersonalitySummary(ctx context.Context, userID, serverID, summary string) error

	// RecordMessage stores one message text, keeping only the newest
	// MaxRecentMessages per user.
	RecordMessage(ctx context.Context, userID, serverID, content string) error
	// RecentMessages returns up to limit recorded texts, oldest first.
	RecentMessages(ctx context.Context, userID, serverID string, limit int) ([]string, error)
	// ListActive returns users with at least one message who were seen at or
	// after since, most recently seen first.
	ListActive(ctx context.Context, since time.Time, limit int) ([]UserData, error)
}
