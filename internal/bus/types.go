// Package bus defines the platform-neutral inbound events consumed by the
// command dispatcher and the chat service.
package bus

import "time"

// CommandEvent represents a slash-command invocation received from a channel.
type CommandEvent struct {
	ID        string            `json:"id"` // interaction id, used for dedup
	Name      string            `json:"name"`
	ActorID   string            `json:"actor_id"`
	ActorName string            `json:"actor_name"`
	ServerID  string            `json:"server_id,omitempty"` // empty for DMs
	Server    string            `json:"server,omitempty"`
	ChannelID string            `json:"channel_id"`
	IsAdmin   bool              `json:"is_admin,omitempty"`
	Options   map[string]string `json:"options,omitempty"`
}

// Option returns a string option by name.
func (e CommandEvent) Option(name string) (string, bool) {
	v, ok := e.Options[name]
	return v, ok && v != ""
}

// MessageEvent represents a plain channel message.
type MessageEvent struct {
	ID          string    `json:"id"`
	AuthorID    string    `json:"author_id"`
	AuthorName  string    `json:"author_name"`
	AuthorIsBot bool      `json:"author_is_bot,omitempty"`
	ServerID    string    `json:"server_id,omitempty"`
	Server      string    `json:"server,omitempty"`
	ChannelID   string    `json:"channel_id"`
	Content     string    `json:"content"`
	Attachments []string  `json:"attachments,omitempty"` // URLs
	Mentioned   bool      `json:"mentioned,omitempty"`   // explicit @mention of the bot
	Timestamp   time.Time `json:"timestamp"`
}

// HistoryMessage is one earlier channel message used as conversation history.
type HistoryMessage struct {
	AuthorID   string `json:"author_id"`
	AuthorName string `json:"author_name"`
	FromBot    bool   `json:"from_bot"`
	Content    string `json:"content"`
}
