// Package channels provides the platform abstraction layer for the bot and
// the per-event guards shared by every platform: the per-actor rate limiter
// and the in-flight dedup guard.
//
// A channel adapter (see channels/discord) translates platform events into
// bus events, feeds slash-commands to the command dispatcher and plain
// messages to the chat service, and implements the outbound reply
// interfaces those components call back into.
package channels

import (
	"context"
	"slices"
	"sync/atomic"
	"unicode/utf8"
)

// Channel defines the lifecycle every platform adapter must satisfy.
type Channel interface {
	// Name returns the channel identifier (e.g. "discord").
	Name() string

	// Start connects to the platform and begins delivering events. Non-blocking after setup.
	Start(ctx context.Context) error

	// Stop gracefully disconnects.
	Stop(ctx context.Context) error

	// IsRunning returns whether the channel is connected.
	IsRunning() bool
}

// BaseChannel provides shared functionality for channel implementations.
// Channel implementations should embed this struct.
type BaseChannel struct {
	name    string
	running atomic.Bool
}

// NewBaseChannel creates a new BaseChannel.
func NewBaseChannel(name string) *BaseChannel {
	return &BaseChannel{name: name}
}

// Name returns the channel name.
func (c *BaseChannel) Name() string { return c.name }

// IsRunning returns whether the channel is running.
func (c *BaseChannel) IsRunning() bool { return c.running.Load() }

// SetRunning updates the running state.
func (c *BaseChannel) SetRunning(running bool) { c.running.Store(running) }

// ChannelEnabled reports whether the bot may act in channelID given a
// server's allow-list. An empty allow-list enables every channel.
func ChannelEnabled(allowList []string, channelID string) bool {
	if len(allowList) == 0 {
		return true
	}
	return slices.Contains(allowList, channelID)
}

// Truncate shortens a string to maxLen runes, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxLen]) + "..."
}
