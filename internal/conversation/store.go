// Package conversation keeps per-channel conversation context in two tiers:
// a hot in-memory map keyed by channel+user, and the durable per-channel
// conversation handle held by store.ServerStore.
//
// The hot tier is authoritative when it has an entry. The durable tier is
// only read on a hot miss, and every durable write is followed by a prune
// so a server's row count stays bounded.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/neverbot/internal/store"
)

// Defaults for Config.
const (
	DefaultTimeout           = 2 * time.Minute
	DefaultMaxEntries        = 10000
	DefaultPersistMaxAge     = 7 * 24 * time.Hour
	DefaultPersistMaxEntries = 50
)

// Key identifies one dialogue: a user talking in a channel.
type Key struct {
	ChannelID string
	UserID    string
}

func (k Key) String() string { return k.ChannelID + "-" + k.UserID }

// Context is the state of an ongoing dialogue.
type Context struct {
	LastReplyAt       time.Time
	LastBotMessageID  string
	LastUserMessageID string
	ConversationID    string // backend handle, may be empty
}

// Config bounds both tiers.
type Config struct {
	Timeout           time.Duration // follow-up window
	MaxEntries        int           // hot tier capacity
	PersistMaxAge     time.Duration
	PersistMaxEntries int
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = DefaultMaxEntries
	}
	if c.PersistMaxAge == 0 {
		c.PersistMaxAge = DefaultPersistMaxAge
	}
	if c.PersistMaxEntries == 0 {
		c.PersistMaxEntries = DefaultPersistMaxEntries
	}
	return c
}

// Store owns all conversation state. Safe for concurrent use.
type Store struct {
	cfg     Config
	durable store.ServerStore // nil disables the durable tier
	now     func() time.Time

	mu      sync.RWMutex
	entries map[Key]Context
}

// NewStore creates a Store. durable may be nil.
func NewStore(cfg Config, durable store.ServerStore) *Store {
	return &Store{
		cfg:     cfg.withDefaults(),
		durable: durable,
		now:     time.Now,
		entries: make(map[Key]Context),
	}
}

// SetClock overrides the time source. Used by tests.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// Timeout returns the follow-up window.
func (s *Store) Timeout() time.Duration { return s.cfg.Timeout }

func (s *Store) Get(key Key) (Context, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.entries[key]
	return c, ok
}

// RecordReply upserts the context for key, stamped with the current time.
// Concurrent replies for one key are last-write-wins.
func (s *Store) RecordReply(key Key, botMessageID, userMessageID, conversationID string) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[key]; !exists && len(s.entries) >= s.cfg.MaxEntries {
		s.evictOldestLocked()
	}
	s.entries[key] = Context{
		LastReplyAt:       now,
		LastBotMessageID:  botMessageID,
		LastUserMessageID: userMessageID,
		ConversationID:    conversationID,
	}
}

func (s *Store) evictOldestLocked() {
	var oldestKey Key
	var oldest time.Time
	first := true
	for k, c := range s.entries {
		if first || c.LastReplyAt.Before(oldest) {
			oldestKey, oldest, first = k, c.LastReplyAt, false
		}
	}
	if !first {
		delete(s.entries, oldestKey)
	}
}

// IsFollowUpWindow reports whether key has a context whose last reply is
// less than the timeout before now.
func (s *Store) IsFollowUpWindow(key Key, now time.Time) bool {
	s.mu.RLock()
	c, ok := s.entries[key]
	s.mu.RUnlock()
	return ok && now.Sub(c.LastReplyAt) < s.cfg.Timeout
}

func (s *Store) Clear(key Key) {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

// ClearChannel removes every user's context in channelID.
func (s *Store) ClearChannel(channelID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.entries {
		if k.ChannelID == channelID {
			delete(s.entries, k)
			n++
		}
	}
	return n
}

// SweepExpired removes contexts whose last reply is at least the timeout
// before now and returns how many were removed.
func (s *Store) SweepExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, c := range s.entries {
		if now.Sub(c.LastReplyAt) >= s.cfg.Timeout {
			delete(s.entries, k)
			n++
		}
	}
	return n
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// LoadPersistedConversationID reads the durable handle for a channel.
func (s *Store) LoadPersistedConversationID(ctx context.Context, serverID, channelID string) (string, bool, error) {
	if s.durable == nil || serverID == "" {
		return "", false, nil
	}
	id, err := s.durable.GetChannelConversationID(ctx, serverID, channelID)
	if err != nil {
		return "", false, fmt.Errorf("load conversation %s/%s: %w", serverID, channelID, err)
	}
	return id, id != "", nil
}

// PersistConversationID writes the durable handle for a channel, then prunes
// the server's handles. An empty conversationID removes the handle.
func (s *Store) PersistConversationID(ctx context.Context, serverID, channelID, conversationID string) error {
	if s.durable == nil || serverID == "" {
		return nil
	}
	if err := s.durable.SetChannelConversationID(ctx, serverID, channelID, conversationID); err != nil {
		return fmt.Errorf("persist conversation %s/%s: %w", serverID, channelID, err)
	}
	if conversationID == "" {
		return nil
	}
	if _, err := s.PruneStale(ctx, serverID, s.cfg.PersistMaxAge, s.cfg.PersistMaxEntries); err != nil {
		return err
	}
	return nil
}

// PruneStale evicts durable handles older than maxAge, then keeps only the
// maxEntries most recently updated.
func (s *Store) PruneStale(ctx context.Context, serverID string, maxAge time.Duration, maxEntries int) (int, error) {
	if s.durable == nil || serverID == "" {
		return 0, nil
	}
	n, err := s.durable.PruneStale(ctx, serverID, maxAge, maxEntries)
	if err != nil {
		return n, fmt.Errorf("prune conversations %s: %w", serverID, err)
	}
	if n > 0 {
		slog.Debug("pruned stale conversations", "server_id", serverID, "removed", n)
	}
	return n, nil
}

// ResolveConversationID returns the handle to continue for key. The hot
// tier answers when it has an entry; otherwise the durable tier is
// consulted, and a failed lookup is treated as no handle.
func (s *Store) ResolveConversationID(ctx context.Context, key Key, serverID string) string {
	if c, ok := s.Get(key); ok {
		return c.ConversationID
	}
	id, _, err := s.LoadPersistedConversationID(ctx, serverID, key.ChannelID)
	if err != nil {
		slog.Warn("conversation lookup failed", "key", key.String(), "error", err)
		return ""
	}
	return id
}
