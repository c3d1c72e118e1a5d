package conversation

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/neverbot/internal/store"
	"github.com/nextlevelbuilder/neverbot/internal/store/sqlite"
)

var t0 = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T, cfg Config, durable store.ServerStore) (*Store, *time.Time) {
	t.Helper()
	now := t0
	s := NewStore(cfg, durable)
	s.SetClock(func() time.Time { return now })
	return s, &now
}

func TestFollowUpWindowBoundary(t *testing.T) {
	s, _ := newTestStore(t, Config{Timeout: 2 * time.Minute}, nil)
	key := Key{ChannelID: "c1", UserID: "u1"}

	s.RecordReply(key, "bot-1", "user-1", "")

	assert.True(t, s.IsFollowUpWindow(key, t0.Add(2*time.Minute-time.Millisecond)))
	assert.False(t, s.IsFollowUpWindow(key, t0.Add(2*time.Minute+time.Millisecond)))
	assert.False(t, s.IsFollowUpWindow(Key{ChannelID: "c1", UserID: "u2"}, t0))
}

func TestRecordReplyRefreshes(t *testing.T) {
	s, now := newTestStore(t, Config{}, nil)
	key := Key{ChannelID: "c1", UserID: "u1"}

	s.RecordReply(key, "bot-1", "user-1", "resp_1")
	*now = t0.Add(90 * time.Second)
	s.RecordReply(key, "bot-2", "user-2", "resp_2")

	c, ok := s.Get(key)
	require.True(t, ok)
	assert.Equal(t, t0.Add(90*time.Second), c.LastReplyAt)
	assert.Equal(t, "bot-2", c.LastBotMessageID)
	assert.Equal(t, "user-2", c.LastUserMessageID)
	assert.Equal(t, "resp_2", c.ConversationID)
	assert.True(t, s.IsFollowUpWindow(key, t0.Add(3*time.Minute)))
}

func TestClearAndClearChannel(t *testing.T) {
	s, _ := newTestStore(t, Config{}, nil)
	s.RecordReply(Key{"c1", "u1"}, "b", "u", "")
	s.RecordReply(Key{"c1", "u2"}, "b", "u", "")
	s.RecordReply(Key{"c2", "u1"}, "b", "u", "")

	s.Clear(Key{"c2", "u1"})
	_, ok := s.Get(Key{"c2", "u1"})
	assert.False(t, ok)

	assert.Equal(t, 2, s.ClearChannel("c1"))
	assert.Equal(t, 0, s.Len())
}

func TestSweepExpired(t *testing.T) {
	s, now := newTestStore(t, Config{Timeout: time.Minute}, nil)
	s.RecordReply(Key{"c1", "old"}, "b", "u", "")
	*now = t0.Add(45 * time.Second)
	s.RecordReply(Key{"c1", "fresh"}, "b", "u", "")

	assert.Equal(t, 1, s.SweepExpired(t0.Add(time.Minute)))
	_, ok := s.Get(Key{"c1", "fresh"})
	assert.True(t, ok)
	assert.Equal(t, 1, s.Len())
}

func TestHotTierCapacityEvictsOldest(t *testing.T) {
	s, now := newTestStore(t, Config{MaxEntries: 3}, nil)
	for i := 0; i < 3; i++ {
		s.RecordReply(Key{"c", fmt.Sprintf("u%d", i)}, "b", "u", "")
		*now = now.Add(time.Second)
	}

	// Refreshing an existing key never evicts.
	s.RecordReply(Key{"c", "u0"}, "b", "u", "")
	assert.Equal(t, 3, s.Len())

	*now = now.Add(time.Second)
	s.RecordReply(Key{"c", "u3"}, "b", "u", "")
	assert.Equal(t, 3, s.Len())
	_, ok := s.Get(Key{"c", "u1"})
	assert.False(t, ok, "u1 had the oldest reply")
	_, ok = s.Get(Key{"c", "u0"})
	assert.True(t, ok)
}

func TestPersistPrunesDurableTier(t *testing.T) {
	db, err := sqlite.OpenDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	servers := sqlite.NewServerStore(db)
	clock := t0
	servers.SetClock(func() time.Time { return clock })

	s, _ := newTestStore(t, Config{PersistMaxAge: -1, PersistMaxEntries: 2}, servers)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, s.PersistConversationID(ctx, "g1", fmt.Sprintf("c%d", i), fmt.Sprintf("resp_%d", i)))
		clock = clock.Add(time.Minute)
	}

	left, err := servers.ListChannelConversations(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, left, 2)
	assert.Equal(t, "c3", left[0].ChannelID)
	assert.Equal(t, "c2", left[1].ChannelID)

	id, ok, err := s.LoadPersistedConversationID(ctx, "g1", "c3")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "resp_3", id)

	_, ok, err = s.LoadPersistedConversationID(ctx, "g1", "c0")
	require.NoError(t, err)
	assert.False(t, ok)
}

type failingServers struct {
	store.ServerStore
	calls int
}

func (f *failingServers) GetChannelConversationID(context.Context, string, string) (string, error) {
	f.calls++
	return "", errors.New("connection refused")
}

type fixedServers struct {
	store.ServerStore
	calls int
}

func (f *fixedServers) GetChannelConversationID(_ context.Context, _, channelID string) (string, error) {
	f.calls++
	return "persisted-" + channelID, nil
}

func TestResolveConversationID(t *testing.T) {
	ctx := context.Background()
	key := Key{ChannelID: "c1", UserID: "u1"}

	t.Run("hot tier wins", func(t *testing.T) {
		durable := &fixedServers{}
		s, _ := newTestStore(t, Config{}, durable)
		s.RecordReply(key, "b", "u", "resp_hot")

		assert.Equal(t, "resp_hot", s.ResolveConversationID(ctx, key, "g1"))
		assert.Zero(t, durable.calls)
	})

	t.Run("durable on miss", func(t *testing.T) {
		durable := &fixedServers{}
		s, _ := newTestStore(t, Config{}, durable)

		assert.Equal(t, "persisted-c1", s.ResolveConversationID(ctx, key, "g1"))
		assert.Equal(t, 1, durable.calls)
	})

	t.Run("dm has no durable tier", func(t *testing.T) {
		durable := &fixedServers{}
		s, _ := newTestStore(t, Config{}, durable)

		assert.Empty(t, s.ResolveConversationID(ctx, key, ""))
		assert.Zero(t, durable.calls)
	})

	t.Run("lookup failure is absent", func(t *testing.T) {
		durable := &failingServers{}
		s, _ := newTestStore(t, Config{}, durable)

		assert.Empty(t, s.ResolveConversationID(ctx, key, "g1"))
		assert.Equal(t, 1, durable.calls)
	})
}
