package sqlite

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStores(t *testing.T) (*ServerStore, *UserStore) {
	t.Helper()
	db, err := OpenDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewServerStore(db), NewUserStore(db)
}

type stepClock struct{ t time.Time }

func (c *stepClock) now() time.Time { return c.t }

func TestServerStore_FindOrCreateIsIdempotent(t *testing.T) {
	servers, _ := openTestStores(t)
	ctx := context.Background()

	first, err := servers.FindOrCreate(ctx, "g1", "Guild One")
	require.NoError(t, err)
	assert.Equal(t, "Guild One", first.Name)
	assert.Empty(t, first.EnabledChannels)

	again, err := servers.FindOrCreate(ctx, "g1", "renamed")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, "Guild One", again.Name)

	anon, err := servers.FindOrCreate(ctx, "g2", "")
	require.NoError(t, err)
	assert.Equal(t, "N/A", anon.Name)
}

func TestServerStore_EnabledChannels(t *testing.T) {
	servers, _ := openTestStores(t)
	ctx := context.Background()

	got, err := servers.GetEnabledChannels(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, servers.SetEnabledChannels(ctx, "g1", []string{"c1", "c2"}))
	got, err = servers.GetEnabledChannels(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2"}, got)

	require.NoError(t, servers.SetEnabledChannels(ctx, "g1", nil))
	got, err = servers.GetEnabledChannels(ctx, "g1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestServerStore_ChannelConversationsAreIndependent(t *testing.T) {
	servers, _ := openTestStores(t)
	ctx := context.Background()

	require.NoError(t, servers.SetChannelConversationID(ctx, "g1", "c1", "resp_1"))
	require.NoError(t, servers.SetChannelConversationID(ctx, "g1", "c2", "resp_2"))
	require.NoError(t, servers.SetChannelConversationID(ctx, "g1", "c1", "resp_1b"))

	id, err := servers.GetChannelConversationID(ctx, "g1", "c1")
	require.NoError(t, err)
	assert.Equal(t, "resp_1b", id)

	id, err = servers.GetChannelConversationID(ctx, "g1", "c2")
	require.NoError(t, err)
	assert.Equal(t, "resp_2", id)

	require.NoError(t, servers.SetChannelConversationID(ctx, "g1", "c1", ""))
	id, err = servers.GetChannelConversationID(ctx, "g1", "c1")
	require.NoError(t, err)
	assert.Empty(t, id)

	id, err = servers.GetChannelConversationID(ctx, "g1", "c2")
	require.NoError(t, err)
	assert.Equal(t, "resp_2", id, "clearing one channel leaves the others")
}

func TestServerStore_PruneStaleKeepsMostRecent(t *testing.T) {
	servers, _ := openTestStores(t)
	ctx := context.Background()

	clock := &stepClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	servers.SetClock(clock.now)

	for i := 0; i < 6; i++ {
		require.NoError(t, servers.SetChannelConversationID(ctx, "g1", fmt.Sprintf("c%d", i), fmt.Sprintf("resp_%d", i)))
		clock.t = clock.t.Add(time.Minute)
	}
	require.NoError(t, servers.SetChannelConversationID(ctx, "other", "c0", "resp_x"))

	removed, err := servers.PruneStale(ctx, "g1", 0, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	left, err := servers.ListChannelConversations(ctx, "g1")
	require.NoError(t, err)
	var channels []string
	for _, c := range left {
		channels = append(channels, c.ChannelID)
	}
	assert.Equal(t, []string{"c5", "c4", "c3"}, channels)

	other, err := servers.GetChannelConversationID(ctx, "other", "c0")
	require.NoError(t, err)
	assert.Equal(t, "resp_x", other, "pruning is scoped to one server")
}

func TestServerStore_PruneStaleDropsExpiredFirst(t *testing.T) {
	servers, _ := openTestStores(t)
	ctx := context.Background()

	clock := &stepClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	servers.SetClock(clock.now)

	require.NoError(t, servers.SetChannelConversationID(ctx, "g1", "old", "resp_old"))
	clock.t = clock.t.Add(48 * time.Hour)
	require.NoError(t, servers.SetChannelConversationID(ctx, "g1", "a", "resp_a"))
	clock.t = clock.t.Add(time.Minute)
	require.NoError(t, servers.SetChannelConversationID(ctx, "g1", "b", "resp_b"))

	removed, err := servers.PruneStale(ctx, "g1", 24*time.Hour, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	left, err := servers.ListChannelConversations(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, left, 2)
	assert.Equal(t, "b", left[0].ChannelID)
	assert.Equal(t, "a", left[1].ChannelID)
}

func TestUserStore_FindOrCreateAndTouch(t *testing.T) {
	_, users := openTestStores(t)
	ctx := context.Background()

	u, err := users.FindOrCreate(ctx, "u1", "g1", "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(0), u.MessageCount)
	assert.True(t, u.LastSeenAt.IsZero())

	require.NoError(t, users.Touch(ctx, "u1", "g1"))
	require.NoError(t, users.Touch(ctx, "u1", "g1"))
	require.NoError(t, users.SetPersonalitySummary(ctx, "u1", "g1", "loves puns"))

	u2, err := users.FindOrCreate(ctx, "u1", "g1", "")
	require.NoError(t, err)
	assert.Equal(t, u.ID, u2.ID)
	assert.Equal(t, "alice", u2.Username)
	assert.Equal(t, int64(2), u2.MessageCount)
	assert.Equal(t, "loves puns", u2.PersonalitySummary)
	assert.False(t, u2.LastSeenAt.IsZero())

	dm, err := users.FindOrCreate(ctx, "u1", "", "alice")
	require.NoError(t, err)
	assert.NotEqual(t, u.ID, dm.ID, "profiles are per server")
}

func TestUserStore_GetMissingIsNil(t *testing.T) {
	_, users := openTestStores(t)
	u, err := users.Get(context.Background(), "nobody", "g1")
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestUserStore_RecordMessageKeepsNewest(t *testing.T) {
	_, users := openTestStores(t)
	ctx := context.Background()

	for i := 0; i < 55; i++ {
		require.NoError(t, users.RecordMessage(ctx, "u1", "g1", fmt.Sprintf("m%d", i)))
	}
	require.NoError(t, users.RecordMessage(ctx, "u2", "g1", "other"))

	all, err := users.RecentMessages(ctx, "u1", "g1", 100)
	require.NoError(t, err)
	require.Len(t, all, 50)
	assert.Equal(t, "m5", all[0], "oldest beyond the cap are pruned")
	assert.Equal(t, "m54", all[49])

	last, err := users.RecentMessages(ctx, "u1", "g1", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"m52", "m53", "m54"}, last, "newest samples, oldest first")

	other, err := users.RecentMessages(ctx, "u2", "g1", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"other"}, other)
}

func TestUserStore_ListActive(t *testing.T) {
	_, users := openTestStores(t)
	ctx := context.Background()
	clock := &stepClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	users.SetClock(clock.now)

	for _, id := range []string{"old", "quiet", "recent", "latest"} {
		_, err := users.FindOrCreate(ctx, id, "g1", id)
		require.NoError(t, err)
	}
	require.NoError(t, users.Touch(ctx, "old", "g1"))
	clock.t = clock.t.Add(48 * time.Hour)
	require.NoError(t, users.Touch(ctx, "recent", "g1"))
	clock.t = clock.t.Add(time.Hour)
	require.NoError(t, users.Touch(ctx, "latest", "g1"))

	active, err := users.ListActive(ctx, clock.t.Add(-24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, active, 2, "users never seen or seen before the cutoff are skipped")
	assert.Equal(t, "latest", active[0].UserID)
	assert.Equal(t, "recent", active[1].UserID)

	capped, err := users.ListActive(ctx, clock.t.Add(-24*time.Hour), 1)
	require.NoError(t, err)
	assert.Len(t, capped, 1)
}
