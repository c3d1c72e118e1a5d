package pg

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Integration tests run only when NEVERBOT_TEST_POSTGRES_DSN points at a
// scratch database.
func openTestDB(t *testing.T) *PGServerStore {
	t.Helper()
	dsn := os.Getenv("NEVERBOT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("NEVERBOT_TEST_POSTGRES_DSN not set")
	}
	db, err := OpenDB(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ups, err := filepath.Glob("../../../migrations/*.up.sql")
	require.NoError(t, err)
	sort.Strings(ups)
	for _, path := range ups {
		up, err := os.ReadFile(path)
		require.NoError(t, err)
		_, err = db.Exec(string(up))
		require.NoError(t, err, path)
	}

	return NewPGServerStore(db)
}

func TestPGServerStore_PruneStale(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()
	serverID := fmt.Sprintf("test-%d", time.Now().UnixNano())

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		s.now = func() time.Time { return at }
		require.NoError(t, s.SetChannelConversationID(ctx, serverID, fmt.Sprintf("c%d", i), fmt.Sprintf("r%d", i)))
	}
	s.now = time.Now

	removed, err := s.PruneStale(ctx, serverID, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	left, err := s.ListChannelConversations(ctx, serverID)
	require.NoError(t, err)
	require.Len(t, left, 2)
	assert.Equal(t, "c4", left[0].ChannelID)
	assert.Equal(t, "c3", left[1].ChannelID)

	_, err = s.PruneStale(ctx, serverID, time.Minute, 0)
	require.NoError(t, err)
	left, err = s.ListChannelConversations(ctx, serverID)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestPGServerStore_EnabledChannels(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()
	serverID := fmt.Sprintf("test-%d", time.Now().UnixNano())

	srv, err := s.FindOrCreate(ctx, serverID, "Guild")
	require.NoError(t, err)
	assert.Empty(t, srv.EnabledChannels)

	require.NoError(t, s.SetEnabledChannels(ctx, serverID, []string{"a", "b"}))
	got, err := s.GetEnabledChannels(ctx, serverID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestPGUserStore_MessagesAndActivity(t *testing.T) {
	users := NewPGUserStore(openTestDB(t).db)
	ctx := context.Background()
	userID := fmt.Sprintf("user-%d", time.Now().UnixNano())

	missing, err := users.Get(ctx, userID, "g1")
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, err = users.FindOrCreate(ctx, userID, "g1", "alice")
	require.NoError(t, err)
	require.NoError(t, users.Touch(ctx, userID, "g1"))
	for i := 0; i < 55; i++ {
		require.NoError(t, users.RecordMessage(ctx, userID, "g1", fmt.Sprintf("m%d", i)))
	}

	recent, err := users.RecentMessages(ctx, userID, "g1", 100)
	require.NoError(t, err)
	require.Len(t, recent, 50)
	assert.Equal(t, "m5", recent[0])
	assert.Equal(t, "m54", recent[49])

	active, err := users.ListActive(ctx, time.Now().Add(-time.Minute), 1000)
	require.NoError(t, err)
	found := false
	for _, u := range active {
		found = found || u.UserID == userID
	}
	assert.True(t, found)
}
