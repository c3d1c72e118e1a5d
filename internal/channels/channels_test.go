package channels

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestRateLimiter_RejectsOverLimitThenRecovers(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(time.Minute, 10)
	rl.SetClock(clock.Now)

	for i := 0; i < 10; i++ {
		require.True(t, rl.Allow("u1"), "request %d", i+1)
		clock.Advance(time.Second)
	}
	assert.False(t, rl.Allow("u1"), "11th request inside the window")
	assert.Equal(t, 0, rl.Remaining("u1"))

	// other actors are unaffected
	assert.True(t, rl.Allow("u2"))

	clock.Advance(time.Minute)
	assert.True(t, rl.Allow("u1"))
}

func TestRateLimiter_RejectionNotRecorded(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(10*time.Second, 2)
	rl.SetClock(clock.Now)

	require.True(t, rl.Allow("u"))
	require.True(t, rl.Allow("u"))
	for i := 0; i < 5; i++ {
		require.False(t, rl.Allow("u"))
	}

	// Only the two accepted requests occupy the window; once they age out the actor is clear.
	clock.Advance(10 * time.Second)
	assert.Equal(t, 2, rl.Remaining("u"))
}

func TestRateLimiter_SlidingWindow(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(10*time.Second, 2)
	rl.SetClock(clock.Now)

	require.True(t, rl.Allow("u")) // t=0
	clock.Advance(6 * time.Second)
	require.True(t, rl.Allow("u")) // t=6
	clock.Advance(3 * time.Second)
	require.False(t, rl.Allow("u")) // t=9, both still inside
	clock.Advance(time.Second)
	require.True(t, rl.Allow("u")) // t=10, first aged out
}

func TestRateLimiter_SweepRemovesOnlyEmptyWindows(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(time.Minute, 3)
	rl.SetClock(clock.Now)

	rl.Allow("old")
	clock.Advance(2 * time.Minute)
	rl.Allow("fresh")

	assert.Equal(t, 1, rl.Sweep())
	assert.Equal(t, 1, rl.Len())
	assert.Equal(t, 2, rl.Remaining("fresh"))
}

func TestDedupGuard_ConcurrentBeginYieldsOneWinner(t *testing.T) {
	g := NewDedupGuard()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.TryBegin("evt-1") {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.True(t, g.InFlight("evt-1"))

	g.End("evt-1")
	assert.False(t, g.InFlight("evt-1"))
	assert.True(t, g.TryBegin("evt-1"), "id is reusable after End")
}

func TestDedupGuard_EndUnknownIsNoop(t *testing.T) {
	g := NewDedupGuard()
	require.True(t, g.TryBegin("a"))

	g.End("never-begun")

	assert.True(t, g.InFlight("a"))
	assert.Equal(t, 1, g.Len())
}

func TestDedupGuard_EndRunsOnPanic(t *testing.T) {
	g := NewDedupGuard()
	handle := func(id string) {
		if !g.TryBegin(id) {
			return
		}
		defer g.End(id)
		panic(fmt.Sprintf("handler for %s exploded", id))
	}

	assert.Panics(t, func() { handle("x") })
	assert.False(t, g.InFlight("x"))
}

func TestChannelEnabled(t *testing.T) {
	assert.True(t, ChannelEnabled(nil, "c1"))
	assert.True(t, ChannelEnabled([]string{"c1", "c2"}, "c2"))
	assert.False(t, ChannelEnabled([]string{"c1"}, "c3"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "héllo", Truncate("héllo", 5))
	assert.Equal(t, "hé...", Truncate("héllo", 2))
}

type stubChannel struct {
	*BaseChannel
	startErr error
	log      *[]string
}

func (c *stubChannel) Start(context.Context) error {
	*c.log = append(*c.log, "start "+c.Name())
	if c.startErr != nil {
		return c.startErr
	}
	c.SetRunning(true)
	return nil
}

func (c *stubChannel) Stop(context.Context) error {
	*c.log = append(*c.log, "stop "+c.Name())
	c.SetRunning(false)
	return nil
}

func TestManager_StartStopOrder(t *testing.T) {
	var log []string
	m := NewManager()
	m.RegisterChannel(&stubChannel{BaseChannel: NewBaseChannel("b"), log: &log})
	m.RegisterChannel(&stubChannel{BaseChannel: NewBaseChannel("a"), log: &log})

	require.NoError(t, m.StartAll(context.Background()))
	assert.Equal(t, map[string]bool{"a": true, "b": true}, m.Status())

	require.NoError(t, m.StopAll(context.Background()))
	assert.Equal(t, []string{"start a", "start b", "stop b", "stop a"}, log)
	assert.Equal(t, map[string]bool{"a": false, "b": false}, m.Status())

	ch, ok := m.GetChannel("a")
	require.True(t, ok)
	assert.Equal(t, "a", ch.Name())
}

func TestManager_StartFailureRollsBack(t *testing.T) {
	var log []string
	boom := errors.New("gateway refused")
	m := NewManager()
	m.RegisterChannel(&stubChannel{BaseChannel: NewBaseChannel("a"), log: &log})
	m.RegisterChannel(&stubChannel{BaseChannel: NewBaseChannel("b"), startErr: boom, log: &log})

	err := m.StartAll(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"start a", "start b", "stop a"}, log)
	assert.False(t, m.Status()["a"])
}
