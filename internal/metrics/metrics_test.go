package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCounters(t *testing.T) {
	r := NewRegistry()

	r.CommandStarted("ask")
	r.CommandStarted("ask")
	r.CommandSucceeded("ask")
	r.CommandFailed("ask", "timeout")
	r.CompletionError("http_503")
	r.CompletionError("http_503")
	r.TokenUsage(10, 0)
	r.RateLimitHit("command")

	assert.Equal(t, int64(2), r.Counter(NameCommandStarted, "command", "ask"))
	assert.Equal(t, int64(1), r.Counter(NameCommandSuccess, "command", "ask"))
	assert.Equal(t, int64(1), r.Counter(NameCommandErrors, "command", "ask", "type", "timeout"))
	assert.Equal(t, int64(2), r.Total(NameCompletionError))
	assert.Equal(t, int64(10), r.Counter(NameTokens, "kind", "prompt"))
	assert.Equal(t, int64(0), r.Counter(NameTokens, "kind", "completion"))
	assert.Equal(t, int64(1), r.Total(NameRateLimitHits))
}

func TestTimerStopsOnce(t *testing.T) {
	r := NewRegistry()
	timer := StartTimer(r, "ping")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			timer.Stop()
		}()
	}
	wg.Wait()

	lat := r.Latencies()
	require.Len(t, lat, 1)
	assert.Equal(t, "ping", lat[0].Command)
	assert.Equal(t, int64(1), lat[0].Count)
}

func TestLatencySummary(t *testing.T) {
	r := NewRegistry()
	r.ObserveCommandLatency("ask", 100*time.Millisecond)
	r.ObserveCommandLatency("ask", 300*time.Millisecond)
	r.ObserveCommandLatency("help", time.Millisecond)

	lat := r.Latencies()
	require.Len(t, lat, 2)
	assert.Equal(t, "ask", lat[0].Command)
	assert.Equal(t, 200*time.Millisecond, lat[0].Mean)
	assert.Equal(t, 300*time.Millisecond, lat[0].Max)
}

type panicky struct{ Nop }

func (panicky) CommandStarted(string) { panic("sink down") }

func TestSafeSwallowsPanics(t *testing.T) {
	rec := Safe(panicky{})
	assert.NotPanics(t, func() { rec.CommandStarted("ask") })
	assert.NotPanics(t, func() { Safe(nil).CommandFailed("ask", "other") })
}
