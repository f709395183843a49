package exec

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGuard(t *testing.T, config DuplicateGuardConfig) (*DuplicateGuard, *time.Time) {
	t.Helper()
	g, err := NewDuplicateGuard(config)
	require.NoError(t, err)
	clock := time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return clock }
	return g, &clock
}

func TestGuardConfigValidation(t *testing.T) {
	_, err := NewDuplicateGuard(DuplicateGuardConfig{})
	assert.Error(t, err)
	_, err = NewDuplicateGuard(DefaultDuplicateGuardConfig())
	assert.NoError(t, err)
}

func TestIdempotencyKeyDeterministic(t *testing.T) {
	a := IdempotencyKey("BTCUSDT", "BUY", 0.01, 50000, "MARKET")
	b := IdempotencyKey("BTCUSDT", "buy", 0.01, 50000, "market")
	assert.Equal(t, a, b, "side and order type are case-insensitive")
	assert.Len(t, a, 64)

	c := IdempotencyKey("BTCUSDT", "BUY", 0.02, 50000, "MARKET")
	assert.NotEqual(t, a, c)
}

func TestIdempotencyKeyFloatNoise(t *testing.T) {
	a := IdempotencyKey("BTCUSDT", "BUY", 0.1, 50000, "MARKET")
	b := IdempotencyKey("BTCUSDT", "BUY", 0.1000000001, 50000, "MARKET")
	assert.Equal(t, a, b, "differences below 8 decimals must not defeat deduplication")

	c := IdempotencyKey("BTCUSDT", "BUY", 0.1000001, 50000, "MARKET")
	assert.NotEqual(t, a, c)
}

func TestDuplicateWithinWindowBlocked(t *testing.T) {
	g, clock := newTestGuard(t, DefaultDuplicateGuardConfig())

	dup := g.CheckAndReserve("BTCUSDT", "BUY", 0.01, 50000, "MARKET", "")
	assert.False(t, dup, "first submission passes")

	*clock = clock.Add(30 * time.Second)
	dup = g.CheckAndReserve("BTCUSDT", "BUY", 0.01, 50000, "MARKET", "")
	assert.True(t, dup, "identical order inside the 60s window is a duplicate")
}

func TestDuplicateAfterWindowPasses(t *testing.T) {
	g, clock := newTestGuard(t, DefaultDuplicateGuardConfig())

	require.False(t, g.CheckAndReserve("BTCUSDT", "BUY", 0.01, 50000, "MARKET", ""))

	*clock = clock.Add(61 * time.Second)
	dup := g.CheckAndReserve("BTCUSDT", "BUY", 0.01, 50000, "MARKET", "")
	assert.False(t, dup, "same order after the window has elapsed is legitimate")
}

func TestSymbolCooldownBlocksDifferentOrder(t *testing.T) {
	g, clock := newTestGuard(t, DefaultDuplicateGuardConfig())

	require.False(t, g.CheckAndReserve("BTCUSDT", "BUY", 0.01, 50000, "MARKET", ""))
	g.RecordOrderSent("BTCUSDT", "")

	*clock = clock.Add(5 * time.Second)
	dup := g.CheckAndReserve("BTCUSDT", "SELL", 0.5, 49000, "LIMIT", "")
	assert.True(t, dup, "any order on the symbol inside the cooldown is blocked")

	// a different symbol is unaffected
	dup = g.CheckAndReserve("ETHUSDT", "BUY", 1, 3000, "MARKET", "")
	assert.False(t, dup)

	*clock = clock.Add(6 * time.Second) // 11s since the BTCUSDT send
	dup = g.CheckAndReserve("BTCUSDT", "SELL", 0.5, 49000, "LIMIT", "")
	assert.False(t, dup, "cooldown expired")
}

func TestCooldownOnlyStartsOnSend(t *testing.T) {
	g, clock := newTestGuard(t, DefaultDuplicateGuardConfig())

	// reservation without a completed send does not start the cooldown
	require.False(t, g.CheckAndReserve("BTCUSDT", "BUY", 0.01, 50000, "MARKET", ""))

	*clock = clock.Add(time.Second)
	dup := g.CheckAndReserve("BTCUSDT", "SELL", 0.5, 49000, "LIMIT", "")
	assert.False(t, dup)
}

func TestExplicitKeyOverridesDerivation(t *testing.T) {
	g, _ := newTestGuard(t, DefaultDuplicateGuardConfig())

	require.False(t, g.CheckAndReserve("BTCUSDT", "BUY", 0.01, 50000, "MARKET", "key-1"))
	assert.True(t, g.CheckAndReserve("ETHUSDT", "SELL", 2, 3000, "LIMIT", "key-1"),
		"an explicit key is authoritative regardless of order fields")
}

func TestEvictionDropsStaleEntries(t *testing.T) {
	g, clock := newTestGuard(t, DefaultDuplicateGuardConfig())

	require.False(t, g.CheckAndReserve("BTCUSDT", "BUY", 0.01, 50000, "MARKET", ""))
	assert.Equal(t, 1, g.Stats()["cache_size"])

	// 2x dedup window plus a tick: entry is evicted on the next check
	*clock = clock.Add(121 * time.Second)
	require.False(t, g.CheckAndReserve("ETHUSDT", "BUY", 1, 3000, "MARKET", ""))
	assert.Equal(t, 1, g.Stats()["cache_size"], "stale entry evicted, only the new one remains")
}

func TestCacheSizeCapEvictsOldestFirst(t *testing.T) {
	config := DefaultDuplicateGuardConfig()
	config.MaxCacheSize = 5
	g, clock := newTestGuard(t, config)

	for i := 0; i < 6; i++ {
		require.False(t, g.CheckAndReserve(fmt.Sprintf("SYM%d", i), "BUY", 1, 100, "MARKET", ""))
		*clock = clock.Add(time.Millisecond)
	}
	assert.Equal(t, 5, g.Stats()["cache_size"])

	// the oldest (SYM0) was evicted, so it passes again
	assert.False(t, g.CheckAndReserve("SYM0", "BUY", 1, 100, "MARKET", ""))
}

func TestReset(t *testing.T) {
	g, _ := newTestGuard(t, DefaultDuplicateGuardConfig())

	require.False(t, g.CheckAndReserve("BTCUSDT", "BUY", 0.01, 50000, "MARKET", ""))
	g.RecordOrderSent("BTCUSDT", "")
	g.Reset()

	assert.Equal(t, 0, g.Stats()["cache_size"])
	assert.False(t, g.CheckAndReserve("BTCUSDT", "BUY", 0.01, 50000, "MARKET", ""),
		"reset clears both the key cache and the cooldowns")
}

func TestConcurrentReservationsOnlyOnePasses(t *testing.T) {
	g, err := NewDuplicateGuard(DefaultDuplicateGuardConfig())
	require.NoError(t, err)

	const workers = 16
	passed := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		go func() {
			passed <- !g.CheckAndReserve("BTCUSDT", "BUY", 0.01, 50000, "MARKET", "")
		}()
	}

	count := 0
	for i := 0; i < workers; i++ {
		if <-passed {
			count++
		}
	}
	assert.Equal(t, 1, count, "check-and-reserve must be atomic")
}
