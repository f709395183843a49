package exec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// record injects a synthetic latency by backdating the start time.
func record(tr *LatencyTracker, broker string, d time.Duration) {
	tr.Record(broker, "submit", "ord", time.Now().Add(-d), true)
}

func TestLatencyStatsEmpty(t *testing.T) {
	tr := NewLatencyTracker(DefaultLatencyConfig())
	assert.Zero(t, tr.Stats("binance").Count)
	assert.Empty(t, tr.AllStats())
}

func TestLatencyStatsBasic(t *testing.T) {
	tr := NewLatencyTracker(DefaultLatencyConfig())

	for _, d := range []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		30 * time.Millisecond,
		40 * time.Millisecond,
		100 * time.Millisecond,
	} {
		record(tr, "binance", d)
	}

	stats := tr.Stats("binance")
	assert.Equal(t, 5, stats.Count)
	// backdated starts add scheduling overhead on top of the synthetic value
	assert.InDelta(t, 40, stats.MeanMs, 15)
	assert.InDelta(t, 30, stats.P50Ms, 10)
	assert.GreaterOrEqual(t, stats.MaxMs, 100.0)
	assert.LessOrEqual(t, stats.MinMs, stats.P50Ms)
	assert.LessOrEqual(t, stats.P50Ms, stats.P95Ms)
	assert.LessOrEqual(t, stats.P95Ms, stats.P99Ms)
}

func TestLatencyPerBrokerIsolation(t *testing.T) {
	tr := NewLatencyTracker(DefaultLatencyConfig())
	record(tr, "binance", 10*time.Millisecond)
	record(tr, "bybit", 200*time.Millisecond)

	all := tr.AllStats()
	require.Contains(t, all, "binance")
	require.Contains(t, all, "bybit")
	assert.Less(t, all["binance"].MeanMs, all["bybit"].MeanMs)
}

func TestLatencyWindowWraps(t *testing.T) {
	config := DefaultLatencyConfig()
	config.WindowSize = 10
	tr := NewLatencyTracker(config)

	for i := 0; i < 25; i++ {
		record(tr, "binance", time.Millisecond)
	}

	stats := tr.Stats("binance")
	assert.Equal(t, 25, stats.Count, "total count survives the rolling window")
	assert.Greater(t, stats.MeanMs, 0.0)
}

func TestLatencyExtremesFollowTheWindow(t *testing.T) {
	config := DefaultLatencyConfig()
	config.WindowSize = 5
	tr := NewLatencyTracker(config)

	record(tr, "binance", 500*time.Millisecond)
	for i := 0; i < 8; i++ {
		record(tr, "binance", 10*time.Millisecond)
	}

	// The 500ms outlier has rolled out of the window, so it must no longer
	// show up as the max.
	stats := tr.Stats("binance")
	assert.Equal(t, 9, stats.Count)
	assert.Less(t, stats.MaxMs, 400.0)
	assert.GreaterOrEqual(t, stats.MinMs, 10.0)
	assert.LessOrEqual(t, stats.MinMs, stats.MaxMs)
}

func TestRecordReturnsElapsed(t *testing.T) {
	tr := NewLatencyTracker(DefaultLatencyConfig())
	elapsed := tr.Record("binance", "submit", "ord-1", time.Now().Add(-50*time.Millisecond), true)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
}

func TestPercentileSorted(t *testing.T) {
	sorted := []float64{10, 20, 30, 40, 50}
	assert.InDelta(t, 30, percentileSorted(sorted, 0.50), 1e-9)
	assert.InDelta(t, 10, percentileSorted(sorted, 0.0), 1e-9)
	assert.InDelta(t, 50, percentileSorted(sorted, 1.0), 1e-9)
	assert.InDelta(t, 48, percentileSorted(sorted, 0.95), 1e-9)

	assert.Zero(t, percentileSorted(nil, 0.5))
	assert.InDelta(t, 7, percentileSorted([]float64{7}, 0.99), 1e-9)
}
