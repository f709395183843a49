package exec

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/stat"
)

// LatencyConfig controls alert thresholds and the rolling window size.
type LatencyConfig struct {
	WarnThreshold     time.Duration `yaml:"warn_threshold"`     // default 1s
	CriticalThreshold time.Duration `yaml:"critical_threshold"` // default 5s
	WindowSize        int           `yaml:"window_size"`        // samples per broker, default 1000
}

// DefaultLatencyConfig returns production latency thresholds.
func DefaultLatencyConfig() LatencyConfig {
	return LatencyConfig{
		WarnThreshold:     time.Second,
		CriticalThreshold: 5 * time.Second,
		WindowSize:        1000,
	}
}

// LatencyStats summarizes the rolling window for one broker.
type LatencyStats struct {
	Count  int     `json:"count"`
	MeanMs float64 `json:"mean_ms"`
	P50Ms  float64 `json:"median_ms"`
	P95Ms  float64 `json:"p95_ms"`
	P99Ms  float64 `json:"p99_ms"`
	MinMs  float64 `json:"min_ms"`
	MaxMs  float64 `json:"max_ms"`
	StdMs  float64 `json:"std_ms"`
}

type brokerWindow struct {
	samples []float64 // ring buffer of latency ms
	next    int
	full    bool
	count   int64
}

// LatencyTracker measures submit/cancel/modify round trips per broker over a
// rolling window. Recording never blocks the caller beyond a brief lock; the
// only side effects over threshold are log lines.
type LatencyTracker struct {
	mu      sync.Mutex
	config  LatencyConfig
	brokers map[string]*brokerWindow
}

// NewLatencyTracker returns a tracker with the given thresholds (zero values
// are replaced with defaults).
func NewLatencyTracker(config LatencyConfig) *LatencyTracker {
	def := DefaultLatencyConfig()
	if config.WarnThreshold <= 0 {
		config.WarnThreshold = def.WarnThreshold
	}
	if config.CriticalThreshold <= 0 {
		config.CriticalThreshold = def.CriticalThreshold
	}
	if config.WindowSize <= 0 {
		config.WindowSize = def.WindowSize
	}
	return &LatencyTracker{config: config, brokers: make(map[string]*brokerWindow)}
}

// Start begins a monotonic measurement.
func (t *LatencyTracker) Start() time.Time {
	return time.Now()
}

// Record stores the elapsed time since start for the broker/operation pair
// and logs when thresholds are exceeded.
func (t *LatencyTracker) Record(broker, operation, orderID string, start time.Time, success bool) time.Duration {
	elapsed := time.Since(start)
	ms := float64(elapsed) / float64(time.Millisecond)

	t.mu.Lock()
	w, ok := t.brokers[broker]
	if !ok {
		w = &brokerWindow{samples: make([]float64, t.config.WindowSize)}
		t.brokers[broker] = w
	}
	w.samples[w.next] = ms
	w.next = (w.next + 1) % len(w.samples)
	if w.next == 0 {
		w.full = true
	}
	w.count++
	t.mu.Unlock()

	switch {
	case elapsed > t.config.CriticalThreshold:
		log.Error().
			Str("broker", broker).
			Str("operation", operation).
			Str("order_id", orderID).
			Dur("latency", elapsed).
			Bool("success", success).
			Msg("latency: CRITICAL threshold exceeded")
	case elapsed > t.config.WarnThreshold:
		log.Warn().
			Str("broker", broker).
			Str("operation", operation).
			Str("order_id", orderID).
			Dur("latency", elapsed).
			Msg("latency: high")
	default:
		log.Debug().
			Str("broker", broker).
			Str("operation", operation).
			Dur("latency", elapsed).
			Msg("latency: recorded")
	}

	return elapsed
}

// Stats returns the rolling statistics for one broker, or a zero-count
// result when the broker has no samples.
func (t *LatencyTracker) Stats(broker string) LatencyStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	w, ok := t.brokers[broker]
	if !ok {
		return LatencyStats{}
	}

	n := w.next
	if w.full {
		n = len(w.samples)
	}
	if n == 0 {
		return LatencyStats{}
	}
	window := append([]float64(nil), w.samples[:n]...)
	sorted := append([]float64(nil), window...)
	sort.Float64s(sorted)

	return LatencyStats{
		Count:  int(w.count),
		MeanMs: stat.Mean(window, nil),
		P50Ms:  percentileSorted(sorted, 0.50),
		P95Ms:  percentileSorted(sorted, 0.95),
		P99Ms:  percentileSorted(sorted, 0.99),
		MinMs:  sorted[0],
		MaxMs:  sorted[len(sorted)-1],
		StdMs:  stat.PopStdDev(window, nil),
	}
}

// AllStats returns per-broker rolling statistics.
func (t *LatencyTracker) AllStats() map[string]LatencyStats {
	t.mu.Lock()
	names := make([]string, 0, len(t.brokers))
	for name := range t.brokers {
		names = append(names, name)
	}
	t.mu.Unlock()

	out := make(map[string]LatencyStats, len(names))
	for _, name := range names {
		out[name] = t.Stats(name)
	}
	return out
}

func percentileSorted(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := p * float64(len(sorted)-1)
	lo := int(pos)
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}
