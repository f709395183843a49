package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DrawdownConfig controls the drawdown protector and the equity circuit
// breaker.
type DrawdownConfig struct {
	// Protector steps: drawdown fraction -> position size multiplier.
	SoftLimit   float64 `yaml:"soft_limit"`   // default 0.05: scale to 0.75
	MediumLimit float64 `yaml:"medium_limit"` // default 0.10: scale to 0.50
	HardLimit   float64 `yaml:"hard_limit"`   // default 0.15: scale to 0.25
	// Breaker trips at this drawdown from peak equity.
	BreakerLimit float64 `yaml:"breaker_limit"` // default 0.20
}

// DefaultDrawdownConfig returns the standard protection ladder.
func DefaultDrawdownConfig() DrawdownConfig {
	return DrawdownConfig{
		SoftLimit:    0.05,
		MediumLimit:  0.10,
		HardLimit:    0.15,
		BreakerLimit: 0.20,
	}
}

// Validate checks the ladder is strictly increasing.
func (c DrawdownConfig) Validate() error {
	if c.SoftLimit <= 0 || c.SoftLimit >= c.MediumLimit || c.MediumLimit >= c.HardLimit || c.HardLimit >= c.BreakerLimit {
		return fmt.Errorf("drawdown: limits must satisfy 0 < soft < medium < hard < breaker, got %+v", c)
	}
	if c.BreakerLimit >= 1 {
		return fmt.Errorf("drawdown: breaker_limit must be below 1.0, got %f", c.BreakerLimit)
	}
	return nil
}

// ForceCloser closes all open positions when the breaker trips.
type ForceCloser interface {
	ForceCloseAll(reason string) error
}

// DrawdownProtector tracks running drawdown from peak equity, scales
// position sizing as losses deepen, and trips the circuit breaker once the
// breaker limit is breached. It is the predicate consulted by the pre-trade
// gate and the retry engine.
type DrawdownProtector struct {
	mu     sync.Mutex
	config DrawdownConfig

	peakEquity    float64
	currentEquity float64
	tripped       bool
	tripReason    string
	trippedAt     time.Time

	forceCloser ForceCloser
}

// NewDrawdownProtector validates the config and returns a protector with no
// equity history.
func NewDrawdownProtector(config DrawdownConfig, closer ForceCloser) (*DrawdownProtector, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &DrawdownProtector{config: config, forceCloser: closer}, nil
}

// Update records the latest account equity, advancing the peak and tripping
// the breaker when the drawdown limit is breached.
func (p *DrawdownProtector) Update(equity float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.currentEquity = equity
	if equity > p.peakEquity {
		p.peakEquity = equity
		return
	}
	if p.peakEquity == 0 || p.tripped {
		return
	}

	dd := (p.peakEquity - equity) / p.peakEquity
	if dd >= p.config.BreakerLimit {
		p.tripLocked(fmt.Sprintf("drawdown %.1f%% breached breaker limit %.1f%%",
			dd*100, p.config.BreakerLimit*100))
	}
}

// Trip forces the breaker open, closing all positions.
func (p *DrawdownProtector) Trip(reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.tripped {
		p.tripLocked(reason)
	}
}

func (p *DrawdownProtector) tripLocked(reason string) {
	p.tripped = true
	p.tripReason = reason
	p.trippedAt = time.Now().UTC()

	log.Error().Str("reason", reason).Msg("breaker: TRIPPED, order admission blocked")

	if p.forceCloser != nil {
		if err := p.forceCloser.ForceCloseAll(reason); err != nil {
			log.Error().Err(err).Msg("breaker: force close failed")
		}
	}
}

// Clear resets the breaker and re-bases the peak at current equity so the
// same drawdown does not immediately re-trip.
func (p *DrawdownProtector) Clear(by string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.tripped {
		return
	}
	p.tripped = false
	p.tripReason = ""
	p.peakEquity = p.currentEquity
	log.Warn().Str("by", by).Msg("breaker: cleared")
}

// Tripped reports whether order admission is blocked.
func (p *DrawdownProtector) Tripped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tripped
}

// Drawdown returns the current drawdown fraction from peak equity.
func (p *DrawdownProtector) Drawdown() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.peakEquity == 0 {
		return 0
	}
	return (p.peakEquity - p.currentEquity) / p.peakEquity
}

// SizeMultiplier returns the position-size scaling for the current drawdown:
// 1.0 below the soft limit, stepping down to 0.25 past the hard limit, and
// 0 while the breaker is tripped.
func (p *DrawdownProtector) SizeMultiplier() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.tripped {
		return 0
	}
	if p.peakEquity == 0 {
		return 1.0
	}
	dd := (p.peakEquity - p.currentEquity) / p.peakEquity
	switch {
	case dd >= p.config.HardLimit:
		return 0.25
	case dd >= p.config.MediumLimit:
		return 0.50
	case dd >= p.config.SoftLimit:
		return 0.75
	default:
		return 1.0
	}
}

// Status returns a snapshot for operator surfaces.
func (p *DrawdownProtector) Status() map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	dd := 0.0
	if p.peakEquity > 0 {
		dd = (p.peakEquity - p.currentEquity) / p.peakEquity
	}
	return map[string]interface{}{
		"tripped":        p.tripped,
		"trip_reason":    p.tripReason,
		"peak_equity":    p.peakEquity,
		"current_equity": p.currentEquity,
		"drawdown":       dd,
	}
}
