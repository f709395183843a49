package exec

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
)

// RetryStrategy selects how the delay grows between attempts.
type RetryStrategy string

const (
	RetryExponential RetryStrategy = "exponential_backoff"
	RetryLinear      RetryStrategy = "linear_backoff"
	RetryFixed       RetryStrategy = "fixed_delay"
)

// RetryConfig controls the retry budget and backoff shape.
type RetryConfig struct {
	MaxRetries   int           `yaml:"max_retries"`   // total attempts, default 3
	InitialDelay time.Duration `yaml:"initial_delay"` // default 100ms
	MaxDelay     time.Duration `yaml:"max_delay"`     // per-attempt cap, default 5s
	Multiplier   float64       `yaml:"multiplier"`    // exponential growth, default 2.0
	Strategy     RetryStrategy `yaml:"strategy"`      // default exponential_backoff
}

// DefaultRetryConfig returns production retry parameters.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Strategy:     RetryExponential,
	}
}

func (c RetryConfig) validate() error {
	if c.MaxRetries <= 0 {
		return fmt.Errorf("retry: max_retries must be positive, got %d", c.MaxRetries)
	}
	if c.InitialDelay <= 0 || c.MaxDelay < c.InitialDelay {
		return fmt.Errorf("retry: delays must satisfy 0 < initial <= max, got %+v", c)
	}
	if c.Strategy == RetryExponential && c.Multiplier <= 1 {
		return fmt.Errorf("retry: multiplier must exceed 1 for exponential backoff, got %f", c.Multiplier)
	}
	return nil
}

// RetryResult reports the outcome of a retried operation, including every
// per-attempt error in order.
type RetryResult struct {
	Success    bool
	Attempts   int
	TotalDelay time.Duration
	Errors     []string
	LastError  string
}

// RetryEngine executes operations with backoff. A tripped circuit-breaker
// predicate aborts before the next attempt; terminal errors surface
// immediately without consuming budget. Sleeps are not interruptible, so
// callers needing cancellation must wrap the whole call in a timeout.
type RetryEngine struct {
	config RetryConfig
	sleep  func(time.Duration) // test hook
}

// NewRetryEngine validates the config and returns the engine.
func NewRetryEngine(config RetryConfig) (*RetryEngine, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &RetryEngine{config: config, sleep: time.Sleep}, nil
}

// Execute runs op up to MaxRetries times. breakerClear is consulted before
// every attempt; a nil predicate is treated as always clear.
func (e *RetryEngine) Execute(name, orderID string, op func() error, breakerClear func() bool) RetryResult {
	result := RetryResult{}
	delay := e.config.InitialDelay

	for attempt := 1; attempt <= e.config.MaxRetries; attempt++ {
		if breakerClear != nil && !breakerClear() {
			result.LastError = "circuit breaker tripped during retry"
			log.Warn().
				Str("operation", name).
				Str("order_id", orderID).
				Int("attempt", attempt).
				Msg("retry: aborted, circuit breaker tripped")
			return result
		}

		result.Attempts = attempt
		err := op()
		if err == nil {
			result.Success = true
			if attempt > 1 {
				log.Info().
					Str("operation", name).
					Str("order_id", orderID).
					Int("attempt", attempt).
					Dur("total_delay", result.TotalDelay).
					Msg("retry: succeeded after retries")
			}
			return result
		}

		result.Errors = append(result.Errors, fmt.Sprintf("attempt %d: %s", attempt, err.Error()))
		result.LastError = err.Error()

		if Classify(err) == KindTerminal {
			log.Error().
				Str("operation", name).
				Str("order_id", orderID).
				Err(err).
				Msg("retry: terminal error, not retrying")
			return result
		}

		if attempt == e.config.MaxRetries {
			log.Error().
				Str("operation", name).
				Str("order_id", orderID).
				Int("attempts", attempt).
				Err(err).
				Msg("retry: budget exhausted")
			return result
		}

		actual := jitter(delay)
		if actual > e.config.MaxDelay {
			actual = e.config.MaxDelay
		}
		log.Warn().
			Str("operation", name).
			Str("order_id", orderID).
			Int("attempt", attempt).
			Int("max", e.config.MaxRetries).
			Dur("delay", actual).
			Err(err).
			Msg("retry: backing off")

		e.sleep(actual)
		result.TotalDelay += actual

		switch e.config.Strategy {
		case RetryExponential:
			delay = time.Duration(float64(delay) * e.config.Multiplier)
		case RetryLinear:
			delay += e.config.InitialDelay
		case RetryFixed:
			// unchanged
		}
	}

	return result
}

// jitter spreads the delay by ±20% to avoid synchronized retries.
func jitter(d time.Duration) time.Duration {
	f := 1 + (rand.Float64()*0.4 - 0.2)
	return time.Duration(float64(d) * f)
}
