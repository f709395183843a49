package exec

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/gannquant/tradecore/internal/metrics"
)

// SubmitStatus is the terminal state of a submission attempt.
type SubmitStatus string

const (
	StatusSubmitted SubmitStatus = "submitted"
	StatusDuplicate SubmitStatus = "duplicate"
	StatusBlocked   SubmitStatus = "blocked" // admission predicate or transport breaker
	StatusFailed    SubmitStatus = "failed"
)

// SubmitResult is the structured outcome of Submit. Duplicates and blocks
// are expected outcomes, not errors.
type SubmitResult struct {
	Status     SubmitStatus
	Attempts   int
	TotalDelay time.Duration
	Latency    time.Duration
	Reason     string
	Errors     []string
}

// SubmitterConfig bundles the reliability layer parameters.
type SubmitterConfig struct {
	Guard   DuplicateGuardConfig `yaml:"duplicate_guard"`
	Retry   RetryConfig          `yaml:"retry"`
	Latency LatencyConfig        `yaml:"latency"`
	// Transport breaker trips after this many consecutive broker failures.
	BreakerConsecutiveFailures uint32        `yaml:"breaker_consecutive_failures"` // default 5
	BreakerTimeout             time.Duration `yaml:"breaker_timeout"`              // default 60s
	// Submission rate limit (orders per second, burst = limit).
	RateLimit float64 `yaml:"rate_limit"` // default 10
}

// DefaultSubmitterConfig returns production reliability parameters.
func DefaultSubmitterConfig() SubmitterConfig {
	return SubmitterConfig{
		Guard:                      DefaultDuplicateGuardConfig(),
		Retry:                      DefaultRetryConfig(),
		Latency:                    DefaultLatencyConfig(),
		BreakerConsecutiveFailures: 5,
		BreakerTimeout:             60 * time.Second,
		RateLimit:                  10,
	}
}

// AdmissionFunc reports whether order admission is currently allowed.
// Typically backed by the drawdown circuit breaker.
type AdmissionFunc func() bool

// Submitter is the reliability layer around a broker adapter: duplicate
// prevention, admission gating, rate limiting, transport circuit breaking,
// retry with backoff, and latency tracking.
type Submitter struct {
	broker    Broker
	guard     *DuplicateGuard
	retry     *RetryEngine
	latency   *LatencyTracker
	transport *gobreaker.CircuitBreaker
	limiter   *rate.Limiter
	admission AdmissionFunc
	metrics   *metrics.Registry
}

// NewSubmitter wires the reliability layer. metrics may be nil (no-op).
func NewSubmitter(broker Broker, config SubmitterConfig, admission AdmissionFunc, reg *metrics.Registry) (*Submitter, error) {
	guard, err := NewDuplicateGuard(config.Guard)
	if err != nil {
		return nil, err
	}
	retry, err := NewRetryEngine(config.Retry)
	if err != nil {
		return nil, err
	}

	consecutive := config.BreakerConsecutiveFailures
	if consecutive == 0 {
		consecutive = 5
	}
	timeout := config.BreakerTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	st := gobreaker.Settings{
		Name:    fmt.Sprintf("broker:%s", broker.Name()),
		Timeout: timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= consecutive
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("submitter: transport breaker state change")
		},
	}

	limit := config.RateLimit
	if limit <= 0 {
		limit = 10
	}

	return &Submitter{
		broker:    broker,
		guard:     guard,
		retry:     retry,
		latency:   NewLatencyTracker(config.Latency),
		transport: gobreaker.NewCircuitBreaker(st),
		limiter:   rate.NewLimiter(rate.Limit(limit), int(limit)),
		admission: admission,
		metrics:   reg,
	}, nil
}

// Guard exposes the duplicate guard, mainly for orchestration and tests.
func (s *Submitter) Guard() *DuplicateGuard { return s.guard }

// LatencyStats returns rolling latency statistics for this submitter's broker.
func (s *Submitter) LatencyStats() LatencyStats { return s.latency.Stats(s.broker.Name()) }

// Submit pushes an approved order intent through the reliability layer.
func (s *Submitter) Submit(ctx context.Context, intent OrderIntent) SubmitResult {
	if intent.IdempotencyKey == "" {
		intent.IdempotencyKey = IdempotencyKey(intent.Symbol, intent.Side, intent.Quantity, intent.Price, intent.OrderType)
	}

	if s.guard.CheckAndReserve(intent.Symbol, intent.Side, intent.Quantity, intent.Price, intent.OrderType, intent.IdempotencyKey) {
		if s.metrics != nil {
			s.metrics.DuplicatesBlocked.Inc()
		}
		return SubmitResult{Status: StatusDuplicate, Reason: "duplicate order blocked"}
	}

	if s.admission != nil && !s.admission() {
		return SubmitResult{Status: StatusBlocked, Reason: "order admission blocked by circuit breaker"}
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return SubmitResult{Status: StatusFailed, Reason: fmt.Sprintf("rate limiter: %s", err)}
	}

	start := s.latency.Start()
	retryResult := s.retry.Execute("submit", intent.ID, func() error {
		_, err := s.transport.Execute(func() (interface{}, error) {
			return nil, s.broker.Submit(ctx, intent)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			// Transport breaker open: connectivity problem, worth retrying.
			return NewRetryableError(err.Error())
		}
		return err
	}, s.admission)
	elapsed := s.latency.Record(s.broker.Name(), "submit", intent.ID, start, retryResult.Success)

	if s.metrics != nil {
		outcome := "success"
		if !retryResult.Success {
			outcome = "failure"
		}
		s.metrics.RetryAttempts.WithLabelValues(outcome).Add(float64(retryResult.Attempts))
		s.metrics.SubmitLatency.WithLabelValues(s.broker.Name(), "submit").Observe(elapsed.Seconds())
	}

	if !retryResult.Success {
		return SubmitResult{
			Status:     StatusFailed,
			Attempts:   retryResult.Attempts,
			TotalDelay: retryResult.TotalDelay,
			Latency:    elapsed,
			Reason:     retryResult.LastError,
			Errors:     retryResult.Errors,
		}
	}

	s.guard.RecordOrderSent(intent.Symbol, intent.IdempotencyKey)
	log.Info().
		Str("order_id", intent.ID).
		Str("symbol", intent.Symbol).
		Str("side", intent.Side).
		Float64("quantity", intent.Quantity).
		Int("attempts", retryResult.Attempts).
		Dur("latency", elapsed).
		Msg("submitter: order submitted")

	return SubmitResult{
		Status:     StatusSubmitted,
		Attempts:   retryResult.Attempts,
		TotalDelay: retryResult.TotalDelay,
		Latency:    elapsed,
		Errors:     retryResult.Errors,
	}
}

// Cancel cancels an order through the same reliability path (no duplicate
// guard; cancels are idempotent at the broker).
func (s *Submitter) Cancel(ctx context.Context, orderID string) SubmitResult {
	start := s.latency.Start()
	retryResult := s.retry.Execute("cancel", orderID, func() error {
		_, err := s.transport.Execute(func() (interface{}, error) {
			return nil, s.broker.Cancel(ctx, orderID)
		})
		return err
	}, nil)
	elapsed := s.latency.Record(s.broker.Name(), "cancel", orderID, start, retryResult.Success)

	if s.metrics != nil {
		s.metrics.SubmitLatency.WithLabelValues(s.broker.Name(), "cancel").Observe(elapsed.Seconds())
	}

	status := StatusSubmitted
	if !retryResult.Success {
		status = StatusFailed
	}
	return SubmitResult{
		Status:     status,
		Attempts:   retryResult.Attempts,
		TotalDelay: retryResult.TotalDelay,
		Latency:    elapsed,
		Reason:     retryResult.LastError,
		Errors:     retryResult.Errors,
	}
}

// Modify updates an order through the same reliability path.
func (s *Submitter) Modify(ctx context.Context, intent OrderIntent) SubmitResult {
	start := s.latency.Start()
	retryResult := s.retry.Execute("modify", intent.ID, func() error {
		_, err := s.transport.Execute(func() (interface{}, error) {
			return nil, s.broker.Modify(ctx, intent)
		})
		return err
	}, s.admission)
	elapsed := s.latency.Record(s.broker.Name(), "modify", intent.ID, start, retryResult.Success)

	if s.metrics != nil {
		s.metrics.SubmitLatency.WithLabelValues(s.broker.Name(), "modify").Observe(elapsed.Seconds())
	}

	status := StatusSubmitted
	if !retryResult.Success {
		status = StatusFailed
	}
	return SubmitResult{
		Status:     status,
		Attempts:   retryResult.Attempts,
		TotalDelay: retryResult.TotalDelay,
		Latency:    elapsed,
		Reason:     retryResult.LastError,
		Errors:     retryResult.Errors,
	}
}
