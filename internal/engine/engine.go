// Package engine runs the per-tick decision cycle: current mode, signal
// routing, pre-trade validation, and reliable submission. It owns the
// explicit dependency container; there are no package-level singletons.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gannquant/tradecore/internal/exec"
	"github.com/gannquant/tradecore/internal/journal"
	"github.com/gannquant/tradecore/internal/metrics"
	"github.com/gannquant/tradecore/internal/mode"
	"github.com/gannquant/tradecore/internal/risk"
	"github.com/gannquant/tradecore/internal/router"
)

// Portfolio is the read view of account state the engine validates against.
type Portfolio interface {
	Balance() float64
	Equity() float64
	Positions() map[string]risk.Position
	DailyPnL() float64
}

// TickInput carries one evaluation cycle's signal inputs and sizing.
type TickInput struct {
	Symbol   string
	Rule     *router.RuleSignal
	ML       *router.MLSignal
	AI       *router.AISignal
	Quantity float64
	Leverage int
}

// Outcome summarizes where the cycle terminated.
type Outcome string

const (
	OutcomeHold      Outcome = "hold"
	OutcomeRejected  Outcome = "rejected"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeBlocked   Outcome = "blocked"
	OutcomeFailed    Outcome = "failed"
	OutcomeSubmitted Outcome = "submitted"
)

// TickResult is the full audit record of one evaluation cycle.
type TickResult struct {
	Outcome  Outcome
	Signal   router.RoutedSignal
	Decision *risk.PreTradeDecision
	Intent   *exec.OrderIntent
	Submit   *exec.SubmitResult
}

// Engine is the decision control plane assembled leaf-first: risk math and
// execution reliability at the bottom, mode control at the top.
type Engine struct {
	modes     *mode.Controller
	router    *router.Router
	gate      *risk.PreTradeGate
	protector *risk.DrawdownProtector
	submitter *exec.Submitter
	portfolio Portfolio
	journal   *journal.Journal // optional
	metrics   *metrics.Registry

	mu         sync.Mutex
	dailyDate  string
	dailyCount int
}

// New wires the engine. journal and reg may be nil.
func New(
	modes *mode.Controller,
	rt *router.Router,
	gate *risk.PreTradeGate,
	protector *risk.DrawdownProtector,
	submitter *exec.Submitter,
	portfolio Portfolio,
	jnl *journal.Journal,
	reg *metrics.Registry,
) (*Engine, error) {
	if modes == nil || rt == nil || gate == nil || protector == nil || submitter == nil || portfolio == nil {
		return nil, fmt.Errorf("engine: all core dependencies are required")
	}
	return &Engine{
		modes:     modes,
		router:    rt,
		gate:      gate,
		protector: protector,
		submitter: submitter,
		portfolio: portfolio,
		journal:   jnl,
		metrics:   reg,
	}, nil
}

// EvaluateTick runs one full decision cycle. Rejections, duplicates, and
// holds are normal outcomes; only infrastructure misuse returns an error.
func (e *Engine) EvaluateTick(ctx context.Context, input TickInput) (TickResult, error) {
	start := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.DecisionCycle.Observe(time.Since(start).Seconds())
		}
	}()

	if input.Symbol == "" {
		return TickResult{}, fmt.Errorf("engine: tick input requires a symbol")
	}

	// Keep the drawdown breaker current before any decision is made.
	e.protector.Update(e.portfolio.Equity())
	if e.protector.Tripped() && e.modes.Current() != mode.RuleOnly {
		log.Error().Str("symbol", input.Symbol).Msg("engine: breaker tripped, forcing emergency revert")
		e.modes.EmergencyRevert("drawdown circuit breaker tripped")
	}
	e.syncBreakerMetric()

	current := e.modes.Current()
	signal := e.router.Route(current, input.Symbol, input.Rule, input.ML, input.AI)
	result := TickResult{Outcome: OutcomeHold, Signal: signal}

	if !signal.Actionable() {
		return result, nil
	}

	side := "BUY"
	if signal.Decision == router.Sell || signal.Decision == router.StrongSell {
		side = "SELL"
	}

	order := risk.OrderRequest{
		Symbol:     input.Symbol,
		Side:       side,
		Quantity:   input.Quantity,
		Price:      signal.EntryPrice,
		StopLoss:   signal.StopLoss,
		TakeProfit: signal.TakeProfit,
		Leverage:   input.Leverage,
	}
	account := risk.AccountState{
		Balance:            e.portfolio.Balance(),
		Positions:          e.portfolio.Positions(),
		DailyTrades:        e.dailyTrades(),
		DailyPnL:           e.portfolio.DailyPnL(),
		BreakerClear:       !e.protector.Tripped(),
		DrawdownMultiplier: e.protector.SizeMultiplier(),
	}

	decision := e.gate.Check(order, account)
	result.Decision = &decision

	if !decision.Approved {
		result.Outcome = OutcomeRejected
		if e.metrics != nil {
			for _, r := range decision.Rejections {
				e.metrics.PreTradeRejects.WithLabelValues(rejectionRule(r)).Inc()
			}
		}
		return result, nil
	}

	quantity := input.Quantity
	if decision.AdjustedSize > 0 {
		quantity = decision.AdjustedSize
	}

	intent := exec.OrderIntent{
		ID:         signal.ID,
		Symbol:     input.Symbol,
		Side:       side,
		Quantity:   quantity,
		Price:      signal.EntryPrice,
		StopLoss:   signal.StopLoss,
		TakeProfit: signal.TakeProfit,
		Leverage:   input.Leverage,
		OrderType:  "market",
	}
	intent.IdempotencyKey = exec.IdempotencyKey(intent.Symbol, intent.Side, intent.Quantity, intent.Price, intent.OrderType)
	result.Intent = &intent

	submit := e.submitter.Submit(ctx, intent)
	result.Submit = &submit

	switch submit.Status {
	case exec.StatusSubmitted:
		result.Outcome = OutcomeSubmitted
		e.recordTrade()
	case exec.StatusDuplicate:
		result.Outcome = OutcomeDuplicate
	case exec.StatusBlocked:
		result.Outcome = OutcomeBlocked
	default:
		result.Outcome = OutcomeFailed
	}

	if e.journal != nil {
		e.journal.LogSubmission(journal.SubmissionRow{
			OccurredAt: time.Now().UTC(),
			OrderID:    intent.ID,
			Symbol:     intent.Symbol,
			Side:       intent.Side,
			Quantity:   intent.Quantity,
			Price:      intent.Price,
			Status:     string(submit.Status),
			Attempts:   submit.Attempts,
			LatencyMs:  float64(submit.Latency) / float64(time.Millisecond),
			Detail:     submit.Reason,
		})
	}

	// A breaker trip during or after submission forces the system back to
	// rule-only operation.
	if e.protector.Tripped() && e.modes.Current() != mode.RuleOnly {
		log.Error().Str("symbol", input.Symbol).Msg("engine: breaker tripped, forcing emergency revert")
		e.modes.EmergencyRevert("drawdown circuit breaker tripped")
	}
	e.syncBreakerMetric()

	return result, nil
}

// dailyTrades returns the trade count for today, lazily resetting on date
// change (no background timers in this core).
func (e *Engine) dailyTrades() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	today := time.Now().UTC().Format("2006-01-02")
	if e.dailyDate != today {
		e.dailyDate = today
		e.dailyCount = 0
	}
	return e.dailyCount
}

func (e *Engine) recordTrade() {
	e.mu.Lock()
	defer e.mu.Unlock()
	today := time.Now().UTC().Format("2006-01-02")
	if e.dailyDate != today {
		e.dailyDate = today
		e.dailyCount = 0
	}
	e.dailyCount++
}

func (e *Engine) syncBreakerMetric() {
	if e.metrics == nil {
		return
	}
	if e.protector.Tripped() {
		e.metrics.BreakerState.Set(1)
	} else {
		e.metrics.BreakerState.Set(0)
	}
}

// rejectionRule maps a human-readable rejection to a stable metric label.
func rejectionRule(rejection string) string {
	switch {
	case strings.Contains(rejection, "circuit breaker"):
		return "circuit_breaker"
	case strings.Contains(rejection, "risk per trade"):
		return "risk_per_trade"
	case strings.Contains(rejection, "concurrent positions"):
		return "max_positions"
	case strings.Contains(rejection, "leverage"):
		return "leverage"
	case strings.Contains(rejection, "daily trade limit"):
		return "daily_limit"
	case strings.Contains(rejection, "daily loss"):
		return "daily_loss"
	default:
		return "other"
	}
}
