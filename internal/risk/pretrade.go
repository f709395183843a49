package risk

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// PreTradeConfig contains hard limits enforced before any order submission.
type PreTradeConfig struct {
	MaxPositionPct         float64 `yaml:"max_position_pct"`           // % of balance per position, default 10
	MaxRiskPerTradePct     float64 `yaml:"max_risk_per_trade_pct"`     // % of balance at risk per trade, default 2
	MaxConcurrentPositions int     `yaml:"max_concurrent_positions"`   // default 10
	MaxLeverage            int     `yaml:"max_leverage"`               // default 10
	MinRiskReward          float64 `yaml:"min_risk_reward"`            // warning only, default 1.5
	MaxDailyTrades         int     `yaml:"max_daily_trades"`           // default 50
	MaxDailyLossPct        float64 `yaml:"max_daily_loss_pct"`         // % of balance lost today, default 5
}

// DefaultPreTradeConfig returns production risk limits.
func DefaultPreTradeConfig() PreTradeConfig {
	return PreTradeConfig{
		MaxPositionPct:         10.0,
		MaxRiskPerTradePct:     2.0,
		MaxConcurrentPositions: 10,
		MaxLeverage:            10,
		MinRiskReward:          1.5,
		MaxDailyTrades:         50,
		MaxDailyLossPct:        5.0,
	}
}

// Validate rejects non-sensical limit combinations at construction time.
func (c PreTradeConfig) Validate() error {
	if c.MaxPositionPct <= 0 || c.MaxPositionPct > 100 {
		return fmt.Errorf("pretrade: max_position_pct must be in (0,100], got %f", c.MaxPositionPct)
	}
	if c.MaxRiskPerTradePct <= 0 {
		return fmt.Errorf("pretrade: max_risk_per_trade_pct must be positive, got %f", c.MaxRiskPerTradePct)
	}
	if c.MaxConcurrentPositions <= 0 {
		return fmt.Errorf("pretrade: max_concurrent_positions must be positive, got %d", c.MaxConcurrentPositions)
	}
	if c.MaxLeverage <= 0 {
		return fmt.Errorf("pretrade: max_leverage must be positive, got %d", c.MaxLeverage)
	}
	if c.MaxDailyTrades <= 0 {
		return fmt.Errorf("pretrade: max_daily_trades must be positive, got %d", c.MaxDailyTrades)
	}
	if c.MaxDailyLossPct <= 0 {
		return fmt.Errorf("pretrade: max_daily_loss_pct must be positive, got %f", c.MaxDailyLossPct)
	}
	return nil
}

// Position is the minimal view of an open position the gate needs.
type Position struct {
	Symbol   string
	Side     string
	Quantity float64
}

// OrderRequest carries the candidate order through the pre-trade gate.
type OrderRequest struct {
	Symbol     string
	Side       string
	Quantity   float64
	Price      float64
	StopLoss   float64
	TakeProfit float64
	Leverage   int
}

// AccountState is the portfolio context the gate validates against.
type AccountState struct {
	Balance            float64
	Positions          map[string]Position
	DailyTrades        int
	DailyPnL           float64
	BreakerClear       bool
	DrawdownMultiplier float64 // 1.0 = no reduction
}

// PreTradeDecision is the structured outcome of the gate. A rejection is an
// expected business result, not an error.
type PreTradeDecision struct {
	Approved     bool     `json:"approved"`
	AdjustedSize float64  `json:"adjusted_size,omitempty"` // 0 = unchanged
	Rejections   []string `json:"rejections,omitempty"`
	Warnings     []string `json:"warnings,omitempty"`
	RiskScore    float64  `json:"risk_score"` // 0-100, higher = riskier
}

// PreTradeGate runs the ordered pre-trade validation rules. The circuit
// breaker rule rejects unconditionally; later rules may clamp size or attach
// warnings without rejecting.
type PreTradeGate struct {
	config PreTradeConfig
}

// NewPreTradeGate validates the config and returns the gate.
func NewPreTradeGate(config PreTradeConfig) (*PreTradeGate, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &PreTradeGate{config: config}, nil
}

// Check evaluates all pre-trade rules in priority order and returns the
// decision with an accumulated 0-100 risk score.
func (g *PreTradeGate) Check(order OrderRequest, account AccountState) PreTradeDecision {
	decision := PreTradeDecision{Approved: true}
	quantity := order.Quantity
	var riskScore float64

	// Circuit breaker has absolute priority: nothing else is evaluated.
	if !account.BreakerClear {
		decision.Approved = false
		decision.Rejections = append(decision.Rejections, "circuit breaker is tripped - no trading allowed")
		return decision
	}

	// Position value vs balance: clamp rather than reject.
	if account.Balance > 0 {
		positionPct := order.Quantity * order.Price / account.Balance * 100
		if positionPct > g.config.MaxPositionPct {
			maxQty := account.Balance * g.config.MaxPositionPct / 100 / order.Price
			decision.AdjustedSize = maxQty
			decision.Warnings = append(decision.Warnings, fmt.Sprintf(
				"position size %.1f%% exceeds %.1f%% limit, adjusted to %.6f",
				positionPct, g.config.MaxPositionPct, maxQty))
			quantity = maxQty
			riskScore += 20
		}
	}

	// Risk per trade: stop distance times size against balance.
	if order.StopLoss > 0 && account.Balance > 0 {
		riskPerUnit := order.Price - order.StopLoss
		if !isBuy(order.Side) {
			riskPerUnit = order.StopLoss - order.Price
		}
		riskPct := abs(riskPerUnit*quantity) / account.Balance * 100
		if riskPct > g.config.MaxRiskPerTradePct {
			decision.Approved = false
			decision.Rejections = append(decision.Rejections, fmt.Sprintf(
				"risk per trade %.2f%% exceeds %.2f%% limit",
				riskPct, g.config.MaxRiskPerTradePct))
			riskScore += 30
		}
	}

	if len(account.Positions) >= g.config.MaxConcurrentPositions {
		decision.Approved = false
		decision.Rejections = append(decision.Rejections, fmt.Sprintf(
			"max concurrent positions reached (%d/%d)",
			len(account.Positions), g.config.MaxConcurrentPositions))
		riskScore += 15
	}

	if order.Leverage > g.config.MaxLeverage {
		decision.Approved = false
		decision.Rejections = append(decision.Rejections, fmt.Sprintf(
			"leverage %dx exceeds max %dx", order.Leverage, g.config.MaxLeverage))
		riskScore += 25
	}

	// Reward:risk below minimum is a warning, never a rejection.
	if order.StopLoss > 0 && order.TakeProfit > 0 && order.Price > 0 {
		risk := abs(order.Price - order.StopLoss)
		reward := abs(order.TakeProfit - order.Price)
		if !isBuy(order.Side) {
			risk = abs(order.StopLoss - order.Price)
			reward = abs(order.Price - order.TakeProfit)
		}
		if risk > 0 {
			if rr := reward / risk; rr < g.config.MinRiskReward {
				decision.Warnings = append(decision.Warnings, fmt.Sprintf(
					"risk/reward %.2f below minimum %.2f", rr, g.config.MinRiskReward))
				riskScore += 10
			}
		}
	}

	if account.DailyTrades >= g.config.MaxDailyTrades {
		decision.Approved = false
		decision.Rejections = append(decision.Rejections, fmt.Sprintf(
			"daily trade limit reached (%d/%d)",
			account.DailyTrades, g.config.MaxDailyTrades))
		riskScore += 10
	}

	// Realized loss today against the daily loss budget.
	if account.DailyPnL < 0 && account.Balance > 0 {
		lossPct := -account.DailyPnL / account.Balance * 100
		if lossPct >= g.config.MaxDailyLossPct {
			decision.Approved = false
			decision.Rejections = append(decision.Rejections, fmt.Sprintf(
				"daily loss %.2f%% reached %.2f%% limit - trading halted for today",
				lossPct, g.config.MaxDailyLossPct))
			riskScore += 20
		}
	}

	// Drawdown protector scales size down when active; skip if already clamped.
	if account.DrawdownMultiplier > 0 && account.DrawdownMultiplier < 1.0 && decision.AdjustedSize == 0 {
		decision.AdjustedSize = quantity * account.DrawdownMultiplier
		decision.Warnings = append(decision.Warnings, fmt.Sprintf(
			"position reduced by drawdown protector to %.0f%% of normal size",
			account.DrawdownMultiplier*100))
		riskScore += 15
	}

	// Adding to an existing same-direction position is allowed but flagged.
	if existing, ok := account.Positions[order.Symbol]; ok {
		if strings.EqualFold(existing.Side, order.Side) {
			decision.Warnings = append(decision.Warnings, fmt.Sprintf(
				"adding to existing %s position in %s", strings.ToUpper(order.Side), order.Symbol))
			riskScore += 10
		}
	}

	if riskScore > 100 {
		riskScore = 100
	}
	decision.RiskScore = riskScore

	if decision.Approved {
		log.Debug().
			Str("symbol", order.Symbol).
			Str("side", order.Side).
			Float64("quantity", quantity).
			Float64("risk_score", riskScore).
			Msg("pretrade: approved")
	} else {
		log.Warn().
			Str("symbol", order.Symbol).
			Str("side", order.Side).
			Strs("rejections", decision.Rejections).
			Msg("pretrade: rejected")
	}

	return decision
}

func isBuy(side string) bool {
	s := strings.ToUpper(side)
	return s == "BUY" || s == "LONG"
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
