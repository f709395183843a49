package router

import (
	"time"

	"github.com/gannquant/tradecore/internal/mode"
)

// Decision is the routed trading decision.
type Decision string

const (
	Buy        Decision = "BUY"
	Sell       Decision = "SELL"
	Hold       Decision = "HOLD"
	StrongBuy  Decision = "STRONG_BUY"
	StrongSell Decision = "STRONG_SELL"
)

// RuleSignal is the deterministic rule-engine input.
type RuleSignal struct {
	Direction  string  `json:"direction"` // BUY/LONG, SELL/SHORT, HOLD
	Confidence float64 `json:"confidence"`
	EntryPrice float64 `json:"entry_price"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
}

// MLSignal is the ML-engine input: probability that price goes up.
type MLSignal struct {
	Probability float64 `json:"probability"`
}

// Proposal is an AI trade proposal. Only proposals with Status "approved"
// (set by the external validation gate) may override the hybrid decision in
// GuardedAutonomous mode.
type Proposal struct {
	ID         string  `json:"proposal_id"`
	Status     string  `json:"status"`
	Direction  string  `json:"direction"`
	Confidence float64 `json:"confidence"`
	EntryPrice float64 `json:"entry_price"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
}

// AISignal is the AI-agent input: parameter adjustments in AIAssisted mode
// and an optional externally approved proposal in GuardedAutonomous mode.
type AISignal struct {
	ParameterAdjustments map[string]float64 `json:"parameter_adjustments,omitempty"`
	ApprovedProposal     *Proposal          `json:"approved_proposal,omitempty"`
}

// RoutedSignal is the immutable output of the router, consumed exactly once
// by the pre-trade gate. RoutingPath names the branch that produced the
// decision for audit.
type RoutedSignal struct {
	ID        string    `json:"signal_id"`
	Timestamp time.Time `json:"timestamp"`

	Symbol     string    `json:"symbol"`
	Decision   Decision  `json:"decision"`
	Confidence float64   `json:"confidence"`
	Mode       mode.Mode `json:"mode"`
	ModeName   string    `json:"mode_name"`

	RoutingPath string `json:"routing_path"`

	RuleSignal *RuleSignal `json:"rule_signal,omitempty"`
	MLSignal   *MLSignal   `json:"ml_signal,omitempty"`
	AISignal   *AISignal   `json:"ai_signal,omitempty"`

	EntryPrice float64 `json:"entry_price"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`

	SignalSources []string           `json:"signal_sources"`
	SourceWeights map[string]float64 `json:"source_weights"`
	Notes         map[string]string  `json:"notes,omitempty"`
}

// Actionable reports whether the decision calls for an order.
func (s RoutedSignal) Actionable() bool {
	return s.Decision != Hold
}
