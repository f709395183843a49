package router

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gannquant/tradecore/internal/mode"
)

// Default thresholds. AI adjustments in AIAssisted mode are bounded to ±30%
// of these documented defaults.
const (
	DefaultRuleThreshold       = 0.55
	DefaultMLThreshold         = 0.60
	DefaultMLDominantThreshold = 0.70

	strongThreshold      = 0.80
	structuralFilterConf = 0.70
	aiAdjustmentBound    = 0.30
	maxSignalHistory     = 500
)

// Config holds the router thresholds.
type Config struct {
	RuleThreshold       float64 `yaml:"rule_confidence_threshold"` // default 0.55
	MLThreshold         float64 `yaml:"ml_probability_threshold"`  // default 0.60
	MLDominantThreshold float64 `yaml:"ml_dominant_threshold"`     // default 0.70
}

// DefaultConfig returns the documented default thresholds.
func DefaultConfig() Config {
	return Config{
		RuleThreshold:       DefaultRuleThreshold,
		MLThreshold:         DefaultMLThreshold,
		MLDominantThreshold: DefaultMLDominantThreshold,
	}
}

// Validate rejects thresholds outside (0,1).
func (c Config) Validate() error {
	for name, v := range map[string]float64{
		"rule_confidence_threshold": c.RuleThreshold,
		"ml_probability_threshold":  c.MLThreshold,
		"ml_dominant_threshold":     c.MLDominantThreshold,
	} {
		if v <= 0 || v >= 1 {
			return fmt.Errorf("router: %s must be in (0,1), got %f", name, v)
		}
	}
	return nil
}

// Router converts rule/ML/AI inputs into one decision, parameterized by the
// operating mode. Unknown modes fail closed to rule-only routing.
type Router struct {
	mu      sync.Mutex
	config  Config
	history []RoutedSignal
	routed  int64
}

// New validates the config and returns a router.
func New(config Config) (*Router, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Router{config: config}, nil
}

// Route produces the decision for one evaluation cycle. rule, ml, and ai may
// be nil when the corresponding engine produced nothing.
func (r *Router) Route(m mode.Mode, symbol string, rule *RuleSignal, ml *MLSignal, ai *AISignal) RoutedSignal {
	signal := RoutedSignal{
		ID:            uuid.NewString(),
		Timestamp:     time.Now().UTC(),
		Symbol:        symbol,
		Mode:          m,
		ModeName:      m.String(),
		Decision:      Hold,
		RuleSignal:    rule,
		MLSignal:      ml,
		AISignal:      ai,
		SourceWeights: map[string]float64{},
		Notes:         map[string]string{},
	}

	switch m {
	case mode.RuleOnly:
		r.routeRuleOnly(&signal)
	case mode.Hybrid:
		r.routeHybrid(&signal)
	case mode.MLDominant:
		r.routeMLDominant(&signal)
	case mode.AIAssisted:
		r.routeAIAssisted(&signal)
	case mode.GuardedAutonomous:
		r.routeGuardedAutonomous(&signal)
	default:
		log.Warn().Int("mode", int(m)).Msg("router: unknown mode, failing closed to rule-only routing")
		r.routeRuleOnly(&signal)
		signal.Notes["mode_fallback"] = fmt.Sprintf("unknown mode %d routed as RULE_ONLY", int(m))
	}

	if rule != nil {
		if signal.EntryPrice == 0 {
			signal.EntryPrice = rule.EntryPrice
		}
		if signal.StopLoss == 0 {
			signal.StopLoss = rule.StopLoss
		}
		if signal.TakeProfit == 0 {
			signal.TakeProfit = rule.TakeProfit
		}
	}

	r.mu.Lock()
	r.routed++
	r.history = append(r.history, signal)
	if len(r.history) > maxSignalHistory {
		r.history = r.history[len(r.history)-maxSignalHistory:]
	}
	r.mu.Unlock()

	log.Info().
		Str("symbol", symbol).
		Str("mode", signal.ModeName).
		Str("decision", string(signal.Decision)).
		Float64("confidence", signal.Confidence).
		Str("path", signal.RoutingPath).
		Msg("router: signal routed")

	return signal
}

// routeRuleOnly: decision from the rule signal alone; confidence at or above
// 0.80 promotes to the strong variant.
func (r *Router) routeRuleOnly(signal *RoutedSignal) {
	rule := signal.RuleSignal
	signal.SignalSources = []string{"gann_engine", "ehlers_engine"}
	signal.SourceWeights = map[string]float64{"gann_engine": 0.5, "ehlers_engine": 0.5}

	if rule == nil {
		signal.RoutingPath = "rule_only(no_data)"
		return
	}

	threshold := r.ruleThreshold()
	switch {
	case isLong(rule.Direction) && rule.Confidence >= threshold:
		signal.Decision = Buy
		if rule.Confidence >= strongThreshold {
			signal.Decision = StrongBuy
		}
	case isShort(rule.Direction) && rule.Confidence >= threshold:
		signal.Decision = Sell
		if rule.Confidence >= strongThreshold {
			signal.Decision = StrongSell
		}
	default:
		signal.Decision = Hold
	}
	signal.Confidence = rule.Confidence
	signal.RoutingPath = "rule_only"
}

// routeHybrid: the rule must qualify and ML must independently confirm.
// Failed confirmation is a normal HOLD outcome with reduced confidence.
func (r *Router) routeHybrid(signal *RoutedSignal) {
	rule := signal.RuleSignal
	signal.SignalSources = []string{"gann_engine", "ehlers_engine", "ml_engine"}
	signal.SourceWeights = map[string]float64{"gann_engine": 0.3, "ehlers_engine": 0.2, "ml_engine": 0.5}

	if rule == nil {
		signal.RoutingPath = "hybrid(no_rule_data)"
		return
	}

	mlProb := 0.5
	if signal.MLSignal != nil {
		mlProb = signal.MLSignal.Probability
	}

	ruleThreshold := r.ruleThreshold()
	mlThreshold := r.mlThreshold()

	switch {
	case isLong(rule.Direction) && rule.Confidence >= ruleThreshold:
		if mlProb >= mlThreshold {
			signal.Decision = Buy
			signal.Confidence = (rule.Confidence + mlProb) / 2
			signal.RoutingPath = "hybrid(rule_buy+ml_confirm)"
		} else {
			signal.Decision = Hold
			signal.Confidence = rule.Confidence * 0.3
			signal.RoutingPath = "hybrid(rule_buy+ml_reject)"
			signal.Notes["ml_rejection"] = fmt.Sprintf("ml probability %.2f below threshold %.2f", mlProb, mlThreshold)
		}
	case isShort(rule.Direction) && rule.Confidence >= ruleThreshold:
		if 1-mlProb >= mlThreshold {
			signal.Decision = Sell
			signal.Confidence = (rule.Confidence + (1 - mlProb)) / 2
			signal.RoutingPath = "hybrid(rule_sell+ml_confirm)"
		} else {
			signal.Decision = Hold
			signal.Confidence = rule.Confidence * 0.3
			signal.RoutingPath = "hybrid(rule_sell+ml_reject)"
			signal.Notes["ml_rejection"] = fmt.Sprintf("ml complement %.2f below threshold %.2f", 1-mlProb, mlThreshold)
		}
	default:
		signal.Decision = Hold
		signal.RoutingPath = "hybrid(no_rule_signal)"
	}
}

// routeMLDominant: ML picks the direction once the dominant threshold is
// crossed; a high-confidence contradicting rule signal suppresses the trade
// (structural filter).
func (r *Router) routeMLDominant(signal *RoutedSignal) {
	if signal.MLSignal == nil {
		r.routeRuleOnly(signal)
		signal.RoutingPath = "ml_dominant(fallback_to_rule)"
		return
	}

	signal.SignalSources = []string{"ml_engine", "gann_engine", "ehlers_engine"}
	signal.SourceWeights = map[string]float64{"ml_engine": 0.7, "gann_engine": 0.2, "ehlers_engine": 0.1}

	mlProb := signal.MLSignal.Probability
	dominant := r.mlDominantThreshold()

	var mlDirection Decision
	switch {
	case mlProb >= dominant:
		mlDirection = Buy
	case 1-mlProb >= dominant:
		mlDirection = Sell
	default:
		signal.Decision = Hold
		signal.RoutingPath = "ml_dominant(ml_neutral)"
		return
	}

	if rule := signal.RuleSignal; rule != nil && rule.Confidence >= structuralFilterConf {
		contradicts := (mlDirection == Buy && isShort(rule.Direction)) ||
			(mlDirection == Sell && isLong(rule.Direction))
		if contradicts {
			signal.Decision = Hold
			signal.Confidence = mlProb * 0.3
			signal.RoutingPath = "ml_dominant(structural_filter_blocked)"
			signal.Notes["structural_block"] = fmt.Sprintf(
				"ml %s blocked by strong rule %s signal", mlDirection, strings.ToUpper(rule.Direction))
			return
		}
	}

	signal.Decision = mlDirection
	if mlDirection == Sell {
		signal.Confidence = 1 - mlProb
	} else {
		signal.Confidence = mlProb
	}
	signal.RoutingPath = "ml_dominant(ml_signal_passed_filter)"
}

// routeAIAssisted: hybrid decision logic plus in-place AI threshold
// adjustments bounded to ±30% of the documented defaults.
func (r *Router) routeAIAssisted(signal *RoutedSignal) {
	r.routeHybrid(signal)
	signal.RoutingPath = fmt.Sprintf("ai_assisted(%s)", signal.RoutingPath)

	if ai := signal.AISignal; ai != nil && len(ai.ParameterAdjustments) > 0 {
		if v, ok := ai.ParameterAdjustments["ml_probability_threshold"]; ok {
			if r.applyAdjustment(&r.config.MLThreshold, v, DefaultMLThreshold) {
				signal.Notes["ai_adjusted_ml_threshold"] = fmt.Sprintf("%.4f", v)
			}
		}
		if v, ok := ai.ParameterAdjustments["rule_confidence_threshold"]; ok {
			if r.applyAdjustment(&r.config.RuleThreshold, v, DefaultRuleThreshold) {
				signal.Notes["ai_adjusted_rule_threshold"] = fmt.Sprintf("%.4f", v)
			}
		}
		if v, ok := ai.ParameterAdjustments["ml_dominant_threshold"]; ok {
			if r.applyAdjustment(&r.config.MLDominantThreshold, v, DefaultMLDominantThreshold) {
				signal.Notes["ai_adjusted_dominant_threshold"] = fmt.Sprintf("%.4f", v)
			}
		}
	}

	signal.SignalSources = append(signal.SignalSources, "ai_agents")
	signal.SourceWeights["ai_agents"] = 0.1
}

// routeGuardedAutonomous: hybrid decision by default; an externally approved
// AI proposal overrides direction and price levels.
func (r *Router) routeGuardedAutonomous(signal *RoutedSignal) {
	r.routeHybrid(signal)

	ai := signal.AISignal
	if ai != nil && ai.ApprovedProposal != nil && ai.ApprovedProposal.Status == "approved" {
		p := ai.ApprovedProposal
		switch {
		case isLong(p.Direction):
			signal.Decision = Buy
		case isShort(p.Direction):
			signal.Decision = Sell
		}
		if p.Confidence > signal.Confidence {
			signal.Confidence = p.Confidence
		}
		if p.EntryPrice > 0 {
			signal.EntryPrice = p.EntryPrice
		}
		if p.StopLoss > 0 {
			signal.StopLoss = p.StopLoss
		}
		if p.TakeProfit > 0 {
			signal.TakeProfit = p.TakeProfit
		}
		signal.RoutingPath = "guarded_autonomous(ai_approved_proposal)"
		signal.Notes["ai_proposal_id"] = p.ID
	} else {
		signal.RoutingPath = fmt.Sprintf("guarded_autonomous(%s)", signal.RoutingPath)
	}

	signal.SignalSources = append(signal.SignalSources, "ai_autonomous")
	signal.SourceWeights["ai_autonomous"] = 0.2
}

// applyAdjustment updates a live threshold when the proposed value stays
// within the allowed band around its default.
func (r *Router) applyAdjustment(target *float64, proposed, def float64) bool {
	if math.Abs(proposed-def)/def > aiAdjustmentBound {
		log.Warn().
			Float64("proposed", proposed).
			Float64("default", def).
			Msg("router: ai adjustment outside allowed band, ignored")
		return false
	}
	r.mu.Lock()
	*target = proposed
	r.mu.Unlock()
	return true
}

func (r *Router) ruleThreshold() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.config.RuleThreshold
}

func (r *Router) mlThreshold() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.config.MLThreshold
}

func (r *Router) mlDominantThreshold() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.config.MLDominantThreshold
}

// Stats summarizes routing activity and live thresholds.
func (r *Router) Stats() map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	dist := map[Decision]int{}
	var confSum float64
	for _, s := range r.history {
		dist[s.Decision]++
		confSum += s.Confidence
	}
	avgConf := 0.0
	if len(r.history) > 0 {
		avgConf = confSum / float64(len(r.history))
	}

	return map[string]interface{}{
		"total_signals":         r.routed,
		"decision_distribution": dist,
		"avg_confidence":        avgConf,
		"thresholds": map[string]float64{
			"rule_confidence": r.config.RuleThreshold,
			"ml_probability":  r.config.MLThreshold,
			"ml_dominant":     r.config.MLDominantThreshold,
		},
	}
}

// History returns the most recent routed signals, newest last.
func (r *Router) History(limit int) []RoutedSignal {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 || limit > len(r.history) {
		limit = len(r.history)
	}
	out := make([]RoutedSignal, limit)
	copy(out, r.history[len(r.history)-limit:])
	return out
}

func isLong(direction string) bool {
	d := strings.ToUpper(direction)
	return d == "BUY" || d == "LONG"
}

func isShort(direction string) bool {
	d := strings.ToUpper(direction)
	return d == "SELL" || d == "SHORT"
}
