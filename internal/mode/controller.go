package mode

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gannquant/tradecore/internal/metrics"
)

const maxHistory = 200

// TransitionEvent is one entry of the append-only mode audit trail.
type TransitionEvent struct {
	Timestamp   time.Time `json:"timestamp"`
	From        Mode      `json:"from_mode"`
	To          Mode      `json:"to_mode"`
	Reason      string    `json:"reason"`
	InitiatedBy string    `json:"initiated_by"` // user, regime_agent, system, emergency
	Success     bool      `json:"success"`
}

// SwitchResult is the structured outcome of a mode switch request. Invalid
// transitions are expected outcomes, not errors.
type SwitchResult struct {
	Success         bool   `json:"success"`
	PendingApproval bool   `json:"pending_approval,omitempty"`
	Reason          string `json:"reason,omitempty"` // rejection reason when !Success
	PreviousMode    Mode   `json:"previous_mode"`
	NewMode         Mode   `json:"new_mode"`
}

// Observer receives mode-change notifications. Name identifies failing
// subscribers in logs. Failures never abort a transition.
type Observer interface {
	Name() string
	OnModeChange(from, to Mode, reason string) error
}

// EmergencyObserver additionally receives emergency-revert notifications.
type EmergencyObserver interface {
	Name() string
	OnEmergencyRevert(from Mode, reason string) error
}

// Controller is the single authority over the global operating mode. All
// mutations serialize behind one mutex; SwitchMode, EmergencyRevert, and
// RestorePrevious share the unexported switchLocked path so no re-entrant
// lock is needed.
type Controller struct {
	mu sync.Mutex

	current  Mode
	previous Mode
	history  []TransitionEvent

	observers          []Observer
	emergencyObservers []EmergencyObserver

	store   Store
	metrics *metrics.Registry
}

// NewController loads persisted state from the store. On read failure it
// falls back to the default HYBRID mode and logs the degradation. store and
// reg may be nil.
func NewController(store Store, reg *metrics.Registry) *Controller {
	c := &Controller{
		current:  Hybrid,
		previous: RuleOnly,
		store:    store,
		metrics:  reg,
	}

	if store != nil {
		state, err := store.Load()
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("mode: could not load persisted state, defaulting to HYBRID")
		case !state.CurrentMode.Valid():
			log.Warn().Int("mode", int(state.CurrentMode)).Msg("mode: persisted mode invalid, defaulting to HYBRID")
		default:
			c.current = state.CurrentMode
			c.previous = state.PreviousMode
		}
	}

	log.Info().
		Int("mode", int(c.current)).
		Str("name", c.current.String()).
		Msg("mode: controller initialized")
	return c
}

// Current returns the active operating mode.
func (c *Controller) Current() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Previous returns the mode before the last transition.
func (c *Controller) Previous() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.previous
}

// IsAIActive reports whether any AI agents participate in the current mode.
func (c *Controller) IsAIActive() bool { return c.Current() >= AIAssisted }

// IsAutonomous reports whether autonomous trading is active.
func (c *Controller) IsAutonomous() bool { return c.Current() == GuardedAutonomous }

// ActiveEngines returns the engines enabled in the current mode.
func (c *Controller) ActiveEngines() []string { return Info[c.Current()].Engines }

// ActiveAgents returns the agents enabled in the current mode.
func (c *Controller) ActiveAgents() []string { return Info[c.Current()].Agents }

// IsEngineActive reports whether the named engine runs in the current mode.
func (c *Controller) IsEngineActive(name string) bool {
	for _, e := range c.ActiveEngines() {
		if e == name {
			return true
		}
	}
	return false
}

// IsAgentActive reports whether the named agent runs in the current mode.
func (c *Controller) IsAgentActive(name string) bool {
	for _, a := range c.ActiveAgents() {
		if a == name {
			return true
		}
	}
	return false
}

// OnModeChange registers a generic mode-change observer.
func (c *Controller) OnModeChange(obs Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, obs)
}

// OnEmergencyRevert registers a dedicated emergency observer.
func (c *Controller) OnEmergencyRevert(obs EmergencyObserver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emergencyObservers = append(c.emergencyObservers, obs)
}

// SwitchMode requests a transition to target. Unless force is set or target
// is RuleOnly, the transition must be in the allow-list for the current
// mode. GuardedAutonomous additionally requires initiatedBy "user" or
// "emergency"; other initiators receive PendingApproval without mutation.
func (c *Controller) SwitchMode(target Mode, reason, initiatedBy string, force bool) SwitchResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !target.Valid() {
		return SwitchResult{
			Reason:       fmt.Sprintf("invalid mode %d, must be 0-4", int(target)),
			PreviousMode: c.previous,
			NewMode:      c.current,
		}
	}

	if target == c.current {
		return SwitchResult{
			Success:      true,
			Reason:       fmt.Sprintf("already in mode %d (%s)", int(target), target),
			PreviousMode: c.previous,
			NewMode:      c.current,
		}
	}

	// Reverting to RuleOnly is always allowed; everything else follows the
	// allow-list unless forced.
	if !force && target != RuleOnly && !transitionAllowed(c.current, target) {
		return SwitchResult{
			Reason: fmt.Sprintf("transition M%d->M%d not allowed, allowed targets: %v",
				int(c.current), int(target), allowedTransitions[c.current]),
			PreviousMode: c.previous,
			NewMode:      c.current,
		}
	}

	if target == GuardedAutonomous && initiatedBy != "user" && initiatedBy != "emergency" {
		return SwitchResult{
			PendingApproval: true,
			Reason:          "mode 4 (GUARDED_AUTONOMOUS) requires explicit human approval",
			PreviousMode:    c.previous,
			NewMode:         c.current,
		}
	}

	return c.switchLocked(target, reason, initiatedBy)
}

// EmergencyRevert unconditionally forces RuleOnly, bypassing all transition
// validation, and fires the dedicated emergency observers. It always
// succeeds.
func (c *Controller) EmergencyRevert(reason string) SwitchResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	from := c.current
	result := c.switchLocked(RuleOnly, "EMERGENCY: "+reason, "emergency")

	for _, obs := range c.emergencyObservers {
		c.notifyEmergency(obs, from, reason)
	}
	if c.metrics != nil {
		c.metrics.EmergencyReverts.Inc()
	}

	log.Error().
		Int("from", int(from)).
		Str("reason", reason).
		Msg("mode: EMERGENCY REVERT to RULE_ONLY")
	return result
}

// RestorePrevious switches back to the previous mode as "system". Fails
// when the previous mode equals the current one. Restoring into
// GuardedAutonomous still requires human approval, same as SwitchMode.
func (c *Controller) RestorePrevious(reason string) SwitchResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.previous == c.current {
		return SwitchResult{
			Reason:       "no previous mode to restore",
			PreviousMode: c.previous,
			NewMode:      c.current,
		}
	}

	target := c.previous
	if target != RuleOnly && !transitionAllowed(c.current, target) {
		return SwitchResult{
			Reason: fmt.Sprintf("transition M%d->M%d not allowed, allowed targets: %v",
				int(c.current), int(target), allowedTransitions[c.current]),
			PreviousMode: c.previous,
			NewMode:      c.current,
		}
	}
	if target == GuardedAutonomous {
		return SwitchResult{
			PendingApproval: true,
			Reason:          "mode 4 (GUARDED_AUTONOMOUS) requires explicit human approval",
			PreviousMode:    c.previous,
			NewMode:         c.current,
		}
	}
	return c.switchLocked(target, reason, "system")
}

// switchLocked performs the transition. Callers hold the mutex and have
// already validated the request.
func (c *Controller) switchLocked(target Mode, reason, initiatedBy string) SwitchResult {
	from := c.current
	if target != from {
		c.previous = from
		c.current = target
	}

	// Persistence failure is degraded, not fatal: the in-memory transition
	// stands and the error is logged.
	if c.store != nil {
		state := State{
			CurrentMode:  c.current,
			PreviousMode: c.previous,
			LastChanged:  time.Now().UTC(),
			ChangedBy:    initiatedBy,
			ChangeReason: reason,
		}
		if err := c.store.Save(state); err != nil {
			log.Error().Err(err).Msg("mode: persist failed, continuing on in-memory state")
		}
	}

	event := TransitionEvent{
		Timestamp:   time.Now().UTC(),
		From:        from,
		To:          target,
		Reason:      reason,
		InitiatedBy: initiatedBy,
		Success:     true,
	}
	c.history = append(c.history, event)
	if len(c.history) > maxHistory {
		c.history = c.history[len(c.history)-maxHistory:]
	}

	for _, obs := range c.observers {
		c.notifyChange(obs, from, target, reason)
	}
	if c.metrics != nil {
		c.metrics.ModeSwitches.WithLabelValues(
			strconv.Itoa(int(from)), strconv.Itoa(int(target))).Inc()
	}

	log.Info().
		Int("from", int(from)).
		Int("to", int(target)).
		Str("from_name", from.String()).
		Str("to_name", target.String()).
		Str("reason", reason).
		Str("initiated_by", initiatedBy).
		Msg("mode: switched")

	return SwitchResult{Success: true, PreviousMode: from, NewMode: target}
}

// notifyChange delivers one observer callback, recovering panics so a bad
// subscriber can never abort a transition.
func (c *Controller) notifyChange(obs Observer, from, to Mode, reason string) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().
				Str("observer", obs.Name()).
				Interface("panic", r).
				Msg("mode: observer panicked during mode change")
		}
	}()
	if err := obs.OnModeChange(from, to, reason); err != nil {
		log.Warn().
			Str("observer", obs.Name()).
			Err(err).
			Msg("mode: observer failed during mode change")
	}
}

func (c *Controller) notifyEmergency(obs EmergencyObserver, from Mode, reason string) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().
				Str("observer", obs.Name()).
				Interface("panic", r).
				Msg("mode: emergency observer panicked")
		}
	}()
	if err := obs.OnEmergencyRevert(from, reason); err != nil {
		log.Warn().
			Str("observer", obs.Name()).
			Err(err).
			Msg("mode: emergency observer failed")
	}
}

// CanSwitchTo reports whether a switch to target would be allowed from the
// current mode (ignoring the approval requirement).
func (c *Controller) CanSwitchTo(target Mode) (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !target.Valid() {
		return false, fmt.Sprintf("invalid mode %d", int(target))
	}
	if target == c.current {
		return true, "already in this mode"
	}
	if target == RuleOnly {
		return true, "revert to RULE_ONLY always allowed"
	}
	if transitionAllowed(c.current, target) {
		return true, fmt.Sprintf("transition M%d->M%d allowed", int(c.current), int(target))
	}
	return false, fmt.Sprintf("transition M%d->M%d not allowed, allowed targets: %v",
		int(c.current), int(target), allowedTransitions[c.current])
}

// Status returns a snapshot for operator surfaces.
func (c *Controller) Status() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	info := Info[c.current]
	return map[string]interface{}{
		"current_mode":        int(c.current),
		"mode_name":           info.Name,
		"previous_mode":       int(c.previous),
		"risk_level":          info.RiskLevel,
		"requires_approval":   info.RequiresApproval,
		"active_engines":      info.Engines,
		"active_agents":       info.Agents,
		"is_ai_active":        c.current >= AIAssisted,
		"is_autonomous":       c.current == GuardedAutonomous,
		"allowed_transitions": allowedTransitions[c.current],
		"total_switches":      len(c.history),
	}
}

// History returns the most recent transition events, newest last.
func (c *Controller) History(limit int) []TransitionEvent {
	c.mu.Lock()
	defer c.mu.Unlock()

	if limit <= 0 || limit > len(c.history) {
		limit = len(c.history)
	}
	out := make([]TransitionEvent, limit)
	copy(out, c.history[len(c.history)-limit:])
	return out
}
