package mode

// Mode is the system-wide operating stance governing which signal sources
// are trusted and whether human approval is mandatory.
type Mode int

const (
	RuleOnly          Mode = 0 // pure deterministic rule signals
	Hybrid            Mode = 1 // rule generates, ML confirms (default)
	MLDominant        Mode = 2 // ML primary, rule as structural filter
	AIAssisted        Mode = 3 // hybrid plus AI parameter adjustment
	GuardedAutonomous Mode = 4 // AI proposals via validation gate, human approval required
)

// Valid reports whether m is a defined operating mode.
func (m Mode) Valid() bool { return m >= RuleOnly && m <= GuardedAutonomous }

func (m Mode) String() string {
	if info, ok := Info[m]; ok {
		return info.Name
	}
	return "UNKNOWN"
}

// ModeInfo is the static metadata attached to each operating mode.
type ModeInfo struct {
	Name             string
	Description      string
	Engines          []string
	Agents           []string
	RiskLevel        string
	RequiresApproval bool
}

// Info holds the metadata table for all modes. Only GuardedAutonomous
// requires explicit human approval.
var Info = map[Mode]ModeInfo{
	RuleOnly: {
		Name:        "RULE_ONLY",
		Description: "Pure deterministic trading from rule engines",
		Engines:     []string{"gann", "ehlers"},
		RiskLevel:   "minimal",
	},
	Hybrid: {
		Name:        "HYBRID",
		Description: "Rule generates signal, ML confirms",
		Engines:     []string{"gann", "ehlers", "ml"},
		RiskLevel:   "low",
	},
	MLDominant: {
		Name:        "ML_DOMINANT",
		Description: "ML primary signal, rule as structural filter",
		Engines:     []string{"ml", "gann_filter", "ehlers_filter"},
		RiskLevel:   "medium",
	},
	AIAssisted: {
		Name:        "AI_ASSISTED",
		Description: "AI advisory and parameter optimization, no trade orders",
		Engines:     []string{"gann", "ehlers", "ml"},
		Agents:      []string{"analyst", "regime", "optimizer"},
		RiskLevel:   "medium_high",
	},
	GuardedAutonomous: {
		Name:             "GUARDED_AUTONOMOUS",
		Description:      "AI trade proposals via validation gate and human approval",
		Engines:          []string{"gann", "ehlers", "ml", "ai"},
		Agents:           []string{"analyst", "regime", "optimizer", "autonomous"},
		RiskLevel:        "high_guarded",
		RequiresApproval: true,
	},
}

// allowedTransitions is the fixed per-state allow-list. GuardedAutonomous is
// only reachable from AIAssisted; reverting to RuleOnly is always allowed
// regardless of this table.
var allowedTransitions = map[Mode][]Mode{
	RuleOnly:          {Hybrid, MLDominant, AIAssisted},
	Hybrid:            {RuleOnly, MLDominant, AIAssisted},
	MLDominant:        {RuleOnly, Hybrid, AIAssisted},
	AIAssisted:        {RuleOnly, Hybrid, MLDominant, GuardedAutonomous},
	GuardedAutonomous: {RuleOnly, Hybrid, MLDominant, AIAssisted},
}

// AllowedTransitions returns the allow-list for the given mode.
func AllowedTransitions(from Mode) []Mode {
	return allowedTransitions[from]
}

func transitionAllowed(from, to Mode) bool {
	for _, m := range allowedTransitions[from] {
		if m == to {
			return true
		}
	}
	return false
}
