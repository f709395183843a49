package risk

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// SimMethod selects how forward return sequences are generated.
type SimMethod string

const (
	SimBootstrap      SimMethod = "bootstrap"
	SimParametric     SimMethod = "parametric"
	SimBlockBootstrap SimMethod = "block_bootstrap"
)

// MonteCarloConfig holds simulator parameters.
type MonteCarloConfig struct {
	NSimulations  int     `yaml:"n_simulations"`   // default 10000
	RuinThreshold float64 `yaml:"ruin_threshold"`  // fraction of initial equity, default 0.5
	Seed          uint64  `yaml:"seed"`            // 0 = nondeterministic
	StepsForward  int     `yaml:"steps_forward"`   // trades simulated per path, default 500
}

// DefaultMonteCarloConfig returns production simulation parameters.
func DefaultMonteCarloConfig() MonteCarloConfig {
	return MonteCarloConfig{
		NSimulations:  10000,
		RuinThreshold: 0.5,
		StepsForward:  500,
	}
}

func (c MonteCarloConfig) validate() error {
	if c.NSimulations <= 0 {
		return fmt.Errorf("montecarlo: n_simulations must be positive, got %d", c.NSimulations)
	}
	if c.RuinThreshold <= 0 || c.RuinThreshold >= 1 {
		return fmt.Errorf("montecarlo: ruin_threshold must be in (0,1), got %f", c.RuinThreshold)
	}
	if c.StepsForward <= 0 {
		return fmt.Errorf("montecarlo: steps_forward must be positive, got %d", c.StepsForward)
	}
	return nil
}

// MonteCarloReport aggregates statistics over all simulated equity paths.
type MonteCarloReport struct {
	NSimulations int `json:"n_simulations"`
	NSteps       int `json:"n_steps"`

	MeanFinalEquity   float64 `json:"mean_final_equity"`
	MedianFinalEquity float64 `json:"median_final_equity"`
	WorstCaseEquity   float64 `json:"worst_case_equity_1pct"`
	BestCaseEquity    float64 `json:"best_case_equity_99pct"`
	StdFinalEquity    float64 `json:"std_final_equity"`

	MeanMaxDrawdown  float64 `json:"mean_max_drawdown"`
	WorstMaxDrawdown float64 `json:"worst_max_drawdown"` // 99th percentile of per-path max DD
	ProbOfRuin       float64 `json:"prob_of_ruin"`
	ProbOfProfit     float64 `json:"prob_of_profit"`

	EquityPercentiles   map[int]float64 `json:"equity_percentiles"`   // 1,5,25,50,75,95,99
	DrawdownPercentiles map[int]float64 `json:"drawdown_percentiles"` // 50,75,90,95,99

	CI95Lower float64 `json:"ci_95_lower"`
	CI95Upper float64 `json:"ci_95_upper"`
	CI99Lower float64 `json:"ci_99_lower"`
	CI99Upper float64 `json:"ci_99_upper"`
}

// PassesInstitutionalStandard reports whether the simulated distribution
// meets institutional risk limits: ruin probability below 1%, 99th-percentile
// max drawdown below 30%, mean max drawdown below 15%, and profit
// probability above 55%.
func (r MonteCarloReport) PassesInstitutionalStandard() bool {
	return r.ProbOfRuin < 0.01 &&
		r.WorstMaxDrawdown < 0.30 &&
		r.MeanMaxDrawdown < 0.15 &&
		r.ProbOfProfit > 0.55
}

// StressScenario shifts and rescales historical returns before simulation.
type StressScenario struct {
	ReturnShock   float64 `yaml:"return_shock"`
	VolMultiplier float64 `yaml:"vol_multiplier"`
}

// DefaultStressScenarios covers base case through black swan.
func DefaultStressScenarios() map[string]StressScenario {
	return map[string]StressScenario{
		"base_case":     {ReturnShock: 0.0, VolMultiplier: 1.0},
		"mild_stress":   {ReturnShock: -0.005, VolMultiplier: 1.5},
		"severe_stress": {ReturnShock: -0.01, VolMultiplier: 2.0},
		"crisis":        {ReturnShock: -0.02, VolMultiplier: 3.0},
		"black_swan":    {ReturnShock: -0.05, VolMultiplier: 5.0},
	}
}

// MonteCarloSimulator resamples historical trade returns into forward equity
// paths and aggregates ruin/drawdown statistics.
type MonteCarloSimulator struct {
	config MonteCarloConfig
}

// NewMonteCarloSimulator validates the configuration and returns a simulator.
func NewMonteCarloSimulator(config MonteCarloConfig) (*MonteCarloSimulator, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &MonteCarloSimulator{config: config}, nil
}

// Simulate generates equity paths from historical trade returns using the
// given method and aggregates the report. Returns are fractions per trade.
func (m *MonteCarloSimulator) Simulate(tradeReturns []float64, initialEquity float64, method SimMethod) (MonteCarloReport, error) {
	if len(tradeReturns) == 0 {
		return MonteCarloReport{}, fmt.Errorf("montecarlo: empty return series")
	}
	if initialEquity <= 0 {
		return MonteCarloReport{}, fmt.Errorf("montecarlo: initial equity must be positive, got %f", initialEquity)
	}
	if len(tradeReturns) < 10 {
		log.Warn().Int("n", len(tradeReturns)).Msg("montecarlo: fewer than 10 historical trades, results unreliable")
	}

	rng := m.newRand()
	nSims := m.config.NSimulations
	nSteps := m.config.StepsForward
	ruinLevel := initialEquity * m.config.RuinThreshold

	log.Info().
		Int("simulations", nSims).
		Int("steps", nSteps).
		Str("method", string(method)).
		Float64("initial_equity", initialEquity).
		Msg("montecarlo: starting simulation")

	var sample func() []float64
	switch method {
	case SimBootstrap, "":
		sample = func() []float64 { return bootstrapPath(tradeReturns, nSteps, rng) }
	case SimParametric:
		dist := fitReturnDistribution(tradeReturns, rng)
		sample = func() []float64 {
			path := make([]float64, nSteps)
			for i := range path {
				path[i] = dist.Rand()
			}
			return path
		}
	case SimBlockBootstrap:
		sample = func() []float64 { return blockBootstrapPath(tradeReturns, nSteps, rng) }
	default:
		return MonteCarloReport{}, fmt.Errorf("montecarlo: unknown simulation method %q", method)
	}

	finalEquities := make([]float64, nSims)
	maxDrawdowns := make([]float64, nSims)
	var ruinCount, profitCount int

	for i := 0; i < nSims; i++ {
		equity := initialEquity
		peak := initialEquity
		maxDD := 0.0
		ruined := false

		for _, r := range sample() {
			equity *= 1 + r
			if equity <= ruinLevel {
				ruined = true
			}
			if equity > peak {
				peak = equity
			}
			if dd := (peak - equity) / peak; dd > maxDD {
				maxDD = dd
			}
		}

		finalEquities[i] = equity
		maxDrawdowns[i] = maxDD
		if ruined {
			ruinCount++
		}
		if equity > initialEquity {
			profitCount++
		}
	}

	eqPct := map[int]float64{}
	for _, p := range []int{1, 5, 25, 50, 75, 95, 99} {
		eqPct[p] = quantile(finalEquities, float64(p)/100)
	}
	ddPct := map[int]float64{}
	for _, p := range []int{50, 75, 90, 95, 99} {
		ddPct[p] = quantile(maxDrawdowns, float64(p)/100)
	}

	report := MonteCarloReport{
		NSimulations:        nSims,
		NSteps:              nSteps,
		MeanFinalEquity:     stat.Mean(finalEquities, nil),
		MedianFinalEquity:   eqPct[50],
		WorstCaseEquity:     eqPct[1],
		BestCaseEquity:      eqPct[99],
		StdFinalEquity:      stat.PopStdDev(finalEquities, nil),
		MeanMaxDrawdown:     stat.Mean(maxDrawdowns, nil),
		WorstMaxDrawdown:    ddPct[99],
		ProbOfRuin:          float64(ruinCount) / float64(nSims),
		ProbOfProfit:        float64(profitCount) / float64(nSims),
		EquityPercentiles:   eqPct,
		DrawdownPercentiles: ddPct,
		CI95Lower:           eqPct[5],
		CI95Upper:           eqPct[95],
		CI99Lower:           eqPct[1],
		CI99Upper:           eqPct[99],
	}

	log.Info().
		Float64("mean_final_equity", report.MeanFinalEquity).
		Float64("prob_of_ruin", report.ProbOfRuin).
		Float64("prob_of_profit", report.ProbOfProfit).
		Float64("mean_max_drawdown", report.MeanMaxDrawdown).
		Float64("worst_max_drawdown", report.WorstMaxDrawdown).
		Msg("montecarlo: simulation complete")

	if !report.PassesInstitutionalStandard() {
		log.Warn().Msg("montecarlo: result fails institutional risk standard")
	}

	return report, nil
}

// StressTest runs the simulation under shifted/rescaled return scenarios.
func (m *MonteCarloSimulator) StressTest(tradeReturns []float64, initialEquity float64, scenarios map[string]StressScenario) (map[string]MonteCarloReport, error) {
	if scenarios == nil {
		scenarios = DefaultStressScenarios()
	}

	results := make(map[string]MonteCarloReport, len(scenarios))
	for name, sc := range scenarios {
		shocked := make([]float64, len(tradeReturns))
		mean := stat.Mean(tradeReturns, nil)
		for i, r := range tradeReturns {
			v := r + sc.ReturnShock
			if sc.VolMultiplier != 1.0 {
				v = mean + sc.ReturnShock + (r-mean)*sc.VolMultiplier
			}
			shocked[i] = v
		}

		log.Info().Str("scenario", name).Msg("montecarlo: stress scenario")
		report, err := m.Simulate(shocked, initialEquity, SimBootstrap)
		if err != nil {
			return nil, fmt.Errorf("montecarlo: scenario %s: %w", name, err)
		}
		results[name] = report
	}
	return results, nil
}

func (m *MonteCarloSimulator) newRand() *rand.Rand {
	seed := m.config.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	return rand.New(rand.NewSource(seed ^ 0x9e3779b97f4a7c15))
}

func bootstrapPath(returns []float64, nSteps int, rng *rand.Rand) []float64 {
	path := make([]float64, nSteps)
	for i := range path {
		path[i] = returns[rng.Intn(len(returns))]
	}
	return path
}

// blockBootstrapPath samples contiguous blocks to preserve autocorrelation.
// Block size is max(5, sqrt(n)).
func blockBootstrapPath(returns []float64, nSteps int, rng *rand.Rand) []float64 {
	blockSize := int(math.Sqrt(float64(len(returns))))
	if blockSize < 5 {
		blockSize = 5
	}
	if blockSize > len(returns) {
		blockSize = len(returns)
	}

	path := make([]float64, 0, nSteps+blockSize)
	for len(path) < nSteps {
		start := 0
		if len(returns) > blockSize {
			start = rng.Intn(len(returns) - blockSize)
		}
		path = append(path, returns[start:start+blockSize]...)
	}
	return path[:nSteps]
}

// returnSampler abstracts the fitted distribution used by parametric
// simulation.
type returnSampler interface {
	Rand() float64
}

// fitReturnDistribution fits a Student's t by moment matching to capture fat
// tails, falling back to a Gaussian when the sample kurtosis does not
// support a finite-variance t fit.
func fitReturnDistribution(returns []float64, rng *rand.Rand) returnSampler {
	mu := stat.Mean(returns, nil)
	sigma := stat.StdDev(returns, nil)
	if sigma == 0 {
		sigma = 1e-12
	}
	kurt := stat.ExKurtosis(returns, nil)

	if kurt > 0 {
		// Excess kurtosis of a t-distribution is 6/(nu-4) for nu > 4.
		nu := 6/kurt + 4
		if nu > 4 {
			scale := sigma * math.Sqrt((nu-2)/nu)
			return distuv.StudentsT{Mu: mu, Sigma: scale, Nu: nu, Src: rng}
		}
	}
	return distuv.Normal{Mu: mu, Sigma: sigma, Src: rng}
}
