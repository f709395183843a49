package risk

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// CVaRMethod selects the estimator used for tail-risk quantiles.
type CVaRMethod string

const (
	CVaRHistorical    CVaRMethod = "historical"
	CVaRParametric    CVaRMethod = "parametric"
	CVaRCornishFisher CVaRMethod = "cornish_fisher"
)

// annualizationFactors maps bar timeframe to the volatility annualization factor.
var annualizationFactors = map[string]float64{
	"1m":  math.Sqrt(252 * 24 * 60),
	"5m":  math.Sqrt(252 * 24 * 12),
	"15m": math.Sqrt(252 * 24 * 4),
	"1h":  math.Sqrt(252 * 24),
	"4h":  math.Sqrt(252 * 6),
	"1d":  math.Sqrt(252),
	"1w":  math.Sqrt(52),
}

// RiskAssessment holds VaR/CVaR estimates and distribution moments for a
// return series. All values are fractional returns (−0.05 = −5%).
type RiskAssessment struct {
	VaR95         float64    `json:"var_95"`
	VaR99         float64    `json:"var_99"`
	CVaR95        float64    `json:"cvar_95"`
	CVaR99        float64    `json:"cvar_99"`
	MaxLoss       float64    `json:"max_loss"`
	MeanReturn    float64    `json:"mean_return"`
	Volatility    float64    `json:"volatility_annual"`
	Skewness      float64    `json:"skewness"`
	Kurtosis      float64    `json:"kurtosis"` // excess kurtosis
	NObservations int        `json:"n_observations"`
	Method        CVaRMethod `json:"method"`
}

// Dangerous reports whether the tail metrics indicate conditions under which
// new exposure should not be added: expected loss beyond 10% in the worst 1%
// of outcomes, fat tails, or annualized volatility above 100%.
func (r RiskAssessment) Dangerous() bool {
	return r.CVaR99 < -0.10 || r.Kurtosis > 10 || r.Volatility > 1.0
}

// CVaRCalculator estimates Value at Risk and Conditional Value at Risk
// (expected shortfall) from a historical return series.
type CVaRCalculator struct {
	minObservations int
}

// NewCVaRCalculator returns a calculator with the standard minimum-sample
// warning threshold.
func NewCVaRCalculator() *CVaRCalculator {
	return &CVaRCalculator{minObservations: 30}
}

// Calculate computes VaR/CVaR at 95% and 99% plus distribution moments.
// The timeframe selects the annualization factor (daily when unknown).
func (c *CVaRCalculator) Calculate(returns []float64, method CVaRMethod, timeframe string) (RiskAssessment, error) {
	clean := dropNaN(returns)
	if len(clean) == 0 {
		return RiskAssessment{}, fmt.Errorf("cvar: empty return series")
	}
	if len(clean) < c.minObservations {
		log.Warn().Int("n", len(clean)).Msg("cvar: small sample, results unreliable")
	}

	var var95, cvar95, var99, cvar99 float64
	var err error
	switch method {
	case CVaRHistorical, "":
		var95, cvar95 = historicalCVaR(clean, 0.95)
		var99, cvar99 = historicalCVaR(clean, 0.99)
	case CVaRParametric:
		var95, cvar95 = parametricCVaR(clean, 0.95)
		var99, cvar99 = parametricCVaR(clean, 0.99)
	case CVaRCornishFisher:
		var95, cvar95 = cornishFisherCVaR(clean, 0.95)
		var99, cvar99 = cornishFisherCVaR(clean, 0.99)
	default:
		err = fmt.Errorf("cvar: unknown method %q", method)
	}
	if err != nil {
		return RiskAssessment{}, err
	}

	annFactor, ok := annualizationFactors[timeframe]
	if !ok {
		annFactor = math.Sqrt(252)
	}

	var skew, kurt float64
	if len(clean) > 3 {
		skew = stat.Skew(clean, nil)
	}
	if len(clean) > 4 {
		kurt = stat.ExKurtosis(clean, nil)
	}

	result := RiskAssessment{
		VaR95:         var95,
		VaR99:         var99,
		CVaR95:        cvar95,
		CVaR99:        cvar99,
		MaxLoss:       minOf(clean),
		MeanReturn:    stat.Mean(clean, nil),
		Volatility:    stat.StdDev(clean, nil) * annFactor,
		Skewness:      skew,
		Kurtosis:      kurt,
		NObservations: len(clean),
		Method:        method,
	}

	log.Debug().
		Str("method", string(method)).
		Float64("var_95", var95).
		Float64("cvar_95", cvar95).
		Float64("var_99", var99).
		Float64("cvar_99", cvar99).
		Msg("cvar: calculated")

	return result, nil
}

// RollingCVaR computes windowed VaR/CVaR over the series using the
// historical estimator. The i-th output is computed from the window ending
// just before observation window+i.
func (c *CVaRCalculator) RollingCVaR(returns []float64, window int, confidence float64) (vars, cvars []float64) {
	if window <= 0 || len(returns) <= window {
		return nil, nil
	}
	for i := window; i < len(returns); i++ {
		v, cv := historicalCVaR(returns[i-window:i], confidence)
		vars = append(vars, v)
		cvars = append(cvars, cv)
	}
	return vars, cvars
}

// PortfolioCVaR computes VaR/CVaR of a weighted sum of asset return series.
// Each row of returnsMatrix is one observation across assets.
func (c *CVaRCalculator) PortfolioCVaR(returnsMatrix [][]float64, weights []float64, confidence float64) (float64, float64, error) {
	if len(returnsMatrix) == 0 {
		return 0, 0, fmt.Errorf("cvar: empty returns matrix")
	}
	portfolio := make([]float64, len(returnsMatrix))
	for i, row := range returnsMatrix {
		if len(row) != len(weights) {
			return 0, 0, fmt.Errorf("cvar: row %d has %d assets, want %d", i, len(row), len(weights))
		}
		var sum float64
		for j, r := range row {
			sum += r * weights[j]
		}
		portfolio[i] = sum
	}
	v, cv := historicalCVaR(portfolio, confidence)
	return v, cv, nil
}

// historicalCVaR uses the empirical quantile; CVaR is the mean of
// observations at or below VaR.
func historicalCVaR(returns []float64, confidence float64) (varEst, cvarEst float64) {
	alpha := 1 - confidence
	varEst = quantile(returns, alpha)
	return varEst, tailMean(returns, varEst)
}

// parametricCVaR assumes Gaussian returns. CVaR for a normal distribution is
// mu − sigma·phi(z)/alpha.
func parametricCVaR(returns []float64, confidence float64) (varEst, cvarEst float64) {
	mu := stat.Mean(returns, nil)
	sigma := stat.StdDev(returns, nil)
	alpha := 1 - confidence

	norm := distuv.Normal{Mu: 0, Sigma: 1}
	z := norm.Quantile(alpha)
	varEst = mu + sigma*z
	cvarEst = mu - sigma*norm.Prob(z)/alpha
	return varEst, cvarEst
}

// cornishFisherCVaR adjusts the Gaussian quantile for skewness and excess
// kurtosis, then estimates CVaR from the empirical tail below the adjusted
// VaR.
func cornishFisherCVaR(returns []float64, confidence float64) (varEst, cvarEst float64) {
	mu := stat.Mean(returns, nil)
	sigma := stat.StdDev(returns, nil)
	s := stat.Skew(returns, nil)
	k := stat.ExKurtosis(returns, nil)
	alpha := 1 - confidence

	z := distuv.UnitNormal.Quantile(alpha)
	zcf := z +
		(z*z-1)*s/6 +
		(z*z*z-3*z)*k/24 -
		(2*z*z*z-5*z)*s*s/36

	varEst = mu + sigma*zcf

	tail := make([]float64, 0, len(returns))
	for _, r := range returns {
		if r <= varEst {
			tail = append(tail, r)
		}
	}
	if len(tail) > 0 {
		cvarEst = stat.Mean(tail, nil)
	} else {
		// Empty tail: fall back to a conservative scaling of VaR.
		cvarEst = varEst * 1.2
	}
	return varEst, cvarEst
}

// quantile returns the linearly interpolated empirical quantile, matching
// the convention used by the historical simulation estimator.
func quantile(values []float64, p float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	pos := p * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

func tailMean(values []float64, cutoff float64) float64 {
	var sum float64
	var n int
	for _, v := range values {
		if v <= cutoff {
			sum += v
			n++
		}
	}
	if n == 0 {
		return cutoff
	}
	return sum / float64(n)
}

func dropNaN(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out = append(out, v)
		}
	}
	return out
}

func minOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
