// Package risk computes tail statistics and the aggregate analysis over a
// reweighted scenario set: expected state, Value-at-Risk, Conditional VaR,
// volatility, drawdown, confidence intervals and recommendations.
package risk

import (
	"fmt"
	"math"
	"sort"

	"github.com/horizonlab/prospect/internal/api"
)

// Analyzer derives a ScenarioAnalysis from a completed, reweighted run.
type Analyzer struct {
	params api.EngineParams
}

// New creates an analyzer with the engine's tunables.
func New(params api.EngineParams) *Analyzer {
	return &Analyzer{params: params}
}

// Analyze aggregates the result set. Returns ErrEmptyResultSet for an
// empty input rather than producing degenerate statistics.
func (a *Analyzer) Analyze(results []*api.ScenarioResult, variables []api.Variable) (*api.ScenarioAnalysis, error) {
	n := len(results)
	if n == 0 {
		return nil, api.ErrEmptyResultSet
	}

	// Utility-sorted view. The extremes give optimal/worst case; the lower
	// tail gives VaR and CVaR.
	byUtility := make([]*api.ScenarioResult, n)
	copy(byUtility, results)
	sort.Slice(byUtility, func(i, j int) bool { return byUtility[i].Utility < byUtility[j].Utility })

	utilities := make([]float64, n)
	for i, r := range byUtility {
		utilities[i] = r.Utility
	}

	varIdx := int(a.params.VaRPercentile * float64(n))
	if varIdx >= n {
		varIdx = n - 1
	}
	valueAtRisk := utilities[varIdx]

	// Conditional VaR: mean of the tail at or below the cutoff. By
	// construction it can never exceed the percentile value itself.
	var tailSum float64
	for i := 0; i <= varIdx; i++ {
		tailSum += utilities[i]
	}
	conditionalVaR := tailSum / float64(varIdx+1)

	var mean float64
	for _, u := range utilities {
		mean += u
	}
	mean /= float64(n)
	var variance float64
	for _, u := range utilities {
		d := u - mean
		variance += d * d
	}
	volatility := math.Sqrt(variance / float64(n))

	maxDrawdown := utilities[n-1] - utilities[0]

	// Probability-weighted expected state, field by field.
	var expected api.BusinessState
	var totalProb float64
	for _, r := range results {
		expected.AddScaled(&r.FinalState, r.Probability)
		totalProb += r.Probability
	}
	if totalProb > 0 && math.Abs(totalProb-1) > 1e-9 {
		scale := 1 / totalProb
		var renorm api.BusinessState
		renorm.AddScaled(&expected, scale)
		expected = renorm
	}

	// Revenue confidence interval from sorted percentiles.
	revenues := make([]float64, n)
	for i, r := range results {
		revenues[i] = r.FinalState.Financial.Revenue
	}
	sort.Float64s(revenues)
	alpha := 1 - a.params.ConfidenceLevel
	lo := revenues[clampIndex(int(alpha/2*float64(n)), n)]
	hi := revenues[clampIndex(int((1-alpha/2)*float64(n)), n)]

	analysis := &api.ScenarioAnalysis{
		TotalScenarios: n,
		Optimal:        byUtility[n-1],
		WorstCase:      byUtility[0],
		ExpectedState:  expected,
		Risk: api.RiskMetrics{
			ValueAtRisk:    valueAtRisk,
			ConditionalVaR: conditionalVaR,
			Volatility:     volatility,
			MaxDrawdown:    maxDrawdown,
		},
		Recommendations:    a.recommendations(byUtility, variables),
		ConfidenceInterval: [2]float64{lo, hi},
	}
	return analysis, nil
}

// recommendations mines the top and bottom deciles of the utility-sorted
// set for variable values that separate good outcomes from bad ones. The
// list is always non-empty and capped at the configured maximum.
func (a *Analyzer) recommendations(byUtility []*api.ScenarioResult, variables []api.Variable) []string {
	n := len(byUtility)
	decile := n / 10
	if decile == 0 {
		decile = 1
	}

	var recs []string
	for i := range variables {
		v := &variables[i]
		span := v.Max - v.Min
		if span <= 0 {
			continue
		}

		topMean := meanValue(byUtility[n-decile:], v.Name)
		botMean := meanValue(byUtility[:decile], v.Name)
		gap := topMean - botMean

		// A separation above a quarter of the variable's range marks it
		// as a decisive lever.
		if math.Abs(gap) > 0.25*span {
			direction := "higher"
			if gap < 0 {
				direction = "lower"
			}
			recs = append(recs, fmt.Sprintf(
				"favorable scenarios cluster at %s %s (top-decile mean %.4f vs bottom-decile %.4f)",
				direction, v.Name, topMean, botMean))
		}
		if len(recs) >= a.params.MaxRecommendations {
			break
		}
	}

	if len(recs) == 0 {
		recs = append(recs, fmt.Sprintf(
			"no single variable separates outcomes; spread across %d scenarios is driven by combined effects", n))
	}
	return recs
}

func meanValue(results []*api.ScenarioResult, name string) float64 {
	if len(results) == 0 {
		return 0
	}
	var sum float64
	for _, r := range results {
		sum += r.Params.Values[name]
	}
	return sum / float64(len(results))
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
