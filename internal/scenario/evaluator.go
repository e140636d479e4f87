// Package scenario evaluates sampled parameter sets into business-state
// trajectories and hosts the engine facade that ties generation, batch
// execution, reweighting and risk analysis together.
package scenario

import (
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"

	"github.com/horizonlab/prospect/internal/api"
	"github.com/horizonlab/prospect/internal/bayes"
)

// Evaluator turns one parameter set into a ScenarioResult against a fixed
// run configuration. Stateless after construction; safe to share across
// batch workers.
type Evaluator struct {
	params *api.ScenarioParameters
}

// NewEvaluator creates an evaluator for a run's parameters.
func NewEvaluator(params *api.ScenarioParameters) *Evaluator {
	return &Evaluator{params: params}
}

// Evaluate applies each variable's sampled perturbation to the base state,
// builds the monthly trajectory, and scores utility and risk. Percentage
// fields are clamped to [0,100] by SetField.
func (e *Evaluator) Evaluate(set api.ScenarioParameterSet) (*api.ScenarioResult, error) {
	final := e.params.BaseState
	var keyEvents []string

	for i := range e.params.Variables {
		v := &e.params.Variables[i]
		val, ok := set.Values[v.Name]
		if !ok {
			return nil, fmt.Errorf("parameter set %d has no value for variable %q", set.Index, v.Name)
		}

		path := v.Impact
		if path == "" {
			path = "financial.revenue"
		}
		cur, err := final.Field(path)
		if err != nil {
			return nil, fmt.Errorf("variable %q: %w", v.Name, err)
		}

		// Monetary fields scale multiplicatively (the draw is a rate);
		// percentage fields shift additively in points.
		var next float64
		if api.IsPercentField(strings.ToLower(path)) {
			next = cur + val*100
		} else {
			next = cur * (1 + val)
		}
		if err := final.SetField(path, next); err != nil {
			return nil, err
		}

		// Flag extreme draws so downstream recommendation mining and
		// callers can see what shaped the scenario.
		span := v.Max - v.Min
		if span > 0 {
			pos := (val - v.Min) / span
			if pos >= 0.9 {
				keyEvents = append(keyEvents, fmt.Sprintf("%s near upper bound (%.4f)", v.Name, val))
			} else if pos <= 0.1 {
				keyEvents = append(keyEvents, fmt.Sprintf("%s near lower bound (%.4f)", v.Name, val))
			}
		}
	}

	final.Financial.Profit = final.Financial.Revenue - final.Financial.Expenses

	result := &api.ScenarioResult{
		ID:         uuid.NewString(),
		Params:     set,
		FinalState: final,
		Trajectory: e.trajectory(&final),
		Utility:    e.utility(&final),
		Risk:       e.risk(&final),
		KeyEvents:  keyEvents,
		SuccessMetrics: map[string]float64{
			"profit_margin":  safeRatio(final.Financial.Profit, final.Financial.Revenue),
			"revenue_growth": safeRatio(final.Financial.Revenue-e.params.BaseState.Financial.Revenue, e.params.BaseState.Financial.Revenue),
			"market_share":   final.Market.MarketShare,
		},
	}
	return result, nil
}

// trajectory interpolates monthly states from the base to the final state.
// Monetary fields compound geometrically; bounded fields move linearly.
func (e *Evaluator) trajectory(final *api.BusinessState) []api.BusinessState {
	months := e.params.TimeHorizonMonths
	if months <= 0 {
		return nil
	}

	base := &e.params.BaseState
	traj := make([]api.BusinessState, months)
	for m := 1; m <= months; m++ {
		frac := float64(m) / float64(months)
		point := *base
		for _, path := range api.FieldPaths {
			b, _ := base.Field(path)
			f, _ := final.Field(path)
			var v float64
			if !api.IsPercentField(path) && b > 0 && f > 0 {
				v = b * math.Pow(f/b, frac)
			} else {
				v = b + (f-b)*frac
			}
			point.SetField(path, v)
		}
		point.Financial.Profit = point.Financial.Revenue - point.Financial.Expenses
		traj[m-1] = point
	}
	return traj
}

// utility scores a final state in [0,1]. With objectives configured it is
// their weighted normalized average; otherwise a composite of margin,
// efficiency and market position.
func (e *Evaluator) utility(state *api.BusinessState) float64 {
	if len(e.params.Objectives) > 0 {
		return bayes.ObjectiveScore(state, e.params.Objectives)
	}

	margin := safeRatio(state.Financial.Profit, state.Financial.Revenue)
	u := 0.4*clamp01((margin+0.5)/1.0) +
		0.3*state.Operational.Efficiency/100 +
		0.2*state.Market.MarketShare/100 +
		0.1*state.Market.CompetitivePosition/100
	return clamp01(u)
}

// risk scores a final state in [0,1] from strategic exposure plus a
// penalty for operating at a loss.
func (e *Evaluator) risk(state *api.BusinessState) float64 {
	r := state.Strategic.RiskExposure / 100
	if state.Financial.Profit < 0 {
		r += 0.2
	}
	return clamp01(r)
}

func safeRatio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
