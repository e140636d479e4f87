// Package bayes adjusts scenario probabilities using a likelihood derived
// from constraint satisfaction, objective achievement and internal
// consistency, then renormalizes the posterior mass.
package bayes

import (
	"math"

	"github.com/rs/zerolog"

	"github.com/horizonlab/prospect/internal/api"
)

// Reweighter applies Bayesian reweighting to a completed scenario set.
type Reweighter struct {
	params api.EngineParams
	log    zerolog.Logger
}

// New creates a reweighter with the engine's tunables.
func New(params api.EngineParams, log zerolog.Logger) *Reweighter {
	return &Reweighter{params: params, log: log}
}

// Reweight mutates each result's probability exactly once:
//
//	likelihood = exp(-violations*decay) * objectiveScore * consistencyScore
//	posterior  = likelihood * prior
//
// floored at the configured likelihood floor, then renormalized so the set
// sums to 1. If total posterior mass collapses to zero the set falls back
// to a uniform distribution; the fallback is logged and reported to the
// caller, never silent.
func (r *Reweighter) Reweight(results []*api.ScenarioResult, constraints []api.Constraint, objectives []api.Objective) (uniformFallback bool) {
	n := len(results)
	if n == 0 {
		return false
	}

	uniformPrior := 1 / float64(n)
	var total float64
	for _, res := range results {
		prior := res.Probability
		if prior <= 0 {
			prior = uniformPrior
		}

		violations := constraintViolations(&res.FinalState, constraints)
		objScore := ObjectiveScore(&res.FinalState, objectives)
		consScore := r.consistencyScore(&res.FinalState)

		likelihood := math.Exp(-violations*r.params.ViolationDecay) * objScore * consScore
		if likelihood < r.params.LikelihoodFloor {
			likelihood = r.params.LikelihoodFloor
		}

		res.Probability = likelihood * prior
		total += res.Probability
	}

	if total <= 0 || math.IsNaN(total) {
		r.log.Warn().Int("scenarios", n).Msg("posterior mass collapsed, falling back to uniform distribution")
		for _, res := range results {
			res.Probability = uniformPrior
		}
		return true
	}

	for _, res := range results {
		res.Probability /= total
	}
	return false
}

// constraintViolations sums violation weight over the configured
// constraints: 1.0 per broken hard constraint, the penalty weight per
// broken soft constraint.
func constraintViolations(state *api.BusinessState, constraints []api.Constraint) float64 {
	var violations float64
	for i := range constraints {
		c := &constraints[i]
		v, err := state.Field(c.Field)
		if err != nil {
			continue
		}
		broken := (c.Min != nil && v < *c.Min) || (c.Max != nil && v > *c.Max)
		if !broken {
			continue
		}
		if c.Hard {
			violations += 1
		} else if c.Penalty > 0 {
			violations += c.Penalty
		} else {
			violations += 0.5
		}
	}
	return violations
}

// consistencyScore starts at 1.0 and loses 0.1 per domain inconsistency,
// floored at the configured minimum. The checks mirror the evaluator's
// domain model: books that don't balance, efficiency without quality, and
// market share without the position to hold it.
func (r *Reweighter) consistencyScore(state *api.BusinessState) float64 {
	score := 1.0
	if state.Financial.Revenue < state.Financial.Expenses {
		score -= 0.1
	}
	if state.Operational.Efficiency > 80 && state.Operational.Quality < 40 {
		score -= 0.1
	}
	if state.Market.MarketShare > 30 && state.Market.CompetitivePosition < 40 {
		score -= 0.1
	}
	if state.Financial.CashFlow < 0 && state.Financial.Profit > 0 {
		score -= 0.1
	}
	if score < r.params.ConsistencyFloor {
		score = r.params.ConsistencyFloor
	}
	return score
}

// ObjectiveScore is the weighted average of normalized objective values.
// Each value maps into [0,1] against the objective's configured bounds;
// minimize objectives invert the mapping. No objectives means a neutral
// score of 1 so the likelihood reduces to constraints and consistency.
func ObjectiveScore(state *api.BusinessState, objectives []api.Objective) float64 {
	var sum, weights float64
	for i := range objectives {
		o := &objectives[i]
		v, err := state.Field(o.Field)
		if err != nil {
			continue
		}
		span := o.UpperBound - o.LowerBound
		var norm float64
		switch {
		case span > 0:
			norm = clamp01((v - o.LowerBound) / span)
		case o.Target != 0:
			norm = clamp01(1 - math.Abs(v-o.Target)/math.Abs(o.Target))
		default:
			norm = 0.5
		}
		if !o.Maximize {
			norm = 1 - norm
		}
		w := o.Weight
		if w <= 0 {
			w = 1
		}
		sum += w * norm
		weights += w
	}
	if weights == 0 {
		return 1
	}
	return sum / weights
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
