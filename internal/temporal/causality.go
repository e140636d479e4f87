package temporal

import (
	"context"
	"math"

	"github.com/horizonlab/prospect/internal/api"
)

// detectCausality scans the most recent prior events inside the lookback
// window and records a directed link for every pair whose causal strength
// clears the threshold. Called with the insertion lock held, so the scan
// always sees a consistent prior-event snapshot.
func (e *Engine) detectCausality(ctx context.Context, ev *api.TemporalEvent) error {
	prior, err := e.store.Before(ctx, ev.Timestamp, e.params.LookbackWindow, e.params.LookbackEvents)
	if err != nil {
		return err
	}

	for _, cand := range prior {
		if cand.ID == ev.ID {
			continue // an event can never cause itself
		}
		strength, _ := causalStrength(cand, ev, e.params)
		if strength <= e.params.CausalThreshold {
			continue
		}
		if err := e.store.AddLink(ctx, cand.ID, ev.ID, strength); err != nil {
			return err
		}
		if e.metrics != nil {
			e.metrics.CausalLinks.Inc()
		}
		e.log.Debug().
			Str("cause", cand.ID).
			Str("effect", ev.ID).
			Float64("strength", strength).
			Msg("causal link detected")
	}
	return nil
}

// causalStrength scores how likely cause produced effect, in [0,1]:
//
//	0.3 * exp(-dt/decay)          temporal proximity
//	0.3 * domainMatch             1.0 same domain, 0.3 otherwise
//	0.2 * stakeholderOverlap      Jaccard over stakeholder sets
//	0.2 * dataCorrelation         shared data fields / larger field count
//
// Returns the named mechanisms that contributed materially, for chain
// explanations. A non-positive time delta scores zero: causes precede
// effects.
func causalStrength(cause, effect *api.TemporalEvent, params api.EngineParams) (float64, []string) {
	dt := effect.Timestamp.Sub(cause.Timestamp)
	if dt <= 0 {
		return 0, nil
	}

	proximity := math.Exp(-float64(dt) / float64(params.ProximityDecay))

	domainMatch := 0.3
	if cause.Domain == effect.Domain {
		domainMatch = 1.0
	}

	overlap := stakeholderOverlap(cause.Stakeholders, effect.Stakeholders)
	dataCorr := dataCorrelation(cause.Data, effect.Data)

	strength := 0.3*proximity + 0.3*domainMatch + 0.2*overlap + 0.2*dataCorr
	if strength < 0 {
		strength = 0
	} else if strength > 1 {
		strength = 1
	}

	var mechanisms []string
	if proximity > 0.5 {
		mechanisms = append(mechanisms, "temporal proximity")
	}
	if cause.Domain == effect.Domain {
		mechanisms = append(mechanisms, "domain alignment")
	}
	if overlap > 0 {
		mechanisms = append(mechanisms, "shared stakeholders")
	}
	if dataCorr > 0 {
		mechanisms = append(mechanisms, "correlated data fields")
	}
	return strength, mechanisms
}

// stakeholderOverlap is the Jaccard ratio of the two stakeholder sets.
func stakeholderOverlap(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]bool, len(a))
	for _, s := range a {
		set[s] = true
	}
	shared := 0
	union := len(set)
	for _, s := range b {
		if set[s] {
			shared++
		} else {
			union++
		}
	}
	return float64(shared) / float64(union)
}

// dataCorrelation is the ratio of shared data-field names to the larger
// field count.
func dataCorrelation(a, b map[string]float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shared := 0
	for k := range a {
		if _, ok := b[k]; ok {
			shared++
		}
	}
	larger := len(a)
	if len(b) > larger {
		larger = len(b)
	}
	return float64(shared) / float64(larger)
}
