package temporal

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/horizonlab/prospect/internal/api"
	obs "github.com/horizonlab/prospect/pkg/otel"
)

// TraceCausalChain walks the link graph backward from an outcome event to
// its most probable root cause: at each step the highest-impact recorded
// cause is followed, up to maxDepth links. Returns api.ErrEventNotFound
// when the outcome id is unknown. An outcome with no recorded causes
// yields a chain whose root cause is the outcome itself with no
// intermediates.
func (e *Engine) TraceCausalChain(ctx context.Context, outcomeID string, maxDepth int) (*api.CausalChain, error) {
	ctx, span := obs.StartSpan(ctx, "prospect", "temporal.trace",
		obs.AttrChainOutcome.String(outcomeID))
	defer span.End()

	outcome, err := e.store.Get(ctx, outcomeID)
	if err != nil {
		obs.RecordError(span, err, "outcome lookup failed")
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.ChainsTraced.Inc()
	}

	// path[0] is the outcome; each following entry is the strongest cause
	// of the one before it.
	path := []*api.TemporalEvent{outcome}
	seen := map[string]bool{outcome.ID: true}

	current := outcome
	for depth := 0; depth < maxDepth; depth++ {
		next, err := e.strongestCause(ctx, current, seen)
		if err != nil {
			return nil, err
		}
		if next == nil {
			break
		}
		path = append(path, next)
		seen[next.ID] = true
		current = next
	}

	chain := &api.CausalChain{
		ID:      uuid.NewString(),
		Outcome: *outcome,
	}

	if len(path) == 1 {
		chain.RootCause = *outcome
		chain.Confidence = clamp01(1 + outcome.Impact/100)
		span.SetAttributes(obs.ChainAttributes(outcomeID, 1, 0, chain.Confidence)...)
		return chain, nil
	}

	root := path[len(path)-1]
	chain.RootCause = *root

	// Intermediates run root -> outcome, strictly ordered in time.
	for i := len(path) - 2; i >= 1; i-- {
		chain.Intermediate = append(chain.Intermediate, *path[i])
	}

	var strengthSum, impactSum float64
	mechanismSeen := make(map[string]bool)
	links := 0
	for i := 0; i < len(path)-1; i++ {
		effect, cause := path[i], path[i+1]
		s, ok, err := e.store.LinkStrength(ctx, cause.ID, effect.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			// Link lists and strength records are written together; a miss
			// means a partially replayed store. Re-score from the events.
			s, _ = causalStrength(cause, effect, e.params)
		}
		strengthSum += s
		links++

		_, mechs := causalStrength(cause, effect, e.params)
		for _, m := range mechs {
			if !mechanismSeen[m] {
				mechanismSeen[m] = true
				chain.Mechanisms = append(chain.Mechanisms, m)
			}
		}
	}
	for _, ev := range path {
		impactSum += ev.Impact
	}

	chain.Strength = strengthSum / float64(links)
	meanImpact := impactSum / float64(len(path))
	chain.Confidence = clamp01(math.Exp(-0.1*float64(links)) + meanImpact/100)
	span.SetAttributes(obs.ChainAttributes(outcomeID, len(path), chain.Strength, chain.Confidence)...)
	return chain, nil
}

// strongestCause returns the unvisited recorded cause of ev with the
// highest impact score, or nil when none remain.
func (e *Engine) strongestCause(ctx context.Context, ev *api.TemporalEvent, seen map[string]bool) (*api.TemporalEvent, error) {
	var best *api.TemporalEvent
	for _, causeID := range ev.CausedBy {
		if seen[causeID] {
			continue
		}
		cause, err := e.store.Get(ctx, causeID)
		if errors.Is(err, api.ErrEventNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load cause %s: %w", causeID, err)
		}
		if best == nil || cause.Impact > best.Impact {
			best = cause
		}
	}
	return best, nil
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
