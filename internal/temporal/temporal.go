package temporal

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/horizonlab/prospect/internal/api"
	"github.com/horizonlab/prospect/internal/metrics"
	obs "github.com/horizonlab/prospect/pkg/otel"
	"github.com/horizonlab/prospect/pkg/randx"
)

// Engine owns the event side of the system: recording, causal-link
// detection, chain tracing and counterfactual construction. Insertions are
// serialized so every causality scan observes a consistent snapshot of
// prior events.
type Engine struct {
	mu      sync.Mutex // serializes RecordEvent (append + scan)
	store   Store
	params  api.EngineParams
	metrics *metrics.Metrics
	log     zerolog.Logger
	rng     randx.Source
	now     func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock injects the time source; tests use it to place events at
// exact offsets.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRand injects the randomness source used for counterfactual
// synthesis; tests pass a fixed seed.
func WithRand(src randx.Source) Option {
	return func(e *Engine) { e.rng = src }
}

// NewEngine creates a temporal engine over a store.
func NewEngine(store Store, params api.EngineParams, m *metrics.Metrics, log zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		params:  params,
		metrics: m,
		log:     log.With().Str("component", "temporal").Logger(),
		rng:     randx.NewLocked(randx.NewCryptoSeeded()),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// typeBaseImpact is the impact starting point per event type.
var typeBaseImpact = map[api.EventType]float64{
	api.EventDecision:  50,
	api.EventOutcome:   70,
	api.EventCrisis:    90,
	api.EventMilestone: 60,
	api.EventExternal:  40,
}

// domainMultiplier weights impact by the business dimension an event
// touches.
var domainMultiplier = map[string]float64{
	"financial":   1.2,
	"strategic":   1.1,
	"market":      1.0,
	"operational": 0.9,
}

// RecordEvent appends a new event with a computed impact score, then runs
// causality detection against the recent prior events. Real events carry
// probability 1.0.
func (e *Engine) RecordEvent(ctx context.Context, typ api.EventType, description string, data map[string]float64, domain string, stakeholders []string) (*api.TemporalEvent, error) {
	ctx, span := obs.StartSpan(ctx, "prospect", "temporal.record")
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	ev := &api.TemporalEvent{
		ID:           uuid.NewString(),
		Timestamp:    e.now(),
		Type:         typ,
		Description:  description,
		Data:         data,
		Probability:  1.0,
		Impact:       impactScore(typ, data, domain),
		Domain:       domain,
		Stakeholders: stakeholders,
	}

	if err := e.store.Append(ctx, ev); err != nil {
		err = fmt.Errorf("failed to record event: %w", err)
		obs.RecordError(span, err, "event append failed")
		return nil, err
	}
	span.SetAttributes(obs.EventAttributes(ev.ID, string(typ), domain, ev.Impact)...)
	if e.metrics != nil {
		e.metrics.EventsRecorded.WithLabelValues(string(typ)).Inc()
	}

	if err := e.detectCausality(ctx, ev); err != nil {
		// The event itself is durable; a failed scan loses links, not data.
		e.log.Warn().Err(err).Str("event_id", ev.ID).Msg("causality detection failed")
	}

	// Return the stored view, including any links just detected.
	return e.store.Get(ctx, ev.ID)
}

// impactScore computes a 0-100 impact: a type base scaled by the event's
// magnitude (log-damped) and its domain weight.
func impactScore(typ api.EventType, data map[string]float64, domain string) float64 {
	base, ok := typeBaseImpact[typ]
	if !ok {
		base = 50
	}

	scale := 1.0
	if mag, ok := data["magnitude"]; ok {
		scale = 1 + math.Log1p(math.Abs(mag))*0.1
	}

	mult, ok := domainMultiplier[domain]
	if !ok {
		mult = 1.0
	}

	impact := base * scale * mult
	if impact > 100 {
		impact = 100
	}
	return impact
}

// GetEvent returns a stored event by id.
func (e *Engine) GetEvent(ctx context.Context, id string) (*api.TemporalEvent, error) {
	return e.store.Get(ctx, id)
}

// EventsInWindow returns the recorded events inside [from, to], ascending.
func (e *Engine) EventsInWindow(ctx context.Context, from, to time.Time) ([]*api.TemporalEvent, error) {
	return e.store.Range(ctx, from, to)
}

// MainTimeline returns the distinguished main timeline: every recorded
// event, ascending by timestamp, probability 1.0.
func (e *Engine) MainTimeline(ctx context.Context) (*api.Timeline, error) {
	events, err := e.store.All(ctx)
	if err != nil {
		return nil, err
	}

	tl := &api.Timeline{
		ID:          "main",
		Name:        "main",
		Probability: 1.0,
		Events:      make([]api.TemporalEvent, len(events)),
	}
	for i, ev := range events {
		tl.Events[i] = *ev
	}
	if len(events) > 0 {
		tl.Start = events[0].Timestamp
		tl.End = events[len(events)-1].Timestamp
	}
	outcome := projectOutcome(tl.Events)
	tl.Outcome = &outcome
	return tl, nil
}
