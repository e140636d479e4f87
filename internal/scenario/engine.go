package scenario

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/horizonlab/prospect/internal/api"
	"github.com/horizonlab/prospect/internal/batch"
	"github.com/horizonlab/prospect/internal/bayes"
	"github.com/horizonlab/prospect/internal/cache"
	"github.com/horizonlab/prospect/internal/metrics"
	"github.com/horizonlab/prospect/internal/risk"
	"github.com/horizonlab/prospect/internal/sampling"
	"github.com/horizonlab/prospect/internal/temporal"
	"github.com/horizonlab/prospect/pkg/canonical"
	obs "github.com/horizonlab/prospect/pkg/otel"
	"github.com/horizonlab/prospect/pkg/randx"
)

// Engine is the simulation facade: it generates parameter sets, evaluates
// them in parallel batches, reweights the posterior and aggregates risk.
// Safe for concurrent use; each run derives its own child generators from
// the shared master source.
type Engine struct {
	params   api.EngineParams
	gen      *sampling.Generator
	executor *batch.Executor
	bayes    *bayes.Reweighter
	risk     *risk.Analyzer
	cache    *cache.ResultCache
	metrics  *metrics.Metrics
	temporal *temporal.Engine
	log      zerolog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*engineConfig)

type engineConfig struct {
	master   randx.Source
	temporal *temporal.Engine
}

// WithMasterSource injects the master randomness source. Tests pass a
// fixed seed to make whole runs reproducible.
func WithMasterSource(src randx.Source) EngineOption {
	return func(c *engineConfig) { c.master = src }
}

// WithTemporalEngine connects the simulation engine to the event store so
// completed runs are recorded as outcome events.
func WithTemporalEngine(t *temporal.Engine) EngineOption {
	return func(c *engineConfig) { c.temporal = t }
}

// NewEngine wires the simulation pipeline from the engine tunables.
func NewEngine(params api.EngineParams, m *metrics.Metrics, log zerolog.Logger, opts ...EngineOption) (*Engine, error) {
	cfg := engineConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.master == nil {
		cfg.master = randx.NewLocked(randx.NewCryptoSeeded())
	}

	resultCache, err := cache.New(params.CacheSize, params.CacheTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to create result cache: %w", err)
	}

	log = log.With().Str("component", "scenario").Logger()
	return &Engine{
		params:   params,
		gen:      sampling.NewGenerator(cfg.master),
		executor: batch.NewExecutor(params, log),
		bayes:    bayes.New(params, log),
		risk:     risk.New(params),
		cache:    resultCache,
		metrics:  m,
		temporal: cfg.temporal,
		log:      log,
	}, nil
}

// RunScenarioAnalysis executes a full Monte-Carlo run: generate, evaluate
// in batches, reweight, analyze. Identical requests are served from the
// result cache, re-analyzed so tunable changes still apply. A run where
// every batch dropped returns ErrEmptyResultSet; a partial run is reported
// through the analysis, never silently completed.
func (e *Engine) RunScenarioAnalysis(ctx context.Context, params *api.ScenarioParameters, numScenarios int) (*api.ScenarioAnalysis, error) {
	start := time.Now()
	if e.metrics != nil {
		e.metrics.RunsTotal.Inc()
	}

	ctx, span := obs.StartSpan(ctx, "prospect", "scenario.run",
		obs.AttrRunScenarios.Int(numScenarios),
		obs.AttrRunVariables.Int(len(params.Variables)),
	)
	defer span.End()

	analysis, err := e.run(ctx, params, numScenarios)
	if err != nil {
		if e.metrics != nil {
			e.metrics.RunsFailed.Inc()
		}
		obs.RecordError(span, err, "scenario run failed")
		return nil, err
	}

	analysis.Elapsed = time.Since(start)
	if e.metrics != nil {
		e.metrics.RunDuration.Observe(analysis.Elapsed.Seconds())
	}
	span.SetAttributes(obs.RunAttributes(
		analysis.TotalScenarios, len(params.Variables),
		analysis.DroppedBatches, analysis.PartialCompletion,
	)...)
	span.SetAttributes(obs.AttrLatencyMs.Float64(float64(analysis.Elapsed.Milliseconds())))

	e.log.Info().
		Int("scenarios", analysis.TotalScenarios).
		Int("dropped_batches", analysis.DroppedBatches).
		Bool("partial", analysis.PartialCompletion).
		Bool("uniform_fallback", analysis.UniformFallback).
		Dur("elapsed", analysis.Elapsed).
		Msg("scenario analysis complete")

	e.recordRunEvent(ctx, analysis)
	return analysis, nil
}

func (e *Engine) run(ctx context.Context, params *api.ScenarioParameters, numScenarios int) (*api.ScenarioAnalysis, error) {
	if numScenarios <= 0 {
		return nil, fmt.Errorf("%w: scenario count must be positive, got %d", api.ErrInvalidInput, numScenarios)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	key, err := canonical.ParamsHash(params, numScenarios)
	if err != nil {
		return nil, err
	}

	if cached, meta := e.cache.Get(key); cached != nil {
		if e.metrics != nil {
			e.metrics.CacheHits.Inc()
		}
		trace.SpanFromContext(ctx).SetAttributes(obs.AttrRunCacheHit.Bool(true))
		e.log.Debug().Str("key", key[:12]).Msg("serving run from result cache")
		refs := make([]*api.ScenarioResult, len(cached))
		for i := range cached {
			refs[i] = &cached[i]
		}
		analysis, err := e.risk.Analyze(refs, params.Variables)
		if err != nil {
			return nil, err
		}
		// A cached partial run replays as partial, never as clean.
		analysis.DroppedBatches = meta.DroppedBatches
		analysis.PartialCompletion = meta.DroppedBatches > 0
		analysis.UniformFallback = meta.UniformFallback
		return analysis, nil
	}
	if e.metrics != nil {
		e.metrics.CacheMisses.Inc()
	}

	sets, err := e.gen.Generate(params, numScenarios)
	if err != nil {
		return nil, err
	}

	evaluator := NewEvaluator(params)
	outcome, err := e.executor.Run(ctx, sets, evaluator.Evaluate)
	if err != nil {
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.ScenariosEvaluated.Add(float64(len(outcome.Results)))
		e.metrics.BatchesDropped.Add(float64(outcome.DroppedBatches))
	}
	if len(outcome.Results) == 0 {
		return nil, fmt.Errorf("all %d batches dropped: %w", outcome.TotalBatches, api.ErrEmptyResultSet)
	}

	// Uniform prior over the evaluated set, then posterior reweighting.
	prior := 1 / float64(len(outcome.Results))
	for _, res := range outcome.Results {
		res.Probability = prior
	}
	uniformFallback := e.bayes.Reweight(outcome.Results, params.Constraints, params.Objectives)
	if uniformFallback && e.metrics != nil {
		e.metrics.UniformFallbacks.Inc()
	}

	analysis, err := e.risk.Analyze(outcome.Results, params.Variables)
	if err != nil {
		return nil, err
	}
	analysis.DroppedBatches = outcome.DroppedBatches
	analysis.PartialCompletion = outcome.DroppedBatches > 0
	analysis.UniformFallback = uniformFallback

	e.cache.Put(key, outcome.Results, cache.RunMeta{
		DroppedBatches:  outcome.DroppedBatches,
		UniformFallback: uniformFallback,
	})
	return analysis, nil
}

// GetCachedResults returns the cached scenario set for a parameter hash,
// or nil when the run is unknown or expired.
func (e *Engine) GetCachedResults(key string) []api.ScenarioResult {
	results, _ := e.cache.Get(key)
	return results
}

// CachedResults looks up the cached scenario set for a parameter set,
// hashing it internally. Nil means the run is unknown or expired.
func (e *Engine) CachedResults(params *api.ScenarioParameters, numScenarios int) ([]api.ScenarioResult, error) {
	key, err := canonical.ParamsHash(params, numScenarios)
	if err != nil {
		return nil, err
	}
	return e.GetCachedResults(key), nil
}

// CacheStats exposes the result cache counters.
func (e *Engine) CacheStats() (hits, misses uint64, size int) {
	hits, misses = e.cache.Stats()
	return hits, misses, e.cache.Len()
}

// recordRunEvent feeds a completed analysis into the event store as an
// outcome event, so simulation runs participate in causality detection.
func (e *Engine) recordRunEvent(ctx context.Context, analysis *api.ScenarioAnalysis) {
	if e.temporal == nil {
		return
	}
	data := map[string]float64{
		"scenarios":       float64(analysis.TotalScenarios),
		"value_at_risk":   analysis.Risk.ValueAtRisk,
		"conditional_var": analysis.Risk.ConditionalVaR,
		"volatility":      analysis.Risk.Volatility,
	}
	desc := fmt.Sprintf("scenario analysis over %d scenarios", analysis.TotalScenarios)
	if _, err := e.temporal.RecordEvent(ctx, api.EventOutcome, desc, data, "strategic", nil); err != nil {
		e.log.Warn().Err(err).Msg("failed to record run outcome event")
	}
}
