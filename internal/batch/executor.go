// Package batch partitions scenario parameter sets into bounded batches
// and evaluates them on a fixed-size worker pool with per-batch timeouts
// and barrier aggregation.
package batch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/horizonlab/prospect/internal/api"
)

// EvalFunc evaluates a single parameter set. Implementations must be safe
// for concurrent use; workers never share mutable state beyond it.
type EvalFunc func(set api.ScenarioParameterSet) (*api.ScenarioResult, error)

// Outcome reports what survived a run. Dropped batches are excluded from
// Results and counted, never silently defaulted.
type Outcome struct {
	Results        []*api.ScenarioResult
	TotalBatches   int
	DroppedBatches int
}

// Executor is a fixed-size worker pool over a queue of batches. Worker
// count is decoupled from scenario count; batch fan-out is capped so a
// large N cannot explode parallelism.
type Executor struct {
	workers    int
	maxBatches int
	timeout    time.Duration
	log        zerolog.Logger
}

// NewExecutor creates an executor from the engine tunables.
func NewExecutor(params api.EngineParams, log zerolog.Logger) *Executor {
	workers := params.Workers
	if workers <= 0 {
		workers = 4
	}
	maxBatches := params.MaxBatches
	if maxBatches <= 0 {
		maxBatches = 100
	}
	timeout := params.BatchTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Executor{workers: workers, maxBatches: maxBatches, timeout: timeout, log: log}
}

type job struct {
	index int
	sets  []api.ScenarioParameterSet
}

// Run evaluates every set and blocks on the barrier until all batches
// resolve. Results keep scenario order regardless of worker scheduling.
// A batch that exceeds its timeout is dropped whole: its scenarios are
// excluded and counted in Outcome.DroppedBatches. Cancelling ctx cancels
// all in-flight batches and returns ErrRunCancelled.
func (e *Executor) Run(ctx context.Context, sets []api.ScenarioParameterSet, eval EvalFunc) (*Outcome, error) {
	n := len(sets)
	if n == 0 {
		return &Outcome{}, nil
	}

	batchSize := (n + e.maxBatches - 1) / e.maxBatches
	if batchSize < 1 {
		batchSize = 1
	}

	jobs := make(chan job)
	slots := make([]*api.ScenarioResult, n)
	var dropped atomic.Int64

	var wg sync.WaitGroup
	for w := 0; w < e.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				if !e.runBatch(ctx, j, eval, slots) {
					dropped.Add(1)
				}
			}
		}()
	}

	totalBatches := 0
	for start := 0; start < n; start += batchSize {
		end := start + batchSize
		if end > n {
			end = n
		}
		select {
		case jobs <- job{index: totalBatches, sets: sets[start:end]}:
		case <-ctx.Done():
		}
		totalBatches++
	}
	close(jobs)

	// Barrier: aggregation only happens after every batch resolves.
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, api.ErrRunCancelled
	}

	results := make([]*api.ScenarioResult, 0, n)
	for _, r := range slots {
		if r != nil {
			results = append(results, r)
		}
	}

	out := &Outcome{
		Results:        results,
		TotalBatches:   totalBatches,
		DroppedBatches: int(dropped.Load()),
	}
	if out.DroppedBatches > 0 {
		e.log.Warn().
			Int("dropped_batches", out.DroppedBatches).
			Int("total_batches", out.TotalBatches).
			Msg("run completed partially, some batches timed out")
	}
	return out, nil
}

// runBatch evaluates one batch under its own deadline. Partial results
// from a failed batch are discarded so callers never see a half-evaluated
// batch. Each slot write is disjoint by scenario index, so no locking is
// needed.
func (e *Executor) runBatch(ctx context.Context, j job, eval EvalFunc, slots []*api.ScenarioResult) bool {
	bctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	local := make([]*api.ScenarioResult, 0, len(j.sets))
	for _, set := range j.sets {
		if bctx.Err() != nil {
			e.log.Debug().Int("batch", j.index).Msg("batch deadline exceeded, discarding partial results")
			return false
		}
		res, err := eval(set)
		if err != nil {
			e.log.Warn().Err(err).Int("batch", j.index).Int("scenario", set.Index).Msg("scenario evaluation failed, dropping batch")
			return false
		}
		local = append(local, res)
	}

	for _, res := range local {
		slots[res.Params.Index] = res
	}
	return true
}
