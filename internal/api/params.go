package api

import "time"

// EngineParams collects every tunable of the simulation and causality
// engines. Defaults preserve the behavior the system shipped with; callers
// override individual fields rather than hard-coding constants.
type EngineParams struct {
	// Batch execution.
	MaxBatches   int           `json:"max_batches"`   // fan-out cap regardless of scenario count
	Workers      int           `json:"workers"`       // worker pool size
	BatchTimeout time.Duration `json:"batch_timeout"` // per-batch deadline

	// Bayesian reweighting.
	LikelihoodFloor  float64 `json:"likelihood_floor"`  // prevents zero-probability collapse
	ConsistencyFloor float64 `json:"consistency_floor"` // lower bound on the consistency score
	ViolationDecay   float64 `json:"violation_decay"`   // exp(-violations*decay)

	// Risk analysis.
	VaRPercentile      float64 `json:"var_percentile"`   // tail cutoff for VaR/CVaR
	ConfidenceLevel    float64 `json:"confidence_level"` // revenue confidence interval
	MaxRecommendations int     `json:"max_recommendations"`

	// Causality detection.
	CausalThreshold       float64       `json:"causal_threshold"`       // minimum strength to record a link
	LookbackEvents        int           `json:"lookback_events"`        // prior events scanned per insertion
	LookbackWindow        time.Duration `json:"lookback_window"`        // temporal scan window
	ProximityDecay        time.Duration `json:"proximity_decay"`        // e-folding time of the proximity score
	CounterfactualHistory time.Duration `json:"counterfactual_history"` // sampling window for synthetic events

	// Result cache.
	CacheSize int           `json:"cache_size"`
	CacheTTL  time.Duration `json:"cache_ttl"`
}

// DefaultEngineParams returns the shipped defaults. The causal threshold
// (0.3) and lookback (10 events / 30 days) match the original engine's
// behavior; change them only with recalibrated expectations.
func DefaultEngineParams() EngineParams {
	return EngineParams{
		MaxBatches:   100,
		Workers:      8,
		BatchTimeout: 30 * time.Second,

		LikelihoodFloor:  0.001,
		ConsistencyFloor: 0.5,
		ViolationDecay:   0.5,

		VaRPercentile:      0.05,
		ConfidenceLevel:    0.95,
		MaxRecommendations: 5,

		CausalThreshold:       0.3,
		LookbackEvents:        10,
		LookbackWindow:        30 * 24 * time.Hour,
		ProximityDecay:        7 * 24 * time.Hour,
		CounterfactualHistory: 90 * 24 * time.Hour,

		CacheSize: 100,
		CacheTTL:  time.Hour,
	}
}
