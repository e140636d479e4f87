package api

import (
	"fmt"
	"time"
)

// VariableKind classifies how a scenario variable is drawn.
type VariableKind string

const (
	KindContinuous VariableKind = "continuous"
	KindDiscrete   VariableKind = "discrete"
	KindBinary     VariableKind = "binary"
)

// Distribution names the sampling family for a variable.
type Distribution string

const (
	DistNormal      Distribution = "normal"
	DistUniform     Distribution = "uniform"
	DistExponential Distribution = "exponential"
	DistBeta        Distribution = "beta"
)

// Variable defines one uncertain input to a simulation run.
// Immutable once a run has started.
type Variable struct {
	Name         string             `json:"name"`
	Kind         VariableKind       `json:"kind"`
	Min          float64            `json:"min"`
	Max          float64            `json:"max"`
	Distribution Distribution       `json:"distribution"`
	Correlations map[string]float64 `json:"correlations,omitempty"`
	Impact       string             `json:"impact"` // business field the draw perturbs, e.g. "financial.revenue"
}

// Validate checks the variable's range and distribution family.
func (v *Variable) Validate() error {
	if v.Name == "" {
		return fmt.Errorf("variable name is required")
	}
	if v.Min >= v.Max {
		return fmt.Errorf("variable %q: %w: min %.6f >= max %.6f", v.Name, ErrInvalidVariableRange, v.Min, v.Max)
	}
	switch v.Distribution {
	case DistNormal, DistUniform, DistExponential, DistBeta, "":
	default:
		return fmt.Errorf("variable %q: unknown distribution %q", v.Name, v.Distribution)
	}
	return nil
}

// Constraint bounds an extracted scenario value. Hard constraints count as
// violations when broken; soft constraints contribute penalty-weighted
// fractional violations.
type Constraint struct {
	Name    string   `json:"name"`
	Hard    bool     `json:"hard"`
	Field   string   `json:"field,omitempty"` // state field path; defaults to financial.revenue
	Min     *float64 `json:"min,omitempty"`
	Max     *float64 `json:"max,omitempty"`
	Penalty float64  `json:"penalty"`
}

// Objective scores an extracted scenario value against configured bounds.
type Objective struct {
	Name       string  `json:"name"`
	Field      string  `json:"field,omitempty"` // state field path; defaults to financial.revenue
	Maximize   bool    `json:"maximize"`
	Weight     float64 `json:"weight"`
	Target     float64 `json:"target,omitempty"`
	LowerBound float64 `json:"lower_bound"`
	UpperBound float64 `json:"upper_bound"`
}

// ScenarioParameters is the caller-supplied description of a simulation run.
type ScenarioParameters struct {
	BaseState         BusinessState `json:"base_state"`
	Variables         []Variable    `json:"variables"`
	Constraints       []Constraint  `json:"constraints,omitempty"`
	Objectives        []Objective   `json:"objectives,omitempty"`
	TimeHorizonMonths int           `json:"time_horizon_months"`
}

// Validate rejects structurally invalid parameters before any work begins.
func (p *ScenarioParameters) Validate() error {
	if len(p.Variables) == 0 {
		return fmt.Errorf("%w: at least one variable is required", ErrInvalidInput)
	}
	for i := range p.Variables {
		if err := p.Variables[i].Validate(); err != nil {
			return err
		}
	}
	if p.TimeHorizonMonths < 0 {
		return fmt.Errorf("%w: time horizon must be non-negative", ErrInvalidInput)
	}
	return nil
}

// ScenarioParameterSet is one generated draw: a value per variable plus the
// seed that produced it. Owned exclusively by the batch that evaluates it.
type ScenarioParameterSet struct {
	Index  int                `json:"index"`
	Seed   int64              `json:"seed"`
	Values map[string]float64 `json:"values"`
}

// ScenarioResult is the outcome of evaluating one parameter set. The
// probability field is mutated exactly once, during reweighting; everything
// else is immutable after evaluation.
type ScenarioResult struct {
	ID             string               `json:"id"`
	Params         ScenarioParameterSet `json:"params"`
	FinalState     BusinessState        `json:"final_state"`
	Trajectory     []BusinessState      `json:"trajectory,omitempty"`
	Probability    float64              `json:"probability"`
	Utility        float64              `json:"utility"`
	Risk           float64              `json:"risk"`
	KeyEvents      []string             `json:"key_events,omitempty"`
	SuccessMetrics map[string]float64   `json:"success_metrics,omitempty"`
}

// RiskMetrics aggregates tail statistics over a reweighted scenario set.
type RiskMetrics struct {
	ValueAtRisk    float64 `json:"value_at_risk"`
	ConditionalVaR float64 `json:"conditional_var"`
	Volatility     float64 `json:"volatility"`
	MaxDrawdown    float64 `json:"max_drawdown"`
}

// ScenarioAnalysis is the aggregate result of a completed run.
type ScenarioAnalysis struct {
	TotalScenarios     int             `json:"total_scenarios"`
	DroppedBatches     int             `json:"dropped_batches"`
	PartialCompletion  bool            `json:"partial_completion"`
	UniformFallback    bool            `json:"uniform_fallback"`
	Optimal            *ScenarioResult `json:"optimal,omitempty"`
	WorstCase          *ScenarioResult `json:"worst_case,omitempty"`
	ExpectedState      BusinessState   `json:"expected_state"`
	Risk               RiskMetrics     `json:"risk"`
	Recommendations    []string        `json:"recommendations,omitempty"`
	ConfidenceInterval [2]float64      `json:"confidence_interval"`
	Elapsed            time.Duration   `json:"elapsed"`
}

// EventType classifies a temporal event.
type EventType string

const (
	EventDecision  EventType = "decision"
	EventOutcome   EventType = "outcome"
	EventExternal  EventType = "external"
	EventMilestone EventType = "milestone"
	EventCrisis    EventType = "crisis"
)

// TemporalEvent is one append-only entry in the event store. Once recorded,
// only CausedBy and Consequences grow, via causality detection.
type TemporalEvent struct {
	ID           string             `json:"id"`
	Timestamp    time.Time          `json:"timestamp"`
	Type         EventType          `json:"type"`
	Description  string             `json:"description"`
	Data         map[string]float64 `json:"data,omitempty"`
	CausedBy     []string           `json:"caused_by,omitempty"`
	Consequences []string           `json:"consequences,omitempty"`
	Probability  float64            `json:"probability"` // 1.0 for real events, <1.0 for simulated ones
	Impact       float64            `json:"impact"`      // 0-100
	Domain       string             `json:"domain"`
	Stakeholders []string           `json:"stakeholders,omitempty"`
}

// Timeline is an ordered event sequence. The main timeline is a singleton;
// counterfactual timelines reference the event where they diverged.
type Timeline struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Start       time.Time       `json:"start"`
	End         time.Time       `json:"end"`
	Events      []TemporalEvent `json:"events"`
	BranchPoint string          `json:"branch_point,omitempty"`
	Probability float64         `json:"probability"`
	Outcome     *BusinessState  `json:"outcome,omitempty"`
}

// CausalChain is the backward path of highest-impact causes leading to an
// outcome event. Derived on demand; never persisted.
type CausalChain struct {
	ID           string          `json:"id"`
	RootCause    TemporalEvent   `json:"root_cause"`
	Intermediate []TemporalEvent `json:"intermediate,omitempty"`
	Outcome      TemporalEvent   `json:"outcome"`
	Strength     float64         `json:"strength"`   // 0-1, mean link strength along the path
	Confidence   float64         `json:"confidence"` // 0-1
	Mechanisms   []string        `json:"mechanisms,omitempty"`
}

// Intervention describes the hypothetical change applied at a branch point.
type Intervention struct {
	EventID   string    `json:"event_id"`
	Change    string    `json:"change"`
	Timestamp time.Time `json:"timestamp"`
}

// CounterfactualAnalysis compares the recorded timeline against one or more
// branches re-simulated from an intervention point.
type CounterfactualAnalysis struct {
	Original        Timeline           `json:"original"`
	Counterfactuals []Timeline         `json:"counterfactuals"`
	Intervention    Intervention       `json:"intervention"`
	Deltas          map[string]float64 `json:"deltas"` // financial / operational / strategic
	Insights        []string           `json:"insights,omitempty"`
}
