package scenario

import (
	"math"
	"testing"

	"github.com/horizonlab/prospect/internal/api"
)

func approx(got, want, tol float64) bool {
	return math.Abs(got-want) <= tol
}

func testBaseState() api.BusinessState {
	return api.BusinessState{
		Financial: api.FinancialState{
			Revenue: 1_000_000, Expenses: 800_000, Profit: 200_000, CashFlow: 150_000,
		},
		Operational: api.OperationalState{Efficiency: 70, Quality: 70, Capacity: 60, Productivity: 1.0},
		Market:      api.MarketState{MarketShare: 15, CompetitivePosition: 60, CustomerSatisfaction: 70},
		Strategic:   api.StrategicState{RiskExposure: 30, GrowthRate: 10},
	}
}

func TestEvaluateMonetaryPerturbationIsMultiplicative(t *testing.T) {
	params := &api.ScenarioParameters{
		BaseState: testBaseState(),
		Variables: []api.Variable{
			{Name: "growth", Kind: api.KindContinuous, Min: -0.1, Max: 0.3, Impact: "financial.revenue"},
		},
	}
	e := NewEvaluator(params)

	tests := []struct {
		draw float64
		want float64
	}{
		{-0.1, 900_000},
		{0, 1_000_000},
		{0.3, 1_300_000},
	}
	for _, tt := range tests {
		res, err := e.Evaluate(api.ScenarioParameterSet{
			Values: map[string]float64{"growth": tt.draw},
		})
		if err != nil {
			t.Fatalf("evaluate failed: %v", err)
		}
		if got := res.FinalState.Financial.Revenue; !approx(got, tt.want, 1e-6) {
			t.Errorf("draw %.2f: revenue = %.0f, want %.0f", tt.draw, got, tt.want)
		}
		wantProfit := tt.want - 800_000
		if got := res.FinalState.Financial.Profit; !approx(got, wantProfit, 1e-6) {
			t.Errorf("draw %.2f: profit = %.0f, want %.0f", tt.draw, got, wantProfit)
		}
	}
}

func TestEvaluatePercentPerturbationIsAdditive(t *testing.T) {
	params := &api.ScenarioParameters{
		BaseState: testBaseState(),
		Variables: []api.Variable{
			{Name: "efficiency_gain", Kind: api.KindContinuous, Min: -0.2, Max: 0.2, Impact: "operational.efficiency"},
		},
	}
	e := NewEvaluator(params)

	res, err := e.Evaluate(api.ScenarioParameterSet{
		Values: map[string]float64{"efficiency_gain": 0.1},
	})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	// 70 + 0.1*100 points.
	if got := res.FinalState.Operational.Efficiency; !approx(got, 80, 1e-9) {
		t.Errorf("efficiency = %.1f, want 80", got)
	}

	// Percent fields clamp at the scale bounds.
	res, err = e.Evaluate(api.ScenarioParameterSet{
		Values: map[string]float64{"efficiency_gain": 0.5},
	})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if got := res.FinalState.Operational.Efficiency; got != 100 {
		t.Errorf("efficiency should clamp at 100, got %.1f", got)
	}
}

func TestEvaluateDefaultsToRevenue(t *testing.T) {
	params := &api.ScenarioParameters{
		BaseState: testBaseState(),
		Variables: []api.Variable{
			{Name: "uplift", Kind: api.KindContinuous, Min: 0, Max: 0.5},
		},
	}
	e := NewEvaluator(params)

	res, err := e.Evaluate(api.ScenarioParameterSet{
		Values: map[string]float64{"uplift": 0.2},
	})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if got := res.FinalState.Financial.Revenue; !approx(got, 1_200_000, 1e-6) {
		t.Errorf("unset impact path should default to financial.revenue, got %.0f", got)
	}
}

func TestEvaluateMissingValueErrors(t *testing.T) {
	params := &api.ScenarioParameters{
		BaseState: testBaseState(),
		Variables: []api.Variable{
			{Name: "growth", Kind: api.KindContinuous, Min: 0, Max: 1},
		},
	}
	e := NewEvaluator(params)

	if _, err := e.Evaluate(api.ScenarioParameterSet{Values: map[string]float64{}}); err == nil {
		t.Fatal("expected error for missing variable value")
	}
}

func TestEvaluateFlagsExtremeDraws(t *testing.T) {
	params := &api.ScenarioParameters{
		BaseState: testBaseState(),
		Variables: []api.Variable{
			{Name: "growth", Kind: api.KindContinuous, Min: 0, Max: 1, Impact: "financial.revenue"},
			{Name: "churn", Kind: api.KindContinuous, Min: 0, Max: 1, Impact: "market.market_share"},
		},
	}
	e := NewEvaluator(params)

	res, err := e.Evaluate(api.ScenarioParameterSet{
		Values: map[string]float64{"growth": 0.95, "churn": 0.5},
	})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if len(res.KeyEvents) != 1 {
		t.Fatalf("expected exactly one key event for the extreme draw, got %v", res.KeyEvents)
	}
}

func TestTrajectoryLengthAndEndpoint(t *testing.T) {
	params := &api.ScenarioParameters{
		BaseState: testBaseState(),
		Variables: []api.Variable{
			{Name: "growth", Kind: api.KindContinuous, Min: -0.1, Max: 0.3, Impact: "financial.revenue"},
		},
		TimeHorizonMonths: 12,
	}
	e := NewEvaluator(params)

	res, err := e.Evaluate(api.ScenarioParameterSet{
		Values: map[string]float64{"growth": 0.3},
	})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if len(res.Trajectory) != 12 {
		t.Fatalf("expected 12 monthly points, got %d", len(res.Trajectory))
	}

	last := res.Trajectory[11].Financial.Revenue
	if diff := last - res.FinalState.Financial.Revenue; diff > 1 || diff < -1 {
		t.Errorf("trajectory endpoint %.0f should meet the final state %.0f", last, res.FinalState.Financial.Revenue)
	}

	// Geometric compounding: every month moves toward the final value.
	prev := params.BaseState.Financial.Revenue
	for m, point := range res.Trajectory {
		if point.Financial.Revenue < prev {
			t.Fatalf("month %d revenue regressed: %.0f < %.0f", m+1, point.Financial.Revenue, prev)
		}
		prev = point.Financial.Revenue
	}
}

func TestUtilityWithinUnitInterval(t *testing.T) {
	params := &api.ScenarioParameters{
		BaseState: testBaseState(),
		Variables: []api.Variable{
			{Name: "growth", Kind: api.KindContinuous, Min: -0.9, Max: 3, Impact: "financial.revenue"},
		},
	}
	e := NewEvaluator(params)

	for _, draw := range []float64{-0.9, -0.5, 0, 1, 3} {
		res, err := e.Evaluate(api.ScenarioParameterSet{
			Values: map[string]float64{"growth": draw},
		})
		if err != nil {
			t.Fatalf("evaluate failed: %v", err)
		}
		if res.Utility < 0 || res.Utility > 1 {
			t.Errorf("draw %.1f: utility %.4f outside [0,1]", draw, res.Utility)
		}
		if res.Risk < 0 || res.Risk > 1 {
			t.Errorf("draw %.1f: risk %.4f outside [0,1]", draw, res.Risk)
		}
	}
}
