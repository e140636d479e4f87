package api

import (
	"fmt"
	"strings"
	"time"
)

// FinancialState holds the monetary fields of a business snapshot.
type FinancialState struct {
	Revenue   float64 `json:"revenue"`
	Expenses  float64 `json:"expenses"`
	Profit    float64 `json:"profit"`
	CashFlow  float64 `json:"cash_flow"`
	Valuation float64 `json:"valuation"`
}

// OperationalState holds execution metrics. Percentage fields live in [0,100].
type OperationalState struct {
	Efficiency   float64 `json:"efficiency"`
	Quality      float64 `json:"quality"`
	Capacity     float64 `json:"capacity"`
	Productivity float64 `json:"productivity"`
}

// MarketState holds competitive-position metrics in [0,100].
type MarketState struct {
	MarketShare          float64 `json:"market_share"`
	CompetitivePosition  float64 `json:"competitive_position"`
	CustomerSatisfaction float64 `json:"customer_satisfaction"`
	BrandStrength        float64 `json:"brand_strength"`
}

// StrategicState holds long-horizon posture metrics in [0,100], except
// GrowthRate which is a signed percentage.
type StrategicState struct {
	Innovation   float64 `json:"innovation"`
	RiskExposure float64 `json:"risk_exposure"`
	GrowthRate   float64 `json:"growth_rate"`
	Alignment    float64 `json:"alignment"`
}

// BusinessState is a four-domain snapshot used both as a run's starting
// point and as any simulated trajectory point.
type BusinessState struct {
	Financial   FinancialState   `json:"financial"`
	Operational OperationalState `json:"operational"`
	Market      MarketState      `json:"market"`
	Strategic   StrategicState   `json:"strategic"`
	Timestamp   time.Time        `json:"timestamp,omitempty"`
}

// percentFields are the state paths clamped to [0,100] after perturbation.
var percentFields = map[string]bool{
	"operational.efficiency":       true,
	"operational.quality":          true,
	"operational.capacity":         true,
	"market.market_share":          true,
	"market.competitive_position":  true,
	"market.customer_satisfaction": true,
	"market.brand_strength":        true,
	"strategic.innovation":         true,
	"strategic.risk_exposure":      true,
	"strategic.alignment":          true,
}

// IsPercentField reports whether a state path is a bounded percentage.
func IsPercentField(path string) bool { return percentFields[path] }

// fieldPtr resolves a dotted path like "financial.revenue" to the backing
// field. Returns nil for unknown paths.
func (s *BusinessState) fieldPtr(path string) *float64 {
	switch strings.ToLower(path) {
	case "financial.revenue":
		return &s.Financial.Revenue
	case "financial.expenses":
		return &s.Financial.Expenses
	case "financial.profit":
		return &s.Financial.Profit
	case "financial.cash_flow":
		return &s.Financial.CashFlow
	case "financial.valuation":
		return &s.Financial.Valuation
	case "operational.efficiency":
		return &s.Operational.Efficiency
	case "operational.quality":
		return &s.Operational.Quality
	case "operational.capacity":
		return &s.Operational.Capacity
	case "operational.productivity":
		return &s.Operational.Productivity
	case "market.market_share":
		return &s.Market.MarketShare
	case "market.competitive_position":
		return &s.Market.CompetitivePosition
	case "market.customer_satisfaction":
		return &s.Market.CustomerSatisfaction
	case "market.brand_strength":
		return &s.Market.BrandStrength
	case "strategic.innovation":
		return &s.Strategic.Innovation
	case "strategic.risk_exposure":
		return &s.Strategic.RiskExposure
	case "strategic.growth_rate":
		return &s.Strategic.GrowthRate
	case "strategic.alignment":
		return &s.Strategic.Alignment
	}
	return nil
}

// Field reads a state value by dotted path. The empty path resolves to
// financial.revenue, matching the historical extraction default.
func (s *BusinessState) Field(path string) (float64, error) {
	if path == "" {
		path = "financial.revenue"
	}
	p := s.fieldPtr(path)
	if p == nil {
		return 0, fmt.Errorf("unknown state field %q", path)
	}
	return *p, nil
}

// SetField writes a state value by dotted path, clamping percentage fields
// to [0,100].
func (s *BusinessState) SetField(path string, v float64) error {
	p := s.fieldPtr(path)
	if p == nil {
		return fmt.Errorf("unknown state field %q", path)
	}
	if IsPercentField(strings.ToLower(path)) {
		if v < 0 {
			v = 0
		} else if v > 100 {
			v = 100
		}
	}
	*p = v
	return nil
}

// FieldPaths lists every addressable state path in a fixed order, used for
// field-by-field aggregation.
var FieldPaths = []string{
	"financial.revenue", "financial.expenses", "financial.profit",
	"financial.cash_flow", "financial.valuation",
	"operational.efficiency", "operational.quality", "operational.capacity",
	"operational.productivity",
	"market.market_share", "market.competitive_position",
	"market.customer_satisfaction", "market.brand_strength",
	"strategic.innovation", "strategic.risk_exposure",
	"strategic.growth_rate", "strategic.alignment",
}

// AddScaled accumulates w*other into s, field by field. Used for
// probability-weighted expectation.
func (s *BusinessState) AddScaled(other *BusinessState, w float64) {
	for _, path := range FieldPaths {
		sp := s.fieldPtr(path)
		op := other.fieldPtr(path)
		*sp += w * *op
	}
}
