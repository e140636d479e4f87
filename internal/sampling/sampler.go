// Package sampling draws correlated variable values for scenario
// generation. All randomness flows through an injected randx.Source so a
// fixed seed reproduces a run exactly.
package sampling

import (
	"math"

	"github.com/horizonlab/prospect/internal/api"
	"github.com/horizonlab/prospect/pkg/randx"
)

// Sampler draws values for variables from their configured distribution
// families. Not safe for concurrent use; each worker owns its own Sampler.
type Sampler struct {
	src randx.Source
}

// NewSampler creates a sampler over the given randomness source.
func NewSampler(src randx.Source) *Sampler {
	return &Sampler{src: src}
}

// Draw samples one value for a variable within its configured range.
// Uniform and beta draws are strictly inside [min,max]; normal and
// exponential draws sit inside the range except for vanishingly rare
// tail excursions, which are returned rather than rejected.
func (s *Sampler) Draw(v *api.Variable) float64 {
	span := v.Max - v.Min

	var val float64
	switch v.Distribution {
	case api.DistNormal:
		// Mean at the midpoint, stddev = range/6: the 3-sigma rule keeps
		// ~99.7% of draws inside the range.
		mean := v.Min + span/2
		stddev := span / 6
		val = mean + stddev*s.boxMuller()
	case api.DistExponential:
		// Inverse CDF with rate 1/(range/2), offset at min.
		lambda := 1 / (span / 2)
		u := s.src.Float64()
		if u == 0 {
			u = math.SmallestNonzeroFloat64
		}
		val = v.Min + -math.Log(u)/lambda
	case api.DistBeta:
		// Beta(2,2): symmetric hump over the range.
		val = v.Min + span*s.beta(2, 2)
	default: // uniform
		val = v.Min + span*s.src.Float64()
	}

	switch v.Kind {
	case api.KindBinary:
		if (val-v.Min)/span >= 0.5 {
			return v.Max
		}
		return v.Min
	case api.KindDiscrete:
		return math.Round(val)
	}
	return val
}

// DrawSet samples every variable, then applies pairwise correlation
// adjustment in declaration order: each variable with a non-zero
// correlation to a sibling nudges that sibling by
// correlation * (source01 - 0.5) of the sibling's range, where source01
// is the source draw normalized into [0,1]. Declaration order keeps the
// adjustment deterministic under a fixed seed.
func (s *Sampler) DrawSet(vars []api.Variable) map[string]float64 {
	values := make(map[string]float64, len(vars))
	for i := range vars {
		values[vars[i].Name] = s.Draw(&vars[i])
	}

	ranges := make(map[string]*api.Variable, len(vars))
	for i := range vars {
		ranges[vars[i].Name] = &vars[i]
	}

	for i := range vars {
		src := &vars[i]
		if len(src.Correlations) == 0 {
			continue
		}
		srcSpan := src.Max - src.Min
		src01 := (values[src.Name] - src.Min) / srcSpan

		// Iterate targets in the sibling declaration order, not map
		// order, so runs are reproducible.
		for j := range vars {
			tgt := &vars[j]
			corr, ok := src.Correlations[tgt.Name]
			if !ok || corr == 0 || tgt.Name == src.Name {
				continue
			}
			tgtSpan := tgt.Max - tgt.Min
			nudged := values[tgt.Name] + corr*(src01-0.5)*tgtSpan
			if nudged < tgt.Min {
				nudged = tgt.Min
			} else if nudged > tgt.Max {
				nudged = tgt.Max
			}
			values[tgt.Name] = nudged
		}
	}

	return values
}

// boxMuller returns a standard normal variate from two independent
// uniform draws.
func (s *Sampler) boxMuller() float64 {
	u1 := s.src.Float64()
	if u1 == 0 {
		u1 = math.SmallestNonzeroFloat64
	}
	u2 := s.src.Float64()
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}

// beta draws from Beta(alpha, beta) via the ratio-of-powers method on two
// independent uniforms.
func (s *Sampler) beta(alpha, beta float64) float64 {
	u1 := s.src.Float64()
	if u1 == 0 {
		u1 = math.SmallestNonzeroFloat64
	}
	u2 := s.src.Float64()
	if u2 == 0 {
		u2 = math.SmallestNonzeroFloat64
	}
	x := math.Pow(u1, 1/alpha)
	y := math.Pow(u2, 1/beta)
	return x / (x + y)
}
