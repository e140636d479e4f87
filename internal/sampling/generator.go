package sampling

import (
	"github.com/horizonlab/prospect/internal/api"
	"github.com/horizonlab/prospect/pkg/randx"
)

// Generator produces independent scenario parameter sets. The master
// source only mints per-set seeds; each set is drawn from its own child
// generator, so batch workers can re-derive draws without sharing state.
type Generator struct {
	master randx.Source
}

// NewGenerator creates a parameter-set generator over a master source.
// Wrap the source with randx.NewLocked if the generator is shared.
func NewGenerator(master randx.Source) *Generator {
	return &Generator{master: master}
}

// Generate validates the run parameters and produces n parameter sets,
// each with an independent seed. Returns ErrInvalidVariableRange (wrapped)
// if any variable's min >= max.
func (g *Generator) Generate(params *api.ScenarioParameters, n int) ([]api.ScenarioParameterSet, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	sets := make([]api.ScenarioParameterSet, n)
	for i := 0; i < n; i++ {
		seed := g.master.Int63()
		sampler := NewSampler(randx.NewSeeded(seed))
		sets[i] = api.ScenarioParameterSet{
			Index:  i,
			Seed:   seed,
			Values: sampler.DrawSet(params.Variables),
		}
	}
	return sets, nil
}
