// Package canonical produces stable hashes of scenario parameters for
// cache keys and determinism checks.
//
// Rules:
//   - Floats rounded to 9 decimal places before hashing
//   - Struct field order fixed by the API types
//   - No whitespace in the JSON
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/horizonlab/prospect/internal/api"
)

// F9 formats a float64 to exactly 9 decimal places, preventing
// floating-point drift between equivalent parameter sets.
func F9(x float64) string {
	return strconv.FormatFloat(x, 'f', 9, 64)
}

// Round9 rounds a float64 to 9 decimal places.
func Round9(x float64) float64 {
	const factor = 1e9
	if x < 0 {
		return float64(int64(x*factor-0.5)) / factor
	}
	return float64(int64(x*factor+0.5)) / factor
}

// ParamsHash computes the canonical sha256 hash of a run request. Two
// requests with equal parameters and scenario counts hash identically,
// whatever map iteration order produced them.
func ParamsHash(params *api.ScenarioParameters, numScenarios int) (string, error) {
	var b strings.Builder

	state, err := json.Marshal(params.BaseState)
	if err != nil {
		return "", fmt.Errorf("failed to marshal base state: %w", err)
	}
	b.Write(state)

	for i := range params.Variables {
		v := &params.Variables[i]
		fmt.Fprintf(&b, "|v:%s:%s:%s:%s:%s:%s", v.Name, v.Kind, v.Distribution, F9(v.Min), F9(v.Max), v.Impact)
		names := make([]string, 0, len(v.Correlations))
		for name := range v.Correlations {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&b, ":%s=%s", name, F9(v.Correlations[name]))
		}
	}

	for i := range params.Constraints {
		c := &params.Constraints[i]
		fmt.Fprintf(&b, "|c:%s:%t:%s:%s", c.Name, c.Hard, c.Field, F9(c.Penalty))
		if c.Min != nil {
			fmt.Fprintf(&b, ":min=%s", F9(*c.Min))
		}
		if c.Max != nil {
			fmt.Fprintf(&b, ":max=%s", F9(*c.Max))
		}
	}

	for i := range params.Objectives {
		o := &params.Objectives[i]
		fmt.Fprintf(&b, "|o:%s:%t:%s:%s:%s:%s:%s", o.Name, o.Maximize, o.Field,
			F9(o.Weight), F9(o.Target), F9(o.LowerBound), F9(o.UpperBound))
	}

	fmt.Fprintf(&b, "|h:%d|n:%d", params.TimeHorizonMonths, numScenarios)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:]), nil
}
