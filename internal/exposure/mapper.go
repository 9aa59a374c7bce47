// Package exposure aggregates per-strike dealer hedging exposure from a
// scored chain. Mapping is a pure function of the snapshot: the same chain
// always yields the same walls and flip level.
package exposure

import (
	"sort"

	"github.com/flowsight/flowsight/internal/greeks"
	"github.com/flowsight/flowsight/internal/models"
)

// Summary describes dealer positioning for one ticker at one scan.
// GammaFlip is 0 when cumulative exposure never changes sign.
type Summary struct {
	CallWall      float64 `json:"call_wall"`
	PutWall       float64 `json:"put_wall"`
	GammaFlip     float64 `json:"gamma_flip"`
	DollarVanna   float64 `json:"dollar_vanna"`
	DollarCharm   float64 `json:"dollar_charm"`
	DecayVelocity float64 `json:"decay_velocity"`
}

// Map computes the exposure summary for one ticker's chain. rows and gks are
// parallel slices; mismatched lengths are treated as an empty chain rather
// than a panic, matching the degrade-don't-crash policy.
func Map(rows []models.ContractSnapshot, gks []greeks.Greeks) Summary {
	if len(rows) == 0 || len(rows) != len(gks) {
		return Summary{}
	}

	var s Summary
	byStrike := make(map[float64]float64, len(rows))
	for i, row := range rows {
		oi := float64(row.OpenInterest)

		// Dollar gamma exposure per strike, calls positive, puts negative.
		gex := gks[i].Gamma * oi * 100 * row.Spot
		if !row.Side.IsCall() {
			gex = -gex
		}
		byStrike[row.Strike] += gex

		s.DollarVanna += abs(gks[i].Vanna) * oi * 100 * 0.01
		s.DollarCharm += abs(gks[i].Charm) * oi * 100
		s.DecayVelocity += gks[i].Color * oi * 100
	}

	strikes := make([]float64, 0, len(byStrike))
	for k := range byStrike {
		strikes = append(strikes, k)
	}
	sort.Float64s(strikes)

	maxExp, minExp := byStrike[strikes[0]], byStrike[strikes[0]]
	s.CallWall, s.PutWall = strikes[0], strikes[0]
	for _, k := range strikes[1:] {
		exp := byStrike[k]
		if exp > maxExp {
			maxExp, s.CallWall = exp, k
		}
		if exp < minExp {
			minExp, s.PutWall = exp, k
		}
	}

	// Gamma flip: first strike, ascending, where the running sum crosses
	// zero. The comparison carries the last nonzero sum so a sum that lands
	// exactly on zero still counts as a crossing once the opposite sign
	// appears. No crossing leaves the 0 sentinel.
	var cum, prev float64
	for i, k := range strikes {
		cum += byStrike[k]
		if i > 0 && signFlipped(prev, cum) {
			s.GammaFlip = k
			break
		}
		if cum != 0 {
			prev = cum
		}
	}
	return s
}

func signFlipped(a, b float64) bool {
	return (a > 0 && b < 0) || (a < 0 && b > 0)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
