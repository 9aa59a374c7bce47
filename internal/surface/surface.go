// Package surface derives skew and term-structure bias from an option chain.
// Both readings are advisory inputs to the scorer, never hard filters.
package surface

import (
	"sort"

	"github.com/flowsight/flowsight/internal/models"
)

// Bias is the directional read of the volatility surface.
type Bias string

const (
	BiasBullish Bias = "BULLISH"
	BiasBearish Bias = "BEARISH"
	BiasNeutral Bias = "NEUTRAL"
)

// Skew thresholds: heavy put skew is the norm in equity options, so only an
// unusually flat surface reads bullish and only an unusually steep one
// bearish.
const (
	bullishSkew = -0.05
	bearishSkew = 0.10
)

// Surface is the per-ticker volatility surface summary.
type Surface struct {
	Skew      float64 `json:"skew"`       // mean OTM put IV - mean OTM call IV
	TermSlope float64 `json:"term_slope"` // IV(2nd-nearest expiry) - IV(nearest)
	Bias      Bias    `json:"bias"`
}

// Analyze computes the surface summary for one ticker's chain. Chains with
// no usable out-of-the-money rows produce a neutral zero-valued surface.
func Analyze(rows []models.ContractSnapshot) Surface {
	s := Surface{Bias: BiasNeutral}

	var putIV, callIV []float64
	for _, r := range rows {
		if r.ImpliedVol <= 0 || r.Spot <= 0 {
			continue
		}
		switch {
		case !r.Side.IsCall() && r.Strike < r.Spot:
			putIV = append(putIV, r.ImpliedVol)
		case r.Side.IsCall() && r.Strike > r.Spot:
			callIV = append(callIV, r.ImpliedVol)
		}
	}
	if len(putIV) > 0 && len(callIV) > 0 {
		s.Skew = mean(putIV) - mean(callIV)
	}

	s.TermSlope = termSlope(rows)

	switch {
	case s.Skew < bullishSkew:
		s.Bias = BiasBullish
	case s.Skew > bearishSkew:
		s.Bias = BiasBearish
	}
	return s
}

// termSlope buckets implied vol by days-to-expiration and compares the two
// nearest buckets. Fewer than two buckets leaves the slope at 0.
func termSlope(rows []models.ContractSnapshot) float64 {
	byDTE := make(map[int][]float64)
	for _, r := range rows {
		if r.ImpliedVol <= 0 || r.DTE < 0 {
			continue
		}
		byDTE[r.DTE] = append(byDTE[r.DTE], r.ImpliedVol)
	}
	if len(byDTE) < 2 {
		return 0
	}

	dtes := make([]int, 0, len(byDTE))
	for d := range byDTE {
		dtes = append(dtes, d)
	}
	sort.Ints(dtes)

	return mean(byDTE[dtes[1]]) - mean(byDTE[dtes[0]])
}

func mean(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}
