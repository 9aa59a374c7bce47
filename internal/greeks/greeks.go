// Package greeks computes closed-form Black-Scholes sensitivities for
// option-chain rows. The engine is pure math: no I/O, no state, and a hard
// guarantee that degenerate inputs (expired contracts, zero vol, missing
// spot) produce all-zero Greeks instead of NaN leaking downstream.
package greeks

import (
	"math"

	"github.com/flowsight/flowsight/internal/models"
)

// Floors applied before any division. Inputs at or below zero are rejected
// outright; these only guard against catastrophic cancellation on tiny
// positive values.
const (
	epsTime = 1e-9
	epsVol  = 1e-9
)

// Greeks carries the per-contract sensitivities the exposure mapper and
// scorer consume. Delta is in [-1, 1], gamma is non-negative.
type Greeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Vanna float64 `json:"vanna"`
	Charm float64 `json:"charm"`
	Color float64 `json:"color"`
}

// Compute returns the Greeks for a single contract. tYears is time to
// expiration in years. Non-positive spot, strike, time or vol yields the
// zero value.
func Compute(spot, strike, tYears, rate, iv float64, side models.Side) Greeks {
	if spot <= 0 || strike <= 0 || tYears <= 0 || iv <= 0 {
		return Greeks{}
	}
	t := math.Max(tYears, epsTime)
	sigma := math.Max(iv, epsVol)
	sqrtT := math.Sqrt(t)

	d1 := (math.Log(spot/strike) + (rate+0.5*sigma*sigma)*t) / (sigma * sqrtT)
	d2 := d1 - sigma*sqrtT
	pdf := normPDF(d1)

	g := Greeks{
		Gamma: pdf / (spot * sigma * sqrtT),
		Vanna: pdf * d2 / sigma,
		Charm: -pdf * (rate/(sigma*sqrtT) - d2/(2*t)),
	}
	if side.IsCall() {
		g.Delta = normCDF(d1)
	} else {
		g.Delta = normCDF(d1) - 1
	}

	// Gamma decay (color): second-order time derivative of the hedging
	// profile, q=0 closed form.
	g.Color = -pdf / (2 * spot * t * sigma * sqrtT) *
		(1 + d1*(2*rate*t-d2*sigma*sqrtT)/(sigma*sqrtT))

	return sanitize(g)
}

// ComputeBatch evaluates a whole chain at once over parallel slices. Slices
// must be equal length; the result index matches the input index. Rows with
// degenerate inputs come back zeroed, the rest of the batch is unaffected.
func ComputeBatch(spot, strike, tYears, iv []float64, rate float64, sides []models.Side) []Greeks {
	n := len(spot)
	out := make([]Greeks, n)
	for i := 0; i < n; i++ {
		out[i] = Compute(spot[i], strike[i], tYears[i], rate, iv[i], sides[i])
	}
	return out
}

// ForSnapshot computes Greeks for one chain row, deriving time to expiration
// from the row's DTE.
func ForSnapshot(c models.ContractSnapshot, rate float64) Greeks {
	return Compute(c.Spot, c.Strike, float64(c.DTE)/365.0, rate, c.ImpliedVol, c.Side)
}

// sanitize enforces the no-NaN contract after the closed forms have run.
func sanitize(g Greeks) Greeks {
	for _, v := range []float64{g.Delta, g.Gamma, g.Vanna, g.Charm, g.Color} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Greeks{}
		}
	}
	if g.Delta > 1 {
		g.Delta = 1
	}
	if g.Delta < -1 {
		g.Delta = -1
	}
	if g.Gamma < 0 {
		g.Gamma = 0
	}
	return g
}

func normCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}

func normPDF(x float64) float64 {
	return math.Exp(-0.5*x*x) / math.Sqrt(2*math.Pi)
}
