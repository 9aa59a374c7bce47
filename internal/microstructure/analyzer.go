// Package microstructure reads an intraday 1-minute candle series for
// execution-quality signals: hidden size (icebergs), aggression of the most
// recent prints, the session's high-volume node, and a trend-probability
// estimate. The series is optional; without enough bars every detector
// reports its neutral default so the scorer sees no signal instead of noise.
package microstructure

import (
	"math"

	"github.com/montanaflynn/stats"

	"github.com/flowsight/flowsight/internal/config"
	"github.com/flowsight/flowsight/internal/models"
)

// Flow labels the character of the most recent bar.
type Flow string

const (
	FlowAggressiveSweep Flow = "aggressive-sweep"
	FlowPassive         Flow = "passive"
	FlowStandard        Flow = "standard"
)

// Analysis is the per-ticker microstructure readout for one scan.
type Analysis struct {
	Iceberg bool    `json:"iceberg"`
	Flow    Flow    `json:"flow"`
	HVN     float64 `json:"hvn"` // high-volume node price level, 0 when unknown

	lastClose float64
	vwap      float64
	closeStd  float64
	neutral   bool
}

// Neutral returns the readout used when no candle series is available.
func Neutral() Analysis {
	return Analysis{Flow: FlowStandard, neutral: true}
}

// Analyze runs all detectors over the candle series. Fewer than cfg.MinBars
// bars degrades to the neutral readout.
func Analyze(candles []models.Candle, cfg config.Micro) Analysis {
	if len(candles) < cfg.MinBars {
		return Neutral()
	}

	a := Analysis{Flow: classifyFlow(candles, cfg)}
	a.Iceberg = detectIceberg(candles, cfg)
	a.HVN = highVolumeNode(candles)

	last := candles[len(candles)-1]
	a.lastClose = last.Close
	a.vwap = last.VWAP

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	if sd, err := stats.StandardDeviation(closes); err == nil {
		a.closeStd = sd
	}
	return a
}

// detectIceberg flags hidden institutional size: a bar in the most recent
// window whose volume-to-range density z-score exceeds the trigger while its
// raw volume sits in the session's top decile. Thin-range bars absorbing
// outsized volume are the signature of iceberg refills. Early in the session
// the density baseline shrinks to the available history, floored at MinBars.
func detectIceberg(candles []models.Candle, cfg config.Micro) bool {
	if len(candles) <= cfg.MinBars {
		return false
	}

	densities := make([]float64, len(candles))
	volumes := make([]float64, len(candles))
	for i, c := range candles {
		rng := c.High - c.Low
		if rng < 0.01 {
			rng = 0.01
		}
		densities[i] = c.Volume / rng
		volumes[i] = c.Volume
	}

	topDecile, err := stats.Percentile(volumes, cfg.VolumePercentile)
	if err != nil {
		return false
	}

	start := len(candles) - cfg.RecentBars
	if start < cfg.MinBars {
		start = cfg.MinBars
	}
	for i := start; i < len(candles); i++ {
		lo := i - cfg.DensityWindow
		if lo < 0 {
			lo = 0
		}
		window := densities[lo:i]
		m, err1 := stats.Mean(window)
		sd, err2 := stats.StandardDeviation(window)
		if err1 != nil || err2 != nil || sd == 0 {
			continue
		}
		z := (densities[i] - m) / sd
		if z > cfg.DensityZ && volumes[i] >= topDecile {
			return true
		}
	}
	return false
}

// classifyFlow reads the directional aggression of the latest bar. Closing
// in the top of the range above VWAP (or bottom of the range below it) is
// initiating flow; finishing at an extreme against VWAP is absorption.
func classifyFlow(candles []models.Candle, cfg config.Micro) Flow {
	last := candles[len(candles)-1]
	rng := last.High - last.Low
	if rng <= 0 || last.VWAP <= 0 {
		return FlowStandard
	}
	ratio := (last.Close - last.Low) / rng

	switch {
	case ratio >= cfg.AggressiveRatio && last.Close > last.VWAP,
		ratio <= cfg.PassiveRatio && last.Close < last.VWAP:
		return FlowAggressiveSweep
	case ratio <= cfg.PassiveRatio || ratio >= cfg.AggressiveRatio:
		return FlowPassive
	default:
		return FlowStandard
	}
}

// highVolumeNode returns the price level, rounded to one decimal, holding
// the greatest cumulative traded volume.
func highVolumeNode(candles []models.Candle) float64 {
	byLevel := make(map[float64]float64, len(candles))
	for _, c := range candles {
		level := math.Round(c.Close*10) / 10
		byLevel[level] += c.Volume
	}

	var node, best float64
	for level, vol := range byLevel {
		if vol > best || (vol == best && level < node) {
			node, best = level, vol
		}
	}
	return node
}

// Conviction returns the score multiplier for a flagged contract. A call
// flagged with the underlying below the high-volume node, or a put above it,
// is fighting the session's accepted value: a trap, penalized hard.
func (a Analysis) Conviction(side models.Side, spot float64, cfg config.Micro) float64 {
	if a.neutral || a.HVN == 0 || spot <= 0 {
		return 1.0
	}
	if (side.IsCall() && spot < a.HVN) || (!side.IsCall() && spot > a.HVN) {
		return cfg.TrapMultiplier
	}
	return 1.0
}

// Trap reports whether Conviction would penalize this side at this spot.
func (a Analysis) Trap(side models.Side, spot float64, cfg config.Micro) bool {
	return a.Conviction(side, spot, cfg) != 1.0
}

// TrendProbability estimates the chance the intraday move continues, from
// the standardized distance of the last close from VWAP, boosted when spot
// presses within the proximity band of either dealer wall.
func (a Analysis) TrendProbability(spot, callWall, putWall float64, cfg config.Micro) float64 {
	if a.neutral || a.closeStd == 0 || a.vwap == 0 {
		return 0.5
	}
	z := math.Abs(a.lastClose-a.vwap) / a.closeStd
	prob := 1 / (1 + math.Exp(-z))

	if nearLevel(spot, callWall, cfg.WallProximityPct) || nearLevel(spot, putWall, cfg.WallProximityPct) {
		prob += 0.10
	}
	if prob > 0.99 {
		prob = 0.99
	}
	return prob
}

func nearLevel(spot, level, pct float64) bool {
	if spot <= 0 || level <= 0 {
		return false
	}
	return math.Abs(spot-level)/spot <= pct
}
