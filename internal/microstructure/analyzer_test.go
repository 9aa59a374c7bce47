package microstructure

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/flowsight/flowsight/internal/config"
	"github.com/flowsight/flowsight/internal/models"
)

func cfg() config.Micro { return config.Default().Micro }

// flatSeries builds n quiet bars around price 100 with modest volume.
func flatSeries(n int) []models.Candle {
	candles := make([]models.Candle, n)
	ts := time.Date(2026, 8, 21, 14, 30, 0, 0, time.UTC)
	for i := range candles {
		candles[i] = models.Candle{
			Timestamp: ts.Add(time.Duration(i) * time.Minute),
			Open:      100, High: 100.5, Low: 99.5, Close: 100,
			Volume: 1000 + float64(i%7)*25, VWAP: 100,
		}
	}
	return candles
}

func TestAnalyze_ShortSeriesIsNeutral(t *testing.T) {
	for _, candles := range [][]models.Candle{nil, flatSeries(10)} {
		a := Analyze(candles, cfg())
		assert.False(t, a.Iceberg)
		assert.Equal(t, FlowStandard, a.Flow)
		assert.Equal(t, 1.0, a.Conviction(models.SideCall, 95, cfg()))
		assert.Equal(t, 0.5, a.TrendProbability(100, 0, 0, cfg()))
	}
}

func TestDetectIceberg(t *testing.T) {
	candles := flatSeries(40)

	// Hidden size: huge volume absorbed into a razor-thin range on a
	// recent bar. Density explodes, volume is top decile.
	candles[38].Volume = 50000
	candles[38].High = 100.05
	candles[38].Low = 99.95

	a := Analyze(candles, cfg())
	assert.True(t, a.Iceberg)

	// Elevated volume spread across a wide range is just a busy bar: the
	// density z-score stays unremarkable.
	quiet := flatSeries(40)
	quiet[38].Volume = 5000
	quiet[38].High = 103
	quiet[38].Low = 97
	assert.False(t, Analyze(quiet, cfg()).Iceberg)
}

func TestDetectIceberg_EarlySession(t *testing.T) {
	// 32 bars: barely more history than the neutral floor. The density
	// baseline shrinks to what exists, so the refill at bar 30 still fires.
	candles := flatSeries(32)
	candles[30].Volume = 50000
	candles[30].High = 100.05
	candles[30].Low = 99.95

	assert.True(t, Analyze(candles, cfg()).Iceberg)
}

func TestClassifyFlow(t *testing.T) {
	cases := []struct {
		name                   string
		close, high, low, vwap float64
		want                   Flow
	}{
		{"buy sweep closes high above vwap", 100.9, 101, 100, 100.2, FlowAggressiveSweep},
		{"sell sweep closes low below vwap", 100.1, 101, 100, 100.6, FlowAggressiveSweep},
		{"absorbed at highs below vwap", 100.9, 101, 100, 101.5, FlowPassive},
		{"mid-range close is standard", 100.5, 101, 100, 100.2, FlowStandard},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			candles := flatSeries(30)
			last := &candles[len(candles)-1]
			last.Close, last.High, last.Low, last.VWAP = tc.close, tc.high, tc.low, tc.vwap
			assert.Equal(t, tc.want, Analyze(candles, cfg()).Flow)
		})
	}
}

func TestHighVolumeNodeAndTrap(t *testing.T) {
	candles := flatSeries(30)
	// Pile volume at 101.2.
	for i := 5; i < 15; i++ {
		candles[i].Close = 101.2
		candles[i].Volume = 20000
	}

	a := Analyze(candles, cfg())
	assert.Equal(t, 101.2, a.HVN)

	// Call flagged with spot below the node fights accepted value: trap.
	assert.Equal(t, 0.3, a.Conviction(models.SideCall, 100.0, cfg()))
	assert.True(t, a.Trap(models.SideCall, 100.0, cfg()))

	// Put below the node is aligned with value: full conviction.
	assert.Equal(t, 1.0, a.Conviction(models.SidePut, 100.0, cfg()))

	// Put above the node is the mirror trap.
	assert.Equal(t, 0.3, a.Conviction(models.SidePut, 102.0, cfg()))
}

func TestTrendProbability(t *testing.T) {
	candles := flatSeries(35)
	// Choppy closes give the z-score a meaningful denominator; the last
	// close sits about one deviation above VWAP.
	for i := range candles {
		if i%2 == 0 {
			candles[i].Close = 99.5
		} else {
			candles[i].Close = 100.5
		}
	}
	candles[34].Close = 100.6
	a := Analyze(candles, cfg())

	base := a.TrendProbability(100.6, 0, 0, cfg())
	assert.Greater(t, base, 0.5)
	assert.Less(t, base, 0.89)

	// Spot pressing the call wall adds the proximity boost.
	boosted := a.TrendProbability(100.6, 101.0, 0, cfg())
	assert.InDelta(t, base+0.10, boosted, 1e-9)
	assert.LessOrEqual(t, boosted, 0.99)
}
