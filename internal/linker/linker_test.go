package linker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowsight/flowsight/internal/config"
	"github.com/flowsight/flowsight/internal/models"
	"github.com/flowsight/flowsight/internal/scorer"
)

var expiry = time.Date(2026, 9, 18, 0, 0, 0, 0, time.UTC)

func trade(ticker string, side models.Side, strike float64, volume int64, notional float64, score int) scorer.ScoredTrade {
	return scorer.ScoredTrade{
		Ticker:         ticker,
		Contract:       ticker + "-leg",
		Side:           side,
		Strike:         strike,
		Expiration:     expiry,
		Volume:         volume,
		Notional:       notional,
		Score:          score,
		Classification: scorer.ClassSingle,
	}
}

func TestLink_VerticalSpread(t *testing.T) {
	l := New(config.Default().Linker)

	// 5000 and 4900 contracts across two strikes: a legged-in vertical.
	out := l.Link([]scorer.ScoredTrade{
		trade("NVDA", models.SideCall, 155, 4900, 1_200_000, 90),
		trade("NVDA", models.SideCall, 150, 5000, 1_500_000, 100),
	})

	require.Len(t, out, 1)
	s := out[0]
	assert.Equal(t, scorer.ClassVerticalSpread, s.Classification)
	assert.Equal(t, []float64{150, 155}, s.Legs)
	assert.Equal(t, int64(9900), s.Volume)
	assert.InDelta(t, 2_700_000, s.Notional, 1)
	// Anchored on the stronger leg plus the spread bonus.
	assert.Equal(t, 125, s.Score)
	assert.Contains(t, s.Reason, "vertical spread 150/155")
}

func TestLink_SpreadRequiresMatchedVolume(t *testing.T) {
	l := New(config.Default().Linker)

	// 40% leg volume difference is independent flow, not a spread.
	out := l.Link([]scorer.ScoredTrade{
		trade("NVDA", models.SideCall, 150, 5000, 1_500_000, 100),
		trade("NVDA", models.SideCall, 155, 3000, 700_000, 90),
	})

	require.Len(t, out, 2)
	for _, s := range out {
		assert.Equal(t, scorer.ClassSingle, s.Classification)
	}
}

func TestLink_SpreadRequiresSameExpiration(t *testing.T) {
	l := New(config.Default().Linker)

	far := trade("NVDA", models.SideCall, 155, 5000, 1_200_000, 90)
	far.Expiration = expiry.AddDate(0, 1, 0)

	out := l.Link([]scorer.ScoredTrade{
		trade("NVDA", models.SideCall, 150, 5000, 1_500_000, 100),
		far,
	})
	require.Len(t, out, 2)
}

func TestLink_TickerCluster(t *testing.T) {
	l := New(config.Default().Linker)

	// Three same-side contracts with unmatched volumes: no spread pairs,
	// but together they clear the cluster threshold.
	out := l.Link([]scorer.ScoredTrade{
		trade("TSLA", models.SidePut, 240, 1000, 400_000, 70),
		trade("TSLA", models.SidePut, 230, 2200, 900_000, 95),
		trade("TSLA", models.SidePut, 220, 4800, 1_700_000, 80),
	})

	require.Len(t, out, 1)
	c := out[0]
	assert.Equal(t, scorer.ClassTickerCluster, c.Classification)
	assert.Equal(t, 3, c.Contracts)
	assert.Equal(t, int64(8000), c.Volume)
	assert.InDelta(t, 3_000_000, c.Notional, 1)
	assert.Equal(t, 125, c.Score)
	assert.Contains(t, c.Reason, "cluster of 3")
}

func TestLink_ClusterMixesSides(t *testing.T) {
	l := New(config.Default().Linker)

	// A straddle-style campaign: two calls plus a put on one ticker still
	// count as three distinct contracts. Call volumes are unmatched so the
	// spread pass leaves them alone.
	out := l.Link([]scorer.ScoredTrade{
		trade("TSLA", models.SideCall, 250, 1000, 400_000, 70),
		trade("TSLA", models.SideCall, 260, 4800, 1_700_000, 95),
		trade("TSLA", models.SidePut, 220, 2200, 900_000, 80),
	})

	require.Len(t, out, 1)
	c := out[0]
	assert.Equal(t, scorer.ClassTickerCluster, c.Classification)
	assert.Equal(t, 3, c.Contracts)
	assert.Equal(t, int64(8000), c.Volume)
	assert.InDelta(t, 3_000_000, c.Notional, 1)
}

func TestLink_TwoContractsDoNotCluster(t *testing.T) {
	l := New(config.Default().Linker)

	out := l.Link([]scorer.ScoredTrade{
		trade("TSLA", models.SidePut, 240, 1000, 400_000, 70),
		trade("TSLA", models.SidePut, 230, 2200, 900_000, 95),
	})
	require.Len(t, out, 2)
}

func TestLink_SectorSweep(t *testing.T) {
	l := New(config.Default().Linker)

	mk := func(ticker string, side models.Side, notional float64, score int) scorer.ScoredTrade {
		s := trade(ticker, side, 100, 1500, notional, score)
		s.Sector = "Semiconductors"
		return s
	}

	// Mixed directions still read as one coordinated sector rotation.
	out := l.Link([]scorer.ScoredTrade{
		mk("NVDA", models.SideCall, 1_000_000, 90),
		mk("AMD", models.SidePut, 900_000, 88),
		mk("AVGO", models.SideCall, 800_000, 86),
	})

	// Members fold into one super-result.
	require.Len(t, out, 1)
	s := out[0]
	assert.Equal(t, scorer.ClassSectorSweep, s.Classification)
	assert.Equal(t, 3, s.Contracts)
	assert.InDelta(t, 2_700_000, s.Notional, 1)
	// Anchored on the strongest member plus the sector bonus.
	assert.Equal(t, 130, s.Score)
	assert.Equal(t, "NVDA", s.Ticker)
	assert.Contains(t, s.Reason, "sector sweep across AMD/AVGO/NVDA")
}

func TestLink_SectorSweepRespectsNotionalFloor(t *testing.T) {
	l := New(config.Default().Linker)

	mk := func(ticker string) scorer.ScoredTrade {
		s := trade(ticker, models.SideCall, 100, 1500, 400_000, 90)
		s.Sector = "Semiconductors"
		return s
	}

	// Three tickers but only $1.2M combined: below the sweep floor.
	out := l.Link([]scorer.ScoredTrade{mk("NVDA"), mk("AMD"), mk("AVGO")})
	for _, s := range out {
		assert.Equal(t, scorer.ClassSingle, s.Classification)
		assert.Equal(t, 90, s.Score)
	}
}

func TestLink_SortsByScore(t *testing.T) {
	l := New(config.Default().Linker)

	out := l.Link([]scorer.ScoredTrade{
		trade("KO", models.SideCall, 60, 600, 90_000, 40),
		trade("NVDA", models.SideCall, 190, 8500, 4_400_000, 204),
		trade("TSLA", models.SidePut, 230, 2200, 900_000, 95),
	})

	require.Len(t, out, 3)
	assert.Equal(t, []string{"NVDA", "TSLA", "KO"}, []string{out[0].Ticker, out[1].Ticker, out[2].Ticker})
}
