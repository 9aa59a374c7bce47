package exposure

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowsight/flowsight/internal/greeks"
	"github.com/flowsight/flowsight/internal/models"
)

// row builds one synthetic chain row with a hand-picked gamma so exposure at
// each strike is known exactly: gex = gamma * oi * 100 * spot, negated for puts.
func row(side models.Side, strike, gamma float64, oi int64) (models.ContractSnapshot, greeks.Greeks) {
	return models.ContractSnapshot{Side: side, Strike: strike, OpenInterest: oi, Spot: 100},
		greeks.Greeks{Gamma: gamma, Vanna: 0.1, Charm: 0.05, Color: -0.01}
}

func chain(rows ...func() (models.ContractSnapshot, greeks.Greeks)) ([]models.ContractSnapshot, []greeks.Greeks) {
	var snaps []models.ContractSnapshot
	var gks []greeks.Greeks
	for _, r := range rows {
		s, g := r()
		snaps = append(snaps, s)
		gks = append(gks, g)
	}
	return snaps, gks
}

func TestMap_WallsAndFlip(t *testing.T) {
	// Exposure by strike: 90 -> -2e5 (puts), 100 -> +1e5, 110 -> +3e5.
	// Call wall is 110 (max), put wall 90 (min). Cumulative: -2e5, -1e5,
	// +2e5 — the single sign crossing happens at 110.
	snaps, gks := chain(
		func() (models.ContractSnapshot, greeks.Greeks) { return row(models.SidePut, 90, 0.02, 1000) },
		func() (models.ContractSnapshot, greeks.Greeks) { return row(models.SideCall, 100, 0.01, 1000) },
		func() (models.ContractSnapshot, greeks.Greeks) { return row(models.SideCall, 110, 0.03, 1000) },
	)

	s := Map(snaps, gks)
	assert.Equal(t, 110.0, s.CallWall)
	assert.Equal(t, 90.0, s.PutWall)
	assert.Equal(t, 110.0, s.GammaFlip)
}

func TestMap_NoCrossingFlipIsZero(t *testing.T) {
	snaps, gks := chain(
		func() (models.ContractSnapshot, greeks.Greeks) { return row(models.SideCall, 100, 0.01, 500) },
		func() (models.ContractSnapshot, greeks.Greeks) { return row(models.SideCall, 110, 0.02, 500) },
	)
	s := Map(snaps, gks)
	assert.Equal(t, 0.0, s.GammaFlip)
	assert.Equal(t, 110.0, s.CallWall)
	assert.Equal(t, 100.0, s.PutWall)
}

func TestMap_FlipThroughZeroTouch(t *testing.T) {
	// Cumulative: -2e5, 0, +1e5. Landing exactly on zero at 100 is still a
	// crossing; the flip reports at 110 where the positive sign appears.
	snaps, gks := chain(
		func() (models.ContractSnapshot, greeks.Greeks) { return row(models.SidePut, 90, 0.02, 1000) },
		func() (models.ContractSnapshot, greeks.Greeks) { return row(models.SideCall, 100, 0.02, 1000) },
		func() (models.ContractSnapshot, greeks.Greeks) { return row(models.SideCall, 110, 0.01, 1000) },
	)
	s := Map(snaps, gks)
	assert.Equal(t, 110.0, s.GammaFlip)

	// Touching zero and returning to the same sign is not a crossing.
	snaps, gks = chain(
		func() (models.ContractSnapshot, greeks.Greeks) { return row(models.SidePut, 90, 0.02, 1000) },
		func() (models.ContractSnapshot, greeks.Greeks) { return row(models.SideCall, 100, 0.02, 1000) },
		func() (models.ContractSnapshot, greeks.Greeks) { return row(models.SidePut, 110, 0.01, 1000) },
	)
	assert.Equal(t, 0.0, Map(snaps, gks).GammaFlip)
}

func TestMap_DollarExposures(t *testing.T) {
	snaps, gks := chain(
		func() (models.ContractSnapshot, greeks.Greeks) { return row(models.SideCall, 100, 0.01, 1000) },
	)
	s := Map(snaps, gks)

	// vanna 0.1 * 1000 * 100 * 0.01 = 100; charm 0.05 * 1000 * 100 = 5000;
	// color -0.01 * 1000 * 100 = -1000.
	assert.InDelta(t, 100.0, s.DollarVanna, 1e-9)
	assert.InDelta(t, 5000.0, s.DollarCharm, 1e-9)
	assert.InDelta(t, -1000.0, s.DecayVelocity, 1e-9)
}

func TestMap_Idempotent(t *testing.T) {
	snaps, gks := chain(
		func() (models.ContractSnapshot, greeks.Greeks) { return row(models.SidePut, 90, 0.02, 800) },
		func() (models.ContractSnapshot, greeks.Greeks) { return row(models.SideCall, 105, 0.015, 1200) },
		func() (models.ContractSnapshot, greeks.Greeks) { return row(models.SideCall, 120, 0.01, 400) },
	)

	first := Map(snaps, gks)
	second := Map(snaps, gks)
	require.Equal(t, first, second)
}

func TestMap_EmptyAndMismatched(t *testing.T) {
	assert.Equal(t, Summary{}, Map(nil, nil))

	snaps, gks := chain(
		func() (models.ContractSnapshot, greeks.Greeks) { return row(models.SideCall, 100, 0.01, 100) },
	)
	assert.Equal(t, Summary{}, Map(snaps, gks[:0]))
}
