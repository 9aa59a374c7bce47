package scan

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowsight/flowsight/internal/baseline"
	"github.com/flowsight/flowsight/internal/config"
	"github.com/flowsight/flowsight/internal/metrics"
	"github.com/flowsight/flowsight/internal/models"
	"github.com/flowsight/flowsight/internal/scorer"
)

var testNow = time.Date(2026, 8, 21, 15, 0, 0, 0, time.UTC)

// fakeProvider replays canned chain data and live open interest.
type fakeProvider struct {
	universe []string
	data     map[string]ChainData
	live     baseline.LiveOpenInterest
	failing  map[string]bool
	regime   models.Regime

	fetches int
}

func (f *fakeProvider) Universe(context.Context) ([]string, error) {
	return f.universe, nil
}

func (f *fakeProvider) Fetch(_ context.Context, ticker string) (ChainData, error) {
	f.fetches++
	if f.failing[ticker] {
		return ChainData{}, errors.New("upstream 502")
	}
	return f.data[ticker], nil
}

func (f *fakeProvider) Macro(context.Context) (models.MacroContext, models.Regime, error) {
	return models.MacroContext{SPYChange: 0.4, Sentiment: "Risk-On"}, f.regime, nil
}

func (f *fakeProvider) OpenInterest(context.Context, []string) (baseline.LiveOpenInterest, error) {
	return f.live, nil
}

func bigCall(ticker string) models.ContractSnapshot {
	return models.ContractSnapshot{
		Ticker:           ticker,
		Contract:         ticker + "260918C00190000",
		Side:             models.SideCall,
		Strike:           190,
		Expiration:       testNow.AddDate(0, 0, 28),
		DTE:              28,
		Volume:           8500,
		OpenInterest:     1200,
		LastPrice:        5.20,
		Bid:              5.10,
		Ask:              5.20,
		ImpliedVol:       0.42,
		Spot:             182,
		UnderlyingVolume: 40_000_000,
	}
}

func quietPut(ticker string) models.ContractSnapshot {
	return models.ContractSnapshot{
		Ticker: ticker, Contract: ticker + "-quiet", Side: models.SidePut,
		Strike: 180, Expiration: testNow.AddDate(0, 3, 0), DTE: 90,
		Volume: 40, OpenInterest: 9000,
		LastPrice: 1.10, Bid: 1.05, Ask: 1.15, Spot: 182,
	}
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Scan.TickersPerSec = 10_000 // no pacing in tests
	return cfg
}

func newPipeline(p ChainProvider, store baseline.Store, cfg config.Config) *Pipeline {
	pl := New(p, store, nil, metrics.NewRegistry(prometheus.NewRegistry()), cfg)
	pl.now = func() time.Time { return testNow }
	return pl
}

func TestRun_FlagsWhalesAndPersistsAlerts(t *testing.T) {
	provider := &fakeProvider{
		universe: []string{"NVDA"},
		data: map[string]ChainData{
			"NVDA": {Chain: []models.ContractSnapshot{bigCall("NVDA"), quietPut("NVDA")}},
		},
	}
	store := baseline.NewMemStore()
	pl := newPipeline(provider, store, testConfig())

	out, err := pl.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, out, 1)
	assert.Equal(t, "NVDA", out[0].Ticker)
	assert.Equal(t, scorer.ClassSingle, out[0].Classification)
	assert.Greater(t, out[0].Score, 85)

	// Macro tape rides along for the alerting collaborator; an unset
	// regime label defaults to neutral.
	assert.InDelta(t, 0.4, out[0].Macro.SPYChange, 1e-9)
	assert.Equal(t, models.RegimeNeutral, out[0].Regime)

	// The flagged contract left an unconfirmed alert behind.
	n, err := store.CampaignCount(context.Background(), "NVDA", models.SideCall, testNow.AddDate(0, 0, -7))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// The quiet put never produced one.
	n, err = store.CampaignCount(context.Background(), "NVDA", models.SidePut, testNow.AddDate(0, 0, -7))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRun_TickerFailureDoesNotAbortBatch(t *testing.T) {
	provider := &fakeProvider{
		universe: []string{"BROKEN", "NVDA"},
		failing:  map[string]bool{"BROKEN": true},
		data: map[string]ChainData{
			"NVDA": {Chain: []models.ContractSnapshot{bigCall("NVDA")}},
		},
	}
	pl := newPipeline(provider, baseline.NewMemStore(), testConfig())

	out, err := pl.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "NVDA", out[0].Ticker)
}

func TestRun_VerificationLandsBeforeScoring(t *testing.T) {
	contract := "NVDA260918C00190000"
	store := baseline.NewMemStore()
	ctx := context.Background()

	require.NoError(t, store.UpsertBaseline(ctx, baseline.DefaultBaseline("NVDA")))
	require.NoError(t, store.InsertAlert(ctx, baseline.AlertRecord{
		ID: "prior", Ticker: "NVDA", Contract: contract, Side: models.SideCall,
		CreatedAt: testNow.Add(-30 * time.Hour), Volume: 1000, OpenInterest: 500,
	}))

	provider := &fakeProvider{
		universe: []string{"NVDA"},
		data: map[string]ChainData{
			"NVDA": {Chain: []models.ContractSnapshot{bigCall("NVDA")}},
		},
		// 80% of alerted volume converted to open interest: held.
		live: baseline.LiveOpenInterest{contract: 1300},
	}
	pl := newPipeline(provider, store, testConfig())

	out, err := pl.Run(ctx)
	require.NoError(t, err)
	require.Len(t, out, 1)

	// The held verdict raised trust to 1.15 before this cycle scored:
	// 190 raw points * 1.15.
	assert.Equal(t, 218, out[0].Score)
	assert.Contains(t, out[0].Reason, "1 held / 0 faded of 1 prior alerts")

	b, err := store.Baseline(ctx, "NVDA")
	require.NoError(t, err)
	assert.InDelta(t, 1.15, b.TrustScore, 1e-9)
}

// winRateFailStore breaks only the win-rate read.
type winRateFailStore struct {
	baseline.Store
}

func (winRateFailStore) WinRate(context.Context, string, models.Side) (baseline.WinRate, error) {
	return baseline.WinRate{}, errors.New("connection refused")
}

func TestRun_WinRateFailureReadsNoPrecedent(t *testing.T) {
	provider := &fakeProvider{
		universe: []string{"NVDA"},
		data: map[string]ChainData{
			"NVDA": {Chain: []models.ContractSnapshot{bigCall("NVDA")}},
		},
	}
	store := winRateFailStore{baseline.NewMemStore()}
	pl := newPipeline(provider, store, testConfig())

	out, err := pl.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Contains(t, out[0].Reason, "no historical precedent")
}

func TestRun_RespectsMaxTickers(t *testing.T) {
	cfg := testConfig()
	cfg.Scan.MaxTickers = 2

	provider := &fakeProvider{
		universe: []string{"A", "B", "C"},
		data:     map[string]ChainData{},
	}
	pl := newPipeline(provider, baseline.NewMemStore(), cfg)

	_, err := pl.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, provider.fetches)
}

func TestRun_BaselineRefreshesOncePerDay(t *testing.T) {
	call := bigCall("NVDA")
	provider := &fakeProvider{
		universe: []string{"NVDA"},
		data: map[string]ChainData{
			"NVDA": {Chain: []models.ContractSnapshot{call}},
		},
	}
	store := baseline.NewMemStore()
	pl := newPipeline(provider, store, testConfig())
	ctx := context.Background()

	_, err := pl.Run(ctx)
	require.NoError(t, err)

	b, err := store.Baseline(ctx, "NVDA")
	require.NoError(t, err)
	require.InDelta(t, 40_000_000, b.AvgVolume, 1)

	// A second cycle the same day sees doubled intraday volume; without the
	// date check it would fold into the average a second time.
	call.UnderlyingVolume = 80_000_000
	provider.data["NVDA"] = ChainData{Chain: []models.ContractSnapshot{call}}

	_, err = pl.Run(ctx)
	require.NoError(t, err)

	b, err = store.Baseline(ctx, "NVDA")
	require.NoError(t, err)
	assert.InDelta(t, 40_000_000, b.AvgVolume, 1)
	assert.Equal(t, testNow, b.UpdatedAt)
}

func TestRun_RefreshSeedsBaseline(t *testing.T) {
	provider := &fakeProvider{
		universe: []string{"NVDA"},
		data: map[string]ChainData{
			"NVDA": {
				Chain:   []models.ContractSnapshot{bigCall("NVDA")},
				Context: models.TickerContext{Sector: "Semiconductors"},
			},
		},
	}
	store := baseline.NewMemStore()
	pl := newPipeline(provider, store, testConfig())

	_, err := pl.Run(context.Background())
	require.NoError(t, err)

	b, err := store.Baseline(context.Background(), "NVDA")
	require.NoError(t, err)
	assert.Equal(t, "Semiconductors", b.Sector)
	assert.InDelta(t, 40_000_000, b.AvgVolume, 1)
	assert.Equal(t, baseline.TrustNeutral, b.TrustScore)
}
