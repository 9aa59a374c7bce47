package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Config is the root configuration for the scanning engine. Every rubric
// constant is deliberately a config field: the point values were tuned
// empirically, not derived, so operators get to override them.
type Config struct {
	Scoring Scoring `yaml:"scoring"`
	Whale   Whale   `yaml:"whale"`
	Micro   Micro   `yaml:"microstructure"`
	Linker  Linker  `yaml:"linker"`
	Verify  Verify  `yaml:"verify"`
	Store   Store   `yaml:"store"`
	Scan    Scan    `yaml:"scan"`
}

// Scoring holds the additive point rubric and its trigger thresholds.
type Scoring struct {
	RiskFreeRate float64 `yaml:"risk_free_rate"`

	NotionalLarge       float64 `yaml:"notional_large"`        // > this: +PointsNotionalLarge
	NotionalMedium      float64 `yaml:"notional_medium"`       // > this: +PointsNotionalMedium
	RelVolThreshold     float64 `yaml:"rel_vol_threshold"`     // contract rel vol trigger
	ZScoreThreshold     float64 `yaml:"z_score_threshold"`     // contract z trigger
	StockZThreshold     float64 `yaml:"stock_z_threshold"`     // underlying volume z trigger
	StockZExtreme       float64 `yaml:"stock_z_extreme"`       // extreme underlying z trigger
	CampaignThreshold   int     `yaml:"campaign_threshold"`    // same-side alerts this week
	CampaignHeavy       int     `yaml:"campaign_heavy"`        // heavy campaign trigger
	EarningsWindowDays  int     `yaml:"earnings_window_days"`  // earnings proximity window
	WallProximityPct    float64 `yaml:"wall_proximity_pct"`    // fraction of spot, e.g. 0.01
	ShortDatedMaxDTE    int     `yaml:"short_dated_max_dte"`   // near-dated conviction window
	ShortDatedMoneyness float64 `yaml:"short_dated_moneyness"` // max distance from spot, pct

	PointsNotionalLarge  int `yaml:"points_notional_large"`
	PointsNotionalMedium int `yaml:"points_notional_medium"`
	PointsRelVol         int `yaml:"points_rel_vol"`
	PointsZScore         int `yaml:"points_z_score"`
	PointsAtAsk          int `yaml:"points_at_ask"`
	PointsMidMarket      int `yaml:"points_mid_market"`
	PointsIceberg        int `yaml:"points_iceberg"`
	PointsSweep          int `yaml:"points_sweep"`
	PointsStockHeat      int `yaml:"points_stock_heat"`
	PointsStockExtreme   int `yaml:"points_stock_extreme"`
	PointsSkewAlign      int `yaml:"points_skew_align"`
	PointsCampaign       int `yaml:"points_campaign"`
	PointsCampaignHeavy  int `yaml:"points_campaign_heavy"`
	PointsEarnings       int `yaml:"points_earnings"`
	PointsShortDated     int `yaml:"points_short_dated"`
	PenaltyCallWall      int `yaml:"penalty_call_wall"`
}

// Whale holds the hard qualification floors for flagging a contract.
type Whale struct {
	MinVolume     int64   `yaml:"min_volume"`
	MinNotional   float64 `yaml:"min_notional"`
	MinVolOIRatio float64 `yaml:"min_vol_oi_ratio"`
	MinScore      int     `yaml:"min_score"`
	OpeningVolume int64   `yaml:"opening_volume"` // vol > OI bypass floor
}

// Micro holds the intraday candle analyzer parameters.
type Micro struct {
	DensityWindow    int     `yaml:"density_window"`    // rolling z-score window, bars
	DensityZ         float64 `yaml:"density_z"`         // iceberg z trigger
	RecentBars       int     `yaml:"recent_bars"`       // bars inspected for iceberg
	VolumePercentile float64 `yaml:"volume_percentile"` // top-decile cutoff
	AggressiveRatio  float64 `yaml:"aggressive_ratio"`  // (close-low)/(high-low) trigger
	PassiveRatio     float64 `yaml:"passive_ratio"`
	TrapMultiplier   float64 `yaml:"trap_multiplier"`    // conviction when wrong side of HVN
	MinBars          int     `yaml:"min_bars"`           // below this everything is neutral
	WallProximityPct float64 `yaml:"wall_proximity_pct"` // trend-probability boost band
}

// Linker holds the spread/cluster/sector grouping parameters.
type Linker struct {
	SpreadVolumeTolerance float64 `yaml:"spread_volume_tolerance"` // leg volume diff ratio
	SpreadBonus           int     `yaml:"spread_bonus"`
	ClusterMinContracts   int     `yaml:"cluster_min_contracts"`
	ClusterBonus          int     `yaml:"cluster_bonus"`
	SectorEnabled         bool    `yaml:"sector_enabled"`
	SectorMinTickers      int     `yaml:"sector_min_tickers"`
	SectorNotionalFloor   float64 `yaml:"sector_notional_floor"`
	SectorBonus           int     `yaml:"sector_bonus"`
}

// Verify holds the overnight stickiness and clearing-audit parameters.
type Verify struct {
	HeldRatio         float64 `yaml:"held_ratio"`  // >= this: position held
	FadedRatio        float64 `yaml:"faded_ratio"` // < this: position faded
	TrustHeldDelta    float64 `yaml:"trust_held_delta"`
	TrustFadedDelta   float64 `yaml:"trust_faded_delta"`
	ClearingTolerance float64 `yaml:"clearing_tolerance"` // cleared vol vs seen vol
	TrustClearedDelta float64 `yaml:"trust_cleared_delta"`
	TrustGhostDelta   float64 `yaml:"trust_ghost_delta"`
}

// Store holds persistence-layer settings.
type Store struct {
	QueryTimeout time.Duration `yaml:"query_timeout"`
	BaselineDays int           `yaml:"baseline_days"`
}

// Scan holds scan-cycle pacing and sizing.
type Scan struct {
	MaxTickers    int     `yaml:"max_tickers"`
	TickersPerSec float64 `yaml:"tickers_per_sec"`
}

// Default returns the tuned defaults the scanner ships with.
func Default() Config {
	return Config{
		Scoring: Scoring{
			RiskFreeRate:        0.045,
			NotionalLarge:       500_000,
			NotionalMedium:      100_000,
			RelVolThreshold:     8,
			ZScoreThreshold:     3,
			StockZThreshold:     2.5,
			StockZExtreme:       4,
			CampaignThreshold:   3,
			CampaignHeavy:       5,
			EarningsWindowDays:  7,
			WallProximityPct:    0.01,
			ShortDatedMaxDTE:    45,
			ShortDatedMoneyness: 15,

			PointsNotionalLarge:  40,
			PointsNotionalMedium: 30,
			PointsRelVol:         30,
			PointsZScore:         50,
			PointsAtAsk:          50,
			PointsMidMarket:      10,
			PointsIceberg:        65,
			PointsSweep:          50,
			PointsStockHeat:      40,
			PointsStockExtreme:   60,
			PointsSkewAlign:      40,
			PointsCampaign:       40,
			PointsCampaignHeavy:  60,
			PointsEarnings:       50,
			PointsShortDated:     20,
			PenaltyCallWall:      -30,
		},
		Whale: Whale{
			MinVolume:     500,
			MinNotional:   25_000,
			MinVolOIRatio: 8.0,
			MinScore:      85,
			OpeningVolume: 500,
		},
		Micro: Micro{
			DensityWindow:    30,
			DensityZ:         3,
			RecentBars:       5,
			VolumePercentile: 90,
			AggressiveRatio:  0.8,
			PassiveRatio:     0.2,
			TrapMultiplier:   0.3,
			MinBars:          20,
			WallProximityPct: 0.01,
		},
		Linker: Linker{
			SpreadVolumeTolerance: 0.20,
			SpreadBonus:           25,
			ClusterMinContracts:   3,
			ClusterBonus:          30,
			SectorEnabled:         true,
			SectorMinTickers:      3,
			SectorNotionalFloor:   2_000_000,
			SectorBonus:           40,
		},
		Verify: Verify{
			HeldRatio:         0.70,
			FadedRatio:        0.20,
			TrustHeldDelta:    0.15,
			TrustFadedDelta:   -0.05,
			ClearingTolerance: 0.80,
			TrustClearedDelta: 0.05,
			TrustGhostDelta:   -0.10,
		},
		Store: Store{
			QueryTimeout: 5 * time.Second,
			BaselineDays: 30,
		},
		Scan: Scan{
			MaxTickers:    50,
			TickersPerSec: 0.5,
		},
	}
}

// Load reads a yaml config file and overlays it on the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}
