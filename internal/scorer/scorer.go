// Package scorer fuses every upstream signal into one integer conviction
// score per contract and decides which rows count as whale flow. The rubric
// is additive and deterministic; all point values come from config because
// they were tuned empirically, not derived.
package scorer

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/flowsight/flowsight/internal/baseline"
	"github.com/flowsight/flowsight/internal/config"
	"github.com/flowsight/flowsight/internal/exposure"
	"github.com/flowsight/flowsight/internal/greeks"
	"github.com/flowsight/flowsight/internal/microstructure"
	"github.com/flowsight/flowsight/internal/models"
	"github.com/flowsight/flowsight/internal/surface"
)

// Classification tags how a scored trade was grouped.
type Classification string

const (
	ClassSingle         Classification = "single"
	ClassVerticalSpread Classification = "vertical-spread"
	ClassTickerCluster  Classification = "ticker-cluster"
	ClassSectorSweep    Classification = "sector-sweep"
)

// ScoredTrade is the fixed-schema output unit handed to the linker and then
// to the alerting collaborator. Optional inputs surface as explicit nullable
// members; nothing is attached ad hoc.
type ScoredTrade struct {
	Ticker     string      `json:"ticker"`
	Contract   string      `json:"contract"`
	Side       models.Side `json:"side"`
	Strike     float64     `json:"strike"`
	Expiration time.Time   `json:"expiration"`
	Sector     string      `json:"sector"`

	Volume       int64   `json:"volume"`
	OpenInterest int64   `json:"open_interest"`
	Premium      float64 `json:"premium"`
	Notional     float64 `json:"notional"`
	RelVol       float64 `json:"rel_vol"`
	ZScore       float64 `json:"z_score"`

	Greeks   greeks.Greeks    `json:"greeks"`
	Exposure exposure.Summary `json:"exposure"`
	Surface  surface.Surface  `json:"surface"`

	TrendProbability float64    `json:"trend_prob"`
	EarningsDate     *time.Time `json:"earnings_date,omitempty"`

	// Pass-through context for the downstream alerting collaborator.
	Macro      models.MacroContext     `json:"macro"`
	Regime     models.Regime           `json:"regime,omitempty"`
	Divergence models.SectorDivergence `json:"divergence,omitempty"`

	Score          int            `json:"score"`
	Reason         string         `json:"detection_reason"`
	Classification Classification `json:"classification"`

	// Populated by the linker when legs or contracts are merged.
	Legs      []float64 `json:"legs,omitempty"`
	Contracts int       `json:"contracts,omitempty"`
}

// Input bundles everything the rubric reads for one contract. Zero-valued
// members mean the signal is absent and score as neutral.
type Input struct {
	Snapshot models.ContractSnapshot
	Greeks   greeks.Greeks
	Exposure exposure.Summary
	Surface  surface.Surface
	Micro    microstructure.Analysis

	Ticker    baseline.TickerBaseline
	Contract  baseline.ContractBaseline
	Campaign  int    // same-side alerts in the trailing week
	Precedent string // win-rate context from the store

	Context models.TickerContext
	Macro   models.MacroContext
	Regime  models.Regime
	Now     time.Time
}

// Scorer applies the conviction rubric.
type Scorer struct {
	scoring config.Scoring
	whale   config.Whale
	micro   config.Micro
}

// New creates a scorer from config.
func New(cfg config.Config) *Scorer {
	return &Scorer{scoring: cfg.Scoring, whale: cfg.Whale, micro: cfg.Micro}
}

// Score runs the rubric over one contract and reports whether it qualifies
// as whale flow. The returned trade is fully populated either way so callers
// can log near-misses.
func (s *Scorer) Score(in Input) (ScoredTrade, bool) {
	snap := in.Snapshot
	cfg := s.scoring

	relVol := float64(snap.Volume) / (in.Contract.AvgVolume + 1)
	zScore := (float64(snap.Volume) - in.Contract.AvgVolume) / (in.Contract.StdDev + 1)
	notional := snap.Notional()

	var points int
	var reasons []string
	add := func(p int, reason string) {
		points += p
		reasons = append(reasons, reason)
	}

	switch {
	case notional > cfg.NotionalLarge:
		add(cfg.PointsNotionalLarge, fmt.Sprintf("block notional $%.0fk", notional/1000))
	case notional > cfg.NotionalMedium:
		add(cfg.PointsNotionalMedium, "sizeable notional")
	}

	if relVol > cfg.RelVolThreshold {
		add(cfg.PointsRelVol, fmt.Sprintf("%.1fx relative volume", relVol))
	}
	if zScore > cfg.ZScoreThreshold {
		add(cfg.PointsZScore, fmt.Sprintf("volume z %.1f", zScore))
	}

	points += s.aggressionPoints(snap, &reasons)

	if in.Micro.Iceberg {
		add(cfg.PointsIceberg, "iceberg accumulation")
	}
	if in.Micro.Flow == microstructure.FlowAggressiveSweep {
		add(cfg.PointsSweep, "aggressive sweep")
	}

	if stockZ := stockZScore(snap, in.Ticker); stockZ > cfg.StockZExtreme {
		add(cfg.PointsStockExtreme, fmt.Sprintf("extreme stock heat z %.1f", stockZ))
	} else if stockZ > cfg.StockZThreshold {
		add(cfg.PointsStockHeat, "elevated stock volume")
	}

	if skewAligned(in.Surface.Bias, snap.Side) {
		add(cfg.PointsSkewAlign, fmt.Sprintf("surface bias %s aligned", in.Surface.Bias))
	}

	if in.Campaign >= cfg.CampaignHeavy {
		add(cfg.PointsCampaignHeavy, fmt.Sprintf("heavy campaign, %d same-side alerts this week", in.Campaign))
	} else if in.Campaign >= cfg.CampaignThreshold {
		add(cfg.PointsCampaign, "repeat campaign this week")
	}

	if d, ok := daysUntil(in.Context.EarningsDate, in.Now); ok && d <= cfg.EarningsWindowDays {
		add(cfg.PointsEarnings, fmt.Sprintf("earnings in %d days", d))
	}

	if snap.DTE < cfg.ShortDatedMaxDTE && snap.Moneyness() < cfg.ShortDatedMoneyness {
		add(cfg.PointsShortDated, "short-dated near the money")
	}

	// Calls pressed against the call wall are pinned by dealer hedging.
	if snap.Side.IsCall() && nearLevel(snap.Spot, in.Exposure.CallWall, cfg.WallProximityPct) {
		add(cfg.PenaltyCallWall, "pinned at call wall")
	}
	if nearLevel(snap.Spot, in.Exposure.GammaFlip, cfg.WallProximityPct) {
		reasons = append(reasons, "near gamma flip")
	}

	trust := in.Ticker.TrustScore
	if trust <= 0 {
		trust = baseline.TrustNeutral
	}
	conviction := in.Micro.Conviction(snap.Side, snap.Spot, s.micro)
	if conviction != 1.0 {
		reasons = append(reasons, "trap: wrong side of high-volume node")
	}

	final := int(float64(points) * trust * conviction)

	opening := snap.Volume > snap.OpenInterest && snap.Volume > s.whale.OpeningVolume
	if opening {
		reasons = append(reasons, "opening position, volume exceeds OI")
	}
	if in.Precedent != "" {
		reasons = append(reasons, in.Precedent)
	}

	trade := ScoredTrade{
		Ticker:           snap.Ticker,
		Contract:         snap.Contract,
		Side:             snap.Side,
		Strike:           snap.Strike,
		Expiration:       snap.Expiration,
		Sector:           in.Context.Sector,
		Volume:           snap.Volume,
		OpenInterest:     snap.OpenInterest,
		Premium:          snap.LastPrice,
		Notional:         notional,
		RelVol:           relVol,
		ZScore:           zScore,
		Greeks:           in.Greeks,
		Exposure:         in.Exposure,
		Surface:          in.Surface,
		TrendProbability: in.Micro.TrendProbability(snap.Spot, in.Exposure.CallWall, in.Exposure.PutWall, s.micro),
		EarningsDate:     in.Context.EarningsDate,
		Macro:            in.Macro,
		Regime:           in.Regime,
		Divergence:       in.Context.Divergence,
		Score:            final,
		Reason:           strings.Join(reasons, "; "),
		Classification:   ClassSingle,
	}

	return trade, s.isWhale(snap, final, opening)
}

// isWhale applies the three independent qualification routes: hard floors,
// final score, or the opening-position bypass. Opening positions are
// high-signal regardless of score, which is why the bypass exists.
func (s *Scorer) isWhale(snap models.ContractSnapshot, score int, opening bool) bool {
	floors := snap.Volume >= s.whale.MinVolume &&
		snap.Notional() >= s.whale.MinNotional &&
		snap.VolOIRatio() >= s.whale.MinVolOIRatio
	return floors || score >= s.whale.MinScore || opening
}

// aggressionPoints reads where the last print sat relative to the spread.
// Lifting the offer is initiating flow; hitting the bid scores nothing.
func (s *Scorer) aggressionPoints(snap models.ContractSnapshot, reasons *[]string) int {
	if snap.Ask <= 0 || snap.LastPrice <= 0 {
		return 0
	}
	switch {
	case snap.LastPrice >= snap.Ask:
		*reasons = append(*reasons, "aggressive, traded at/above ask")
		return s.scoring.PointsAtAsk
	case snap.Bid > 0 && snap.LastPrice <= snap.Bid:
		return 0
	default:
		return s.scoring.PointsMidMarket
	}
}

// stockZScore standardizes today's underlying share volume against the
// ticker baseline. No baseline means no signal.
func stockZScore(snap models.ContractSnapshot, b baseline.TickerBaseline) float64 {
	if b.AvgVolume <= 0 || snap.UnderlyingVolume <= 0 {
		return 0
	}
	return (float64(snap.UnderlyingVolume) - b.AvgVolume) / (b.StdDev + 1)
}

func skewAligned(bias surface.Bias, side models.Side) bool {
	return (bias == surface.BiasBullish && side.IsCall()) ||
		(bias == surface.BiasBearish && !side.IsCall())
}

func daysUntil(date *time.Time, now time.Time) (int, bool) {
	if date == nil || now.IsZero() {
		return 0, false
	}
	d := int(math.Ceil(date.Sub(now).Hours() / 24))
	if d < 0 {
		return 0, false
	}
	return d, true
}

func nearLevel(spot, level, pct float64) bool {
	if spot <= 0 || level <= 0 {
		return false
	}
	return math.Abs(spot-level)/spot <= pct
}
