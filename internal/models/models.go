package models

import "time"

// Side identifies the option side of a contract.
type Side string

const (
	SideCall Side = "call"
	SidePut  Side = "put"
)

// IsCall reports whether the side is the call side.
func (s Side) IsCall() bool { return s == SideCall }

// Regime labels the broad market environment supplied by the macro collaborator.
type Regime string

const (
	RegimeRiskOn  Regime = "RISK_ON"
	RegimeRiskOff Regime = "RISK_OFF"
	RegimeHighVol Regime = "HIGH_VOLATILITY"
	RegimeNeutral Regime = "NEUTRAL"
)

// SectorDivergence labels how a ticker trades relative to its sector ETF.
type SectorDivergence string

const (
	SectorCorrelated       SectorDivergence = "Correlated"
	SectorRelativeStrength SectorDivergence = "Relative Strength"
	SectorIsolatedWeakness SectorDivergence = "Isolated Weakness"
)

// ContractSnapshot is one immutable row of an option-chain snapshot.
// Rows are never mutated after ingestion; every derived value is computed
// into new output records (no shared-state fan-out).
type ContractSnapshot struct {
	Ticker           string    `json:"ticker"`
	Contract         string    `json:"contract"`
	Side             Side      `json:"side"`
	Strike           float64   `json:"strike"`
	Expiration       time.Time `json:"expiration"`
	DTE              int       `json:"dte"`
	Volume           int64     `json:"volume"`
	OpenInterest     int64     `json:"open_interest"`
	LastPrice        float64   `json:"last_price"`
	Bid              float64   `json:"bid"`
	Ask              float64   `json:"ask"`
	ImpliedVol       float64   `json:"implied_vol"`
	Spot             float64   `json:"spot"`
	UnderlyingVolume int64     `json:"underlying_volume"`
}

// Notional returns the dollar premium traded: volume x last price x 100.
func (c ContractSnapshot) Notional() float64 {
	return float64(c.Volume) * c.LastPrice * 100
}

// VolOIRatio returns volume relative to resting open interest. The +1
// denominator keeps zero-OI contracts finite.
func (c ContractSnapshot) VolOIRatio() float64 {
	return float64(c.Volume) / float64(c.OpenInterest+1)
}

// Moneyness returns the absolute distance of the strike from spot as a
// percentage of spot, or 0 when spot is unknown.
func (c ContractSnapshot) Moneyness() float64 {
	if c.Spot <= 0 {
		return 0
	}
	d := c.Strike - c.Spot
	if d < 0 {
		d = -d
	}
	return d / c.Spot * 100
}

// Candle is a single intraday 1-minute OHLCV bar.
type Candle struct {
	Timestamp time.Time `json:"ts"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	VWAP      float64   `json:"vwap"`
}

// MacroContext carries the macro tape supplied by the data collaborator.
// Percentage changes are day-over-day.
type MacroContext struct {
	SPYChange float64 `json:"spy_change"`
	VIXChange float64 `json:"vix_change"`
	DXYChange float64 `json:"dxy_change"`
	TNXChange float64 `json:"tnx_change"`
	Sentiment string  `json:"sentiment_label"`
}

// TickerContext bundles the optional per-ticker signals the scorer consumes.
// Absent values stay at their zero value and degrade to neutral scoring.
type TickerContext struct {
	Sector         string           `json:"sector"`
	EarningsDate   *time.Time       `json:"earnings_date,omitempty"`
	SocialVelocity float64          `json:"social_velocity"`
	Divergence     SectorDivergence `json:"divergence,omitempty"`
}
