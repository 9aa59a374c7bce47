// Package baseline owns the durable state between scan cycles: per-contract
// volume/OI history, per-ticker rolling baselines with a bounded trust
// multiplier, and the alert records whose overnight outcomes feed trust back
// into the next cycle's scoring.
package baseline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flowsight/flowsight/internal/models"
)

// Trust multiplier bounds. Every write clamps to this range, so no sequence
// of increments or decrements can ever push a ticker outside it.
const (
	TrustFloor   = 0.5
	TrustCeiling = 2.0
	TrustNeutral = 1.0
)

var (
	// ErrNoBaseline means the ticker has no persisted baseline yet.
	// Callers score with DefaultBaseline instead of failing the ticker.
	ErrNoBaseline = errors.New("no baseline for ticker")

	// ErrStoreUnavailable means the persistence layer is degraded (breaker
	// open or backend down). Callers fall back to safe defaults.
	ErrStoreUnavailable = errors.New("baseline store unavailable")
)

// TickerBaseline is the persisted per-ticker rolling baseline. It is mutated
// at most once per UTC day, enforced by the refresh guard.
type TickerBaseline struct {
	Ticker         string     `db:"ticker"`
	AvgVolume      float64    `db:"avg_volume"`
	StdDev         float64    `db:"std_dev"`
	Sector         string     `db:"sector"`
	TrustScore     float64    `db:"trust_score"`
	SocialVelocity float64    `db:"social_velocity"`
	EarningsDate   *time.Time `db:"earnings_date"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

// DefaultBaseline is the stand-in used for unknown tickers or a degraded
// store: no volume history, neutral trust.
func DefaultBaseline(ticker string) TickerBaseline {
	return TickerBaseline{Ticker: ticker, TrustScore: TrustNeutral}
}

// ClampTrust bounds a trust score to [TrustFloor, TrustCeiling].
func ClampTrust(v float64) float64 {
	if v < TrustFloor {
		return TrustFloor
	}
	if v > TrustCeiling {
		return TrustCeiling
	}
	return v
}

// ContractStat is one day's volume/OI observation for a single contract.
type ContractStat struct {
	Ticker       string    `db:"ticker"`
	Contract     string    `db:"contract"`
	Date         time.Time `db:"date"`
	Volume       int64     `db:"volume"`
	OpenInterest int64     `db:"open_interest"`
}

// ContractBaseline is the rolling statistic derived from contract history.
type ContractBaseline struct {
	AvgVolume float64 `db:"avg_volume"`
	AvgOI     float64 `db:"avg_oi"`
	StdDev    float64 `db:"std_dev"`
}

// ConfirmationState tracks an alert's outcome verification.
type ConfirmationState int

const (
	StateUnconfirmed  ConfirmationState = 0
	StateHeld         ConfirmationState = 1
	StateFaded        ConfirmationState = -1
	StatePartial      ConfirmationState = 2
	StateClearingFail ConfirmationState = -2
)

// String names the state for logs and reports.
func (s ConfirmationState) String() string {
	switch s {
	case StateUnconfirmed:
		return "unconfirmed"
	case StateHeld:
		return "held"
	case StateFaded:
		return "faded"
	case StatePartial:
		return "partial"
	case StateClearingFail:
		return "clearing-fail"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// AlertRecord is one flagged contract, persisted when first emitted and
// updated exactly once when verification resolves it.
type AlertRecord struct {
	ID           string            `db:"id"`
	Contract     string            `db:"contract"`
	Ticker       string            `db:"ticker"`
	Side         models.Side       `db:"side"`
	CreatedAt    time.Time         `db:"created_at"`
	Volume       int64             `db:"volume"`
	OpenInterest int64             `db:"open_interest"`
	Price        float64           `db:"price"`
	Confirmation ConfirmationState `db:"confirmation"`
	Outcome3d    *float64          `db:"outcome_3d"`
}

// WinRate summarizes resolved alert outcomes for a (ticker, side) pair.
type WinRate struct {
	Held  int `db:"held"`
	Faded int `db:"faded"`
	Total int `db:"total"`
}

// Precedent renders the historical context string fed to alert explanations.
func (w WinRate) Precedent() string {
	if w.Total == 0 {
		return "no historical precedent"
	}
	return fmt.Sprintf("%d held / %d faded of %d prior alerts (%.0f%% stickiness)",
		w.Held, w.Faded, w.Total, float64(w.Held)/float64(w.Total)*100)
}

// Store is the persistence contract between scan cycles. Implementations
// open short, independent critical sections per call; a single writer
// process is assumed. Every method honors its context deadline.
type Store interface {
	// Baseline returns the persisted baseline for a ticker, or
	// ErrNoBaseline when none exists.
	Baseline(ctx context.Context, ticker string) (TickerBaseline, error)

	// UpsertBaseline writes a ticker baseline, clamping trust on the way in.
	UpsertBaseline(ctx context.Context, b TickerBaseline) error

	// AdjustTrust applies a bounded delta to a ticker's trust score.
	AdjustTrust(ctx context.Context, ticker string, delta float64) error

	// RecordContractStats appends today's volume/OI observations.
	RecordContractStats(ctx context.Context, stats []ContractStat) error

	// ContractBaseline derives the rolling mean/stddev over the trailing
	// window of contract history.
	ContractBaseline(ctx context.Context, ticker, contract string, days int) (ContractBaseline, error)

	// InsertAlert persists a freshly flagged contract as unconfirmed.
	InsertAlert(ctx context.Context, a AlertRecord) error

	// UnconfirmedAlerts lists alerts created before the cutoff that still
	// await verification.
	UnconfirmedAlerts(ctx context.Context, before time.Time) ([]AlertRecord, error)

	// ConfirmAlert transitions an alert out of unconfirmed exactly once.
	ConfirmAlert(ctx context.Context, id string, state ConfirmationState) error

	// RecordOutcome fills the 3-day outcome on a resolved alert.
	RecordOutcome(ctx context.Context, id string, outcomePct float64) error

	// CampaignCount counts alerts for (ticker, side) created after since.
	CampaignCount(ctx context.Context, ticker string, side models.Side, since time.Time) (int, error)

	// WinRate summarizes resolved outcomes for (ticker, side).
	WinRate(ctx context.Context, ticker string, side models.Side) (WinRate, error)
}
