package baseline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/flowsight/flowsight/internal/config"
)

// LiveOpenInterest maps contract identifier to its current open interest,
// supplied by the data collaborator the morning after an alert.
type LiveOpenInterest map[string]int64

// ClearedVolume maps ticker to the clearinghouse's total cleared option
// volume for the prior session.
type ClearedVolume map[string]int64

// VerifySummary reports what one verification pass resolved.
type VerifySummary struct {
	Held    int
	Faded   int
	Partial int
	Skipped int
}

// Verifier resolves yesterday's unconfirmed alerts against overnight open
// interest and feeds the outcome back into ticker trust. A cycle must run
// verification (or explicitly skip it) before scoring, so trust deltas land
// ahead of the next read.
type Verifier struct {
	store Store
	cfg   config.Verify
}

// NewVerifier creates a verifier over the given store.
func NewVerifier(store Store, cfg config.Verify) *Verifier {
	return &Verifier{store: store, cfg: cfg}
}

// VerifyStickiness resolves unconfirmed alerts older than 24h. The held
// ratio is the fraction of alerted volume that converted into new open
// interest overnight: (live OI - alert OI) / alert volume. Contracts without
// a live OI reading stay unconfirmed for the next pass.
func (v *Verifier) VerifyStickiness(ctx context.Context, live LiveOpenInterest, now time.Time) (VerifySummary, error) {
	var sum VerifySummary

	alerts, err := v.store.UnconfirmedAlerts(ctx, now.Add(-24*time.Hour))
	if err != nil {
		return sum, fmt.Errorf("failed to list unconfirmed alerts: %w", err)
	}

	for _, a := range alerts {
		liveOI, ok := live[a.Contract]
		if !ok || a.Volume <= 0 {
			sum.Skipped++
			continue
		}

		ratio := float64(liveOI-a.OpenInterest) / float64(a.Volume)

		var state ConfirmationState
		var trustDelta float64
		switch {
		case ratio >= v.cfg.HeldRatio:
			state, trustDelta = StateHeld, v.cfg.TrustHeldDelta
			sum.Held++
		case ratio < v.cfg.FadedRatio:
			state, trustDelta = StateFaded, v.cfg.TrustFadedDelta
			sum.Faded++
		default:
			state = StatePartial
			sum.Partial++
		}

		if err := v.store.ConfirmAlert(ctx, a.ID, state); err != nil {
			log.Warn().Err(err).Str("ticker", a.Ticker).Str("contract", a.Contract).
				Msg("failed to confirm alert, will retry next pass")
			continue
		}
		if trustDelta != 0 {
			if err := v.store.AdjustTrust(ctx, a.Ticker, trustDelta); err != nil {
				log.Warn().Err(err).Str("ticker", a.Ticker).
					Float64("delta", trustDelta).Msg("failed to adjust trust")
			}
		}

		log.Info().Str("ticker", a.Ticker).Str("contract", a.Contract).
			Float64("held_ratio", ratio).Str("state", state.String()).
			Msg("alert verified")
	}
	return sum, nil
}

// AuditClearing cross-checks unconfirmed alerts against clearinghouse volume
// for the prior session. Volume we saw intraday that never cleared is a
// ghost print: the alert fails clearing and the ticker loses trust. Cleared
// tickers gain a small credit but stay unconfirmed, because the decisive OI
// reading only arrives the next morning.
func (v *Verifier) AuditClearing(ctx context.Context, cleared ClearedVolume, now time.Time) (int, error) {
	alerts, err := v.store.UnconfirmedAlerts(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to list unconfirmed alerts: %w", err)
	}

	failed := 0
	for _, a := range alerts {
		tickerVol, ok := cleared[a.Ticker]
		if !ok || tickerVol <= 0 || a.Volume <= 0 {
			continue
		}

		if float64(tickerVol) < float64(a.Volume)*v.cfg.ClearingTolerance {
			log.Warn().Str("ticker", a.Ticker).Int64("seen", a.Volume).
				Int64("cleared", tickerVol).Msg("clearing discrepancy, ghost volume")
			if err := v.store.ConfirmAlert(ctx, a.ID, StateClearingFail); err != nil {
				log.Warn().Err(err).Str("contract", a.Contract).Msg("failed to mark clearing failure")
				continue
			}
			if err := v.store.AdjustTrust(ctx, a.Ticker, v.cfg.TrustGhostDelta); err != nil {
				log.Warn().Err(err).Str("ticker", a.Ticker).Msg("failed to adjust trust")
			}
			failed++
			continue
		}

		if err := v.store.AdjustTrust(ctx, a.Ticker, v.cfg.TrustClearedDelta); err != nil {
			log.Warn().Err(err).Str("ticker", a.Ticker).Msg("failed to adjust trust")
		}
	}
	return failed, nil
}
