package baseline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/flowsight/flowsight/internal/breakers"
	"github.com/flowsight/flowsight/internal/models"
)

// ResilientStore decorates a Store with a circuit breaker. While the breaker
// is open every call fails fast with ErrStoreUnavailable, which callers map
// to safe defaults so a dead database degrades the scan instead of stalling
// or aborting it.
type ResilientStore struct {
	inner   Store
	breaker *breakers.Breaker
}

// NewResilientStore wraps a store with the standard persistence breaker.
func NewResilientStore(inner Store) *ResilientStore {
	return &ResilientStore{inner: inner, breaker: breakers.New("baseline-store")}
}

// do funnels a store call through the breaker, translating breaker
// rejections into the store's typed unavailability error. ErrNoBaseline is
// a domain answer, not a failure, and must not trip the breaker.
func (r *ResilientStore) do(fn func() error) error {
	err := r.breaker.Do(func() error {
		if err := fn(); err != nil && !errors.Is(err, ErrNoBaseline) {
			return err
		}
		return nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return err
}

func (r *ResilientStore) Baseline(ctx context.Context, ticker string) (TickerBaseline, error) {
	var b TickerBaseline
	var inner error
	err := r.do(func() error {
		b, inner = r.inner.Baseline(ctx, ticker)
		return inner
	})
	if err != nil {
		return TickerBaseline{}, err
	}
	// Re-surface the domain miss the breaker deliberately ignored.
	if inner != nil {
		return TickerBaseline{}, inner
	}
	return b, nil
}

func (r *ResilientStore) UpsertBaseline(ctx context.Context, b TickerBaseline) error {
	return r.do(func() error { return r.inner.UpsertBaseline(ctx, b) })
}

func (r *ResilientStore) AdjustTrust(ctx context.Context, ticker string, delta float64) error {
	return r.do(func() error { return r.inner.AdjustTrust(ctx, ticker, delta) })
}

func (r *ResilientStore) RecordContractStats(ctx context.Context, stats []ContractStat) error {
	return r.do(func() error { return r.inner.RecordContractStats(ctx, stats) })
}

func (r *ResilientStore) ContractBaseline(ctx context.Context, ticker, contract string, days int) (ContractBaseline, error) {
	var cb ContractBaseline
	err := r.do(func() error {
		var inner error
		cb, inner = r.inner.ContractBaseline(ctx, ticker, contract, days)
		return inner
	})
	if err != nil {
		return ContractBaseline{}, err
	}
	return cb, nil
}

func (r *ResilientStore) InsertAlert(ctx context.Context, a AlertRecord) error {
	return r.do(func() error { return r.inner.InsertAlert(ctx, a) })
}

func (r *ResilientStore) UnconfirmedAlerts(ctx context.Context, before time.Time) ([]AlertRecord, error) {
	var out []AlertRecord
	err := r.do(func() error {
		var inner error
		out, inner = r.inner.UnconfirmedAlerts(ctx, before)
		return inner
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *ResilientStore) ConfirmAlert(ctx context.Context, id string, state ConfirmationState) error {
	return r.do(func() error { return r.inner.ConfirmAlert(ctx, id, state) })
}

func (r *ResilientStore) RecordOutcome(ctx context.Context, id string, outcomePct float64) error {
	return r.do(func() error { return r.inner.RecordOutcome(ctx, id, outcomePct) })
}

func (r *ResilientStore) CampaignCount(ctx context.Context, ticker string, side models.Side, since time.Time) (int, error) {
	var n int
	err := r.do(func() error {
		var inner error
		n, inner = r.inner.CampaignCount(ctx, ticker, side, since)
		return inner
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (r *ResilientStore) WinRate(ctx context.Context, ticker string, side models.Side) (WinRate, error) {
	var w WinRate
	err := r.do(func() error {
		var inner error
		w, inner = r.inner.WinRate(ctx, ticker, side)
		return inner
	})
	if err != nil {
		return WinRate{}, err
	}
	return w, nil
}

var _ Store = (*ResilientStore)(nil)
