package baseline

import (
	"context"
	"sync"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/flowsight/flowsight/internal/models"
)

// MemStore is an in-memory Store used by tests and by offline scans that run
// without a database. Safe for concurrent use, though the engine itself is
// single-threaded per cycle.
type MemStore struct {
	mu        sync.Mutex
	baselines map[string]TickerBaseline
	history   []ContractStat
	alerts    map[string]AlertRecord
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		baselines: make(map[string]TickerBaseline),
		alerts:    make(map[string]AlertRecord),
	}
}

func (m *MemStore) Baseline(_ context.Context, ticker string) (TickerBaseline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.baselines[ticker]
	if !ok {
		return TickerBaseline{}, ErrNoBaseline
	}
	return b, nil
}

func (m *MemStore) UpsertBaseline(_ context.Context, b TickerBaseline) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b.TrustScore = ClampTrust(b.TrustScore)
	m.baselines[b.Ticker] = b
	return nil
}

func (m *MemStore) AdjustTrust(_ context.Context, ticker string, delta float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.baselines[ticker]
	if !ok {
		b = DefaultBaseline(ticker)
	}
	b.TrustScore = ClampTrust(b.TrustScore + delta)
	m.baselines[ticker] = b
	return nil
}

func (m *MemStore) RecordContractStats(_ context.Context, sts []ContractStat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, sts...)
	return nil
}

func (m *MemStore) ContractBaseline(_ context.Context, ticker, contract string, days int) (ContractBaseline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	var vols, ois []float64
	for _, s := range m.history {
		if s.Ticker == ticker && s.Contract == contract && !s.Date.Before(cutoff) {
			vols = append(vols, float64(s.Volume))
			ois = append(ois, float64(s.OpenInterest))
		}
	}
	if len(vols) == 0 {
		return ContractBaseline{}, nil
	}

	var cb ContractBaseline
	cb.AvgVolume, _ = stats.Mean(vols)
	cb.AvgOI, _ = stats.Mean(ois)
	cb.StdDev, _ = stats.StandardDeviation(vols)
	return cb, nil
}

func (m *MemStore) InsertAlert(_ context.Context, a AlertRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts[a.ID] = a
	return nil
}

func (m *MemStore) UnconfirmedAlerts(_ context.Context, before time.Time) ([]AlertRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []AlertRecord
	for _, a := range m.alerts {
		if a.Confirmation == StateUnconfirmed && a.CreatedAt.Before(before) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *MemStore) ConfirmAlert(_ context.Context, id string, state ConfirmationState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok || a.Confirmation != StateUnconfirmed {
		return nil
	}
	a.Confirmation = state
	m.alerts[id] = a
	return nil
}

func (m *MemStore) RecordOutcome(_ context.Context, id string, outcomePct float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return nil
	}
	a.Outcome3d = &outcomePct
	m.alerts[id] = a
	return nil
}

func (m *MemStore) CampaignCount(_ context.Context, ticker string, side models.Side, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.alerts {
		if a.Ticker == ticker && a.Side == side && a.CreatedAt.After(since) {
			n++
		}
	}
	return n, nil
}

func (m *MemStore) WinRate(_ context.Context, ticker string, side models.Side) (WinRate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var w WinRate
	for _, a := range m.alerts {
		if a.Ticker != ticker || a.Side != side {
			continue
		}
		switch a.Confirmation {
		case StateHeld:
			w.Held++
			w.Total++
		case StateFaded, StateClearingFail:
			w.Faded++
			w.Total++
		case StatePartial:
			w.Total++
		}
	}
	return w, nil
}

var _ Store = (*MemStore)(nil)
