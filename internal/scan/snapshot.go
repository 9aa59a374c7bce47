package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/flowsight/flowsight/internal/baseline"
	"github.com/flowsight/flowsight/internal/models"
)

// Snapshot is the on-disk capture format replayed by offline scans. One file
// holds a full cycle's market data plus the live open interest readings used
// to verify the previous session's alerts.
type Snapshot struct {
	Tickers      map[string]ChainData      `json:"tickers"`
	Macro        models.MacroContext       `json:"macro,omitempty"`
	Regime       models.Regime             `json:"regime,omitempty"`
	OpenInterest baseline.LiveOpenInterest `json:"open_interest,omitempty"`
	Cleared      baseline.ClearedVolume    `json:"cleared_volume,omitempty"`
}

// SnapshotProvider replays a captured snapshot as a ChainProvider. The
// universe is the file's tickers in lexical order, so replays are
// deterministic.
type SnapshotProvider struct {
	snap Snapshot
}

// LoadSnapshot reads a snapshot file from disk.
func LoadSnapshot(path string) (*SnapshotProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", path, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot %s: %w", path, err)
	}
	return &SnapshotProvider{snap: snap}, nil
}

func (s *SnapshotProvider) Universe(context.Context) ([]string, error) {
	tickers := make([]string, 0, len(s.snap.Tickers))
	for t := range s.snap.Tickers {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)
	return tickers, nil
}

func (s *SnapshotProvider) Fetch(_ context.Context, ticker string) (ChainData, error) {
	data, ok := s.snap.Tickers[ticker]
	if !ok {
		return ChainData{}, fmt.Errorf("ticker %s not in snapshot", ticker)
	}
	return data, nil
}

func (s *SnapshotProvider) Macro(context.Context) (models.MacroContext, models.Regime, error) {
	return s.snap.Macro, s.snap.Regime, nil
}

func (s *SnapshotProvider) OpenInterest(_ context.Context, contracts []string) (baseline.LiveOpenInterest, error) {
	live := make(baseline.LiveOpenInterest, len(contracts))
	for _, c := range contracts {
		if oi, ok := s.snap.OpenInterest[c]; ok {
			live[c] = oi
		}
	}
	return live, nil
}

// ClearedVolume exposes the snapshot's clearinghouse figures for the audit
// path. Not part of ChainProvider; the verify command reads it directly.
func (s *SnapshotProvider) ClearedVolume() baseline.ClearedVolume {
	return s.snap.Cleared
}

var _ ChainProvider = (*SnapshotProvider)(nil)
