// Package linker groups whale flow from one scan cycle into multi-leg
// structures. Coordinated flow carries more information than its best single
// leg, so merged structures score above their strongest member.
package linker

import (
	"fmt"
	"sort"
	"strings"

	"github.com/flowsight/flowsight/internal/config"
	"github.com/flowsight/flowsight/internal/models"
	"github.com/flowsight/flowsight/internal/scorer"
)

// Linker merges scored trades into spreads, clusters, and sector sweeps.
type Linker struct {
	cfg config.Linker
}

// New creates a linker from config.
func New(cfg config.Linker) *Linker {
	return &Linker{cfg: cfg}
}

// Link runs the three grouping passes over one cycle's whale flow, in order:
// vertical spreads, per-ticker clusters, then the cross-ticker sector pass.
// Input order does not affect the result; output is sorted by score.
func (l *Linker) Link(trades []scorer.ScoredTrade) []scorer.ScoredTrade {
	out := l.mergeSpreads(trades)
	out = l.mergeClusters(out)
	if l.cfg.SectorEnabled {
		out = l.mergeSectorSweeps(out)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Ticker < out[j].Ticker
	})
	return out
}

type legKey struct {
	ticker     string
	side       models.Side
	expiration int64
}

// mergeSpreads pairs same-ticker, same-side, same-expiration legs whose
// volumes differ by no more than the tolerance. Matched volume across two
// strikes is the footprint of a vertical being legged in as one order.
func (l *Linker) mergeSpreads(trades []scorer.ScoredTrade) []scorer.ScoredTrade {
	groups := make(map[legKey][]scorer.ScoredTrade)
	var order []legKey
	for _, t := range trades {
		k := legKey{t.Ticker, t.Side, t.Expiration.Unix()}
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], t)
	}

	var out []scorer.ScoredTrade
	for _, k := range order {
		legs := groups[k]
		sort.Slice(legs, func(i, j int) bool { return legs[i].Strike < legs[j].Strike })

		for len(legs) >= 2 && l.volumesMatch(legs[0].Volume, legs[1].Volume) &&
			legs[0].Strike != legs[1].Strike {
			out = append(out, l.spread(legs[0], legs[1]))
			legs = legs[2:]
		}
		out = append(out, legs...)
	}
	return out
}

func (l *Linker) volumesMatch(a, b int64) bool {
	hi := a
	if b > hi {
		hi = b
	}
	if hi == 0 {
		return false
	}
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return float64(diff)/float64(hi) <= l.cfg.SpreadVolumeTolerance
}

// spread collapses two legs into one structure anchored on the stronger leg.
func (l *Linker) spread(lo, hi scorer.ScoredTrade) scorer.ScoredTrade {
	m := lo
	if hi.Score > lo.Score {
		m = hi
	}
	m.Classification = scorer.ClassVerticalSpread
	m.Legs = []float64{lo.Strike, hi.Strike}
	m.Volume = lo.Volume + hi.Volume
	m.Notional = lo.Notional + hi.Notional
	m.Score += l.cfg.SpreadBonus
	m.Reason = joinReason(m.Reason,
		fmt.Sprintf("vertical spread %g/%g, matched volume %d/%d", lo.Strike, hi.Strike, lo.Volume, hi.Volume))
	return m
}

// mergeClusters collapses a ticker's flow into one cluster when enough
// distinct contracts fired in the same cycle. Sides mix freely here; only the
// spread pass cares about direction.
func (l *Linker) mergeClusters(trades []scorer.ScoredTrade) []scorer.ScoredTrade {
	groups := make(map[string][]scorer.ScoredTrade)
	var order []string
	for _, t := range trades {
		if _, seen := groups[t.Ticker]; !seen {
			order = append(order, t.Ticker)
		}
		groups[t.Ticker] = append(groups[t.Ticker], t)
	}

	var out []scorer.ScoredTrade
	for _, k := range order {
		members := groups[k]
		if len(members) < l.cfg.ClusterMinContracts {
			out = append(out, members...)
			continue
		}

		m := members[0]
		var volume int64
		var notional float64
		contracts := 0
		for _, t := range members {
			if t.Score > m.Score {
				m = t
			}
			volume += t.Volume
			notional += t.Notional
			if t.Contracts > 0 {
				contracts += t.Contracts
			} else {
				contracts++
			}
		}
		m.Classification = scorer.ClassTickerCluster
		m.Volume = volume
		m.Notional = notional
		m.Contracts = contracts
		m.Score += l.cfg.ClusterBonus
		m.Reason = joinReason(m.Reason,
			fmt.Sprintf("cluster of %d contracts, $%.1fM combined", contracts, notional/1e6))
		out = append(out, m)
	}
	return out
}

// mergeSectorSweeps collapses flow spanning several tickers of one sector
// into a single super-result when combined notional clears the floor.
// Members fold into the sweep and drop out of the individual output.
func (l *Linker) mergeSectorSweeps(trades []scorer.ScoredTrade) []scorer.ScoredTrade {
	byGroup := make(map[string][]int)
	var order []string
	for i, t := range trades {
		if t.Sector == "" {
			continue
		}
		if _, seen := byGroup[t.Sector]; !seen {
			order = append(order, t.Sector)
		}
		byGroup[t.Sector] = append(byGroup[t.Sector], i)
	}

	merged := make(map[int]bool)
	var sweeps []scorer.ScoredTrade
	for _, k := range order {
		idxs := byGroup[k]
		tickers := make(map[string]struct{})
		var notional float64
		for _, i := range idxs {
			tickers[trades[i].Ticker] = struct{}{}
			notional += trades[i].Notional
		}
		if len(tickers) < l.cfg.SectorMinTickers || notional < l.cfg.SectorNotionalFloor {
			continue
		}

		names := make([]string, 0, len(tickers))
		for name := range tickers {
			names = append(names, name)
		}
		sort.Strings(names)

		s := trades[idxs[0]]
		var volume int64
		contracts := 0
		for _, i := range idxs {
			merged[i] = true
			if trades[i].Score > s.Score {
				s = trades[i]
			}
			volume += trades[i].Volume
			if trades[i].Contracts > 0 {
				contracts += trades[i].Contracts
			} else {
				contracts++
			}
		}
		s.Classification = scorer.ClassSectorSweep
		s.Volume = volume
		s.Notional = notional
		s.Contracts = contracts
		s.Score += l.cfg.SectorBonus
		s.Reason = joinReason(s.Reason,
			fmt.Sprintf("sector sweep across %s, $%.1fM combined", strings.Join(names, "/"), notional/1e6))
		sweeps = append(sweeps, s)
	}

	if len(sweeps) == 0 {
		return trades
	}
	out := make([]scorer.ScoredTrade, 0, len(trades))
	for i, t := range trades {
		if !merged[i] {
			out = append(out, t)
		}
	}
	return append(out, sweeps...)
}

func joinReason(existing, add string) string {
	if existing == "" {
		return add
	}
	return strings.Join([]string{existing, add}, "; ")
}
