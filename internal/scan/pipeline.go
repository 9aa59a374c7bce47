// Package scan orchestrates one full cycle: verification, baseline refresh,
// analytics, scoring, and linking. The cycle is single-threaded per ticker
// and never aborts the batch for one ticker's failure.
package scan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/flowsight/flowsight/internal/baseline"
	"github.com/flowsight/flowsight/internal/baseline/guard"
	"github.com/flowsight/flowsight/internal/config"
	"github.com/flowsight/flowsight/internal/exposure"
	"github.com/flowsight/flowsight/internal/greeks"
	"github.com/flowsight/flowsight/internal/linker"
	"github.com/flowsight/flowsight/internal/metrics"
	"github.com/flowsight/flowsight/internal/microstructure"
	"github.com/flowsight/flowsight/internal/models"
	"github.com/flowsight/flowsight/internal/scorer"
	"github.com/flowsight/flowsight/internal/surface"
)

// ChainData is everything a provider returns for one ticker.
type ChainData struct {
	Chain   []models.ContractSnapshot
	Candles []models.Candle
	Context models.TickerContext
}

// ChainProvider supplies market data to the cycle. Implementations are free
// to hit a live API or replay a captured snapshot; the pipeline does not
// care which.
type ChainProvider interface {
	// Universe lists the tickers to scan this cycle, highest priority first.
	Universe(ctx context.Context) ([]string, error)

	// Fetch returns the chain, intraday candles, and context for one ticker.
	Fetch(ctx context.Context, ticker string) (ChainData, error)

	// Macro returns the cycle-wide market tape and regime label. These are
	// pass-through context for downstream alerting, so a provider without
	// macro data returns zero values and a nil error.
	Macro(ctx context.Context) (models.MacroContext, models.Regime, error)

	// OpenInterest resolves current open interest for previously alerted
	// contracts. Contracts the provider cannot resolve are simply absent.
	OpenInterest(ctx context.Context, contracts []string) (baseline.LiveOpenInterest, error)
}

// Pipeline wires the engine's stages together for repeated Run calls.
type Pipeline struct {
	provider ChainProvider
	store    baseline.Store
	guard    *guard.Guard // nil disables the redis guards
	verifier *baseline.Verifier
	scorer   *scorer.Scorer
	linker   *linker.Linker
	metrics  *metrics.Registry
	cfg      config.Config
	limiter  *rate.Limiter
	now      func() time.Time
}

// New assembles a pipeline. A nil guard is valid and falls back to the store
// for campaign counts while refreshing baselines unconditionally.
func New(provider ChainProvider, store baseline.Store, g *guard.Guard, m *metrics.Registry, cfg config.Config) *Pipeline {
	return &Pipeline{
		provider: provider,
		store:    store,
		guard:    g,
		verifier: baseline.NewVerifier(store, cfg.Verify),
		scorer:   scorer.New(cfg),
		linker:   linker.New(cfg.Linker),
		metrics:  m,
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Limit(cfg.Scan.TickersPerSec), 1),
		now:      time.Now,
	}
}

// Run executes one scan cycle and returns the linked, ranked whale flow.
// Alerting on the result is the caller's concern.
func (p *Pipeline) Run(ctx context.Context) ([]scorer.ScoredTrade, error) {
	start := p.now()
	p.metrics.TotalCycles.Inc()
	defer p.metrics.ObserveCycle(start)

	p.verify(ctx, start)

	macro, regime, err := p.provider.Macro(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("macro context unavailable, scoring without it")
		macro, regime = models.MacroContext{}, models.RegimeNeutral
	}
	if regime == "" {
		regime = models.RegimeNeutral
	}

	tickers, err := p.provider.Universe(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load scan universe: %w", err)
	}
	if max := p.cfg.Scan.MaxTickers; max > 0 && len(tickers) > max {
		tickers = tickers[:max]
	}

	var whales []scorer.ScoredTrade
	for _, ticker := range tickers {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("scan cycle cancelled: %w", err)
		}

		flagged, err := p.scanTicker(ctx, ticker, macro, regime, start)
		if err != nil {
			p.metrics.TickerErrors.WithLabelValues("scan").Inc()
			log.Warn().Err(err).Str("ticker", ticker).Msg("ticker scan failed, continuing batch")
			continue
		}
		p.metrics.TickersScanned.Inc()
		whales = append(whales, flagged...)
	}

	linked := p.linker.Link(whales)
	log.Info().Str("regime", string(regime)).
		Int("tickers", len(tickers)).Int("whales", len(whales)).
		Int("results", len(linked)).Dur("elapsed", p.now().Sub(start)).
		Msg("scan cycle complete")
	return linked, nil
}

// verify resolves yesterday's alerts before any scoring so trust deltas land
// ahead of this cycle's reads. A degraded store skips verification instead
// of blocking the scan.
func (p *Pipeline) verify(ctx context.Context, now time.Time) {
	pending, err := p.store.UnconfirmedAlerts(ctx, now.Add(-24*time.Hour))
	if err != nil {
		p.noteStoreError(err, "list unconfirmed alerts")
		return
	}
	if len(pending) == 0 {
		return
	}

	contracts := make([]string, 0, len(pending))
	for _, a := range pending {
		contracts = append(contracts, a.Contract)
	}
	live, err := p.provider.OpenInterest(ctx, contracts)
	if err != nil {
		log.Warn().Err(err).Msg("live open interest unavailable, skipping verification")
		return
	}

	sum, err := p.verifier.VerifyStickiness(ctx, live, now)
	if err != nil {
		p.noteStoreError(err, "verify stickiness")
		return
	}
	p.metrics.AlertsVerified.WithLabelValues("held").Add(float64(sum.Held))
	p.metrics.AlertsVerified.WithLabelValues("faded").Add(float64(sum.Faded))
	p.metrics.AlertsVerified.WithLabelValues("partial").Add(float64(sum.Partial))
	p.metrics.AlertsVerified.WithLabelValues("skipped").Add(float64(sum.Skipped))
}

// scanTicker runs the full analytics stack over one ticker and returns its
// flagged contracts.
func (p *Pipeline) scanTicker(ctx context.Context, ticker string, macro models.MacroContext, regime models.Regime, now time.Time) ([]scorer.ScoredTrade, error) {
	data, err := p.provider.Fetch(ctx, ticker)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chain for %s: %w", ticker, err)
	}
	if len(data.Chain) == 0 {
		return nil, nil
	}

	tb := p.tickerBaseline(ctx, ticker)
	p.refreshBaseline(ctx, tb, data, now)

	gks := make([]greeks.Greeks, len(data.Chain))
	for i, row := range data.Chain {
		gks[i] = greeks.ForSnapshot(row, p.cfg.Scoring.RiskFreeRate)
	}
	exp := exposure.Map(data.Chain, gks)
	surf := surface.Analyze(data.Chain)
	micro := microstructure.Analyze(data.Candles, p.cfg.Micro)

	var flagged []scorer.ScoredTrade
	for i, row := range data.Chain {
		if row.Volume <= 0 {
			continue
		}

		cb, err := p.store.ContractBaseline(ctx, ticker, row.Contract, p.cfg.Store.BaselineDays)
		if err != nil && !errors.Is(err, baseline.ErrNoBaseline) {
			p.noteStoreError(err, "contract baseline")
		}

		in := scorer.Input{
			Snapshot:  row,
			Greeks:    gks[i],
			Exposure:  exp,
			Surface:   surf,
			Micro:     micro,
			Ticker:    tb,
			Contract:  cb,
			Campaign:  p.campaignCount(ctx, ticker, row.Side, now),
			Precedent: p.precedent(ctx, ticker, row.Side),
			Context:   data.Context,
			Macro:     macro,
			Regime:    regime,
			Now:       now,
		}

		trade, whale := p.scorer.Score(in)
		p.metrics.ContractsScored.Inc()
		if !whale {
			continue
		}

		p.emitAlert(ctx, trade, now)
		p.metrics.RecordWhale(string(trade.Classification), trade.Score)
		flagged = append(flagged, trade)
	}

	// History is appended only after scoring so today's volume never
	// contaminates the baseline it is measured against.
	p.recordContractStats(ctx, ticker, data.Chain, now)

	return flagged, nil
}

// tickerBaseline loads the persisted baseline, answering unknown tickers and
// a degraded store with the neutral default.
func (p *Pipeline) tickerBaseline(ctx context.Context, ticker string) baseline.TickerBaseline {
	tb, err := p.store.Baseline(ctx, ticker)
	if err != nil {
		if !errors.Is(err, baseline.ErrNoBaseline) {
			p.noteStoreError(err, "ticker baseline")
		}
		return baseline.DefaultBaseline(ticker)
	}
	return tb
}

// refreshBaseline folds today's underlying volume into the rolling baseline,
// at most once per UTC day per ticker. The redis guard answers first when
// present; without redis the persisted UpdatedAt date enforces the same rule.
func (p *Pipeline) refreshBaseline(ctx context.Context, tb baseline.TickerBaseline, data ChainData, now time.Time) {
	if p.guard != nil {
		if !p.guard.FirstRefreshToday(ctx, tb.Ticker, now) {
			return
		}
	} else if sameUTCDay(tb.UpdatedAt, now) {
		return
	}

	var todayVol int64
	for _, row := range data.Chain {
		if row.UnderlyingVolume > todayVol {
			todayVol = row.UnderlyingVolume
		}
	}
	if todayVol > 0 {
		days := float64(p.cfg.Store.BaselineDays)
		if tb.AvgVolume <= 0 {
			tb.AvgVolume = float64(todayVol)
		} else {
			tb.AvgVolume = (tb.AvgVolume*(days-1) + float64(todayVol)) / days
			dev := float64(todayVol) - tb.AvgVolume
			if dev < 0 {
				dev = -dev
			}
			tb.StdDev = (tb.StdDev*(days-1) + dev) / days
		}
	}
	tb.Sector = data.Context.Sector
	tb.SocialVelocity = data.Context.SocialVelocity
	tb.EarningsDate = data.Context.EarningsDate
	tb.UpdatedAt = now

	if err := p.store.UpsertBaseline(ctx, tb); err != nil {
		p.noteStoreError(err, "refresh baseline")
	}
}

func sameUTCDay(a, b time.Time) bool {
	if a.IsZero() {
		return false
	}
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func (p *Pipeline) recordContractStats(ctx context.Context, ticker string, chain []models.ContractSnapshot, now time.Time) {
	stats := make([]baseline.ContractStat, 0, len(chain))
	day := now.UTC().Truncate(24 * time.Hour)
	for _, row := range chain {
		if row.Volume <= 0 {
			continue
		}
		stats = append(stats, baseline.ContractStat{
			Ticker:       ticker,
			Contract:     row.Contract,
			Date:         day,
			Volume:       row.Volume,
			OpenInterest: row.OpenInterest,
		})
	}
	if len(stats) == 0 {
		return
	}
	if err := p.store.RecordContractStats(ctx, stats); err != nil {
		p.noteStoreError(err, "record contract stats")
	}
}

// campaignCount prefers the redis counter and falls back to the store when
// redis is unavailable. Both failing reads as no campaign.
func (p *Pipeline) campaignCount(ctx context.Context, ticker string, side models.Side, now time.Time) int {
	if p.guard != nil {
		n, err := p.guard.CampaignCount(ctx, ticker, side, now)
		if err == nil {
			return n
		}
		p.metrics.GuardFallbacks.Inc()
	}
	n, err := p.store.CampaignCount(ctx, ticker, side, now.AddDate(0, 0, -7))
	if err != nil {
		p.noteStoreError(err, "campaign count")
		return 0
	}
	return n
}

// precedent renders the historical win-rate context, defaulting to the
// no-precedent reading when the store cannot answer.
func (p *Pipeline) precedent(ctx context.Context, ticker string, side models.Side) string {
	w, err := p.store.WinRate(ctx, ticker, side)
	if err != nil {
		p.noteStoreError(err, "win rate")
		return baseline.WinRate{}.Precedent()
	}
	return w.Precedent()
}

// emitAlert persists the flagged contract as unconfirmed and records it in
// the campaign counter. Either failing degrades to a log line; the trade is
// still returned to the caller.
func (p *Pipeline) emitAlert(ctx context.Context, trade scorer.ScoredTrade, now time.Time) {
	rec := baseline.AlertRecord{
		ID:           uuid.New().String(),
		Contract:     trade.Contract,
		Ticker:       trade.Ticker,
		Side:         trade.Side,
		CreatedAt:    now,
		Volume:       trade.Volume,
		OpenInterest: trade.OpenInterest,
		Price:        trade.Premium,
	}
	if err := p.store.InsertAlert(ctx, rec); err != nil {
		p.noteStoreError(err, "insert alert")
	}
	if p.guard != nil {
		if err := p.guard.RecordAlert(ctx, trade.Ticker, trade.Side, now); err != nil {
			p.metrics.GuardFallbacks.Inc()
			log.Warn().Err(err).Str("ticker", trade.Ticker).Msg("campaign counter unavailable")
		}
	}

	log.Info().Str("ticker", trade.Ticker).Str("contract", trade.Contract).
		Int("score", trade.Score).Str("side", string(trade.Side)).
		Float64("notional", trade.Notional).Str("reason", trade.Reason).
		Msg("whale flow flagged")
}

func (p *Pipeline) noteStoreError(err error, op string) {
	if errors.Is(err, baseline.ErrStoreUnavailable) {
		p.metrics.StoreDegradations.Inc()
	}
	log.Warn().Err(err).Str("op", op).Msg("store degraded, using defaults")
}
