// Package guard provides the redis-backed cycle guards: the once-per-UTC-day
// baseline refresh lock and the trailing-week campaign counter. Redis being
// down never blocks a scan; both guards degrade open with a warning and the
// store-backed fallbacks take over.
package guard

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/flowsight/flowsight/internal/models"
)

const (
	refreshTTL     = 48 * time.Hour
	campaignWindow = 7 * 24 * time.Hour
)

// Guard wraps the redis client used for cross-cycle coordination.
type Guard struct {
	rdb *redis.Client
}

// New creates a guard over an existing redis client.
func New(rdb *redis.Client) *Guard {
	return &Guard{rdb: rdb}
}

// refreshKey is unique per ticker per UTC calendar day.
func refreshKey(ticker string, now time.Time) string {
	return fmt.Sprintf("baseline:refresh:%s:%s", ticker, now.UTC().Format("2006-01-02"))
}

func campaignKey(ticker string, side models.Side) string {
	return fmt.Sprintf("campaign:%s:%s", ticker, side)
}

// FirstRefreshToday claims the daily refresh slot for a ticker. It returns
// true exactly once per UTC day per ticker; redundant refreshes in the same
// day see false. A redis failure degrades open: the refresh proceeds, at
// worst repeating work the guard exists to skip.
func (g *Guard) FirstRefreshToday(ctx context.Context, ticker string, now time.Time) bool {
	ok, err := g.rdb.SetNX(ctx, refreshKey(ticker, now), 1, refreshTTL).Result()
	if err != nil {
		log.Warn().Err(err).Str("ticker", ticker).Msg("refresh guard unavailable, allowing refresh")
		return true
	}
	return ok
}

// RecordAlert appends an alert to the (ticker, side) campaign set, expiring
// members older than the trailing week.
func (g *Guard) RecordAlert(ctx context.Context, ticker string, side models.Side, now time.Time) error {
	key := campaignKey(ticker, side)
	pipe := g.rdb.TxPipeline()
	pipe.ZAdd(ctx, key, &redis.Z{
		Score:  float64(now.UTC().UnixNano()),
		Member: now.UTC().Format(time.RFC3339Nano),
	})
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(now.UTC().Add(-campaignWindow).UnixNano(), 10))
	pipe.Expire(ctx, key, campaignWindow)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record campaign alert for %s: %w", ticker, err)
	}
	return nil
}

// CampaignCount returns the number of alerts for (ticker, side) in the
// trailing 7 days. The error is surfaced so the caller can fall back to the
// store-backed count.
func (g *Guard) CampaignCount(ctx context.Context, ticker string, side models.Side, now time.Time) (int, error) {
	key := campaignKey(ticker, side)
	if err := g.rdb.ZRemRangeByScore(ctx, key, "0",
		strconv.FormatInt(now.UTC().Add(-campaignWindow).UnixNano(), 10)).Err(); err != nil {
		return 0, fmt.Errorf("failed to trim campaign window for %s: %w", ticker, err)
	}
	n, err := g.rdb.ZCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count campaign alerts for %s: %w", ticker, err)
	}
	return int(n), nil
}
