package guard

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowsight/flowsight/internal/models"
)

var testNow = time.Date(2026, 8, 21, 15, 0, 0, 0, time.UTC)

func TestFirstRefreshToday(t *testing.T) {
	db, mock := redismock.NewClientMock()
	g := New(db)
	ctx := context.Background()

	key := "baseline:refresh:NVDA:2026-08-21"

	mock.ExpectSetNX(key, 1, refreshTTL).SetVal(true)
	assert.True(t, g.FirstRefreshToday(ctx, "NVDA", testNow))

	// Second claim the same UTC day is refused.
	mock.ExpectSetNX(key, 1, refreshTTL).SetVal(false)
	assert.False(t, g.FirstRefreshToday(ctx, "NVDA", testNow))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFirstRefreshToday_DegradesOpen(t *testing.T) {
	db, mock := redismock.NewClientMock()
	g := New(db)

	mock.ExpectSetNX("baseline:refresh:NVDA:2026-08-21", 1, refreshTTL).
		SetErr(errors.New("connection refused"))

	// Redis down must not block the refresh.
	assert.True(t, g.FirstRefreshToday(context.Background(), "NVDA", testNow))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCampaignCount(t *testing.T) {
	db, mock := redismock.NewClientMock()
	g := New(db)
	ctx := context.Background()

	key := "campaign:NVDA:call"
	cutoff := strconv.FormatInt(testNow.Add(-campaignWindow).UnixNano(), 10)

	mock.ExpectTxPipeline()
	mock.ExpectZAdd(key, &redis.Z{
		Score:  float64(testNow.UnixNano()),
		Member: testNow.Format(time.RFC3339Nano),
	}).SetVal(1)
	mock.ExpectZRemRangeByScore(key, "0", cutoff).SetVal(0)
	mock.ExpectExpire(key, campaignWindow).SetVal(true)
	mock.ExpectTxPipelineExec()

	require.NoError(t, g.RecordAlert(ctx, "NVDA", models.SideCall, testNow))

	mock.ExpectZRemRangeByScore(key, "0", cutoff).SetVal(0)
	mock.ExpectZCard(key).SetVal(4)

	n, err := g.CampaignCount(ctx, "NVDA", models.SideCall, testNow)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCampaignCount_ErrorSurfaces(t *testing.T) {
	db, mock := redismock.NewClientMock()
	g := New(db)

	cutoff := strconv.FormatInt(testNow.Add(-campaignWindow).UnixNano(), 10)
	mock.ExpectZRemRangeByScore("campaign:TSLA:put", "0", cutoff).
		SetErr(errors.New("connection refused"))

	_, err := g.CampaignCount(context.Background(), "TSLA", models.SidePut, testNow)
	assert.Error(t, err, "caller needs the error to fall back to the store count")
}
