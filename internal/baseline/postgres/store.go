// Package postgres implements the baseline.Store contract on PostgreSQL.
// Every call opens its own short critical section with a bounded context;
// there are no long-lived transactions, matching the single-writer model the
// scan cycle assumes.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/flowsight/flowsight/internal/baseline"
	"github.com/flowsight/flowsight/internal/models"
)

// Store implements baseline.Store for PostgreSQL.
type Store struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewStore creates a PostgreSQL-backed baseline store.
func NewStore(db *sqlx.DB, timeout time.Duration) *Store {
	return &Store{db: db, timeout: timeout}
}

// Open connects to PostgreSQL and verifies the connection.
func Open(dsn string, timeout time.Duration) (*Store, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return NewStore(db, timeout), nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Schema is the durable on-disk contract between scan cycles.
const Schema = `
CREATE TABLE IF NOT EXISTS ticker_baselines (
	ticker          TEXT PRIMARY KEY,
	avg_volume      DOUBLE PRECISION NOT NULL DEFAULT 0,
	std_dev         DOUBLE PRECISION NOT NULL DEFAULT 0,
	sector          TEXT NOT NULL DEFAULT '',
	trust_score     DOUBLE PRECISION NOT NULL DEFAULT 1.0,
	social_velocity DOUBLE PRECISION NOT NULL DEFAULT 0,
	earnings_date   DATE,
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS contract_stats (
	ticker        TEXT NOT NULL,
	contract      TEXT NOT NULL,
	date          DATE NOT NULL,
	volume        BIGINT NOT NULL DEFAULT 0,
	open_interest BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (ticker, contract, date)
);

CREATE TABLE IF NOT EXISTS alerts (
	id            TEXT PRIMARY KEY,
	contract      TEXT NOT NULL,
	ticker        TEXT NOT NULL,
	side          TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL,
	volume        BIGINT NOT NULL,
	open_interest BIGINT NOT NULL,
	price         DOUBLE PRECISION NOT NULL,
	confirmation  INT NOT NULL DEFAULT 0,
	outcome_3d    DOUBLE PRECISION
);

CREATE INDEX IF NOT EXISTS idx_alerts_ticker_side ON alerts (ticker, side, created_at);
CREATE INDEX IF NOT EXISTS idx_contract_stats_lookup ON contract_stats (ticker, contract, date);
`

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// Baseline returns the persisted baseline for a ticker.
func (s *Store) Baseline(ctx context.Context, ticker string) (baseline.TickerBaseline, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var b baseline.TickerBaseline
	err := s.db.GetContext(ctx, &b,
		`SELECT ticker, avg_volume, std_dev, sector, trust_score, social_velocity, earnings_date, updated_at
		 FROM ticker_baselines WHERE ticker = $1`, ticker)
	if errors.Is(err, sql.ErrNoRows) {
		return baseline.TickerBaseline{}, baseline.ErrNoBaseline
	}
	if err != nil {
		return baseline.TickerBaseline{}, fmt.Errorf("failed to load baseline for %s: %w", ticker, err)
	}
	return b, nil
}

// UpsertBaseline writes a ticker baseline, clamping trust on the way in.
func (s *Store) UpsertBaseline(ctx context.Context, b baseline.TickerBaseline) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	b.TrustScore = baseline.ClampTrust(b.TrustScore)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ticker_baselines
			(ticker, avg_volume, std_dev, sector, trust_score, social_velocity, earnings_date, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (ticker) DO UPDATE SET
			avg_volume      = EXCLUDED.avg_volume,
			std_dev         = EXCLUDED.std_dev,
			sector          = EXCLUDED.sector,
			social_velocity = EXCLUDED.social_velocity,
			earnings_date   = EXCLUDED.earnings_date,
			updated_at      = now()`,
		b.Ticker, b.AvgVolume, b.StdDev, b.Sector, b.TrustScore, b.SocialVelocity, b.EarningsDate)
	if err != nil {
		return fmt.Errorf("failed to upsert baseline for %s: %w", b.Ticker, err)
	}
	return nil
}

// AdjustTrust applies a bounded delta to a ticker's trust score. The clamp
// happens in SQL so no write path can escape the [0.5, 2.0] bound.
func (s *Store) AdjustTrust(ctx context.Context, ticker string, delta float64) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ticker_baselines (ticker, trust_score)
		VALUES ($1, LEAST($3, GREATEST($4, 1.0 + $2)))
		ON CONFLICT (ticker) DO UPDATE SET
			trust_score = LEAST($3, GREATEST($4, ticker_baselines.trust_score + $2))`,
		ticker, delta, baseline.TrustCeiling, baseline.TrustFloor)
	if err != nil {
		return fmt.Errorf("failed to adjust trust for %s: %w", ticker, err)
	}
	return nil
}

// RecordContractStats appends today's volume/OI observations, replacing any
// earlier write for the same (ticker, contract, date).
func (s *Store) RecordContractStats(ctx context.Context, stats []baseline.ContractStat) error {
	if len(stats) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin contract stats tx: %w", err)
	}
	defer tx.Rollback()

	for _, st := range stats {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO contract_stats (ticker, contract, date, volume, open_interest)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (ticker, contract, date) DO UPDATE SET
				volume = EXCLUDED.volume, open_interest = EXCLUDED.open_interest`,
			st.Ticker, st.Contract, st.Date, st.Volume, st.OpenInterest); err != nil {
			return fmt.Errorf("failed to record stats for %s: %w", st.Contract, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit contract stats: %w", err)
	}
	return nil
}

// ContractBaseline derives the rolling mean/stddev over the trailing window.
func (s *Store) ContractBaseline(ctx context.Context, ticker, contract string, days int) (baseline.ContractBaseline, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var cb baseline.ContractBaseline
	err := s.db.GetContext(ctx, &cb, `
		SELECT COALESCE(AVG(volume), 0)            AS avg_volume,
		       COALESCE(AVG(open_interest), 0)     AS avg_oi,
		       COALESCE(STDDEV_POP(volume), 0)     AS std_dev
		FROM contract_stats
		WHERE ticker = $1 AND contract = $2 AND date >= $3`,
		ticker, contract, time.Now().UTC().AddDate(0, 0, -days))
	if err != nil {
		return baseline.ContractBaseline{}, fmt.Errorf("failed to load contract baseline for %s: %w", contract, err)
	}
	return cb, nil
}

// InsertAlert persists a freshly flagged contract as unconfirmed.
func (s *Store) InsertAlert(ctx context.Context, a baseline.AlertRecord) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (id, contract, ticker, side, created_at, volume, open_interest, price, confirmation)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`,
		a.ID, a.Contract, a.Ticker, a.Side, a.CreatedAt, a.Volume, a.OpenInterest, a.Price, a.Confirmation)
	if err != nil {
		return fmt.Errorf("failed to insert alert for %s: %w", a.Contract, err)
	}
	return nil
}

// UnconfirmedAlerts lists alerts created before the cutoff still awaiting
// verification.
func (s *Store) UnconfirmedAlerts(ctx context.Context, before time.Time) ([]baseline.AlertRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var out []baseline.AlertRecord
	err := s.db.SelectContext(ctx, &out, `
		SELECT id, contract, ticker, side, created_at, volume, open_interest, price, confirmation, outcome_3d
		FROM alerts
		WHERE confirmation = 0 AND created_at < $1
		ORDER BY created_at`, before)
	if err != nil {
		return nil, fmt.Errorf("failed to list unconfirmed alerts: %w", err)
	}
	return out, nil
}

// ConfirmAlert transitions an alert out of unconfirmed exactly once. The
// WHERE clause makes a second transition a no-op.
func (s *Store) ConfirmAlert(ctx context.Context, id string, state baseline.ConfirmationState) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET confirmation = $2 WHERE id = $1 AND confirmation = 0`,
		id, state)
	if err != nil {
		return fmt.Errorf("failed to confirm alert %s: %w", id, err)
	}
	return nil
}

// RecordOutcome fills the 3-day outcome on a resolved alert.
func (s *Store) RecordOutcome(ctx context.Context, id string, outcomePct float64) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET outcome_3d = $2 WHERE id = $1`, id, outcomePct)
	if err != nil {
		return fmt.Errorf("failed to record outcome for alert %s: %w", id, err)
	}
	return nil
}

// CampaignCount counts alerts for (ticker, side) created after since.
func (s *Store) CampaignCount(ctx context.Context, ticker string, side models.Side, since time.Time) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var n int
	err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM alerts WHERE ticker = $1 AND side = $2 AND created_at > $3`,
		ticker, side, since)
	if err != nil {
		return 0, fmt.Errorf("failed to count campaign alerts for %s: %w", ticker, err)
	}
	return n, nil
}

// WinRate summarizes resolved outcomes for (ticker, side). Clearing
// failures count against the ticker alongside fades.
func (s *Store) WinRate(ctx context.Context, ticker string, side models.Side) (baseline.WinRate, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var w baseline.WinRate
	err := s.db.GetContext(ctx, &w, `
		SELECT COUNT(*) FILTER (WHERE confirmation = 1)               AS held,
		       COUNT(*) FILTER (WHERE confirmation IN (-1, -2))      AS faded,
		       COUNT(*) FILTER (WHERE confirmation <> 0)             AS total
		FROM alerts WHERE ticker = $1 AND side = $2`,
		ticker, side)
	if err != nil {
		return baseline.WinRate{}, fmt.Errorf("failed to load win rate for %s: %w", ticker, err)
	}
	return w, nil
}

var _ baseline.Store = (*Store)(nil)
