package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/flowsight/flowsight/internal/baseline"
	"github.com/flowsight/flowsight/internal/baseline/postgres"
)

// backfillFile is the import format: seed baselines plus historical per-day
// contract observations.
type backfillFile struct {
	Baselines []baseline.TickerBaseline `json:"baselines,omitempty"`
	Stats     []baseline.ContractStat   `json:"stats,omitempty"`
}

func newBackfillCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Create the schema and load historical baselines",
		Long: `Ensures the PostgreSQL schema exists, then loads seed ticker baselines
and contract history from a JSON file. Without --history only the schema is
created.`,
		RunE: runBackfill,
	}
	cmd.Flags().String("history", "", "JSON file of baselines and contract stats")
	return cmd
}

func runBackfill(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	dsn, _ := cmd.Flags().GetString("postgres")
	if dsn == "" {
		return fmt.Errorf("backfill requires --postgres")
	}
	pg, err := postgres.Open(dsn, cfg.Store.QueryTimeout)
	if err != nil {
		return err
	}
	defer pg.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
	defer cancel()

	if err := pg.EnsureSchema(ctx); err != nil {
		return err
	}
	log.Info().Msg("schema ensured")

	path, _ := cmd.Flags().GetString("history")
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read history %s: %w", path, err)
	}
	var file backfillFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse history %s: %w", path, err)
	}

	for _, b := range file.Baselines {
		if b.TrustScore == 0 {
			b.TrustScore = baseline.TrustNeutral
		}
		if err := pg.UpsertBaseline(ctx, b); err != nil {
			return err
		}
	}
	if len(file.Stats) > 0 {
		if err := pg.RecordContractStats(ctx, file.Stats); err != nil {
			return err
		}
	}
	log.Info().Int("baselines", len(file.Baselines)).Int("stats", len(file.Stats)).
		Msg("backfill complete")
	return nil
}
