package main

import (
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/flowsight/flowsight/internal/baseline"
	"github.com/flowsight/flowsight/internal/baseline/guard"
	"github.com/flowsight/flowsight/internal/baseline/postgres"
	"github.com/flowsight/flowsight/internal/config"
)

const (
	appName = "FlowSight"
	version = "v1.0.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd := &cobra.Command{
		Use:     "flowsight",
		Short:   "Options-flow anomaly scanner",
		Version: version,
		Long: appName + ` scores unusual options activity for conviction: Greeks and
dealer exposure, volatility surface bias, stock microstructure, rolling
baselines with earned trust, and multi-leg linking, fused into one integer
score per contract.`,
	}

	rootCmd.PersistentFlags().String("config", "", "Path to yaml config; defaults used when empty")
	rootCmd.PersistentFlags().String("postgres", "", "Postgres DSN; omit for the in-memory store")
	rootCmd.PersistentFlags().String("redis", "", "Redis address for cycle guards; omit to disable")

	rootCmd.AddCommand(newScanCmd(), newVerifyCmd(), newBackfillCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("command failed")
	}
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// openStore selects the persistence backend from flags. Postgres is wrapped
// in the circuit breaker; the in-memory store needs none.
func openStore(cmd *cobra.Command, cfg config.Config) (baseline.Store, func(), error) {
	dsn, _ := cmd.Flags().GetString("postgres")
	if dsn == "" {
		log.Warn().Msg("no postgres DSN, using in-memory store (state lost on exit)")
		return baseline.NewMemStore(), func() {}, nil
	}

	pg, err := postgres.Open(dsn, cfg.Store.QueryTimeout)
	if err != nil {
		return nil, nil, err
	}
	return baseline.NewResilientStore(pg), func() { pg.Close() }, nil
}

// openGuard connects the redis cycle guards, or returns nil when no address
// is configured. The pipeline treats a nil guard as "refresh every cycle,
// count campaigns from the store".
func openGuard(cmd *cobra.Command) *guard.Guard {
	addr, _ := cmd.Flags().GetString("redis")
	if addr == "" {
		return nil
	}
	return guard.New(redis.NewClient(&redis.Options{Addr: addr}))
}
