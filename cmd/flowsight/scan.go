package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/flowsight/flowsight/internal/metrics"
	"github.com/flowsight/flowsight/internal/scan"
	"github.com/flowsight/flowsight/internal/scorer"
)

func newScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run scan cycles over a captured chain snapshot",
		Long: `Replays a captured snapshot through the full pipeline: verification,
baseline refresh, Greeks, exposure, surface, microstructure, scoring, and
linking. Results are written as JSON, ranked by score. With --interval the
cycle repeats until interrupted and --metrics-addr exposes Prometheus
metrics for scraping.`,
		RunE: runScan,
	}
	cmd.Flags().String("snapshot", "", "Path to captured chain snapshot (required)")
	cmd.Flags().StringP("output", "o", "-", "Write results JSON to file, - for stdout")
	cmd.Flags().Duration("timeout", 10*time.Minute, "Per-cycle deadline")
	cmd.Flags().Duration("interval", 0, "Rerun the cycle on this period, 0 runs once")
	cmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	_ = cmd.MarkFlagRequired("snapshot")
	return cmd
}

func runScan(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	path, _ := cmd.Flags().GetString("snapshot")
	provider, err := scan.LoadSnapshot(path)
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(cmd, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	pipeline := scan.New(provider, store, openGuard(cmd), metrics.NewRegistry(reg), cfg)

	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		serveMetrics(addr, reg)
	}

	timeout, _ := cmd.Flags().GetDuration("timeout")
	interval, _ := cmd.Flags().GetDuration("interval")

	cycle := func() error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		start := time.Now()
		results, err := pipeline.Run(ctx)
		if err != nil {
			return fmt.Errorf("scan failed: %w", err)
		}
		log.Info().Int("results", len(results)).Dur("elapsed", time.Since(start)).Msg("scan finished")
		return writeResults(cmd, results)
	}

	if interval <= 0 {
		return cycle()
	}

	for {
		if err := cycle(); err != nil {
			log.Error().Err(err).Msg("cycle failed, retrying next interval")
		}
		select {
		case <-cmd.Context().Done():
			return nil
		case <-time.After(interval):
		}
	}
}

// serveMetrics exposes the populated registry for scrapes while cycles run.
func serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error().Err(err).Str("addr", addr).Msg("metrics server stopped")
		}
	}()
	log.Info().Str("addr", addr).Msg("serving prometheus metrics")
}

func writeResults(cmd *cobra.Command, results []scorer.ScoredTrade) error {
	out, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}

	dest, _ := cmd.Flags().GetString("output")
	if dest == "-" || dest == "" {
		_, err = fmt.Fprintln(os.Stdout, string(out))
		return err
	}
	if err := os.WriteFile(dest, append(out, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write results to %s: %w", dest, err)
	}
	return nil
}
