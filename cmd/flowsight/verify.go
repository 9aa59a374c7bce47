package main

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/flowsight/flowsight/internal/baseline"
	"github.com/flowsight/flowsight/internal/scan"
)

func newVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Resolve yesterday's alerts against overnight open interest",
		Long: `Runs the morning verification pass standalone: stickiness against the
snapshot's live open interest, then the clearinghouse audit when the snapshot
carries cleared volume. Trust deltas are written back to the store.`,
		RunE: runVerify,
	}
	cmd.Flags().String("snapshot", "", "Snapshot carrying live open interest (required)")
	cmd.Flags().Duration("timeout", 2*time.Minute, "Verification deadline")
	_ = cmd.MarkFlagRequired("snapshot")
	return cmd
}

func runVerify(cmd *cobra.Command, _ []string) error {
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

	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	now := time.Now().UTC()
	verifier := baseline.NewVerifier(store, cfg.Verify)

	pending, err := store.UnconfirmedAlerts(ctx, now.Add(-24*time.Hour))
	if err != nil {
		return err
	}
	contracts := make([]string, 0, len(pending))
	for _, a := range pending {
		contracts = append(contracts, a.Contract)
	}
	live, err := provider.OpenInterest(ctx, contracts)
	if err != nil {
		return err
	}

	sum, err := verifier.VerifyStickiness(ctx, live, now)
	if err != nil {
		return err
	}
	log.Info().Int("held", sum.Held).Int("faded", sum.Faded).
		Int("partial", sum.Partial).Int("skipped", sum.Skipped).
		Msg("stickiness verification complete")

	if cleared := provider.ClearedVolume(); len(cleared) > 0 {
		failed, err := verifier.AuditClearing(ctx, cleared, now)
		if err != nil {
			return err
		}
		log.Info().Int("clearing_failures", failed).Msg("clearing audit complete")
	}
	return nil
}
