package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/warp/toil-ledger/toil"
)

func buildRepairCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "repair",
		Short: "Reconcile tombstones left by an interrupted deletion",
		Long: `Purges every ledger row whose ID is still listed as a tombstone, then
clears the tombstone sets. Safe to run at any time; a clean ledger is
left unchanged.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(cmd, func(ctx context.Context, svc *toil.Service) error {
				res, err := svc.Repair(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "=== Repair ===")
				fmt.Fprintf(cmd.OutOrStdout(), "Accrual rows purged: %d\n", res.AccrualPurged)
				fmt.Fprintf(cmd.OutOrStdout(), "Usage rows purged:   %d\n", res.UsagePurged)
				fmt.Fprintf(cmd.OutOrStdout(), "Tombstones cleared:  %d\n", res.TombstonesCleared)
				return nil
			})
		},
	}
}

func buildExpireCommand() *cobra.Command {
	var asOf string
	cmd := &cobra.Command{
		Use:   "expire",
		Short: "Expire accruals older than the expiry horizon",
		Long: `Marks every active accrual dated before the expiry cutoff as expired.
Expired hours no longer count towards a month's balance.

Examples:
  toild expire
  toild expire --as-of=2025-06-30   # cutoff computed from this date`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			now := time.Now()
			if asOf != "" {
				t, err := time.Parse(time.DateOnly, asOf)
				if err != nil {
					return fmt.Errorf("invalid --as-of: %w", err)
				}
				now = t
			}
			return withService(cmd, func(ctx context.Context, svc *toil.Service) error {
				n, err := svc.ExpireSweep(ctx, now)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "=== Expire ===")
				fmt.Fprintf(cmd.OutOrStdout(), "Cutoff:  %s\n", svc.ExpiryCutoff(now))
				fmt.Fprintf(cmd.OutOrStdout(), "Expired: %d\n", n)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "Compute the cutoff from this date (YYYY-MM-DD)")
	return cmd
}

func buildCleanupCommand() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove duplicate ledger rows",
		Long: `Keeps one accrual row per (user, date) and one usage row per entry,
dropping the rest. Without --user every user is cleaned.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(cmd, func(ctx context.Context, svc *toil.Service) error {
				res, err := svc.CleanupDuplicates(ctx, userID)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "=== Cleanup ===")
				fmt.Fprintf(cmd.OutOrStdout(), "Accrual duplicates removed: %d\n", res.AccrualRemoved)
				fmt.Fprintf(cmd.OutOrStdout(), "Usage duplicates removed:   %d\n", res.UsageRemoved)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "Only clean this user's rows")
	return cmd
}

// withService runs fn against a Service over the configured store. The
// queue is never started; maintenance commands only touch the ledger.
func withService(cmd *cobra.Command, fn func(ctx context.Context, svc *toil.Service) error) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	opts := cfg.TOIL.ServiceOptions()
	opts.Logger = log
	svc := toil.New(store, opts)
	defer svc.Close()

	return fn(ctx, svc)
}
