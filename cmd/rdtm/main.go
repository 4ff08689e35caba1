// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/autobrr/rdtm/internal/buildinfo"
	"github.com/autobrr/rdtm/internal/dbinterface"
	"github.com/autobrr/rdtm/internal/logger"
	"github.com/autobrr/rdtm/internal/metrics"
	"github.com/autobrr/rdtm/internal/models"
)

const historyPruneInterval = 6 * time.Hour

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "rdtm",
		Short:        "Re-submit broken library references to Real-Debrid and clean up refused torrents",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to config.toml or its directory")

	root.AddCommand(
		RunServeCommand(&configPath),
		RunSingleCommand(&configPath),
		RunStatusCommand(&configPath),
		RunDBCommand(&configPath),
		RunNotifyCommand(&configPath),
		RunVersionCommand(),
	)
	return root
}

func RunServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the testing and cleanup loops until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			defer logger.Close()

			log.Info().
				Str("version", buildinfo.Version).
				Str("config", cfg.Path()).
				Bool("dryRun", cfg.Config.DryRun).
				Msg("Starting rdtm")

			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.close()

			cfg.Watch()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			checkAccount(ctx, a)

			g, gctx := errgroup.WithContext(ctx)
			a.alerts.Start(gctx)

			g.Go(func() error { return a.service.RunContinuousTesting(gctx) })
			g.Go(func() error { return a.service.RunContinuousCleanup(gctx) })
			g.Go(func() error { return a.service.RunMonitoring(gctx) })

			if cfg.Config.MetricsEnabled {
				srv := metrics.NewMetricsServer(a.metrics, cfg.Config.MetricsHost, cfg.Config.MetricsPort, cfg.Config.MetricsBasicAuthUsers)
				log.Info().Str("addr", srv.Addr()).Msg("Starting metrics server")
				g.Go(func() error { return srv.Run(gctx) })
			}

			if retention := cfg.Config.HistoryRetention(); retention > 0 {
				g.Go(func() error {
					runHistoryPrune(gctx, a.db, retention)
					return nil
				})
			}

			err = g.Wait()
			log.Info().Msg("rdtm stopped")
			return err
		},
	}
}

func RunSingleCommand(configPath *string) *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "single",
		Short: "Test a batch of references, work the cleanup queue once and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			defer logger.Close()

			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			summary := a.service.RunSingleCycle(ctx, count)

			cmd.Printf("Tested %d references\n", len(summary.Results))
			for _, r := range summary.Results {
				kind := string(r.Kind)
				if r.Success {
					kind = "success"
				}
				cmd.Printf("  - %s %s: %s\n", r.Hash, r.Name, kind)
			}
			for status, n := range summary.Cleanups {
				cmd.Printf("Cleanup %s: %d\n", status, n)
			}
			printSnapshot(cmd, a.service.Snapshot())
			return nil
		},
	}

	cmd.Flags().IntVar(&count, "count", 0, "Number of references to test (defaults to testBatchSize)")
	return cmd
}

func RunVersionCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if asJSON {
				data, err := buildinfo.JSON()
				if err != nil {
					return err
				}
				cmd.Println(string(data))
				return nil
			}
			cmd.Print(buildinfo.String())
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

// checkAccount warns early when the token is not usable. It never stops startup.
func checkAccount(ctx context.Context, a *app) {
	user, err := a.remote.User(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Could not verify the Real-Debrid account")
		return
	}
	if !user.PremiumActive(time.Now()) {
		log.Warn().Str("user", user.Username).Msg("Real-Debrid account has no active premium, submissions will fail")
		return
	}
	log.Info().Str("user", user.Username).Time("expiration", user.Expiration).Msg("Real-Debrid account verified")
}

func runHistoryPrune(ctx context.Context, db dbinterface.TxBeginner, retention time.Duration) {
	ticker := time.NewTicker(historyPruneInterval)
	defer ticker.Stop()

	for {
		if _, _, err := pruneHistory(ctx, db, time.Now().Add(-retention)); err != nil {
			log.Error().Err(err).Msg("Failed to prune history")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// pruneHistory deletes test and cleanup history older than before in one
// transaction; either both tables are pruned or neither is.
func pruneHistory(ctx context.Context, db dbinterface.TxBeginner, before time.Time) (tests, cleanups int64, err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, errors.Wrap(err, "begin prune")
	}
	defer tx.Rollback()

	tests, err = models.NewTestHistoryStore(tx).Prune(ctx, before)
	if err != nil {
		return 0, 0, errors.Wrap(err, "prune test history")
	}
	cleanups, err = models.NewCleanupRecordStore(tx).Prune(ctx, before)
	if err != nil {
		return 0, 0, errors.Wrap(err, "prune cleanup history")
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, errors.Wrap(err, "commit prune")
	}

	if tests > 0 || cleanups > 0 {
		log.Info().Int64("tests", tests).Int64("cleanups", cleanups).Time("before", before).Msg("Pruned history")
	}
	return tests, cleanups, nil
}
