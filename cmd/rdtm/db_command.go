// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/autobrr/rdtm/internal/database"
	"github.com/autobrr/rdtm/internal/logger"
)

func RunDBCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database operations",
	}

	cmd.AddCommand(runDBPruneCommand(configPath))
	return cmd
}

func runDBPruneCommand(configPath *string) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete test and cleanup history older than --days",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := openConfig(*configPath)
			if err != nil {
				return err
			}
			defer logger.Close()

			if !cmd.Flags().Changed("days") {
				days = cfg.Config.HistoryRetentionDays
			}
			if days <= 0 {
				return errors.New("--days must be greater than zero")
			}

			db, err := database.New(cfg.GetDatabasePath())
			if err != nil {
				return err
			}
			defer db.Close()

			before := time.Now().AddDate(0, 0, -days)
			tests, cleanups, err := pruneHistory(cmd.Context(), db, before)
			if err != nil {
				return err
			}

			cmd.Printf("Pruned history older than %d days\n", days)
			cmd.Printf("  - test results: %d\n", tests)
			cmd.Printf("  - cleanups: %d\n", cleanups)
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 0, "Retention in days (defaults to historyRetentionDays)")
	return cmd
}
