// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/autobrr/rdtm/internal/database"
	"github.com/autobrr/rdtm/internal/logger"
	"github.com/autobrr/rdtm/internal/models"
	"github.com/autobrr/rdtm/internal/services/reinject"
)

func RunStatusCommand(configPath *string) *cobra.Command {
	var withDB bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the persisted statistics and cleanup queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := openConfig(*configPath)
			if err != nil {
				return err
			}
			defer logger.Close()

			state := reinject.NewStateStore(cfg.StateDir())
			stats, err := state.LoadStats()
			if err != nil {
				return err
			}
			tasks, err := state.LoadQueue()
			if err != nil {
				return err
			}

			printSnapshot(cmd, reinject.BuildSnapshot(stats, tasks, cfg.Config.DryRun, time.Now()))

			if len(tasks) > 0 {
				cmd.Println("Queue:")
				for _, t := range tasks {
					cmd.Printf("  - %s %s [%s] retries=%d paths=%d\n", t.TorrentHash, t.Filename, t.Status, t.RetryCount, len(t.LocalPaths))
				}
			}

			if withDB {
				db, err := database.New(cfg.GetDatabasePath())
				if err != nil {
					return err
				}
				defer db.Close()

				pending, err := models.NewBrokenSymlinkStore(db).CountPending(cmd.Context())
				if err != nil {
					return err
				}
				cmd.Printf("Untested references: %d\n", pending)

				kinds, err := models.NewTestHistoryStore(db).CountByFailureKind(cmd.Context())
				if err != nil {
					return err
				}
				for _, kind := range sortedKeys(kinds) {
					cmd.Printf("  %s: %d\n", kind, kinds[kind])
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&withDB, "db", false, "Include counts from the database")
	return cmd
}

func printSnapshot(cmd *cobra.Command, snap reinject.Snapshot) {
	cmd.Printf("Tests performed: %d\n", snap.Stats.TestsPerformed)
	cmd.Printf("Infringing detected: %d (%.1f%%)\n", snap.Stats.InfringingDetected, snap.InfringingRate*100)
	cmd.Printf("Cleanups completed: %d\n", snap.Stats.CleanupsCompleted)
	cmd.Printf("Errors encountered: %d\n", snap.Stats.ErrorsEncountered)
	cmd.Printf("Runtime: %.1fh (%.1f tests/h)\n", snap.RuntimeHours, snap.TestsPerHour)
	cmd.Printf("Cleanup queue: pending=%d processing=%d\n", snap.Queue[reinject.StatusPending], snap.Queue[reinject.StatusProcessing])
	if snap.DryRun {
		cmd.Println("Dry run: cleanup effects are logged only")
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
