// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/autobrr/rdtm/internal/logger"
	"github.com/autobrr/rdtm/internal/pkg/timeouts"
	"github.com/autobrr/rdtm/internal/services/notifications"
)

func RunNotifyCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Notification operations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "test",
		Short: "Send a test message to every configured notification url",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := openConfig(*configPath)
			if err != nil {
				return err
			}
			defer logger.Close()

			svc, err := notifications.NewService(notifications.Config{URLs: cfg.Config.NotificationURLs}, log.Logger)
			if err != nil {
				return err
			}

			ctx, cancel := timeouts.WithCallTimeout(cmd.Context(), cfg.Config.NotifyTimeout(), timeouts.DefaultNotifyTimeout)
			defer cancel()

			if err := svc.SendTest(ctx, "rdtm test notification", "Notifications from rdtm are working."); err != nil {
				return err
			}
			cmd.Printf("Sent test notification to %d url(s)\n", len(cfg.Config.NotificationURLs))
			return nil
		},
	})
	return cmd
}
