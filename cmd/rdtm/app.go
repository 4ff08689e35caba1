// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/rdtm/internal/arr"
	"github.com/autobrr/rdtm/internal/buildinfo"
	"github.com/autobrr/rdtm/internal/config"
	"github.com/autobrr/rdtm/internal/database"
	"github.com/autobrr/rdtm/internal/debrid"
	"github.com/autobrr/rdtm/internal/domain"
	"github.com/autobrr/rdtm/internal/logger"
	"github.com/autobrr/rdtm/internal/metrics"
	"github.com/autobrr/rdtm/internal/models"
	"github.com/autobrr/rdtm/internal/ratelimit"
	"github.com/autobrr/rdtm/internal/services/notifications"
	"github.com/autobrr/rdtm/internal/services/reinject"
	"github.com/autobrr/rdtm/internal/validator"
)

// app holds everything the serve and single commands run on.
type app struct {
	cfg       *config.AppConfig
	db        *database.DB
	remote    *debrid.Client
	limiter   *ratelimit.Limiter
	validator *validator.Validator
	alerts    *notifications.Service
	metrics   *metrics.Manager
	service   *reinject.Service
	history   *models.TestHistoryStore
	records   *models.CleanupRecordStore
}

// openConfig reads the config and points the logger at it.
func openConfig(configPath string) (*config.AppConfig, error) {
	cfg, err := config.New(configPath)
	if err != nil {
		return nil, err
	}

	c := cfg.Config
	if err := logger.Setup(logger.Options{
		Level:      c.LogLevel,
		Path:       c.LogPath,
		MaxSize:    c.LogMaxSize,
		MaxBackups: c.LogMaxBackups,
	}); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadConfig is openConfig plus validation, for commands that talk to
// Real-Debrid.
func loadConfig(configPath string) (*config.AppConfig, error) {
	cfg, err := openConfig(configPath)
	if err != nil {
		return nil, err
	}

	c := cfg.Config
	if err := c.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config %s", cfg.Path())
	}

	log.Debug().Str("path", cfg.Path()).Interface("config", c.Redacted()).Msg("Loaded config")
	return cfg, nil
}

// snapshotRef lets the metrics manager exist before the service it reports on.
type snapshotRef struct {
	svc atomic.Pointer[reinject.Service]
}

func (r *snapshotRef) Snapshot() reinject.Snapshot {
	if svc := r.svc.Load(); svc != nil {
		return svc.Snapshot()
	}
	return reinject.Snapshot{}
}

func newApp(cfg *config.AppConfig) (*app, error) {
	c := cfg.Config

	db, err := database.New(cfg.GetDatabasePath())
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	a := &app{
		cfg:       cfg,
		db:        db,
		validator: validator.New(),
		limiter:   ratelimit.New(rateLimitConfig(c)),
		history:   models.NewTestHistoryStore(db),
		records:   models.NewCleanupRecordStore(db),
	}

	a.remote = debrid.NewClient(debrid.Config{
		BaseURL:   c.RDBaseURL,
		APIToken:  c.RDAPIToken,
		Timeout:   c.RDTimeout(),
		UserAgent: buildinfo.UserAgent,
	})

	media := arr.NewClient(arr.Config{
		Instances:    mediaInstances(c),
		Timeout:      c.NotifyTimeout(),
		UserAgent:    buildinfo.UserAgent,
		CommandDelay: time.Second,
	})

	alerts, err := notifications.NewService(notifications.Config{URLs: c.NotificationURLs}, log.Logger.With().Str("module", "notifications").Logger())
	if err != nil {
		a.close()
		return nil, err
	}
	a.alerts = alerts

	ref := &snapshotRef{}
	a.metrics = metrics.NewManager(ref, a.limiter)

	deps := reinject.Deps{
		Symlinks:  models.NewBrokenSymlinkStore(db),
		Siblings:  models.NewBrokenSymlinkStore(db),
		Tracked:   models.NewTrackedTorrentStore(db),
		Remote:    a.remote,
		Validator: a.validator,
		Limiter:   a.limiter,
		History:   a.history,
		Records:   a.records,
		State:     reinject.NewStateStore(cfg.StateDir()),
		Observer:  a.metrics.Results(),
	}
	if media.Configured() {
		deps.Media = media
	}
	if alerts != nil {
		deps.Alerts = alerts
	}

	svc, err := reinject.NewService(reinject.Config{
		TestBatchSize:    c.TestBatchSize,
		CleanupBatchSize: c.CleanupBatchSize,
		ItemDelay:        c.ItemDelay(),
		IdleInterval:     c.IdleInterval(),
		MaxRetries:       c.MaxCleanupRetries,
		DryRun:           c.DryRun,
		SubmitTimeout:    c.RDTimeout(),
		DeleteTimeout:    c.RDTimeout(),
		NotifyTimeout:    c.NotifyTimeout(),
	}, deps)
	if err != nil {
		a.close()
		return nil, err
	}
	ref.svc.Store(svc)
	a.service = svc

	return a, nil
}

func (a *app) close() {
	if a.validator != nil {
		a.validator.Close()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close database")
		}
	}
}

func rateLimitConfig(c *domain.Config) ratelimit.Config {
	return ratelimit.Config{
		InitialDelay:      time.Duration(c.RateLimitInitialDelayMs) * time.Millisecond,
		MinDelay:          time.Duration(c.RateLimitMinDelayMs) * time.Millisecond,
		MaxDelay:          time.Duration(c.RateLimitMaxDelayMs) * time.Millisecond,
		BackoffMultiplier: c.RateLimitBackoffMultiplier,
		RecoveryDivisor:   c.RateLimitRecoveryDivisor,
		RecoveryStreak:    c.RateLimitRecoveryStreak,
		MaxCallsPerMinute: c.RateLimitMaxCallsPerMinute,
	}
}

func mediaInstances(c *domain.Config) []arr.Instance {
	var out []arr.Instance
	if c.SonarrURL != "" {
		out = append(out, arr.Instance{Kind: arr.KindSonarr, Name: "sonarr", URL: c.SonarrURL, APIKey: c.SonarrAPIKey})
	}
	if c.RadarrURL != "" {
		out = append(out, arr.Instance{Kind: arr.KindRadarr, Name: "radarr", URL: c.RadarrURL, APIKey: c.RadarrAPIKey})
	}
	return out
}
