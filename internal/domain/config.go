// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const minAPITokenLength = 20

// Config represents the application configuration
type Config struct {
	Version       string
	Host          string `toml:"host" mapstructure:"host"`
	LogLevel      string `toml:"logLevel" mapstructure:"logLevel"`
	LogPath       string `toml:"logPath" mapstructure:"logPath"`
	LogMaxSize    int    `toml:"logMaxSize" mapstructure:"logMaxSize"`
	LogMaxBackups int    `toml:"logMaxBackups" mapstructure:"logMaxBackups"`
	DataDir       string `toml:"dataDir" mapstructure:"dataDir"`
	DatabasePath  string `toml:"databasePath" mapstructure:"databasePath"`

	// DryRun logs cleanup effects instead of performing them. Tests are
	// still submitted.
	DryRun bool `toml:"dryRun" mapstructure:"dryRun"`

	RDAPIToken       string `toml:"rdApiToken" mapstructure:"rdApiToken"`
	RDBaseURL        string `toml:"rdBaseUrl" mapstructure:"rdBaseUrl"`
	RDTimeoutSeconds int    `toml:"rdTimeoutSeconds" mapstructure:"rdTimeoutSeconds"`

	TestBatchSize        int `toml:"testBatchSize" mapstructure:"testBatchSize"`
	CleanupBatchSize     int `toml:"cleanupBatchSize" mapstructure:"cleanupBatchSize"`
	ItemDelayMs          int `toml:"itemDelayMs" mapstructure:"itemDelayMs"`
	IdleIntervalSeconds  int `toml:"idleIntervalSeconds" mapstructure:"idleIntervalSeconds"`
	MaxCleanupRetries    int `toml:"maxCleanupRetries" mapstructure:"maxCleanupRetries"`
	HistoryRetentionDays int `toml:"historyRetentionDays" mapstructure:"historyRetentionDays"`

	RateLimitInitialDelayMs    int     `toml:"rateLimitInitialDelayMs" mapstructure:"rateLimitInitialDelayMs"`
	RateLimitMinDelayMs        int     `toml:"rateLimitMinDelayMs" mapstructure:"rateLimitMinDelayMs"`
	RateLimitMaxDelayMs        int     `toml:"rateLimitMaxDelayMs" mapstructure:"rateLimitMaxDelayMs"`
	RateLimitBackoffMultiplier float64 `toml:"rateLimitBackoffMultiplier" mapstructure:"rateLimitBackoffMultiplier"`
	RateLimitRecoveryDivisor   float64 `toml:"rateLimitRecoveryDivisor" mapstructure:"rateLimitRecoveryDivisor"`
	RateLimitRecoveryStreak    int     `toml:"rateLimitRecoveryStreak" mapstructure:"rateLimitRecoveryStreak"`
	RateLimitMaxCallsPerMinute int     `toml:"rateLimitMaxCallsPerMinute" mapstructure:"rateLimitMaxCallsPerMinute"`

	SonarrURL            string `toml:"sonarrUrl" mapstructure:"sonarrUrl"`
	SonarrAPIKey         string `toml:"sonarrApiKey" mapstructure:"sonarrApiKey"`
	RadarrURL            string `toml:"radarrUrl" mapstructure:"radarrUrl"`
	RadarrAPIKey         string `toml:"radarrApiKey" mapstructure:"radarrApiKey"`
	NotifyTimeoutSeconds int    `toml:"notifyTimeoutSeconds" mapstructure:"notifyTimeoutSeconds"`

	NotificationURLs []string `toml:"notificationUrls" mapstructure:"notificationUrls"`

	MetricsEnabled        bool   `toml:"metricsEnabled" mapstructure:"metricsEnabled"`
	MetricsHost           string `toml:"metricsHost" mapstructure:"metricsHost"`
	MetricsPort           int    `toml:"metricsPort" mapstructure:"metricsPort"`
	MetricsBasicAuthUsers string `toml:"metricsBasicAuthUsers" mapstructure:"metricsBasicAuthUsers"`
}

// Validate reports every setting that would keep the loops from running.
func (c *Config) Validate() error {
	var errs []error

	token := strings.TrimSpace(c.RDAPIToken)
	switch {
	case token == "":
		errs = append(errs, errors.New("rdApiToken is required"))
	case len(token) < minAPITokenLength:
		errs = append(errs, fmt.Errorf("rdApiToken looks truncated: expected at least %d characters", minAPITokenLength))
	}

	if c.RDBaseURL != "" {
		if u, err := url.Parse(c.RDBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("rdBaseUrl %q is not an absolute URL", c.RDBaseURL))
		}
	}

	if c.MaxCleanupRetries <= 0 {
		errs = append(errs, errors.New("maxCleanupRetries must be greater than 0"))
	}
	if c.TestBatchSize <= 0 {
		errs = append(errs, errors.New("testBatchSize must be greater than 0"))
	}
	if c.CleanupBatchSize <= 0 {
		errs = append(errs, errors.New("cleanupBatchSize must be greater than 0"))
	}
	if c.ItemDelayMs < 0 {
		errs = append(errs, errors.New("itemDelayMs must not be negative"))
	}

	if c.RateLimitMinDelayMs <= 0 {
		errs = append(errs, errors.New("rateLimitMinDelayMs must be greater than 0"))
	} else if c.RateLimitMinDelayMs > c.RateLimitInitialDelayMs || c.RateLimitInitialDelayMs > c.RateLimitMaxDelayMs {
		errs = append(errs, fmt.Errorf("rate limit delays must satisfy min <= initial <= max (got %d, %d, %d)",
			c.RateLimitMinDelayMs, c.RateLimitInitialDelayMs, c.RateLimitMaxDelayMs))
	}
	if c.RateLimitBackoffMultiplier <= 1 {
		errs = append(errs, errors.New("rateLimitBackoffMultiplier must be greater than 1"))
	}
	if c.RateLimitRecoveryDivisor <= 1 {
		errs = append(errs, errors.New("rateLimitRecoveryDivisor must be greater than 1"))
	}

	if (c.SonarrURL == "") != (c.SonarrAPIKey == "") {
		errs = append(errs, errors.New("sonarrUrl and sonarrApiKey must be set together"))
	}
	if (c.RadarrURL == "") != (c.RadarrAPIKey == "") {
		errs = append(errs, errors.New("radarrUrl and radarrApiKey must be set together"))
	}

	if c.MetricsEnabled && (c.MetricsPort <= 0 || c.MetricsPort > 65535) {
		errs = append(errs, fmt.Errorf("metricsPort %d is out of range", c.MetricsPort))
	}

	return errors.Join(errs...)
}

func (c *Config) ItemDelay() time.Duration {
	return time.Duration(c.ItemDelayMs) * time.Millisecond
}

func (c *Config) IdleInterval() time.Duration {
	return time.Duration(c.IdleIntervalSeconds) * time.Second
}

func (c *Config) RDTimeout() time.Duration {
	return time.Duration(c.RDTimeoutSeconds) * time.Second
}

func (c *Config) NotifyTimeout() time.Duration {
	return time.Duration(c.NotifyTimeoutSeconds) * time.Second
}

// HistoryRetention is zero when history is kept forever.
func (c *Config) HistoryRetention() time.Duration {
	if c.HistoryRetentionDays <= 0 {
		return 0
	}
	return time.Duration(c.HistoryRetentionDays) * 24 * time.Hour
}
