// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package config loads config.toml through viper, applies RDTM__
// environment overrides and hot-reloads the log level.
package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"
	"unicode"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/autobrr/rdtm/internal/domain"
	"github.com/autobrr/rdtm/internal/logger"
)

const (
	EnvPrefix       = "RDTM__"
	ConfigFileName  = "config.toml"
	DatabaseName    = "rdtm.db"
	defaultAppDir   = "rdtm"
	dockerConfigDir = "/config"
)

type AppConfig struct {
	Config *domain.Config

	viper      *viper.Viper
	configPath string

	mu        sync.Mutex
	listeners []func(*domain.Config)
}

// New loads the config file at configPath. A directory means config.toml
// inside it; an empty path means the default config directory. A missing
// file is created with defaults first.
func New(configPath string) (*AppConfig, error) {
	path, err := resolveConfigPath(configPath)
	if err != nil {
		return nil, err
	}

	c := &AppConfig{
		viper:      viper.New(),
		configPath: path,
	}
	c.defaults()
	c.bindEnv()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeDefaultConfig(path); err != nil {
			return nil, err
		}
		log.Info().Str("path", path).Msg("Created default config file")
	} else if err != nil {
		return nil, errors.Wrapf(err, "stat config %s", path)
	}

	c.viper.SetConfigFile(path)
	c.viper.SetConfigType("toml")
	if err := c.viper.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}

	cfg, err := c.decode()
	if err != nil {
		return nil, err
	}
	c.Config = cfg
	return c, nil
}

func (c *AppConfig) decode() (*domain.Config, error) {
	cfg := &domain.Config{}
	if err := c.viper.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}

	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Dir(c.configPath)
	}
	if cfg.LogPath != "" && !filepath.IsAbs(cfg.LogPath) {
		cfg.LogPath = filepath.Join(filepath.Dir(c.configPath), cfg.LogPath)
	}
	cfg.NotificationURLs = cleanList(cfg.NotificationURLs)
	return cfg, nil
}

// defaultSettings lists every config key with its default, in file order.
var defaultSettings = []struct {
	key   string
	value any
}{
	{"host", "localhost"},
	{"logLevel", "INFO"},
	{"logPath", ""},
	{"logMaxSize", logger.DefaultMaxSize},
	{"logMaxBackups", logger.DefaultMaxBackups},
	{"dataDir", ""},
	{"databasePath", ""},
	{"dryRun", false},
	{"rdApiToken", ""},
	{"rdBaseUrl", "https://api.real-debrid.com/rest/1.0"},
	{"rdTimeoutSeconds", 30},
	{"testBatchSize", 10},
	{"cleanupBatchSize", 5},
	{"itemDelayMs", 2000},
	{"idleIntervalSeconds", 300},
	{"maxCleanupRetries", 3},
	{"historyRetentionDays", 30},
	{"rateLimitInitialDelayMs", 1000},
	{"rateLimitMinDelayMs", 500},
	{"rateLimitMaxDelayMs", 30000},
	{"rateLimitBackoffMultiplier", 2.0},
	{"rateLimitRecoveryDivisor", 1.1},
	{"rateLimitRecoveryStreak", 5},
	{"rateLimitMaxCallsPerMinute", 250},
	{"sonarrUrl", ""},
	{"sonarrApiKey", ""},
	{"radarrUrl", ""},
	{"radarrApiKey", ""},
	{"notifyTimeoutSeconds", 60},
	{"notificationUrls", []string{}},
	{"metricsEnabled", false},
	{"metricsHost", "127.0.0.1"},
	{"metricsPort", 9074},
	{"metricsBasicAuthUsers", ""},
}

func (c *AppConfig) defaults() {
	for _, s := range defaultSettings {
		c.viper.SetDefault(s.key, s.value)
	}
}

// bindEnv maps every known key to RDTM__UPPER_SNAKE, e.g. rdApiToken to
// RDTM__RD_API_TOKEN.
func (c *AppConfig) bindEnv() {
	for _, s := range defaultSettings {
		_ = c.viper.BindEnv(s.key, EnvName(s.key))
	}
}

// EnvName returns the environment variable that overrides key.
func EnvName(key string) string {
	var b strings.Builder
	b.WriteString(EnvPrefix)

	runes := []rune(key)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevLower := unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if prevLower || (unicode.IsUpper(runes[i-1]) && nextLower) {
				b.WriteByte('_')
			}
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

// Path returns the config file in use.
func (c *AppConfig) Path() string {
	return c.configPath
}

// GetDatabasePath returns databasePath when set, resolved against dataDir
// when relative, and rdtm.db inside dataDir otherwise.
func (c *AppConfig) GetDatabasePath() string {
	if p := strings.TrimSpace(c.Config.DatabasePath); p != "" {
		if filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(c.Config.DataDir, p)
	}
	return filepath.Join(c.Config.DataDir, DatabaseName)
}

// StateDir is where the stats and cleanup queue files live.
func (c *AppConfig) StateDir() string {
	return c.Config.DataDir
}

// OnChange registers fn to run after every successful reload.
func (c *AppConfig) OnChange(fn func(*domain.Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Watch reloads the file when it changes. Only the log level is applied to
// the running process; other settings take effect on restart.
func (c *AppConfig) Watch() {
	c.viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		c.reload()
	})
	c.viper.WatchConfig()
}

func (c *AppConfig) reload() {
	cfg, err := c.decode()
	if err != nil {
		log.Error().Err(err).Msg("Could not reload config, keeping previous settings")
		return
	}

	c.mu.Lock()
	previous := c.Config.LogLevel
	c.Config.LogLevel = cfg.LogLevel
	listeners := append([]func(*domain.Config){}, c.listeners...)
	c.mu.Unlock()

	if !strings.EqualFold(previous, cfg.LogLevel) {
		logger.SetLevel(cfg.LogLevel)
		log.Info().Str("from", previous).Str("to", cfg.LogLevel).Msg("Log level updated from config")
	}

	for _, fn := range listeners {
		fn(cfg)
	}
}

func resolveConfigPath(configPath string) (string, error) {
	if configPath == "" {
		configPath = getDefaultConfigDir()
	}

	abs, err := filepath.Abs(configPath)
	if err != nil {
		return "", errors.Wrapf(err, "resolve config path %s", configPath)
	}

	if info, err := os.Stat(abs); err == nil && info.IsDir() {
		return filepath.Join(abs, ConfigFileName), nil
	}
	if filepath.Ext(abs) == "" {
		return filepath.Join(abs, ConfigFileName), nil
	}
	return abs, nil
}

// getDefaultConfigDir honours XDG_CONFIG_HOME=/config as used by the
// container image, then the user config dir.
func getDefaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg == dockerConfigDir {
		return dockerConfigDir
	}

	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, defaultAppDir)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", defaultAppDir)
	}
	return "."
}

func writeDefaultConfig(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "create config directory for %s", path)
	}

	var buf bytes.Buffer
	if err := defaultConfigTemplate.Execute(&buf, map[string]any{
		"Host": detectHost(),
	}); err != nil {
		return errors.Wrap(err, "render default config")
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return errors.Wrapf(err, "write default config %s", path)
	}
	return nil
}

// detectHost binds the metrics listener on all interfaces inside a container.
func detectHost() string {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return "0.0.0.0"
	}
	if os.Getenv("XDG_CONFIG_HOME") == dockerConfigDir {
		return "0.0.0.0"
	}
	return "127.0.0.1"
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

var defaultConfigTemplate = template.Must(template.New("config").Parse(`# config.toml - Auto-generated on first run

# Real-Debrid API token
# Required. Override with RDTM__RD_API_TOKEN
rdApiToken = ""

# Real-Debrid API base URL
# Default: "https://api.real-debrid.com/rest/1.0"
#rdBaseUrl = "https://api.real-debrid.com/rest/1.0"

# Per-call timeout for Real-Debrid in seconds
# Default: 30
#rdTimeoutSeconds = 30

# Log cleanup effects instead of performing them. Tests are still submitted.
# Default: false
dryRun = false

# Data directory for the database, stats.json and cleanup_queue.json
# Default: next to this file
#dataDir = ""

# Database path
# Default: rdtm.db inside dataDir
#databasePath = ""

# Log file path
# If not defined, logs to stderr only
# Optional
#logPath = "log/rdtm.log"

# Log rotation
# Maximum log file size in megabytes before rotation
# Default: 50
#logMaxSize = 50

# Number of rotated log files to retain (0 keeps all)
# Default: 3
#logMaxBackups = 3

# Log level
# Default: "INFO"
# Options: "ERROR", "DEBUG", "INFO", "WARN", "TRACE"
logLevel = "INFO"

# Loop pacing
#testBatchSize = 10
#cleanupBatchSize = 5
#itemDelayMs = 2000
#idleIntervalSeconds = 300
#maxCleanupRetries = 3

# Days of test and cleanup history to keep (0 keeps everything)
#historyRetentionDays = 30

# Adaptive rate limiting
#rateLimitInitialDelayMs = 1000
#rateLimitMinDelayMs = 500
#rateLimitMaxDelayMs = 30000
#rateLimitBackoffMultiplier = 2.0
#rateLimitRecoveryDivisor = 1.1
#rateLimitRecoveryStreak = 5
#rateLimitMaxCallsPerMinute = 250

# Media servers rescanned after a cleanup
#sonarrUrl = "http://sonarr:8989"
#sonarrApiKey = ""
#radarrUrl = "http://radarr:7878"
#radarrApiKey = ""
#notifyTimeoutSeconds = 60

# Operator notifications (shoutrrr URLs)
#notificationUrls = ["discord://token@webhookid"]

# Prometheus metrics
metricsEnabled = false
metricsHost = "{{ .Host }}"
metricsPort = 9074
# Comma separated user:password pairs
#metricsBasicAuthUsers = ""
`))
