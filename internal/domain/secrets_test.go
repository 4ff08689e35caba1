// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "non-empty string keeps its length", input: "secret", want: "******"},
		{name: "empty string returns empty", input: "", want: ""},
		{name: "whitespace only", input: "   ", want: "***"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, RedactString(tt.input))
		})
	}
}

func TestIsRedactedValue(t *testing.T) {
	t.Parallel()

	assert.True(t, IsRedactedValue("****"))
	assert.False(t, IsRedactedValue(""))
	assert.False(t, IsRedactedValue("**a*"))
}

func TestConfigRedacted(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		RDAPIToken:            "ABCDEFGHIJKLMNOPQRSTUVWX",
		SonarrAPIKey:          "sonarrkey",
		RadarrAPIKey:          "",
		MetricsBasicAuthUsers: "admin:secret,broken",
		NotificationURLs:      []string{"discord://token@channel", "plain"},
		Host:                  "localhost",
	}

	out := cfg.Redacted()

	assert.Equal(t, "************************", out.RDAPIToken)
	assert.Equal(t, "*********", out.SonarrAPIKey)
	assert.Empty(t, out.RadarrAPIKey)
	assert.Equal(t, "admin:******,broken", out.MetricsBasicAuthUsers)
	assert.Equal(t, []string{"discord://*************", "*****"}, out.NotificationURLs)
	assert.Equal(t, "localhost", out.Host)

	// the original is untouched
	assert.Equal(t, "ABCDEFGHIJKLMNOPQRSTUVWX", cfg.RDAPIToken)
	assert.Equal(t, "discord://token@channel", cfg.NotificationURLs[0])
}
