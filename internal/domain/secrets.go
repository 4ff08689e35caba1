// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import "strings"

// RedactString replaces a string with asterisks of the same length
func RedactString(s string) string {
	if len(s) == 0 {
		return ""
	}

	return strings.Repeat("*", len(s))
}

// IsRedactedValue checks if a value appears to be redacted (all asterisks)
func IsRedactedValue(value string) bool {
	if value == "" {
		return false
	}

	for _, char := range value {
		if char != '*' {
			return false
		}
	}
	return true
}

// Redacted returns a copy of c safe to print. Notification URLs carry their
// tokens inline, so only their scheme survives.
func (c *Config) Redacted() Config {
	out := *c
	out.RDAPIToken = RedactString(c.RDAPIToken)
	out.SonarrAPIKey = RedactString(c.SonarrAPIKey)
	out.RadarrAPIKey = RedactString(c.RadarrAPIKey)
	out.MetricsBasicAuthUsers = redactBasicAuthUsers(c.MetricsBasicAuthUsers)

	if len(c.NotificationURLs) > 0 {
		out.NotificationURLs = make([]string, len(c.NotificationURLs))
		for i, raw := range c.NotificationURLs {
			scheme, _, found := strings.Cut(raw, "://")
			if !found {
				out.NotificationURLs[i] = RedactString(raw)
				continue
			}
			out.NotificationURLs[i] = scheme + "://" + RedactString(raw[len(scheme)+3:])
		}
	}
	return out
}

func redactBasicAuthUsers(raw string) string {
	if raw == "" {
		return ""
	}
	entries := strings.Split(raw, ",")
	for i, entry := range entries {
		user, pass, ok := strings.Cut(strings.TrimSpace(entry), ":")
		if !ok {
			continue
		}
		entries[i] = user + ":" + RedactString(pass)
	}
	return strings.Join(entries, ",")
}
