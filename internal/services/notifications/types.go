// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package notifications

import (
	"fmt"
	"strings"
)

type EventType string

const (
	EventInfringingDetected EventType = "infringing_detected"
	EventCleanupCompleted   EventType = "cleanup_completed"
	EventCleanupFailed      EventType = "cleanup_failed"
)

type EventDefinition struct {
	Type        EventType `json:"type"`
	Label       string    `json:"label"`
	Description string    `json:"description"`
}

var eventDefinitions = []EventDefinition{
	{Type: EventInfringingDetected, Label: "Infringing content detected", Description: "Real-Debrid refused a reinjected torrent for a terminal reason and cleanup was queued."},
	{Type: EventCleanupCompleted, Label: "Cleanup completed", Description: "The remote torrent and local symlinks were removed and the media servers were asked to rescan."},
	{Type: EventCleanupFailed, Label: "Cleanup failed", Description: "A cleanup task used up its retries."},
}

var eventTypeIndex = func() map[string]int {
	idx := make(map[string]int, len(eventDefinitions))
	for i, def := range eventDefinitions {
		idx[string(def.Type)] = i
	}
	return idx
}()

func EventDefinitions() []EventDefinition {
	out := make([]EventDefinition, len(eventDefinitions))
	copy(out, eventDefinitions)
	return out
}

func AllEventTypeStrings() []string {
	out := make([]string, 0, len(eventDefinitions))
	for _, def := range eventDefinitions {
		out = append(out, string(def.Type))
	}
	return out
}

func IsValidEventType(value string) bool {
	_, ok := eventTypeIndex[value]
	return ok
}

// NormalizeEventTypes validates input and returns it deduplicated in
// definition order.
func NormalizeEventTypes(input []string) ([]string, error) {
	if len(input) == 0 {
		return nil, nil
	}

	seen := make(map[string]struct{}, len(input))
	for _, raw := range input {
		value := strings.TrimSpace(raw)
		if value == "" {
			continue
		}
		if !IsValidEventType(value) {
			return nil, fmt.Errorf("unknown event type: %s", value)
		}
		seen[value] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for _, def := range eventDefinitions {
		value := string(def.Type)
		if _, ok := seen[value]; ok {
			out = append(out, value)
		}
	}

	return out, nil
}
