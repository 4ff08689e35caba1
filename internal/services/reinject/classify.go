// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package reinject

import "strings"

type classifierRule struct {
	needles []string
	kind    FailureKind
}

// classifierRules is evaluated top to bottom; the first rule with a matching
// needle wins. Needles are lower case.
var classifierRules = []classifierRule{
	{needles: []string{"infringing_file", "infringing"}, kind: KindInfringingFile},
	{needles: []string{"too_many_requests", "too many requests", "slow_down", "rate limit", "429"}, kind: KindTooManyRequests},
	{needles: []string{"virus"}, kind: KindVirus},
	{needles: []string{"magnet_error", "magnet_conversion", "magnet"}, kind: KindMagnetError},
	{needles: []string{"timeout", "timed out", "deadline exceeded"}, kind: KindException},
}

// Classify maps a raw Real-Debrid error to a FailureKind. It never returns
// one of the local kinds.
func Classify(raw string) FailureKind {
	lowered := strings.ToLower(raw)
	for _, rule := range classifierRules {
		for _, needle := range rule.needles {
			if strings.Contains(lowered, needle) {
				return rule.kind
			}
		}
	}
	return KindUnknownError
}
