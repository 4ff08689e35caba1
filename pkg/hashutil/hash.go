// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package hashutil normalizes torrent info hashes so they compare and store
// consistently across the codebase.
package hashutil

import "strings"

// InfoHashV1Len is the hex length of a SHA-1 info hash.
const InfoHashV1Len = 40

// Normalize canonicalizes a torrent hash by trimming whitespace and
// converting to lowercase. Returns an empty string if the input is blank.
func Normalize(hash string) string {
	return strings.ToLower(strings.TrimSpace(hash))
}

// IsHex reports whether s is non-empty and contains only hex digits.
func IsHex(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// IsInfoHashV1 reports whether hash, once normalized, is a 40 character hex
// string.
func IsInfoHashV1(hash string) bool {
	h := Normalize(hash)
	return len(h) == InfoHashV1Len && IsHex(h)
}

// NormalizeAll normalizes a slice of hashes, removing empty entries and
// duplicates while preserving first-occurrence order.
func NormalizeAll(hashes []string) []string {
	if len(hashes) == 0 {
		return nil
	}

	result := make([]string, 0, len(hashes))
	seen := make(map[string]struct{}, len(hashes))

	for _, hash := range hashes {
		normalized := Normalize(hash)
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		result = append(result, normalized)
	}

	return result
}
