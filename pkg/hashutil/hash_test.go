// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package hashutil

import (
	"reflect"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"ABC123", "abc123"},
		{"  abc123  ", "abc123"},
		{"", ""},
		{"   ", ""},
		{"\tAbC123DeF\n", "abc123def"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := Normalize(tt.input); got != tt.expected {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestIsInfoHashV1(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"0123456789abcdef0123456789abcdef01234567", true},
		{" 0123456789ABCDEF0123456789ABCDEF01234567 ", true},
		{"0123456789abcdef0123456789abcdef0123456", false},
		{"0123456789abcdef0123456789abcdef012345678", false},
		{"g123456789abcdef0123456789abcdef01234567", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := IsInfoHashV1(tt.input); got != tt.want {
			t.Errorf("IsInfoHashV1(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNormalizeAll(t *testing.T) {
	got := NormalizeAll([]string{"AAA", " aaa ", "", "Bbb", "ccc", "BBB"})
	want := []string{"aaa", "bbb", "ccc"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("NormalizeAll() = %v, want %v", got, want)
	}

	if NormalizeAll(nil) != nil {
		t.Errorf("NormalizeAll(nil) should be nil")
	}
}
