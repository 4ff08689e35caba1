// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package timeouts bounds every outbound call made by the loops.
package timeouts

import (
	"context"
	"errors"
	"net"
	"time"
)

const (
	// DefaultRemoteTimeout bounds a single debrid API call.
	DefaultRemoteTimeout = 30 * time.Second
	// DefaultNotifyTimeout bounds one media-server rescan round.
	DefaultNotifyTimeout = 30 * time.Second
	// MaxCallTimeout caps any configured per-call timeout.
	MaxCallTimeout = 2 * time.Minute
)

// Clamp returns timeout bounded to (0, MaxCallTimeout], substituting def for
// non-positive values.
func Clamp(timeout, def time.Duration) time.Duration {
	if timeout <= 0 {
		timeout = def
	}
	if timeout > MaxCallTimeout {
		return MaxCallTimeout
	}
	return timeout
}

// WithCallTimeout derives a context that expires after the clamped timeout.
// An earlier parent deadline still wins.
func WithCallTimeout(ctx context.Context, timeout, def time.Duration) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, Clamp(timeout, def))
}

// IsTimeout reports whether err is a deadline or network timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
