// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package ratelimit paces outbound debrid and media-server calls. Each scope
// is a single-slot gate whose delay adapts to rate-limit signals; all scopes
// also share a global calls-per-minute budget.
package ratelimit

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Scope names a family of outbound calls sharing one adaptive delay.
type Scope string

const (
	ScopeTestInjection Scope = "test_injection"
	ScopeCleanupRD     Scope = "cleanup_rd"
	ScopeNotifyMedia   Scope = "notify_media"
)

// Outcome is what the caller observed for a permitted call.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
	OutcomeRateLimited
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeRateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

type Config struct {
	InitialDelay      time.Duration
	MinDelay          time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	RecoveryDivisor   float64
	// RecoveryStreak is the number of consecutive non rate-limited calls
	// after which the delay is divided by RecoveryDivisor.
	RecoveryStreak int
	// MaxCallsPerMinute is shared by all scopes. Zero or less disables it.
	MaxCallsPerMinute int
}

func DefaultConfig() Config {
	return Config{
		InitialDelay:      time.Second,
		MinDelay:          500 * time.Millisecond,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
		RecoveryDivisor:   1.1,
		RecoveryStreak:    5,
		MaxCallsPerMinute: 250,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MinDelay <= 0 {
		c.MinDelay = def.MinDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.MaxDelay < c.MinDelay {
		c.MaxDelay = c.MinDelay
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = def.InitialDelay
	}
	c.InitialDelay = clampDelay(c.InitialDelay, c.MinDelay, c.MaxDelay)
	if c.BackoffMultiplier <= 1 {
		c.BackoffMultiplier = def.BackoffMultiplier
	}
	if c.RecoveryDivisor <= 1 {
		c.RecoveryDivisor = def.RecoveryDivisor
	}
	if c.RecoveryStreak <= 0 {
		c.RecoveryStreak = def.RecoveryStreak
	}
	return c
}

// ScopeStats is a point-in-time view of one scope.
type ScopeStats struct {
	Scope           Scope         `json:"scope"`
	CurrentDelay    time.Duration `json:"currentDelay"`
	Calls           uint64        `json:"calls"`
	RateLimited     uint64        `json:"rateLimited"`
	Failures        uint64        `json:"failures"`
	AvgResponseTime time.Duration `json:"avgResponseTime"`
	InFlight        bool          `json:"inFlight"`
	CooldownUntil   time.Time     `json:"cooldownUntil,omitzero"`
}

type scopeState struct {
	delay         time.Duration
	lastDone      time.Time
	cooldownUntil time.Time
	inFlight      bool
	streak        int
	wake          chan struct{}

	calls       uint64
	rateLimited uint64
	failures    uint64
	avgResponse float64 // milliseconds, EWMA
}

type Limiter struct {
	mu     sync.Mutex
	cfg    Config
	scopes map[Scope]*scopeState
	global *rate.Limiter
}

func New(cfg Config) *Limiter {
	cfg = cfg.withDefaults()

	global := rate.NewLimiter(rate.Inf, 0)
	if cfg.MaxCallsPerMinute > 0 {
		burst := max(1, cfg.MaxCallsPerMinute/50)
		global = rate.NewLimiter(rate.Limit(float64(cfg.MaxCallsPerMinute)/60.0), burst)
	}

	return &Limiter{
		cfg:    cfg,
		scopes: make(map[Scope]*scopeState),
		global: global,
	}
}

// Permit is one granted call. Release must be called exactly once; later
// calls are ignored.
type Permit struct {
	limiter  *Limiter
	scope    Scope
	key      string
	start    time.Time
	released atomic.Bool
}

func (p *Permit) Scope() Scope { return p.scope }
func (p *Permit) Key() string  { return p.key }

// Release ends the call and feeds outcome back into the scope delay.
func (p *Permit) Release(outcome Outcome) {
	if p == nil || !p.released.CompareAndSwap(false, true) {
		return
	}
	p.limiter.release(p.scope, outcome, time.Since(p.start))
}

// Acquire blocks until a call in scope may start. The only error returned is
// the context error when ctx ends while waiting.
func (l *Limiter) Acquire(ctx context.Context, scope Scope, key string) (*Permit, error) {
	l.mu.Lock()
	for {
		st := l.stateLocked(scope)
		if st.inFlight {
			wake := st.wake
			l.mu.Unlock()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-wake:
			}
			l.mu.Lock()
			continue
		}

		now := time.Now()
		wait := st.lastDone.Add(st.delay).Sub(now)
		if cd := st.cooldownUntil.Sub(now); cd > wait {
			wait = cd
		}
		if wait <= 0 {
			st.inFlight = true
			break
		}

		timer := time.NewTimer(wait)
		l.mu.Unlock()
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		l.mu.Lock()
	}
	l.mu.Unlock()

	if err := l.global.Wait(ctx); err != nil {
		l.abandon(scope)
		return nil, err
	}

	return &Permit{limiter: l, scope: scope, key: key, start: time.Now()}, nil
}

// SetCooldown holds every new call in scope until the given time.
func (l *Limiter) SetCooldown(scope Scope, until time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.stateLocked(scope)
	if until.After(st.cooldownUntil) {
		st.cooldownUntil = until
	}
}

// Delay returns the current delay for scope.
func (l *Limiter) Delay(scope Scope) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stateLocked(scope).delay
}

// Snapshot returns stats for every scope seen so far, sorted by scope name.
func (l *Limiter) Snapshot() []ScopeStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]ScopeStats, 0, len(l.scopes))
	for scope, st := range l.scopes {
		s := ScopeStats{
			Scope:           scope,
			CurrentDelay:    st.delay,
			Calls:           st.calls,
			RateLimited:     st.rateLimited,
			Failures:        st.failures,
			AvgResponseTime: time.Duration(st.avgResponse * float64(time.Millisecond)),
			InFlight:        st.inFlight,
		}
		if st.cooldownUntil.After(time.Now()) {
			s.CooldownUntil = st.cooldownUntil
		}
		out = append(out, s)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Scope < out[j].Scope })
	return out
}

func (l *Limiter) stateLocked(scope Scope) *scopeState {
	st, ok := l.scopes[scope]
	if !ok {
		st = &scopeState{
			delay: l.cfg.InitialDelay,
			wake:  make(chan struct{}),
		}
		l.scopes[scope] = st
	}
	return st
}

func (l *Limiter) release(scope Scope, outcome Outcome, elapsed time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.stateLocked(scope)
	st.calls++

	ms := float64(elapsed) / float64(time.Millisecond)
	if st.calls == 1 {
		st.avgResponse = ms
	} else {
		st.avgResponse = 0.9*st.avgResponse + 0.1*ms
	}

	switch outcome {
	case OutcomeRateLimited:
		st.rateLimited++
		st.streak = 0
		st.delay = clampDelay(time.Duration(float64(st.delay)*l.cfg.BackoffMultiplier), l.cfg.MinDelay, l.cfg.MaxDelay)
	default:
		if outcome == OutcomeFailure {
			st.failures++
		}
		st.streak++
		if st.streak >= l.cfg.RecoveryStreak {
			st.streak = 0
			st.delay = clampDelay(time.Duration(float64(st.delay)/l.cfg.RecoveryDivisor), l.cfg.MinDelay, l.cfg.MaxDelay)
		}
	}

	l.freeLocked(st)
}

// abandon frees the slot without recording a call.
func (l *Limiter) abandon(scope Scope) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.wakeLocked(l.stateLocked(scope))
}

func (l *Limiter) freeLocked(st *scopeState) {
	st.lastDone = time.Now()
	l.wakeLocked(st)
}

func (l *Limiter) wakeLocked(st *scopeState) {
	st.inFlight = false
	close(st.wake)
	st.wake = make(chan struct{})
}

func clampDelay(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}
