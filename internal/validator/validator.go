// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package validator checks info hashes and rebuilds magnet links before
// anything is sent to the debrid service.
package validator

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/anacrolix/torrent/metainfo"
	"github.com/autobrr/autobrr/pkg/ttlcache"

	"github.com/autobrr/rdtm/pkg/hashutil"
)

var (
	ErrEmptyHash         = errors.New("hash is empty")
	ErrInvalidLength     = errors.New("hash must be 40 hex characters")
	ErrInvalidCharacters = errors.New("hash contains non-hex characters")
	ErrZeroHash          = errors.New("hash is all zeros")
	ErrLowEntropy        = errors.New("hash has too few distinct characters")
	ErrBlacklisted       = errors.New("hash is blacklisted")
	ErrInvalidName       = errors.New("display name is not valid for a magnet link")
	ErrMagnetMismatch    = errors.New("magnet link does not round-trip")
)

const (
	minDistinctChars = 3
	maxNameLength    = 1024
	cacheTTL         = 10 * time.Minute
)

type cachedResult struct {
	err error
}

type Validator struct {
	cache *ttlcache.Cache[string, cachedResult]

	mu        sync.RWMutex
	blacklist map[string]string
}

func New() *Validator {
	return &Validator{
		cache:     ttlcache.New(ttlcache.Options[string, cachedResult]{}.SetDefaultTTL(cacheTTL)),
		blacklist: make(map[string]string),
	}
}

// ValidateIdentifier reports why hash cannot be submitted, or nil.
func (v *Validator) ValidateIdentifier(hash string) error {
	h := hashutil.Normalize(hash)

	if reason, ok := v.IsBlacklisted(h); ok {
		return fmt.Errorf("%w: %s", ErrBlacklisted, reason)
	}

	if cached, ok := v.cache.Get(h); ok {
		return cached.err
	}

	err := checkHash(h)
	v.cache.Set(h, cachedResult{err: err}, ttlcache.DefaultTTL)
	return err
}

// BuildPayload returns the canonical magnet link for hash and name.
func (v *Validator) BuildPayload(hash, name string) (string, error) {
	h := hashutil.Normalize(hash)
	if err := v.ValidateIdentifier(h); err != nil {
		return "", err
	}

	name = strings.TrimSpace(name)
	if err := checkName(name); err != nil {
		return "", err
	}

	var infoHash metainfo.Hash
	if err := infoHash.FromHexString(h); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCharacters, err)
	}

	magnet := metainfo.Magnet{
		InfoHash:    infoHash,
		DisplayName: name,
	}
	link := magnet.String()

	parsed, err := metainfo.ParseMagnetUri(link)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMagnetMismatch, err)
	}
	if parsed.InfoHash.HexString() != h || parsed.DisplayName != name {
		return "", ErrMagnetMismatch
	}

	return link, nil
}

// Blacklist rejects hash in all future validations.
func (v *Validator) Blacklist(hash, reason string) {
	h := hashutil.Normalize(hash)
	if h == "" {
		return
	}

	v.mu.Lock()
	v.blacklist[h] = reason
	v.mu.Unlock()

	v.cache.Delete(h)
}

func (v *Validator) IsBlacklisted(hash string) (string, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	reason, ok := v.blacklist[hashutil.Normalize(hash)]
	return reason, ok
}

func (v *Validator) Close() {
	v.cache.Close()
}

func checkHash(h string) error {
	if h == "" {
		return ErrEmptyHash
	}
	if len(h) != hashutil.InfoHashV1Len {
		return fmt.Errorf("%w: got %d", ErrInvalidLength, len(h))
	}
	if !hashutil.IsHex(h) {
		return ErrInvalidCharacters
	}
	if strings.Trim(h, "0") == "" {
		return ErrZeroHash
	}

	distinct := make(map[byte]struct{}, 16)
	for i := 0; i < len(h); i++ {
		distinct[h[i]] = struct{}{}
	}
	if len(distinct) < minDistinctChars {
		return ErrLowEntropy
	}

	return nil
}

func checkName(name string) error {
	if !utf8.ValidString(name) {
		return fmt.Errorf("%w: invalid utf-8", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidName, maxNameLength)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: contains control characters", ErrInvalidName)
		}
	}
	return nil
}
