// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package reinject

import (
	"context"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/autobrr/autobrr/pkg/ttlcache"
	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/moistari/rls"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/rdtm/internal/models"
)

const (
	siblingSearchLimit = 50
	maxFuzzyDistance   = 2
	minFuzzyTitleLen   = 4
)

// SiblingFinder looks up other broken references that may belong to the
// same release.
type SiblingFinder interface {
	ListByName(ctx context.Context, name string) ([]*models.BrokenSymlink, error)
	Search(ctx context.Context, term string, limit int) ([]*models.BrokenSymlink, error)
}

// releaseMatcher decides whether two display names are the same release.
type releaseMatcher struct {
	cache *ttlcache.Cache[string, rls.Release]
}

func newReleaseMatcher() *releaseMatcher {
	return &releaseMatcher{
		cache: ttlcache.New(ttlcache.Options[string, rls.Release]{}.SetDefaultTTL(5 * time.Minute)),
	}
}

func (m *releaseMatcher) parse(name string) rls.Release {
	if cached, ok := m.cache.Get(name); ok {
		return cached
	}
	release := rls.ParseString(name)
	m.cache.Set(name, release, ttlcache.DefaultTTL)
	return release
}

// sameRelease matches on equal names first, then on parsed titles with
// year, season and episode agreeing. Titles that differ only slightly fall
// back to a bounded fuzzy rank.
func (m *releaseMatcher) sameRelease(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return false
	}
	if strings.EqualFold(a, b) {
		return true
	}

	ra, rb := m.parse(a), m.parse(b)
	ta, tb := normalizeTitle(ra.Title), normalizeTitle(rb.Title)
	if ta == "" || tb == "" {
		return false
	}

	if ra.Year > 0 && rb.Year > 0 && ra.Year != rb.Year {
		return false
	}
	if ra.Series != rb.Series || ra.Episode != rb.Episode {
		return false
	}

	if ta == tb {
		return true
	}

	shorter, longer := ta, tb
	if utf8.RuneCountInString(shorter) > utf8.RuneCountInString(longer) {
		shorter, longer = longer, shorter
	}
	if utf8.RuneCountInString(shorter) < minFuzzyTitleLen {
		return false
	}
	rank := fuzzy.RankMatchNormalizedFold(shorter, longer)
	return rank >= 0 && rank <= maxFuzzyDistance
}

// searchTerm picks the longest title word so the LIKE lookup catches names
// using dots, spaces or underscores as separators.
func (m *releaseMatcher) searchTerm(name string) string {
	title := normalizeTitle(m.parse(name).Title)
	if title == "" {
		title = normalizeTitle(name)
	}

	best := ""
	for _, word := range strings.Fields(title) {
		if utf8.RuneCountInString(word) > utf8.RuneCountInString(best) {
			best = word
		}
	}
	if utf8.RuneCountInString(best) < 3 {
		return ""
	}
	return best
}

func normalizeTitle(title string) string {
	fields := strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		switch r {
		case '.', '_', '-', ' ', '\t', '\'', ':', ',':
			return true
		}
		return false
	})
	return strings.Join(fields, " ")
}

// siblingPaths returns the paths of other broken references for the same
// release as ref, ref's own path first. Lookup failures only shrink the
// result.
func (s *Service) siblingPaths(ctx context.Context, ref *models.BrokenSymlink) []string {
	paths := []string{ref.Path}
	if s.siblings == nil {
		return paths
	}

	add := func(candidates []*models.BrokenSymlink, check bool) {
		for _, c := range candidates {
			if c == nil || c.Path == "" || slices.Contains(paths, c.Path) {
				continue
			}
			if check && !s.matcher.sameRelease(ref.Name, c.Name) {
				continue
			}
			paths = append(paths, c.Path)
		}
	}

	exact, err := s.siblings.ListByName(ctx, ref.Name)
	if err != nil {
		log.Warn().Err(err).Str("name", ref.Name).Msg("[REINJECT] sibling lookup failed")
	}
	add(exact, false)

	if term := s.matcher.searchTerm(ref.Name); term != "" {
		found, err := s.siblings.Search(ctx, term, siblingSearchLimit)
		if err != nil {
			log.Warn().Err(err).Str("term", term).Msg("[REINJECT] sibling search failed")
		}
		add(found, true)
	}

	return paths
}
