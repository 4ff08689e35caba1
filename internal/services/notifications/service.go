// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package notifications delivers operator alerts to shoutrrr URLs.
package notifications

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/nicholas-fedor/shoutrrr/pkg/router"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"
	"github.com/rs/zerolog"

	"github.com/autobrr/rdtm/pkg/redact"
)

const (
	defaultQueueSize = 100
	defaultWorkers   = 1
)

type Notifier interface {
	Notify(event Event)
}

type Event struct {
	Type         EventType
	Title        string
	Message      string
	TorrentName  string
	TorrentHash  string
	FailureKind  string
	RemoteID     string
	LocalPaths   int
	RetryCount   int
	DryRun       bool
	ErrorMessage string
}

type Config struct {
	URLs []string
	// EventTypes limits delivery to the listed events. Empty means all.
	EventTypes []string
	QueueSize  int
}

type Service struct {
	urls       []string
	eventTypes []string
	logger     zerolog.Logger
	queue      chan Event
	startOnce  sync.Once
	sendFn     func(ctx context.Context, url, title, message string) error
}

// NewService returns nil when no URL is configured; a nil *Service accepts
// and drops every event.
func NewService(cfg Config, logger zerolog.Logger) (*Service, error) {
	urls := make([]string, 0, len(cfg.URLs))
	for _, raw := range cfg.URLs {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		if err := ValidateURL(trimmed); err != nil {
			return nil, fmt.Errorf("invalid notification url %s: %w", redact.Origin(trimmed), err)
		}
		urls = append(urls, trimmed)
	}
	if len(urls) == 0 {
		return nil, nil
	}

	eventTypes, err := NormalizeEventTypes(cfg.EventTypes)
	if err != nil {
		return nil, err
	}

	size := cfg.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}

	s := &Service{
		urls:       urls,
		eventTypes: eventTypes,
		logger:     logger,
		queue:      make(chan Event, size),
	}
	s.sendFn = s.send
	return s, nil
}

func ValidateURL(rawURL string) error {
	_, err := router.New(nil, rawURL)
	return err
}

func (s *Service) Start(ctx context.Context) {
	if s == nil {
		return
	}

	s.startOnce.Do(func() {
		for range defaultWorkers {
			go s.worker(ctx)
		}
	})
}

// Notify queues event for delivery. A full queue drops the event.
func (s *Service) Notify(event Event) {
	if s == nil {
		return
	}

	select {
	case s.queue <- event:
	default:
		s.logger.Warn().Str("event", string(event.Type)).Msg("notifications: queue full, dropping event")
	}
}

func (s *Service) SendTest(ctx context.Context, title, message string) error {
	if s == nil {
		return errors.New("no notification urls configured")
	}

	var errs []error
	for _, target := range s.urls {
		if err := s.sendFn(ctx, target, title, message); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", redact.Origin(target), err))
		}
	}
	return errors.Join(errs...)
}

func (s *Service) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-s.queue:
			s.dispatch(ctx, event)
		}
	}
}

func (s *Service) dispatch(ctx context.Context, event Event) {
	if !allowsEvent(s.eventTypes, event.Type) {
		return
	}

	title, message := formatEvent(event)
	if strings.TrimSpace(message) == "" {
		return
	}

	for _, target := range s.urls {
		if err := s.sendFn(ctx, target, title, message); err != nil {
			s.logger.Error().Err(err).Str("target", redact.Origin(target)).Str("event", string(event.Type)).Msg("notifications: send failed")
		}
	}
}

func (s *Service) send(_ context.Context, target, title, message string) error {
	sender, err := router.New(nil, target)
	if err != nil {
		return err
	}

	params := types.Params{}
	if trimmed := strings.TrimSpace(title); trimmed != "" {
		params.SetTitle(truncateMessage(trimmed, maxTitleLength))
	}

	results := sender.Send(truncateMessage(message, maxMessageLength), &params)
	var errs []error
	for _, sendErr := range results {
		if sendErr != nil {
			errs = append(errs, sendErr)
		}
	}
	return errors.Join(errs...)
}

func formatEvent(event Event) (string, string) {
	switch event.Type {
	case EventInfringingDetected:
		return formatCustomEvent("Infringing content detected"+formatHashSuffix(event.TorrentHash), event.Title, event.Message, []string{
			formatLine("Torrent", event.TorrentName),
			formatLine("Reason", event.FailureKind),
			formatLine("Remote ID", event.RemoteID),
			formatCount("Local symlinks", event.LocalPaths),
			formatDryRun(event.DryRun),
		})
	case EventCleanupCompleted:
		return formatCustomEvent("Cleanup completed"+formatHashSuffix(event.TorrentHash), event.Title, event.Message, []string{
			formatLine("Torrent", event.TorrentName),
			formatLine("Reason", event.FailureKind),
			formatCount("Local symlinks", event.LocalPaths),
			formatCount("Retries", event.RetryCount),
			formatDryRun(event.DryRun),
		})
	case EventCleanupFailed:
		return formatCustomEvent("Cleanup failed"+formatHashSuffix(event.TorrentHash), event.Title, event.Message, []string{
			formatLine("Torrent", event.TorrentName),
			formatLine("Reason", event.FailureKind),
			formatCount("Retries", event.RetryCount),
			formatLine("Error", formatErrorMessage(event.ErrorMessage)),
		})
	default:
		return formatCustomEvent("rdtm", event.Title, event.Message, nil)
	}
}

func allowsEvent(eventTypes []string, eventType EventType) bool {
	if len(eventTypes) == 0 {
		return true
	}
	return slices.Contains(eventTypes, string(eventType))
}

func formatHashSuffix(hash string) string {
	trimmed := strings.TrimSpace(hash)
	if len(trimmed) < 8 {
		return ""
	}
	return fmt.Sprintf(" [%s]", trimmed[:8])
}

func formatLine(label, value string) string {
	trimmedLabel := strings.TrimSpace(label)
	trimmedValue := strings.TrimSpace(value)
	if trimmedLabel == "" || trimmedValue == "" {
		return ""
	}
	return fmt.Sprintf("%s: %s", trimmedLabel, trimmedValue)
}

func formatCount(label string, n int) string {
	if n <= 0 {
		return ""
	}
	return formatLine(label, fmt.Sprintf("%d", n))
}

func formatDryRun(dryRun bool) string {
	if !dryRun {
		return ""
	}
	return "Mode: dry-run"
}

func buildMessage(lines []string) string {
	payload := make([]string, 0, len(lines))
	for _, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			payload = append(payload, trimmed)
		}
	}
	return strings.Join(payload, "\n")
}

// formatCustomEvent lets a caller-supplied title or message replace the
// generated ones.
func formatCustomEvent(defaultTitle, overrideTitle, overrideMessage string, lines []string) (string, string) {
	title := defaultTitle
	if strings.TrimSpace(overrideTitle) != "" {
		title = strings.TrimSpace(overrideTitle)
	}
	if strings.TrimSpace(overrideMessage) != "" {
		return title, buildMessage(strings.Split(overrideMessage, "\n"))
	}
	return title, buildMessage(lines)
}

const (
	maxMessageLength = 420
	maxTitleLength   = 80
)

func truncateMessage(value string, limit int) string {
	if limit <= 0 {
		return value
	}
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	if utf8.RuneCountInString(trimmed) <= limit {
		return trimmed
	}
	runes := []rune(trimmed)
	if limit <= 1 {
		return string(runes[:limit])
	}
	return strings.TrimSpace(string(runes[:limit-1])) + "…"
}

func formatErrorMessage(message string) string {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return "Unknown error"
	}
	return trimmed
}
