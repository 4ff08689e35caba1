// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package arr asks Sonarr and Radarr to rescan their libraries and search
// for what went missing after broken downloads were cleaned up.
package arr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/rdtm/internal/pkg/timeouts"
	"github.com/autobrr/rdtm/pkg/httphelpers"
	"github.com/autobrr/rdtm/pkg/redact"
)

type Kind string

const (
	KindSonarr Kind = "sonarr"
	KindRadarr Kind = "radarr"
)

// Commands returns the command names sent to an instance of kind k, in order.
func (k Kind) Commands() []string {
	switch k {
	case KindSonarr:
		return []string{"RescanSeries", "MissingEpisodeSearch"}
	case KindRadarr:
		return []string{"RescanMovie", "MissingMoviesSearch"}
	default:
		return nil
	}
}

type Instance struct {
	Kind   Kind
	Name   string
	URL    string
	APIKey string
}

func (i Instance) label() string {
	if i.Name != "" {
		return i.Name
	}
	return string(i.Kind)
}

type Config struct {
	Instances  []Instance
	Timeout    time.Duration
	HTTPClient *http.Client
	UserAgent  string
	Attempts   uint
	// CommandDelay separates consecutive commands to the same instance.
	CommandDelay time.Duration
}

type Client struct {
	instances    []Instance
	httpClient   *http.Client
	userAgent    string
	attempts     uint
	retryDelay   time.Duration
	commandDelay time.Duration
}

// StatusError is a non-2xx answer to a command request.
type StatusError struct {
	Instance   string
	Command    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Instance, e.Command, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Instance, e.Command, e.StatusCode, e.Body)
}

func (e *StatusError) retryable() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func NewClient(cfg Config) *Client {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeouts.Clamp(cfg.Timeout, timeouts.DefaultNotifyTimeout)}
	}

	ua := strings.TrimSpace(cfg.UserAgent)
	if ua == "" {
		ua = "rdtm"
	}

	attempts := cfg.Attempts
	if attempts == 0 {
		attempts = 3
	}

	instances := make([]Instance, 0, len(cfg.Instances))
	for _, inst := range cfg.Instances {
		inst.URL = strings.TrimRight(strings.TrimSpace(inst.URL), "/")
		inst.APIKey = strings.TrimSpace(inst.APIKey)
		if inst.URL == "" || inst.APIKey == "" || inst.Kind.Commands() == nil {
			continue
		}
		instances = append(instances, inst)
	}

	return &Client{
		instances:    instances,
		httpClient:   client,
		userAgent:    ua,
		attempts:     attempts,
		retryDelay:   time.Second,
		commandDelay: cfg.CommandDelay,
	}
}

// Configured reports whether at least one usable instance is set up.
func (c *Client) Configured() bool {
	return len(c.instances) > 0
}

// TriggerRescan sends every command to every configured instance and reports
// whether all of them were accepted. With nothing configured there is nothing
// to do and it returns true. Commands are idempotent on the *arr side.
func (c *Client) TriggerRescan(ctx context.Context) bool {
	ok := true
	for _, inst := range c.instances {
		for i, command := range inst.Kind.Commands() {
			if i > 0 && c.commandDelay > 0 {
				if err := sleepCtx(ctx, c.commandDelay); err != nil {
					return false
				}
			}

			if err := c.SendCommand(ctx, inst, command); err != nil {
				log.Error().Err(err).Str("instance", inst.label()).Str("command", command).Msg("[ARR] command failed")
				ok = false
				break
			}
			log.Info().Str("instance", inst.label()).Str("command", command).Msg("[ARR] command queued")
		}
	}
	return ok
}

type commandRequest struct {
	Name string `json:"name"`
}

// SendCommand posts one named command to inst.
func (c *Client) SendCommand(ctx context.Context, inst Instance, command string) error {
	payload, err := json.Marshal(commandRequest{Name: command})
	if err != nil {
		return errors.Wrap(err, "encode command")
	}
	target := httphelpers.JoinURL(inst.URL, "api/v3/command")

	return retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
			if err != nil {
				return retry.Unrecoverable(errors.Wrap(err, "build request"))
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("X-Api-Key", inst.APIKey)
			req.Header.Set("User-Agent", c.userAgent)

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return redact.URLError(err)
			}
			defer httphelpers.DrainAndClose(resp)

			if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
				return &StatusError{
					Instance:   inst.label(),
					Command:    command,
					StatusCode: resp.StatusCode,
					Body:       httphelpers.ReadErrorBody(resp),
				}
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isRetryable),
		retry.OnRetry(func(n uint, err error) {
			log.Debug().Err(err).Str("instance", inst.label()).Str("command", command).Uint("attempt", n+1).Msg("[ARR] retrying command")
		}),
	)
}

func isRetryable(err error) bool {
	if !retry.IsRecoverable(err) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.retryable()
	}
	return httphelpers.IsTransient(err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
