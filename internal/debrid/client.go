// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package debrid is a small Real-Debrid REST client covering what the
// reinjection loops need: submitting magnets, deleting torrents and checking
// the account.
package debrid

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/rdtm/internal/pkg/timeouts"
	"github.com/autobrr/rdtm/pkg/httphelpers"
	"github.com/autobrr/rdtm/pkg/redact"
)

const (
	DefaultBaseURL   = "https://api.real-debrid.com/rest/1.0/"
	defaultUserAgent = "rdtm"
	defaultAttempts  = 3
)

// Real-Debrid error codes the loops react to.
const (
	CodeSlowDown         = 5
	CodeUnknownResource  = 7
	CodeBadToken         = 8
	CodePermissionDenied = 9
	CodeTooManyRequests  = 34
	CodeInfringingFile   = 35
)

var ErrMissingToken = errors.New("real-debrid api token is not configured")

type Config struct {
	BaseURL    string
	APIToken   string
	Timeout    time.Duration
	HTTPClient *http.Client
	UserAgent  string
	// Attempts bounds retries of connection-level failures. Remote error
	// responses are never retried here.
	Attempts uint
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	userAgent  string
	attempts   uint
	retryDelay time.Duration
}

func NewClient(cfg Config) *Client {
	timeout := timeouts.Clamp(cfg.Timeout, timeouts.DefaultRemoteTimeout)

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	ua := strings.TrimSpace(cfg.UserAgent)
	if ua == "" {
		ua = defaultUserAgent
	}

	attempts := cfg.Attempts
	if attempts == 0 {
		attempts = defaultAttempts
	}

	return &Client{
		baseURL:    baseURL,
		token:      strings.TrimSpace(cfg.APIToken),
		httpClient: client,
		userAgent:  ua,
		attempts:   attempts,
		retryDelay: 250 * time.Millisecond,
	}
}

// APIError is a non-2xx answer from Real-Debrid.
type APIError struct {
	Method     string
	Endpoint   string
	StatusCode int
	Code       int
	Message    string
	RetryAfter time.Duration
}

// Raw is the remote error text as the classifier sees it.
func (e *APIError) Raw() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
		if msg == "" {
			msg = "HTTP " + strconv.Itoa(e.StatusCode)
		}
	}
	if e.Code != 0 {
		return fmt.Sprintf("%s (code %d)", msg, e.Code)
	}
	if e.StatusCode == http.StatusTooManyRequests {
		return msg + " (HTTP 429)"
	}
	return msg
}

func (e *APIError) Error() string {
	return fmt.Sprintf("real-debrid %s %s: status %d: %s", e.Method, e.Endpoint, e.StatusCode, e.Raw())
}

func (e *APIError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.Code == CodeSlowDown || e.Code == CodeTooManyRequests
}

func (e *APIError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound || e.Code == CodeUnknownResource
}

func (e *APIError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden ||
		e.Code == CodeBadToken || e.Code == CodePermissionDenied
}

// SubmitResult is the outcome of addMagnet. A remote refusal is reported
// here with OK false; only transport failures surface as errors.
type SubmitResult struct {
	OK          bool
	RemoteID    string
	RawError    string
	HTTPStatus  int
	RateLimited bool
	RetryAfter  time.Duration
}

type DeleteResult struct {
	OK             bool
	AlreadyDeleted bool
	RawError       string
	HTTPStatus     int
	RateLimited    bool
	RetryAfter     time.Duration
}

type User struct {
	ID         int       `json:"id"`
	Username   string    `json:"username"`
	Email      string    `json:"email"`
	Points     int       `json:"points"`
	Type       string    `json:"type"`
	Premium    int64     `json:"premium"`
	Expiration time.Time `json:"expiration"`
}

// PremiumActive reports whether the account has premium time left at now.
func (u *User) PremiumActive(now time.Time) bool {
	if u == nil {
		return false
	}
	if !u.Expiration.IsZero() {
		return u.Expiration.After(now)
	}
	return u.Premium > 0
}

type addMagnetResponse struct {
	ID  string `json:"id"`
	URI string `json:"uri"`
}

type errorResponse struct {
	Error        string `json:"error"`
	ErrorCode    int    `json:"error_code"`
	ErrorDetails string `json:"error_details"`
}

// Submit adds the magnet link to the account.
func (c *Client) Submit(ctx context.Context, payload string) (SubmitResult, error) {
	form := url.Values{}
	form.Set("magnet", payload)

	var out addMagnetResponse
	status, err := c.do(ctx, http.MethodPost, "torrents/addMagnet", form, &out)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return SubmitResult{
				RawError:    apiErr.Raw(),
				HTTPStatus:  apiErr.StatusCode,
				RateLimited: apiErr.RateLimited(),
				RetryAfter:  apiErr.RetryAfter,
			}, nil
		}
		return SubmitResult{}, err
	}

	if strings.TrimSpace(out.ID) == "" {
		return SubmitResult{HTTPStatus: status, RawError: "missing torrent id in addMagnet response"}, nil
	}

	return SubmitResult{OK: true, RemoteID: out.ID, HTTPStatus: status}, nil
}

// Delete removes a torrent. A torrent that no longer exists counts as deleted.
func (c *Client) Delete(ctx context.Context, remoteID string) (DeleteResult, error) {
	remoteID = strings.TrimSpace(remoteID)
	if remoteID == "" {
		return DeleteResult{OK: true, AlreadyDeleted: true}, nil
	}

	status, err := c.do(ctx, http.MethodDelete, "torrents/delete/"+url.PathEscape(remoteID), nil, nil)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			if apiErr.NotFound() {
				return DeleteResult{OK: true, AlreadyDeleted: true, HTTPStatus: apiErr.StatusCode}, nil
			}
			return DeleteResult{
				RawError:    apiErr.Raw(),
				HTTPStatus:  apiErr.StatusCode,
				RateLimited: apiErr.RateLimited(),
				RetryAfter:  apiErr.RetryAfter,
			}, nil
		}
		return DeleteResult{}, err
	}

	return DeleteResult{OK: true, HTTPStatus: status}, nil
}

// User fetches the account behind the token.
func (c *Client) User(ctx context.Context) (*User, error) {
	var user User
	if _, err := c.do(ctx, http.MethodGet, "user", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, form url.Values, out any) (int, error) {
	if c.token == "" {
		return 0, ErrMissingToken
	}

	target := httphelpers.JoinURL(c.baseURL, endpoint)
	var status int

	err := retry.Do(
		func() error {
			var body io.Reader
			if form != nil {
				body = strings.NewReader(form.Encode())
			}

			req, err := http.NewRequestWithContext(ctx, method, target, body)
			if err != nil {
				return retry.Unrecoverable(errors.Wrap(err, "build request"))
			}
			req.Header.Set("Authorization", "Bearer "+c.token)
			req.Header.Set("User-Agent", c.userAgent)
			req.Header.Set("Accept", "application/json")
			if form != nil {
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			}

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return redact.URLError(err)
			}
			defer httphelpers.DrainAndClose(resp)

			status = resp.StatusCode
			if status < 200 || status > 299 {
				return retry.Unrecoverable(decodeAPIError(method, endpoint, resp))
			}

			if out == nil || status == http.StatusNoContent {
				return nil
			}
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return retry.Unrecoverable(errors.Wrapf(err, "decode %s %s response", method, endpoint))
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
			log.Debug().Err(err).Str("endpoint", endpoint).Uint("attempt", n+1).Msg("[DEBRID] retrying request")
		}),
	)

	return status, err
}

func isRetryable(err error) bool {
	return retry.IsRecoverable(err) && httphelpers.IsTransient(err)
}

func decodeAPIError(method, endpoint string, resp *http.Response) *APIError {
	apiErr := &APIError{
		Method:     method,
		Endpoint:   endpoint,
		StatusCode: resp.StatusCode,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}

	raw := httphelpers.ReadErrorBody(resp)
	var body errorResponse
	if raw != "" && json.Unmarshal([]byte(raw), &body) == nil && body.Error != "" {
		apiErr.Message = body.Error
		apiErr.Code = body.ErrorCode
		return apiErr
	}

	if raw != "" && len(raw) < 200 && !strings.HasPrefix(raw, "<") {
		apiErr.Message = raw
	}
	return apiErr
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
