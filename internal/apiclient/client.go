// Package apiclient is the generic request layer for the external LLM API.
// It survives rate limits and transient failures with jittered exponential
// backoff, and signals credit exhaustion as a distinct, never-retried kind.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"ReplyScanner/internal/domain"
	"ReplyScanner/internal/ports"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultMaxAttempts = 4
	defaultBaseBackoff = 500 * time.Millisecond
	defaultMaxBackoff  = 15 * time.Second
)

// Config wires one client instance.
type Config struct {
	BaseURL     string
	APIKey      string
	Timeout     time.Duration
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// RateState tracks request health for one client instance. Mutated only by
// the client itself; reset on a successful response.
type RateState struct {
	InFlight            int
	ConsecutiveFailures int
	LastRetryAfter      time.Duration
}

// Client is a thin wrapper over net/http implementing the retry policy.
type Client struct {
	cfg   Config
	http  *http.Client
	log   *slog.Logger
	sleep func(ctx context.Context, d time.Duration) error

	mu   sync.Mutex
	rate RateState
}

var _ ports.APIClient = (*Client)(nil)

// New applies defaults and builds a client.
func New(cfg Config, log *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = defaultBaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		cfg:   cfg,
		http:  &http.Client{},
		log:   log,
		sleep: sleepCtx,
	}
}

// Rate returns a snapshot of the client's request health.
func (c *Client) Rate() RateState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rate
}

// Request executes one logical call: marshal payload, POST (or GET when
// the payload is nil and no method is set), decode into out. Auth and
// credit failures surface immediately; 429/5xx/network errors are retried
// with capped, jittered exponential backoff. After the cap the last error
// is surfaced rather than retried indefinitely.
func (c *Client) Request(ctx context.Context, payload, out any, opts ports.RequestOptions) error {
	method := opts.Method
	if method == "" {
		method = http.MethodPost
		if payload == nil {
			method = http.MethodGet
		}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.cfg.Timeout
	}

	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
	}

	endpoint := strings.TrimSuffix(c.cfg.BaseURL, "/") + opts.Endpoint

	c.mu.Lock()
	c.rate.InFlight++
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.rate.InFlight--
		c.mu.Unlock()
	}()

	var lastErr error
	rateLimited := false
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		err := c.attempt(ctx, method, endpoint, body, out, timeout)
		if err == nil {
			c.mu.Lock()
			c.rate = RateState{InFlight: c.rate.InFlight}
			c.mu.Unlock()
			return nil
		}

		var authErr *domain.AuthError
		var creditsErr *domain.InsufficientCreditsError
		if errors.As(err, &authErr) || errors.As(err, &creditsErr) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}

		var retryErr *retryableError
		if !errors.As(err, &retryErr) {
			return err
		}
		lastErr = retryErr.err
		rateLimited = retryErr.rateLimited

		c.mu.Lock()
		c.rate.ConsecutiveFailures++
		c.rate.LastRetryAfter = retryErr.retryAfter
		c.mu.Unlock()

		if attempt == c.cfg.MaxAttempts {
			break
		}

		delay := c.backoff(attempt)
		if retryErr.retryAfter > delay {
			delay = retryErr.retryAfter
		}
		c.log.Debug("retrying api request",
			"endpoint", opts.Endpoint, "attempt", attempt, "delay", delay, "error", lastErr)
		if err := c.sleep(ctx, delay); err != nil {
			return err
		}
	}

	if rateLimited {
		return &domain.RateLimitError{Attempts: c.cfg.MaxAttempts, Err: lastErr}
	}
	return fmt.Errorf("api request failed after %d attempts: %w", c.cfg.MaxAttempts, lastErr)
}

// retryableError wraps a failure the policy is allowed to retry.
type retryableError struct {
	err         error
	rateLimited bool
	retryAfter  time.Duration
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func (c *Client) attempt(ctx context.Context, method, endpoint string, body []byte, out any, timeout time.Duration) error {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(attemptCtx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// A timed-out attempt is treated identically to a network
		// failure for retry purposes.
		return &retryableError{err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &domain.AuthError{Status: resp.StatusCode}

	case resp.StatusCode == http.StatusPaymentRequired:
		return creditsError(resp.Body)

	case resp.StatusCode == http.StatusTooManyRequests:
		drainBody(resp.Body)
		return &retryableError{
			err:         fmt.Errorf("api returned %s", resp.Status),
			rateLimited: true,
			retryAfter:  parseRetryAfter(resp.Header.Get("Retry-After")),
		}

	case resp.StatusCode >= http.StatusInternalServerError:
		drainBody(resp.Body)
		return &retryableError{err: fmt.Errorf("api returned %s", resp.Status)}

	case resp.StatusCode >= http.StatusBadRequest:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if err := creditsFromPayload(raw); err != nil {
			return err
		}
		return fmt.Errorf("api error %s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}

	if out == nil {
		drainBody(resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// apiErrorBody is the error envelope used by OpenAI-compatible endpoints.
type apiErrorBody struct {
	Error struct {
		Code     string `json:"code"`
		Message  string `json:"message"`
		Metadata struct {
			RequestedTokens int64 `json:"requested_tokens"`
			AvailableTokens int64 `json:"available_tokens"`
		} `json:"metadata"`
	} `json:"error"`
}

func creditsError(body io.Reader) error {
	raw, _ := io.ReadAll(io.LimitReader(body, 4096))
	if err := creditsFromPayload(raw); err != nil {
		return err
	}
	return &domain.InsufficientCreditsError{}
}

// creditsFromPayload detects the insufficient-balance envelope regardless
// of HTTP status; some vendors signal it inside a 400.
func creditsFromPayload(raw []byte) error {
	var parsed apiErrorBody
	if json.Unmarshal(raw, &parsed) != nil {
		return nil
	}
	code := strings.ToLower(parsed.Error.Code)
	if code != "insufficient_credits" && code != "insufficient_quota" {
		return nil
	}
	return &domain.InsufficientCreditsError{
		RequestedTokens: parsed.Error.Metadata.RequestedTokens,
		AvailableTokens: parsed.Error.Metadata.AvailableTokens,
	}
}

// backoff computes the jittered exponential delay for the given attempt.
func (c *Client) backoff(attempt int) time.Duration {
	delay := float64(c.cfg.BaseBackoff) * math.Pow(2, float64(attempt-1))
	if max := float64(c.cfg.MaxBackoff); delay > max {
		delay = max
	}
	// Jitter in [0.75, 1.25) of the computed delay.
	delay *= 0.75 + rand.Float64()*0.5
	return time.Duration(delay)
}

// parseRetryAfter accepts both delta-seconds and HTTP-date forms.
func parseRetryAfter(hint string) time.Duration {
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return 0
	}
	if secs, err := strconv.Atoi(hint); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(hint); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func drainBody(r io.Reader) {
	_, _ = io.Copy(io.Discard, io.LimitReader(r, 4096))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
