package apiclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ReplyScanner/internal/domain"
	"ReplyScanner/internal/ports"
)

// newTestClient points a client at the server with sleeps recorded instead
// of performed.
func newTestClient(srv *httptest.Server, delays *[]time.Duration) *Client {
	c := New(Config{BaseURL: srv.URL, APIKey: "test-key", MaxAttempts: 4}, nil)
	c.sleep = func(_ context.Context, d time.Duration) error {
		if delays != nil {
			*delays = append(*delays, d)
		}
		return nil
	}
	return c
}

func TestRetriesRateLimitThenSucceeds(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) <= 2 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"ok":true}`)
	}))
	t.Cleanup(srv.Close)

	var delays []time.Duration
	c := newTestClient(srv, &delays)

	var out struct {
		OK bool `json:"ok"`
	}
	err := c.Request(context.Background(), map[string]string{"q": "x"}, &out, ports.RequestOptions{Endpoint: "/score"})
	require.NoError(t, err)
	require.True(t, out.OK)
	require.Equal(t, int64(3), hits.Load())

	// The Retry-After hint is a floor on the computed backoff.
	require.Len(t, delays, 2)
	for _, d := range delays {
		require.GreaterOrEqual(t, d, 2*time.Second)
	}
}

func TestExhaustedRetriesSurfaceRateLimitError(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(srv, nil)
	err := c.Request(context.Background(), map[string]string{}, nil, ports.RequestOptions{Endpoint: "/score"})

	var rlErr *domain.RateLimitError
	require.True(t, errors.As(err, &rlErr))
	require.Equal(t, 4, rlErr.Attempts)
	require.Equal(t, int64(4), hits.Load())
}

func TestAuthFailureIsNotRetried(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(srv, nil)
	err := c.Request(context.Background(), nil, nil, ports.RequestOptions{Endpoint: "/models"})

	var authErr *domain.AuthError
	require.True(t, errors.As(err, &authErr))
	require.Equal(t, http.StatusUnauthorized, authErr.Status)
	require.Equal(t, int64(1), hits.Load())
}

func TestCreditExhaustionCarriesTokenAmounts(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusPaymentRequired)
		fmt.Fprint(w, `{"error":{"code":"insufficient_credits","message":"balance too low","metadata":{"requested_tokens":4200,"available_tokens":100}}}`)
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(srv, nil)
	err := c.Request(context.Background(), map[string]string{}, nil, ports.RequestOptions{Endpoint: "/score"})

	var creditsErr *domain.InsufficientCreditsError
	require.True(t, errors.As(err, &creditsErr))
	require.Equal(t, int64(4200), creditsErr.RequestedTokens)
	require.Equal(t, int64(100), creditsErr.AvailableTokens)
	require.Equal(t, int64(1), hits.Load())
}

func TestCreditEnvelopeInsideBadRequest(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"code":"insufficient_quota","message":"quota exceeded"}}`)
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(srv, nil)
	err := c.Request(context.Background(), map[string]string{}, nil, ports.RequestOptions{Endpoint: "/score"})

	var creditsErr *domain.InsufficientCreditsError
	require.True(t, errors.As(err, &creditsErr))
}

func TestServerErrorRetriedThenRateStateResets(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{}`)
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(srv, nil)
	err := c.Request(context.Background(), map[string]string{}, nil, ports.RequestOptions{Endpoint: "/score"})
	require.NoError(t, err)
	require.Equal(t, int64(2), hits.Load())

	state := c.Rate()
	require.Zero(t, state.ConsecutiveFailures)
	require.Zero(t, state.LastRetryAfter)
	require.Zero(t, state.InFlight)
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	require.Equal(t, 7*time.Second, parseRetryAfter("7"))
	require.Zero(t, parseRetryAfter(""))
	require.Zero(t, parseRetryAfter("not-a-hint"))

	// HTTP-date form resolves to the remaining wait.
	at := time.Now().Add(90 * time.Second).UTC().Format(http.TimeFormat)
	d := parseRetryAfter(at)
	require.Greater(t, d, 80*time.Second)
	require.LessOrEqual(t, d, 90*time.Second)

	// Dates in the past mean no extra wait.
	past := time.Now().Add(-time.Minute).UTC().Format(http.TimeFormat)
	require.Zero(t, parseRetryAfter(past))
}

func TestBackoffStaysWithinJitterBand(t *testing.T) {
	t.Parallel()

	c := New(Config{BaseURL: "http://unused", BaseBackoff: time.Second, MaxBackoff: 4 * time.Second}, nil)
	for attempt := 1; attempt <= 5; attempt++ {
		d := c.backoff(attempt)
		require.GreaterOrEqual(t, d, time.Duration(0.75*float64(time.Second)))
		require.LessOrEqual(t, d, time.Duration(1.25*float64(4*time.Second)))
	}
}
