package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/Sternrassler/graph-client/internal/testutil"
	"github.com/Sternrassler/graph-client/pkg/apierr"
)

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	if config.InitialBackoff != 0 {
		t.Errorf("InitialBackoff = %v, want 0 (immediate)", config.InitialBackoff)
	}
	if config.MaxBackoff != 30*time.Second {
		t.Errorf("MaxBackoff = %v, want 30s", config.MaxBackoff)
	}
	if config.BackoffMultiplier != 2.0 {
		t.Errorf("BackoffMultiplier = %v, want 2.0", config.BackoffMultiplier)
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "transport", err: apierr.Transport(io.EOF), expected: true},
		{name: "remote", err: apierr.Remote("boom", 1), expected: true},
		{name: "auth", err: &apierr.Error{Kind: apierr.KindAuth}, expected: true},
		{name: "usage", err: apierr.Usage("bad"), expected: false},
		{name: "token", err: apierr.Token("bad"), expected: false},
		{name: "foreign", err: errors.New("boom"), expected: false},
		{
			name:     "app usage block",
			err:      &apierr.Error{Kind: apierr.KindRemote, Code: 4, IsTransient: true, Err: ErrAppUsageLimit},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, got := retryable(tt.err); got != tt.expected {
				t.Errorf("retryable(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestRetry_BudgetExhausted(t *testing.T) {
	tests := []struct {
		name             string
		opts             []CallOption
		expectedRequests int
	}{
		{name: "default budget", expectedRequests: 4},
		{name: "explicit budget of three", opts: []CallOption{WithRetries(3)}, expectedRequests: 4},
		{name: "one retry", opts: []CallOption{WithRetries(1)}, expectedRequests: 2},
		{name: "no retries", opts: []CallOption{WithRetries(0)}, expectedRequests: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockGraph()
			defer mock.Close()
			mock.SetResponse("/me", testutil.NewServerErrorResponse())

			c := newTestClient(t, mock, nil)
			_, err := c.Get(context.Background(), "me", nil, tt.opts...)

			if mock.GetRequestCount() != tt.expectedRequests {
				t.Errorf("request count = %d, want %d", mock.GetRequestCount(), tt.expectedRequests)
			}

			var apiErr *apierr.Error
			if !errors.As(err, &apiErr) {
				t.Fatalf("error = %v, want the last *apierr.Error unchanged", err)
			}
			if apiErr.Kind != apierr.KindRemote || apiErr.Code != http.StatusInternalServerError {
				t.Errorf("error = %+v, want remote internal error", apiErr)
			}
		})
	}
}

func TestRetry_SuccessAfterRetry(t *testing.T) {
	mock := testutil.NewMockGraph()
	defer mock.Close()
	mock.SetSequence("/me",
		testutil.NewServerErrorResponse(),
		testutil.NewErrorResponse(http.StatusBadRequest, "OAuthException", "An unknown error has occurred.", 1),
		testutil.NewJSONResponse(`{"id":"1"}`),
	)

	c := newTestClient(t, mock, nil)
	resp, err := c.Get(context.Background(), "me", nil)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if mock.GetRequestCount() != 3 {
		t.Errorf("request count = %d, want 3", mock.GetRequestCount())
	}
	if resp.Body.(map[string]any)["id"] != "1" {
		t.Errorf("Body = %#v", resp.Body)
	}
}

func TestRetry_UsageErrorNotRetried(t *testing.T) {
	mock := testutil.NewMockGraph()
	defer mock.Close()

	c := newTestClient(t, mock, nil)

	_, err := c.Get(context.Background(), "me", Params{"access_token": "other"})
	if !apierr.IsUsage(err) {
		t.Fatalf("Get() error = %v, want usage error", err)
	}
	if mock.GetRequestCount() != 0 {
		t.Errorf("request count = %d, want 0", mock.GetRequestCount())
	}
}

func TestRetry_ContextCancelledDuringBackoff(t *testing.T) {
	mock := testutil.NewMockGraph()
	defer mock.Close()
	mock.SetResponse("/me", testutil.NewServerErrorResponse())

	c := newTestClient(t, mock, func(cfg *Config) {
		cfg.Retry = RetryConfig{InitialBackoff: time.Minute, MaxBackoff: time.Minute, BackoffMultiplier: 2}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Get(ctx, "me", nil)
	elapsed := time.Since(start)

	if !apierr.IsRemote(err) {
		t.Errorf("Get() error = %v, want the last remote error", err)
	}
	if elapsed > 5*time.Second {
		t.Errorf("Get() took %v, backoff should stop on cancellation", elapsed)
	}
	if mock.GetRequestCount() != 1 {
		t.Errorf("request count = %d, want 1", mock.GetRequestCount())
	}
}

func TestRetry_ExponentialBackoff(t *testing.T) {
	mock := testutil.NewMockGraph()
	defer mock.Close()

	var attempts []time.Time
	mock.SetHandler("/me", func(w http.ResponseWriter, r *http.Request) {
		attempts = append(attempts, time.Now())
		testutil.NewServerErrorResponse().Write(w, r)
	})

	c := newTestClient(t, mock, func(cfg *Config) {
		cfg.Retry = RetryConfig{InitialBackoff: 20 * time.Millisecond, MaxBackoff: time.Second, BackoffMultiplier: 2}
	})

	if _, err := c.Get(context.Background(), "me", nil, WithRetries(2)); err == nil {
		t.Fatal("Get() should fail")
	}

	if len(attempts) != 3 {
		t.Fatalf("attempts = %d, want 3", len(attempts))
	}

	// Jitter is ±20%, so the waits are at least 16ms and 32ms.
	first := attempts[1].Sub(attempts[0])
	second := attempts[2].Sub(attempts[1])
	if first < 16*time.Millisecond {
		t.Errorf("first backoff = %v, want >= 16ms", first)
	}
	if second < 32*time.Millisecond {
		t.Errorf("second backoff = %v, want >= 32ms", second)
	}
}
