//go:build integration

package client

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/Sternrassler/graph-client/internal/testutil"
	"github.com/Sternrassler/graph-client/pkg/apierr"
	"github.com/Sternrassler/graph-client/pkg/ratelimit"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedisContainer creates a Redis container for integration testing.
func setupRedisContainer(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := redisContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := redisContainer.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}

	return client, cleanup
}

func TestIntegration_FullRequestFlow(t *testing.T) {
	redisClient, cleanup := setupRedisContainer(t)
	defer cleanup()

	mock := testutil.NewMockGraph()
	defer mock.Close()
	mock.SetResponse("/me", testutil.NewAppUsageResponse(`{"id":"1","name":"Alice","balance":12.34}`, 12, 5, 3))
	mock.SetHandler("/", testutil.NewBatchEchoHandler())

	cfg := DefaultConfig("user-token")
	cfg.BaseURL = mock.URL()
	cfg.AppSecret = "app-secret"
	cfg.Redis = redisClient

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.Close()

	ctx := context.Background()

	resp, err := c.Get(ctx, "me", Params{"fields": []string{"id", "name", "balance"}})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if resp.Body.(map[string]any)["name"] != "Alice" {
		t.Errorf("Body = %#v", resp.Body)
	}

	usage, err := ratelimit.NewTracker(redisClient, c.logger).GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if usage.CallCount != 12 || usage.TotalTime != 5 || usage.TotalCPUTime != 3 {
		t.Errorf("stored usage = %+v, want 12/5/3", usage)
	}

	results, err := c.BatchAll(ctx, objectRequests(75))
	if err != nil {
		t.Fatalf("BatchAll() error = %v", err)
	}
	if len(results) != 75 {
		t.Errorf("got %d batch results, want 75", len(results))
	}
}

func TestIntegration_SharedUsageGate(t *testing.T) {
	redisClient, cleanup := setupRedisContainer(t)
	defer cleanup()

	mock := testutil.NewMockGraph()
	defer mock.Close()
	mock.SetSequence("/me",
		testutil.NewAppUsageResponse(`{"id":"1"}`, 90, 10, 10),
		testutil.NewAppUsageResponse(`{"id":"1"}`, 100, 10, 10),
	)

	newClient := func() *Client {
		cfg := DefaultConfig("user-token")
		cfg.BaseURL = mock.URL()
		cfg.Redis = redisClient
		cfg.MaxRetries = 0
		c, err := New(cfg)
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		return c
	}

	// Two clients share the usage reported to either of them.
	first, second := newClient(), newClient()
	ctx := context.Background()

	if _, err := first.Get(ctx, "me", nil); err != nil {
		t.Fatalf("first Get() error = %v", err)
	}

	start := time.Now()
	if _, err := second.Get(ctx, "me", nil); err != nil {
		t.Fatalf("throttled Get() error = %v", err)
	}
	if time.Since(start) < ratelimit.DefaultThrottleDelay {
		t.Error("request at 90% usage should have been throttled")
	}

	_, err := first.Get(ctx, "me", nil)
	if !apierr.IsRemote(err) {
		t.Fatalf("Get() at 100%% usage error = %v, want remote error", err)
	}
	if mock.GetRequestCount() != 2 {
		t.Errorf("request count = %d, want 2", mock.GetRequestCount())
	}
}

func TestIntegration_ErrorClassificationMetrics(t *testing.T) {
	mock := testutil.NewMockGraph()
	defer mock.Close()
	mock.SetResponse("/auth", testutil.NewErrorResponse(http.StatusBadRequest, "OAuthException", "Session expired", 190))
	mock.SetResponse("/server", testutil.NewServerErrorResponse())

	cfg := DefaultConfig("user-token")
	cfg.BaseURL = mock.URL()
	cfg.MaxRetries = 0

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	tests := []struct {
		path string
		kind apierr.Kind
	}{
		{path: "auth", kind: apierr.KindAuth},
		{path: "server", kind: apierr.KindRemote},
		{path: "unknown", kind: apierr.KindRemote},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			_, err := c.Get(context.Background(), tt.path, nil)
			if apierr.KindOf(err) != tt.kind {
				t.Errorf("KindOf() = %q, want %q", apierr.KindOf(err), tt.kind)
			}
		})
	}
}
