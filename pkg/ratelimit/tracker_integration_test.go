//go:build integration

package ratelimit

import (
	"context"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a Redis container and returns a client
func setupRedis(t *testing.T) (*redis.Client, func()) {
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

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: endpoint,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}

	return client, cleanup
}

func usageHeader(value string) http.Header {
	headers := http.Header{}
	headers.Set(HeaderAppUsage, value)
	return headers
}

func TestTracker_Integration_GetState(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	tracker := NewTracker(redisClient, logger)
	ctx := context.Background()

	// Empty Redis reports no usage
	usage, err := tracker.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if usage.Max() != 0 {
		t.Errorf("default usage Max() = %d, want 0", usage.Max())
	}

	if err := tracker.UpdateFromHeaders(ctx, usageHeader(`{"call_count":42,"total_time":7,"total_cputime":3}`)); err != nil {
		t.Fatalf("UpdateFromHeaders() error = %v", err)
	}

	usage, err = tracker.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() after update error = %v", err)
	}
	if usage.CallCount != 42 || usage.TotalTime != 7 || usage.TotalCPUTime != 3 {
		t.Errorf("usage = %+v, want 42/7/3", usage)
	}
	if usage.IsStale(time.Minute) {
		t.Errorf("LastUpdate = %v, want fresh", usage.LastUpdate)
	}

	ttl, err := redisClient.TTL(ctx, RedisKeyCallCount).Result()
	if err != nil {
		t.Fatalf("TTL() error = %v", err)
	}
	if ttl <= 0 || ttl > StateTTL {
		t.Errorf("TTL = %v, want within (0, %v]", ttl, StateTTL)
	}
}

func TestTracker_Integration_ShouldAllowRequest(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	tracker := NewTracker(redisClient, logger)
	tracker.SetThrottleDelay(50 * time.Millisecond)
	ctx := context.Background()

	tests := []struct {
		name          string
		header        string
		expectAllowed bool
		expectDelay   bool
	}{
		{
			name:          "healthy",
			header:        `{"call_count":10,"total_time":10,"total_cputime":10}`,
			expectAllowed: true,
		},
		{
			name:          "throttled",
			header:        `{"call_count":10,"total_time":90,"total_cputime":10}`,
			expectAllowed: true,
			expectDelay:   true,
		},
		{
			name:          "blocked",
			header:        `{"call_count":100,"total_time":10,"total_cputime":10}`,
			expectAllowed: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tracker.UpdateFromHeaders(ctx, usageHeader(tt.header)); err != nil {
				t.Fatalf("UpdateFromHeaders() error = %v", err)
			}

			start := time.Now()
			allowed, err := tracker.ShouldAllowRequest(ctx)
			elapsed := time.Since(start)
			if err != nil {
				t.Fatalf("ShouldAllowRequest() error = %v", err)
			}

			if allowed != tt.expectAllowed {
				t.Errorf("ShouldAllowRequest() = %v, want %v", allowed, tt.expectAllowed)
			}
			if tt.expectDelay && elapsed < 50*time.Millisecond {
				t.Errorf("throttled request returned after %v", elapsed)
			}
		})
	}
}
