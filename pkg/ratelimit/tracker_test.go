package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func TestParseAppUsage(t *testing.T) {
	tests := []struct {
		name        string
		header      string
		expected    AppUsage
		shouldError bool
	}{
		{
			name:     "all fields",
			header:   `{"call_count":28,"total_time":25,"total_cputime":12}`,
			expected: AppUsage{CallCount: 28, TotalTime: 25, TotalCPUTime: 12},
		},
		{
			name:     "spaced",
			header:   `{ "call_count" : 100, "total_time" : 0, "total_cputime" : 0 }`,
			expected: AppUsage{CallCount: 100},
		},
		{
			name:     "missing fields are zero",
			header:   `{"call_count":3}`,
			expected: AppUsage{CallCount: 3},
		},
		{
			name:        "not json",
			header:      "call_count=3",
			shouldError: true,
		},
		{
			name:        "not an object",
			header:      "[28,25,12]",
			shouldError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			usage, err := ParseAppUsage(tt.header)
			if tt.shouldError {
				if !errors.Is(err, ErrInvalidAppUsage) {
					t.Errorf("ParseAppUsage() error = %v, want %v", err, ErrInvalidAppUsage)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAppUsage() error = %v", err)
			}

			if usage.CallCount != tt.expected.CallCount ||
				usage.TotalTime != tt.expected.TotalTime ||
				usage.TotalCPUTime != tt.expected.TotalCPUTime {
				t.Errorf("ParseAppUsage() = %+v, want %+v", usage, tt.expected)
			}
			if usage.LastUpdate.IsZero() {
				t.Error("LastUpdate should be set")
			}
		})
	}
}

func TestUpdateFromHeaders_WithoutRedisAccess(t *testing.T) {
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	tracker := NewTracker(nil, logger)

	tests := []struct {
		name        string
		header      string
		shouldError bool
	}{
		{
			name:        "missing header",
			header:      "",
			shouldError: false, // Should return nil for missing headers
		},
		{
			name:        "invalid header",
			header:      "garbage",
			shouldError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := http.Header{}
			if tt.header != "" {
				headers.Set(HeaderAppUsage, tt.header)
			}

			err := tracker.UpdateFromHeaders(context.Background(), headers)

			if tt.shouldError && err == nil {
				t.Error("Expected error but got nil")
			}
			if !tt.shouldError && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

// localRedis connects to a Redis on localhost or skips the test.
func localRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("Redis not available: %v", err)
	}

	t.Cleanup(func() {
		client.Del(context.Background(), RedisKeyCallCount, RedisKeyTotalTime, RedisKeyTotalCPUTime, RedisKeyLastUpdate)
		client.Close()
	})
	return client
}

func TestTracker_ThrottleHonoursContext(t *testing.T) {
	redisClient := localRedis(t)
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	tracker := NewTracker(redisClient, logger)
	tracker.SetThrottleDelay(time.Minute)

	headers := http.Header{}
	headers.Set(HeaderAppUsage, `{"call_count":85,"total_time":10,"total_cputime":10}`)
	if err := tracker.UpdateFromHeaders(context.Background(), headers); err != nil {
		t.Fatalf("UpdateFromHeaders() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	allowed, err := tracker.ShouldAllowRequest(ctx)
	if allowed {
		t.Error("ShouldAllowRequest() = true after context expiry")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("ShouldAllowRequest() error = %v, want deadline exceeded", err)
	}
	if time.Since(start) > 10*time.Second {
		t.Error("throttle ignored context cancellation")
	}
}
