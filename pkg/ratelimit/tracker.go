package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// Prometheus metrics for app usage tracking.
var (
	graphAppUsagePercent = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "graph_app_usage_percent",
		Help: "Last reported app usage in percent of the hourly budget",
	}, []string{"metric"})

	graphRateLimitBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "graph_rate_limit_blocks_total",
		Help: "Total number of requests blocked due to exhausted app usage",
	})

	graphRateLimitThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "graph_rate_limit_throttles_total",
		Help: "Total number of requests throttled due to high app usage",
	})
)

// DefaultThrottleDelay is the pause applied to requests above the warning threshold.
const DefaultThrottleDelay = time.Second

// ErrInvalidAppUsage is returned for an X-App-Usage header that is not a JSON object.
var ErrInvalidAppUsage = errors.New("invalid X-App-Usage header")

// Tracker monitors app usage and gates requests.
type Tracker struct {
	redis         *redis.Client
	logger        zerolog.Logger
	throttleDelay time.Duration
}

// NewTracker creates a new app usage tracker.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:         redisClient,
		logger:        logger,
		throttleDelay: DefaultThrottleDelay,
	}
}

// SetThrottleDelay sets the pause applied in the warning state.
func (t *Tracker) SetThrottleDelay(d time.Duration) {
	t.throttleDelay = d
}

// ParseAppUsage parses an X-App-Usage header value such as
// {"call_count":28,"total_time":25,"total_cputime":25}.
func ParseAppUsage(value string) (*AppUsage, error) {
	if !gjson.Valid(value) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAppUsage, value)
	}
	root := gjson.Parse(value)
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAppUsage, value)
	}

	return &AppUsage{
		CallCount:    int(root.Get("call_count").Int()),
		TotalTime:    int(root.Get("total_time").Int()),
		TotalCPUTime: int(root.Get("total_cputime").Int()),
		LastUpdate:   time.Now(),
	}, nil
}

// GetState retrieves the current app usage from Redis.
// Returns zero usage if no report exists or it has expired.
func (t *Tracker) GetState(ctx context.Context) (*AppUsage, error) {
	values, err := t.redis.MGet(ctx, RedisKeyCallCount, RedisKeyTotalTime, RedisKeyTotalCPUTime, RedisKeyLastUpdate).Result()
	if err != nil {
		return nil, fmt.Errorf("get app usage: %w", err)
	}

	if values[3] == nil {
		t.logger.Debug().Msg("No app usage in Redis, returning empty usage")
		return &AppUsage{LastUpdate: time.Now()}, nil
	}

	usage := &AppUsage{}
	fields := []*int{&usage.CallCount, &usage.TotalTime, &usage.TotalCPUTime}
	for i, field := range fields {
		s, _ := values[i].(string)
		if s == "" {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("parse app usage field %d: %w", i, err)
		}
		*field = n
	}

	lastUpdate, _ := values[3].(string)
	unix, err := strconv.ParseInt(lastUpdate, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse last update: %w", err)
	}
	usage.LastUpdate = time.Unix(unix, 0)

	return usage, nil
}

// UpdateFromHeaders parses the X-App-Usage header and updates Redis state.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, headers http.Header) error {
	value := headers.Get(HeaderAppUsage)
	if value == "" {
		// Not every response carries usage.
		return nil
	}

	usage, err := ParseAppUsage(value)
	if err != nil {
		return err
	}

	// Store in Redis atomically
	pipe := t.redis.TxPipeline()
	pipe.Set(ctx, RedisKeyCallCount, usage.CallCount, StateTTL)
	pipe.Set(ctx, RedisKeyTotalTime, usage.TotalTime, StateTTL)
	pipe.Set(ctx, RedisKeyTotalCPUTime, usage.TotalCPUTime, StateTTL)
	pipe.Set(ctx, RedisKeyLastUpdate, usage.LastUpdate.Unix(), StateTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store app usage in redis: %w", err)
	}

	graphAppUsagePercent.WithLabelValues("call_count").Set(float64(usage.CallCount))
	graphAppUsagePercent.WithLabelValues("total_time").Set(float64(usage.TotalTime))
	graphAppUsagePercent.WithLabelValues("total_cputime").Set(float64(usage.TotalCPUTime))

	switch {
	case usage.NeedsCriticalBlock():
		t.logger.Error().
			Int("usage_percent", usage.Max()).
			Msg("App usage CRITICAL - requests will be blocked")
	case usage.NeedsThrottling():
		t.logger.Warn().
			Int("usage_percent", usage.Max()).
			Msg("App usage WARNING - requests will be throttled")
	default:
		t.logger.Debug().
			Int("call_count", usage.CallCount).
			Int("total_time", usage.TotalTime).
			Int("total_cputime", usage.TotalCPUTime).
			Msg("App usage updated")
	}

	return nil
}

// ShouldAllowRequest checks if a request should be allowed based on current usage.
// Returns false if the request should be blocked.
// Returns true but may pause first if usage is in the warning range.
func (t *Tracker) ShouldAllowRequest(ctx context.Context) (bool, error) {
	usage, err := t.GetState(ctx)
	if err != nil {
		return false, fmt.Errorf("get app usage: %w", err)
	}

	if usage.NeedsCriticalBlock() {
		t.logger.Error().
			Int("usage_percent", usage.Max()).
			Msg("App usage exhausted - blocking request")

		graphRateLimitBlocksTotal.Inc()
		return false, nil
	}

	if usage.NeedsThrottling() {
		t.logger.Warn().
			Int("usage_percent", usage.Max()).
			Dur("delay", t.throttleDelay).
			Msg("App usage high - throttling request")

		graphRateLimitThrottlesTotal.Inc()
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(t.throttleDelay):
		}
	}

	return true, nil
}
