package client

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/Sternrassler/graph-client/pkg/apierr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for retry operations.
var (
	graphRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graph_retries_total",
		Help: "Total number of retry attempts by error kind",
	}, []string{"kind"})

	graphRetryBackoffSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "graph_retry_backoff_seconds",
		Help:    "Backoff duration before retries",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	})

	graphRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graph_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error kind",
	}, []string{"kind"})
)

// RetryConfig holds the backoff between retry attempts.
// A zero InitialBackoff retries immediately.
type RetryConfig struct {
	// InitialBackoff is the wait before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the wait between retries.
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration: immediate
// retries, exponential once an InitialBackoff is set.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialBackoff:    0,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// retryable reports whether err may be re-attempted. Transport, remote and
// auth errors are; usage and token errors, foreign errors and app usage
// gate blocks are not.
func retryable(err error) (apierr.Kind, bool) {
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) {
		return "", false
	}
	if errors.Is(err, ErrAppUsageLimit) {
		return apiErr.Kind, false
	}
	switch apiErr.Kind {
	case apierr.KindTransport, apierr.KindRemote, apierr.KindAuth:
		return apiErr.Kind, true
	default:
		return apiErr.Kind, false
	}
}

// withRetry calls fn up to retries+1 times until it succeeds.
// On exhaustion the last error is returned unchanged.
func (c *Client) withRetry(ctx context.Context, retries int, fn func() (*Response, error)) (*Response, error) {
	config := c.config.Retry
	backoff := config.InitialBackoff

	for attempt := 1; ; attempt++ {
		resp, err := fn()
		if err == nil {
			if attempt > 1 {
				c.logger.Info().
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return resp, nil
		}

		kind, ok := retryable(err)
		if !ok {
			return nil, err
		}

		if attempt > retries {
			if retries > 0 {
				graphRetryExhaustedTotal.WithLabelValues(string(kind)).Inc()
				c.logger.Warn().
					Str("kind", string(kind)).
					Int("attempts", attempt).
					Msg("Retry attempts exhausted")
			}
			return nil, err
		}

		if ctx.Err() != nil {
			return nil, err
		}

		graphRetriesTotal.WithLabelValues(string(kind)).Inc()

		if backoff > 0 {
			// Add jitter (±20% randomness)
			wait := time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
			graphRetryBackoffSeconds.Observe(wait.Seconds())

			c.logger.Debug().
				Str("kind", string(kind)).
				Int("attempt", attempt).
				Dur("backoff", wait).
				Msg("Retrying request after backoff")

			select {
			case <-ctx.Done():
				c.logger.Warn().
					Int("attempt", attempt).
					Msg("Context cancelled during retry backoff")
				return nil, err
			case <-time.After(wait):
			}

			backoff = time.Duration(float64(backoff) * config.BackoffMultiplier)
			if config.MaxBackoff > 0 && backoff > config.MaxBackoff {
				backoff = config.MaxBackoff
			}
		} else {
			c.logger.Debug().
				Str("kind", string(kind)).
				Int("attempt", attempt).
				Msg("Retrying request")
		}
	}
}
