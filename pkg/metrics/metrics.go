// Package metrics provides the Prometheus registry and HTTP exposition for
// the Graph client. All metrics are defined in their respective packages
// (client, pagination, ratelimit) to maintain modularity and avoid circular
// dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the Graph client.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer collects the metrics registered with Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the HTTP handler exposing all registered metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - graph_requests_total{method, status} (Counter): Requests by method and HTTP status
//     (status is "network_error" or "rate_limited" when no response was received)
//   - graph_request_duration_seconds{method} (Histogram): Request duration by method
//   - graph_errors_total{kind} (Counter): Errors by kind (transport, remote, auth, usage)
//
// Retry Metrics (pkg/client):
//   - graph_retries_total{kind} (Counter): Retry attempts by error kind
//   - graph_retry_backoff_seconds (Histogram): Backoff before retries
//   - graph_retry_exhausted_total{kind} (Counter): Calls that exhausted their retry budget
//
// Batch and Pagination Metrics (pkg/client, pkg/pagination):
//   - graph_batch_groups_total (Counter): Batch groups submitted
//   - graph_pages_fetched_total (Counter): List pages fetched by pagers
//
// App Usage Metrics (pkg/ratelimit):
//   - graph_app_usage_percent{metric} (Gauge): Last reported call_count, total_time, total_cputime
//   - graph_rate_limit_blocks_total (Counter): Requests blocked at 100% usage
//   - graph_rate_limit_throttles_total (Counter): Requests throttled at 80% usage
//
// Example Prometheus Queries:
//
//   # Auth failure rate
//   rate(graph_errors_total{kind="auth"}[5m])
//
//   # App usage approaching the limit
//   max(graph_app_usage_percent) > 80
//
//   # Retries per request
//   sum(rate(graph_retries_total[5m])) / sum(rate(graph_requests_total[5m]))
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(graph_request_duration_seconds_bucket[5m]))
