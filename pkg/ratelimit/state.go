// Package ratelimit implements Graph API app usage tracking and request gating.
// It monitors the X-App-Usage header, which reports the share of the
// application's hourly call, time and CPU budget already used, and stops
// requests before the platform starts rejecting them.
package ratelimit

import (
	"time"
)

// Redis keys for app usage state storage.
const (
	RedisKeyCallCount    = "graph:app_usage:call_count"
	RedisKeyTotalTime    = "graph:app_usage:total_time"
	RedisKeyTotalCPUTime = "graph:app_usage:total_cputime"
	RedisKeyLastUpdate   = "graph:app_usage:last_update"
)

// HeaderAppUsage is the response header carrying app usage percentages.
const HeaderAppUsage = "X-App-Usage"

// StateTTL is how long a usage report stays valid. Usage is computed over a
// rolling one hour window.
const StateTTL = time.Hour

// Thresholds for rate limit decisions, in percent of the hourly budget.
const (
	// UsageThresholdCritical blocks all requests.
	UsageThresholdCritical = 100

	// UsageThresholdWarning applies throttling.
	UsageThresholdWarning = 80
)

// AppUsage is the last reported app usage. It is shared across all client
// instances via Redis.
type AppUsage struct {
	// CallCount is the percentage of allowed calls made.
	CallCount int `json:"call_count"`

	// TotalTime is the percentage of allowed total time used.
	TotalTime int `json:"total_time"`

	// TotalCPUTime is the percentage of allowed CPU time used.
	TotalCPUTime int `json:"total_cputime"`

	// LastUpdate is when the usage was reported.
	LastUpdate time.Time `json:"last_update"`
}

// Max returns the highest of the three usage percentages.
func (u *AppUsage) Max() int {
	return max(u.CallCount, u.TotalTime, u.TotalCPUTime)
}

// IsStale returns true if the usage report is older than maxAge.
func (u *AppUsage) IsStale(maxAge time.Duration) bool {
	return time.Since(u.LastUpdate) > maxAge
}

// NeedsCriticalBlock returns true if requests should be blocked.
func (u *AppUsage) NeedsCriticalBlock() bool {
	return u.Max() >= UsageThresholdCritical
}

// NeedsThrottling returns true if requests should be throttled.
func (u *AppUsage) NeedsThrottling() bool {
	return u.Max() >= UsageThresholdWarning && !u.NeedsCriticalBlock()
}
