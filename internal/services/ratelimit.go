package services

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"shortsight/internal/cache"
	"shortsight/internal/metrics"
)

// Window is one fixed-window quota of a policy.
type Window struct {
	Name        string
	Limit       int64
	Duration    time.Duration
	ErrorCode   string
	Message     string
	Description string
}

// Policy is a set of windows that must all have room for a request to pass.
type Policy struct {
	Action  string
	Windows []Window
}

func CreationPolicy() Policy {
	return Policy{
		Action: "link_creation",
		Windows: []Window{
			{Name: "minute", Limit: 10, Duration: time.Minute, ErrorCode: "link_creation_rate_limit_exceeded",
				Message: "Too many links created. Please wait before creating more links.", Description: "10 links per minute"},
			{Name: "hour", Limit: 50, Duration: time.Hour, ErrorCode: "link_creation_hourly_limit_exceeded",
				Message: "Hourly link creation limit exceeded.", Description: "50 links per hour"},
			{Name: "day", Limit: 200, Duration: 24 * time.Hour, ErrorCode: "link_creation_daily_limit_exceeded",
				Message: "Daily link creation limit exceeded. Please try again tomorrow.", Description: "200 links per day"},
		},
	}
}

func APIPolicy(perMinute, perHour int64) Policy {
	if perMinute <= 0 {
		perMinute = 100
	}
	if perHour <= 0 {
		perHour = 1000
	}
	return Policy{
		Action: "api",
		Windows: []Window{
			{Name: "minute", Limit: perMinute, Duration: time.Minute, ErrorCode: "api_rate_limit_exceeded",
				Message: "API rate limit exceeded. Please try again later.", Description: fmt.Sprintf("%d per 1 minute(s)", perMinute)},
			{Name: "hour", Limit: perHour, Duration: time.Hour, ErrorCode: "api_hourly_rate_limit_exceeded",
				Message: "API hourly rate limit exceeded.", Description: fmt.Sprintf("%d per hour", perHour)},
		},
	}
}

// AuthPolicy guards password attempts.
func AuthPolicy() Policy {
	return Policy{
		Action: "auth",
		Windows: []Window{
			{Name: "minute", Limit: 5, Duration: time.Minute, ErrorCode: "rate_limit_exceeded",
				Message: "Too many requests. Please try again later.", Description: "5 per 1 minute(s)"},
			{Name: "hour", Limit: 20, Duration: time.Hour, ErrorCode: "hourly_rate_limit_exceeded",
				Message: "Too many requests. Hourly limit exceeded.", Description: "20 per hour"},
		},
	}
}

// Decision is the outcome for one request, described by the window that decided it.
type Decision struct {
	Allowed          bool
	Window           string
	Limit            int64
	Remaining        int64
	RetryAfter       time.Duration
	ResetAt          time.Time
	LimitDescription string
	Message          string
	ErrorCode        string
}

// RetryAfterSeconds rounds the retry delay up to whole seconds, never below one for a denial.
func (d Decision) RetryAfterSeconds() int64 {
	secs := int64((d.RetryAfter + time.Second - 1) / time.Second)
	if !d.Allowed && secs < 1 {
		secs = 1
	}
	return secs
}

// Signature derives a stable client key from request attributes.
func Signature(parts ...string) string {
	sum := sha1.Sum([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// RateLimiter keeps fixed-window counters in the shared cache store. Counting is check-then-record,
// so concurrent requests at a window edge can overshoot a limit slightly. Store failures fail open.
type RateLimiter struct {
	store  cache.Store
	logger *slog.Logger
	now    func() time.Time
}

func NewRateLimiter(store cache.Store, logger *slog.Logger) *RateLimiter {
	return &RateLimiter{store: store, logger: logger, now: time.Now}
}

func counterKey(action, window, signature string) string {
	return "ratelimit:" + action + ":" + window + ":" + signature
}

func (l *RateLimiter) count(ctx context.Context, key string) int64 {
	raw, err := l.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			l.logger.Warn("Rate limit counter read failed, allowing", "key", key, "error", err)
		}
		return 0
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		l.logger.Warn("Rate limit counter is not an integer", "key", key, "error", err)
		return 0
	}
	return n
}

func (l *RateLimiter) ttl(ctx context.Context, key string, fallback time.Duration) time.Duration {
	d, err := l.store.TTL(ctx, key)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Check evaluates every window without counting the request. The first exhausted window denies.
func (l *RateLimiter) Check(ctx context.Context, policy Policy, signature string) Decision {
	for _, w := range policy.Windows {
		key := counterKey(policy.Action, w.Name, signature)
		n := l.count(ctx, key)
		if n < w.Limit {
			continue
		}
		retry := l.ttl(ctx, key, w.Duration)
		metrics.RateLimitDenials.WithLabelValues(policy.Action, w.Name).Inc()
		return Decision{
			Allowed:          false,
			Window:           w.Name,
			Limit:            w.Limit,
			Remaining:        0,
			RetryAfter:       retry,
			ResetAt:          l.now().Add(retry),
			LimitDescription: w.Description,
			Message:          w.Message,
			ErrorCode:        w.ErrorCode,
		}
	}
	return Decision{Allowed: true}
}

// Record counts the request against every window and reports the state of the first one.
func (l *RateLimiter) Record(ctx context.Context, policy Policy, signature string) Decision {
	var first Decision
	for i, w := range policy.Windows {
		key := counterKey(policy.Action, w.Name, signature)
		n, err := l.store.Incr(ctx, key, w.Duration)
		if err != nil {
			l.logger.Warn("Rate limit counter increment failed", "key", key, "error", err)
		}
		if i != 0 {
			continue
		}
		remaining := w.Limit - n
		if remaining < 0 {
			remaining = 0
		}
		retry := l.ttl(ctx, key, w.Duration)
		first = Decision{
			Allowed:          true,
			Window:           w.Name,
			Limit:            w.Limit,
			Remaining:        remaining,
			RetryAfter:       retry,
			ResetAt:          l.now().Add(retry),
			LimitDescription: w.Description,
		}
	}
	first.Allowed = true
	return first
}

// Attempt checks the policy and, when allowed, records the request.
func (l *RateLimiter) Attempt(ctx context.Context, policy Policy, signature string) Decision {
	if d := l.Check(ctx, policy, signature); !d.Allowed {
		return d
	}
	return l.Record(ctx, policy, signature)
}
