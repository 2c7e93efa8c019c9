// Package ratelimit limits how often a caller (by remote address, or any
// other key the router chooses) may request a presigned URL or post a
// completion. When no Store is configured, the Limiter degrades to
// always-allow — rate limiting is optional, never a hard dependency.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Store is the minimal interface required for rate limiting. In production
// this is implemented by RedisStore; InMemoryStore covers single-process
// deployments that don't want an external dependency, and tests can supply
// their own.
type Store interface {
	// Incr atomically increments a counter key and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)
	// Expire sets the TTL on a key.
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// TTL returns the remaining time-to-live on a key, or <= 0 if expired/missing.
	TTL(ctx context.Context, key string) (time.Duration, error)
	// Del removes one or more keys.
	Del(ctx context.Context, keys ...string) error
	// Get returns the string value of a key.
	Get(ctx context.Context, key string) (string, error)
	// Set stores a value with expiry.
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
}

// Limiter performs rate limit checks against a Store.
type Limiter struct {
	store Store
}

// New creates a Limiter backed by the given Store. A nil store makes every
// check always allow the request.
func New(store Store) *Limiter {
	return &Limiter{store: store}
}

// Config holds per-operation rate limit settings.
type Config struct {
	PresignRate    int           // presign requests allowed per Window, per key
	PresignWindow  time.Duration
	CompleteRate   int // completion calls allowed per Window, per key
	CompleteWindow time.Duration
}

// DefaultConfig returns reasonable defaults: 60 presign requests and 120
// completion calls per minute, per key.
func DefaultConfig() Config {
	return Config{
		PresignRate:    60,
		PresignWindow:  time.Minute,
		CompleteRate:   120,
		CompleteWindow: time.Minute,
	}
}

// CheckPresign enforces the presign rate limit for the given key (typically
// remote IP, or an authenticated caller ID supplied by the host application).
// Returns (allowed, retryAfterSecs).
func (l *Limiter) CheckPresign(ctx context.Context, key string, cfg Config) (bool, int) {
	return l.check(ctx, fmt.Sprintf("pushduck:presign:%s", key), cfg.PresignRate, int(cfg.PresignWindow.Seconds()))
}

// CheckComplete enforces the completion rate limit for the given key.
func (l *Limiter) CheckComplete(ctx context.Context, key string, cfg Config) (bool, int) {
	return l.check(ctx, fmt.Sprintf("pushduck:complete:%s", key), cfg.CompleteRate, int(cfg.CompleteWindow.Seconds()))
}

// Reset clears the counters for a key, e.g. after a presign request
// completes successfully and shouldn't count against future bursts.
func (l *Limiter) Reset(ctx context.Context, key string) {
	if l.store == nil {
		return
	}
	l.store.Del(ctx, fmt.Sprintf("pushduck:presign:%s", key), fmt.Sprintf("pushduck:complete:%s", key))
}

// ClientIP extracts the real client IP from a request, handling reverse
// proxy headers (X-Forwarded-For, X-Real-IP) before falling back to
// RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	addr := r.RemoteAddr
	if i := strings.LastIndex(addr, ":"); i > 0 {
		return addr[:i]
	}
	return addr
}

// check is the generic increment-and-check against a counter key. Returns
// (allowed, retryAfterSecs). If store is nil, always returns (true, 0).
func (l *Limiter) check(ctx context.Context, key string, max int, ttlSecs int) (bool, int) {
	if l.store == nil {
		return true, 0
	}

	count, err := l.store.Incr(ctx, key)
	if err != nil {
		// Store error — fail open (allow request, don't block on infra issues).
		return true, 0
	}

	if count == 1 {
		l.store.Expire(ctx, key, time.Duration(ttlSecs)*time.Second)
	}

	if count > int64(max) {
		ttl, _ := l.store.TTL(ctx, key)
		retry := int(ttl.Seconds())
		if retry < 1 {
			retry = ttlSecs
		}
		return false, retry
	}

	return true, 0
}
