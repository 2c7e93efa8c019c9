package ratelimit

import (
	"context"
	"net/http"
	"testing"
	"time"
)

func TestLimiter_NilStoreAlwaysAllows(t *testing.T) {
	l := New(nil)
	cfg := DefaultConfig()
	for i := 0; i < 1000; i++ {
		allowed, retry := l.CheckPresign(context.Background(), "1.2.3.4", cfg)
		if !allowed || retry != 0 {
			t.Fatalf("nil store should always allow, got allowed=%v retry=%d", allowed, retry)
		}
	}
}

func TestLimiter_CheckPresign_BlocksAfterLimit(t *testing.T) {
	l := New(NewInMemoryStore())
	cfg := Config{PresignRate: 3, PresignWindow: time.Minute}

	for i := 0; i < 3; i++ {
		allowed, _ := l.CheckPresign(context.Background(), "k", cfg)
		if !allowed {
			t.Fatalf("request %d should be allowed", i)
		}
	}

	allowed, retry := l.CheckPresign(context.Background(), "k", cfg)
	if allowed {
		t.Fatal("4th request should be blocked")
	}
	if retry <= 0 {
		t.Errorf("expected positive retryAfter, got %d", retry)
	}
}

func TestLimiter_Reset_ClearsCounters(t *testing.T) {
	l := New(NewInMemoryStore())
	cfg := Config{PresignRate: 1, PresignWindow: time.Minute}

	l.CheckPresign(context.Background(), "k", cfg)
	allowed, _ := l.CheckPresign(context.Background(), "k", cfg)
	if allowed {
		t.Fatal("2nd request should be blocked before reset")
	}

	l.Reset(context.Background(), "k")

	allowed, _ = l.CheckPresign(context.Background(), "k", cfg)
	if !allowed {
		t.Fatal("request after Reset should be allowed")
	}
}

func TestLimiter_SeparateKeysDoNotInterfere(t *testing.T) {
	l := New(NewInMemoryStore())
	cfg := Config{PresignRate: 1, PresignWindow: time.Minute}

	l.CheckPresign(context.Background(), "a", cfg)
	allowed, _ := l.CheckPresign(context.Background(), "b", cfg)
	if !allowed {
		t.Fatal("distinct key should not be rate limited by another key's usage")
	}
}

func TestClientIP_PrefersForwardedFor(t *testing.T) {
	r, _ := http.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	r.RemoteAddr = "10.0.0.1:1234"

	if got := ClientIP(r); got != "203.0.113.5" {
		t.Errorf("ClientIP = %q, want 203.0.113.5", got)
	}
}

func TestClientIP_FallsBackToRemoteAddr(t *testing.T) {
	r, _ := http.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.1:5555"

	if got := ClientIP(r); got != "192.0.2.1" {
		t.Errorf("ClientIP = %q, want 192.0.2.1", got)
	}
}

func TestInMemoryStore_TTLReflectsExpire(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	if _, err := s.Incr(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if err := s.Expire(ctx, "k", 50*time.Millisecond); err != nil {
		t.Fatal(err)
	}

	ttl, err := s.TTL(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if ttl <= 0 || ttl > 50*time.Millisecond {
		t.Errorf("TTL = %v, want within (0, 50ms]", ttl)
	}

	time.Sleep(60 * time.Millisecond)
	v, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if v != "" {
		t.Errorf("expected expired key to read back empty, got %q", v)
	}
}
