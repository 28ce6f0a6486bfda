package infra

import (
	"context"
	"testing"
	"time"
)

func TestCacheHitAndMiss(t *testing.T) {
	c := NewCache(time.Minute)
	if _, ok := c.Get("benchmark"); ok {
		t.Fatal("empty cache must miss")
	}
	c.Set("benchmark", 1.25)
	v, ok := c.Get("benchmark")
	if !ok || v.(float64) != 1.25 {
		t.Errorf("got %v, %v", v, ok)
	}
	if c.Len() != 1 {
		t.Errorf("len = %d", c.Len())
	}
}

func TestCacheExpiry(t *testing.T) {
	c := NewCache(time.Minute)
	c.SetWithTTL("quote", "stale", time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	if _, ok := c.Get("quote"); ok {
		t.Error("expired entry must miss")
	}
}

func TestCacheFlush(t *testing.T) {
	c := NewCache(time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Flush()
	if c.Len() != 0 {
		t.Errorf("len after flush = %d", c.Len())
	}
}

func TestRateLimiterExhaustsTokens(t *testing.T) {
	rl := NewRateLimiter(2, time.Hour)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := rl.Wait(ctx); err != nil {
			t.Fatal(err)
		}
	}

	// Third request must block until the context gives up.
	ctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx); err == nil {
		t.Error("drained bucket must block")
	}
}

func TestRateLimiterRefills(t *testing.T) {
	rl := NewRateLimiter(1, 20*time.Millisecond)
	ctx := context.Background()
	if err := rl.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	// After one interval the bucket holds a fresh token.
	time.Sleep(30 * time.Millisecond)
	ctx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx); err != nil {
		t.Errorf("refilled bucket still blocked: %v", err)
	}
}
