package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLimiter_Wait(t *testing.T) {
	t.Parallel()

	// 10 RPS with burst 1: one token every 100ms.
	l := New(Config{RPS: 10, Burst: 1})
	ctx := context.Background()

	if err := l.Wait(ctx, "https://hooks.example.com/a"); err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	if err := l.Wait(ctx, "https://hooks.example.com/b"); err != nil {
		t.Fatal(err)
	}
	if dur := time.Since(start); dur < 80*time.Millisecond {
		t.Errorf("expected wait ~100ms, got %v", dur)
	}
}

func TestLimiter_DifferentHosts(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 1, Burst: 1})
	ctx := context.Background()

	if err := l.Wait(ctx, "https://a.example.com/1"); err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	if err := l.Wait(ctx, "https://b.example.com/1"); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Errorf("host b blocked unexpectedly")
	}
	if got := l.Hosts(); got != 2 {
		t.Errorf("Hosts() = %d, want 2", got)
	}
}

func TestLimiter_Unlimited(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	for range 100 {
		if err := l.Wait(context.Background(), "https://a.example.com"); err != nil {
			t.Fatal(err)
		}
	}
	if got := l.Hosts(); got != 0 {
		t.Errorf("unlimited limiter should not track hosts, got %d", got)
	}
}

func TestLimiter_CanceledContext(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 0.1, Burst: 1})
	if err := l.Wait(context.Background(), "https://a.example.com"); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx, "https://a.example.com"); err == nil {
		t.Fatal("expected error when the next token is beyond the deadline")
	}
}
