package webhook

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"net/http"
	"time"
)

// RetryConfig tunes delivery retries. MaxAttempts of 1 disables them.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// RetryPolicy decides whether a failed delivery is attempted again and how long
// to wait, using jittered exponential backoff.
type RetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewRetryPolicy applies defaults: one attempt, 500ms base, 30s cap.
func NewRetryPolicy(cfg RetryConfig) *RetryPolicy {
	p := &RetryPolicy{
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
		maxDelay:    cfg.MaxDelay,
	}
	if p.maxAttempts <= 0 {
		p.maxAttempts = 1
	}
	if p.baseDelay <= 0 {
		p.baseDelay = 500 * time.Millisecond
	}
	if p.maxDelay <= 0 {
		p.maxDelay = 30 * time.Second
	}
	return p
}

// MaxAttempts reports the attempt budget per delivery.
func (p *RetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// ShouldRetry reports whether attempt (1-based) may be followed by another.
// Transport errors, 429 and 5xx responses are retryable; other 4xx are not.
func (p *RetryPolicy) ShouldRetry(statusCode int, err error, attempt int) bool {
	if attempt >= p.maxAttempts {
		return false
	}
	if err != nil {
		return !errors.Is(err, context.Canceled)
	}
	return statusCode == http.StatusTooManyRequests || statusCode >= 500
}

// Backoff returns the wait before the attempt following attempt.
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
