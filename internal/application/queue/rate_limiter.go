package queue

import (
	"context"
	"sync"
	"time"
)

// TokenBucket is a simple token-bucket rate limiter used to throttle
// executor dispatch per queue or per executor name (executorConfig.rateLimit
// in the adapter façade).
type TokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	refillRate float64 // tokens per second
	last       time.Time
	nowFn      func() time.Time
}

// NewTokenBucket creates a bucket holding at most capacity tokens, refilled
// at refillPerSecond tokens/second, starting full.
func NewTokenBucket(capacity float64, refillPerSecond float64) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillPerSecond,
		last:       time.Now(),
		nowFn:      time.Now,
	}
}

// Allow reports whether a single token is available right now, consuming
// it if so.
func (b *TokenBucket) Allow() bool {
	return b.AllowN(1)
}

// AllowN reports whether n tokens are available right now, consuming them
// if so.
func (b *TokenBucket) AllowN(n float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	if b.tokens >= n {
		b.tokens -= n
		return true
	}
	return false
}

// Wait blocks until a token is available or ctx is done.
func (b *TokenBucket) Wait(ctx context.Context) error {
	for {
		if b.Allow() {
			return nil
		}
		wait := b.timeUntilNextToken()
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (b *TokenBucket) timeUntilNextToken() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.refillRate <= 0 {
		return 100 * time.Millisecond
	}
	deficit := 1 - b.tokens
	if deficit <= 0 {
		return 0
	}
	return time.Duration(deficit / b.refillRate * float64(time.Second))
}

// refill must be called with mu held.
func (b *TokenBucket) refill() {
	now := b.nowFn()
	elapsed := now.Sub(b.last).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.last = now
}
