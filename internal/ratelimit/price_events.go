package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/orderlens/internal/config"
)

const keyPriceEvents = "price:events:%d:%d"

// PriceEventLimiter throttles price webhook traffic per tenant and
// product. Redis token bucket when configured; a process-local window
// counter otherwise so limits still hold on a single node.
type PriceEventLimiter struct {
	bucket *TokenBucket
	client *redis.Client
	memory *windowCounter

	limit  int64
	period time.Duration
}

func NewPriceEventLimiter(cfg config.Config) *PriceEventLimiter {
	limiter := &PriceEventLimiter{
		limit:  cfg.PriceRateLimit,
		period: cfg.PriceRatePeriod,
	}
	if limiter.limit <= 0 {
		limiter.limit = 100
	}
	if limiter.period <= 0 {
		limiter.period = time.Hour
	}

	if cfg.RedisEnabled() {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		limiter.client = client
		limiter.bucket = NewTokenBucket(client)
	} else {
		limiter.memory = newWindowCounter()
	}
	return limiter
}

func (l *PriceEventLimiter) rate() float64 {
	return float64(l.limit) / l.period.Seconds()
}

func (l *PriceEventLimiter) key(tenantID, productID int64) string {
	return fmt.Sprintf(keyPriceEvents, tenantID, productID)
}

// Allow consumes one slot for the tenant/product pair.
func (l *PriceEventLimiter) Allow(ctx context.Context, tenantID, productID int64) (*RateLimitResult, error) {
	if l == nil {
		return &RateLimitResult{Allowed: true}, nil
	}
	if l.bucket != nil {
		return l.bucket.Allow(ctx, l.key(tenantID, productID), l.rate(), int(l.limit))
	}
	return l.memory.allow(l.key(tenantID, productID), l.limit, l.period), nil
}

// Info reports the current limit state without consuming a slot.
func (l *PriceEventLimiter) Info(ctx context.Context, tenantID, productID int64) (*RateLimitResult, error) {
	if l == nil {
		return &RateLimitResult{Allowed: true}, nil
	}
	if l.bucket != nil {
		return l.bucket.Peek(ctx, l.key(tenantID, productID), l.rate(), int(l.limit))
	}
	return l.memory.peek(l.key(tenantID, productID), l.limit, l.period), nil
}

// Reset clears the counter for the tenant/product pair.
func (l *PriceEventLimiter) Reset(ctx context.Context, tenantID, productID int64) error {
	if l == nil {
		return nil
	}
	if l.client != nil {
		return l.client.Del(ctx, l.key(tenantID, productID)).Err()
	}
	l.memory.reset(l.key(tenantID, productID))
	return nil
}

type windowEntry struct {
	count   int64
	started time.Time
}

type windowCounter struct {
	mu      sync.Mutex
	entries map[string]*windowEntry
	now     func() time.Time
}

func newWindowCounter() *windowCounter {
	return &windowCounter{
		entries: make(map[string]*windowEntry),
		now:     time.Now,
	}
}

func (w *windowCounter) allow(key string, limit int64, period time.Duration) *RateLimitResult {
	w.mu.Lock()
	defer w.mu.Unlock()

	entry := w.current(key, period)
	if entry.count >= limit {
		return w.result(entry, limit, period, false)
	}
	entry.count++
	return w.result(entry, limit, period, true)
}

func (w *windowCounter) peek(key string, limit int64, period time.Duration) *RateLimitResult {
	w.mu.Lock()
	defer w.mu.Unlock()

	entry := w.current(key, period)
	return w.result(entry, limit, period, entry.count < limit)
}

func (w *windowCounter) reset(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.entries, key)
}

func (w *windowCounter) current(key string, period time.Duration) *windowEntry {
	entry, ok := w.entries[key]
	if !ok || w.now().Sub(entry.started) >= period {
		entry = &windowEntry{started: w.now()}
		w.entries[key] = entry
	}
	return entry
}

func (w *windowCounter) result(entry *windowEntry, limit int64, period time.Duration, allowed bool) *RateLimitResult {
	remaining := limit - entry.count
	if remaining < 0 {
		remaining = 0
	}
	reset := entry.started.Add(period)
	retryAfter := time.Duration(0)
	if !allowed {
		retryAfter = reset.Sub(w.now())
		if retryAfter < 0 {
			retryAfter = 0
		}
	}
	return &RateLimitResult{
		Allowed:    allowed,
		Limit:      int(limit),
		Remaining:  int(remaining),
		ResetTime:  reset,
		RetryAfter: retryAfter,
	}
}
