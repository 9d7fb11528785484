package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	stockdomain "github.com/smallbiznis/orderlens/internal/stock/domain"
)

const (
	defaultConflictWindow = time.Second
	defaultConflictTTL    = 10 * time.Second
)

// redisWindow marks products in Redis so concurrent instances share the
// conflict window.
type redisWindow struct {
	client *redis.Client
	window time.Duration
	ttl    time.Duration
}

func NewRedisConflictWindow(client *redis.Client, window, ttl time.Duration) stockdomain.ConflictWindow {
	if window <= 0 {
		window = defaultConflictWindow
	}
	if ttl <= 0 {
		ttl = defaultConflictTTL
	}
	return &redisWindow{client: client, window: window, ttl: ttl}
}

func (w *redisWindow) Touch(ctx context.Context, tenantID, productID int64) (bool, error) {
	key := windowKey(tenantID, productID)

	last, err := w.client.Get(ctx, key).Int64()
	if err != nil && err != redis.Nil {
		return false, err
	}
	now := time.Now()
	if err == nil && now.Sub(time.Unix(0, last)) < w.window {
		return true, nil
	}

	if err := w.client.Set(ctx, key, now.UnixNano(), w.ttl).Err(); err != nil {
		return false, err
	}
	return false, nil
}

// memoryWindow is the single-process fallback used without Redis and in
// tests.
type memoryWindow struct {
	mu     sync.Mutex
	last   map[string]time.Time
	window time.Duration
	ttl    time.Duration
	now    func() time.Time
}

func NewMemoryConflictWindow(window, ttl time.Duration) stockdomain.ConflictWindow {
	if window <= 0 {
		window = defaultConflictWindow
	}
	if ttl <= 0 {
		ttl = defaultConflictTTL
	}
	return &memoryWindow{
		last:   make(map[string]time.Time),
		window: window,
		ttl:    ttl,
		now:    time.Now,
	}
}

func (w *memoryWindow) Touch(_ context.Context, tenantID, productID int64) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	key := windowKey(tenantID, productID)
	now := w.now()
	if last, ok := w.last[key]; ok && now.Sub(last) < w.window && now.Sub(last) < w.ttl {
		return true, nil
	}
	w.last[key] = now
	return false, nil
}

func windowKey(tenantID, productID int64) string {
	return fmt.Sprintf("stock:update:%d:%d", tenantID, productID)
}
