package rate

import (
	"context"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryLimiter replica el fixed window del RedisLimiter en proceso, para
// desarrollo y tests. Mismo esquema de clave por ventana; la expiración la
// maneja go-cache.
type MemoryLimiter struct {
	mu sync.Mutex
	c  *gocache.Cache
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{c: gocache.New(time.Minute, time.Minute)}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int64, window time.Duration) (Result, error) {
	now := time.Now().UTC()
	winStart := now.Truncate(window)
	k := fmt.Sprintf("%s:%d", key, winStart.Unix())

	l.mu.Lock()
	var hits int64 = 1
	if v, ok := l.c.Get(k); ok {
		hits = v.(int64) + 1
	}
	l.c.Set(k, hits, window)
	l.mu.Unlock()

	res := Result{
		Allowed:   hits <= limit,
		Limit:     limit,
		Remaining: limit - hits,
	}
	if res.Remaining < 0 {
		res.Remaining = 0
	}
	if !res.Allowed {
		res.RetryAfter = winStart.Add(window).Sub(now)
	}
	return res, nil
}
