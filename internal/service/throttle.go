package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisThrottle allows one poll per account per window, shared across instances.
type RedisThrottle struct {
	client *redis.Client
	window time.Duration
}

func NewRedisThrottle(client *redis.Client, window time.Duration) *RedisThrottle {
	return &RedisThrottle{client: client, window: window}
}

func (t *RedisThrottle) Allow(ctx context.Context, accountID int64) (bool, error) {
	if t.window <= 0 {
		return true, nil
	}
	ok, err := t.client.SetNX(ctx, fmt.Sprintf("poll-throttle:%d", accountID), 1, t.window).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

// LocalThrottle is the single-process fallback used when Redis is not configured.
type LocalThrottle struct {
	mu     sync.Mutex
	window time.Duration
	last   map[int64]time.Time
	now    func() time.Time
}

func NewLocalThrottle(window time.Duration) *LocalThrottle {
	return &LocalThrottle{window: window, last: make(map[int64]time.Time), now: time.Now}
}

func (t *LocalThrottle) Allow(_ context.Context, accountID int64) (bool, error) {
	if t.window <= 0 {
		return true, nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	for id, last := range t.last {
		if now.Sub(last) >= t.window {
			delete(t.last, id)
		}
	}
	if _, ok := t.last[accountID]; ok {
		return false, nil
	}
	t.last[accountID] = now
	return true, nil
}
