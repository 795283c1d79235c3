package repository

import (
	"context"
	"sync"
	"time"

	"artisan_chat/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// RateLimitRepository - счетчики фиксированного окна
type RateLimitRepository interface {
	// Hit увеличивает счетчик ключа и возвращает его значение в текущем окне
	Hit(ctx context.Context, key string, window time.Duration) (int64, error)
}

type rateLimitRepository struct {
	redis *redis.Client
	log   logger.Logger
}

func NewRateLimitRepository(redis *redis.Client, log logger.Logger) RateLimitRepository {
	return &rateLimitRepository{redis: redis, log: log}
}

func (r *rateLimitRepository) Hit(ctx context.Context, key string, window time.Duration) (int64, error) {
	// INCR и EXPIRE NX в одной транзакции: окно начинается с первого запроса
	pipe := r.redis.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		r.log.Error("Failed to increment rate limit", "error", err)
		return 0, err
	}
	return incr.Val(), nil
}

type memoryRateLimitRepository struct {
	mu      sync.Mutex
	windows map[string]memoryWindow
	now     func() time.Time
}

type memoryWindow struct {
	count   int64
	resetAt time.Time
}

func NewMemoryRateLimitRepository(now func() time.Time) RateLimitRepository {
	if now == nil {
		now = time.Now
	}
	return &memoryRateLimitRepository{windows: make(map[string]memoryWindow), now: now}
}

func (r *memoryRateLimitRepository) Hit(ctx context.Context, key string, window time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	w := r.windows[key]
	if !now.Before(w.resetAt) {
		w = memoryWindow{resetAt: now.Add(window)}
	}
	w.count++
	r.windows[key] = w
	return w.count, nil
}
