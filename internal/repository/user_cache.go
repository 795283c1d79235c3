package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"artisan_chat/internal/domain"
	"artisan_chat/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const UserProfileKeyPrefix = "user:profile:%s"

// cachedUserRepository читает профили через Redis. Ошибки кэша не фатальны:
// при недоступном Redis запросы уходят напрямую в основное хранилище.
type cachedUserRepository struct {
	next UserRepository
	rdb  *redis.Client
	ttl  time.Duration
	log  logger.Logger
}

func NewCachedUserRepository(next UserRepository, rdb *redis.Client, ttl time.Duration, log logger.Logger) UserRepository {
	return &cachedUserRepository{next: next, rdb: rdb, ttl: ttl, log: log}
}

func (r *cachedUserRepository) key(id uuid.UUID) string {
	return fmt.Sprintf(UserProfileKeyPrefix, id.String())
}

func (r *cachedUserRepository) Create(ctx context.Context, user *domain.User) error {
	if err := r.next.Create(ctx, user); err != nil {
		return err
	}
	r.store(ctx, user)
	return nil
}

func (r *cachedUserRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	data, err := r.rdb.Get(ctx, r.key(id)).Bytes()
	if err == nil {
		var user domain.User
		if jsonErr := json.Unmarshal(data, &user); jsonErr == nil {
			return &user, nil
		}
		r.log.Warn("Dropping malformed cached profile", "user_id", id)
	} else if err != redis.Nil {
		r.log.Warn("Profile cache unavailable", "error", err)
	}

	user, err := r.next.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	r.store(ctx, user)
	return user, nil
}

func (r *cachedUserRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*domain.User, error) {
	if len(ids) == 0 {
		return []*domain.User{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.key(id)
	}

	users := make([]*domain.User, 0, len(ids))
	var missing []uuid.UUID

	values, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		r.log.Warn("Profile cache unavailable", "error", err)
		return r.next.GetByIDs(ctx, ids)
	}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			missing = append(missing, ids[i])
			continue
		}
		var user domain.User
		if err := json.Unmarshal([]byte(raw), &user); err != nil {
			missing = append(missing, ids[i])
			continue
		}
		users = append(users, &user)
	}

	if len(missing) == 0 {
		return users, nil
	}
	loaded, err := r.next.GetByIDs(ctx, missing)
	if err != nil {
		return nil, err
	}
	for _, user := range loaded {
		r.store(ctx, user)
	}
	return append(users, loaded...), nil
}

func (r *cachedUserRepository) Update(ctx context.Context, user *domain.User) error {
	if err := r.next.Update(ctx, user); err != nil {
		return err
	}
	if err := r.rdb.Del(ctx, r.key(user.ID)).Err(); err != nil {
		r.log.Warn("Failed to invalidate cached profile", "error", err, "user_id", user.ID)
	}
	return nil
}

func (r *cachedUserRepository) store(ctx context.Context, user *domain.User) {
	data, err := json.Marshal(user)
	if err != nil {
		return
	}
	if err := r.rdb.Set(ctx, r.key(user.ID), data, r.ttl).Err(); err != nil {
		r.log.Warn("Failed to cache profile", "error", err, "user_id", user.ID)
	}
}
