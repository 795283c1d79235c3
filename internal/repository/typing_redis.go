package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"artisan_chat/internal/domain"
	"artisan_chat/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// Индикаторы набора: sorted set, score - время в миллисекундах
	TypingKeyPrefix = "chat:conversation:%s:typing"

	// Ключ живет чуть дольше любой записи, чтобы брошенные чаты не копились
	TypingKeyTTL = time.Minute
)

type redisTypingStore struct {
	rdb *redis.Client
	log logger.Logger
	now func() time.Time
}

// NewRedisTypingStore хранит индикаторы набора вне документа чата
func NewRedisTypingStore(rdb *redis.Client, log logger.Logger) TypingStore {
	return &redisTypingStore{rdb: rdb, log: log, now: time.Now}
}

func (r *redisTypingStore) key(conversationID uuid.UUID) string {
	return fmt.Sprintf(TypingKeyPrefix, conversationID.String())
}

func (r *redisTypingStore) AddOrRefreshTyping(ctx context.Context, conversationID, userID uuid.UUID) error {
	key := r.key(conversationID)

	pipe := r.rdb.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(r.now().UnixMilli()),
		Member: userID.String(),
	})
	pipe.Expire(ctx, key, TypingKeyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		r.log.Error("Failed to save typing indicator", "error", err, "conversation_id", conversationID)
		return fmt.Errorf("failed to save typing indicator: %w", err)
	}
	return nil
}

func (r *redisTypingStore) RemoveTyping(ctx context.Context, conversationID, userID uuid.UUID) error {
	if err := r.rdb.ZRem(ctx, r.key(conversationID), userID.String()).Err(); err != nil {
		r.log.Error("Failed to remove typing indicator", "error", err, "conversation_id", conversationID)
		return fmt.Errorf("failed to remove typing indicator: %w", err)
	}
	return nil
}

func (r *redisTypingStore) PruneStaleTyping(ctx context.Context, conversationID uuid.UUID, maxAge time.Duration) ([]domain.TypingEntry, error) {
	key := r.key(conversationID)
	cutoff := r.now().Add(-maxAge).UnixMilli()

	// Удаляем все записи не новее cutoff
	if err := r.rdb.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(cutoff, 10)).Err(); err != nil {
		r.log.Error("Failed to prune typing indicators", "error", err, "conversation_id", conversationID)
		return nil, fmt.Errorf("failed to prune typing indicators: %w", err)
	}

	members, err := r.rdb.ZRangeWithScores(ctx, key, 0, -1).Result()
	if err != nil {
		if err == redis.Nil {
			return []domain.TypingEntry{}, nil
		}
		r.log.Error("Failed to read typing indicators", "error", err, "conversation_id", conversationID)
		return nil, fmt.Errorf("failed to read typing indicators: %w", err)
	}

	entries := make([]domain.TypingEntry, 0, len(members))
	for _, z := range members {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		userID, err := uuid.Parse(member)
		if err != nil {
			r.log.Warn("Skipping malformed typing member", "member", member)
			continue
		}
		entries = append(entries, domain.TypingEntry{
			UserID: userID,
			At:     time.UnixMilli(int64(z.Score)),
		})
	}
	return entries, nil
}
