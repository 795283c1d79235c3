package repository

import (
	"time"

	"artisan_chat/pkg/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

type Repositories struct {
	Conversations ConversationStore
	User          UserRepository
	Audit         AuditRepository
	RateLimit     RateLimitRepository
}

// NewPostgresRepositories: чаты и пользователи в Postgres, индикаторы набора,
// кэш профилей и лимиты в Redis
func NewPostgresRepositories(db *pgxpool.Pool, rdb *redis.Client, profileTTL time.Duration, log logger.Logger) *Repositories {
	repos := &Repositories{
		Conversations: NewPostgresConversationStore(db, NewRedisTypingStore(rdb, log), log),
		User:          NewCachedUserRepository(NewUserRepository(db, log), rdb, profileTTL, log),
		Audit:         NewAuditRepository(db, log),
		RateLimit:     NewRateLimitRepository(rdb, log),
	}

	log.Info("Repositories initialized", "driver", "postgres")
	return repos
}

// NewMongoRepositories: документная модель, индикаторы набора встроены в чат
func NewMongoRepositories(db *mongo.Database, rdb *redis.Client, profileTTL time.Duration, log logger.Logger) *Repositories {
	repos := &Repositories{
		Conversations: NewMongoConversationStore(db, log),
		User:          NewCachedUserRepository(NewMongoUserRepository(db, log), rdb, profileTTL, log),
		Audit:         NewMongoAuditRepository(db, log),
		RateLimit:     NewRateLimitRepository(rdb, log),
	}

	log.Info("Repositories initialized", "driver", "mongo")
	return repos
}

// NewMemoryRepositories - все в памяти процесса
func NewMemoryRepositories(now func() time.Time, log logger.Logger) *Repositories {
	return &Repositories{
		Conversations: NewMemoryConversationStore(now),
		User:          NewMemoryUserRepository(),
		Audit:         NewLogAuditRepository(log),
		RateLimit:     NewMemoryRateLimitRepository(now),
	}
}
