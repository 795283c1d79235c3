package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"artisan_chat/internal/domain"
	"artisan_chat/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRedisTypingStorePrune(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newMiniredis(t)
	clock := newTestClock()
	store := NewRedisTypingStore(rdb, logger.Nop()).(*redisTypingStore)
	store.now = clock.Now

	convID := uuid.New()
	a, b := uuid.New(), uuid.New()

	require.NoError(t, store.AddOrRefreshTyping(ctx, convID, a))
	clock.Advance(4 * time.Second)
	require.NoError(t, store.AddOrRefreshTyping(ctx, convID, b))
	clock.Advance(2 * time.Second)

	key := fmt.Sprintf(TypingKeyPrefix, convID.String())
	assert.Equal(t, TypingKeyTTL, mr.TTL(key))

	entries, err := store.PruneStaleTyping(ctx, convID, 5*time.Second)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, b, entries[0].UserID)
	assert.True(t, entries[0].At.Equal(clock.Now().Add(-2*time.Second)))

	members, err := mr.ZMembers(key)
	require.NoError(t, err)
	assert.Equal(t, []string{b.String()}, members)
}

func TestRedisTypingStoreRefreshAndRemove(t *testing.T) {
	ctx := context.Background()
	_, rdb := newMiniredis(t)
	clock := newTestClock()
	store := NewRedisTypingStore(rdb, logger.Nop()).(*redisTypingStore)
	store.now = clock.Now

	convID, a := uuid.New(), uuid.New()

	require.NoError(t, store.AddOrRefreshTyping(ctx, convID, a))
	clock.Advance(4 * time.Second)
	// повторный набор продлевает запись, а не дублирует ее
	require.NoError(t, store.AddOrRefreshTyping(ctx, convID, a))
	clock.Advance(4 * time.Second)

	entries, err := store.PruneStaleTyping(ctx, convID, 5*time.Second)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, a, entries[0].UserID)

	require.NoError(t, store.RemoveTyping(ctx, convID, a))
	entries, err = store.PruneStaleTyping(ctx, convID, 5*time.Second)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// неизвестный чат - пустой список, не ошибка
	entries, err = store.PruneStaleTyping(ctx, uuid.New(), 5*time.Second)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRedisTypingStoreUnavailable(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newMiniredis(t)
	store := NewRedisTypingStore(rdb, logger.Nop())
	mr.Close()

	assert.Error(t, store.AddOrRefreshTyping(ctx, uuid.New(), uuid.New()))
	_, err := store.PruneStaleTyping(ctx, uuid.New(), time.Second)
	assert.Error(t, err)
}

func TestRedisRateLimitFixedWindow(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newMiniredis(t)
	limiter := NewRateLimitRepository(rdb, logger.Nop())

	for i := int64(1); i <= 3; i++ {
		count, err := limiter.Hit(ctx, "send:u1", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i, count)
	}
	assert.Equal(t, time.Minute, mr.TTL("send:u1"))

	// окно отсчитывается от первого запроса, новые запросы его не продлевают
	mr.FastForward(30 * time.Second)
	count, err := limiter.Hit(ctx, "send:u1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)
	assert.Equal(t, 30*time.Second, mr.TTL("send:u1"))

	mr.FastForward(31 * time.Second)
	count, err = limiter.Hit(ctx, "send:u1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// ключи независимы
	count, err = limiter.Hit(ctx, "send:u2", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

type countingUsers struct {
	UserRepository
	byID  int
	byIDs [][]uuid.UUID
}

func (r *countingUsers) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	r.byID++
	return r.UserRepository.GetByID(ctx, id)
}

func (r *countingUsers) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*domain.User, error) {
	r.byIDs = append(r.byIDs, ids)
	return r.UserRepository.GetByIDs(ctx, ids)
}

func newTestUser(name string) *domain.User {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &domain.User{ID: uuid.New(), DisplayName: name, IsActive: true, CreatedAt: at, UpdatedAt: at}
}

func TestCachedUserRepositoryReadThrough(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newMiniredis(t)
	next := &countingUsers{UserRepository: NewMemoryUserRepository()}
	users := NewCachedUserRepository(next, rdb, 10*time.Minute, logger.Nop())

	alice := newTestUser("Alice")
	require.NoError(t, users.Create(ctx, alice))

	key := fmt.Sprintf(UserProfileKeyPrefix, alice.ID.String())
	assert.True(t, mr.Exists(key))
	assert.Equal(t, 10*time.Minute, mr.TTL(key))

	got, err := users.GetByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.DisplayName)
	assert.Equal(t, 0, next.byID)

	// профиль, созданный мимо кэша, читается из хранилища и кэшируется
	bob := newTestUser("Bob")
	require.NoError(t, next.UserRepository.Create(ctx, bob))

	got, err = users.GetByID(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, "Bob", got.DisplayName)
	assert.Equal(t, 1, next.byID)

	_, err = users.GetByID(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, next.byID)

	_, err = users.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCachedUserRepositoryBatchLoadsOnlyMisses(t *testing.T) {
	ctx := context.Background()
	_, rdb := newMiniredis(t)
	next := &countingUsers{UserRepository: NewMemoryUserRepository()}
	users := NewCachedUserRepository(next, rdb, time.Minute, logger.Nop())

	alice := newTestUser("Alice")
	require.NoError(t, users.Create(ctx, alice))
	bob := newTestUser("Bob")
	require.NoError(t, next.UserRepository.Create(ctx, bob))

	loaded, err := users.GetByIDs(ctx, []uuid.UUID{alice.ID, bob.ID})
	require.NoError(t, err)
	assert.Len(t, loaded, 2)
	require.Len(t, next.byIDs, 1)
	assert.Equal(t, []uuid.UUID{bob.ID}, next.byIDs[0])

	loaded, err = users.GetByIDs(ctx, []uuid.UUID{alice.ID, bob.ID})
	require.NoError(t, err)
	assert.Len(t, loaded, 2)
	assert.Len(t, next.byIDs, 1)

	loaded, err = users.GetByIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestCachedUserRepositoryUpdateInvalidates(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newMiniredis(t)
	next := &countingUsers{UserRepository: NewMemoryUserRepository()}
	users := NewCachedUserRepository(next, rdb, time.Minute, logger.Nop())

	alice := newTestUser("Alice")
	require.NoError(t, users.Create(ctx, alice))

	renamed := *alice
	renamed.DisplayName = "Alice B."
	require.NoError(t, users.Update(ctx, &renamed))
	assert.False(t, mr.Exists(fmt.Sprintf(UserProfileKeyPrefix, alice.ID.String())))

	got, err := users.GetByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice B.", got.DisplayName)
	assert.Equal(t, 1, next.byID)
}

func TestCachedUserRepositoryFallsBack(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newMiniredis(t)
	next := &countingUsers{UserRepository: NewMemoryUserRepository()}
	users := NewCachedUserRepository(next, rdb, time.Minute, logger.Nop())

	alice := newTestUser("Alice")
	require.NoError(t, next.UserRepository.Create(ctx, alice))

	// битое значение в кэше не ломает чтение
	require.NoError(t, mr.Set(fmt.Sprintf(UserProfileKeyPrefix, alice.ID.String()), "not json"))
	got, err := users.GetByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.DisplayName)

	mr.Close()

	got, err = users.GetByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.DisplayName)

	loaded, err := users.GetByIDs(ctx, []uuid.UUID{alice.ID})
	require.NoError(t, err)
	assert.Len(t, loaded, 1)
}
