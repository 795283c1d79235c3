package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"artisan_chat/internal/domain"
	apperrors "artisan_chat/pkg/errors"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newConversation(kind domain.ConversationKind, at time.Time, participants ...uuid.UUID) *domain.Conversation {
	return &domain.Conversation{
		ID:           uuid.New(),
		Kind:         kind,
		Participants: participants,
		CreatedAt:    at,
		UpdatedAt:    at,
	}
}

func TestMemoryStoreRejectsDuplicatePrivatePair(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	store := NewMemoryConversationStore(clock.Now)
	a, b := uuid.New(), uuid.New()

	first := newConversation(domain.ConversationPrivate, clock.Now(), a, b)
	require.NoError(t, store.Create(ctx, first))

	err := store.Create(ctx, newConversation(domain.ConversationPrivate, clock.Now(), b, a))
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	found, err := store.FindPrivate(ctx, b, a)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, first.ID, found.ID)

	// группа с теми же участниками - не дубликат
	assert.NoError(t, store.Create(ctx, newConversation(domain.ConversationGroup, clock.Now(), a, b)))
}

func TestMemoryStoreAppendAssignsIncreasingSeq(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	store := NewMemoryConversationStore(clock.Now)
	a, b := uuid.New(), uuid.New()
	conv := newConversation(domain.ConversationPrivate, clock.Now(), a, b)
	require.NoError(t, store.Create(ctx, conv))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			msg := &domain.Message{ID: uuid.New(), SenderID: a, Content: "hi", Kind: domain.MessageText, CreatedAt: clock.Now()}
			assert.NoError(t, store.AppendMessage(ctx, conv.ID, msg))
		}()
	}
	wg.Wait()

	loaded, err := store.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Messages, 20)

	seen := map[int64]bool{}
	for _, m := range loaded.Messages {
		assert.False(t, seen[m.Seq], "seq %d assigned twice", m.Seq)
		seen[m.Seq] = true
	}
	assert.Equal(t, int64(20), loaded.Latest().Seq)
}

func TestMemoryStoreAppendBumpsUpdatedAt(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	store := NewMemoryConversationStore(clock.Now)
	conv := newConversation(domain.ConversationGroup, clock.Now(), uuid.New())
	require.NoError(t, store.Create(ctx, conv))

	clock.Advance(time.Minute)
	msg := &domain.Message{ID: uuid.New(), SenderID: conv.Participants[0], Kind: domain.MessageText, CreatedAt: clock.Now()}
	require.NoError(t, store.AppendMessage(ctx, conv.ID, msg))
	assert.Equal(t, int64(1), msg.Seq)

	loaded, err := store.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, clock.Now(), loaded.UpdatedAt)
	assert.Nil(t, loaded.LastMessage)
}

func TestMemoryStorePatchSeenIsIdempotent(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	store := NewMemoryConversationStore(clock.Now)
	a, b := uuid.New(), uuid.New()
	conv := newConversation(domain.ConversationPrivate, clock.Now(), a, b)
	require.NoError(t, store.Create(ctx, conv))

	msg := &domain.Message{ID: uuid.New(), SenderID: a, Kind: domain.MessageText, CreatedAt: clock.Now()}
	require.NoError(t, store.AppendMessage(ctx, conv.ID, msg))

	receipt := domain.SeenReceipt{UserID: b, SeenAt: clock.Now()}
	for i := 0; i < 3; i++ {
		patched, err := store.PatchMessage(ctx, conv.ID, msg.ID, domain.MessagePatch{AddSeen: &receipt})
		require.NoError(t, err)
		assert.Len(t, patched.SeenBy, 1)
	}
}

func TestMemoryStoreRemoveMessage(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	store := NewMemoryConversationStore(clock.Now)
	a := uuid.New()
	conv := newConversation(domain.ConversationGroup, clock.Now(), a)
	require.NoError(t, store.Create(ctx, conv))

	first := &domain.Message{ID: uuid.New(), SenderID: a, Kind: domain.MessageText, CreatedAt: clock.Now()}
	second := &domain.Message{ID: uuid.New(), SenderID: a, Kind: domain.MessageText, CreatedAt: clock.Now()}
	require.NoError(t, store.AppendMessage(ctx, conv.ID, first))
	require.NoError(t, store.AppendMessage(ctx, conv.ID, second))

	require.NoError(t, store.RemoveMessage(ctx, conv.ID, second.ID))
	assert.ErrorIs(t, store.RemoveMessage(ctx, conv.ID, second.ID), ErrNotFound)

	latest, err := store.LatestMessage(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, latest.ID)

	require.NoError(t, store.RemoveMessage(ctx, conv.ID, first.ID))
	latest, err = store.LatestMessage(ctx, conv.ID)
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestMemoryStoreListForUserOrdersByActivity(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	store := NewMemoryConversationStore(clock.Now)
	me := uuid.New()

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		conv := newConversation(domain.ConversationPrivate, clock.Now(), me, uuid.New())
		require.NoError(t, store.Create(ctx, conv))
		ids = append(ids, conv.ID)
		clock.Advance(time.Second)
	}
	require.NoError(t, store.Create(ctx, newConversation(domain.ConversationPrivate, clock.Now(), uuid.New(), uuid.New())))

	// сообщение поднимает первый чат наверх
	clock.Advance(time.Second)
	require.NoError(t, store.AppendMessage(ctx, ids[0], &domain.Message{ID: uuid.New(), SenderID: me, Kind: domain.MessageText}))

	page, total, err := store.ListForUser(ctx, me, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 2)
	assert.Equal(t, ids[0], page[0].ID)
	assert.Equal(t, ids[2], page[1].ID)
	assert.Empty(t, page[0].Messages)

	page, _, err = store.ListForUser(ctx, me, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, ids[1], page[0].ID)
}

func TestMemoryStoreTypingPrune(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	store := NewMemoryConversationStore(clock.Now)
	a, b := uuid.New(), uuid.New()
	conv := newConversation(domain.ConversationPrivate, clock.Now(), a, b)
	require.NoError(t, store.Create(ctx, conv))

	require.NoError(t, store.AddOrRefreshTyping(ctx, conv.ID, a))
	clock.Advance(4 * time.Second)
	require.NoError(t, store.AddOrRefreshTyping(ctx, conv.ID, b))
	clock.Advance(2 * time.Second)

	entries, err := store.PruneStaleTyping(ctx, conv.ID, 5*time.Second)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, b, entries[0].UserID)

	require.NoError(t, store.RemoveTyping(ctx, conv.ID, b))
	entries, err = store.PruneStaleTyping(ctx, conv.ID, 5*time.Second)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMemoryStorePreferences(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	store := NewMemoryConversationStore(clock.Now)
	a := uuid.New()
	conv := newConversation(domain.ConversationGroup, clock.Now(), a)
	require.NoError(t, store.Create(ctx, conv))

	require.NoError(t, store.SetPin(ctx, conv.ID, a, &domain.PinPreference{PinnedAt: clock.Now()}))
	require.NoError(t, store.SetMute(ctx, conv.ID, a, &domain.MutePreference{}))

	loaded, err := store.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.True(t, loaded.IsPinnedBy(a))
	assert.True(t, loaded.IsMutedFor(a, clock.Now()))

	require.NoError(t, store.SetPin(ctx, conv.ID, a, nil))
	loaded, err = store.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.False(t, loaded.IsPinnedBy(a))
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	store := NewMemoryConversationStore(clock.Now)
	a := uuid.New()
	conv := newConversation(domain.ConversationGroup, clock.Now(), a)
	require.NoError(t, store.Create(ctx, conv))

	loaded, err := store.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	loaded.Participants = append(loaded.Participants, uuid.New())

	again, err := store.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Len(t, again.Participants, 1)
}

func TestMemoryStoreMissingConversation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryConversationStore(nil)
	id := uuid.New()

	_, err := store.GetByID(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, id), ErrNotFound)
	assert.ErrorIs(t, store.AppendMessage(ctx, id, &domain.Message{ID: uuid.New()}), ErrNotFound)
}

func TestMemoryRateLimitWindow(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	limiter := NewMemoryRateLimitRepository(clock.Now)

	for i := int64(1); i <= 3; i++ {
		count, err := limiter.Hit(ctx, "k", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i, count)
	}

	clock.Advance(time.Minute)
	count, err := limiter.Hit(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
