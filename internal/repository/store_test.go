package repository

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"artisan_chat/internal/domain"
	"artisan_chat/pkg/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Общий набор проверок для всех реализаций ConversationStore. Внешние
// хранилища подключаются только при заданных TEST_DATABASE_DSN и TEST_MONGO_URI.

type storeFactory func(t *testing.T) ConversationStore

func TestMemoryConversationStoreContract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) ConversationStore {
		return NewMemoryConversationStore(nil)
	})
}

func TestPostgresConversationStoreContract(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("TEST_DATABASE_DSN is not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, Migrate(ctx, pool))

	_, rdb := newMiniredis(t)
	typing := NewRedisTypingStore(rdb, logger.Nop())

	runStoreContract(t, func(t *testing.T) ConversationStore {
		return NewPostgresConversationStore(pool, typing, logger.Nop())
	})
}

func TestMongoConversationStoreContract(t *testing.T) {
	uri := os.Getenv("TEST_MONGO_URI")
	if uri == "" {
		t.Skip("TEST_MONGO_URI is not set")
	}

	ctx := context.Background()
	client, err := ConnectMongo(ctx, uri, 0)
	require.NoError(t, err)

	db := client.Database("artisan_chat_test_" + uuid.NewString()[:8])
	require.NoError(t, EnsureMongoIndexes(ctx, db))
	t.Cleanup(func() {
		_ = db.Drop(context.Background())
		_ = client.Disconnect(context.Background())
	})

	runStoreContract(t, func(t *testing.T) ConversationStore {
		return NewMongoConversationStore(db, logger.Nop())
	})
}

func runStoreContract(t *testing.T, open storeFactory) {
	t.Run("private pair is created once", func(t *testing.T) { contractPrivatePair(t, open(t)) })
	t.Run("concurrent appends get distinct seq", func(t *testing.T) { contractAppendSeq(t, open(t)) })
	t.Run("seen receipt is idempotent", func(t *testing.T) { contractSeenIdempotent(t, open(t)) })
	t.Run("remove message and latest", func(t *testing.T) { contractRemoveMessage(t, open(t)) })
	t.Run("last message cache never moves back", func(t *testing.T) { contractLastMessageCache(t, open(t)) })
	t.Run("content and reply stored as given", func(t *testing.T) { contractStoredAsGiven(t, open(t)) })
	t.Run("typing prune", func(t *testing.T) { contractTyping(t, open(t)) })
	t.Run("missing conversation", func(t *testing.T) { contractMissing(t, open(t)) })
}

func createConversation(t *testing.T, store ConversationStore, kind domain.ConversationKind, participants ...uuid.UUID) *domain.Conversation {
	t.Helper()
	conv := newConversation(kind, time.Now().UTC(), participants...)
	require.NoError(t, store.Create(context.Background(), conv))
	return conv
}

func appendText(t *testing.T, store ConversationStore, convID, sender uuid.UUID, content string) *domain.Message {
	t.Helper()
	msg := &domain.Message{
		ID:        uuid.New(),
		SenderID:  sender,
		Content:   content,
		Kind:      domain.MessageText,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.AppendMessage(context.Background(), convID, msg))
	return msg
}

func contractPrivatePair(t *testing.T, store ConversationStore) {
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		created   []uuid.UUID
		conflicts int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pair := []uuid.UUID{a, b}
			if i%2 == 1 {
				pair = []uuid.UUID{b, a}
			}
			conv := newConversation(domain.ConversationPrivate, time.Now().UTC(), pair...)
			err := store.Create(ctx, conv)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created = append(created, conv.ID)
			case assert.ErrorIs(t, err, ErrDuplicate):
				conflicts++
			}
		}(i)
	}
	wg.Wait()

	require.Len(t, created, 1)
	assert.Equal(t, 7, conflicts)

	found, err := store.FindPrivate(ctx, b, a)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, created[0], found.ID)

	none, err := store.FindPrivate(ctx, a, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, none)
}

func contractAppendSeq(t *testing.T, store ConversationStore) {
	ctx := context.Background()
	a := uuid.New()
	conv := createConversation(t, store, domain.ConversationGroup, a)

	var wg sync.WaitGroup
	seqs := make([]int64, 20)
	for i := range seqs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg := &domain.Message{ID: uuid.New(), SenderID: a, Content: "hi", Kind: domain.MessageText, CreatedAt: time.Now().UTC()}
			if assert.NoError(t, store.AppendMessage(ctx, conv.ID, msg)) {
				seqs[i] = msg.Seq
			}
		}(i)
	}
	wg.Wait()

	seen := map[int64]bool{}
	for _, seq := range seqs {
		assert.False(t, seen[seq], "seq %d assigned twice", seq)
		seen[seq] = true
	}
	for seq := int64(1); seq <= 20; seq++ {
		assert.True(t, seen[seq], "seq %d missing", seq)
	}

	loaded, err := store.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Len(t, loaded.Messages, 20)

	latest, err := store.LatestMessage(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(20), latest.Seq)
}

func contractSeenIdempotent(t *testing.T, store ConversationStore) {
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()
	conv := createConversation(t, store, domain.ConversationPrivate, a, b)
	msg := appendText(t, store, conv.ID, a, "hello")

	receipt := domain.SeenReceipt{UserID: b, SeenAt: time.Now().UTC()}
	for i := 0; i < 3; i++ {
		patched, err := store.PatchMessage(ctx, conv.ID, msg.ID, domain.MessagePatch{AddSeen: &receipt})
		require.NoError(t, err)
		require.Len(t, patched.SeenBy, 1)
		assert.Equal(t, b, patched.SeenBy[0].UserID)
	}

	_, err := store.PatchMessage(ctx, conv.ID, uuid.New(), domain.MessagePatch{AddSeen: &receipt})
	assert.ErrorIs(t, err, ErrNotFound)
}

func contractRemoveMessage(t *testing.T, store ConversationStore) {
	ctx := context.Background()
	a := uuid.New()
	conv := createConversation(t, store, domain.ConversationGroup, a)
	first := appendText(t, store, conv.ID, a, "first")
	second := appendText(t, store, conv.ID, a, "second")

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

func contractLastMessageCache(t *testing.T, store ConversationStore) {
	ctx := context.Background()
	a := uuid.New()
	conv := createConversation(t, store, domain.ConversationGroup, a)
	first := appendText(t, store, conv.ID, a, "first")
	second := appendText(t, store, conv.ID, a, "second")

	cached := func() *domain.LastMessage {
		t.Helper()
		header, err := store.GetHeader(ctx, conv.ID)
		require.NoError(t, err)
		return header.LastMessage
	}

	// обновления кэша пришли в обратном порядке
	require.NoError(t, store.UpdateLastMessageCache(ctx, conv.ID, second.Snapshot()))
	require.NoError(t, store.UpdateLastMessageCache(ctx, conv.ID, first.Snapshot()))
	require.NotNil(t, cached())
	assert.Equal(t, second.ID, cached().MessageID)
	assert.Equal(t, second.Seq, cached().Seq)

	// очистка при живых сообщениях отбрасывается
	require.NoError(t, store.UpdateLastMessageCache(ctx, conv.ID, nil))
	require.NotNil(t, cached())

	// после удаления кэш возвращается к более старому сообщению
	require.NoError(t, store.RemoveMessage(ctx, conv.ID, second.ID))
	require.NoError(t, store.UpdateLastMessageCache(ctx, conv.ID, first.Snapshot()))
	assert.Equal(t, first.ID, cached().MessageID)

	require.NoError(t, store.RemoveMessage(ctx, conv.ID, first.ID))
	require.NoError(t, store.UpdateLastMessageCache(ctx, conv.ID, nil))
	assert.Nil(t, cached())
}

func contractStoredAsGiven(t *testing.T, store ConversationStore) {
	ctx := context.Background()
	a := uuid.New()
	conv := createConversation(t, store, domain.ConversationGroup, a)

	dangling := uuid.New()
	msg := &domain.Message{
		ID:        uuid.New(),
		SenderID:  a,
		Content:   `{"$set": {"price": "$total"}}`,
		Kind:      domain.MessageText,
		ReplyToID: &dangling,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.AppendMessage(ctx, conv.ID, msg))

	got, err := store.GetMessage(ctx, conv.ID, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, msg.Content, got.Content)
	assert.Equal(t, msg.Seq, got.Seq)
	require.NotNil(t, got.ReplyToID)
	assert.Equal(t, dangling, *got.ReplyToID)

	_, err = store.GetMessage(ctx, conv.ID, dangling)
	assert.ErrorIs(t, err, ErrNotFound)
}

func contractTyping(t *testing.T, store ConversationStore) {
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()
	conv := createConversation(t, store, domain.ConversationPrivate, a, b)

	require.NoError(t, store.AddOrRefreshTyping(ctx, conv.ID, a))
	require.NoError(t, store.AddOrRefreshTyping(ctx, conv.ID, a))

	entries, err := store.PruneStaleTyping(ctx, conv.ID, time.Minute)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, a, entries[0].UserID)

	require.NoError(t, store.RemoveTyping(ctx, conv.ID, a))
	entries, err = store.PruneStaleTyping(ctx, conv.ID, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func contractMissing(t *testing.T, store ConversationStore) {
	ctx := context.Background()
	id := uuid.New()

	_, err := store.GetByID(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetHeader(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, id), ErrNotFound)
	assert.ErrorIs(t, store.AppendMessage(ctx, id, &domain.Message{ID: uuid.New(), Kind: domain.MessageText}), ErrNotFound)
	assert.ErrorIs(t, store.UpdateLastMessageCache(ctx, id, nil), ErrNotFound)
}
