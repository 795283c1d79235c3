package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"artisan_chat/internal/config"
	"artisan_chat/internal/domain"
	"artisan_chat/internal/repository"
	apperrors "artisan_chat/pkg/errors"
	"artisan_chat/pkg/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentEvent struct {
	conversationID uuid.UUID
	except         uuid.UUID
	event          string
	payload        interface{}
}

type fakeBroadcaster struct {
	mu      sync.Mutex
	events  []sentEvent
	evicted []uuid.UUID
	closed  []uuid.UUID
}

func (b *fakeBroadcaster) Broadcast(conversationID, exceptUserID uuid.UUID, event string, payload interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, sentEvent{conversationID, exceptUserID, event, payload})
}

func (b *fakeBroadcaster) Evict(conversationID, userID uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.evicted = append(b.evicted, userID)
}

func (b *fakeBroadcaster) CloseRoom(conversationID uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = append(b.closed, conversationID)
}

func (b *fakeBroadcaster) named(event string) []sentEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []sentEvent
	for _, e := range b.events {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	svc   ConversationService
	repos *repository.Repositories
	bc    *fakeBroadcaster
	clock *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clk := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	log := logger.Nop()
	repos := repository.NewMemoryRepositories(clk.Now, log)
	bc := &fakeBroadcaster{}
	cfg := &config.Config{Chat: config.ChatConfig{
		TypingTTL:             5 * time.Second,
		DefaultPageSize:       50,
		MaxPageSize:           100,
		ConversationsPageSize: 20,
	}}

	services := NewServices(repos, cfg, bc, log, WithClock(clk.Now))
	return &fixture{svc: services.Conversation, repos: repos, bc: bc, clock: clk}
}

func (f *fixture) user(t *testing.T, name string) uuid.UUID {
	t.Helper()
	u := &domain.User{ID: uuid.New(), DisplayName: name, IsActive: true}
	require.NoError(t, f.repos.User.Create(context.Background(), u))
	return u.ID
}

func (f *fixture) private(t *testing.T, a, b uuid.UUID) uuid.UUID {
	t.Helper()
	conv, created, err := f.svc.StartConversation(context.Background(), a, StartConversationInput{
		Kind:           domain.ConversationPrivate,
		ParticipantIDs: []uuid.UUID{b},
	})
	require.NoError(t, err)
	require.True(t, created)
	return conv.ID
}

func (f *fixture) group(t *testing.T, owner uuid.UUID, members ...uuid.UUID) uuid.UUID {
	t.Helper()
	name := "Potters"
	conv, _, err := f.svc.StartConversation(context.Background(), owner, StartConversationInput{
		Kind:           domain.ConversationGroup,
		ParticipantIDs: members,
		Name:           &name,
	})
	require.NoError(t, err)
	return conv.ID
}

func (f *fixture) send(t *testing.T, convID, sender uuid.UUID, content string) *domain.Message {
	t.Helper()
	msg, err := f.svc.SendMessage(context.Background(), convID, sender, SendMessageInput{Content: content})
	require.NoError(t, err)
	return msg
}

func TestStartPrivateConversationIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.user(t, "Alice"), f.user(t, "Bob")

	first := f.private(t, alice, bob)

	conv, created, err := f.svc.StartConversation(ctx, bob, StartConversationInput{
		Kind:           domain.ConversationPrivate,
		ParticipantIDs: []uuid.UUID{alice},
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first, conv.ID)
}

func TestStartPrivateConversationConcurrentlyYieldsOne(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.user(t, "Alice"), f.user(t, "Bob")

	var wg sync.WaitGroup
	ids := make([]uuid.UUID, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conv, _, err := f.svc.StartConversation(context.Background(), alice, StartConversationInput{
				Kind:           domain.ConversationPrivate,
				ParticipantIDs: []uuid.UUID{bob},
			})
			if assert.NoError(t, err) {
				ids[i] = conv.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestStartConversationValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.user(t, "Alice"), f.user(t, "Bob")

	_, _, err := f.svc.StartConversation(ctx, alice, StartConversationInput{
		Kind:           domain.ConversationPrivate,
		ParticipantIDs: []uuid.UUID{alice},
	})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, _, err = f.svc.StartConversation(ctx, alice, StartConversationInput{
		Kind:           domain.ConversationPrivate,
		ParticipantIDs: []uuid.UUID{uuid.New()},
	})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	blank := "   "
	_, _, err = f.svc.StartConversation(ctx, alice, StartConversationInput{
		Kind:           domain.ConversationGroup,
		ParticipantIDs: []uuid.UUID{bob},
		Name:           &blank,
	})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, _, err = f.svc.StartConversation(ctx, alice, StartConversationInput{Kind: "channel"})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestGroupCreatorBecomesAdmin(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.user(t, "Alice"), f.user(t, "Bob")

	convID := f.group(t, alice, bob)

	summary, err := f.svc.GetConversation(context.Background(), convID, bob)
	require.NoError(t, err)
	assert.Equal(t, "Potters", summary.Name)
	assert.Equal(t, []uuid.UUID{alice}, summary.Admins)
	assert.Len(t, summary.Participants, 2)
}

func TestSendMessageBroadcastsToOthersAndUpdatesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.user(t, "Alice"), f.user(t, "Bob")
	convID := f.private(t, alice, bob)

	msg := f.send(t, convID, alice, "  hello  ")
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, domain.MessageText, msg.Kind)
	assert.Equal(t, int64(1), msg.Seq)
	require.Len(t, msg.SeenBy, 1)
	assert.Equal(t, alice, msg.SeenBy[0].UserID)

	events := f.bc.named(domain.EventNewMessage)
	require.Len(t, events, 1)
	assert.Equal(t, alice, events[0].except)
	payload := events[0].payload.(domain.NewMessagePayload)
	assert.Equal(t, "Alice", payload.Sender.DisplayName)

	summary, err := f.svc.GetConversation(ctx, convID, bob)
	require.NoError(t, err)
	require.NotNil(t, summary.LastMessage)
	assert.Equal(t, msg.ID, summary.LastMessage.MessageID)
	assert.Equal(t, "Alice", summary.Name)
}

func TestConcurrentSendsCacheHighestSeq(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.user(t, "Alice"), f.user(t, "Bob")
	convID := f.group(t, alice, bob)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(sender uuid.UUID) {
			defer wg.Done()
			_, err := f.svc.SendMessage(ctx, convID, sender, SendMessageInput{Content: "hi"})
			assert.NoError(t, err)
		}([]uuid.UUID{alice, bob}[i%2])
	}
	wg.Wait()

	summary, err := f.svc.GetConversation(ctx, convID, alice)
	require.NoError(t, err)
	require.NotNil(t, summary.LastMessage)
	assert.Equal(t, int64(20), summary.LastMessage.Seq)

	// запоздавшее обновление более старым сообщением кэш не откатывает
	messages, _, err := f.svc.ListMessages(ctx, convID, alice, 1, 50)
	require.NoError(t, err)
	require.Len(t, messages, 20)
	require.NoError(t, f.repos.Conversations.UpdateLastMessageCache(ctx, convID, messages[0].Snapshot()))

	summary, err = f.svc.GetConversation(ctx, convID, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(20), summary.LastMessage.Seq)
}

func TestSendMessageRejectsInvalidInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob, eve := f.user(t, "Alice"), f.user(t, "Bob"), f.user(t, "Eve")
	convID := f.private(t, alice, bob)

	_, err := f.svc.SendMessage(ctx, convID, alice, SendMessageInput{Content: "   "})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = f.svc.SendMessage(ctx, convID, alice, SendMessageInput{
		Kind:        domain.MessageImage,
		Attachments: []domain.Attachment{{URL: "https://cdn/x.png"}},
	})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = f.svc.SendMessage(ctx, convID, eve, SendMessageInput{Content: "hi"})
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	_, err = f.svc.SendMessage(ctx, uuid.New(), alice, SendMessageInput{Content: "hi"})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	assert.Empty(t, f.bc.named(domain.EventNewMessage))
}

func TestSendMessageKeepsDanglingReply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.user(t, "Alice"), f.user(t, "Bob")
	convID := f.private(t, alice, bob)

	missing := uuid.New()
	msg, err := f.svc.SendMessage(ctx, convID, alice, SendMessageInput{Content: "re", ReplyToID: &missing})
	require.NoError(t, err)
	require.NotNil(t, msg.ReplyToID)
	assert.Equal(t, missing, *msg.ReplyToID)

	_, err = f.svc.GetMessage(ctx, convID, missing, alice)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestReplySurvivesDeletedTarget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.user(t, "Alice"), f.user(t, "Bob")
	convID := f.private(t, alice, bob)

	target := f.send(t, convID, bob, "question")
	f.clock.Advance(time.Second)
	reply, err := f.svc.SendMessage(ctx, convID, alice, SendMessageInput{Content: "answer", ReplyToID: &target.ID})
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteMessage(ctx, convID, target.ID, bob))

	messages, _, err := f.svc.ListMessages(ctx, convID, alice, 1, 50)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, reply.ID, messages[0].ID)
	require.NotNil(t, messages[0].ReplyToID)
	assert.Equal(t, target.ID, *messages[0].ReplyToID)
}

func TestSendAttachmentOnlyMessage(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.user(t, "Alice"), f.user(t, "Bob")
	convID := f.private(t, alice, bob)

	msg, err := f.svc.SendMessage(context.Background(), convID, alice, SendMessageInput{
		Kind:        domain.MessageFile,
		Attachments: []domain.Attachment{{URL: "https://cdn/brief.pdf", FileName: "brief.pdf", FileSize: 2048}},
	})
	require.NoError(t, err)
	assert.Empty(t, msg.Content)
	assert.Len(t, msg.Attachments, 1)
}

func TestListMessagesPagesNewestFirstButReturnsAscending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.user(t, "Alice"), f.user(t, "Bob")
	convID := f.private(t, alice, bob)

	for _, c := range []string{"1", "2", "3", "4", "5"} {
		f.send(t, convID, alice, c)
	}

	page1, p, err := f.svc.ListMessages(ctx, convID, bob, 1, 2)
	require.NoError(t, err)
	require.Len(t, page1, 2)
	assert.Equal(t, "4", page1[0].Content)
	assert.Equal(t, "5", page1[1].Content)
	assert.Equal(t, 3, p.Total)
	assert.True(t, p.HasMore)

	page3, p, err := f.svc.ListMessages(ctx, convID, bob, 3, 2)
	require.NoError(t, err)
	require.Len(t, page3, 1)
	assert.Equal(t, "1", page3[0].Content)
	assert.False(t, p.HasMore)

	empty, _, err := f.svc.ListMessages(ctx, convID, bob, 9, 2)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMarkSeenIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.user(t, "Alice"), f.user(t, "Bob")
	convID := f.private(t, alice, bob)
	msg := f.send(t, convID, alice, "look")

	require.NoError(t, f.svc.MarkSeen(ctx, convID, msg.ID, bob))
	require.NoError(t, f.svc.MarkSeen(ctx, convID, msg.ID, bob))

	stored, err := f.svc.GetMessage(ctx, convID, msg.ID, alice)
	require.NoError(t, err)
	assert.Len(t, stored.SeenBy, 2)
	assert.Len(t, f.bc.named(domain.EventMessageSeen), 1)

	// отправитель уже в seen_by
	require.NoError(t, f.svc.MarkSeen(ctx, convID, msg.ID, alice))
	assert.Len(t, f.bc.named(domain.EventMessageSeen), 1)
}

func TestEditMessageOnlyBySender(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.user(t, "Alice"), f.user(t, "Bob")
	convID := f.private(t, alice, bob)
	msg := f.send(t, convID, alice, "draft")

	_, err := f.svc.EditMessage(ctx, convID, msg.ID, bob, "hacked")
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	_, err = f.svc.EditMessage(ctx, convID, msg.ID, alice, "  ")
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	f.clock.Advance(time.Minute)
	edited, err := f.svc.EditMessage(ctx, convID, msg.ID, alice, "final")
	require.NoError(t, err)
	assert.True(t, edited.Edited)
	assert.Equal(t, f.clock.Now(), *edited.EditedAt)

	summary, err := f.svc.GetConversation(ctx, convID, alice)
	require.NoError(t, err)
	assert.Equal(t, "final", summary.LastMessage.Content)
	assert.Len(t, f.bc.named(domain.EventMessageEdited), 1)
}

func TestDeleteMessageRecomputesLastMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.user(t, "Alice"), f.user(t, "Bob")
	convID := f.private(t, alice, bob)
	first := f.send(t, convID, alice, "first")
	second := f.send(t, convID, bob, "second")

	err := f.svc.DeleteMessage(ctx, convID, second.ID, alice)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	require.NoError(t, f.svc.DeleteMessage(ctx, convID, second.ID, bob))

	summary, err := f.svc.GetConversation(ctx, convID, alice)
	require.NoError(t, err)
	require.NotNil(t, summary.LastMessage)
	assert.Equal(t, first.ID, summary.LastMessage.MessageID)

	require.NoError(t, f.svc.DeleteMessage(ctx, convID, first.ID, alice))
	summary, err = f.svc.GetConversation(ctx, convID, alice)
	require.NoError(t, err)
	assert.Nil(t, summary.LastMessage)

	err = f.svc.DeleteMessage(ctx, convID, first.ID, alice)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Len(t, f.bc.named(domain.EventMessageDeleted), 2)
}

func TestGroupAdminCanDeleteOthersMessages(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.user(t, "Alice"), f.user(t, "Bob")
	convID := f.group(t, alice, bob)
	ctx := context.Background()
	earlier := f.send(t, convID, alice, "welcome")
	f.clock.Advance(time.Second)
	msg := f.send(t, convID, bob, "spam")

	require.NoError(t, f.svc.DeleteMessage(ctx, convID, msg.ID, alice))

	messages, _, err := f.svc.ListMessages(ctx, convID, alice, 1, 50)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, earlier.ID, messages[0].ID)

	summary, err := f.svc.GetConversation(ctx, convID, bob)
	require.NoError(t, err)
	require.NotNil(t, summary.LastMessage)
	assert.Equal(t, earlier.ID, summary.LastMessage.MessageID)
}

func TestGroupMemberCannotDeleteOthersMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob, carol := f.user(t, "Alice"), f.user(t, "Bob"), f.user(t, "Carol")
	convID := f.group(t, alice, bob, carol)
	msg := f.send(t, convID, bob, "mine")

	err := f.svc.DeleteMessage(ctx, convID, msg.ID, carol)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	_, err = f.svc.GetMessage(ctx, convID, msg.ID, carol)
	require.NoError(t, err)
	assert.Empty(t, f.bc.named(domain.EventMessageDeleted))
}

func TestDeleteConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.user(t, "Alice"), f.user(t, "Bob")

	groupID := f.group(t, alice, bob)
	assert.ErrorIs(t, f.svc.DeleteConversation(ctx, groupID, bob), apperrors.ErrForbidden)
	require.NoError(t, f.svc.DeleteConversation(ctx, groupID, alice))
	assert.Equal(t, []uuid.UUID{groupID}, f.bc.closed)

	_, err := f.svc.GetConversation(ctx, groupID, alice)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	privateID := f.private(t, alice, bob)
	require.NoError(t, f.svc.DeleteConversation(ctx, privateID, bob))
	assert.Len(t, f.bc.named(domain.EventConversationDeleted), 2)
}

func TestTypingExpiresAfterTTL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.user(t, "Alice"), f.user(t, "Bob")
	convID := f.private(t, alice, bob)

	require.NoError(t, f.svc.SetTyping(ctx, convID, alice, true))
	users, err := f.svc.TypingUsers(ctx, convID, bob)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{alice}, users)

	f.clock.Advance(6 * time.Second)
	users, err = f.svc.TypingUsers(ctx, convID, bob)
	require.NoError(t, err)
	assert.Empty(t, users)

	require.NoError(t, f.svc.SetTyping(ctx, convID, alice, true))
	require.NoError(t, f.svc.SetTyping(ctx, convID, alice, false))
	users, err = f.svc.TypingUsers(ctx, convID, bob)
	require.NoError(t, err)
	assert.Empty(t, users)

	assert.Len(t, f.bc.named(domain.EventUserTyping), 2)
	assert.Len(t, f.bc.named(domain.EventUserStopTyping), 1)
}

func TestAuthorizeJoin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob, eve := f.user(t, "Alice"), f.user(t, "Bob"), f.user(t, "Eve")
	convID := f.private(t, alice, bob)

	assert.NoError(t, f.svc.AuthorizeJoin(ctx, convID, bob))
	assert.ErrorIs(t, f.svc.AuthorizeJoin(ctx, convID, eve), apperrors.ErrForbidden)
	assert.ErrorIs(t, f.svc.AuthorizeJoin(ctx, uuid.New(), bob), apperrors.ErrNotFound)
}

func TestMembershipChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob, carol := f.user(t, "Alice"), f.user(t, "Bob"), f.user(t, "Carol")
	convID := f.group(t, alice, bob)

	_, err := f.svc.AddParticipants(ctx, convID, bob, []uuid.UUID{carol})
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	summary, err := f.svc.AddParticipants(ctx, convID, alice, []uuid.UUID{carol, bob})
	require.NoError(t, err)
	assert.Len(t, summary.Participants, 3)

	// единственный админ уходит: права переходят к следующему участнику
	require.NoError(t, f.svc.RemoveParticipant(ctx, convID, alice, alice))
	assert.Equal(t, []uuid.UUID{alice}, f.bc.evicted)

	summary, err = f.svc.GetConversation(ctx, convID, bob)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{bob}, summary.Admins)

	assert.ErrorIs(t, f.svc.RemoveParticipant(ctx, convID, carol, bob), apperrors.ErrForbidden)
	require.NoError(t, f.svc.RemoveParticipant(ctx, convID, bob, carol))
	require.NoError(t, f.svc.RemoveParticipant(ctx, convID, bob, bob))

	_, err = f.svc.GetConversation(ctx, convID, bob)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestPrivateMembershipIsFixed(t *testing.T) {
	f := newFixture(t)
	alice, bob, carol := f.user(t, "Alice"), f.user(t, "Bob"), f.user(t, "Carol")
	convID := f.private(t, alice, bob)

	_, err := f.svc.AddParticipants(context.Background(), convID, alice, []uuid.UUID{carol})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestListMyConversationsWithPreferences(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob, carol := f.user(t, "Alice"), f.user(t, "Bob"), f.user(t, "Carol")

	older := f.private(t, alice, bob)
	f.clock.Advance(time.Second)
	newer := f.private(t, alice, carol)

	require.NoError(t, f.svc.SetPinned(ctx, older, alice, true))
	require.NoError(t, f.svc.SetMuted(ctx, newer, alice, true, nil))

	summaries, p, err := f.svc.ListMyConversations(ctx, alice, 0, 0)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, 1, p.Current)
	assert.Equal(t, newer, summaries[0].ID)
	assert.Equal(t, "Carol", summaries[0].Name)
	assert.True(t, summaries[0].IsMuted)
	assert.True(t, summaries[1].IsPinned)

	// новое сообщение поднимает чат наверх
	f.clock.Advance(time.Second)
	f.send(t, older, bob, "ping")
	summaries, _, err = f.svc.ListMyConversations(ctx, alice, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, older, summaries[0].ID)

	// настройки одного пользователя не видны другому
	summaries, _, err = f.svc.ListMyConversations(ctx, bob, 1, 20)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.False(t, summaries[0].IsPinned)
}

func TestSetMutedRejectsPastDeadline(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.user(t, "Alice"), f.user(t, "Bob")
	convID := f.private(t, alice, bob)

	past := f.clock.Now().Add(-time.Minute)
	err := f.svc.SetMuted(context.Background(), convID, alice, true, &past)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestUpdateGroupInfo(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.user(t, "Alice"), f.user(t, "Bob")
	convID := f.group(t, alice, bob)

	name := " Ceramics "
	summary, err := f.svc.UpdateGroupInfo(context.Background(), convID, alice, domain.GroupInfo{DisplayName: &name})
	require.NoError(t, err)
	assert.Equal(t, "Ceramics", summary.Name)

	_, err = f.svc.UpdateGroupInfo(context.Background(), convID, bob, domain.GroupInfo{DisplayName: &name})
	assert.ErrorIs(t, err, apperrors.ErrForbidden)
}

func TestConcurrentSendsGetDistinctSeq(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.user(t, "Alice"), f.user(t, "Bob")
	convID := f.private(t, alice, bob)

	var wg sync.WaitGroup
	seqs := make(chan int64, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			msg, err := f.svc.SendMessage(context.Background(), convID, alice, SendMessageInput{Content: "x"})
			if assert.NoError(t, err) {
				seqs <- msg.Seq
			}
		}()
	}
	wg.Wait()
	close(seqs)

	seen := make(map[int64]bool)
	for s := range seqs {
		assert.False(t, seen[s])
		seen[s] = true
	}
	assert.Len(t, seen, 20)
}
