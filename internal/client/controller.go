package client

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"artisan_chat/internal/domain"
	apperrors "artisan_chat/pkg/errors"
	"artisan_chat/pkg/logger"

	"github.com/google/uuid"
)

const historyPageSize = 50

var (
	ErrNoActiveConversation = errors.New("no active conversation")
	ErrEntryNotFound        = errors.New("entry not found")
)

type EntryState int

const (
	// Pending - отправлено, ответа сервера еще нет
	Pending EntryState = iota
	// Confirmed - сообщение в том виде, в каком его хранит сервер
	Confirmed
	// Failed - отправка не удалась, можно повторить через Retry
	Failed
)

func (s EntryState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Confirmed:
		return "confirmed"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Entry - строка ленты сообщений. У локально отправленных есть LocalID,
// у пришедших с сервера LocalID пустой.
type Entry struct {
	LocalID uuid.UUID
	State   EntryState
	Message domain.Message
	Draft   Draft
	Err     error
}

// Notifier показывает пользователю временное уведомление об ошибке
type Notifier interface {
	Notify(message string)
}

type NotifierFunc func(message string)

func (f NotifierFunc) Notify(message string) { f(message) }

type Option func(*Controller)

func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

func WithTypingIdle(idle time.Duration) Option {
	return func(c *Controller) { c.typingIdle = idle }
}

func WithLogger(log logger.Logger) Option {
	return func(c *Controller) { c.log = log }
}

// Controller держит клиентское состояние: список чатов, активный чат и его ленту.
// Все методы безопасны для вызова из разных горутин.
type Controller struct {
	mu sync.Mutex

	self   uuid.UUID
	api    API
	signal Signaler
	notify Notifier
	typing *TypingDebouncer
	log    logger.Logger

	now        func() time.Time
	typingIdle time.Duration

	conversations []domain.ConversationSummary
	activeID      uuid.UUID
	openSeq       uint64
	entries       []*Entry
	typingUsers   map[uuid.UUID]struct{}
}

func New(self uuid.UUID, api API, signal Signaler, notify Notifier, opts ...Option) *Controller {
	c := &Controller{
		self:        self,
		api:         api,
		signal:      signal,
		notify:      notify,
		log:         logger.Nop(),
		now:         time.Now,
		typingIdle:  DefaultTypingIdle,
		typingUsers: make(map[uuid.UUID]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.typing = NewTypingDebouncer(signal, c.typingIdle, func(err error) {
		c.log.Debug("Typing signal failed", "error", err)
	})
	return c
}

func (c *Controller) LoadConversations(ctx context.Context, page, limit int) error {
	conversations, _, err := c.api.ListConversations(ctx, page, limit)
	if err != nil {
		c.fail("Failed to load conversations", err)
		return err
	}

	c.mu.Lock()
	c.conversations = conversations
	c.mu.Unlock()
	return nil
}

// Open делает чат активным: лента заменяется целиком свежей историей
func (c *Controller) Open(ctx context.Context, conversationID uuid.UUID) error {
	c.typing.Stop()

	c.mu.Lock()
	c.openSeq++
	seq := c.openSeq
	c.mu.Unlock()

	// старую комнату покидаем только после успешной загрузки: при ошибке на экране остается прежний чат
	messages, _, err := c.api.ListMessages(ctx, conversationID, 1, historyPageSize)
	if err != nil {
		c.fail("Failed to load messages", err)
		return err
	}

	c.mu.Lock()
	if seq != c.openSeq {
		// пока грузили, открыли другой чат
		c.mu.Unlock()
		return nil
	}
	previous := c.activeID
	c.activeID = conversationID
	c.entries = confirmedEntries(messages)
	c.typingUsers = make(map[uuid.UUID]struct{})
	c.mu.Unlock()

	if previous != uuid.Nil && previous != conversationID {
		if err := c.signal.Leave(previous); err != nil {
			c.log.Debug("Failed to leave conversation", "error", err)
		}
	}

	if err := c.signal.Join(conversationID); err != nil {
		c.fail("Failed to subscribe to conversation", err)
		return err
	}
	return nil
}

// Send добавляет Pending сразу и подтверждает или помечает Failed по ответу сервера
func (c *Controller) Send(ctx context.Context, draft Draft) (uuid.UUID, error) {
	if draft.Kind == "" {
		draft.Kind = domain.MessageText
	}

	c.mu.Lock()
	if c.activeID == uuid.Nil {
		c.mu.Unlock()
		return uuid.Nil, ErrNoActiveConversation
	}
	conversationID := c.activeID
	entry := c.pendingEntry(conversationID, draft)
	c.entries = append(c.entries, entry)
	c.mu.Unlock()

	c.typing.Stop()
	return entry.LocalID, c.deliver(ctx, conversationID, entry.LocalID, draft)
}

// Retry повторно отправляет Failed-запись
func (c *Controller) Retry(ctx context.Context, localID uuid.UUID) error {
	c.mu.Lock()
	entry := c.findLocal(localID)
	if entry == nil || entry.State != Failed {
		c.mu.Unlock()
		return ErrEntryNotFound
	}
	entry.State = Pending
	entry.Err = nil
	entry.Message.CreatedAt = c.now()
	draft := entry.Draft
	conversationID := c.activeID
	c.mu.Unlock()

	return c.deliver(ctx, conversationID, localID, draft)
}

func (c *Controller) deliver(ctx context.Context, conversationID, localID uuid.UUID, draft Draft) error {
	msg, err := c.api.SendMessage(ctx, conversationID, draft)

	c.mu.Lock()
	if conversationID != c.activeID {
		// ленту уже заменили
		c.mu.Unlock()
		if err != nil {
			c.fail("Failed to send message", err)
		}
		return err
	}

	if err != nil {
		if entry := c.findLocal(localID); entry != nil {
			entry.State = Failed
			entry.Err = err
		}
		c.mu.Unlock()
		c.fail("Failed to send message", err)
		return err
	}

	c.confirmLocked(localID, msg)
	c.touchSummaryLocked(conversationID, msg)
	c.mu.Unlock()
	return nil
}

func (c *Controller) confirmLocked(localID uuid.UUID, msg *domain.Message) {
	// событие с тем же id могло прийти раньше ответа
	if existing := c.findServer(msg.ID); existing != nil && existing.LocalID != localID {
		c.removeWhere(func(e *Entry) bool { return e.LocalID == localID })
		return
	}
	if entry := c.findLocal(localID); entry != nil {
		entry.State = Confirmed
		entry.Message = *msg.Clone()
		entry.Err = nil
	}
}

// Edit применяет ответ сервера, а не локальный текст
func (c *Controller) Edit(ctx context.Context, messageID uuid.UUID, content string) error {
	conversationID, err := c.active()
	if err != nil {
		return err
	}

	msg, err := c.api.EditMessage(ctx, conversationID, messageID, content)
	if err != nil {
		c.fail("Failed to edit message", err)
		return err
	}

	c.mu.Lock()
	if conversationID == c.activeID {
		if entry := c.findServer(messageID); entry != nil {
			entry.Message = *msg.Clone()
		}
	}
	c.mu.Unlock()
	return nil
}

// Delete убирает сообщение локально и перечитывает историю
func (c *Controller) Delete(ctx context.Context, messageID uuid.UUID) error {
	conversationID, err := c.active()
	if err != nil {
		return err
	}

	if err := c.api.DeleteMessage(ctx, conversationID, messageID); err != nil {
		c.fail("Failed to delete message", err)
		return err
	}

	c.mu.Lock()
	if conversationID == c.activeID {
		c.removeWhere(func(e *Entry) bool { return e.State == Confirmed && e.Message.ID == messageID })
	}
	c.mu.Unlock()

	return c.refetch(ctx, conversationID)
}

// refetch заменяет подтвержденные записи серверной историей; Pending и Failed остаются в конце
func (c *Controller) refetch(ctx context.Context, conversationID uuid.UUID) error {
	messages, _, err := c.api.ListMessages(ctx, conversationID, 1, historyPageSize)
	if err != nil {
		c.fail("Failed to refresh messages", err)
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if conversationID != c.activeID {
		return nil
	}

	entries := confirmedEntries(messages)
	for _, e := range c.entries {
		if e.State != Confirmed {
			entries = append(entries, e)
		}
	}
	c.entries = entries
	return nil
}

func (c *Controller) MarkSeen(ctx context.Context, messageID uuid.UUID) error {
	conversationID, err := c.active()
	if err != nil {
		return err
	}

	if err := c.api.MarkSeen(ctx, conversationID, messageID); err != nil {
		c.fail("Failed to mark message as seen", err)
		return err
	}

	c.mu.Lock()
	if conversationID == c.activeID {
		if entry := c.findServer(messageID); entry != nil {
			addReceipt(&entry.Message, domain.SeenReceipt{UserID: c.self, SeenAt: c.now()})
		}
	}
	c.mu.Unlock()
	return nil
}

// Keystroke вызывается на каждое нажатие в поле ввода
func (c *Controller) Keystroke() {
	c.mu.Lock()
	conversationID := c.activeID
	c.mu.Unlock()

	if conversationID != uuid.Nil {
		c.typing.Keystroke(conversationID)
	}
}

// HandleEvent вливает событие realtime-канала в состояние
func (c *Controller) HandleEvent(env domain.Envelope) {
	switch env.Event {
	case domain.EventNewMessage:
		var p domain.NewMessagePayload
		if c.decode(env, &p) && p.Message != nil {
			c.onNewMessage(env.ConversationID, p.Message)
		}

	case domain.EventMessageEdited:
		var p domain.MessageEditedPayload
		if c.decode(env, &p) {
			c.patchActive(env.ConversationID, p.MessageID, func(m *domain.Message) {
				m.Content = p.Content
				m.Edited = true
				m.EditedAt = p.EditedAt
			})
		}

	case domain.EventMessageDeleted:
		var p domain.MessageDeletedPayload
		if c.decode(env, &p) {
			c.mu.Lock()
			if env.ConversationID == c.activeID {
				c.removeWhere(func(e *Entry) bool { return e.State == Confirmed && e.Message.ID == p.MessageID })
			}
			c.mu.Unlock()
		}

	case domain.EventMessageSeen:
		var p domain.MessageSeenPayload
		if c.decode(env, &p) {
			c.patchActive(env.ConversationID, p.MessageID, func(m *domain.Message) {
				addReceipt(m, p.SeenBy)
			})
		}

	case domain.EventUserTyping, domain.EventUserStopTyping:
		var p domain.TypingPayload
		if c.decode(env, &p) {
			c.mu.Lock()
			if env.ConversationID == c.activeID && p.UserID != c.self {
				if env.Event == domain.EventUserTyping {
					c.typingUsers[p.UserID] = struct{}{}
				} else {
					delete(c.typingUsers, p.UserID)
				}
			}
			c.mu.Unlock()
		}

	case domain.EventConversationDeleted:
		c.onConversationDeleted(env.ConversationID)

	case domain.EventError:
		var p domain.ErrorPayload
		if c.decode(env, &p) {
			c.notifyUser(p.Message)
		}

	case domain.EventJoined:
		c.log.Debug("Joined conversation", "conversation_id", env.ConversationID)
	}
}

func (c *Controller) onNewMessage(conversationID uuid.UUID, msg *domain.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.touchSummaryLocked(conversationID, msg)

	if conversationID != c.activeID || c.findServer(msg.ID) != nil {
		return
	}
	c.entries = append(c.entries, &Entry{State: Confirmed, Message: *msg.Clone()})
	// сообщение пришло, значит автор больше не печатает
	delete(c.typingUsers, msg.SenderID)
}

func (c *Controller) onConversationDeleted(conversationID uuid.UUID) {
	c.mu.Lock()
	kept := c.conversations[:0]
	for _, s := range c.conversations {
		if s.ID != conversationID {
			kept = append(kept, s)
		}
	}
	c.conversations = kept

	wasActive := conversationID == c.activeID
	if wasActive {
		c.activeID = uuid.Nil
		c.openSeq++
		c.entries = nil
		c.typingUsers = make(map[uuid.UUID]struct{})
	}
	c.mu.Unlock()

	if wasActive {
		c.typing.Stop()
		c.notifyUser("Conversation was deleted")
	}
}

// touchSummaryLocked обновляет last_message и поднимает чат наверх списка
func (c *Controller) touchSummaryLocked(conversationID uuid.UUID, msg *domain.Message) {
	for i := range c.conversations {
		s := &c.conversations[i]
		if s.ID != conversationID {
			continue
		}
		if s.LastMessage == nil || !msg.CreatedAt.Before(s.LastMessage.Timestamp) {
			s.LastMessage = msg.Snapshot()
		}
		if msg.CreatedAt.After(s.UpdatedAt) {
			s.UpdatedAt = msg.CreatedAt
		}
		break
	}
	sort.SliceStable(c.conversations, func(i, j int) bool {
		return c.conversations[i].UpdatedAt.After(c.conversations[j].UpdatedAt)
	})
}

func (c *Controller) patchActive(conversationID, messageID uuid.UUID, patch func(*domain.Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if conversationID != c.activeID {
		return
	}
	if entry := c.findServer(messageID); entry != nil {
		patch(&entry.Message)
	}
}

func (c *Controller) pendingEntry(conversationID uuid.UUID, draft Draft) *Entry {
	localID := uuid.New()
	now := c.now()
	return &Entry{
		LocalID: localID,
		State:   Pending,
		Draft:   draft,
		Message: domain.Message{
			ID:             localID,
			ConversationID: conversationID,
			SenderID:       c.self,
			Content:        strings.TrimSpace(draft.Content),
			Kind:           draft.Kind,
			Attachments:    append([]domain.Attachment{}, draft.Attachments...),
			SeenBy:         []domain.SeenReceipt{{UserID: c.self, SeenAt: now}},
			CreatedAt:      now,
			ReplyToID:      draft.ReplyToID,
		},
	}
}

func (c *Controller) findLocal(localID uuid.UUID) *Entry {
	for _, e := range c.entries {
		if e.LocalID == localID {
			return e
		}
	}
	return nil
}

func (c *Controller) findServer(messageID uuid.UUID) *Entry {
	for _, e := range c.entries {
		if e.State == Confirmed && e.Message.ID == messageID {
			return e
		}
	}
	return nil
}

func (c *Controller) removeWhere(match func(*Entry) bool) {
	kept := c.entries[:0]
	for _, e := range c.entries {
		if !match(e) {
			kept = append(kept, e)
		}
	}
	for i := len(kept); i < len(c.entries); i++ {
		c.entries[i] = nil
	}
	c.entries = kept
}

func (c *Controller) active() (uuid.UUID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.activeID == uuid.Nil {
		return uuid.Nil, ErrNoActiveConversation
	}
	return c.activeID, nil
}

func (c *Controller) decode(env domain.Envelope, out interface{}) bool {
	if len(env.Data) == 0 {
		return false
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		c.log.Warn("Malformed event", "event", env.Event, "error", err)
		return false
	}
	return true
}

// fail сообщает пользователю об ошибке; текст сервера показывается как есть
func (c *Controller) fail(action string, err error) {
	var apiErr *apperrors.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		c.notifyUser(action + ": " + apiErr.Message)
		return
	}
	c.notifyUser(action)
}

func (c *Controller) notifyUser(message string) {
	if c.notify != nil {
		c.notify.Notify(message)
	}
}

// Снимки состояния для отображения

func (c *Controller) ActiveConversation() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeID
}

func (c *Controller) Conversations() []domain.ConversationSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.ConversationSummary(nil), c.conversations...)
}

func (c *Controller) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		cp := *e
		cp.Message = *e.Message.Clone()
		out = append(out, cp)
	}
	return out
}

func (c *Controller) TypingUsers() []uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()

	users := make([]uuid.UUID, 0, len(c.typingUsers))
	for id := range c.typingUsers {
		users = append(users, id)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].String() < users[j].String() })
	return users
}

func confirmedEntries(messages []*domain.Message) []*Entry {
	entries := make([]*Entry, 0, len(messages))
	for _, m := range messages {
		entries = append(entries, &Entry{State: Confirmed, Message: *m.Clone()})
	}
	return entries
}

func addReceipt(m *domain.Message, receipt domain.SeenReceipt) {
	if m.HasSeen(receipt.UserID) {
		return
	}
	m.SeenBy = append(m.SeenBy, receipt)
}
