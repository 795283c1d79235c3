package domain

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

type ConversationKind string

const (
	ConversationPrivate ConversationKind = "private"
	ConversationGroup   ConversationKind = "group"
)

func (k ConversationKind) Valid() bool {
	return k == ConversationPrivate || k == ConversationGroup
}

type MessageKind string

const (
	MessageText      MessageKind = "text"
	MessageImage     MessageKind = "image"
	MessageVideo     MessageKind = "video"
	MessageFile      MessageKind = "file"
	MessagePortfolio MessageKind = "portfolio"
)

func (k MessageKind) Valid() bool {
	switch k {
	case MessageText, MessageImage, MessageVideo, MessageFile, MessagePortfolio:
		return true
	}
	return false
}

// Conversation - агрегат: чат вместе со встроенными сообщениями.
// Сообщения меняются только через операции ConversationStore.
type Conversation struct {
	ID              uuid.UUID                    `json:"id"`
	Kind            ConversationKind             `json:"kind"`
	Participants    []uuid.UUID                  `json:"participants"`
	Admins          []uuid.UUID                  `json:"admins,omitempty"`
	DisplayName     *string                      `json:"name,omitempty"`
	Description     *string                      `json:"description,omitempty"`
	AvatarRef       *string                      `json:"avatar,omitempty"`
	Messages        []*Message                   `json:"-"`
	LastMessage     *LastMessage                 `json:"last_message,omitempty"`
	Typing          []TypingEntry                `json:"-"`
	MutePreferences map[uuid.UUID]MutePreference `json:"-"`
	PinPreferences  map[uuid.UUID]PinPreference  `json:"-"`
	NextSeq         int64                        `json:"-"`
	CreatedAt       time.Time                    `json:"created_at"`
	UpdatedAt       time.Time                    `json:"updated_at"`
}

type Message struct {
	ID             uuid.UUID     `json:"id"`
	ConversationID uuid.UUID     `json:"conversation_id"`
	Seq            int64         `json:"seq"`
	SenderID       uuid.UUID     `json:"sender_id"`
	Content        string        `json:"content"`
	Kind           MessageKind   `json:"kind"`
	Attachments    []Attachment  `json:"attachments"`
	SeenBy         []SeenReceipt `json:"seen_by"`
	Edited         bool          `json:"edited"`
	EditedAt       *time.Time    `json:"edited_at,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	ReplyToID      *uuid.UUID    `json:"reply_to_id,omitempty"`
}

// Attachment приходит от сервиса загрузки файлов как есть
type Attachment struct {
	URL      string `json:"url" bson:"url"`
	FileName string `json:"file_name" bson:"file_name"`
	FileSize int64  `json:"file_size" bson:"file_size"`
	MimeType string `json:"mime_type" bson:"mime_type"`
}

type SeenReceipt struct {
	UserID uuid.UUID `json:"user_id"`
	SeenAt time.Time `json:"seen_at"`
}

// LastMessage - денормализованный снимок последнего сообщения для списка чатов
type LastMessage struct {
	MessageID uuid.UUID   `json:"message_id"`
	Seq       int64       `json:"seq"`
	Content   string      `json:"content"`
	SenderID  uuid.UUID   `json:"sender_id"`
	Timestamp time.Time   `json:"timestamp"`
	Kind      MessageKind `json:"kind"`
}

type TypingEntry struct {
	UserID uuid.UUID `json:"user_id"`
	At     time.Time `json:"at"`
}

type MutePreference struct {
	Until *time.Time `json:"until,omitempty"`
}

type PinPreference struct {
	PinnedAt time.Time `json:"pinned_at"`
}

// MessagePatch - точечное изменение сообщения. Пустые поля не трогаются.
type MessagePatch struct {
	Content  *string
	EditedAt *time.Time
	AddSeen  *SeenReceipt
}

type GroupInfo struct {
	DisplayName *string
	Description *string
	AvatarRef   *string
}

func (c *Conversation) IsParticipant(userID uuid.UUID) bool {
	return containsID(c.Participants, userID)
}

func (c *Conversation) IsAdmin(userID uuid.UUID) bool {
	return c.Kind == ConversationGroup && containsID(c.Admins, userID)
}

func (c *Conversation) OtherParticipants(userID uuid.UUID) []uuid.UUID {
	others := make([]uuid.UUID, 0, len(c.Participants))
	for _, id := range c.Participants {
		if id != userID {
			others = append(others, id)
		}
	}
	return others
}

// FindMessage ищет сообщение по ID
func (c *Conversation) FindMessage(messageID uuid.UUID) *Message {
	for _, m := range c.Messages {
		if m.ID == messageID {
			return m
		}
	}
	return nil
}

// Latest возвращает сообщение с наибольшим seq
func (c *Conversation) Latest() *Message {
	var latest *Message
	for _, m := range c.Messages {
		if latest == nil || m.Seq > latest.Seq {
			latest = m
		}
	}
	return latest
}

func (c *Conversation) IsPinnedBy(userID uuid.UUID) bool {
	_, ok := c.PinPreferences[userID]
	return ok
}

func (c *Conversation) IsMutedFor(userID uuid.UUID, now time.Time) bool {
	pref, ok := c.MutePreferences[userID]
	if !ok {
		return false
	}
	return pref.Until == nil || pref.Until.After(now)
}

// Clone - глубокая копия агрегата
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Participants = append([]uuid.UUID(nil), c.Participants...)
	cp.Admins = append([]uuid.UUID(nil), c.Admins...)
	cp.DisplayName = cloneString(c.DisplayName)
	cp.Description = cloneString(c.Description)
	cp.AvatarRef = cloneString(c.AvatarRef)
	cp.Messages = make([]*Message, 0, len(c.Messages))
	for _, m := range c.Messages {
		cp.Messages = append(cp.Messages, m.Clone())
	}
	if c.LastMessage != nil {
		lm := *c.LastMessage
		cp.LastMessage = &lm
	}
	cp.Typing = append([]TypingEntry(nil), c.Typing...)
	cp.MutePreferences = make(map[uuid.UUID]MutePreference, len(c.MutePreferences))
	for k, v := range c.MutePreferences {
		if v.Until != nil {
			until := *v.Until
			v.Until = &until
		}
		cp.MutePreferences[k] = v
	}
	cp.PinPreferences = make(map[uuid.UUID]PinPreference, len(c.PinPreferences))
	for k, v := range c.PinPreferences {
		cp.PinPreferences[k] = v
	}
	return &cp
}

func (m *Message) HasSeen(userID uuid.UUID) bool {
	for _, s := range m.SeenBy {
		if s.UserID == userID {
			return true
		}
	}
	return false
}

func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	cp := *m
	cp.Attachments = append([]Attachment(nil), m.Attachments...)
	cp.SeenBy = append([]SeenReceipt(nil), m.SeenBy...)
	if m.EditedAt != nil {
		t := *m.EditedAt
		cp.EditedAt = &t
	}
	if m.ReplyToID != nil {
		id := *m.ReplyToID
		cp.ReplyToID = &id
	}
	return &cp
}

// Apply применяет патч; возвращает false, если ничего не изменилось
func (m *Message) Apply(patch MessagePatch) bool {
	changed := false
	if patch.Content != nil {
		m.Content = *patch.Content
		m.Edited = true
		at := time.Now()
		if patch.EditedAt != nil {
			at = *patch.EditedAt
		}
		m.EditedAt = &at
		changed = true
	}
	if patch.AddSeen != nil && !m.HasSeen(patch.AddSeen.UserID) {
		m.SeenBy = append(m.SeenBy, *patch.AddSeen)
		changed = true
	}
	return changed
}

// Snapshot строит кэш последнего сообщения
func (m *Message) Snapshot() *LastMessage {
	return &LastMessage{
		MessageID: m.ID,
		Seq:       m.Seq,
		Content:   m.Content,
		SenderID:  m.SenderID,
		Timestamp: m.CreatedAt,
		Kind:      m.Kind,
	}
}

// SortBySeq сортирует сообщения по возрастанию seq
func SortBySeq(messages []*Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Seq < messages[j].Seq
	})
}

// PrivatePairKey - ключ неупорядоченной пары участников личного чата
func PrivatePairKey(a, b uuid.UUID) string {
	x, y := a.String(), b.String()
	if x > y {
		x, y = y, x
	}
	return x + ":" + y
}

// UniqueIDs убирает дубликаты с сохранением порядка
func UniqueIDs(ids ...uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func JoinNames(names []string) string {
	return strings.Join(names, ", ")
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
