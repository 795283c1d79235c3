package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// События realtime-канала (сервер -> клиент)
const (
	EventNewMessage          = "new_message"
	EventMessageEdited       = "message_edited"
	EventMessageDeleted      = "message_deleted"
	EventMessageSeen         = "message_seen"
	EventUserTyping          = "user_typing"
	EventUserStopTyping      = "user_stop_typing"
	EventConversationDeleted = "conversation_deleted"
	EventJoined              = "joined"
	EventError               = "error"
)

// Команды клиента (клиент -> сервер)
const (
	CommandJoinConversation  = "join_conversation"
	CommandLeaveConversation = "leave_conversation"
	CommandStartTyping       = "start_typing"
	CommandStopTyping        = "stop_typing"
)

// Envelope - кадр websocket в обе стороны
type Envelope struct {
	Event          string          `json:"event"`
	ConversationID uuid.UUID       `json:"conversation_id,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
}

type NewMessagePayload struct {
	Message *Message    `json:"message"`
	Sender  UserProfile `json:"sender"`
}

type MessageEditedPayload struct {
	MessageID uuid.UUID  `json:"message_id"`
	Content   string     `json:"content"`
	EditedAt  *time.Time `json:"edited_at"`
}

type MessageDeletedPayload struct {
	MessageID uuid.UUID `json:"message_id"`
}

type MessageSeenPayload struct {
	MessageID uuid.UUID   `json:"message_id"`
	SeenBy    SeenReceipt `json:"seen_by"`
}

type TypingPayload struct {
	UserID uuid.UUID `json:"user_id"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// NewEnvelope сериализует payload в кадр
func NewEnvelope(event string, conversationID uuid.UUID, payload interface{}) (Envelope, error) {
	env := Envelope{Event: event, ConversationID: conversationID}
	if payload == nil {
		return env, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return env, err
	}
	env.Data = data
	return env, nil
}
