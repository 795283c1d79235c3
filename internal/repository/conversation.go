package repository

import (
	"context"
	"time"

	"artisan_chat/internal/domain"

	"github.com/google/uuid"
)

// ConversationStore хранит агрегат Conversation. Все изменения одного чата
// сериализуются на уровне документа, разные чаты независимы.
type ConversationStore interface {
	// Create сохраняет новый чат. Для личного чата сначала ищет существующий
	// по паре участников и возвращает ErrDuplicate, если он есть.
	Create(ctx context.Context, conv *domain.Conversation) error
	FindPrivate(ctx context.Context, a, b uuid.UUID) (*domain.Conversation, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Conversation, error)
	// GetHeader - чат без истории сообщений
	GetHeader(ctx context.Context, id uuid.UUID) (*domain.Conversation, error)
	// ListForUser возвращает чаты без сообщений, новые по активности сверху, и общее число
	ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Conversation, int, error)
	Delete(ctx context.Context, id uuid.UUID) error

	// AppendMessage назначает seq и сохраняет сообщение. Кэш последнего
	// сообщения не трогает - это делает вызывающий.
	AppendMessage(ctx context.Context, conversationID uuid.UUID, msg *domain.Message) error
	GetMessage(ctx context.Context, conversationID, messageID uuid.UUID) (*domain.Message, error)
	PatchMessage(ctx context.Context, conversationID, messageID uuid.UUID, patch domain.MessagePatch) (*domain.Message, error)
	RemoveMessage(ctx context.Context, conversationID, messageID uuid.UUID) error
	// LatestMessage - сообщение с наибольшим seq или nil
	LatestMessage(ctx context.Context, conversationID uuid.UUID) (*domain.Message, error)
	// UpdateLastMessageCache монотонна по seq: снимок не заменяет кэш более
	// нового сообщения, пока оно существует. nil очищает кэш, только если
	// сообщений в чате нет. Отброшенное обновление не ошибка.
	UpdateLastMessageCache(ctx context.Context, conversationID uuid.UUID, snapshot *domain.LastMessage) error

	UpdateMembership(ctx context.Context, conversationID uuid.UUID, participants, admins []uuid.UUID) error
	UpdateGroupInfo(ctx context.Context, conversationID uuid.UUID, info domain.GroupInfo) error
	// SetPin / SetMute: nil снимает настройку пользователя
	SetPin(ctx context.Context, conversationID, userID uuid.UUID, pref *domain.PinPreference) error
	SetMute(ctx context.Context, conversationID, userID uuid.UUID, pref *domain.MutePreference) error

	TypingStore
}

// TypingStore - эфемерные индикаторы набора текста
type TypingStore interface {
	AddOrRefreshTyping(ctx context.Context, conversationID, userID uuid.UUID) error
	RemoveTyping(ctx context.Context, conversationID, userID uuid.UUID) error
	// PruneStaleTyping удаляет записи старше maxAge и возвращает оставшиеся
	PruneStaleTyping(ctx context.Context, conversationID uuid.UUID, maxAge time.Duration) ([]domain.TypingEntry, error)
}
