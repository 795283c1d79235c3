package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"artisan_chat/internal/config"
	"artisan_chat/internal/domain"
	"artisan_chat/internal/repository"
	apperrors "artisan_chat/pkg/errors"
	"artisan_chat/pkg/logger"

	"github.com/google/uuid"
)

const (
	maxGroupNameLength   = 100
	maxDescriptionLength = 500
	maxContentLength     = 10000
)

// Broadcaster - выход в realtime-слой. Реализация не блокирует и не возвращает
// ошибок: доставка best-effort.
type Broadcaster interface {
	// Broadcast рассылает событие всем сокетам комнаты, кроме сокетов exceptUserID
	Broadcast(conversationID, exceptUserID uuid.UUID, event string, payload interface{})
	// Evict убирает сокеты пользователя из комнаты
	Evict(conversationID, userID uuid.UUID)
	// CloseRoom распускает комнату удаленного чата
	CloseRoom(conversationID uuid.UUID)
}

type StartConversationInput struct {
	Kind           domain.ConversationKind
	ParticipantIDs []uuid.UUID
	Name           *string
	Description    *string
	Avatar         *string
}

type SendMessageInput struct {
	Content     string
	Kind        domain.MessageKind
	Attachments []domain.Attachment
	ReplyToID   *uuid.UUID
}

type ConversationService interface {
	ListMyConversations(ctx context.Context, userID uuid.UUID, page, limit int) ([]domain.ConversationSummary, domain.Pagination, error)
	GetConversation(ctx context.Context, conversationID, requesterID uuid.UUID) (*domain.ConversationSummary, error)
	// StartConversation возвращает чат и true, если он создан этим вызовом
	StartConversation(ctx context.Context, requesterID uuid.UUID, input StartConversationInput) (*domain.Conversation, bool, error)
	DeleteConversation(ctx context.Context, conversationID, requesterID uuid.UUID) error

	ListMessages(ctx context.Context, conversationID, requesterID uuid.UUID, page, limit int) ([]*domain.Message, domain.Pagination, error)
	GetMessage(ctx context.Context, conversationID, messageID, requesterID uuid.UUID) (*domain.Message, error)
	SendMessage(ctx context.Context, conversationID, requesterID uuid.UUID, input SendMessageInput) (*domain.Message, error)
	MarkSeen(ctx context.Context, conversationID, messageID, requesterID uuid.UUID) error
	EditMessage(ctx context.Context, conversationID, messageID, requesterID uuid.UUID, content string) (*domain.Message, error)
	DeleteMessage(ctx context.Context, conversationID, messageID, requesterID uuid.UUID) error

	SetTyping(ctx context.Context, conversationID, requesterID uuid.UUID, isTyping bool) error
	TypingUsers(ctx context.Context, conversationID, requesterID uuid.UUID) ([]uuid.UUID, error)
	// AuthorizeJoin вызывается шлюзом до и после добавления сокета в комнату
	AuthorizeJoin(ctx context.Context, conversationID, userID uuid.UUID) error

	AddParticipants(ctx context.Context, conversationID, requesterID uuid.UUID, userIDs []uuid.UUID) (*domain.ConversationSummary, error)
	RemoveParticipant(ctx context.Context, conversationID, requesterID, userID uuid.UUID) error
	UpdateGroupInfo(ctx context.Context, conversationID, requesterID uuid.UUID, info domain.GroupInfo) (*domain.ConversationSummary, error)
	SetPinned(ctx context.Context, conversationID, requesterID uuid.UUID, pinned bool) error
	SetMuted(ctx context.Context, conversationID, requesterID uuid.UUID, muted bool, until *time.Time) error
}

type ConversationOption func(*conversationService)

// WithClock подменяет источник времени (тесты)
func WithClock(now func() time.Time) ConversationOption {
	return func(s *conversationService) {
		s.now = now
	}
}

type conversationService struct {
	store       repository.ConversationStore
	users       UserService
	audit       AuditService
	broadcaster Broadcaster
	cfg         config.ChatConfig
	log         logger.Logger
	now         func() time.Time
}

func NewConversationService(
	store repository.ConversationStore,
	users UserService,
	audit AuditService,
	broadcaster Broadcaster,
	cfg config.ChatConfig,
	log logger.Logger,
	opts ...ConversationOption,
) ConversationService {
	s := &conversationService{
		store:       store,
		users:       users,
		audit:       audit,
		broadcaster: broadcaster,
		cfg:         cfg,
		log:         log,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *conversationService) ListMyConversations(ctx context.Context, userID uuid.UUID, page, limit int) ([]domain.ConversationSummary, domain.Pagination, error) {
	page, limit = s.normalizePage(page, limit, s.cfg.ConversationsPageSize)

	conversations, total, err := s.store.ListForUser(ctx, userID, limit, (page-1)*limit)
	if err != nil {
		return nil, domain.Pagination{}, apperrors.Internal("list conversations: %v", err)
	}

	var ids []uuid.UUID
	for _, conv := range conversations {
		ids = append(ids, conv.Participants...)
	}
	profiles, err := s.users.Profiles(ctx, ids)
	if err != nil {
		return nil, domain.Pagination{}, err
	}

	summaries := make([]domain.ConversationSummary, 0, len(conversations))
	for _, conv := range conversations {
		summaries = append(summaries, s.summarize(conv, userID, profiles))
	}
	return summaries, domain.NewPagination(page, limit, total), nil
}

func (s *conversationService) GetConversation(ctx context.Context, conversationID, requesterID uuid.UUID) (*domain.ConversationSummary, error) {
	conv, err := s.loadHeader(ctx, conversationID, requesterID)
	if err != nil {
		return nil, err
	}
	return s.summaryOf(ctx, conv, requesterID)
}

func (s *conversationService) StartConversation(ctx context.Context, requesterID uuid.UUID, input StartConversationInput) (*domain.Conversation, bool, error) {
	if !input.Kind.Valid() {
		return nil, false, apperrors.Validation("Invalid conversation type",
			apperrors.FieldError{Field: "kind", Message: "must be private or group"})
	}

	participants := domain.UniqueIDs(append([]uuid.UUID{requesterID}, input.ParticipantIDs...)...)

	if input.Kind == domain.ConversationPrivate {
		if len(participants) != 2 {
			return nil, false, apperrors.Validation("Private conversation requires exactly one other participant",
				apperrors.FieldError{Field: "participants", Message: "must contain exactly one other user"})
		}
		existing, err := s.store.FindPrivate(ctx, participants[0], participants[1])
		if err != nil {
			return nil, false, apperrors.Internal("find private conversation: %v", err)
		}
		if existing != nil {
			return existing, false, nil
		}
	}

	var name *string
	if input.Kind == domain.ConversationGroup {
		trimmed, err := validateGroupName(input.Name)
		if err != nil {
			return nil, false, err
		}
		name = &trimmed
		if err := validateDescription(input.Description); err != nil {
			return nil, false, err
		}
	}

	if err := s.ensureUsersExist(ctx, participants); err != nil {
		return nil, false, err
	}

	now := s.now()
	conv := &domain.Conversation{
		ID:           uuid.New(),
		Kind:         input.Kind,
		Participants: participants,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if input.Kind == domain.ConversationGroup {
		conv.Admins = []uuid.UUID{requesterID}
		conv.DisplayName = name
		conv.Description = trimmedOrNil(input.Description)
		conv.AvatarRef = trimmedOrNil(input.Avatar)
	}

	if err := s.store.Create(ctx, conv); err != nil {
		if errors.Is(err, repository.ErrDuplicate) && input.Kind == domain.ConversationPrivate {
			// Параллельный запрос успел создать чат для этой пары
			existing, findErr := s.store.FindPrivate(ctx, participants[0], participants[1])
			if findErr == nil && existing != nil {
				return existing, false, nil
			}
		}
		return nil, false, apperrors.Internal("create conversation: %v", err)
	}

	s.recordAudit(ctx, requesterID, domain.ActorRoleParticipant, conv.ID, domain.EventTypeConversationCreated, map[string]interface{}{
		"kind":         string(conv.Kind),
		"participants": len(conv.Participants),
	})

	s.log.Info("Conversation created", "conversation_id", conv.ID, "kind", conv.Kind, "user_id", requesterID)
	return conv, true, nil
}

func (s *conversationService) DeleteConversation(ctx context.Context, conversationID, requesterID uuid.UUID) error {
	conv, err := s.loadHeader(ctx, conversationID, requesterID)
	if err != nil {
		return err
	}

	role := domain.ActorRoleParticipant
	if conv.Kind == domain.ConversationGroup {
		if !conv.IsAdmin(requesterID) {
			return apperrors.Forbidden("Only admins can delete this conversation")
		}
		role = domain.ActorRoleAdmin
	}

	if err := s.store.Delete(ctx, conversationID); err != nil {
		return s.storeError(err, "Conversation not found", "delete conversation")
	}

	s.broadcaster.Broadcast(conversationID, requesterID, domain.EventConversationDeleted, struct{}{})
	s.broadcaster.CloseRoom(conversationID)

	s.recordAudit(ctx, requesterID, role, conversationID, domain.EventTypeConversationDeleted, nil)
	return nil
}

func (s *conversationService) ListMessages(ctx context.Context, conversationID, requesterID uuid.UUID, page, limit int) ([]*domain.Message, domain.Pagination, error) {
	page, limit = s.normalizePage(page, limit, s.cfg.DefaultPageSize)

	conv, err := s.store.GetByID(ctx, conversationID)
	if err != nil {
		return nil, domain.Pagination{}, s.storeError(err, "Conversation not found", "load conversation")
	}
	if !conv.IsParticipant(requesterID) {
		return nil, domain.Pagination{}, apperrors.Forbidden("Not authorized to view this conversation")
	}

	// Новые сверху, срез страницы, затем старые сверху внутри страницы
	ordered := append([]*domain.Message(nil), conv.Messages...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Seq > ordered[j].Seq
	})

	total := len(ordered)
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	window := append([]*domain.Message(nil), ordered[start:end]...)
	for i, j := 0, len(window)-1; i < j; i, j = i+1, j-1 {
		window[i], window[j] = window[j], window[i]
	}

	return window, domain.NewPagination(page, limit, total), nil
}

func (s *conversationService) GetMessage(ctx context.Context, conversationID, messageID, requesterID uuid.UUID) (*domain.Message, error) {
	if _, err := s.loadHeader(ctx, conversationID, requesterID); err != nil {
		return nil, err
	}
	msg, err := s.store.GetMessage(ctx, conversationID, messageID)
	if err != nil {
		return nil, s.storeError(err, "Message not found", "load message")
	}
	return msg, nil
}

func (s *conversationService) SendMessage(ctx context.Context, conversationID, requesterID uuid.UUID, input SendMessageInput) (*domain.Message, error) {
	content := strings.TrimSpace(input.Content)
	kind := input.Kind
	if kind == "" {
		kind = domain.MessageText
	}

	if err := validateMessageInput(content, kind, input.Attachments); err != nil {
		return nil, err
	}

	if _, err := s.loadHeader(ctx, conversationID, requesterID); err != nil {
		return nil, err
	}

	// ссылка на ответ не проверяется: висячий id разрешается при чтении в "message not found"
	now := s.now()
	msg := &domain.Message{
		ID:          uuid.New(),
		SenderID:    requesterID,
		Content:     content,
		Kind:        kind,
		Attachments: append([]domain.Attachment{}, input.Attachments...),
		SeenBy:      []domain.SeenReceipt{{UserID: requesterID, SeenAt: now}},
		CreatedAt:   now,
		ReplyToID:   input.ReplyToID,
	}

	if err := s.store.AppendMessage(ctx, conversationID, msg); err != nil {
		return nil, s.storeError(err, "Conversation not found", "append message")
	}

	// Кэш - оптимизация чтения: сообщение уже сохранено, ошибку только логируем
	if err := s.store.UpdateLastMessageCache(ctx, conversationID, msg.Snapshot()); err != nil {
		s.log.Error("Failed to update last message cache", "error", err, "conversation_id", conversationID)
	}

	s.broadcaster.Broadcast(conversationID, requesterID, domain.EventNewMessage, domain.NewMessagePayload{
		Message: msg,
		Sender:  s.users.Profile(ctx, requesterID),
	})

	return msg, nil
}

func (s *conversationService) MarkSeen(ctx context.Context, conversationID, messageID, requesterID uuid.UUID) error {
	if _, err := s.loadHeader(ctx, conversationID, requesterID); err != nil {
		return err
	}

	msg, err := s.store.GetMessage(ctx, conversationID, messageID)
	if err != nil {
		return s.storeError(err, "Message not found", "load message")
	}
	if msg.HasSeen(requesterID) {
		return nil
	}

	// Точность до миллисекунд переживает запись в любое хранилище
	receipt := domain.SeenReceipt{UserID: requesterID, SeenAt: s.now().Truncate(time.Millisecond)}
	patched, err := s.store.PatchMessage(ctx, conversationID, messageID, domain.MessagePatch{AddSeen: &receipt})
	if err != nil {
		return s.storeError(err, "Message not found", "mark message seen")
	}

	// Параллельная отметка могла опередить нас: рассылаем только свою
	for _, r := range patched.SeenBy {
		if r.UserID == requesterID && r.SeenAt.Equal(receipt.SeenAt) {
			s.broadcaster.Broadcast(conversationID, requesterID, domain.EventMessageSeen, domain.MessageSeenPayload{
				MessageID: messageID,
				SeenBy:    receipt,
			})
			break
		}
	}
	return nil
}

func (s *conversationService) EditMessage(ctx context.Context, conversationID, messageID, requesterID uuid.UUID, content string) (*domain.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperrors.Validation("Message content is required",
			apperrors.FieldError{Field: "content", Message: "must not be empty"})
	}
	if utf8.RuneCountInString(content) > maxContentLength {
		return nil, apperrors.Validation("Message is too long",
			apperrors.FieldError{Field: "content", Message: "must be at most 10000 characters"})
	}

	conv, err := s.loadHeader(ctx, conversationID, requesterID)
	if err != nil {
		return nil, err
	}

	msg, err := s.store.GetMessage(ctx, conversationID, messageID)
	if err != nil {
		return nil, s.storeError(err, "Message not found", "load message")
	}
	if msg.SenderID != requesterID {
		return nil, apperrors.Forbidden("Only the sender can edit this message")
	}

	editedAt := s.now()
	patched, err := s.store.PatchMessage(ctx, conversationID, messageID, domain.MessagePatch{
		Content:  &content,
		EditedAt: &editedAt,
	})
	if err != nil {
		return nil, s.storeError(err, "Message not found", "edit message")
	}

	if conv.LastMessage != nil && conv.LastMessage.MessageID == messageID {
		if err := s.store.UpdateLastMessageCache(ctx, conversationID, patched.Snapshot()); err != nil {
			s.log.Error("Failed to update last message cache", "error", err, "conversation_id", conversationID)
		}
	}

	s.broadcaster.Broadcast(conversationID, requesterID, domain.EventMessageEdited, domain.MessageEditedPayload{
		MessageID: messageID,
		Content:   patched.Content,
		EditedAt:  patched.EditedAt,
	})

	return patched, nil
}

func (s *conversationService) DeleteMessage(ctx context.Context, conversationID, messageID, requesterID uuid.UUID) error {
	conv, err := s.loadHeader(ctx, conversationID, requesterID)
	if err != nil {
		return err
	}

	msg, err := s.store.GetMessage(ctx, conversationID, messageID)
	if err != nil {
		return s.storeError(err, "Message not found", "load message")
	}

	isSender := msg.SenderID == requesterID
	if !isSender && !conv.IsAdmin(requesterID) {
		return apperrors.Forbidden("Not authorized to delete this message")
	}

	if err := s.store.RemoveMessage(ctx, conversationID, messageID); err != nil {
		return s.storeError(err, "Message not found", "remove message")
	}

	s.refreshLastMessage(ctx, conversationID)

	s.broadcaster.Broadcast(conversationID, requesterID, domain.EventMessageDeleted, domain.MessageDeletedPayload{
		MessageID: messageID,
	})

	if !isSender {
		s.recordAudit(ctx, requesterID, domain.ActorRoleAdmin, conversationID, domain.EventTypeMessageDeleted, map[string]interface{}{
			"message_id": messageID.String(),
			"sender_id":  msg.SenderID.String(),
		})
	}
	return nil
}

// refreshLastMessage пересчитывает кэш по новому последнему сообщению или очищает его
func (s *conversationService) refreshLastMessage(ctx context.Context, conversationID uuid.UUID) {
	latest, err := s.store.LatestMessage(ctx, conversationID)
	if err != nil {
		s.log.Error("Failed to load latest message", "error", err, "conversation_id", conversationID)
		return
	}

	var snapshot *domain.LastMessage
	if latest != nil {
		snapshot = latest.Snapshot()
	}
	if err := s.store.UpdateLastMessageCache(ctx, conversationID, snapshot); err != nil {
		s.log.Error("Failed to update last message cache", "error", err, "conversation_id", conversationID)
	}
}

func (s *conversationService) SetTyping(ctx context.Context, conversationID, requesterID uuid.UUID, isTyping bool) error {
	if _, err := s.loadHeader(ctx, conversationID, requesterID); err != nil {
		return err
	}

	event := domain.EventUserStopTyping
	if isTyping {
		event = domain.EventUserTyping
		if err := s.store.AddOrRefreshTyping(ctx, conversationID, requesterID); err != nil {
			return s.storeError(err, "Conversation not found", "add typing indicator")
		}
	} else if err := s.store.RemoveTyping(ctx, conversationID, requesterID); err != nil {
		return s.storeError(err, "Conversation not found", "remove typing indicator")
	}

	s.broadcaster.Broadcast(conversationID, requesterID, event, domain.TypingPayload{UserID: requesterID})
	return nil
}

func (s *conversationService) TypingUsers(ctx context.Context, conversationID, requesterID uuid.UUID) ([]uuid.UUID, error) {
	if _, err := s.loadHeader(ctx, conversationID, requesterID); err != nil {
		return nil, err
	}

	entries, err := s.store.PruneStaleTyping(ctx, conversationID, s.cfg.TypingTTL)
	if err != nil {
		return nil, s.storeError(err, "Conversation not found", "prune typing indicators")
	}

	users := make([]uuid.UUID, 0, len(entries))
	for _, e := range entries {
		users = append(users, e.UserID)
	}
	return users, nil
}

func (s *conversationService) AuthorizeJoin(ctx context.Context, conversationID, userID uuid.UUID) error {
	_, err := s.loadHeader(ctx, conversationID, userID)
	return err
}

func (s *conversationService) AddParticipants(ctx context.Context, conversationID, requesterID uuid.UUID, userIDs []uuid.UUID) (*domain.ConversationSummary, error) {
	conv, err := s.loadGroupForAdmin(ctx, conversationID, requesterID)
	if err != nil {
		return nil, err
	}

	var added []uuid.UUID
	for _, id := range domain.UniqueIDs(userIDs...) {
		if !conv.IsParticipant(id) {
			added = append(added, id)
		}
	}
	if len(added) == 0 {
		return s.summaryOf(ctx, conv, requesterID)
	}
	if err := s.ensureUsersExist(ctx, added); err != nil {
		return nil, err
	}

	conv.Participants = append(conv.Participants, added...)
	if err := s.store.UpdateMembership(ctx, conversationID, conv.Participants, conv.Admins); err != nil {
		return nil, s.storeError(err, "Conversation not found", "update membership")
	}

	s.recordAudit(ctx, requesterID, domain.ActorRoleAdmin, conversationID, domain.EventTypeParticipantsAdded, map[string]interface{}{
		"participants": idStrings(added),
	})
	return s.summaryOf(ctx, conv, requesterID)
}

func (s *conversationService) RemoveParticipant(ctx context.Context, conversationID, requesterID, userID uuid.UUID) error {
	conv, err := s.loadHeader(ctx, conversationID, requesterID)
	if err != nil {
		return err
	}
	if conv.Kind != domain.ConversationGroup {
		return apperrors.Validation("Participants of a private conversation cannot be changed")
	}

	leaving := requesterID == userID
	if !leaving && !conv.IsAdmin(requesterID) {
		return apperrors.Forbidden("Only admins can remove participants")
	}
	if !conv.IsParticipant(userID) {
		return apperrors.NotFound("User is not a participant")
	}

	remaining := conv.OtherParticipants(userID)
	if len(remaining) == 0 {
		// Последний участник ушел - чата больше нет
		if err := s.store.Delete(ctx, conversationID); err != nil {
			return s.storeError(err, "Conversation not found", "delete conversation")
		}
		s.broadcaster.CloseRoom(conversationID)
		s.recordAudit(ctx, requesterID, domain.ActorRoleParticipant, conversationID, domain.EventTypeConversationDeleted, nil)
		return nil
	}

	admins := make([]uuid.UUID, 0, len(conv.Admins))
	for _, id := range conv.Admins {
		if id != userID {
			admins = append(admins, id)
		}
	}
	if len(admins) == 0 {
		// Без админов группой нельзя управлять: назначаем самого давнего участника
		admins = append(admins, remaining[0])
	}

	if err := s.store.UpdateMembership(ctx, conversationID, remaining, admins); err != nil {
		return s.storeError(err, "Conversation not found", "update membership")
	}
	if err := s.store.RemoveTyping(ctx, conversationID, userID); err != nil {
		s.log.Warn("Failed to clear typing indicator", "error", err, "conversation_id", conversationID)
	}

	s.broadcaster.Evict(conversationID, userID)

	role := domain.ActorRoleAdmin
	if leaving {
		role = domain.ActorRoleParticipant
	}
	s.recordAudit(ctx, requesterID, role, conversationID, domain.EventTypeParticipantRemoved, map[string]interface{}{
		"user_id": userID.String(),
	})
	return nil
}

func (s *conversationService) UpdateGroupInfo(ctx context.Context, conversationID, requesterID uuid.UUID, info domain.GroupInfo) (*domain.ConversationSummary, error) {
	conv, err := s.loadGroupForAdmin(ctx, conversationID, requesterID)
	if err != nil {
		return nil, err
	}

	if info.DisplayName != nil {
		name, err := validateGroupName(info.DisplayName)
		if err != nil {
			return nil, err
		}
		info.DisplayName = &name
		conv.DisplayName = &name
	}
	if err := validateDescription(info.Description); err != nil {
		return nil, err
	}
	if info.Description != nil {
		conv.Description = info.Description
	}
	if info.AvatarRef != nil {
		conv.AvatarRef = info.AvatarRef
	}

	if err := s.store.UpdateGroupInfo(ctx, conversationID, info); err != nil {
		return nil, s.storeError(err, "Conversation not found", "update group info")
	}

	s.recordAudit(ctx, requesterID, domain.ActorRoleAdmin, conversationID, domain.EventTypeGroupUpdated, nil)
	return s.summaryOf(ctx, conv, requesterID)
}

func (s *conversationService) SetPinned(ctx context.Context, conversationID, requesterID uuid.UUID, pinned bool) error {
	if _, err := s.loadHeader(ctx, conversationID, requesterID); err != nil {
		return err
	}

	var pref *domain.PinPreference
	if pinned {
		pref = &domain.PinPreference{PinnedAt: s.now()}
	}
	if err := s.store.SetPin(ctx, conversationID, requesterID, pref); err != nil {
		return s.storeError(err, "Conversation not found", "set pin")
	}
	return nil
}

func (s *conversationService) SetMuted(ctx context.Context, conversationID, requesterID uuid.UUID, muted bool, until *time.Time) error {
	if muted && until != nil && !until.After(s.now()) {
		return apperrors.Validation("Mute end must be in the future",
			apperrors.FieldError{Field: "until", Message: "must be in the future"})
	}
	if _, err := s.loadHeader(ctx, conversationID, requesterID); err != nil {
		return err
	}

	var pref *domain.MutePreference
	if muted {
		pref = &domain.MutePreference{Until: until}
	}
	if err := s.store.SetMute(ctx, conversationID, requesterID, pref); err != nil {
		return s.storeError(err, "Conversation not found", "set mute")
	}
	return nil
}

// loadHeader загружает чат без истории и проверяет участие
func (s *conversationService) loadHeader(ctx context.Context, conversationID, userID uuid.UUID) (*domain.Conversation, error) {
	conv, err := s.store.GetHeader(ctx, conversationID)
	if err != nil {
		return nil, s.storeError(err, "Conversation not found", "load conversation")
	}
	if !conv.IsParticipant(userID) {
		return nil, apperrors.Forbidden("Not authorized to access this conversation")
	}
	return conv, nil
}

func (s *conversationService) loadGroupForAdmin(ctx context.Context, conversationID, requesterID uuid.UUID) (*domain.Conversation, error) {
	conv, err := s.loadHeader(ctx, conversationID, requesterID)
	if err != nil {
		return nil, err
	}
	if conv.Kind != domain.ConversationGroup {
		return nil, apperrors.Validation("Private conversations cannot be changed")
	}
	if !conv.IsAdmin(requesterID) {
		return nil, apperrors.Forbidden("Only admins can change this conversation")
	}
	return conv, nil
}

func (s *conversationService) ensureUsersExist(ctx context.Context, ids []uuid.UUID) error {
	profiles, err := s.users.Profiles(ctx, ids)
	if err != nil {
		return err
	}

	var missing []apperrors.FieldError
	for _, id := range ids {
		if _, ok := profiles[id]; !ok {
			missing = append(missing, apperrors.FieldError{Field: "participants", Message: id.String()})
		}
	}
	if len(missing) > 0 {
		return apperrors.Validation("Some participants do not exist", missing...)
	}
	return nil
}

func (s *conversationService) summaryOf(ctx context.Context, conv *domain.Conversation, requesterID uuid.UUID) (*domain.ConversationSummary, error) {
	profiles, err := s.users.Profiles(ctx, conv.Participants)
	if err != nil {
		return nil, err
	}
	summary := s.summarize(conv, requesterID, profiles)
	return &summary, nil
}

func (s *conversationService) summarize(conv *domain.Conversation, requesterID uuid.UUID, profiles map[uuid.UUID]domain.UserProfile) domain.ConversationSummary {
	summary := domain.ConversationSummary{
		ID:           conv.ID,
		Kind:         conv.Kind,
		Description:  conv.Description,
		Participants: make([]domain.UserProfile, 0, len(conv.Participants)),
		Admins:       conv.Admins,
		LastMessage:  conv.LastMessage,
		UpdatedAt:    conv.UpdatedAt,
		UnreadCount:  0,
		IsPinned:     conv.IsPinnedBy(requesterID),
		IsMuted:      conv.IsMutedFor(requesterID, s.now()),
	}

	for _, id := range conv.Participants {
		profile, ok := profiles[id]
		if !ok {
			profile = domain.UserProfile{ID: id}
		}
		summary.Participants = append(summary.Participants, profile)
	}

	if conv.Kind == domain.ConversationGroup {
		if conv.DisplayName != nil {
			summary.Name = *conv.DisplayName
		}
		summary.Avatar = conv.AvatarRef
		return summary
	}

	var names []string
	for _, id := range conv.OtherParticipants(requesterID) {
		profile, ok := profiles[id]
		if !ok {
			continue
		}
		names = append(names, profile.DisplayName)
		if summary.Avatar == nil {
			summary.Avatar = profile.AvatarURL
		}
	}
	summary.Name = domain.JoinNames(names)
	return summary
}

func (s *conversationService) normalizePage(page, limit, defaultLimit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if s.cfg.MaxPageSize > 0 && limit > s.cfg.MaxPageSize {
		limit = s.cfg.MaxPageSize
	}
	if limit <= 0 {
		limit = 1
	}
	return page, limit
}

// storeError переводит ошибку хранилища в ошибку для клиента
func (s *conversationService) storeError(err error, notFoundMessage, op string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NotFound(notFoundMessage)
	}
	return apperrors.Internal("%s: %v", op, err)
}

func (s *conversationService) recordAudit(ctx context.Context, actorID uuid.UUID, role string, conversationID uuid.UUID, eventType string, payload map[string]interface{}) {
	if err := s.audit.LogEvent(ctx, &actorID, role, &conversationID, eventType, payload); err != nil {
		s.log.Warn("Failed to record audit event", "error", err, "event_type", eventType)
	}
}

func validateMessageInput(content string, kind domain.MessageKind, attachments []domain.Attachment) error {
	if !kind.Valid() {
		return apperrors.Validation("Invalid message type",
			apperrors.FieldError{Field: "kind", Message: "unknown message type"})
	}
	if content == "" && len(attachments) == 0 {
		return apperrors.Validation("Message content or attachments are required",
			apperrors.FieldError{Field: "content", Message: "must not be empty without attachments"})
	}
	if utf8.RuneCountInString(content) > maxContentLength {
		return apperrors.Validation("Message is too long",
			apperrors.FieldError{Field: "content", Message: "must be at most 10000 characters"})
	}

	var fields []apperrors.FieldError
	for _, a := range attachments {
		if strings.TrimSpace(a.URL) == "" || strings.TrimSpace(a.FileName) == "" {
			fields = append(fields, apperrors.FieldError{Field: "attachments", Message: "url and file_name are required"})
			break
		}
		if a.FileSize < 0 {
			fields = append(fields, apperrors.FieldError{Field: "attachments", Message: "file_size must not be negative"})
			break
		}
	}
	if len(fields) > 0 {
		return apperrors.Validation("Invalid attachments", fields...)
	}
	return nil
}

func validateGroupName(name *string) (string, error) {
	if name == nil {
		return "", apperrors.Validation("Group name is required",
			apperrors.FieldError{Field: "name", Message: "is required"})
	}
	trimmed := strings.TrimSpace(*name)
	n := utf8.RuneCountInString(trimmed)
	if n == 0 || n > maxGroupNameLength {
		return "", apperrors.Validation("Group name must be between 1 and 100 characters",
			apperrors.FieldError{Field: "name", Message: "must be between 1 and 100 characters"})
	}
	return trimmed, nil
}

func validateDescription(description *string) error {
	if description != nil && utf8.RuneCountInString(*description) > maxDescriptionLength {
		return apperrors.Validation("Description is too long",
			apperrors.FieldError{Field: "description", Message: "must be at most 500 characters"})
	}
	return nil
}

func trimmedOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func idStrings(ids []uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}
