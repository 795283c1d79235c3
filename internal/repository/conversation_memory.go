package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"artisan_chat/internal/domain"

	"github.com/google/uuid"
)

// memoryConversationStore держит агрегаты в памяти процесса. Один мьютекс
// на все чаты, наружу отдаются только глубокие копии.
type memoryConversationStore struct {
	mu            sync.Mutex
	conversations map[uuid.UUID]*domain.Conversation
	now           func() time.Time
}

// NewMemoryConversationStore - хранилище для тестов и локального запуска.
// now может быть nil, тогда используется time.Now.
func NewMemoryConversationStore(now func() time.Time) ConversationStore {
	if now == nil {
		now = time.Now
	}
	return &memoryConversationStore{
		conversations: make(map[uuid.UUID]*domain.Conversation),
		now:           now,
	}
}

func (s *memoryConversationStore) Create(ctx context.Context, conv *domain.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conv.Kind == domain.ConversationPrivate && len(conv.Participants) == 2 {
		if existing := s.findPrivateLocked(conv.Participants[0], conv.Participants[1]); existing != nil {
			return ErrDuplicate
		}
	}
	if _, ok := s.conversations[conv.ID]; ok {
		return ErrDuplicate
	}

	stored := conv.Clone()
	if stored.MutePreferences == nil {
		stored.MutePreferences = map[uuid.UUID]domain.MutePreference{}
	}
	if stored.PinPreferences == nil {
		stored.PinPreferences = map[uuid.UUID]domain.PinPreference{}
	}
	s.conversations[conv.ID] = stored
	return nil
}

func (s *memoryConversationStore) FindPrivate(ctx context.Context, a, b uuid.UUID) (*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conv := s.findPrivateLocked(a, b); conv != nil {
		return conv.Clone(), nil
	}
	return nil, nil
}

func (s *memoryConversationStore) findPrivateLocked(a, b uuid.UUID) *domain.Conversation {
	key := domain.PrivatePairKey(a, b)
	for _, conv := range s.conversations {
		if conv.Kind != domain.ConversationPrivate || len(conv.Participants) != 2 {
			continue
		}
		if domain.PrivatePairKey(conv.Participants[0], conv.Participants[1]) == key {
			return conv
		}
	}
	return nil
}

func (s *memoryConversationStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.getLocked(id)
	if err != nil {
		return nil, err
	}
	return conv.Clone(), nil
}

func (s *memoryConversationStore) GetHeader(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.getLocked(id)
	if err != nil {
		return nil, err
	}
	cp := conv.Clone()
	cp.Messages = nil
	return cp, nil
}

func (s *memoryConversationStore) getLocked(id uuid.UUID) (*domain.Conversation, error) {
	conv, ok := s.conversations[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	return conv, nil
}

func (s *memoryConversationStore) ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Conversation, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*domain.Conversation
	for _, conv := range s.conversations {
		if conv.IsParticipant(userID) {
			matched = append(matched, conv)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].UpdatedAt.Equal(matched[j].UpdatedAt) {
			return matched[i].ID.String() < matched[j].ID.String()
		}
		return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
	})

	total := len(matched)
	if offset >= total {
		return []*domain.Conversation{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}

	result := make([]*domain.Conversation, 0, end-offset)
	for _, conv := range matched[offset:end] {
		cp := conv.Clone()
		cp.Messages = nil
		result = append(result, cp)
	}
	return result, total, nil
}

func (s *memoryConversationStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.getLocked(id); err != nil {
		return err
	}
	delete(s.conversations, id)
	return nil
}

func (s *memoryConversationStore) AppendMessage(ctx context.Context, conversationID uuid.UUID, msg *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.getLocked(conversationID)
	if err != nil {
		return err
	}

	conv.NextSeq++
	msg.Seq = conv.NextSeq
	msg.ConversationID = conversationID
	conv.Messages = append(conv.Messages, msg.Clone())
	conv.UpdatedAt = s.now()
	return nil
}

func (s *memoryConversationStore) GetMessage(ctx context.Context, conversationID, messageID uuid.UUID) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.getLocked(conversationID)
	if err != nil {
		return nil, err
	}
	msg := conv.FindMessage(messageID)
	if msg == nil {
		return nil, fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}
	return msg.Clone(), nil
}

func (s *memoryConversationStore) PatchMessage(ctx context.Context, conversationID, messageID uuid.UUID, patch domain.MessagePatch) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.getLocked(conversationID)
	if err != nil {
		return nil, err
	}
	msg := conv.FindMessage(messageID)
	if msg == nil {
		return nil, fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}
	msg.Apply(patch)
	return msg.Clone(), nil
}

func (s *memoryConversationStore) RemoveMessage(ctx context.Context, conversationID, messageID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.getLocked(conversationID)
	if err != nil {
		return err
	}
	for i, m := range conv.Messages {
		if m.ID == messageID {
			conv.Messages = append(conv.Messages[:i], conv.Messages[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("message %s: %w", messageID, ErrNotFound)
}

func (s *memoryConversationStore) LatestMessage(ctx context.Context, conversationID uuid.UUID) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.getLocked(conversationID)
	if err != nil {
		return nil, err
	}
	return conv.Latest().Clone(), nil
}

func (s *memoryConversationStore) UpdateLastMessageCache(ctx context.Context, conversationID uuid.UUID, snapshot *domain.LastMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.getLocked(conversationID)
	if err != nil {
		return err
	}
	if snapshot == nil {
		if len(conv.Messages) > 0 {
			return nil
		}
		conv.LastMessage = nil
	} else {
		if cached := conv.LastMessage; cached != nil && cached.Seq > snapshot.Seq && conv.FindMessage(cached.MessageID) != nil {
			return nil
		}
		lm := *snapshot
		conv.LastMessage = &lm
	}
	conv.UpdatedAt = s.now()
	return nil
}

func (s *memoryConversationStore) UpdateMembership(ctx context.Context, conversationID uuid.UUID, participants, admins []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.getLocked(conversationID)
	if err != nil {
		return err
	}
	conv.Participants = append([]uuid.UUID(nil), participants...)
	conv.Admins = append([]uuid.UUID(nil), admins...)
	conv.UpdatedAt = s.now()
	return nil
}

func (s *memoryConversationStore) UpdateGroupInfo(ctx context.Context, conversationID uuid.UUID, info domain.GroupInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.getLocked(conversationID)
	if err != nil {
		return err
	}
	if info.DisplayName != nil {
		v := *info.DisplayName
		conv.DisplayName = &v
	}
	if info.Description != nil {
		v := *info.Description
		conv.Description = &v
	}
	if info.AvatarRef != nil {
		v := *info.AvatarRef
		conv.AvatarRef = &v
	}
	conv.UpdatedAt = s.now()
	return nil
}

func (s *memoryConversationStore) SetPin(ctx context.Context, conversationID, userID uuid.UUID, pref *domain.PinPreference) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.getLocked(conversationID)
	if err != nil {
		return err
	}
	if pref == nil {
		delete(conv.PinPreferences, userID)
	} else {
		conv.PinPreferences[userID] = *pref
	}
	return nil
}

func (s *memoryConversationStore) SetMute(ctx context.Context, conversationID, userID uuid.UUID, pref *domain.MutePreference) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.getLocked(conversationID)
	if err != nil {
		return err
	}
	if pref == nil {
		delete(conv.MutePreferences, userID)
	} else {
		conv.MutePreferences[userID] = *pref
	}
	return nil
}

func (s *memoryConversationStore) AddOrRefreshTyping(ctx context.Context, conversationID, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.getLocked(conversationID)
	if err != nil {
		return err
	}
	now := s.now()
	for i := range conv.Typing {
		if conv.Typing[i].UserID == userID {
			conv.Typing[i].At = now
			return nil
		}
	}
	conv.Typing = append(conv.Typing, domain.TypingEntry{UserID: userID, At: now})
	return nil
}

func (s *memoryConversationStore) RemoveTyping(ctx context.Context, conversationID, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.getLocked(conversationID)
	if err != nil {
		return err
	}
	kept := conv.Typing[:0]
	for _, entry := range conv.Typing {
		if entry.UserID != userID {
			kept = append(kept, entry)
		}
	}
	conv.Typing = kept
	return nil
}

func (s *memoryConversationStore) PruneStaleTyping(ctx context.Context, conversationID uuid.UUID, maxAge time.Duration) ([]domain.TypingEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.getLocked(conversationID)
	if err != nil {
		return nil, err
	}
	cutoff := s.now().Add(-maxAge)
	kept := conv.Typing[:0]
	for _, entry := range conv.Typing {
		if entry.At.After(cutoff) {
			kept = append(kept, entry)
		}
	}
	conv.Typing = kept
	return append([]domain.TypingEntry(nil), kept...), nil
}
