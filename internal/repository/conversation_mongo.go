package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"artisan_chat/internal/domain"
	"artisan_chat/pkg/logger"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Документ чата: сообщения и индикаторы набора встроены в него
type conversationDoc struct {
	ID              string             `bson:"_id"`
	Kind            string             `bson:"kind"`
	Participants    []string           `bson:"participants"`
	Admins          []string           `bson:"admins"`
	PrivateKey      *string            `bson:"private_key,omitempty"`
	DisplayName     *string            `bson:"display_name,omitempty"`
	Description     *string            `bson:"description,omitempty"`
	AvatarRef       *string            `bson:"avatar_ref,omitempty"`
	Messages        []messageDoc       `bson:"messages"`
	LastMessage     *lastMessageDoc    `bson:"last_message,omitempty"`
	Typing          []typingDoc        `bson:"typing"`
	MutePreferences map[string]muteDoc `bson:"mute_preferences"`
	PinPreferences  map[string]pinDoc  `bson:"pin_preferences"`
	NextSeq         int64              `bson:"next_seq"`
	CreatedAt       time.Time          `bson:"created_at"`
	UpdatedAt       time.Time          `bson:"updated_at"`
}

type messageDoc struct {
	ID          string              `bson:"id"`
	Seq         int64               `bson:"seq"`
	SenderID    string              `bson:"sender_id"`
	Content     string              `bson:"content"`
	Kind        string              `bson:"kind"`
	Attachments []domain.Attachment `bson:"attachments"`
	SeenBy      []seenDoc           `bson:"seen_by"`
	Edited      bool                `bson:"edited"`
	EditedAt    *time.Time          `bson:"edited_at,omitempty"`
	ReplyToID   *string             `bson:"reply_to_id,omitempty"`
	CreatedAt   time.Time           `bson:"created_at"`
}

type seenDoc struct {
	UserID string    `bson:"user_id"`
	SeenAt time.Time `bson:"seen_at"`
}

type lastMessageDoc struct {
	MessageID string    `bson:"message_id"`
	Seq       int64     `bson:"seq"`
	Content   string    `bson:"content"`
	SenderID  string    `bson:"sender_id"`
	Timestamp time.Time `bson:"timestamp"`
	Kind      string    `bson:"kind"`
}

type typingDoc struct {
	UserID string    `bson:"user_id"`
	At     time.Time `bson:"at"`
}

type muteDoc struct {
	Until *time.Time `bson:"until,omitempty"`
}

type pinDoc struct {
	PinnedAt time.Time `bson:"pinned_at"`
}

type mongoConversationStore struct {
	db  *mongo.Database
	log logger.Logger
	now func() time.Time
}

func NewMongoConversationStore(db *mongo.Database, log logger.Logger) ConversationStore {
	return &mongoConversationStore{db: db, log: log, now: time.Now}
}

func (s *mongoConversationStore) coll() *mongo.Collection {
	return s.db.Collection(mongoConversations)
}

func (s *mongoConversationStore) Create(ctx context.Context, conv *domain.Conversation) error {
	doc := toConversationDoc(conv)
	if conv.Kind == domain.ConversationPrivate && len(conv.Participants) == 2 {
		key := domain.PrivatePairKey(conv.Participants[0], conv.Participants[1])
		doc.PrivateKey = &key
	}

	if _, err := s.coll().InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		s.log.Error("Failed to create conversation", "error", err, "conversation_id", conv.ID)
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

func (s *mongoConversationStore) FindPrivate(ctx context.Context, a, b uuid.UUID) (*domain.Conversation, error) {
	var doc conversationDoc
	err := s.coll().FindOne(ctx,
		bson.M{"private_key": domain.PrivatePairKey(a, b)},
		options.FindOne().SetProjection(bson.M{"messages": 0}),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		s.log.Error("Failed to find private conversation", "error", err)
		return nil, err
	}
	return doc.toDomain(), nil
}

func (s *mongoConversationStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	var doc conversationDoc
	if err := s.coll().FindOne(ctx, bson.M{"_id": uuidToStr(id)}).Decode(&doc); err != nil {
		return nil, s.notFound(err, id)
	}
	conv := doc.toDomain()
	domain.SortBySeq(conv.Messages)
	return conv, nil
}

func (s *mongoConversationStore) GetHeader(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	var doc conversationDoc
	err := s.coll().FindOne(ctx,
		bson.M{"_id": uuidToStr(id)},
		options.FindOne().SetProjection(bson.M{"messages": 0}),
	).Decode(&doc)
	if err != nil {
		return nil, s.notFound(err, id)
	}
	return doc.toDomain(), nil
}

func (s *mongoConversationStore) ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Conversation, int, error) {
	filter := bson.M{"participants": uuidToStr(userID)}

	total, err := s.coll().CountDocuments(ctx, filter)
	if err != nil {
		s.log.Error("Failed to count conversations", "error", err, "user_id", userID)
		return nil, 0, err
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "updated_at", Value: -1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit)).
		SetProjection(bson.M{"messages": 0})

	cursor, err := s.coll().Find(ctx, filter, opts)
	if err != nil {
		s.log.Error("Failed to list conversations", "error", err, "user_id", userID)
		return nil, 0, err
	}
	defer cursor.Close(ctx)

	var docs []conversationDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, 0, err
	}

	conversations := make([]*domain.Conversation, 0, len(docs))
	for i := range docs {
		conversations = append(conversations, docs[i].toDomain())
	}
	return conversations, int(total), nil
}

func (s *mongoConversationStore) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := s.coll().DeleteOne(ctx, bson.M{"_id": uuidToStr(id)})
	if err != nil {
		s.log.Error("Failed to delete conversation", "error", err, "conversation_id", id)
		return err
	}
	if result.DeletedCount == 0 {
		return fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *mongoConversationStore) AppendMessage(ctx context.Context, conversationID uuid.UUID, msg *domain.Message) error {
	msg.ConversationID = conversationID
	doc := toMessageDoc(msg)

	// Одно атомарное обновление: seq резервируется и сообщение добавляется
	// вместе, поэтому массив не содержит пропусков между next_seq и messages.
	// $literal не дает трактовать "$..." в тексте сообщения как путь к полю.
	pipeline := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{"next_seq": bson.M{"$add": bson.A{"$next_seq", 1}}}}},
		{{Key: "$set", Value: bson.M{
			"messages": bson.M{"$concatArrays": bson.A{
				bson.M{"$ifNull": bson.A{"$messages", bson.A{}}},
				bson.A{bson.M{"$mergeObjects": bson.A{
					bson.M{"$literal": doc},
					bson.M{"seq": "$next_seq"},
				}}},
			}},
			"updated_at": s.now(),
		}}},
	}

	var reserved struct {
		NextSeq int64 `bson:"next_seq"`
	}
	err := s.coll().FindOneAndUpdate(ctx,
		bson.M{"_id": uuidToStr(conversationID)},
		pipeline,
		options.FindOneAndUpdate().
			SetReturnDocument(options.After).
			SetProjection(bson.M{"next_seq": 1}),
	).Decode(&reserved)
	if err != nil {
		return s.notFound(err, conversationID)
	}

	msg.Seq = reserved.NextSeq
	return nil
}

func (s *mongoConversationStore) GetMessage(ctx context.Context, conversationID, messageID uuid.UUID) (*domain.Message, error) {
	var doc conversationDoc
	err := s.coll().FindOne(ctx,
		bson.M{"_id": uuidToStr(conversationID)},
		options.FindOne().SetProjection(bson.M{
			"messages": bson.M{"$elemMatch": bson.M{"id": uuidToStr(messageID)}},
		}),
	).Decode(&doc)
	if err != nil {
		return nil, s.notFound(err, conversationID)
	}
	if len(doc.Messages) == 0 {
		return nil, fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}
	return doc.Messages[0].toDomain(conversationID), nil
}

func (s *mongoConversationStore) PatchMessage(ctx context.Context, conversationID, messageID uuid.UUID, patch domain.MessagePatch) (*domain.Message, error) {
	convID, msgID := uuidToStr(conversationID), uuidToStr(messageID)

	if patch.Content != nil {
		editedAt := s.now()
		if patch.EditedAt != nil {
			editedAt = *patch.EditedAt
		}
		result, err := s.coll().UpdateOne(ctx,
			bson.M{"_id": convID, "messages.id": msgID},
			bson.M{"$set": bson.M{
				"messages.$.content":   *patch.Content,
				"messages.$.edited":    true,
				"messages.$.edited_at": editedAt,
			}},
		)
		if err != nil {
			s.log.Error("Failed to edit message", "error", err, "message_id", messageID)
			return nil, err
		}
		if result.MatchedCount == 0 {
			return nil, s.missingMessage(ctx, conversationID, messageID)
		}
	}

	if patch.AddSeen != nil {
		// Фильтр пропускает сообщение, уже отмеченное этим пользователем
		_, err := s.coll().UpdateOne(ctx,
			bson.M{
				"_id": convID,
				"messages": bson.M{"$elemMatch": bson.M{
					"id":              msgID,
					"seen_by.user_id": bson.M{"$ne": uuidToStr(patch.AddSeen.UserID)},
				}},
			},
			bson.M{"$push": bson.M{"messages.$.seen_by": seenDoc{
				UserID: uuidToStr(patch.AddSeen.UserID),
				SeenAt: patch.AddSeen.SeenAt,
			}}},
		)
		if err != nil {
			s.log.Error("Failed to mark message seen", "error", err, "message_id", messageID)
			return nil, err
		}
	}

	return s.GetMessage(ctx, conversationID, messageID)
}

func (s *mongoConversationStore) RemoveMessage(ctx context.Context, conversationID, messageID uuid.UUID) error {
	result, err := s.coll().UpdateOne(ctx,
		bson.M{"_id": uuidToStr(conversationID), "messages.id": uuidToStr(messageID)},
		bson.M{"$pull": bson.M{"messages": bson.M{"id": uuidToStr(messageID)}}},
	)
	if err != nil {
		s.log.Error("Failed to remove message", "error", err, "message_id", messageID)
		return err
	}
	if result.MatchedCount == 0 {
		return s.missingMessage(ctx, conversationID, messageID)
	}
	return nil
}

func (s *mongoConversationStore) LatestMessage(ctx context.Context, conversationID uuid.UUID) (*domain.Message, error) {
	var doc conversationDoc
	err := s.coll().FindOne(ctx,
		bson.M{"_id": uuidToStr(conversationID)},
		options.FindOne().SetProjection(bson.M{"messages": 1}),
	).Decode(&doc)
	if err != nil {
		return nil, s.notFound(err, conversationID)
	}
	return doc.toDomain().Latest(), nil
}

func (s *mongoConversationStore) UpdateLastMessageCache(ctx context.Context, conversationID uuid.UUID, snapshot *domain.LastMessage) error {
	if snapshot == nil {
		return s.updateOne(ctx, "clear last message", conversationID,
			bson.M{
				"$unset": bson.M{"last_message": ""},
				"$set":   bson.M{"updated_at": s.now()},
			},
			bson.E{Key: "messages.0", Value: bson.M{"$exists": false}},
		)
	}

	// Кэш старше снимка, либо закэшированное сообщение уже удалено
	guard := bson.E{Key: "$or", Value: bson.A{
		bson.M{"last_message": bson.M{"$exists": false}},
		bson.M{"last_message.seq": bson.M{"$lte": snapshot.Seq}},
		bson.M{"$expr": bson.M{"$not": bson.A{
			bson.M{"$in": bson.A{"$last_message.message_id", bson.M{"$ifNull": bson.A{"$messages.id", bson.A{}}}}},
		}}},
	}}
	return s.updateOne(ctx, "update last message", conversationID,
		bson.M{"$set": bson.M{
			"updated_at":   s.now(),
			"last_message": toLastMessageDoc(snapshot),
		}},
		guard,
	)
}

func (s *mongoConversationStore) UpdateMembership(ctx context.Context, conversationID uuid.UUID, participants, admins []uuid.UUID) error {
	return s.updateOne(ctx, "update membership", conversationID, bson.M{"$set": bson.M{
		"participants": uuidsToStrs(participants),
		"admins":       uuidsToStrs(admins),
		"updated_at":   s.now(),
	}})
}

func (s *mongoConversationStore) UpdateGroupInfo(ctx context.Context, conversationID uuid.UUID, info domain.GroupInfo) error {
	set := bson.M{"updated_at": s.now()}
	if info.DisplayName != nil {
		set["display_name"] = *info.DisplayName
	}
	if info.Description != nil {
		set["description"] = *info.Description
	}
	if info.AvatarRef != nil {
		set["avatar_ref"] = *info.AvatarRef
	}
	return s.updateOne(ctx, "update group info", conversationID, bson.M{"$set": set})
}

func (s *mongoConversationStore) SetPin(ctx context.Context, conversationID, userID uuid.UUID, pref *domain.PinPreference) error {
	field := "pin_preferences." + uuidToStr(userID)
	if pref == nil {
		return s.updateOne(ctx, "unpin conversation", conversationID, bson.M{"$unset": bson.M{field: ""}})
	}
	return s.updateOne(ctx, "pin conversation", conversationID, bson.M{"$set": bson.M{field: pinDoc{PinnedAt: pref.PinnedAt}}})
}

func (s *mongoConversationStore) SetMute(ctx context.Context, conversationID, userID uuid.UUID, pref *domain.MutePreference) error {
	field := "mute_preferences." + uuidToStr(userID)
	if pref == nil {
		return s.updateOne(ctx, "unmute conversation", conversationID, bson.M{"$unset": bson.M{field: ""}})
	}
	return s.updateOne(ctx, "mute conversation", conversationID, bson.M{"$set": bson.M{field: muteDoc{Until: pref.Until}}})
}

func (s *mongoConversationStore) AddOrRefreshTyping(ctx context.Context, conversationID, userID uuid.UUID) error {
	convID, uid := uuidToStr(conversationID), uuidToStr(userID)
	now := s.now()

	result, err := s.coll().UpdateOne(ctx,
		bson.M{"_id": convID, "typing.user_id": uid},
		bson.M{"$set": bson.M{"typing.$.at": now}},
	)
	if err != nil {
		s.log.Error("Failed to refresh typing indicator", "error", err, "conversation_id", conversationID)
		return err
	}
	if result.MatchedCount > 0 {
		return nil
	}

	return s.updateOne(ctx, "add typing indicator", conversationID,
		bson.M{"$push": bson.M{"typing": typingDoc{UserID: uid, At: now}}},
		bson.E{Key: "typing.user_id", Value: bson.M{"$ne": uid}},
	)
}

func (s *mongoConversationStore) RemoveTyping(ctx context.Context, conversationID, userID uuid.UUID) error {
	return s.updateOne(ctx, "remove typing indicator", conversationID,
		bson.M{"$pull": bson.M{"typing": bson.M{"user_id": uuidToStr(userID)}}},
	)
}

func (s *mongoConversationStore) PruneStaleTyping(ctx context.Context, conversationID uuid.UUID, maxAge time.Duration) ([]domain.TypingEntry, error) {
	cutoff := s.now().Add(-maxAge)

	var doc conversationDoc
	err := s.coll().FindOneAndUpdate(ctx,
		bson.M{"_id": uuidToStr(conversationID)},
		bson.M{"$pull": bson.M{"typing": bson.M{"at": bson.M{"$lte": cutoff}}}},
		options.FindOneAndUpdate().
			SetReturnDocument(options.After).
			SetProjection(bson.M{"typing": 1}),
	).Decode(&doc)
	if err != nil {
		return nil, s.notFound(err, conversationID)
	}

	entries := make([]domain.TypingEntry, 0, len(doc.Typing))
	for _, t := range doc.Typing {
		entries = append(entries, domain.TypingEntry{UserID: strToUUID(t.UserID), At: t.At})
	}
	return entries, nil
}

// updateOne применяет update к чату; если чат не найден - ErrNotFound.
// Дополнительные условия фильтра сужают выборку, но при их несовпадении
// существующий чат ошибкой не считается.
func (s *mongoConversationStore) updateOne(ctx context.Context, op string, conversationID uuid.UUID, update bson.M, extra ...bson.E) error {
	filter := bson.D{{Key: "_id", Value: uuidToStr(conversationID)}}
	filter = append(filter, extra...)

	result, err := s.coll().UpdateOne(ctx, filter, update)
	if err != nil {
		s.log.Error("Failed to "+op, "error", err, "conversation_id", conversationID)
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if result.MatchedCount > 0 {
		return nil
	}
	if len(extra) > 0 {
		exists, err := s.exists(ctx, conversationID)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
	}
	return fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
}

func (s *mongoConversationStore) exists(ctx context.Context, conversationID uuid.UUID) (bool, error) {
	count, err := s.coll().CountDocuments(ctx, bson.M{"_id": uuidToStr(conversationID)}, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// missingMessage различает отсутствие чата и отсутствие сообщения
func (s *mongoConversationStore) missingMessage(ctx context.Context, conversationID, messageID uuid.UUID) error {
	exists, err := s.exists(ctx, conversationID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}
	return fmt.Errorf("message %s: %w", messageID, ErrNotFound)
}

func (s *mongoConversationStore) notFound(err error, conversationID uuid.UUID) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}
	s.log.Error("Failed to load conversation", "error", err, "conversation_id", conversationID)
	return err
}

func toConversationDoc(conv *domain.Conversation) conversationDoc {
	doc := conversationDoc{
		ID:              uuidToStr(conv.ID),
		Kind:            string(conv.Kind),
		Participants:    uuidsToStrs(conv.Participants),
		Admins:          uuidsToStrs(conv.Admins),
		DisplayName:     conv.DisplayName,
		Description:     conv.Description,
		AvatarRef:       conv.AvatarRef,
		Messages:        make([]messageDoc, 0, len(conv.Messages)),
		Typing:          []typingDoc{},
		MutePreferences: map[string]muteDoc{},
		PinPreferences:  map[string]pinDoc{},
		NextSeq:         conv.NextSeq,
		CreatedAt:       conv.CreatedAt,
		UpdatedAt:       conv.UpdatedAt,
	}
	for _, m := range conv.Messages {
		doc.Messages = append(doc.Messages, toMessageDoc(m))
	}
	if conv.LastMessage != nil {
		doc.LastMessage = toLastMessageDoc(conv.LastMessage)
	}
	for id, p := range conv.MutePreferences {
		doc.MutePreferences[uuidToStr(id)] = muteDoc{Until: p.Until}
	}
	for id, p := range conv.PinPreferences {
		doc.PinPreferences[uuidToStr(id)] = pinDoc{PinnedAt: p.PinnedAt}
	}
	return doc
}

func toMessageDoc(m *domain.Message) messageDoc {
	doc := messageDoc{
		ID:          uuidToStr(m.ID),
		Seq:         m.Seq,
		SenderID:    uuidToStr(m.SenderID),
		Content:     m.Content,
		Kind:        string(m.Kind),
		Attachments: nonNilAttachments(m.Attachments),
		SeenBy:      make([]seenDoc, 0, len(m.SeenBy)),
		Edited:      m.Edited,
		EditedAt:    m.EditedAt,
		ReplyToID:   ptrUUIDToStr(m.ReplyToID),
		CreatedAt:   m.CreatedAt,
	}
	for _, r := range m.SeenBy {
		doc.SeenBy = append(doc.SeenBy, seenDoc{UserID: uuidToStr(r.UserID), SeenAt: r.SeenAt})
	}
	return doc
}

func toLastMessageDoc(lm *domain.LastMessage) *lastMessageDoc {
	return &lastMessageDoc{
		MessageID: uuidToStr(lm.MessageID),
		Seq:       lm.Seq,
		Content:   lm.Content,
		SenderID:  uuidToStr(lm.SenderID),
		Timestamp: lm.Timestamp,
		Kind:      string(lm.Kind),
	}
}

func (d *conversationDoc) toDomain() *domain.Conversation {
	conv := &domain.Conversation{
		ID:              strToUUID(d.ID),
		Kind:            domain.ConversationKind(d.Kind),
		Participants:    strsToUUIDs(d.Participants),
		Admins:          strsToUUIDs(d.Admins),
		DisplayName:     d.DisplayName,
		Description:     d.Description,
		AvatarRef:       d.AvatarRef,
		MutePreferences: make(map[uuid.UUID]domain.MutePreference, len(d.MutePreferences)),
		PinPreferences:  make(map[uuid.UUID]domain.PinPreference, len(d.PinPreferences)),
		NextSeq:         d.NextSeq,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
	for _, m := range d.Messages {
		conv.Messages = append(conv.Messages, m.toDomain(conv.ID))
	}
	if d.LastMessage != nil {
		conv.LastMessage = &domain.LastMessage{
			MessageID: strToUUID(d.LastMessage.MessageID),
			Seq:       d.LastMessage.Seq,
			Content:   d.LastMessage.Content,
			SenderID:  strToUUID(d.LastMessage.SenderID),
			Timestamp: d.LastMessage.Timestamp,
			Kind:      domain.MessageKind(d.LastMessage.Kind),
		}
	}
	for _, t := range d.Typing {
		conv.Typing = append(conv.Typing, domain.TypingEntry{UserID: strToUUID(t.UserID), At: t.At})
	}
	for id, p := range d.MutePreferences {
		conv.MutePreferences[strToUUID(id)] = domain.MutePreference{Until: p.Until}
	}
	for id, p := range d.PinPreferences {
		conv.PinPreferences[strToUUID(id)] = domain.PinPreference{PinnedAt: p.PinnedAt}
	}
	return conv
}

func (d messageDoc) toDomain(conversationID uuid.UUID) *domain.Message {
	msg := &domain.Message{
		ID:             strToUUID(d.ID),
		ConversationID: conversationID,
		Seq:            d.Seq,
		SenderID:       strToUUID(d.SenderID),
		Content:        d.Content,
		Kind:           domain.MessageKind(d.Kind),
		Attachments:    d.Attachments,
		SeenBy:         make([]domain.SeenReceipt, 0, len(d.SeenBy)),
		Edited:         d.Edited,
		EditedAt:       d.EditedAt,
		ReplyToID:      ptrStrToUUID(d.ReplyToID),
		CreatedAt:      d.CreatedAt,
	}
	for _, r := range d.SeenBy {
		msg.SeenBy = append(msg.SeenBy, domain.SeenReceipt{UserID: strToUUID(r.UserID), SeenAt: r.SeenAt})
	}
	return msg
}
