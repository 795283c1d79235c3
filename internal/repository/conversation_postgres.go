package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"artisan_chat/internal/domain"
	"artisan_chat/pkg/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const conversationColumns = `
	id, kind, participants, admins, display_name, description, avatar_ref,
	last_message, mute_preferences, pin_preferences, next_seq, created_at, updated_at`

const messageColumns = `
	id, conversation_id, seq, sender_id, content, kind, attachments, seen_by,
	edited, edited_at, reply_to_id, created_at`

// postgresConversationStore: чат - строка conversations, сообщения - строки
// messages. Изменения одного чата идут в транзакции под блокировкой строки чата.
// Индикаторы набора делегируются во внешний TypingStore (Redis).
type postgresConversationStore struct {
	TypingStore

	db  *pgxpool.Pool
	log logger.Logger
	now func() time.Time
}

func NewPostgresConversationStore(db *pgxpool.Pool, typing TypingStore, log logger.Logger) ConversationStore {
	return &postgresConversationStore{
		TypingStore: typing,
		db:          db,
		log:         log,
		now:         time.Now,
	}
}

func (r *postgresConversationStore) Create(ctx context.Context, conv *domain.Conversation) error {
	var privateKey *string
	if conv.Kind == domain.ConversationPrivate && len(conv.Participants) == 2 {
		key := domain.PrivatePairKey(conv.Participants[0], conv.Participants[1])
		privateKey = &key
	}

	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if privateKey != nil {
			// Два одновременных создания одной пары сериализуются на advisory lock
			if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, *privateKey); err != nil {
				return err
			}
			var exists bool
			err := tx.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM conversations WHERE private_key = $1)`, *privateKey,
			).Scan(&exists)
			if err != nil {
				return err
			}
			if exists {
				return ErrDuplicate
			}
		}

		lastMessage, err := marshalNullable(conv.LastMessage)
		if err != nil {
			return err
		}
		mutes, err := json.Marshal(encodeMutePreferences(conv.MutePreferences))
		if err != nil {
			return err
		}
		pins, err := json.Marshal(encodePinPreferences(conv.PinPreferences))
		if err != nil {
			return err
		}

		query := `
			INSERT INTO conversations (
				id, kind, participants, admins, private_key, display_name, description, avatar_ref,
				last_message, mute_preferences, pin_preferences, next_seq, created_at, updated_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10::jsonb, $11::jsonb, $12, $13, $14)
		`
		_, err = tx.Exec(ctx, query,
			conv.ID, string(conv.Kind), nonNilIDs(conv.Participants), nonNilIDs(conv.Admins), privateKey,
			conv.DisplayName, conv.Description, conv.AvatarRef,
			lastMessage, string(mutes), string(pins), conv.NextSeq, conv.CreatedAt, conv.UpdatedAt,
		)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrDuplicate) {
			return err
		}
		r.log.Error("Failed to create conversation", "error", err, "conversation_id", conv.ID)
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

func (r *postgresConversationStore) FindPrivate(ctx context.Context, a, b uuid.UUID) (*domain.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE private_key = $1`

	conv, err := scanConversation(r.db.QueryRow(ctx, query, domain.PrivatePairKey(a, b)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.log.Error("Failed to find private conversation", "error", err)
		return nil, err
	}
	return conv, nil
}

func (r *postgresConversationStore) GetHeader(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1`

	conv, err := scanConversation(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
		}
		r.log.Error("Failed to get conversation", "error", err, "conversation_id", id)
		return nil, err
	}
	return conv, nil
}

func (r *postgresConversationStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	conv, err := r.GetHeader(ctx, id)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE conversation_id = $1 ORDER BY seq ASC`, id)
	if err != nil {
		r.log.Error("Failed to get messages", "error", err, "conversation_id", id)
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			r.log.Error("Failed to scan message", "error", err)
			return nil, err
		}
		conv.Messages = append(conv.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return conv, nil
}

func (r *postgresConversationStore) ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Conversation, int, error) {
	var total int
	if err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM conversations WHERE $1 = ANY(participants)`, userID,
	).Scan(&total); err != nil {
		r.log.Error("Failed to count conversations", "error", err, "user_id", userID)
		return nil, 0, err
	}

	query := `SELECT ` + conversationColumns + `
		FROM conversations
		WHERE $1 = ANY(participants)
		ORDER BY updated_at DESC, id
		LIMIT $2 OFFSET $3`

	rows, err := r.db.Query(ctx, query, userID, limit, offset)
	if err != nil {
		r.log.Error("Failed to list conversations", "error", err, "user_id", userID)
		return nil, 0, err
	}
	defer rows.Close()

	conversations := make([]*domain.Conversation, 0, limit)
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			r.log.Error("Failed to scan conversation", "error", err)
			return nil, 0, err
		}
		conversations = append(conversations, conv)
	}
	return conversations, total, rows.Err()
}

func (r *postgresConversationStore) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		r.log.Error("Failed to delete conversation", "error", err, "conversation_id", id)
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *postgresConversationStore) AppendMessage(ctx context.Context, conversationID uuid.UUID, msg *domain.Message) error {
	attachments, err := json.Marshal(nonNilAttachments(msg.Attachments))
	if err != nil {
		return err
	}
	seenBy, err := json.Marshal(nonNilReceipts(msg.SeenBy))
	if err != nil {
		return err
	}

	err = pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		// UPDATE берет блокировку строки чата, seq выдается строго по порядку
		var seq int64
		err := tx.QueryRow(ctx,
			`UPDATE conversations SET next_seq = next_seq + 1, updated_at = $2 WHERE id = $1 RETURNING next_seq`,
			conversationID, r.now(),
		).Scan(&seq)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
			}
			return err
		}

		query := `
			INSERT INTO messages (` + messageColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8::jsonb, $9, $10, $11, $12)
		`
		_, err = tx.Exec(ctx, query,
			msg.ID, conversationID, seq, msg.SenderID, msg.Content, string(msg.Kind),
			string(attachments), string(seenBy), msg.Edited, msg.EditedAt, msg.ReplyToID, msg.CreatedAt,
		)
		if err != nil {
			return err
		}
		msg.Seq = seq
		msg.ConversationID = conversationID
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		r.log.Error("Failed to append message", "error", err, "conversation_id", conversationID)
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

func (r *postgresConversationStore) GetMessage(ctx context.Context, conversationID, messageID uuid.UUID) (*domain.Message, error) {
	return r.getMessage(ctx, r.db, conversationID, messageID)
}

func (r *postgresConversationStore) getMessage(ctx context.Context, q querier, conversationID, messageID uuid.UUID) (*domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE conversation_id = $1 AND id = $2`

	msg, err := scanMessage(q.QueryRow(ctx, query, conversationID, messageID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("message %s: %w", messageID, ErrNotFound)
		}
		r.log.Error("Failed to get message", "error", err, "message_id", messageID)
		return nil, err
	}
	return msg, nil
}

func (r *postgresConversationStore) PatchMessage(ctx context.Context, conversationID, messageID uuid.UUID, patch domain.MessagePatch) (*domain.Message, error) {
	var patched *domain.Message

	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if err := lockConversation(ctx, tx, conversationID); err != nil {
			return err
		}

		if patch.Content != nil {
			editedAt := r.now()
			if patch.EditedAt != nil {
				editedAt = *patch.EditedAt
			}
			tag, err := tx.Exec(ctx,
				`UPDATE messages SET content = $3, edited = TRUE, edited_at = $4 WHERE conversation_id = $1 AND id = $2`,
				conversationID, messageID, *patch.Content, editedAt,
			)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("message %s: %w", messageID, ErrNotFound)
			}
		}

		if patch.AddSeen != nil {
			receipt, err := json.Marshal([]domain.SeenReceipt{*patch.AddSeen})
			if err != nil {
				return err
			}
			// Повторная отметка тем же пользователем ничего не меняет
			_, err = tx.Exec(ctx, `
				UPDATE messages SET seen_by = seen_by || $3::jsonb
				WHERE conversation_id = $1 AND id = $2
				  AND NOT seen_by @> jsonb_build_array(jsonb_build_object('user_id', $4::text))`,
				conversationID, messageID, string(receipt), patch.AddSeen.UserID.String(),
			)
			if err != nil {
				return err
			}
		}

		msg, err := r.getMessage(ctx, tx, conversationID, messageID)
		if err != nil {
			return err
		}
		patched = msg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return patched, nil
}

func (r *postgresConversationStore) RemoveMessage(ctx context.Context, conversationID, messageID uuid.UUID) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if err := lockConversation(ctx, tx, conversationID); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM messages WHERE conversation_id = $1 AND id = $2`, conversationID, messageID)
		if err != nil {
			r.log.Error("Failed to remove message", "error", err, "message_id", messageID)
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("message %s: %w", messageID, ErrNotFound)
		}
		return nil
	})
}

func (r *postgresConversationStore) LatestMessage(ctx context.Context, conversationID uuid.UUID) (*domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE conversation_id = $1 ORDER BY seq DESC LIMIT 1`

	msg, err := scanMessage(r.db.QueryRow(ctx, query, conversationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.log.Error("Failed to get latest message", "error", err, "conversation_id", conversationID)
		return nil, err
	}
	return msg, nil
}

func (r *postgresConversationStore) UpdateLastMessageCache(ctx context.Context, conversationID uuid.UUID, snapshot *domain.LastMessage) error {
	if snapshot == nil {
		return r.execGuarded(ctx, "clear last message", `
			UPDATE conversations c SET last_message = NULL, updated_at = $2
			WHERE c.id = $1
			  AND NOT EXISTS (SELECT 1 FROM messages m WHERE m.conversation_id = c.id)`,
			conversationID, r.now(),
		)
	}

	lastMessage, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	// Кэш старше снимка, либо закэшированное сообщение уже удалено
	return r.execGuarded(ctx, "update last message", `
		UPDATE conversations c SET last_message = $2::jsonb, updated_at = $3
		WHERE c.id = $1
		  AND (c.last_message IS NULL
		       OR COALESCE((c.last_message->>'seq')::bigint, 0) <= $4
		       OR NOT EXISTS (
		           SELECT 1 FROM messages m
		           WHERE m.conversation_id = c.id AND m.id::text = c.last_message->>'message_id'))`,
		conversationID, string(lastMessage), r.now(), snapshot.Seq,
	)
}

func (r *postgresConversationStore) UpdateMembership(ctx context.Context, conversationID uuid.UUID, participants, admins []uuid.UUID) error {
	return r.execOne(ctx, "update membership",
		`UPDATE conversations SET participants = $2, admins = $3, updated_at = $4 WHERE id = $1`,
		conversationID, nonNilIDs(participants), nonNilIDs(admins), r.now(),
	)
}

func (r *postgresConversationStore) UpdateGroupInfo(ctx context.Context, conversationID uuid.UUID, info domain.GroupInfo) error {
	return r.execOne(ctx, "update group info", `
		UPDATE conversations
		SET display_name = COALESCE($2, display_name),
		    description = COALESCE($3, description),
		    avatar_ref = COALESCE($4, avatar_ref),
		    updated_at = $5
		WHERE id = $1`,
		conversationID, info.DisplayName, info.Description, info.AvatarRef, r.now(),
	)
}

func (r *postgresConversationStore) SetPin(ctx context.Context, conversationID, userID uuid.UUID, pref *domain.PinPreference) error {
	if pref == nil {
		return r.execOne(ctx, "unpin conversation",
			`UPDATE conversations SET pin_preferences = pin_preferences - $2::text WHERE id = $1`,
			conversationID, userID.String(),
		)
	}
	value, err := json.Marshal(pref)
	if err != nil {
		return err
	}
	return r.execOne(ctx, "pin conversation",
		`UPDATE conversations SET pin_preferences = pin_preferences || jsonb_build_object($2::text, $3::jsonb) WHERE id = $1`,
		conversationID, userID.String(), string(value),
	)
}

func (r *postgresConversationStore) SetMute(ctx context.Context, conversationID, userID uuid.UUID, pref *domain.MutePreference) error {
	if pref == nil {
		return r.execOne(ctx, "unmute conversation",
			`UPDATE conversations SET mute_preferences = mute_preferences - $2::text WHERE id = $1`,
			conversationID, userID.String(),
		)
	}
	value, err := json.Marshal(pref)
	if err != nil {
		return err
	}
	return r.execOne(ctx, "mute conversation",
		`UPDATE conversations SET mute_preferences = mute_preferences || jsonb_build_object($2::text, $3::jsonb) WHERE id = $1`,
		conversationID, userID.String(), string(value),
	)
}

// execOne выполняет UPDATE по id чата; ноль затронутых строк - ErrNotFound
func (r *postgresConversationStore) execOne(ctx context.Context, op string, query string, conversationID uuid.UUID, args ...interface{}) error {
	tag, err := r.db.Exec(ctx, query, append([]interface{}{conversationID}, args...)...)
	if err != nil {
		r.log.Error("Failed to "+op, "error", err, "conversation_id", conversationID)
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}
	return nil
}

// execGuarded - как execOne, но ноль строк при существующем чате значит
// отброшенное условием обновление
func (r *postgresConversationStore) execGuarded(ctx context.Context, op string, query string, conversationID uuid.UUID, args ...interface{}) error {
	tag, err := r.db.Exec(ctx, query, append([]interface{}{conversationID}, args...)...)
	if err != nil {
		r.log.Error("Failed to "+op, "error", err, "conversation_id", conversationID)
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	err = r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM conversations WHERE id = $1)`, conversationID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if !exists {
		return fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}
	return nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func lockConversation(ctx context.Context, tx pgx.Tx, conversationID uuid.UUID) error {
	var id uuid.UUID
	err := tx.QueryRow(ctx, `SELECT id FROM conversations WHERE id = $1 FOR UPDATE`, conversationID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}
	return err
}

func scanConversation(row pgx.Row) (*domain.Conversation, error) {
	conv := &domain.Conversation{}
	var kind string
	var lastMessage, mutes, pins []byte

	err := row.Scan(
		&conv.ID, &kind, &conv.Participants, &conv.Admins, &conv.DisplayName, &conv.Description, &conv.AvatarRef,
		&lastMessage, &mutes, &pins, &conv.NextSeq, &conv.CreatedAt, &conv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	conv.Kind = domain.ConversationKind(kind)

	if len(lastMessage) > 0 && string(lastMessage) != "null" {
		conv.LastMessage = &domain.LastMessage{}
		if err := json.Unmarshal(lastMessage, conv.LastMessage); err != nil {
			return nil, fmt.Errorf("decode last_message: %w", err)
		}
	}

	rawMutes := map[string]domain.MutePreference{}
	if len(mutes) > 0 {
		if err := json.Unmarshal(mutes, &rawMutes); err != nil {
			return nil, fmt.Errorf("decode mute_preferences: %w", err)
		}
	}
	conv.MutePreferences = decodePreferences(rawMutes)

	rawPins := map[string]domain.PinPreference{}
	if len(pins) > 0 {
		if err := json.Unmarshal(pins, &rawPins); err != nil {
			return nil, fmt.Errorf("decode pin_preferences: %w", err)
		}
	}
	conv.PinPreferences = decodePreferences(rawPins)

	return conv, nil
}

func scanMessage(row pgx.Row) (*domain.Message, error) {
	msg := &domain.Message{}
	var kind string
	var attachments, seenBy []byte

	err := row.Scan(
		&msg.ID, &msg.ConversationID, &msg.Seq, &msg.SenderID, &msg.Content, &kind,
		&attachments, &seenBy, &msg.Edited, &msg.EditedAt, &msg.ReplyToID, &msg.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	msg.Kind = domain.MessageKind(kind)

	if err := json.Unmarshal(attachments, &msg.Attachments); err != nil {
		return nil, fmt.Errorf("decode attachments: %w", err)
	}
	if err := json.Unmarshal(seenBy, &msg.SeenBy); err != nil {
		return nil, fmt.Errorf("decode seen_by: %w", err)
	}
	return msg, nil
}

// marshalNullable возвращает nil для nil-значения, чтобы в колонку попал NULL
func marshalNullable[T any](v *T) (*string, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := string(data)
	return &s, nil
}

func encodeMutePreferences(prefs map[uuid.UUID]domain.MutePreference) map[string]domain.MutePreference {
	out := make(map[string]domain.MutePreference, len(prefs))
	for id, p := range prefs {
		out[id.String()] = p
	}
	return out
}

func encodePinPreferences(prefs map[uuid.UUID]domain.PinPreference) map[string]domain.PinPreference {
	out := make(map[string]domain.PinPreference, len(prefs))
	for id, p := range prefs {
		out[id.String()] = p
	}
	return out
}

func decodePreferences[T any](raw map[string]T) map[uuid.UUID]T {
	out := make(map[uuid.UUID]T, len(raw))
	for key, v := range raw {
		id, err := uuid.Parse(key)
		if err != nil {
			continue
		}
		out[id] = v
	}
	return out
}

func nonNilIDs(ids []uuid.UUID) []uuid.UUID {
	if ids == nil {
		return []uuid.UUID{}
	}
	return ids
}

func nonNilAttachments(a []domain.Attachment) []domain.Attachment {
	if a == nil {
		return []domain.Attachment{}
	}
	return a
}

func nonNilReceipts(r []domain.SeenReceipt) []domain.SeenReceipt {
	if r == nil {
		return []domain.SeenReceipt{}
	}
	return r
}
