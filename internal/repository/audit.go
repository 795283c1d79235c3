package repository

import (
	"context"
	"encoding/json"

	"artisan_chat/internal/domain"
	"artisan_chat/pkg/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

type AuditRepository interface {
	CreateLog(ctx context.Context, log *domain.AuditLog) error
}

type auditRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewAuditRepository(db *pgxpool.Pool, log logger.Logger) AuditRepository {
	return &auditRepository{db: db, log: log}
}

func (r *auditRepository) CreateLog(ctx context.Context, auditLog *domain.AuditLog) error {
	query := `
		INSERT INTO audit_log (event_time, actor_user_id, actor_role, conversation_id, event_type, payload)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb)
		RETURNING id
	`

	payload, err := json.Marshal(auditLog.Payload)
	if err != nil {
		return err
	}

	err = r.db.QueryRow(ctx, query,
		auditLog.EventTime, auditLog.ActorUserID, auditLog.ActorRole,
		auditLog.ConversationID, auditLog.EventType, string(payload),
	).Scan(&auditLog.ID)

	if err != nil {
		r.log.Error("Failed to create audit log", "error", err)
		return err
	}

	return nil
}

type mongoAuditRepository struct {
	db  *mongo.Database
	log logger.Logger
}

func NewMongoAuditRepository(db *mongo.Database, log logger.Logger) AuditRepository {
	return &mongoAuditRepository{db: db, log: log}
}

func (r *mongoAuditRepository) CreateLog(ctx context.Context, auditLog *domain.AuditLog) error {
	doc := bson.M{
		"event_time":      auditLog.EventTime,
		"actor_user_id":   ptrUUIDToStr(auditLog.ActorUserID),
		"actor_role":      auditLog.ActorRole,
		"conversation_id": ptrUUIDToStr(auditLog.ConversationID),
		"event_type":      auditLog.EventType,
		"payload":         auditLog.Payload,
	}
	if _, err := r.db.Collection(mongoAuditLog).InsertOne(ctx, doc); err != nil {
		r.log.Error("Failed to create audit log", "error", err)
		return err
	}
	return nil
}

// logAuditRepository пишет аудит в структурированный лог (тесты, локальный запуск)
type logAuditRepository struct {
	log logger.Logger
}

func NewLogAuditRepository(log logger.Logger) AuditRepository {
	return &logAuditRepository{log: log}
}

func (r *logAuditRepository) CreateLog(ctx context.Context, auditLog *domain.AuditLog) error {
	kv := []interface{}{"event_type", auditLog.EventType, "actor_role", auditLog.ActorRole}
	if auditLog.ActorUserID != nil {
		kv = append(kv, "actor_user_id", auditLog.ActorUserID.String())
	}
	if auditLog.ConversationID != nil {
		kv = append(kv, "conversation_id", auditLog.ConversationID.String())
	}
	r.log.Info("Audit event", kv...)
	return nil
}
