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
)

type userDoc struct {
	ID          string    `bson:"_id"`
	Email       string    `bson:"email"`
	DisplayName string    `bson:"display_name"`
	AvatarURL   *string   `bson:"avatar_url,omitempty"`
	IsActive    bool      `bson:"is_active"`
	CreatedAt   time.Time `bson:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

type mongoUserRepository struct {
	db  *mongo.Database
	log logger.Logger
}

func NewMongoUserRepository(db *mongo.Database, log logger.Logger) UserRepository {
	return &mongoUserRepository{db: db, log: log}
}

func (r *mongoUserRepository) coll() *mongo.Collection {
	return r.db.Collection(mongoUsers)
}

func (r *mongoUserRepository) Create(ctx context.Context, user *domain.User) error {
	if _, err := r.coll().InsertOne(ctx, toUserDoc(user)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			r.log.Warn("User already exists", "user_id", user.ID)
			return ErrDuplicate
		}
		r.log.Error("Failed to create user", "error", err, "user_id", user.ID)
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (r *mongoUserRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	var doc userDoc
	if err := r.coll().FindOne(ctx, bson.M{"_id": uuidToStr(id)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
		}
		r.log.Error("Failed to get user by ID", "error", err)
		return nil, err
	}
	return doc.toDomain(), nil
}

func (r *mongoUserRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*domain.User, error) {
	if len(ids) == 0 {
		return []*domain.User{}, nil
	}

	cursor, err := r.coll().Find(ctx, bson.M{"_id": bson.M{"$in": uuidsToStrs(ids)}})
	if err != nil {
		r.log.Error("Failed to get users by IDs", "error", err)
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []userDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	users := make([]*domain.User, 0, len(docs))
	for i := range docs {
		users = append(users, docs[i].toDomain())
	}
	return users, nil
}

func (r *mongoUserRepository) Update(ctx context.Context, user *domain.User) error {
	user.UpdatedAt = time.Now()
	result, err := r.coll().UpdateOne(ctx,
		bson.M{"_id": uuidToStr(user.ID)},
		bson.M{"$set": bson.M{
			"email":        user.Email,
			"display_name": user.DisplayName,
			"avatar_url":   user.AvatarURL,
			"is_active":    user.IsActive,
			"updated_at":   user.UpdatedAt,
		}},
	)
	if err != nil {
		r.log.Error("Failed to update user", "error", err)
		return err
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("user %s: %w", user.ID, ErrNotFound)
	}
	return nil
}

func toUserDoc(u *domain.User) userDoc {
	return userDoc{
		ID:          uuidToStr(u.ID),
		Email:       u.Email,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
		IsActive:    u.IsActive,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}

func (d *userDoc) toDomain() *domain.User {
	return &domain.User{
		ID:          strToUUID(d.ID),
		Email:       d.Email,
		DisplayName: d.DisplayName,
		AvatarURL:   d.AvatarURL,
		IsActive:    d.IsActive,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}
