package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"artisan_chat/internal/domain"
	"artisan_chat/pkg/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UserRepository - локальные копии пользователей Auth-сервиса
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	// GetByIDs возвращает найденных пользователей; отсутствующие id пропускаются
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*domain.User, error)
	Update(ctx context.Context, user *domain.User) error
}

type userRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewUserRepository(db *pgxpool.Pool, log logger.Logger) UserRepository {
	return &userRepository{db: db, log: log}
}

func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (id, email, display_name, avatar_url, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`

	var avatarURL *string
	if user.AvatarURL != nil && *user.AvatarURL != "" {
		avatarURL = user.AvatarURL
	}

	err := r.db.QueryRow(ctx, query,
		user.ID, user.Email, user.DisplayName, avatarURL,
		user.IsActive, user.CreatedAt, user.UpdatedAt,
	).Scan(&user.CreatedAt, &user.UpdatedAt)

	if err != nil {
		// Код 23505 = unique_violation
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			r.log.Warn("User already exists (unique violation)", "user_id", user.ID, "constraint", pgErr.ConstraintName)
			return ErrDuplicate
		}
		r.log.Error("Failed to create user", "error", err, "user_id", user.ID)
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

func (r *userRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	query := `
		SELECT id, email, display_name, avatar_url, is_active, created_at, updated_at
		FROM users
		WHERE id = $1
	`

	user, err := scanUser(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
		}
		r.log.Error("Failed to get user by ID", "error", err)
		return nil, err
	}
	return user, nil
}

func (r *userRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*domain.User, error) {
	if len(ids) == 0 {
		return []*domain.User{}, nil
	}

	query := `
		SELECT id, email, display_name, avatar_url, is_active, created_at, updated_at
		FROM users
		WHERE id = ANY($1)
	`

	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		r.log.Error("Failed to get users by IDs", "error", err)
		return nil, err
	}
	defer rows.Close()

	users := make([]*domain.User, 0, len(ids))
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			r.log.Error("Failed to scan user", "error", err)
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (r *userRepository) Update(ctx context.Context, user *domain.User) error {
	query := `
		UPDATE users
		SET email = $2, display_name = $3, avatar_url = $4, is_active = $5, updated_at = $6
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.db.QueryRow(ctx, query,
		user.ID, user.Email, user.DisplayName, user.AvatarURL, user.IsActive, time.Now(),
	).Scan(&user.UpdatedAt)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("user %s: %w", user.ID, ErrNotFound)
		}
		r.log.Error("Failed to update user", "error", err)
		return err
	}

	return nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	user := &domain.User{}
	var avatarURL *string

	err := row.Scan(
		&user.ID, &user.Email, &user.DisplayName, &avatarURL,
		&user.IsActive, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	user.AvatarURL = avatarURL
	return user, nil
}
