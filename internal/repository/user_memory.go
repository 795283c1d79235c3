package repository

import (
	"context"
	"fmt"
	"sync"

	"artisan_chat/internal/domain"

	"github.com/google/uuid"
)

type memoryUserRepository struct {
	mu    sync.RWMutex
	users map[uuid.UUID]domain.User
}

func NewMemoryUserRepository() UserRepository {
	return &memoryUserRepository{users: make(map[uuid.UUID]domain.User)}
}

func (r *memoryUserRepository) Create(ctx context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[user.ID]; ok {
		return ErrDuplicate
	}
	r.users[user.ID] = *user
	return nil
}

func (r *memoryUserRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return &user, nil
}

func (r *memoryUserRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]*domain.User, 0, len(ids))
	for _, id := range ids {
		if user, ok := r.users[id]; ok {
			u := user
			users = append(users, &u)
		}
	}
	return users, nil
}

func (r *memoryUserRepository) Update(ctx context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[user.ID]; !ok {
		return fmt.Errorf("user %s: %w", user.ID, ErrNotFound)
	}
	r.users[user.ID] = *user
	return nil
}
