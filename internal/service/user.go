package service

import (
	"context"
	"errors"

	"artisan_chat/internal/domain"
	"artisan_chat/internal/repository"
	apperrors "artisan_chat/pkg/errors"
	"artisan_chat/pkg/logger"

	"github.com/google/uuid"
)

type UserService interface {
	GetMe(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	// Profiles возвращает профили найденных пользователей по id
	Profiles(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.UserProfile, error)
	// Profile не падает на отсутствующем пользователе: вернется профиль с одним id
	Profile(ctx context.Context, id uuid.UUID) domain.UserProfile
}

type userService struct {
	userRepo repository.UserRepository
	log      logger.Logger
}

func NewUserService(userRepo repository.UserRepository, log logger.Logger) UserService {
	return &userService{
		userRepo: userRepo,
		log:      log,
	}
}

func (s *userService) GetMe(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("User not found")
		}
		return nil, apperrors.Internal("get user: %v", err)
	}
	return user, nil
}

func (s *userService) Profiles(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.UserProfile, error) {
	users, err := s.userRepo.GetByIDs(ctx, domain.UniqueIDs(ids...))
	if err != nil {
		return nil, apperrors.Internal("load profiles: %v", err)
	}
	profiles := make(map[uuid.UUID]domain.UserProfile, len(users))
	for _, u := range users {
		profiles[u.ID] = u.Profile()
	}
	return profiles, nil
}

func (s *userService) Profile(ctx context.Context, id uuid.UUID) domain.UserProfile {
	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.log.Warn("Failed to load profile", "error", err, "user_id", id)
		}
		return domain.UserProfile{ID: id}
	}
	return user.Profile()
}
