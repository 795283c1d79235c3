package service

import (
	"context"
	"errors"
	"time"

	"artisan_chat/internal/config"
	"artisan_chat/internal/domain"
	"artisan_chat/internal/repository"
	apperrors "artisan_chat/pkg/errors"
	"artisan_chat/pkg/jwt"
	"artisan_chat/pkg/logger"
)

// AuthService проверяет токены внешнего Auth-сервиса. Регистрации и логина
// здесь нет: пользователь создается локально при первом запросе (auto-provisioning).
type AuthService interface {
	ValidateToken(ctx context.Context, tokenString string) (*domain.User, error)
}

type authService struct {
	userRepo repository.UserRepository
	audit    AuditService
	jwtCfg   config.JWTConfig
	log      logger.Logger
}

func NewAuthService(userRepo repository.UserRepository, audit AuditService, jwtCfg config.JWTConfig, log logger.Logger) AuthService {
	return &authService{
		userRepo: userRepo,
		audit:    audit,
		jwtCfg:   jwtCfg,
		log:      log,
	}
}

func (s *authService) ValidateToken(ctx context.Context, tokenString string) (*domain.User, error) {
	claims, err := jwt.ValidateToken(tokenString, s.jwtCfg.AccessSecret, s.jwtCfg.Issuer)
	if err != nil {
		s.log.Debug("Token validation failed", "error", err)
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperrors.Unauthorized("Token expired")
		}
		return nil, apperrors.Unauthorized("Invalid or expired token")
	}

	userID, _ := claims.ParsedUserID()

	user, err := s.ensureUser(ctx, claims)
	if err != nil {
		s.log.Error("Failed to ensure user exists", "user_id", userID.String(), "error", err)
		return nil, apperrors.Internal("provision user: %v", err)
	}

	if !user.IsActive {
		return nil, apperrors.Unauthorized("User account is disabled")
	}

	return user, nil
}

// ensureUser находит пользователя или создает его из claims
func (s *authService) ensureUser(ctx context.Context, claims *jwt.Claims) (*domain.User, error) {
	userID, _ := claims.ParsedUserID()

	existing, err := s.userRepo.GetByID(ctx, userID)
	if err == nil {
		s.refreshProfile(ctx, existing, claims)
		return existing, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	s.log.Info("Auto-provisioning user from Auth service", "user_id", userID.String(), "email", claims.Email)

	now := time.Now()
	user := &domain.User{
		ID:          userID,
		Email:       claims.Email,
		DisplayName: claims.DisplayName,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if claims.AvatarURL != "" {
		avatar := claims.AvatarURL
		user.AvatarURL = &avatar
	}
	if user.DisplayName == "" {
		user.DisplayName = claims.Email
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			// Другой запрос уже создал пользователя
			s.log.Debug("User was created by concurrent request", "user_id", userID.String())
			return s.userRepo.GetByID(ctx, userID)
		}
		return nil, err
	}

	if err := s.audit.LogEvent(ctx, &userID, domain.ActorRoleSystem, nil, domain.EventTypeUserProvisioned, map[string]interface{}{
		"email": claims.Email,
	}); err != nil {
		s.log.Warn("Failed to record audit event", "error", err)
	}

	s.log.Info("User auto-provisioned successfully", "user_id", userID.String())
	return user, nil
}

// refreshProfile переносит изменившиеся имя и аватар из токена
func (s *authService) refreshProfile(ctx context.Context, user *domain.User, claims *jwt.Claims) {
	changed := false
	if claims.DisplayName != "" && claims.DisplayName != user.DisplayName {
		user.DisplayName = claims.DisplayName
		changed = true
	}
	if claims.AvatarURL != "" && (user.AvatarURL == nil || *user.AvatarURL != claims.AvatarURL) {
		avatar := claims.AvatarURL
		user.AvatarURL = &avatar
		changed = true
	}
	if !changed {
		return
	}
	if err := s.userRepo.Update(ctx, user); err != nil {
		s.log.Warn("Failed to refresh user profile", "error", err, "user_id", user.ID.String())
	}
}
