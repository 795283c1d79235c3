package service

import (
	"artisan_chat/internal/config"
	"artisan_chat/internal/repository"
	"artisan_chat/pkg/logger"
)

type Services struct {
	Auth         AuthService
	User         UserService
	Conversation ConversationService
	RateLimit    RateLimitService
	Audit        AuditService
}

func NewServices(repos *repository.Repositories, cfg *config.Config, broadcaster Broadcaster, log logger.Logger, opts ...ConversationOption) *Services {
	audit := NewAuditService(repos.Audit, log)
	users := NewUserService(repos.User, log)

	services := &Services{
		Auth:         NewAuthService(repos.User, audit, cfg.JWT, log),
		User:         users,
		Conversation: NewConversationService(repos.Conversations, users, audit, broadcaster, cfg.Chat, log, opts...),
		RateLimit:    NewRateLimitService(repos.RateLimit, log),
		Audit:        audit,
	}

	log.Info("Services initialized")
	return services
}
