package handler

import (
	"artisan_chat/internal/config"
	"artisan_chat/internal/realtime"
	"artisan_chat/internal/service"
	"artisan_chat/pkg/logger"
)

type Handlers struct {
	Health       *HealthHandler
	User         *UserHandler
	Conversation *ConversationHandler
	WebSocket    *WebSocketHandler
}

func NewHandlers(services *service.Services, hub *realtime.Hub, checks map[string]HealthCheck, cfg *config.Config, log logger.Logger) *Handlers {
	return &Handlers{
		Health:       NewHealthHandler(checks, hub, log),
		User:         NewUserHandler(services.User, log),
		Conversation: NewConversationHandler(services.Conversation, log),
		WebSocket:    NewWebSocketHandler(hub, services.Conversation, realtime.NewUpgrader(cfg.Realtime), log),
	}
}
