package handler

import (
	"artisan_chat/internal/config"
	"artisan_chat/internal/middleware"
	"artisan_chat/pkg/logger"

	"github.com/gin-gonic/gin"
)

func NewRouter(
	handlers *Handlers,
	authMiddleware *middleware.AuthMiddleware,
	rateLimitMiddleware *middleware.RateLimitMiddleware,
	cfg *config.Config,
	log logger.Logger,
) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.CORS.AllowedOrigins))
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.ErrorHandler(!cfg.IsProduction(), log))

	router.GET("/health", handlers.Health.Check)

	// WebSocket: токен в ?token= или в заголовке
	router.GET("/ws", authMiddleware.RequireAuth(), handlers.WebSocket.Handle)

	v1 := router.Group("/api/v1")
	v1.Use(authMiddleware.RequireAuth())
	{
		v1.GET("/users/me", handlers.User.GetMe)

		conversations := v1.Group("/conversations")
		{
			conversations.GET("", handlers.Conversation.List)
			conversations.POST("", handlers.Conversation.Create)
			conversations.GET("/:id", handlers.Conversation.Get)
			conversations.PUT("/:id", handlers.Conversation.Update)
			conversations.DELETE("/:id", handlers.Conversation.Delete)

			conversations.PUT("/:id/pin", handlers.Conversation.SetPinned)
			conversations.PUT("/:id/mute", handlers.Conversation.SetMuted)

			conversations.POST("/:id/participants", handlers.Conversation.AddParticipants)
			conversations.DELETE("/:id/participants/:userId", handlers.Conversation.RemoveParticipant)

			conversations.GET("/:id/typing", handlers.Conversation.TypingUsers)
			conversations.PUT("/:id/typing", handlers.Conversation.SetTyping)

			messages := conversations.Group("/:id/messages")
			{
				messages.GET("", handlers.Conversation.ListMessages)
				messages.POST("", rateLimitMiddleware.LimitSends(cfg.Chat.SendRateLimit, cfg.Chat.SendRateWindow), handlers.Conversation.SendMessage)
				messages.GET("/:messageId", handlers.Conversation.GetMessage)
				messages.PUT("/:messageId", handlers.Conversation.EditMessage)
				messages.DELETE("/:messageId", handlers.Conversation.DeleteMessage)
				messages.PUT("/:messageId/seen", handlers.Conversation.MarkSeen)
			}
		}
	}

	return router
}
