package handler

import (
	"artisan_chat/internal/realtime"
	"artisan_chat/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type WebSocketHandler struct {
	hub      *realtime.Hub
	authz    realtime.Authorizer
	upgrader *websocket.Upgrader
	log      logger.Logger
}

func NewWebSocketHandler(hub *realtime.Hub, authz realtime.Authorizer, upgrader *websocket.Upgrader, log logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub:      hub,
		authz:    authz,
		upgrader: upgrader,
		log:      log,
	}
}

// Handle поднимает сокет уже аутентифицированного пользователя. Комнаты
// выбираются командами join_conversation.
func (h *WebSocketHandler) Handle(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error("Failed to upgrade connection", "error", err)
		return
	}

	h.log.Debug("Socket connected", "user_id", userID)
	realtime.NewClient(h.hub, conn, userID, h.authz).Run(c.Request.Context())
	h.log.Debug("Socket disconnected", "user_id", userID)
}
