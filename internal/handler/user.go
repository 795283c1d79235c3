package handler

import (
	"net/http"

	"artisan_chat/internal/service"
	"artisan_chat/pkg/logger"

	"github.com/gin-gonic/gin"
)

type UserHandler struct {
	userService service.UserService
	log         logger.Logger
}

func NewUserHandler(userService service.UserService, log logger.Logger) *UserHandler {
	return &UserHandler{
		userService: userService,
		log:         log,
	}
}

// GetMe отдает локальную копию профиля, созданную из токена
func (h *UserHandler) GetMe(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	user, err := h.userService.GetMe(c.Request.Context(), userID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "user": user})
}
