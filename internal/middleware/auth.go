package middleware

import (
	"strings"

	"artisan_chat/internal/service"
	apperrors "artisan_chat/pkg/errors"
	"artisan_chat/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	ContextUserID    = "user_id"
	ContextUserEmail = "user_email"
)

type AuthMiddleware struct {
	authService service.AuthService
	log         logger.Logger
}

func NewAuthMiddleware(authService service.AuthService, log logger.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		authService: authService,
		log:         log,
	}
}

// RequireAuth принимает токен из заголовка Authorization или, для websocket, из ?token=
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := bearerToken(c)
		if err != nil {
			m.log.Debug("Rejected request without credentials", "path", c.Request.URL.Path)
			_ = c.Error(err)
			c.Abort()
			return
		}

		user, err := m.authService.ValidateToken(c.Request.Context(), token)
		if err != nil {
			_ = c.Error(err)
			c.Abort()
			return
		}

		c.Set(ContextUserID, user.ID)
		c.Set(ContextUserEmail, user.Email)
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, error) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		if token := c.Query("token"); token != "" {
			return token, nil
		}
		return "", apperrors.Unauthorized("Authorization header required")
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", apperrors.Unauthorized("Invalid authorization header format")
	}
	return parts[1], nil
}

// UserID достает id пользователя, выставленный RequireAuth
func UserID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(ContextUserID)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}
