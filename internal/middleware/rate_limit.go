package middleware

import (
	"strconv"
	"time"

	"artisan_chat/internal/service"
	apperrors "artisan_chat/pkg/errors"
	"artisan_chat/pkg/logger"

	"github.com/gin-gonic/gin"
)

type RateLimitMiddleware struct {
	rateLimitService service.RateLimitService
	log              logger.Logger
}

func NewRateLimitMiddleware(rateLimitService service.RateLimitService, log logger.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		rateLimitService: rateLimitService,
		log:              log,
	}
}

// LimitSends ограничивает отправку сообщений на пользователя. Ставится после RequireAuth.
func (m *RateLimitMiddleware) LimitSends(limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := UserID(c)
		if !ok {
			c.Next()
			return
		}

		allowed, err := m.rateLimitService.Allow(c.Request.Context(), service.SendMessageKey(userID), limit, window)
		if err != nil {
			// Лимитер недоступен: пропускаем запрос, а не роняем отправку
			m.log.Error("Rate limit check failed", "error", err, "user_id", userID)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		if !allowed {
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("Retry-After", strconv.Itoa(int(window.Seconds())))
			_ = c.Error(apperrors.RateLimited("Rate limit exceeded"))
			c.Abort()
			return
		}
		c.Next()
	}
}
