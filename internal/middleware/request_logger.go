package middleware

import (
	"time"

	"artisan_chat/pkg/logger"

	"github.com/gin-gonic/gin"
)

func RequestLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		fields := []interface{}{
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"client_ip", c.ClientIP(),
		}
		if userID, ok := UserID(c); ok {
			fields = append(fields, "user_id", userID.String())
		}

		switch status := c.Writer.Status(); {
		case status >= 500:
			log.Error("HTTP request", fields...)
		case status >= 400:
			log.Warn("HTTP request", fields...)
		default:
			log.Info("HTTP request", fields...)
		}
	}
}
