package middleware

import (
	"net/http"

	"artisan_chat/pkg/errors"
	"artisan_chat/pkg/logger"

	"github.com/gin-gonic/gin"
)

// ErrorHandler превращает c.Error(err) в конверт {success:false, message, errors?}.
// При exposeInternal=false текст 500 скрывается.
func ErrorHandler(exposeInternal bool, log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err

		apiErr := errors.ToAPIError(err, exposeInternal)
		if apiErr.Code == http.StatusInternalServerError {
			log.Error("Request failed", "error", err, "method", c.Request.Method, "path", c.FullPath())
		}
		if c.Writer.Written() {
			return
		}

		body := gin.H{
			"success": false,
			"message": apiErr.Message,
		}
		if len(apiErr.Errors) > 0 {
			body["errors"] = apiErr.Errors
		}
		c.JSON(apiErr.Code, body)
	}
}
