package handler

import (
	"context"
	"net/http"
	"time"

	"artisan_chat/internal/realtime"
	"artisan_chat/pkg/logger"

	"github.com/gin-gonic/gin"
)

// HealthCheck - проверка одной зависимости (БД, Redis)
type HealthCheck func(ctx context.Context) error

type HealthHandler struct {
	checks map[string]HealthCheck
	hub    *realtime.Hub
	log    logger.Logger
}

func NewHealthHandler(checks map[string]HealthCheck, hub *realtime.Hub, log logger.Logger) *HealthHandler {
	return &HealthHandler{
		checks: checks,
		hub:    hub,
		log:    log,
	}
}

func (h *HealthHandler) Check(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	components := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.log.Warn("Health check failed", "component", name, "error", err)
			components[name] = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		components[name] = "ok"
	}

	body := gin.H{
		"status":     "ok",
		"service":    "artisan-chat",
		"components": components,
	}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	if h.hub != nil {
		body["realtime"] = h.hub.Stats()
	}

	c.JSON(status, body)
}
