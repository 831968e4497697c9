package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"levtrade/internal/feed"
)

type HealthHandler struct {
	// DB is nil when running on the in-memory store.
	DB      *gorm.DB
	Sources []feed.PriceSource
}

func (h *HealthHandler) Register(r *gin.Engine) {
	r.GET("/healthz", h.health)
	r.GET("/readyz", h.ready)
}

func (h *HealthHandler) health(c *gin.Context) {
	feeds := map[string]any{}
	for _, s := range h.Sources {
		status := s.Health()
		feeds[s.Name()] = gin.H{
			"status":       status.Status,
			"last_tick_at": status.LastTickAt,
			"last_error":   status.LastError,
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "feeds": feeds})
}

func (h *HealthHandler) ready(c *gin.Context) {
	if h.DB == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ready", "store": "memory"})
		return
	}
	sqlDB, err := h.DB.DB()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_error"})
		return
	}
	if err := sqlDB.Ping(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_unreachable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "store": "postgres"})
}
