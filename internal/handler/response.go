package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"levtrade/internal/engine"
)

type apiResponse struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    any            `json:"data,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

func Ok(c *gin.Context, data any, meta map[string]any) {
	c.JSON(http.StatusOK, apiResponse{
		Code:    0,
		Message: "ok",
		Data:    data,
		Meta:    meta,
	})
}

func Error(c *gin.Context, status int, message string, meta map[string]any) {
	c.JSON(status, apiResponse{
		Code:    status,
		Message: message,
		Meta:    meta,
	})
}

// EngineError maps the engine's error taxonomy onto HTTP statuses.
func EngineError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, engine.ErrNotFound):
		Error(c, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, engine.ErrInvalidInput), errors.Is(err, engine.ErrInvalidPrice), errors.Is(err, engine.ErrConfig):
		Error(c, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, engine.ErrAlreadyClosed):
		Error(c, http.StatusConflict, err.Error(), nil)
	case errors.Is(err, engine.ErrRiskLimitExceeded):
		// The force-close succeeded; the status tells the caller why.
		Error(c, http.StatusUnprocessableEntity, err.Error(), nil)
	default:
		Error(c, http.StatusInternalServerError, err.Error(), nil)
	}
}

func intQuery(c *gin.Context, key string, def int) int {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func paginationMeta(limit, offset int, total int64) map[string]any {
	return map[string]any{
		"limit":  limit,
		"offset": offset,
		"total":  total,
	}
}
