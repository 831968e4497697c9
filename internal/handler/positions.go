package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"levtrade/internal/engine"
	"levtrade/internal/riskband"
	"levtrade/internal/store"
)

type PositionHandler struct {
	Engine     *engine.Engine
	Store      store.PositionStore
	Classifier riskband.Classifier
}

func (h *PositionHandler) Register(r *gin.Engine) {
	p := r.Group("/api/v1/positions")
	p.POST("", h.open)
	p.GET("", h.list)
	p.GET("/:uuid", h.get)
	p.GET("/:uuid/events", h.events)
	p.POST("/:uuid/tick", h.tick)
	p.POST("/:uuid/close", h.close)

	r.POST("/api/v1/simulate", h.simulate)
}

type openRequest struct {
	Owner      string          `json:"owner"`
	Symbol     string          `json:"symbol" binding:"required"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	Margin     decimal.Decimal `json:"margin"`
	// Leverage zero means derive it from the risk classifier.
	Leverage int `json:"leverage"`
}

func (h *PositionHandler) open(c *gin.Context) {
	var req openRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}

	open := engine.OpenRequest{
		Owner:      strings.TrimSpace(req.Owner),
		Symbol:     strings.ToUpper(strings.TrimSpace(req.Symbol)),
		EntryPrice: req.EntryPrice,
		Margin:     req.Margin,
		Leverage:   req.Leverage,
	}
	if open.Leverage == 0 && h.Classifier != nil {
		if assessment, err := h.Classifier.Classify(open.Symbol); err == nil {
			open.RiskScore = &assessment.RiskValue
		}
	}

	pos, err := h.Engine.OpenPosition(c.Request.Context(), open)
	if err != nil {
		EngineError(c, err)
		return
	}
	Ok(c, pos, nil)
}

func (h *PositionHandler) list(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	params := store.ListParams{
		Owner:  strings.TrimSpace(c.Query("owner")),
		Symbol: strings.ToUpper(strings.TrimSpace(c.Query("symbol"))),
		Status: strings.TrimSpace(c.Query("status")),
		Limit:  limit,
		Offset: offset,
	}
	items, total, err := h.Store.List(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

func (h *PositionHandler) get(c *gin.Context) {
	view, err := h.Engine.GetPositionDetails(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		EngineError(c, err)
		return
	}
	Ok(c, view, nil)
}

func (h *PositionHandler) events(c *gin.Context) {
	pos, err := h.Store.GetByUUID(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		EngineError(c, err)
		return
	}
	limit := intQuery(c, "limit", 100)
	items, err := h.Store.ListEvents(c.Request.Context(), pos.ID, limit)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}

type tickRequest struct {
	Price decimal.Decimal `json:"price"`
}

func (h *PositionHandler) tick(c *gin.Context) {
	var req tickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	res, err := h.Engine.UpdatePosition(c.Request.Context(), c.Param("uuid"), req.Price)
	if errors.Is(err, engine.ErrRiskLimitExceeded) && res != nil {
		// The position was force-closed; report the final state with the
		// reason rather than a bare error.
		c.JSON(http.StatusUnprocessableEntity, apiResponse{
			Code:    http.StatusUnprocessableEntity,
			Message: err.Error(),
			Data:    res,
		})
		return
	}
	if err != nil {
		EngineError(c, err)
		return
	}
	Ok(c, res, nil)
}

func (h *PositionHandler) close(c *gin.Context) {
	var req tickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	res, err := h.Engine.ClosePosition(c.Request.Context(), c.Param("uuid"), req.Price)
	if err != nil {
		EngineError(c, err)
		return
	}
	Ok(c, res, nil)
}

type simulateRequest struct {
	Symbol           string          `json:"symbol" binding:"required"`
	EntryPrice       decimal.Decimal `json:"entry_price"`
	Margin           decimal.Decimal `json:"margin"`
	Leverage         int             `json:"leverage"`
	SimulateDoubling bool            `json:"simulate_doubling"`
}

func (h *PositionHandler) simulate(c *gin.Context) {
	var req simulateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	proj, err := h.Engine.Simulate(engine.SimRequest{
		Symbol:           strings.ToUpper(strings.TrimSpace(req.Symbol)),
		EntryPrice:       req.EntryPrice,
		Margin:           req.Margin,
		Leverage:         req.Leverage,
		SimulateDoubling: req.SimulateDoubling,
	})
	if err != nil {
		EngineError(c, err)
		return
	}
	Ok(c, proj, nil)
}
