package api

import (
	"errors"
	"net/http"

	"chain-viewer/internal/controller"
	"chain-viewer/internal/history"
	"chain-viewer/internal/transport"
	appErr "chain-viewer/pkg/errors"
	"chain-viewer/pkg/response"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	ctl  *controller.Controller
	hist *history.Service
	tr   transport.Transport
}

func RegisterRoutes(r *gin.Engine, ctl *controller.Controller, hist *history.Service, tr transport.Transport) {
	handler := &Handler{ctl: ctl, hist: hist, tr: tr}

	r.GET("/ping", func(c *gin.Context) {
		response.Success(c, gin.H{"message": "pong"})
	})

	v1 := r.Group("/viewer/v1")
	{
		v1.GET("/state", handler.GetState)
		v1.GET("/log", handler.GetLog)
		v1.GET("/history", handler.ListHistory)
		v1.GET("/leaderboard", handler.Leaderboard)

		v1.POST("/start", handler.Start)
		v1.POST("/reset", handler.Reset)
		v1.POST("/next", handler.Next)
		v1.POST("/auto/start", handler.AutoStart)
		v1.POST("/auto/stop", handler.AutoStop)
		v1.POST("/speed", handler.SetSpeed)
		v1.POST("/random", handler.ToggleRandom)

		v1.POST("/connect", handler.Connect)
		v1.POST("/disconnect", handler.Disconnect)
	}
}

type speedBody struct {
	Value float64 `json:"value" binding:"required"`
}

type historyQuery struct {
	Limit int `form:"limit"`
}

func (h *Handler) GetState(c *gin.Context) {
	response.Success(c, h.ctl.Snapshot())
}

func (h *Handler) GetLog(c *gin.Context) {
	response.Success(c, gin.H{"entries": h.ctl.Log()})
}

func (h *Handler) Start(c *gin.Context) {
	if err := h.ctl.Start(); err != nil {
		writeControllerError(c, err)
		return
	}
	response.Success(c, gin.H{"started": true})
}

func (h *Handler) Reset(c *gin.Context) {
	if err := h.ctl.Reset(); err != nil {
		writeControllerError(c, err)
		return
	}
	response.Success(c, gin.H{"reset": true})
}

// Next never fails: a rejected advance (animation active, terminal, no game)
// is a silent no-op, reported via the accepted flag.
func (h *Handler) Next(c *gin.Context) {
	advanced := h.ctl.NextTurn()
	response.Success(c, gin.H{"accepted": advanced})
}

func (h *Handler) AutoStart(c *gin.Context) {
	if err := h.ctl.StartAutoPlay(); err != nil {
		writeControllerError(c, err)
		return
	}
	response.Success(c, gin.H{"autoPlay": true})
}

func (h *Handler) AutoStop(c *gin.Context) {
	h.ctl.StopAutoPlay()
	response.Success(c, gin.H{"autoPlay": false})
}

func (h *Handler) SetSpeed(c *gin.Context) {
	var body speedBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request body")
		return
	}
	applied, err := h.ctl.SetSpeed(body.Value)
	if err != nil {
		writeControllerError(c, err)
		return
	}
	response.Success(c, gin.H{"speed": applied})
}

func (h *Handler) ToggleRandom(c *gin.Context) {
	response.Success(c, gin.H{"useRandom": h.ctl.ToggleRandom()})
}

func (h *Handler) Connect(c *gin.Context) {
	if err := h.tr.Connect(); err != nil {
		response.Error(c, http.StatusBadGateway, "failed to connect to backend")
		return
	}
	response.Success(c, gin.H{"connected": true})
}

func (h *Handler) Disconnect(c *gin.Context) {
	if err := h.tr.Disconnect(); err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to disconnect")
		return
	}
	response.Success(c, gin.H{"connected": false})
}

func (h *Handler) ListHistory(c *gin.Context) {
	var q historyQuery
	_ = c.ShouldBindQuery(&q)

	records, err := h.hist.RecentSessions(c.Request.Context(), q.Limit)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to load history")
		return
	}
	response.Success(c, gin.H{"sessions": records})
}

func (h *Handler) Leaderboard(c *gin.Context) {
	var q historyQuery
	_ = c.ShouldBindQuery(&q)

	entries, err := h.hist.TopScores(c.Request.Context(), q.Limit)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to load leaderboard")
		return
	}
	response.Success(c, gin.H{"entries": entries})
}

func writeControllerError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, appErr.ErrNotConnected):
		response.Error(c, http.StatusServiceUnavailable, "backend not connected")
	case errors.Is(err, appErr.ErrNoGame):
		response.Error(c, http.StatusConflict, "no game loaded")
	case errors.Is(err, appErr.ErrGameOver):
		response.Error(c, http.StatusConflict, "game is over")
	case errors.Is(err, appErr.ErrAutoPlayActive):
		response.Error(c, http.StatusConflict, "auto play already active")
	case errors.Is(err, appErr.ErrBadSpeed):
		response.Error(c, http.StatusBadRequest, "invalid speed value")
	default:
		response.Error(c, http.StatusBadGateway, "backend request failed")
	}
}
