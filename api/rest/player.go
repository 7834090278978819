package rest

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/guilds/server/guild"
	"github.com/kasuganosora/guilds/server/host"
	mw "github.com/kasuganosora/guilds/server/middleware"
	"go.uber.org/zap"
)

// PlayerHandler lets the host report players coming online, leaving and moving.
type PlayerHandler struct {
	d Deps
}

// NewPlayerHandler creates a PlayerHandler.
func NewPlayerHandler(d Deps) *PlayerHandler {
	return &PlayerHandler{d: d}
}

func playerTokenKey(id string) string { return "player-session:" + id }

type registerRequest struct {
	ID          string `json:"id"           binding:"required,max=64"`
	Name        string `json:"name"         binding:"required,max=32"`
	DisplayName string `json:"display_name" binding:"max=64"`
	Admin       bool   `json:"admin"`
}

// Register handles POST /api/admin/players. It returns a session token the
// player's client uses for the command endpoints.
func (h *PlayerHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p := host.Player{ID: req.ID, Name: req.Name, DisplayName: req.DisplayName, Admin: req.Admin}

	ttl := h.d.Server.TokenTTL
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	token, err := mw.GenerateToken(p, h.d.Server.JWTSecret, ttl)
	if err != nil {
		h.d.Logger.Error("issue player token", zap.String("player", p.ID), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "player sessions disabled: set server.jwt_secret"})
		return
	}
	ctx := c.Request.Context()
	if old, err := h.d.Cache.Get(ctx, playerTokenKey(p.ID)); err == nil {
		_ = h.d.Cache.Del(ctx, mw.SessionKey(old))
	}
	if err := h.d.Cache.Set(ctx, mw.SessionKey(token), p.ID, ttl); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session store unavailable"})
		return
	}
	_ = h.d.Cache.Set(ctx, playerTokenKey(p.ID), token, ttl)

	if h.d.Ledger != nil {
		if err := h.d.Ledger.Open(ctx, p.ID); err != nil {
			h.d.Logger.Warn("open economy account", zap.String("player", p.ID), zap.Error(err))
		}
	}
	if !onLoop(c, h.d.Loop, func() {
		h.d.Runtime.Players.Register(p)
		h.d.Runtime.PlayerJoined(p.ID)
	}) {
		return
	}
	c.JSON(http.StatusCreated, gin.H{"token": token, "expires_in": int(ttl.Seconds())})
}

// Unregister handles DELETE /api/admin/players/:id.
func (h *PlayerHandler) Unregister(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()
	if token, err := h.d.Cache.Get(ctx, playerTokenKey(id)); err == nil {
		_ = h.d.Cache.Del(ctx, mw.SessionKey(token), playerTokenKey(id))
	}
	online := false
	if !onLoop(c, h.d.Loop, func() {
		if _, online = h.d.Runtime.Players.Get(id); online {
			h.d.Runtime.PlayerQuit(id)
			h.d.Runtime.Players.Unregister(id)
		}
	}) {
		return
	}
	if !online {
		c.JSON(http.StatusNotFound, gin.H{"error": "player not online"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// SetLocation handles PUT /api/admin/players/:id/location.
func (h *PlayerHandler) SetLocation(c *gin.Context) {
	var loc guild.Location
	if err := c.ShouldBindJSON(&loc); err != nil || loc.World == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid location"})
		return
	}
	id := c.Param("id")
	if _, ok := h.d.Runtime.Players.Get(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "player not online"})
		return
	}
	h.d.Runtime.Players.SetLocation(id, loc)
	c.JSON(http.StatusOK, gin.H{"ok": true, "location": loc.String()})
}
