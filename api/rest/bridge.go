// Package rest is the HTTP bridge between the hosting game server and the
// guild core. Every request that touches the model is run on the main loop.
package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/guilds/server/audit"
	"github.com/kasuganosora/guilds/server/cache"
	"github.com/kasuganosora/guilds/server/command"
	"github.com/kasuganosora/guilds/server/config"
	"github.com/kasuganosora/guilds/server/host"
	mw "github.com/kasuganosora/guilds/server/middleware"
	"github.com/kasuganosora/guilds/server/scheduler"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const loopTimeout = 5 * time.Second

// Deps is what the bridge needs from the running server.
type Deps struct {
	Loop       *scheduler.Loop
	Dispatcher *command.Dispatcher
	Runtime    *command.Runtime
	Cache      cache.Cache
	Ledger     *host.Ledger   // nil when the economy is disabled
	Audit      *audit.Service // nil when auditing is disabled
	Scheduler  *scheduler.Scheduler
	Server     config.ServerConfig
	Logger     *zap.Logger
}

// onLoop runs fn on the main loop, bounded by the request context.
func onLoop(c *gin.Context, loop *scheduler.Loop, fn func()) bool {
	ctx, cancel := context.WithTimeout(c.Request.Context(), loopTimeout)
	defer cancel()
	if err := loop.Call(ctx, fn); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server busy: " + err.Error()})
		return false
	}
	return true
}

// Mount installs the guild routes on r.
func Mount(r *gin.Engine, d Deps) {
	players := NewPlayerHandler(d)
	guilds := NewGuildHandler(d)
	admin := NewAdminHandler(d)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		api.GET("/guilds", guilds.List)
		api.GET("/guilds/:name", guilds.Detail)

		playerG := api.Group("/guild")
		playerG.Use(mw.PlayerAuth(d.Server.JWTSecret, d.Cache))
		playerG.POST("/commands",
			mw.RateLimit(rate.Limit(d.Server.CommandRPS), d.Server.CommandBurst, mw.ByPlayer),
			guilds.Command)
		playerG.GET("/messages", guilds.Messages)

		adminG := api.Group("/admin")
		adminG.Use(mw.IPWhitelist(d.Server.AdminIPs, d.Logger), AdminAuth(d.Server.AdminKey))
		adminG.POST("/players", players.Register)
		adminG.DELETE("/players/:id", players.Unregister)
		adminG.PUT("/players/:id/location", players.SetLocation)
		adminG.GET("/metrics", admin.Metrics)
		adminG.GET("/audit", admin.Audit)
		adminG.GET("/scheduler", admin.ListSchedulerTasks)
		adminG.POST("/console", admin.Console)
		adminG.POST("/save", admin.Save)
		adminG.GET("/economy", admin.Balances)
		adminG.PUT("/economy/:id", admin.SetBalance)
	}
}
