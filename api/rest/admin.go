package rest

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/guilds/server/command"
	mw "github.com/kasuganosora/guilds/server/middleware"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// AdminHandler serves operator endpoints. Routes are protected by AdminAuth.
type AdminHandler struct {
	d Deps
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(d Deps) *AdminHandler {
	return &AdminHandler{d: d}
}

// Metrics handles GET /api/admin/metrics.
func (h *AdminHandler) Metrics(c *gin.Context) {
	var guilds, pending int
	var rev uint64
	if !onLoop(c, h.d.Loop, func() {
		guilds = h.d.Runtime.Model.Len()
		rev = h.d.Runtime.Model.Revision()
		pending = h.d.Runtime.Tracker.Len()
	}) {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"guilds":                guilds,
		"revision":              rev,
		"online_players":        h.d.Runtime.Players.Count(),
		"pending_confirmations": pending,
		"scheduler_tasks":       h.d.Scheduler.ListTickers(),
	})
}

// Audit handles GET /api/admin/audit?player=&limit=.
func (h *AdminHandler) Audit(c *gin.Context) {
	if h.d.Audit == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit disabled"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	logs, err := h.d.Audit.Recent(c.Request.Context(), c.Query("player"), limit)
	if err != nil {
		h.d.Logger.Error("read audit log", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": logs, "count": len(logs)})
}

// ListSchedulerTasks handles GET /api/admin/scheduler.
func (h *AdminHandler) ListSchedulerTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": h.d.Scheduler.ListTickers()})
}

// transcript collects console replies until the HTTP response is written.
// Replies arriving later, from writes that finish after the response, are logged.
type transcript struct {
	mu     sync.Mutex
	lines  []string
	closed bool
	logger *zap.Logger
}

func (t *transcript) add(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		t.logger.Info("console", zap.String("reply", text))
		return
	}
	t.lines = append(t.lines, text)
}

func (t *transcript) close() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	if t.lines == nil {
		return []string{}
	}
	return t.lines
}

// Console handles POST /api/admin/console: runs a line as the server console.
func (h *AdminHandler) Console(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	out := &transcript{logger: h.d.Logger}
	s := command.Sender{
		Name:    "console",
		Admin:   true,
		Source:  command.SourceConsole,
		TraceID: mw.GetTraceID(c),
		Reply:   out.add,
	}
	ctx := c.Request.Context()
	var res command.Result
	if !onLoop(c, h.d.Loop, func() {
		res = h.d.Dispatcher.Dispatch(ctx, s, req.Line)
	}) {
		return
	}
	resp := commandResponse{Status: res.Status.String(), Key: res.Key, Messages: out.close()}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

// Save handles POST /api/admin/save: queues every guild and waits for the writes.
func (h *AdminHandler) Save(c *gin.Context) {
	if !onLoop(c, h.d.Loop, h.d.Runtime.SaveAll) {
		return
	}
	if err := h.d.Runtime.Store.FlushAll(c.Request.Context()); err != nil {
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Balances handles GET /api/admin/economy.
func (h *AdminHandler) Balances(c *gin.Context) {
	if h.d.Ledger == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "economy disabled"})
		return
	}
	all, err := h.d.Ledger.Balances(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"balances": all})
}

// SetBalance handles PUT /api/admin/economy/:id.
func (h *AdminHandler) SetBalance(c *gin.Context) {
	if h.d.Ledger == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "economy disabled"})
		return
	}
	var req struct {
		Balance *int64 `json:"balance"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Balance == nil || *req.Balance < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "balance must be a non-negative integer"})
		return
	}
	id := c.Param("id")
	if err := h.d.Ledger.SetBalance(c.Request.Context(), id, *req.Balance); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.d.Logger.Info("admin set balance", zap.String("player", id), zap.Int64("balance", *req.Balance))
	c.JSON(http.StatusOK, gin.H{"ok": true, "balance": *req.Balance})
}

// AdminAuth checks the X-Admin-Key header against adminKey, which is either
// the key itself or its bcrypt hash. With no key configured the admin routes
// answer 503.
func AdminAuth(adminKey string) gin.HandlerFunc {
	hashed := strings.HasPrefix(adminKey, "$2")
	return func(c *gin.Context) {
		if adminKey == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable,
				gin.H{"error": "admin endpoints disabled: set server.admin_key in config"})
			return
		}
		key := c.GetHeader("X-Admin-Key")
		var ok bool
		if hashed {
			ok = key != "" && bcrypt.CompareHashAndPassword([]byte(adminKey), []byte(key)) == nil
		} else {
			ok = subtle.ConstantTimeCompare([]byte(key), []byte(adminKey)) == 1
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
