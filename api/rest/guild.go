package rest

import (
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/guilds/server/command"
	"github.com/kasuganosora/guilds/server/guild"
	mw "github.com/kasuganosora/guilds/server/middleware"
)

// GuildHandler serves guild reads and runs player command lines.
type GuildHandler struct {
	d Deps
}

// NewGuildHandler creates a GuildHandler.
func NewGuildHandler(d Deps) *GuildHandler {
	return &GuildHandler{d: d}
}

type guildSummary struct {
	ID      string       `json:"id"`
	Name    string       `json:"name"`
	Prefix  string       `json:"prefix"`
	Status  guild.Status `json:"status"`
	Tier    int          `json:"tier"`
	Members int          `json:"members"`
}

type memberView struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Rank     int       `json:"rank"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

type guildDetail struct {
	guildSummary
	Bank       int64        `json:"bank"`
	BankCap    int64        `json:"bank_cap"`
	MaxMembers int          `json:"max_members"`
	Home       string       `json:"home,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	Roster     []memberView `json:"roster"`
}

func summarize(g *guild.Guild) guildSummary {
	return guildSummary{ID: g.ID, Name: g.Name, Prefix: g.Prefix, Status: g.Status, Tier: g.Tier, Members: len(g.Members)}
}

// List handles GET /api/guilds.
func (h *GuildHandler) List(c *gin.Context) {
	var out []guildSummary
	if !onLoop(c, h.d.Loop, func() {
		for _, g := range h.d.Runtime.Model.All() {
			out = append(out, summarize(g))
		}
	}) {
		return
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	c.JSON(http.StatusOK, gin.H{"guilds": out, "count": len(out)})
}

// Detail handles GET /api/guilds/:name.
func (h *GuildHandler) Detail(c *gin.Context) {
	var (
		detail guildDetail
		found  bool
	)
	name := c.Param("name")
	if !onLoop(c, h.d.Loop, func() {
		rt := h.d.Runtime
		g, ok := rt.Model.ByName(name)
		if !ok {
			return
		}
		found = true
		rules := rt.Model.Rules()
		detail = guildDetail{guildSummary: summarize(g), Bank: g.Bank, BankCap: rules.BankCap(g.Tier), CreatedAt: g.CreatedAt}
		if t, ok := rules.Tier(g.Tier); ok {
			detail.MaxMembers = t.MaxMembers
		}
		if g.Home != nil {
			detail.Home = g.Home.String()
		}
		for _, m := range g.Members {
			v := memberView{ID: m.PlayerID, Name: rt.Players.NameOf(m.PlayerID), Rank: m.Rank, JoinedAt: m.JoinedAt}
			if role, ok := rt.Model.Role(m); ok {
				v.Role = role.Name
			}
			detail.Roster = append(detail.Roster, v)
		}
	}) {
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "guild not found"})
		return
	}
	c.JSON(http.StatusOK, detail)
}

type commandRequest struct {
	Line string `json:"line" binding:"required,max=256"`
}

type commandResponse struct {
	Status   string   `json:"status"`
	Key      string   `json:"key,omitempty"`
	Error    string   `json:"error,omitempty"`
	Messages []string `json:"messages"`
}

// Command handles POST /api/guild/commands. Messages produced while the line
// ran are returned; acknowledgements of queued writes arrive later through
// Messages.
func (h *GuildHandler) Command(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	claims, _ := mw.GetPlayer(c)
	ctx, traceID := c.Request.Context(), mw.GetTraceID(c)

	var (
		res    command.Result
		msgs   []string
		online bool
	)
	if !onLoop(c, h.d.Loop, func() {
		rt := h.d.Runtime
		p, ok := rt.Players.Get(claims.ID)
		if !ok {
			return
		}
		online = true
		s := command.Sender{
			ID:      p.ID,
			Name:    p.Name,
			Admin:   p.Admin,
			Source:  command.SourceHTTP,
			TraceID: traceID,
		}
		res = h.d.Dispatcher.Dispatch(ctx, s, req.Line)
		msgs = rt.Players.Drain(p.ID)
	}) {
		return
	}
	if !online {
		c.JSON(http.StatusConflict, gin.H{"error": "player not online"})
		return
	}

	out := commandResponse{Status: res.Status.String(), Key: res.Key, Messages: msgs}
	if out.Messages == nil {
		out.Messages = []string{}
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	code := http.StatusOK
	if res.Status == command.Failed {
		code = http.StatusInternalServerError
	}
	c.JSON(code, out)
}

// Messages handles GET /api/guild/messages.
func (h *GuildHandler) Messages(c *gin.Context) {
	msgs := h.d.Runtime.Players.Drain(mw.PlayerID(c))
	if msgs == nil {
		msgs = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}
