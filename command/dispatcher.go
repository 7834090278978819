package command

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kasuganosora/guilds/server/audit"
	"github.com/kasuganosora/guilds/server/guild"
	"github.com/kasuganosora/guilds/server/lang"
	"go.uber.org/zap"
)

// BaseAliases are the accepted base command names.
var BaseAliases = []string{"guild", "guilds", "g"}

// Call is one invocation handed to a handler.
type Call struct {
	Ctx    context.Context
	RT     *Runtime
	Sender Sender
	Desc   *Descriptor
	Args   []string
	Line   string

	// Guild and Member are set for member and capability requirements.
	Guild  *guild.Guild
	Member guild.Member
}

// Arg returns the i-th argument or "".
func (c *Call) Arg(i int) string {
	if i < len(c.Args) {
		return c.Args[i]
	}
	return ""
}

func (c *Call) reply(key string, vars lang.Vars) { c.RT.reply(c.Sender, key, vars) }

func (c *Call) vars() lang.Vars {
	v := lang.Vars{"player": c.Sender.Name}
	if c.Guild != nil {
		v["guild"] = c.Guild.Name
		v["prefix"] = c.Guild.Prefix
	}
	return v
}

// ok replies key and reports success.
func (c *Call) ok(key string, vars lang.Vars) Result {
	if key != "" {
		c.reply(key, vars)
	}
	return Result{Status: OK}
}

// reject reports err to the sender with its kind's message.
func (c *Call) reject(err error, vars lang.Vars) Result {
	return rejectTo(c.RT, c.Sender, err, merge(c.vars(), vars))
}

func rejectTo(rt *Runtime, s Sender, err error, vars lang.Vars) Result {
	key := guild.KindOf(err).MessageKey()
	rt.reply(s, key, vars)
	return Result{Status: Rejected, Key: key, Err: err}
}

func merge(base, extra lang.Vars) lang.Vars {
	for k, v := range extra {
		base[k] = v
	}
	return base
}

// Dispatcher owns the sub-command table.
type Dispatcher struct {
	rt      *Runtime
	byName  map[string]*Descriptor
	ordered []*Descriptor
}

// NewDispatcher registers every guild sub-command.
func NewDispatcher(rt *Runtime) *Dispatcher {
	d := &Dispatcher{rt: rt, byName: make(map[string]*Descriptor)}
	for _, desc := range descriptors() {
		d.Register(desc)
	}
	d.Register(d.helpDescriptor())
	return d
}

// Register adds desc. Duplicate names or aliases panic.
func (d *Dispatcher) Register(desc *Descriptor) {
	if desc.Run == nil || strings.TrimSpace(desc.Name) == "" {
		panic("command: descriptor needs a name and a handler")
	}
	for _, n := range append([]string{desc.Name}, desc.Aliases...) {
		key := strings.ToLower(n)
		if _, dup := d.byName[key]; dup {
			panic(fmt.Sprintf("command: duplicate registration for %q", n))
		}
		d.byName[key] = desc
	}
	d.ordered = append(d.ordered, desc)
	sort.SliceStable(d.ordered, func(i, j int) bool { return d.ordered[i].Name < d.ordered[j].Name })
}

// Lookup finds a sub-command by name or alias, case-insensitively.
func (d *Dispatcher) Lookup(name string) (*Descriptor, bool) {
	desc, ok := d.byName[strings.ToLower(name)]
	return desc, ok
}

// Commands returns the descriptors sorted by name.
func (d *Dispatcher) Commands() []*Descriptor {
	return append([]*Descriptor(nil), d.ordered...)
}

// split removes the base command from line and returns the sub-command and arguments.
func split(line string) (sub string, args []string) {
	fields := strings.Fields(strings.TrimPrefix(strings.TrimSpace(line), "/"))
	if len(fields) > 0 {
		for _, base := range BaseAliases {
			if strings.EqualFold(fields[0], base) {
				fields = fields[1:]
				break
			}
		}
	}
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}

// Dispatch runs one command line. It must be called on the main loop.
func (d *Dispatcher) Dispatch(ctx context.Context, s Sender, line string) (res Result) {
	start := time.Now()
	if s.TraceID == "" {
		s.TraceID = uuid.NewString()
	}
	sub, args := split(line)
	c := &Call{Ctx: ctx, RT: d.rt, Sender: s, Args: args, Line: line}

	defer func() {
		if r := recover(); r != nil {
			guildID := ""
			if c.Guild != nil {
				guildID = c.Guild.ID
			}
			d.rt.Logger.Error("guild command panicked",
				zap.String("player", s.ID),
				zap.String("line", line),
				zap.String("guild_id", guildID),
				zap.Any("recover", r),
				zap.Stack("stack"))
			d.rt.reply(s, "error.internal", nil)
			res = Result{Status: Failed, Key: "error.internal", Err: fmt.Errorf("panic: %v", r)}
		}
		d.record(c, sub, res, time.Since(start))
	}()

	if sub == "" {
		return d.help(c, 1)
	}
	desc, ok := d.Lookup(sub)
	if !ok {
		d.rt.reply(s, "unknown-command", lang.Vars{"command": sub})
		d.help(c, 1)
		return Result{Status: Rejected, Key: "unknown-command"}
	}
	c.Desc = desc

	if s.IsConsole() && !desc.Console {
		d.rt.reply(s, "error.player-only", nil)
		return Result{Status: Rejected, Key: "error.player-only"}
	}
	if len(args) < desc.MinArgs || (desc.MaxArgs >= 0 && len(args) > desc.MaxArgs) {
		d.rt.reply(s, "usage", lang.Vars{"usage": desc.Usage})
		return Result{Status: Rejected, Key: "usage"}
	}
	if r, ok := d.authorize(c); !ok {
		return r
	}
	return desc.Run(c)
}

// authorize applies the descriptor's requirement before any side effect.
func (d *Dispatcher) authorize(c *Call) (Result, bool) {
	rt := d.rt
	if c.Sender.ID != "" {
		if g, ok := rt.Model.ByPlayer(c.Sender.ID); ok {
			c.Guild = g
			c.Member, _ = g.Member(c.Sender.ID)
		}
	}
	switch c.Desc.Requirement {
	case RequireNoGuild:
		if c.Guild != nil {
			return c.reject(guild.ErrAlreadyInGuild, nil), false
		}
	case RequireMember:
		if c.Guild == nil {
			return c.reject(guild.ErrNotInGuild, nil), false
		}
	case RequireCapability:
		if c.Guild == nil {
			return c.reject(guild.ErrNotInGuild, nil), false
		}
		if !rt.Model.Rules().Roles.Can(c.Member, c.Desc.Capability) {
			return c.reject(guild.ErrNoPermission, nil), false
		}
	case RequireAdmin:
		if !c.Sender.Admin && !c.Sender.IsConsole() {
			rt.reply(c.Sender, "error.admin-only", nil)
			return Result{Status: Rejected, Key: "error.admin-only"}, false
		}
	}
	return Result{}, true
}

func (d *Dispatcher) record(c *Call, sub string, res Result, took time.Duration) {
	if d.rt.Audit == nil {
		return
	}
	e := audit.Entry{
		TraceID:    c.Sender.TraceID,
		PlayerID:   c.Sender.ID,
		PlayerName: c.Sender.Name,
		Source:     c.Sender.Source,
		Command:    strings.ToLower(sub),
		Args:       c.Args,
		Status:     res.Status.String(),
		Duration:   took,
	}
	if c.Desc != nil {
		e.Command = c.Desc.Name
	}
	if c.Guild != nil {
		e.GuildID = c.Guild.ID
	}
	if res.Err != nil {
		e.Error = res.Err.Error()
	}
	d.rt.Audit.Record(e)
}

// help renders one page of the commands the sender may run.
func (d *Dispatcher) help(c *Call, page int) Result {
	cfg := d.rt.Config.Current().Config
	var visible []*Descriptor
	for _, desc := range d.ordered {
		if desc.Requirement == RequireAdmin && !c.Sender.Admin && !c.Sender.IsConsole() {
			continue
		}
		if c.Sender.IsConsole() && !desc.Console {
			continue
		}
		visible = append(visible, desc)
	}
	size := cfg.Commands.PageSize
	if size <= 0 {
		size = max(len(visible), 1)
	}
	pages := (len(visible) + size - 1) / size
	if pages == 0 {
		pages = 1
	}
	if page < 1 || page > pages {
		page = pages
	}
	c.reply("help.header", lang.Vars{"page": page, "pages": pages})
	end := min(page*size, len(visible))
	for _, desc := range visible[(page-1)*size : end] {
		text := desc.Description
		if s, ok := cfg.Commands.Description[desc.Name]; ok && s != "" {
			text = s
		}
		c.reply("help.entry", lang.Vars{"usage": desc.Usage, "description": text})
	}
	return Result{Status: OK}
}
