package command

import (
	"context"
	"time"

	"github.com/kasuganosora/guilds/server/config"
	"github.com/kasuganosora/guilds/server/confirm"
	"github.com/kasuganosora/guilds/server/event"
	"github.com/kasuganosora/guilds/server/guild"
	"github.com/kasuganosora/guilds/server/host"
	"github.com/kasuganosora/guilds/server/lang"
	"github.com/kasuganosora/guilds/server/scheduler"
	"github.com/kasuganosora/guilds/server/storage"
	"go.uber.org/zap"
)

// Runtime is everything a handler may touch. It is built once and handed to
// the dispatcher; all of it lives on the main loop.
type Runtime struct {
	Model   *guild.Manager
	Tracker *confirm.Tracker
	Store   storage.Provider
	Bus     *event.Bus
	Economy host.Economy
	Visual  host.Visual
	World   host.World
	Players *host.Directory
	Updater *host.Updater // nil when update checks are disabled
	Config  *config.Holder
	Catalog *lang.Catalog
	Audit   Recorder // nil when auditing is disabled
	Exec    scheduler.Executor
	Logger  *zap.Logger
	Now     func() time.Time

	writes map[string][]*write // guild id → changes awaiting their write, oldest first
}

func (rt *Runtime) now() time.Time {
	if rt.Now != nil {
		return rt.Now()
	}
	return time.Now().UTC()
}

func (rt *Runtime) render(key string, vars lang.Vars) string {
	return rt.Catalog.Render(key, vars)
}

// reply sends a message to the sender of a command.
func (rt *Runtime) reply(s Sender, key string, vars lang.Vars) {
	text := rt.render(key, vars)
	if s.Reply != nil {
		s.Reply(text)
		return
	}
	rt.Players.Send(s.ID, text)
}

// tell sends a message to any player; offline players miss it.
func (rt *Runtime) tell(playerID, key string, vars lang.Vars) {
	rt.Players.Send(playerID, rt.render(key, vars))
}

// broadcast tells every member of g except skip.
func (rt *Runtime) broadcast(g *guild.Guild, skip, key string, vars lang.Vars) {
	for _, m := range g.Members {
		if m.PlayerID != skip {
			rt.tell(m.PlayerID, key, vars)
		}
	}
}

func (rt *Runtime) name(playerID string) string { return rt.Players.NameOf(playerID) }

func (rt *Runtime) event(kind event.Kind, g *guild.Guild, actor, target string) event.Event {
	ev := event.Event{Kind: kind, Actor: actor, Target: target, Time: rt.now()}
	if g != nil {
		ev.GuildID = g.ID
		ev.GuildName = g.Name
	}
	return ev
}

// propose asks observers about a cancellable transition.
func (rt *Runtime) propose(ev event.Event) error {
	out := rt.Bus.Propose(context.Background(), ev)
	if !out.Vetoed {
		return nil
	}
	return guild.Errorf(guild.KindCancelledByObserver, "%s: %s", out.By, out.Reason)
}

func (rt *Runtime) notify(ev event.Event) {
	rt.Bus.Notify(context.Background(), ev)
}

// SaveAll queues a write of every guild, used by the autosave ticker.
func (rt *Runtime) SaveAll() {
	snap := rt.snapshot()
	for _, g := range rt.Model.All() {
		rt.Store.SaveGuild(g, snap, nil)
	}
}

// showPrefix updates the visual prefix of one player.
func (rt *Runtime) showPrefix(playerID, prefix string) {
	rt.Visual.SetTablistPrefix(playerID, prefix)
	rt.Visual.SetNameTagPrefix(playerID, prefix)
}

func (rt *Runtime) showGuildPrefix(g *guild.Guild) {
	for _, m := range g.Members {
		rt.showPrefix(m.PlayerID, g.Prefix)
	}
}

// SweepExpired declines confirmations past their deadline.
func (rt *Runtime) SweepExpired() {
	if expired := rt.Tracker.Sweep(rt.now()); len(expired) > 0 {
		rt.Logger.Debug("confirmations expired", zap.Strings("players", expired))
	}
}

// Schedule installs the confirmation sweep and autosave tickers.
func (rt *Runtime) Schedule(s *scheduler.Scheduler, cfg *config.Config) {
	s.AddTicker("confirm-sweep", cfg.ConfirmSweepInterval, rt.SweepExpired)
	if cfg.Storage.AutosaveInterval > 0 {
		s.AddTicker("autosave", cfg.Storage.AutosaveInterval, rt.SaveAll)
	}
}

// Load restores the model from storage. Guilds that fail validation are
// skipped and logged; a load failure is returned.
func (rt *Runtime) Load(ctx context.Context) error {
	guilds, side, err := rt.Store.Initialize(ctx)
	if err != nil {
		return err
	}
	if err := rt.Model.Restore(guilds); err != nil {
		rt.Logger.Error("some guilds could not be restored", zap.Error(err))
	}
	rt.Model.RestoreSideMaps(side)
	for _, c := range rt.Model.ApplyRules(rt.Model.Rules()) {
		rt.persist(c, nil)
	}
	return nil
}

// PlayerJoined restores the guild prefix of a player who just came online.
func (rt *Runtime) PlayerJoined(playerID string) {
	if g, ok := rt.Model.ByPlayer(playerID); ok {
		rt.showPrefix(playerID, g.Prefix)
	}
}

// PlayerQuit cancels the pending confirmation of a player going offline.
func (rt *Runtime) PlayerQuit(playerID string) {
	if err := rt.Tracker.Cancel(playerID); err == nil {
		rt.Logger.Debug("pending confirmation dropped on quit", zap.String("player", playerID))
	}
}
