package command

import (
	"context"
	"errors"
	"strconv"

	"github.com/kasuganosora/guilds/server/config"
	"github.com/kasuganosora/guilds/server/guild"
	"github.com/kasuganosora/guilds/server/host"
	"github.com/kasuganosora/guilds/server/lang"
	"go.uber.org/zap"
)

func (d *Dispatcher) helpDescriptor() *Descriptor {
	return &Descriptor{
		Name: "help", Usage: "help [page]", Description: "List guild commands.",
		Requirement: RequireAny, MaxArgs: 1, Console: true,
		Run: func(c *Call) Result {
			page := 1
			if arg := c.Arg(0); arg != "" {
				n, err := strconv.Atoi(arg)
				if err != nil {
					c.reply("usage", lang.Vars{"usage": c.Desc.Usage})
					return Result{Status: Rejected, Key: "usage"}
				}
				page = n
			}
			return d.help(c, page)
		},
	}
}

func runConfirm(c *Call) Result {
	if err := c.RT.Tracker.Confirm(c.Sender.ID); err != nil {
		return c.reject(err, nil)
	}
	return Result{Status: OK}
}

func runCancel(c *Call) Result {
	rt := c.RT
	if err := rt.Tracker.Cancel(c.Sender.ID); err != nil {
		if errors.Is(err, guild.ErrConfirmationMissing) {
			c.reply("cancel.nothing", nil)
			return Result{Status: Rejected, Key: "cancel.nothing", Err: err}
		}
		return c.reject(err, nil)
	}
	return Result{Status: OK}
}

func runVersion(c *Call) Result {
	rt := c.RT
	current := config.Version
	if rt.Updater == nil {
		return c.ok("version.current", lang.Vars{"version": current})
	}
	current = rt.Updater.Current()
	c.reply("version.current", lang.Vars{"version": current})
	s := c.Sender
	rt.Updater.CheckAsync(context.Background(), rt.Exec, func(rel host.Release, err error) {
		if err != nil {
			rt.Logger.Warn("update check failed", zap.Error(err))
			rt.reply(s, "version.check-failed", nil)
			return
		}
		vars := lang.Vars{"version": current, "latest": rel.Version}
		if host.Newer(rel.Version, current) {
			rt.reply(s, "version.outdated", vars)
			return
		}
		rt.reply(s, "version.latest", vars)
	})
	return Result{Status: OK}
}

func runReload(c *Call) Result {
	rt := c.RT
	if err := rt.Reload(); err != nil {
		rt.Logger.Error("reload failed", zap.Error(err))
		c.reply("reload.failed", nil)
		return Result{Status: Failed, Key: "reload.failed", Err: err}
	}
	return c.ok("reload.success", nil)
}

// Reload re-reads configuration and messages. Nothing is swapped unless both load.
func (rt *Runtime) Reload() error {
	snap, err := rt.Config.Prepare()
	if err != nil {
		return err
	}
	cat, err := lang.Load(snap.Config.LanguagesDir, snap.Config.Lang)
	if err != nil {
		return err
	}
	rt.Config.Install(snap)
	rt.Catalog = cat
	for _, ch := range rt.Model.ApplyRules(snap.Rules) {
		rt.persist(ch, nil)
	}
	rt.Tracker.SetTTL(snap.Config.ConfirmTTL())
	rt.Logger.Info("configuration reloaded",
		zap.String("lang", cat.Name()), zap.Int("tiers", snap.Rules.MaxTier()))
	return nil
}
