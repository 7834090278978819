package command

import (
	"strings"

	"github.com/kasuganosora/guilds/server/confirm"
	"github.com/kasuganosora/guilds/server/event"
	"github.com/kasuganosora/guilds/server/guild"
	"github.com/kasuganosora/guilds/server/lang"
	"go.uber.org/zap"
)

func descriptors() []*Descriptor {
	return []*Descriptor{
		{Name: "create", Usage: "create <name> <prefix>", Description: "Found a new guild.",
			Requirement: RequireNoGuild, MinArgs: 2, MaxArgs: 2, Run: runCreate},
		{Name: "delete", Aliases: []string{"disband"}, Usage: "delete", Description: "Delete your guild.",
			Requirement: RequireCapability, Capability: guild.CapRemoveGuild, MaxArgs: 0, Run: runDelete},
		{Name: "rename", Usage: "rename <name>", Description: "Rename your guild.",
			Requirement: RequireCapability, Capability: guild.CapRename, MinArgs: 1, MaxArgs: 1, Run: runRename},
		{Name: "prefix", Usage: "prefix <prefix>", Description: "Change the guild prefix.",
			Requirement: RequireCapability, Capability: guild.CapSetPrefix, MinArgs: 1, MaxArgs: 1, Run: runPrefix},
		{Name: "status", Usage: "status <public|private>", Description: "Open or close the guild to new members.",
			Requirement: RequireCapability, Capability: guild.CapSetStatus, MinArgs: 1, MaxArgs: 1, Run: runStatus},
		{Name: "transfer", Usage: "transfer <player>", Description: "Hand mastership to another member.",
			Requirement: RequireCapability, Capability: guild.CapTransferMastership, MinArgs: 1, MaxArgs: 1, Run: runTransfer},
		{Name: "info", Usage: "info [guild]", Description: "Show guild details.",
			Requirement: RequireAny, MaxArgs: 1, Console: true, Run: runInfo},
		{Name: "list", Usage: "list", Description: "List every guild.",
			Requirement: RequireAny, MaxArgs: 0, Console: true, Run: runList},

		{Name: "invite", Usage: "invite <player>", Description: "Invite a player.",
			Requirement: RequireCapability, Capability: guild.CapInvite, MinArgs: 1, MaxArgs: 1, Run: runInvite},
		{Name: "accept", Aliases: []string{"join"}, Usage: "accept <guild>", Description: "Join a guild that invited you, or a public one.",
			Requirement: RequireNoGuild, MinArgs: 1, MaxArgs: 1, Run: runAccept},
		{Name: "decline", Usage: "decline <guild>", Description: "Decline an invite.",
			Requirement: RequireAny, MinArgs: 1, MaxArgs: 1, Run: runDecline},
		{Name: "kick", Aliases: []string{"boot"}, Usage: "kick <player>", Description: "Remove a member.",
			Requirement: RequireCapability, Capability: guild.CapKick, MinArgs: 1, MaxArgs: 1, Run: runKick},
		{Name: "leave", Aliases: []string{"quit"}, Usage: "leave", Description: "Leave your guild.",
			Requirement: RequireMember, MaxArgs: 0, Run: runLeave},
		{Name: "promote", Usage: "promote <player>", Description: "Move a member one rank up.",
			Requirement: RequireCapability, Capability: guild.CapPromote, MinArgs: 1, MaxArgs: 1, Run: runPromote},
		{Name: "demote", Usage: "demote <player>", Description: "Move a member one rank down.",
			Requirement: RequireCapability, Capability: guild.CapDemote, MinArgs: 1, MaxArgs: 1, Run: runDemote},

		{Name: "bank", Usage: "bank", Description: "Show the guild bank.",
			Requirement: RequireCapability, Capability: guild.CapOpenBank, MaxArgs: 0, Run: runBank},
		{Name: "deposit", Usage: "deposit <amount>", Description: "Pay into the guild bank.",
			Requirement: RequireCapability, Capability: guild.CapDeposit, MinArgs: 1, MaxArgs: 1, Run: runDeposit},
		{Name: "withdraw", Usage: "withdraw <amount>", Description: "Take money from the guild bank.",
			Requirement: RequireCapability, Capability: guild.CapWithdraw, MinArgs: 1, MaxArgs: 1, Run: runWithdraw},
		{Name: "upgrade", Usage: "upgrade", Description: "Buy the next guild tier.",
			Requirement: RequireCapability, Capability: guild.CapUpgradeTier, MaxArgs: 0, Run: runUpgrade},
		{Name: "home", Usage: "home", Description: "Teleport to the guild home.",
			Requirement: RequireCapability, Capability: guild.CapUseHome, MaxArgs: 0, Run: runHome},
		{Name: "sethome", Usage: "sethome", Description: "Set the guild home where you stand.",
			Requirement: RequireCapability, Capability: guild.CapSetHome, MaxArgs: 0, Run: runSetHome},

		{Name: "confirm", Usage: "confirm", Description: "Confirm your pending request.",
			Requirement: RequireAny, MaxArgs: 0, Run: runConfirm},
		{Name: "cancel", Usage: "cancel", Description: "Cancel your pending request.",
			Requirement: RequireAny, MaxArgs: 0, Run: runCancel},
		{Name: "version", Usage: "version", Description: "Show the running version.",
			Requirement: RequireAny, MaxArgs: 0, Console: true, Run: runVersion},
		{Name: "reload", Usage: "reload", Description: "Reload configuration and messages.",
			Requirement: RequireAdmin, MaxArgs: 0, Console: true, Run: runReload},
	}
}

func runCreate(c *Call) Result {
	rt := c.RT
	name, prefix := c.Arg(0), c.Arg(1)
	vars := lang.Vars{"guild": name, "prefix": prefix}
	if err := rt.propose(event.Event{Kind: event.Create, GuildName: name, Actor: c.Sender.ID, Value: prefix, Time: rt.now()}); err != nil {
		return c.reject(err, vars)
	}
	ch, err := rt.Model.Create(c.Sender.ID, name, prefix)
	if err != nil {
		return c.reject(err, vars)
	}
	s := c.Sender
	rt.persist(ch, func(err error) {
		if err != nil {
			rejectTo(rt, s, err, vars)
			return
		}
		rt.reply(s, "create.success", vars)
		rt.showPrefix(s.ID, ch.After.Prefix)
		rt.notify(rt.event(event.Create, ch.After, s.ID, ""))
	})
	return Result{Status: Queued}
}

func runDelete(c *Call) Result {
	rt := c.RT
	g, err := rt.Model.CheckRemove(c.Sender.ID)
	if err != nil {
		return c.reject(err, nil)
	}
	s := c.Sender
	vars := lang.Vars{"guild": g.Name}
	c.reply("delete.warning", vars)
	rt.Tracker.Add(s.ID, confirm.Func{
		Tag:       "delete:" + g.ID,
		OnAccept:  func() { removeGuild(rt, s, g) },
		OnDecline: func() { rt.reply(s, "delete.cancelled", vars) },
	})
	return Result{Status: Pending}
}

// removeGuild runs the confirmed deletion of g by s.
func removeGuild(rt *Runtime, s Sender, g *guild.Guild) {
	vars := lang.Vars{"guild": g.Name}
	if err := rt.propose(rt.event(event.Remove, g, s.ID, "")); err != nil {
		rejectTo(rt, s, err, vars)
		return
	}
	ch, err := rt.Model.Remove(s.ID)
	if err != nil {
		rejectTo(rt, s, err, vars)
		return
	}
	rt.persist(ch, func(err error) {
		if err != nil {
			rt.Logger.Error("guild deletion failed",
				zap.String("player", s.ID), zap.String("guild_id", g.ID), zap.Error(err))
			rt.reply(s, "delete.error", vars)
			return
		}
		rt.reply(s, "delete.success", vars)
		rt.broadcast(ch.Before, s.ID, "delete.success", vars)
		for _, m := range ch.Before.Members {
			rt.showPrefix(m.PlayerID, "")
		}
		rt.notify(rt.event(event.Remove, ch.Before, s.ID, ""))
	})
}

func runRename(c *Call) Result {
	rt := c.RT
	newName := c.Arg(0)
	vars := lang.Vars{"guild": newName}
	ev := rt.event(event.Rename, c.Guild, c.Sender.ID, "")
	ev.Value = newName
	if err := rt.propose(ev); err != nil {
		return c.reject(err, vars)
	}
	ch, err := rt.Model.Rename(c.Sender.ID, newName)
	if err != nil {
		return c.reject(err, vars)
	}
	s := c.Sender
	rt.persist(ch, func(err error) {
		if err != nil {
			rejectTo(rt, s, err, vars)
			return
		}
		rt.reply(s, "rename.success", vars)
		rt.notify(ev)
	})
	return Result{Status: Queued}
}

func runPrefix(c *Call) Result {
	rt := c.RT
	prefix := c.Arg(0)
	vars := lang.Vars{"prefix": prefix}
	ch, err := rt.Model.SetPrefix(c.Sender.ID, prefix)
	if err != nil {
		return c.reject(err, vars)
	}
	s := c.Sender
	rt.persist(ch, func(err error) {
		if err != nil {
			rejectTo(rt, s, err, vars)
			return
		}
		rt.reply(s, "prefix.success", vars)
		rt.showGuildPrefix(ch.After)
		ev := rt.event(event.Prefix, ch.After, s.ID, "")
		ev.Value = prefix
		rt.notify(ev)
	})
	return Result{Status: Queued}
}

func runStatus(c *Call) Result {
	rt := c.RT
	status, ok := guild.ParseStatus(c.Arg(0))
	if !ok {
		c.reply("usage", lang.Vars{"usage": c.Desc.Usage})
		return Result{Status: Rejected, Key: "usage"}
	}
	ch, err := rt.Model.SetStatus(c.Sender.ID, status)
	if err != nil {
		return c.reject(err, nil)
	}
	s := c.Sender
	vars := lang.Vars{"guild": ch.After.Name, "status": string(status)}
	rt.persist(ch, func(err error) {
		if err != nil {
			rejectTo(rt, s, err, vars)
			return
		}
		rt.reply(s, "status.success", vars)
		ev := rt.event(event.Status, ch.After, s.ID, "")
		ev.Value = string(status)
		rt.notify(ev)
	})
	return Result{Status: Queued}
}

// resolveMember maps a name or id to a member of g. Offline members are found by id.
func (rt *Runtime) resolveMember(g *guild.Guild, arg string) (string, bool) {
	if p, ok := rt.Players.Resolve(arg); ok {
		return p.ID, true
	}
	if g != nil {
		if _, ok := g.Member(arg); ok {
			return arg, true
		}
	}
	return "", false
}

func runTransfer(c *Call) Result {
	rt := c.RT
	target, ok := rt.resolveMember(c.Guild, c.Arg(0))
	if !ok {
		return c.reject(guild.ErrTargetNotFound, lang.Vars{"player": c.Arg(0)})
	}
	vars := lang.Vars{"player": rt.name(target), "guild": c.Guild.Name}
	g, err := rt.Model.CheckTransfer(c.Sender.ID, target)
	if err != nil {
		return c.reject(err, vars)
	}
	s := c.Sender
	c.reply("transfer.warning", vars)
	rt.Tracker.Add(s.ID, confirm.Func{
		Tag: "transfer:" + g.ID,
		OnAccept: func() {
			if err := rt.propose(rt.event(event.Transfer, g, s.ID, target)); err != nil {
				rejectTo(rt, s, err, vars)
				return
			}
			ch, err := rt.Model.TransferMaster(s.ID, target)
			if err != nil {
				rejectTo(rt, s, err, vars)
				return
			}
			rt.persist(ch, func(err error) {
				if err != nil {
					rejectTo(rt, s, err, vars)
					return
				}
				rt.reply(s, "transfer.success", vars)
				rt.tell(target, "transfer.received", vars)
				rt.notify(rt.event(event.Transfer, ch.After, s.ID, target))
			})
		},
		OnDecline: func() { rt.reply(s, "transfer.cancelled", vars) },
	})
	return Result{Status: Pending}
}

func runInfo(c *Call) Result {
	rt := c.RT
	var g *guild.Guild
	if name := c.Arg(0); name != "" {
		found, ok := rt.Model.ByName(name)
		if !ok {
			return c.reject(guild.ErrGuildNotFound, lang.Vars{"guild": name})
		}
		g = found
	} else {
		found, ok := rt.Model.ByPlayer(c.Sender.ID)
		if !ok {
			return c.reject(guild.ErrNotInGuild, nil)
		}
		g = found
	}
	rules := rt.Model.Rules()
	c.reply("info.header", lang.Vars{"guild": g.Name, "prefix": g.Prefix, "tier": g.Tier, "status": string(g.Status)})
	c.reply("info.bank", lang.Vars{"amount": g.Bank, "cap": rules.BankCap(g.Tier)})
	names := make([]string, 0, len(g.Members))
	for _, m := range g.Members {
		label := rt.name(m.PlayerID)
		if role, ok := rules.Roles.Role(m.Rank); ok {
			label += " (" + role.Name + ")"
		}
		names = append(names, label)
	}
	maxMembers := 0
	if t, ok := rules.Tier(g.Tier); ok {
		maxMembers = t.MaxMembers
	}
	c.reply("info.members", lang.Vars{"count": len(g.Members), "max": maxMembers, "members": strings.Join(names, ", ")})
	if g.Home != nil {
		c.reply("info.home", lang.Vars{"location": g.HomeString()})
	}
	return Result{Status: OK}
}

func runList(c *Call) Result {
	all := c.RT.Model.All()
	if len(all) == 0 {
		return c.ok("list.empty", nil)
	}
	c.reply("list.header", lang.Vars{"count": len(all)})
	for _, g := range all {
		c.reply("list.entry", lang.Vars{"guild": g.Name, "prefix": g.Prefix, "members": len(g.Members), "tier": g.Tier})
	}
	return Result{Status: OK}
}
