package command

import (
	"github.com/kasuganosora/guilds/server/confirm"
	"github.com/kasuganosora/guilds/server/event"
	"github.com/kasuganosora/guilds/server/guild"
	"github.com/kasuganosora/guilds/server/host"
	"github.com/kasuganosora/guilds/server/lang"
)

func inviteTag(guildID string) string { return "invite:" + guildID }

func playerSender(p host.Player) Sender {
	return Sender{ID: p.ID, Name: p.Name, Admin: p.Admin, Source: SourcePlayer}
}

func runInvite(c *Call) Result {
	rt := c.RT
	p, ok := rt.Players.Resolve(c.Arg(0))
	if !ok {
		return c.reject(guild.ErrTargetNotFound, lang.Vars{"player": c.Arg(0)})
	}
	vars := lang.Vars{"player": p.Name, "guild": c.Guild.Name}
	ch, err := rt.Model.Invite(c.Sender.ID, p.ID)
	if err != nil {
		return c.reject(err, vars)
	}
	s := c.Sender
	rt.persist(ch, func(err error) {
		if err != nil {
			rejectTo(rt, s, err, vars)
			return
		}
		rt.reply(s, "invite.sent", vars)
		rt.tell(p.ID, "invite.received", lang.Vars{"player": s.Name, "guild": ch.After.Name})
		// Confirming is a shortcut for accept. Cancelling, replacing or letting the
		// slot expire withdraws the invite.
		gid := ch.After.ID
		invitee := playerSender(p)
		rt.Tracker.Add(p.ID, confirm.Func{
			Tag: inviteTag(gid),
			OnAccept: func() {
				if g, ok := rt.Model.ByID(gid); ok {
					joinGuild(rt, invitee, g)
					return
				}
				rejectTo(rt, invitee, guild.ErrGuildNotFound, lang.Vars{"guild": ch.After.Name})
			},
			OnDecline: func() { rt.withdrawInvite(p.ID, gid) },
		})
		rt.notify(rt.event(event.Invite, ch.After, s.ID, p.ID))
	})
	return Result{Status: Queued}
}

// withdrawInvite drops the invite of player to gid once its slot is gone.
func (rt *Runtime) withdrawInvite(player, gid string) {
	ch, err := rt.Model.DeclineInvite(player, gid)
	if err != nil {
		return
	}
	rt.persist(ch, nil)
	rt.tell(player, "invite.withdrawn", lang.Vars{"guild": ch.After.Name})
}

// claimInviteSlot clears a staged invite from gid before player resolves it by
// name. A slot past its deadline is declined instead and ConfirmationExpired returned.
func (rt *Runtime) claimInviteSlot(player, gid string) error {
	p, ok := rt.Tracker.Peek(player)
	if !ok || p.Tag != inviteTag(gid) {
		return nil
	}
	if rt.Tracker.Expired(p) {
		_ = rt.Tracker.Cancel(player)
		return guild.ErrConfirmationExpired
	}
	rt.Tracker.Remove(player)
	return nil
}

func runAccept(c *Call) Result {
	g, ok := c.RT.Model.ByName(c.Arg(0))
	if !ok {
		return c.reject(guild.ErrGuildNotFound, lang.Vars{"guild": c.Arg(0)})
	}
	if err := c.RT.claimInviteSlot(c.Sender.ID, g.ID); err != nil {
		return c.reject(err, lang.Vars{"guild": g.Name})
	}
	return joinGuild(c.RT, c.Sender, g)
}

// joinGuild admits s into g through its invite, or directly when g is public.
func joinGuild(rt *Runtime, s Sender, g *guild.Guild) Result {
	vars := lang.Vars{"guild": g.Name, "player": s.Name}
	invited := g.IsInvited(s.ID)
	if !invited && g.Status != guild.StatusPublic {
		return rejectTo(rt, s, guild.ErrNotInvited, vars)
	}
	if err := rt.propose(rt.event(event.Join, g, s.ID, "")); err != nil {
		return rejectTo(rt, s, err, vars)
	}
	var (
		ch  guild.Change
		err error
	)
	if invited {
		ch, err = rt.Model.AcceptInvite(s.ID, g.ID)
	} else {
		ch, err = rt.Model.Join(s.ID, g.ID)
	}
	if err != nil {
		return rejectTo(rt, s, err, vars)
	}
	rt.persist(ch, func(err error) {
		if err != nil {
			rejectTo(rt, s, err, vars)
			return
		}
		rt.reply(s, "invite.accepted", vars)
		rt.broadcast(ch.After, s.ID, "invite.joined", vars)
		rt.showPrefix(s.ID, ch.After.Prefix)
		rt.notify(rt.event(event.Join, ch.After, s.ID, ""))
	})
	return Result{Status: Queued}
}

func runDecline(c *Call) Result {
	rt := c.RT
	g, ok := rt.Model.ByName(c.Arg(0))
	if !ok {
		return c.reject(guild.ErrGuildNotFound, lang.Vars{"guild": c.Arg(0)})
	}
	vars := lang.Vars{"guild": g.Name, "player": c.Sender.Name}
	if err := rt.claimInviteSlot(c.Sender.ID, g.ID); err != nil {
		return c.reject(err, vars)
	}
	ch, err := rt.Model.DeclineInvite(c.Sender.ID, g.ID)
	if err != nil {
		return c.reject(err, vars)
	}
	s := c.Sender
	rt.persist(ch, func(err error) {
		if err != nil {
			rejectTo(rt, s, err, vars)
			return
		}
		rt.reply(s, "invite.declined", vars)
		roles := rt.Model.Rules().Roles
		for _, m := range ch.After.Members {
			if roles.Can(m, guild.CapInvite) {
				rt.tell(m.PlayerID, "invite.declined-notify", vars)
			}
		}
	})
	return Result{Status: Queued}
}

func runKick(c *Call) Result {
	rt := c.RT
	target, ok := rt.resolveMember(c.Guild, c.Arg(0))
	if !ok {
		return c.reject(guild.ErrTargetNotFound, lang.Vars{"player": c.Arg(0)})
	}
	vars := lang.Vars{"player": rt.name(target), "guild": c.Guild.Name}
	g, err := rt.Model.CheckKick(c.Sender.ID, target)
	if err != nil {
		return c.reject(err, vars)
	}
	s := c.Sender
	c.reply("kick.warning", vars)
	rt.Tracker.Add(s.ID, confirm.Func{
		Tag: "kick:" + g.ID,
		OnAccept: func() {
			if err := rt.propose(rt.event(event.Kick, g, s.ID, target)); err != nil {
				rejectTo(rt, s, err, vars)
				return
			}
			ch, err := rt.Model.Kick(s.ID, target)
			if err != nil {
				rejectTo(rt, s, err, vars)
				return
			}
			rt.persist(ch, func(err error) {
				if err != nil {
					rejectTo(rt, s, err, vars)
					return
				}
				rt.reply(s, "kick.success", vars)
				rt.broadcast(ch.After, s.ID, "kick.success", vars)
				rt.tell(target, "kick.notify", vars)
				rt.showPrefix(target, "")
				rt.notify(rt.event(event.Kick, ch.After, s.ID, target))
			})
		},
		OnDecline: func() { rt.reply(s, "kick.cancelled", vars) },
	})
	return Result{Status: Pending}
}

func runLeave(c *Call) Result {
	rt := c.RT
	g, last, err := rt.Model.CheckLeave(c.Sender.ID)
	if err != nil {
		return c.reject(err, nil)
	}
	if !last {
		return leaveGuild(rt, c.Sender, g)
	}
	s := c.Sender
	vars := lang.Vars{"guild": g.Name}
	c.reply("leave.warning", vars)
	rt.Tracker.Add(s.ID, confirm.Func{
		Tag:       "leave:" + g.ID,
		OnAccept:  func() { leaveGuild(rt, s, g) },
		OnDecline: func() { rt.reply(s, "leave.cancelled", vars) },
	})
	return Result{Status: Pending}
}

// leaveGuild removes s from g. When s was the last member the guild may go with them.
func leaveGuild(rt *Runtime, s Sender, g *guild.Guild) Result {
	vars := lang.Vars{"guild": g.Name, "player": s.Name}
	if err := rt.propose(rt.event(event.Leave, g, s.ID, "")); err != nil {
		return rejectTo(rt, s, err, vars)
	}
	// The last member leaving removes the guild, which observers may veto on its own.
	if _, last, err := rt.Model.CheckLeave(s.ID); err == nil && last && rt.Model.Rules().AutoDeleteEmpty {
		if err := rt.propose(rt.event(event.Remove, g, s.ID, "")); err != nil {
			return rejectTo(rt, s, err, vars)
		}
	}
	ch, err := rt.Model.Leave(s.ID)
	if err != nil {
		return rejectTo(rt, s, err, vars)
	}
	rt.persist(ch, func(err error) {
		if err != nil {
			rejectTo(rt, s, err, vars)
			return
		}
		rt.reply(s, "leave.success", vars)
		rt.showPrefix(s.ID, "")
		if ch.After != nil {
			rt.broadcast(ch.After, s.ID, "leave.notify", vars)
			rt.notify(rt.event(event.Leave, ch.After, s.ID, ""))
			return
		}
		rt.notify(rt.event(event.Leave, ch.Before, s.ID, ""))
		rt.notify(rt.event(event.Remove, ch.Before, s.ID, ""))
	})
	return Result{Status: Queued}
}

func runPromote(c *Call) Result { return changeRank(c, event.Promote) }

func runDemote(c *Call) Result { return changeRank(c, event.Demote) }

func changeRank(c *Call, kind event.Kind) Result {
	rt := c.RT
	target, ok := rt.resolveMember(c.Guild, c.Arg(0))
	if !ok {
		return c.reject(guild.ErrTargetNotFound, lang.Vars{"player": c.Arg(0)})
	}
	vars := lang.Vars{"player": rt.name(target), "guild": c.Guild.Name}
	op := rt.Model.Promote
	if kind == event.Demote {
		op = rt.Model.Demote
	}
	ch, err := op(c.Sender.ID, target)
	if err != nil {
		return c.reject(err, vars)
	}
	s := c.Sender
	rt.persist(ch, func(err error) {
		if err != nil {
			rejectTo(rt, s, err, vars)
			return
		}
		m, _ := ch.After.Member(target)
		role, _ := rt.Model.Role(m)
		vars["role"] = role.Name
		rt.reply(s, string(kind)+".success", vars)
		rt.tell(target, string(kind)+".notify", vars)
		ev := rt.event(kind, ch.After, s.ID, target)
		ev.Value = role.Name
		rt.notify(ev)
	})
	return Result{Status: Queued}
}
