package command

import (
	"context"
	"strconv"

	"github.com/kasuganosora/guilds/server/event"
	"github.com/kasuganosora/guilds/server/guild"
	"github.com/kasuganosora/guilds/server/lang"
	"go.uber.org/zap"
)

func parseAmount(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, guild.Errorf(guild.KindInvalidAmount, "%q", s)
	}
	return n, nil
}

// charge takes amount from player through the economy.
func (rt *Runtime) charge(ctx context.Context, player string, amount int64) error {
	has, err := rt.Economy.Has(ctx, player, amount)
	if err != nil {
		return err
	}
	if !has {
		return guild.ErrEconomyRejected
	}
	return rt.Economy.Withdraw(ctx, player, amount)
}

// refund returns money taken by charge. Failures are logged; the player keeps
// whatever the economy reports.
func (rt *Runtime) refund(player string, amount int64) {
	if err := rt.Economy.Deposit(context.Background(), player, amount); err != nil {
		rt.Logger.Error("economy refund failed",
			zap.String("player", player), zap.Int64("amount", amount), zap.Error(err))
	}
}

// reclaim takes back money paid out for a withdrawal that did not stick.
func (rt *Runtime) reclaim(player string, amount int64) {
	if err := rt.Economy.Withdraw(context.Background(), player, amount); err != nil {
		rt.Logger.Error("economy reclaim failed",
			zap.String("player", player), zap.Int64("amount", amount), zap.Error(err))
	}
}

func runBank(c *Call) Result {
	balance, limit, err := c.RT.Model.Balance(c.Sender.ID)
	if err != nil {
		return c.reject(err, nil)
	}
	c.reply("bank.balance", lang.Vars{"guild": c.Guild.Name, "amount": balance, "cap": limit})
	if next, err := c.RT.Model.NextTier(c.Sender.ID); err == nil {
		c.reply("upgrade.cost", lang.Vars{"amount": next.Cost})
	}
	return Result{Status: OK}
}

func runDeposit(c *Call) Result {
	rt := c.RT
	amount, err := parseAmount(c.Arg(0))
	if err != nil {
		return c.reject(err, nil)
	}
	vars := lang.Vars{"amount": amount, "cap": rt.Model.Rules().BankCap(c.Guild.Tier)}
	if err := rt.Model.CheckDeposit(c.Sender.ID, amount); err != nil {
		return c.reject(err, vars)
	}
	s := c.Sender
	if err := rt.charge(c.Ctx, s.ID, amount); err != nil {
		return c.reject(err, vars)
	}
	ch, err := rt.Model.Deposit(s.ID, amount)
	if err != nil {
		rt.refund(s.ID, amount)
		return c.reject(err, vars)
	}
	rt.persist(ch, func(err error) {
		if err != nil {
			rt.refund(s.ID, amount)
			rejectTo(rt, s, err, vars)
			return
		}
		vars["balance"] = ch.After.Bank
		rt.reply(s, "deposit.success", vars)
		ev := rt.event(event.Deposit, ch.After, s.ID, "")
		ev.Amount = amount
		rt.notify(ev)
	})
	return Result{Status: Queued}
}

func runWithdraw(c *Call) Result {
	rt := c.RT
	amount, err := parseAmount(c.Arg(0))
	if err != nil {
		return c.reject(err, nil)
	}
	vars := lang.Vars{"amount": amount}
	if err := rt.Model.CheckWithdraw(c.Sender.ID, amount); err != nil {
		return c.reject(err, vars)
	}
	s := c.Sender
	if err := rt.Economy.Deposit(c.Ctx, s.ID, amount); err != nil {
		return c.reject(err, vars)
	}
	ch, err := rt.Model.Withdraw(s.ID, amount)
	if err != nil {
		rt.reclaim(s.ID, amount)
		return c.reject(err, vars)
	}
	rt.persist(ch, func(err error) {
		if err != nil {
			rt.reclaim(s.ID, amount)
			rejectTo(rt, s, err, vars)
			return
		}
		vars["balance"] = ch.After.Bank
		rt.reply(s, "withdraw.success", vars)
		ev := rt.event(event.Withdraw, ch.After, s.ID, "")
		ev.Amount = amount
		rt.notify(ev)
	})
	return Result{Status: Queued}
}

func runUpgrade(c *Call) Result {
	rt := c.RT
	next, err := rt.Model.NextTier(c.Sender.ID)
	if err != nil {
		return c.reject(err, nil)
	}
	vars := lang.Vars{"guild": c.Guild.Name, "tier": next.Level, "amount": next.Cost}
	ev := rt.event(event.Upgrade, c.Guild, c.Sender.ID, "")
	ev.Amount = next.Cost
	ev.Value = strconv.Itoa(next.Level)
	if err := rt.propose(ev); err != nil {
		return c.reject(err, vars)
	}
	s := c.Sender
	if next.Cost > 0 {
		if err := rt.charge(c.Ctx, s.ID, next.Cost); err != nil {
			return c.reject(err, vars)
		}
	}
	payBack := func() {
		if next.Cost > 0 {
			rt.refund(s.ID, next.Cost)
		}
	}
	ch, err := rt.Model.Upgrade(s.ID)
	if err != nil {
		payBack()
		return c.reject(err, vars)
	}
	rt.persist(ch, func(err error) {
		if err != nil {
			payBack()
			rejectTo(rt, s, err, vars)
			return
		}
		rt.reply(s, "upgrade.success", vars)
		rt.broadcast(ch.After, s.ID, "upgrade.success", vars)
		rt.notify(ev)
	})
	return Result{Status: Queued}
}

func runHome(c *Call) Result {
	rt := c.RT
	loc, err := rt.Model.Home(c.Sender.ID)
	if err != nil {
		return c.reject(err, nil)
	}
	if err := rt.World.Teleport(c.Sender.ID, loc); err != nil {
		return c.reject(err, nil)
	}
	return c.ok("home.teleported", c.vars())
}

func runSetHome(c *Call) Result {
	rt := c.RT
	loc, ok := rt.World.Location(c.Sender.ID)
	if !ok {
		c.reply("home.unknown-location", nil)
		return Result{Status: Rejected, Key: "home.unknown-location"}
	}
	ch, err := rt.Model.SetHome(c.Sender.ID, loc)
	if err != nil {
		return c.reject(err, nil)
	}
	s := c.Sender
	vars := lang.Vars{"location": loc.String()}
	rt.persist(ch, func(err error) {
		if err != nil {
			rejectTo(rt, s, err, vars)
			return
		}
		rt.reply(s, "sethome.success", vars)
		ev := rt.event(event.SetHome, ch.After, s.ID, "")
		ev.Value = loc.String()
		rt.notify(ev)
	})
	return Result{Status: Queued}
}
