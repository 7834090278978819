package host

import (
	"context"
	"fmt"
	"strconv"

	"github.com/kasuganosora/guilds/server/cache"
	"github.com/kasuganosora/guilds/server/guild"
)

// Economy is the host's currency system. Every method either succeeds or
// returns guild.ErrEconomyUnavailable / guild.ErrEconomyRejected.
type Economy interface {
	Has(ctx context.Context, player string, amount int64) (bool, error)
	Withdraw(ctx context.Context, player string, amount int64) error
	Deposit(ctx context.Context, player string, amount int64) error
}

// Unavailable is the economy used when no currency system is installed.
type Unavailable struct{}

func (Unavailable) Has(context.Context, string, int64) (bool, error) {
	return false, guild.ErrEconomyUnavailable
}

func (Unavailable) Withdraw(context.Context, string, int64) error { return guild.ErrEconomyUnavailable }

func (Unavailable) Deposit(context.Context, string, int64) error { return guild.ErrEconomyUnavailable }

// Ledger keeps player balances in a cache hash, local or Redis.
type Ledger struct {
	c        cache.Cache
	key      string
	starting int64
}

// NewLedger stores balances under the hash key; new accounts open with starting coins.
func NewLedger(c cache.Cache, key string, starting int64) *Ledger {
	return &Ledger{c: c, key: key, starting: starting}
}

func unavailable(err error) error {
	return &guild.Error{Kind: guild.KindEconomyUnavailable, Err: err}
}

// Open creates the account of player with the starting balance if it does not exist.
func (l *Ledger) Open(ctx context.Context, player string) error {
	_, err := l.c.HGet(ctx, l.key, player)
	if err == nil {
		return nil
	}
	if !cache.IsNotFound(err) {
		return unavailable(err)
	}
	if err := l.c.HSet(ctx, l.key, player, strconv.FormatInt(l.starting, 10)); err != nil {
		return unavailable(err)
	}
	return nil
}

// Balance returns the balance of player; unknown accounts hold zero.
func (l *Ledger) Balance(ctx context.Context, player string) (int64, error) {
	s, err := l.c.HGet(ctx, l.key, player)
	if cache.IsNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, unavailable(err)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, unavailable(fmt.Errorf("balance of %s: %w", player, err))
	}
	return n, nil
}

// SetBalance overwrites the balance of player.
func (l *Ledger) SetBalance(ctx context.Context, player string, amount int64) error {
	if err := l.c.HSet(ctx, l.key, player, strconv.FormatInt(amount, 10)); err != nil {
		return unavailable(err)
	}
	return nil
}

// Balances returns every account.
func (l *Ledger) Balances(ctx context.Context) (map[string]int64, error) {
	raw, err := l.c.HGetAll(ctx, l.key)
	if err != nil {
		return nil, unavailable(err)
	}
	out := make(map[string]int64, len(raw))
	for k, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		out[k] = n
	}
	return out, nil
}

// Close deletes the account of player.
func (l *Ledger) Close(ctx context.Context, player string) error {
	if err := l.c.HDel(ctx, l.key, player); err != nil {
		return unavailable(err)
	}
	return nil
}

func (l *Ledger) Has(ctx context.Context, player string, amount int64) (bool, error) {
	bal, err := l.Balance(ctx, player)
	if err != nil {
		return false, err
	}
	return bal >= amount, nil
}

// Withdraw debits player. The hash increment is atomic; a debit that would go
// negative is compensated and rejected.
func (l *Ledger) Withdraw(ctx context.Context, player string, amount int64) error {
	if amount <= 0 {
		return guild.ErrInvalidAmount
	}
	n, err := l.c.HIncrBy(ctx, l.key, player, -amount)
	if err != nil {
		return unavailable(err)
	}
	if n < 0 {
		if _, err := l.c.HIncrBy(ctx, l.key, player, amount); err != nil {
			return unavailable(err)
		}
		return guild.Errorf(guild.KindEconomyRejected, "insufficient funds")
	}
	return nil
}

func (l *Ledger) Deposit(ctx context.Context, player string, amount int64) error {
	if amount <= 0 {
		return guild.ErrInvalidAmount
	}
	if _, err := l.c.HIncrBy(ctx, l.key, player, amount); err != nil {
		return unavailable(err)
	}
	return nil
}
