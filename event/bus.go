// Package event publishes guild lifecycle events to priority-ordered observers.
// Cancellable kinds are proposed before the model commits and may be vetoed.
package event

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Kind names a lifecycle transition.
type Kind string

const (
	Create   Kind = "create"
	Join     Kind = "join"
	Invite   Kind = "invite"
	Leave    Kind = "leave"
	Kick     Kind = "kick"
	Rename   Kind = "rename"
	Prefix   Kind = "prefix"
	Status   Kind = "status"
	Promote  Kind = "promote"
	Demote   Kind = "demote"
	Deposit  Kind = "deposit"
	Withdraw Kind = "withdraw"
	SetHome  Kind = "sethome"
	Upgrade  Kind = "upgrade"
	Transfer Kind = "transfer"
	Remove   Kind = "remove"
)

var cancellable = map[Kind]bool{
	Create: true, Join: true, Leave: true, Kick: true,
	Rename: true, Upgrade: true, Transfer: true, Remove: true,
}

// Cancellable reports whether observers may veto k.
func (k Kind) Cancellable() bool { return cancellable[k] }

// Event describes one transition. Fields that do not apply to a kind are empty.
type Event struct {
	Kind      Kind      `json:"kind"`
	GuildID   string    `json:"guild_id"`
	GuildName string    `json:"guild"`
	Actor     string    `json:"actor,omitempty"`
	Target    string    `json:"target,omitempty"`
	Amount    int64     `json:"amount,omitempty"`
	Value     string    `json:"value,omitempty"` // new name, prefix, status or tier
	Time      time.Time `json:"time"`
}

// Phase selects whether a handler sees proposals or commits.
type Phase int

const (
	Before Phase = iota
	After
)

// Handler observes an event. During Before it may return Veto to cancel the
// transition; any other error is logged and ignored.
type Handler func(ctx context.Context, ev Event) error

// VetoError cancels a proposed transition.
type VetoError struct {
	Reason string
}

func (v *VetoError) Error() string { return "vetoed: " + v.Reason }

// Veto builds a VetoError.
func Veto(reason string) error { return &VetoError{Reason: reason} }

// Outcome is the result of a proposal: either allowed or vetoed by a named observer.
type Outcome struct {
	Vetoed bool
	By     string
	Reason string
}

// Allowed is the zero outcome.
var Allowed = Outcome{}

type entry struct {
	priority int
	name     string
	fn       Handler
}

type topic struct {
	phase Phase
	kind  Kind // "" matches every kind
}

// Bus dispatches events. Registration may happen from any goroutine; dispatch
// happens on the main loop.
type Bus struct {
	mu       sync.RWMutex
	handlers map[topic][]*entry
	logger   *zap.Logger
}

// NewBus creates an empty bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{handlers: make(map[topic][]*entry), logger: logger}
}

// Register adds fn for kind in phase; lower priority runs first. An empty kind
// observes every kind. name is used by Unregister.
func (b *Bus) Register(phase Phase, kind Kind, priority int, name string, fn Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := topic{phase: phase, kind: kind}
	entries := append(b.handlers[t], &entry{priority: priority, name: name, fn: fn})
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].priority < entries[j].priority })
	b.handlers[t] = entries
}

// Unregister removes every handler registered under name.
func (b *Bus) Unregister(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for t, entries := range b.handlers {
		n := 0
		for _, e := range entries {
			if e.name != name {
				entries[n] = e
				n++
			}
		}
		b.handlers[t] = entries[:n]
	}
}

func (b *Bus) snapshot(phase Phase, kind Kind) []*entry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	specific := b.handlers[topic{phase, kind}]
	wildcard := b.handlers[topic{phase, ""}]
	out := make([]*entry, 0, len(specific)+len(wildcard))
	out = append(out, specific...)
	out = append(out, wildcard...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].priority < out[j].priority })
	return out
}

func (b *Bus) call(ctx context.Context, e *entry, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event observer panicked",
				zap.String("observer", e.name),
				zap.String("kind", string(ev.Kind)),
				zap.Any("recover", r))
			err = fmt.Errorf("observer %s panicked: %v", e.name, r)
		}
	}()
	return e.fn(ctx, ev)
}

// Propose asks Before observers whether ev may happen. Non-cancellable kinds
// are always allowed and their Before observers are not consulted.
func (b *Bus) Propose(ctx context.Context, ev Event) Outcome {
	if !ev.Kind.Cancellable() {
		return Allowed
	}
	for _, e := range b.snapshot(Before, ev.Kind) {
		err := b.call(ctx, e, ev)
		if err == nil {
			continue
		}
		var veto *VetoError
		if errors.As(err, &veto) {
			b.logger.Info("guild event vetoed",
				zap.String("kind", string(ev.Kind)),
				zap.String("guild_id", ev.GuildID),
				zap.String("observer", e.name),
				zap.String("reason", veto.Reason))
			return Outcome{Vetoed: true, By: e.name, Reason: veto.Reason}
		}
		b.logger.Warn("event observer failed", zap.String("observer", e.name), zap.Error(err))
	}
	return Allowed
}

// Notify delivers a committed event to After observers. Errors never stop delivery.
func (b *Bus) Notify(ctx context.Context, ev Event) {
	for _, e := range b.snapshot(After, ev.Kind) {
		if err := b.call(ctx, e, ev); err != nil {
			b.logger.Warn("event observer failed", zap.String("observer", e.name), zap.Error(err))
		}
	}
}
