// Package confirm holds per-player staged actions awaiting confirm or cancel.
package confirm

import (
	"sort"
	"time"

	"github.com/kasuganosora/guilds/server/guild"
)

// Action is a staged two-phase operation.
type Action interface {
	Accept()
	Decline()
}

// Func adapts a pair of closures to Action. Tag identifies what was staged
// (e.g. "invite:<guild id>") so commands can find it without reaching into the callbacks.
type Func struct {
	Tag       string
	OnAccept  func()
	OnDecline func()
}

func (f Func) Accept() {
	if f.OnAccept != nil {
		f.OnAccept()
	}
}

func (f Func) Decline() {
	if f.OnDecline != nil {
		f.OnDecline()
	}
}

// Tagged is implemented by actions that carry a tag.
type Tagged interface {
	ActionTag() string
}

func (f Func) ActionTag() string { return f.Tag }

// Pending is a snapshot of one slot.
type Pending struct {
	Player   string
	Action   Action
	Tag      string
	Deadline time.Time
}

type slot struct {
	action   Action
	deadline time.Time
}

// Tracker keeps at most one pending action per player. It is not safe for
// concurrent use and lives on the main loop with the guild model.
type Tracker struct {
	ttl   time.Duration
	slots map[string]*slot
	now   func() time.Time
}

// NewTracker creates a tracker whose actions expire after ttl.
func NewTracker(ttl time.Duration) *Tracker {
	return &Tracker{
		ttl:   ttl,
		slots: make(map[string]*slot),
		now:   time.Now,
	}
}

// SetClock overrides the time source.
func (t *Tracker) SetClock(now func() time.Time) { t.now = now }

// SetTTL changes the lifetime of actions added afterwards.
func (t *Tracker) SetTTL(ttl time.Duration) { t.ttl = ttl }

// TTL returns the configured lifetime.
func (t *Tracker) TTL() time.Duration { return t.ttl }

// Add stages a for player. A previously staged action is removed and declined
// before the new one is installed, so its decline callback may not see a.
func (t *Tracker) Add(player string, a Action) {
	if old, ok := t.slots[player]; ok {
		delete(t.slots, player)
		old.action.Decline()
	}
	t.slots[player] = &slot{action: a, deadline: t.now().Add(t.ttl)}
}

// take clears and returns the slot of player.
func (t *Tracker) take(player string) (*slot, bool) {
	s, ok := t.slots[player]
	if ok {
		delete(t.slots, player)
	}
	return s, ok
}

// Confirm accepts the pending action of player. A second Confirm finds the slot
// empty and returns ConfirmationMissing. Past its deadline the action is declined
// instead and ConfirmationExpired returned.
func (t *Tracker) Confirm(player string) error {
	s, ok := t.take(player)
	if !ok {
		return guild.ErrConfirmationMissing
	}
	if t.now().After(s.deadline) {
		s.action.Decline()
		return guild.ErrConfirmationExpired
	}
	s.action.Accept()
	return nil
}

// Cancel declines the pending action of player.
func (t *Tracker) Cancel(player string) error {
	s, ok := t.take(player)
	if !ok {
		return guild.ErrConfirmationMissing
	}
	s.action.Decline()
	return nil
}

// Remove drops the pending action of player without running any callback.
func (t *Tracker) Remove(player string) bool {
	_, ok := t.take(player)
	return ok
}

// Peek returns the pending action of player without touching it.
func (t *Tracker) Peek(player string) (Pending, bool) {
	s, ok := t.slots[player]
	if !ok {
		return Pending{}, false
	}
	p := Pending{Player: player, Action: s.action, Deadline: s.deadline}
	if tg, ok := s.action.(Tagged); ok {
		p.Tag = tg.ActionTag()
	}
	return p, true
}

// Expired reports whether p is past its deadline.
func (t *Tracker) Expired(p Pending) bool { return t.now().After(p.Deadline) }

// Len is the number of pending actions.
func (t *Tracker) Len() int { return len(t.slots) }

// Sweep declines every action whose deadline is before now and returns the
// affected players in sorted order.
func (t *Tracker) Sweep(now time.Time) []string {
	var expired []string
	for player, s := range t.slots {
		if now.After(s.deadline) {
			expired = append(expired, player)
		}
	}
	sort.Strings(expired)
	actions := make([]Action, 0, len(expired))
	for _, player := range expired {
		actions = append(actions, t.slots[player].action)
		delete(t.slots, player)
	}
	for _, a := range actions {
		a.Decline()
	}
	return expired
}

// DeclineAll declines every pending action, used on shutdown.
func (t *Tracker) DeclineAll() int {
	n := len(t.slots)
	players := make([]string, 0, n)
	for p := range t.slots {
		players = append(players, p)
	}
	sort.Strings(players)
	for _, p := range players {
		if s, ok := t.take(p); ok {
			s.action.Decline()
		}
	}
	return n
}
