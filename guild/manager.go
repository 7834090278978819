package guild

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
)

// Change describes one installed mutation. Before is nil for a creation and
// After is nil for a removal.
type Change struct {
	Before *Guild
	After  *Guild
}

// GuildID returns the id of the changed guild.
func (c Change) GuildID() string {
	if c.After != nil {
		return c.After.ID
	}
	if c.Before != nil {
		return c.Before.ID
	}
	return ""
}

// SideMaps are the name-keyed mirrors of bank, tier and home.
type SideMaps struct {
	Banks map[string]int64
	Tiers map[string]int
	Homes map[string]string
}

// NewSideMaps returns empty side maps.
func NewSideMaps() SideMaps {
	return SideMaps{Banks: map[string]int64{}, Tiers: map[string]int{}, Homes: map[string]string{}}
}

// Clone deep-copies the maps.
func (s SideMaps) Clone() SideMaps {
	c := NewSideMaps()
	for k, v := range s.Banks {
		c.Banks[k] = v
	}
	for k, v := range s.Tiers {
		c.Tiers[k] = v
	}
	for k, v := range s.Homes {
		c.Homes[k] = v
	}
	return c
}

// Manager owns the guild model. It is not safe for concurrent use: every call
// must happen on the main loop.
type Manager struct {
	rules    *Rules
	guilds   map[string]*Guild // id → guild
	byName   map[string]string // folded name → id
	byPrefix map[string]string // folded prefix → id
	byPlayer map[string]string // player id → guild id
	side     SideMaps
	rev      uint64

	now   func() time.Time
	newID func() string
}

// NewManager creates an empty model governed by rules.
func NewManager(rules *Rules) *Manager {
	return &Manager{
		rules:    rules,
		guilds:   make(map[string]*Guild),
		byName:   make(map[string]string),
		byPrefix: make(map[string]string),
		byPlayer: make(map[string]string),
		side:     NewSideMaps(),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

// SetClock overrides the time source.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// Rules returns the active rules.
func (m *Manager) Rules() *Rules { return m.rules }

func fold(s string) string { return cases.Fold().String(s) }

// ---- Lookups ----

// ByID returns a copy of the guild with id.
func (m *Manager) ByID(id string) (*Guild, bool) {
	g, ok := m.guilds[id]
	return g.Clone(), ok
}

// ByName finds a guild by case-insensitive name.
func (m *Manager) ByName(name string) (*Guild, bool) {
	id, ok := m.byName[fold(name)]
	if !ok {
		return nil, false
	}
	return m.ByID(id)
}

// ByPlayer returns the guild playerID belongs to.
func (m *Manager) ByPlayer(playerID string) (*Guild, bool) {
	id, ok := m.byPlayer[playerID]
	if !ok {
		return nil, false
	}
	return m.ByID(id)
}

// All returns copies of every guild ordered by name.
func (m *Manager) All() []*Guild {
	out := make([]*Guild, 0, len(m.guilds))
	for _, g := range m.guilds {
		out = append(out, g.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return fold(out[i].Name) < fold(out[j].Name) })
	return out
}

// Len is the number of guilds.
func (m *Manager) Len() int { return len(m.guilds) }

// Revision is the counter bumped by every installed mutation.
func (m *Manager) Revision() uint64 { return m.rev }

// SideMaps returns a copy of the name-keyed side maps.
func (m *Manager) SideMaps() SideMaps { return m.side.Clone() }

// Role resolves the role of a member.
func (m *Manager) Role(mem Member) (Role, bool) { return m.rules.Roles.Role(mem.Rank) }

// ---- Index maintenance ----

func (m *Manager) unindex(g *Guild) {
	delete(m.guilds, g.ID)
	delete(m.byName, fold(g.Name))
	delete(m.byPrefix, fold(g.Prefix))
	for _, mem := range g.Members {
		if m.byPlayer[mem.PlayerID] == g.ID {
			delete(m.byPlayer, mem.PlayerID)
		}
	}
	delete(m.side.Banks, g.Name)
	delete(m.side.Tiers, g.Name)
	delete(m.side.Homes, g.Name)
}

func (m *Manager) index(g *Guild) {
	m.guilds[g.ID] = g
	m.byName[fold(g.Name)] = g.ID
	m.byPrefix[fold(g.Prefix)] = g.ID
	for _, mem := range g.Members {
		m.byPlayer[mem.PlayerID] = g.ID
	}
	m.side.Banks[g.Name] = g.Bank
	m.side.Tiers[g.Name] = g.Tier
	m.side.Homes[g.Name] = g.HomeString()
}

// install swaps prev for next in every index in one step. Either may be nil.
func (m *Manager) install(prev, next *Guild) {
	m.rev++
	if prev != nil {
		m.unindex(prev)
		if next == nil && m.rules.ResetSideMapsOnRemove {
			m.side.Banks[prev.Name] = 0
			m.side.Tiers[prev.Name] = 1
			m.side.Homes[prev.Name] = ""
		}
	}
	if next != nil {
		next.rev = m.rev
		m.index(next)
	}
}

// validate checks every invariant next must satisfy to replace prev (nil for a new guild).
// Growth checks (bank cap, member cap) only apply when the value increases so that a
// guild left over a reduced cap by a reload is not frozen.
func (m *Manager) validate(prev, next *Guild) error {
	if id, ok := m.byName[fold(next.Name)]; ok && id != next.ID {
		return Errorf(KindNameTaken, "%s", next.Name)
	}
	if id, ok := m.byPrefix[fold(next.Prefix)]; ok && id != next.ID {
		return Errorf(KindPrefixTaken, "%s", next.Prefix)
	}
	seen := make(map[string]bool, len(next.Members))
	masters := 0
	for _, mem := range next.Members {
		if seen[mem.PlayerID] {
			return fmt.Errorf("guild %s: duplicate member %s", next.ID, mem.PlayerID)
		}
		seen[mem.PlayerID] = true
		if id, ok := m.byPlayer[mem.PlayerID]; ok && id != next.ID {
			return Errorf(KindAlreadyInGuild, "%s", mem.PlayerID)
		}
		if _, ok := m.rules.Roles.Role(mem.Rank); !ok {
			return fmt.Errorf("guild %s: member %s has unknown rank %d", next.ID, mem.PlayerID, mem.Rank)
		}
		if m.rules.Roles.IsMaster(mem.Rank) {
			masters++
		}
	}
	if len(next.Members) > 0 && masters != 1 {
		return fmt.Errorf("guild %s: %d masters", next.ID, masters)
	}
	if len(next.Members) == 0 && m.rules.AutoDeleteEmpty {
		return fmt.Errorf("guild %s: no members", next.ID)
	}
	for _, id := range next.Invites {
		if seen[id] {
			return fmt.Errorf("guild %s: %s is both member and invitee", next.ID, id)
		}
	}
	if next.Bank < 0 {
		return ErrBankInsufficient
	}
	if next.Tier < 1 || next.Tier > m.rules.MaxTier() {
		return fmt.Errorf("guild %s: tier %d out of range", next.ID, next.Tier)
	}
	grewBank := prev == nil || next.Bank > prev.Bank
	if grewBank && next.Bank > m.rules.BankCap(next.Tier) {
		return ErrBankCapExceeded
	}
	grewMembers := prev == nil || len(next.Members) > len(prev.Members)
	if t, _ := m.rules.Tier(next.Tier); grewMembers && t.MaxMembers > 0 && len(next.Members) > t.MaxMembers {
		return ErrGuildFull
	}
	return nil
}

// mutate applies fn to a copy of guild id and installs it if every invariant holds.
func (m *Manager) mutate(id string, fn func(g *Guild) error) (Change, error) {
	cur, ok := m.guilds[id]
	if !ok {
		return Change{}, ErrGuildNotFound
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return Change{}, err
	}
	if err := m.validate(cur, next); err != nil {
		return Change{}, err
	}
	m.install(cur, next)
	return Change{Before: cur.Clone(), After: next.Clone()}, nil
}

// actor resolves playerID's guild and membership and checks want.
func (m *Manager) actor(playerID string, want Capability) (*Guild, Member, error) {
	id, ok := m.byPlayer[playerID]
	if !ok {
		return nil, Member{}, ErrNotInGuild
	}
	g := m.guilds[id]
	mem, _ := g.Member(playerID)
	if want != CapNone && !m.rules.Roles.Can(mem, want) {
		return nil, Member{}, ErrNoPermission
	}
	return g, mem, nil
}

// target resolves a member of g other than the actor.
func (m *Manager) target(g *Guild, actor Member, targetID string) (Member, error) {
	if targetID == actor.PlayerID {
		return Member{}, ErrCannotTargetSelf
	}
	tm, ok := g.Member(targetID)
	if !ok {
		return Member{}, ErrTargetNotInGuild
	}
	return tm, nil
}

// ---- Lifecycle ----

// Create founds a guild with ownerID as its only member and master.
func (m *Manager) Create(ownerID, name, prefix string) (Change, error) {
	if _, ok := m.byPlayer[ownerID]; ok {
		return Change{}, ErrAlreadyInGuild
	}
	if err := m.rules.checkName(name); err != nil {
		return Change{}, err
	}
	if err := m.rules.checkPrefix(prefix); err != nil {
		return Change{}, err
	}
	now := m.now()
	g := &Guild{
		ID:        m.newID(),
		Name:      name,
		Prefix:    prefix,
		Status:    StatusPrivate,
		Tier:      1,
		CreatedAt: now,
		Members:   []Member{{PlayerID: ownerID, Rank: m.rules.Roles.Master().Rank, JoinedAt: now}},
	}
	if err := m.validate(nil, g); err != nil {
		return Change{}, err
	}
	m.install(nil, g)
	return Change{After: g.Clone()}, nil
}

// CheckRemove verifies actor may remove their guild and returns it.
func (m *Manager) CheckRemove(actorID string) (*Guild, error) {
	g, _, err := m.actor(actorID, CapRemoveGuild)
	if err != nil {
		return nil, err
	}
	return g.Clone(), nil
}

// Remove removes actor's guild after re-checking the remove-guild capability.
func (m *Manager) Remove(actorID string) (Change, error) {
	g, _, err := m.actor(actorID, CapRemoveGuild)
	if err != nil {
		return Change{}, err
	}
	m.install(g, nil)
	return Change{Before: g.Clone()}, nil
}

// ---- Identity ----

// Rename changes the guild name together with every name-keyed side map.
func (m *Manager) Rename(actorID, newName string) (Change, error) {
	g, _, err := m.actor(actorID, CapRename)
	if err != nil {
		return Change{}, err
	}
	if err := m.rules.checkName(newName); err != nil {
		return Change{}, err
	}
	return m.mutate(g.ID, func(n *Guild) error {
		n.Name = newName
		return nil
	})
}

// SetPrefix changes the display tag.
func (m *Manager) SetPrefix(actorID, prefix string) (Change, error) {
	g, _, err := m.actor(actorID, CapSetPrefix)
	if err != nil {
		return Change{}, err
	}
	if err := m.rules.checkPrefix(prefix); err != nil {
		return Change{}, err
	}
	return m.mutate(g.ID, func(n *Guild) error {
		n.Prefix = prefix
		return nil
	})
}

// SetStatus switches between public and private.
func (m *Manager) SetStatus(actorID string, status Status) (Change, error) {
	g, _, err := m.actor(actorID, CapSetStatus)
	if err != nil {
		return Change{}, err
	}
	return m.mutate(g.ID, func(n *Guild) error {
		n.Status = status
		return nil
	})
}

// ---- Membership ----

// Invite records a pending invitation for inviteeID.
func (m *Manager) Invite(actorID, inviteeID string) (Change, error) {
	g, _, err := m.actor(actorID, CapInvite)
	if err != nil {
		return Change{}, err
	}
	if inviteeID == actorID {
		return Change{}, ErrCannotTargetSelf
	}
	if _, ok := m.byPlayer[inviteeID]; ok {
		return Change{}, ErrAlreadyInGuild
	}
	if g.IsInvited(inviteeID) {
		return Change{}, ErrAlreadyInvited
	}
	return m.mutate(g.ID, func(n *Guild) error {
		n.Invites = append(n.Invites, inviteeID)
		return nil
	})
}

func (m *Manager) admit(playerID, guildID string, needInvite bool) (Change, error) {
	if _, ok := m.byPlayer[playerID]; ok {
		return Change{}, ErrAlreadyInGuild
	}
	g, ok := m.guilds[guildID]
	if !ok {
		return Change{}, ErrGuildNotFound
	}
	if needInvite && !g.IsInvited(playerID) {
		return Change{}, ErrNotInvited
	}
	if !needInvite && g.Status != StatusPublic && !g.IsInvited(playerID) {
		return Change{}, ErrNotInvited
	}
	return m.mutate(guildID, func(n *Guild) error {
		n.removeInvite(playerID)
		rank := m.rules.Roles.Default().Rank
		if len(n.Members) == 0 {
			// an empty guild is claimed by whoever joins first
			rank = m.rules.Roles.Master().Rank
		}
		n.Members = append(n.Members, Member{
			PlayerID: playerID,
			Rank:     rank,
			JoinedAt: m.now(),
		})
		return nil
	})
}

// AcceptInvite turns the invite into a membership in one transition.
func (m *Manager) AcceptInvite(inviteeID, guildID string) (Change, error) {
	return m.admit(inviteeID, guildID, true)
}

// Join admits playerID into a public guild, or a private one holding an invite.
func (m *Manager) Join(playerID, guildID string) (Change, error) {
	return m.admit(playerID, guildID, false)
}

// DeclineInvite drops the invitation.
func (m *Manager) DeclineInvite(inviteeID, guildID string) (Change, error) {
	g, ok := m.guilds[guildID]
	if !ok {
		return Change{}, ErrGuildNotFound
	}
	if !g.IsInvited(inviteeID) {
		return Change{}, ErrNotInvited
	}
	return m.mutate(guildID, func(n *Guild) error {
		n.removeInvite(inviteeID)
		return nil
	})
}

// CheckKick validates a kick without applying it.
func (m *Manager) CheckKick(actorID, targetID string) (*Guild, error) {
	g, am, err := m.actor(actorID, CapKick)
	if err != nil {
		return nil, err
	}
	tm, err := m.target(g, am, targetID)
	if err != nil {
		return nil, err
	}
	if !Senior(am.Rank, tm.Rank) {
		return nil, ErrCannotTargetSenior
	}
	return g.Clone(), nil
}

// Kick removes targetID from the actor's guild.
func (m *Manager) Kick(actorID, targetID string) (Change, error) {
	g, err := m.CheckKick(actorID, targetID)
	if err != nil {
		return Change{}, err
	}
	return m.mutate(g.ID, func(n *Guild) error {
		n.removeMember(targetID)
		return nil
	})
}

// CheckLeave reports whether playerID may leave and whether leaving empties the guild.
func (m *Manager) CheckLeave(playerID string) (g *Guild, last bool, err error) {
	cur, mem, err := m.actor(playerID, CapNone)
	if err != nil {
		return nil, false, err
	}
	if m.rules.Roles.IsMaster(mem.Rank) {
		if len(cur.Members) > 1 {
			return nil, false, ErrMasterMustTransfer
		}
		return cur.Clone(), true, nil
	}
	return cur.Clone(), false, nil
}

// Leave removes playerID. A sole master's departure removes the guild, or leaves a
// ghost when AutoDeleteEmpty is off.
func (m *Manager) Leave(playerID string) (Change, error) {
	g, last, err := m.CheckLeave(playerID)
	if err != nil {
		return Change{}, err
	}
	if last && m.rules.AutoDeleteEmpty {
		cur := m.guilds[g.ID]
		m.install(cur, nil)
		return Change{Before: cur.Clone()}, nil
	}
	return m.mutate(g.ID, func(n *Guild) error {
		n.removeMember(playerID)
		return nil
	})
}

// Promote moves targetID one rank up, never onto or above the actor's rank.
func (m *Manager) Promote(actorID, targetID string) (Change, error) {
	g, am, err := m.actor(actorID, CapPromote)
	if err != nil {
		return Change{}, err
	}
	tm, err := m.target(g, am, targetID)
	if err != nil {
		return Change{}, err
	}
	if !Senior(am.Rank, tm.Rank) {
		return Change{}, ErrCannotTargetSenior
	}
	up, ok := m.rules.Roles.Next(tm.Rank, -1)
	if !ok || !Senior(am.Rank, up.Rank) {
		return Change{}, Errorf(KindNoPermission, "cannot promote to a rank not junior to your own")
	}
	return m.mutate(g.ID, func(n *Guild) error {
		n.setRank(targetID, up.Rank)
		return nil
	})
}

// Demote moves targetID one rank down.
func (m *Manager) Demote(actorID, targetID string) (Change, error) {
	g, am, err := m.actor(actorID, CapDemote)
	if err != nil {
		return Change{}, err
	}
	tm, err := m.target(g, am, targetID)
	if err != nil {
		return Change{}, err
	}
	if !Senior(am.Rank, tm.Rank) {
		return Change{}, ErrCannotTargetSenior
	}
	down, ok := m.rules.Roles.Next(tm.Rank, +1)
	if !ok {
		return Change{}, Errorf(KindNoPermission, "already at the lowest rank")
	}
	return m.mutate(g.ID, func(n *Guild) error {
		n.setRank(targetID, down.Rank)
		return nil
	})
}

// CheckTransfer validates a mastership transfer.
func (m *Manager) CheckTransfer(actorID, newMasterID string) (*Guild, error) {
	g, am, err := m.actor(actorID, CapTransferMastership)
	if err != nil {
		return nil, err
	}
	if !m.rules.Roles.IsMaster(am.Rank) {
		return nil, ErrNoPermission
	}
	if _, err := m.target(g, am, newMasterID); err != nil {
		return nil, err
	}
	return g.Clone(), nil
}

// TransferMaster swaps the roles of the current master and newMasterID.
func (m *Manager) TransferMaster(actorID, newMasterID string) (Change, error) {
	g, err := m.CheckTransfer(actorID, newMasterID)
	if err != nil {
		return Change{}, err
	}
	am, _ := g.Member(actorID)
	tm, _ := g.Member(newMasterID)
	return m.mutate(g.ID, func(n *Guild) error {
		n.setRank(actorID, tm.Rank)
		n.setRank(newMasterID, am.Rank)
		return nil
	})
}

// ---- Bank ----

// Balance returns the bank balance and cap visible to actor.
func (m *Manager) Balance(actorID string) (balance, limit int64, err error) {
	g, _, err := m.actor(actorID, CapOpenBank)
	if err != nil {
		return 0, 0, err
	}
	return g.Bank, m.rules.BankCap(g.Tier), nil
}

// CheckDeposit validates a deposit without touching the model.
func (m *Manager) CheckDeposit(actorID string, amount int64) error {
	g, _, err := m.actor(actorID, CapDeposit)
	if err != nil {
		return err
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if amount > m.rules.BankCap(g.Tier)-g.Bank {
		return ErrBankCapExceeded
	}
	return nil
}

// Deposit credits the guild bank.
func (m *Manager) Deposit(actorID string, amount int64) (Change, error) {
	if err := m.CheckDeposit(actorID, amount); err != nil {
		return Change{}, err
	}
	id := m.byPlayer[actorID]
	return m.mutate(id, func(n *Guild) error {
		n.Bank += amount
		return nil
	})
}

// CheckWithdraw validates a withdrawal without touching the model.
func (m *Manager) CheckWithdraw(actorID string, amount int64) error {
	g, _, err := m.actor(actorID, CapWithdraw)
	if err != nil {
		return err
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if g.Bank < amount {
		return ErrBankInsufficient
	}
	return nil
}

// Withdraw debits the guild bank.
func (m *Manager) Withdraw(actorID string, amount int64) (Change, error) {
	if err := m.CheckWithdraw(actorID, amount); err != nil {
		return Change{}, err
	}
	id := m.byPlayer[actorID]
	return m.mutate(id, func(n *Guild) error {
		n.Bank -= amount
		return nil
	})
}

// ---- Home ----

// SetHome stores loc as the guild home.
func (m *Manager) SetHome(actorID string, loc Location) (Change, error) {
	g, _, err := m.actor(actorID, CapSetHome)
	if err != nil {
		return Change{}, err
	}
	return m.mutate(g.ID, func(n *Guild) error {
		n.Home = &loc
		return nil
	})
}

// Home returns the guild home for actor.
func (m *Manager) Home(actorID string) (Location, error) {
	g, _, err := m.actor(actorID, CapUseHome)
	if err != nil {
		return Location{}, err
	}
	if g.Home == nil {
		return Location{}, ErrNoHome
	}
	return *g.Home, nil
}

// ---- Tiers ----

// NextTier returns the tier actor's guild would upgrade to.
func (m *Manager) NextTier(actorID string) (Tier, error) {
	g, _, err := m.actor(actorID, CapUpgradeTier)
	if err != nil {
		return Tier{}, err
	}
	t, ok := m.rules.Tier(g.Tier + 1)
	if !ok {
		return Tier{}, ErrAtMaxTier
	}
	return t, nil
}

// Upgrade raises the guild tier by one.
func (m *Manager) Upgrade(actorID string) (Change, error) {
	if _, err := m.NextTier(actorID); err != nil {
		return Change{}, err
	}
	id := m.byPlayer[actorID]
	return m.mutate(id, func(n *Guild) error {
		n.Tier++
		return nil
	})
}

// ---- Persistence support ----

// Restore loads persisted guilds into an empty model. Guilds that violate an
// invariant are skipped and reported in the joined error; the rest are loaded.
func (m *Manager) Restore(guilds []*Guild) error {
	if len(m.guilds) != 0 {
		return fmt.Errorf("restore: model already holds %d guilds", len(m.guilds))
	}
	var errs []error
	for _, g := range guilds {
		c := g.Clone()
		if err := m.validateRestored(c); err != nil {
			errs = append(errs, fmt.Errorf("restore guild %s (%s): %w", c.ID, c.Name, err))
			continue
		}
		m.install(nil, c)
	}
	return errors.Join(errs...)
}

// RestoreSideMaps seeds side-map keys that no loaded guild owns, such as names
// kept after removal.
func (m *Manager) RestoreSideMaps(s SideMaps) {
	for k, v := range s.Banks {
		if _, ok := m.byName[fold(k)]; !ok {
			m.side.Banks[k] = v
		}
	}
	for k, v := range s.Tiers {
		if _, ok := m.byName[fold(k)]; !ok {
			m.side.Tiers[k] = v
		}
	}
	for k, v := range s.Homes {
		if _, ok := m.byName[fold(k)]; !ok {
			m.side.Homes[k] = v
		}
	}
}

func (m *Manager) validateRestored(g *Guild) error {
	if _, ok := m.guilds[g.ID]; ok {
		return fmt.Errorf("duplicate id")
	}
	if g.Tier < 1 {
		g.Tier = 1
	}
	if top := m.rules.MaxTier(); g.Tier > top {
		g.Tier = top
	}
	if g.Status == "" {
		g.Status = StatusPrivate
	}
	prev := g.Clone() // loaded balances above cap are tolerated
	return m.validate(prev, g)
}

// Rollback puts guild id back to state to, nil meaning absent, whatever has
// been installed since. It fails when to now clashes with another guild.
func (m *Manager) Rollback(id string, to *Guild) error {
	cur, exists := m.guilds[id]
	if to == nil {
		if exists {
			m.install(cur, nil)
		}
		return nil
	}
	// Entries indexed under the same id are ignored by validate, so cur can stay
	// installed while the old state is checked against everyone else.
	restored := to.Clone()
	if err := m.validate(restored, restored); err != nil {
		return err
	}
	if !exists {
		m.install(nil, restored)
		return nil
	}
	m.install(cur, restored)
	return nil
}

// ApplyRules swaps in new rules. Guilds above the highest remaining tier drop
// to it. With TruncateOverCap, balances above the new cap are clipped. The
// resulting changes are returned for persistence.
func (m *Manager) ApplyRules(r *Rules) []Change {
	m.rules = r
	var changes []Change
	ids := make([]string, 0, len(m.guilds))
	for id := range m.guilds {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		g := m.guilds[id]
		tier := min(g.Tier, r.MaxTier())
		limit := r.BankCap(tier)
		truncate := r.TruncateOverCap && g.Bank > limit
		if tier == g.Tier && !truncate {
			continue
		}
		c, err := m.mutate(id, func(n *Guild) error {
			n.Tier = tier
			if truncate {
				n.Bank = limit
			}
			return nil
		})
		if err == nil {
			changes = append(changes, c)
		}
	}
	return changes
}

// CheckInvariants verifies every model-wide invariant. Intended for tests and diagnostics.
func (m *Manager) CheckInvariants() error {
	players := map[string]string{}
	names := map[string]string{}
	prefixes := map[string]string{}
	for id, g := range m.guilds {
		if err := m.validate(g, g); err != nil {
			return fmt.Errorf("guild %s: %w", id, err)
		}
		for _, mem := range g.Members {
			if other, ok := players[mem.PlayerID]; ok {
				return fmt.Errorf("player %s in guilds %s and %s", mem.PlayerID, other, id)
			}
			players[mem.PlayerID] = id
		}
		if other, ok := names[fold(g.Name)]; ok {
			return fmt.Errorf("name %q shared by %s and %s", g.Name, other, id)
		}
		names[fold(g.Name)] = id
		if other, ok := prefixes[fold(g.Prefix)]; ok {
			return fmt.Errorf("prefix %q shared by %s and %s", g.Prefix, other, id)
		}
		prefixes[fold(g.Prefix)] = id
		if m.side.Banks[g.Name] != g.Bank || m.side.Tiers[g.Name] != g.Tier || m.side.Homes[g.Name] != g.HomeString() {
			return fmt.Errorf("guild %s: side maps out of sync", id)
		}
	}
	return nil
}
