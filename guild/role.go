package guild

import (
	"fmt"
	"sort"
	"strings"
)

// Capability is a bitset of actions a role may perform.
type Capability uint32

const (
	CapInvite Capability = 1 << iota
	CapKick
	CapPromote
	CapDemote
	CapDeposit
	CapWithdraw
	CapOpenBank
	CapSetHome
	CapUseHome
	CapSetPrefix
	CapSetStatus
	CapRename
	CapUpgradeTier
	CapTransferMastership
	CapRemoveGuild
	CapAcceptAlly
	CapDeclineAlly

	CapNone Capability = 0
	CapAll             = CapInvite | CapKick | CapPromote | CapDemote | CapDeposit | CapWithdraw |
		CapOpenBank | CapSetHome | CapUseHome | CapSetPrefix | CapSetStatus | CapRename |
		CapUpgradeTier | CapTransferMastership | CapRemoveGuild | CapAcceptAlly | CapDeclineAlly
)

var capNames = []struct {
	name string
	cap  Capability
}{
	{"invite", CapInvite},
	{"kick", CapKick},
	{"promote", CapPromote},
	{"demote", CapDemote},
	{"deposit", CapDeposit},
	{"withdraw", CapWithdraw},
	{"open-bank", CapOpenBank},
	{"set-home", CapSetHome},
	{"use-home", CapUseHome},
	{"set-prefix", CapSetPrefix},
	{"set-status", CapSetStatus},
	{"rename", CapRename},
	{"upgrade-tier", CapUpgradeTier},
	{"transfer-mastership", CapTransferMastership},
	{"remove-guild", CapRemoveGuild},
	{"accept-ally", CapAcceptAlly},
	{"decline-ally", CapDeclineAlly},
}

// ParseCapability resolves a capability name as written in configuration.
// "*" and "all" grant every capability.
func ParseCapability(name string) (Capability, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "*" || n == "all" {
		return CapAll, nil
	}
	for _, c := range capNames {
		if c.name == n {
			return c.cap, nil
		}
	}
	return CapNone, fmt.Errorf("unknown capability %q", name)
}

// Has reports whether every bit of want is set.
func (c Capability) Has(want Capability) bool {
	return c&want == want
}

// Names lists the capability names contained in c.
func (c Capability) Names() []string {
	var out []string
	for _, n := range capNames {
		if c.Has(n.cap) {
			out = append(out, n.name)
		}
	}
	return out
}

func (c Capability) String() string {
	if c == CapNone {
		return "none"
	}
	return strings.Join(c.Names(), ",")
}

// Role is one entry of the role table. Lower rank is more senior.
type Role struct {
	Rank int
	Name string
	Caps Capability
}

// RoleTable is the immutable rank → role mapping. The most senior rank is the master.
type RoleTable struct {
	roles []Role // sorted by rank ascending
}

// NewRoleTable validates and orders the given roles. At least one role is required and ranks must be unique.
func NewRoleTable(roles []Role) (*RoleTable, error) {
	if len(roles) == 0 {
		return nil, fmt.Errorf("role table: no roles defined")
	}
	sorted := make([]Role, len(roles))
	copy(sorted, roles)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Rank < sorted[j].Rank })
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Rank == sorted[i-1].Rank {
			return nil, fmt.Errorf("role table: duplicate rank %d", sorted[i].Rank)
		}
	}
	return &RoleTable{roles: sorted}, nil
}

// DefaultRoleTable mirrors the stock four-role layout.
func DefaultRoleTable() *RoleTable {
	rt, _ := NewRoleTable([]Role{
		{Rank: 0, Name: "GuildMaster", Caps: CapAll},
		{Rank: 1, Name: "Officer", Caps: CapInvite | CapKick | CapPromote | CapDemote | CapDeposit |
			CapWithdraw | CapOpenBank | CapSetHome | CapUseHome | CapAcceptAlly | CapDeclineAlly},
		{Rank: 2, Name: "Veteran", Caps: CapInvite | CapDeposit | CapOpenBank | CapUseHome},
		{Rank: 3, Name: "Initiate", Caps: CapDeposit | CapUseHome},
	})
	return rt
}

// Master returns the most senior role.
func (t *RoleTable) Master() Role { return t.roles[0] }

// Default returns the most junior role, assigned to new members.
func (t *RoleTable) Default() Role { return t.roles[len(t.roles)-1] }

// Roles returns a copy of the table ordered from most to least senior.
func (t *RoleTable) Roles() []Role {
	out := make([]Role, len(t.roles))
	copy(out, t.roles)
	return out
}

// Role looks up a rank.
func (t *RoleTable) Role(rank int) (Role, bool) {
	for _, r := range t.roles {
		if r.Rank == rank {
			return r, true
		}
	}
	return Role{}, false
}

// Capabilities returns the capability set of rank; unknown ranks have none.
func (t *RoleTable) Capabilities(rank int) Capability {
	r, ok := t.Role(rank)
	if !ok {
		return CapNone
	}
	return r.Caps
}

// Can reports whether m's role grants want.
func (t *RoleTable) Can(m Member, want Capability) bool {
	return t.Capabilities(m.Rank).Has(want)
}

// IsMaster reports whether rank is the master rank.
func (t *RoleTable) IsMaster(rank int) bool {
	return rank == t.Master().Rank
}

// Senior reports whether rank a is strictly senior to rank b.
func Senior(a, b int) bool { return a < b }

// Next returns the rank adjacent to rank in the given direction (-1 senior, +1 junior).
func (t *RoleTable) Next(rank, dir int) (Role, bool) {
	for i, r := range t.roles {
		if r.Rank != rank {
			continue
		}
		j := i + dir
		if j < 0 || j >= len(t.roles) {
			return Role{}, false
		}
		return t.roles[j], true
	}
	return Role{}, false
}
