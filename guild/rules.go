package guild

import (
	"fmt"
	"regexp"
	"sort"
	"unicode/utf8"
)

// Tier describes one guild level.
type Tier struct {
	Level      int
	Cost       int64 // economy cost to reach this level
	BankCap    int64
	MaxMembers int // 0 = unlimited
}

// Rules are the configuration-derived constraints the Manager enforces.
type Rules struct {
	Roles       *RoleTable
	Tiers       []Tier // ordered by Level, starting at 1
	NamePattern *regexp.Regexp
	NameMin     int
	NameMax     int
	PrefixMin   int
	PrefixMax   int

	// AutoDeleteEmpty removes a guild when its last member leaves; when false the
	// guild stays as a member-less ghost.
	AutoDeleteEmpty bool
	// TruncateOverCap clips balances above a reduced tier cap when rules are applied.
	TruncateOverCap bool
	// ResetSideMapsOnRemove keeps removed guild names in the side maps with
	// zero/initial values instead of dropping the keys.
	ResetSideMapsOnRemove bool
}

// DefaultRules returns a three-tier rule set with the default role table.
func DefaultRules() *Rules {
	return &Rules{
		Roles: DefaultRoleTable(),
		Tiers: []Tier{
			{Level: 1, Cost: 0, BankCap: 1000, MaxMembers: 10},
			{Level: 2, Cost: 1000, BankCap: 5000, MaxMembers: 20},
			{Level: 3, Cost: 5000, BankCap: 20000, MaxMembers: 40},
		},
		NamePattern:     regexp.MustCompile(`^[a-zA-Z0-9_]+$`),
		NameMin:         3,
		NameMax:         16,
		PrefixMin:       1,
		PrefixMax:       8,
		AutoDeleteEmpty: true,
	}
}

// Validate checks internal consistency.
func (r *Rules) Validate() error {
	if r.Roles == nil {
		return fmt.Errorf("rules: missing role table")
	}
	if len(r.Tiers) == 0 {
		return fmt.Errorf("rules: no tiers defined")
	}
	sort.Slice(r.Tiers, func(i, j int) bool { return r.Tiers[i].Level < r.Tiers[j].Level })
	for i, t := range r.Tiers {
		if t.Level != i+1 {
			return fmt.Errorf("rules: tiers must be numbered 1..n, found %d at position %d", t.Level, i+1)
		}
		if t.BankCap < 0 || t.Cost < 0 {
			return fmt.Errorf("rules: tier %d has negative cost or cap", t.Level)
		}
	}
	if r.NameMin < 1 || r.NameMax < r.NameMin {
		return fmt.Errorf("rules: bad name length bounds %d..%d", r.NameMin, r.NameMax)
	}
	if r.PrefixMin < 1 || r.PrefixMax < r.PrefixMin {
		return fmt.Errorf("rules: bad prefix length bounds %d..%d", r.PrefixMin, r.PrefixMax)
	}
	return nil
}

// Tier returns the definition of level.
func (r *Rules) Tier(level int) (Tier, bool) {
	if level < 1 || level > len(r.Tiers) {
		return Tier{}, false
	}
	return r.Tiers[level-1], true
}

// MaxTier is the highest configured level.
func (r *Rules) MaxTier() int { return len(r.Tiers) }

// BankCap returns the cap for level; unknown levels fall back to the highest tier.
func (r *Rules) BankCap(level int) int64 {
	if t, ok := r.Tier(level); ok {
		return t.BankCap
	}
	return r.Tiers[len(r.Tiers)-1].BankCap
}

func (r *Rules) checkName(name string) error {
	n := utf8.RuneCountInString(name)
	if n < r.NameMin || n > r.NameMax {
		return Errorf(KindInvalidName, "length %d outside %d..%d", n, r.NameMin, r.NameMax)
	}
	if r.NamePattern != nil && !r.NamePattern.MatchString(name) {
		return Errorf(KindInvalidName, "%q does not match %s", name, r.NamePattern)
	}
	return nil
}

func (r *Rules) checkPrefix(prefix string) error {
	n := utf8.RuneCountInString(prefix)
	if n < r.PrefixMin || n > r.PrefixMax {
		return Errorf(KindInvalidPrefix, "length %d outside %d..%d", n, r.PrefixMin, r.PrefixMax)
	}
	return nil
}
