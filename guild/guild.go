package guild

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Status is a guild's visibility.
type Status string

const (
	StatusPublic  Status = "public"
	StatusPrivate Status = "private"
)

// ParseStatus accepts "public" or "private" in any case.
func ParseStatus(s string) (Status, bool) {
	switch Status(strings.ToLower(s)) {
	case StatusPublic:
		return StatusPublic, true
	case StatusPrivate:
		return StatusPrivate, true
	}
	return "", false
}

// Location is an opaque world position used for the guild home.
type Location struct {
	World string  `json:"world"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	Yaw   float32 `json:"yaw"`
	Pitch float32 `json:"pitch"`
}

// String encodes the location in the homes side-map format world:x:y:z:yaw:pitch.
func (l Location) String() string {
	return strings.Join([]string{
		l.World,
		strconv.FormatFloat(l.X, 'f', -1, 64),
		strconv.FormatFloat(l.Y, 'f', -1, 64),
		strconv.FormatFloat(l.Z, 'f', -1, 64),
		strconv.FormatFloat(float64(l.Yaw), 'f', -1, 32),
		strconv.FormatFloat(float64(l.Pitch), 'f', -1, 32),
	}, ":")
}

// ParseLocation decodes the side-map format produced by Location.String.
func ParseLocation(s string) (Location, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 6 {
		return Location{}, fmt.Errorf("location %q: want 6 fields, got %d", s, len(parts))
	}
	var f [5]float64
	for i := range f {
		v, err := strconv.ParseFloat(parts[i+1], 64)
		if err != nil {
			return Location{}, fmt.Errorf("location %q: %w", s, err)
		}
		f[i] = v
	}
	return Location{World: parts[0], X: f[0], Y: f[1], Z: f[2], Yaw: float32(f[3]), Pitch: float32(f[4])}, nil
}

// Member links a player to a role inside a guild.
type Member struct {
	PlayerID string    `json:"id"`
	Rank     int       `json:"role"`
	JoinedAt time.Time `json:"joined"`
}

// Guild is the in-memory guild entity. Values handed out by the Manager are
// private copies; mutate only through Manager operations.
type Guild struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Prefix    string    `json:"prefix"`
	Status    Status    `json:"status"`
	Tier      int       `json:"tier"`
	Bank      int64     `json:"bank"`
	Home      *Location `json:"home"`
	CreatedAt time.Time `json:"created"`
	Members   []Member  `json:"members"`
	Invites   []string  `json:"invites"`

	rev uint64
}

// Clone returns a deep copy.
func (g *Guild) Clone() *Guild {
	if g == nil {
		return nil
	}
	c := *g
	if g.Home != nil {
		h := *g.Home
		c.Home = &h
	}
	c.Members = append([]Member(nil), g.Members...)
	c.Invites = append([]string(nil), g.Invites...)
	return &c
}

// Revision is the manager-assigned mutation counter of this copy.
func (g *Guild) Revision() uint64 { return g.rev }

// Member returns the membership of playerID.
func (g *Guild) Member(playerID string) (Member, bool) {
	for _, m := range g.Members {
		if m.PlayerID == playerID {
			return m, true
		}
	}
	return Member{}, false
}

// IsInvited reports whether playerID holds a pending invite.
func (g *Guild) IsInvited(playerID string) bool {
	for _, id := range g.Invites {
		if id == playerID {
			return true
		}
	}
	return false
}

// MasterID returns the player holding masterRank, or "" for a ghost guild.
func (g *Guild) MasterID(masterRank int) string {
	for _, m := range g.Members {
		if m.Rank == masterRank {
			return m.PlayerID
		}
	}
	return ""
}

// MemberIDs returns member player ids in join order.
func (g *Guild) MemberIDs() []string {
	out := make([]string, len(g.Members))
	for i, m := range g.Members {
		out[i] = m.PlayerID
	}
	return out
}

func (g *Guild) removeMember(playerID string) bool {
	for i, m := range g.Members {
		if m.PlayerID == playerID {
			g.Members = append(g.Members[:i], g.Members[i+1:]...)
			return true
		}
	}
	return false
}

func (g *Guild) removeInvite(playerID string) bool {
	for i, id := range g.Invites {
		if id == playerID {
			g.Invites = append(g.Invites[:i], g.Invites[i+1:]...)
			return true
		}
	}
	return false
}

func (g *Guild) setRank(playerID string, rank int) {
	for i := range g.Members {
		if g.Members[i].PlayerID == playerID {
			g.Members[i].Rank = rank
			return
		}
	}
}

// HomeString returns the homes side-map value ("" when unset).
func (g *Guild) HomeString() string {
	if g.Home == nil {
		return ""
	}
	return g.Home.String()
}
