package model

import (
	"time"

	"gorm.io/datatypes"
)

// GuildRecord is the row form of a guild. Name and prefix uniqueness is
// enforced by the model, not the schema, so renames in flight on different
// write lanes cannot collide.
type GuildRecord struct {
	ID        string                      `gorm:"primaryKey;size:36" json:"id"`
	Name      string                      `gorm:"index:idx_guild_name;size:64;not null" json:"name"`
	Prefix    string                      `gorm:"size:32;not null" json:"prefix"`
	Status    string                      `gorm:"size:16;not null;default:private" json:"status"`
	Tier      int                         `gorm:"not null;default:1" json:"tier"`
	Bank      int64                       `gorm:"not null;default:0" json:"bank"`
	Home      datatypes.JSON              `json:"home"`
	Invites   datatypes.JSONSlice[string] `json:"invites"`
	CreatedAt time.Time                   `json:"created"`
	UpdatedAt time.Time                   `gorm:"autoUpdateTime" json:"updated_at"`
	Members   []MemberRecord              `gorm:"foreignKey:GuildID;constraint:OnDelete:CASCADE" json:"members"`
}

func (GuildRecord) TableName() string { return "guilds" }

// MemberRecord is one membership. Position keeps join order.
type MemberRecord struct {
	GuildID  string    `gorm:"primaryKey;size:36" json:"guild_id"`
	PlayerID string    `gorm:"primaryKey;size:64;index:idx_member_player" json:"id"`
	Rank     int       `gorm:"not null" json:"role"`
	Position int       `gorm:"not null" json:"position"`
	JoinedAt time.Time `json:"joined"`
}

func (MemberRecord) TableName() string { return "guild_members" }

// SideMapRecord is one name-keyed entry of the banks, tiers and homes maps.
type SideMapRecord struct {
	Name string `gorm:"primaryKey;size:64" json:"name"`
	Bank int64  `json:"bank"`
	Tier int    `json:"tier"`
	Home string `gorm:"size:255" json:"home"`
}

func (SideMapRecord) TableName() string { return "guild_side_maps" }
