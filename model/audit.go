package model

import (
	"time"

	"gorm.io/datatypes"
)

// AuditLog records one guild command execution.
type AuditLog struct {
	ID         int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	TraceID    string         `gorm:"index:idx_audit_trace;size:64;not null" json:"trace_id"`
	PlayerID   string         `gorm:"index:idx_audit_player;size:64" json:"player_id"`
	PlayerName string         `gorm:"size:32" json:"player_name"`
	GuildID    string         `gorm:"index:idx_audit_guild;size:36" json:"guild_id"`
	Source     string         `gorm:"size:16" json:"source"`
	Command    string         `gorm:"size:64;not null" json:"command"`
	Args       datatypes.JSON `json:"args"`
	Status     string         `gorm:"size:16" json:"status"`
	Error      string         `gorm:"type:text" json:"error"`
	DurationMs int            `json:"duration_ms"`
	CreatedAt  time.Time      `gorm:"index:idx_audit_created;autoCreateTime:milli" json:"created_at"`
}
