// Package command binds typed "guild <sub> <args...>" lines to guild operations.
package command

import (
	"github.com/kasuganosora/guilds/server/audit"
	"github.com/kasuganosora/guilds/server/guild"
)

// Status is the outcome of one dispatch.
type Status int

const (
	// OK means the visible effect completed.
	OK Status = iota
	// Pending means a confirmation was staged; the outcome follows confirm or cancel.
	Pending
	// Queued means the model changed and the acknowledgement follows the write.
	Queued
	// Rejected means a precondition failed and nothing changed.
	Rejected
	// Failed means the command broke unexpectedly.
	Failed
)

var statusNames = [...]string{"ok", "pending", "queued", "rejected", "failed"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "unknown"
}

// Result is what Dispatch returns. Key is the message key sent for a rejection or failure.
type Result struct {
	Status Status
	Key    string
	Err    error
}

// Requirement is the membership gate checked before a handler runs.
type Requirement int

const (
	RequireAny Requirement = iota
	RequireNoGuild
	RequireMember
	RequireCapability
	RequireAdmin
)

// Descriptor declares a sub-command.
type Descriptor struct {
	Name        string
	Aliases     []string
	Usage       string
	Description string
	Requirement Requirement
	Capability  guild.Capability
	MinArgs     int
	MaxArgs     int  // -1 for unbounded
	Console     bool // may run from the console
	Run         func(c *Call) Result
}

// Sources of a command line.
const (
	SourcePlayer  = "player"
	SourceConsole = "console"
	SourceHTTP    = "http"
)

// Sender is whoever typed the line. Reply, when set, receives the sender's
// messages; otherwise they go to the player's inbox.
type Sender struct {
	ID      string
	Name    string
	Admin   bool
	Source  string
	TraceID string
	Reply   func(text string)
}

// IsConsole reports whether the line came from the server console.
func (s Sender) IsConsole() bool { return s.Source == SourceConsole }

// Recorder receives one entry per dispatched command.
type Recorder interface {
	Record(audit.Entry)
}
