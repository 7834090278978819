// Package host holds the thin facades over the hosting server: player
// directory and world positions, economy, visual prefixes and the update probe.
package host

import (
	"strings"
	"sync"

	"github.com/kasuganosora/guilds/server/guild"
	"go.uber.org/zap"
)

const inboxSize = 100

// Player is an online player as reported by the host.
type Player struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`
	Admin       bool   `json:"admin,omitempty"`
}

type session struct {
	Player
	loc    *guild.Location
	inbox  []string
	notify func(text string)
}

// Directory is the registry of online players. It also stands in for the
// world adapter by tracking the last position the host reported.
type Directory struct {
	mu       sync.RWMutex
	sessions map[string]*session // player id → session
	logger   *zap.Logger
}

// NewDirectory creates an empty Directory.
func NewDirectory(logger *zap.Logger) *Directory {
	return &Directory{sessions: make(map[string]*session), logger: logger}
}

// Register adds p. A previous session with the same id is replaced and its
// undelivered messages are carried over.
func (d *Directory) Register(p Player) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := &session{Player: p}
	if old, ok := d.sessions[p.ID]; ok {
		s.inbox = old.inbox
		s.loc = old.loc
		s.notify = old.notify
		d.logger.Info("player session replaced", zap.String("player", p.ID))
	}
	d.sessions[p.ID] = s
	d.logger.Info("player registered", zap.String("player", p.ID), zap.String("name", p.Name))
}

// Unregister removes the player.
func (d *Directory) Unregister(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.sessions, id)
	d.logger.Info("player unregistered", zap.String("player", id))
}

// Get returns the online player with id.
func (d *Directory) Get(id string) (Player, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.sessions[id]
	if !ok {
		return Player{}, false
	}
	return s.Player, true
}

// ByName finds an online player by name (case-insensitive).
func (d *Directory) ByName(name string) (Player, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, s := range d.sessions {
		if strings.EqualFold(s.Name, name) {
			return s.Player, true
		}
	}
	return Player{}, false
}

// Resolve accepts either a player name or id.
func (d *Directory) Resolve(nameOrID string) (Player, bool) {
	if p, ok := d.ByName(nameOrID); ok {
		return p, true
	}
	return d.Get(nameOrID)
}

// NameOf returns the name of id, or id itself for offline players.
func (d *Directory) NameOf(id string) string {
	if p, ok := d.Get(id); ok {
		return p.Name
	}
	return id
}

// Count is the number of online players.
func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.sessions)
}

// OnMessage installs a push callback for id in addition to the inbox.
func (d *Directory) OnMessage(id string, fn func(text string)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.sessions[id]; ok {
		s.notify = fn
	}
}

// Send delivers text to an online player. Offline players drop the message.
func (d *Directory) Send(id, text string) bool {
	d.mu.Lock()
	s, ok := d.sessions[id]
	if !ok {
		d.mu.Unlock()
		return false
	}
	s.inbox = append(s.inbox, text)
	if len(s.inbox) > inboxSize {
		s.inbox = s.inbox[len(s.inbox)-inboxSize:]
	}
	notify := s.notify
	d.mu.Unlock()
	if notify != nil {
		notify(text)
	}
	return true
}

// Drain returns and clears the undelivered messages of id.
func (d *Directory) Drain(id string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sessions[id]
	if !ok {
		return nil
	}
	out := s.inbox
	s.inbox = nil
	return out
}

// ---- World ----

// World resolves and moves player positions.
type World interface {
	Location(player string) (guild.Location, bool)
	Teleport(player string, loc guild.Location) error
}

// SetLocation records the position reported by the host.
func (d *Directory) SetLocation(id string, loc guild.Location) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.sessions[id]; ok {
		s.loc = &loc
	}
}

// Location returns the last reported position of id.
func (d *Directory) Location(id string) (guild.Location, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.sessions[id]
	if !ok || s.loc == nil {
		return guild.Location{}, false
	}
	return *s.loc, true
}

// Teleport moves an online player and records the new position.
func (d *Directory) Teleport(id string, loc guild.Location) error {
	d.mu.Lock()
	s, ok := d.sessions[id]
	if ok {
		s.loc = &loc
	}
	d.mu.Unlock()
	if !ok {
		return guild.Errorf(guild.KindTargetNotFound, "%s is offline", id)
	}
	d.logger.Debug("player teleported", zap.String("player", id), zap.String("location", loc.String()))
	return nil
}
