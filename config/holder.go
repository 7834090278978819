package config

import (
	"sync"

	"github.com/kasuganosora/guilds/server/guild"
)

// Snapshot pairs a configuration with the rules built from it.
type Snapshot struct {
	Config *Config
	Rules  *guild.Rules
}

// Holder owns the active configuration. Reload is transactional: the new file
// is fully parsed and validated before anything is swapped.
type Holder struct {
	mu   sync.RWMutex
	path string
	cur  Snapshot
}

// NewHolder loads path and returns a holder for it.
func NewHolder(path string) (*Holder, error) {
	snap, err := loadSnapshot(path)
	if err != nil {
		return nil, err
	}
	return &Holder{path: path, cur: snap}, nil
}

// NewStaticHolder wraps an already built configuration. Reload re-reads nothing
// and keeps cfg.
func NewStaticHolder(cfg *Config) (*Holder, error) {
	rules, err := cfg.Rules()
	if err != nil {
		return nil, err
	}
	return &Holder{cur: Snapshot{Config: cfg, Rules: rules}}, nil
}

func loadSnapshot(path string) (Snapshot, error) {
	cfg, err := Load(path)
	if err != nil {
		return Snapshot{}, err
	}
	rules, err := cfg.Rules()
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Config: cfg, Rules: rules}, nil
}

// Current returns the active snapshot.
func (h *Holder) Current() Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cur
}

// Path is the file the holder reloads from.
func (h *Holder) Path() string { return h.path }

// Prepare parses and validates the file without activating it.
func (h *Holder) Prepare() (Snapshot, error) {
	if h.path == "" {
		return h.Current(), nil
	}
	return loadSnapshot(h.path)
}

// Install activates a prepared snapshot.
func (h *Holder) Install(snap Snapshot) {
	h.mu.Lock()
	h.cur = snap
	h.mu.Unlock()
}

// Reload re-reads the file. On failure the previous snapshot stays active and
// the error is returned.
func (h *Holder) Reload() (Snapshot, error) {
	snap, err := h.Prepare()
	if err != nil {
		return h.Current(), err
	}
	h.Install(snap)
	return snap, nil
}
