// Package filestore keeps one JSON document per guild plus the banks, tiers
// and homes side documents keyed by guild name.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/kasuganosora/guilds/server/guild"
	"github.com/kasuganosora/guilds/server/storage"
)

const (
	guildsDir = "guilds"
	banksFile = "banks.json"
	tiersFile = "tiers.json"
	homesFile = "homes.json"
)

var codec = sonic.ConfigStd

// Store is a storage.Backend over a data directory.
type Store struct {
	dir string

	sideMu  sync.Mutex
	sideRev uint64
	wrote   bool
}

// Open prepares dir and its guilds subdirectory.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, guildsDir), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir is the data directory.
func (s *Store) Dir() string { return s.dir }

// GuildPath is the document path of guild id.
func (s *Store) GuildPath(id string) string {
	return filepath.Join(s.dir, guildsDir, id+".json")
}

func writeAtomic(path string, v any) error {
	data, err := codec.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("sync %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := codec.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return true, nil
}

// Load reads every guild document in id order and the three side documents.
func (s *Store) Load(_ context.Context) ([]*guild.Guild, guild.SideMaps, error) {
	side := guild.NewSideMaps()
	entries, err := os.ReadDir(filepath.Join(s.dir, guildsDir))
	if err != nil {
		return nil, side, fmt.Errorf("list guilds: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	guilds := make([]*guild.Guild, 0, len(names))
	for _, name := range names {
		var g guild.Guild
		if _, err := readJSON(filepath.Join(s.dir, guildsDir, name), &g); err != nil {
			return nil, side, err
		}
		if g.ID == "" {
			g.ID = strings.TrimSuffix(name, ".json")
		}
		guilds = append(guilds, &g)
	}

	if _, err := readJSON(filepath.Join(s.dir, banksFile), &side.Banks); err != nil {
		return nil, side, err
	}
	if _, err := readJSON(filepath.Join(s.dir, tiersFile), &side.Tiers); err != nil {
		return nil, side, err
	}
	if _, err := readJSON(filepath.Join(s.dir, homesFile), &side.Homes); err != nil {
		return nil, side, err
	}
	if side.Banks == nil {
		side.Banks = map[string]int64{}
	}
	if side.Tiers == nil {
		side.Tiers = map[string]int{}
	}
	if side.Homes == nil {
		side.Homes = map[string]string{}
	}
	return guilds, side, nil
}

func (s *Store) WriteGuild(_ context.Context, g *guild.Guild) error {
	doc := g.Clone()
	if doc.Members == nil {
		doc.Members = []guild.Member{}
	}
	if doc.Invites == nil {
		doc.Invites = []string{}
	}
	return writeAtomic(s.GuildPath(g.ID), doc)
}

// DeleteGuild removes the document of id. A missing document is not an error.
func (s *Store) DeleteGuild(_ context.Context, id string) error {
	err := os.Remove(s.GuildPath(id))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove guild %s: %w", id, err)
	}
	return nil
}

// WriteSideMaps rewrites the three side documents unless a newer snapshot
// has already been written.
func (s *Store) WriteSideMaps(_ context.Context, snap storage.Snapshot) error {
	s.sideMu.Lock()
	defer s.sideMu.Unlock()
	if s.wrote && snap.Rev < s.sideRev {
		return nil
	}
	if err := writeAtomic(filepath.Join(s.dir, banksFile), snap.Maps.Banks); err != nil {
		return err
	}
	if err := writeAtomic(filepath.Join(s.dir, tiersFile), snap.Maps.Tiers); err != nil {
		return err
	}
	if err := writeAtomic(filepath.Join(s.dir, homesFile), snap.Maps.Homes); err != nil {
		return err
	}
	s.sideRev = snap.Rev
	s.wrote = true
	return nil
}

func (s *Store) Close() error { return nil }
