// Package sqlstore keeps guilds in a gorm database (sqlite or mysql).
package sqlstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/kasuganosora/guilds/server/guild"
	"github.com/kasuganosora/guilds/server/model"
	"github.com/kasuganosora/guilds/server/storage"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Store is a storage.Backend over gorm.
type Store struct {
	db *gorm.DB

	sideMu  sync.Mutex
	sideRev uint64
	wrote   bool
}

// Open migrates the guild tables. The caller owns db.
func Open(db *gorm.DB) (*Store, error) {
	if err := model.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate guild tables: %w", err)
	}
	return &Store{db: db}, nil
}

func toRecord(g *guild.Guild) (*model.GuildRecord, error) {
	rec := &model.GuildRecord{
		ID:        g.ID,
		Name:      g.Name,
		Prefix:    g.Prefix,
		Status:    string(g.Status),
		Tier:      g.Tier,
		Bank:      g.Bank,
		Invites:   datatypes.JSONSlice[string](append([]string{}, g.Invites...)),
		CreatedAt: g.CreatedAt,
	}
	if g.Home != nil {
		home, err := sonic.Marshal(g.Home)
		if err != nil {
			return nil, fmt.Errorf("encode home: %w", err)
		}
		rec.Home = datatypes.JSON(home)
	}
	for i, m := range g.Members {
		rec.Members = append(rec.Members, model.MemberRecord{
			GuildID:  g.ID,
			PlayerID: m.PlayerID,
			Rank:     m.Rank,
			Position: i,
			JoinedAt: m.JoinedAt,
		})
	}
	return rec, nil
}

func fromRecord(rec *model.GuildRecord) (*guild.Guild, error) {
	g := &guild.Guild{
		ID:        rec.ID,
		Name:      rec.Name,
		Prefix:    rec.Prefix,
		Status:    guild.Status(rec.Status),
		Tier:      rec.Tier,
		Bank:      rec.Bank,
		CreatedAt: rec.CreatedAt.UTC(),
		Members:   []guild.Member{},
		Invites:   append([]string{}, rec.Invites...),
	}
	if len(rec.Home) > 0 && string(rec.Home) != "null" {
		var loc guild.Location
		if err := sonic.Unmarshal(rec.Home, &loc); err != nil {
			return nil, fmt.Errorf("decode home of %s: %w", rec.ID, err)
		}
		g.Home = &loc
	}
	for _, m := range rec.Members {
		g.Members = append(g.Members, guild.Member{PlayerID: m.PlayerID, Rank: m.Rank, JoinedAt: m.JoinedAt.UTC()})
	}
	return g, nil
}

func (s *Store) Load(ctx context.Context) ([]*guild.Guild, guild.SideMaps, error) {
	side := guild.NewSideMaps()
	var recs []model.GuildRecord
	err := s.db.WithContext(ctx).
		Preload("Members", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Order("id").
		Find(&recs).Error
	if err != nil {
		return nil, side, fmt.Errorf("load guilds: %w", err)
	}
	guilds := make([]*guild.Guild, 0, len(recs))
	for i := range recs {
		g, err := fromRecord(&recs[i])
		if err != nil {
			return nil, side, err
		}
		guilds = append(guilds, g)
	}

	var entries []model.SideMapRecord
	if err := s.db.WithContext(ctx).Find(&entries).Error; err != nil {
		return nil, side, fmt.Errorf("load side maps: %w", err)
	}
	for _, e := range entries {
		side.Banks[e.Name] = e.Bank
		side.Tiers[e.Name] = e.Tier
		side.Homes[e.Name] = e.Home
	}
	return guilds, side, nil
}

func (s *Store) WriteGuild(ctx context.Context, g *guild.Guild) error {
	rec, err := toRecord(g)
	if err != nil {
		return err
	}
	members := rec.Members
	rec.Members = nil
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(rec).Error; err != nil {
			return fmt.Errorf("save guild %s: %w", g.ID, err)
		}
		if err := tx.Where("guild_id = ?", g.ID).Delete(&model.MemberRecord{}).Error; err != nil {
			return fmt.Errorf("clear members of %s: %w", g.ID, err)
		}
		if len(members) > 0 {
			if err := tx.Create(&members).Error; err != nil {
				return fmt.Errorf("save members of %s: %w", g.ID, err)
			}
		}
		return nil
	})
}

func (s *Store) DeleteGuild(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("guild_id = ?", id).Delete(&model.MemberRecord{}).Error; err != nil {
			return fmt.Errorf("delete members of %s: %w", id, err)
		}
		if err := tx.Where("id = ?", id).Delete(&model.GuildRecord{}).Error; err != nil {
			return fmt.Errorf("delete guild %s: %w", id, err)
		}
		return nil
	})
}

// WriteSideMaps replaces the side-map table unless a newer snapshot has been written.
func (s *Store) WriteSideMaps(ctx context.Context, snap storage.Snapshot) error {
	s.sideMu.Lock()
	defer s.sideMu.Unlock()
	if s.wrote && snap.Rev < s.sideRev {
		return nil
	}
	names := map[string]struct{}{}
	for k := range snap.Maps.Banks {
		names[k] = struct{}{}
	}
	for k := range snap.Maps.Tiers {
		names[k] = struct{}{}
	}
	for k := range snap.Maps.Homes {
		names[k] = struct{}{}
	}
	rows := make([]model.SideMapRecord, 0, len(names))
	for name := range names {
		rows = append(rows, model.SideMapRecord{
			Name: name,
			Bank: snap.Maps.Banks[name],
			Tier: snap.Maps.Tiers[name],
			Home: snap.Maps.Homes[name],
		})
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&model.SideMapRecord{}).Error; err != nil {
			return fmt.Errorf("clear side maps: %w", err)
		}
		if len(rows) > 0 {
			if err := tx.CreateInBatches(&rows, 200).Error; err != nil {
				return fmt.Errorf("save side maps: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.sideRev = snap.Rev
	s.wrote = true
	return nil
}

// Close leaves the database open; it is shared with the audit trail.
func (s *Store) Close() error { return nil }
