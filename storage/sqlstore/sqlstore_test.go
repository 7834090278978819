package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/kasuganosora/guilds/server/config"
	"github.com/kasuganosora/guilds/server/db"
	"github.com/kasuganosora/guilds/server/guild"
	"github.com/kasuganosora/guilds/server/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	gdb, err := db.Open(config.DatabaseConfig{Mode: db.ModeMemory})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(gdb) })
	s, err := Open(gdb)
	require.NoError(t, err)
	return s
}

func sample() *guild.Guild {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &guild.Guild{
		ID:        "g1",
		Name:      "Knights",
		Prefix:    "[KNT]",
		Status:    guild.StatusPrivate,
		Tier:      1,
		Bank:      100,
		Home:      &guild.Location{World: "overworld", X: 1, Y: 64, Z: 2},
		CreatedAt: created,
		Members: []guild.Member{
			{PlayerID: "alice", Rank: 0, JoinedAt: created},
			{PlayerID: "bob", Rank: 3, JoinedAt: created.Add(time.Minute)},
		},
		Invites: []string{"carol"},
	}
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	g := sample()
	require.NoError(t, s.WriteGuild(ctx, g))

	side := guild.NewSideMaps()
	side.Banks["Knights"] = 100
	side.Tiers["Knights"] = 1
	side.Homes["Knights"] = g.HomeString()
	require.NoError(t, s.WriteSideMaps(ctx, storage.Snapshot{Rev: 2, Maps: side}))

	guilds, loaded, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, guilds, 1)
	assert.Equal(t, g, guilds[0])
	assert.Equal(t, side, loaded)
}

func TestRewriteReplacesMembers(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	g := sample()
	require.NoError(t, s.WriteGuild(ctx, g))

	g.Members = g.Members[:1]
	g.Home = nil
	g.Invites = []string{}
	g.Name = "Paladins"
	require.NoError(t, s.WriteGuild(ctx, g))

	guilds, _, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, guilds, 1)
	assert.Equal(t, "Paladins", guilds[0].Name)
	assert.Len(t, guilds[0].Members, 1)
	assert.Nil(t, guilds[0].Home)
	assert.Empty(t, guilds[0].Invites)
}

func TestDeleteGuild(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.WriteGuild(ctx, sample()))
	require.NoError(t, s.DeleteGuild(ctx, "g1"))

	guilds, _, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, guilds)
}

func TestSideMapsReplacedAndStaleIgnored(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	first := guild.NewSideMaps()
	first.Banks["Knights"] = 5
	first.Tiers["Knights"] = 1
	first.Homes["Knights"] = ""
	require.NoError(t, s.WriteSideMaps(ctx, storage.Snapshot{Rev: 3, Maps: first}))

	second := guild.NewSideMaps()
	second.Banks["Paladins"] = 5
	second.Tiers["Paladins"] = 1
	second.Homes["Paladins"] = ""
	require.NoError(t, s.WriteSideMaps(ctx, storage.Snapshot{Rev: 4, Maps: second}))
	require.NoError(t, s.WriteSideMaps(ctx, storage.Snapshot{Rev: 1, Maps: first}))

	_, side, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, second, side)
}
