package filestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kasuganosora/guilds/server/guild"
	"github.com/kasuganosora/guilds/server/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample() *guild.Guild {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &guild.Guild{
		ID:        "2b0c7f8e-0000-4000-8000-000000000001",
		Name:      "Knights",
		Prefix:    "[KNT]",
		Status:    guild.StatusPublic,
		Tier:      2,
		Bank:      950,
		Home:      &guild.Location{World: "overworld", X: 1.5, Y: 64, Z: -3, Yaw: 90},
		CreatedAt: created,
		Members: []guild.Member{
			{PlayerID: "alice", Rank: 0, JoinedAt: created},
			{PlayerID: "bob", Rank: 3, JoinedAt: created.Add(time.Hour)},
		},
		Invites: []string{"carol"},
	}
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	g := sample()
	require.NoError(t, s.WriteGuild(ctx, g))
	side := guild.NewSideMaps()
	side.Banks["Knights"] = 950
	side.Tiers["Knights"] = 2
	side.Homes["Knights"] = g.HomeString()
	require.NoError(t, s.WriteSideMaps(ctx, storage.Snapshot{Rev: 1, Maps: side}))

	_, err = os.Stat(filepath.Join(dir, "guilds", g.ID+".json"))
	require.NoError(t, err)

	fresh, err := Open(dir)
	require.NoError(t, err)
	guilds, loaded, err := fresh.Load(ctx)
	require.NoError(t, err)
	require.Len(t, guilds, 1)
	assert.Equal(t, g, guilds[0])
	assert.Equal(t, side, loaded)
}

func TestEmptyGuildListsEncodeAsArrays(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	g := sample()
	g.Invites = nil
	g.Home = nil
	require.NoError(t, s.WriteGuild(context.Background(), g))

	data, err := os.ReadFile(s.GuildPath(g.ID))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"invites": []`)
	assert.Contains(t, string(data), `"home": null`)
}

func TestDeleteGuild(t *testing.T) {
	ctx := context.Background()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	g := sample()
	require.NoError(t, s.WriteGuild(ctx, g))
	require.NoError(t, s.DeleteGuild(ctx, g.ID))
	require.NoError(t, s.DeleteGuild(ctx, g.ID))

	guilds, _, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, guilds)
}

func TestStaleSideMapsIgnored(t *testing.T) {
	ctx := context.Background()
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	newer := guild.NewSideMaps()
	newer.Banks["Knights"] = 10
	older := guild.NewSideMaps()
	older.Banks["Knights"] = 5

	require.NoError(t, s.WriteSideMaps(ctx, storage.Snapshot{Rev: 7, Maps: newer}))
	require.NoError(t, s.WriteSideMaps(ctx, storage.Snapshot{Rev: 6, Maps: older}))

	_, side, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), side.Banks["Knights"])
}

func TestLoadSkipsTempFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "guilds", ".abc.json-1.tmp"), []byte("{"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "guilds", "notes.txt"), []byte("x"), 0o644))

	guilds, side, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, guilds)
	assert.Empty(t, side.Banks)
}

func TestLoadMalformed(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "guilds", "broken.json"), []byte("{"), 0o644))
	_, _, err = s.Load(context.Background())
	assert.Error(t, err)
}
