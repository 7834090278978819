package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kasuganosora/guilds/server/guild"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
lang: german
tablist-guilds: true
hooks:
  nametagedit: true
confirm-ttl-seconds: 45
name:
  regex: "^[a-z]+$"
  length: {min: 4, max: 12}
tiers:
  "1": {cost: 0, bank-cap: 500, max-members: 5}
  "2": {cost: 250, bank-cap: 2500, max-members: 15}
roles:
  "0": {name: Leader, permissions: ["*"]}
  "5": {name: Member, permissions: [deposit, use-home]}
guild:
  auto-delete-empty: false
  over-cap-policy: truncate
storage:
  mode: sqlite
  side-maps-on-delete: reset
commands:
  description:
    create: "Found a guild"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "english", cfg.Lang)
	assert.Equal(t, 30*time.Second, cfg.ConfirmTTL())
	assert.Equal(t, "file", cfg.Storage.Mode)
	assert.Len(t, cfg.Tiers, 3)
	assert.Len(t, cfg.Roles, 4)

	rules, err := cfg.Rules()
	require.NoError(t, err)
	assert.Equal(t, "GuildMaster", rules.Roles.Master().Name)
	assert.True(t, rules.AutoDeleteEmpty)
	assert.False(t, rules.TruncateOverCap)
}

func TestLoadFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "german", cfg.Lang)
	assert.True(t, cfg.TablistGuilds)
	assert.True(t, cfg.Hook("nametagedit"))
	assert.False(t, cfg.Hook("other"))
	assert.Equal(t, 45*time.Second, cfg.ConfirmTTL())
	assert.Equal(t, "Found a guild", cfg.Commands.Description["create"])
	assert.Equal(t, 5*time.Second, cfg.ConfirmSweepInterval, "unset keys keep their defaults")

	rules, err := cfg.Rules()
	require.NoError(t, err)
	assert.Equal(t, 2, rules.MaxTier(), "file tables replace the stock ones")
	assert.Equal(t, int64(500), rules.BankCap(1))
	assert.Equal(t, "Member", rules.Roles.Default().Name)
	assert.True(t, rules.Roles.Capabilities(5).Has(guild.CapUseHome))
	assert.False(t, rules.Roles.Capabilities(5).Has(guild.CapInvite))
	assert.False(t, rules.AutoDeleteEmpty)
	assert.True(t, rules.TruncateOverCap)
	assert.True(t, rules.ResetSideMapsOnRemove)
	assert.Equal(t, 4, rules.NameMin)
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"regex":      "name:\n  regex: \"[\"\n",
		"permission": "roles:\n  \"0\": {name: A, permissions: [fly]}\n",
		"rank":       "roles:\n  boss: {name: A}\n",
		"tier gap":   "tiers:\n  \"1\": {bank-cap: 1}\n  \"3\": {bank-cap: 2}\n",
		"storage":    "storage:\n  mode: floppy\n",
		"policy":     "guild:\n  over-cap-policy: maybe\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestHolderReloadIsTransactional(t *testing.T) {
	path := writeConfig(t, "confirm-ttl-seconds: 10\n")
	h, err := NewHolder(path)
	require.NoError(t, err)
	assert.Equal(t, 10, h.Current().Config.ConfirmTTLSeconds)

	require.NoError(t, os.WriteFile(path, []byte("confirm-ttl-seconds: 20\n"), 0o644))
	snap, err := h.Reload()
	require.NoError(t, err)
	assert.Equal(t, 20, snap.Config.ConfirmTTLSeconds)

	require.NoError(t, os.WriteFile(path, []byte("name:\n  regex: \"(\"\n"), 0o644))
	snap, err = h.Reload()
	require.Error(t, err)
	assert.Equal(t, 20, snap.Config.ConfirmTTLSeconds)
	assert.Equal(t, 20, h.Current().Config.ConfirmTTLSeconds, "failed reload keeps the previous config")
}

func TestStaticHolder(t *testing.T) {
	h, err := NewStaticHolder(Defaults())
	require.NoError(t, err)
	snap, err := h.Reload()
	require.NoError(t, err)
	assert.NotNil(t, snap.Rules)
}
