package lang

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kasuganosora/guilds/server/guild"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCoversErrorKinds(t *testing.T) {
	c := Default()
	assert.Equal(t, Fallback, c.Name())
	for k := guild.KindUnknown; k <= guild.KindConfirmationExpired; k++ {
		assert.True(t, c.Has(k.MessageKey()), k.MessageKey())
	}
}

func TestRender(t *testing.T) {
	c := Default()
	got := c.Render("create.success", Vars{"guild": "Knights", "prefix": "[KNT]"})
	assert.Equal(t, "Created guild Knights with prefix [KNT].", got)
	assert.Equal(t, "no.such.key", c.Render("no.such.key", nil))
	assert.Equal(t, "You are not in a guild.", c.Render("error.not-in-guild", nil))
}

func TestLoadOverrides(t *testing.T) {
	dir := t.TempDir()
	data := "error:\n  not-in-guild: \"Du bist in keiner Gilde.\"\ncreate.success: \"Gilde {guild} erstellt.\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "german.yml"), []byte(data), 0o644))

	c, err := Load(dir, "german")
	require.NoError(t, err)
	assert.Equal(t, "german", c.Name())
	assert.Equal(t, "Du bist in keiner Gilde.", c.Render("error.not-in-guild", nil))
	assert.Equal(t, "Gilde Knights erstellt.", c.Render("create.success", Vars{"guild": "Knights"}))
	// untranslated keys fall back to english
	assert.Equal(t, "You are already in a guild.", c.Render("error.already-in-guild", nil))
}

func TestLoadMissingFile(t *testing.T) {
	c, err := Load(t.TempDir(), "klingon")
	require.NoError(t, err)
	assert.True(t, c.Has("create.success"))
}

func TestLoadMalformed(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yml"), []byte("key: [unclosed"), 0o644))
	_, err := Load(dir, "bad")
	assert.Error(t, err)
}
