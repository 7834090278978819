// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"testing"

	"github.com/kasuganosora/guilds/server/cache"
	"github.com/kasuganosora/guilds/server/config"
	dbadapter "github.com/kasuganosora/guilds/server/db"
	"github.com/kasuganosora/guilds/server/model"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// SetupTestDB opens a private in-memory sqlite database and runs AutoMigrate.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := dbadapter.Open(config.DatabaseConfig{Mode: dbadapter.ModeMemory})
	require.NoError(t, err, "SetupTestDB: Open")
	require.NoError(t, model.AutoMigrate(db), "SetupTestDB: AutoMigrate")
	t.Cleanup(func() { _ = dbadapter.Close(db) })
	return db
}

// SetupTestCache creates the in-process cache and pub/sub (no Redis required).
func SetupTestCache(t *testing.T) (cache.Cache, cache.PubSub) {
	t.Helper()
	c, ps, err := cache.Open(cache.CacheConfig{})
	require.NoError(t, err, "SetupTestCache: Open")
	t.Cleanup(func() {
		_ = c.Close()
		_ = ps.Close()
	})
	return c, ps
}
