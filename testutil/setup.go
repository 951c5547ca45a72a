package testutil

import (
	"testing"

	"github.com/kasuganosora/eventvm/cache"
	dbsqlite "github.com/kasuganosora/eventvm/db/sqlite"
	"github.com/kasuganosora/eventvm/model"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SetupTestDB creates a private in-memory SQLite DB and runs AutoMigrate.
// It requires no external services and is safe to use in parallel tests.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := dbsqlite.OpenMemory("")
	require.NoError(t, err, "SetupTestDB: Open")
	require.NoError(t, model.AutoMigrate(db), "SetupTestDB: AutoMigrate")
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// SetupTestCache creates LocalCache and LocalPubSub (no Redis required).
func SetupTestCache(t *testing.T) (cache.Cache, cache.PubSub) {
	t.Helper()
	cfg := cache.CacheConfig{} // empty RedisAddr → LocalCache
	c, err := cache.NewCache(cfg)
	require.NoError(t, err, "SetupTestCache: NewCache")
	ps, err := cache.NewPubSub(cfg)
	require.NoError(t, err, "SetupTestCache: NewPubSub")
	t.Cleanup(func() { _ = ps.Close() })
	return c, ps
}

// NopLogger returns a logger that discards everything.
func NopLogger() *zap.Logger { return zap.NewNop() }
