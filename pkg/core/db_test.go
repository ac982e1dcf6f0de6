package core

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"nexumdb/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv(config.CacheFileEnv, "")
	cfg := config.Default()
	cfg.Storage.Path = t.TempDir()
	cfg.Policy.Epsilon = 0
	cfg.Policy.Seed = 1
	return cfg
}

func TestDBPersistsDataCacheAndPolicy(t *testing.T) {
	cfg := testConfig(t)

	db, err := Open(cfg, nil)
	require.NoError(t, err)
	_, err = db.Query("CREATE TABLE users (name TEXT, age INTEGER)")
	require.NoError(t, err)
	_, err = db.Query("INSERT INTO users VALUES ('Alice', 30), ('Bob', 25)")
	require.NoError(t, err)
	res, err := db.Query("SELECT name FROM users WHERE age > 26")
	require.NoError(t, err)
	assert.False(t, res.CacheHit)
	require.NoError(t, db.Close())

	_, err = os.Stat(filepath.Join(cfg.Storage.Path, "semantic_cache.db"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(cfg.Storage.Path, "policy.db"))
	require.NoError(t, err)

	db, err = Open(cfg, nil)
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, 1, db.Cache().Len())
	assert.Equal(t, 1, db.Policy().Len())
	res, err = db.Query("SELECT name FROM users WHERE age > 26")
	require.NoError(t, err)
	assert.True(t, res.CacheHit)
	assert.Equal(t, [][]interface{}{{"Alice"}}, res.NativeRows())

	tables, err := db.Tables()
	require.NoError(t, err)
	assert.Equal(t, []string{"users"}, tables)
}

func TestDBCacheFileOverride(t *testing.T) {
	cfg := testConfig(t)
	override := filepath.Join(t.TempDir(), "elsewhere.db")
	t.Setenv(config.CacheFileEnv, override)

	db, err := Open(cfg, nil)
	require.NoError(t, err)
	_, err = db.Query("CREATE TABLE t (id INTEGER)")
	require.NoError(t, err)
	_, err = db.Query("SELECT id FROM t")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = os.Stat(override)
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(cfg.Storage.Path, "semantic_cache.db"))
	assert.True(t, os.IsNotExist(err))
}

func TestDBInMemory(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.InMemory = true

	db, err := Open(cfg, nil)
	require.NoError(t, err)
	_, err = db.Query("CREATE TABLE t (id INTEGER)")
	require.NoError(t, err)
	_, err = db.Query("SELECT id FROM t")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	entries, err := os.ReadDir(cfg.Storage.Path)
	require.NoError(t, err)
	assert.Empty(t, entries, "an in-memory database writes no files")

	_, err = db.Query("SELECT id FROM t")
	assert.Error(t, err)
	assert.NoError(t, db.Close())
}

func TestDBClearCache(t *testing.T) {
	cfg := testConfig(t)
	db, err := Open(cfg, nil)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Query("CREATE TABLE t (id INTEGER)")
	require.NoError(t, err)
	_, err = db.Query("SELECT id FROM t")
	require.NoError(t, err)
	require.NoError(t, db.SaveCache())
	require.Equal(t, 1, db.Cache().Len())

	require.NoError(t, db.ClearCache())
	assert.Equal(t, 0, db.Cache().Len())
	_, err = os.Stat(filepath.Join(cfg.Storage.Path, "semantic_cache.db"))
	assert.True(t, os.IsNotExist(err))

	stats, ok := db.Executor().CacheStats()
	require.True(t, ok)
	assert.Equal(t, 0, stats.TotalEntries)
}

func TestDBSerializesStatements(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.InMemory = true
	db, err := Open(cfg, nil)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Query("CREATE TABLE hits (n INTEGER)")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if _, err := db.Query("INSERT INTO hits VALUES (1)"); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	res, err := db.Query("SELECT n FROM hits")
	require.NoError(t, err)
	assert.Len(t, res.Rows, 80)
}
