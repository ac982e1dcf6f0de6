package cache

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"nexumdb/pkg/common"
	"nexumdb/pkg/errors"
	"nexumdb/pkg/sql"
	"nexumdb/pkg/storage"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fingerprint(t *testing.T, query string) Fingerprint {
	t.Helper()
	stmt, err := sql.Parse(query)
	require.NoError(t, err)
	return FingerprintOf(stmt.(*sql.Select))
}

func resultOf(names ...string) *common.Result {
	r := &common.Result{Kind: common.ResultSelected, Table: "users", Columns: []string{"name"}}
	for _, n := range names {
		r.Rows = append(r.Rows, common.Row{common.TextValue(n)})
	}
	r.Affected = len(r.Rows)
	return r
}

func newCache(t *testing.T, path string) *SemanticCache {
	t.Helper()
	return New(Options{Path: path})
}

func TestFingerprintCoversEveryClause(t *testing.T) {
	base := fingerprint(t, "SELECT name FROM users WHERE id = 1 ORDER BY name LIMIT 5")
	same := fingerprint(t, "select  NAME from Users where ID = 1 order by name asc limit 5")
	assert.Equal(t, base.Key(), same.Key())

	variants := []string{
		"SELECT id FROM users WHERE id = 1 ORDER BY name LIMIT 5",
		"SELECT name AS n FROM users WHERE id = 1 ORDER BY name LIMIT 5",
		"SELECT name FROM accounts WHERE id = 1 ORDER BY name LIMIT 5",
		"SELECT name FROM users WHERE id = 2 ORDER BY name LIMIT 5",
		"SELECT name FROM users WHERE id = 1 ORDER BY name DESC LIMIT 5",
		"SELECT name FROM users WHERE id = 1 LIMIT 5",
		"SELECT name FROM users WHERE id = 1 ORDER BY name LIMIT 6",
		"SELECT name FROM users WHERE id = 1 ORDER BY name",
		"SELECT name FROM users ORDER BY name LIMIT 5",
	}
	for _, v := range variants {
		assert.NotEqual(t, base.Key(), fingerprint(t, v).Key(), v)
	}

	literal := fingerprint(t, "SELECT name FROM users WHERE id = 2 ORDER BY name LIMIT 5")
	assert.Equal(t, base.StructuralKey(), literal.StructuralKey())
}

func TestExactHitReturnsCopy(t *testing.T) {
	c := newCache(t, "")
	fp := fingerprint(t, "SELECT name FROM users WHERE id = 1")

	_, ok := c.Lookup(fp, "SELECT name FROM users WHERE id = 1")
	assert.False(t, ok)

	require.NoError(t, c.Insert(fp, "SELECT name FROM users WHERE id = 1", resultOf("Alice")))
	got, ok := c.Lookup(fp, "SELECT name FROM users WHERE id = 1")
	require.True(t, ok)
	assert.True(t, got.CacheHit)
	assert.False(t, got.SemanticHit)
	assert.Equal(t, "Alice", got.Rows[0][0].Text)

	got.Rows[0][0] = common.TextValue("Mallory")
	again, ok := c.Lookup(fp, "")
	require.True(t, ok)
	assert.Equal(t, "Alice", again.Rows[0][0].Text)

	entries := c.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, uint64(2), entries[0].HitCount)

	stats := c.Stats()
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestSemanticHitRequiresSameStructure(t *testing.T) {
	c := newCache(t, "")
	stored := "SELECT name FROM users WHERE name = 'Alice'"
	require.NoError(t, c.Insert(fingerprint(t, stored), stored, resultOf("Alice")))

	// literal differs only by case: same vector, different exact key
	variant := "select name from users where name = 'ALICE'"
	got, ok := c.Lookup(fingerprint(t, variant), variant)
	require.True(t, ok)
	assert.True(t, got.SemanticHit)
	assert.Equal(t, uint64(1), c.Stats().SemanticHits)

	// identical text, different structure: never a hit
	limited := fingerprint(t, "SELECT name FROM users WHERE name = 'Alice' LIMIT 1")
	_, ok = c.Lookup(limited, stored)
	assert.False(t, ok)

	// same structure, text far below the threshold
	far := "SELECT name FROM users WHERE name = 'Zebediah Montgomery-Smythe of the Northern Provinces'"
	_, ok = c.Lookup(fingerprint(t, far), far)
	assert.False(t, ok)
}

func TestSemanticTieGoesToMostRecent(t *testing.T) {
	c := newCache(t, "")
	first := "SELECT name FROM users WHERE name = 'Alice'"
	second := "SELECT name FROM users WHERE name = 'ALICE'"
	require.NoError(t, c.Insert(fingerprint(t, first), first, resultOf("first")))
	require.NoError(t, c.Insert(fingerprint(t, second), second, resultOf("second")))

	probe := "SELECT name FROM users WHERE name = 'alice'"
	got, ok := c.Lookup(fingerprint(t, probe), probe)
	require.True(t, ok)
	assert.Equal(t, "second", got.Rows[0][0].Text)
}

func TestInvalidateRemovesTableEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	c := newCache(t, path)
	for _, q := range []string{
		"SELECT * FROM users",
		"SELECT name FROM users WHERE id = 1",
		"SELECT * FROM accounts",
	} {
		require.NoError(t, c.Insert(fingerprint(t, q), q, resultOf("x")))
	}

	n, err := c.Invalidate("USERS")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, c.Len())

	_, ok := c.Lookup(fingerprint(t, "SELECT * FROM users"), "SELECT * FROM users")
	assert.False(t, ok)

	// the persisted file agrees
	assert.Equal(t, 1, newCache(t, path).Len())

	n, err = c.Invalidate("nothing")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestPersistRestoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "semantic_cache.db")
	c := newCache(t, path)

	queries := map[string]string{
		"SELECT name FROM users WHERE id = 1":              "Alice",
		"SELECT name FROM users ORDER BY name LIMIT 2":     "Bob",
		"SELECT * FROM accounts WHERE balance > 10.5":      "Carol",
		"SELECT name AS n FROM users WHERE name LIKE 'A%'": "Dave",
	}
	for q, name := range queries {
		require.NoError(t, c.Insert(fingerprint(t, q), q, resultOf(name)))
	}

	restored := newCache(t, path)
	require.Equal(t, len(queries), restored.Len())
	for q, name := range queries {
		got, ok := restored.Lookup(fingerprint(t, q), q)
		require.True(t, ok, q)
		assert.False(t, got.SemanticHit, q)
		assert.Equal(t, resultOf(name).Rows, got.Rows, q)
	}

	// sequence numbers keep growing after a restore
	require.NoError(t, restored.Insert(fingerprint(t, "SELECT * FROM t"), "SELECT * FROM t", resultOf("z")))
	entries := restored.Entries()
	assert.Equal(t, uint64(len(queries)+1), entries[len(entries)-1].Seq)
}

func TestRestoreFromBackupAndCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	c := newCache(t, path)
	q := "SELECT * FROM users"
	require.NoError(t, c.Insert(fingerprint(t, q), q, resultOf("Alice")))

	require.NoError(t, os.WriteFile(path, []byte("not a snapshot"), 0644))
	fromBackup := newCache(t, path)
	assert.Equal(t, 1, fromBackup.Len())

	require.NoError(t, os.WriteFile(storage.BackupPath(path), []byte("also broken"), 0644))
	empty := newCache(t, path)
	assert.Equal(t, 0, empty.Len())

	err := empty.Restore()
	assert.True(t, errors.IsCode(err, errors.CacheCorruption))
}

func TestOptimizeEvictsColdestOldestFirst(t *testing.T) {
	c := newCache(t, "")
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	c.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	qs := []string{
		"SELECT * FROM a", // oldest, cold
		"SELECT * FROM b", // hot
		"SELECT * FROM c", // cold
		"SELECT * FROM d", // newest, cold
	}
	for _, q := range qs {
		require.NoError(t, c.Insert(fingerprint(t, q), q, resultOf(q)))
	}
	_, ok := c.Lookup(fingerprint(t, qs[1]), qs[1])
	require.True(t, ok)

	n, err := c.Optimize(2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var left []string
	for _, e := range c.Entries() {
		left = append(left, e.Text)
	}
	assert.Equal(t, []string{qs[1], qs[3]}, left)

	n, err = c.Optimize(10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestInsertEnforcesCeiling(t *testing.T) {
	c := New(Options{MaxEntries: 2})
	for _, q := range []string{"SELECT * FROM a", "SELECT * FROM b", "SELECT * FROM c"} {
		require.NoError(t, c.Insert(fingerprint(t, q), q, resultOf(q)))
	}
	assert.Equal(t, 2, c.Len())
	_, ok := c.Lookup(fingerprint(t, "SELECT * FROM c"), "SELECT * FROM c")
	assert.True(t, ok, "newest entry must survive")
}

func TestClearRemovesFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	c := newCache(t, path)
	require.NoError(t, c.Insert(fingerprint(t, "SELECT * FROM a"), "SELECT * FROM a", resultOf("x")))
	assert.Greater(t, c.Stats().CacheSizeBytes, int64(0))

	require.NoError(t, c.Clear())
	assert.Equal(t, 0, c.Len())
	for _, p := range []string{path, storage.BackupPath(path)} {
		_, err := os.Stat(p)
		assert.True(t, os.IsNotExist(err), p)
	}
	assert.Equal(t, int64(0), c.Stats().CacheSizeBytes)
}

func TestExportJSON(t *testing.T) {
	dir := t.TempDir()
	c := newCache(t, filepath.Join(dir, "cache.db"))
	q := "SELECT name FROM users WHERE id = 1"
	require.NoError(t, c.Insert(fingerprint(t, q), q, resultOf("Alice")))

	out := filepath.Join(dir, "cache.json")
	require.NoError(t, c.ExportJSON(out))
	data, err := os.ReadFile(out)
	require.NoError(t, err)

	var doc struct {
		Stats   Stats `json:"stats"`
		Entries []struct {
			Query string          `json:"query"`
			Rows  [][]interface{} `json:"rows"`
		} `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, 1, doc.Stats.TotalEntries)
	require.Len(t, doc.Entries, 1)
	assert.Equal(t, q, doc.Entries[0].Query)
	assert.Equal(t, "Alice", doc.Entries[0].Rows[0][0])
	assert.True(t, strings.HasSuffix(doc.Stats.CacheFile, "cache.db"))
}

func TestExportKeepsOperatorsReadable(t *testing.T) {
	c := newCache(t, "")
	q := "SELECT name FROM users WHERE id > 1 AND id < 5 AND name = 'a&b'"
	require.NoError(t, c.Insert(fingerprint(t, q), q, resultOf("Alice")))

	data, err := c.MarshalJSONDump()
	require.NoError(t, err)
	assert.Contains(t, string(data), q)
	assert.NotContains(t, string(data), `\u003e`)
}

func TestHitCountsSurviveRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	c := newCache(t, path)
	cold, hot := "SELECT * FROM a", "SELECT * FROM b"
	for _, q := range []string{cold, hot} {
		require.NoError(t, c.Insert(fingerprint(t, q), q, resultOf(q)))
	}
	for i := 0; i < 2; i++ {
		_, ok := c.Lookup(fingerprint(t, hot), hot)
		require.True(t, ok)
	}
	require.NoError(t, c.Persist())

	restored := newCache(t, path)
	var hits []uint64
	for _, e := range restored.Entries() {
		hits = append(hits, e.HitCount)
	}
	assert.Equal(t, []uint64{0, 2}, hits)

	n, err := restored.Optimize(1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, ok := restored.Lookup(fingerprint(t, hot), hot)
	assert.True(t, ok, "the hot entry outlives a restart and an optimize")
}

func TestEmbedding(t *testing.T) {
	e := NewEmbedder(8)
	a := e.Embed("SELECT  name FROM users")
	b := e.Embed("select name from USERS")
	assert.Len(t, a, Dimensions)
	assert.InDelta(t, 1.0, Cosine(a, b), 1e-6)
	assert.InDelta(t, 1.0, Cosine(a, a), 1e-6)

	unrelated := e.Embed("DROP TABLE inventory_archive_2019")
	assert.Less(t, Cosine(a, unrelated), DefaultThreshold)

	zero := e.Embed("   ")
	assert.Equal(t, 0.0, Cosine(a, zero))
}
