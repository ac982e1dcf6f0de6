package optimizer

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"nexumdb/pkg/sql"
	"nexumdb/pkg/storage"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSizeBucket(t *testing.T) {
	tests := []struct {
		rows int
		want int
	}{
		{-1, 0}, {0, 0}, {1, 1}, {9, 1}, {10, 2}, {99, 2}, {100, 3},
		{99999, 5}, {100000, 6}, {1000000, 6}, {1 << 40, 6},
	}
	for _, tt := range tests {
		if got := SizeBucket(tt.rows); got != tt.want {
			t.Errorf("SizeBucket(%d) = %d, want %d", tt.rows, got, tt.want)
		}
	}
}

func TestShapeOf(t *testing.T) {
	stmt, err := sql.Parse("SELECT * FROM users WHERE age > 3 ORDER BY age LIMIT 2")
	require.NoError(t, err)
	shape := ShapeOf(stmt, 150)
	assert.Equal(t, QueryShape{Kind: "select", HasFilter: true, HasOrderBy: true, HasLimit: true, SizeBucket: 3}, shape)

	plain, _ := sql.Parse("SELECT name FROM users")
	assert.NotEqual(t, shape.Key(), ShapeOf(plain, 150).Key())
	assert.Equal(t, "select|f=0|o=0|l=0|s=0", ShapeOf(plain, 0).Key())
}

func TestParseStrategy(t *testing.T) {
	for _, s := range Strategies {
		got, err := ParseStrategy(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ParseStrategy("index_seek")
	assert.Error(t, err)
}

func TestGreedyFollowsLearnedValues(t *testing.T) {
	a := NewAgent(Options{Epsilon: 0, LearningRate: 0.2, Seed: 1})
	shape := QueryShape{Kind: "select", SizeBucket: 2}

	// untried actions are worth 0, so every strategy gets tried in index order
	require.Equal(t, StrategyScanFilter, a.ChooseStrategy(shape))
	require.NoError(t, a.Observe(shape, StrategyScanFilter, 10*time.Millisecond))
	v, ok := a.Value(shape, StrategyScanFilter)
	require.True(t, ok)
	assert.InDelta(t, -2.0, v, 1e-9)

	require.Equal(t, StrategyStreaming, a.ChooseStrategy(shape))
	require.NoError(t, a.Observe(shape, StrategyStreaming, time.Millisecond))

	require.Equal(t, StrategyCacheBypass, a.ChooseStrategy(shape))
	require.NoError(t, a.Observe(shape, StrategyCacheBypass, 50*time.Millisecond))

	assert.Equal(t, StrategyStreaming, a.ChooseStrategy(shape))

	// repeated observations converge toward the reward
	for i := 0; i < 100; i++ {
		require.NoError(t, a.Observe(shape, StrategyStreaming, 4*time.Millisecond))
	}
	v, _ = a.Value(shape, StrategyStreaming)
	assert.InDelta(t, -4.0, v, 1e-6)
	assert.Equal(t, StrategyScanFilter, a.ChooseStrategy(shape))
}

func TestGreedyTieBreaksToLowestIndex(t *testing.T) {
	a := NewAgent(Options{Seed: 7})
	shape := QueryShape{Kind: "select"}
	for i := 0; i < 10; i++ {
		assert.Equal(t, StrategyScanFilter, a.ChooseStrategy(shape))
	}
	assert.Equal(t, 1, a.Len())
}

func TestExplorationCoversAllStrategies(t *testing.T) {
	a := NewAgent(Options{Epsilon: 1, Seed: 42})
	shape := QueryShape{Kind: "select", HasLimit: true}
	seen := map[Strategy]int{}
	for i := 0; i < 300; i++ {
		seen[a.ChooseStrategy(shape)]++
	}
	for _, s := range Strategies {
		assert.Greater(t, seen[s], 0, s.String())
	}

	// a fixed seed gives a fixed sequence
	b := NewAgent(Options{Epsilon: 1, Seed: 42})
	c := NewAgent(Options{Epsilon: 1, Seed: 42})
	for i := 0; i < 20; i++ {
		assert.Equal(t, b.ChooseStrategy(shape), c.ChooseStrategy(shape))
	}
}

func TestPersistRestoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.db")
	a := NewAgent(Options{Path: path, Seed: 1})
	shapes := []QueryShape{
		{Kind: "select", SizeBucket: 1},
		{Kind: "select", HasFilter: true, HasLimit: true, SizeBucket: 4},
	}
	require.NoError(t, a.Observe(shapes[0], StrategyStreaming, 3*time.Millisecond))
	require.NoError(t, a.Observe(shapes[1], StrategyCacheBypass, 8*time.Millisecond))

	b := NewAgent(Options{Path: path, Seed: 1})
	require.Equal(t, 2, b.Len())
	assert.Equal(t, a.Snapshot(), b.Snapshot())

	v, ok := b.Value(shapes[1], StrategyCacheBypass)
	require.True(t, ok)
	assert.InDelta(t, -1.6, v, 1e-9)
}

func TestPersistEvery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.db")
	a := NewAgent(Options{Path: path, PersistEvery: 3, Seed: 1})
	shape := QueryShape{Kind: "select"}

	require.NoError(t, a.Observe(shape, StrategyScanFilter, time.Millisecond))
	require.NoError(t, a.Observe(shape, StrategyScanFilter, time.Millisecond))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "policy persisted too early")

	require.NoError(t, a.Observe(shape, StrategyScanFilter, time.Millisecond))
	_, err = os.Stat(path)
	assert.NoError(t, err)

	require.NoError(t, a.Observe(shape, StrategyStreaming, time.Millisecond))
	require.NoError(t, a.Close())
	b := NewAgent(Options{Path: path, Seed: 1})
	v, _ := b.Value(shape, StrategyStreaming)
	assert.Less(t, v, 0.0, "close must flush pending observations")
}

func TestCorruptPolicyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.db")
	a := NewAgent(Options{Path: path, Seed: 1})
	shape := QueryShape{Kind: "select"}
	require.NoError(t, a.Observe(shape, StrategyStreaming, time.Millisecond))

	require.NoError(t, os.WriteFile(path, []byte{0x00, 0x01}, 0644))
	fromBackup := NewAgent(Options{Path: path, Seed: 1})
	assert.Equal(t, 1, fromBackup.Len())

	require.NoError(t, os.WriteFile(storage.BackupPath(path), []byte("junk"), 0644))
	fresh := NewAgent(Options{Path: path, Seed: 1})
	assert.Equal(t, 0, fresh.Len())
	assert.Error(t, fresh.Restore())

	// the agent keeps working and rewrites both files
	require.NoError(t, fresh.Observe(shape, StrategyScanFilter, time.Millisecond))
	assert.Equal(t, 1, NewAgent(Options{Path: path, Seed: 1}).Len())
}

func TestExportJSON(t *testing.T) {
	dir := t.TempDir()
	a := NewAgent(Options{Seed: 1})
	shape := QueryShape{Kind: "select", HasOrderBy: true, SizeBucket: 2}
	require.NoError(t, a.Observe(shape, StrategyStreaming, 2*time.Millisecond))

	out := filepath.Join(dir, "policy.json")
	require.NoError(t, a.ExportJSON(out))
	data, err := os.ReadFile(out)
	require.NoError(t, err)

	var rows []StateValues
	require.NoError(t, json.Unmarshal(data, &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, shape, rows[0].Shape)
	assert.Equal(t, uint64(1), rows[0].Visits["streaming"])
	assert.Equal(t, "scan_filter", rows[0].Best)
}
