package client

import (
	"net"
	"testing"

	"nexumdb/pkg/common"
	"nexumdb/pkg/config"
	"nexumdb/pkg/core"
	"nexumdb/pkg/errors"
	"nexumdb/pkg/network"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T) string {
	t.Helper()
	t.Setenv(config.CacheFileEnv, "")
	cfg := config.Default()
	cfg.Storage.InMemory = true
	cfg.Policy.Epsilon = 0
	cfg.Policy.Seed = 1

	db, err := core.Open(cfg, nil)
	require.NoError(t, err)
	srv := network.NewTCPServer(db, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(ln)

	t.Cleanup(func() {
		srv.Close()
		db.Close()
	})
	return ln.Addr().String()
}

func TestDialInvalidAddr(t *testing.T) {
	_, err := Dial("invalid:invalid:invalid")
	if err == nil {
		t.Fatal("expected error for invalid address")
	}
}

func TestDialUnreachable(t *testing.T) {
	// Connect to non-routable IP (RFC 5737) - expect error
	_, err := Dial("192.0.2.1:9999")
	if err == nil {
		t.Skip("connection unexpectedly succeeded (e.g. in sandbox)")
	}
}

func TestQueryOverTCP(t *testing.T) {
	c, err := Dial(startServer(t))
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Ping())

	_, err = c.Query("CREATE TABLE users (name TEXT, age INTEGER, score FLOAT)")
	require.NoError(t, err)
	res, err := c.Query("INSERT INTO users VALUES ('Alice', 30, 1.5), ('Bob', 25, 0)")
	require.NoError(t, err)
	assert.Equal(t, common.ResultInserted, res.Kind)
	assert.Equal(t, 2, res.Affected)

	res, err = c.Query("SELECT * FROM users ORDER BY age")
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "age", "score"}, res.Columns)
	assert.Equal(t, []common.Row{
		{common.TextValue("Bob"), common.IntValue(25), common.FloatValue(0)},
		{common.TextValue("Alice"), common.IntValue(30), common.FloatValue(1.5)},
	}, res.Rows)
	assert.False(t, res.CacheHit)

	res, err = c.Query("SELECT * FROM users ORDER BY age")
	require.NoError(t, err)
	assert.True(t, res.CacheHit)

	raw, err := c.Stats()
	require.NoError(t, err)
	var report core.Report
	require.NoError(t, json.Unmarshal(raw, &report))
	assert.Equal(t, []string{"users"}, report.Tables)
	assert.Equal(t, uint64(1), report.Workload.Hits)
	require.NotNil(t, report.Cache)
	assert.Equal(t, 1, report.Cache.TotalEntries)
}

func TestQueryErrorsKeepTheirCode(t *testing.T) {
	c, err := Dial(startServer(t))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Query("SELECT * FROM ghosts")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.SchemaError), "%v", err)
	assert.Contains(t, err.Error(), "ghosts")

	_, err = c.Query("SELEKT nonsense")
	require.Error(t, err)
	assert.Equal(t, errors.CodeOK, errors.CodeOf(err))

	// the connection survives errors
	require.NoError(t, c.Ping())
}
