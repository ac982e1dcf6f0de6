package main

import (
	"errors"

	"nexumdb/pkg/client"
	"nexumdb/pkg/common"
	"nexumdb/pkg/core"
	"nexumdb/pkg/optimizer"

	"github.com/goccy/go-json"
)

var errRemote = errors.New("not available over the binary protocol; use the HTTP API")

// session is what the shell drives: an embedded database or a remote server.
type session interface {
	Query(text string) (*common.Result, error)
	CacheInfo() (interface{}, error)
	Policy() ([]optimizer.StateValues, error)
	SaveCache() error
	ClearCache() error
	Close() error
}

type embedded struct {
	db *core.DB
}

func (e *embedded) Query(text string) (*common.Result, error) { return e.db.Query(text) }
func (e *embedded) SaveCache() error                          { return e.db.SaveCache() }
func (e *embedded) ClearCache() error                         { return e.db.ClearCache() }
func (e *embedded) Close() error                              { return e.db.Close() }

func (e *embedded) CacheInfo() (interface{}, error) {
	report, err := e.db.Report()
	if err != nil {
		return nil, err
	}
	if report.Cache == nil {
		return map[string]interface{}{"enabled": false, "workload": report.Workload}, nil
	}
	return map[string]interface{}{"cache": report.Cache, "workload": report.Workload}, nil
}

func (e *embedded) Policy() ([]optimizer.StateValues, error) {
	p := e.db.Policy()
	if p == nil {
		return nil, nil
	}
	return p.Snapshot(), nil
}

type remote struct {
	c *client.Client
}

func (r *remote) Query(text string) (*common.Result, error) { return r.c.Query(text) }
func (r *remote) Policy() ([]optimizer.StateValues, error)  { return nil, errRemote }
func (r *remote) SaveCache() error                          { return errRemote }
func (r *remote) ClearCache() error                         { return errRemote }
func (r *remote) Close() error                              { return r.c.Close() }

func (r *remote) CacheInfo() (interface{}, error) {
	raw, err := r.c.Stats()
	if err != nil {
		return nil, err
	}
	var report core.Report
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, err
	}
	return map[string]interface{}{"cache": report.Cache, "workload": report.Workload}, nil
}
