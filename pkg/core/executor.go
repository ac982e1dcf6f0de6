package core

import (
	"fmt"
	"strings"
	"time"

	"nexumdb/pkg/cache"
	"nexumdb/pkg/catalog"
	"nexumdb/pkg/common"
	"nexumdb/pkg/errors"
	"nexumdb/pkg/monitor"
	"nexumdb/pkg/optimizer"
	"nexumdb/pkg/sql"
	"nexumdb/pkg/storage"

	"go.uber.org/zap"
)

// Executor runs parsed statements against a store. It is not safe for
// concurrent use; DB serializes access to it.
type Executor struct {
	store   storage.Store
	catalog *catalog.Catalog
	cache   *cache.SemanticCache
	policy  *optimizer.Agent
	stats   *monitor.WorkloadStats
	metrics *monitor.Metrics
	logger  *zap.Logger

	// row count per table, exact after every full scan and kept current
	// by writes. Feeds the size bucket of the query shape.
	rowCounts map[string]int
}

type Option func(*Executor)

// WithCache enables result caching. Without a cache every SELECT executes.
func WithCache(c *cache.SemanticCache) Option {
	return func(e *Executor) { e.cache = c }
}

// WithPolicy lets the agent pick SELECT strategies. Without one every
// SELECT uses scan_filter.
func WithPolicy(a *optimizer.Agent) Option {
	return func(e *Executor) { e.policy = a }
}

func WithStats(s *monitor.WorkloadStats) Option {
	return func(e *Executor) { e.stats = s }
}

func WithMetrics(m *monitor.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

func NewExecutor(store storage.Store, cat *catalog.Catalog, opts ...Option) *Executor {
	e := &Executor{
		store:     store,
		catalog:   cat,
		rowCounts: make(map[string]int),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.catalog == nil {
		e.catalog = catalog.New(store)
	}
	if e.stats == nil {
		e.stats = monitor.NewWorkloadStats()
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	e.logger = e.logger.Named("executor")
	return e
}

// Execute runs one statement. Errors are *errors.Error values carrying a
// SchemaError, TypeError or StorageError code.
func (e *Executor) Execute(stmt sql.Statement) (*common.Result, error) {
	start := time.Now()
	kind := sql.KindOf(stmt)

	var (
		res *common.Result
		err error
	)
	switch s := stmt.(type) {
	case *sql.CreateTable:
		res, err = e.execCreate(s)
	case *sql.DropTable:
		res, err = e.execDrop(s)
	case *sql.ShowTables:
		res, err = e.execShow()
	case *sql.Describe:
		res, err = e.execDescribe(s)
	case *sql.Insert:
		res, err = e.execInsert(s)
	case *sql.Select:
		res, err = e.execSelect(s)
	case *sql.Update:
		res, err = e.execUpdate(s)
	case *sql.Delete:
		res, err = e.execDelete(s)
	default:
		err = fmt.Errorf("unsupported statement %T", stmt)
	}

	elapsed := time.Since(start)
	code := ""
	if err != nil {
		code = errors.CodeOf(err).String()
		e.logger.Debug("statement failed", zap.String("kind", kind), zap.Error(err))
	}
	e.metrics.ObserveStatement(kind, elapsed, code)
	if err != nil {
		return nil, err
	}
	if res.Elapsed == 0 {
		res.Elapsed = elapsed
	}
	return res, nil
}

// schemaOf resolves a table or returns a SchemaError.
func (e *Executor) schemaOf(table string) (*common.Schema, error) {
	schema, ok, err := e.catalog.SchemaOf(table)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Schemaf(table, "", "table %s does not exist", table)
	}
	return schema, nil
}

// invalidate drops every cached result reading table. A failure to persist
// the trimmed cache is logged; the in-memory cache is already correct.
func (e *Executor) invalidate(table string) {
	if e.cache == nil {
		return
	}
	n, err := e.cache.Invalidate(table)
	if err != nil {
		e.logger.Error("cache invalidation not persisted", zap.String("table", table), zap.Error(err))
		return
	}
	if n > 0 {
		e.logger.Debug("cache invalidated", zap.String("table", table), zap.Int("entries", n))
	}
}

// scanTable reads every row of schema's table in key order.
func (e *Executor) scanTable(schema *common.Schema) ([]common.Record, []common.Row, error) {
	recs, err := e.store.Scan(tablePrefix(schema.Name))
	if err != nil {
		return nil, nil, errors.Storage(schema.Name, 0, 0, err, "scan %s", schema.Name)
	}
	e.stats.RecordScan()

	rows := make([]common.Row, len(recs))
	for i, rec := range recs {
		row, err := e.decode(schema, rec)
		if err != nil {
			return nil, nil, err
		}
		rows[i] = row
	}
	e.setRowCount(schema.Name, len(recs))
	return recs, rows, nil
}

func (e *Executor) decode(schema *common.Schema, rec common.Record) (common.Row, error) {
	row, err := decodeRow(rec.Value)
	if err != nil {
		return nil, errors.Storage(schema.Name, 0, 0, err, "decode row %x of %s", rec.Key, schema.Name)
	}
	if len(row) != len(schema.Columns) {
		return nil, errors.Storage(schema.Name, 0, 0, nil,
			"row %x of %s has %d values for %d columns", rec.Key, schema.Name, len(row), len(schema.Columns))
	}
	return row, nil
}

func tableKey(table string) string {
	return strings.ToLower(table)
}

func (e *Executor) rowCount(table string) int {
	return e.rowCounts[tableKey(table)]
}

func (e *Executor) setRowCount(table string, n int) {
	if n < 0 {
		n = 0
	}
	e.rowCounts[tableKey(table)] = n
}

func (e *Executor) addRowCount(table string, delta int) {
	e.setRowCount(table, e.rowCount(table)+delta)
}

// SaveCache persists the semantic cache.
func (e *Executor) SaveCache() error {
	if e.cache == nil {
		return nil
	}
	return e.cache.Persist()
}

// ClearCache empties the semantic cache and removes its files.
func (e *Executor) ClearCache() error {
	if e.cache == nil {
		return nil
	}
	return e.cache.Clear()
}

// CacheStats reports the cache counters; ok is false when caching is off.
func (e *Executor) CacheStats() (cache.Stats, bool) {
	if e.cache == nil {
		return cache.Stats{}, false
	}
	return e.cache.Stats(), true
}
