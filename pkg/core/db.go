package core

import (
	"fmt"
	"os"
	"sync"

	"nexumdb/pkg/cache"
	"nexumdb/pkg/catalog"
	"nexumdb/pkg/common"
	"nexumdb/pkg/config"
	"nexumdb/pkg/monitor"
	"nexumdb/pkg/optimizer"
	"nexumdb/pkg/sql"
	"nexumdb/pkg/storage"

	"go.uber.org/zap"
)

// DB is an opened database: storage, catalog, semantic cache and strategy
// policy behind one executor. Statements run one at a time.
type DB struct {
	mu     sync.Mutex
	closed bool

	cfg     *config.Config
	store   *storage.Handle
	catalog *catalog.Catalog
	cache   *cache.SemanticCache
	policy  *optimizer.Agent
	stats   *monitor.WorkloadStats
	metrics *monitor.Metrics
	exec    *Executor
	logger  *zap.Logger
}

// Open builds a DB from cfg. A nil logger discards logs.
func Open(cfg *config.Config, logger *zap.Logger) (*DB, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	path := cfg.Storage.Path
	if cfg.Storage.InMemory {
		path = ""
	}
	store, err := storage.Open(path, logger)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	db := &DB{
		cfg:     cfg,
		store:   store,
		catalog: catalog.New(store),
		stats:   monitor.NewWorkloadStats(),
		metrics: monitor.NewMetrics(),
		logger:  logger,
	}

	opts := []Option{WithStats(db.stats), WithMetrics(db.metrics), WithLogger(logger)}
	if cfg.Cache.Enabled {
		db.cache = cache.New(cache.Options{
			Path:       cacheFile(cfg),
			Threshold:  cfg.Cache.SimilarityThreshold,
			MaxEntries: cfg.Cache.MaxEntries,
			MemoSize:   cfg.Cache.EmbeddingMemoSize,
			Logger:     logger,
			Metrics:    db.metrics,
		})
		opts = append(opts, WithCache(db.cache))
	}
	if cfg.Policy.Enabled {
		policyFile := cfg.PolicyFile()
		if cfg.Storage.InMemory && cfg.Policy.File == "" {
			policyFile = ""
		}
		db.policy = optimizer.NewAgent(optimizer.Options{
			Path:         policyFile,
			Epsilon:      cfg.Policy.Epsilon,
			LearningRate: cfg.Policy.LearningRate,
			PersistEvery: cfg.Policy.PersistEvery,
			Seed:         cfg.Policy.Seed,
			Logger:       logger,
			Metrics:      db.metrics,
		})
		opts = append(opts, WithPolicy(db.policy))
	}
	db.exec = NewExecutor(store, db.catalog, opts...)

	logger.Info("database opened",
		zap.String("path", path),
		zap.Bool("cache", db.cache != nil),
		zap.Bool("policy", db.policy != nil))
	return db, nil
}

// cacheFile keeps an in-memory database from reusing results persisted
// against a different dataset unless a file was asked for explicitly.
func cacheFile(cfg *config.Config) string {
	if cfg.Storage.InMemory && cfg.Cache.File == "" && os.Getenv(config.CacheFileEnv) == "" {
		return ""
	}
	return cfg.CacheFile()
}

// Query parses and executes one statement.
func (db *DB) Query(text string) (*common.Result, error) {
	stmt, err := sql.Parse(text)
	if err != nil {
		return nil, err
	}
	return db.Execute(stmt)
}

func (db *DB) Execute(stmt sql.Statement) (*common.Result, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, fmt.Errorf("database is closed")
	}
	return db.exec.Execute(stmt)
}

func (db *DB) Cache() *cache.SemanticCache   { return db.cache }
func (db *DB) Policy() *optimizer.Agent      { return db.policy }
func (db *DB) Stats() *monitor.WorkloadStats { return db.stats }
func (db *DB) Metrics() *monitor.Metrics     { return db.metrics }
func (db *DB) Config() *config.Config        { return db.cfg }
func (db *DB) Executor() *Executor           { return db.exec }
func (db *DB) Catalog() *catalog.Catalog     { return db.catalog }

// Tables lists the registered tables in sorted order.
func (db *DB) Tables() ([]string, error) {
	return db.catalog.List()
}

// Report is the stats view served by the HTTP and TCP front ends.
type Report struct {
	Workload     monitor.StatsSnapshot `json:"workload"`
	Cache        *cache.Stats          `json:"cache,omitempty"`
	PolicyStates int                   `json:"policy_states"`
	Tables       []string              `json:"tables"`
}

func (db *DB) Report() (Report, error) {
	tables, err := db.catalog.List()
	if err != nil {
		return Report{}, err
	}
	if tables == nil {
		tables = []string{}
	}
	r := Report{Workload: db.stats.Snapshot(), Tables: tables}
	if db.cache != nil {
		st := db.cache.Stats()
		r.Cache = &st
	}
	if db.policy != nil {
		r.PolicyStates = db.policy.Len()
	}
	return r, nil
}

// SaveCache persists the semantic cache now.
func (db *DB) SaveCache() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.exec.SaveCache()
}

// ClearCache empties the semantic cache and removes its files.
func (db *DB) ClearCache() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.exec.ClearCache()
}

// Close persists the cache and the policy, then closes storage. Only the
// storage error is returned; persistence failures are logged.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true

	if db.cache != nil {
		if err := db.cache.Persist(); err != nil {
			db.logger.Error("cache not persisted on close", zap.Error(err))
		}
	}
	if db.policy != nil {
		if err := db.policy.Close(); err != nil {
			db.logger.Error("policy not persisted on close", zap.Error(err))
		}
	}
	err := db.store.Close()
	db.logger.Info("database closed")
	return err
}
