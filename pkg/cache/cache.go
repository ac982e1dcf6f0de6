// Package cache is the semantic result cache: exact lookups by query
// fingerprint, similarity lookups among structurally identical queries.
package cache

import (
	"sort"
	"strings"
	"sync"
	"time"

	"nexumdb/pkg/common"
	"nexumdb/pkg/monitor"

	"go.uber.org/zap"
)

const (
	DefaultThreshold  = 0.95
	DefaultMaxEntries = 1000
	DefaultMemoSize   = 256
)

// Entry is one cached result. Entries never leave the cache; lookups hand
// out copies of Result.
type Entry struct {
	Fingerprint Fingerprint
	Text        string
	Vector      []float32
	Result      *common.Result
	CreatedAt   time.Time
	HitCount    uint64
	Seq         uint64
}

type Options struct {
	// Path is the persistence file. Empty keeps the cache in memory only.
	Path       string
	Threshold  float64
	MaxEntries int
	MemoSize   int
	Logger     *zap.Logger
	Metrics    *monitor.Metrics
}

type SemanticCache struct {
	mu      sync.Mutex
	entries map[string]*Entry
	seq     uint64

	hits         uint64
	semanticHits uint64
	misses       uint64

	path       string
	threshold  float64
	maxEntries int
	embedder   *Embedder
	logger     *zap.Logger
	metrics    *monitor.Metrics
	now        func() time.Time
}

// New builds a cache and restores it from opts.Path. A missing or damaged
// file never fails construction; damage is logged and the cache starts from
// the backup copy or empty.
func New(opts Options) *SemanticCache {
	if opts.Threshold <= 0 || opts.Threshold > 1 {
		opts.Threshold = DefaultThreshold
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.MemoSize <= 0 {
		opts.MemoSize = DefaultMemoSize
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	c := &SemanticCache{
		entries:    make(map[string]*Entry),
		path:       opts.Path,
		threshold:  opts.Threshold,
		maxEntries: opts.MaxEntries,
		embedder:   NewEmbedder(opts.MemoSize),
		logger:     opts.Logger.Named("cache"),
		metrics:    opts.Metrics,
		now:        time.Now,
	}
	if err := c.Restore(); err != nil {
		c.logger.Warn("starting with an empty cache", zap.String("path", c.path), zap.Error(err))
	}
	return c
}

// Lookup returns a copy of the cached result for fp. An exact fingerprint
// match is tried first; otherwise the most similar entry with the same
// structural key is used if it scores at least the threshold.
//
// Hit counts are not written here; the next Persist (any insert,
// invalidation, SaveCache or Close) carries them to disk.
func (c *SemanticCache) Lookup(fp Fingerprint, text string) (*common.Result, bool) {
	key := fp.Key()

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.HitCount++
		c.hits++
		c.metrics.CacheHit(false)
		out := e.Result.Clone()
		out.CacheHit = true
		return out, true
	}

	structural := fp.StructuralKey()
	var (
		best      *Entry
		bestScore float64
		vec       []float32
	)
	for _, e := range c.entries {
		if e.Fingerprint.StructuralKey() != structural {
			continue
		}
		if vec == nil {
			vec = c.embedder.Embed(embedText(fp, text))
		}
		score := Cosine(vec, e.Vector)
		if score < c.threshold {
			continue
		}
		if best == nil || score > bestScore || (score == bestScore && e.Seq > best.Seq) {
			best, bestScore = e, score
		}
	}
	if best == nil {
		c.misses++
		c.metrics.CacheMiss()
		return nil, false
	}

	best.HitCount++
	c.hits++
	c.semanticHits++
	c.metrics.CacheHit(true)
	c.logger.Debug("semantic hit",
		zap.String("query", text),
		zap.String("matched", best.Text),
		zap.Float64("score", bestScore))
	out := best.Result.Clone()
	out.CacheHit = true
	out.SemanticHit = true
	return out, true
}

// Insert stores a copy of result under fp, trims the cache to its ceiling
// and persists. The entry stays in memory even if persisting fails.
func (c *SemanticCache) Insert(fp Fingerprint, text string, result *common.Result) error {
	if result == nil {
		return nil
	}
	stored := result.Clone()
	stored.CacheHit = false
	stored.SemanticHit = false

	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	c.entries[fp.Key()] = &Entry{
		Fingerprint: fp,
		Text:        text,
		Vector:      c.embedder.Embed(embedText(fp, text)),
		Result:      stored,
		CreatedAt:   c.now(),
		Seq:         c.seq,
	}
	c.optimizeLocked(c.maxEntries)
	c.metrics.SetCacheEntries(len(c.entries))
	return c.persistLocked()
}

// Invalidate drops every entry reading from table and returns how many
// were removed.
func (c *SemanticCache) Invalidate(table string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, e := range c.entries {
		if strings.EqualFold(e.Fingerprint.Table, table) {
			delete(c.entries, k)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	c.metrics.CacheInvalidated(removed)
	c.metrics.SetCacheEntries(len(c.entries))

	if err := c.persistLocked(); err != nil {
		// a stale file must not come back on the next restore
		if rmErr := c.removeFilesLocked(); rmErr != nil {
			c.logger.Error("could not remove stale cache file", zap.String("path", c.path), zap.Error(rmErr))
		}
		return removed, err
	}
	return removed, nil
}

// Optimize evicts entries until at most maxEntries remain: lowest hit count
// first, then oldest. It returns the number evicted.
func (c *SemanticCache) Optimize(maxEntries int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.optimizeLocked(maxEntries)
	if n == 0 {
		return 0, nil
	}
	c.metrics.SetCacheEntries(len(c.entries))
	return n, c.persistLocked()
}

func (c *SemanticCache) optimizeLocked(maxEntries int) int {
	if maxEntries < 0 {
		maxEntries = 0
	}
	excess := len(c.entries) - maxEntries
	if excess <= 0 {
		return 0
	}

	victims := make([]*Entry, 0, len(c.entries))
	for _, e := range c.entries {
		victims = append(victims, e)
	}
	sort.Slice(victims, func(i, j int) bool {
		a, b := victims[i], victims[j]
		if a.HitCount != b.HitCount {
			return a.HitCount < b.HitCount
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.Seq < b.Seq
	})
	for _, e := range victims[:excess] {
		delete(c.entries, e.Fingerprint.Key())
	}
	c.metrics.CacheEvicted(excess)
	c.logger.Info("evicted cache entries", zap.Int("evicted", excess), zap.Int("remaining", len(c.entries)))
	return excess
}

// Clear drops every entry and removes the persisted files.
func (c *SemanticCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*Entry)
	c.metrics.SetCacheEntries(0)
	return c.removeFilesLocked()
}

func (c *SemanticCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Entries returns copies of the entries ordered by insertion.
func (c *SemanticCache) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sortedLocked()
}

func (c *SemanticCache) sortedLocked() []Entry {
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		cp := *e
		cp.Result = e.Result.Clone()
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

type Stats struct {
	TotalEntries   int     `json:"total_entries"`
	CacheFile      string  `json:"cache_file"`
	CacheSizeBytes int64   `json:"cache_size_bytes"`
	Hits           uint64  `json:"hits"`
	SemanticHits   uint64  `json:"semantic_hits"`
	Misses         uint64  `json:"misses"`
	Threshold      float64 `json:"similarity_threshold"`
	MaxEntries     int     `json:"max_entries"`
}

func (c *SemanticCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		TotalEntries:   len(c.entries),
		CacheFile:      c.path,
		CacheSizeBytes: c.fileSize(),
		Hits:           c.hits,
		SemanticHits:   c.semanticHits,
		Misses:         c.misses,
		Threshold:      c.threshold,
		MaxEntries:     c.maxEntries,
	}
}

func embedText(fp Fingerprint, text string) string {
	if strings.TrimSpace(text) == "" {
		return fp.Key()
	}
	return text
}
