package cache

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"time"

	"nexumdb/pkg/errors"
	"nexumdb/pkg/storage"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// Persist writes the whole entry set to the cache file.
func (c *SemanticCache) Persist() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.persistLocked()
}

func (c *SemanticCache) persistLocked() error {
	if c.path == "" {
		return nil
	}
	entries := c.sortedLocked()
	records := make([][]byte, 0, len(entries))
	for i := range entries {
		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(&entries[i]); err != nil {
			return fmt.Errorf("encode cache entry: %w", err)
		}
		records = append(records, buf.Bytes())
	}
	if err := storage.WriteSnapshot(c.path, records); err != nil {
		return fmt.Errorf("persist cache to %s: %w", c.path, err)
	}
	return nil
}

// Restore replaces the in-memory entries with the persisted ones. When
// both the file and its backup are unreadable the cache is left empty and
// a CacheCorruption error is returned for the caller to log.
func (c *SemanticCache) Restore() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*Entry)
	c.seq = 0
	if c.path == "" {
		return nil
	}

	records, src, err := storage.LoadSnapshot(c.path)
	if err != nil {
		return errors.Corruption(errors.CacheCorruption, c.path, err)
	}
	entries, err := decodeEntries(records)
	if err != nil && src == storage.SourcePrimary {
		c.logger.Warn("cache file undecodable, trying backup", zap.String("path", c.path), zap.Error(err))
		src = storage.SourceBackup
		records, err = storage.ReadSnapshot(storage.BackupPath(c.path))
		if err == nil {
			entries, err = decodeEntries(records)
		}
	}
	if err != nil {
		return errors.Corruption(errors.CacheCorruption, c.path, err)
	}
	if src == storage.SourceBackup {
		c.logger.Warn("cache restored from backup", zap.String("path", storage.BackupPath(c.path)))
	}

	for _, e := range entries {
		c.entries[e.Fingerprint.Key()] = e
		if e.Seq > c.seq {
			c.seq = e.Seq
		}
	}
	c.metrics.SetCacheEntries(len(c.entries))
	if len(entries) > 0 {
		c.logger.Info("cache restored", zap.Int("entries", len(entries)), zap.String("source", src.String()))
	}
	return nil
}

func decodeEntries(records [][]byte) ([]*Entry, error) {
	out := make([]*Entry, 0, len(records))
	for i, rec := range records {
		var e Entry
		if err := gob.NewDecoder(bytes.NewReader(rec)).Decode(&e); err != nil {
			return nil, fmt.Errorf("decode entry %d: %w", i, err)
		}
		if e.Result == nil || len(e.Vector) != Dimensions {
			return nil, fmt.Errorf("entry %d is incomplete", i)
		}
		out = append(out, &e)
	}
	return out, nil
}

func (c *SemanticCache) removeFilesLocked() error {
	if c.path == "" {
		return nil
	}
	return storage.RemoveSnapshot(c.path)
}

func (c *SemanticCache) fileSize() int64 {
	if c.path == "" {
		return 0
	}
	return storage.SnapshotSize(c.path)
}

type exportEntry struct {
	Key       string          `json:"key"`
	Query     string          `json:"query"`
	Table     string          `json:"table"`
	Columns   []string        `json:"columns"`
	Rows      [][]interface{} `json:"rows"`
	HitCount  uint64          `json:"hit_count"`
	CreatedAt time.Time       `json:"created_at"`
	Seq       uint64          `json:"seq"`
}

type export struct {
	Stats   Stats         `json:"stats"`
	Entries []exportEntry `json:"entries"`
}

// ExportJSON writes a human-readable dump of the cache to path.
func (c *SemanticCache) ExportJSON(path string) error {
	data, err := c.MarshalJSONDump()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// MarshalJSONDump renders the same document ExportJSON writes.
func (c *SemanticCache) MarshalJSONDump() ([]byte, error) {
	stats := c.Stats()
	entries := c.Entries()

	doc := export{Stats: stats, Entries: make([]exportEntry, 0, len(entries))}
	for _, e := range entries {
		doc.Entries = append(doc.Entries, exportEntry{
			Key:       e.Fingerprint.Key(),
			Query:     e.Text,
			Table:     e.Fingerprint.Table,
			Columns:   e.Result.Columns,
			Rows:      e.Result.NativeRows(),
			HitCount:  e.HitCount,
			CreatedAt: e.CreatedAt,
			Seq:       e.Seq,
		})
	}
	return json.MarshalIndentWithOption(doc, "", "  ", json.DisableHTMLEscape())
}
