// Package catalog maps table names to schemas, persisted in the same store
// as the rows.
package catalog

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"sync"

	"nexumdb/pkg/common"
	"nexumdb/pkg/errors"
	"nexumdb/pkg/storage"

	"github.com/goccy/go-json"
)

const keyPrefix = "catalog:"

type entry struct {
	Name    string          `json:"name"`
	Columns []common.Column `json:"columns"`
}

type Catalog struct {
	store storage.Store

	mu    sync.RWMutex
	cache map[string]*common.Schema
}

func New(store storage.Store) *Catalog {
	return &Catalog{
		store: store,
		cache: make(map[string]*common.Schema),
	}
}

// Key is the storage key of a table's catalog entry. Table names are
// case-insensitive.
func Key(name string) []byte {
	return []byte(keyPrefix + strings.ToLower(name))
}

// SchemaOf returns a copy of the named table's schema.
func (c *Catalog) SchemaOf(name string) (*common.Schema, bool, error) {
	lname := strings.ToLower(name)

	c.mu.RLock()
	s, ok := c.cache[lname]
	c.mu.RUnlock()
	if ok {
		return s.Clone(), true, nil
	}

	raw, ok, err := c.store.Get(Key(name))
	if err != nil {
		return nil, false, errors.Storage(name, 0, 0, err, "read catalog entry for %s", name)
	}
	if !ok {
		return nil, false, nil
	}
	schema, err := decode(raw)
	if err != nil {
		return nil, false, errors.Storage(name, 0, 0, err, "decode catalog entry for %s", name)
	}

	c.mu.Lock()
	c.cache[lname] = schema
	c.mu.Unlock()
	return schema.Clone(), true, nil
}

// Register adds a new table. It fails with SchemaError if the table exists
// or the column list is invalid.
func (c *Catalog) Register(schema *common.Schema) error {
	if schema == nil || schema.Name == "" {
		return errors.Schemaf("", "", "table name is required")
	}
	if len(schema.Columns) == 0 {
		return errors.Schemaf(schema.Name, "", "table %s must have at least one column", schema.Name)
	}
	seen := make(map[string]bool, len(schema.Columns))
	for _, col := range schema.Columns {
		lc := strings.ToLower(col.Name)
		if seen[lc] {
			return errors.Schemaf(schema.Name, col.Name, "duplicate column %s in table %s", col.Name, schema.Name)
		}
		seen[lc] = true
		if col.Type == common.TypeNull {
			return errors.Schemaf(schema.Name, col.Name, "column %s has no declarable type", col.Name)
		}
	}

	_, exists, err := c.SchemaOf(schema.Name)
	if err != nil {
		return err
	}
	if exists {
		return errors.Schemaf(schema.Name, "", "table %s already exists", schema.Name)
	}

	raw, err := json.Marshal(entry{Name: schema.Name, Columns: schema.Columns})
	if err != nil {
		return errors.Storage(schema.Name, 0, 0, err, "encode catalog entry for %s", schema.Name)
	}
	if err := c.store.Put(Key(schema.Name), raw); err != nil {
		return errors.Storage(schema.Name, 0, 0, err, "write catalog entry for %s", schema.Name)
	}

	c.mu.Lock()
	c.cache[strings.ToLower(schema.Name)] = schema.Clone()
	c.mu.Unlock()
	return nil
}

func (c *Catalog) Remove(name string) error {
	c.mu.Lock()
	delete(c.cache, strings.ToLower(name))
	c.mu.Unlock()

	if err := c.store.Delete(Key(name)); err != nil {
		return errors.Storage(name, 0, 0, err, "remove catalog entry for %s", name)
	}
	return nil
}

// List returns table names in sorted order.
func (c *Catalog) List() ([]string, error) {
	var names []string
	var decodeErr error
	err := c.store.Iterate([]byte(keyPrefix), func(k, v []byte) bool {
		s, err := decode(v)
		if err != nil {
			decodeErr = fmt.Errorf("entry %s: %w", bytes.TrimPrefix(k, []byte(keyPrefix)), err)
			return false
		}
		names = append(names, s.Name)
		return true
	})
	if err == nil {
		err = decodeErr
	}
	if err != nil {
		return nil, errors.Storage("", 0, 0, err, "list catalog")
	}
	sort.Strings(names)
	return names, nil
}

func decode(raw []byte) (*common.Schema, error) {
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, err
	}
	return &common.Schema{Name: e.Name, Columns: e.Columns}, nil
}
