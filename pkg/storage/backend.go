package storage

import (
	"bytes"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"nexumdb/pkg/common"
	"nexumdb/pkg/core/memory"

	_ "modernc.org/sqlite"
)

// Store is the ordered key-value substrate the executor and catalog run on.
// Keys are compared bytewise.
type Store interface {
	Get(key []byte) ([]byte, bool, error)
	Put(key, val []byte) error
	// PutBatch commits every record or none of them.
	PutBatch(records []common.Record) error
	Delete(key []byte) error
	// Iterate visits keys with the given prefix in order until fn returns false.
	Iterate(prefix []byte, fn func(key, val []byte) bool) error
	Scan(prefix []byte) ([]common.Record, error)
	Flush() error
	Close() error
}

// iteratePage bounds how many rows Iterate pulls per query.
const iteratePage = 256

type SQLiteBackend struct {
	db *sql.DB
	mu sync.Mutex
}

func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// one writer; modernc serializes anyway and this keeps PRAGMAs on one conn
	db.SetMaxOpenConns(1)

	query := `
	CREATE TABLE IF NOT EXISTS kv (
		key BLOB PRIMARY KEY,
		value BLOB
	);`
	if _, err := db.Exec(query); err != nil {
		db.Close()
		return nil, fmt.Errorf("init kv table: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	return &SQLiteBackend{db: db}, nil
}

func (s *SQLiteBackend) Get(key []byte) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var val []byte
	err := s.db.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&val)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %q: %w", key, err)
	}
	return val, true, nil
}

func (s *SQLiteBackend) Put(key, val []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec("INSERT OR REPLACE INTO kv (key, value) VALUES (?, ?)", key, val)
	return err
}

func (s *SQLiteBackend) PutBatch(records []common.Record) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare("INSERT OR REPLACE INTO kv (key, value) VALUES (?, ?)")
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, rec := range records {
		if _, err := stmt.Exec(rec.Key, rec.Value); err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

func (s *SQLiteBackend) Delete(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec("DELETE FROM kv WHERE key = ?", key)
	return err
}

// Iterate pages through the prefix range by key so that fn runs with no
// open cursor and may call back into the store.
func (s *SQLiteBackend) Iterate(prefix []byte, fn func(key, val []byte) bool) error {
	from := append([]byte(nil), prefix...)
	inclusive := true
	for {
		page, err := s.page(prefix, from, inclusive)
		if err != nil {
			return err
		}
		for _, rec := range page {
			if !fn(rec.Key, rec.Value) {
				return nil
			}
		}
		if len(page) < iteratePage {
			return nil
		}
		from = page[len(page)-1].Key
		inclusive = false
	}
}

func (s *SQLiteBackend) page(prefix, from []byte, inclusive bool) ([]common.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		conds []string
		args  []interface{}
	)
	switch {
	case !inclusive:
		conds = append(conds, "key > ?")
		args = append(args, from)
	case len(from) > 0:
		conds = append(conds, "key >= ?")
		args = append(args, from)
	}
	if end := prefixEnd(prefix); end != nil {
		conds = append(conds, "key < ?")
		args = append(args, end)
	}
	query := "SELECT key, value FROM kv"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY key LIMIT ?"
	args = append(args, iteratePage)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []common.Record
	for rows.Next() {
		var k, v []byte
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		records = append(records, common.Record{Key: k, Value: v})
	}
	return records, rows.Err()
}

func (s *SQLiteBackend) Scan(prefix []byte) ([]common.Record, error) {
	return collect(s, prefix)
}

func (s *SQLiteBackend) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec("PRAGMA wal_checkpoint(FULL)")
	return err
}

func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}

// MemoryBackend keeps the key space in a btree memtable. Used for tests
// and ":memory:" databases.
type MemoryBackend struct {
	mt *memory.MemTable
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{mt: memory.NewMemTable(32)}
}

func (m *MemoryBackend) Get(key []byte) ([]byte, bool, error) {
	v, ok := m.mt.Get(key)
	return v, ok, nil
}

func (m *MemoryBackend) Put(key, val []byte) error {
	m.mt.Put(key, val)
	return nil
}

func (m *MemoryBackend) PutBatch(records []common.Record) error {
	items := make([]memory.Item, len(records))
	for i, r := range records {
		items[i] = memory.Item{Key: r.Key, Val: r.Value}
	}
	m.mt.PutAll(items)
	return nil
}

func (m *MemoryBackend) Delete(key []byte) error {
	m.mt.Delete(key)
	return nil
}

func (m *MemoryBackend) Iterate(prefix []byte, fn func(key, val []byte) bool) error {
	m.mt.AscendPrefix(prefix, fn)
	return nil
}

func (m *MemoryBackend) Scan(prefix []byte) ([]common.Record, error) {
	return collect(m, prefix)
}

func (m *MemoryBackend) Flush() error { return nil }
func (m *MemoryBackend) Close() error { return nil }

func collect(s Store, prefix []byte) ([]common.Record, error) {
	var out []common.Record
	err := s.Iterate(prefix, func(k, v []byte) bool {
		out = append(out, common.Record{Key: k, Value: v})
		return true
	})
	return out, err
}

// prefixEnd returns the smallest key greater than every key with the
// prefix, or nil when no such key exists.
func prefixEnd(prefix []byte) []byte {
	end := bytes.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
