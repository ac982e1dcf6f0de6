package memory

import (
	"bytes"
	"sync"

	"github.com/google/btree"
)

type Item struct {
	Key []byte
	Val []byte
}

func (i Item) Less(than btree.Item) bool {
	return bytes.Compare(i.Key, than.(Item).Key) < 0
}

// MemTable is an ordered in-memory key space. Keys and values are copied on
// the way in and on the way out.
type MemTable struct {
	tree *btree.BTree
	lock sync.RWMutex
	size int
}

func NewMemTable(degree int) *MemTable {
	return &MemTable{
		tree: btree.New(degree),
	}
}

func (mt *MemTable) Put(key, val []byte) {
	mt.lock.Lock()
	defer mt.lock.Unlock()
	mt.put(key, val)
}

// PutAll applies every record under one lock, so readers never see half a batch.
func (mt *MemTable) PutAll(items []Item) {
	mt.lock.Lock()
	defer mt.lock.Unlock()
	for _, it := range items {
		mt.put(it.Key, it.Val)
	}
}

func (mt *MemTable) put(key, val []byte) {
	item := Item{Key: clone(key), Val: clone(val)}
	if old := mt.tree.ReplaceOrInsert(item); old != nil {
		prev := old.(Item)
		mt.size -= len(prev.Key) + len(prev.Val)
	}
	mt.size += len(key) + len(val)
}

func (mt *MemTable) Get(key []byte) ([]byte, bool) {
	mt.lock.RLock()
	defer mt.lock.RUnlock()

	res := mt.tree.Get(Item{Key: key})
	if res == nil {
		return nil, false
	}
	return clone(res.(Item).Val), true
}

func (mt *MemTable) Delete(key []byte) bool {
	mt.lock.Lock()
	defer mt.lock.Unlock()

	old := mt.tree.Delete(Item{Key: key})
	if old == nil {
		return false
	}
	prev := old.(Item)
	mt.size -= len(prev.Key) + len(prev.Val)
	return true
}

func (mt *MemTable) Size() int {
	mt.lock.RLock()
	defer mt.lock.RUnlock()
	return mt.size
}

// Iterator walks every key in order until fn returns false.
func (mt *MemTable) Iterator(fn func(key, val []byte) bool) {
	mt.AscendPrefix(nil, fn)
}

// AscendPrefix walks the keys starting with prefix in order.
func (mt *MemTable) AscendPrefix(prefix []byte, fn func(key, val []byte) bool) {
	mt.lock.RLock()
	items := make([]Item, 0)
	mt.tree.AscendGreaterOrEqual(Item{Key: prefix}, func(i btree.Item) bool {
		item := i.(Item)
		if !bytes.HasPrefix(item.Key, prefix) {
			return false
		}
		items = append(items, Item{Key: clone(item.Key), Val: clone(item.Val)})
		return true
	})
	mt.lock.RUnlock()

	// callbacks run outside the lock so they may write back
	for _, it := range items {
		if !fn(it.Key, it.Val) {
			return
		}
	}
}

func (mt *MemTable) Count() int {
	mt.lock.RLock()
	defer mt.lock.RUnlock()
	return mt.tree.Len()
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
