package memory

import (
	"fmt"
	"testing"
)

func TestMemTablePutGetDelete(t *testing.T) {
	mt := NewMemTable(8)
	mt.Put([]byte("a"), []byte("1"))
	mt.Put([]byte("a"), []byte("22"))

	v, ok := mt.Get([]byte("a"))
	if !ok || string(v) != "22" {
		t.Fatalf("Get(a) = %q, %v", v, ok)
	}
	if mt.Count() != 1 {
		t.Errorf("Count: got %d", mt.Count())
	}
	if mt.Size() != 3 {
		t.Errorf("Size after replace: got %d, want 3", mt.Size())
	}

	if !mt.Delete([]byte("a")) {
		t.Fatal("Delete(a) reported missing")
	}
	if mt.Delete([]byte("a")) {
		t.Error("second Delete(a) should report missing")
	}
	if _, ok := mt.Get([]byte("a")); ok {
		t.Error("a still present after delete")
	}
	if mt.Size() != 0 {
		t.Errorf("Size after delete: got %d", mt.Size())
	}
}

func TestMemTableAscendPrefix(t *testing.T) {
	mt := NewMemTable(4)
	for i := 0; i < 5; i++ {
		mt.Put([]byte(fmt.Sprintf("data:t1:%d", i)), []byte{byte(i)})
		mt.Put([]byte(fmt.Sprintf("data:t2:%d", i)), []byte{byte(i)})
	}
	mt.Put([]byte("catalog:t1"), []byte("{}"))

	var keys []string
	mt.AscendPrefix([]byte("data:t1:"), func(k, v []byte) bool {
		keys = append(keys, string(k))
		return true
	})
	if len(keys) != 5 {
		t.Fatalf("prefix scan: got %d keys: %v", len(keys), keys)
	}
	for i, k := range keys {
		if want := fmt.Sprintf("data:t1:%d", i); k != want {
			t.Errorf("key %d: got %s, want %s", i, k, want)
		}
	}

	n := 0
	mt.AscendPrefix([]byte("data:"), func(k, v []byte) bool {
		n++
		return n < 3
	})
	if n != 3 {
		t.Errorf("early stop: visited %d", n)
	}
}

func TestMemTableCopiesValues(t *testing.T) {
	mt := NewMemTable(4)
	val := []byte("abc")
	mt.Put([]byte("k"), val)
	val[0] = 'X'

	got, _ := mt.Get([]byte("k"))
	if string(got) != "abc" {
		t.Fatalf("stored value aliased caller buffer: %q", got)
	}
	got[1] = 'Y'
	again, _ := mt.Get([]byte("k"))
	if string(again) != "abc" {
		t.Fatalf("returned value aliased stored buffer: %q", again)
	}
}
