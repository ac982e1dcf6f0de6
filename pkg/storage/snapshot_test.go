package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestSnapshotWriteAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	records := [][]byte{[]byte("one"), {}, []byte("three")}

	if err := WriteSnapshot(path, records); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}
	if _, err := os.Stat(BackupPath(path)); err != nil {
		t.Fatalf("backup not written: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("tmp file left behind: %v", err)
	}

	got, src, err := LoadSnapshot(path)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if src != SourcePrimary {
		t.Fatalf("expected primary source, got %s", src)
	}
	if len(got) != 3 || string(got[0]) != "one" || len(got[1]) != 0 || string(got[2]) != "three" {
		t.Fatalf("unexpected records: %q", got)
	}
}

func TestSnapshotMissingIsEmpty(t *testing.T) {
	got, src, err := LoadSnapshot(filepath.Join(t.TempDir(), "absent.db"))
	if err != nil {
		t.Fatalf("missing snapshot should not error: %v", err)
	}
	if src != SourceNone || len(got) != 0 {
		t.Fatalf("expected empty result, got %s %q", src, got)
	}
}

func TestSnapshotCorruptFallsBackToBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	if err := WriteSnapshot(path, [][]byte{[]byte("good")}); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	data[len(data)-1] ^= 0xff
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("corrupt: %v", err)
	}

	if _, err := ReadSnapshot(path); !errors.Is(err, ErrCorruptSnapshot) {
		t.Fatalf("expected ErrCorruptSnapshot, got %v", err)
	}

	got, src, err := LoadSnapshot(path)
	if err != nil {
		t.Fatalf("load with backup: %v", err)
	}
	if src != SourceBackup || len(got) != 1 || string(got[0]) != "good" {
		t.Fatalf("unexpected fallback result: %s %q", src, got)
	}

	// both damaged: error, no records
	if err := os.WriteFile(BackupPath(path), []byte("garbage"), 0644); err != nil {
		t.Fatalf("corrupt backup: %v", err)
	}
	got, src, err = LoadSnapshot(path)
	if !errors.Is(err, ErrCorruptSnapshot) {
		t.Fatalf("expected corruption error, got %v", err)
	}
	if src != SourceNone || got != nil {
		t.Fatalf("expected nothing restored, got %s %q", src, got)
	}
}

func TestSnapshotTruncatedIsCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	if err := WriteSnapshot(path, [][]byte{[]byte("abcdef"), []byte("ghi")}); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}
	data, _ := os.ReadFile(path)
	if err := os.WriteFile(path, data[:len(data)-2], 0644); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if _, err := ReadSnapshot(path); !errors.Is(err, ErrCorruptSnapshot) {
		t.Fatalf("expected ErrCorruptSnapshot for torn file, got %v", err)
	}
}

func TestRemoveSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	if err := WriteSnapshot(path, [][]byte{[]byte("x")}); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}
	if SnapshotSize(path) <= SnapshotHeaderSize {
		t.Fatalf("unexpected size %d", SnapshotSize(path))
	}
	if err := RemoveSnapshot(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := RemoveSnapshot(path); err != nil {
		t.Fatalf("second remove should be a no-op: %v", err)
	}
	for _, p := range []string{path, BackupPath(path)} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Fatalf("%s still exists", p)
		}
	}
	if SnapshotSize(path) != 0 {
		t.Fatal("size of removed snapshot should be 0")
	}
}
