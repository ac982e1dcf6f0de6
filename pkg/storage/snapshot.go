package storage

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
)

// Snapshot files hold a whole state image:
//
//	[Magic 4B][Version 2B][Reserved 2B][Count 4B]
//	Count x [CRC32 4B][Size 4B][Payload NB]
//
// They are written to <path>.tmp, synced and renamed over <path>; the same
// bytes are then mirrored to <path>.bak.

const (
	snapshotMagic   = "NXSN"
	snapshotVersion = 1

	SnapshotHeaderSize = 4 + 2 + 2 + 4
	recordHeaderSize   = 4 + 4

	// maxRecordSize guards against allocating garbage lengths.
	maxRecordSize = 64 << 20
)

var ErrCorruptSnapshot = errors.New("snapshot: corrupted")

type SnapshotSource int

const (
	SourceNone SnapshotSource = iota
	SourcePrimary
	SourceBackup
)

func (s SnapshotSource) String() string {
	switch s {
	case SourcePrimary:
		return "primary"
	case SourceBackup:
		return "backup"
	}
	return "none"
}

func BackupPath(path string) string { return path + ".bak" }

// WriteSnapshot atomically replaces the file at path with records and
// refreshes the backup copy.
func WriteSnapshot(path string, records [][]byte) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	if err := writeAtomic(path, records); err != nil {
		return err
	}
	return writeAtomic(BackupPath(path), records)
}

func writeAtomic(path string, records [][]byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	buf := bufio.NewWriter(f)

	if err := encodeSnapshot(buf, records); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := buf.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func encodeSnapshot(w io.Writer, records [][]byte) error {
	header := make([]byte, SnapshotHeaderSize)
	copy(header[0:4], snapshotMagic)
	binary.BigEndian.PutUint16(header[4:6], snapshotVersion)
	binary.BigEndian.PutUint32(header[8:12], uint32(len(records)))
	if _, err := w.Write(header); err != nil {
		return err
	}

	rh := make([]byte, recordHeaderSize)
	for _, rec := range records {
		binary.BigEndian.PutUint32(rh[0:4], crc32.ChecksumIEEE(rec))
		binary.BigEndian.PutUint32(rh[4:8], uint32(len(rec)))
		if _, err := w.Write(rh); err != nil {
			return err
		}
		if _, err := w.Write(rec); err != nil {
			return err
		}
	}
	return nil
}

// ReadSnapshot decodes one snapshot file. A missing file is reported with
// an error satisfying os.IsNotExist; damage with ErrCorruptSnapshot.
func ReadSnapshot(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return decodeSnapshot(bufio.NewReader(f))
}

func decodeSnapshot(r io.Reader) ([][]byte, error) {
	header := make([]byte, SnapshotHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("%w: short header", ErrCorruptSnapshot)
	}
	if string(header[0:4]) != snapshotMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrCorruptSnapshot)
	}
	if v := binary.BigEndian.Uint16(header[4:6]); v != snapshotVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptSnapshot, v)
	}
	count := binary.BigEndian.Uint32(header[8:12])

	records := make([][]byte, 0, min(int(count), 1024))
	rh := make([]byte, recordHeaderSize)
	for i := uint32(0); i < count; i++ {
		if _, err := io.ReadFull(r, rh); err != nil {
			return nil, fmt.Errorf("%w: record %d header", ErrCorruptSnapshot, i)
		}
		storedCRC := binary.BigEndian.Uint32(rh[0:4])
		size := binary.BigEndian.Uint32(rh[4:8])
		if size > maxRecordSize {
			return nil, fmt.Errorf("%w: record %d too large", ErrCorruptSnapshot, i)
		}
		payload := make([]byte, size)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, fmt.Errorf("%w: record %d payload", ErrCorruptSnapshot, i)
		}
		if crc32.ChecksumIEEE(payload) != storedCRC {
			return nil, fmt.Errorf("%w: record %d crc mismatch", ErrCorruptSnapshot, i)
		}
		records = append(records, payload)
	}
	// trailing bytes mean a torn or foreign file
	if n, _ := r.Read(make([]byte, 1)); n > 0 {
		return nil, fmt.Errorf("%w: trailing data", ErrCorruptSnapshot)
	}
	return records, nil
}

// LoadSnapshot reads the primary file, falling back to the backup when the
// primary is missing or damaged. Neither file existing is not an error.
func LoadSnapshot(path string) ([][]byte, SnapshotSource, error) {
	records, primaryErr := ReadSnapshot(path)
	if primaryErr == nil {
		return records, SourcePrimary, nil
	}

	records, backupErr := ReadSnapshot(BackupPath(path))
	if backupErr == nil {
		return records, SourceBackup, nil
	}

	if os.IsNotExist(primaryErr) && os.IsNotExist(backupErr) {
		return nil, SourceNone, nil
	}
	if !os.IsNotExist(primaryErr) {
		return nil, SourceNone, primaryErr
	}
	return nil, SourceNone, backupErr
}

// RemoveSnapshot deletes the file and its backup. Missing files are fine.
func RemoveSnapshot(path string) error {
	var errs []error
	for _, p := range []string{path, BackupPath(path), path + ".tmp"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SnapshotSize reports the on-disk size of the primary file, 0 if absent.
func SnapshotSize(path string) int64 {
	st, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return st.Size()
}
