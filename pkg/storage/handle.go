package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"nexumdb/pkg/common"

	"go.uber.org/zap"
)

// DBFileName is the SQLite file created inside a data directory.
const DBFileName = "nexum.db"

// shared is the backend plus the number of live handles on it.
type shared struct {
	mu      sync.Mutex
	backend Store
	refs    int
	closed  bool
}

// Handle is a cloneable reference to one store. The backend is closed when
// the last handle is closed.
type Handle struct {
	s      *shared
	once   sync.Once
	logger *zap.Logger
}

// Open returns a handle on the store at path. An empty path or ":memory:"
// gives a volatile btree store; anything else is a data directory holding
// a SQLite file.
func Open(path string, logger *zap.Logger) (*Handle, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path == "" || path == ":memory:" {
		logger.Info("opening in-memory store")
		return NewHandle(NewMemoryBackend(), logger), nil
	}

	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	file := filepath.Join(path, DBFileName)
	backend, err := NewSQLiteBackend(file)
	if err != nil {
		return nil, err
	}
	logger.Info("opened sqlite store", zap.String("file", file))
	return NewHandle(backend, logger), nil
}

// NewHandle wraps an existing backend.
func NewHandle(backend Store, logger *zap.Logger) *Handle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handle{
		s:      &shared{backend: backend, refs: 1},
		logger: logger,
	}
}

// Clone returns another handle on the same backend.
func (h *Handle) Clone() *Handle {
	h.s.mu.Lock()
	h.s.refs++
	h.s.mu.Unlock()
	return &Handle{s: h.s, logger: h.logger}
}

func (h *Handle) backend() (Store, error) {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	if h.s.closed {
		return nil, fmt.Errorf("storage: store is closed")
	}
	return h.s.backend, nil
}

func (h *Handle) Get(key []byte) ([]byte, bool, error) {
	b, err := h.backend()
	if err != nil {
		return nil, false, err
	}
	return b.Get(key)
}

func (h *Handle) Put(key, val []byte) error {
	b, err := h.backend()
	if err != nil {
		return err
	}
	return b.Put(key, val)
}

func (h *Handle) PutBatch(records []common.Record) error {
	b, err := h.backend()
	if err != nil {
		return err
	}
	return b.PutBatch(records)
}

func (h *Handle) Delete(key []byte) error {
	b, err := h.backend()
	if err != nil {
		return err
	}
	return b.Delete(key)
}

func (h *Handle) Iterate(prefix []byte, fn func(key, val []byte) bool) error {
	b, err := h.backend()
	if err != nil {
		return err
	}
	return b.Iterate(prefix, fn)
}

func (h *Handle) Scan(prefix []byte) ([]common.Record, error) {
	b, err := h.backend()
	if err != nil {
		return nil, err
	}
	return b.Scan(prefix)
}

func (h *Handle) Flush() error {
	b, err := h.backend()
	if err != nil {
		return err
	}
	return b.Flush()
}

// Close releases this handle. Closing twice is a no-op.
func (h *Handle) Close() error {
	var err error
	h.once.Do(func() {
		h.s.mu.Lock()
		defer h.s.mu.Unlock()
		h.s.refs--
		if h.s.refs > 0 || h.s.closed {
			return
		}
		h.s.closed = true
		if ferr := h.s.backend.Flush(); ferr != nil {
			h.logger.Warn("flush on close failed", zap.Error(ferr))
		}
		err = h.s.backend.Close()
	})
	return err
}
