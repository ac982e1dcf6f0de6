package optimizer

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"

	"nexumdb/pkg/errors"
	"nexumdb/pkg/storage"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

func (a *Agent) Persist() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.persistLocked()
}

func (a *Agent) persistLocked() error {
	if a.path == "" {
		return nil
	}
	records := make([][]byte, 0, len(a.states))
	for _, st := range a.states {
		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(st); err != nil {
			return errors.Corruption(errors.PolicyPersistenceError, a.path, err)
		}
		records = append(records, buf.Bytes())
	}
	if err := storage.WriteSnapshot(a.path, records); err != nil {
		return &errors.Error{
			Code:    errors.PolicyPersistenceError,
			Message: fmt.Sprintf("write policy file %s", a.path),
			Cause:   err,
		}
	}
	return nil
}

// Restore replaces the Q-table with the persisted one. Unreadable files
// leave the table empty and return a PolicyPersistenceError.
func (a *Agent) Restore() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.states = make(map[string]*state)
	if a.path == "" {
		return nil
	}

	records, src, err := storage.LoadSnapshot(a.path)
	if err != nil {
		return errors.Corruption(errors.PolicyPersistenceError, a.path, err)
	}
	states, err := decodeStates(records)
	if err != nil && src == storage.SourcePrimary {
		src = storage.SourceBackup
		records, err = storage.ReadSnapshot(storage.BackupPath(a.path))
		if err == nil {
			states, err = decodeStates(records)
		}
	}
	if err != nil {
		return errors.Corruption(errors.PolicyPersistenceError, a.path, err)
	}
	if src == storage.SourceBackup {
		a.logger.Warn("policy restored from backup", zap.String("path", storage.BackupPath(a.path)))
	}

	for _, st := range states {
		a.states[st.Shape.Key()] = st
	}
	if len(states) > 0 {
		a.logger.Info("policy restored", zap.Int("states", len(states)), zap.String("source", src.String()))
	}
	return nil
}

func decodeStates(records [][]byte) ([]*state, error) {
	out := make([]*state, 0, len(records))
	for i, rec := range records {
		var st state
		if err := gob.NewDecoder(bytes.NewReader(rec)).Decode(&st); err != nil {
			return nil, fmt.Errorf("decode state %d: %w", i, err)
		}
		if len(st.Values) > len(Strategies) || len(st.Values) != len(st.Visits) {
			return nil, fmt.Errorf("state %d has %d values for %d strategies", i, len(st.Values), len(Strategies))
		}
		// tables written before a strategy was added
		for len(st.Values) < len(Strategies) {
			st.Values = append(st.Values, 0)
			st.Visits = append(st.Visits, 0)
		}
		out = append(out, &st)
	}
	return out, nil
}

// ExportJSON writes the Q-table in a readable form.
func (a *Agent) ExportJSON(path string) error {
	data, err := json.MarshalIndentWithOption(a.Snapshot(), "", "  ", json.DisableHTMLEscape())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
