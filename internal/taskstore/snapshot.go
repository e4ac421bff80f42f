package taskstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// SnapshotFileName is the name of the memory store's state file.
const SnapshotFileName = "tasks-snapshot.json"

// snapshotVersion is bumped when the persisted layout changes.
const snapshotVersion = 1

type persistedState struct {
	Version int     `json:"version"`
	Tasks   []*Task `json:"tasks"`
}

// SaveSnapshot writes every task to dir as JSON. The write is atomic:
// data goes to a temporary file which is then renamed into place. The
// caller must own dir through AcquireDataDir when other processes may
// open it.
func (s *MemoryStore) SaveSnapshot(fs afero.Fs, dir string) error {
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	data, err := json.MarshalIndent(persistedState{
		Version: snapshotVersion,
		Tasks:   s.all(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	target := filepath.Join(dir, SnapshotFileName)
	tmp := target + ".tmp"

	if err := afero.WriteFile(fs, tmp, data, 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := fs.Rename(tmp, target); err != nil {
		_ = fs.Remove(tmp) // best-effort cleanup
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// LoadSnapshot restores a MemoryStore from dir. A missing snapshot yields
// an empty store.
func LoadSnapshot(fs afero.Fs, dir string, opts ...MemoryOption) (*MemoryStore, error) {
	target := filepath.Join(dir, SnapshotFileName)

	exists, err := afero.Exists(fs, target)
	if err != nil {
		return nil, fmt.Errorf("stat snapshot: %w", err)
	}
	if !exists {
		return NewMemoryStore(opts...), nil
	}

	data, err := afero.ReadFile(fs, target)
	if err != nil {
		if os.IsNotExist(err) {
			return NewMemoryStore(opts...), nil
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if state.Version > snapshotVersion {
		return nil, fmt.Errorf("snapshot version %d is newer than supported version %d", state.Version, snapshotVersion)
	}

	tasks := make([]*Task, 0, len(state.Tasks))
	seen := make(map[string]bool, len(state.Tasks))
	for _, t := range state.Tasks {
		if t == nil || t.ID == "" || seen[t.ID] {
			continue
		}
		seen[t.ID] = true
		tasks = append(tasks, t)
	}
	return newMemoryStoreFrom(tasks, opts...), nil
}
