package response

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
)

// SnapshotFileName is the name of the memory repository's state file.
const SnapshotFileName = "responses-snapshot.json"

type persistedResponses struct {
	Version   int         `json:"version"`
	Responses []*Response `json:"responses"`
}

// SaveSnapshot writes every response to dir, in submission order, through
// a temporary file renamed into place.
func (m *MemoryRepository) SaveSnapshot(fs afero.Fs, dir string) error {
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	m.mu.RLock()
	state := persistedResponses{Version: 1, Responses: make([]*Response, 0, len(m.order))}
	for _, id := range m.order {
		state.Responses = append(state.Responses, m.byID[id].Clone())
	}
	m.mu.RUnlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	target := filepath.Join(dir, SnapshotFileName)
	tmp := target + ".tmp"
	if err := afero.WriteFile(fs, tmp, data, 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := fs.Rename(tmp, target); err != nil {
		_ = fs.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// LoadMemorySnapshot restores a MemoryRepository from dir. A missing
// snapshot yields an empty repository.
func LoadMemorySnapshot(fs afero.Fs, dir string) (*MemoryRepository, error) {
	data, err := afero.ReadFile(fs, filepath.Join(dir, SnapshotFileName))
	if err != nil {
		if exists, _ := afero.Exists(fs, filepath.Join(dir, SnapshotFileName)); !exists {
			return NewMemoryRepository(), nil
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var state persistedResponses
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if state.Version > 1 {
		return nil, fmt.Errorf("snapshot version %d is newer than supported version 1", state.Version)
	}

	repo := NewMemoryRepository()
	for _, r := range state.Responses {
		if r == nil || r.ID == "" {
			continue
		}
		key := responseKey{r.TaskID, r.SessionID}
		if _, dup := repo.byKey[key]; dup {
			continue
		}
		if _, dup := repo.byID[r.ID]; dup {
			continue
		}
		repo.byID[r.ID] = r
		repo.byKey[key] = r.ID
		repo.order = append(repo.order, r.ID)
	}
	return repo, nil
}
