package jsonfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"statsbridge/adapters/memory"
)

// Store persists memory client snapshots to a single JSON file.
// Suitable for demos and small deployments.
type Store struct {
	path string
	mu   sync.Mutex
}

func New(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("jsonfile: empty path")
	}
	return &Store{path: path}, nil
}

func (s *Store) Path() string { return s.path }

// Load reads the last saved snapshot. A missing file is not an error.
func (s *Store) Load() (memory.Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return memory.Snapshot{}, false, nil
	}
	if err != nil {
		return memory.Snapshot{}, false, err
	}
	var snap memory.Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return memory.Snapshot{}, false, fmt.Errorf("decode %s: %w", s.path, err)
	}
	return snap, true, nil
}

// Save writes the snapshot through a temp file and rename so readers never
// see a partial file.
func (s *Store) Save(snap memory.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

var _ memory.Persister = (*Store)(nil)
