// Package watch runs the polling loop: fetch new listings per search,
// resolve them against the catalog, validate, project profit, rank, and
// report deals. State between passes is a small JSON file.
package watch

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// State survives restarts: the newest listing ID seen per search, so a pass
// only processes what arrived since, plus the time of the last run.
type State struct {
	LastSeen map[string]string `json:"last_seen"`
	LastRun  time.Time         `json:"last_run"`
}

func freshState() State {
	return State{LastSeen: map[string]string{}}
}

// StateStore persists watch state between passes.
type StateStore interface {
	Load() (State, error)
	Save(State) error
}

// FileStateStore keeps state in one JSON file, written atomically.
type FileStateStore struct {
	path string
}

// NewFileStateStore creates a store at the given path. Parent directories
// are created on first save.
func NewFileStateStore(path string) *FileStateStore {
	return &FileStateStore{path: path}
}

// Load reads the state file. A missing or corrupt file yields fresh state
// rather than an error: worst case the next pass re-reports a few deals.
func (s *FileStateStore) Load() (State, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return freshState(), nil
	}
	if err != nil {
		return freshState(), err
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return freshState(), nil
	}
	if st.LastSeen == nil {
		st.LastSeen = map[string]string{}
	}
	return st, nil
}

// Save writes state via a temp file and rename so a crash mid-write never
// leaves a truncated file behind.
func (s *FileStateStore) Save(st State) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("watch: state dir: %w", err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("watch: write state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("watch: replace state: %w", err)
	}
	return nil
}
