package mode

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// State is the durable mode record.
type State struct {
	CurrentMode  Mode      `yaml:"current_mode" json:"current_mode"`
	PreviousMode Mode      `yaml:"previous_mode" json:"previous_mode"`
	LastChanged  time.Time `yaml:"last_changed" json:"last_changed"`
	ChangedBy    string    `yaml:"changed_by" json:"changed_by"`
	ChangeReason string    `yaml:"change_reason" json:"change_reason"`
}

// Store persists mode state. Load errors are degraded (caller falls back to
// the default mode); Save errors are degraded (in-memory state advances).
type Store interface {
	Load() (State, error)
	Save(State) error
}

// FileStore persists mode state as a YAML document.
type FileStore struct {
	path string
}

// NewFileStore returns a store writing to the given path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

type fileDoc struct {
	GlobalMode State `yaml:"global_mode"`
}

// Load reads the persisted state. A missing file surfaces as an error
// wrapping os.ErrNotExist so the caller can distinguish first-run from
// corruption.
func (s *FileStore) Load() (State, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return State{}, fmt.Errorf("mode store: read %s: %w", s.path, err)
	}
	var doc fileDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return State{}, fmt.Errorf("mode store: parse %s: %w", s.path, err)
	}
	return doc.GlobalMode, nil
}

// Save writes the state atomically (temp file + rename).
func (s *FileStore) Save(state State) error {
	raw, err := yaml.Marshal(fileDoc{GlobalMode: state})
	if err != nil {
		return fmt.Errorf("mode store: marshal: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mode store: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".mode-*.yaml")
	if err != nil {
		return fmt.Errorf("mode store: temp file: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("mode store: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("mode store: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("mode store: rename: %w", err)
	}
	return nil
}
