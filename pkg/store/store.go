// Package store persists the pipeline registry as a single JSON snapshot.
// Writes are atomic: serialize to a temp file, then rename over the target.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/appforge/appforge/pkg/models"
)

// Store reads and writes the pipeline snapshot file.
type Store struct {
	path string
}

// New creates a Store for the given file path. The parent directory is
// created on the first Save if it does not exist.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the snapshot file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the snapshot. A missing file is treated as an empty registry;
// a corrupt file fails loudly so the operator can intervene.
func (s *Store) Load() (map[string]*models.Pipeline, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return make(map[string]*models.Pipeline), nil
		}
		return nil, fmt.Errorf("read store file %s: %w", s.path, err)
	}

	pipelines := make(map[string]*models.Pipeline)
	if err := json.Unmarshal(data, &pipelines); err != nil {
		return nil, fmt.Errorf("parse store file %s: %w", s.path, err)
	}
	return pipelines, nil
}

// Save writes the full registry snapshot atomically.
func (s *Store) Save(pipelines map[string]*models.Pipeline) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}

	data, err := json.MarshalIndent(pipelines, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal pipelines: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp store file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rename temp store file: %w", err)
	}
	return nil
}
