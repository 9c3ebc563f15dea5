// Package filestore keeps the snapshot in a single JSON file replaced atomically.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/Zhima-Mochi/keyshop/internal/domain/snapshot"
	"github.com/Zhima-Mochi/keyshop/internal/infrastructure/snapshot/codec"
)

const DefaultPath = "keyshop.json"

type Store struct {
	mu   sync.Mutex
	path string
}

var _ snapshot.Gateway = (*Store)(nil)

// New reads and writes the snapshot document at path.
func New(path string) *Store {
	if path == "" {
		path = DefaultPath
	}
	return &Store{path: path}
}

func (s *Store) Path() string { return s.path }

func (s *Store) Load(ctx context.Context) (snapshot.Snapshot, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return snapshot.Empty(), nil
	}
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("filestore: read %s: %w", s.path, err)
	}
	return codec.Unmarshal(data)
}

// Save writes the three records to a temp file in the same directory and
// renames it over the old one, so readers see either the old or the new set.
func (s *Store) Save(ctx context.Context, snap snapshot.Snapshot) error {
	_ = ctx
	data, err := codec.Marshal(snap)
	if err != nil {
		return fmt.Errorf("filestore: encode: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("filestore: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("filestore: temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("filestore: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("filestore: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("filestore: close: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("filestore: rename: %w", err)
	}
	return nil
}
