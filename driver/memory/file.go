package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/waigo/mongorito/core"
	"github.com/waigo/mongorito/internal/docjson"
)

// lockTimeout bounds how long an operation waits for another process to
// release a collection file.
const lockTimeout = 3 * time.Second

// fileStore persists one collection as a JSON file, guarded by a lock file
// so several processes can share the directory.
type fileStore struct {
	path     string
	fileLock *flock.Flock
}

func newFileStore(dir, name string) *fileStore {
	path := filepath.Join(dir, name+".json")
	return &fileStore{path: path, fileLock: flock.New(path + ".lock")}
}

// withLock runs fn while holding the collection's file lock.
func (s *fileStore) withLock(ctx context.Context, fn func() error) error {
	ctx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	locked, err := s.fileLock.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		return fmt.Errorf("memory: lock %s: %w", s.path, err)
	}
	if !locked {
		return fmt.Errorf("memory: could not lock %s", s.path)
	}
	defer func() { _ = s.fileLock.Unlock() }()
	return fn()
}

// load reads the collection file. A missing or empty file is an empty
// collection.
func (s *fileStore) load() (*state, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) || (err == nil && len(bytes.TrimSpace(data)) == 0) {
		return &state{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("memory: read %s: %w", s.path, err)
	}

	var raw struct {
		Documents []map[string]any `json:"documents"`
		Indexes   []core.IndexInfo `json:"indexes"`
	}
	if err := docjson.Decode(data, &raw); err != nil {
		return nil, fmt.Errorf("memory: parse %s: %w", s.path, err)
	}

	st := &state{Indexes: raw.Indexes, Documents: make([]core.Attributes, len(raw.Documents))}
	for i, doc := range raw.Documents {
		st.Documents[i] = docjson.Normalize(doc).(core.Attributes)
	}
	return st, nil
}

// save writes the collection atomically through a temporary file.
func (s *fileStore) save(st *state) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("memory: encode %s: %w", s.path, err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("memory: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("memory: rename %s: %w", tmp, err)
	}
	return nil
}
