// Package state persists protocol records as flat JSON files.
//
// Every write goes through WriteFileAtomic: the payload lands in a sibling
// temporary file, is synced, and is renamed over the target. Readers never
// observe a partially written record.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// rename is replaced in tests to inject failures between write and rename.
var rename = os.Rename

// Store reads and writes JSON records keyed by name under a directory.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir. The directory is created on first write.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the store directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the file backing key.
func (s *Store) Path(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("state: invalid key (empty)")
	}
	if strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", fmt.Errorf("state: invalid key %q (contains path separator)", key)
	}
	return filepath.Join(s.dir, key+".json"), nil
}

// Read decodes the record for key into v. When the record does not exist v is
// left untouched, so callers pass a value already populated with defaults.
func (s *Store) Read(key string, v any) error {
	path, err := s.Path(key)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("state: read %s: %w", path, err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("state: decode %s: %w", path, err)
	}
	return nil
}

// Exists reports whether a record for key is present.
func (s *Store) Exists(key string) bool {
	path, err := s.Path(key)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Write encodes v and replaces the record for key atomically.
func (s *Store) Write(key string, v any) error {
	path, err := s.Path(key)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("state: encode %s: %w", key, err)
	}
	data = append(data, '\n')

	return WriteFileAtomic(path, data, 0o644)
}

// Delete removes the record for key. A missing record is not an error.
func (s *Store) Delete(key string) error {
	path, err := s.Path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("state: delete %s: %w", path, err)
	}
	return nil
}

// WriteFileAtomic writes data to path via a synced temporary file and a rename.
// On any failure the temporary file is removed and path is left unchanged.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	defer func() {
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err = os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err = rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename %s: %w", path, err)
	}
	return nil
}
