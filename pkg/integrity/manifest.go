// Package integrity detects tampering with the protocol's own files.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/state"
)

// ManifestVersion is the only manifest format understood.
const ManifestVersion = 1

// ErrManifestMissing is returned when the manifest file does not exist.
var ErrManifestMissing = errors.New("protocol manifest missing")

// Manifest maps protected relative paths to their SHA-256 content hashes.
type Manifest struct {
	Version int               `json:"version"`
	Files   map[string]string `json:"files"`
}

// HashFile returns the hex SHA-256 of a file's contents.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashBytes returns the hex SHA-256 of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// LoadManifest reads a manifest. It returns ErrManifestMissing when path does not exist.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrManifestMissing
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest %s: %w", path, err)
	}
	if m.Version != ManifestVersion {
		return nil, fmt.Errorf("unsupported manifest version %d", m.Version)
	}
	if m.Files == nil {
		m.Files = make(map[string]string)
	}
	return &m, nil
}

// Paths returns the manifest entries in sorted order.
func (m *Manifest) Paths() []string {
	paths := make([]string, 0, len(m.Files))
	for p := range m.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Save writes the manifest atomically.
func (m *Manifest) Save(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	return state.WriteFileAtomic(path, append(data, '\n'), 0o644)
}

// GenerateManifest hashes each of files relative to root. Files that do not
// exist are returned separately and left out of the manifest.
func GenerateManifest(root string, files []string) (*Manifest, []string, error) {
	m := &Manifest{Version: ManifestVersion, Files: make(map[string]string, len(files))}
	var missing []string

	for _, rel := range files {
		rel = filepath.ToSlash(filepath.Clean(rel))
		sum, err := HashFile(filepath.Join(root, filepath.FromSlash(rel)))
		if errors.Is(err, os.ErrNotExist) {
			missing = append(missing, rel)
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		m.Files[rel] = sum
	}
	return m, missing, nil
}
