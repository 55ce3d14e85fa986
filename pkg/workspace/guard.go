// Package workspace keeps plan-declared paths inside the repository root.
package workspace

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideWorkspace is returned for paths that resolve outside the root.
var ErrOutsideWorkspace = errors.New("path is outside the repository")

// Guard resolves repository-relative paths and rejects anything that escapes
// the root, including through symlinks.
type Guard struct {
	root string
}

// NewGuard creates a guard for root. The root must exist.
func NewGuard(root string) (*Guard, error) {
	if root == "" {
		return nil, fmt.Errorf("workspace directory cannot be empty")
	}
	absPath, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace directory: %w", err)
	}
	evalPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate workspace directory symlinks: %w", err)
	}
	return &Guard{root: evalPath}, nil
}

// Root returns the resolved repository root.
func (g *Guard) Root() string {
	return g.root
}

// Resolve maps a repository-relative path to an absolute one. Absolute paths
// are accepted only when they already lie inside the root.
func (g *Guard) Resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path cannot be empty")
	}
	clean := filepath.Clean(filepath.FromSlash(path))

	abs := clean
	if !filepath.IsAbs(clean) {
		abs = filepath.Join(g.root, clean)
	}
	resolved := resolveSymlinks(abs)
	if !g.contains(resolved) {
		return "", fmt.Errorf("%w: %s", ErrOutsideWorkspace, path)
	}
	return resolved, nil
}

// IsWithin reports whether path resolves inside the root.
func (g *Guard) IsWithin(path string) bool {
	_, err := g.Resolve(path)
	return err == nil
}

func (g *Guard) contains(evalPath string) bool {
	return evalPath == g.root ||
		strings.HasPrefix(evalPath+string(filepath.Separator), g.root+string(filepath.Separator))
}

// Rel converts an absolute path inside the root into a slash-separated
// repository-relative path.
func (g *Guard) Rel(absPath string) (string, error) {
	resolved := resolveSymlinks(absPath)
	if !g.contains(resolved) {
		return "", fmt.Errorf("%w: %s", ErrOutsideWorkspace, absPath)
	}
	rel, err := filepath.Rel(g.root, resolved)
	if err != nil {
		return "", fmt.Errorf("failed to make path relative: %w", err)
	}
	return filepath.ToSlash(rel), nil
}

// Stat resolves path and stats it.
func (g *Guard) Stat(path string) (os.FileInfo, error) {
	abs, err := g.Resolve(path)
	if err != nil {
		return nil, err
	}
	return os.Stat(abs)
}

// ReadFile reads at most limit bytes of path. truncated reports whether the
// file was longer. A limit of zero or less reads everything.
func (g *Guard) ReadFile(path string, limit int64) (data []byte, truncated bool, err error) {
	abs, err := g.Resolve(path)
	if err != nil {
		return nil, false, err
	}
	f, err := os.Open(abs)
	if err != nil {
		return nil, false, err
	}
	defer f.Close()

	if limit <= 0 {
		data, err = io.ReadAll(f)
		return data, false, err
	}
	data, err = io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(data)) > limit {
		return data[:limit], true, nil
	}
	return data, false, nil
}

// resolveSymlinks resolves symlinks in path, handling non-existent paths by
// resolving the nearest existing ancestor.
func resolveSymlinks(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}

	var components []string
	current := path
	for {
		if resolved, err := filepath.EvalSymlinks(current); err == nil {
			result := resolved
			for i := len(components) - 1; i >= 0; i-- {
				result = filepath.Join(result, components[i])
			}
			return result
		}
		dir := filepath.Dir(current)
		if dir == current || dir == "." {
			return path
		}
		components = append(components, filepath.Base(current))
		current = dir
	}
}
