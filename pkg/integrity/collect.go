package integrity

import (
	"io/fs"
	"path/filepath"
	"sort"
)

// skipDirs are never searched for protected files.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"__pycache__":  true,
}

// CollectProtected walks root and returns the sorted relative paths that
// match the guard's protected globs, plus the evaluator when it exists.
func (g *Guard) CollectProtected() ([]string, error) {
	seen := make(map[string]bool)
	root := g.opts.Root

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if g.IsProtected(rel) {
			seen[rel] = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if g.opts.SelfPath != "" {
		seen[filepath.ToSlash(g.opts.SelfPath)] = true
	}

	files := make([]string, 0, len(seen))
	for f := range seen {
		files = append(files, f)
	}
	sort.Strings(files)
	return files, nil
}
