package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Audit stores operator-written scope justifications for later human review.
// Justifications are informational and never change gate results.
type Audit struct {
	dir string
}

// NewAudit creates an audit log rooted at dir.
func NewAudit(dir string) *Audit {
	return &Audit{dir: dir}
}

func (a *Audit) path(phaseID string) string {
	return filepath.Join(a.dir, phaseID+".md")
}

// SaveJustification records why files outside the phase scope were changed.
func (a *Audit) SaveJustification(phaseID string, files []string, justification string) (string, error) {
	justification = strings.TrimSpace(justification)
	if justification == "" {
		return "", fmt.Errorf("justification cannot be empty")
	}

	var md strings.Builder
	md.WriteString(fmt.Sprintf("# Scope Drift Justification: %s\n\n", phaseID))
	md.WriteString(fmt.Sprintf("**Date:** %s\n\n", time.Now().Format("2006-01-02 15:04:05")))
	md.WriteString(fmt.Sprintf("## Out-of-Scope Files (%d)\n\n", len(files)))
	for _, f := range files {
		md.WriteString(fmt.Sprintf("- `%s`\n", f))
	}
	md.WriteString("\n## Justification\n\n")
	md.WriteString(justification)
	md.WriteString("\n")

	path := a.path(phaseID)
	if err := WriteFileAtomic(path, []byte(md.String()), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// HasJustification reports whether a justification exists for phaseID.
func (a *Audit) HasJustification(phaseID string) bool {
	_, err := os.Stat(a.path(phaseID))
	return err == nil
}

// ReadJustification returns the recorded justification document.
func (a *Audit) ReadJustification(phaseID string) (string, error) {
	data, err := os.ReadFile(a.path(phaseID))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read justification: %w", err)
	}
	return string(data), nil
}
